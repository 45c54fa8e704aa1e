// Package signals lets an operator stop a running flow by creating a kill
// file in a watched directory.
package signals

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// KillFile is the file name that requests a stop.
const KillFile = "kill"

// pollInterval is the fallback check period when fsnotify is unavailable.
const pollInterval = 500 * time.Millisecond

// Watcher reports when a kill file appears in its directory.
type Watcher struct {
	dir     string
	logger  *zap.Logger
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	stopped bool
	killed  chan struct{}
	once    sync.Once
	done    chan struct{}
}

// NewWatcher watches dir, creating it if needed. A kill file that already
// exists counts immediately.
func NewWatcher(dir string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	w := &Watcher{
		dir:    dir,
		logger: logger.With(zap.String("component", "signals")),
		killed: make(chan struct{}),
		done:   make(chan struct{}),
	}

	fw, err := fsnotify.NewWatcher()
	if err == nil {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			fw = nil
		}
	} else {
		fw = nil
	}
	w.watcher = fw

	if w.killFilePresent() {
		w.fire()
	}
	if fw != nil {
		go w.watch()
	} else {
		w.logger.Debug("fsnotify unavailable, polling", zap.String("dir", dir))
		go w.poll()
	}
	return w, nil
}

func (w *Watcher) killFilePresent() bool {
	_, err := os.Stat(filepath.Join(w.dir, KillFile))
	return err == nil
}

func (w *Watcher) fire() {
	w.once.Do(func() {
		w.logger.Info("kill signal received", zap.String("dir", w.dir))
		close(w.killed)
	})
}

func (w *Watcher) watch() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) == KillFile && event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.fire()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Debug("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if w.killFilePresent() {
				w.fire()
			}
		}
	}
}

// Killed is closed once a kill file is seen.
func (w *Watcher) Killed() <-chan struct{} { return w.killed }

// Bind returns a context that is cancelled when the kill file appears.
func (w *Watcher) Bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	go func() {
		select {
		case <-w.killed:
			cancel(ErrKilled)
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(context.Canceled) }
}

// ErrKilled is the cancellation cause when a kill file stopped the flow.
var ErrKilled = errors.New("stopped by kill signal")

// SendKill creates the kill file.
func SendKill(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, KillFile), []byte(time.Now().Format(time.RFC3339)), 0644)
}

// Clear removes the kill file.
func Clear(dir string) error {
	err := os.Remove(filepath.Join(dir, KillFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Close stops watching.
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	close(w.done)
	if w.watcher != nil {
		w.watcher.Close()
	}
}
