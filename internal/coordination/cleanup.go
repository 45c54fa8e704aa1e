package coordination

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/hive/pkg/models"
)

// CleanupReport counts what one cleanup pass removed.
type CleanupReport struct {
	Tasks    int
	Contexts int
}

// CleanupOldEntries removes tasks created more than MaxTaskAge ago and
// shared contexts older than MaxContextAge. Live tasks that age out are
// cancelled first so subscribers see them end. Safe to call concurrently
// with registrations.
func (r *Registry) CleanupOldEntries() CleanupReport {
	var report CleanupReport
	var expired []*models.TaskInfo

	r.mu.Lock()
	now := r.now()
	if r.cfg.MaxTaskAge > 0 {
		kept := r.order[:0]
		for _, id := range r.order {
			t := r.tasks[id]
			if t == nil {
				continue
			}
			if now.Sub(t.CreatedAt) <= r.cfg.MaxTaskAge {
				kept = append(kept, id)
				continue
			}
			if t.Status.Live() {
				expired = append(expired, t.Clone())
			}
			delete(r.tasks, id)
			delete(r.working, id)
			if r.byHash[t.Hash] == id {
				delete(r.byHash, t.Hash)
			}
			report.Tasks++
		}
		r.order = kept
	}
	if r.cfg.MaxContextAge > 0 {
		for key, e := range r.contexts {
			if r.contextExpired(e.ctx, now) {
				delete(r.contexts, key)
				report.Contexts++
			}
		}
	}
	r.mu.Unlock()

	for _, t := range expired {
		r.BroadcastEvent(models.EventTaskCancelled, "", map[string]any{
			"task_id": t.ID,
			"reason":  "expired",
		})
	}
	r.metrics.RecordEvictions("task", report.Tasks)
	r.metrics.RecordEvictions("context", report.Contexts)
	if report.Tasks > 0 || report.Contexts > 0 {
		r.logger.Debug("evicted aged entries",
			zap.Int("tasks", report.Tasks),
			zap.Int("contexts", report.Contexts))
	}
	return report
}

// cleaner runs CleanupOldEntries on a ticker.
type cleaner struct {
	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	stopped bool
}

// Start launches the background cleanup loop when the policy is timer.
// Other policies make Start a no-op. Calling Start twice is a no-op.
func (r *Registry) Start() error {
	c := r.cleanup
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrClosed
	}
	if r.cfg.CleanupPolicy != CleanupTimer || c.stop != nil {
		return nil
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go r.cleanupLoop(c.stop, c.done, r.cfg.CleanupInterval)
	r.logger.Debug("cleanup timer started", zap.Duration("interval", r.cfg.CleanupInterval))
	return nil
}

func (r *Registry) cleanupLoop(stop <-chan struct{}, done chan<- struct{}, interval time.Duration) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.CleanupOldEntries()
		}
	}
}

// Stop ends the cleanup loop, waits for it to exit and closes every
// subscription, including any opened later. The registry keeps serving calls but cannot be restarted.
func (r *Registry) Stop() {
	c := r.cleanup
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	stop, done := c.stop, c.done
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	l := r.events
	l.mu.Lock()
	l.closed = true
	for id, s := range l.subs {
		delete(l.subs, id)
		close(s.ch)
	}
	l.mu.Unlock()
}

// Stats is a point-in-time summary of the registry.
type Stats struct {
	Tasks         map[models.TaskStatus]int
	Contexts      int
	Events        int
	EventsTotal   uint64
	Subscribers   int
	DroppedEvents uint64
}

// Stats returns a snapshot of registry counters.
func (r *Registry) Stats() Stats {
	s := Stats{Tasks: make(map[models.TaskStatus]int)}

	r.mu.Lock()
	for _, t := range r.tasks {
		s.Tasks[t.Status]++
	}
	s.Contexts = len(r.contexts)
	r.mu.Unlock()

	l := r.events
	l.mu.RLock()
	s.Events = l.size
	s.EventsTotal = l.total
	s.Subscribers = len(l.subs)
	for _, sub := range l.subs {
		s.DroppedEvents += sub.Dropped()
	}
	l.mu.RUnlock()
	return s
}
