// Package learning persists learned coordination-pattern effectiveness in
// SQLite so suggestions improve across sessions.
package learning

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ShayCichocki/hive/internal/coordination"
	"github.com/ShayCichocki/hive/pkg/models"
)

// Store is a SQLite-backed coordination.EffectivenessStore.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

var _ coordination.EffectivenessStore = (*Store)(nil)

// GlobalDBPath returns the path to the user-wide hive database.
func GlobalDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "hive", "hive.db")
}

// Open opens (creating if needed) the database at dbPath and migrates it.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps :memory: databases shared and serializes writers.
	conn.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &Store{db: conn, dbPath: dbPath}
	if err := s.Migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the path to the database file.
func (s *Store) Path() string {
	return s.dbPath
}

// Get implements coordination.EffectivenessStore.
func (s *Store) Get(ctx context.Context, taskType string, pattern models.WorkflowPattern) (coordination.Effectiveness, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT score, samples, updated_at FROM pattern_effectiveness
		WHERE task_type = ? AND pattern = ?`, taskType, string(pattern))

	e := coordination.Effectiveness{TaskType: taskType, Pattern: pattern}
	var updated string
	if err := row.Scan(&e.Score, &e.Samples, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return coordination.Effectiveness{}, false, nil
		}
		return coordination.Effectiveness{}, false, fmt.Errorf("query effectiveness: %w", err)
	}
	t, err := parseTime(updated)
	if err != nil {
		return coordination.Effectiveness{}, false, fmt.Errorf("parse updated_at: %w", err)
	}
	e.UpdatedAt = t
	return e, true, nil
}

// Put implements coordination.EffectivenessStore. Every write also appends
// to the outcome history.
func (s *Store) Put(ctx context.Context, e coordination.Effectiveness) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pattern_effectiveness (task_type, pattern, score, samples, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(task_type, pattern) DO UPDATE SET
			score = excluded.score,
			samples = excluded.samples,
			updated_at = excluded.updated_at`,
		e.TaskType, string(e.Pattern), e.Score, e.Samples, formatTime(e.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert effectiveness: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pattern_history (task_type, pattern, score, recorded_at)
		VALUES (?, ?, ?, ?)`,
		e.TaskType, string(e.Pattern), e.Score, formatTime(e.UpdatedAt))
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return tx.Commit()
}

// List implements coordination.EffectivenessStore, ordered by task type
// then pattern.
func (s *Store) List(ctx context.Context) ([]coordination.Effectiveness, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT task_type, pattern, score, samples, updated_at FROM pattern_effectiveness
		ORDER BY task_type, pattern`)
	if err != nil {
		return nil, fmt.Errorf("list effectiveness: %w", err)
	}
	defer rows.Close()

	var out []coordination.Effectiveness
	for rows.Next() {
		var e coordination.Effectiveness
		var pattern, updated string
		if err := rows.Scan(&e.TaskType, &pattern, &e.Score, &e.Samples, &updated); err != nil {
			return nil, fmt.Errorf("scan effectiveness: %w", err)
		}
		e.Pattern = models.WorkflowPattern(pattern)
		if e.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// HistoryEntry is one recorded score.
type HistoryEntry struct {
	Score      float64
	RecordedAt time.Time
}

// History returns up to limit recorded scores for a pair, newest first.
func (s *Store) History(ctx context.Context, taskType string, pattern models.WorkflowPattern, limit int) ([]HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT score, recorded_at FROM pattern_history
		WHERE task_type = ? AND pattern = ?
		ORDER BY id DESC LIMIT ?`, taskType, string(pattern), limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var recorded string
		if err := rows.Scan(&h.Score, &recorded); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if h.RecordedAt, err = parseTime(recorded); err != nil {
			return nil, fmt.Errorf("parse recorded_at: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
