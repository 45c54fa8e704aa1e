package coordination

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShayCichocki/hive/internal/catalog"
	"github.com/ShayCichocki/hive/internal/metrics"
	"github.com/ShayCichocki/hive/internal/textsim"
	"github.com/ShayCichocki/hive/pkg/models"
)

// Registration outcomes reported by RegisterTask.
const (
	OutcomeNew            = "new"
	OutcomeExactDuplicate = "exact_duplicate"
	OutcomeFuzzyDuplicate = "fuzzy_duplicate"
)

// Registration is the result of RegisterTask.
type Registration struct {
	Task    *models.TaskInfo
	Outcome string
	// Similarity is the fuzzy score that matched, 1 for exact matches.
	Similarity float64
}

// Duplicate reports whether the registration joined an existing task.
func (r Registration) Duplicate() bool {
	return r.Outcome != OutcomeNew
}

// sharedEntry is a stored context plus its precomputed keyword set.
type sharedEntry struct {
	ctx   models.SharedContext
	words textsim.Set
}

// Registry is the coordination state shared by one orchestration session.
// Task and context state is guarded by mu; the event history has its own
// lock so broadcasts never wait on dedup scans.
type Registry struct {
	cfg     Config
	scorer  textsim.Scorer
	catalog *catalog.Catalog
	store   EffectivenessStore
	sink    EventSink
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time

	mu       sync.Mutex
	tasks    map[string]*models.TaskInfo
	order    []string
	byHash   map[string]string
	contexts map[string]*sharedEntry
	// working holds, per task, the agents that registered it and have
	// neither shared nor cancelled yet.
	working  map[string]map[string]struct{}

	events *eventLog

	patternMu sync.Mutex
	patterns  []PatternSpec

	cleanup *cleaner
}

// New creates a registry. It returns an error for an invalid configuration.
func New(opts ...Option) (*Registry, error) {
	r := &Registry{
		cfg:      DefaultConfig(),
		scorer:   textsim.JaccardScorer{},
		now:      time.Now,
		tasks:    make(map[string]*models.TaskInfo),
		byHash:   make(map[string]string),
		contexts: make(map[string]*sharedEntry),
		working:  make(map[string]map[string]struct{}),
		patterns: DefaultPatterns(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("coordination: %w", err)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.logger = r.logger.With(zap.String("component", "coordination"))
	if r.catalog == nil {
		r.catalog = catalog.Default()
	}
	if r.store == nil {
		r.store = NewMemoryStore()
	}
	r.events = newEventLog(r.cfg.EventCapacity, r.cfg.SubscriberBuffer)
	r.cleanup = &cleaner{}
	return r, nil
}

// Config returns the active configuration.
func (r *Registry) Config() Config { return r.cfg }

// normalize lowercases and collapses whitespace so hashing ignores layout.
func normalize(description string) string {
	return strings.ToLower(strings.Join(strings.Fields(description), " "))
}

func contentHash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// RegisterTask records a task or joins an equivalent live one. An exact
// content-hash match is checked first, then every live task is scored with
// the configured similarity function. The whole check-then-insert runs
// under one lock so concurrent registrations of the same text resolve to a
// single task.
func (r *Registry) RegisterTask(description, agentID string) (Registration, error) {
	norm := normalize(description)
	if norm == "" {
		return Registration{}, ErrEmptyDescription
	}
	hash := contentHash(norm)

	r.mu.Lock()
	reg := r.registerLocked(norm, hash, agentID)
	r.mu.Unlock()

	r.metrics.RecordRegistration(reg.Outcome)
	payload := map[string]any{"task_id": reg.Task.ID, "outcome": reg.Outcome}
	if reg.Duplicate() {
		payload["similarity"] = reg.Similarity
		r.logger.Debug("task deduplicated",
			zap.String("task_id", reg.Task.ID),
			zap.String("agent", agentID),
			zap.String("outcome", reg.Outcome),
			zap.Float64("similarity", reg.Similarity))
		r.BroadcastEvent(models.EventTaskDuplicate, agentID, payload)
	} else {
		r.BroadcastEvent(models.EventTaskRegistered, agentID, payload)
	}
	return reg, nil
}

func (r *Registry) registerLocked(norm, hash, agentID string) Registration {
	now := r.now()

	if id, ok := r.byHash[hash]; ok {
		if t := r.tasks[id]; t != nil && t.Status.Live() {
			r.joinLocked(t, agentID, now)
			return Registration{Task: t.Clone(), Outcome: OutcomeExactDuplicate, Similarity: 1}
		}
	}

	var best *models.TaskInfo
	bestScore := 0.0
	for _, id := range r.order {
		t := r.tasks[id]
		if t == nil || !t.Status.Live() {
			continue
		}
		score := r.scorer.Similarity(norm, t.Description)
		if score >= r.cfg.SimilarityThreshold && score > bestScore {
			best, bestScore = t, score
		}
	}
	if best != nil {
		r.joinLocked(best, agentID, now)
		return Registration{Task: best.Clone(), Outcome: OutcomeFuzzyDuplicate, Similarity: bestScore}
	}

	id := uuid.NewString()
	t := &models.TaskInfo{
		ID:          id,
		Hash:        hash,
		Description: norm,
		Status:      models.TaskStatusPending,
		ContextKey:  "ctx:" + id,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if agentID != "" {
		t.Agents = []string{agentID}
		r.working[id] = map[string]struct{}{agentID: {}}
	}
	r.tasks[id] = t
	r.order = append(r.order, id)
	r.byHash[hash] = id
	return Registration{Task: t.Clone(), Outcome: OutcomeNew}
}

func (r *Registry) joinLocked(t *models.TaskInfo, agentID string, now time.Time) {
	if agentID == "" {
		return
	}
	if r.working[t.ID] == nil {
		r.working[t.ID] = make(map[string]struct{})
	}
	r.working[t.ID][agentID] = struct{}{}
	for _, a := range t.Agents {
		if a == agentID {
			return
		}
	}
	t.Agents = append(t.Agents, agentID)
	t.UpdatedAt = now
}

// StartTask moves a pending task to active. Starting an active task again
// is a no-op.
func (r *Registry) StartTask(taskID string) (*models.TaskInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	switch t.Status {
	case models.TaskStatusPending:
		t.Status = models.TaskStatusActive
		t.UpdatedAt = r.now()
	case models.TaskStatusActive:
	case models.TaskStatusCompleted, models.TaskStatusCancelled:
		return nil, fmt.Errorf("%w: %s is %s", ErrTaskTerminal, taskID, t.Status)
	}
	return t.Clone(), nil
}

// ShareContext completes a task and stores its output for retrieval by
// later tasks. An agent that joined the task and is still working on it
// may share after another participant completed it; its output is stored
// under its own key derived from the task's context key.
func (r *Registry) ShareContext(taskID, agentID, output string, artifacts []string) (models.SharedContext, error) {
	r.mu.Lock()
	t, ok := r.tasks[taskID]
	if !ok {
		r.mu.Unlock()
		return models.SharedContext{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	key := t.ContextKey
	switch {
	case t.Status == models.TaskStatusCompleted && r.isWorking(taskID, agentID):
		key = t.ContextKey + "/" + agentID
	case t.Status.Terminal():
		r.mu.Unlock()
		return models.SharedContext{}, fmt.Errorf("%w: %s is %s", ErrTaskTerminal, taskID, t.Status)
	}
	r.leaveLocked(taskID, agentID)

	now := r.now()
	t.Status = models.TaskStatusCompleted
	t.Artifacts = append(t.Artifacts, artifacts...)
	t.UpdatedAt = now
	if r.byHash[t.Hash] == t.ID {
		delete(r.byHash, t.Hash)
	}

	sc := models.SharedContext{
		Key:         key,
		TaskID:      t.ID,
		Description: t.Description,
		AgentID:     agentID,
		Output:      output,
		Artifacts:   append([]string(nil), artifacts...),
		CreatedAt:   now,
	}
	r.contexts[sc.Key] = &sharedEntry{
		ctx:   sc,
		words: textsim.SetOf(t.Description + " " + output),
	}
	r.mu.Unlock()

	r.BroadcastEvent(models.EventContextShared, agentID, map[string]any{
		"task_id":     taskID,
		"context_key": sc.Key,
	})
	if r.cfg.CleanupPolicy == CleanupOnComplete {
		r.CleanupOldEntries()
	}
	return copyContext(sc), nil
}

// CancelTask withdraws agentID from a live task and cancels the task once
// no participant is still working on it, so nothing is left active after
// every branch on it failed or was cancelled. An empty agentID cancels
// unconditionally. Cancelling a finished task is a no-op.
func (r *Registry) CancelTask(taskID, agentID, reason string) error {
	r.mu.Lock()
	t, ok := r.tasks[taskID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	r.leaveLocked(taskID, agentID)
	if t.Status.Terminal() {
		r.mu.Unlock()
		return nil
	}
	if n := len(r.working[taskID]); agentID != "" && n > 0 {
		r.mu.Unlock()
		r.logger.Debug("task still worked on, not cancelled",
			zap.String("task_id", taskID),
			zap.String("agent", agentID),
			zap.Int("working", n))
		return nil
	}
	delete(r.working, taskID)
	t.Status = models.TaskStatusCancelled
	t.UpdatedAt = r.now()
	if r.byHash[t.Hash] == t.ID {
		delete(r.byHash, t.Hash)
	}
	r.mu.Unlock()

	r.BroadcastEvent(models.EventTaskCancelled, agentID, map[string]any{
		"task_id": taskID,
		"reason":  reason,
	})
	return nil
}

func (r *Registry) isWorking(taskID, agentID string) bool {
	_, ok := r.working[taskID][agentID]
	return ok
}

func (r *Registry) leaveLocked(taskID, agentID string) {
	w := r.working[taskID]
	delete(w, agentID)
	if len(w) == 0 {
		delete(r.working, taskID)
	}
}

// Task returns a copy of the task, or false if unknown.
func (r *Registry) Task(taskID string) (*models.TaskInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Tasks returns copies of all tasks in registration order.
func (r *Registry) Tasks() []*models.TaskInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.TaskInfo, 0, len(r.order))
	for _, id := range r.order {
		if t, ok := r.tasks[id]; ok {
			out = append(out, t.Clone())
		}
	}
	return out
}

// GetRelevantContext returns up to limit unexpired contexts that share at
// least one keyword with description, newest first.
func (r *Registry) GetRelevantContext(description string, limit int) []models.SharedContext {
	if limit <= 0 {
		return nil
	}
	words := textsim.SetOf(description)
	if len(words) == 0 {
		return nil
	}

	r.mu.Lock()
	now := r.now()
	var matches []models.SharedContext
	for _, e := range r.contexts {
		if r.contextExpired(e.ctx, now) {
			continue
		}
		if words.Intersect(e.words) == 0 {
			continue
		}
		matches = append(matches, copyContext(e.ctx))
	}
	r.mu.Unlock()

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].Key < matches[j].Key
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

func (r *Registry) contextExpired(sc models.SharedContext, now time.Time) bool {
	return r.cfg.MaxContextAge > 0 && now.Sub(sc.CreatedAt) > r.cfg.MaxContextAge
}

func copyContext(sc models.SharedContext) models.SharedContext {
	sc.Artifacts = append([]string(nil), sc.Artifacts...)
	return sc
}
