package coordination

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/hive/internal/textsim"
	"github.com/ShayCichocki/hive/pkg/models"
)

// PatternSpec describes one coordination pattern in the catalogue.
type PatternSpec struct {
	Pattern     models.WorkflowPattern
	Description string
	Keywords    []string
	MinAgents   int
	MaxAgents   int
}

// DefaultPatterns returns the fixed pattern catalogue in tie-break order.
func DefaultPatterns() []PatternSpec {
	return []PatternSpec{
		{
			Pattern:     models.PatternFanOut,
			Description: "independent agents work in parallel and results are merged",
			Keywords:    []string{"independent", "parallel", "multiple", "batch", "each", "separate", "files", "endpoints"},
			MinAgents:   2,
			MaxAgents:   12,
		},
		{
			Pattern:     models.PatternPipeline,
			Description: "each stage consumes the previous stage's output",
			Keywords:    []string{"chain", "after", "sequence", "step", "stages", "migrate", "transform", "pipeline"},
			MinAgents:   2,
			MaxAgents:   6,
		},
		{
			Pattern:     models.PatternConsensus,
			Description: "several agents judge the same question and vote",
			Keywords:    []string{"review", "verify", "evaluate", "decide", "compare", "validate", "audit", "choose"},
			MinAgents:   3,
			MaxAgents:   7,
		},
		{
			Pattern:     models.PatternHierarchical,
			Description: "a lead agent decomposes work for specialist agents",
			Keywords:    []string{"design", "architecture", "system", "coordinate", "complex", "distributed", "platform", "protocol"},
			MinAgents:   4,
			MaxAgents:   12,
		},
	}
}

// neutralEffectiveness is used for pattern/task-type pairs with no history.
const neutralEffectiveness = 0.5

// Effectiveness is the learned score of a pattern for a task type.
type Effectiveness struct {
	TaskType  string
	Pattern   models.WorkflowPattern
	Score     float64
	Samples   int
	UpdatedAt time.Time
}

// EffectivenessStore persists learned effectiveness scores.
type EffectivenessStore interface {
	Get(ctx context.Context, taskType string, pattern models.WorkflowPattern) (Effectiveness, bool, error)
	Put(ctx context.Context, e Effectiveness) error
	List(ctx context.Context) ([]Effectiveness, error)
}

// MemoryStore is an in-process EffectivenessStore.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Effectiveness
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Effectiveness)}
}

func storeKey(taskType string, p models.WorkflowPattern) string {
	return taskType + "|" + string(p)
}

// Get implements EffectivenessStore.
func (m *MemoryStore) Get(_ context.Context, taskType string, p models.WorkflowPattern) (Effectiveness, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[storeKey(taskType, p)]
	return e, ok, nil
}

// Put implements EffectivenessStore.
func (m *MemoryStore) Put(_ context.Context, e Effectiveness) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[storeKey(e.TaskType, e.Pattern)] = e
	return nil
}

// List implements EffectivenessStore, ordered by task type then pattern.
func (m *MemoryStore) List(_ context.Context) ([]Effectiveness, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Effectiveness, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TaskType != out[j].TaskType {
			return out[i].TaskType < out[j].TaskType
		}
		return out[i].Pattern < out[j].Pattern
	})
	return out, nil
}

// Suggestion is a recommended coordination pattern.
type Suggestion struct {
	Pattern       models.WorkflowPattern
	TaskType      string
	Score         float64
	Affinity      float64
	Effectiveness float64
	Reasoning     string
}

// TaskType classifies a description by its best matching domain.
func (r *Registry) TaskType(description string) string {
	return r.catalog.TopDomains(description, 1)[0]
}

// SuggestPattern ranks the catalogue for a description and agent count.
// The score blends keyword affinity, agent-count fit and the learned
// effectiveness for the description's task type. Ties keep catalogue order.
func (r *Registry) SuggestPattern(ctx context.Context, description string, agentCount int) Suggestion {
	words := textsim.SetOf(description)
	taskType := r.TaskType(description)

	r.patternMu.Lock()
	specs := append([]PatternSpec(nil), r.patterns...)
	r.patternMu.Unlock()

	var best Suggestion
	for i, spec := range specs {
		hits := 0
		for _, kw := range spec.Keywords {
			if words.Has(kw) {
				hits++
			}
		}
		affinity := math.Min(1, float64(hits)/3)

		fit := 0.5
		if agentCount > 0 {
			fit = 0
			if agentCount >= spec.MinAgents && agentCount <= spec.MaxAgents {
				fit = 1
			}
		}

		eff := neutralEffectiveness
		if e, ok, err := r.store.Get(ctx, taskType, spec.Pattern); err != nil {
			r.logger.Warn("effectiveness lookup failed", zap.String("task_type", taskType), zap.Error(err))
		} else if ok {
			eff = e.Score
		}

		score := 0.5*affinity + 0.2*fit + 0.3*eff
		if i == 0 || score > best.Score {
			best = Suggestion{
				Pattern:       spec.Pattern,
				TaskType:      taskType,
				Score:         score,
				Affinity:      affinity,
				Effectiveness: eff,
				Reasoning: fmt.Sprintf("%s: %d keyword hits, agent fit %.1f, effectiveness %.2f",
					spec.Pattern, hits, fit, eff),
			}
		}
	}
	return best
}

// RecordPatternOutcome folds an observed outcome in [0, 1] into the
// effectiveness of pattern for taskType with an exponential moving
// average. The first observation is stored as is.
func (r *Registry) RecordPatternOutcome(ctx context.Context, taskType string, pattern models.WorkflowPattern, outcome float64) (Effectiveness, error) {
	if outcome < 0 || outcome > 1 || math.IsNaN(outcome) {
		return Effectiveness{}, fmt.Errorf("%w: %v", ErrInvalidOutcome, outcome)
	}
	if !pattern.Valid() {
		return Effectiveness{}, fmt.Errorf("%w: %q", ErrUnknownPattern, pattern)
	}

	r.patternMu.Lock()
	prev, ok, err := r.store.Get(ctx, taskType, pattern)
	if err != nil {
		r.patternMu.Unlock()
		return Effectiveness{}, fmt.Errorf("load effectiveness: %w", err)
	}
	next := Effectiveness{
		TaskType:  taskType,
		Pattern:   pattern,
		Score:     outcome,
		Samples:   1,
		UpdatedAt: r.now(),
	}
	if ok {
		w := r.cfg.EMAWeight
		next.Score = w*prev.Score + (1-w)*outcome
		next.Samples = prev.Samples + 1
	}
	if err := r.store.Put(ctx, next); err != nil {
		r.patternMu.Unlock()
		return Effectiveness{}, fmt.Errorf("store effectiveness: %w", err)
	}
	r.patternMu.Unlock()

	r.BroadcastEvent(models.EventPatternRecorded, "", map[string]any{
		"task_type": taskType,
		"pattern":   string(pattern),
		"score":     next.Score,
	})
	return next, nil
}

// PatternEffectiveness lists every learned score.
func (r *Registry) PatternEffectiveness(ctx context.Context) ([]Effectiveness, error) {
	return r.store.List(ctx)
}
