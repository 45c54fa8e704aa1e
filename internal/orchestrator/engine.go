package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/hive/internal/backend"
	"github.com/ShayCichocki/hive/internal/coordination"
	"github.com/ShayCichocki/hive/internal/graph"
	"github.com/ShayCichocki/hive/internal/metrics"
	"github.com/ShayCichocki/hive/internal/retry"
	"github.com/ShayCichocki/hive/pkg/models"
)

// Engine expands plans into execution graphs and runs them.
type Engine struct {
	arena    *Arena
	registry *coordination.Registry
	backend  backend.Backend
	emitter  *EventEmitter
	logger   *zap.Logger
	metrics  *metrics.Collector

	maxAgents    int
	flowTimeout  time.Duration
	nodeTimeout  time.Duration
	retryPolicy  retry.Policy
	contextLimit int

	mu       sync.Mutex
	graphs   map[string]*graph.ExecutionGraph
	warnings []string
}

// NewEngine creates an engine that records work in registry and executes
// branches on be.
func NewEngine(registry *coordination.Registry, be backend.Backend, opts ...Option) *Engine {
	o := defaultEngineOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return &Engine{
		arena:        NewArena(o.nameRetries),
		registry:     registry,
		backend:      be,
		emitter:      o.emitter,
		logger:       o.logger.With(zap.String("component", "engine")),
		metrics:      o.metrics,
		maxAgents:    o.maxAgents,
		flowTimeout:  o.flowTimeout,
		nodeTimeout:  o.nodeTimeout,
		retryPolicy:  o.retryPolicy,
		contextLimit: o.contextLimit,
		graphs:       make(map[string]*graph.ExecutionGraph),
	}
}

// Arena returns the engine's branch arena.
func (e *Engine) Arena() *Arena { return e.arena }

// MaxAgents returns the configured branch limit.
func (e *Engine) MaxAgents() int { return e.maxAgents }

// Graph returns the execution graph rooted at rootID, creating it on first
// use.
func (e *Engine) Graph(rootID string) *graph.ExecutionGraph {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graphLocked(rootID)
}

func (e *Engine) graphLocked(rootID string) *graph.ExecutionGraph {
	g, ok := e.graphs[rootID]
	if !ok {
		g = graph.New(rootID, e.maxAgents)
		sugar := e.logger.Sugar()
		g.SetDebugLog(func(format string, args ...any) { sugar.Debugf(format, args...) })
		e.graphs[rootID] = g
	}
	return g
}

// Warnings returns every warning recorded by ExpandWithPlan.
func (e *Engine) Warnings() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.warnings...)
}

func (e *Engine) warnLocked(msg string) {
	e.warnings = append(e.warnings, msg)
	e.logger.Warn(msg)
}

// ExpandWithPlan creates one branch per plan request and adds them to the
// graph rooted at rootID, wired by the plan's strategy. At most maxAgents
// requests are taken, further limited by the graph's remaining capacity;
// the rest are dropped with a warning. It returns the new node IDs in
// request order. On error nothing is added.
func (e *Engine) ExpandWithPlan(rootID string, plan *models.OrchestrationPlan, maxAgents int) ([]string, error) {
	if plan == nil || len(plan.Requests) == 0 {
		return nil, ErrEmptyPlan
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("expand plan: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	g := e.graphLocked(rootID)

	limit := len(plan.Requests)
	if maxAgents > 0 && maxAgents < limit {
		limit = maxAgents
	}
	if c := g.Capacity(); c >= 0 && c < limit {
		limit = c
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: root %s", ErrNoCapacity, rootID)
	}
	for i := limit; i < len(plan.Requests); i++ {
		e.warnLocked(fmt.Sprintf("dropped request %d (%s): agent limit %d reached", i, plan.Requests[i].Compose.Role, limit))
		e.emitter.Emit(FlowEvent{Type: EventBranchDropped, Role: plan.Requests[i].Compose.Role, Message: plan.Requests[i].Instruction})
	}
	requests := plan.Requests[:limit]

	branches := make([]models.Branch, 0, len(requests))
	rollback := func() {
		ids := make([]string, len(branches))
		for i, b := range branches {
			ids[i] = b.ID
		}
		e.arena.Remove(ids...)
	}
	for _, req := range requests {
		b, err := e.arena.Create(req, plan.Background)
		if err != nil {
			rollback()
			return nil, err
		}
		branches = append(branches, b)
	}

	ids := make([]string, len(branches))
	for i, b := range branches {
		ids[i] = b.ID
	}

	batch := make([]*graph.Node, len(branches))
	for i := range branches {
		b := branches[i]
		batch[i] = &graph.Node{
			ID:        b.ID,
			Branch:    &b,
			DependsOn: e.dependenciesLocked(plan.Strategy, rootID, ids, requests, i),
		}
	}

	if err := g.AddNodes("orchestrator.ExpandWithPlan", batch); err != nil {
		rollback()
		return nil, err
	}

	for _, n := range batch {
		e.logger.Debug("branch created",
			zap.String("node", n.ID),
			zap.String("branch", n.Branch.Name),
			zap.Strings("depends_on", n.DependsOn))
		e.emitter.Emit(FlowEvent{Type: EventBranchCreated, NodeID: n.ID, Branch: n.Branch.Name, Role: n.Branch.Role})
	}
	return ids, nil
}

// dependenciesLocked wires request i by strategy. Hybrid hints pointing at
// dropped requests are ignored with a warning.
func (e *Engine) dependenciesLocked(strategy models.ExecutionStrategy, rootID string, ids []string, requests []models.AgentRequest, i int) []string {
	switch strategy {
	case models.StrategySequential:
		if i == 0 {
			return []string{rootID}
		}
		return []string{ids[i-1]}
	case models.StrategyHybrid:
		var deps []string
		seen := make(map[string]bool)
		for _, hint := range requests[i].DependsOn {
			if hint >= len(ids) {
				e.warnLocked(fmt.Sprintf("request %d: dependency on dropped request %d ignored", i, hint))
				continue
			}
			if !seen[ids[hint]] {
				seen[ids[hint]] = true
				deps = append(deps, ids[hint])
			}
		}
		if len(deps) == 0 {
			return []string{rootID}
		}
		return deps
	case models.StrategyParallel:
		return []string{rootID}
	default:
		return []string{rootID}
	}
}
