package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShayCichocki/hive/internal/backend"
	"github.com/ShayCichocki/hive/internal/coordination"
	"github.com/ShayCichocki/hive/pkg/models"
)

// defaultEventBuffer is the emitter buffer used by NewSession.
const defaultEventBuffer = 256

// SessionConfig configures a Session.
type SessionConfig struct {
	// ID names the session and its graph root. Generated when empty.
	ID string
	// Registry options; the logger is added automatically.
	RegistryOptions []coordination.Option
	// Engine options; the emitter and logger are added automatically.
	EngineOptions []Option
	// EventBuffer sizes the flow event channel.
	EventBuffer int
	Logger      *zap.Logger
}

// Session owns one coordination registry, one engine and the event stream
// for a single orchestration run. The registry is never global; branches
// reach it through their ExecContext.
type Session struct {
	id       string
	registry *coordination.Registry
	engine   *Engine
	emitter  *EventEmitter
	logger   *zap.Logger
}

// NewSession creates a session executing branches on be. The registry's
// cleanup loop is started when its policy asks for one.
func NewSession(be backend.Backend, cfg SessionConfig) (*Session, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ID == "" {
		cfg.ID = "session-" + uuid.NewString()[:8]
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	logger := cfg.Logger.With(zap.String("session", cfg.ID))

	regOpts := append([]coordination.Option{coordination.WithLogger(logger)}, cfg.RegistryOptions...)
	registry, err := coordination.New(regOpts...)
	if err != nil {
		return nil, fmt.Errorf("create registry: %w", err)
	}
	if err := registry.Start(); err != nil {
		return nil, fmt.Errorf("start registry: %w", err)
	}

	emitter := NewEventEmitter(cfg.EventBuffer, logger)
	engOpts := append([]Option{WithLogger(logger), WithEmitter(emitter)}, cfg.EngineOptions...)

	return &Session{
		id:       cfg.ID,
		registry: registry,
		engine:   NewEngine(registry, be, engOpts...),
		emitter:  emitter,
		logger:   logger.With(zap.String("component", "session")),
	}, nil
}

// ID returns the session ID, which is also the graph root.
func (s *Session) ID() string { return s.id }

// Registry returns the session's coordination registry.
func (s *Session) Registry() *coordination.Registry { return s.registry }

// Engine returns the session's engine.
func (s *Session) Engine() *Engine { return s.engine }

// Events returns the flow event stream. It is closed by Close.
func (s *Session) Events() <-chan FlowEvent { return s.emitter.Events() }

// Run expands plan under the session root and runs the resulting flow.
// When pattern is valid the flow's success rate is recorded as that
// pattern's outcome for the description's task type.
func (s *Session) Run(ctx context.Context, description string, plan *models.OrchestrationPlan, pattern models.WorkflowPattern) (*FlowResult, error) {
	if _, err := s.engine.ExpandWithPlan(s.id, plan, s.engine.MaxAgents()); err != nil {
		return nil, err
	}

	result, err := s.engine.RunFlow(ctx, s.engine.Graph(s.id))
	if result != nil && pattern.Valid() && len(result.Nodes) > 0 {
		taskType := s.registry.TaskType(description)
		eff, rerr := s.registry.RecordPatternOutcome(context.WithoutCancel(ctx), taskType, pattern, result.SuccessRate())
		if rerr != nil {
			s.logger.Warn("record pattern outcome", zap.Error(rerr))
		} else {
			s.logger.Debug("pattern outcome recorded",
				zap.String("task_type", taskType),
				zap.String("pattern", string(pattern)),
				zap.Float64("score", eff.Score))
		}
	}
	return result, err
}

// Close stops the registry and closes the event stream.
func (s *Session) Close() {
	s.registry.Stop()
	s.emitter.Close()
}
