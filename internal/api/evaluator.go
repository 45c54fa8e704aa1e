package api

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ShayCichocki/hive/internal/catalog"
	"github.com/ShayCichocki/hive/internal/evaluation"
	"github.com/ShayCichocki/hive/pkg/models"
)

const evaluatorSystemPrompt = "You rate software work requests for a multi-agent engine. Reply with one JSON object and nothing else."

// Evaluator asks a model for a complexity or plan evaluation.
type Evaluator struct {
	name    string
	client  Completer
	catalog *catalog.Catalog
	logger  *zap.Logger
}

var _ evaluation.Evaluator = (*Evaluator)(nil)

// NewEvaluator creates an evaluator named name. A nil catalogue uses the default.
func NewEvaluator(name string, client Completer, cat *catalog.Catalog, logger *zap.Logger) *Evaluator {
	if cat == nil {
		cat = catalog.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		name:    name,
		client:  client,
		catalog: cat,
		logger:  logger.With(zap.String("component", "evaluator"), zap.String("evaluator", name)),
	}
}

// NewEvaluators returns n evaluators sharing one client, named prefix-1..prefix-n.
func NewEvaluators(prefix string, n int, client Completer, cat *catalog.Catalog, logger *zap.Logger) []evaluation.Evaluator {
	out := make([]evaluation.Evaluator, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, NewEvaluator(fmt.Sprintf("%s-%d", prefix, i), client, cat, logger))
	}
	return out
}

// Name implements evaluation.Evaluator.
func (e *Evaluator) Name() string { return e.name }

// Evaluate implements evaluation.Evaluator. The result is unsanitized.
func (e *Evaluator) Evaluate(ctx context.Context, kind evaluation.Kind, req models.Request) (*models.ComplexityEvaluation, error) {
	prompt := evaluation.RenderPrompt(kind, req, e.catalog)
	reply, err := e.client.Complete(ctx, evaluatorSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.name, err)
	}
	eval, err := ParseEvaluation(e.name, reply)
	if err != nil {
		e.logger.Warn("discarding reply", zap.String("kind", string(kind)), zap.Error(err))
		return nil, fmt.Errorf("%s: %w", e.name, err)
	}
	e.logger.Debug("evaluation parsed",
		zap.String("kind", string(kind)),
		zap.String("tier", string(eval.Tier)),
		zap.Int("agent_count", eval.AgentCount))
	return eval, nil
}
