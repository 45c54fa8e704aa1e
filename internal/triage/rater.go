// Package triage decides how much effort a request warrants by running
// several complexity raters concurrently and voting on their answers.
package triage

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/hive/internal/catalog"
	"github.com/ShayCichocki/hive/internal/evaluation"
	"github.com/ShayCichocki/hive/pkg/models"
)

// Rater produces one independent complexity evaluation.
type Rater interface {
	Name() string
	Rate(ctx context.Context, req models.Request) (*models.ComplexityEvaluation, error)
}

// EvaluatorRater adapts an external evaluator into a Rater. Its answers are
// sanitized; an unusable answer is reported as an error so triage excludes it.
type EvaluatorRater struct {
	eval    evaluation.Evaluator
	catalog *catalog.Catalog
	bounds  models.TierBounds
}

// NewEvaluatorRater wraps eval. A nil catalogue uses the default.
func NewEvaluatorRater(eval evaluation.Evaluator, cat *catalog.Catalog, bounds models.TierBounds) *EvaluatorRater {
	if cat == nil {
		cat = catalog.Default()
	}
	if bounds == nil {
		bounds = models.DefaultTierBounds()
	}
	return &EvaluatorRater{eval: eval, catalog: cat, bounds: bounds}
}

// Name implements Rater.
func (r *EvaluatorRater) Name() string { return r.eval.Name() }

// Rate implements Rater.
func (r *EvaluatorRater) Rate(ctx context.Context, req models.Request) (*models.ComplexityEvaluation, error) {
	raw, err := r.eval.Evaluate(ctx, evaluation.KindComplexity, req)
	if err != nil {
		return nil, err
	}
	if raw != nil && raw.Source == "" {
		raw.Source = r.Name()
	}
	clean, violations := evaluation.Sanitize(raw, r.catalog, r.bounds)
	if clean == nil {
		return nil, fmt.Errorf("%w: %v", ErrUnusableEvaluation, violations)
	}
	clean.RulesApplied = append(clean.RulesApplied, violations...)
	return clean, nil
}
