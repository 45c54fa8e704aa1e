// Package planner turns an escalated request into an orchestration plan:
// which roles work on which domains, in what shape.
package planner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/hive/internal/catalog"
	"github.com/ShayCichocki/hive/internal/consensus"
	"github.com/ShayCichocki/hive/internal/coordination"
	"github.com/ShayCichocki/hive/internal/evaluation"
	"github.com/ShayCichocki/hive/internal/metrics"
	"github.com/ShayCichocki/hive/internal/triage"
	"github.com/ShayCichocki/hive/pkg/models"
)

// DefaultEvaluatorTimeout bounds each plan evaluator call.
const DefaultEvaluatorTimeout = 60 * time.Second

// ErrNoUsableEvaluations is returned by BuildConsensus when every
// evaluation was unusable and no triage is available to fall back on.
var ErrNoUsableEvaluations = errors.New("no usable plan evaluations")

// Option configures a Planner.
type Option func(*Planner)

// WithEvaluators sets the plan evaluators consulted for escalated requests.
func WithEvaluators(evals ...evaluation.Evaluator) Option {
	return func(p *Planner) { p.evaluators = append(p.evaluators, evals...) }
}

// WithCatalog sets the role and domain catalogue.
func WithCatalog(c *catalog.Catalog) Option {
	return func(p *Planner) { p.catalog = c }
}

// WithTierBounds sets the agent-count range per tier.
func WithTierBounds(b models.TierBounds) Option {
	return func(p *Planner) { p.bounds = b }
}

// WithRegistry lets the planner consult learned pattern effectiveness.
func WithRegistry(r *coordination.Registry) Option {
	return func(p *Planner) { p.registry = r }
}

// WithEvaluatorTimeout bounds each evaluator call.
func WithEvaluatorTimeout(d time.Duration) Option {
	return func(p *Planner) { p.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Planner) { p.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(p *Planner) { p.metrics = m }
}

// Planner builds orchestration plans. It is safe for concurrent use.
type Planner struct {
	triage     *triage.Triage
	evaluators []evaluation.Evaluator
	catalog    *catalog.Catalog
	bounds     models.TierBounds
	registry   *coordination.Registry
	timeout    time.Duration
	logger     *zap.Logger
	metrics    *metrics.Collector
}

// New creates a Planner. t decides escalation and is the fallback when
// every plan evaluation is unusable; it may be nil for BuildConsensus-only
// use, in which case catalogue and bounds default to t's when unset.
func New(t *triage.Triage, opts ...Option) *Planner {
	p := &Planner{triage: t, timeout: DefaultEvaluatorTimeout}
	for _, opt := range opts {
		opt(p)
	}
	if p.catalog == nil {
		if t != nil {
			p.catalog = t.Catalog()
		} else {
			p.catalog = catalog.Default()
		}
	}
	if p.bounds == nil {
		if t != nil {
			p.bounds = t.Bounds()
		} else {
			p.bounds = models.DefaultTierBounds()
		}
	}
	if p.timeout <= 0 {
		p.timeout = DefaultEvaluatorTimeout
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	p.logger = p.logger.With(zap.String("component", "planner"))
	return p
}

// Assess rates req with the deterministic keyword rules.
func (p *Planner) Assess(req models.Request) models.Tier {
	return triage.DefaultTierKeywords.Classify(req.Text()).Tier
}

// SelectRoles returns the roles most relevant to req, best first, bounded
// by the tier's agent-count range. Ties follow catalogue order.
func (p *Planner) SelectRoles(req models.Request, tier models.Tier) []string {
	b := p.bounds.For(tier)
	return catalog.Select(p.catalog.ScoreRoles(req.Text()), b.Min, b.Max)
}

// SelectDomains returns the domains most relevant to req, best first,
// capped by how many domains a team of the tier may span.
func (p *Planner) SelectDomains(req models.Request, tier models.Tier) []string {
	return p.catalog.TopDomains(req.Text(), catalog.DomainCap(tier))
}

// BuildConsensus aggregates plan evaluations into one decision. The result
// does not depend on the order of evals. Nil, invalid and roleless entries
// are skipped and recorded as violations; when none is usable the triage's
// own consensus for req is used instead.
func (p *Planner) BuildConsensus(ctx context.Context, evals []*models.ComplexityEvaluation, req models.Request) (string, models.ConsensusResult, error) {
	return p.buildConsensus(evals, func() (models.ConsensusResult, error) {
		if p.triage == nil {
			return models.ConsensusResult{}, ErrNoUsableEvaluations
		}
		_, r, err := p.triage.Run(ctx, req)
		return r, err
	})
}

func (p *Planner) buildConsensus(evals []*models.ComplexityEvaluation, fallback func() (models.ConsensusResult, error)) (string, models.ConsensusResult, error) {
	var (
		usable     []*models.ComplexityEvaluation
		violations []string
	)
	for i, e := range consensus.Canonical(evals) {
		if err := e.Validate(); err != nil {
			violations = append(violations, fmt.Sprintf("plan evaluation %d skipped: %v", i, err))
			continue
		}
		if len(e.Roles) == 0 {
			violations = append(violations, fmt.Sprintf("plan evaluation %d skipped: %s named no roles", i, sourceName(e)))
			continue
		}
		usable = append(usable, e)
	}

	if len(usable) == 0 {
		p.logger.Warn("no usable plan evaluations, falling back to triage consensus", zap.Strings("violations", violations))
		r, err := fallback()
		if err != nil {
			return "", models.ConsensusResult{Violations: violations}, err
		}
		r.LowConfidence = true
		r.Violations = append(violations, r.Violations...)
		r.Summary = consensus.Summarize(r)
		return r.Summary, r, nil
	}

	r, err := consensus.Aggregate(usable, p.bounds)
	if err != nil {
		return "", r, err
	}
	r.Violations = append(violations, r.Violations...)
	return r.Summary, r, nil
}

func sourceName(e *models.ComplexityEvaluation) string {
	if e.Source == "" {
		return "unnamed evaluator"
	}
	return e.Source
}

// Plan triages req and returns the plan to run. Requests triage does not
// escalate get a single-agent plan; escalated ones are rated by every plan
// evaluator concurrently and planned from their consensus.
func (p *Planner) Plan(ctx context.Context, req models.Request) (models.OrchestrationPlan, models.ConsensusResult, error) {
	if p.triage == nil {
		return models.OrchestrationPlan{}, models.ConsensusResult{}, errors.New("planner has no triage")
	}
	escalate, tr, err := p.triage.Run(ctx, req)
	if err != nil {
		return models.OrchestrationPlan{}, models.ConsensusResult{}, err
	}
	if !escalate {
		return triage.MinimalPlan(req, tr), tr, nil
	}

	evals := p.collect(ctx, req)
	if err := ctx.Err(); err != nil {
		return models.OrchestrationPlan{}, models.ConsensusResult{}, err
	}
	_, result, err := p.buildConsensus(evals, func() (models.ConsensusResult, error) { return tr, nil })
	if err != nil {
		return models.OrchestrationPlan{}, result, err
	}

	if result.LowConfidence && p.registry != nil {
		s := p.registry.SuggestPattern(ctx, req.Text(), result.AgentCount)
		if s.Pattern.Valid() && s.Pattern != result.Pattern {
			p.logger.Info("low confidence consensus, using learned pattern",
				zap.String("consensus_pattern", string(result.Pattern)),
				zap.String("suggested_pattern", string(s.Pattern)),
				zap.String("reasoning", s.Reasoning))
			result.Pattern = s.Pattern
			result.Summary = consensus.Summarize(result)
		}
	}

	plan := p.Compose(req, result)
	if err := plan.Validate(); err != nil {
		return models.OrchestrationPlan{}, result, fmt.Errorf("composed plan invalid: %w", err)
	}
	p.logger.Info("plan built",
		zap.String("tier", string(result.Tier)),
		zap.String("pattern", string(result.Pattern)),
		zap.String("strategy", string(plan.Strategy)),
		zap.Int("requests", len(plan.Requests)),
		zap.Int("evaluations", len(evals)))
	return plan, result, nil
}

// collect runs every evaluator under its own timeout and returns the
// sanitized answers in evaluator order.
func (p *Planner) collect(ctx context.Context, req models.Request) []*models.ComplexityEvaluation {
	slots := make([]*models.ComplexityEvaluation, len(p.evaluators))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, ev := range p.evaluators {
		g.Go(func() error {
			ectx, cancel := context.WithTimeout(gctx, p.timeout)
			defer cancel()

			raw, err := ev.Evaluate(ectx, evaluation.KindPlan, req)
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				p.logger.Warn("plan evaluator timed out", zap.String("evaluator", ev.Name()))
				p.metrics.RecordPlanEvaluation("timeout")
				return nil
			case err != nil:
				p.logger.Warn("plan evaluator failed", zap.String("evaluator", ev.Name()), zap.Error(err))
				p.metrics.RecordPlanEvaluation("error")
				return nil
			}
			if raw != nil && raw.Source == "" {
				raw.Source = ev.Name()
			}
			clean, violations := evaluation.Sanitize(raw, p.catalog, p.bounds)
			if clean == nil {
				p.logger.Warn("plan evaluation discarded", zap.String("evaluator", ev.Name()), zap.Strings("violations", violations))
				p.metrics.RecordPlanEvaluation("discarded")
				return nil
			}
			clean.RulesApplied = append(clean.RulesApplied, violations...)
			mu.Lock()
			slots[i] = clean
			mu.Unlock()
			p.metrics.RecordPlanEvaluation("ok")
			return nil
		})
	}
	_ = g.Wait()

	var out []*models.ComplexityEvaluation
	for _, e := range slots {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}
