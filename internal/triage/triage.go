package triage

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/hive/internal/catalog"
	"github.com/ShayCichocki/hive/internal/consensus"
	"github.com/ShayCichocki/hive/internal/metrics"
	"github.com/ShayCichocki/hive/pkg/models"
)

// DefaultRaterTimeout bounds each rater call when no timeout is configured.
const DefaultRaterTimeout = 30 * time.Second

// Option configures a Triage.
type Option func(*Triage)

// WithQuorum sets the minimum number of raters that must answer. Values
// below one select a simple majority of the configured raters.
func WithQuorum(n int) Option {
	return func(t *Triage) { t.quorum = n }
}

// WithRaterTimeout bounds each rater call.
func WithRaterTimeout(d time.Duration) Option {
	return func(t *Triage) { t.timeout = d }
}

// WithTierBounds sets the agent-count range per tier.
func WithTierBounds(b models.TierBounds) Option {
	return func(t *Triage) { t.bounds = b }
}

// WithCatalog sets the role and domain catalogue.
func WithCatalog(c *catalog.Catalog) Option {
	return func(t *Triage) { t.catalog = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Triage) { t.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(t *Triage) { t.metrics = m }
}

// Triage runs independent raters concurrently and turns their votes into a
// proceed or escalate decision.
type Triage struct {
	raters   []Rater
	quorum   int
	timeout  time.Duration
	bounds   models.TierBounds
	catalog  *catalog.Catalog
	fallback *KeywordRater
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// New creates a Triage over raters.
func New(raters []Rater, opts ...Option) *Triage {
	t := &Triage{
		raters:  raters,
		timeout: DefaultRaterTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.quorum < 1 {
		t.quorum = len(raters)/2 + 1
	}
	if t.timeout <= 0 {
		t.timeout = DefaultRaterTimeout
	}
	if t.bounds == nil {
		t.bounds = models.DefaultTierBounds()
	}
	if t.catalog == nil {
		t.catalog = catalog.Default()
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	t.logger = t.logger.With(zap.String("component", "triage"))
	t.fallback = NewKeywordRater(DefaultTierKeywords, t.catalog, t.bounds)
	return t
}

// NewDefault creates a Triage with the keyword and scope raters plus any
// extra raters, typically evaluator-backed ones.
func NewDefault(extra []Rater, opts ...Option) *Triage {
	probe := New(nil, opts...)
	raters := []Rater{
		NewKeywordRater(DefaultTierKeywords, probe.catalog, probe.bounds),
		NewScopeRater(probe.catalog, probe.bounds),
	}
	raters = append(raters, extra...)
	return New(raters, opts...)
}

// Bounds returns the tier bounds in effect.
func (t *Triage) Bounds() models.TierBounds { return t.bounds }

// Catalog returns the catalogue in effect.
func (t *Triage) Catalog() *catalog.Catalog { return t.catalog }

// Run rates req and decides whether it needs the full planner. Rater errors
// and timeouts exclude that rater; they are never returned. The only error is
// the caller's own context being done.
func (t *Triage) Run(ctx context.Context, req models.Request) (bool, models.ConsensusResult, error) {
	evals := t.collect(ctx, req)
	if err := ctx.Err(); err != nil {
		return false, models.ConsensusResult{}, err
	}

	var result models.ConsensusResult
	switch {
	case len(evals) == 0:
		qf := &QuorumFailure{Responded: 0, Required: t.quorum, Raters: len(t.raters)}
		t.logger.Warn("no raters responded, using conservative default", zap.Error(qf))
		t.metrics.RecordQuorumFailure()
		result = t.conservativeDefault(req)
		result.Violations = append(result.Violations, qf.Error())

	case len(evals) < t.quorum:
		qf := &QuorumFailure{Responded: len(evals), Required: t.quorum, Raters: len(t.raters)}
		t.logger.Warn("rater quorum not met, using rule-based evaluation", zap.Error(qf))
		t.metrics.RecordQuorumFailure()
		r, err := consensus.Aggregate([]*models.ComplexityEvaluation{t.fallback.Evaluate(req)}, t.bounds)
		if err != nil {
			result = t.conservativeDefault(req)
		} else {
			result = r
		}
		result.LowConfidence = true
		result.Violations = append(result.Violations, qf.Error())

	default:
		r, err := consensus.Aggregate(evals, t.bounds)
		if err != nil {
			result = t.conservativeDefault(req)
		} else {
			result = r
		}
	}

	if req.Mode() == models.ModeQuick {
		result = t.forceSimple(result)
	}
	result.Summary = consensus.Summarize(result)

	escalate := ShouldEscalate(req, result)
	t.metrics.RecordTriage(string(result.Tier), escalate)
	t.logger.Info("triage decided",
		zap.String("tier", string(result.Tier)),
		zap.Int("agents", result.AgentCount),
		zap.Float64("confidence", result.Confidence),
		zap.Bool("low_confidence", result.LowConfidence),
		zap.Bool("escalate", escalate),
		zap.Int("responded", len(evals)),
	)
	return escalate, result, nil
}

// ShouldEscalate applies the escalation rule: complex and very complex
// requests, requests in full mode and low-confidence non-simple decisions go
// to the planner. Quick mode never escalates.
func ShouldEscalate(req models.Request, r models.ConsensusResult) bool {
	switch req.Mode() {
	case models.ModeQuick:
		return false
	case models.ModeFull:
		return true
	case models.ModeAuto:
	}
	if r.Tier.AtLeast(models.TierComplex) {
		return true
	}
	return r.LowConfidence && r.Tier != models.TierSimple
}

// collect runs every rater under its own timeout and returns the answers in
// rater order. Failed and late raters are left out.
func (t *Triage) collect(ctx context.Context, req models.Request) []*models.ComplexityEvaluation {
	slots := make([]*models.ComplexityEvaluation, len(t.raters))
	var mu sync.Mutex

	var g errgroup.Group
	for i, r := range t.raters {
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(ctx, t.timeout)
			defer cancel()

			eval, err := rateWithContext(rctx, r, req)
			switch {
			case err == nil:
				mu.Lock()
				slots[i] = eval
				mu.Unlock()
				t.metrics.RecordRater(r.Name(), "ok")
			case errors.Is(err, context.DeadlineExceeded):
				t.logger.Warn("rater timed out", zap.String("rater", r.Name()), zap.Duration("timeout", t.timeout))
				t.metrics.RecordRater(r.Name(), "timeout")
			case errors.Is(err, ErrUnusableEvaluation):
				t.logger.Warn("rater answer discarded", zap.String("rater", r.Name()), zap.Error(err))
				t.metrics.RecordRater(r.Name(), "discarded")
			default:
				t.logger.Warn("rater failed", zap.String("rater", r.Name()), zap.Error(err))
				t.metrics.RecordRater(r.Name(), "error")
			}
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

// rateWithContext returns as soon as ctx is done even if the rater ignores
// cancellation. The rater goroutine is left to finish on its own.
func rateWithContext(ctx context.Context, r Rater, req models.Request) (*models.ComplexityEvaluation, error) {
	type answer struct {
		eval *models.ComplexityEvaluation
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		e, err := r.Rate(ctx, req)
		ch <- answer{e, err}
	}()

	select {
	case a := <-ch:
		if a.err == nil && a.eval == nil {
			return nil, ErrUnusableEvaluation
		}
		if a.err == nil {
			if err := a.eval.Validate(); err != nil {
				return nil, errors.Join(ErrUnusableEvaluation, err)
			}
		}
		return a.eval, a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// conservativeDefault is the decision used when no rater answered: a medium
// team at the tier minimum, flagged low confidence so it escalates.
func (t *Triage) conservativeDefault(req models.Request) models.ConsensusResult {
	b := t.bounds.For(models.TierMedium)
	return models.ConsensusResult{
		Tier:          models.TierMedium,
		AgentCount:    b.Min,
		Roles:         catalog.Select(t.catalog.ScoreRoles(req.Text()), b.Min, b.Min),
		Domains:       t.catalog.TopDomains(req.Text(), catalog.DomainCap(models.TierMedium)),
		Pattern:       consensus.DefaultPattern(models.TierMedium),
		Quality:       consensus.DefaultQuality(models.TierMedium),
		Confidence:    0,
		LowConfidence: true,
	}
}

func (t *Triage) forceSimple(r models.ConsensusResult) models.ConsensusResult {
	b := t.bounds.For(models.TierSimple)
	r.Tier = models.TierSimple
	r.AgentCount = b.Max
	if len(r.Roles) > r.AgentCount {
		r.Roles = r.Roles[:r.AgentCount]
	}
	if len(r.Domains) > 1 {
		r.Domains = r.Domains[:1]
	}
	r.Pattern = consensus.DefaultPattern(models.TierSimple)
	r.Violations = append(r.Violations, "quick mode forced simple tier")
	return r
}
