package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/ShayCichocki/hive/internal/coordination"
	"github.com/ShayCichocki/hive/internal/evaluation"
	"github.com/ShayCichocki/hive/internal/triage"
	"github.com/ShayCichocki/hive/pkg/models"
)

func mustRequest(t testing.TB, task string, opts ...models.RequestOption) models.Request {
	t.Helper()
	req, err := models.NewRequest(task, opts...)
	require.NoError(t, err)
	return req
}

func fixed(id string, e models.ComplexityEvaluation) evaluation.Evaluator {
	return evaluation.Func{ID: id, Fn: func(context.Context, evaluation.Kind, models.Request) (*models.ComplexityEvaluation, error) {
		c := e
		c.Roles = append([]string(nil), e.Roles...)
		c.Domains = append([]string(nil), e.Domains...)
		return &c, nil
	}}
}

func failing(id string) evaluation.Evaluator {
	return evaluation.Func{ID: id, Fn: func(context.Context, evaluation.Kind, models.Request) (*models.ComplexityEvaluation, error) {
		return nil, errors.New("upstream unavailable")
	}}
}

func TestAssess(t *testing.T) {
	p := New(nil)
	tests := []struct {
		task string
		want models.Tier
	}{
		{"fix a typo in the README", models.TierSimple},
		{"add a settings page", models.TierMedium},
		{"refactor the authentication service", models.TierComplex},
		{"design a distributed consensus protocol", models.TierVeryComplex},
	}
	for _, tt := range tests {
		t.Run(tt.task, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Assess(mustRequest(t, tt.task)))
		})
	}
}

func TestSelectRoles(t *testing.T) {
	p := New(nil)

	roles := p.SelectRoles(mustRequest(t, "implement the api endpoint and tests"), models.TierMedium)
	assert.Equal(t, []string{"backend", "tester"}, roles)

	// Nothing matches: padding to the tier minimum follows catalogue order.
	roles = p.SelectRoles(mustRequest(t, "zzz qqq"), models.TierMedium)
	assert.Equal(t, []string{"architect", "backend"}, roles)

	for i := 0; i < 20; i++ {
		assert.Equal(t, []string{"architect"}, p.SelectRoles(mustRequest(t, "zzz qqq"), models.TierSimple))
	}
}

func TestSelectDomains(t *testing.T) {
	p := New(nil)
	assert.Equal(t, []string{"documentation"}, p.SelectDomains(mustRequest(t, "fix typo in readme"), models.TierSimple))
	assert.Equal(t, []string{"general"}, p.SelectDomains(mustRequest(t, "zzz qqq"), models.TierComplex))

	domains := p.SelectDomains(mustRequest(t, "secure the api with jwt auth and add a postgres schema"), models.TierMedium)
	assert.Len(t, domains, 2)
}

var consensusEvals = []models.ComplexityEvaluation{
	{Source: "a", Tier: models.TierComplex, AgentCount: 5, Roles: []string{"architect", "backend"}, Domains: []string{"api"}, Pattern: models.PatternHierarchical, Quality: models.QualityHigh, Confidence: 0.9},
	{Source: "b", Tier: models.TierComplex, AgentCount: 6, Roles: []string{"backend", "security"}, Domains: []string{"api", "security"}, Pattern: models.PatternPipeline, Quality: models.QualityHigh, Confidence: 0.6},
	{Source: "c", Tier: models.TierMedium, AgentCount: 3, Roles: []string{"backend"}, Domains: []string{"api"}, Pattern: models.PatternHierarchical, Quality: models.QualityStandard, Confidence: 0.7},
	{Source: "d", Tier: models.TierComplex, AgentCount: 4, Roles: []string{"tester", "backend"}, Domains: []string{"testing"}, Pattern: models.PatternFanOut, Quality: models.QualityCritical, Confidence: 0.5},
}

func pointers(evals []models.ComplexityEvaluation) []*models.ComplexityEvaluation {
	out := make([]*models.ComplexityEvaluation, len(evals))
	for i := range evals {
		e := evals[i]
		out[i] = &e
	}
	return out
}

func TestBuildConsensus_OrderIndependent(t *testing.T) {
	p := New(nil)
	req := mustRequest(t, "rebuild the api")
	wantSummary, want, err := p.BuildConsensus(context.Background(), pointers(consensusEvals), req)
	require.NoError(t, err)

	rapid.Check(t, func(t *rapid.T) {
		perm := rapid.Permutation(pointers(consensusEvals)).Draw(t, "order")
		summary, got, err := p.BuildConsensus(context.Background(), perm, req)
		if err != nil {
			t.Fatalf("BuildConsensus() error = %v", err)
		}
		if summary != wantSummary {
			t.Fatalf("summary %q != %q", summary, wantSummary)
		}
		if got.Tier != want.Tier || got.AgentCount != want.AgentCount || got.Pattern != want.Pattern ||
			got.Quality != want.Quality || got.Confidence != want.Confidence {
			t.Fatalf("majority fields differ: %+v vs %+v", got, want)
		}
		assert.Equal(t, want.Roles, got.Roles)
		assert.Equal(t, want.Domains, got.Domains)
		assert.Equal(t, want.Votes, got.Votes)
	})
}

func TestBuildConsensus_SkipsUnusable(t *testing.T) {
	p := New(nil)
	evals := append(pointers(consensusEvals[:2]),
		nil,
		&models.ComplexityEvaluation{Source: "bad-tier", Tier: "huge", Roles: []string{"backend"}, Confidence: 0.9},
		&models.ComplexityEvaluation{Source: "no-roles", Tier: models.TierSimple, AgentCount: 1, Confidence: 1},
	)

	summary, r, err := p.BuildConsensus(context.Background(), evals, mustRequest(t, "rebuild the api"))
	require.NoError(t, err)
	assert.Equal(t, models.TierComplex, r.Tier)
	assert.Len(t, r.Votes, 2)
	assert.Len(t, r.Violations, 3)
	assert.Contains(t, r.Violations[len(r.Violations)-1]+r.Violations[0]+r.Violations[1], "no-roles")
	assert.NotEmpty(t, summary)
	assert.False(t, r.LowConfidence)
}

func TestBuildConsensus_FallsBackToTriage(t *testing.T) {
	p := New(triage.NewDefault(nil))
	evals := []*models.ComplexityEvaluation{
		nil,
		{Source: "empty", Tier: models.TierComplex, AgentCount: 4, Confidence: 0.9},
	}

	summary, r, err := p.BuildConsensus(context.Background(), evals, mustRequest(t, "fix a typo in the README"))
	require.NoError(t, err)
	assert.True(t, r.LowConfidence)
	assert.Equal(t, models.TierSimple, r.Tier)
	assert.GreaterOrEqual(t, len(r.Violations), 2)
	assert.Contains(t, summary, "low confidence")
}

func TestBuildConsensus_NoFallback(t *testing.T) {
	p := New(nil)
	_, r, err := p.BuildConsensus(context.Background(), []*models.ComplexityEvaluation{nil}, mustRequest(t, "anything"))
	assert.ErrorIs(t, err, ErrNoUsableEvaluations)
	assert.Len(t, r.Violations, 1)
}

func TestPlan_SimpleRequestGetsMinimalPlan(t *testing.T) {
	p := New(triage.NewDefault(nil), WithEvaluators(failing("never-called")))
	plan, r, err := p.Plan(context.Background(), mustRequest(t, "fix a typo in the README"))
	require.NoError(t, err)

	assert.Equal(t, models.TierSimple, r.Tier)
	require.Len(t, plan.Requests, 1)
	assert.True(t, plan.Requests[0].Required)
	assert.Equal(t, "fix a typo in the README", plan.Requests[0].Instruction)
	assert.Equal(t, models.StrategyParallel, plan.Strategy)
}

func TestPlan_EscalatedUsesEvaluatorConsensus(t *testing.T) {
	eval := models.ComplexityEvaluation{
		Tier: models.TierComplex, AgentCount: 4,
		Roles: []string{"architect", "backend", "tester"}, Domains: []string{"security"},
		Pattern: models.PatternPipeline, Quality: models.QualityHigh, Confidence: 0.8,
	}
	p := New(triage.NewDefault(nil), WithEvaluators(fixed("one", eval), fixed("two", eval), failing("three")))

	plan, r, err := p.Plan(context.Background(), mustRequest(t, "refactor the authentication service", models.WithMode(models.ModeFull)))
	require.NoError(t, err)

	assert.Equal(t, models.TierComplex, r.Tier)
	assert.Equal(t, models.PatternPipeline, r.Pattern)
	assert.Len(t, r.Votes, 2)
	assert.Equal(t, models.StrategySequential, plan.Strategy)
	require.Len(t, plan.Requests, 4)

	var roles []string
	for _, req := range plan.Requests {
		roles = append(roles, req.Compose.Role)
		assert.Equal(t, []string{"security"}, req.Compose.Domains)
		assert.Contains(t, req.Instruction, "refactor the authentication service")
	}
	assert.Equal(t, []string{"architect", "backend", "tester", "architect"}, roles)
	assert.Equal(t, r.Summary, plan.Background)
	assert.NoError(t, plan.Validate())
}

func TestPlan_LowConfidenceConsultsRegistry(t *testing.T) {
	reg, err := coordination.New()
	require.NoError(t, err)
	defer reg.Stop()

	req := mustRequest(t, "refactor the authentication service", models.WithMode(models.ModeFull))
	_, err = reg.RecordPatternOutcome(context.Background(), reg.TaskType(req.Text()), models.PatternConsensus, 1)
	require.NoError(t, err)

	p := New(triage.NewDefault(nil), WithEvaluators(failing("down")), WithRegistry(reg))
	plan, r, err := p.Plan(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, r.LowConfidence)
	want := reg.SuggestPattern(context.Background(), req.Text(), r.AgentCount)
	assert.Equal(t, want.Pattern, r.Pattern)
	assert.Equal(t, models.StrategyFor(r.Pattern), plan.Strategy)
	assert.NoError(t, plan.Validate())
}

func TestPlan_CallerCancelled(t *testing.T) {
	p := New(triage.NewDefault(nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := p.Plan(ctx, mustRequest(t, "refactor auth"))
	assert.ErrorIs(t, err, context.Canceled)
}
