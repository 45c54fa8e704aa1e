package consensus

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/ShayCichocki/hive/pkg/models"
)

func eval(source string, tier models.Tier, count int, conf float64, roles, domains []string) *models.ComplexityEvaluation {
	return &models.ComplexityEvaluation{
		Source:     source,
		Tier:       tier,
		AgentCount: count,
		Roles:      roles,
		Domains:    domains,
		Confidence: conf,
	}
}

func TestAggregate_WeightedMajority(t *testing.T) {
	evals := []*models.ComplexityEvaluation{
		eval("a", models.TierComplex, 6, 0.9, []string{"architect", "backend"}, []string{"api"}),
		eval("b", models.TierMedium, 3, 0.4, []string{"backend"}, []string{"api", "web"}),
		eval("c", models.TierMedium, 3, 0.4, []string{"frontend"}, []string{"web"}),
	}

	got, err := Aggregate(evals, models.DefaultTierBounds())
	require.NoError(t, err)
	assert.Equal(t, models.TierComplex, got.Tier, "0.9 outweighs 0.8")
	assert.True(t, models.DefaultTierBounds().For(got.Tier).Contains(got.AgentCount))
	assert.Equal(t, 5, got.AgentCount, "weighted mean 4.59 rounds to 5")
	assert.Equal(t, "backend", got.Roles[0], "most frequent role first")
	assert.Equal(t, []string{"api"}, got.Domains, "web holds under half the weight")
	assert.Equal(t, models.PatternHierarchical, got.Pattern)
	assert.Equal(t, models.QualityHigh, got.Quality)
	assert.Len(t, got.Votes, 3)
	assert.Contains(t, got.Summary, "complex tier")
}

func TestAggregate_TieBrokenByHighestConfidence(t *testing.T) {
	evals := []*models.ComplexityEvaluation{
		eval("a", models.TierMedium, 3, 0.3, nil, nil),
		eval("b", models.TierMedium, 3, 0.3, nil, nil),
		eval("c", models.TierComplex, 5, 0.6, nil, nil),
	}
	got, err := Aggregate(evals, models.DefaultTierBounds())
	require.NoError(t, err)
	assert.Equal(t, models.TierComplex, got.Tier)
}

func TestAggregate_TieBrokenByOrder(t *testing.T) {
	evals := []*models.ComplexityEvaluation{
		eval("a", models.TierSimple, 1, 0.5, nil, nil),
		eval("b", models.TierMedium, 2, 0.5, nil, nil),
	}
	got, err := Aggregate(evals, models.DefaultTierBounds())
	require.NoError(t, err)
	assert.Equal(t, models.TierSimple, got.Tier)

	got, err = Aggregate([]*models.ComplexityEvaluation{evals[1], evals[0]}, models.DefaultTierBounds())
	require.NoError(t, err)
	assert.Equal(t, models.TierMedium, got.Tier)
}

func TestAggregate_ClampsToTierBounds(t *testing.T) {
	evals := []*models.ComplexityEvaluation{
		eval("a", models.TierSimple, 9, 0.9, []string{"documenter", "reviewer"}, nil),
	}
	got, err := Aggregate(evals, models.DefaultTierBounds())
	require.NoError(t, err)
	assert.Equal(t, 1, got.AgentCount)
	assert.Equal(t, []string{"documenter"}, got.Roles, "roles capped at agent count")
}

func TestAggregate_SkipsInvalid(t *testing.T) {
	evals := []*models.ComplexityEvaluation{
		nil,
		{Tier: "huge", Confidence: 0.5},
		{Tier: models.TierMedium, Confidence: 3},
		eval("ok", models.TierMedium, 3, 0.7, []string{"backend"}, nil),
	}
	got, err := Aggregate(evals, models.DefaultTierBounds())
	require.NoError(t, err)
	assert.Equal(t, models.TierMedium, got.Tier)
	assert.Len(t, got.Violations, 3)
	assert.Len(t, got.Votes, 1)
}

func TestAggregate_SkipsNonFiniteConfidence(t *testing.T) {
	evals := []*models.ComplexityEvaluation{
		eval("nan", models.TierSimple, 1, math.NaN(), nil, nil),
		eval("a", models.TierComplex, 6, 0.9, nil, nil),
		eval("b", models.TierComplex, 6, 0.8, nil, nil),
	}
	got, err := Aggregate(evals, models.DefaultTierBounds())
	require.NoError(t, err)
	assert.Equal(t, models.TierComplex, got.Tier)
	assert.Equal(t, 6, got.AgentCount)
	assert.False(t, math.IsNaN(got.Confidence))
	assert.Len(t, got.Violations, 1)
	assert.Len(t, got.Votes, 2)
}

func TestAggregate_NoUsable(t *testing.T) {
	_, err := Aggregate(nil, models.DefaultTierBounds())
	assert.ErrorIs(t, err, ErrNoEvaluations)

	got, err := Aggregate([]*models.ComplexityEvaluation{nil}, models.DefaultTierBounds())
	assert.ErrorIs(t, err, ErrNoEvaluations)
	assert.Len(t, got.Violations, 1)
}

func TestAggregate_ZeroConfidenceUsesPlainAverage(t *testing.T) {
	evals := []*models.ComplexityEvaluation{
		eval("a", models.TierMedium, 2, 0, nil, nil),
		eval("b", models.TierMedium, 4, 0, nil, nil),
	}
	got, err := Aggregate(evals, models.DefaultTierBounds())
	require.NoError(t, err)
	assert.Equal(t, 3, got.AgentCount)
	assert.Equal(t, 0.0, got.Confidence)
}

func TestAggregate_DomainFallbackToHeaviest(t *testing.T) {
	evals := []*models.ComplexityEvaluation{
		eval("a", models.TierMedium, 2, 0.3, nil, []string{"web"}),
		eval("b", models.TierMedium, 2, 0.4, nil, []string{"database"}),
		eval("c", models.TierMedium, 2, 0.35, nil, []string{"api"}),
	}
	got, err := Aggregate(evals, models.DefaultTierBounds())
	require.NoError(t, err)
	assert.Equal(t, []string{"database"}, got.Domains)
}

var (
	tierGen    = rapid.SampledFrom(models.AllTiers)
	roleGen    = rapid.SampledFrom([]string{"architect", "backend", "frontend", "tester", "reviewer"})
	domainGen  = rapid.SampledFrom([]string{"api", "web", "database", "security"})
	patternGen = rapid.SampledFrom(append([]models.WorkflowPattern{""}, models.AllPatterns...))
)

func genEval(rt *rapid.T) *models.ComplexityEvaluation {
	return &models.ComplexityEvaluation{
		Source:     rapid.SampledFrom([]string{"keyword", "scope", "llm"}).Draw(rt, "source"),
		Tier:       tierGen.Draw(rt, "tier"),
		AgentCount: rapid.IntRange(0, 20).Draw(rt, "count"),
		Roles:      rapid.SliceOfN(roleGen, 0, 4).Draw(rt, "roles"),
		Domains:    rapid.SliceOfN(domainGen, 0, 3).Draw(rt, "domains"),
		Pattern:    patternGen.Draw(rt, "pattern"),
		Confidence: float64(rapid.IntRange(0, 20).Draw(rt, "conf")) / 20,
	}
}

func TestAggregate_CanonicalOrderIndependent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(rt, "n")
		evals := make([]*models.ComplexityEvaluation, n)
		for i := range evals {
			evals[i] = genEval(rt)
		}
		shuffled := rapid.Permutation(evals).Draw(rt, "perm")

		a, errA := Aggregate(Canonical(evals), models.DefaultTierBounds())
		b, errB := Aggregate(Canonical(shuffled), models.DefaultTierBounds())
		if errA != nil || errB != nil {
			rt.Fatalf("unexpected errors %v %v", errA, errB)
		}
		if a.Tier != b.Tier || a.Pattern != b.Pattern || a.Quality != b.Quality || a.AgentCount != b.AgentCount {
			rt.Fatalf("order changed result: %+v vs %+v", a, b)
		}
		if a.Summary != b.Summary {
			rt.Fatalf("summary differs: %q vs %q", a.Summary, b.Summary)
		}
	})
}

func TestAggregate_AgentCountWithinBounds(t *testing.T) {
	bounds := models.DefaultTierBounds()
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(rt, "n")
		evals := make([]*models.ComplexityEvaluation, n)
		for i := range evals {
			evals[i] = genEval(rt)
		}
		got, err := Aggregate(evals, bounds)
		if err != nil {
			rt.Fatalf("Aggregate: %v", err)
		}
		if !bounds.For(got.Tier).Contains(got.AgentCount) {
			rt.Fatalf("agent count %d outside %s bounds %+v", got.AgentCount, got.Tier, bounds.For(got.Tier))
		}
		if got.Confidence < 0 || got.Confidence > 1 {
			rt.Fatalf("confidence %v out of range", got.Confidence)
		}
	})
}
