package triage

import (
	"context"
	"fmt"
	"strings"

	"github.com/ShayCichocki/hive/internal/catalog"
	"github.com/ShayCichocki/hive/internal/consensus"
	"github.com/ShayCichocki/hive/internal/textsim"
	"github.com/ShayCichocki/hive/pkg/models"
)

// actionVerbs are verbs that each add a unit of work to a request.
var actionVerbs = textsim.NewSet(
	"implement", "design", "build", "create", "add", "write", "test",
	"deploy", "migrate", "integrate", "refactor", "fix", "update",
	"document", "optimize", "secure", "remove", "replace", "support",
	"benchmark", "review", "configure",
)

// hardSignals are words that mark a request as intrinsically hard.
var hardSignals = textsim.NewSet(
	"distributed", "consensus", "byzantine", "fault", "concurrent",
	"concurrency", "scalable", "protocol", "security", "migration",
	"architecture", "realtime", "transactional", "replication",
)

const (
	maxHardSignals  = 3
	scopeConfidence = 0.6
)

// scopeAgents is the team size the scope rater recommends per tier.
var scopeAgents = map[models.Tier]int{
	models.TierSimple:      1,
	models.TierMedium:      3,
	models.TierComplex:     6,
	models.TierVeryComplex: 10,
}

// ScopeRater estimates complexity from how much a request asks for: the
// number of action verbs, the number of domains touched, intrinsic
// difficulty signals and the length of the request.
type ScopeRater struct {
	catalog *catalog.Catalog
	bounds  models.TierBounds
}

// NewScopeRater creates a ScopeRater. A nil catalogue uses the default.
func NewScopeRater(cat *catalog.Catalog, bounds models.TierBounds) *ScopeRater {
	if cat == nil {
		cat = catalog.Default()
	}
	if bounds == nil {
		bounds = models.DefaultTierBounds()
	}
	return &ScopeRater{catalog: cat, bounds: bounds}
}

// Name implements Rater.
func (r *ScopeRater) Name() string { return "scope" }

// Rate implements Rater.
func (r *ScopeRater) Rate(_ context.Context, req models.Request) (*models.ComplexityEvaluation, error) {
	text := req.Text()
	words := textsim.Keywords(text)

	verbs, signals := 0, 0
	for _, w := range words {
		if actionVerbs.Has(w) {
			verbs++
		}
		if hardSignals.Has(w) && signals < maxHardSignals {
			signals++
		}
	}

	domains := 0
	for _, d := range catalog.Matched(r.catalog.ScoreDomains(text)) {
		if d != catalog.GeneralDomain {
			domains++
		}
	}

	length := lengthBucket(len(strings.Fields(req.Task())))
	score := verbs + domains + signals + length
	tier := scopeTier(score)
	b := r.bounds.For(tier)
	count := b.Clamp(scopeAgents[tier])

	return &models.ComplexityEvaluation{
		Source:     r.Name(),
		Tier:       tier,
		AgentCount: count,
		Roles:      catalog.Select(r.catalog.ScoreRoles(text), b.Min, count),
		Domains:    r.catalog.TopDomains(text, catalog.DomainCap(tier)),
		Pattern:    scopePattern(verbs, tier),
		Quality:    consensus.DefaultQuality(tier),
		Confidence: scopeConfidence,
		RulesApplied: []string{
			fmt.Sprintf("verbs:%d", verbs),
			fmt.Sprintf("domains:%d", domains),
			fmt.Sprintf("signals:%d", signals),
			fmt.Sprintf("length:%d", length),
		},
		Reasoning: fmt.Sprintf("scope score %d", score),
	}, nil
}

func lengthBucket(words int) int {
	switch {
	case words < 8:
		return 0
	case words < 20:
		return 1
	case words < 40:
		return 2
	default:
		return 3
	}
}

func scopeTier(score int) models.Tier {
	switch {
	case score <= 2:
		return models.TierSimple
	case score <= 4:
		return models.TierMedium
	case score <= 6:
		return models.TierComplex
	default:
		return models.TierVeryComplex
	}
}

// scopePattern prefers a pipeline when the request lists several steps.
func scopePattern(verbs int, t models.Tier) models.WorkflowPattern {
	if verbs >= 3 && t != models.TierSimple {
		return models.PatternPipeline
	}
	return consensus.DefaultPattern(t)
}
