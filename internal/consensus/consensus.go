// Package consensus aggregates independent complexity evaluations into a
// single decision by confidence-weighted voting.
package consensus

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ShayCichocki/hive/pkg/models"
)

// ErrNoEvaluations is returned when no usable evaluation was supplied.
var ErrNoEvaluations = errors.New("no usable evaluations")

// domainShare is the minimum confidence-weighted share a domain needs to be
// kept in the consensus.
const domainShare = 0.5

const epsilon = 1e-9

// Aggregate combines evaluations in the order given. Categorical fields are
// decided by confidence-weighted majority; ties go to the candidate with the
// highest single confidence, then to the one voted for earliest. The agent
// count is the confidence-weighted mean clamped to the winning tier's bounds.
// Invalid evaluations are skipped and recorded in Violations.
func Aggregate(evals []*models.ComplexityEvaluation, bounds models.TierBounds) (models.ConsensusResult, error) {
	var (
		usable     []*models.ComplexityEvaluation
		violations []string
	)
	for i, e := range evals {
		if err := e.Validate(); err != nil {
			violations = append(violations, fmt.Sprintf("evaluation %d skipped: %v", i, err))
			continue
		}
		usable = append(usable, e)
	}
	if len(usable) == 0 {
		return models.ConsensusResult{Violations: violations}, ErrNoEvaluations
	}

	tier, tierWeight, totalWeight := vote(usable, func(e *models.ComplexityEvaluation) (models.Tier, bool) {
		return e.Tier, true
	})
	pattern, _, _ := vote(usable, func(e *models.ComplexityEvaluation) (models.WorkflowPattern, bool) {
		return e.Pattern, e.Pattern.Valid()
	})
	if pattern == "" {
		pattern = DefaultPattern(tier)
	}
	quality, _, _ := vote(usable, func(e *models.ComplexityEvaluation) (models.QualityLevel, bool) {
		return e.Quality, e.Quality.Valid()
	})
	if quality == "" {
		quality = DefaultQuality(tier)
	}

	tb := bounds.For(tier)
	count := tb.Clamp(weightedCount(usable, tb))

	roles := rankRoles(usable)
	if len(roles) > count {
		roles = roles[:count]
	}

	agreement := float64(len(filter(usable, tier))) / float64(len(usable))
	if totalWeight > epsilon {
		agreement = tierWeight / totalWeight
	}
	confidence := round4(meanConfidence(usable) * agreement)

	votes := make([]models.Vote, len(usable))
	for i, e := range usable {
		votes[i] = models.Vote{Source: e.Source, Tier: e.Tier, AgentCount: e.AgentCount, Confidence: e.Confidence}
	}

	result := models.ConsensusResult{
		Tier:       tier,
		AgentCount: count,
		Roles:      roles,
		Domains:    selectDomains(usable),
		Pattern:    pattern,
		Quality:    quality,
		Confidence: confidence,
		Votes:      votes,
		Violations: violations,
	}
	result.Summary = Summarize(result)
	return result, nil
}

// Summarize renders a one-line human readable description of a result.
func Summarize(r models.ConsensusResult) string {
	domains := "none"
	if len(r.Domains) > 0 {
		domains = strings.Join(r.Domains, ", ")
	}
	roles := "none"
	if len(r.Roles) > 0 {
		roles = strings.Join(r.Roles, ", ")
	}
	s := fmt.Sprintf("%s tier, %d agent(s) [%s] across %s using %s with %s quality; confidence %.2f from %d evaluation(s)",
		r.Tier, r.AgentCount, roles, domains, r.Pattern, r.Quality, r.Confidence, len(r.Votes))
	if r.LowConfidence {
		s += " (low confidence)"
	}
	return s
}

// DefaultPattern is the workflow used when no evaluation names one.
func DefaultPattern(t models.Tier) models.WorkflowPattern {
	switch t {
	case models.TierSimple:
		return models.PatternFanOut
	case models.TierMedium:
		return models.PatternPipeline
	case models.TierComplex, models.TierVeryComplex:
		return models.PatternHierarchical
	default:
		return models.PatternFanOut
	}
}

// DefaultQuality is the quality level used when no evaluation names one.
func DefaultQuality(t models.Tier) models.QualityLevel {
	switch t {
	case models.TierSimple:
		return models.QualityBasic
	case models.TierMedium:
		return models.QualityStandard
	case models.TierComplex:
		return models.QualityHigh
	case models.TierVeryComplex:
		return models.QualityCritical
	default:
		return models.QualityStandard
	}
}

type tally struct {
	weight  float64
	maxConf float64
	first   int
}

// vote runs a confidence-weighted majority over the key extracted from each
// evaluation. It returns the winner, its weight and the total weight cast.
func vote[K comparable](evals []*models.ComplexityEvaluation, key func(*models.ComplexityEvaluation) (K, bool)) (K, float64, float64) {
	tallies := make(map[K]*tally)
	var order []K
	total := 0.0
	for i, e := range evals {
		k, ok := key(e)
		if !ok {
			continue
		}
		t, seen := tallies[k]
		if !seen {
			t = &tally{first: i}
			tallies[k] = t
			order = append(order, k)
		}
		t.weight += e.Confidence
		if e.Confidence > t.maxConf {
			t.maxConf = e.Confidence
		}
		total += e.Confidence
	}

	var (
		winner K
		best   *tally
	)
	for _, k := range order {
		t := tallies[k]
		if best == nil || beats(t, best) {
			winner, best = k, t
		}
	}
	if best == nil {
		return winner, 0, 0
	}
	return winner, best.weight, total
}

func beats(a, b *tally) bool {
	if math.Abs(a.weight-b.weight) > epsilon {
		return a.weight > b.weight
	}
	if math.Abs(a.maxConf-b.maxConf) > epsilon {
		return a.maxConf > b.maxConf
	}
	return a.first < b.first
}

func filter(evals []*models.ComplexityEvaluation, tier models.Tier) []*models.ComplexityEvaluation {
	var out []*models.ComplexityEvaluation
	for _, e := range evals {
		if e.Tier == tier {
			out = append(out, e)
		}
	}
	return out
}

// weightedCount averages positive agent counts by confidence. With no
// positive counts it falls back to the tier minimum.
func weightedCount(evals []*models.ComplexityEvaluation, b models.AgentBounds) int {
	var sum, weight, plain float64
	n := 0
	for _, e := range evals {
		if e.AgentCount <= 0 {
			continue
		}
		sum += float64(e.AgentCount) * e.Confidence
		weight += e.Confidence
		plain += float64(e.AgentCount)
		n++
	}
	switch {
	case n == 0:
		return b.Min
	case weight <= epsilon:
		return int(math.Round(plain / float64(n)))
	default:
		return int(math.Round(sum / weight))
	}
}

func meanConfidence(evals []*models.ComplexityEvaluation) float64 {
	sum := 0.0
	for _, e := range evals {
		sum += e.Confidence
	}
	return sum / float64(len(evals))
}

type roleRank struct {
	name    string
	freq    int
	conf    float64
	bestPos int
}

// rankRoles orders roles by how many evaluations named them, then by summed
// confidence, then by best position in any list, then by name.
func rankRoles(evals []*models.ComplexityEvaluation) []string {
	ranks := make(map[string]*roleRank)
	for _, e := range evals {
		seen := make(map[string]bool, len(e.Roles))
		for pos, raw := range e.Roles {
			role := strings.ToLower(strings.TrimSpace(raw))
			if role == "" || seen[role] {
				continue
			}
			seen[role] = true
			r, ok := ranks[role]
			if !ok {
				r = &roleRank{name: role, bestPos: pos}
				ranks[role] = r
			}
			r.freq++
			r.conf += e.Confidence
			if pos < r.bestPos {
				r.bestPos = pos
			}
		}
	}

	list := make([]*roleRank, 0, len(ranks))
	for _, r := range ranks {
		list = append(list, r)
	}
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.freq != b.freq {
			return a.freq > b.freq
		}
		if math.Abs(a.conf-b.conf) > epsilon {
			return a.conf > b.conf
		}
		if a.bestPos != b.bestPos {
			return a.bestPos < b.bestPos
		}
		return a.name < b.name
	})

	out := make([]string, len(list))
	for i, r := range list {
		out[i] = r.name
	}
	return out
}

// selectDomains keeps domains backed by at least half the cast confidence.
// When none qualifies the single heaviest domain is kept.
func selectDomains(evals []*models.ComplexityEvaluation) []string {
	weights := make(map[string]float64)
	total := 0.0
	for _, e := range evals {
		total += e.Confidence
		seen := make(map[string]bool, len(e.Domains))
		for _, raw := range e.Domains {
			d := strings.ToLower(strings.TrimSpace(raw))
			if d == "" || seen[d] {
				continue
			}
			seen[d] = true
			weights[d] += e.Confidence
		}
	}
	if len(weights) == 0 {
		return nil
	}

	names := make([]string, 0, len(weights))
	for d := range weights {
		names = append(names, d)
	}
	sort.Slice(names, func(i, j int) bool {
		if math.Abs(weights[names[i]]-weights[names[j]]) > epsilon {
			return weights[names[i]] > weights[names[j]]
		}
		return names[i] < names[j]
	})

	if total <= epsilon {
		return names[:1]
	}
	var kept []string
	for _, d := range names {
		if weights[d]/total+epsilon >= domainShare {
			kept = append(kept, d)
		}
	}
	if len(kept) == 0 {
		kept = names[:1]
	}
	return kept
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}

// Canonical returns the evaluations sorted by fingerprint so that the same
// set always aggregates in the same recorded order. Nil entries sort first
// and are left for Aggregate to reject.
func Canonical(evals []*models.ComplexityEvaluation) []*models.ComplexityEvaluation {
	out := append([]*models.ComplexityEvaluation(nil), evals...)
	keys := make(map[*models.ComplexityEvaluation]string, len(out))
	for _, e := range out {
		if e != nil {
			keys[e] = e.Fingerprint()
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return keys[out[i]] < keys[out[j]]
	})
	return out
}
