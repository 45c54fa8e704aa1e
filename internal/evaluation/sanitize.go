package evaluation

import (
	"fmt"
	"math"
	"strings"

	"github.com/ShayCichocki/hive/internal/catalog"
	"github.com/ShayCichocki/hive/pkg/models"
)

// Confidence multipliers applied for each class of defect.
const (
	penaltyConfidenceRange = 0.5
	penaltyMissingCount    = 0.8
	penaltyUnknownEntries  = 0.9
	penaltyBadPattern      = 0.9
	penaltyBadQuality      = 0.9
)

// Sanitize repairs what it can in an evaluation and lowers its confidence for
// each defect. It returns nil when the evaluation is unusable: nil input or a
// tier that cannot be recognized. Every repair or rejection is reported.
// The input is never modified.
func Sanitize(e *models.ComplexityEvaluation, cat *catalog.Catalog, bounds models.TierBounds) (*models.ComplexityEvaluation, []string) {
	if e == nil {
		return nil, []string{"evaluation missing"}
	}

	var violations []string
	out := *e
	out.Roles = nil
	out.Domains = nil
	out.RulesApplied = append([]string(nil), e.RulesApplied...)

	if !out.Tier.Valid() {
		t, err := models.ParseTier(string(out.Tier))
		if err != nil {
			return nil, []string{fmt.Sprintf("%s: unusable tier %q", source(e), e.Tier)}
		}
		out.Tier = t
	}

	if math.IsNaN(out.Confidence) || out.Confidence < 0 || out.Confidence > 1 {
		violations = append(violations, fmt.Sprintf("%s: confidence %v out of range", source(e), out.Confidence))
		out.Confidence = clamp01(out.Confidence) * penaltyConfidenceRange
	}

	if out.AgentCount <= 0 {
		violations = append(violations, fmt.Sprintf("%s: missing agent count", source(e)))
		out.AgentCount = bounds.For(out.Tier).Min
		out.Confidence *= penaltyMissingCount
	}

	seen := make(map[string]bool)
	unknown := 0
	for _, r := range e.Roles {
		name := normalize(r)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if !cat.HasRole(name) {
			unknown++
			continue
		}
		out.Roles = append(out.Roles, name)
	}
	seen = make(map[string]bool)
	for _, d := range e.Domains {
		name := normalize(d)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if !cat.HasDomain(name) {
			unknown++
			continue
		}
		out.Domains = append(out.Domains, name)
	}
	if unknown > 0 {
		violations = append(violations, fmt.Sprintf("%s: dropped %d unknown role/domain entries", source(e), unknown))
		out.Confidence *= penaltyUnknownEntries
	}

	if out.Pattern != "" && !out.Pattern.Valid() {
		if p, err := models.ParsePattern(string(out.Pattern)); err == nil {
			out.Pattern = p
		} else {
			violations = append(violations, fmt.Sprintf("%s: unknown workflow pattern %q", source(e), out.Pattern))
			out.Pattern = ""
			out.Confidence *= penaltyBadPattern
		}
	}
	if out.Quality != "" && !out.Quality.Valid() {
		if q, err := models.ParseQuality(string(out.Quality)); err == nil {
			out.Quality = q
		} else {
			violations = append(violations, fmt.Sprintf("%s: unknown quality level %q", source(e), out.Quality))
			out.Quality = ""
			out.Confidence *= penaltyBadQuality
		}
	}

	return &out, violations
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}

func source(e *models.ComplexityEvaluation) string {
	if e.Source == "" {
		return "evaluator"
	}
	return e.Source
}

// clamp01 maps NaN to zero.
func clamp01(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
