package triage

import (
	"context"
	"strings"

	"github.com/ShayCichocki/hive/internal/catalog"
	"github.com/ShayCichocki/hive/internal/consensus"
	"github.com/ShayCichocki/hive/internal/textsim"
	"github.com/ShayCichocki/hive/pkg/models"
)

// TierKeywords maps each non-default tier to the words that indicate it.
// Medium is the default and has no keywords.
type TierKeywords struct {
	// Simple keywords indicate single-agent fixes that need no decomposition.
	Simple []string
	// Complex keywords indicate work touching design, data or security.
	Complex []string
	// VeryComplex keywords indicate system-level work needing a full team.
	VeryComplex []string
}

// DefaultTierKeywords returns the built-in keyword mappings.
var DefaultTierKeywords = TierKeywords{
	Simple: []string{
		"typo",
		"rename",
		"fix typo",
		"formatting",
		"comment",
		"readme",
		"spelling",
		"docs",
		"bump",
	},

	Complex: []string{
		"refactor",
		"redesign",
		"architect",
		"migrate",
		"migration",
		"rewrite",
		"overhaul",
		"restructure",
		"auth",
		"authentication",
		"security",
		"infra",
		"infrastructure",
		"schema",
		"database",
		"concurrency",
		"integration",
	},

	VeryComplex: []string{
		"distributed",
		"consensus",
		"byzantine",
		"fault tolerance",
		"fault tolerant",
		"from scratch",
		"end-to-end platform",
		"microservices",
		"multi-region",
		"compiler",
		"replication",
	},
}

// Confidence assigned by the keyword rater per match class.
const (
	confidenceVeryComplex = 0.85
	confidenceComplex     = 0.85
	confidenceSimple      = 0.80
	confidenceDefault     = 0.60
)

// keywordAgents is the team size the keyword rater recommends per tier.
var keywordAgents = map[models.Tier]int{
	models.TierSimple:      1,
	models.TierMedium:      3,
	models.TierComplex:     6,
	models.TierVeryComplex: 11,
}

// Classification is a keyword tier match with its confidence.
type Classification struct {
	Tier           models.Tier
	Confidence     float64
	Reason         string
	MatchedKeyword string
}

// Classify selects a tier from keywords. The most complex matching tier wins;
// medium is the default with lower confidence. Single words match whole
// tokens so "auth" does not fire on "author"; phrases match as substrings.
func (k TierKeywords) Classify(text string) Classification {
	lower := strings.ToLower(text)
	tokens := textsim.NewSet(textsim.Keywords(text)...)

	match := func(words []string) string {
		for _, kw := range words {
			kw = strings.ToLower(kw)
			if strings.ContainsAny(kw, " -") {
				if strings.Contains(lower, kw) {
					return kw
				}
				continue
			}
			if tokens.Has(kw) {
				return kw
			}
		}
		return ""
	}

	if kw := match(k.VeryComplex); kw != "" {
		return Classification{Tier: models.TierVeryComplex, Confidence: confidenceVeryComplex, Reason: "matched very_complex keyword", MatchedKeyword: kw}
	}
	if kw := match(k.Complex); kw != "" {
		return Classification{Tier: models.TierComplex, Confidence: confidenceComplex, Reason: "matched complex keyword", MatchedKeyword: kw}
	}
	if kw := match(k.Simple); kw != "" {
		return Classification{Tier: models.TierSimple, Confidence: confidenceSimple, Reason: "matched simple keyword", MatchedKeyword: kw}
	}
	return Classification{Tier: models.TierMedium, Confidence: confidenceDefault, Reason: "no keyword match, defaulting to medium"}
}

// KeywordRater rates requests from tier keywords and the role/domain
// catalogue. It is deterministic and never blocks, which makes it the
// fallback when raters miss quorum.
type KeywordRater struct {
	keywords TierKeywords
	catalog  *catalog.Catalog
	bounds   models.TierBounds
}

// NewKeywordRater creates a KeywordRater. A nil catalogue uses the default.
func NewKeywordRater(kw TierKeywords, cat *catalog.Catalog, bounds models.TierBounds) *KeywordRater {
	if cat == nil {
		cat = catalog.Default()
	}
	if bounds == nil {
		bounds = models.DefaultTierBounds()
	}
	return &KeywordRater{keywords: kw, catalog: cat, bounds: bounds}
}

// Name implements Rater.
func (r *KeywordRater) Name() string { return "keyword" }

// Rate implements Rater.
func (r *KeywordRater) Rate(_ context.Context, req models.Request) (*models.ComplexityEvaluation, error) {
	return r.Evaluate(req), nil
}

// Evaluate is the synchronous form of Rate.
func (r *KeywordRater) Evaluate(req models.Request) *models.ComplexityEvaluation {
	c := r.keywords.Classify(req.Text())
	b := r.bounds.For(c.Tier)
	count := b.Clamp(keywordAgents[c.Tier])

	rules := []string{"keyword:" + string(c.Tier)}
	if c.MatchedKeyword != "" {
		rules = append(rules, "matched:"+c.MatchedKeyword)
	}

	return &models.ComplexityEvaluation{
		Source:       r.Name(),
		Tier:         c.Tier,
		AgentCount:   count,
		Roles:        catalog.Select(r.catalog.ScoreRoles(req.Text()), b.Min, count),
		Domains:      r.catalog.TopDomains(req.Text(), catalog.DomainCap(c.Tier)),
		Pattern:      consensus.DefaultPattern(c.Tier),
		Quality:      consensus.DefaultQuality(c.Tier),
		Confidence:   c.Confidence,
		RulesApplied: rules,
		Reasoning:    c.Reason,
	}
}
