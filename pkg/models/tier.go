package models

import (
	"fmt"
	"strings"
)

// Tier is the ordinal complexity classification of a request.
type Tier string

const (
	// TierSimple is a single-agent request with no decomposition.
	TierSimple Tier = "simple"
	// TierMedium is a small team request.
	TierMedium Tier = "medium"
	// TierComplex needs a planned, multi-role team.
	TierComplex Tier = "complex"
	// TierVeryComplex needs the largest team the engine allows.
	TierVeryComplex Tier = "very_complex"
)

// AllTiers lists the tiers in ascending order.
var AllTiers = []Tier{TierSimple, TierMedium, TierComplex, TierVeryComplex}

// Valid returns true if the tier is a known value.
func (t Tier) Valid() bool {
	switch t {
	case TierSimple, TierMedium, TierComplex, TierVeryComplex:
		return true
	default:
		return false
	}
}

// Rank returns the ordinal position of the tier (simple=0). Unknown tiers rank -1.
func (t Tier) Rank() int {
	switch t {
	case TierSimple:
		return 0
	case TierMedium:
		return 1
	case TierComplex:
		return 2
	case TierVeryComplex:
		return 3
	default:
		return -1
	}
}

// AtLeast reports whether t is the same as or more complex than other.
func (t Tier) AtLeast(other Tier) bool {
	return t.Rank() >= other.Rank()
}

// ParseTier converts free text into a Tier. It accepts the canonical
// values plus the common spellings raters produce ("very-complex",
// "Very Complex", "low", "high").
func ParseTier(s string) (Tier, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	switch norm {
	case "simple", "trivial", "low", "easy":
		return TierSimple, nil
	case "medium", "moderate", "normal":
		return TierMedium, nil
	case "complex", "high", "hard":
		return TierComplex, nil
	case "very_complex", "verycomplex", "critical", "very_high", "extreme":
		return TierVeryComplex, nil
	default:
		return "", fmt.Errorf("unknown tier %q", s)
	}
}

// AgentBounds is the inclusive agent-count range a tier allows.
type AgentBounds struct {
	Min int `mapstructure:"min" yaml:"min"`
	Max int `mapstructure:"max" yaml:"max"`
}

// Clamp forces n into [Min, Max].
func (b AgentBounds) Clamp(n int) int {
	if n < b.Min {
		return b.Min
	}
	if n > b.Max {
		return b.Max
	}
	return n
}

// Contains reports whether n lies within the bounds.
func (b AgentBounds) Contains(n int) bool {
	return n >= b.Min && n <= b.Max
}

// TierBounds maps each tier to its agent-count range.
type TierBounds map[Tier]AgentBounds

// DefaultTierBounds returns the built-in agent-count ranges.
func DefaultTierBounds() TierBounds {
	return TierBounds{
		TierSimple:      {Min: 1, Max: 1},
		TierMedium:      {Min: 2, Max: 4},
		TierComplex:     {Min: 4, Max: 8},
		TierVeryComplex: {Min: 8, Max: 12},
	}
}

// For returns the bounds for a tier, falling back to the defaults for
// tiers missing from the map.
func (tb TierBounds) For(t Tier) AgentBounds {
	if b, ok := tb[t]; ok && b.Max > 0 {
		return b
	}
	if b, ok := DefaultTierBounds()[t]; ok {
		return b
	}
	return AgentBounds{Min: 1, Max: 1}
}
