package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
)

// WorkflowPattern is the coordination shape a team of agents should use.
type WorkflowPattern string

const (
	// PatternFanOut runs independent agents side by side.
	PatternFanOut WorkflowPattern = "fan_out"
	// PatternPipeline hands work from one agent to the next.
	PatternPipeline WorkflowPattern = "pipeline"
	// PatternConsensus has several agents attack the same problem and reconcile.
	PatternConsensus WorkflowPattern = "consensus"
	// PatternHierarchical has a lead agent coordinating specialists.
	PatternHierarchical WorkflowPattern = "hierarchical"
)

// AllPatterns lists the workflow patterns in catalogue order.
var AllPatterns = []WorkflowPattern{PatternFanOut, PatternPipeline, PatternConsensus, PatternHierarchical}

// Valid returns true if the pattern is a known value.
func (p WorkflowPattern) Valid() bool {
	switch p {
	case PatternFanOut, PatternPipeline, PatternConsensus, PatternHierarchical:
		return true
	default:
		return false
	}
}

// ParsePattern accepts canonical names plus "fan-out", "parallel" and "sequential".
func ParsePattern(s string) (WorkflowPattern, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	switch norm {
	case "fan_out", "fanout", "parallel":
		return PatternFanOut, nil
	case "pipeline", "sequential", "chain":
		return PatternPipeline, nil
	case "consensus", "debate", "vote":
		return PatternConsensus, nil
	case "hierarchical", "hierarchy", "lead":
		return PatternHierarchical, nil
	default:
		return "", fmt.Errorf("unknown workflow pattern %q", s)
	}
}

// QualityLevel is how much rigor a request's output needs.
type QualityLevel string

const (
	QualityBasic    QualityLevel = "basic"
	QualityStandard QualityLevel = "standard"
	QualityHigh     QualityLevel = "high"
	QualityCritical QualityLevel = "critical"
)

// Valid returns true if the quality level is a known value.
func (q QualityLevel) Valid() bool {
	switch q {
	case QualityBasic, QualityStandard, QualityHigh, QualityCritical:
		return true
	default:
		return false
	}
}

// ParseQuality converts free text into a QualityLevel.
func ParseQuality(s string) (QualityLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "basic", "low", "draft":
		return QualityBasic, nil
	case "standard", "normal", "medium":
		return QualityStandard, nil
	case "high", "thorough":
		return QualityHigh, nil
	case "critical", "production", "maximum":
		return QualityCritical, nil
	default:
		return "", fmt.Errorf("unknown quality level %q", s)
	}
}

// ComplexityEvaluation is one rater's judgment of a request.
type ComplexityEvaluation struct {
	// Source names the rater that produced the evaluation.
	Source string `json:"source"`
	// Tier is the rated complexity.
	Tier Tier `json:"tier"`
	// AgentCount is the total number of agents the rater recommends.
	AgentCount int `json:"agent_count"`
	// Roles are the recommended roles, most important first.
	Roles []string `json:"roles"`
	// Domains are the primary domains the request touches.
	Domains []string `json:"domains"`
	// Pattern is the recommended workflow shape.
	Pattern WorkflowPattern `json:"workflow_pattern"`
	// Quality is the recommended rigor level.
	Quality QualityLevel `json:"quality_level"`
	// Confidence is the rater's confidence in [0, 1].
	Confidence float64 `json:"confidence"`
	// RulesApplied lists the heuristics that fired.
	RulesApplied []string `json:"rules_applied,omitempty"`
	// Reasoning is free text from the rater.
	Reasoning string `json:"reasoning,omitempty"`
}

// Validate reports the first structural problem with the evaluation.
func (e *ComplexityEvaluation) Validate() error {
	if e == nil {
		return fmt.Errorf("evaluation is nil")
	}
	if !e.Tier.Valid() {
		return fmt.Errorf("invalid tier %q", e.Tier)
	}
	if math.IsNaN(e.Confidence) || e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range [0,1]", e.Confidence)
	}
	if e.AgentCount < 0 {
		return fmt.Errorf("negative agent count %d", e.AgentCount)
	}
	return nil
}

// Fingerprint is a stable digest of the evaluation's content. Consensus
// sorts by it so the recorded order does not depend on arrival order.
func (e *ComplexityEvaluation) Fingerprint() string {
	domains := append([]string(nil), e.Domains...)
	sort.Strings(domains)
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%s|%s|%.6f|%s|%s|%s",
		e.Tier, e.AgentCount,
		strings.Join(e.Roles, ","), strings.Join(domains, ","),
		e.Pattern, e.Confidence, e.Quality, e.Source, e.Reasoning)
	return hex.EncodeToString(h.Sum(nil))
}

// Vote records how one evaluation participated in a consensus.
type Vote struct {
	Source     string  `json:"source"`
	Tier       Tier    `json:"tier"`
	AgentCount int     `json:"agent_count"`
	Confidence float64 `json:"confidence"`
}

// ConsensusResult aggregates several evaluations into one decision.
type ConsensusResult struct {
	Tier          Tier            `json:"tier"`
	AgentCount    int             `json:"agent_count"`
	Roles         []string        `json:"roles"`
	Domains       []string        `json:"domains"`
	Pattern       WorkflowPattern `json:"workflow_pattern"`
	Quality       QualityLevel    `json:"quality_level"`
	Confidence    float64         `json:"confidence"`
	LowConfidence bool            `json:"low_confidence"`
	// Votes are the participating evaluations in recorded order.
	Votes []Vote `json:"votes"`
	// Summary is a human-readable description of the decision.
	Summary string `json:"summary"`
	// Violations records evaluations that were skipped and why, plus
	// quorum shortfalls.
	Violations []string `json:"violations,omitempty"`
}
