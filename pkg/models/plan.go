package models

import "fmt"

// ExecutionStrategy decides how plan requests are wired into the graph.
type ExecutionStrategy string

const (
	// StrategyParallel makes every request depend only on the root.
	StrategyParallel ExecutionStrategy = "parallel"
	// StrategySequential chains requests in plan order.
	StrategySequential ExecutionStrategy = "sequential"
	// StrategyHybrid takes dependencies from each request's DependsOn hints.
	StrategyHybrid ExecutionStrategy = "hybrid"
)

// Valid returns true if the strategy is a known value.
func (s ExecutionStrategy) Valid() bool {
	switch s {
	case StrategyParallel, StrategySequential, StrategyHybrid:
		return true
	default:
		return false
	}
}

// StrategyFor maps a workflow pattern to the execution strategy that realizes it.
func StrategyFor(p WorkflowPattern) ExecutionStrategy {
	switch p {
	case PatternPipeline:
		return StrategySequential
	case PatternConsensus, PatternHierarchical:
		return StrategyHybrid
	default:
		return StrategyParallel
	}
}

// Compose describes who a branch should be.
type Compose struct {
	Role    string   `json:"role"`
	Domains []string `json:"domains,omitempty"`
	Context string   `json:"context,omitempty"`
}

// AgentRequest is one unit of work in a plan.
type AgentRequest struct {
	// Instruction is what the branch is asked to do.
	Instruction string `json:"instruction"`
	// Compose is the role/domain composition of the branch.
	Compose Compose `json:"compose"`
	// AnalysisHint is an optional note on how to approach the work.
	AnalysisHint string `json:"analysis_hint,omitempty"`
	// DependsOn holds zero-based indexes of earlier requests in the same
	// plan. Only the hybrid strategy reads it.
	DependsOn []int `json:"depends_on,omitempty"`
	// Required marks a request whose failure fails the whole flow.
	Required bool `json:"required,omitempty"`
}

// OrchestrationPlan is the planner's output and the engine's input.
type OrchestrationPlan struct {
	Background string            `json:"background"`
	Requests   []AgentRequest    `json:"requests"`
	Strategy   ExecutionStrategy `json:"strategy"`
}

// Validate checks the strategy and that every hint names another request
// in the plan. Cycles among hints are left to the graph builder.
func (p *OrchestrationPlan) Validate() error {
	if !p.Strategy.Valid() {
		return fmt.Errorf("invalid execution strategy %q", p.Strategy)
	}
	for i, r := range p.Requests {
		if r.Instruction == "" {
			return fmt.Errorf("request %d has empty instruction", i)
		}
		for _, d := range r.DependsOn {
			if d < 0 || d >= len(p.Requests) || d == i {
				return fmt.Errorf("request %d has invalid dependency index %d", i, d)
			}
		}
	}
	return nil
}
