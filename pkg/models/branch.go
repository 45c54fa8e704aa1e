package models

// Branch is one schedulable work unit created from an AgentRequest.
type Branch struct {
	// ID is the unique identifier for this branch.
	ID string `json:"id"`
	// Name is unique within the owning session, e.g. "backend_api_2".
	Name string `json:"name"`
	// Role is the agent role the branch plays.
	Role string `json:"role"`
	// Domain is the primary domain, empty when the request named none.
	Domain string `json:"domain,omitempty"`
	// Domains are all domains from the composition spec.
	Domains []string `json:"domains,omitempty"`
	// Instruction is the work the branch executes.
	Instruction string `json:"instruction"`
	// Context is background text prepended to the instruction.
	Context string `json:"context,omitempty"`
	// AnalysisHint is carried through from the plan.
	AnalysisHint string `json:"analysis_hint,omitempty"`
	// Required marks a branch whose failure fails the flow.
	Required bool `json:"required,omitempty"`
	// ClonedFrom is the source branch ID when this branch is a clone.
	ClonedFrom string `json:"cloned_from,omitempty"`
	// Handle is the backend's opaque reference, set on first execution.
	Handle string `json:"handle,omitempty"`
}

// Copy returns a value copy with no shared slices.
func (b Branch) Copy() Branch {
	b.Domains = append([]string(nil), b.Domains...)
	return b
}
