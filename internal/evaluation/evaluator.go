// Package evaluation defines the contract for external complexity and plan
// evaluators and the rules for tolerating their partial output.
package evaluation

import (
	"context"
	"fmt"
	"strings"

	"github.com/ShayCichocki/hive/internal/catalog"
	"github.com/ShayCichocki/hive/pkg/models"
)

// Kind selects which schema an evaluator is asked to fill.
type Kind string

const (
	// KindComplexity asks for a triage-level judgment.
	KindComplexity Kind = "complexity"
	// KindPlan asks for a full team composition.
	KindPlan Kind = "plan"
)

// Evaluator renders a request into a prompt for an external collaborator and
// returns its structured judgment. Implementations return whatever they
// could parse; callers run Sanitize before trusting the result.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, kind Kind, req models.Request) (*models.ComplexityEvaluation, error)
}

// Func adapts a function to the Evaluator interface.
type Func struct {
	ID string
	Fn func(ctx context.Context, kind Kind, req models.Request) (*models.ComplexityEvaluation, error)
}

// Name implements Evaluator.
func (f Func) Name() string { return f.ID }

// Evaluate implements Evaluator.
func (f Func) Evaluate(ctx context.Context, kind Kind, req models.Request) (*models.ComplexityEvaluation, error) {
	return f.Fn(ctx, kind, req)
}

const promptTemplate = `You are rating a software work request for a multi-agent engine.

Request: %s
%s
Answer with a single JSON object and nothing else:
{
  "tier": one of "simple", "medium", "complex", "very_complex",
  "agent_count": integer,
  "roles": ordered list chosen from [%s],
  "domains": list chosen from [%s],
  "workflow_pattern": one of "fan_out", "pipeline", "consensus", "hierarchical",
  "quality_level": one of "basic", "standard", "high", "critical",
  "confidence": number between 0 and 1,
  "reasoning": short string
}
%s`

// RenderPrompt builds the evaluator prompt for a request.
func RenderPrompt(kind Kind, req models.Request, cat *catalog.Catalog) string {
	var hints []string
	if req.StackHint() != "" {
		hints = append(hints, "Target stack: "+req.StackHint())
	}
	if req.TimeBudget() > 0 {
		hints = append(hints, "Time budget: "+req.TimeBudget().String())
	}
	if req.Mode() != models.ModeAuto {
		hints = append(hints, "Requested mode: "+string(req.Mode()))
	}
	hintText := ""
	if len(hints) > 0 {
		hintText = strings.Join(hints, "\n") + "\n"
	}

	domains := make([]string, 0, len(cat.Domains))
	for _, d := range cat.Domains {
		domains = append(domains, d.Name)
	}

	tail := "Agent counts: simple 1, medium 2-4, complex 4-8, very_complex 8-12."
	if kind == KindPlan {
		tail += "\nList one role per distinct responsibility, most important first. Pick the workflow pattern that best fits how the agents should hand off work."
	}

	return fmt.Sprintf(promptTemplate, req.Task(), hintText,
		strings.Join(cat.RoleNames(), ", "), strings.Join(domains, ", "), tail)
}
