package planner

import (
	"fmt"

	"github.com/ShayCichocki/hive/internal/catalog"
	"github.com/ShayCichocki/hive/pkg/models"
)

// patternHints describe how each branch should approach its part.
var patternHints = map[models.WorkflowPattern]string{
	models.PatternFanOut:       "Work independently on your part; other agents cover the rest in parallel.",
	models.PatternPipeline:     "Build on the results of the previous stage and leave clear output for the next.",
	models.PatternConsensus:    "Produce an independent proposal; a final agent compares all proposals.",
	models.PatternHierarchical: "Follow the lead agent's design and keep to your area.",
}

// Compose lays out one agent request per agent in the consensus. Roles and
// domains are assigned round-robin; the strategy and dependency hints
// follow the workflow pattern.
func (p *Planner) Compose(req models.Request, r models.ConsensusResult) models.OrchestrationPlan {
	count := r.AgentCount
	if count < 1 {
		count = 1
	}
	roles := r.Roles
	if len(roles) == 0 {
		roles = p.SelectRoles(req, r.Tier)
	}
	if len(roles) == 0 {
		roles = []string{"backend"}
	}
	domains := r.Domains
	if len(domains) == 0 {
		domains = p.SelectDomains(req, r.Tier)
	}
	if len(domains) == 0 {
		domains = []string{catalog.GeneralDomain}
	}

	pattern := r.Pattern
	if !pattern.Valid() {
		pattern = models.PatternFanOut
	}

	requests := make([]models.AgentRequest, count)
	for i := range requests {
		role := roles[i%len(roles)]
		domain := domains[i%len(domains)]
		requests[i] = models.AgentRequest{
			Instruction:  instructionFor(req.Task(), pattern, role, domain, i, count),
			Compose:      models.Compose{Role: role, Domains: []string{domain}},
			AnalysisHint: patternHints[pattern],
		}
	}

	switch pattern {
	case models.PatternConsensus:
		if count > 1 {
			last := &requests[count-1]
			for i := 0; i < count-1; i++ {
				last.DependsOn = append(last.DependsOn, i)
			}
			last.Required = true
		}
	case models.PatternHierarchical:
		requests[0].Required = true
		for i := 1; i < count; i++ {
			requests[i].DependsOn = []int{0}
		}
	case models.PatternFanOut, models.PatternPipeline:
	}

	return models.OrchestrationPlan{
		Background: r.Summary,
		Requests:   requests,
		Strategy:   models.StrategyFor(pattern),
	}
}

func instructionFor(task string, pattern models.WorkflowPattern, role, domain string, i, n int) string {
	if n == 1 {
		return task
	}
	switch {
	case pattern == models.PatternPipeline:
		return fmt.Sprintf("%s\n\nStage %d of %d: as the %s agent, handle the %s work for this stage.", task, i+1, n, role, domain)
	case pattern == models.PatternConsensus && i == n-1:
		return fmt.Sprintf("%s\n\nAs the %s agent, compare the other agents' proposals and produce the final answer.", task, role)
	case pattern == models.PatternHierarchical && i == 0:
		return fmt.Sprintf("%s\n\nAs the lead %s agent, design the approach and split the work for the team.", task, role)
	default:
		return fmt.Sprintf("%s\n\nPart %d of %d: as the %s agent, handle the %s side of this work.", task, i+1, n, role, domain)
	}
}
