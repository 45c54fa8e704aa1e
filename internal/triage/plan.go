package triage

import (
	"github.com/ShayCichocki/hive/internal/catalog"
	"github.com/ShayCichocki/hive/pkg/models"
)

// fallbackRole is used when a consensus carries no roles.
const fallbackRole = "backend"

// MinimalPlan builds the single-agent plan used when triage does not escalate.
func MinimalPlan(req models.Request, r models.ConsensusResult) models.OrchestrationPlan {
	role := fallbackRole
	if len(r.Roles) > 0 {
		role = r.Roles[0]
	}
	domains := []string{catalog.GeneralDomain}
	if len(r.Domains) > 0 {
		domains = []string{r.Domains[0]}
	}

	return models.OrchestrationPlan{
		Background: r.Summary,
		Requests: []models.AgentRequest{{
			Instruction: req.Task(),
			Compose: models.Compose{
				Role:    role,
				Domains: domains,
			},
			AnalysisHint: "Single-agent task; complete it directly without decomposition.",
			Required:     true,
		}},
		Strategy: models.StrategyParallel,
	}
}
