package planner

import (
	"testing"

	"github.com/ShayCichocki/hive/pkg/models"
)

func TestCompose_Strategies(t *testing.T) {
	p := New(nil)
	req := mustRequest(t, "build the billing api")
	base := models.ConsensusResult{
		Tier:       models.TierComplex,
		AgentCount: 4,
		Roles:      []string{"architect", "backend"},
		Domains:    []string{"api", "database"},
		Summary:    "complex billing work",
	}

	tests := []struct {
		pattern  models.WorkflowPattern
		strategy models.ExecutionStrategy
		deps     [][]int
		required []bool
	}{
		{models.PatternFanOut, models.StrategyParallel, [][]int{nil, nil, nil, nil}, []bool{false, false, false, false}},
		{models.PatternPipeline, models.StrategySequential, [][]int{nil, nil, nil, nil}, []bool{false, false, false, false}},
		{models.PatternConsensus, models.StrategyHybrid, [][]int{nil, nil, nil, {0, 1, 2}}, []bool{false, false, false, true}},
		{models.PatternHierarchical, models.StrategyHybrid, [][]int{nil, {0}, {0}, {0}}, []bool{true, false, false, false}},
	}
	for _, tt := range tests {
		t.Run(string(tt.pattern), func(t *testing.T) {
			r := base
			r.Pattern = tt.pattern
			plan := p.Compose(req, r)

			if plan.Strategy != tt.strategy {
				t.Errorf("Strategy = %s, want %s", plan.Strategy, tt.strategy)
			}
			if err := plan.Validate(); err != nil {
				t.Fatalf("Validate() = %v", err)
			}
			if len(plan.Requests) != 4 {
				t.Fatalf("got %d requests, want 4", len(plan.Requests))
			}
			for i, ar := range plan.Requests {
				if len(ar.DependsOn) != len(tt.deps[i]) {
					t.Errorf("request %d DependsOn = %v, want %v", i, ar.DependsOn, tt.deps[i])
				}
				for j := range tt.deps[i] {
					if j < len(ar.DependsOn) && ar.DependsOn[j] != tt.deps[i][j] {
						t.Errorf("request %d DependsOn = %v, want %v", i, ar.DependsOn, tt.deps[i])
					}
				}
				if ar.Required != tt.required[i] {
					t.Errorf("request %d Required = %v, want %v", i, ar.Required, tt.required[i])
				}
			}
			if plan.Background != "complex billing work" {
				t.Errorf("Background = %q", plan.Background)
			}
		})
	}
}

func TestCompose_RoundRobin(t *testing.T) {
	p := New(nil)
	plan := p.Compose(mustRequest(t, "build the billing api"), models.ConsensusResult{
		Tier: models.TierMedium, AgentCount: 3,
		Roles: []string{"backend", "tester"}, Domains: []string{"api"},
		Pattern: models.PatternFanOut,
	})
	want := []string{"backend", "tester", "backend"}
	for i, ar := range plan.Requests {
		if ar.Compose.Role != want[i] {
			t.Errorf("request %d role = %s, want %s", i, ar.Compose.Role, want[i])
		}
		if ar.Compose.Domains[0] != "api" {
			t.Errorf("request %d domain = %v", i, ar.Compose.Domains)
		}
	}
}

func TestCompose_FillsMissingFields(t *testing.T) {
	p := New(nil)
	plan := p.Compose(mustRequest(t, "fix typo in readme"), models.ConsensusResult{Tier: models.TierSimple})
	if len(plan.Requests) != 1 {
		t.Fatalf("got %d requests, want 1", len(plan.Requests))
	}
	ar := plan.Requests[0]
	if ar.Instruction != "fix typo in readme" {
		t.Errorf("single request should carry the task verbatim, got %q", ar.Instruction)
	}
	if ar.Compose.Role != "documenter" {
		t.Errorf("role = %s, want documenter", ar.Compose.Role)
	}
	if ar.Compose.Domains[0] != "documentation" {
		t.Errorf("domains = %v", ar.Compose.Domains)
	}
	if plan.Strategy != models.StrategyParallel {
		t.Errorf("invalid pattern should default to parallel, got %s", plan.Strategy)
	}
}
