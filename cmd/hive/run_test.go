package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/ShayCichocki/hive/internal/catalog"
	"github.com/ShayCichocki/hive/internal/config"
	"github.com/ShayCichocki/hive/internal/graph"
	"github.com/ShayCichocki/hive/internal/orchestrator"
	"github.com/ShayCichocki/hive/internal/signals"
	"github.com/ShayCichocki/hive/pkg/models"
)

// offlineApp builds an app with defaults and no model client.
func offlineApp() *app {
	return &app{cfg: config.Default(), logger: zap.NewNop(), catalog: catalog.Default()}
}

func TestExecuteRun_DryRun(t *testing.T) {
	req, err := models.NewRequest("fix a typo in the readme")
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := executeRun(context.Background(), offlineApp(), req, runOptions{dryRun: true}, &out); err != nil {
		t.Fatalf("executeRun() error = %v", err)
	}
	got := out.String()
	for _, want := range []string{"Plan", "fix a typo in the readme", "Summary", "success rate 100%"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestExecuteRun_JSON(t *testing.T) {
	req, err := models.NewRequest("design and build a REST api with auth, database migrations and integration tests",
		models.WithMode(models.ModeFull))
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := executeRun(context.Background(), offlineApp(), req, runOptions{dryRun: true, json: true}, &out); err != nil {
		t.Fatalf("executeRun() error = %v", err)
	}

	var res resultJSON
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("output is not json: %v\n%s", err, out.String())
	}
	if len(res.Nodes) == 0 {
		t.Fatal("no nodes in result")
	}
	if res.SuccessRate != 1 {
		t.Errorf("SuccessRate = %v, want 1", res.SuccessRate)
	}
	for _, n := range res.Nodes {
		if n.Status != graph.StatusCompleted.String() {
			t.Errorf("node %s status = %s", n.Branch, n.Status)
		}
	}
}

func TestExecuteRun_RequiresClientWithoutDryRun(t *testing.T) {
	req, _ := models.NewRequest("anything")
	err := executeRun(context.Background(), offlineApp(), req, runOptions{}, &bytes.Buffer{})
	if !errors.Is(err, config.ErrNoAPIKey) {
		t.Errorf("executeRun() error = %v, want ErrNoAPIKey", err)
	}
}

func TestFlowJSON(t *testing.T) {
	got := flowJSON(nil, errors.New("boom"))
	if got.Error != "boom" || got.Nodes != nil {
		t.Errorf("flowJSON(nil) = %+v", got)
	}

	r := &orchestrator.FlowResult{
		Order: []string{"a", "b"},
		Nodes: map[string]*orchestrator.NodeResult{
			"a": {Branch: "backend_api", Role: "backend", Status: graph.StatusCompleted, Output: "ok", Attempts: 1},
			"b": {Branch: "tester_api", Role: "tester", Status: graph.StatusFailed, Err: errors.New("nope"), Attempts: 3},
		},
	}
	got = flowJSON(r, nil)
	if len(got.Nodes) != 2 || got.Nodes[1].Error != "nope" || got.SuccessRate != 0.5 {
		t.Errorf("flowJSON() = %+v", got)
	}
}

func TestRenderPlan(t *testing.T) {
	plan := models.OrchestrationPlan{
		Strategy: models.StrategyHybrid,
		Requests: []models.AgentRequest{
			{Instruction: "Lead the work\nmore detail", Compose: models.Compose{Role: "architect"}, Required: true},
			{Instruction: "Build it", Compose: models.Compose{Role: "backend", Domains: []string{"api"}}, DependsOn: []int{0}},
		},
	}
	got := renderPlan(models.ConsensusResult{Tier: models.TierMedium, Pattern: models.PatternHierarchical}, plan)
	for _, want := range []string{"hybrid", "0. [architect] Lead the work (required)", "1. [backend] Build it {api} after [0]"} {
		if !strings.Contains(got, want) {
			t.Errorf("renderPlan() missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "more detail") {
		t.Error("renderPlan() should show only the first instruction line")
	}
}

func TestPrintEvent(t *testing.T) {
	tests := []struct {
		ev   orchestrator.FlowEvent
		want string
	}{
		{orchestrator.FlowEvent{Type: orchestrator.EventNodeStarted, Branch: "backend_api", Role: "backend"}, "backend_api (backend) started"},
		{orchestrator.FlowEvent{Type: orchestrator.EventNodeFailed, Branch: "x", Error: errors.New("boom")}, "x failed: boom"},
		{orchestrator.FlowEvent{Type: orchestrator.EventNodeRetry, Branch: "x", Attempt: 2, Error: errors.New("flaky")}, "x attempt 2 failed: flaky"},
		{orchestrator.FlowEvent{Type: orchestrator.EventBranchDropped, Message: "dropped request 3"}, "dropped request 3"},
		{orchestrator.FlowEvent{Type: orchestrator.EventBranchCreated, Branch: "x"}, ""},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		printEvent(&buf, tt.ev)
		if tt.want == "" {
			if buf.Len() != 0 {
				t.Errorf("%s printed %q, want nothing", tt.ev.Type, buf.String())
			}
			continue
		}
		if !strings.Contains(buf.String(), tt.want) {
			t.Errorf("%s printed %q, want %q", tt.ev.Type, buf.String(), tt.want)
		}
	}
}

func TestGetConfigValue(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg := config.Default()

	if got, err := getConfigValue(cfg, "orchestration.max_agents"); err != nil || got != "12" {
		t.Errorf("max_agents = %q, %v", got, err)
	}
	if got, _ := getConfigValue(cfg, "anthropic.api_key"); got != "(not set)" {
		t.Errorf("api_key = %q", got)
	}
	if _, err := getConfigValue(cfg, "bogus.key"); err == nil {
		t.Error("unknown key should fail")
	}
}

func TestStopCommand(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"stop", dir})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("stop error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, signals.KillFile)); err != nil {
		t.Errorf("kill file not written: %v", err)
	}
}
