package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/hive/internal/coordination"
	"github.com/ShayCichocki/hive/pkg/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Orchestration.MaxAgents != 12 {
		t.Errorf("expected max_agents 12, got %d", cfg.Orchestration.MaxAgents)
	}
	if cfg.Orchestration.NameRetries != 5 {
		t.Errorf("expected name_retries 5, got %d", cfg.Orchestration.NameRetries)
	}
	if cfg.Orchestration.NodeTimeout != 10*time.Minute {
		t.Errorf("expected node_timeout 10m, got %v", cfg.Orchestration.NodeTimeout)
	}
	if cfg.Orchestration.ContextLimit != 3 {
		t.Errorf("expected context_limit 3, got %d", cfg.Orchestration.ContextLimit)
	}
	if cfg.Registry.SimilarityThreshold != 0.85 {
		t.Errorf("expected similarity threshold 0.85, got %v", cfg.Registry.SimilarityThreshold)
	}
	if cfg.Registry.EMAWeight != 0.7 {
		t.Errorf("expected ema weight 0.7, got %v", cfg.Registry.EMAWeight)
	}
	if got := cfg.Tiers.For(models.TierVeryComplex); got != (models.AgentBounds{Min: 8, Max: 12}) {
		t.Errorf("expected very_complex 8..12, got %+v", got)
	}
}

func TestLoadFromPath(t *testing.T) {
	path := writeConfig(t, `
orchestration:
  max_agents: 6
  flow_timeout: 2m
  node_timeout: 45s
triage:
  rater_quorum: 2
  rater_timeout: 5s
registry:
  similarity_threshold: 0.9
  cleanup_policy: on_complete
  max_context_age: 10m
tiers:
  complex:
    min: 3
    max: 5
anthropic:
  api_key: ${HIVE_TEST_KEY}
catalog_path: roles.yaml
`)
	t.Setenv("HIVE_TEST_KEY", "sk-ant-from-env")
	t.Setenv("ANTHROPIC_API_KEY", "")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	if cfg.Orchestration.MaxAgents != 6 {
		t.Errorf("max_agents = %d, want 6", cfg.Orchestration.MaxAgents)
	}
	if cfg.Orchestration.FlowTimeout != 2*time.Minute {
		t.Errorf("flow_timeout = %v, want 2m", cfg.Orchestration.FlowTimeout)
	}
	if cfg.Orchestration.NodeTimeout != 45*time.Second {
		t.Errorf("node_timeout = %v, want 45s", cfg.Orchestration.NodeTimeout)
	}
	if cfg.Orchestration.NameRetries != 5 {
		t.Errorf("unset name_retries should default to 5, got %d", cfg.Orchestration.NameRetries)
	}
	if cfg.Triage.RaterQuorum != 2 || cfg.Triage.RaterTimeout != 5*time.Second {
		t.Errorf("triage = %+v", cfg.Triage)
	}
	if cfg.Registry.SimilarityThreshold != 0.9 {
		t.Errorf("similarity_threshold = %v, want 0.9", cfg.Registry.SimilarityThreshold)
	}
	if cfg.Registry.CleanupPolicy != coordination.CleanupOnComplete {
		t.Errorf("cleanup_policy = %q", cfg.Registry.CleanupPolicy)
	}
	if cfg.Registry.MaxContextAge != 10*time.Minute {
		t.Errorf("max_context_age = %v", cfg.Registry.MaxContextAge)
	}
	if got := cfg.Tiers.For(models.TierComplex); got != (models.AgentBounds{Min: 3, Max: 5}) {
		t.Errorf("complex bounds = %+v, want 3..5", got)
	}
	if got := cfg.Tiers.For(models.TierSimple); got != (models.AgentBounds{Min: 1, Max: 1}) {
		t.Errorf("simple bounds should keep default, got %+v", got)
	}
	if cfg.Anthropic.APIKey != "sk-ant-from-env" {
		t.Errorf("api_key = %q, want expanded env value", cfg.Anthropic.APIKey)
	}
	if cfg.CatalogPath != "roles.yaml" {
		t.Errorf("catalog_path = %q", cfg.CatalogPath)
	}
}

func TestLoadFromPath_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "orchestration:\n  max_agents: 6\n")
	t.Setenv("HIVE_ORCHESTRATION_MAX_AGENTS", "3")
	t.Setenv("HIVE_REGISTRY_SIMILARITY_THRESHOLD", "0.8")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg.Orchestration.MaxAgents != 3 {
		t.Errorf("max_agents = %d, want env override 3", cfg.Orchestration.MaxAgents)
	}
	if cfg.Registry.SimilarityThreshold != 0.8 {
		t.Errorf("similarity_threshold = %v, want 0.8", cfg.Registry.SimilarityThreshold)
	}
}

func TestLoadFromPath_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"zero agents", "orchestration:\n  max_agents: 0\n", "max_agents"},
		{"negative node timeout", "orchestration:\n  node_timeout: -1s\n", "node_timeout"},
		{"inverted tier", "tiers:\n  medium:\n    min: 5\n    max: 2\n", "tiers.medium"},
		{"bad threshold", "registry:\n  similarity_threshold: 1.5\n", "similarity_threshold"},
		{"bad policy", "registry:\n  cleanup_policy: hourly\n", "cleanup_policy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromPath(writeConfig(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadFromPath_Missing(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_ProjectOverridesUser(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	if err := os.MkdirAll(filepath.Join(xdg, "hive"), 0755); err != nil {
		t.Fatal(err)
	}
	userCfg := "orchestration:\n  max_agents: 7\n  name_retries: 2\n"
	if err := os.WriteFile(filepath.Join(xdg, "hive", "config.yaml"), []byte(userCfg), 0644); err != nil {
		t.Fatal(err)
	}

	project := t.TempDir()
	if err := os.WriteFile(filepath.Join(project, ProjectConfigName), []byte("orchestration:\n  max_agents: 4\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(project)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Orchestration.MaxAgents != 4 {
		t.Errorf("max_agents = %d, want project value 4", cfg.Orchestration.MaxAgents)
	}
	if cfg.Orchestration.NameRetries != 2 {
		t.Errorf("name_retries = %d, want user value 2", cfg.Orchestration.NameRetries)
	}
}

func TestGetUserConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	if got := getUserConfigDir(); got != filepath.Join("/tmp/xdg", "hive") {
		t.Errorf("getUserConfigDir() = %q", got)
	}
}

func TestSettings_RoundTripsThroughSave(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg := Default()
	cfg.Orchestration.MaxAgents = 9
	cfg.Registry.CleanupPolicy = coordination.CleanupTimer

	if err := Save(cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := LoadFromPath(GetUserConfigPath())
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if loaded.Orchestration.MaxAgents != 9 || loaded.Registry.CleanupPolicy != coordination.CleanupTimer {
		t.Errorf("loaded = %+v", loaded.Orchestration)
	}
	if _, ok := Settings(cfg)["anthropic.api_key"]; ok {
		t.Error("Settings must not include the API key")
	}
}

func TestSet(t *testing.T) {
	cfg := Default()
	cfg.Anthropic.APIKey = "secret"

	got, err := Set(cfg, "orchestration.max_agents", "4")
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got.Orchestration.MaxAgents != 4 {
		t.Errorf("MaxAgents = %d, want 4", got.Orchestration.MaxAgents)
	}
	if got.Anthropic.APIKey != "secret" {
		t.Error("Set dropped the API key")
	}
	if cfg.Orchestration.MaxAgents != 12 {
		t.Error("Set modified its input")
	}

	got, err = Set(cfg, "Registry.Cleanup_Interval", "90s")
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got.Registry.CleanupInterval != 90*time.Second {
		t.Errorf("CleanupInterval = %v", got.Registry.CleanupInterval)
	}

	if _, err := Set(cfg, "orchestration.max_agents", "0"); err == nil {
		t.Error("Set should reject an invalid value")
	}
	if _, err := Set(cfg, "no.such.key", "1"); err == nil {
		t.Error("Set should reject an unknown key")
	}
}
