// Package config handles configuration loading for hive. It layers built-in
// defaults, the user config, a project .hive.yaml and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/hive/internal/coordination"
	"github.com/ShayCichocki/hive/internal/coordination/redissink"
	"github.com/ShayCichocki/hive/pkg/models"
)

// EnvPrefix prefixes every environment override, e.g. HIVE_ORCHESTRATION_MAX_AGENTS.
const EnvPrefix = "HIVE"

// ProjectConfigName is the per-project override file.
const ProjectConfigName = ".hive.yaml"

// Config holds all configuration for hive.
type Config struct {
	Orchestration OrchestrationConfig `mapstructure:"orchestration"`
	Triage        TriageConfig        `mapstructure:"triage"`
	Registry      coordination.Config `mapstructure:"registry"`
	Tiers         models.TierBounds   `mapstructure:"tiers"`
	Anthropic     AnthropicConfig     `mapstructure:"anthropic"`
	Learning      LearningConfig      `mapstructure:"learning"`
	Events        EventsConfig        `mapstructure:"events"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	CatalogPath   string              `mapstructure:"catalog_path"`
	LogFile       string              `mapstructure:"log_file"`
}

// OrchestrationConfig bounds plan expansion and flow execution.
type OrchestrationConfig struct {
	MaxAgents    int           `mapstructure:"max_agents"`
	FlowTimeout  time.Duration `mapstructure:"flow_timeout"`
	NodeTimeout  time.Duration `mapstructure:"node_timeout"`
	NameRetries  int           `mapstructure:"name_retries"`
	NodeRetries  int           `mapstructure:"node_retries"`
	RetryInitial time.Duration `mapstructure:"retry_initial"`
	RetryMax     time.Duration `mapstructure:"retry_max"`
	ContextLimit int           `mapstructure:"context_limit"`
}

// TriageConfig controls the rater panel.
type TriageConfig struct {
	// Raters is how many model-backed raters join the built-in ones.
	Raters       int           `mapstructure:"raters"`
	RaterQuorum  int           `mapstructure:"rater_quorum"`
	RaterTimeout time.Duration `mapstructure:"rater_timeout"`
	// PlanEvaluators is how many model-backed plan evaluations to request.
	PlanEvaluators int `mapstructure:"plan_evaluators"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string  `mapstructure:"api_key"`
	Model      string  `mapstructure:"model"`
	UseBedrock bool    `mapstructure:"use_bedrock"`
	AWSRegion  string  `mapstructure:"aws_region"`
	AWSProfile string  `mapstructure:"aws_profile"`
	MaxTokens  int64   `mapstructure:"max_tokens"`
	RateLimit  float64 `mapstructure:"rate_limit"`
	RateBurst  int     `mapstructure:"rate_burst"`
}

// LearningConfig locates the effectiveness database. An empty path keeps
// effectiveness in memory.
type LearningConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// EventsConfig optionally mirrors coordination events to Redis.
type EventsConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Redis   redissink.Config `mapstructure:",squash"`
}

// MetricsConfig exposes prometheus metrics.
type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
	Addr      string `mapstructure:"addr"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (HIVE_*, ANTHROPIC_API_KEY)
// 2. Project config (.hive.yaml in current directory or parent)
// 3. User config (~/.config/hive/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return decode(v)
}

// LoadFromPath loads configuration from a specific file plus environment.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("anthropic.api_key", EnvPrefix+"_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	cfg.Tiers = mergeTiers(cfg.Tiers)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeTiers fills tiers missing from the file with defaults.
func mergeTiers(t models.TierBounds) models.TierBounds {
	out := models.DefaultTierBounds()
	for tier, b := range t {
		if parsed, err := models.ParseTier(string(tier)); err == nil {
			out[parsed] = b
		}
	}
	return out
}

// Validate checks the configuration for impossible values.
func (c *Config) Validate() error {
	o := c.Orchestration
	if o.MaxAgents < 1 {
		return fmt.Errorf("orchestration.max_agents must be at least 1, got %d", o.MaxAgents)
	}
	if o.FlowTimeout <= 0 {
		return fmt.Errorf("orchestration.flow_timeout must be positive")
	}
	if o.NodeTimeout < 0 {
		return fmt.Errorf("orchestration.node_timeout must not be negative")
	}
	if o.NameRetries < 0 {
		return fmt.Errorf("orchestration.name_retries must not be negative")
	}
	if o.NodeRetries < 1 {
		return fmt.Errorf("orchestration.node_retries must be at least 1")
	}
	if o.ContextLimit < 0 {
		return fmt.Errorf("orchestration.context_limit must not be negative")
	}
	if c.Triage.RaterQuorum < 0 || c.Triage.Raters < 0 || c.Triage.PlanEvaluators < 0 {
		return fmt.Errorf("triage counts must not be negative")
	}
	if c.Triage.RaterTimeout <= 0 {
		return fmt.Errorf("triage.rater_timeout must be positive")
	}
	for _, tier := range models.AllTiers {
		b := c.Tiers.For(tier)
		if b.Min < 1 || b.Max < b.Min {
			return fmt.Errorf("tiers.%s: need 1 <= min <= max, got %d..%d", tier, b.Min, b.Max)
		}
	}
	if err := c.Registry.Validate(); err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	return nil
}

// Save writes the tunable settings to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(userConfigDir, "config.yaml"))
	for key, value := range Settings(cfg) {
		v.Set(key, value)
	}
	return v.WriteConfig()
}

// Set returns a copy of cfg with one dotted key changed. The value is
// decoded the same way as a config file value and the result validated.
func Set(cfg *Config, key, value string) (*Config, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	settings := Settings(cfg)
	if _, ok := settings[key]; !ok {
		return nil, fmt.Errorf("unknown configuration key: %s", key)
	}
	v := viper.New()
	for k, val := range settings {
		v.Set(k, val)
	}
	v.Set(key, value)
	out, err := decode(v)
	if err != nil {
		return nil, err
	}
	out.Anthropic.APIKey = cfg.Anthropic.APIKey
	out.Events.Redis.Password = cfg.Events.Redis.Password
	return out, nil
}

// Settings flattens cfg into dotted keys. The API key is left out.
func Settings(cfg *Config) map[string]any {
	s := map[string]any{
		"orchestration.max_agents":      cfg.Orchestration.MaxAgents,
		"orchestration.flow_timeout":    cfg.Orchestration.FlowTimeout.String(),
		"orchestration.node_timeout":    cfg.Orchestration.NodeTimeout.String(),
		"orchestration.name_retries":    cfg.Orchestration.NameRetries,
		"orchestration.node_retries":    cfg.Orchestration.NodeRetries,
		"orchestration.retry_initial":   cfg.Orchestration.RetryInitial.String(),
		"orchestration.retry_max":       cfg.Orchestration.RetryMax.String(),
		"orchestration.context_limit":   cfg.Orchestration.ContextLimit,
		"triage.raters":                 cfg.Triage.Raters,
		"triage.rater_quorum":           cfg.Triage.RaterQuorum,
		"triage.rater_timeout":          cfg.Triage.RaterTimeout.String(),
		"triage.plan_evaluators":        cfg.Triage.PlanEvaluators,
		"registry.similarity_threshold": cfg.Registry.SimilarityThreshold,
		"registry.max_task_age":         cfg.Registry.MaxTaskAge.String(),
		"registry.max_context_age":      cfg.Registry.MaxContextAge.String(),
		"registry.event_capacity":       cfg.Registry.EventCapacity,
		"registry.subscriber_buffer":    cfg.Registry.SubscriberBuffer,
		"registry.cleanup_policy":       string(cfg.Registry.CleanupPolicy),
		"registry.cleanup_interval":     cfg.Registry.CleanupInterval.String(),
		"registry.ema_weight":           cfg.Registry.EMAWeight,
		"anthropic.model":               cfg.Anthropic.Model,
		"anthropic.use_bedrock":         cfg.Anthropic.UseBedrock,
		"anthropic.aws_region":          cfg.Anthropic.AWSRegion,
		"anthropic.aws_profile":         cfg.Anthropic.AWSProfile,
		"anthropic.max_tokens":          cfg.Anthropic.MaxTokens,
		"anthropic.rate_limit":          cfg.Anthropic.RateLimit,
		"anthropic.rate_burst":          cfg.Anthropic.RateBurst,
		"learning.db_path":              cfg.Learning.DBPath,
		"events.enabled":                cfg.Events.Enabled,
		"events.redis_addr":             cfg.Events.Redis.Addr,
		"events.redis_db":               cfg.Events.Redis.DB,
		"events.redis_channel":          cfg.Events.Redis.Channel,
		"events.history_len":            cfg.Events.Redis.HistoryLen,
		"metrics.namespace":             cfg.Metrics.Namespace,
		"metrics.addr":                  cfg.Metrics.Addr,
		"catalog_path":                  cfg.CatalogPath,
		"log_file":                      cfg.LogFile,
	}
	for _, tier := range models.AllTiers {
		b := cfg.Tiers.For(tier)
		s["tiers."+string(tier)+".min"] = b.Min
		s["tiers."+string(tier)+".max"] = b.Max
	}
	return s
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()
	for key, value := range Settings(d) {
		v.SetDefault(key, value)
	}
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("events.redis_password", "")
}

// getUserConfigDir returns the XDG config directory for hive.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "hive")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "hive")
	}
	return filepath.Join(home, ".config", "hive")
}

// findProjectConfig searches for .hive.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return ""
		}
		cwd = parent
	}
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Orchestration: OrchestrationConfig{
			MaxAgents:    12,
			FlowTimeout:  30 * time.Minute,
			NodeTimeout:  10 * time.Minute,
			NameRetries:  5,
			NodeRetries:  3,
			RetryInitial: 500 * time.Millisecond,
			RetryMax:     10 * time.Second,
			ContextLimit: 3,
		},
		Triage: TriageConfig{
			Raters:         1,
			RaterTimeout:   30 * time.Second,
			PlanEvaluators: 3,
		},
		Registry: coordination.DefaultConfig(),
		Tiers:    models.DefaultTierBounds(),
		Anthropic: AnthropicConfig{
			Model:     "claude-sonnet-4-20250514",
			AWSRegion: "us-west-2",
			MaxTokens: 2048,
			RateLimit: 2,
			RateBurst: 2,
		},
		Events:  EventsConfig{Redis: redissink.DefaultConfig()},
		Metrics: MetricsConfig{
			Namespace: "hive",
		},
	}
}
