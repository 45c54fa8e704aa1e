// Package coordination implements the registry that running branches share:
// task deduplication, shared context, an event history with subscriptions,
// coordination pattern suggestions and age-based cleanup.
package coordination

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/hive/internal/catalog"
	"github.com/ShayCichocki/hive/internal/metrics"
	"github.com/ShayCichocki/hive/internal/textsim"
)

// CleanupPolicy decides when aged entries are evicted.
type CleanupPolicy string

const (
	// CleanupManual evicts only when CleanupOldEntries is called.
	CleanupManual CleanupPolicy = "manual"
	// CleanupTimer evicts on a background ticker between Start and Stop.
	CleanupTimer CleanupPolicy = "timer"
	// CleanupOnComplete evicts after every ShareContext.
	CleanupOnComplete CleanupPolicy = "on_complete"
)

// Valid returns true if the policy is a known value.
func (p CleanupPolicy) Valid() bool {
	switch p {
	case CleanupManual, CleanupTimer, CleanupOnComplete:
		return true
	default:
		return false
	}
}

// Config holds the registry's tunables.
type Config struct {
	// SimilarityThreshold is the score at or above which two descriptions
	// are the same task.
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	// MaxTaskAge bounds how long a task is kept. Zero keeps tasks forever.
	MaxTaskAge time.Duration `mapstructure:"max_task_age"`
	// MaxContextAge bounds how long shared context is retrievable. Zero
	// keeps contexts forever.
	MaxContextAge time.Duration `mapstructure:"max_context_age"`
	// EventCapacity is the size of the event ring buffer.
	EventCapacity int `mapstructure:"event_capacity"`
	// SubscriberBuffer is the channel size given to each subscriber.
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
	// CleanupPolicy selects when eviction runs.
	CleanupPolicy CleanupPolicy `mapstructure:"cleanup_policy"`
	// CleanupInterval is the ticker period for CleanupTimer.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	// EMAWeight is the weight kept by the existing effectiveness score when
	// a new observation arrives.
	EMAWeight float64 `mapstructure:"ema_weight"`
}

// DefaultConfig returns the stock registry configuration.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.85,
		MaxTaskAge:          time.Hour,
		MaxContextAge:       time.Hour,
		EventCapacity:       1000,
		SubscriberBuffer:    64,
		CleanupPolicy:       CleanupManual,
		CleanupInterval:     5 * time.Minute,
		EMAWeight:           0.7,
	}
}

// Validate checks the configuration for impossible values.
func (c Config) Validate() error {
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in (0, 1], got %v", c.SimilarityThreshold)
	}
	if c.MaxTaskAge < 0 || c.MaxContextAge < 0 {
		return fmt.Errorf("max ages must not be negative")
	}
	if c.EventCapacity < 1 {
		return fmt.Errorf("event_capacity must be at least 1, got %d", c.EventCapacity)
	}
	if c.SubscriberBuffer < 0 {
		return fmt.Errorf("subscriber_buffer must not be negative")
	}
	if !c.CleanupPolicy.Valid() {
		return fmt.Errorf("unknown cleanup_policy %q", c.CleanupPolicy)
	}
	if c.CleanupPolicy == CleanupTimer && c.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup_interval must be positive for the timer policy")
	}
	if c.EMAWeight < 0 || c.EMAWeight >= 1 {
		return fmt.Errorf("ema_weight must be in [0, 1), got %v", c.EMAWeight)
	}
	return nil
}

// Option configures a Registry.
type Option func(*Registry)

// WithConfig replaces the registry configuration.
func WithConfig(cfg Config) Option {
	return func(r *Registry) { r.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithScorer sets the similarity function used for fuzzy deduplication.
func WithScorer(s textsim.Scorer) Option {
	return func(r *Registry) { r.scorer = s }
}

// WithCatalog sets the catalogue used to derive task types.
func WithCatalog(c *catalog.Catalog) Option {
	return func(r *Registry) { r.catalog = c }
}

// WithEffectivenessStore sets where learned pattern scores are kept.
func WithEffectivenessStore(s EffectivenessStore) Option {
	return func(r *Registry) { r.store = s }
}

// WithEventSink mirrors every broadcast event to s.
func WithEventSink(s EventSink) Option {
	return func(r *Registry) { r.sink = s }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}
