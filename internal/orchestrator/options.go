package orchestrator

import (
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/hive/internal/metrics"
	"github.com/ShayCichocki/hive/internal/retry"
)

const (
	// DefaultMaxAgents bounds branches per graph and concurrent nodes.
	DefaultMaxAgents = 12
	// DefaultFlowTimeout bounds a whole RunFlow call.
	DefaultFlowTimeout = 30 * time.Minute
	// DefaultContextLimit is how many related results a node reads.
	DefaultContextLimit = 3
)

// Option configures an Engine. Use With* functions to create Options.
type Option func(*engineOptions)

// engineOptions holds all optional configuration.
type engineOptions struct {
	maxAgents    int
	flowTimeout  time.Duration
	nodeTimeout  time.Duration
	nameRetries  int
	retryPolicy  retry.Policy
	contextLimit int
	logger       *zap.Logger
	metrics      *metrics.Collector
	emitter      *EventEmitter
}

func defaultEngineOptions() engineOptions {
	return engineOptions{
		maxAgents:    DefaultMaxAgents,
		flowTimeout:  DefaultFlowTimeout,
		nameRetries:  DefaultNameRetries,
		retryPolicy:  retry.DefaultPolicy(),
		contextLimit: DefaultContextLimit,
	}
}

// WithMaxAgents sets the graph size limit and worker pool width.
func WithMaxAgents(n int) Option {
	return func(o *engineOptions) {
		if n > 0 {
			o.maxAgents = n
		}
	}
}

// WithFlowTimeout sets the whole-flow deadline. Zero disables it.
func WithFlowTimeout(d time.Duration) Option {
	return func(o *engineOptions) { o.flowTimeout = d }
}

// WithNodeTimeout bounds each node's backend work, retries included. A node
// that runs out of time fails. Zero disables it.
func WithNodeTimeout(d time.Duration) Option {
	return func(o *engineOptions) { o.nodeTimeout = d }
}

// WithNameRetries sets how many suffixed names are tried on collision.
func WithNameRetries(n int) Option {
	return func(o *engineOptions) { o.nameRetries = n }
}

// WithRetryPolicy sets the backoff policy for backend calls.
func WithRetryPolicy(p retry.Policy) Option {
	return func(o *engineOptions) { o.retryPolicy = p }
}

// WithContextLimit sets how many related shared results each node reads.
// Zero disables the lookup.
func WithContextLimit(n int) Option {
	return func(o *engineOptions) { o.contextLimit = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *engineOptions) { o.metrics = m }
}

// WithEmitter sets the flow event emitter.
func WithEmitter(e *EventEmitter) Option {
	return func(o *engineOptions) { o.emitter = e }
}
