package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ShayCichocki/hive/internal/api"
	"github.com/ShayCichocki/hive/internal/backend"
	"github.com/ShayCichocki/hive/internal/catalog"
	"github.com/ShayCichocki/hive/internal/config"
	"github.com/ShayCichocki/hive/internal/coordination"
	"github.com/ShayCichocki/hive/internal/coordination/redissink"
	"github.com/ShayCichocki/hive/internal/learning"
	"github.com/ShayCichocki/hive/internal/logging"
	"github.com/ShayCichocki/hive/internal/metrics"
	"github.com/ShayCichocki/hive/internal/orchestrator"
	"github.com/ShayCichocki/hive/internal/planner"
	"github.com/ShayCichocki/hive/internal/retry"
	"github.com/ShayCichocki/hive/internal/triage"
)

// app holds everything a command builds from configuration.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	catalog *catalog.Catalog
	promReg *prometheus.Registry
	metrics *metrics.Collector
	// client is nil when running offline or without credentials.
	client *api.Client
	// persistLearning falls back to the user-wide database when
	// learning.db_path is empty.
	persistLearning bool
	closers         []func() error
}

// newApp loads configuration and builds the shared stack. Offline apps
// never construct a model client.
func newApp(offline bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	level := "info"
	if verbose {
		level = "debug"
	}
	logger, closeLog, err := logging.New(logging.Options{File: cfg.LogFile, Console: verbose, Level: level})
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, closers: []func() error{closeLog}}

	a.catalog = catalog.Default()
	if cfg.CatalogPath != "" {
		if a.catalog, err = catalog.Load(cfg.CatalogPath); err != nil {
			a.close()
			return nil, fmt.Errorf("load catalog: %w", err)
		}
	}

	a.promReg = prometheus.NewRegistry()
	a.promReg.MustRegister(collectors.NewGoCollector())
	a.metrics = metrics.NewCollector(cfg.Metrics.Namespace, a.promReg, logger)
	if cfg.Metrics.Addr != "" {
		a.serveMetrics(cfg.Metrics.Addr)
	}

	if !offline {
		client, err := newClient(cfg, logger)
		switch {
		case errors.Is(err, config.ErrNoAPIKey):
			logger.Warn("no Anthropic API key configured; model-backed raters and planners are disabled")
		case err != nil:
			a.close()
			return nil, err
		default:
			a.client = client
		}
	}
	return a, nil
}

func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFromPath(cfgFile)
	}
	return config.Load()
}

func newClient(cfg *config.Config, logger *zap.Logger) (*api.Client, error) {
	key, _, err := config.ResolveAPIKey(cfg)
	if err != nil && !cfg.Anthropic.UseBedrock {
		return nil, err
	}
	client, err := api.NewClient(api.ClientConfig{
		Model:         cfg.Anthropic.Model,
		APIKey:        key,
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
		MaxTokens:     cfg.Anthropic.MaxTokens,
		RateLimit:     cfg.Anthropic.RateLimit,
		RateBurst:     cfg.Anthropic.RateBurst,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create API client: %w", err)
	}
	return client, nil
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.promReg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	a.logger.Info("metrics server started", zap.String("addr", addr))

	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}

func (a *app) triage() *triage.Triage {
	var extra []triage.Rater
	if a.client != nil {
		for _, e := range api.NewEvaluators("rater", a.cfg.Triage.Raters, a.client, a.catalog, a.logger) {
			extra = append(extra, triage.NewEvaluatorRater(e, a.catalog, a.cfg.Tiers))
		}
	}
	return triage.NewDefault(extra,
		triage.WithQuorum(a.cfg.Triage.RaterQuorum),
		triage.WithRaterTimeout(a.cfg.Triage.RaterTimeout),
		triage.WithTierBounds(a.cfg.Tiers),
		triage.WithCatalog(a.catalog),
		triage.WithLogger(a.logger),
		triage.WithMetrics(a.metrics),
	)
}

// planner builds a planner over t. A nil registry skips learned pattern
// suggestions.
func (a *app) planner(t *triage.Triage, reg *coordination.Registry) *planner.Planner {
	opts := []planner.Option{
		planner.WithCatalog(a.catalog),
		planner.WithTierBounds(a.cfg.Tiers),
		planner.WithEvaluatorTimeout(a.cfg.Triage.RaterTimeout),
		planner.WithLogger(a.logger),
		planner.WithMetrics(a.metrics),
	}
	if reg != nil {
		opts = append(opts, planner.WithRegistry(reg))
	}
	if a.client != nil {
		opts = append(opts, planner.WithEvaluators(
			api.NewEvaluators("planner", a.cfg.Triage.PlanEvaluators, a.client, a.catalog, a.logger)...))
	}
	return planner.New(t, opts...)
}

func (a *app) backend(dryRun bool) (backend.Backend, error) {
	if dryRun {
		return backend.NewEcho(), nil
	}
	if a.client == nil {
		return nil, fmt.Errorf("%w; set ANTHROPIC_API_KEY or use --dry-run", config.ErrNoAPIKey)
	}
	return api.NewBackend(a.client), nil
}

// registryOptions wires the optional effectiveness database and event mirror.
func (a *app) registryOptions() ([]coordination.Option, error) {
	opts := []coordination.Option{
		coordination.WithConfig(a.cfg.Registry),
		coordination.WithCatalog(a.catalog),
		coordination.WithMetrics(a.metrics),
	}

	if path := resolveLearningPath(a.cfg.Learning.DBPath, a.persistLearning); path != "" {
		store, err := learning.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open effectiveness store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		opts = append(opts, coordination.WithEffectivenessStore(store))
	}

	if a.cfg.Events.Enabled {
		sink, err := redissink.New(a.cfg.Events.Redis, a.logger)
		if err != nil {
			return nil, fmt.Errorf("connect event sink: %w", err)
		}
		a.closers = append(a.closers, sink.Close)
		opts = append(opts, coordination.WithEventSink(sink))
	}
	return opts, nil
}

func (a *app) engineOptions() []orchestrator.Option {
	o := a.cfg.Orchestration
	return []orchestrator.Option{
		orchestrator.WithMaxAgents(o.MaxAgents),
		orchestrator.WithFlowTimeout(o.FlowTimeout),
		orchestrator.WithNodeTimeout(o.NodeTimeout),
		orchestrator.WithNameRetries(o.NameRetries),
		orchestrator.WithContextLimit(o.ContextLimit),
		orchestrator.WithRetryPolicy(retry.Policy{
			MaxAttempts:         o.NodeRetries,
			InitialInterval:     o.RetryInitial,
			MaxInterval:         o.RetryMax,
			Multiplier:          2,
			RandomizationFactor: 0.2,
		}),
		orchestrator.WithMetrics(a.metrics),
	}
}
