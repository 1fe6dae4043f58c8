package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/curatord/internal/agent"
	"github.com/fyrsmithlabs/curatord/internal/agents"
	"github.com/fyrsmithlabs/curatord/internal/config"
	"github.com/fyrsmithlabs/curatord/internal/events"
	"github.com/fyrsmithlabs/curatord/internal/learning"
	"github.com/fyrsmithlabs/curatord/internal/llm"
	"github.com/fyrsmithlabs/curatord/internal/logging"
	"github.com/fyrsmithlabs/curatord/internal/orchestrator"
	"github.com/fyrsmithlabs/curatord/internal/store"
	"github.com/fyrsmithlabs/curatord/internal/telemetry"
	"github.com/fyrsmithlabs/curatord/internal/workflow"
)

// app holds every long-lived dependency. Commands build one with newApp
// and release it with Close.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	store     *store.Store
	loader    *learning.Loader
	registry  *agent.Registry
	agentDeps agent.Deps
	catalog   *workflow.Catalog
	watcher   *workflow.Watcher
	bus       *events.Bus
	nc        *nats.Conn
	orch      *orchestrator.Orchestrator

	closers []func()
}

type appOptions struct {
	// logLevel overrides the configured level; CLI commands keep stdout
	// for their own output.
	logLevel *zapcore.Level
	// watch enables template hot reload when configured.
	watch bool
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newApp initializes dependencies in order:
//  1. telemetry and logger
//  2. SQLite store and learning loader
//  3. agent registry, LLM client and template catalog
//  4. event bus with optional NATS bridge
//  5. orchestrator
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	a.telemetry, err = telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.telemetry.Shutdown(shutdownCtx)
	})

	if a.logger, err = initLogger(cfg, a.telemetry, opts.logLevel); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.closers = append(a.closers, func() { _ = a.logger.Sync() })
	zl := a.logger.Underlying()

	if a.store, err = store.Open(cfg.Storage.Path, zl.Named("store")); err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.closers = append(a.closers, func() { _ = a.store.Close() })
	a.loader = learning.NewLoader(a.store, zl.Named("learning"))

	a.registry = agents.NewRegistry()
	client, err := llm.New(llmConfig(cfg.LLM), zl.Named("llm"))
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}
	a.agentDeps = agent.Deps{
		LLM:         client,
		Logger:      zl.Named("agent"),
		CostPer1K:   cfg.LLM.CostPer1KTokens,
		HistorySize: cfg.Orchestrator.ActionHistorySize,
	}

	if a.catalog, err = workflow.NewDefaultCatalog(a.registry); err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	if dir := cfg.Orchestrator.TemplatesDir; dir != "" {
		if opts.watch && cfg.Orchestrator.WatchTemplates {
			if a.watcher, err = workflow.NewWatcher(dir, a.catalog, zl.Named("templates")); err != nil {
				return nil, fmt.Errorf("failed to watch templates: %w", err)
			}
			a.watcher.Start(ctx)
			a.closers = append(a.closers, a.watcher.Stop)
		} else if err = workflow.Reload(dir, a.catalog); err != nil {
			return nil, fmt.Errorf("failed to load templates from %s: %w", dir, err)
		}
	}

	a.bus = events.NewBus(zl.Named("events"))
	if cfg.NATS.Enabled {
		if err = a.connectNATS(); err != nil {
			return nil, err
		}
	}

	a.orch, err = orchestrator.New(orchestrator.Config{
		Catalog:   a.catalog,
		Agents:    a.registry,
		AgentDeps: a.agentDeps,
		Bus:       a.bus,
		Store:     a.store,
		Loader:    a.loader,
		Logger:    a.logger,
	}, orchestrator.WithTracer(a.telemetry.Tracer("github.com/fyrsmithlabs/curatord/internal/orchestrator")))
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	return a, nil
}

func (a *app) connectNATS() error {
	nc, err := nats.Connect(a.cfg.NATS.URL,
		nats.Name("curatord"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", a.cfg.NATS.URL, err)
	}
	a.nc = nc
	a.closers = append(a.closers, nc.Close)

	pub := events.NewNATSPublisher(nc, a.cfg.NATS.SubjectPrefix, a.logger.Underlying().Named("nats"))
	a.closers = append(a.closers, pub.Attach(a.bus))
	a.logger.Info(context.Background(), "connected to NATS",
		zap.String("url", a.cfg.NATS.URL),
		zap.String("subject_prefix", a.cfg.NATS.SubjectPrefix),
	)
	return nil
}

// Close releases resources in reverse order of acquisition. The
// orchestrator is drained first so in-flight phases can persist.
func (a *app) Close() {
	if a.orch != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
		if err := a.orch.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			a.logger.Warn(ctx, "orchestrator shutdown", zap.Error(err))
		}
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func initLogger(cfg *config.Config, tel *telemetry.Telemetry, level *zapcore.Level) (*logging.Logger, error) {
	lcfg := logging.NewDefaultConfig()
	lvl, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	lcfg.Level = lvl
	if level != nil {
		lcfg.Level = *level
	}
	lcfg.Format = cfg.Logging.Format
	lcfg.Output.OTEL = cfg.Logging.OTEL && tel.IsEnabled()
	lcfg.Fields["version"] = version
	return logging.NewLogger(lcfg, tel.LoggerProvider())
}

func llmConfig(c config.LLMConfig) llm.Config {
	return llm.Config{
		Provider:    c.Provider,
		Model:       c.Model,
		BaseURL:     c.BaseURL,
		APIKey:      c.APIKey.Value(),
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		RateLimit:   c.RateLimit,
		Burst:       c.Burst,
		MaxRetries:  c.MaxRetries,
		Timeout:     c.Timeout.Duration(),
	}
}
