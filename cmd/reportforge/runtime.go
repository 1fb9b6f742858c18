// Package main provides runtime component wiring.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/reportforge/reportforge/internal/artifact"
	"github.com/reportforge/reportforge/internal/config"
	"github.com/reportforge/reportforge/internal/controller"
	"github.com/reportforge/reportforge/internal/producer"
	"github.com/reportforge/reportforge/internal/skillset"
	"github.com/reportforge/reportforge/internal/telemetry"
	"github.com/reportforge/reportforge/internal/workflow"
)

// runtime holds the wired engine components for one CLI invocation.
type runtime struct {
	cfg           *config.Config
	logger        *zap.Logger
	cache         *artifact.Cache
	registry      *skillset.Store
	ctrl          *controller.Controller
	logs          *workflow.LogStore
	traceShutdown func(context.Context) error

	// The built-in producers simulate stage work deterministically; real
	// deployments swap these for service-backed implementations.
	explorer *producer.ScriptedExplorer
}

// newRuntime loads configuration and wires the engine.
func newRuntime(configPath string) (*runtime, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	if err := os.MkdirAll(cfg.StoragePath(), 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	registry, err := skillset.NewStore(cfg.SkillsetPath(), logger)
	if err != nil {
		return nil, err
	}
	logs, err := workflow.NewLogStore(cfg.SessionLogPath())
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:      cfg,
		logger:   logger,
		cache:    artifact.NewCache(logger),
		registry: registry,
		logs:     logs,
		explorer: &producer.ScriptedExplorer{Sites: map[string]producer.SiteScript{}},
	}
	rt.ctrl = controller.New(rt.cache, registry, controller.Producers{
		Analyzer:    &producer.ScriptedAnalyzer{},
		Resolver:    &producer.ScriptedResolver{},
		Explorer:    rt.explorer,
		Synthesizer: &producer.ScriptedSynthesizer{},
		Executor:    &producer.ScriptedExecutor{},
	}, logger)
	rt.ctrl.SkipExploration = cfg.Engine.SkipExploration
	rt.ctrl.MaxConcurrentSites = cfg.Engine.MaxConcurrentSites

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Setup(context.Background(), cfg.Telemetry.Endpoint)
		if err != nil {
			return nil, err
		}
		rt.traceShutdown = shutdown
	}
	return rt, nil
}

// saveSession persists the session event log when configured to.
func (rt *runtime) saveSession() {
	if !rt.cfg.Storage.PersistLogs {
		return
	}
	sess := rt.ctrl.Session()
	if err := rt.logs.Save(sess); err != nil {
		rt.logger.Warn("saving session log", zap.Error(err))
		return
	}
	rt.logger.Info("session log saved", zap.String("session", sess.ID))
}

func (rt *runtime) close() {
	if rt.traceShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.traceShutdown(ctx); err != nil {
			rt.logger.Warn("shutting down tracing", zap.Error(err))
		}
	}
	_ = rt.logger.Sync()
}

// buildLogger constructs the zap logger described by the logging section.
func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}

	var zcfg zap.Config
	if cfg.Logging.JSON {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
