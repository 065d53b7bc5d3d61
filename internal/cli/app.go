// app.go wires the configured collaborators into a ready orchestrator.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bookforge/internal/agent"
	"bookforge/internal/book"
	"bookforge/internal/config"
	"bookforge/internal/continuity"
	"bookforge/internal/core"
	"bookforge/internal/prompt"
	"bookforge/internal/stage"
	"bookforge/internal/storage"
)

// app bundles everything a pipeline command needs. Close releases the
// database handle.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	files  *storage.FileSystem
	store  *storage.SQLite
	orc    *core.Orchestrator
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger()

	files := storage.NewFileSystem(cfg.Paths.DataDir)
	store, err := storage.OpenSQLite(storage.DatabasePath(cfg.Paths.DataDir))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	orc, err := buildOrchestrator(cfg, logger, files, store)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, files: files, store: store, orc: orc}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing database", "error", err)
	}
}

func buildOrchestrator(cfg *config.Config, logger *slog.Logger, files *storage.FileSystem, store *storage.SQLite) (*core.Orchestrator, error) {
	limiter := agent.NewTokenLimiter(cfg.AI.Budgets, agent.WithLimiterLogger(logger))
	client := agent.NewClient(cfg.AI.APIKey,
		agent.WithAPIConfig(cfg.AI.BaseURL, cfg.AI.Model),
		agent.WithTimeout(time.Duration(cfg.AI.Timeout)*time.Second),
		agent.WithTokenLimiter(limiter),
		agent.WithLogger(logger))
	routed := agent.NewModelRouter(client, cfg.AI.Model, cfg.AI.Models)

	policy := core.Policy{
		MaxAttempts: cfg.Generation.Retry.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Generation.Retry.BaseDelay) * time.Second,
		MaxDelay:    time.Duration(cfg.Generation.Retry.MaxDelay) * time.Second,
		Multiplier:  cfg.Generation.Retry.Multiplier,
	}
	reliable := core.NewRetryingGenerator(routed, policy, logger)

	composer, err := prompt.NewComposer(prompt.WithTemplateDir(cfg.Paths.PromptDir))
	if err != nil {
		return nil, fmt.Errorf("loading prompt templates: %w", err)
	}
	generator := stage.NewGenerator(reliable, composer,
		stage.Config{DecodeRetries: cfg.Generation.DecodeRetries}, logger)

	trackerCfg := continuity.Config{
		ExtractRetries:     cfg.Continuity.ExtractRetries,
		CriticalCategories: cfg.Continuity.CriticalCategories,
	}

	sizing := book.DefaultUnitSizing()
	sizing.IdealUnitWords = cfg.Generation.IdealUnitWords

	return core.New(core.Deps{
		Generator: generator,
		Store:     store,
		Files:     files,
		NewTracker: func() core.ContinuityChecker {
			return continuity.NewTracker(reliable, trackerCfg, logger)
		},
		Reporter: core.NewLogReporter(logger),
		Logger:   logger,
	}, core.Options{
		MaxConcurrentUnits: cfg.Generation.MaxConcurrentUnits,
		MaxUnitRetries:     cfg.Generation.MaxUnitRetries,
		IdealChapterWords:  cfg.Generation.IdealChapterWords,
		Sizing:             sizing,
		Gate: core.GateConfig{
			RejectBelow: cfg.Generation.RejectBelow,
			PolishAt:    cfg.Generation.PolishAt,
		},
		Retry: policy,
	})
}

// openData opens the local stores without the generation stack, for
// commands that only inspect state. No API key required.
func openData() (*storage.FileSystem, *storage.SQLite, error) {
	dir, err := config.DataDir(configFlag)
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.OpenSQLite(storage.DatabasePath(dir))
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return storage.NewFileSystem(dir), store, nil
}

// signalContext cancels the returned context on SIGINT or SIGTERM so a
// run stops at the next cancellation point with its checkpoint intact.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx, cancel
}
