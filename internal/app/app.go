package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/vk/atomflow/internal/ctxlog"
	"github.com/vk/atomflow/internal/execution"
	"github.com/vk/atomflow/internal/hclconf"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	ec     *execution.Context
	cfg    *execution.Config
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger and
// execution context.
func NewApp(outW io.Writer, appConfig *Config, loader *hclconf.Loader) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	cfg, err := loader.Load(ctx, appConfig.ConfigPath)
	if err != nil {
		// A failure to load config is a fatal startup error.
		panic(fmt.Errorf("failed to load configuration: %w", err))
	}
	logger.Debug("Execution configuration loaded.",
		"lanes", len(cfg.Lanes), "definitions", len(cfg.Definitions))

	dir := appConfig.WorkDir
	if dir == "" {
		dir, err = os.MkdirTemp("", "atomflow_")
		if err != nil {
			panic(fmt.Errorf("failed to create working directory: %w", err))
		}
	}

	ec, err := execution.NewContext(ctx, cfg, dir)
	if err != nil {
		// Misconfigured lanes or definitions cannot be recovered from.
		panic(fmt.Errorf("failed to build execution context: %w", err))
	}
	logger.Debug("Execution context ready.", "dir", ec.Dir())

	return &App{
		outW:   outW,
		logger: logger,
		ec:     ec,
		cfg:    cfg,
	}
}

// Execution returns the application's execution context. This is primarily
// for testing.
func (a *App) Execution() *execution.Context {
	return a.ec
}
