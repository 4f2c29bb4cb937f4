package main

import (
	"context"
	"fmt"
	"os"

	"github.com/book-expert/logger"
	"github.com/book-expert/voicevox-worker/internal/config"
	"github.com/book-expert/voicevox-worker/internal/core"
	"github.com/book-expert/voicevox-worker/internal/engine"
	"github.com/book-expert/voicevox-worker/internal/job"
)

// app holds everything a command needs once bootstrap is done.
type app struct {
	cfg         *config.Config
	log         *logger.Logger
	initializer *engine.Initializer
}

func setupLogger(logPath, name string) (*logger.Logger, error) {
	log, err := logger.New(logPath, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func loadConfig(bootstrapLog *logger.Logger) (*config.Config, error) {
	err := config.LoadDotEnv()
	if err != nil {
		bootstrapLog.Warn("%v", err)
	}

	if configPath != "" {
		return config.LoadFile(configPath)
	}

	return config.Load(bootstrapLog)
}

// bootstrap loads configuration with a temporary logger, then opens the
// final logger in the configured directory.
func bootstrap(logName string) (*app, error) {
	bootstrapLog, err := setupLogger(os.TempDir(), "voicevox-worker-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return nil, err
	}

	defer func() { _ = bootstrapLog.Close() }()

	bootstrapLog.Info("Bootstrap logger created.")

	cfg, err := loadConfig(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, logName)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return nil, fmt.Errorf("failed to create final logger: %w", err)
	}

	return &app{
		cfg:         cfg,
		log:         finalLog,
		initializer: engine.NewInitializer(cfg.Engine, finalLog),
	}, nil
}

func (a *app) handler(store core.ObjectStore) *job.Handler {
	return job.NewHandler(a.initializer, store, a.log)
}

// warm starts engine initialization in the background. Jobs arriving in
// the meantime join the same initialization.
func (a *app) warm() {
	if !warmEngine {
		return
	}

	go func() {
		_, err := a.initializer.Ensure(context.Background())
		if err != nil {
			a.log.Error("Engine warmup failed, will retry on the next job: %v", err)
		}
	}()
}

func (a *app) close() {
	err := a.initializer.Close()
	if err != nil {
		a.log.Error("Failed to stop engine: %v", err)
	}

	err = a.log.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", err)
	}
}
