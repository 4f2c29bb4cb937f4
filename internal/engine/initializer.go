package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voicevox-worker/internal/config"
	"github.com/book-expert/voicevox-worker/internal/core"
	"golang.org/x/sync/singleflight"
)

const initFlightKey = "engine"

// Initializer errors.
var (
	// ErrCoreDirMissing indicates that no core library directory could be found.
	ErrCoreDirMissing = errors.New("core library directory not found")
	// ErrClosed indicates the initializer was closed.
	ErrClosed = errors.New("engine initializer is closed")
)

// CoreOptions is what a CoreFactory needs to build the engine core.
type CoreOptions struct {
	CoreDir     string
	PresetsPath string
}

// CoreFactory builds the engine core. The returned process is nil when the
// engine was not launched by the worker.
type CoreFactory func(ctx context.Context, opts CoreOptions) (core.Engine, *Process, error)

// Option configures an Initializer.
type Option func(*Initializer)

// WithCoreFactory replaces the default HTTP/subprocess core factory.
func WithCoreFactory(factory CoreFactory) Option {
	return func(i *Initializer) {
		i.newCore = factory
	}
}

// Initializer builds the process-wide engine handle on first use. Concurrent
// callers during a cold start share one in-flight initialization; a failed
// attempt leaves nothing behind, so the next call starts over.
type Initializer struct {
	cfg     config.EngineConfig
	log     *logger.Logger
	newCore CoreFactory
	group   singleflight.Group

	mu     sync.RWMutex
	handle *Handle
	closed bool
}

// NewInitializer creates an initializer for the configured engine.
func NewInitializer(cfg config.EngineConfig, log *logger.Logger, opts ...Option) *Initializer {
	initializer := &Initializer{cfg: cfg, log: log}
	initializer.newCore = initializer.defaultCore

	for _, opt := range opts {
		opt(initializer)
	}

	return initializer
}

// Ensure returns the engine handle, initializing it if necessary.
// Failures are returned as core.KindInitialization errors.
func (i *Initializer) Ensure(ctx context.Context) (*Handle, error) {
	if handle := i.Current(); handle != nil {
		return handle, nil
	}

	result, err, _ := i.group.Do(initFlightKey, func() (any, error) {
		if handle := i.Current(); handle != nil {
			return handle, nil
		}

		if i.isClosed() {
			return nil, ErrClosed
		}

		handle, initErr := i.initialize(context.WithoutCancel(ctx))
		if initErr != nil {
			return nil, initErr
		}

		return i.store(handle)
	})
	if err != nil {
		return nil, core.NewError(core.KindInitialization, fmt.Errorf("engine initialization failed: %w", err))
	}

	handle, _ := result.(*Handle)

	return handle, nil
}

// Current returns the handle if initialization has completed, or nil.
func (i *Initializer) Current() *Handle {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return i.handle
}

// Close releases the handle, if any. An initialization still in flight
// releases its own handle when it completes, and later Ensure calls fail.
func (i *Initializer) Close() error {
	i.mu.Lock()
	handle := i.handle
	i.handle = nil
	i.closed = true
	i.mu.Unlock()

	if handle == nil {
		return nil
	}

	return handle.Close()
}

// store publishes handle unless Close ran while it was being built, in which
// case the handle is released instead.
func (i *Initializer) store(handle *Handle) (*Handle, error) {
	i.mu.Lock()
	if !i.closed {
		i.handle = handle
		i.mu.Unlock()

		return handle, nil
	}
	i.mu.Unlock()

	err := handle.Close()
	if err != nil {
		i.log.Warn("Failed to release engine initialized after close: %v", err)
	}

	return nil, ErrClosed
}

func (i *Initializer) isClosed() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return i.closed
}

func (i *Initializer) initialize(ctx context.Context) (*Handle, error) {
	started := time.Now()
	i.log.System("Initializing synthesis engine (gpu=%t, load_all_models=%t)", i.cfg.UseGPU, i.cfg.LoadAllModels)

	coreDir := resolveCoreDir(i.cfg.CoreDir, i.cfg.CoreDirFallback)
	presetsPath := firstExisting(i.cfg.PresetsPath, i.cfg.PresetsPathFallback)
	i.log.Info("Core directory: %s", coreDir)

	eng, proc, err := i.newCore(ctx, CoreOptions{CoreDir: coreDir, PresetsPath: presetsPath})
	if err != nil {
		return nil, err
	}

	handle := &Handle{engine: eng, process: proc}

	err = i.attach(ctx, handle, presetsPath)
	if err != nil {
		closeErr := handle.Close()
		if closeErr != nil {
			i.log.Warn("Failed to release engine after failed initialization: %v", closeErr)
		}

		return nil, err
	}

	i.log.System("Engine initialization complete in %s (version=%s, strategy=%s, user_dict=%t, presets=%t)",
		time.Since(started).Round(time.Millisecond), handle.version, handle.strategy,
		handle.HasUserDict(), handle.HasPresets())

	return handle, nil
}

// attach negotiates the strategy and loads the optional managers.
func (i *Initializer) attach(ctx context.Context, handle *Handle, presetsPath string) error {
	version, err := handle.engine.Version(ctx)
	if err != nil {
		return fmt.Errorf("failed to read engine version: %w", err)
	}

	handle.version = version

	handle.strategy, err = negotiateStrategy(ctx, handle.engine, i.cfg.Strategy)
	if err != nil {
		return err
	}

	userDict, err := LoadUserDict(ctx, handle.engine)
	if err != nil {
		i.log.Warn("User dictionary unavailable: %v", err)
	} else {
		handle.userDict = userDict
	}

	if presetsPath == "" {
		i.log.Info("No presets file found, presets unavailable")

		return nil
	}

	presets, err := LoadPresets(presetsPath)
	if err != nil {
		i.log.Warn("Presets unavailable: %v", err)
	} else {
		handle.presets = presets
	}

	return nil
}

// defaultCore connects to, or launches, a VOICEVOX engine over HTTP.
func (i *Initializer) defaultCore(ctx context.Context, opts CoreOptions) (core.Engine, *Process, error) {
	client := NewClient(i.cfg.URL, nil)

	if !i.cfg.Launch {
		_, err := client.Version(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("engine at %s is unreachable: %w", i.cfg.URL, err)
		}

		if i.cfg.LoadAllModels {
			err = client.LoadAllModels(ctx)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to load models: %w", err)
			}
		}

		return client, nil, nil
	}

	info, err := os.Stat(opts.CoreDir)
	if err != nil || !info.IsDir() {
		return nil, nil, fmt.Errorf("%w: tried '%s' and '%s'", ErrCoreDirMissing, i.cfg.CoreDir, i.cfg.CoreDirFallback)
	}

	proc, err := Launch(ctx, LaunchOptions{
		BinaryPath:    i.cfg.BinaryPath,
		CoreDir:       opts.CoreDir,
		PresetsPath:   opts.PresetsPath,
		BaseURL:       i.cfg.URL,
		UseGPU:        i.cfg.UseGPU,
		LoadAllModels: i.cfg.LoadAllModels,
		ReadyTimeout:  time.Duration(i.cfg.ReadyTimeoutSeconds) * time.Second,
	}, i.log)
	if err != nil {
		return nil, nil, err
	}

	return client, proc, nil
}

// resolveCoreDir prefers the production directory and falls back to the
// relative one used for local runs.
func resolveCoreDir(primary, fallback string) string {
	if primary != "" {
		if _, err := os.Stat(primary); err == nil {
			return primary
		}
	}

	return fallback
}

// firstExisting returns primary if it exists, else fallback if it exists, else "".
func firstExisting(primary, fallback string) string {
	if primary != "" {
		if _, err := os.Stat(primary); err == nil {
			return primary
		}
	}

	if fallback != "" {
		if _, err := os.Stat(fallback); err == nil {
			return fallback
		}
	}

	return ""
}
