// Package config provides the configuration structure for the voicevox worker.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Query strategies accepted by engine.strategy.
const (
	StrategyAuto   = "auto"
	StrategyPhrase = "phrase"
	StrategyQuery  = "query"
)

// ErrUnknownStrategy indicates an unsupported engine.strategy value.
var ErrUnknownStrategy = errors.New("unknown query strategy")

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"                       env:"NATS_URL"`
	JobSubject             string `toml:"job_subject"               env:"NATS_JOB_SUBJECT"`
	QueueGroup             string `toml:"queue_group"               env:"NATS_QUEUE_GROUP"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket" env:"NATS_AUDIO_BUCKET"`
}

// EngineConfig describes how to reach or start the synthesis engine.
type EngineConfig struct {
	URL                 string `toml:"url"                   env:"VOICEVOX_ENGINE_URL"`
	Launch              bool   `toml:"launch"                env:"VOICEVOX_LAUNCH"`
	BinaryPath          string `toml:"binary_path"           env:"VOICEVOX_BINARY"`
	CoreDir             string `toml:"core_dir"              env:"VOICEVOX_CORE_DIR"`
	CoreDirFallback     string `toml:"core_dir_fallback"     env:"VOICEVOX_CORE_DIR_FALLBACK"`
	PresetsPath         string `toml:"presets_path"          env:"VOICEVOX_PRESETS"`
	PresetsPathFallback string `toml:"presets_path_fallback" env:"VOICEVOX_PRESETS_FALLBACK"`
	Strategy            string `toml:"strategy"              env:"VOICEVOX_STRATEGY"`
	UseGPU              bool   `toml:"use_gpu"               env:"VOICEVOX_USE_GPU"`
	LoadAllModels       bool   `toml:"load_all_models"       env:"VOICEVOX_LOAD_ALL_MODELS"`
	ReadyTimeoutSeconds int    `toml:"ready_timeout_seconds" env:"VOICEVOX_READY_TIMEOUT"`
}

// WorkerConfig holds job processing settings.
type WorkerConfig struct {
	Concurrency int `toml:"concurrency" env:"WORKER_CONCURRENCY"`
}

// HTTPConfig holds the settings for the HTTP job endpoint.
type HTTPConfig struct {
	Addr string `toml:"addr" env:"HTTP_ADDR"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir" env:"LOGS_DIR"`
}

// Config is the root configuration structure.
type Config struct {
	NATS   NATSConfig   `toml:"nats"`
	Engine EngineConfig `toml:"engine"`
	Worker WorkerConfig `toml:"worker"`
	HTTP   HTTPConfig   `toml:"http"`
	Paths  PathsConfig  `toml:"paths"`
}

// Default returns a configuration with every field at its production default.
func Default() Config {
	return Config{
		NATS: NATSConfig{
			URL:        "nats://127.0.0.1:4222",
			JobSubject: "tts.jobs",
			QueueGroup: "voicevox-workers",
		},
		Engine: EngineConfig{
			URL:                 "http://127.0.0.1:50021",
			BinaryPath:          "/app/run",
			CoreDir:             "/app/voicevox_core",
			CoreDirFallback:     "voicevox_core",
			PresetsPath:         "/app/presets.yaml",
			PresetsPathFallback: "presets.yaml",
			Strategy:            StrategyAuto,
			UseGPU:              true,
			LoadAllModels:       true,
			ReadyTimeoutSeconds: 120,
		},
		Worker: WorkerConfig{Concurrency: 1},
		HTTP:   HTTPConfig{Addr: ":8080"},
		Paths:  PathsConfig{BaseLogsDir: os.TempDir()},
	}
}

// Load loads the configuration from the central configurator, then applies
// environment overrides. A configurator failure is logged and the defaults
// are used instead, since serverless images usually carry settings in the environment.
func Load(log *logger.Logger) (*Config, error) {
	cfg := Default()

	err := configurator.Load(&cfg, log)
	if err != nil {
		log.Warn("Central configuration unavailable, using defaults: %v", err)
	}

	return finish(&cfg)
}

// LoadFile loads the configuration from a TOML file, then applies environment overrides.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	cfg := Default()

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file '%s': %w", path, err)
	}

	return finish(&cfg)
}

// LoadDotEnv loads variables from a .env file if one exists.
func LoadDotEnv() error {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	return nil
}

func finish(cfg *Config) (*Config, error) {
	err := env.Parse(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Engine.Strategy {
	case StrategyAuto, StrategyPhrase, StrategyQuery:
	default:
		return fmt.Errorf("%w: '%s'", ErrUnknownStrategy, c.Engine.Strategy)
	}

	if c.Worker.Concurrency < 1 {
		c.Worker.Concurrency = 1
	}

	return nil
}
