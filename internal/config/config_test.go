// Package config_test tests the configuration loading for the voicevox worker.
package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/voicevox-worker/internal/config"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tomlData = `
[nats]
url = "nats://127.0.0.1:4222"
job_subject = "tts.jobs"
queue_group = "voicevox"
audio_object_store_bucket = "AUDIO_FILES"

[engine]
url = "http://127.0.0.1:50021"
launch = true
binary_path = "/opt/voicevox/run"
core_dir = "/opt/voicevox/core"
strategy = "query"
load_all_models = false
ready_timeout_seconds = 30

[worker]
concurrency = 4
`

func TestUnmarshalConfig(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	err := toml.Unmarshal([]byte(tomlData), &cfg)
	require.NoError(t, err)

	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "tts.jobs", cfg.NATS.JobSubject)
	assert.Equal(t, "voicevox", cfg.NATS.QueueGroup)
	assert.Equal(t, "AUDIO_FILES", cfg.NATS.AudioObjectStoreBucket)
	assert.Equal(t, "http://127.0.0.1:50021", cfg.Engine.URL)
	assert.True(t, cfg.Engine.Launch)
	assert.Equal(t, "/opt/voicevox/run", cfg.Engine.BinaryPath)
	assert.Equal(t, "/opt/voicevox/core", cfg.Engine.CoreDir)
	assert.Equal(t, config.StrategyQuery, cfg.Engine.Strategy)
	assert.False(t, cfg.Engine.LoadAllModels)
	assert.Equal(t, 30, cfg.Engine.ReadyTimeoutSeconds)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
}

func TestLoadFile_KeepsDefaultsForOmittedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "project.toml")
	require.NoError(t, os.WriteFile(path, []byte("[engine]\nstrategy = \"phrase\"\n"), 0o600))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, config.StrategyPhrase, cfg.Engine.Strategy)
	assert.Equal(t, "/app/voicevox_core", cfg.Engine.CoreDir)
	assert.Equal(t, "voicevox_core", cfg.Engine.CoreDirFallback)
	assert.True(t, cfg.Engine.UseGPU)
	assert.Equal(t, 1, cfg.Worker.Concurrency)
}

func TestLoadFile_EnvironmentOverrides(t *testing.T) {
	t.Setenv("VOICEVOX_ENGINE_URL", "http://engine:50021")
	t.Setenv("WORKER_CONCURRENCY", "8")

	path := filepath.Join(t.TempDir(), "project.toml")
	require.NoError(t, os.WriteFile(path, []byte(tomlData), 0o600))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "http://engine:50021", cfg.Engine.URL)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, "tts.jobs", cfg.NATS.JobSubject)
}

func TestLoadFile_RejectsUnknownStrategy(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "project.toml")
	require.NoError(t, os.WriteFile(path, []byte("[engine]\nstrategy = \"magic\"\n"), 0o600))

	_, err := config.LoadFile(path)
	require.ErrorIs(t, err, config.ErrUnknownStrategy)
}
