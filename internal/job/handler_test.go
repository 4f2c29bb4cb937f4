package job_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/voicevox-worker/internal/config"
	"github.com/book-expert/voicevox-worker/internal/core"
	"github.com/book-expert/voicevox-worker/internal/engine"
	"github.com/book-expert/voicevox-worker/internal/engine/enginetest"
	"github.com/book-expert/voicevox-worker/internal/job"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMockStore = errors.New("mock store failure")

type mockStore struct {
	mu      sync.Mutex
	uploads map[string][]byte
	err     error
}

func (m *mockStore) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.uploads[key], nil
}

func (m *mockStore) Upload(_ context.Context, key string, data []byte) error {
	if m.err != nil {
		return m.err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.uploads == nil {
		m.uploads = make(map[string][]byte)
	}

	m.uploads[key] = data

	return nil
}

type panickingProvider struct{}

func (panickingProvider) Ensure(context.Context) (*engine.Handle, error) { panic("engine exploded") }

func (panickingProvider) Current() *engine.Handle { return nil }

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func newHandler(t *testing.T, fake *enginetest.Server, store core.ObjectStore) *job.Handler {
	t.Helper()

	cfg := config.Default().Engine
	cfg.URL = fake.URL
	cfg.Launch = false
	cfg.PresetsPath = filepath.Join(t.TempDir(), "none.yaml")
	cfg.PresetsPathFallback = ""

	log := newTestLogger(t)
	initializer := engine.NewInitializer(cfg, log)

	t.Cleanup(func() { _ = initializer.Close() })

	return job.NewHandler(initializer, store, log)
}

func decodeAudio(t *testing.T, resp job.Response) *wav.Decoder {
	t.Helper()

	raw, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	require.NoError(t, err)

	decoder := wav.NewDecoder(bytes.NewReader(raw))
	require.True(t, decoder.IsValidFile())

	buf, err := decoder.FullPCMBuffer()
	require.NoError(t, err)
	assert.NotEmpty(t, buf.Data)

	return decoder
}

func TestHandle_SynthesizesWAV(t *testing.T) {
	t.Parallel()

	fake := enginetest.Start(t)
	handler := newHandler(t, fake, nil)

	resp := handler.Handle(context.Background(), job.Job{ID: "job-1", Input: map[string]any{"text": "hello"}})

	require.True(t, resp.Succeeded(), resp.Error)
	assert.Empty(t, resp.Error)
	assert.Equal(t, job.StatusSuccess, resp.Status)
	assert.Equal(t, 24000, resp.SamplingRate)
	assert.Empty(t, resp.AudioKey)

	decoder := decodeAudio(t, resp)
	assert.Equal(t, uint32(24000), decoder.SampleRate)
	assert.Equal(t, uint16(16), decoder.BitDepth)
	assert.Equal(t, uint16(1), decoder.NumChans)

	assert.Equal(t, "1", fake.LastSynthesisParam("speaker"))
	assert.Equal(t, "true", fake.LastSynthesisParam("enable_interrogative_upspeak"))
}

func TestHandle_EncodesRawSamples(t *testing.T) {
	t.Parallel()

	fake := enginetest.Start(t, func(s *enginetest.Server) { s.RawOutput = true })
	handler := newHandler(t, fake, nil)

	resp := handler.Handle(context.Background(), job.Job{ID: "raw", Input: map[string]any{"text": "テストです"}})

	require.True(t, resp.Succeeded(), resp.Error)

	decoder := decodeAudio(t, resp)
	assert.Equal(t, uint32(24000), decoder.SampleRate)
	assert.Equal(t, uint16(16), decoder.BitDepth)
}

func TestHandle_MissingTextSkipsEngine(t *testing.T) {
	t.Parallel()

	fake := enginetest.Start(t)
	handler := newHandler(t, fake, nil)

	for _, input := range []map[string]any{{}, {"text": ""}, {"speaker_id": 1}} {
		resp := handler.Handle(context.Background(), job.Job{ID: "empty", Input: input})

		assert.Equal(t, job.Response{Error: "Missing 'text' in input"}, resp)
	}

	assert.Zero(t, fake.VersionCalls())
	assert.Zero(t, fake.SynthesisCalls())
	assert.Nil(t, handler.Engines().Current())

	out, err := json.Marshal(handler.Handle(context.Background(), job.Job{}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"Missing 'text' in input"}`, string(out))
}

func TestHandle_MalformedFieldFails(t *testing.T) {
	t.Parallel()

	fake := enginetest.Start(t)
	handler := newHandler(t, fake, nil)

	resp := handler.Handle(context.Background(), job.Job{
		ID:    "bad",
		Input: map[string]any{"text": "hello", "speed_scale": "fast"},
	})

	assert.Equal(t, job.StatusFailed, resp.Status)
	assert.Contains(t, resp.Error, "speed_scale")
	assert.Empty(t, resp.AudioBase64)
	assert.Zero(t, fake.VersionCalls())
}

func TestHandle_SynthesisFailure(t *testing.T) {
	t.Parallel()

	fake := enginetest.Start(t, func(s *enginetest.Server) { s.SynthesisError = "style 999 not found" })
	handler := newHandler(t, fake, nil)

	resp := handler.Handle(context.Background(), job.Job{
		ID:    "fail",
		Input: map[string]any{"text": "hello", "speaker_id": 999},
	})

	assert.Equal(t, job.StatusFailed, resp.Status)
	assert.Contains(t, resp.Error, "style 999 not found")
	assert.Empty(t, resp.AudioBase64)
	assert.Equal(t, int64(1), fake.SynthesisCalls(), "synthesis is not retried")

	// The engine stays usable for the next job.
	assert.NotNil(t, handler.Engines().Current())
}

func TestHandle_InitializationFailure(t *testing.T) {
	t.Parallel()

	fake := enginetest.Start(t, func(s *enginetest.Server) {
		s.DisableAccentPhrases = true
		s.DisableAudioQuery = true
	})
	handler := newHandler(t, fake, nil)

	resp := handler.Handle(context.Background(), job.Job{ID: "init", Input: map[string]any{"text": "hello"}})

	assert.Equal(t, job.StatusFailed, resp.Status)
	assert.Contains(t, resp.Error, "engine initialization failed")
	assert.Nil(t, handler.Engines().Current())
}

func TestHandle_QueryFirstOverlay(t *testing.T) {
	t.Parallel()

	fake := enginetest.Start(t, func(s *enginetest.Server) { s.DisableAccentPhrases = true })
	handler := newHandler(t, fake, nil)

	resp := handler.Handle(context.Background(), job.Job{
		ID:    "overlay",
		Input: map[string]any{"text": "hello", "speed_scale": json.Number("1.5")},
	})
	require.True(t, resp.Succeeded(), resp.Error)

	sent := fake.LastQuery()
	require.NotNil(t, sent)

	engineDefaults := enginetest.DefaultEngineQuery()
	want := engineDefaults.Scales()
	want.SpeedScale = 1.5

	assert.Equal(t, want, sent.Scales())
	assert.Equal(t, core.OutputSamplingRate, sent.OutputSamplingRate)
	assert.False(t, sent.OutputStereo)
}

func TestHandle_ConcurrentJobsInitializeOnce(t *testing.T) {
	t.Parallel()

	fake := enginetest.Start(t)
	handler := newHandler(t, fake, nil)

	const jobs = 8

	responses := make([]job.Response, jobs)

	var waitGroup sync.WaitGroup

	for i := range jobs {
		waitGroup.Add(1)

		go func(index int) {
			defer waitGroup.Done()

			responses[index] = handler.Handle(context.Background(), job.Job{Input: map[string]any{"text": "hello"}})
		}(i)
	}

	waitGroup.Wait()

	for _, resp := range responses {
		assert.True(t, resp.Succeeded(), resp.Error)
	}

	assert.Equal(t, int64(2), fake.InitializeCalls(), "models are warmed exactly once")
	assert.Equal(t, int64(jobs), fake.SynthesisCalls())
}

func TestHandle_ArchivesAudio(t *testing.T) {
	t.Parallel()

	fake := enginetest.Start(t)
	store := &mockStore{}
	handler := newHandler(t, fake, store)

	resp := handler.Handle(context.Background(), job.Job{ID: "archive", Input: map[string]any{"text": "hello"}})
	require.True(t, resp.Succeeded(), resp.Error)
	require.NotEmpty(t, resp.AudioKey)

	stored, err := store.Download(context.Background(), resp.AudioKey)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	require.NoError(t, err)
	assert.Equal(t, raw, stored)
}

func TestHandle_ArchiveFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	fake := enginetest.Start(t)
	handler := newHandler(t, fake, &mockStore{err: errMockStore})

	resp := handler.Handle(context.Background(), job.Job{ID: "archive", Input: map[string]any{"text": "hello"}})

	assert.True(t, resp.Succeeded(), resp.Error)
	assert.Empty(t, resp.AudioKey)
}

func TestHandle_RecoversFromPanic(t *testing.T) {
	t.Parallel()

	handler := job.NewHandler(panickingProvider{}, nil, newTestLogger(t))

	resp := handler.Handle(context.Background(), job.Job{ID: "panic", Input: map[string]any{"text": "hello"}})

	assert.Equal(t, job.StatusFailed, resp.Status)
	assert.Contains(t, resp.Error, "engine exploded")
}

func TestProcess_EchoesEnvelope(t *testing.T) {
	t.Parallel()

	fake := enginetest.Start(t)
	handler := newHandler(t, fake, nil)

	header := &events.EventHeader{WorkflowID: "wf-1", EventID: "ev-1"}

	result := handler.Process(context.Background(), job.Job{ID: "job-9", Header: header, Input: map[string]any{}})

	assert.Equal(t, "job-9", result.ID)
	assert.Equal(t, header, result.Header)
	assert.Equal(t, "Missing 'text' in input", result.Output.Error)
}

func TestDecodeJob(t *testing.T) {
	t.Parallel()

	decoded, err := job.DecodeJob([]byte(`{"id":"abc","input":{"text":"hi","speaker_id":3,"speed_scale":1.25}}`))
	require.NoError(t, err)

	assert.Equal(t, "abc", decoded.ID)
	assert.Equal(t, json.Number("3"), decoded.Input["speaker_id"])

	req, err := job.Validate(decoded.Input)
	require.NoError(t, err)
	assert.Equal(t, 3, req.SpeakerID)
	assert.InEpsilon(t, 1.25, req.Scales.SpeedScale, 1e-9)

	generated, err := job.DecodeJob([]byte(`{"input":{"text":"hi"}}`))
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID)

	_, err = job.DecodeJob([]byte(`{"input":`))
	require.Error(t, err)
}
