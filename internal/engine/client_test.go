package engine_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/book-expert/voicevox-worker/internal/core"
	"github.com/book-expert/voicevox-worker/internal/engine"
	"github.com/book-expert/voicevox-worker/internal/engine/enginetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_CreateAccentPhrases(t *testing.T) {
	t.Parallel()

	fake := enginetest.Start(t)
	client := engine.NewClient(fake.URL, nil)

	phrases, err := client.CreateAccentPhrases(context.Background(), "テスト", 3,
		core.AccentPhraseOptions{EnableKatakanaEnglish: false})
	require.NoError(t, err)

	assert.Equal(t, enginetest.DefaultPhrases(), phrases)
	assert.Equal(t, "テスト", fake.LastPhraseParam("text"))
	assert.Equal(t, "3", fake.LastPhraseParam("speaker"))
	assert.Equal(t, "false", fake.LastPhraseParam("enable_katakana_english"))
}

func TestClient_ComputeDefaultQuery(t *testing.T) {
	t.Parallel()

	fake := enginetest.Start(t)
	client := engine.NewClient(fake.URL, nil)

	query, err := client.ComputeDefaultQuery(context.Background(), "テスト", 1)
	require.NoError(t, err)

	want := enginetest.DefaultEngineQuery()
	assert.Equal(t, want.Scales(), query.Scales())
	assert.Len(t, query.AccentPhrases, 1)
	assert.Equal(t, int64(1), fake.QueryCalls())
}

func TestClient_SynthesizeTagsEncodedAudio(t *testing.T) {
	t.Parallel()

	fake := enginetest.Start(t)
	client := engine.NewClient(fake.URL, nil)

	query := enginetest.DefaultEngineQuery()
	result, err := client.Synthesize(context.Background(), &query, 1,
		core.SynthesisOptions{EnableInterrogativeUpspeak: true})
	require.NoError(t, err)

	assert.Equal(t, core.ResultEncoded, result.Kind)
	assert.Equal(t, "RIFF", string(result.Encoded[:4]))
	assert.Nil(t, result.Samples)
	assert.Equal(t, "true", fake.LastSynthesisParam("enable_interrogative_upspeak"))
}

func TestClient_SynthesizeTagsRawSamples(t *testing.T) {
	t.Parallel()

	fake := enginetest.Start(t, func(s *enginetest.Server) { s.RawOutput = true })
	client := engine.NewClient(fake.URL, nil)

	query := enginetest.DefaultEngineQuery()
	result, err := client.Synthesize(context.Background(), &query, 1, core.SynthesisOptions{})
	require.NoError(t, err)

	assert.Equal(t, core.ResultSamples, result.Kind)
	assert.Len(t, result.Samples, core.OutputSamplingRate/100)
	assert.Equal(t, core.OutputSamplingRate, result.SampleRate)
	assert.Equal(t, 1, result.Channels)
	assert.Nil(t, result.Encoded)
}

func TestClient_SynthesizeSurfacesEngineDetail(t *testing.T) {
	t.Parallel()

	fake := enginetest.Start(t, func(s *enginetest.Server) { s.SynthesisError = "accent phrase list is empty" })
	client := engine.NewClient(fake.URL, nil)

	query := enginetest.DefaultEngineQuery()
	_, err := client.Synthesize(context.Background(), &query, 1, core.SynthesisOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accent phrase list is empty")
}

func TestClient_NonJSONErrorBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream gone"))
	}))
	defer server.Close()

	_, err := engine.NewClient(server.URL, nil).Version(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream gone")
}

func TestClient_Capabilities(t *testing.T) {
	t.Parallel()

	fake := enginetest.Start(t, func(s *enginetest.Server) { s.DisableAudioQuery = true })

	caps, err := engine.NewClient(fake.URL, nil).Capabilities(context.Background())
	require.NoError(t, err)
	assert.True(t, caps.AccentPhrases)
	assert.False(t, caps.AudioQuery)
}

func TestClient_LoadAllModels(t *testing.T) {
	t.Parallel()

	fake := enginetest.Start(t)

	require.NoError(t, engine.NewClient(fake.URL, nil).LoadAllModels(context.Background()))
	assert.Equal(t, int64(2), fake.InitializeCalls())
}
