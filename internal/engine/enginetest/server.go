// Package enginetest provides an in-process fake of the VOICEVOX engine HTTP API for tests.
package enginetest

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/book-expert/voicevox-worker/internal/audio"
	"github.com/book-expert/voicevox-worker/internal/core"
)

// Version is the version string served by the fake engine.
const Version = "0.14.0-fake"

// Server is a fake engine. Fields must be set before the first request.
type Server struct {
	*httptest.Server

	// DisableAccentPhrases hides /accent_phrases from the OpenAPI document.
	DisableAccentPhrases bool
	// DisableAudioQuery hides /audio_query from the OpenAPI document.
	DisableAudioQuery bool
	// RawOutput makes /synthesis answer with little-endian float32 samples.
	RawOutput bool
	// SynthesisError, when set, makes /synthesis fail with this detail.
	SynthesisError string
	// DefaultQuery is returned by /audio_query, with accent phrases filled in.
	DefaultQuery core.AudioQuery
	// Phrases is returned by /accent_phrases and used in default queries.
	Phrases []core.AccentPhrase
	// UserDictWords is the number of words served by /user_dict; negative fails the request.
	UserDictWords int

	mu               sync.Mutex
	lastQuery        *core.AudioQuery
	lastSynthParams  map[string]string
	lastPhraseParams map[string]string

	versionCalls    atomic.Int64
	initializeCalls atomic.Int64
	synthesisCalls  atomic.Int64
	phraseCalls     atomic.Int64
	queryCalls      atomic.Int64
}

// DefaultEngineQuery returns scalar defaults that differ from the worker's
// neutral defaults, so tests can tell which one was used.
func DefaultEngineQuery() core.AudioQuery {
	return core.AudioQuery{
		SpeedScale:         1.0,
		PitchScale:         0.05,
		IntonationScale:    1.2,
		VolumeScale:        0.9,
		PrePhonemeLength:   0.15,
		PostPhonemeLength:  0.2,
		OutputSamplingRate: core.OutputSamplingRate,
	}
}

// DefaultPhrases returns a single two-mora accent phrase.
func DefaultPhrases() []core.AccentPhrase {
	consonant := "t"
	consonantLength := 0.05

	return []core.AccentPhrase{{
		Moras: []core.Mora{
			{Text: "テ", Consonant: &consonant, ConsonantLength: &consonantLength, Vowel: "e", VowelLength: 0.1, Pitch: 5.5},
			{Text: "ス", Vowel: "U", VowelLength: 0.08, Pitch: 0},
		},
		Accent: 1,
	}}
}

// New creates an unstarted fake engine with default responses.
func New() *Server {
	fake := &Server{
		DefaultQuery:  DefaultEngineQuery(),
		Phrases:       DefaultPhrases(),
		UserDictWords: 2,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /version", fake.handleVersion)
	mux.HandleFunc("GET /openapi.json", fake.handleOpenAPI)
	mux.HandleFunc("GET /speakers", fake.handleSpeakers)
	mux.HandleFunc("POST /initialize_speaker", fake.handleInitialize)
	mux.HandleFunc("POST /accent_phrases", fake.handleAccentPhrases)
	mux.HandleFunc("POST /audio_query", fake.handleAudioQuery)
	mux.HandleFunc("POST /synthesis", fake.handleSynthesis)
	mux.HandleFunc("GET /user_dict", fake.handleUserDict)

	fake.Server = httptest.NewUnstartedServer(mux)

	return fake
}

// Start creates and starts a fake engine, closed when the test ends.
func Start(t *testing.T, configure ...func(*Server)) *Server {
	t.Helper()

	fake := New()
	for _, fn := range configure {
		fn(fake)
	}

	fake.Server.Start()
	t.Cleanup(fake.Close)

	return fake
}

// LastQuery returns the query most recently sent to /synthesis.
func (s *Server) LastQuery() *core.AudioQuery {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastQuery
}

// LastSynthesisParam returns a query parameter of the most recent /synthesis call.
func (s *Server) LastSynthesisParam(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastSynthParams[name]
}

// LastPhraseParam returns a query parameter of the most recent /accent_phrases call.
func (s *Server) LastPhraseParam(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastPhraseParams[name]
}

// VersionCalls returns how many times /version was requested.
func (s *Server) VersionCalls() int64 { return s.versionCalls.Load() }

// InitializeCalls returns how many styles were initialized.
func (s *Server) InitializeCalls() int64 { return s.initializeCalls.Load() }

// SynthesisCalls returns how many times /synthesis was requested.
func (s *Server) SynthesisCalls() int64 { return s.synthesisCalls.Load() }

// PhraseCalls returns how many times /accent_phrases was requested.
func (s *Server) PhraseCalls() int64 { return s.phraseCalls.Load() }

// QueryCalls returns how many times /audio_query was requested.
func (s *Server) QueryCalls() int64 { return s.queryCalls.Load() }

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	s.versionCalls.Add(1)
	writeJSON(w, http.StatusOK, Version)
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	paths := map[string]any{"/synthesis": map[string]any{}}
	if !s.DisableAccentPhrases {
		paths["/accent_phrases"] = map[string]any{}
	}

	if !s.DisableAudioQuery {
		paths["/audio_query"] = map[string]any{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"openapi": "3.1.0", "paths": paths})
}

func (s *Server) handleSpeakers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, []map[string]any{{
		"name":         "fake",
		"speaker_uuid": "00000000-0000-0000-0000-000000000000",
		"styles":       []map[string]any{{"id": 1, "name": "normal"}, {"id": 3, "name": "sweet"}},
	}})
}

func (s *Server) handleInitialize(w http.ResponseWriter, _ *http.Request) {
	s.initializeCalls.Add(1)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAccentPhrases(w http.ResponseWriter, r *http.Request) {
	s.phraseCalls.Add(1)

	s.mu.Lock()
	s.lastPhraseParams = flatten(r)
	s.mu.Unlock()

	if s.DisableAccentPhrases {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not Found"})

		return
	}

	writeJSON(w, http.StatusOK, s.Phrases)
}

func (s *Server) handleAudioQuery(w http.ResponseWriter, _ *http.Request) {
	s.queryCalls.Add(1)

	if s.DisableAudioQuery {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not Found"})

		return
	}

	query := s.DefaultQuery
	query.AccentPhrases = s.Phrases
	writeJSON(w, http.StatusOK, query)
}

func (s *Server) handleSynthesis(w http.ResponseWriter, r *http.Request) {
	s.synthesisCalls.Add(1)

	var query core.AudioQuery

	body, _ := io.ReadAll(r.Body)
	if err := json.Unmarshal(body, &query); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})

		return
	}

	s.mu.Lock()
	s.lastQuery = &query
	s.lastSynthParams = flatten(r)
	s.mu.Unlock()

	if s.SynthesisError != "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": s.SynthesisError})

		return
	}

	samples := make([]float32, query.OutputSamplingRate/100)
	for i := range samples {
		samples[i] = float32(0.25 * math.Sin(float64(i)/4))
	}

	if s.RawOutput {
		raw := make([]byte, 4*len(samples))
		for i, v := range samples {
			binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
		}

		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(raw)

		return
	}

	wav, err := audio.EncodeWAV(samples, query.OutputSamplingRate)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})

		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	_, _ = w.Write(wav)
}

func (s *Server) handleUserDict(w http.ResponseWriter, _ *http.Request) {
	if s.UserDictWords < 0 {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "dictionary unavailable"})

		return
	}

	words := make(map[string]any, s.UserDictWords)
	for i := range s.UserDictWords {
		words["word-"+strconv.Itoa(i)] = map[string]any{"surface": "x"}
	}

	writeJSON(w, http.StatusOK, words)
}

func flatten(r *http.Request) map[string]string {
	out := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			out[key] = values[0]
		}
	}

	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
