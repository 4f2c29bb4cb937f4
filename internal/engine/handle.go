package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/voicevox-worker/internal/config"
	"github.com/book-expert/voicevox-worker/internal/core"
)

// Strategy selects how a synthesis query is obtained from the engine.
type Strategy int

// Query strategies.
const (
	// PhraseFirst decomposes text into accent phrases and assembles the query locally.
	PhraseFirst Strategy = iota + 1
	// QueryFirst asks the engine for a default query and overlays job overrides.
	QueryFirst
)

func (s Strategy) String() string {
	switch s {
	case PhraseFirst:
		return "phrase-first"
	case QueryFirst:
		return "query-first"
	default:
		return "unknown"
	}
}

// ErrNoQueryCapability indicates the engine exposes neither query operation.
var ErrNoQueryCapability = errors.New("engine exposes neither accent phrase nor audio query operations")

// Handle is the initialized engine together with its optional managers.
// It is created once per process by an Initializer and shared by all jobs.
type Handle struct {
	engine   core.Engine
	strategy Strategy
	version  string
	userDict *UserDict
	presets  *PresetStore
	process  *Process
}

// Engine returns the engine core.
func (h *Handle) Engine() core.Engine {
	return h.engine
}

// Strategy returns the query strategy negotiated at initialization.
func (h *Handle) Strategy() Strategy {
	return h.strategy
}

// Version returns the engine version reported at initialization.
func (h *Handle) Version() string {
	return h.version
}

// HasUserDict reports whether the user dictionary manager is available.
func (h *Handle) HasUserDict() bool {
	return h.userDict != nil
}

// UserDict returns the user dictionary manager, or nil.
func (h *Handle) UserDict() *UserDict {
	return h.userDict
}

// HasPresets reports whether a presets file was loaded.
func (h *Handle) HasPresets() bool {
	return h.presets != nil
}

// Presets returns the preset store, or nil.
func (h *Handle) Presets() *PresetStore {
	return h.presets
}

// Close stops the engine process if this handle launched one.
func (h *Handle) Close() error {
	engineErr := h.engine.Close()

	var procErr error
	if h.process != nil {
		procErr = h.process.Stop()
	}

	return errors.Join(engineErr, procErr)
}

// UserDict summarizes the engine's user dictionary.
type UserDict struct {
	words int
}

// Words returns the number of registered words.
func (u *UserDict) Words() int {
	return u.words
}

type userDictSource interface {
	UserDictWords(ctx context.Context) (int, error)
}

// LoadUserDict reads the user dictionary from engines that serve one.
func LoadUserDict(ctx context.Context, eng core.Engine) (*UserDict, error) {
	source, ok := eng.(userDictSource)
	if !ok {
		return nil, nil
	}

	words, err := source.UserDictWords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read user dictionary: %w", err)
	}

	return &UserDict{words: words}, nil
}

// negotiateStrategy resolves the configured strategy against the engine's capabilities.
func negotiateStrategy(ctx context.Context, eng core.Engine, configured string) (Strategy, error) {
	switch configured {
	case config.StrategyPhrase:
		return PhraseFirst, nil
	case config.StrategyQuery:
		return QueryFirst, nil
	}

	caps, err := eng.Capabilities(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to detect engine capabilities: %w", err)
	}

	switch {
	case caps.AccentPhrases:
		return PhraseFirst, nil
	case caps.AudioQuery:
		return QueryFirst, nil
	default:
		return 0, ErrNoQueryCapability
	}
}
