// Package core defines the domain types and collaborator interfaces for the voicevox worker.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// AccentPhraseOptions controls accent phrase decomposition.
type AccentPhraseOptions struct {
	// EnableKatakanaEnglish renders Latin segments as katakana-approximated pronunciation.
	EnableKatakanaEnglish bool
}

// SynthesisOptions controls a single synthesis call.
type SynthesisOptions struct {
	EnableInterrogativeUpspeak bool
}

// AccentPhraseCreator is the low-level engine capability used by the phrase-first strategy.
type AccentPhraseCreator interface {
	CreateAccentPhrases(ctx context.Context, text string, styleID int, opts AccentPhraseOptions) ([]AccentPhrase, error)
}

// DefaultQueryComputer is the high-level engine capability used by the query-first strategy.
type DefaultQueryComputer interface {
	ComputeDefaultQuery(ctx context.Context, text string, styleID int) (*AudioQuery, error)
}

// Synthesizer renders a query into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, query *AudioQuery, styleID int, opts SynthesisOptions) (*SynthesisResult, error)
}

// Capabilities reports which query-building operations an engine exposes.
type Capabilities struct {
	AccentPhrases bool
	AudioQuery    bool
}

// Engine is the full surface of a synthesis engine core as seen by the worker.
type Engine interface {
	AccentPhraseCreator
	DefaultQueryComputer
	Synthesizer

	Version(ctx context.Context) (string, error)
	Capabilities(ctx context.Context) (Capabilities, error)
	LoadAllModels(ctx context.Context) error
	Close() error
}
