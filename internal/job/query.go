package job

import (
	"context"
	"fmt"

	"github.com/book-expert/voicevox-worker/internal/core"
	"github.com/book-expert/voicevox-worker/internal/engine"
)

// QueryBuilder produces a synthesis query for a job.
type QueryBuilder interface {
	BuildQuery(ctx context.Context, req core.JobRequest) (*core.AudioQuery, error)
}

// PhraseFirst builds the query locally from the engine's accent phrases.
type PhraseFirst struct {
	Engine  core.AccentPhraseCreator
	Presets *engine.PresetStore
}

// BuildQuery decomposes the text and assembles a query with the request's
// scalars. An empty decomposition is passed through for the engine to judge.
func (b PhraseFirst) BuildQuery(ctx context.Context, req core.JobRequest) (*core.AudioQuery, error) {
	phrases, err := b.Engine.CreateAccentPhrases(ctx, req.Text, req.SpeakerID,
		core.AccentPhraseOptions{EnableKatakanaEnglish: req.EnableKatakanaEnglish})
	if err != nil {
		return nil, core.NewError(core.KindSynthesis, fmt.Errorf("failed to create accent phrases: %w", err))
	}

	if phrases == nil {
		phrases = []core.AccentPhrase{}
	}

	base := core.DefaultScales()

	preset, err := presetScales(b.Presets, req)
	if err != nil {
		return nil, err
	}

	if preset != nil {
		base = *preset
	}

	query := &core.AudioQuery{AccentPhrases: phrases}
	query.SetScales(overlay(base, req))
	fixOutputFormat(query)

	return query, nil
}

// QueryFirst asks the engine for a default query and overlays only the
// fields present in the job input.
type QueryFirst struct {
	Engine  core.DefaultQueryComputer
	Presets *engine.PresetStore
}

// BuildQuery fetches the engine's default query and applies the sparse overlay.
func (b QueryFirst) BuildQuery(ctx context.Context, req core.JobRequest) (*core.AudioQuery, error) {
	preset, err := presetScales(b.Presets, req)
	if err != nil {
		return nil, err
	}

	query, err := b.Engine.ComputeDefaultQuery(ctx, req.Text, req.SpeakerID)
	if err != nil {
		return nil, core.NewError(core.KindSynthesis, fmt.Errorf("failed to compute default query: %w", err))
	}

	base := query.Scales()
	if preset != nil {
		base = *preset
	}

	query.SetScales(overlay(base, req))
	fixOutputFormat(query)

	return query, nil
}

// NewQueryBuilder returns the builder for the strategy negotiated by handle.
func NewQueryBuilder(handle *engine.Handle) QueryBuilder {
	if handle.Strategy() == engine.QueryFirst {
		return QueryFirst{Engine: handle.Engine(), Presets: handle.Presets()}
	}

	return PhraseFirst{Engine: handle.Engine(), Presets: handle.Presets()}
}

// overlay replaces base values with the fields explicitly present in req.
func overlay(base core.ScaleParams, req core.JobRequest) core.ScaleParams {
	for _, field := range core.ScaleFields {
		if req.Has(field) {
			base = base.With(field, req.Scales.Get(field))
		}
	}

	return base
}

func presetScales(presets *engine.PresetStore, req core.JobRequest) (*core.ScaleParams, error) {
	if req.PresetID == nil {
		return nil, nil
	}

	if presets == nil {
		return nil, core.NewFieldError(keyPresetID, fmt.Errorf("%w: %d (no presets loaded)", ErrUnknownPreset, *req.PresetID))
	}

	preset, ok := presets.Get(*req.PresetID)
	if !ok {
		return nil, core.NewFieldError(keyPresetID, fmt.Errorf("%w: %d", ErrUnknownPreset, *req.PresetID))
	}

	scales := preset.Scales()

	return &scales, nil
}

func fixOutputFormat(query *core.AudioQuery) {
	query.OutputSamplingRate = core.OutputSamplingRate
	query.OutputStereo = false
}
