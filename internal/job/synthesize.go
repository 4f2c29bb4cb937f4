package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/voicevox-worker/internal/core"
)

var errNoResult = errors.New("engine returned no result")

// Synthesize renders query for the request's speaker. Engine failures are
// returned as core.KindSynthesis errors and are not retried.
func Synthesize(
	ctx context.Context,
	synth core.Synthesizer,
	query *core.AudioQuery,
	req core.JobRequest,
) (*core.SynthesisResult, error) {
	result, err := synth.Synthesize(ctx, query, req.SpeakerID,
		core.SynthesisOptions{EnableInterrogativeUpspeak: req.EnableInterrogativeUpspeak})
	if err != nil {
		return nil, core.NewError(core.KindSynthesis, err)
	}

	if result == nil {
		return nil, core.NewError(core.KindSynthesis, errNoResult)
	}

	switch result.Kind {
	case core.ResultEncoded, core.ResultSamples:
		return result, nil
	default:
		return nil, core.NewError(core.KindSynthesis, fmt.Errorf("engine returned untagged result (kind %d)", result.Kind))
	}
}
