// Package audio turns synthesis results into transport-ready WAV bytes.
package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/book-expert/voicevox-worker/internal/core"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// PCM container settings for raw sample buffers.
const (
	BitDepth   = 16
	pcmFormat  = 1
	maxInt16   = math.MaxInt16
	minInt16   = math.MinInt16
	int16Scale = float64(math.MaxInt16)
)

// Encoding errors.
var (
	ErrEmptySamples      = errors.New("sample buffer is empty")
	ErrUnsupportedShape  = errors.New("unsupported sample buffer shape")
	ErrUnknownResultKind = errors.New("unknown synthesis result kind")
	ErrEmptyAudio        = errors.New("encoded audio is empty")
)

// Encode returns the WAV bytes for a synthesis result. Pre-encoded audio is
// passed through unchanged; raw samples are quantized to 16-bit PCM.
func Encode(result *core.SynthesisResult) ([]byte, error) {
	if result == nil {
		return nil, core.NewError(core.KindEncoding, ErrUnknownResultKind)
	}

	switch result.Kind {
	case core.ResultEncoded:
		if len(result.Encoded) == 0 {
			return nil, core.NewError(core.KindEncoding, ErrEmptyAudio)
		}

		return result.Encoded, nil
	case core.ResultSamples:
		if result.Channels != 0 && result.Channels != core.OutputChannels {
			return nil, core.NewError(core.KindEncoding,
				fmt.Errorf("%w: %d channels", ErrUnsupportedShape, result.Channels))
		}

		sampleRate := result.SampleRate
		if sampleRate == 0 {
			sampleRate = core.OutputSamplingRate
		}

		data, err := EncodeWAV(result.Samples, sampleRate)
		if err != nil {
			return nil, core.NewError(core.KindEncoding, err)
		}

		return data, nil
	default:
		return nil, core.NewError(core.KindEncoding,
			fmt.Errorf("%w: %s", ErrUnknownResultKind, result.Kind))
	}
}

// EncodeWAV writes mono float samples as a 16-bit PCM WAV container.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, ErrEmptySamples
	}

	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: core.OutputChannels,
			SampleRate:  sampleRate,
		},
		Data:           make([]int, len(samples)),
		SourceBitDepth: BitDepth,
	}

	for i, s := range samples {
		buf.Data[i] = int(Quantize(s))
	}

	out := &writeSeeker{}
	enc := wav.NewEncoder(out, sampleRate, BitDepth, core.OutputChannels, pcmFormat)

	err := enc.Write(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to write pcm frames: %w", err)
	}

	err = enc.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to finalize wav container: %w", err)
	}

	return out.buf, nil
}

// Quantize converts a float sample in [-1, 1] to signed 16-bit PCM,
// clipping out-of-range input and rounding half to even.
func Quantize(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}

	scaled := math.RoundToEven(v * int16Scale)

	switch {
	case scaled >= maxInt16:
		return maxInt16
	case scaled <= minInt16:
		return minInt16
	default:
		return int16(scaled)
	}
}

// EncodeBase64 serializes audio bytes for JSON transport.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// writeSeeker is an in-memory io.WriteSeeker for the wav encoder, which
// patches chunk sizes after the frames are written.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	end := w.pos + len(p)
	if end > len(w.buf) {
		if end > cap(w.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, w.buf)
			w.buf = grown
		} else {
			w.buf = w.buf[:end]
		}
	}

	copy(w.buf[w.pos:], p)
	w.pos = end

	return len(p), nil
}

var errNegativePosition = errors.New("negative seek position")

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var base int

	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = w.pos
	case io.SeekEnd:
		base = len(w.buf)
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}

	next := base + int(offset)
	if next < 0 {
		return 0, errNegativePosition
	}

	w.pos = next

	return int64(next), nil
}
