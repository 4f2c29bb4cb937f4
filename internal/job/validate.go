// Package job implements the per-job pipeline: input validation, query
// construction, synthesis, encoding, and response assembly.
package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/book-expert/voicevox-worker/internal/core"
)

// Input keys.
const (
	keyText                       = "text"
	keySpeakerID                  = "speaker_id"
	keyPresetID                   = "preset_id"
	keyEnableKatakanaEnglish      = "enable_katakana_english"
	keyEnableInterrogativeUpspeak = "enable_interrogative_upspeak"
)

// Validation errors.
var (
	// ErrMissingText is reported without a status field.
	ErrMissingText   = errors.New("Missing 'text' in input")
	ErrNotString     = errors.New("must be a string")
	ErrNotInteger    = errors.New("must be an integer")
	ErrNotNumber     = errors.New("must be a number")
	ErrNotFinite     = errors.New("must be finite")
	ErrNotBoolean    = errors.New("must be a boolean")
	ErrUnknownPreset = errors.New("unknown preset")
)

const errUnexpectedType = "unexpected type %T"

// Validate turns raw job input into a JobRequest. It performs no I/O.
func Validate(raw map[string]any) (core.JobRequest, error) {
	text, err := validateText(raw)
	if err != nil {
		return core.JobRequest{}, err
	}

	req := core.NewJobRequest(text)

	if v, ok := lookup(raw, keySpeakerID); ok {
		req.SpeakerID, err = toInt(v)
		if err != nil {
			return core.JobRequest{}, core.NewFieldError(keySpeakerID, err)
		}
	}

	if v, ok := lookup(raw, keyPresetID); ok {
		id, convErr := toInt(v)
		if convErr != nil {
			return core.JobRequest{}, core.NewFieldError(keyPresetID, convErr)
		}

		req.PresetID = &id
	}

	for _, field := range core.ScaleFields {
		v, ok := lookup(raw, field.Key())
		if !ok {
			continue
		}

		f, convErr := toFloat(v)
		if convErr != nil {
			return core.JobRequest{}, core.NewFieldError(field.Key(), convErr)
		}

		req = req.WithScale(field, f)
	}

	if v, ok := lookup(raw, keyEnableKatakanaEnglish); ok {
		req.EnableKatakanaEnglish, err = toBool(v)
		if err != nil {
			return core.JobRequest{}, core.NewFieldError(keyEnableKatakanaEnglish, err)
		}
	}

	if v, ok := lookup(raw, keyEnableInterrogativeUpspeak); ok {
		req.EnableInterrogativeUpspeak, err = toBool(v)
		if err != nil {
			return core.JobRequest{}, core.NewFieldError(keyEnableInterrogativeUpspeak, err)
		}
	}

	return req, nil
}

func validateText(raw map[string]any) (string, error) {
	v, ok := lookup(raw, keyText)
	if !ok {
		return "", core.NewError(core.KindValidation, ErrMissingText)
	}

	text, isString := v.(string)
	if !isString {
		return "", core.NewFieldError(keyText, ErrNotString)
	}

	if text == "" {
		return "", core.NewError(core.KindValidation, ErrMissingText)
	}

	return text, nil
}

// lookup treats JSON null the same as an absent key.
func lookup(raw map[string]any, key string) (any, bool) {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil, false
	}

	return v, true
}

func toInt(v any) (int, error) {
	switch value := v.(type) {
	case json.Number:
		if i, err := value.Int64(); err == nil {
			return boundInt(i)
		}

		f, err := value.Float64()
		if err != nil {
			return 0, ErrNotInteger
		}

		return floatToInt(f)
	case float64:
		return floatToInt(value)
	case int:
		return boundInt(int64(value))
	case int64:
		return boundInt(value)
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return 0, ErrNotInteger
		}

		return boundInt(i)
	default:
		return 0, fmt.Errorf("%w: "+errUnexpectedType, ErrNotInteger, v)
	}
}

// floatToInt truncates toward zero, so 2.0 and 2.7 both select style 2.
func floatToInt(f float64) (int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, ErrNotInteger
	}

	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, fmt.Errorf("%w: %g is out of range", ErrNotInteger, f)
	}

	return int(f), nil
}

// boundInt applies the int32 range that style and preset ids use.
func boundInt(i int64) (int, error) {
	if i > math.MaxInt32 || i < math.MinInt32 {
		return 0, fmt.Errorf("%w: %d is out of range", ErrNotInteger, i)
	}

	return int(i), nil
}

func toFloat(v any) (float64, error) {
	var (
		f   float64
		err error
	)

	switch value := v.(type) {
	case json.Number:
		f, err = value.Float64()
	case float64:
		f = value
	case float32:
		f = float64(value)
	case int:
		f = float64(value)
	case int64:
		f = float64(value)
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(value), 64)
	default:
		return 0, fmt.Errorf("%w: "+errUnexpectedType, ErrNotNumber, v)
	}

	if err != nil {
		return 0, ErrNotNumber
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, ErrNotFinite
	}

	return f, nil
}

func toBool(v any) (bool, error) {
	switch value := v.(type) {
	case bool:
		return value, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return false, ErrNotBoolean
		}

		return b, nil
	default:
		return false, fmt.Errorf("%w: "+errUnexpectedType, ErrNotBoolean, v)
	}
}
