package core

// Output format shared by every synthesis query and response.
const (
	OutputSamplingRate = 24000
	OutputChannels     = 1
)

// Neutral scalar defaults applied when a job omits a field.
const (
	DefaultSpeakerID         = 1
	DefaultSpeedScale        = 1.0
	DefaultPitchScale        = 0.0
	DefaultIntonationScale   = 1.0
	DefaultVolumeScale       = 1.0
	DefaultPrePhonemeLength  = 0.1
	DefaultPostPhonemeLength = 0.1
)

// Mora is a single timing unit inside an accent phrase.
type Mora struct {
	Text            string   `json:"text"`
	Consonant       *string  `json:"consonant,omitempty"`
	ConsonantLength *float64 `json:"consonant_length,omitempty"`
	Vowel           string   `json:"vowel"`
	VowelLength     float64  `json:"vowel_length"`
	Pitch           float64  `json:"pitch"`
}

// AccentPhrase is the engine's prosodic decomposition unit.
type AccentPhrase struct {
	Moras           []Mora `json:"moras"`
	Accent          int    `json:"accent"`
	PauseMora       *Mora  `json:"pause_mora,omitempty"`
	IsInterrogative bool   `json:"is_interrogative"`
}

// AudioQuery is the full parameter set sent to synthesis, in the engine's wire format.
type AudioQuery struct {
	AccentPhrases      []AccentPhrase `json:"accent_phrases"`
	SpeedScale         float64        `json:"speedScale"`
	PitchScale         float64        `json:"pitchScale"`
	IntonationScale    float64        `json:"intonationScale"`
	VolumeScale        float64        `json:"volumeScale"`
	PrePhonemeLength   float64        `json:"prePhonemeLength"`
	PostPhonemeLength  float64        `json:"postPhonemeLength"`
	PauseLength        *float64       `json:"pauseLength,omitempty"`
	PauseLengthScale   *float64       `json:"pauseLengthScale,omitempty"`
	OutputSamplingRate int            `json:"outputSamplingRate"`
	OutputStereo       bool           `json:"outputStereo"`
	Kana               *string        `json:"kana,omitempty"`
}

// Scales returns the scalar parameters carried by the query.
func (q *AudioQuery) Scales() ScaleParams {
	return ScaleParams{
		SpeedScale:        q.SpeedScale,
		PitchScale:        q.PitchScale,
		IntonationScale:   q.IntonationScale,
		VolumeScale:       q.VolumeScale,
		PrePhonemeLength:  q.PrePhonemeLength,
		PostPhonemeLength: q.PostPhonemeLength,
	}
}

// SetScales replaces the scalar parameters of the query.
func (q *AudioQuery) SetScales(s ScaleParams) {
	q.SpeedScale = s.SpeedScale
	q.PitchScale = s.PitchScale
	q.IntonationScale = s.IntonationScale
	q.VolumeScale = s.VolumeScale
	q.PrePhonemeLength = s.PrePhonemeLength
	q.PostPhonemeLength = s.PostPhonemeLength
}

// ScaleParams holds the multiplicative and additive synthesis controls.
type ScaleParams struct {
	SpeedScale        float64
	PitchScale        float64
	IntonationScale   float64
	VolumeScale       float64
	PrePhonemeLength  float64
	PostPhonemeLength float64
}

// DefaultScales returns the engine-neutral scalar values.
func DefaultScales() ScaleParams {
	return ScaleParams{
		SpeedScale:        DefaultSpeedScale,
		PitchScale:        DefaultPitchScale,
		IntonationScale:   DefaultIntonationScale,
		VolumeScale:       DefaultVolumeScale,
		PrePhonemeLength:  DefaultPrePhonemeLength,
		PostPhonemeLength: DefaultPostPhonemeLength,
	}
}

// ScaleField identifies one scalar parameter.
type ScaleField uint8

// Scalar parameter identifiers, usable as a bit set.
const (
	FieldSpeedScale ScaleField = 1 << iota
	FieldPitchScale
	FieldIntonationScale
	FieldVolumeScale
	FieldPrePhonemeLength
	FieldPostPhonemeLength
)

// ScaleFields lists every scalar field in wire order.
var ScaleFields = []ScaleField{
	FieldSpeedScale,
	FieldPitchScale,
	FieldIntonationScale,
	FieldVolumeScale,
	FieldPrePhonemeLength,
	FieldPostPhonemeLength,
}

// Key returns the job input key for the field.
func (f ScaleField) Key() string {
	switch f {
	case FieldSpeedScale:
		return "speed_scale"
	case FieldPitchScale:
		return "pitch_scale"
	case FieldIntonationScale:
		return "intonation_scale"
	case FieldVolumeScale:
		return "volume_scale"
	case FieldPrePhonemeLength:
		return "pre_phoneme_length"
	case FieldPostPhonemeLength:
		return "post_phoneme_length"
	default:
		return ""
	}
}

// Get returns the value of field f.
func (s ScaleParams) Get(f ScaleField) float64 {
	switch f {
	case FieldSpeedScale:
		return s.SpeedScale
	case FieldPitchScale:
		return s.PitchScale
	case FieldIntonationScale:
		return s.IntonationScale
	case FieldVolumeScale:
		return s.VolumeScale
	case FieldPrePhonemeLength:
		return s.PrePhonemeLength
	case FieldPostPhonemeLength:
		return s.PostPhonemeLength
	default:
		return 0
	}
}

// With returns a copy of s with field f set to v.
func (s ScaleParams) With(f ScaleField, v float64) ScaleParams {
	switch f {
	case FieldSpeedScale:
		s.SpeedScale = v
	case FieldPitchScale:
		s.PitchScale = v
	case FieldIntonationScale:
		s.IntonationScale = v
	case FieldVolumeScale:
		s.VolumeScale = v
	case FieldPrePhonemeLength:
		s.PrePhonemeLength = v
	case FieldPostPhonemeLength:
		s.PostPhonemeLength = v
	}

	return s
}

// JobRequest is the normalized, validated form of a job's input.
type JobRequest struct {
	Text                       string
	SpeakerID                  int
	Scales                     ScaleParams
	EnableKatakanaEnglish      bool
	EnableInterrogativeUpspeak bool
	// PresetID is nil unless the job named a preset.
	PresetID *int

	explicit ScaleField
}

// NewJobRequest returns a request for text with every optional field at its default.
func NewJobRequest(text string) JobRequest {
	return JobRequest{
		Text:                       text,
		SpeakerID:                  DefaultSpeakerID,
		Scales:                     DefaultScales(),
		EnableKatakanaEnglish:      true,
		EnableInterrogativeUpspeak: true,
	}
}

// WithScale returns a copy of r with field f explicitly set to v.
func (r JobRequest) WithScale(f ScaleField, v float64) JobRequest {
	r.Scales = r.Scales.With(f, v)
	r.explicit |= f

	return r
}

// Has reports whether field f was present in the job input.
func (r JobRequest) Has(f ScaleField) bool {
	return r.explicit&f != 0
}

// ResultKind tags the shape of a synthesis result.
type ResultKind int

// Synthesis result shapes.
const (
	ResultEncoded ResultKind = iota + 1
	ResultSamples
)

func (k ResultKind) String() string {
	switch k {
	case ResultEncoded:
		return "encoded"
	case ResultSamples:
		return "samples"
	default:
		return "unknown"
	}
}

// SynthesisResult is the output of one synthesis call. Exactly one of
// Encoded or Samples is populated, as indicated by Kind.
type SynthesisResult struct {
	Kind       ResultKind
	Encoded    []byte
	Samples    []float32
	SampleRate int
	Channels   int
}
