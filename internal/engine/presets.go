package engine

import (
	"errors"
	"fmt"
	"os"

	"github.com/book-expert/voicevox-worker/internal/core"
	"gopkg.in/yaml.v3"
)

// ErrDuplicatePreset indicates two presets sharing an id.
var ErrDuplicatePreset = errors.New("duplicate preset id")

// Preset is one entry of the engine presets file.
type Preset struct {
	ID                int     `yaml:"id"`
	Name              string  `yaml:"name"`
	SpeakerUUID       string  `yaml:"speaker_uuid"`
	StyleID           int     `yaml:"style_id"`
	SpeedScale        float64 `yaml:"speedScale"`
	PitchScale        float64 `yaml:"pitchScale"`
	IntonationScale   float64 `yaml:"intonationScale"`
	VolumeScale       float64 `yaml:"volumeScale"`
	PrePhonemeLength  float64 `yaml:"prePhonemeLength"`
	PostPhonemeLength float64 `yaml:"postPhonemeLength"`
}

// Scales returns the preset's scalar parameters.
func (p Preset) Scales() core.ScaleParams {
	return core.ScaleParams{
		SpeedScale:        p.SpeedScale,
		PitchScale:        p.PitchScale,
		IntonationScale:   p.IntonationScale,
		VolumeScale:       p.VolumeScale,
		PrePhonemeLength:  p.PrePhonemeLength,
		PostPhonemeLength: p.PostPhonemeLength,
	}
}

// PresetStore is a read-only view of the presets file loaded at startup.
type PresetStore struct {
	path    string
	presets map[int]Preset
}

// LoadPresets reads the presets file at path. A missing file yields
// (nil, nil) so callers can treat presets as unavailable.
func LoadPresets(path string) (*PresetStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read presets file '%s': %w", path, err)
	}

	var list []Preset

	err = yaml.Unmarshal(data, &list)
	if err != nil {
		return nil, fmt.Errorf("failed to parse presets file '%s': %w", path, err)
	}

	store := &PresetStore{path: path, presets: make(map[int]Preset, len(list))}

	for _, preset := range list {
		if _, dup := store.presets[preset.ID]; dup {
			return nil, fmt.Errorf("%w: %d in '%s'", ErrDuplicatePreset, preset.ID, path)
		}

		store.presets[preset.ID] = preset
	}

	return store, nil
}

// Path returns the file the store was loaded from.
func (s *PresetStore) Path() string {
	return s.path
}

// Len returns the number of presets.
func (s *PresetStore) Len() int {
	return len(s.presets)
}

// Get returns the preset with the given id.
func (s *PresetStore) Get(id int) (Preset, bool) {
	preset, ok := s.presets[id]

	return preset, ok
}
