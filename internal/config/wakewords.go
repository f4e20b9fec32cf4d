package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// WakeWordResponse maps one wake phrase to a prerecorded reply
type WakeWordResponse struct {
	WakeWord  string `yaml:"wake_word"`
	AudioFile string `yaml:"audio_file"` // Relative to AudioDir; empty means pick a random asset
}

// WakeWords is the on-disk wake word table
type WakeWords struct {
	Enabled        bool               `yaml:"enabled"`
	AudioDir       string             `yaml:"audio_dir"`
	RandomResponse bool               `yaml:"random_response"`
	Responses      []WakeWordResponse `yaml:"responses"`
}

// LoadWakeWords reads the wake word table from a YAML file.
// A missing file yields a disabled table.
func LoadWakeWords(path string) (*WakeWords, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &WakeWords{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read wake word config: %w", err)
	}
	return ParseWakeWords(data)
}

// ParseWakeWords decodes a YAML wake word table
func ParseWakeWords(data []byte) (*WakeWords, error) {
	ww := WakeWords{AudioDir: "wake_responses"}
	if err := yaml.Unmarshal(data, &ww); err != nil {
		return nil, fmt.Errorf("failed to parse wake word config: %w", err)
	}
	for i, r := range ww.Responses {
		if r.WakeWord == "" {
			return nil, fmt.Errorf("wake word response %d has an empty wake_word", i)
		}
	}
	return &ww, nil
}
