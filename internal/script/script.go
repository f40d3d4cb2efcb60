// Package script loads narrative scripts: ordered, speaker-attributed lines
// keyed by content ID.
package script

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/voiceover/internal/contentid"
)

var (
	// ErrEmptyScript is returned for a script without lines.
	ErrEmptyScript = errors.New("script has no lines")

	// ErrDuplicateLine is returned when two lines share an identity.
	ErrDuplicateLine = errors.New("duplicate line identity")
)

// Line is one speakable line.
type Line struct {
	ID      string        `yaml:"id"`
	Speaker string        `yaml:"speaker,omitempty"`
	Text    string        `yaml:"text"`
	Gap     time.Duration `yaml:"gap,omitempty"`
}

// Script is a parsed script file.
type Script struct {
	Title string `yaml:"title,omitempty"`
	// Speaker is used for lines that name none.
	Speaker string `yaml:"speaker,omitempty"`
	// Gap is used for lines that set none.
	Gap   time.Duration `yaml:"gap,omitempty"`
	Lines []Line        `yaml:"lines"`
}

// Parse decodes and validates a script. Line IDs must be well-formed
// content IDs without accessibility markers or chunk suffixes.
func Parse(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unable to parse script: %w", err)
	}
	if len(s.Lines) == 0 {
		return nil, ErrEmptyScript
	}

	seen := make(map[string]int, len(s.Lines))
	for i := range s.Lines {
		l := &s.Lines[i]

		id, err := contentid.Parse(l.ID)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		if id.Marked || id.IsChunk() {
			return nil, fmt.Errorf("line %d: %q must be a plain content ID", i+1, l.ID)
		}
		if prev, ok := seen[id.Base()]; ok {
			return nil, fmt.Errorf("line %d: %s already used on line %d: %w", i+1, l.ID, prev, ErrDuplicateLine)
		}
		seen[id.Base()] = i + 1

		if l.Speaker == "" {
			l.Speaker = s.Speaker
		}
		if l.Gap == 0 {
			l.Gap = s.Gap
		}
	}
	return &s, nil
}

// Load reads and parses the script at path. A leading ~ is expanded.
func Load(path string) (*Script, error) {
	p, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("invalid script path: %w", err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("unable to read script: %w", err)
	}
	return Parse(data)
}

// Index returns the position of the line with identity id, ignoring
// accessibility markers.
func (s *Script) Index(id string) (int, bool) {
	base := contentid.RemoveAccessibilityMarkers(id)
	for i, l := range s.Lines {
		if l.ID == base {
			return i, true
		}
	}
	return 0, false
}
