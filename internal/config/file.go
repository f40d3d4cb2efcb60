package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

// DefaultYAML is written when no configuration file exists.
const DefaultYAML = `# Dispatch pacing. The delay grows by delay_increment after every
# rate-limit response and never shrinks on its own.
scheduler:
  dispatch_delay: "250ms"
  delay_increment: "250ms"
  cooldown: "5s"

# Text longer than max_length characters is split into chunks.
segment:
  max_length: 400

# zstd level for audio held in memory (0 disables compression).
cache:
  compression_level: 3

accessibility:
  # speech speed in percent
  speed: 100
  # voice gender for speakers with gendered voices (unset: default voice)
  # is_male: true

# Synthesis endpoint. The API key is read from VOICEOVER_API_KEY only.
service:
  # endpoint: "https://tts.example.com/v1/synthesize"
  timeout: "60s"

default_voice:
  voice: "en-US-Standard-C"

# Per-speaker voices. A speaker with male_voice or female_voice is rendered
# once per gender.
voices:
  # narrator:
  #   voice: "en-US-Standard-C"
  # guide:
  #   voice: "en-US-Standard-A"
  #   male_voice: "en-US-Standard-B"
  #   female_voice: "en-US-Standard-E"

log:
  level: "info"
  # file: "~/.local/state/voiceover/voiceover.log"
`

// EnsureFile writes DefaultYAML to file unless it already exists.
func EnsureFile(file string) error {
	if ext := path.Ext(file); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(file), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(file)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(DefaultYAML); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
