// Package config loads voiceover settings from voiceover.yml, VOICEOVER_*
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/voiceover/internal/cache"
	"github.com/dgnsrekt/voiceover/internal/contentid"
	"github.com/dgnsrekt/voiceover/internal/scheduler"
	"github.com/dgnsrekt/voiceover/internal/segment"
	"github.com/dgnsrekt/voiceover/internal/synth"
)

// AppName names the config file, the env prefix and the app directories.
const AppName = "voiceover"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VOICEOVER_"

// Config is the complete voiceover configuration.
type Config struct {
	Scheduler     scheduler.Config
	Segment       SegmentConfig
	Cache         CacheConfig
	Accessibility contentid.Accessibility
	Service       synth.HTTPConfig
	Voices        map[string]synth.Voice
	DefaultVoice  synth.Voice
	Prosody       synth.Prosody
	Log           LogConfig
}

// SegmentConfig controls text segmentation.
type SegmentConfig struct {
	MaxLength int
}

// CacheConfig controls the clip cache.
type CacheConfig struct {
	// CompressionLevel is the zstd level for held audio; 0 disables it.
	CompressionLevel int
}

// LogConfig controls the log file.
type LogConfig struct {
	Level string
	File  string
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Scheduler: scheduler.DefaultConfig(),
		Segment:   SegmentConfig{MaxLength: segment.DefaultMaxLength},
		Cache:     CacheConfig{CompressionLevel: cache.DefaultCompressionLevel},
		Accessibility: contentid.Accessibility{
			Speed: 100,
		},
		Service: synth.HTTPConfig{Timeout: synth.DefaultTimeout},
		DefaultVoice: synth.Voice{
			Name: "en-US-Standard-C",
		},
		Prosody: synth.DefaultProsody,
		Log:     LogConfig{Level: "info"},
	}
}

// Validate checks the configuration for out-of-range values.
func (c *Config) Validate() error {
	if c.Scheduler.DispatchDelay < 0 {
		return fmt.Errorf("scheduler dispatch_delay must not be negative, got %v", c.Scheduler.DispatchDelay)
	}
	if c.Scheduler.DelayIncrement < 0 {
		return fmt.Errorf("scheduler delay_increment must not be negative, got %v", c.Scheduler.DelayIncrement)
	}
	if c.Scheduler.Cooldown < 0 {
		return fmt.Errorf("scheduler cooldown must not be negative, got %v", c.Scheduler.Cooldown)
	}

	if c.Segment.MaxLength < 16 {
		return fmt.Errorf("segment max_length must be at least 16, got %d", c.Segment.MaxLength)
	}

	if c.Cache.CompressionLevel < 0 || c.Cache.CompressionLevel > 22 {
		return fmt.Errorf("cache compression_level must be between 0 and 22, got %d", c.Cache.CompressionLevel)
	}

	if c.Accessibility.Speed < 10 || c.Accessibility.Speed > 400 {
		return fmt.Errorf("accessibility speed must be between 10 and 400, got %d", c.Accessibility.Speed)
	}

	if c.Service.Timeout < time.Second {
		return fmt.Errorf("service timeout must be at least 1 second, got %v", c.Service.Timeout)
	}

	if c.Prosody.Open != "" && !strings.Contains(c.Prosody.Open, "%d") {
		return fmt.Errorf("prosody open must contain %%d for the speed, got %q", c.Prosody.Open)
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}

	return nil
}

// Resolver returns the voice resolver described by the configuration.
func (c *Config) Resolver() *synth.Resolver {
	return synth.NewResolver(c.Voices, c.DefaultVoice, c.Prosody)
}

// SetDefaults registers the defaults with v.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("scheduler.dispatch_delay", d.Scheduler.DispatchDelay.String())
	v.SetDefault("scheduler.delay_increment", d.Scheduler.DelayIncrement.String())
	v.SetDefault("scheduler.cooldown", d.Scheduler.Cooldown.String())

	v.SetDefault("segment.max_length", d.Segment.MaxLength)
	v.SetDefault("cache.compression_level", d.Cache.CompressionLevel)
	v.SetDefault("accessibility.speed", d.Accessibility.Speed)

	v.SetDefault("service.timeout", d.Service.Timeout.String())

	v.SetDefault("default_voice.voice", d.DefaultVoice.Name)
	v.SetDefault("prosody.open", d.Prosody.Open)
	v.SetDefault("prosody.close", d.Prosody.Close)

	v.SetDefault("log.level", d.Log.Level)
}

// Load builds a Config from v, then applies VOICEOVER_* overrides to the
// service settings.
func Load(v *viper.Viper) (Config, error) {
	cfg := DefaultConfig()

	// Scheduler pacing
	if v.IsSet("scheduler.dispatch_delay") {
		cfg.Scheduler.DispatchDelay = v.GetDuration("scheduler.dispatch_delay")
	}
	if v.IsSet("scheduler.delay_increment") {
		cfg.Scheduler.DelayIncrement = v.GetDuration("scheduler.delay_increment")
	}
	if v.IsSet("scheduler.cooldown") {
		cfg.Scheduler.Cooldown = v.GetDuration("scheduler.cooldown")
	}

	if v.IsSet("segment.max_length") {
		cfg.Segment.MaxLength = v.GetInt("segment.max_length")
	}
	if v.IsSet("cache.compression_level") {
		cfg.Cache.CompressionLevel = v.GetInt("cache.compression_level")
	}

	// Accessibility; gender stays unspecified unless configured.
	if v.IsSet("accessibility.speed") {
		cfg.Accessibility.Speed = v.GetInt("accessibility.speed")
	}
	if v.IsSet("accessibility.is_male") {
		cfg.Accessibility.Gender = contentid.GenderFromBool(v.GetBool("accessibility.is_male"))
	}

	// Synthesis service
	if v.IsSet("service.endpoint") {
		cfg.Service.Endpoint = v.GetString("service.endpoint")
	}
	if v.IsSet("service.timeout") {
		cfg.Service.Timeout = v.GetDuration("service.timeout")
	}

	// Voices
	if v.IsSet("voices") {
		if err := v.UnmarshalKey("voices", &cfg.Voices); err != nil {
			return cfg, fmt.Errorf("invalid voices: %w", err)
		}
	}
	if v.IsSet("default_voice") {
		if err := v.UnmarshalKey("default_voice", &cfg.DefaultVoice); err != nil {
			return cfg, fmt.Errorf("invalid default_voice: %w", err)
		}
	}
	if v.IsSet("prosody") {
		if err := v.UnmarshalKey("prosody", &cfg.Prosody); err != nil {
			return cfg, fmt.Errorf("invalid prosody: %w", err)
		}
	}

	if v.IsSet("log.level") {
		cfg.Log.Level = v.GetString("log.level")
	}
	if v.IsSet("log.file") {
		p, err := homedir.Expand(v.GetString("log.file"))
		if err != nil {
			return cfg, fmt.Errorf("invalid log file: %w", err)
		}
		cfg.Log.File = p
	}

	// Secrets never come from the file.
	if err := env.ParseWithOptions(&cfg.Service, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("error parsing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Dirs returns the directories searched for voiceover.yml, most specific
// first.
func Dirs() ([]string, error) {
	scope := gap.NewScope(gap.User, AppName)
	dirs, err := scope.ConfigDirs()
	if err != nil {
		return nil, fmt.Errorf("could not find configuration directory: %w", err)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, AppName)}, dirs...)
	}
	if c := os.Getenv(EnvPrefix + "CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}
	return dirs, nil
}

// Init points v at file, or at voiceover.yml in the search path when file
// is empty, and reads it. A missing file is not an error. It returns the
// path of the file in use, or where a new one should be written.
func Init(v *viper.Viper, file string) (string, error) {
	SetDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(AppName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var fallback string
	if file != "" {
		p, err := homedir.Expand(file)
		if err != nil {
			return "", fmt.Errorf("invalid config path: %w", err)
		}
		v.SetConfigFile(p)
		fallback = p
	} else {
		dirs, err := Dirs()
		if err != nil {
			return "", err
		}
		for _, d := range dirs {
			v.AddConfigPath(d)
		}
		v.SetConfigName(AppName)
		fallback = filepath.Join(dirs[0], AppName+".yml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound), errors.Is(err, fs.ErrNotExist):
			log.Debug("Config: no configuration file", "path", fallback)
		default:
			return fallback, fmt.Errorf("could not parse configuration file: %w", err)
		}
	}

	if used := v.ConfigFileUsed(); used != "" {
		if _, err := os.Stat(used); err == nil {
			log.Debug("Config: using configuration file", "path", used)
			return used, nil
		}
	}
	return fallback, nil
}
