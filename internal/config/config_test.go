package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/dgnsrekt/voiceover/internal/contentid"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
	if cfg.Accessibility.Gender != contentid.GenderUnspecified {
		t.Error("Gender should be unspecified by default")
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			modify: func(c *Config) {},
		},
		{
			name:    "negative delay",
			modify:  func(c *Config) { c.Scheduler.DispatchDelay = -time.Second },
			wantErr: true,
			errMsg:  "dispatch_delay",
		},
		{
			name:    "segment too short",
			modify:  func(c *Config) { c.Segment.MaxLength = 4 },
			wantErr: true,
			errMsg:  "max_length",
		},
		{
			name:    "compression level",
			modify:  func(c *Config) { c.Cache.CompressionLevel = 30 },
			wantErr: true,
			errMsg:  "compression_level",
		},
		{
			name:   "compression disabled",
			modify: func(c *Config) { c.Cache.CompressionLevel = 0 },
		},
		{
			name:    "speed out of range",
			modify:  func(c *Config) { c.Accessibility.Speed = 0 },
			wantErr: true,
			errMsg:  "speed",
		},
		{
			name:    "short timeout",
			modify:  func(c *Config) { c.Service.Timeout = time.Millisecond },
			wantErr: true,
			errMsg:  "timeout",
		},
		{
			name:    "prosody without speed verb",
			modify:  func(c *Config) { c.Prosody.Open = "<speak>" },
			wantErr: true,
			errMsg:  "prosody",
		},
		{
			name:    "bad log level",
			modify:  func(c *Config) { c.Log.Level = "loud" },
			wantErr: true,
			errMsg:  "log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error but got none")
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Expected error containing %q, got %q", tt.errMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "voiceover.yml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return p
}

func TestLoad_File(t *testing.T) {
	p := writeConfig(t, `
scheduler:
  dispatch_delay: "100ms"
  cooldown: "2s"
segment:
  max_length: 200
accessibility:
  speed: 120
  is_male: false
service:
  endpoint: "http://localhost:9000/tts"
voices:
  guide:
    voice: "a"
    male_voice: "b"
`)

	v := viper.New()
	used, err := Init(v, p)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if used != p {
		t.Errorf("Init used %q, want %q", used, p)
	}

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Scheduler.DispatchDelay != 100*time.Millisecond {
		t.Errorf("DispatchDelay = %v", cfg.Scheduler.DispatchDelay)
	}
	if cfg.Scheduler.DelayIncrement != 250*time.Millisecond {
		t.Errorf("DelayIncrement should keep its default, got %v", cfg.Scheduler.DelayIncrement)
	}
	if cfg.Scheduler.Cooldown != 2*time.Second {
		t.Errorf("Cooldown = %v", cfg.Scheduler.Cooldown)
	}
	if cfg.Segment.MaxLength != 200 {
		t.Errorf("MaxLength = %d", cfg.Segment.MaxLength)
	}
	want := contentid.Accessibility{Speed: 120, Gender: contentid.GenderFemale}
	if cfg.Accessibility != want {
		t.Errorf("Accessibility = %+v, want %+v", cfg.Accessibility, want)
	}
	if cfg.Service.Endpoint != "http://localhost:9000/tts" {
		t.Errorf("Endpoint = %q", cfg.Service.Endpoint)
	}
	if g := cfg.Voices["guide"]; !g.Gendered() || g.Male != "b" {
		t.Errorf("guide voice = %+v", g)
	}
	if !cfg.Resolver().Gendered("guide") || cfg.Resolver().Gendered("narrator") {
		t.Error("Resolver does not reflect configured voices")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	p := writeConfig(t, "service:\n  endpoint: \"http://file\"\n")
	t.Setenv("VOICEOVER_ENDPOINT", "http://env")
	t.Setenv("VOICEOVER_API_KEY", "secret")
	t.Setenv("VOICEOVER_ACCESSIBILITY_SPEED", "80")

	v := viper.New()
	if _, err := Init(v, p); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Service.Endpoint != "http://env" {
		t.Errorf("Endpoint = %q, want env override", cfg.Service.Endpoint)
	}
	if cfg.Service.APIKey != "secret" {
		t.Error("API key not read from environment")
	}
	if cfg.Accessibility.Speed != 80 {
		t.Errorf("Speed = %d, want 80", cfg.Accessibility.Speed)
	}
}

func TestInit_SearchPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("VOICEOVER_CONFIG_HOME", dir)

	v := viper.New()
	used, err := Init(v, "")
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if want := filepath.Join(dir, "voiceover.yml"); used != want {
		t.Errorf("Init returned %q, want %q", used, want)
	}

	if err := EnsureFile(used); err != nil {
		t.Fatalf("EnsureFile failed: %v", err)
	}

	v = viper.New()
	if _, err := Init(v, ""); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if v.ConfigFileUsed() == "" {
		t.Fatal("Written default file was not found")
	}

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Default file should load: %v", err)
	}
	if cfg.Segment.MaxLength != DefaultConfig().Segment.MaxLength {
		t.Errorf("MaxLength = %d", cfg.Segment.MaxLength)
	}
}

func TestEnsureFile_RejectsExtension(t *testing.T) {
	err := EnsureFile(filepath.Join(t.TempDir(), "voiceover.toml"))
	if err == nil || !strings.Contains(err.Error(), "not a supported configuration type") {
		t.Errorf("Expected extension error, got %v", err)
	}
}
