package synth

import (
	"fmt"

	"github.com/dgnsrekt/voiceover/internal/contentid"
)

// Voice is the configured rendering of one speaker. A speaker with a male
// or female variant is gendered: its content is synthesized once per gender.
type Voice struct {
	Name   string `mapstructure:"voice" yaml:"voice"`
	Style  string `mapstructure:"style" yaml:"style,omitempty"`
	Male   string `mapstructure:"male_voice" yaml:"male_voice,omitempty"`
	Female string `mapstructure:"female_voice" yaml:"female_voice,omitempty"`
}

// Gendered reports whether the voice has per-gender variants.
func (v Voice) Gendered() bool {
	return v.Male != "" || v.Female != ""
}

// Prosody wraps text in speed markup. Open is a format string receiving the
// speed percentage.
type Prosody struct {
	Open  string `mapstructure:"open" yaml:"open"`
	Close string `mapstructure:"close" yaml:"close"`
}

// DefaultProsody is SSML rate markup.
var DefaultProsody = Prosody{
	Open:  `<speak><prosody rate="%d%%">`,
	Close: `</prosody></speak>`,
}

// Resolver maps speakers to voice parameters.
type Resolver struct {
	voices   map[string]Voice
	fallback Voice
	prosody  Prosody
}

// NewResolver returns a Resolver. Speakers missing from voices use fallback.
func NewResolver(voices map[string]Voice, fallback Voice, prosody Prosody) *Resolver {
	if voices == nil {
		voices = make(map[string]Voice)
	}
	return &Resolver{voices: voices, fallback: fallback, prosody: prosody}
}

func (r *Resolver) voice(speaker string) Voice {
	if v, ok := r.voices[speaker]; ok {
		return v
	}
	return r.fallback
}

// Gendered reports whether speaker's content depends on the gender setting.
func (r *Resolver) Gendered(speaker string) bool {
	return r.voice(speaker).Gendered()
}

// Resolve returns the voice parameters for speaker at the given rendering.
func (r *Resolver) Resolve(speaker string, access contentid.Accessibility) VoiceParams {
	v := r.voice(speaker)
	name := v.Name
	switch {
	case access.Gender == contentid.GenderMale && v.Male != "":
		name = v.Male
	case access.Gender == contentid.GenderFemale && v.Female != "":
		name = v.Female
	}
	return VoiceParams{
		Voice:  name,
		Style:  v.Style,
		Speed:  access.Speed,
		Gender: access.Gender,
	}
}

// Wrap returns the text placed before and after content rendered at speed.
// Normal speed (100) and unset speed need no markup.
func (r *Resolver) Wrap(speed int) (pre, post string) {
	if speed <= 0 || speed == 100 || r.prosody.Open == "" {
		return "", ""
	}
	return fmt.Sprintf(r.prosody.Open, speed), r.prosody.Close
}
