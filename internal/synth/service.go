// Package synth is the boundary to the remote speech synthesis service.
//
// A Service accepts a Submission and reports back exactly once through a
// CompletionFunc. A successful completion hands over a Result whose audio is
// only safe to read after PayloadComplete is closed; the two signals are
// independent and either may be observed first.
package synth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/dgnsrekt/voiceover/internal/contentid"
)

// RateLimitMarker is the error text a service reports when it is refusing
// work because requests arrive too fast.
const RateLimitMarker = "429 Too Many Requests"

var (
	// ErrRateLimited marks a retry-worthy failure.
	ErrRateLimited = errors.New("synthesis rate limited")

	// ErrSynthesisFailed marks a permanent failure for one request.
	ErrSynthesisFailed = errors.New("synthesis failed")
)

// VoiceParams selects how text is rendered.
type VoiceParams struct {
	Voice  string
	Style  string
	Speed  int
	Gender contentid.Gender
}

// CacheSettings is passed through to the service untouched.
type CacheSettings struct {
	Key     string
	Persist bool
}

// Submission is one synthesis request.
type Submission struct {
	ID    string
	Text  string
	Voice VoiceParams
	Cache CacheSettings
}

// Result is the handle for a successful submission.
type Result interface {
	// ID returns the submission ID.
	ID() string

	// PayloadComplete is closed once the audio is fully materialized.
	PayloadComplete() <-chan struct{}

	// Audio returns the payload. It must only be called after
	// PayloadComplete is closed.
	Audio() ([]byte, error)

	// Format names the audio encoding, e.g. "pcm16" or "mp3".
	Format() string
}

// CompletionFunc receives the outcome of a submission. On success res is
// non-nil and errText is empty; otherwise res is nil and errText describes
// the failure.
type CompletionFunc func(res Result, errText string)

// Service submits text for synthesis. Submit must not block on the remote
// call; onComplete fires exactly once, from any goroutine.
type Service interface {
	Submit(ctx context.Context, sub Submission, onComplete CompletionFunc)
}

// Classify maps callback error text to ErrRateLimited or ErrSynthesisFailed.
// Empty text means success and yields nil.
func Classify(errText string) error {
	if errText == "" {
		return nil
	}
	if strings.Contains(strings.ToLower(errText), "too many requests") || hasStatus(errText, "429") {
		return fmt.Errorf("%w: %s", ErrRateLimited, errText)
	}
	return fmt.Errorf("%w: %s", ErrSynthesisFailed, errText)
}

// hasStatus reports whether code appears in text as a whole word.
func hasStatus(text, code string) bool {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return slices.Contains(words, code)
}
