package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/dgnsrekt/voiceover/internal/contentid"
)

// DefaultTimeout bounds one request including the body download.
const DefaultTimeout = 60 * time.Second

// HTTPConfig configures HTTPService. Fields tagged env are overlaid from
// VOICEOVER_* variables by the config loader.
type HTTPConfig struct {
	Endpoint string        `env:"ENDPOINT" yaml:"endpoint"`
	APIKey   string        `env:"API_KEY" yaml:"-"`
	Timeout  time.Duration `env:"TIMEOUT" yaml:"timeout"`
}

// HTTPService posts submissions as JSON to a synthesis endpoint. Response
// headers arriving mark a submission as accepted; the body being fully read
// marks the payload complete.
type HTTPService struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// HTTPOption configures an HTTPService.
type HTTPOption func(*HTTPService)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPService) {
		s.client = c
	}
}

// NewHTTPService returns a service for cfg.
func NewHTTPService(cfg HTTPConfig, opts ...HTTPOption) (*HTTPService, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("synthesis endpoint is not configured")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	s := &HTTPService{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type synthesisRequest struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Voice    string `json:"voice,omitempty"`
	Style    string `json:"style,omitempty"`
	Speed    int    `json:"speed"`
	IsMale   *bool  `json:"is_male,omitempty"`
	CacheKey string `json:"cache_key,omitempty"`
	Persist  bool   `json:"persist,omitempty"`
}

// Submit implements Service.
func (s *HTTPService) Submit(ctx context.Context, sub Submission, onComplete CompletionFunc) {
	go s.submit(ctx, sub, onComplete)
}

func (s *HTTPService) submit(ctx context.Context, sub Submission, onComplete CompletionFunc) {
	body := synthesisRequest{
		ID:       sub.ID,
		Text:     sub.Text,
		Voice:    sub.Voice.Voice,
		Style:    sub.Voice.Style,
		Speed:    sub.Voice.Speed,
		CacheKey: sub.Cache.Key,
		Persist:  sub.Cache.Persist,
	}
	if sub.Voice.Gender != contentid.GenderUnspecified {
		male := sub.Voice.Gender == contentid.GenderMale
		body.IsMale = &male
	}

	payload, err := json.Marshal(body)
	if err != nil {
		onComplete(nil, fmt.Sprintf("encode request: %v", err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		onComplete(nil, fmt.Sprintf("build request: %v", err))
		return
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	log.Debug("Synth: posting", "id", sub.ID, "request", requestID, "chars", len(sub.Text))

	resp, err := s.client.Do(req)
	if err != nil {
		onComplete(nil, err.Error())
		return
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		onComplete(nil, RateLimitMarker)
		return
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		onComplete(nil, fmt.Sprintf("%s: %s", resp.Status, strings.TrimSpace(string(msg))))
		return
	}

	res := newStreamResult(sub.ID, formatOf(resp.Header.Get("Content-Type")))
	onComplete(res, "")

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error("Synth: payload download failed", "id", sub.ID, "request", requestID, "error", err)
	}
	res.finish(audio, err)
}

// PCMSampleRate is the sample rate of 16-bit mono pcm16 payloads.
const PCMSampleRate = 22050

// Duration returns the play time of audio in format. Only pcm16 can be
// measured without decoding; other formats report false.
func Duration(format string, audio []byte) (time.Duration, bool) {
	if format != "pcm16" {
		return 0, false
	}
	samples := len(audio) / 2
	return time.Duration(samples) * time.Second / PCMSampleRate, true
}

func formatOf(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "unknown"
	}
	switch mt {
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	case "audio/ogg":
		return "ogg"
	case "audio/l16", "audio/pcm", "application/octet-stream":
		return "pcm16"
	default:
		return mt
	}
}

// streamResult is a Result whose payload arrives after acceptance.
type streamResult struct {
	id     string
	format string
	done   chan struct{}

	audio []byte
	err   error
}

func newStreamResult(id, format string) *streamResult {
	return &streamResult{id: id, format: format, done: make(chan struct{})}
}

func (r *streamResult) finish(audio []byte, err error) {
	r.audio = audio
	r.err = err
	close(r.done)
}

func (r *streamResult) ID() string                       { return r.id }
func (r *streamResult) Format() string                   { return r.format }
func (r *streamResult) PayloadComplete() <-chan struct{} { return r.done }

func (r *streamResult) Audio() ([]byte, error) {
	select {
	case <-r.done:
		if r.err != nil {
			return nil, fmt.Errorf("%w: payload: %v", ErrSynthesisFailed, r.err)
		}
		return r.audio, nil
	default:
		return nil, errors.New("payload not complete")
	}
}
