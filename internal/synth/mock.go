package synth

import (
	"context"
	"sync"
	"time"
)

// Mock is an in-process Service for tests and offline runs. It produces
// 16-bit mono silence sized to the text and can be scripted to fail, to rate
// limit, or to hold payloads back after accepting them.
type Mock struct {
	mu sync.Mutex

	latency    time.Duration
	failures   map[string]string
	rateLimits map[string]int
	hold       bool
	held       []*heldPayload

	submissions []Submission
	inFlight    int
	maxInFlight int
}

type heldPayload struct {
	res  *streamResult
	text string
	sub  Submission
}

// NewMock returns a Mock that answers after a short delay.
func NewMock() *Mock {
	return &Mock{
		latency:    10 * time.Millisecond,
		failures:   make(map[string]string),
		rateLimits: make(map[string]int),
	}
}

// SetLatency sets the simulated time until a submission is accepted.
func (m *Mock) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// FailWith makes every submission of id fail permanently with errText.
func (m *Mock) FailWith(id, errText string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[id] = errText
}

// RateLimit makes the next n submissions of id report RateLimitMarker.
func (m *Mock) RateLimit(id string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimits[id] = n
}

// HoldPayloads makes accepted submissions wait for ReleasePayloads before
// their payload completes.
func (m *Mock) HoldPayloads(hold bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hold = hold
}

// ReleasePayloads completes every held payload and returns how many there
// were.
func (m *Mock) ReleasePayloads() int {
	m.mu.Lock()
	held := m.held
	m.held = nil
	m.mu.Unlock()

	for _, h := range held {
		h.res.finish(silence(h.text, h.sub.Voice.Speed), nil)
	}
	return len(held)
}

// Held returns the number of payloads waiting for ReleasePayloads.
func (m *Mock) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.held)
}

// Submissions returns every submission received so far, in order.
func (m *Mock) Submissions() []Submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Submission, len(m.submissions))
	copy(out, m.submissions)
	return out
}

// SubmittedIDs returns the IDs of Submissions.
func (m *Mock) SubmittedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(m.submissions))
	for i, s := range m.submissions {
		ids[i] = s.ID
	}
	return ids
}

// MaxInFlight returns the largest number of unanswered submissions seen at
// once.
func (m *Mock) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

// Submit implements Service.
func (m *Mock) Submit(_ context.Context, sub Submission, onComplete CompletionFunc) {
	m.mu.Lock()
	m.submissions = append(m.submissions, sub)
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	latency := m.latency
	m.mu.Unlock()

	go func() {
		time.Sleep(latency)

		m.mu.Lock()
		m.inFlight--
		failure, failed := m.failures[sub.ID]
		limited := m.rateLimits[sub.ID] > 0
		if limited {
			m.rateLimits[sub.ID]--
		}
		hold := m.hold
		m.mu.Unlock()

		switch {
		case failed:
			onComplete(nil, failure)
			return
		case limited:
			onComplete(nil, RateLimitMarker)
			return
		}

		res := newStreamResult(sub.ID, "pcm16")
		if hold {
			m.mu.Lock()
			m.held = append(m.held, &heldPayload{res: res, text: sub.Text, sub: sub})
			m.mu.Unlock()
			onComplete(res, "")
			return
		}
		onComplete(res, "")
		res.finish(silence(sub.Text, sub.Voice.Speed), nil)
	}()
}

// silence returns PCM16 silence roughly as long as text takes to speak at
// ~150 words per minute, scaled by speed percent.
func silence(text string, speed int) []byte {
	words := len(text) / 5
	if words < 1 {
		words = 1
	}
	seconds := float64(words) * 60.0 / 150.0
	if speed > 0 {
		seconds = seconds * 100 / float64(speed)
	}
	samples := int(seconds * PCMSampleRate)
	return make([]byte, samples*2)
}
