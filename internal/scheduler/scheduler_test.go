package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/voiceover/internal/cache"
	"github.com/dgnsrekt/voiceover/internal/contentid"
	"github.com/dgnsrekt/voiceover/internal/queue"
	"github.com/dgnsrekt/voiceover/internal/synth"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

// captureService records submissions and lets the test decide when and how
// each one completes.
type captureService struct {
	mu        sync.Mutex
	callbacks map[string]synth.CompletionFunc
	texts     map[string]string
	ids       chan string
}

func newCaptureService() *captureService {
	return &captureService{
		callbacks: make(map[string]synth.CompletionFunc),
		texts:     make(map[string]string),
		ids:       make(chan string, 64),
	}
}

func (c *captureService) Submit(_ context.Context, sub synth.Submission, onComplete synth.CompletionFunc) {
	c.mu.Lock()
	c.callbacks[sub.ID] = onComplete
	c.texts[sub.ID] = sub.Text
	c.mu.Unlock()
	c.ids <- sub.ID
}

func (c *captureService) complete(id string, res synth.Result, errText string) {
	c.mu.Lock()
	cb := c.callbacks[id]
	c.mu.Unlock()
	cb(res, errText)
}

func (c *captureService) callback(id string) synth.CompletionFunc {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callbacks[id]
}

func (c *captureService) next(t *testing.T) string {
	t.Helper()
	select {
	case id := <-c.ids:
		return id
	case <-time.After(waitFor):
		t.Fatal("Timed out waiting for a dispatch")
		return ""
	}
}

func (c *captureService) none(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case id := <-c.ids:
		t.Fatalf("Unexpected dispatch of %s", id)
	case <-time.After(d):
	}
}

type fakeResult struct {
	id   string
	done chan struct{}
}

func completedResult(id string) *fakeResult {
	r := &fakeResult{id: id, done: make(chan struct{})}
	close(r.done)
	return r
}

func (r *fakeResult) ID() string                       { return r.id }
func (r *fakeResult) Format() string                   { return "pcm16" }
func (r *fakeResult) PayloadComplete() <-chan struct{} { return r.done }
func (r *fakeResult) Audio() ([]byte, error)           { return []byte(r.id), nil }

type fixture struct {
	seq   *queue.Ordered
	clips *cache.ClipCache
	sched *Scheduler
}

func setup(t *testing.T, cfg Config, svc synth.Service, ids ...string) *fixture {
	t.Helper()

	clips, err := cache.New()
	require.NoError(t, err)

	seq := queue.NewOrdered(nil)
	for _, id := range ids {
		require.NoError(t, seq.Enqueue(queue.Request{ID: id, Text: "say " + id}))
	}

	s := New(cfg, seq, svc, clips)
	t.Cleanup(func() {
		_ = s.Close()
		_ = clips.Close()
	})
	return &fixture{seq: seq, clips: clips, sched: s}
}

func fast() Config {
	return Config{DispatchDelay: time.Millisecond, DelayIncrement: 5 * time.Millisecond, Cooldown: time.Millisecond}
}

func ready(clips *cache.ClipCache, id string) bool {
	return clips.IsReady(cache.KeyFor(contentid.MustParse(id)))
}

func TestScheduler_StartRequiresWork(t *testing.T) {
	f := setup(t, fast(), synth.NewMock())

	assert.False(t, f.sched.Start(), "Start with nothing pending should be a no-op")
	assert.Equal(t, Idle, f.sched.State())
}

func TestScheduler_RestartsAfterGoingIdle(t *testing.T) {
	svc := newCaptureService()
	f := setup(t, fast(), svc)

	for _, id := range []string{"1.1.1", "1.1.2", "1.1.3"} {
		require.NoError(t, f.seq.Enqueue(queue.Request{ID: id, Text: "say " + id}))
		require.True(t, f.sched.Start(), "each loop exits on its own before the next starts")
		require.Equal(t, id, svc.next(t))
		require.Eventually(t, func() bool { return f.sched.State() == Idle }, waitFor, tick)
		svc.complete(id, completedResult(id), "")
	}

	require.Eventually(t, func() bool { return ready(f.clips, "1.1.3") }, waitFor, tick)
	assert.EqualValues(t, 3, f.sched.Stats().Dispatched)
}

func TestScheduler_DispatchesInOrderAndStores(t *testing.T) {
	mock := synth.NewMock()
	mock.SetLatency(0)
	ids := []string{"[speed=100]1.1.3", "[speed=100]1.1.1", "[speed=100]1.1.2"}
	f := setup(t, fast(), mock, ids...)

	require.True(t, f.sched.Start())

	require.Eventually(t, func() bool {
		for _, id := range ids {
			if !ready(f.clips, id) {
				return false
			}
		}
		return true
	}, waitFor, tick)

	assert.Equal(t, []string{"[speed=100]1.1.1", "[speed=100]1.1.2", "[speed=100]1.1.3"}, mock.SubmittedIDs())
	assert.Eventually(t, func() bool { return f.sched.State() == Idle }, waitFor, tick)

	st := f.sched.Stats()
	assert.EqualValues(t, 3, st.Dispatched)
	assert.EqualValues(t, 3, st.Succeeded)
	assert.Zero(t, st.Pending)
	assert.Zero(t, st.InFlight)
}

func TestScheduler_SendsFullText(t *testing.T) {
	mock := synth.NewMock()
	mock.SetLatency(0)
	f := setup(t, fast(), mock)

	require.NoError(t, f.seq.Enqueue(queue.Request{
		ID:       "1.1.1",
		Text:     "hello",
		PreText:  "<p>",
		PostText: "</p>",
		Voice:    synth.VoiceParams{Voice: "narrator", Speed: 100},
	}))
	require.True(t, f.sched.Start())

	require.Eventually(t, func() bool { return len(mock.Submissions()) == 1 }, waitFor, tick)
	sub := mock.Submissions()[0]
	assert.Equal(t, "<p>hello</p>", sub.Text)
	assert.Equal(t, "narrator", sub.Voice.Voice)
}

func TestScheduler_RateLimitReenqueuesAndSlowsDown(t *testing.T) {
	svc := newCaptureService()
	cfg := Config{DispatchDelay: time.Millisecond, DelayIncrement: 10 * time.Millisecond, Cooldown: time.Hour}
	f := setup(t, cfg, svc, "[speed=100]1.1.1")

	require.True(t, f.sched.Start())
	id := svc.next(t)
	require.Equal(t, "[speed=100]1.1.1", id)
	require.False(t, f.seq.Contains(id))

	before := f.sched.Delay()
	svc.complete(id, nil, synth.RateLimitMarker)

	// The loop now waits out the cooldown, so the request stays pending.
	require.Eventually(t, func() bool { return f.sched.State() == AwaitingDrain }, waitFor, tick)
	assert.True(t, f.seq.Contains(id), "rate-limited request should be back in the sequencer")
	assert.Greater(t, f.sched.Delay(), before)
	assert.EqualValues(t, 1, f.sched.Stats().RateLimited)

	f.sched.Stop()
	req, ok := f.seq.DequeueByID(id)
	require.True(t, ok)
	assert.Equal(t, "say "+id, req.Text)
}

func TestScheduler_RateLimitRetriesUntilStored(t *testing.T) {
	mock := synth.NewMock()
	mock.SetLatency(0)
	mock.RateLimit("[speed=100]1.1.1", 2)
	f := setup(t, fast(), mock, "[speed=100]1.1.1", "[speed=100]1.1.2")

	require.True(t, f.sched.Start())
	require.Eventually(t, func() bool {
		return ready(f.clips, "[speed=100]1.1.1") && ready(f.clips, "[speed=100]1.1.2")
	}, waitFor, tick)

	assert.EqualValues(t, 2, f.sched.Stats().RateLimited)
	assert.Equal(t, fast().DispatchDelay+2*fast().DelayIncrement, f.sched.Delay())
}

func TestScheduler_DrainBlocksDispatch(t *testing.T) {
	svc := newCaptureService()
	cfg := Config{DispatchDelay: 40 * time.Millisecond, DelayIncrement: time.Millisecond, Cooldown: 10 * time.Millisecond}
	f := setup(t, cfg, svc, "1.1.1", "1.1.2", "1.1.3")

	require.True(t, f.sched.Start())
	a := svc.next(t)
	b := svc.next(t)
	require.Equal(t, "1.1.1", a)
	require.Equal(t, "1.1.2", b)

	// b is still in flight, so nothing else may be dispatched.
	svc.complete(a, nil, synth.RateLimitMarker)
	svc.none(t, 150*time.Millisecond)
	assert.Equal(t, AwaitingDrain, f.sched.State())

	svc.complete(b, completedResult(b), "")
	assert.Equal(t, "1.1.1", svc.next(t), "re-enqueued request sorts first")
	assert.Equal(t, "1.1.3", svc.next(t))

	require.Eventually(t, func() bool { return ready(f.clips, "1.1.2") }, waitFor, tick)
}

func TestScheduler_HighPriorityOverride(t *testing.T) {
	svc := newCaptureService()
	cfg := Config{DispatchDelay: 100 * time.Millisecond, DelayIncrement: time.Millisecond, Cooldown: time.Millisecond}
	f := setup(t, cfg, svc, "1.1.1", "1.1.2", "1.1.3", "1.1.4", "1.1.5")

	require.True(t, f.sched.Start())
	require.Equal(t, "1.1.1", svc.next(t))

	require.NoError(t, f.sched.SetHighPriority("1.1.5"))
	assert.Equal(t, "1.1.5", svc.next(t))
	assert.Equal(t, "1.1.2", svc.next(t))

	// The pointer clears once its target is stored.
	svc.complete("1.1.5", completedResult("1.1.5"), "")
	require.Eventually(t, func() bool {
		_, ok := f.sched.HighPriority()
		return !ok
	}, waitFor, tick)
}

func TestScheduler_HighPriorityClusterFetchesLowestMissingChunk(t *testing.T) {
	svc := newCaptureService()
	cfg := Config{DispatchDelay: 100 * time.Millisecond, DelayIncrement: time.Millisecond, Cooldown: time.Millisecond}
	f := setup(t, cfg, svc, "1.1.1", "9.9.9_1", "9.9.9_2", "9.9.9_3")

	_, err := f.clips.RegisterCluster(contentid.MustParse("9.9.9"), 3)
	require.NoError(t, err)

	require.NoError(t, f.sched.SetHighPriority("9.9.9"))
	assert.Equal(t, "9.9.9_1", svc.next(t))
	assert.Equal(t, "9.9.9_2", svc.next(t), "chunk 1 is in flight, so chunk 2 is next")

	for _, id := range []string{"9.9.9_1", "9.9.9_2"} {
		svc.complete(id, completedResult(id), "")
	}
	assert.Equal(t, "9.9.9_3", svc.next(t))
	svc.complete("9.9.9_3", completedResult("9.9.9_3"), "")

	require.Eventually(t, func() bool { return ready(f.clips, "9.9.9") }, waitFor, tick)
	require.Eventually(t, func() bool {
		_, ok := f.sched.HighPriority()
		return !ok
	}, waitFor, tick)
	assert.Equal(t, "1.1.1", svc.next(t))
}

func TestScheduler_FailureClearsPointer(t *testing.T) {
	mock := synth.NewMock()
	mock.SetLatency(0)
	mock.FailWith("[speed=100]1.1.2", "unknown voice")
	f := setup(t, fast(), mock, "[speed=100]1.1.1", "[speed=100]1.1.2")

	require.NoError(t, f.sched.SetHighPriority("[speed=100]1.1.2"))

	require.Eventually(t, func() bool { return f.sched.Stats().Failed == 1 }, waitFor, tick)
	_, ok := f.sched.HighPriority()
	assert.False(t, ok, "a failed target must not stay prioritized")

	require.Eventually(t, func() bool { return ready(f.clips, "[speed=100]1.1.1") }, waitFor, tick)
	assert.False(t, ready(f.clips, "[speed=100]1.1.2"))
	assert.Equal(t, "[speed=100]1.1.2", mock.SubmittedIDs()[0])
}

func TestScheduler_HighPriorityIgnoresReadyContent(t *testing.T) {
	f := setup(t, fast(), newCaptureService())

	require.NoError(t, f.clips.Store(contentid.MustParse("1.1.1"), nil))
	require.NoError(t, f.sched.SetHighPriority("1.1.1"))

	_, ok := f.sched.HighPriority()
	assert.False(t, ok)

	assert.ErrorIs(t, f.sched.SetHighPriority("bad"), contentid.ErrMalformedIdentity)
}

func TestScheduler_StopAndResumeAfterRestart(t *testing.T) {
	mock := synth.NewMock()
	mock.SetLatency(0)
	mock.HoldPayloads(true)
	f := setup(t, fast(), mock, "1.1.1", "1.1.2")

	require.True(t, f.sched.Start())
	require.Eventually(t, func() bool { return mock.Held() == 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return f.sched.Stats().Materializing == 2 }, waitFor, tick)

	f.sched.Stop()
	assert.Equal(t, Idle, f.sched.State())
	assert.Equal(t, 2, f.sched.Stats().Recovery)

	require.NoError(t, f.seq.Enqueue(queue.Request{ID: "1.1.3", Text: "later"}))
	assert.False(t, f.sched.Start(), "a stopped scheduler stays stopped until resumed")

	mock.HoldPayloads(false)
	f.sched.ResumeAfterRestart()

	require.Eventually(t, func() bool {
		return ready(f.clips, "1.1.1") && ready(f.clips, "1.1.2") && ready(f.clips, "1.1.3")
	}, waitFor, tick)
	assert.Len(t, mock.Submissions(), 5)
	assert.Zero(t, f.sched.Stats().Recovery)

	// The original payloads arriving late are ignored.
	assert.Equal(t, 2, mock.ReleasePayloads())
}

func TestScheduler_ResumeAbandonsLostDispatch(t *testing.T) {
	svc := newCaptureService()
	cfg := Config{DispatchDelay: time.Millisecond, DelayIncrement: time.Millisecond, Cooldown: time.Millisecond}
	f := setup(t, cfg, svc, "1.1.2")

	require.True(t, f.sched.Start())
	require.Equal(t, "1.1.2", svc.next(t))
	lost := svc.callback("1.1.2")

	// The dispatch of 1.1.2 never completes before the restart.
	f.sched.Stop()
	require.Equal(t, 1, f.sched.Stats().Recovery)
	require.NoError(t, f.seq.Enqueue(queue.Request{ID: "1.1.1", Text: "say 1.1.1"}))
	f.sched.ResumeAfterRestart()

	require.Equal(t, "1.1.1", svc.next(t))
	require.Equal(t, "1.1.2", svc.next(t))

	// A late completion of the lost dispatch must not touch the new one.
	lost(nil, synth.RateLimitMarker)
	assert.False(t, f.seq.Contains("1.1.2"))
	assert.Equal(t, 2, f.sched.Stats().InFlight)
	assert.Zero(t, f.sched.Stats().RateLimited)

	svc.complete("1.1.1", nil, synth.RateLimitMarker)
	svc.complete("1.1.2", completedResult("1.1.2"), "")

	// The drain ends and the rate-limited request is sent again.
	require.Equal(t, "1.1.1", svc.next(t))
	svc.complete("1.1.1", completedResult("1.1.1"), "")

	require.Eventually(t, func() bool {
		return ready(f.clips, "1.1.1") && ready(f.clips, "1.1.2")
	}, waitFor, tick)
	st := f.sched.Stats()
	assert.Zero(t, st.InFlight)
	assert.Zero(t, st.Materializing)
	assert.EqualValues(t, 1, st.RateLimited)
}

func TestScheduler_ResumeEndsDrainHeldByLostDispatch(t *testing.T) {
	svc := newCaptureService()
	cfg := Config{DispatchDelay: time.Millisecond, DelayIncrement: time.Millisecond, Cooldown: time.Millisecond}
	f := setup(t, cfg, svc, "1.1.1", "1.1.2")

	require.True(t, f.sched.Start())
	require.Equal(t, "1.1.1", svc.next(t))
	require.Equal(t, "1.1.2", svc.next(t))

	// 1.1.1 is rate limited while 1.1.2 is lost in flight.
	svc.complete("1.1.1", nil, synth.RateLimitMarker)
	require.Eventually(t, func() bool { return f.sched.State() == AwaitingDrain }, waitFor, tick)

	f.sched.Stop()
	f.sched.ResumeAfterRestart()

	sent := []string{svc.next(t), svc.next(t)}
	assert.ElementsMatch(t, []string{"1.1.1", "1.1.2"}, sent)
	for _, id := range sent {
		svc.complete(id, completedResult(id), "")
	}
	require.Eventually(t, func() bool {
		return ready(f.clips, "1.1.1") && ready(f.clips, "1.1.2")
	}, waitFor, tick)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "awaiting drain", AwaitingDrain.String())
}
