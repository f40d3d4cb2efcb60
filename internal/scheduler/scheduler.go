// Package scheduler drains the request sequencer against the synthesis
// service. It paces dispatches, backs off when the service reports rate
// limiting, honors a single high-priority pointer, and stores finished audio
// in the clip cache.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/voiceover/internal/cache"
	"github.com/dgnsrekt/voiceover/internal/contentid"
	"github.com/dgnsrekt/voiceover/internal/queue"
	"github.com/dgnsrekt/voiceover/internal/synth"
)

// ErrStopped is returned by operations on a closed scheduler.
var ErrStopped = errors.New("scheduler stopped")

// Default pacing.
const (
	DefaultDispatchDelay  = 250 * time.Millisecond
	DefaultDelayIncrement = 250 * time.Millisecond
	DefaultCooldown       = 5 * time.Second
)

// Config controls dispatch pacing.
type Config struct {
	// DispatchDelay is the initial wait between dispatches.
	DispatchDelay time.Duration
	// DelayIncrement is added to the delay after every rate-limit signal.
	DelayIncrement time.Duration
	// Cooldown is waited after in-flight requests drain following a
	// rate-limit signal.
	Cooldown time.Duration
}

// DefaultConfig returns the default pacing.
func DefaultConfig() Config {
	return Config{
		DispatchDelay:  DefaultDispatchDelay,
		DelayIncrement: DefaultDelayIncrement,
		Cooldown:       DefaultCooldown,
	}
}

// State is the scheduler's loop state.
type State int

const (
	// Idle means no loop is running.
	Idle State = iota
	// Running means the loop is dispatching.
	Running
	// AwaitingDrain means the loop is waiting out a rate-limit signal.
	AwaitingDrain
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case AwaitingDrain:
		return "awaiting drain"
	default:
		return "unknown"
	}
}

// Clips is the part of the clip cache the scheduler uses.
type Clips interface {
	Store(id contentid.ID, clip *cache.Clip) error
	IsReady(k cache.Key) bool
	ClusterStatus(k cache.Key) (cache.ClusterStatus, bool)
}

// Stats is a snapshot of scheduler activity.
type Stats struct {
	State        State
	Delay        time.Duration
	HighPriority string

	Pending       int
	InFlight      int
	Materializing int
	Recovery      int

	Dispatched  int64
	Succeeded   int64
	RateLimited int64
	Failed      int64
}

// Scheduler runs at most one dispatch loop at a time. It is safe for
// concurrent use.
type Scheduler struct {
	cfg   Config
	seq   queue.Sequencer
	svc   synth.Service
	clips Clips

	limiter *rate.Limiter
	closing chan struct{}
	wg      sync.WaitGroup

	mu        sync.Mutex
	cancel    context.CancelFunc
	loopDone  chan struct{}
	looping   bool
	suspended bool
	closed    bool
	delay     time.Duration

	draining bool
	drained  chan struct{}

	// inFlight holds dispatched requests whose completion has not fired;
	// materializing holds accepted ones whose payload is still arriving.
	// Entries carry the dispatch generation so callbacks from a dispatch
	// abandoned by ResumeAfterRestart cannot touch a newer one.
	inFlight      map[string]flight
	materializing map[string]flight
	recovery      map[string]queue.Request
	gen           uint64

	priority    contentid.ID
	hasPriority bool

	stats Stats
}

type flight struct {
	req queue.Request
	gen uint64
}

// New returns an idle scheduler.
func New(cfg Config, seq queue.Sequencer, svc synth.Service, clips Clips) *Scheduler {
	if cfg.DispatchDelay < 0 {
		cfg.DispatchDelay = 0
	}
	return &Scheduler{
		cfg:           cfg,
		seq:           seq,
		svc:           svc,
		clips:         clips,
		limiter:       rate.NewLimiter(every(cfg.DispatchDelay), 1),
		closing:       make(chan struct{}),
		delay:         cfg.DispatchDelay,
		inFlight:      make(map[string]flight),
		materializing: make(map[string]flight),
		recovery:      make(map[string]queue.Request),
	}
}

func every(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}

// Start launches the dispatch loop if it is not running and there is work:
// a pending request or a high-priority pointer. It reports whether a loop
// was launched.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

func (s *Scheduler) startLocked() bool {
	if s.closed || s.suspended || s.looping {
		return false
	}
	if s.seq.Count() == 0 && !s.hasPriority {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.loopDone = done
	s.looping = true

	log.Debug("Scheduler: starting loop", "pending", s.seq.Count(), "delay", s.delay)
	go s.run(ctx, cancel, done)
	return true
}

func (s *Scheduler) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer cancel()

	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		if err := s.awaitDrain(ctx); err != nil {
			return
		}
		f, ok := s.next(ctx)
		if !ok {
			return
		}
		s.dispatch(ctx, f)
	}
}

// awaitDrain blocks while draining until nothing is in flight, then waits
// the cooldown.
func (s *Scheduler) awaitDrain(ctx context.Context) error {
	s.mu.Lock()
	if !s.draining {
		s.mu.Unlock()
		return nil
	}
	drained := s.drained
	inFlight := len(s.inFlight)
	s.mu.Unlock()

	log.Info("Scheduler: waiting for in-flight requests to drain", "inFlight", inFlight)
	select {
	case <-drained:
	case <-ctx.Done():
		return ctx.Err()
	}

	log.Debug("Scheduler: drained, cooling down", "cooldown", s.cfg.Cooldown)
	timer := time.NewTimer(s.cfg.Cooldown)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	s.draining = false
	s.mu.Unlock()
	log.Info("Scheduler: resuming after drain", "delay", s.Delay())
	return nil
}

// next picks the request to dispatch and marks it in flight. When nothing is
// available the loop is marked stopped under the same lock, so a concurrent
// Start launches a fresh loop.
func (s *Scheduler) next(ctx context.Context) (flight, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.Err() != nil {
		return flight{}, false
	}

	req, ok := s.priorityRequest()
	if !ok {
		req, ok = s.seq.DequeueHighestPriority()
	}
	if !ok {
		s.looping = false
		log.Debug("Scheduler: nothing to dispatch, going idle")
		return flight{}, false
	}

	s.gen++
	f := flight{req: req, gen: s.gen}
	s.inFlight[req.ID] = f
	s.stats.Dispatched++
	return f, true
}

// priorityRequest resolves the high-priority pointer to a pending request:
// the pointer's own request, or the lowest missing chunk of its cluster that
// is not already in flight. Callers hold s.mu.
func (s *Scheduler) priorityRequest() (queue.Request, bool) {
	if !s.hasPriority {
		return queue.Request{}, false
	}

	k := cache.KeyFor(s.priority)
	if s.clips.IsReady(k) {
		s.clearPriority("ready")
		return queue.Request{}, false
	}

	target := s.priority.String()
	if status, ok := s.clips.ClusterStatus(k); ok {
		for _, i := range status.Missing {
			id := contentid.ChunkID(target, i)
			if s.busy(id) {
				continue
			}
			if req, ok := s.seq.DequeueByID(id); ok {
				log.Debug("Scheduler: dispatching high-priority chunk", "id", id)
				return req, true
			}
		}
		return queue.Request{}, false
	}

	if s.busy(target) {
		return queue.Request{}, false
	}
	req, ok := s.seq.DequeueByID(target)
	if ok {
		log.Debug("Scheduler: dispatching high-priority request", "id", target)
	}
	return req, ok
}

func (s *Scheduler) busy(id string) bool {
	_, a := s.inFlight[id]
	_, b := s.materializing[id]
	return a || b
}

func (s *Scheduler) dispatch(ctx context.Context, f flight) {
	req := f.req
	sub := synth.Submission{
		ID:    req.ID,
		Text:  req.FullText(),
		Voice: req.Voice,
		Cache: synth.CacheSettings{Key: req.ID, Persist: true},
	}

	log.Debug("Scheduler: dispatched", "id", req.ID, "speaker", req.Speaker, "chars", len(sub.Text))

	// Stopping the loop must not abort requests already sent.
	s.svc.Submit(context.WithoutCancel(ctx), sub, func(res synth.Result, errText string) {
		s.complete(f, res, errText)
	})
}

// complete handles the service's acceptance callback.
func (s *Scheduler) complete(f flight, res synth.Result, errText string) {
	req := f.req
	err := synth.Classify(errText)
	if err == nil && res == nil {
		err = fmt.Errorf("%w: no result", synth.ErrSynthesisFailed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.inFlight[req.ID]; !ok || cur.gen != f.gen {
		log.Debug("Scheduler: ignoring completion of abandoned dispatch", "id", req.ID, "error", err)
		return
	}
	delete(s.inFlight, req.ID)
	s.signalDrainedLocked()

	switch {
	case err == nil:
		s.materializing[req.ID] = f
		if s.closed {
			return
		}
		s.wg.Add(1)
		go s.finalize(f, res)

	case errors.Is(err, synth.ErrRateLimited):
		delete(s.recovery, req.ID)
		s.stats.RateLimited++
		s.delay += s.cfg.DelayIncrement
		s.limiter.SetLimit(every(s.delay))

		if err := s.seq.Enqueue(req); err != nil {
			log.Error("Scheduler: failed to re-enqueue rate-limited request", "id", req.ID, "error", err)
		}
		log.Warn("Scheduler: rate limited, backing off", "id", req.ID, "delay", s.delay)

		if !s.draining {
			s.draining = true
			s.drained = make(chan struct{})
			s.signalDrainedLocked()
		}
		s.startLocked()

	default:
		delete(s.recovery, req.ID)
		s.stats.Failed++
		log.Error("Scheduler: synthesis failed, dropping request", "id", req.ID, "error", err)
		s.clearPriorityFor(req.ID)
	}
}

// signalDrainedLocked closes the drain channel once nothing is in flight.
func (s *Scheduler) signalDrainedLocked() {
	if !s.draining || len(s.inFlight) > 0 || s.drained == nil {
		return
	}
	select {
	case <-s.drained:
	default:
		close(s.drained)
	}
}

// finalize waits for the payload and stores it.
func (s *Scheduler) finalize(f flight, res synth.Result) {
	defer s.wg.Done()
	req := f.req

	select {
	case <-res.PayloadComplete():
	case <-s.closing:
		return
	}

	audio, err := res.Audio()
	if err == nil {
		var id contentid.ID
		id, err = contentid.Parse(req.ID)
		if err == nil {
			err = s.clips.Store(id, &cache.Clip{ID: req.ID, Format: res.Format(), Audio: audio})
			if errors.Is(err, cache.ErrAlreadyStored) {
				err = nil
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.materializing[req.ID]; ok && cur.gen == f.gen {
		delete(s.materializing, req.ID)
	}
	delete(s.recovery, req.ID)

	if err != nil {
		s.stats.Failed++
		log.Error("Scheduler: failed to materialize result", "id", req.ID, "error", err)
		s.clearPriorityFor(req.ID)
		return
	}

	s.stats.Succeeded++
	log.Debug("Scheduler: stored", "id", req.ID, "bytes", len(audio))

	if s.hasPriority && s.clips.IsReady(cache.KeyFor(s.priority)) {
		s.clearPriority("ready")
	}
}

// clearPriorityFor clears the pointer if id is its target or a chunk of it.
// Callers hold s.mu.
func (s *Scheduler) clearPriorityFor(id string) {
	if !s.hasPriority {
		return
	}
	parsed, err := contentid.Parse(id)
	if err != nil {
		return
	}
	if parsed.IsChunk() {
		parsed = parsed.Cluster()
	}
	if cache.KeyFor(parsed) == cache.KeyFor(s.priority) {
		s.clearPriority("failed")
	}
}

func (s *Scheduler) clearPriority(reason string) {
	log.Debug("Scheduler: clearing high-priority pointer", "id", s.priority.String(), "reason", reason)
	s.priority = contentid.ID{}
	s.hasPriority = false
}

// SetHighPriority points the scheduler at id so it is fetched next,
// regardless of queue order, and starts the loop if needed. Content that is
// already ready is ignored.
func (s *Scheduler) SetHighPriority(id string) error {
	parsed, err := contentid.Parse(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStopped
	}
	if s.clips.IsReady(cache.KeyFor(parsed)) {
		log.Debug("Scheduler: high-priority target already ready", "id", id)
		return nil
	}

	s.priority = parsed
	s.hasPriority = true
	log.Debug("Scheduler: high-priority pointer set", "id", id)
	s.startLocked()
	return nil
}

// ClearHighPriority drops the pointer.
func (s *Scheduler) ClearHighPriority() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasPriority {
		s.clearPriority("cleared")
	}
}

// HighPriority returns the current pointer.
func (s *Scheduler) HighPriority() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasPriority {
		return "", false
	}
	return s.priority.String(), true
}

// Stop cancels the loop at its next suspension point and records every
// request that was dispatched but not yet stored for ResumeAfterRestart.
// Requests already sent are not cancelled. Start is a no-op until
// ResumeAfterRestart.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.suspended = true
	s.looping = false
	if s.cancel != nil {
		s.cancel()
	}
	done := s.loopDone
	for id, f := range s.inFlight {
		s.recovery[id] = f.req
	}
	for id, f := range s.materializing {
		s.recovery[id] = f.req
	}
	n := len(s.recovery)
	s.mu.Unlock()

	if done != nil {
		<-done
	}
	log.Info("Scheduler: stopped", "recovery", n)
}

// ResumeAfterRestart re-enqueues every request recorded by Stop and
// restarts the loop. The original dispatches of recovered requests are
// abandoned: their completions, if they ever fire, are ignored.
func (s *Scheduler) ResumeAfterRestart() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.suspended = false

	n := 0
	for id, req := range s.recovery {
		delete(s.recovery, id)
		delete(s.inFlight, id)
		delete(s.materializing, id)
		if err := s.seq.Enqueue(req); err != nil {
			log.Debug("Scheduler: recovery request not re-enqueued", "id", id, "error", err)
			continue
		}
		n++
	}

	s.signalDrainedLocked()

	log.Info("Scheduler: resuming", "recovered", n)
	s.startLocked()
}

// Delay returns the current inter-dispatch delay.
func (s *Scheduler) Delay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delay
}

// SetDelay replaces the inter-dispatch delay.
func (s *Scheduler) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d < 0 {
		d = 0
	}
	s.delay = d
	s.limiter.SetLimit(every(d))
}

// State returns the loop state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Scheduler) stateLocked() State {
	switch {
	case !s.looping:
		return Idle
	case s.draining:
		return AwaitingDrain
	default:
		return Running
	}
}

// Stats returns a snapshot of scheduler activity.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats
	st.State = s.stateLocked()
	st.Delay = s.delay
	st.Pending = s.seq.Count()
	st.InFlight = len(s.inFlight)
	st.Materializing = len(s.materializing)
	st.Recovery = len(s.recovery)
	if s.hasPriority {
		st.HighPriority = s.priority.String()
	}
	return st
}

// Close stops the loop and abandons payloads that have not completed.
func (s *Scheduler) Close() error {
	s.Stop()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closing)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}
