// Package narrator is the consumer-facing surface of the prefetch system.
//
// A Narrator owns the sequencer, scheduler and clip cache for one process
// or test. Callers prepare content by ID and poll for readiness; nothing in
// this package blocks on synthesis.
package narrator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/voiceover/internal/cache"
	"github.com/dgnsrekt/voiceover/internal/contentid"
	"github.com/dgnsrekt/voiceover/internal/queue"
	"github.com/dgnsrekt/voiceover/internal/scheduler"
	"github.com/dgnsrekt/voiceover/internal/segment"
	"github.com/dgnsrekt/voiceover/internal/synth"
)

// ErrChunkIdentity is returned when a caller passes a chunk ID where a
// content ID is expected.
var ErrChunkIdentity = errors.New("chunk identifiers are reserved for segmented content")

// DefaultSpeed is the speech speed used when none is configured.
const DefaultSpeed = 100

// Options configures a Narrator.
type Options struct {
	Scheduler        scheduler.Config
	MaxLength        int
	CompressionLevel int
	Accessibility    contentid.Accessibility
	Voices           *synth.Resolver

	// NewSequencer builds the sequencer. Nil selects queue.NewOrdered.
	NewSequencer func(queue.AccessibilityFunc) queue.Sequencer

	// Visible supplies the currently visible content for Playlist and
	// Refresh. It may be nil.
	Visible VisibleSource
}

// DefaultOptions returns options with default pacing and segment length.
func DefaultOptions() Options {
	return Options{
		Scheduler:        scheduler.DefaultConfig(),
		MaxLength:        segment.DefaultMaxLength,
		CompressionLevel: cache.DefaultCompressionLevel,
		Accessibility:    contentid.Accessibility{Speed: DefaultSpeed},
	}
}

// source is the text behind a base identity, kept so content can be
// prepared again for a different rendering.
type source struct {
	text     string
	speaker  string
	gendered bool
}

// Narrator prepares and serves synthesized clips.
type Narrator struct {
	voices  *synth.Resolver
	seg     *segment.Segmenter
	seq     queue.Sequencer
	clips   *cache.ClipCache
	sched   *scheduler.Scheduler
	visible VisibleSource

	mu       sync.RWMutex
	access   contentid.Accessibility
	sources  map[string]source
	prepared map[string]struct{}
}

// New returns a Narrator submitting to svc.
func New(svc synth.Service, opts Options) (*Narrator, error) {
	clips, err := cache.New(cache.WithCompressionLevel(opts.CompressionLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create clip cache: %w", err)
	}

	voices := opts.Voices
	if voices == nil {
		voices = synth.NewResolver(nil, synth.Voice{}, synth.DefaultProsody)
	}

	n := &Narrator{
		voices:   voices,
		seg:      segment.New(opts.MaxLength),
		clips:    clips,
		visible:  opts.Visible,
		access:   opts.Accessibility,
		sources:  make(map[string]source),
		prepared: make(map[string]struct{}),
	}

	newSeq := opts.NewSequencer
	if newSeq == nil {
		newSeq = func(f queue.AccessibilityFunc) queue.Sequencer { return queue.NewOrdered(f) }
	}
	n.seq = newSeq(n.Accessibility)
	n.sched = scheduler.New(opts.Scheduler, n.seq, svc, clips)

	return n, nil
}

// render returns id with the accessibility layer content is stored under.
// Callers hold n.mu.
func (n *Narrator) render(id contentid.ID, hasMarkersApplied, gendered bool, access contentid.Accessibility) contentid.ID {
	if hasMarkersApplied && id.Marked {
		return id
	}
	a := contentid.Accessibility{Speed: access.Speed}
	if gendered {
		a.Gender = access.Gender
	}
	return id.WithAccessibility(a)
}

func parseContent(id string) (contentid.ID, error) {
	parsed, err := contentid.Parse(id)
	if err != nil {
		return contentid.ID{}, err
	}
	if parsed.IsChunk() {
		return contentid.ID{}, fmt.Errorf("%s: %w", id, ErrChunkIdentity)
	}
	return parsed, nil
}

// PrepareClip queues text for synthesis under id. Unless hasMarkersApplied
// is set, the current accessibility settings are applied to id; gender only
// applies when speaker has gendered voices. Content that is already
// prepared is not queued again. When urgent is set the content is fetched
// ahead of everything else.
//
// Text with nothing speakable is stored as a silent clip. Oversized text is
// registered as a cluster and queued chunk by chunk.
func (n *Narrator) PrepareClip(id, text, speaker string, hasMarkersApplied, urgent bool) error {
	parsed, err := parseContent(id)
	if err != nil {
		log.Error("Narrator: rejecting malformed ID", "id", id, "error", err)
		return err
	}

	gendered := n.voices.Gendered(speaker)

	n.mu.Lock()
	n.sources[parsed.Base()] = source{text: text, speaker: speaker, gendered: gendered}
	marked := n.render(parsed, hasMarkersApplied, gendered, n.access)
	key := marked.String()
	_, seen := n.prepared[key]
	n.prepared[key] = struct{}{}
	n.mu.Unlock()

	if !seen {
		if err := n.enqueue(marked, text, speaker); err != nil {
			return err
		}
	}

	if urgent {
		return n.sched.SetHighPriority(key)
	}
	n.sched.Start()
	return nil
}

func (n *Narrator) enqueue(id contentid.ID, text, speaker string) error {
	clean := segment.Clean(text)
	if !segment.Speakable(clean) {
		log.Debug("Narrator: storing silent clip", "id", id.String())
		if err := n.clips.Store(id, nil); err != nil && !errors.Is(err, cache.ErrAlreadyStored) {
			return err
		}
		return nil
	}

	voice := n.voices.Resolve(speaker, id.Access)
	pre, post := n.voices.Wrap(id.Access.Speed)
	request := func(reqID, text string) queue.Request {
		return queue.Request{
			ID:       reqID,
			Text:     text,
			Speaker:  speaker,
			PreText:  pre,
			PostText: post,
			Voice:    voice,
		}
	}

	if !n.seg.IsOversized(clean) {
		return n.push(request(id.String(), clean))
	}

	chunks, splitErr := n.seg.Split(id.String(), clean)
	if len(chunks) == 0 {
		return fmt.Errorf("prepare %s: %w", id, splitErr)
	}
	if _, err := n.clips.RegisterCluster(id, len(chunks)); err != nil {
		return fmt.Errorf("prepare %s: %w", id, err)
	}
	for _, c := range chunks {
		if err := n.push(request(c.ID, c.Text)); err != nil {
			return err
		}
	}

	log.Debug("Narrator: prepared cluster", "id", id.String(), "chunks", len(chunks))
	return nil
}

func (n *Narrator) push(req queue.Request) error {
	err := n.seq.Enqueue(req)
	if errors.Is(err, queue.ErrDuplicate) {
		log.Debug("Narrator: request already pending", "id", req.ID)
		return nil
	}
	return err
}

// key resolves a query to a cache key. An explicit access overrides the
// current settings; IDs with markers applied use their own.
func (n *Narrator) key(id string, hasMarkersApplied bool, access *contentid.Accessibility) (cache.Key, error) {
	parsed, err := parseContent(id)
	if err != nil {
		return cache.Key{}, err
	}

	n.mu.RLock()
	a := n.access
	n.mu.RUnlock()
	if access != nil {
		a = *access
	}

	if hasMarkersApplied && parsed.Marked {
		return cache.KeyFor(parsed), nil
	}
	return cache.Key{Speed: a.Speed, Base: parsed.Base(), Gender: a.Gender}, nil
}

// Clip returns the single clip for id. ok is false while the clip is not
// ready; a silent clip is (nil, true).
func (n *Narrator) Clip(id string, hasMarkersApplied bool, access *contentid.Accessibility) (*cache.Clip, bool, error) {
	k, err := n.key(id, hasMarkersApplied, access)
	if err != nil {
		return nil, false, err
	}
	clip, ok := n.clips.Clip(k)
	return clip, ok, nil
}

// ClipCluster returns the ordered chunk clips for id once all are stored.
func (n *Narrator) ClipCluster(id string, hasMarkersApplied bool, access *contentid.Accessibility) ([]*cache.Clip, bool, error) {
	k, err := n.key(id, hasMarkersApplied, access)
	if err != nil {
		return nil, false, err
	}
	clips, ok := n.clips.ClipCluster(k)
	return clips, ok, nil
}

// ClusterStatus describes the cluster for id.
func (n *Narrator) ClusterStatus(id string, hasMarkersApplied bool, access *contentid.Accessibility) (cache.ClusterStatus, bool, error) {
	k, err := n.key(id, hasMarkersApplied, access)
	if err != nil {
		return cache.ClusterStatus{}, false, err
	}
	st, ok := n.clips.ClusterStatus(k)
	return st, ok, nil
}

// NextChunk returns the lowest chunk index of id's cluster that is not yet
// stored. A consumer playing a partial cluster waits on this chunk.
func (n *Narrator) NextChunk(id string, hasMarkersApplied bool, access *contentid.Accessibility) (int, bool, error) {
	k, err := n.key(id, hasMarkersApplied, access)
	if err != nil {
		return 0, false, err
	}
	i, ok := n.clips.LowestMissing(k)
	return i, ok, nil
}

// IsCluster reports whether id was segmented into chunks.
func (n *Narrator) IsCluster(id string, hasMarkersApplied bool, access *contentid.Accessibility) (bool, error) {
	k, err := n.key(id, hasMarkersApplied, access)
	if err != nil {
		return false, err
	}
	return n.clips.IsCluster(k), nil
}

// IsReady reports whether id can be played: its clip is stored or its
// cluster is complete.
func (n *Narrator) IsReady(id string, hasMarkersApplied bool, access *contentid.Accessibility) (bool, error) {
	k, err := n.key(id, hasMarkersApplied, access)
	if err != nil {
		return false, err
	}
	return n.clips.IsReady(k), nil
}

// IsClusterAvailable reports whether at least one chunk of id is stored.
func (n *Narrator) IsClusterAvailable(id string, hasMarkersApplied bool, access *contentid.Accessibility) (bool, error) {
	k, err := n.key(id, hasMarkersApplied, access)
	if err != nil {
		return false, err
	}
	return n.clips.IsClusterAvailable(k), nil
}

// HighPriorityID returns the content currently fetched ahead of the queue.
func (n *Narrator) HighPriorityID() (string, bool) {
	return n.sched.HighPriority()
}

// SetHighPriorityID makes id the next content fetched. An empty id clears
// the pointer.
func (n *Narrator) SetHighPriorityID(id string, hasMarkersApplied bool) error {
	if id == "" {
		n.sched.ClearHighPriority()
		return nil
	}
	parsed, err := parseContent(id)
	if err != nil {
		return err
	}

	n.mu.RLock()
	marked := n.render(parsed, hasMarkersApplied, n.sources[parsed.Base()].gendered, n.access)
	n.mu.RUnlock()

	return n.sched.SetHighPriority(marked.String())
}

// Interaction records that the consumer reached id, so prefetching
// continues from there.
func (n *Narrator) Interaction(id string) error {
	if err := n.seq.SetLastConsumed(id); err != nil {
		return err
	}
	log.Debug("Narrator: interaction", "id", id)
	return nil
}

// Accessibility returns the current global accessibility settings.
func (n *Narrator) Accessibility() contentid.Accessibility {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.access
}

// SetAccessibility changes the global settings. Pending requests for the
// new rendering become eligible immediately.
func (n *Narrator) SetAccessibility(a contentid.Accessibility) {
	n.mu.Lock()
	n.access = a
	n.mu.Unlock()

	log.Info("Narrator: accessibility changed", "speed", a.Speed, "gender", a.Gender)
	n.sched.Start()
}

// Stats is a snapshot of the whole pipeline.
type Stats struct {
	Scheduler scheduler.Stats
	Cache     cache.Stats
	Prepared  int
}

// Stats returns current pipeline metrics.
func (n *Narrator) Stats() Stats {
	n.mu.RLock()
	prepared := len(n.prepared)
	n.mu.RUnlock()

	return Stats{
		Scheduler: n.sched.Stats(),
		Cache:     n.clips.Stats(),
		Prepared:  prepared,
	}
}

// Suspend stops downloading. Requests that were sent but not stored are
// kept and sent again by Resume.
func (n *Narrator) Suspend() {
	n.sched.Stop()
}

// Resume restarts downloading after Suspend.
func (n *Narrator) Resume() {
	n.sched.ResumeAfterRestart()
}

// Close stops downloading and releases the cache.
func (n *Narrator) Close() error {
	if err := n.sched.Close(); err != nil {
		return err
	}
	return n.clips.Close()
}
