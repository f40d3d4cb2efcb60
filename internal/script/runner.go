package script

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/voiceover/internal/cache"
	"github.com/dgnsrekt/voiceover/internal/narrator"
	"github.com/dgnsrekt/voiceover/internal/synth"
)

// EventKind is what happened to a line during a run.
type EventKind int

const (
	// Waiting means the line's audio is not ready yet.
	Waiting EventKind = iota
	// Playing means the line's audio is ready and being held for its
	// duration.
	Playing
	// Skipped means the line never became ready within the patience limit.
	Skipped
	// Finished means the last line was played.
	Finished
)

func (k EventKind) String() string {
	switch k {
	case Waiting:
		return "waiting"
	case Playing:
		return "playing"
	case Skipped:
		return "skipped"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// Event reports progress through the script.
type Event struct {
	Kind     EventKind
	Line     Line
	Index    int
	Total    int
	Duration time.Duration
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// Pace scales how long a line is held: 1 plays in real time, 0 moves on
	// as soon as audio is ready.
	Pace float64
	// Poll is the readiness polling interval.
	Poll time.Duration
	// Patience is how long to wait for one line before skipping it.
	Patience time.Duration
	// OnEvent receives progress. It must not block.
	OnEvent func(Event)
}

// DefaultRunnerOptions returns real-time pacing.
func DefaultRunnerOptions() RunnerOptions {
	return RunnerOptions{
		Pace:     1,
		Poll:     50 * time.Millisecond,
		Patience: 30 * time.Second,
	}
}

// Runner walks a script the way a listener would: it prepares every line,
// waits for the current line's audio, holds it for its play time plus the
// line's gap and moves on, reporting each step to the narrator so
// prefetching follows the listener.
type Runner struct {
	n    *narrator.Narrator
	w    *Window
	opts RunnerOptions
}

// NewRunner returns a Runner over w.
func NewRunner(n *narrator.Narrator, w *Window, opts RunnerOptions) *Runner {
	if opts.Poll <= 0 {
		opts.Poll = 50 * time.Millisecond
	}
	if opts.Patience <= 0 {
		opts.Patience = 30 * time.Second
	}
	if opts.OnEvent == nil {
		opts.OnEvent = func(Event) {}
	}
	return &Runner{n: n, w: w, opts: opts}
}

// Prepare queues every line of the script. The line under the cursor is
// urgent.
func (r *Runner) Prepare() error {
	current := r.w.Current().ID
	for _, l := range r.w.Lines() {
		if err := r.n.PrepareClip(l.ID, l.Text, l.Speaker, false, l.ID == current); err != nil {
			return err
		}
	}
	return nil
}

// Reload swaps in s and prepares lines that are new or changed.
func (r *Runner) Reload(s *Script) error {
	r.w.Replace(s)
	if err := r.Prepare(); err != nil {
		return err
	}
	return r.n.Refresh()
}

// Run plays from the cursor to the end of the script.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Prepare(); err != nil {
		return err
	}

	for {
		line := r.w.Current()
		pos, total := r.w.Position()

		if err := r.n.Interaction(line.ID); err != nil {
			return err
		}
		if err := r.n.Refresh(); err != nil {
			return err
		}

		d, ok, err := r.await(ctx, line, pos, total)
		if err != nil {
			return err
		}
		if ok {
			r.opts.OnEvent(Event{Kind: Playing, Line: line, Index: pos, Total: total, Duration: d})
			hold := time.Duration(float64(d+line.Gap) * r.opts.Pace)
			if err := sleep(ctx, hold); err != nil {
				return err
			}
		} else {
			log.Warn("Script: skipping line", "id", line.ID, "waited", r.opts.Patience)
			r.opts.OnEvent(Event{Kind: Skipped, Line: line, Index: pos, Total: total})
		}

		if _, more := r.w.Advance(); !more {
			r.opts.OnEvent(Event{Kind: Finished, Line: line, Index: pos, Total: total})
			return nil
		}
	}
}

// await polls until line is ready and returns its play time.
func (r *Runner) await(ctx context.Context, line Line, pos, total int) (time.Duration, bool, error) {
	deadline := time.Now().Add(r.opts.Patience)
	announced := false

	for {
		ready, err := r.n.IsReady(line.ID, false, nil)
		if err != nil {
			return 0, false, err
		}
		if ready {
			return r.duration(line), true, nil
		}
		if !announced {
			r.opts.OnEvent(Event{Kind: Waiting, Line: line, Index: pos, Total: total})
			announced = true
			if err := r.n.SetHighPriorityID(line.ID, false); err != nil {
				return 0, false, err
			}
		}
		if time.Now().After(deadline) {
			return 0, false, nil
		}
		if err := sleep(ctx, r.opts.Poll); err != nil {
			return 0, false, err
		}
	}
}

func (r *Runner) duration(line Line) time.Duration {
	var clips []*cache.Clip
	if isCluster, _ := r.n.IsCluster(line.ID, false, nil); isCluster {
		clips, _, _ = r.n.ClipCluster(line.ID, false, nil)
	} else {
		clip, _, _ := r.n.Clip(line.ID, false, nil)
		clips = []*cache.Clip{clip}
	}

	var total time.Duration
	for _, c := range clips {
		if c == nil {
			continue
		}
		if d, ok := synth.Duration(c.Format, c.Audio); ok {
			total += d
			continue
		}
		total += spoken(line.Text)
	}
	return total
}

// spoken estimates speaking time at 150 words per minute.
func spoken(text string) time.Duration {
	words := len(strings.Fields(text))
	return time.Duration(words) * time.Minute / 150
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
