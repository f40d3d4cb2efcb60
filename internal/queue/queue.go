package queue

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/voiceover/internal/contentid"
	"github.com/dgnsrekt/voiceover/internal/synth"
)

var (
	// ErrDuplicate is returned when a request with the same ID is already pending.
	ErrDuplicate = errors.New("request already pending")

	// ErrEmptyText is returned for a request with nothing to synthesize.
	ErrEmptyText = errors.New("request has no text")
)

// Request is one pending synthesis request.
type Request struct {
	ID       string
	Text     string
	Speaker  string
	PreText  string
	PostText string
	Voice    synth.VoiceParams
}

// FullText returns the text sent to the synthesis service.
func (r Request) FullText() string {
	return r.PreText + r.Text + r.PostText
}

// Sequencer holds pending requests and decides which one is downloaded next.
// Implementations must be safe for concurrent use; each method is atomic.
type Sequencer interface {
	// Enqueue adds a request.
	Enqueue(req Request) error

	// DequeueHighestPriority removes and returns the next request eligible
	// under the current accessibility settings. ok is false when none is.
	DequeueHighestPriority() (req Request, ok bool)

	// DequeueByID removes and returns a specific pending request.
	DequeueByID(id string) (req Request, ok bool)

	// Count returns the number of pending requests.
	Count() int

	// Contains reports whether id is pending.
	Contains(id string) bool

	// SetLastConsumed records the content the consumer reached last.
	SetLastConsumed(id string) error
}

// AccessibilityFunc reports the current global accessibility settings.
type AccessibilityFunc func() contentid.Accessibility

// Stats is a snapshot of sequencer activity.
type Stats struct {
	Enqueued int64
	Dequeued int64
	Rejected int64
	Pending  int
}

// matches reports whether a pending ID is eligible under access. Unmarked
// IDs are eligible at any setting; gender is only checked when both the ID
// and the settings specify one.
func matches(id contentid.ID, access AccessibilityFunc) bool {
	if access == nil || !id.Marked {
		return true
	}
	a := access()
	if id.Access.Speed != a.Speed {
		return false
	}
	if id.Access.Gender != contentid.GenderUnspecified &&
		a.Gender != contentid.GenderUnspecified &&
		id.Access.Gender != a.Gender {
		return false
	}
	return true
}

type entry struct {
	req Request
	id  contentid.ID
}

// Ordered is the default Sequencer. It keeps pending requests sorted by
// contentid.Compare and serves them in consumption order starting just after
// the last consumed content, wrapping around to the earliest entry when
// nothing eligible remains ahead.
type Ordered struct {
	mu      sync.Mutex
	cmp     *contentid.Comparator
	access  AccessibilityFunc
	pending []entry
	ids     map[string]struct{}

	last    contentid.ID
	hasLast bool

	stats Stats
}

// NewOrdered returns an empty Ordered sequencer. access may be nil, in which
// case every request is eligible.
func NewOrdered(access AccessibilityFunc) *Ordered {
	return &Ordered{
		cmp:    contentid.NewComparator(),
		access: access,
		ids:    make(map[string]struct{}),
	}
}

// Enqueue implements Sequencer.
func (q *Ordered) Enqueue(req Request) error {
	if req.Text == "" {
		return fmt.Errorf("%s: %w", req.ID, ErrEmptyText)
	}
	id, err := q.cmp.Parse(req.ID)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.ids[req.ID]; ok {
		q.stats.Rejected++
		return fmt.Errorf("%s: %w", req.ID, ErrDuplicate)
	}

	i, _ := slices.BinarySearchFunc(q.pending, id, func(e entry, target contentid.ID) int {
		return contentid.Compare(e.id, target)
	})
	q.pending = slices.Insert(q.pending, i, entry{req: req, id: id})
	q.ids[req.ID] = struct{}{}
	q.stats.Enqueued++

	log.Debug("Queue: enqueued", "id", req.ID, "pending", len(q.pending))
	return nil
}

// DequeueHighestPriority implements Sequencer.
func (q *Ordered) DequeueHighestPriority() (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	first := -1
	pick := -1
	for i, e := range q.pending {
		if !matches(e.id, q.access) {
			continue
		}
		if first < 0 {
			first = i
		}
		if !q.hasLast || contentid.ComparePosition(e.id, q.last) > 0 {
			pick = i
			break
		}
	}
	if pick < 0 {
		pick = first
	}
	if pick < 0 {
		return Request{}, false
	}
	return q.removeAt(pick), true
}

// DequeueByID implements Sequencer.
func (q *Ordered) DequeueByID(id string) (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.ids[id]; !ok {
		return Request{}, false
	}
	i := slices.IndexFunc(q.pending, func(e entry) bool { return e.req.ID == id })
	return q.removeAt(i), true
}

func (q *Ordered) removeAt(i int) Request {
	e := q.pending[i]
	q.pending = slices.Delete(q.pending, i, i+1)
	delete(q.ids, e.req.ID)
	q.cmp.Forget(e.req.ID)
	q.stats.Dequeued++
	return e.req
}

// Count implements Sequencer.
func (q *Ordered) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Contains implements Sequencer.
func (q *Ordered) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.ids[id]
	return ok
}

// SetLastConsumed implements Sequencer. The accessibility layer of id is
// ignored.
func (q *Ordered) SetLastConsumed(id string) error {
	parsed, err := contentid.Parse(id)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.last = parsed.WithoutAccessibility()
	q.hasLast = true
	return nil
}

// Pending returns the pending IDs in order.
func (q *Ordered) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, len(q.pending))
	for i, e := range q.pending {
		ids[i] = e.req.ID
	}
	return ids
}

// Stats returns a snapshot of activity counters.
func (q *Ordered) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = len(q.pending)
	return s
}
