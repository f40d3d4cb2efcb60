package queue

import (
	"fmt"
	"slices"
	"sync"

	"github.com/dgnsrekt/voiceover/internal/contentid"
)

// FIFO is a Sequencer that serves eligible requests in arrival order. It
// accepts consumption signals but does not reorder around them.
type FIFO struct {
	mu      sync.Mutex
	access  AccessibilityFunc
	pending []entry
	stats   Stats
}

// NewFIFO returns an empty FIFO sequencer.
func NewFIFO(access AccessibilityFunc) *FIFO {
	return &FIFO{access: access}
}

// Enqueue implements Sequencer.
func (q *FIFO) Enqueue(req Request) error {
	if req.Text == "" {
		return fmt.Errorf("%s: %w", req.ID, ErrEmptyText)
	}
	id, err := contentid.Parse(req.ID)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.index(req.ID) >= 0 {
		q.stats.Rejected++
		return fmt.Errorf("%s: %w", req.ID, ErrDuplicate)
	}
	q.pending = append(q.pending, entry{req: req, id: id})
	q.stats.Enqueued++
	return nil
}

func (q *FIFO) index(id string) int {
	return slices.IndexFunc(q.pending, func(e entry) bool { return e.req.ID == id })
}

func (q *FIFO) removeAt(i int) Request {
	req := q.pending[i].req
	q.pending = slices.Delete(q.pending, i, i+1)
	q.stats.Dequeued++
	return req
}

// DequeueHighestPriority implements Sequencer.
func (q *FIFO) DequeueHighestPriority() (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := slices.IndexFunc(q.pending, func(e entry) bool { return matches(e.id, q.access) })
	if i < 0 {
		return Request{}, false
	}
	return q.removeAt(i), true
}

// DequeueByID implements Sequencer.
func (q *FIFO) DequeueByID(id string) (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.index(id)
	if i < 0 {
		return Request{}, false
	}
	return q.removeAt(i), true
}

// Count implements Sequencer.
func (q *FIFO) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Contains implements Sequencer.
func (q *FIFO) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.index(id) >= 0
}

// SetLastConsumed implements Sequencer. It only validates id.
func (q *FIFO) SetLastConsumed(id string) error {
	_, err := contentid.Parse(id)
	return err
}

// Stats returns a snapshot of activity counters.
func (q *FIFO) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = len(q.pending)
	return s
}
