package contentid

import (
	"cmp"
	"strings"
	"sync"
)

// Compare orders two identifiers for download: speed first, then the order
// tuple (a strict prefix sorts first), then tag, then chunk index, then gender
// (unspecified before specified, female before male).
func Compare(a, b ID) int {
	if c := cmp.Compare(a.Access.Speed, b.Access.Speed); c != 0 {
		return c
	}
	return CompareIdentity(a, b)
}

// CompareIdentity is Compare without the speed criterion.
func CompareIdentity(a, b ID) int {
	if c := ComparePosition(a, b); c != 0 {
		return c
	}
	return cmp.Compare(a.Access.Gender, b.Access.Gender)
}

// ComparePosition orders content by where it is consumed: order tuple, tag
// and chunk index. Renderings of the same content share a position.
func ComparePosition(a, b ID) int {
	if c := compareOrder(a.Order, b.Order); c != 0 {
		return c
	}
	if c := strings.Compare(a.Tag, b.Tag); c != 0 {
		return c
	}
	return cmp.Compare(a.Chunk, b.Chunk)
}

func compareOrder(a, b []int) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := cmp.Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(a), len(b))
}

// Comparator compares identifiers given as strings, parsing each one at most
// once. It is safe for concurrent use.
type Comparator struct {
	mu     sync.RWMutex
	parsed map[string]ID
}

// NewComparator returns an empty Comparator.
func NewComparator() *Comparator {
	return &Comparator{parsed: make(map[string]ID)}
}

// Parse returns the cached parse of s, parsing it on first use. Malformed
// identifiers are not cached.
func (c *Comparator) Parse(s string) (ID, error) {
	c.mu.RLock()
	id, ok := c.parsed[s]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}

	id, err := Parse(s)
	if err != nil {
		return ID{}, err
	}

	c.mu.Lock()
	c.parsed[s] = id
	c.mu.Unlock()
	return id, nil
}

// Compare orders a and b with Compare. Malformed identifiers sort after
// well-formed ones and among themselves lexically.
func (c *Comparator) Compare(a, b string) int {
	ia, errA := c.Parse(a)
	ib, errB := c.Parse(b)
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return 1
	case errB != nil:
		return -1
	}
	return Compare(ia, ib)
}

// Forget drops the cached parse of s.
func (c *Comparator) Forget(s string) {
	c.mu.Lock()
	delete(c.parsed, s)
	c.mu.Unlock()
}

// Len returns the number of cached parses.
func (c *Comparator) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.parsed)
}
