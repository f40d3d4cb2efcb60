package cache

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/voiceover/internal/contentid"
)

// cluster holds the ordered chunk slots of one segmented text. Guarded by
// the owning cache's lock.
type cluster struct {
	id     contentid.ID
	slots  []*payload
	filled int
}

func newCluster(id contentid.ID, expected int) *cluster {
	return &cluster{id: id, slots: make([]*payload, expected)}
}

func (cl *cluster) complete() bool {
	return cl.filled == len(cl.slots)
}

func (cl *cluster) lowestMissing() (int, bool) {
	for i, s := range cl.slots {
		if s == nil {
			return i + 1, true
		}
	}
	return 0, false
}

func (cl *cluster) status() ClusterStatus {
	s := ClusterStatus{Expected: len(cl.slots), Stored: cl.filled}
	for i, p := range cl.slots {
		if p == nil {
			s.Missing = append(s.Missing, i+1)
		}
	}
	return s
}

// ClusterHandle fills the chunk slots of a registered cluster. It is only
// obtainable from RegisterCluster.
type ClusterHandle struct {
	cache   *ClipCache
	cluster *cluster
}

// ID returns the cluster's identifier.
func (h *ClusterHandle) ID() contentid.ID {
	return h.cluster.id
}

// Expected returns the number of chunk slots.
func (h *ClusterHandle) Expected() int {
	return len(h.cluster.slots)
}

// Put stores clip at the 1-based slot index. A nil clip is a silent chunk.
func (h *ClusterHandle) Put(index int, clip *Clip) error {
	c := h.cache
	cl := h.cluster

	if index < 1 || index > len(cl.slots) {
		return fmt.Errorf("%s chunk %d: %w", cl.id, index, ErrChunkOutOfRange)
	}

	p := c.codec.encode(clip)

	c.mu.Lock()
	defer c.mu.Unlock()

	if cl.slots[index-1] != nil {
		log.Warn("Cache: ignoring second chunk write", "cluster", cl.id.String(), "chunk", index)
		return fmt.Errorf("%s chunk %d: %w", cl.id, index, ErrAlreadyStored)
	}
	cl.slots[index-1] = &p
	cl.filled++
	c.chunks++
	c.account(p)

	log.Debug("Cache: stored chunk",
		"cluster", cl.id.String(),
		"chunk", index,
		"filled", cl.filled,
		"expected", len(cl.slots))
	return nil
}

// Complete reports whether every slot is filled.
func (h *ClusterHandle) Complete() bool {
	h.cache.mu.RLock()
	defer h.cache.mu.RUnlock()
	return h.cluster.complete()
}
