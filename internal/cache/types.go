package cache

import (
	"errors"

	"github.com/dgnsrekt/voiceover/internal/contentid"
)

// Common errors for cache operations
var (
	// ErrClusterNotRegistered is the panic value when a chunk is stored for a
	// cluster that was never registered. It is an integration error.
	ErrClusterNotRegistered = errors.New("chunk stored for unregistered cluster")

	// ErrAlreadyStored is returned when a clip or chunk slot is written twice.
	// The second write is ignored.
	ErrAlreadyStored = errors.New("clip already stored")

	// ErrChunkOutOfRange is returned for a chunk index outside the cluster.
	ErrChunkOutOfRange = errors.New("chunk index out of range")

	// ErrClusterMismatch is returned when a cluster is registered twice with
	// different chunk counts.
	ErrClusterMismatch = errors.New("cluster already registered with a different size")
)

// Clip is finished audio for one identity. A nil *Clip stored in the cache
// stands for deliberately silent content.
type Clip struct {
	ID     string
	Format string
	Audio  []byte
}

// Key addresses the cache: speed, then base identity, then gender.
type Key struct {
	Speed  int
	Base   string
	Gender contentid.Gender
}

// KeyFor returns the key under which id is stored.
func KeyFor(id contentid.ID) Key {
	return Key{Speed: id.Access.Speed, Base: id.Base(), Gender: id.Access.Gender}
}

// ClusterStatus describes a registered cluster.
type ClusterStatus struct {
	Expected int
	Stored   int
	// Missing lists unfilled 1-based slot indices in ascending order.
	Missing []int
}

// Complete reports whether every slot is filled.
func (s ClusterStatus) Complete() bool {
	return s.Expected > 0 && s.Stored == s.Expected
}

// Stats holds cache metrics.
type Stats struct {
	Clips    int // single clips, silent ones included
	Clusters int
	Chunks   int

	Bytes           int64 // uncompressed audio
	CompressedBytes int64 // as held in memory

	Hits   int64
	Misses int64
}

// HitRate returns hits / (hits + misses).
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
