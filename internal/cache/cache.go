package cache

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/voiceover/internal/contentid"
)

// DefaultCompressionLevel is the zstd level used for held audio.
const DefaultCompressionLevel = 3

// node holds everything stored for one base identity at one speed. The
// unspecified gender key holds ungendered content.
type node struct {
	clips    map[contentid.Gender]payload
	clusters map[contentid.Gender]*cluster
}

// ClipCache stores finished audio for the life of the process. Entries are
// written once and never evicted. It is safe for concurrent use.
type ClipCache struct {
	mu    sync.RWMutex
	speed map[int]map[string]*node
	codec *codec

	clips    int
	clusters int
	chunks   int
	bytes    int64
	held     int64

	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a ClipCache.
type Option func(*options)

type options struct {
	compressionLevel int
}

// WithCompressionLevel sets the zstd level. Zero disables compression.
func WithCompressionLevel(level int) Option {
	return func(o *options) {
		o.compressionLevel = level
	}
}

// New returns an empty ClipCache.
func New(opts ...Option) (*ClipCache, error) {
	o := options{compressionLevel: DefaultCompressionLevel}
	for _, opt := range opts {
		opt(&o)
	}

	c, err := newCodec(o.compressionLevel)
	if err != nil {
		return nil, err
	}
	return &ClipCache{
		speed: make(map[int]map[string]*node),
		codec: c,
	}, nil
}

// node returns the node for k, creating it when create is set. Callers hold
// the appropriate lock.
func (c *ClipCache) node(k Key, create bool) *node {
	bases, ok := c.speed[k.Speed]
	if !ok {
		if !create {
			return nil
		}
		bases = make(map[string]*node)
		c.speed[k.Speed] = bases
	}
	n, ok := bases[k.Base]
	if !ok {
		if !create {
			return nil
		}
		n = &node{
			clips:    make(map[contentid.Gender]payload),
			clusters: make(map[contentid.Gender]*cluster),
		}
		bases[k.Base] = n
	}
	return n
}

// lookupClip finds the clip for k, falling back to ungendered content when
// k names a gender that has no rendering of its own.
func (c *ClipCache) lookupClip(k Key) (payload, bool) {
	n := c.node(k, false)
	if n == nil {
		return payload{}, false
	}
	if p, ok := n.clips[k.Gender]; ok {
		return p, true
	}
	if k.Gender != contentid.GenderUnspecified {
		p, ok := n.clips[contentid.GenderUnspecified]
		return p, ok
	}
	return payload{}, false
}

func (c *ClipCache) lookupCluster(k Key) *cluster {
	n := c.node(k, false)
	if n == nil {
		return nil
	}
	if cl, ok := n.clusters[k.Gender]; ok {
		return cl
	}
	if k.Gender != contentid.GenderUnspecified {
		return n.clusters[contentid.GenderUnspecified]
	}
	return nil
}

// Store saves clip for id. A nil clip marks the content as silent. A chunk
// ID is routed to its registered cluster; storing a chunk for a cluster that
// was never registered panics with ErrClusterNotRegistered.
func (c *ClipCache) Store(id contentid.ID, clip *Clip) error {
	if id.IsChunk() {
		h := c.handle(id.Cluster())
		if h == nil {
			err := fmt.Errorf("%w: %s", ErrClusterNotRegistered, id)
			log.Error("Cache: chunk arrived before its cluster was registered", "id", id.String())
			panic(err)
		}
		return h.Put(id.Chunk, clip)
	}

	k := KeyFor(id)
	p := c.codec.encode(clip)

	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.node(k, true)
	if _, ok := n.clips[k.Gender]; ok {
		log.Warn("Cache: ignoring second write", "id", id.String())
		return fmt.Errorf("%s: %w", id, ErrAlreadyStored)
	}
	n.clips[k.Gender] = p
	c.account(p)
	c.clips++

	log.Debug("Cache: stored clip", "id", id.String(), "bytes", p.size, "silent", p.silent)
	return nil
}

func (c *ClipCache) account(p payload) {
	c.bytes += p.size
	c.held += int64(len(p.data))
}

// handle returns the handle of an exactly matching registered cluster.
func (c *ClipCache) handle(clusterID contentid.ID) *ClusterHandle {
	k := KeyFor(clusterID)

	c.mu.RLock()
	defer c.mu.RUnlock()

	n := c.node(k, false)
	if n == nil {
		return nil
	}
	cl, ok := n.clusters[k.Gender]
	if !ok {
		return nil
	}
	return &ClusterHandle{cache: c, cluster: cl}
}

// RegisterCluster declares that id will be delivered as expected chunks and
// returns the only capability that can fill them. Registering the same
// cluster again with the same size returns a handle to the existing one.
func (c *ClipCache) RegisterCluster(id contentid.ID, expected int) (*ClusterHandle, error) {
	if id.IsChunk() {
		return nil, fmt.Errorf("register cluster %s: ID names a chunk", id)
	}
	if expected < 1 {
		return nil, fmt.Errorf("register cluster %s: %w: %d chunks", id, ErrChunkOutOfRange, expected)
	}

	k := KeyFor(id)

	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.node(k, true)
	if cl, ok := n.clusters[k.Gender]; ok {
		if len(cl.slots) != expected {
			return nil, fmt.Errorf("register cluster %s: %w", id, ErrClusterMismatch)
		}
		return &ClusterHandle{cache: c, cluster: cl}, nil
	}

	cl := newCluster(id, expected)
	n.clusters[k.Gender] = cl
	c.clusters++

	log.Debug("Cache: registered cluster", "id", id.String(), "chunks", expected)
	return &ClusterHandle{cache: c, cluster: cl}, nil
}

func (c *ClipCache) miss(what string, k Key) {
	c.misses.Add(1)
	log.Debug("Cache: miss", "kind", what, "speed", k.Speed, "base", k.Base, "gender", k.Gender)
}

// Clip returns the single clip for k. ok is false on a miss; a stored
// silent clip is returned as (nil, true).
func (c *ClipCache) Clip(k Key) (*Clip, bool) {
	c.mu.RLock()
	p, ok := c.lookupClip(k)
	c.mu.RUnlock()

	if !ok {
		c.miss("clip", k)
		return nil, false
	}

	clip, err := c.codec.decode(k.Base, p)
	if err != nil {
		log.Error("Cache: failed to decode clip", "base", k.Base, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return clip, true
}

// ClipCluster returns the clips of a complete cluster ordered by chunk
// index. ok is false unless every chunk is present.
func (c *ClipCache) ClipCluster(k Key) ([]*Clip, bool) {
	c.mu.RLock()
	cl := c.lookupCluster(k)
	var slots []payload
	if cl != nil && cl.complete() {
		slots = make([]payload, len(cl.slots))
		for i, s := range cl.slots {
			slots[i] = *s
		}
	}
	c.mu.RUnlock()

	if slots == nil {
		c.miss("cluster", k)
		return nil, false
	}

	clips := make([]*Clip, len(slots))
	for i, p := range slots {
		clip, err := c.codec.decode(contentid.ChunkID(k.Base, i+1), p)
		if err != nil {
			log.Error("Cache: failed to decode chunk", "base", k.Base, "chunk", i+1, "error", err)
			c.misses.Add(1)
			return nil, false
		}
		clips[i] = clip
	}
	c.hits.Add(1)
	return clips, true
}

// ClusterStatus describes the cluster registered for k.
func (c *ClipCache) ClusterStatus(k Key) (ClusterStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cl := c.lookupCluster(k)
	if cl == nil {
		return ClusterStatus{}, false
	}
	return cl.status(), true
}

// LowestMissing returns the lowest unfilled chunk index of the cluster for k.
func (c *ClipCache) LowestMissing(k Key) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cl := c.lookupCluster(k)
	if cl == nil {
		return 0, false
	}
	return cl.lowestMissing()
}

// IsCluster reports whether a cluster of any gender is registered for the
// base identity at k's speed.
func (c *ClipCache) IsCluster(k Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := c.node(k, false)
	return n != nil && len(n.clusters) > 0
}

// IsReady reports whether k has a stored clip or a complete cluster.
func (c *ClipCache) IsReady(k Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, ok := c.lookupClip(k); ok {
		return true
	}
	cl := c.lookupCluster(k)
	return cl != nil && cl.complete()
}

// IsClusterAvailable reports whether at least one chunk of k's cluster is
// stored.
func (c *ClipCache) IsClusterAvailable(k Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cl := c.lookupCluster(k)
	return cl != nil && cl.filled > 0
}

// Stats returns current cache metrics.
func (c *ClipCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Stats{
		Clips:           c.clips,
		Clusters:        c.clusters,
		Chunks:          c.chunks,
		Bytes:           c.bytes,
		CompressedBytes: c.held,
		Hits:            c.hits.Load(),
		Misses:          c.misses.Load(),
	}
}

// Close releases the compression codec. The cache must not be used after.
func (c *ClipCache) Close() error {
	c.codec.close()
	return nil
}
