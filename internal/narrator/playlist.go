package narrator

import (
	"time"

	"github.com/charmbracelet/log"
)

// Visible is one item the consumer currently shows, with the pause that
// follows it during playback.
type Visible struct {
	ID  string
	Gap time.Duration
}

// VisibleSource reports what the consumer currently shows, in display
// order.
type VisibleSource interface {
	Visible() []Visible
}

// Entry is the playback state of one visible item.
type Entry struct {
	Visible
	Ready     bool
	Cluster   bool
	Available bool
}

// Playlist returns the readiness of every visible item.
func (n *Narrator) Playlist() []Entry {
	if n.visible == nil {
		return nil
	}

	items := n.visible.Visible()
	entries := make([]Entry, 0, len(items))
	for _, v := range items {
		e := Entry{Visible: v}
		k, err := n.key(v.ID, false, nil)
		if err != nil {
			log.Warn("Narrator: skipping malformed visible ID", "id", v.ID, "error", err)
			continue
		}
		e.Ready = n.clips.IsReady(k)
		e.Cluster = n.clips.IsCluster(k)
		e.Available = e.Ready || n.clips.IsClusterAvailable(k)
		entries = append(entries, e)
	}
	return entries
}

// Refresh prepares visible items that have no rendering for the current
// settings, using the text they were last prepared with, and points the
// scheduler at the first visible item that is not ready.
func (n *Narrator) Refresh() error {
	if n.visible == nil {
		return nil
	}

	var first string
	for _, v := range n.visible.Visible() {
		k, err := n.key(v.ID, false, nil)
		if err != nil {
			log.Warn("Narrator: skipping malformed visible ID", "id", v.ID, "error", err)
			continue
		}
		if n.clips.IsReady(k) {
			continue
		}

		n.mu.RLock()
		src, known := n.sources[k.Base]
		n.mu.RUnlock()
		if !known {
			continue
		}
		if err := n.PrepareClip(v.ID, src.text, src.speaker, false, false); err != nil {
			return err
		}
		if first == "" {
			first = v.ID
		}
	}

	if first == "" {
		return nil
	}
	return n.SetHighPriorityID(first, false)
}
