package script

import (
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/voiceover/internal/narrator"
)

// DefaultWindowSize is how many lines a Window shows.
const DefaultWindowSize = 5

// Window is a cursor over a script that reports the lines around the
// cursor as visible content.
type Window struct {
	mu     sync.RWMutex
	script *Script
	pos    int
	size   int
}

// NewWindow returns a Window at the first line of s.
func NewWindow(s *Script, size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{script: s, size: size}
}

// Visible implements narrator.VisibleSource: the current line and the
// lines after it.
func (w *Window) Visible() []narrator.Visible {
	w.mu.RLock()
	defer w.mu.RUnlock()

	end := min(w.pos+w.size, len(w.script.Lines))
	out := make([]narrator.Visible, 0, end-w.pos)
	for _, l := range w.script.Lines[w.pos:end] {
		out = append(out, narrator.Visible{ID: l.ID, Gap: l.Gap})
	}
	return out
}

// Current returns the line under the cursor.
func (w *Window) Current() Line {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.script.Lines[w.pos]
}

// Position returns the cursor index and the number of lines.
func (w *Window) Position() (int, int) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.pos, len(w.script.Lines)
}

// Advance moves the cursor to the next line. It reports false at the end
// of the script.
func (w *Window) Advance() (Line, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pos+1 >= len(w.script.Lines) {
		return w.script.Lines[w.pos], false
	}
	w.pos++
	return w.script.Lines[w.pos], true
}

// Seek moves the cursor to the line with identity id.
func (w *Window) Seek(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	i, ok := w.script.Index(id)
	if ok {
		w.pos = i
	}
	return ok
}

// Lines returns every line of the script.
func (w *Window) Lines() []Line {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.script.Lines
}

// Replace swaps in a reloaded script, keeping the cursor on the same line
// when it still exists.
func (w *Window) Replace(s *Script) {
	w.mu.Lock()
	defer w.mu.Unlock()

	current := w.script.Lines[w.pos].ID
	w.script = s
	if i, ok := s.Index(current); ok {
		w.pos = i
	} else {
		w.pos = min(w.pos, len(s.Lines)-1)
	}
	log.Debug("Script: replaced", "lines", len(s.Lines), "position", w.pos)
}
