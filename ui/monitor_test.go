package ui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dgnsrekt/voiceover/internal/contentid"
	"github.com/dgnsrekt/voiceover/internal/narrator"
	"github.com/dgnsrekt/voiceover/internal/scheduler"
	"github.com/dgnsrekt/voiceover/internal/script"
	"github.com/dgnsrekt/voiceover/internal/synth"
)

const testScript = `
title: Test run
speaker: narrator
lines:
  - id: 1.1.1
    text: First line.
  - id: 1.1.2
    text: Second line that is quite a bit longer than the first one.
`

func newTestMonitor(t *testing.T) (Monitor, *narrator.Narrator) {
	t.Helper()

	s, err := script.Parse([]byte(testScript))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	w := script.NewWindow(s, 2)

	opts := narrator.DefaultOptions()
	opts.Scheduler = scheduler.Config{DispatchDelay: time.Millisecond, DelayIncrement: time.Millisecond, Cooldown: time.Millisecond}
	opts.Visible = w
	n, err := narrator.New(synth.NewMock(), opts)
	if err != nil {
		t.Fatalf("narrator.New failed: %v", err)
	}
	t.Cleanup(func() { _ = n.Close() })

	return NewMonitor(n, w, s.Title, nil), n
}

func update(t *testing.T, m Monitor, msg tea.Msg) Monitor {
	t.Helper()
	next, _ := m.Update(msg)
	mm, ok := next.(Monitor)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return mm
}

func TestMonitor_View(t *testing.T) {
	m, _ := newTestMonitor(t)

	view := m.View()
	if !strings.Contains(view, "Test run") {
		t.Error("View should show the script title")
	}
	if !strings.Contains(view, "preparing") {
		t.Error("View should show preparing before the first event")
	}

	m = update(t, m, eventMsg(script.Event{
		Kind:  script.Playing,
		Line:  script.Line{ID: "1.1.2", Speaker: "narrator", Text: "Second line that is quite a bit longer than the first one."},
		Index: 1,
		Total: 2,
	}))
	m = update(t, m, tea.WindowSizeMsg{Width: 40, Height: 20})

	view = m.View()
	if !strings.Contains(view, "▶") || !strings.Contains(view, "2/2") {
		t.Errorf("View should show the playing line:\n%s", view)
	}
	if !strings.Contains(view, ellipsis) {
		t.Error("Long text should be truncated to the width")
	}

	m = update(t, m, tickMsg(time.Now()))
	if !strings.Contains(m.View(), "0/2 lines ready") {
		t.Errorf("Unexpected readiness:\n%s", m.View())
	}
}

func TestMonitor_Keys(t *testing.T) {
	m, n := newTestMonitor(t)

	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'+'}})
	if got := n.Accessibility().Speed; got != 110 {
		t.Errorf("Speed after + = %d, want 110", got)
	}
	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'-'}})
	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'-'}})
	if got := n.Accessibility().Speed; got != 90 {
		t.Errorf("Speed after - - = %d, want 90", got)
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'g'}})
	if got := n.Accessibility().Gender; got != contentid.GenderFemale {
		t.Errorf("Gender = %v, want female", got)
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'p'}})
	if !m.paused || !strings.Contains(m.View(), "paused") {
		t.Error("p should pause the scheduler")
	}
	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'p'}})
	if m.paused {
		t.Error("second p should resume")
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("q should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}

func TestMonitor_Done(t *testing.T) {
	m, _ := newTestMonitor(t)

	m = update(t, m, DoneMsg{})
	if !strings.Contains(m.View(), "finished") {
		t.Error("View should report the run finished")
	}

	m = update(t, m, DoneMsg{Err: errors.New("endpoint unreachable")})
	if !strings.Contains(m.View(), "endpoint unreachable") {
		t.Error("View should show the run error")
	}
}
