// Package ui provides the terminal monitor for a running narration.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	runewidth "github.com/mattn/go-runewidth"

	"github.com/dgnsrekt/voiceover/internal/contentid"
	"github.com/dgnsrekt/voiceover/internal/narrator"
	"github.com/dgnsrekt/voiceover/internal/script"
)

const (
	statsInterval = 200 * time.Millisecond
	speedStep     = 10
	minSpeed      = 50
	maxSpeed      = 200
	ellipsis      = "…"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EE6FF8"))
	idStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00AAFF"))
	speakerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))
)

type (
	tickMsg  time.Time
	eventMsg script.Event

	// DoneMsg tells the monitor the run has ended.
	DoneMsg struct{ Err error }
)

// Monitor shows what the runner is playing and how far prefetching has
// got. It implements tea.Model.
type Monitor struct {
	n      *narrator.Narrator
	window *script.Window
	title  string
	events <-chan script.Event

	spinner  spinner.Model
	progress progress.Model

	width  int
	event  script.Event
	seen   bool
	stats  narrator.Stats
	ready  int
	total  int
	paused bool
	done   bool
	err    error
}

// NewMonitor returns a Monitor fed by events.
func NewMonitor(n *narrator.Narrator, w *script.Window, title string, events <-chan script.Event) Monitor {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Monitor{
		n:        n,
		window:   w,
		title:    title,
		events:   events,
		spinner:  sp,
		progress: progress.New(progress.WithDefaultGradient()),
		width:    80,
	}
}

// NewProgram returns a Tea program running m.
func NewProgram(m Monitor, opts ...tea.ProgramOption) *tea.Program {
	log.Debug("Starting monitor", "title", m.title)
	return tea.NewProgram(m, opts...)
}

func tick() tea.Cmd {
	return tea.Tick(statsInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Monitor) waitForEvent() tea.Cmd {
	if m.events == nil {
		return nil
	}
	return func() tea.Msg {
		e, ok := <-m.events
		if !ok {
			return nil
		}
		return eventMsg(e)
	}
}

// Init implements tea.Model.
func (m Monitor) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick(), m.waitForEvent())
}

// Update implements tea.Model.
func (m Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = max(10, min(msg.Width-20, 60))
		return m, nil

	case tickMsg:
		m.refresh()
		if m.done {
			return m, nil
		}
		return m, tick()

	case eventMsg:
		m.event = script.Event(msg)
		m.seen = true
		return m, m.waitForEvent()

	case DoneMsg:
		m.done = true
		m.err = msg.Err
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		pm, cmd := m.progress.Update(msg)
		m.progress = pm.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m Monitor) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit

	case "p", " ":
		if m.paused {
			m.n.Resume()
		} else {
			m.n.Suspend()
		}
		m.paused = !m.paused

	case "+", "=":
		m.setSpeed(speedStep)

	case "-":
		m.setSpeed(-speedStep)

	case "g":
		a := m.n.Accessibility()
		switch a.Gender {
		case contentid.GenderUnspecified:
			a.Gender = contentid.GenderFemale
		case contentid.GenderFemale:
			a.Gender = contentid.GenderMale
		default:
			a.Gender = contentid.GenderUnspecified
		}
		m.apply(a)
	}
	return m, nil
}

func (m *Monitor) setSpeed(delta int) {
	a := m.n.Accessibility()
	a.Speed = max(minSpeed, min(maxSpeed, a.Speed+delta))
	m.apply(a)
}

func (m *Monitor) apply(a contentid.Accessibility) {
	m.n.SetAccessibility(a)
	if err := m.n.Refresh(); err != nil {
		log.Error("Monitor: refresh failed", "error", err)
		m.err = err
	}
}

// refresh polls narrator stats and line readiness.
func (m *Monitor) refresh() {
	m.stats = m.n.Stats()
	m.ready = 0
	lines := m.window.Lines()
	m.total = len(lines)
	for _, l := range lines {
		if ok, err := m.n.IsReady(l.ID, false, nil); err == nil && ok {
			m.ready++
		}
	}
}

// View implements tea.Model.
func (m Monitor) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("voiceover"))
	if m.title != "" {
		b.WriteString(dimStyle.Render(" · " + m.title))
	}
	b.WriteString("\n\n")

	b.WriteString(m.currentLine())
	b.WriteString("\n\n")

	percent := 0.0
	if m.total > 0 {
		percent = float64(m.ready) / float64(m.total)
	}
	b.WriteString(m.progress.ViewAs(percent))
	fmt.Fprintf(&b, " %d/%d lines ready\n\n", m.ready, m.total)

	b.WriteString(m.schedulerLine())
	b.WriteByte('\n')
	b.WriteString(m.cacheLine())
	b.WriteByte('\n')
	b.WriteString(m.accessibilityLine())
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render("Error: " + m.err.Error()))
		b.WriteString("\n\n")
	}

	b.WriteString(helpStyle.Render("p pause · +/- speed · g gender · q quit"))
	b.WriteByte('\n')
	return b.String()
}

func (m Monitor) currentLine() string {
	if m.done && m.err == nil {
		return dimStyle.Render("✓ finished")
	}
	if !m.seen {
		return m.spinner.View() + " preparing"
	}

	e := m.event
	var icon string
	switch e.Kind {
	case script.Waiting:
		icon = m.spinner.View()
	case script.Playing:
		icon = "▶"
	case script.Skipped:
		icon = errorStyle.Render("✗")
	default:
		icon = "■"
	}

	head := fmt.Sprintf("%s %s %s %d/%d ",
		icon, e.Kind, idStyle.Render(e.Line.ID), e.Index+1, e.Total)
	if e.Line.Speaker != "" {
		head += speakerStyle.Render(e.Line.Speaker+":") + " "
	}

	room := m.width - lipgloss.Width(head)
	text := strings.Join(strings.Fields(e.Line.Text), " ")
	if room > len(ellipsis) {
		text = runewidth.Truncate(text, room, ellipsis)
	}
	return head + text
}

func (m Monitor) schedulerLine() string {
	s := m.stats.Scheduler
	state := s.State.String()
	if m.paused {
		state = "paused"
	}
	return fmt.Sprintf("scheduler %s · delay %v · pending %d · in flight %d · sent %d ok %d 429 %d failed %d",
		state, s.Delay, s.Pending, s.InFlight, s.Dispatched, s.Succeeded, s.RateLimited, s.Failed)
}

func (m Monitor) cacheLine() string {
	c := m.stats.Cache
	return dimStyle.Render(fmt.Sprintf("cache %d clips · %d clusters · %s audio (%s held) · hit rate %.0f%%",
		c.Clips, c.Clusters,
		humanize.Bytes(uint64(c.Bytes)), //nolint:gosec
		humanize.Bytes(uint64(c.CompressedBytes)), //nolint:gosec
		c.HitRate()*100))
}

func (m Monitor) accessibilityLine() string {
	a := m.n.Accessibility()
	gender := "unspecified"
	switch a.Gender {
	case contentid.GenderMale:
		gender = "male"
	case contentid.GenderFemale:
		gender = "female"
	}
	return dimStyle.Render(fmt.Sprintf("speed %d%% · voice %s", a.Speed, gender))
}
