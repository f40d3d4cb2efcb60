package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	runewidth "github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/dgnsrekt/voiceover/internal/config"
	"github.com/dgnsrekt/voiceover/internal/narrator"
	"github.com/dgnsrekt/voiceover/internal/script"
	"github.com/dgnsrekt/voiceover/internal/synth"
	"github.com/dgnsrekt/voiceover/ui"
)

var (
	useMock    bool
	tui        bool
	watch      bool
	pace       float64
	windowSize int

	runCmd = &cobra.Command{
		Use:   "run SCRIPT",
		Short: "Narrate a script, fetching audio ahead of the listener",
		Long: paragraph(fmt.Sprintf("\n%s a narrative script line by line. Audio for upcoming lines is synthesized "+
			"in the order it will be heard; the line being read always goes first.", keyword("Play"))),
		Example: paragraph("voiceover run tour.yml --mock\nvoiceover run tour.yml --tui --watch --speed 120"),
		Args:    cobra.ExactArgs(1),
		RunE:    execute,
	}
)

func newService(cfg config.Config) (synth.Service, error) {
	if useMock {
		log.Info("Using mock synthesis service")
		return synth.NewMock(), nil
	}
	svc, err := synth.NewHTTPService(cfg.Service)
	if err != nil {
		return nil, fmt.Errorf("%w (set service.endpoint or run with --mock)", err)
	}
	return svc, nil
}

func execute(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	path := args[0]
	s, err := script.Load(path)
	if err != nil {
		return err
	}

	svc, err := newService(cfg)
	if err != nil {
		return err
	}

	w := script.NewWindow(s, windowSize)
	n, err := narrator.New(svc, narrator.Options{
		Scheduler:        cfg.Scheduler,
		MaxLength:        cfg.Segment.MaxLength,
		CompressionLevel: cfg.Cache.CompressionLevel,
		Accessibility:    cfg.Accessibility,
		Voices:           cfg.Resolver(),
		Visible:          w,
	})
	if err != nil {
		return err
	}
	defer func() { _ = n.Close() }()

	isTerminal := term.IsTerminal(int(os.Stdout.Fd()))
	if tui && !isTerminal {
		log.Warn("Output is not a terminal, ignoring --tui")
		tui = false
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	opts := script.DefaultRunnerOptions()
	opts.Pace = pace

	var program *tea.Program
	if tui {
		events := make(chan script.Event, 64)
		opts.OnEvent = func(e script.Event) {
			select {
			case events <- e:
			default:
				log.Debug("Dropped monitor event", "id", e.Line.ID, "kind", e.Kind)
			}
		}
		program = ui.NewProgram(ui.NewMonitor(n, w, s.Title, events), tea.WithContext(ctx))
	} else {
		width := 0
		if isTerminal {
			width, _, _ = term.GetSize(int(os.Stdout.Fd()))
		}
		opts.OnEvent = func(e script.Event) { printEvent(os.Stdout, e, width) }
	}
	runner := script.NewRunner(n, w, opts)

	if watch {
		g.Go(func() error {
			return script.Watch(ctx, path, func(s *script.Script) {
				log.Info("Script reloaded", "lines", len(s.Lines))
				if err := runner.Reload(s); err != nil {
					log.Error("Could not prepare reloaded script", "error", err)
				}
			})
		})
	}

	g.Go(func() error {
		err := runner.Run(ctx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		if program != nil {
			program.Send(ui.DoneMsg{Err: err})
		} else {
			cancel()
		}
		return err
	})

	if program != nil {
		g.Go(func() error {
			defer cancel()
			if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return fmt.Errorf("unable to run tui program: %w", err)
			}
			return nil
		})
	}

	err = g.Wait()
	if !tui {
		printSummary(os.Stdout, n.Stats())
	}
	return err
}

var (
	playStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	skipStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	speakerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

func printEvent(out io.Writer, e script.Event, width int) {
	var head string
	switch e.Kind {
	case script.Playing:
		head = playStyle.Render("▶") + fmt.Sprintf(" %s ", e.Line.ID)
		if e.Line.Speaker != "" {
			head += speakerStyle.Render(e.Line.Speaker+":") + " "
		}
	case script.Skipped:
		fmt.Fprintln(out, skipStyle.Render("✗ "+e.Line.ID+" not ready, skipped"))
		return
	case script.Finished:
		fmt.Fprintln(out, dimStyle.Render("■ end of script"))
		return
	default:
		return
	}

	text := strings.Join(strings.Fields(e.Line.Text), " ")
	tail := dimStyle.Render(fmt.Sprintf(" (%s)", e.Duration.Round(100*time.Millisecond)))
	if room := width - lipgloss.Width(head) - lipgloss.Width(tail); width > 0 && room > 1 {
		text = runewidth.Truncate(text, room, "…")
	}
	fmt.Fprintln(out, head+text+tail)
}

func printSummary(out io.Writer, st narrator.Stats) {
	s, c := st.Scheduler, st.Cache
	fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf(
		"%d requests sent, %d stored, %d rate limited, %d failed · %d clips, %d clusters, %s audio (%s held)",
		s.Dispatched, s.Succeeded, s.RateLimited, s.Failed,
		c.Clips, c.Clusters,
		humanize.Bytes(uint64(c.Bytes)),           //nolint:gosec
		humanize.Bytes(uint64(c.CompressedBytes)), //nolint:gosec
	)))
}

func init() {
	runCmd.Flags().BoolVar(&useMock, "mock", false, "use the in-process mock synthesis service")
	runCmd.Flags().BoolVarP(&tui, "tui", "t", false, "show the live monitor")
	runCmd.Flags().BoolVarP(&watch, "watch", "w", false, "reload the script when it changes")
	runCmd.Flags().Float64Var(&pace, "pace", 1, "playback pace (1 real time, 0 as fast as audio arrives)")
	runCmd.Flags().IntVar(&windowSize, "window", script.DefaultWindowSize, "number of upcoming lines treated as visible")
	runCmd.Flags().Int("speed", 100, "speech speed in percent")
	runCmd.Flags().Bool("male", false, "use male voices for gendered speakers (false selects female)")

	_ = viper.BindPFlag("accessibility.speed", runCmd.Flags().Lookup("speed"))
	_ = viper.BindPFlag("accessibility.is_male", runCmd.Flags().Lookup("male"))
}
