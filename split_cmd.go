package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/voiceover/internal/config"
	"github.com/dgnsrekt/voiceover/internal/contentid"
	"github.com/dgnsrekt/voiceover/internal/segment"
)

var (
	splitID  string
	splitMax int

	splitCmd = &cobra.Command{
		Use:   "split [FILE]",
		Short: "Show how text is split into synthesis requests",
		Long: paragraph(fmt.Sprintf("\n%s markup from FILE (or stdin) and print the chunks sent to the synthesis service.",
			keyword("Strip"))),
		Example: paragraph("voiceover split chapter.md\ncat chapter.md | voiceover split --max 200"),
		Args:    cobra.MaximumNArgs(1),
		RunE:    executeSplit,
	}
)

func readInput(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(os.Stdin)
	}
	p, err := homedir.Expand(args[0])
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	return os.ReadFile(p)
}

func executeSplit(cmd *cobra.Command, args []string) error {
	if _, err := contentid.Parse(splitID); err != nil {
		return err
	}

	maxLength := splitMax
	if !cmd.Flags().Changed("max") {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		maxLength = cfg.Segment.MaxLength
	}

	b, err := readInput(args)
	if err != nil {
		return fmt.Errorf("unable to read input: %w", err)
	}

	text := segment.Clean(string(b))
	seg := segment.New(maxLength)
	out := cmd.OutOrStdout()

	if !segment.Speakable(text) {
		fmt.Fprintln(out, dimStyle.Render("nothing speakable"))
		return nil
	}
	if !seg.IsOversized(text) {
		printChunk(out, segment.Chunk{ID: splitID, Index: 0, Text: text})
		return nil
	}

	chunks, err := seg.Split(splitID, text)
	for _, c := range chunks {
		printChunk(out, c)
	}
	if err != nil {
		if errors.Is(err, segment.ErrUnsplittableText) {
			log.Warn("Some text could not be split and was dropped", "error", err)
			fmt.Fprintln(out, skipStyle.Render("some text was too long to split and was dropped"))
			return nil
		}
		return err
	}
	return nil
}

func printChunk(out io.Writer, c segment.Chunk) {
	fmt.Fprintf(out, "%s %s\n%s\n\n",
		playStyle.Render(c.ID),
		dimStyle.Render(fmt.Sprintf("(%d chars)", len([]rune(c.Text)))),
		c.Text)
}

func init() {
	splitCmd.Flags().StringVar(&splitID, "id", "split.1.1.1", "content ID the chunks are derived from")
	splitCmd.Flags().IntVar(&splitMax, "max", segment.DefaultMaxLength, "maximum characters per chunk")
}
