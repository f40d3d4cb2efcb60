package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/voiceover/internal/narrator"
	"github.com/dgnsrekt/voiceover/internal/script"
	"github.com/dgnsrekt/voiceover/internal/segment"
)

func TestPrintEvent(t *testing.T) {
	line := script.Line{ID: "1.1.1", Speaker: "guide", Text: "Look to\nthe left, where the old harbor wall still stands."}

	tests := []struct {
		name  string
		event script.Event
		width int
		want  []string
		empty bool
	}{
		{
			name:  "playing",
			event: script.Event{Kind: script.Playing, Line: line, Duration: 2340 * time.Millisecond},
			want:  []string{"▶", "1.1.1", "guide:", "Look to the left", "(2.3s)"},
		},
		{
			name:  "truncated",
			event: script.Event{Kind: script.Playing, Line: line, Duration: time.Second},
			width: 40,
			want:  []string{"…", "(1s)"},
		},
		{
			name:  "skipped",
			event: script.Event{Kind: script.Skipped, Line: line},
			want:  []string{"✗", "1.1.1", "skipped"},
		},
		{
			name:  "finished",
			event: script.Event{Kind: script.Finished, Line: line},
			want:  []string{"end of script"},
		},
		{
			name:  "waiting is silent",
			event: script.Event{Kind: script.Waiting, Line: line},
			empty: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printEvent(&buf, tt.event, tt.width)

			out := buf.String()
			if tt.empty {
				if out != "" {
					t.Errorf("Expected no output, got %q", out)
				}
				return
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("Output %q missing %q", out, w)
				}
			}
		})
	}
}

func TestPrintSummary(t *testing.T) {
	var st narrator.Stats
	st.Scheduler.Dispatched = 4
	st.Scheduler.Succeeded = 3
	st.Cache.Clips = 3
	st.Cache.Bytes = 2_000_000
	st.Cache.CompressedBytes = 1000

	var buf bytes.Buffer
	printSummary(&buf, st)

	for _, w := range []string{"4 requests sent", "3 stored", "3 clips", "2.0 MB", "1.0 kB held"} {
		if !strings.Contains(buf.String(), w) {
			t.Errorf("Summary %q missing %q", buf.String(), w)
		}
	}
}

func TestPrintChunk(t *testing.T) {
	var buf bytes.Buffer
	printChunk(&buf, segment.Chunk{ID: "split.1.1.1_2", Index: 2, Text: "Café au lait."})

	out := buf.String()
	if !strings.Contains(out, "split.1.1.1_2") || !strings.Contains(out, "(13 chars)") {
		t.Errorf("Unexpected chunk output %q", out)
	}
}
