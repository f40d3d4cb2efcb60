package segment

import "testing"

func TestClean(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "Hello there.", "Hello there."},
		{"emphasis", "**Hello** _world_", "Hello world"},
		{"link", "Read [the manual](http://example.com) now.", "Read the manual now."},
		{"soft break", "line one\nline two", "line one line two"},
		{"paragraphs", "First.\n\nSecond.", "First. Second."},
		{"code block", "Say this.\n\n```\ncode()\n```\n\nAnd this.", "Say this. And this."},
		{"inline html", "A <b>bold</b> move.", "A bold move."},
		{"heading", "# Chapter One\nIt begins.", "Chapter One It begins."},
		{"nfc", "cafe\u0301", "caf\u00e9"},
		{"whitespace only", "  \n\t ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.input); got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
