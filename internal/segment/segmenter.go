// Package segment splits oversized narrative text into an ordered sequence
// of chunks that each fit within a single synthesis request.
package segment

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/voiceover/internal/contentid"
)

// DefaultMaxLength is the largest number of characters sent in one request.
const DefaultMaxLength = 400

// ErrUnsplittableText is reported for a fragment that is still longer than
// the maximum after every delimiter class has been tried. The fragment is
// dropped; the rest of the text is still segmented.
var ErrUnsplittableText = errors.New("text cannot be split below the maximum length")

// Chunk is one piece of a segmented text.
type Chunk struct {
	ID    string
	Index int // 1-based
	Text  string
}

// delimiterClass breaks text after any of its delimiter runes. A class with
// no runes breaks on whitespace.
type delimiterClass struct {
	name  string
	runes string
}

var defaultClasses = []delimiterClass{
	{name: "sentence", runes: ".!?…。！？"},
	{name: "clause", runes: ",;:—–、，；："},
	{name: "whitespace"},
}

// closers may trail a delimiter and stay attached to the piece it ends.
const closers = `"'”’)]»`

// Segmenter splits text. The zero value is not usable; use New.
type Segmenter struct {
	maxLength int
	classes   []delimiterClass
}

// New returns a Segmenter with the given maximum chunk length in characters.
// A non-positive value selects DefaultMaxLength.
func New(maxLength int) *Segmenter {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Segmenter{
		maxLength: maxLength,
		classes:   defaultClasses,
	}
}

// MaxLength returns the configured maximum chunk length.
func (s *Segmenter) MaxLength() int {
	return s.maxLength
}

// IsOversized reports whether text needs splitting.
func (s *Segmenter) IsOversized(text string) bool {
	return runeLen(strings.TrimSpace(text)) > s.maxLength
}

// Split segments text into chunks whose IDs are id_1, id_2, ... in source
// order. Text that is not oversized yields a single chunk holding the
// trimmed input.
//
// A non-nil error wrapping ErrUnsplittableText reports dropped fragments;
// the returned chunks are still valid in that case.
func (s *Segmenter) Split(id, text string) ([]Chunk, error) {
	text = strings.TrimSpace(text)
	if !s.IsOversized(text) {
		return []Chunk{{ID: contentid.ChunkID(id, 1), Index: 1, Text: text}}, nil
	}

	var dropped []error
	pieces := s.split(text, 0, &dropped)

	chunks := make([]Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = Chunk{ID: contentid.ChunkID(id, i+1), Index: i + 1, Text: p}
	}

	log.Debug("Segmenter: split text",
		"id", id,
		"length", runeLen(text),
		"chunks", len(chunks),
		"dropped", len(dropped))

	return chunks, errors.Join(dropped...)
}

// split breaks text at the given delimiter level and greedily packs the
// pieces into chunks no longer than the maximum. A piece that alone exceeds
// the maximum is re-split at the next level.
func (s *Segmenter) split(text string, level int, dropped *[]error) []string {
	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)

	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, piece := range s.classes[level].pieces(text) {
		n := runeLen(piece)
		if n > s.maxLength {
			flush()
			if level+1 >= len(s.classes) {
				log.Warn("Segmenter: dropping unsplittable fragment",
					"length", n,
					"max", s.maxLength,
					"preview", preview(piece))
				*dropped = append(*dropped, fmt.Errorf("%w: %d characters starting %q",
					ErrUnsplittableText, n, preview(piece)))
				continue
			}
			chunks = append(chunks, s.split(piece, level+1, dropped)...)
			continue
		}

		if curLen > 0 && curLen+1+n > s.maxLength {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(piece)
		curLen += n
	}
	flush()

	return chunks
}

// pieces breaks text after each run of delimiter runes (plus any closing
// quotes or brackets), trims the pieces and keeps those that are speakable.
func (c delimiterClass) pieces(text string) []string {
	var raw []string
	if c.runes == "" {
		raw = strings.Fields(text)
	} else {
		runes := []rune(text)
		start := 0
		for i := 0; i < len(runes); i++ {
			if !strings.ContainsRune(c.runes, runes[i]) {
				continue
			}
			end := i + 1
			for end < len(runes) && strings.ContainsRune(c.runes, runes[end]) {
				end++
			}
			for end < len(runes) && strings.ContainsRune(closers, runes[end]) {
				end++
			}
			raw = append(raw, string(runes[start:end]))
			start = end
			i = end - 1
		}
		if start < len(runes) {
			raw = append(raw, string(runes[start:]))
		}
	}

	out := raw[:0]
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if Speakable(p) {
			out = append(out, p)
		}
	}
	return out
}

// Speakable reports whether text contains at least one letter or digit.
func Speakable(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return true
		}
	}
	return false
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func preview(s string) string {
	const n = 24
	if runeLen(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
