package segment

import (
	"strings"

	"github.com/harunnryd/sentiscribe/pkg/transcript"
)

// DefaultTerminator is the full-width period used by CJK transcripts.
const DefaultTerminator = "。"

// Segmenter splits transcript text into sentence-like units.
type Segmenter struct {
	terminators map[rune]struct{}
}

// New builds a segmenter. Each rune of each terminator string counts as a boundary.
func New(terminators ...string) *Segmenter {
	if len(terminators) == 0 {
		terminators = []string{DefaultTerminator}
	}
	set := make(map[rune]struct{})
	for _, t := range terminators {
		for _, r := range t {
			set[r] = struct{}{}
		}
	}
	return &Segmenter{terminators: set}
}

// Split returns the non-empty trimmed fragments between terminators, in order.
func (s *Segmenter) Split(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		_, ok := s.terminators[r]
		return ok
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Segments uses the provider's non-blank segments when there are any and
// splits the text otherwise. Indices are always contiguous from 0.
func (s *Segmenter) Segments(t transcript.Transcript) []transcript.Segment {
	var texts []string
	for _, seg := range t.Segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			texts = append(texts, text)
		}
	}
	if len(texts) == 0 {
		texts = s.Split(t.Text)
	}
	return transcript.Index(texts)
}

var std = New()

// Split splits on the default terminator.
func Split(text string) []string {
	return std.Split(text)
}

// FromTranscript segments t with the default terminator.
func FromTranscript(t transcript.Transcript) []transcript.Segment {
	return std.Segments(t)
}
