package transcript

import "strings"

// Segment is one indexed sentence-like unit of a transcript.
type Segment struct {
	Index int
	Text  string
}

// Transcript is the recognized text of a media asset plus any provider segmentation.
type Transcript struct {
	Text     string
	Segments []Segment
}

// New builds a transcript from the provider's text and segment texts. Segment
// texts are trimmed; blank ones are dropped and the rest indexed contiguously.
func New(text string, segments []string) Transcript {
	t := Transcript{Text: text}
	for _, s := range segments {
		if s = strings.TrimSpace(s); s != "" {
			t.Segments = append(t.Segments, Segment{Index: len(t.Segments), Text: s})
		}
	}
	return t
}

// Index turns plain strings into ordered segments.
func Index(texts []string) []Segment {
	out := make([]Segment, len(texts))
	for i, s := range texts {
		out[i] = Segment{Index: i, Text: s}
	}
	return out
}

// HasSegments reports whether the provider supplied its own segmentation.
func (t Transcript) HasSegments() bool {
	return len(t.Segments) > 0
}
