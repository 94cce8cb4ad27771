package tts

import (
	"context"

	"github.com/harunnryd/sentiscribe/pkg/sentiment"
)

// Request is the text to speak plus an optional sentiment used to pick a voice preset.
type Request struct {
	Text      string
	Sentiment sentiment.Label
}

// Audio is a playable clip.
type Audio struct {
	ContentType string
	Data        []byte
}

// Synthesizer defines the contract for any TTS vendor implementation.
type Synthesizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Synthesize returns the full audio for the request.
	Synthesize(ctx context.Context, req Request) (Audio, error)
}
