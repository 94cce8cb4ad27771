package stt

import (
	"context"

	"github.com/harunnryd/sentiscribe/pkg/media"
	"github.com/harunnryd/sentiscribe/pkg/transcript"
)

// Transcriber turns a whole media asset into a transcript with one remote call.
type Transcriber interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Transcribe uploads the asset and returns the recognized text.
	Transcribe(ctx context.Context, asset media.Asset) (transcript.Transcript, error)
}

// Fragment is one piece of recognized speech. Only final fragments are stable.
type Fragment struct {
	Text  string
	Final bool
}

// Handler receives recognition events from a live stream.
type Handler interface {
	OnResult(fragments []Fragment)
	// OnEnd reports that the stream ended without error.
	OnEnd()
	OnError(err error)
}

// Recognizer is a continuous speech recognition capability. A stream runs from
// Start until it ends on its own, fails, or Stop is called.
type Recognizer interface {
	Name() string
	Start(ctx context.Context, h Handler) error
	Stop() error
}

// AvailabilityReporter is implemented by recognizers that can tell up front
// whether the environment supports them.
type AvailabilityReporter interface {
	Available() bool
}

// Config contains vendor-agnostic live recognition settings.
type Config struct {
	Language   string
	Continuous bool
	Interim    bool
}
