package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/harunnryd/sentiscribe/pkg/adapters/tts"
)

type SynthesizerConfig struct {
	ContentType string
	Err         error
}

// Synthesizer returns a deterministic silent clip and records requests.
type Synthesizer struct {
	cfg      SynthesizerConfig
	mu       sync.Mutex
	requests []tts.Request
}

func NewSynthesizer(cfg SynthesizerConfig) *Synthesizer {
	if cfg.ContentType == "" {
		cfg.ContentType = "audio/wav"
	}
	return &Synthesizer{cfg: cfg}
}

func (s *Synthesizer) Name() string { return "mock_synthesizer" }

func (s *Synthesizer) Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error) {
	if err := ctx.Err(); err != nil {
		return tts.Audio{}, err
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.cfg.Err != nil {
		return tts.Audio{}, s.cfg.Err
	}
	if req.Text == "" {
		return tts.Audio{}, errors.New("text is empty")
	}
	return tts.Audio{ContentType: s.cfg.ContentType, Data: make([]byte, 320)}, nil
}

// Requests returns what was asked for so far.
func (s *Synthesizer) Requests() []tts.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tts.Request(nil), s.requests...)
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
