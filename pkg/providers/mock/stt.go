package mock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/sentiscribe/pkg/adapters/stt"
	"github.com/harunnryd/sentiscribe/pkg/media"
	"github.com/harunnryd/sentiscribe/pkg/transcript"
)

type TranscriberConfig struct {
	Transcript string
	Segments   []string
	Delay      time.Duration
	Err        error
}

// Transcriber returns a fixed transcript and counts calls.
type Transcriber struct {
	cfg   TranscriberConfig
	calls atomic.Int32

	mu   sync.Mutex
	seen []media.Asset
	// Hook, when set, replaces the configured response.
	Hook func(ctx context.Context, asset media.Asset) (transcript.Transcript, error)
}

func NewTranscriber(cfg TranscriberConfig) *Transcriber {
	if cfg.Transcript == "" && len(cfg.Segments) == 0 && cfg.Err == nil {
		cfg.Transcript = "这是一个模拟转录。效果很好。"
	}
	return &Transcriber{cfg: cfg}
}

func (t *Transcriber) Name() string { return "mock_transcriber" }

func (t *Transcriber) Transcribe(ctx context.Context, asset media.Asset) (transcript.Transcript, error) {
	t.calls.Add(1)
	t.mu.Lock()
	t.seen = append(t.seen, asset)
	hook := t.Hook
	t.mu.Unlock()
	if hook != nil {
		return hook(ctx, asset)
	}
	if t.cfg.Delay > 0 {
		select {
		case <-time.After(t.cfg.Delay):
		case <-ctx.Done():
			return transcript.Transcript{}, ctx.Err()
		}
	}
	if t.cfg.Err != nil {
		return transcript.Transcript{}, t.cfg.Err
	}
	return transcript.New(t.cfg.Transcript, t.cfg.Segments), nil
}

// Calls returns how many times Transcribe ran.
func (t *Transcriber) Calls() int { return int(t.calls.Load()) }

// Assets returns the assets received so far.
func (t *Transcriber) Assets() []media.Asset {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]media.Asset(nil), t.seen...)
}

type RecognizerConfig struct {
	// Script is emitted as final fragments on the first stream only.
	Script      []string
	Interim     bool
	Interval    time.Duration
	Unavailable bool
}

// Recognizer is a controllable live recognition capability. Tests drive it with
// Emit, End and Fail; the configured script plays once for demos.
type Recognizer struct {
	cfg RecognizerConfig

	mu      sync.Mutex
	handler stt.Handler
	active  bool
	starts  int
	stops   int
	played  bool
	cancel  context.CancelFunc
	// StartErr, when set, is returned by the next Start.
	StartErr error
}

func NewRecognizer(cfg RecognizerConfig) *Recognizer {
	if cfg.Interval <= 0 {
		cfg.Interval = 200 * time.Millisecond
	}
	return &Recognizer{cfg: cfg}
}

func (r *Recognizer) Name() string { return "mock_recognizer" }

func (r *Recognizer) Available() bool { return !r.cfg.Unavailable }

func (r *Recognizer) Start(ctx context.Context, h stt.Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.StartErr; err != nil {
		r.StartErr = nil
		return err
	}
	if r.active {
		return errors.New("mock recognizer already started")
	}
	r.active = true
	r.handler = h
	r.starts++
	if len(r.cfg.Script) > 0 && !r.played {
		r.played = true
		sctx, cancel := context.WithCancel(ctx)
		r.cancel = cancel
		go r.play(sctx, h, r.cfg.Script)
	}
	return nil
}

func (r *Recognizer) play(ctx context.Context, h stt.Handler, script []string) {
	for _, line := range script {
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.cfg.Interval):
		}
		if r.cfg.Interim {
			h.OnResult([]stt.Fragment{{Text: line, Final: false}})
		}
		h.OnResult([]stt.Fragment{{Text: line, Final: true}})
	}
}

func (r *Recognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	r.active = false
	r.handler = nil
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	return nil
}

func (r *Recognizer) current() stt.Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handler
}

// Emit delivers fragments to the active stream.
func (r *Recognizer) Emit(fragments ...stt.Fragment) {
	if h := r.current(); h != nil {
		h.OnResult(fragments)
	}
}

// End finishes the active stream without error, like a browser recognizer timing out.
func (r *Recognizer) End() {
	r.mu.Lock()
	h := r.handler
	r.active = false
	r.handler = nil
	r.mu.Unlock()
	if h != nil {
		h.OnEnd()
	}
}

// Fail terminates the active stream with err.
func (r *Recognizer) Fail(err error) {
	r.mu.Lock()
	h := r.handler
	r.active = false
	r.handler = nil
	r.mu.Unlock()
	if h != nil {
		h.OnError(err)
	}
}

// Starts returns how many streams were opened.
func (r *Recognizer) Starts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts
}

// Stops returns how many times Stop was called.
func (r *Recognizer) Stops() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops
}

var (
	_ stt.Transcriber          = (*Transcriber)(nil)
	_ stt.Recognizer           = (*Recognizer)(nil)
	_ stt.AvailabilityReporter = (*Recognizer)(nil)
)
