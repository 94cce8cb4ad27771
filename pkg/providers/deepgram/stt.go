package deepgram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/harunnryd/sentiscribe/pkg/adapters/stt"
	"github.com/harunnryd/sentiscribe/pkg/errorsx"
	"github.com/harunnryd/sentiscribe/pkg/logging"
	"github.com/harunnryd/sentiscribe/pkg/redact"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

// AudioSource supplies the raw microphone stream for one recognition session.
// The reader hitting EOF ends the stream.
type AudioSource interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// AudioSourceFunc adapts a function to AudioSource.
type AudioSourceFunc func(ctx context.Context) (io.ReadCloser, error)

func (f AudioSourceFunc) Open(ctx context.Context) (io.ReadCloser, error) { return f(ctx) }

type DeepgramParams struct {
	UtteranceEndMS int
}

type Config struct {
	APIKey     string
	Model      string
	Language   string
	SampleRate int
	Encoding   string
	Interim    bool
	VADEvents  bool
	Params     DeepgramParams
	Source     AudioSource
	Logger     *slog.Logger
}

// Recognizer streams microphone audio to Deepgram's live endpoint and reports
// transcripts as fragments.
type Recognizer struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	dgClient *client.WSCallback
	cancel   context.CancelFunc
	audio    io.ReadCloser
	stream   *stream
}

// stream is the per-Start state; callbacks from a stopped stream are dropped.
type stream struct {
	handler stt.Handler
	once    sync.Once
	stopped bool
	mu      sync.Mutex
}

func (s *stream) live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped
}

func (s *stream) finish(fn func()) {
	s.once.Do(func() {
		s.mu.Lock()
		stopped := s.stopped
		s.stopped = true
		s.mu.Unlock()
		if !stopped {
			fn()
		}
	})
}

func New(cfg Config) *Recognizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	return &Recognizer{
		cfg:    cfg,
		logger: logging.NewComponentLogger(cfg.Logger, "deepgram_live"),
	}
}

func (r *Recognizer) Name() string { return "deepgram_live" }

// Available reports whether credentials and an audio source are configured.
func (r *Recognizer) Available() bool {
	return strings.TrimSpace(r.cfg.APIKey) != "" && r.cfg.Source != nil
}

func (r *Recognizer) Start(ctx context.Context, h stt.Handler) error {
	if !r.Available() {
		return errorsx.Errorf(errorsx.ReasonUnsupportedRuntime, "deepgram recognizer not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	r.mu.Lock()
	old := r.stream
	r.mu.Unlock()
	if old != nil {
		if old.live() {
			return fmt.Errorf("deepgram stream already active")
		}
		r.release(old)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sctx, cancel := context.WithCancel(ctx)
	audio, err := r.cfg.Source.Open(sctx)
	if err != nil {
		cancel()
		return errorsx.Wrap(err, errorsx.ReasonLiveConnect)
	}

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          r.cfg.Model,
		Language:       r.cfg.Language,
		Encoding:       r.cfg.Encoding,
		SampleRate:     r.cfg.SampleRate,
		InterimResults: r.cfg.Interim,
		VadEvents:      r.cfg.VADEvents,
		SmartFormat:    true,
	}
	if r.cfg.Params.UtteranceEndMS > 0 {
		transcriptOptions.UtteranceEndMs = fmt.Sprintf("%d", r.cfg.Params.UtteranceEndMS)
	}

	st := &stream{handler: h}
	cb := &callback{parent: r, stream: st}
	dgClient, err := client.NewWSUsingCallback(sctx, r.cfg.APIKey, clientOptions, transcriptOptions, cb)
	if err != nil {
		cancel()
		_ = audio.Close()
		r.logger.Error("deepgram_client_create_error", slog.String("error", err.Error()))
		return errorsx.Wrap(err, errorsx.ReasonLiveConnect)
	}
	if connected := dgClient.Connect(); !connected {
		cancel()
		_ = audio.Close()
		r.logger.Error("deepgram_connect_failed")
		return errorsx.Errorf(errorsx.ReasonLiveConnect, "deepgram connection failed")
	}

	r.dgClient = dgClient
	r.cancel = cancel
	r.audio = audio
	r.stream = st

	r.logger.Info("deepgram_connected",
		slog.String("model", r.cfg.Model),
		slog.String("language", r.cfg.Language),
		slog.Int("sample_rate", r.cfg.SampleRate))

	go func() {
		err := dgClient.Stream(audio)
		switch {
		case sctx.Err() != nil:
		case err != nil && err != io.EOF:
			r.logger.Error("deepgram_stream_error", slog.String("error", err.Error()))
			st.finish(func() { h.OnError(errorsx.Wrap(err, errorsx.ReasonLiveStream)) })
		default:
			st.finish(h.OnEnd)
		}
		r.release(st)
	}()
	return nil
}

// release tears down the client if st is still the active stream.
func (r *Recognizer) release(st *stream) {
	r.mu.Lock()
	if r.stream != st {
		r.mu.Unlock()
		return
	}
	dgClient, cancel, audio := r.dgClient, r.cancel, r.audio
	r.dgClient, r.cancel, r.audio, r.stream = nil, nil, nil, nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if audio != nil {
		_ = audio.Close()
	}
	if dgClient != nil {
		dgClient.Stop()
	}
}

func (r *Recognizer) Stop() error {
	r.mu.Lock()
	st := r.stream
	r.mu.Unlock()
	if st == nil {
		return nil
	}
	r.logger.Info("closing deepgram connection")
	st.mu.Lock()
	st.stopped = true
	st.mu.Unlock()
	r.release(st)
	return nil
}

// --- Callback Implementation ---

type callback struct {
	parent *Recognizer
	stream *stream
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.logger.Info("deepgram_connection_opened")
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 || !c.stream.live() {
		return nil
	}
	text := mr.Channel.Alternatives[0].Transcript
	if text == "" {
		return nil
	}
	isFinal := mr.IsFinal || mr.SpeechFinal

	c.parent.logger.Debug("transcript_received",
		slog.String("transcript", redact.Text(text)),
		slog.Bool("is_final", isFinal))

	c.stream.handler.OnResult([]stt.Fragment{{Text: text, Final: isFinal}})
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.parent.logger.Info("deepgram_metadata_received",
		slog.String("request_id", md.RequestID))
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	c.parent.logger.Debug("speech_started_event")
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	c.parent.logger.Debug("utterance_end_event",
		slog.Int("utterance_end_ms", c.parent.cfg.Params.UtteranceEndMS))
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.parent.logger.Info("deepgram_connection_closed")
	// Notify off the SDK goroutine so a restart can tear this client down.
	go c.stream.finish(c.stream.handler.OnEnd)
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("deepgram_error",
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	err := errorsx.Errorf(errorsx.ReasonLiveStream, "deepgram %s: %s", er.ErrCode, er.ErrMsg)
	go c.stream.finish(func() { c.stream.handler.OnError(err) })
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("deepgram_unhandled_event",
		slog.String("data", string(byData)))
	return nil
}

var (
	_ stt.Recognizer                    = (*Recognizer)(nil)
	_ stt.AvailabilityReporter          = (*Recognizer)(nil)
	_ msginterfaces.LiveMessageCallback = (*callback)(nil)
)
