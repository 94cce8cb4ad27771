package live

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/sentiscribe/pkg/adapters/stt"
	"github.com/harunnryd/sentiscribe/pkg/errorsx"
	"github.com/harunnryd/sentiscribe/pkg/logging"
	"github.com/harunnryd/sentiscribe/pkg/metrics"
	"github.com/harunnryd/sentiscribe/pkg/redact"
	"github.com/harunnryd/sentiscribe/pkg/transcript"
)

// ErrUnsupportedEnvironment means no live recognition capability is available.
var ErrUnsupportedEnvironment = errors.New("live speech recognition is not supported")

// FragmentListener sees every fragment of the current stream, interim ones included.
// Final fragments are reported after they have been persisted.
type FragmentListener interface {
	OnFragment(f stt.Fragment)
}

type Config struct {
	Recognizer stt.Recognizer
	// Buffer is shared with the upload pipeline. A private buffer is used when nil.
	Buffer   *transcript.Buffer
	Settings stt.Config
	Observer metrics.Observer
	Logger   *slog.Logger
}

// Session owns one live recognition capability and keeps it running while
// the caller wants to listen.
type Session struct {
	recognizer stt.Recognizer
	buffer     *transcript.Buffer
	settings   stt.Config
	obs        metrics.Observer
	logger     *slog.Logger

	mu          sync.Mutex
	state       State
	gen         uint64
	ctx         context.Context
	text        strings.Builder
	err         error
	restarts    int
	unsupported bool

	stateListeners    []StateListener
	fragmentListeners []FragmentListener
}

func NewSession(cfg Config) *Session {
	if cfg.Buffer == nil {
		cfg.Buffer = transcript.NewBuffer()
	}
	if cfg.Observer == nil {
		cfg.Observer = metrics.NoopObserver{}
	}
	if cfg.Settings.Language == "" {
		cfg.Settings.Language = "zh-CN"
	}
	return &Session{
		recognizer: cfg.Recognizer,
		buffer:     cfg.Buffer,
		settings:   cfg.Settings,
		obs:        cfg.Observer,
		logger:     logging.NewComponentLogger(cfg.Logger, "live_session"),
		state:      Idle,
	}
}

// AddListener registers a listener for state change events.
func (s *Session) AddListener(l StateListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateListeners = append(s.stateListeners, l)
}

// AddFragmentListener registers a listener for recognized fragments.
func (s *Session) AddFragmentListener(l FragmentListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fragmentListeners = append(s.fragmentListeners, l)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that moved the session into Errored.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Text returns the finalized text recognized by this session.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

// Restarts counts automatic stream restarts since the session was created.
func (s *Session) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// Supported reports whether Start can succeed in this environment.
func (s *Session) Supported() bool {
	if s.recognizer == nil {
		return false
	}
	if ar, ok := s.recognizer.(stt.AvailabilityReporter); ok {
		return ar.Available()
	}
	return true
}

// Start begins listening. It is a no-op while already Listening.
func (s *Session) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.unsupported || !s.Supported() {
		s.unsupported = true
		s.mu.Unlock()
		s.logger.Warn("live_recognition_unsupported")
		return errorsx.Wrap(ErrUnsupportedEnvironment, errorsx.ReasonUnsupportedRuntime)
	}
	if s.state == Listening {
		s.mu.Unlock()
		return nil
	}
	if err := s.buffer.Acquire(transcript.OwnerLive); err != nil {
		s.mu.Unlock()
		return err
	}
	s.ctx = ctx
	s.err = nil
	s.gen++
	gen := s.gen
	ev, err := s.transitionLocked(Listening, "start", nil)
	if err != nil {
		s.buffer.Release(transcript.OwnerLive)
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	s.notify(ev)

	s.logger.Info("live_recognition_starting",
		slog.String("recognizer", s.recognizer.Name()),
		slog.String("language", s.settings.Language))
	return s.openStream(ctx, gen)
}

// openStream starts the underlying recognizer for generation gen.
func (s *Session) openStream(ctx context.Context, gen uint64) error {
	if err := s.recognizer.Start(ctx, &streamHandler{s: s, gen: gen}); err != nil {
		err = errorsx.Wrap(err, errorsx.ReasonLiveConnect)
		s.fail(gen, err)
		return err
	}
	s.mu.Lock()
	stale := s.gen != gen
	s.mu.Unlock()
	if stale {
		// Stopped while the stream was opening.
		_ = s.recognizer.Stop()
	}
	return nil
}

// Stop stops listening and suppresses restarts. Stopping an idle session does nothing.
// Stopping an errored session resets it to Idle.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state == Idle {
		s.mu.Unlock()
		return nil
	}
	wasListening := s.state == Listening
	s.gen++
	s.err = nil
	ev, err := s.transitionLocked(Idle, "stop", nil)
	s.buffer.Release(transcript.OwnerLive)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	var stopErr error
	if wasListening {
		stopErr = s.recognizer.Stop()
	}
	s.notify(ev)
	return stopErr
}

func (s *Session) onResult(gen uint64, fragments []stt.Fragment) {
	s.mu.Lock()
	if gen != s.gen || s.state != Listening {
		s.mu.Unlock()
		return
	}
	delivered := make([]stt.Fragment, 0, len(fragments))
	for _, f := range fragments {
		if f.Text == "" {
			continue
		}
		if f.Final {
			if err := s.buffer.Append(transcript.OwnerLive, f.Text); err != nil {
				s.logger.Error("live_buffer_append_failed", slog.String("error", err.Error()))
				continue
			}
			s.text.WriteString(f.Text)
			s.logger.Debug("live_fragment_final", slog.String("text", redact.Text(f.Text)))
		}
		delivered = append(delivered, f)
	}
	listeners := make([]FragmentListener, len(s.fragmentListeners))
	copy(listeners, s.fragmentListeners)
	s.mu.Unlock()

	for _, f := range delivered {
		for _, l := range listeners {
			l.OnFragment(f)
		}
	}
}

// onEnd restarts the stream once per end while the session still wants to listen.
func (s *Session) onEnd(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != Listening {
		s.mu.Unlock()
		return
	}
	s.gen++
	next := s.gen
	s.restarts++
	restarts := s.restarts
	ctx := s.ctx
	ev, err := s.transitionLocked(Listening, "auto_restart", nil)
	s.mu.Unlock()
	if err != nil {
		return
	}
	s.notify(ev)

	s.logger.Info("live_recognition_restarting", slog.Int("restarts", restarts))
	s.obs.RecordEvent(metrics.MetricsEvent{
		Name:  "live_restart",
		Time:  time.Now(),
		Value: float64(restarts),
		Tags:  map[string]string{"recognizer": s.recognizer.Name()},
	})
	_ = s.openStream(ctx, next)
}

func (s *Session) onError(gen uint64, err error) {
	if err == nil {
		err = errors.New("live recognition failed")
	}
	s.fail(gen, errorsx.Wrap(err, errorsx.ReasonLiveStream))
}

// fail moves the session to Errored if gen is still current.
func (s *Session) fail(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen || s.state != Listening {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.err = err
	ev, terr := s.transitionLocked(Errored, "error", err)
	s.buffer.Release(transcript.OwnerLive)
	s.mu.Unlock()
	if terr != nil {
		return
	}

	s.logger.Error("live_recognition_failed",
		slog.String("reason", string(errorsx.Reason(err))),
		slog.String("error", err.Error()))
	_ = s.recognizer.Stop()
	s.notify(ev)
}

// transitionLocked validates and applies a transition. Must be called with s.mu held.
func (s *Session) transitionLocked(to State, reason string, err error) (StateChange, error) {
	if !transitionValid(s.state, to) {
		return StateChange{}, &InvalidTransitionError{From: s.state, To: to}
	}
	ev := StateChange{
		FromState: s.state,
		ToState:   to,
		Timestamp: time.Now(),
		Reason:    reason,
		Err:       err,
	}
	s.state = to
	return ev, nil
}

func (s *Session) notify(ev StateChange) {
	s.mu.Lock()
	listeners := make([]StateListener, len(s.stateListeners))
	copy(listeners, s.stateListeners)
	s.mu.Unlock()

	s.obs.RecordEvent(metrics.MetricsEvent{
		Name: "live_state_changed",
		Time: ev.Timestamp,
		Tags: map[string]string{
			"from":   ev.FromState.String(),
			"to":     ev.ToState.String(),
			"reason": ev.Reason,
		},
	})
	for _, l := range listeners {
		l.OnStateChange(ev)
	}
}

// streamHandler binds recognizer callbacks to one stream generation.
type streamHandler struct {
	s   *Session
	gen uint64
}

func (h *streamHandler) OnResult(fragments []stt.Fragment) { h.s.onResult(h.gen, fragments) }
func (h *streamHandler) OnEnd() { h.s.onEnd(h.gen) }
func (h *streamHandler) OnError(err error) { h.s.onError(h.gen, err) }

var _ stt.Handler = (*streamHandler)(nil)
