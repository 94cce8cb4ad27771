package deepgram

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/sentiscribe/pkg/adapters/stt"
	"github.com/harunnryd/sentiscribe/pkg/errorsx"
	"github.com/harunnryd/sentiscribe/pkg/logging"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
)

type captureHandler struct {
	mu        sync.Mutex
	fragments []stt.Fragment
	ends      int
	errs      []error
	done      chan struct{}
}

func newCaptureHandler() *captureHandler {
	return &captureHandler{done: make(chan struct{}, 4)}
}

func (c *captureHandler) OnResult(f []stt.Fragment) {
	c.mu.Lock()
	c.fragments = append(c.fragments, f...)
	c.mu.Unlock()
}

func (c *captureHandler) OnEnd() {
	c.mu.Lock()
	c.ends++
	c.mu.Unlock()
	c.done <- struct{}{}
}

func (c *captureHandler) OnError(err error) {
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
	c.done <- struct{}{}
}

func message(text string, final, speechFinal bool) *msginterfaces.MessageResponse {
	return &msginterfaces.MessageResponse{
		Channel: msginterfaces.Channel{
			Alternatives: []msginterfaces.Alternative{{Transcript: text}},
		},
		IsFinal:     final,
		SpeechFinal: speechFinal,
	}
}

func TestCallbackMapsMessagesToFragments(t *testing.T) {
	r := New(Config{Logger: logging.Discard()})
	h := newCaptureHandler()
	cb := &callback{parent: r, stream: &stream{handler: h}}

	_ = cb.Message(message("你", false, false))
	_ = cb.Message(message("你好", true, false))
	_ = cb.Message(message("", true, false))
	_ = cb.Message(message("世界", false, true))
	_ = cb.Message(&msginterfaces.MessageResponse{})

	h.mu.Lock()
	defer h.mu.Unlock()
	want := []stt.Fragment{{Text: "你", Final: false}, {Text: "你好", Final: true}, {Text: "世界", Final: true}}
	if len(h.fragments) != len(want) {
		t.Fatalf("expected %d fragments, got %+v", len(want), h.fragments)
	}
	for i := range want {
		if h.fragments[i] != want[i] {
			t.Fatalf("fragment %d = %+v, want %+v", i, h.fragments[i], want[i])
		}
	}
}

func TestCallbackErrorEndsStreamOnce(t *testing.T) {
	r := New(Config{Logger: logging.Discard()})
	h := newCaptureHandler()
	st := &stream{handler: h}
	cb := &callback{parent: r, stream: st}

	_ = cb.Error(&msginterfaces.ErrorResponse{ErrCode: "1011", ErrMsg: "net"})
	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatalf("expected error notification")
	}
	_ = cb.Close(&msginterfaces.CloseResponse{})
	_ = cb.Message(message("late", true, false))
	time.Sleep(20 * time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.errs) != 1 || h.ends != 0 {
		t.Fatalf("expected a single error and no end, got errs=%d ends=%d", len(h.errs), h.ends)
	}
	if !errorsx.HasReason(h.errs[0], errorsx.ReasonLiveStream) {
		t.Fatalf("expected live_stream reason")
	}
	if len(h.fragments) != 0 {
		t.Fatalf("messages after the stream ended must be dropped")
	}
}

func TestStoppedStreamIsSilent(t *testing.T) {
	r := New(Config{Logger: logging.Discard()})
	h := newCaptureHandler()
	st := &stream{handler: h, stopped: true}
	cb := &callback{parent: r, stream: st}
	_ = cb.Close(&msginterfaces.CloseResponse{})
	time.Sleep(20 * time.Millisecond)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ends != 0 {
		t.Fatalf("stopped stream must not report end")
	}
}

func TestAvailability(t *testing.T) {
	if New(Config{}).Available() {
		t.Fatalf("expected unavailable without key and source")
	}
	src := AudioSourceFunc(func(ctx context.Context) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("")), nil
	})
	if !New(Config{APIKey: "k", Source: src}).Available() {
		t.Fatalf("expected available with key and source")
	}
	err := New(Config{Logger: logging.Discard()}).Start(context.Background(), newCaptureHandler())
	if !errorsx.HasReason(err, errorsx.ReasonUnsupportedRuntime) {
		t.Fatalf("expected unsupported_environment, got %v", err)
	}
}
