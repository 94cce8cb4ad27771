package media

import (
	"bytes"
	"context"
	"errors"
	"sync"
)

var (
	ErrRecorderActive = errors.New("recorder already active")
	ErrRecorderIdle   = errors.New("recorder not active")
)

const (
	RecordingName = "recording.webm"
	RecordingType = "audio/webm"
)

// Microphone is the capture capability supplied by the host environment.
// Start delivers encoded audio chunks until Stop is called, then closes the channel.
type Microphone interface {
	Start(ctx context.Context) (<-chan []byte, error)
	Stop() error
}

// Recorder turns a microphone capture into a recording asset.
type Recorder struct {
	mic Microphone

	mu  sync.Mutex
	cur *capture
}

// capture is one Start..Stop span. Its buffer is private so a capture
// abandoned by a cancelled Stop cannot leak chunks into the next one.
type capture struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	done chan struct{}
}

func NewRecorder(mic Microphone) *Recorder {
	return &Recorder{mic: mic}
}

// Start begins buffering chunks in arrival order.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur != nil {
		return ErrRecorderActive
	}
	if r.mic == nil {
		return errors.New("no microphone available")
	}
	chunks, err := r.mic.Start(ctx)
	if err != nil {
		return err
	}
	c := &capture{done: make(chan struct{})}
	r.cur = c
	go c.collect(chunks)
	return nil
}

func (c *capture) collect(chunks <-chan []byte) {
	defer close(c.done)
	for chunk := range chunks {
		c.mu.Lock()
		c.buf.Write(chunk)
		c.mu.Unlock()
	}
}

// Active reports whether a capture is running.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur != nil
}

// Stop ends the capture, waits for the remaining chunks and returns the
// recording. The recorder is idle as soon as Stop is called; if ctx ends
// first the partial recording is discarded.
func (r *Recorder) Stop(ctx context.Context) (Asset, error) {
	r.mu.Lock()
	c := r.cur
	r.cur = nil
	r.mu.Unlock()
	if c == nil {
		return Asset{}, ErrRecorderIdle
	}

	stopErr := r.mic.Stop()
	select {
	case <-c.done:
	case <-ctx.Done():
		return Asset{}, ctx.Err()
	}
	if stopErr != nil {
		return Asset{}, stopErr
	}

	c.mu.Lock()
	data := append([]byte(nil), c.buf.Bytes()...)
	c.mu.Unlock()
	return NewAsset(RecordingName, RecordingType, SourceRecording, data), nil
}
