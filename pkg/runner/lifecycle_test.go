package runner

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"
)

func init() {
	BannerOutput = io.Discard
}

func TestRunDrainsOnContextCancel(t *testing.T) {
	var drained, started, stopped atomic.Int32
	r := NewLifecycleRunner(DrainerFunc(func() error {
		drained.Add(1)
		return nil
	}), Hooks{
		OnStart: func() { started.Add(1) },
		OnStop:  func() { stopped.Add(1) },
	}, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	waitState(t, r, StateRunning)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if r.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", r.State())
	}
	if drained.Load() != 1 || started.Load() != 1 || stopped.Load() != 1 {
		t.Fatalf("unexpected hook counts drain=%d start=%d stop=%d", drained.Load(), started.Load(), stopped.Load())
	}
	if err := r.Stop(); err != nil || drained.Load() != 1 {
		t.Fatalf("second stop must not drain again")
	}
}

func TestStopEndsRun(t *testing.T) {
	r := NewLifecycleRunner(nil, Hooks{}, time.Second)
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	waitState(t, r, StateRunning)
	if err := r.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("run did not return after Stop")
	}
	if err := r.Run(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state on rerun, got %v", err)
	}
}

func TestDrainTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	r := NewLifecycleRunner(DrainerFunc(func() error {
		<-block
		return nil
	}), Hooks{}, 20*time.Millisecond)
	if err := r.Stop(); !errors.Is(err, ErrDrainTimeout) {
		t.Fatalf("expected drain timeout, got %v", err)
	}
}

func TestDrainErrorReturned(t *testing.T) {
	boom := errors.New("boom")
	r := NewLifecycleRunner(DrainerFunc(func() error { return boom }), Hooks{}, time.Second)
	if err := r.Stop(); !errors.Is(err, boom) {
		t.Fatalf("expected drain error, got %v", err)
	}
}

func waitState(t *testing.T, r *LifecycleRunner, want State) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for r.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state %s never reached, at %s", want, r.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
