package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harunnryd/sentiscribe/pkg/annotate"
	"github.com/harunnryd/sentiscribe/pkg/media"
	"github.com/harunnryd/sentiscribe/pkg/transcript"
)

// ErrSuperseded is returned by Wait for a run that was replaced or cancelled.
var ErrSuperseded = errors.New("pipeline run superseded")

type RunState int

const (
	RunPending RunState = iota
	RunTranscribing
	RunAnnotating
	RunCompleted
	RunFailed
	RunSuperseded
)

func (s RunState) String() string {
	switch s {
	case RunPending:
		return "pending"
	case RunTranscribing:
		return "transcribing"
	case RunAnnotating:
		return "annotating"
	case RunCompleted:
		return "completed"
	case RunFailed:
		return "failed"
	case RunSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

func (s RunState) terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunSuperseded
}

// Result is the outcome of a completed run.
type Result struct {
	RunID      string
	Asset      media.Asset
	Transcript transcript.Transcript
	Summary    annotate.Summary
	Duration   time.Duration
}

// PipelineRun is one pass from a media asset to an annotated transcript.
type PipelineRun struct {
	ID      string
	gen     uint64
	asset   media.Asset
	started time.Time

	mu         sync.Mutex
	state      RunState
	annotation *annotate.Run
	result     Result
	err        error
	done       chan struct{}
}

func newRun(id string, gen uint64, asset media.Asset) *PipelineRun {
	return &PipelineRun{
		ID:      id,
		gen:     gen,
		asset:   asset,
		started: time.Now(),
		state:   RunPending,
		done:    make(chan struct{}),
	}
}

func (r *PipelineRun) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Done is closed once the run reaches a terminal state.
func (r *PipelineRun) Done() <-chan struct{} { return r.done }

// Wait blocks until the run ends or ctx is done.
func (r *PipelineRun) Wait(ctx context.Context) (Result, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.err
}

// advance moves a live run to state. It reports false once the run has ended.
func (r *PipelineRun) advance(state RunState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.terminal() {
		return false
	}
	r.state = state
	return true
}

func (r *PipelineRun) setAnnotation(a *annotate.Run) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.terminal() {
		return false
	}
	r.annotation = a
	return true
}

func (r *PipelineRun) finish(state RunState, res Result, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.terminal() {
		return false
	}
	r.state = state
	r.result = res
	r.err = err
	close(r.done)
	return true
}

// supersede detaches the run. Its in-flight calls complete but nothing more is reported.
func (r *PipelineRun) supersede() bool {
	r.mu.Lock()
	ann := r.annotation
	r.mu.Unlock()
	if ann != nil {
		ann.Cancel()
	}
	return r.finish(RunSuperseded, Result{RunID: r.ID, Asset: r.asset}, ErrSuperseded)
}

func (r *PipelineRun) ended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.terminal()
}
