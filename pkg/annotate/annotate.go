package annotate

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harunnryd/sentiscribe/pkg/adapters/classifier"
	"github.com/harunnryd/sentiscribe/pkg/errorsx"
	"github.com/harunnryd/sentiscribe/pkg/logging"
	"github.com/harunnryd/sentiscribe/pkg/metrics"
	"github.com/harunnryd/sentiscribe/pkg/redact"
	"github.com/harunnryd/sentiscribe/pkg/resilience"
	"github.com/harunnryd/sentiscribe/pkg/sentiment"
	"github.com/harunnryd/sentiscribe/pkg/transcript"
)

// DefaultPacing is the pause between one segment's result and the next request.
const DefaultPacing = 300 * time.Millisecond

// FailureTitle is shown in place of a sentiment icon for a failed segment.
const FailureTitle = "分析失败"

type State int

const (
	NotStarted State = iota
	Running
	Completed
	Cancelled
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// AnnotationError stands in for the result of a segment whose classification failed.
type AnnotationError struct {
	Index   int
	Title   string
	Tooltip string
	Err     error
}

func (e *AnnotationError) Error() string {
	return fmt.Sprintf("segment %d: %v", e.Index, e.Err)
}

func (e *AnnotationError) Unwrap() error { return e.Err }

// Reason is the reason code of the underlying failure.
func (e *AnnotationError) Reason() errorsx.ReasonCode {
	if r := errorsx.Reason(e.Err); r != errorsx.ReasonUnknown {
		return r
	}
	return errorsx.ReasonAnnotation
}

// Outcome is what one segment produced: a result or an AnnotationError.
type Outcome struct {
	Index  int
	Text   string
	Result sentiment.Result
	Err    *AnnotationError
}

func (o Outcome) Failed() bool { return o.Err != nil }

// Label is the display label, sentiment.Error for failures.
func (o Outcome) Label() sentiment.Label {
	if o.Err != nil {
		return sentiment.Error
	}
	return o.Result.Label
}

// Listener receives per-segment lifecycle notifications in index order.
type Listener interface {
	SegmentStarted(index int)
	SegmentDone(o Outcome)
}

// Summary describes a finished run.
type Summary struct {
	RunID     string
	State     State
	Total     int
	Succeeded int
	Failed    int
	Outcomes  []Outcome
}

// Annotator classifies segments one at a time.
type Annotator struct {
	classifier classifier.Classifier
	pacing     time.Duration
	breaker    *resilience.CircuitBreaker
	obs        metrics.Observer
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

func New(c classifier.Classifier) *Annotator {
	return &Annotator{
		classifier: c,
		pacing:     DefaultPacing,
		obs:        metrics.NoopObserver{},
		logger:     logging.NewComponentLogger(slog.Default(), "annotator"),
		sleep:      sleepCtx,
	}
}

// SetPacing overrides the inter-segment pause. Negative values are treated as zero.
func (a *Annotator) SetPacing(d time.Duration) {
	if d < 0 {
		d = 0
	}
	a.pacing = d
}

func (a *Annotator) Pacing() time.Duration { return a.pacing }

// SetBreaker makes segments fail fast while the classifier is rate limited.
func (a *Annotator) SetBreaker(b *resilience.CircuitBreaker) { a.breaker = b }

func (a *Annotator) SetObserver(obs metrics.Observer) {
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	a.obs = obs
}

func (a *Annotator) SetLogger(l *slog.Logger) {
	a.logger = logging.NewComponentLogger(l, "annotator")
}

// NewRun prepares a run over segments. Nothing happens until it is iterated or executed.
func (a *Annotator) NewRun(segments []transcript.Segment, l Listener) *Run {
	return a.NewRunWithID(uuid.NewString(), segments, l)
}

// NewRunWithID is NewRun with a caller-chosen id, so metrics share the id of
// the pipeline run that owns the annotation.
func (a *Annotator) NewRunWithID(id string, segments []transcript.Segment, l Listener) *Run {
	segs := make([]transcript.Segment, len(segments))
	copy(segs, segments)
	return &Run{
		ID:       id,
		a:        a,
		segments: segs,
		listener: l,
	}
}

func (a *Annotator) classify(ctx context.Context, runID string, seg transcript.Segment) Outcome {
	out := Outcome{Index: seg.Index, Text: seg.Text}
	if a.breaker != nil && !a.breaker.Allow() {
		err := errorsx.Wrap(resilience.ErrCircuitOpen, errorsx.ReasonCircuitOpen)
		out.Err = newAnnotationError(seg.Index, err)
		a.recordFailure(runID, out, 0)
		return out
	}

	start := time.Now()
	res, err := a.classifier.Classify(ctx, seg.Text)
	elapsed := time.Since(start)
	if err != nil {
		if a.breaker != nil {
			a.breaker.OnError(err)
		}
		out.Err = newAnnotationError(seg.Index, errorsx.Wrap(err, errorsx.ReasonAnnotation))
		if ctx.Err() == nil {
			a.recordFailure(runID, out, elapsed)
		}
		return out
	}
	if a.breaker != nil {
		a.breaker.OnSuccess()
	}
	out.Result = res
	a.obs.RecordEvent(metrics.MetricsEvent{
		Name:  "segment_annotated",
		Time:  time.Now(),
		Value: float64(elapsed.Milliseconds()),
		Tags: map[string]string{
			"run_id": runID,
			"label":  string(res.Label),
		},
		Fields: map[string]any{
			"index":      seg.Index,
			"confidence": res.Confidence,
			"anomaly":    string(res.Anomaly),
		},
	})
	return out
}

func (a *Annotator) recordFailure(runID string, out Outcome, elapsed time.Duration) {
	a.logger.Warn("annotation_segment_failed",
		slog.String("run_id", runID),
		slog.Int("index", out.Index),
		slog.String("text", redact.Text(out.Text)),
		slog.String("reason", string(out.Err.Reason())),
		slog.String("error", out.Err.Err.Error()))
	a.obs.RecordEvent(metrics.MetricsEvent{
		Name:  "segment_failed",
		Time:  time.Now(),
		Value: float64(elapsed.Milliseconds()),
		Tags: map[string]string{
			"run_id": runID,
			"reason": string(out.Err.Reason()),
		},
		Fields: map[string]any{"index": out.Index},
	})
}

func newAnnotationError(index int, err error) *AnnotationError {
	return &AnnotationError{
		Index:   index,
		Title:   FailureTitle,
		Tooltip: fmt.Sprintf("段落 %d %s", index+1, FailureTitle),
		Err:     err,
	}
}

// Run is a single pass of the annotator over an ordered list of segments.
type Run struct {
	ID       string
	a        *Annotator
	segments []transcript.Segment
	listener Listener

	mu       sync.Mutex
	state    State
	outcomes []Outcome
}

func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Cancel stops the run. A classification already in flight completes but its
// result is discarded and no further notifications are sent.
func (r *Run) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == NotStarted || r.state == Running {
		r.state = Cancelled
	}
}

func (r *Run) active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == Running
}

func (r *Run) begin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != NotStarted {
		return false
	}
	r.state = Running
	return true
}

// finish settles the terminal state and returns it.
func (r *Run) finish(complete bool) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Running {
		if complete {
			r.state = Completed
		} else {
			r.state = Cancelled
		}
	}
	return r.state
}

// Outcomes yields one outcome per segment in index order. Each pull issues at
// most one classification request. A run can be iterated only once; breaking
// out of the loop cancels it.
func (r *Run) Outcomes(ctx context.Context) iter.Seq2[int, Outcome] {
	return func(yield func(int, Outcome) bool) {
		if ctx == nil {
			ctx = context.Background()
		}
		if !r.begin() {
			return
		}
		complete := false
		defer func() {
			state := r.finish(complete)
			r.complete(state)
		}()

		for i, seg := range r.segments {
			if i > 0 && r.a.pacing > 0 {
				if err := r.a.sleep(ctx, r.a.pacing); err != nil {
					return
				}
			}
			if ctx.Err() != nil || !r.active() {
				return
			}
			if r.listener != nil {
				r.listener.SegmentStarted(seg.Index)
			}
			out := r.a.classify(ctx, r.ID, seg)
			if ctx.Err() != nil || !r.active() {
				return
			}
			r.mu.Lock()
			r.outcomes = append(r.outcomes, out)
			r.mu.Unlock()
			if r.listener != nil {
				r.listener.SegmentDone(out)
			}
			if !yield(seg.Index, out) {
				return
			}
		}
		complete = true
	}
}

// Execute drives the run to its end and returns the summary.
func (r *Run) Execute(ctx context.Context) Summary {
	for range r.Outcomes(ctx) {
	}
	return r.Summary()
}

// Summary reports the outcomes delivered so far.
func (r *Run) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Summary{
		RunID:    r.ID,
		State:    r.state,
		Total:    len(r.segments),
		Outcomes: append([]Outcome(nil), r.outcomes...),
	}
	for _, o := range r.outcomes {
		if o.Failed() {
			s.Failed++
		} else {
			s.Succeeded++
		}
	}
	return s
}

func (r *Run) complete(state State) {
	s := r.Summary()
	r.a.obs.RecordEvent(metrics.MetricsEvent{
		Name:  "annotation_run_completed",
		Time:  time.Now(),
		Value: float64(s.Succeeded),
		Tags: map[string]string{
			"run_id": r.ID,
			"state":  state.String(),
		},
		Fields: map[string]any{
			"total":     s.Total,
			"succeeded": s.Succeeded,
			"failed":    s.Failed,
		},
	})
	r.a.logger.Info("annotation_run_finished",
		slog.String("run_id", r.ID),
		slog.String("state", state.String()),
		slog.Int("total", s.Total),
		slog.Int("failed", s.Failed))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsAnnotationError reports whether err is, or wraps, an AnnotationError.
func IsAnnotationError(err error) bool {
	var ae *AnnotationError
	return errors.As(err, &ae)
}
