package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/harunnryd/sentiscribe/pkg/adapters/stt"
	"github.com/harunnryd/sentiscribe/pkg/annotate"
	"github.com/harunnryd/sentiscribe/pkg/errorsx"
	"github.com/harunnryd/sentiscribe/pkg/logging"
	"github.com/harunnryd/sentiscribe/pkg/media"
	"github.com/harunnryd/sentiscribe/pkg/metrics"
	"github.com/harunnryd/sentiscribe/pkg/redact"
	"github.com/harunnryd/sentiscribe/pkg/resilience"
	"github.com/harunnryd/sentiscribe/pkg/segment"
	"github.com/harunnryd/sentiscribe/pkg/transcript"
)

var (
	ErrClosed      = errors.New("ingest controller closed")
	ErrNoRecorder  = errors.New("no microphone recorder configured")
	ErrNoAnnotator = errors.New("annotator is required")
)

type Config struct {
	// Workers bounds concurrently executing runs, superseded ones included.
	Workers int
	// QueueSize is the notification queue depth.
	QueueSize int
	// TranscriptionRetry applies to the upload call. The zero value makes one attempt.
	TranscriptionRetry resilience.RetryPolicy
}

type Deps struct {
	Transcriber stt.Transcriber
	Annotator   *annotate.Annotator
	Buffer      *transcript.Buffer
	Validator   *media.Validator
	Segmenter   *segment.Segmenter
	Recorder    *media.Recorder
	Observer    metrics.Observer
	Logger      *slog.Logger
}

// Controller turns media assets into annotated transcripts, one current run at a time.
type Controller struct {
	cfg         Config
	transcriber stt.Transcriber
	annotator   *annotate.Annotator
	buffer      *transcript.Buffer
	validator   *media.Validator
	segmenter   *segment.Segmenter
	recorder    *media.Recorder
	obs         metrics.Observer
	logger      *slog.Logger

	pool     *ants.Pool
	dispatch *dispatcher
	gen      atomic.Uint64

	mu        sync.Mutex
	current   *PipelineRun
	listeners []Listener
	closed    bool
}

func New(cfg Config, deps Deps) (*Controller, error) {
	if deps.Transcriber == nil {
		return nil, errors.New("transcriber is required")
	}
	if deps.Annotator == nil {
		return nil, ErrNoAnnotator
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if deps.Buffer == nil {
		deps.Buffer = transcript.NewBuffer()
	}
	if deps.Validator == nil {
		deps.Validator = media.NewValidator(media.MaxBytes, media.DefaultAllowed)
	}
	if deps.Segmenter == nil {
		deps.Segmenter = segment.New()
	}
	if deps.Observer == nil {
		deps.Observer = metrics.NoopObserver{}
	}
	logger := logging.NewComponentLogger(deps.Logger, "ingest")

	pool, err := ants.NewPool(cfg.Workers, ants.WithPanicHandler(func(p any) {
		logger.Error("ingest_worker_panic", slog.String("panic", fmt.Sprint(p)))
	}))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	c := &Controller{
		cfg:         cfg,
		transcriber: deps.Transcriber,
		annotator:   deps.Annotator,
		buffer:      deps.Buffer,
		validator:   deps.Validator,
		segmenter:   deps.Segmenter,
		recorder:    deps.Recorder,
		obs:         deps.Observer,
		logger:      logger,
		pool:        pool,
	}
	c.dispatch = newDispatcher(cfg.QueueSize, c.gen.Load, logger)
	return c, nil
}

// AddListener registers l for notifications. Listeners run on the dispatcher
// goroutine and must not call Close.
func (c *Controller) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *Controller) snapshotListeners() []Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Listener, len(c.listeners))
	copy(out, c.listeners)
	return out
}

// Current returns the run listeners are attached to, if any.
func (c *Controller) Current() *PipelineRun {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Start validates asset and, if it is acceptable, supersedes any current run
// with a new one. A rejected asset yields a failed run and the validation
// error; the current run is left untouched. ctx bounds the whole run, not only
// this call.
func (c *Controller) Start(ctx context.Context, asset media.Asset) (*PipelineRun, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if err := c.validator.ValidateAsset(asset); err != nil {
		return c.reject(asset, err), err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if err := c.buffer.Acquire(transcript.OwnerUpload); err != nil {
		c.mu.Unlock()
		c.logger.Warn("ingest_buffer_busy", slog.String("owner", c.buffer.Owner().String()))
		return nil, err
	}
	prev := c.current
	run := newRun(uuid.NewString(), c.gen.Add(1), asset)
	c.current = run
	c.mu.Unlock()

	if prev != nil && prev.supersede() {
		c.logger.Info("ingest_run_superseded",
			slog.String("run_id", prev.ID),
			slog.String("by", run.ID))
	}

	c.record("upload_started", run, map[string]string{"source": asset.Source.String()})
	c.post(run, "upload_started", func(l Listener) { l.UploadStarted(run.ID, asset) }, nil)

	if err := c.pool.Submit(func() { c.execute(ctx, run) }); err != nil {
		c.logger.Error("ingest_submit_failed", slog.String("run_id", run.ID), slog.String("error", err.Error()))
		c.fail(run, err)
		return run, err
	}
	return run, nil
}

// reject reports a discarded asset. The run it returns never becomes current,
// so its notifications bypass the generation check.
func (c *Controller) reject(asset media.Asset, err error) *PipelineRun {
	run := newRun(uuid.NewString(), 0, asset)
	c.logger.Warn("ingest_validation_failed",
		slog.String("run_id", run.ID),
		slog.String("name", asset.Name),
		slog.String("mime_type", asset.MIMEType),
		slog.Int64("size", asset.Size),
		slog.String("error", err.Error()))
	c.record("pipeline_failed", run, map[string]string{"reason": string(errorsx.ReasonValidation)})
	verr, _ := media.AsValidationError(err)
	c.dispatch.post(event{
		pinned:  true,
		name:    "validation_failed",
		deliver: c.broadcast(func(l Listener) { l.ValidationFailed(run.ID, verr) }),
	})
	c.dispatch.post(event{
		pinned:  true,
		name:    "pipeline_failed",
		deliver: c.broadcast(func(l Listener) { l.PipelineFailed(run.ID, err) }),
		always:  func() { run.finish(RunFailed, Result{RunID: run.ID, Asset: asset}, err) },
	})
	return run
}

// StartRecording begins microphone capture.
func (c *Controller) StartRecording(ctx context.Context) error {
	if c.recorder == nil {
		return ErrNoRecorder
	}
	return c.recorder.Start(ctx)
}

// StopRecording ends capture and feeds the recording into a new run.
func (c *Controller) StopRecording(ctx context.Context) (*PipelineRun, error) {
	if c.recorder == nil {
		return nil, ErrNoRecorder
	}
	asset, err := c.recorder.Stop(ctx)
	if err != nil {
		return nil, err
	}
	return c.Start(ctx, asset)
}

// Recording reports whether microphone capture is in progress.
func (c *Controller) Recording() bool {
	return c.recorder != nil && c.recorder.Active()
}

func (c *Controller) execute(ctx context.Context, run *PipelineRun) {
	if !run.advance(RunTranscribing) {
		return
	}
	start := time.Now()
	var t transcript.Transcript
	err := c.cfg.TranscriptionRetry.Do(ctx, func(ctx context.Context) error {
		var err error
		t, err = c.transcriber.Transcribe(ctx, run.asset)
		return err
	})
	if run.ended() {
		return
	}
	if err != nil {
		err = errorsx.Wrap(err, errorsx.ReasonTranscription)
		c.logger.Error("ingest_transcription_failed",
			slog.String("run_id", run.ID),
			slog.String("reason", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
		c.record("pipeline_failed", run, map[string]string{"reason": string(errorsx.Reason(err))})
		c.fail(run, err)
		return
	}
	c.logger.Info("ingest_transcript_ready",
		slog.String("run_id", run.ID),
		slog.Int("chars", len([]rune(t.Text))),
		slog.String("preview", redact.Preview(t.Text, 40)),
		slog.Duration("elapsed", time.Since(start)))
	c.record("transcript_ready", run, nil)
	c.postWith(run, "transcript_ready",
		func() { c.writeBuffer(run, t) },
		func(l Listener) { l.TranscriptReady(run.ID, t) },
		nil)

	segments := c.segmenter.Segments(t)
	if !run.advance(RunAnnotating) {
		return
	}
	ann := c.annotator.NewRunWithID(run.ID, segments, &segmentRelay{c: c, run: run})
	if !run.setAnnotation(ann) {
		return
	}
	summary := ann.Execute(ctx)
	if run.ended() {
		return
	}
	if summary.State == annotate.Cancelled {
		// Only the caller's context can cancel an attached annotation run.
		err := errorsx.Wrap(ctx.Err(), errorsx.ReasonAnnotation)
		if err == nil {
			err = errorsx.Wrap(errors.New("annotation cancelled"), errorsx.ReasonAnnotation)
		}
		c.fail(run, err)
		return
	}

	res := Result{
		RunID:      run.ID,
		Asset:      run.asset,
		Transcript: t,
		Summary:    summary,
		Duration:   time.Since(run.started),
	}
	c.logger.Info("ingest_pipeline_completed",
		slog.String("run_id", run.ID),
		slog.Int("segments", summary.Total),
		slog.Int("failed", summary.Failed),
		slog.Duration("duration", res.Duration))
	c.record("pipeline_completed", run, nil)
	c.post(run, "pipeline_completed",
		func(l Listener) { l.PipelineCompleted(run.ID, summary) },
		func() { c.complete(run, RunCompleted, res, nil) })
}

// fail reports err for run and ends it.
func (c *Controller) fail(run *PipelineRun, err error) {
	c.post(run, "pipeline_failed",
		func(l Listener) { l.PipelineFailed(run.ID, err) },
		func() { c.complete(run, RunFailed, Result{RunID: run.ID, Asset: run.asset}, err) })
}

// complete detaches run if it is still current, then settles it. Waiters wake
// only after the buffer has been released.
func (c *Controller) complete(run *PipelineRun, state RunState, res Result, err error) {
	c.mu.Lock()
	if c.current == run {
		c.current = nil
		c.buffer.Release(transcript.OwnerUpload)
	}
	c.mu.Unlock()
	run.finish(state, res, err)
}

// post queues a notification for run. fn is skipped if run is no longer current.
func (c *Controller) post(run *PipelineRun, name string, fn func(l Listener), always func()) {
	c.postWith(run, name, nil, fn, always)
}

func (c *Controller) postWith(run *PipelineRun, name string, before func(), fn func(l Listener), always func()) {
	c.dispatch.post(event{
		gen:  run.gen,
		name: name,
		deliver: func() {
			if before != nil {
				before()
			}
			c.broadcast(fn)()
		},
		always: always,
	})
}

func (c *Controller) broadcast(fn func(l Listener)) func() {
	return func() {
		for _, l := range c.snapshotListeners() {
			fn(l)
		}
	}
}

// writeBuffer mirrors the transcript into the shared buffer. It runs on the
// dispatcher and only for the current run.
func (c *Controller) writeBuffer(run *PipelineRun, t transcript.Transcript) {
	if err := c.buffer.Set(transcript.OwnerUpload, t.Text); err != nil {
		c.logger.Warn("ingest_buffer_write_failed",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()))
	}
}

// Cancel detaches the current run. Its in-flight calls finish silently.
func (c *Controller) Cancel() {
	c.mu.Lock()
	run := c.current
	c.current = nil
	if run != nil {
		c.gen.Add(1)
		c.buffer.Release(transcript.OwnerUpload)
	}
	c.mu.Unlock()
	if run != nil && run.supersede() {
		c.logger.Info("ingest_run_cancelled", slog.String("run_id", run.ID))
	}
}

// Close detaches the current run, drains pending notifications and releases the pool.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.Cancel()
	c.dispatch.close()
	c.pool.Release()
}

func (c *Controller) record(name string, run *PipelineRun, tags map[string]string) {
	t := map[string]string{"run_id": run.ID}
	for k, v := range tags {
		t[k] = v
	}
	c.obs.RecordEvent(metrics.MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: float64(time.Since(run.started).Milliseconds()),
		Tags:  t,
	})
}

// segmentRelay forwards annotator notifications into the ordered queue.
type segmentRelay struct {
	c   *Controller
	run *PipelineRun
}

func (r *segmentRelay) SegmentStarted(index int) {
	r.c.post(r.run, "segment_started", func(l Listener) { l.SegmentStarted(r.run.ID, index) }, nil)
}

func (r *segmentRelay) SegmentDone(o annotate.Outcome) {
	r.c.post(r.run, "segment_result", func(l Listener) { l.SegmentAnnotationProgress(r.run.ID, o) }, nil)
}
