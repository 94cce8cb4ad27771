package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/sentiscribe/pkg/annotate"
	"github.com/harunnryd/sentiscribe/pkg/errorsx"
	"github.com/harunnryd/sentiscribe/pkg/logging"
	"github.com/harunnryd/sentiscribe/pkg/media"
	"github.com/harunnryd/sentiscribe/pkg/metrics"
	"github.com/harunnryd/sentiscribe/pkg/providers/mock"
	"github.com/harunnryd/sentiscribe/pkg/resilience"
	"github.com/harunnryd/sentiscribe/pkg/sentiment"
	"github.com/harunnryd/sentiscribe/pkg/transcript"
)

type captureListener struct {
	mu     sync.Mutex
	events []string
}

func (c *captureListener) add(format string, args ...any) {
	c.mu.Lock()
	c.events = append(c.events, fmt.Sprintf(format, args...))
	c.mu.Unlock()
}

func (c *captureListener) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

func (c *captureListener) hooks() Hooks {
	return Hooks{
		OnValidationFailed: func(runID string, err *media.ValidationError) {
			c.add("%s validation_failed %s", runID, err.Reason)
		},
		OnUploadStarted:   func(runID string, a media.Asset) { c.add("%s upload_started", runID) },
		OnTranscriptReady: func(runID string, t transcript.Transcript) { c.add("%s transcript_ready", runID) },
		OnSegmentStarted:  func(runID string, index int) { c.add("%s segment_started %d", runID, index) },
		OnSegmentProgress: func(runID string, o annotate.Outcome) {
			c.add("%s segment_result %d %s", runID, o.Index, o.Label())
		},
		OnPipelineCompleted: func(runID string, s annotate.Summary) { c.add("%s pipeline_completed", runID) },
		OnPipelineFailed: func(runID string, err error) {
			c.add("%s pipeline_failed %s", runID, errorsx.Reason(err))
		},
	}
}

func (c *captureListener) forRun(runID string) []string {
	var out []string
	for _, ev := range c.snapshot() {
		if strings.HasPrefix(ev, runID+" ") {
			out = append(out, strings.TrimPrefix(ev, runID+" "))
		}
	}
	return out
}

type fixture struct {
	ctrl        *Controller
	transcriber *mock.Transcriber
	classifier  *mock.Classifier
	buffer      *transcript.Buffer
	listener    *captureListener
	obs         *metrics.MemoryObserver
}

func newFixture(t *testing.T, cfg Config, text string) *fixture {
	t.Helper()
	tr := mock.NewTranscriber(mock.TranscriberConfig{Transcript: text})
	cl := mock.NewClassifier(mock.ClassifierConfig{
		Keywords: map[string]sentiment.Label{"好": sentiment.Positive, "坏": sentiment.Negative},
		Fail:     []string{"失败"},
	})
	ann := annotate.New(cl)
	ann.SetPacing(0)
	ann.SetLogger(logging.Discard())
	buf := transcript.NewBuffer()
	obs := metrics.NewMemoryObserver()
	ctrl, err := New(cfg, Deps{
		Transcriber: tr,
		Annotator:   ann,
		Buffer:      buf,
		Observer:    obs,
		Logger:      logging.Discard(),
		Recorder:    media.NewRecorder(&chunkMic{chunks: [][]byte{[]byte("ab"), []byte("cd")}}),
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	t.Cleanup(ctrl.Close)
	l := &captureListener{}
	ctrl.AddListener(l.hooks())
	return &fixture{ctrl: ctrl, transcriber: tr, classifier: cl, buffer: buf, listener: l, obs: obs}
}

func videoAsset(name string) media.Asset {
	return media.NewAsset(name, "video/mp4", media.SourceUpload, []byte("data"))
}

func waitRun(t *testing.T, run *PipelineRun) (Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := run.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("run %s did not finish", run.ID)
	}
	return res, err
}

func TestPipelineCompletesInOrder(t *testing.T) {
	f := newFixture(t, Config{}, "很好。失败。很坏。")
	run, err := f.ctrl.Start(context.Background(), videoAsset("a.mp4"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	res, err := waitRun(t, run)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	want := []string{
		"upload_started",
		"transcript_ready",
		"segment_started 0", "segment_result 0 positive",
		"segment_started 1", "segment_result 1 error",
		"segment_started 2", "segment_result 2 negative",
		"pipeline_completed",
	}
	if got := f.listener.forRun(run.ID); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("unexpected events\n got %v\nwant %v", got, want)
	}
	if run.State() != RunCompleted {
		t.Fatalf("expected completed, got %s", run.State())
	}
	if res.Summary.Total != 3 || res.Summary.Failed != 1 {
		t.Fatalf("unexpected summary %+v", res.Summary)
	}
	if f.buffer.String() != "很好。失败。很坏。" {
		t.Fatalf("expected transcript in shared buffer, got %q", f.buffer.String())
	}
	if f.buffer.Owner() != transcript.OwnerNone {
		t.Fatalf("finished run must release the buffer")
	}
}

func TestValidationFailureMakesNoCall(t *testing.T) {
	f := newFixture(t, Config{}, "")
	run, err := f.ctrl.Start(context.Background(), media.NewAsset("a.txt", "text/plain", media.SourceUpload, []byte("x")))
	if !errors.Is(err, media.ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
	if _, werr := waitRun(t, run); werr == nil {
		t.Fatalf("expected failed run")
	}
	if f.transcriber.Calls() != 0 {
		t.Fatalf("validation failure must not reach the transcriber")
	}
	want := []string{"validation_failed unsupported_format", "pipeline_failed validation_failed"}
	if got := f.listener.forRun(run.ID); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("unexpected events %v", got)
	}
	if run.State() != RunFailed {
		t.Fatalf("expected failed, got %s", run.State())
	}
}

func TestRejectedAssetLeavesCurrentRunAlone(t *testing.T) {
	f := newFixture(t, Config{}, "")
	f.transcriber.Hook = func(ctx context.Context, a media.Asset) (transcript.Transcript, error) {
		return transcript.New("a0。a1。a2。", nil), nil
	}
	entered := make(chan struct{})
	release := make(chan struct{})
	f.classifier.Hook = func(ctx context.Context, text string) (sentiment.Result, error) {
		if text == "a1" {
			close(entered)
			<-release
		}
		return mock.Result(sentiment.Neutral), nil
	}

	good, err := f.ctrl.Start(context.Background(), videoAsset("good.mp4"))
	if err != nil {
		t.Fatalf("start good: %v", err)
	}
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("good run never reached segment 1")
	}

	bad, err := f.ctrl.Start(context.Background(), media.NewAsset("notes.txt", "text/plain", media.SourceUpload, []byte("x")))
	if !errors.Is(err, media.ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
	if f.ctrl.Current() != good {
		t.Fatalf("rejected asset must not replace the current run")
	}
	close(release)

	if _, err := waitRun(t, good); err != nil {
		t.Fatalf("good run: %v", err)
	}
	if good.State() != RunCompleted {
		t.Fatalf("expected good run completed, got %s", good.State())
	}
	if _, err := waitRun(t, bad); !errors.Is(err, media.ErrUnsupportedFormat) {
		t.Fatalf("expected rejected run to carry the validation error, got %v", err)
	}
	want := []string{"validation_failed unsupported_format", "pipeline_failed validation_failed"}
	if got := f.listener.forRun(bad.ID); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("unexpected events for rejected run %v", got)
	}
	got := f.listener.forRun(good.ID)
	if len(got) == 0 || got[len(got)-1] != "pipeline_completed" {
		t.Fatalf("good run lost its notifications: %v", got)
	}
	if f.transcriber.Calls() != 1 {
		t.Fatalf("rejected asset must not reach the transcriber, calls=%d", f.transcriber.Calls())
	}
}

func TestRejectedAssetDoesNotTakeBuffer(t *testing.T) {
	f := newFixture(t, Config{}, "")
	if err := f.buffer.Acquire(transcript.OwnerLive); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	_, err := f.ctrl.Start(context.Background(), media.NewAsset("notes.txt", "text/plain", media.SourceUpload, []byte("x")))
	if !errors.Is(err, media.ErrUnsupportedFormat) {
		t.Fatalf("expected validation to win over buffer ownership, got %v", err)
	}
	if f.buffer.Owner() != transcript.OwnerLive {
		t.Fatalf("live owner must keep the buffer, got %s", f.buffer.Owner())
	}
}

func TestBlankProviderSegmentsAreNotClassified(t *testing.T) {
	f := newFixture(t, Config{}, "")
	f.transcriber.Hook = func(ctx context.Context, a media.Asset) (transcript.Transcript, error) {
		return transcript.Transcript{Text: "好。坏。", Segments: []transcript.Segment{
			{Index: 0, Text: "好"}, {Index: 1, Text: "  "}, {Index: 2, Text: "坏"},
		}}, nil
	}
	run, _ := f.ctrl.Start(context.Background(), videoAsset("a.mp4"))
	res, err := waitRun(t, run)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := f.classifier.Texts(); fmt.Sprint(got) != "[好 坏]" {
		t.Fatalf("unexpected classifier inputs %q", got)
	}
	if res.Summary.Total != 2 {
		t.Fatalf("expected 2 segments, got %d", res.Summary.Total)
	}
}

func TestTranscriptionFailureAbortsRun(t *testing.T) {
	f := newFixture(t, Config{}, "")
	f.transcriber.Hook = func(ctx context.Context, a media.Asset) (transcript.Transcript, error) {
		return transcript.Transcript{}, errors.New("upstream 500")
	}
	run, _ := f.ctrl.Start(context.Background(), videoAsset("a.mp4"))
	_, err := waitRun(t, run)
	if !errorsx.HasReason(err, errorsx.ReasonTranscription) {
		t.Fatalf("expected transcription_failed, got %v", err)
	}
	want := []string{"upload_started", "pipeline_failed transcription_failed"}
	if got := f.listener.forRun(run.ID); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("unexpected events %v", got)
	}
	if len(f.classifier.Texts()) != 0 {
		t.Fatalf("no annotation after transcription failure")
	}
}

func TestTranscriptionRetry(t *testing.T) {
	f := newFixture(t, Config{TranscriptionRetry: resilience.RetryPolicy{MaxRetries: 1, Backoff: time.Millisecond}}, "")
	calls := 0
	f.transcriber.Hook = func(ctx context.Context, a media.Asset) (transcript.Transcript, error) {
		calls++
		if calls == 1 {
			return transcript.Transcript{}, errors.New("flaky")
		}
		return transcript.New("好。", nil), nil
	}
	run, _ := f.ctrl.Start(context.Background(), videoAsset("a.mp4"))
	if _, err := waitRun(t, run); err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestSupersededRunIsSilenced(t *testing.T) {
	f := newFixture(t, Config{}, "")
	f.transcriber.Hook = func(ctx context.Context, a media.Asset) (transcript.Transcript, error) {
		if a.Name == "old.mp4" {
			return transcript.New("a0。a1。a2。", nil), nil
		}
		return transcript.New("b0。", nil), nil
	}
	entered := make(chan struct{})
	release := make(chan struct{})
	f.classifier.Hook = func(ctx context.Context, text string) (sentiment.Result, error) {
		if text == "a2" {
			close(entered)
			<-release
		}
		return mock.Result(sentiment.Neutral), nil
	}

	old, err := f.ctrl.Start(context.Background(), videoAsset("old.mp4"))
	if err != nil {
		t.Fatalf("start old: %v", err)
	}
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("old run never reached segment 2")
	}

	next, err := f.ctrl.Start(context.Background(), videoAsset("new.mp4"))
	if err != nil {
		t.Fatalf("start new: %v", err)
	}
	close(release)

	if _, err := waitRun(t, next); err != nil {
		t.Fatalf("new run: %v", err)
	}
	if _, err := waitRun(t, old); !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected old run superseded, got %v", err)
	}
	if old.State() != RunSuperseded {
		t.Fatalf("expected superseded state, got %s", old.State())
	}
	for _, ev := range f.listener.forRun(old.ID) {
		if ev == "segment_result 2 neutral" || ev == "pipeline_completed" {
			t.Fatalf("superseded run delivered %q", ev)
		}
	}
	if f.buffer.String() != "b0。" {
		t.Fatalf("buffer must hold the current run's transcript, got %q", f.buffer.String())
	}
}

func TestStartRefusedWhileLiveOwnsBuffer(t *testing.T) {
	f := newFixture(t, Config{}, "好。")
	if err := f.buffer.Acquire(transcript.OwnerLive); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	_, err := f.ctrl.Start(context.Background(), videoAsset("a.mp4"))
	if !errors.Is(err, transcript.ErrBufferBusy) {
		t.Fatalf("expected ErrBufferBusy, got %v", err)
	}
	if f.transcriber.Calls() != 0 {
		t.Fatalf("refused run must not transcribe")
	}
}

func TestCancelDetachesRun(t *testing.T) {
	f := newFixture(t, Config{}, "")
	release := make(chan struct{})
	f.transcriber.Hook = func(ctx context.Context, a media.Asset) (transcript.Transcript, error) {
		<-release
		return transcript.New("好。", nil), nil
	}
	run, _ := f.ctrl.Start(context.Background(), videoAsset("a.mp4"))
	f.ctrl.Cancel()
	close(release)
	if _, err := waitRun(t, run); !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected superseded, got %v", err)
	}
	if f.ctrl.Current() != nil || f.buffer.Owner() != transcript.OwnerNone {
		t.Fatalf("cancel must detach the run and release the buffer")
	}
}

func TestRecordingFeedsPipeline(t *testing.T) {
	f := newFixture(t, Config{}, "好。")
	if err := f.ctrl.StartRecording(context.Background()); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	if !f.ctrl.Recording() {
		t.Fatalf("expected recording in progress")
	}
	run, err := f.ctrl.StopRecording(context.Background())
	if err != nil {
		t.Fatalf("stop recording: %v", err)
	}
	if _, err := waitRun(t, run); err != nil {
		t.Fatalf("run: %v", err)
	}
	assets := f.transcriber.Assets()
	if len(assets) != 1 || assets[0].Source != media.SourceRecording || assets[0].Size != 4 {
		t.Fatalf("unexpected recorded asset %+v", assets)
	}
}

func TestPipelineMetrics(t *testing.T) {
	f := newFixture(t, Config{}, "好。")
	run, _ := f.ctrl.Start(context.Background(), videoAsset("a.mp4"))
	_, _ = waitRun(t, run)
	seen := map[string]bool{}
	for _, ev := range f.obs.Snapshot() {
		if ev.Tags["run_id"] == run.ID {
			seen[ev.Name] = true
		}
	}
	for _, name := range []string{"upload_started", "transcript_ready", "pipeline_completed"} {
		if !seen[name] {
			t.Fatalf("missing %s event", name)
		}
	}
}

func TestClosedControllerRejectsRuns(t *testing.T) {
	f := newFixture(t, Config{}, "好。")
	f.ctrl.Close()
	if _, err := f.ctrl.Start(context.Background(), videoAsset("a.mp4")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

// chunkMic plays fixed chunks and closes the channel on Stop.
type chunkMic struct {
	chunks [][]byte
	ch     chan []byte
}

func (m *chunkMic) Start(ctx context.Context) (<-chan []byte, error) {
	m.ch = make(chan []byte, len(m.chunks))
	for _, c := range m.chunks {
		m.ch <- c
	}
	return m.ch, nil
}

func (m *chunkMic) Stop() error {
	close(m.ch)
	return nil
}
