package observers

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/sentiscribe/pkg/metrics"
)

func TestLatencyObserverLogsStages(t *testing.T) {
	var buf bytes.Buffer
	obs := NewLatencyObserver(slog.New(slog.NewTextHandler(&buf, nil)))
	start := time.Now()
	tags := map[string]string{"run_id": "run-1"}

	obs.RecordEvent(metrics.MetricsEvent{Name: "upload_started", Time: start, Tags: tags})
	obs.RecordEvent(metrics.MetricsEvent{Name: "transcript_ready", Time: start.Add(100 * time.Millisecond), Tags: tags})
	obs.RecordEvent(metrics.MetricsEvent{Name: "segment_annotated", Time: start.Add(150 * time.Millisecond), Tags: tags})
	obs.RecordEvent(metrics.MetricsEvent{Name: "segment_failed", Time: start.Add(450 * time.Millisecond), Tags: tags})
	if obs.Pending() != 1 {
		t.Fatalf("expected one pending trace")
	}
	obs.RecordEvent(metrics.MetricsEvent{Name: "pipeline_completed", Time: start.Add(500 * time.Millisecond), Tags: tags})

	out := buf.String()
	for _, want := range []string{"pipeline_latency", "transcribe_ms=100", "first_segment_ms=50", "annotate_ms=400", "total_ms=500", "segments=2", "segments_failed=1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
	if obs.Pending() != 0 {
		t.Fatalf("trace not cleared")
	}
}

func TestLatencyObserverIgnoresUnknownRuns(t *testing.T) {
	var buf bytes.Buffer
	obs := NewLatencyObserver(slog.New(slog.NewTextHandler(&buf, nil)))
	obs.RecordEvent(metrics.MetricsEvent{Name: "segment_annotated", Time: time.Now(), Tags: map[string]string{"run_id": "standalone"}})
	obs.RecordEvent(metrics.MetricsEvent{Name: "annotation_run_completed", Time: time.Now(), Tags: map[string]string{"run_id": "standalone"}})
	obs.RecordEvent(metrics.MetricsEvent{Name: "live_restart", Time: time.Now()})
	if obs.Pending() != 0 || buf.Len() != 0 {
		t.Fatalf("unexpected trace output %q", buf.String())
	}
}
