package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/sentiscribe/pkg/metrics"
)

// LatencyObserver logs stage latencies for each pipeline run once it ends.
type LatencyObserver struct {
	mu     sync.Mutex
	traces map[string]*trace
	log    *slog.Logger
}

type trace struct {
	uploaded     time.Time
	transcribed  time.Time
	firstSegment time.Time
	segments     int
	failed       int
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		traces: make(map[string]*trace),
		log:    log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	runID := ev.Tags["run_id"]
	if runID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	t := o.traces[runID]
	if t == nil {
		// Standalone annotation runs never open a trace.
		if ev.Name != "upload_started" {
			return
		}
		t = &trace{}
		o.traces[runID] = t
	}
	switch ev.Name {
	case "upload_started":
		t.uploaded = ev.Time
	case "transcript_ready":
		t.transcribed = ev.Time
	case "segment_annotated", "segment_failed":
		if t.firstSegment.IsZero() {
			t.firstSegment = ev.Time
		}
		t.segments++
		if ev.Name == "segment_failed" {
			t.failed++
		}
	case "pipeline_completed", "pipeline_failed":
		o.logLocked(runID, ev, t)
		delete(o.traces, runID)
	}
}

func (o *LatencyObserver) logLocked(runID string, end metrics.MetricsEvent, t *trace) {
	o.log.Info("pipeline_latency",
		"run_id", runID,
		"outcome", end.Name,
		"transcribe_ms", durationMs(t.uploaded, t.transcribed),
		"first_segment_ms", durationMs(t.transcribed, t.firstSegment),
		"annotate_ms", durationMs(t.transcribed, end.Time),
		"total_ms", durationMs(t.uploaded, end.Time),
		"segments", t.segments,
		"segments_failed", t.failed,
	)
}

// Pending returns the number of runs still being traced.
func (o *LatencyObserver) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.traces)
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
