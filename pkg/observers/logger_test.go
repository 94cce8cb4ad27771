package observers

import (
	"bytes"
	"strings"
	"testing"

	"github.com/harunnryd/sentiscribe/pkg/logging"
	"github.com/harunnryd/sentiscribe/pkg/metrics"
)

func TestLoggerObserverLevels(t *testing.T) {
	var buf bytes.Buffer
	obs := NewLoggerObserver(logging.New(&buf, "info", "json"))

	obs.RecordEvent(metrics.MetricsEvent{Name: "segment_annotated", Tags: map[string]string{"run_id": "r"}})
	if buf.Len() != 0 {
		t.Fatalf("routine events must stay at debug, got %s", buf.String())
	}
	obs.RecordEvent(metrics.MetricsEvent{Name: "segment_failed", Tags: map[string]string{"run_id": "r"}, Fields: map[string]any{"index": 2}})
	out := buf.String()
	for _, want := range []string{`"level":"WARN"`, `"event":"segment_failed"`, `"tags":{"run_id":"r"}`, `"fields":{"index":2}`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in %s", want, out)
		}
	}
}

func TestMultiObserverSkipsNilAndFlushes(t *testing.T) {
	var buf bytes.Buffer
	jsonl := metrics.NewJSONLObserver(&buf)
	mem := metrics.NewMemoryObserver()
	multi := NewMultiObserver(nil, mem, jsonl)
	multi.RecordEvent(metrics.MetricsEvent{Name: "upload_started"})
	if len(mem.Snapshot()) != 1 {
		t.Fatalf("expected fan-out to memory observer")
	}
	if err := multi.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !strings.Contains(buf.String(), "upload_started") {
		t.Fatalf("expected jsonl flushed on close, got %q", buf.String())
	}
}
