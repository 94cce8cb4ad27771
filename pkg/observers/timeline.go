package observers

import (
	"encoding/json"
	"errors"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/sentiscribe/pkg/metrics"
	"github.com/harunnryd/sentiscribe/pkg/redact"
)

const liveTimeline = "live"

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// TimelineObserver appends every event of a pipeline run to <dir>/<run_id>.jsonl.
// Live session events have no run and go to live.jsonl. Each line carries its
// position in the run and the time since the run's first event.
type TimelineObserver struct {
	dir string

	mu   sync.Mutex
	logs map[string]*runLog
}

type runLog struct {
	f     *os.File
	enc   *json.Encoder
	first time.Time
	seq   int
}

type timelineEvent struct {
	Seq       int               `json:"seq"`
	Time      time.Time         `json:"time"`
	ElapsedMS int64             `json:"elapsed_ms"`
	Event     string            `json:"event"`
	RunID     string            `json:"run_id,omitempty"`
	Value     float64           `json:"value,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	Fields    map[string]any    `json:"fields,omitempty"`
}

func NewTimelineObserver(dir string) *TimelineObserver {
	return &TimelineObserver{dir: strings.TrimSpace(dir), logs: make(map[string]*runLog)}
}

func (o *TimelineObserver) RecordEvent(ev metrics.MetricsEvent) {
	if o.dir == "" {
		return
	}
	runID := ev.Tags["run_id"]
	name := runID
	if name == "" && strings.HasPrefix(ev.Name, "live_") {
		name = liveTimeline
	}
	name = unsafeName.ReplaceAllString(strings.TrimSpace(name), "_")
	if name == "" {
		return
	}
	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	log, err := o.open(name, at)
	if err != nil {
		return
	}
	log.seq++
	_ = log.enc.Encode(timelineEvent{
		Seq:       log.seq,
		Time:      at.UTC(),
		ElapsedMS: at.Sub(log.first).Milliseconds(),
		Event:     ev.Name,
		RunID:     runID,
		Value:     ev.Value,
		Tags:      maps.Clone(ev.Tags),
		Fields:    redactFields(ev.Fields),
	})
	// A late event for a finished run reopens the file in append mode and
	// restarts the sequence.
	if ev.Name == "pipeline_completed" || ev.Name == "pipeline_failed" {
		_ = log.f.Close()
		delete(o.logs, name)
	}
}

func (o *TimelineObserver) open(name string, at time.Time) (*runLog, error) {
	if log := o.logs[name]; log != nil {
		return log, nil
	}
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(o.dir, name+".jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	log := &runLog{f: f, enc: json.NewEncoder(f), first: at}
	o.logs[name] = log
	return log, nil
}

// Close closes every open timeline file.
func (o *TimelineObserver) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var err error
	for name, log := range o.logs {
		err = errors.Join(err, log.f.Close())
		delete(o.logs, name)
	}
	return err
}

// redactFields masks string values, which may hold transcript text.
func redactFields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			v = redact.Text(s)
		}
		out[k] = v
	}
	return out
}

var _ metrics.Observer = (*TimelineObserver)(nil)
