package metrics

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// JSONLObserver writes one JSON object per event. Output is buffered; call
// Flush before reading it.
type JSONLObserver struct {
	mu  sync.Mutex
	w   *bufio.Writer
	enc *json.Encoder
}

type jsonlEvent struct {
	Name   string            `json:"name"`
	Time   time.Time         `json:"time"`
	Value  float64           `json:"value"`
	Tags   map[string]string `json:"tags,omitempty"`
	Fields map[string]any    `json:"fields,omitempty"`
}

func NewJSONLObserver(w io.Writer) *JSONLObserver {
	if w == nil {
		w = io.Discard
	}
	bw := bufio.NewWriter(w)
	return &JSONLObserver{w: bw, enc: json.NewEncoder(bw)}
}

func (o *JSONLObserver) RecordEvent(ev MetricsEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	_ = o.enc.Encode(jsonlEvent{
		Name:   ev.Name,
		Time:   ev.Time.UTC(),
		Value:  ev.Value,
		Tags:   ev.Tags,
		Fields: ev.Fields,
	})
}

func (o *JSONLObserver) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.w.Flush()
}

// Close flushes; the underlying writer stays open.
func (o *JSONLObserver) Close() error { return o.Flush() }

var _ Flusher = (*JSONLObserver)(nil)
