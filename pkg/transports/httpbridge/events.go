package httpbridge

import (
	"encoding/json"
	"strconv"
	"sync/atomic"

	"github.com/donovanhide/eventsource"

	"github.com/harunnryd/sentiscribe/pkg/adapters/stt"
	"github.com/harunnryd/sentiscribe/pkg/annotate"
	"github.com/harunnryd/sentiscribe/pkg/errorsx"
	"github.com/harunnryd/sentiscribe/pkg/ingest"
	"github.com/harunnryd/sentiscribe/pkg/live"
	"github.com/harunnryd/sentiscribe/pkg/media"
	"github.com/harunnryd/sentiscribe/pkg/transcript"
)

const eventsChannel = "events"

// Event names sent on the SSE stream.
const (
	EventValidationFailed  = "validation_failed"
	EventUploadStarted     = "upload_started"
	EventTranscriptReady   = "transcript_ready"
	EventSegmentStarted    = "segment_started"
	EventSegmentResult     = "segment_result"
	EventPipelineCompleted = "pipeline_completed"
	EventPipelineFailed    = "pipeline_failed"
	EventLiveState         = "live_state"
	EventLiveFragment      = "live_fragment"
)

type sseEvent struct {
	id   string
	name string
	data string
}

func (e sseEvent) Id() string    { return e.id }
func (e sseEvent) Event() string { return e.name }
func (e sseEvent) Data() string  { return e.data }

type SegmentPayload struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

type ErrorPayload struct {
	Title   string `json:"title,omitempty"`
	Tooltip string `json:"tooltip,omitempty"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type SegmentResultPayload struct {
	RunID         string        `json:"run_id"`
	Index         int           `json:"index"`
	Text          string        `json:"text"`
	Label         string        `json:"label"`
	Confidence    float64       `json:"confidence,omitempty"`
	Probabilities []float64     `json:"probabilities,omitempty"`
	Anomaly       string        `json:"anomaly,omitempty"`
	Error         *ErrorPayload `json:"error,omitempty"`
}

// publisher turns pipeline and live notifications into SSE events. It is
// registered as an ingest listener and a live session listener.
type publisher struct {
	srv *eventsource.Server
	seq atomic.Uint64
}

func newPublisher(srv *eventsource.Server) *publisher {
	return &publisher{srv: srv}
}

func (p *publisher) publish(name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	id := strconv.FormatUint(p.seq.Add(1), 10)
	p.srv.Publish([]string{eventsChannel}, sseEvent{id: id, name: name, data: string(data)})
}

func (p *publisher) ValidationFailed(runID string, err *media.ValidationError) {
	payload := map[string]any{"run_id": runID}
	if err != nil {
		payload["reason"] = string(err.Reason)
		payload["mime_type"] = err.MIMEType
		payload["size"] = err.Size
		payload["limit"] = err.Limit
		payload["message"] = err.Error()
	}
	p.publish(EventValidationFailed, payload)
}

func (p *publisher) UploadStarted(runID string, asset media.Asset) {
	p.publish(EventUploadStarted, map[string]any{
		"run_id":    runID,
		"name":      asset.Name,
		"mime_type": asset.MIMEType,
		"size":      asset.Size,
		"source":    asset.Source.String(),
	})
}

func (p *publisher) TranscriptReady(runID string, t transcript.Transcript) {
	segments := make([]SegmentPayload, 0, len(t.Segments))
	for _, s := range t.Segments {
		segments = append(segments, SegmentPayload{Index: s.Index, Text: s.Text})
	}
	p.publish(EventTranscriptReady, map[string]any{
		"run_id":   runID,
		"text":     t.Text,
		"segments": segments,
	})
}

func (p *publisher) SegmentStarted(runID string, index int) {
	p.publish(EventSegmentStarted, map[string]any{"run_id": runID, "index": index})
}

func (p *publisher) SegmentAnnotationProgress(runID string, o annotate.Outcome) {
	p.publish(EventSegmentResult, outcomePayload(runID, o))
}

func (p *publisher) PipelineCompleted(runID string, s annotate.Summary) {
	p.publish(EventPipelineCompleted, map[string]any{
		"run_id":    runID,
		"total":     s.Total,
		"succeeded": s.Succeeded,
		"failed":    s.Failed,
	})
}

func (p *publisher) PipelineFailed(runID string, err error) {
	p.publish(EventPipelineFailed, map[string]any{
		"run_id": runID,
		"error":  errorPayload(err),
	})
}

func (p *publisher) OnStateChange(ev live.StateChange) {
	payload := map[string]any{
		"from":   ev.FromState.String(),
		"to":     ev.ToState.String(),
		"reason": ev.Reason,
	}
	if ev.Err != nil {
		payload["error"] = errorPayload(ev.Err)
	}
	p.publish(EventLiveState, payload)
}

func (p *publisher) OnFragment(f stt.Fragment) {
	p.publish(EventLiveFragment, map[string]any{"text": f.Text, "final": f.Final})
}

func outcomePayload(runID string, o annotate.Outcome) SegmentResultPayload {
	out := SegmentResultPayload{
		RunID: runID,
		Index: o.Index,
		Text:  o.Text,
		Label: string(o.Label()),
	}
	if o.Failed() {
		out.Error = &ErrorPayload{
			Title:   o.Err.Title,
			Tooltip: o.Err.Tooltip,
			Reason:  string(o.Err.Reason()),
			Message: o.Err.Error(),
		}
		return out
	}
	out.Confidence = o.Result.Confidence
	out.Probabilities = o.Result.Probabilities
	out.Anomaly = string(o.Result.Anomaly)
	return out
}

func errorPayload(err error) ErrorPayload {
	if err == nil {
		return ErrorPayload{}
	}
	return ErrorPayload{Reason: string(errorsx.Reason(err)), Message: err.Error()}
}

var (
	_ ingest.Listener       = (*publisher)(nil)
	_ live.StateListener    = (*publisher)(nil)
	_ live.FragmentListener = (*publisher)(nil)
)
