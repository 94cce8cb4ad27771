package ingest

import (
	"github.com/harunnryd/sentiscribe/pkg/annotate"
	"github.com/harunnryd/sentiscribe/pkg/media"
	"github.com/harunnryd/sentiscribe/pkg/transcript"
)

// Listener receives pipeline notifications for the current run only, in the
// order they happened.
type Listener interface {
	ValidationFailed(runID string, err *media.ValidationError)
	UploadStarted(runID string, asset media.Asset)
	TranscriptReady(runID string, t transcript.Transcript)
	SegmentStarted(runID string, index int)
	SegmentAnnotationProgress(runID string, o annotate.Outcome)
	PipelineCompleted(runID string, s annotate.Summary)
	PipelineFailed(runID string, err error)
}

// Hooks adapts plain functions to Listener. Nil fields are skipped.
type Hooks struct {
	OnValidationFailed  func(runID string, err *media.ValidationError)
	OnUploadStarted     func(runID string, asset media.Asset)
	OnTranscriptReady   func(runID string, t transcript.Transcript)
	OnSegmentStarted    func(runID string, index int)
	OnSegmentProgress   func(runID string, o annotate.Outcome)
	OnPipelineCompleted func(runID string, s annotate.Summary)
	OnPipelineFailed    func(runID string, err error)
}

func (h Hooks) ValidationFailed(runID string, err *media.ValidationError) {
	if h.OnValidationFailed != nil {
		h.OnValidationFailed(runID, err)
	}
}

func (h Hooks) UploadStarted(runID string, asset media.Asset) {
	if h.OnUploadStarted != nil {
		h.OnUploadStarted(runID, asset)
	}
}

func (h Hooks) TranscriptReady(runID string, t transcript.Transcript) {
	if h.OnTranscriptReady != nil {
		h.OnTranscriptReady(runID, t)
	}
}

func (h Hooks) SegmentStarted(runID string, index int) {
	if h.OnSegmentStarted != nil {
		h.OnSegmentStarted(runID, index)
	}
}

func (h Hooks) SegmentAnnotationProgress(runID string, o annotate.Outcome) {
	if h.OnSegmentProgress != nil {
		h.OnSegmentProgress(runID, o)
	}
}

func (h Hooks) PipelineCompleted(runID string, s annotate.Summary) {
	if h.OnPipelineCompleted != nil {
		h.OnPipelineCompleted(runID, s)
	}
}

func (h Hooks) PipelineFailed(runID string, err error) {
	if h.OnPipelineFailed != nil {
		h.OnPipelineFailed(runID, err)
	}
}

var _ Listener = Hooks{}
