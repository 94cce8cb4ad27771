package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonValidation ReasonCode = "validation_failed"

	ReasonTranscription      ReasonCode = "transcription_failed"
	ReasonClassification     ReasonCode = "classification_failed"
	ReasonSynthesis          ReasonCode = "synthesis_failed"
	ReasonInvalidResponse    ReasonCode = "invalid_response"
	ReasonInvalidRequest     ReasonCode = "invalid_request"
	ReasonRateLimit          ReasonCode = "rate_limit"
	ReasonCircuitOpen        ReasonCode = "circuit_open"
	ReasonAnnotation         ReasonCode = "annotation_failed"
	ReasonUnsupportedRuntime ReasonCode = "unsupported_environment"
	ReasonBufferBusy         ReasonCode = "buffer_busy"

	ReasonLiveConnect ReasonCode = "live_connect"
	ReasonLiveStream  ReasonCode = "live_stream"
)
