package media

import (
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/harunnryd/sentiscribe/pkg/errorsx"
)

// MaxBytes is the default size ceiling for any asset (1 GiB).
const MaxBytes int64 = 1 << 30

var (
	ErrUnsupportedFormat = errors.New("unsupported media format")
	ErrTooLarge          = errors.New("media exceeds size limit")
)

// DefaultAllowed is the declared-type allow-list for uploads.
var DefaultAllowed = []string{
	"video/mp4",
	"video/mpeg",
	"video/quicktime",
	"video/avi",
	"video/x-matroska",
	"audio/wav",
	"audio/mp3",
	"audio/aac",
	"audio/ogg",
	"audio/flac",
	"audio/aiff",
}

// ValidationReason classifies a rejected asset.
type ValidationReason string

const (
	ReasonUnsupportedFormat ValidationReason = "unsupported_format"
	ReasonTooLarge          ValidationReason = "too_large"
)

// ValidationError describes why an asset was rejected.
type ValidationError struct {
	Reason   ValidationReason
	MIMEType string
	Size     int64
	Limit    int64
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonTooLarge:
		return fmt.Sprintf("media size %d exceeds limit %d", e.Size, e.Limit)
	default:
		return fmt.Sprintf("unsupported media format %q", e.MIMEType)
	}
}

// Is lets errors.Is match the sentinel for each reason.
func (e *ValidationError) Is(target error) bool {
	switch e.Reason {
	case ReasonTooLarge:
		return target == ErrTooLarge
	case ReasonUnsupportedFormat:
		return target == ErrUnsupportedFormat
	}
	return false
}

// Validator checks declared type and size before anything leaves the process.
type Validator struct {
	maxBytes int64
	allowed  map[string]struct{}
}

// NewValidator builds a validator. maxBytes <= 0 uses MaxBytes; an empty list uses DefaultAllowed.
func NewValidator(maxBytes int64, allowed []string) *Validator {
	if maxBytes <= 0 {
		maxBytes = MaxBytes
	}
	if len(allowed) == 0 {
		allowed = DefaultAllowed
	}
	set := make(map[string]struct{}, len(allowed))
	for _, t := range allowed {
		if n := normalizeType(t); n != "" {
			set[n] = struct{}{}
		}
	}
	return &Validator{maxBytes: maxBytes, allowed: set}
}

// MaxBytes returns the configured ceiling.
func (v *Validator) MaxBytes() int64 { return v.maxBytes }

// Validate checks a declared MIME type and byte size. A nil error means the asset is accepted.
func (v *Validator) Validate(declaredType string, size int64) error {
	if _, ok := v.allowed[normalizeType(declaredType)]; !ok {
		return errorsx.Wrap(&ValidationError{
			Reason:   ReasonUnsupportedFormat,
			MIMEType: declaredType,
			Size:     size,
			Limit:    v.maxBytes,
		}, errorsx.ReasonValidation)
	}
	return v.checkSize(declaredType, size)
}

// ValidateAsset applies the rules for the asset's source. Recordings carry a
// type chosen by the capture device, so only their size is checked.
func (v *Validator) ValidateAsset(a Asset) error {
	if a.Source == SourceRecording {
		return v.checkSize(a.MIMEType, a.Size)
	}
	return v.Validate(a.MIMEType, a.Size)
}

func (v *Validator) checkSize(declaredType string, size int64) error {
	if size > v.maxBytes {
		return errorsx.Wrap(&ValidationError{
			Reason:   ReasonTooLarge,
			MIMEType: declaredType,
			Size:     size,
			Limit:    v.maxBytes,
		}, errorsx.ReasonValidation)
	}
	return nil
}

var extensionTypes = map[string]string{
	".mp4":  "video/mp4",
	".mpeg": "video/mpeg",
	".mpg":  "video/mpeg",
	".mov":  "video/quicktime",
	".avi":  "video/avi",
	".mkv":  "video/x-matroska",
	".wav":  "audio/wav",
	".mp3":  "audio/mp3",
	".aac":  "audio/aac",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	".aif":  "audio/aiff",
	".aiff": "audio/aiff",
}

// TypeByExtension guesses a declared type from a file name. Allow-listed
// extensions map to the spelling the allow-list uses; anything else goes to
// the system table.
func TypeByExtension(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	return normalizeType(mime.TypeByExtension(ext))
}

var defaultValidator = NewValidator(MaxBytes, DefaultAllowed)

// Validate checks against the default allow-list and the 1 GiB ceiling.
func Validate(declaredType string, size int64) error {
	return defaultValidator.Validate(declaredType, size)
}

// AsValidationError extracts a *ValidationError from err.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

func normalizeType(t string) string {
	t = strings.TrimSpace(t)
	if t == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return strings.ToLower(t)
}
