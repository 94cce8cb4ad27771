package media

import (
	"bytes"
	"io"
)

// Source tells how an asset was captured.
type Source int

const (
	SourceUpload Source = iota
	SourceRecording
)

func (s Source) String() string {
	if s == SourceRecording {
		return "recording"
	}
	return "upload"
}

// FormField is the multipart field name the transcription endpoint expects for this source.
func (s Source) FormField() string {
	if s == SourceRecording {
		return "audio"
	}
	return "file"
}

// Asset is a user-supplied or recorded media payload. It is not modified after capture.
type Asset struct {
	Name     string
	MIMEType string
	Size     int64
	Source   Source
	data     []byte
	open     func() (io.ReadCloser, error)
}

// NewAsset wraps an in-memory payload.
func NewAsset(name, mimeType string, source Source, data []byte) Asset {
	return Asset{
		Name:     name,
		MIMEType: mimeType,
		Size:     int64(len(data)),
		Source:   source,
		data:     data,
	}
}

// NewStreamAsset wraps a payload that is re-opened for every read, such as a
// spooled upload. size is the declared byte length.
func NewStreamAsset(name, mimeType string, source Source, size int64, open func() (io.ReadCloser, error)) Asset {
	return Asset{
		Name:     name,
		MIMEType: mimeType,
		Size:     size,
		Source:   source,
		open:     open,
	}
}

// Open returns a fresh reader over the payload.
func (a Asset) Open() (io.ReadCloser, error) {
	if a.open != nil {
		return a.open()
	}
	return io.NopCloser(bytes.NewReader(a.data)), nil
}
