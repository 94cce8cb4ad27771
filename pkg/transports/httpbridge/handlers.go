package httpbridge

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/harunnryd/sentiscribe/pkg/adapters/tts"
	"github.com/harunnryd/sentiscribe/pkg/errorsx"
	"github.com/harunnryd/sentiscribe/pkg/ingest"
	"github.com/harunnryd/sentiscribe/pkg/live"
	"github.com/harunnryd/sentiscribe/pkg/media"
	"github.com/harunnryd/sentiscribe/pkg/sentiment"
	"github.com/harunnryd/sentiscribe/pkg/transcript"
)

type CreateRunResponse struct {
	RunID string `json:"run_id"`
}

type LiveStatusResponse struct {
	State     string `json:"state"`
	Supported bool   `json:"supported"`
	Text      string `json:"text"`
	Restarts  int    `json:"restarts"`
	Error     string `json:"error,omitempty"`
}

type ClassifyRequest struct {
	Text string `json:"text"`
}

type ClassifyResponse struct {
	Label         string    `json:"label"`
	Confidence    float64   `json:"confidence"`
	Probabilities []float64 `json:"probabilities"`
	Anomaly       string    `json:"anomaly"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func abortJSON(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error(), Reason: string(errorsx.Reason(err))})
}

// createRun accepts a multipart "file" field. The upload is validated before
// it is spooled so rejected media never touches disk.
func (b *Bridge) createRun(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		abortJSON(c, http.StatusBadRequest, errorsx.Errorf(errorsx.ReasonInvalidRequest, "missing file: %w", err))
		return
	}
	name := filepath.Base(fh.Filename)
	mimeType := declaredType(fh.Header.Get("Content-Type"), name)

	path := ""
	if b.backend.Validator().Validate(mimeType, fh.Size) == nil {
		path, err = b.spool(fh)
		if err != nil {
			b.logger.Error("upload_spool_failed", "name", name, "error", err)
			abortJSON(c, http.StatusInternalServerError, err)
			return
		}
	}
	asset := media.NewStreamAsset(name, mimeType, media.SourceUpload, fh.Size, func() (io.ReadCloser, error) {
		if path == "" {
			return nil, errors.New("upload was not retained")
		}
		return os.Open(path)
	})

	run, err := b.backend.Submit(b.runContext(), asset)
	if path != "" {
		if run == nil {
			_ = os.Remove(path)
		} else {
			go func() {
				<-run.Done()
				_ = os.Remove(path)
			}()
		}
	}
	if err != nil {
		abortJSON(c, submitStatus(err), err)
		return
	}
	c.JSON(http.StatusAccepted, CreateRunResponse{RunID: run.ID})
}

func (b *Bridge) spool(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()
	f, err := os.CreateTemp(b.cfg.SpoolDir, "upload-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func submitStatus(err error) int {
	if ve, ok := media.AsValidationError(err); ok {
		if ve.Reason == media.ReasonTooLarge {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusUnsupportedMediaType
	}
	switch {
	case errors.Is(err, transcript.ErrBufferBusy):
		return http.StatusConflict
	case errors.Is(err, ingest.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// declaredType prefers the part's own content type and falls back to the
// file extension when the client sent none or a generic one.
func declaredType(partType, name string) string {
	if mt, _, err := mime.ParseMediaType(partType); err == nil && mt != "application/octet-stream" {
		return mt
	}
	if byExt := media.TypeByExtension(name); byExt != "" {
		return byExt
	}
	return partType
}

func (b *Bridge) classify(c *gin.Context) {
	var req ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortJSON(c, http.StatusBadRequest, errorsx.Errorf(errorsx.ReasonInvalidRequest, "decode request: %w", err))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		abortJSON(c, http.StatusBadRequest, errorsx.Errorf(errorsx.ReasonInvalidRequest, "text is required"))
		return
	}
	res, err := b.backend.Classify(c.Request.Context(), req.Text)
	if err != nil {
		status := http.StatusBadGateway
		if errorsx.HasReason(err, errorsx.ReasonInvalidRequest) {
			status = http.StatusBadRequest
		}
		abortJSON(c, status, err)
		return
	}
	c.JSON(http.StatusOK, ClassifyResponse{
		Label:         string(res.Label),
		Confidence:    res.Confidence,
		Probabilities: res.Probabilities,
		Anomaly:       string(res.Anomaly),
	})
}

func (b *Bridge) synthesize(c *gin.Context) {
	text := strings.TrimSpace(c.Query("text"))
	if text == "" {
		abortJSON(c, http.StatusBadRequest, errorsx.Errorf(errorsx.ReasonInvalidRequest, "text is required"))
		return
	}
	req := tts.Request{Text: text}
	if raw := c.Query("sentiment"); raw != "" {
		label, ok := sentiment.ParseLabel(raw)
		if !ok {
			abortJSON(c, http.StatusBadRequest, errorsx.Errorf(errorsx.ReasonInvalidRequest, "unknown sentiment %q", raw))
			return
		}
		req.Sentiment = label
	}
	audio, err := b.backend.Synthesize(c.Request.Context(), req)
	if err != nil {
		abortJSON(c, http.StatusBadGateway, err)
		return
	}
	c.Data(http.StatusOK, audio.ContentType, audio.Data)
}

func (b *Bridge) liveStatus(c *gin.Context) {
	c.JSON(http.StatusOK, liveStatus(b.backend.Live()))
}

// startLive binds the session to the bridge's context; the request ends long
// before listening does.
func (b *Bridge) startLive(c *gin.Context) {
	s := b.backend.Live()
	if err := s.Start(b.runContext()); err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, live.ErrUnsupportedEnvironment):
			status = http.StatusNotImplemented
		case errors.Is(err, transcript.ErrBufferBusy):
			status = http.StatusConflict
		}
		abortJSON(c, status, err)
		return
	}
	c.JSON(http.StatusOK, liveStatus(s))
}

func (b *Bridge) stopLive(c *gin.Context) {
	s := b.backend.Live()
	if err := s.Stop(); err != nil {
		abortJSON(c, http.StatusBadGateway, err)
		return
	}
	c.JSON(http.StatusOK, liveStatus(s))
}

func liveStatus(s *live.Session) LiveStatusResponse {
	out := LiveStatusResponse{
		State:     s.State().String(),
		Supported: s.Supported(),
		Text:      s.Text(),
		Restarts:  s.Restarts(),
	}
	if err := s.Err(); err != nil {
		out.Error = err.Error()
	}
	return out
}
