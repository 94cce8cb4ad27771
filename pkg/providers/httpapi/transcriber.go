package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/harunnryd/sentiscribe/pkg/adapters/stt"
	"github.com/harunnryd/sentiscribe/pkg/errorsx"
	"github.com/harunnryd/sentiscribe/pkg/media"
	"github.com/harunnryd/sentiscribe/pkg/redact"
	"github.com/harunnryd/sentiscribe/pkg/transcript"
)

// Transcriber uploads media to a transcription endpoint as multipart form data.
type Transcriber struct {
	cfg    Config
	url    string
	client *http.Client
	logger *slog.Logger
}

func NewTranscriber(cfg Config) *Transcriber {
	return &Transcriber{
		cfg:    cfg,
		url:    cfg.endpoint(DefaultTranscriptionPath),
		client: cfg.httpClient(DefaultTranscriptionTimeout),
		logger: cfg.logger("http_transcriber"),
	}
}

func (t *Transcriber) Name() string { return "http_transcriber" }

type transcriptionResponse struct {
	Transcript string            `json:"transcript"`
	Text       string            `json:"text"`
	Segments   []json.RawMessage `json:"segments"`
}

func (t *Transcriber) Transcribe(ctx context.Context, asset media.Asset) (transcript.Transcript, error) {
	body, err := asset.Open()
	if err != nil {
		return transcript.Transcript{}, errorsx.Wrap(err, errorsx.ReasonTranscription)
	}
	defer body.Close()

	pr, pw := io.Pipe()
	defer pr.Close()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeMultipart(mw, asset, body))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, pr)
	if err != nil {
		return transcript.Transcript{}, errorsx.Wrap(err, errorsx.ReasonTranscription)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	t.cfg.applyHeaders(req)

	start := time.Now()
	t.logger.Info("transcription_upload_started",
		slog.String("name", asset.Name),
		slog.String("mime_type", asset.MIMEType),
		slog.Int64("size_bytes", asset.Size),
		slog.String("source", asset.Source.String()))

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Error("transcription_request_failed", slog.String("error", err.Error()))
		return transcript.Transcript{}, errorsx.Wrap(err, errorsx.ReasonTranscription)
	}
	defer resp.Body.Close()
	if err := checkStatus("transcription", resp, errorsx.ReasonTranscription); err != nil {
		t.logger.Warn("transcription_rejected",
			slog.Int("status", resp.StatusCode),
			slog.String("error", err.Error()))
		return transcript.Transcript{}, err
	}

	var tr transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return transcript.Transcript{}, invalidResponse("decode transcription: %v", err)
	}
	segments, err := decodeSegments(tr.Segments)
	if err != nil {
		return transcript.Transcript{}, err
	}
	text := tr.Transcript
	if strings.TrimSpace(text) == "" {
		text = tr.Text
	}
	out := transcript.New(text, segments)

	t.logger.Info("transcription_done",
		slog.Int64("latency_ms", time.Since(start).Milliseconds()),
		slog.Int("segments", len(out.Segments)),
		slog.String("preview", redact.Preview(text, 48)))
	return out, nil
}

func writeMultipart(mw *multipart.Writer, asset media.Asset, body io.Reader) error {
	name := asset.Name
	if name == "" {
		name = "upload"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		asset.Source.FormField(), escapeQuotes(name)))
	ct := asset.MIMEType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, body); err != nil {
		return err
	}
	return mw.Close()
}

// decodeSegments accepts plain strings or objects with a text field.
func decodeSegments(raw []json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(raw))
	for i, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			out = append(out, s)
			continue
		}
		var obj struct {
			Text *string `json:"text"`
		}
		if err := json.Unmarshal(r, &obj); err != nil || obj.Text == nil {
			return nil, invalidResponse("segment %d is neither a string nor an object with text", i)
		}
		out = append(out, *obj.Text)
	}
	return out, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

var _ stt.Transcriber = (*Transcriber)(nil)
