package httpapi

import (
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/harunnryd/sentiscribe/pkg/adapters/tts"
	"github.com/harunnryd/sentiscribe/pkg/errorsx"
	"github.com/harunnryd/sentiscribe/pkg/sentiment"
)

// ErrEmptyText is returned before any network call when there is nothing to speak.
var ErrEmptyText = errorsx.Wrap(errEmptyText{}, errorsx.ReasonInvalidRequest)

type errEmptyText struct{}

func (errEmptyText) Error() string { return "text is empty" }

// Synthesizer fetches audio for text from a GET endpoint.
type Synthesizer struct {
	cfg    Config
	url    string
	client *http.Client
	logger *slog.Logger
}

func NewSynthesizer(cfg Config) *Synthesizer {
	return &Synthesizer{
		cfg:    cfg,
		url:    cfg.endpoint(DefaultSynthesisPath),
		client: cfg.httpClient(DefaultSynthesisTimeout),
		logger: cfg.logger("http_synthesizer"),
	}
}

func (s *Synthesizer) Name() string { return "http_synthesizer" }

func (s *Synthesizer) Synthesize(ctx context.Context, r tts.Request) (tts.Audio, error) {
	if strings.TrimSpace(r.Text) == "" {
		return tts.Audio{}, ErrEmptyText
	}
	q := url.Values{}
	q.Set("text", r.Text)
	if _, ok := sentiment.ParseLabel(string(r.Sentiment)); ok {
		q.Set("sentiment", string(r.Sentiment))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url+"?"+q.Encode(), nil)
	if err != nil {
		return tts.Audio{}, errorsx.Wrap(err, errorsx.ReasonSynthesis)
	}
	s.cfg.applyHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return tts.Audio{}, errorsx.Wrap(err, errorsx.ReasonSynthesis)
	}
	defer resp.Body.Close()
	if err := checkStatus("synthesis", resp, errorsx.ReasonSynthesis); err != nil {
		return tts.Audio{}, err
	}

	ct := resp.Header.Get("Content-Type")
	if !isAudioType(ct) {
		return tts.Audio{}, invalidResponse("unexpected content type %q", ct)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Audio{}, errorsx.Wrap(err, errorsx.ReasonSynthesis)
	}
	s.logger.Debug("synthesis_done",
		slog.Int("size_bytes", len(data)),
		slog.String("content_type", ct))
	return tts.Audio{ContentType: ct, Data: data}, nil
}

func isAudioType(ct string) bool {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt, "audio/") || mt == "application/octet-stream"
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
