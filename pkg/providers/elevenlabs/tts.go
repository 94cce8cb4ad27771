package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/sentiscribe/pkg/adapters/tts"
	"github.com/harunnryd/sentiscribe/pkg/errorsx"
	"github.com/harunnryd/sentiscribe/pkg/logging"
	"github.com/harunnryd/sentiscribe/pkg/resilience"
	"github.com/harunnryd/sentiscribe/pkg/sentiment"
)

const defaultBaseURL = "wss://api.elevenlabs.io"

// VoiceSettings tune delivery for one sentiment preset.
type VoiceSettings struct {
	Stability       float64
	SimilarityBoost float64
	Style           float64
}

type Config struct {
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string
	// BaseURL overrides the websocket host, e.g. for tests.
	BaseURL string
	// Presets select voice settings by sentiment label.
	Presets map[sentiment.Label]VoiceSettings
	Logger  *slog.Logger
}

// Synthesizer renders one utterance per call over the stream-input websocket.
type Synthesizer struct {
	cfg    Config
	logger *slog.Logger
	dialer websocket.Dialer
}

func New(cfg Config) *Synthesizer {
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "mp3_44100_128"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Presets == nil {
		cfg.Presets = DefaultPresets()
	}
	return &Synthesizer{
		cfg:    cfg,
		logger: logging.NewComponentLogger(cfg.Logger, "elevenlabs_tts"),
		dialer: websocket.Dialer{Proxy: http.ProxyFromEnvironment},
	}
}

// DefaultPresets maps each sentiment to a delivery style.
func DefaultPresets() map[sentiment.Label]VoiceSettings {
	return map[sentiment.Label]VoiceSettings{
		sentiment.Positive: {Stability: 0.35, SimilarityBoost: 0.8, Style: 0.6},
		sentiment.Neutral:  {Stability: 0.5, SimilarityBoost: 0.8},
		sentiment.Negative: {Stability: 0.7, SimilarityBoost: 0.75, Style: 0.2},
	}
}

func (s *Synthesizer) Name() string { return "elevenlabs_tts" }

func (s *Synthesizer) Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error) {
	if s.cfg.APIKey == "" || s.cfg.VoiceID == "" {
		return tts.Audio{}, errorsx.Wrap(errors.New("missing elevenlabs config"), errorsx.ReasonSynthesis)
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return tts.Audio{}, errorsx.Wrap(errors.New("text is empty"), errorsx.ReasonInvalidRequest)
	}

	conn, resp, err := s.dialer.DialContext(ctx, s.buildURL(), http.Header{
		"xi-api-key": []string{s.cfg.APIKey},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			s.logger.Error("elevenlabs_rate_limited", slog.String("status", resp.Status))
			return tts.Audio{}, errorsx.Wrap(resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status}, errorsx.ReasonSynthesis)
		}
		s.logger.Error("elevenlabs_connect_failed", slog.String("error", err.Error()))
		return tts.Audio{}, errorsx.Wrap(err, errorsx.ReasonSynthesis)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	preset := s.preset(req.Sentiment)
	messages := []map[string]any{
		{
			"text": " ",
			"voice_settings": map[string]any{
				"stability":        preset.Stability,
				"similarity_boost": preset.SimilarityBoost,
				"style":            preset.Style,
			},
		},
		{"text": text + " ", "try_trigger_generation": true},
		{"text": ""},
	}
	for _, m := range messages {
		if err := conn.WriteJSON(m); err != nil {
			return tts.Audio{}, errorsx.Wrap(err, errorsx.ReasonSynthesis)
		}
	}

	audio, err := s.collect(ctx, conn)
	if err != nil {
		return tts.Audio{}, err
	}
	s.logger.Debug("elevenlabs_synthesis_done",
		slog.Int("size_bytes", len(audio)),
		slog.String("sentiment", string(req.Sentiment)))
	return tts.Audio{ContentType: contentType(s.cfg.OutputFormat), Data: audio}, nil
}

// collect gathers audio chunks until the server marks the stream final or closes it.
func (s *Synthesizer) collect(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	var out []byte
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errorsx.Wrap(ctx.Err(), errorsx.ReasonSynthesis)
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && len(out) > 0 {
				return out, nil
			}
			return nil, errorsx.Wrap(err, errorsx.ReasonSynthesis)
		}
		chunk, final, err := decodeMessage(data)
		if err != nil {
			s.logger.Warn("elevenlabs_message_invalid", slog.String("error", err.Error()))
			continue
		}
		out = append(out, chunk...)
		if final {
			if len(out) == 0 {
				return nil, errorsx.Wrap(errors.New("no audio received"), errorsx.ReasonInvalidResponse)
			}
			return out, nil
		}
	}
}

func decodeMessage(data []byte) ([]byte, bool, error) {
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, false, err
	}
	final, _ := msg["isFinal"].(bool)
	audio, ok := msg["audio"].(string)
	if !ok {
		if a, ok := msg["audio_base_64"].(string); ok {
			audio = a
		} else if a, ok := msg["audio_base64"].(string); ok {
			audio = a
		}
	}
	if audio == "" {
		return nil, final, nil
	}
	raw, err := base64.StdEncoding.DecodeString(audio)
	if err != nil {
		return nil, final, err
	}
	return raw, final, nil
}

func (s *Synthesizer) preset(label sentiment.Label) VoiceSettings {
	if p, ok := s.cfg.Presets[label]; ok {
		return p
	}
	return s.cfg.Presets[sentiment.Neutral]
}

func (s *Synthesizer) buildURL() string {
	base := strings.TrimRight(s.cfg.BaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(s.cfg.VoiceID) + "/stream-input"
	q := url.Values{}
	if s.cfg.ModelID != "" {
		q.Set("model_id", s.cfg.ModelID)
	}
	if s.cfg.OutputFormat != "" {
		q.Set("output_format", s.cfg.OutputFormat)
	}
	return base + "?" + q.Encode()
}

func contentType(format string) string {
	switch {
	case strings.HasPrefix(format, "mp3"):
		return "audio/mpeg"
	case strings.HasPrefix(format, "pcm"):
		return "audio/L16"
	case strings.HasPrefix(format, "ulaw"):
		return "audio/basic"
	default:
		return "application/octet-stream"
	}
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
