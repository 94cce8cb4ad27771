package sentiscribe

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/harunnryd/sentiscribe/pkg/adapters/classifier"
	"github.com/harunnryd/sentiscribe/pkg/adapters/stt"
	"github.com/harunnryd/sentiscribe/pkg/adapters/tts"
	"github.com/harunnryd/sentiscribe/pkg/configutil"
	"github.com/harunnryd/sentiscribe/pkg/providers/deepgram"
	"github.com/harunnryd/sentiscribe/pkg/providers/elevenlabs"
	"github.com/harunnryd/sentiscribe/pkg/providers/httpapi"
	"github.com/harunnryd/sentiscribe/pkg/providers/mock"
	"github.com/harunnryd/sentiscribe/pkg/sentiment"
)

// BuiltinOptions carries host capabilities the built-in providers cannot read
// from configuration.
type BuiltinOptions struct {
	// AudioSource feeds the deepgram live recognizer. Without it the recognizer
	// reports itself unavailable.
	AudioSource deepgram.AudioSource
	Logger      *slog.Logger
}

type httpSettings struct {
	BaseURL   string            `mapstructure:"base_url"`
	Path      string            `mapstructure:"path"`
	TimeoutMS *int              `mapstructure:"timeout_ms"`
	APIKey    string            `mapstructure:"api_key"`
	Headers   map[string]string `mapstructure:"headers"`
}

var httpSchema = configutil.Schema{
	Required: []string{"base_url"},
	Optional: []string{"path", "timeout_ms", "api_key", "headers"},
}

func (s httpSettings) config(logger *slog.Logger) httpapi.Config {
	headers := make(map[string]string, len(s.Headers)+1)
	for k, v := range s.Headers {
		headers[k] = v
	}
	if strings.TrimSpace(s.APIKey) != "" {
		headers["Authorization"] = "Bearer " + strings.TrimSpace(s.APIKey)
	}
	return httpapi.Config{
		BaseURL: s.BaseURL,
		Path:    s.Path,
		Timeout: configutil.Milliseconds(s.TimeoutMS, 0),
		Headers: headers,
		Logger:  logger,
	}
}

func decodeHTTP(path string, settings map[string]any) (httpSettings, error) {
	var s httpSettings
	if err := configutil.Decode(path, settings, httpSchema, &s); err != nil {
		return s, err
	}
	if err := configutil.RequireString(s.BaseURL, path+".base_url"); err != nil {
		return s, err
	}
	return s, nil
}

type mockTranscriberSettings struct {
	Transcript string   `mapstructure:"transcript"`
	Segments   []string `mapstructure:"segments"`
	DelayMS    *int     `mapstructure:"delay_ms"`
}

type mockClassifierSettings struct {
	Keywords map[string]string `mapstructure:"keywords"`
	Fail     []string          `mapstructure:"fail"`
	DelayMS  *int              `mapstructure:"delay_ms"`
}

type mockSynthesizerSettings struct {
	ContentType string `mapstructure:"content_type"`
}

type mockRecognizerSettings struct {
	Script      []string `mapstructure:"script"`
	IntervalMS  *int     `mapstructure:"interval_ms"`
	Unavailable bool     `mapstructure:"unavailable"`
}

type deepgramSettings struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Language       string `mapstructure:"language"`
	SampleRate     int    `mapstructure:"sample_rate"`
	Encoding       string `mapstructure:"encoding"`
	VADEvents      *bool  `mapstructure:"vad_events"`
	UtteranceEndMS *int   `mapstructure:"utterance_end_ms"`
}

type elevenlabsSettings struct {
	APIKey       string `mapstructure:"api_key"`
	VoiceID      string `mapstructure:"voice_id"`
	ModelID      string `mapstructure:"model_id"`
	OutputFormat string `mapstructure:"output_format"`
	BaseURL      string `mapstructure:"base_url"`
}

// RegisterBuiltins registers the http, mock, deepgram and elevenlabs providers.
func RegisterBuiltins(reg *ProviderRegistry, opts BuiltinOptions) {
	logger := opts.Logger

	reg.RegisterTranscriber("http", func(cfg Config) (stt.Transcriber, error) {
		s, err := decodeHTTP("transcription.settings", cfg.Transcription.Settings)
		if err != nil {
			return nil, err
		}
		return httpapi.NewTranscriber(s.config(logger)), nil
	})
	reg.RegisterClassifier("http", func(cfg Config) (classifier.Classifier, error) {
		s, err := decodeHTTP("classification.settings", cfg.Classification.Settings)
		if err != nil {
			return nil, err
		}
		return httpapi.NewClassifier(s.config(logger)), nil
	})
	reg.RegisterSynthesizer("http", func(cfg Config) (tts.Synthesizer, error) {
		s, err := decodeHTTP("synthesis.settings", cfg.Synthesis.Settings)
		if err != nil {
			return nil, err
		}
		return httpapi.NewSynthesizer(s.config(logger)), nil
	})

	reg.RegisterTranscriber("mock", func(cfg Config) (stt.Transcriber, error) {
		var s mockTranscriberSettings
		if err := configutil.Decode("transcription.settings", cfg.Transcription.Settings, configutil.Schema{
			Optional: []string{"transcript", "segments", "delay_ms"},
		}, &s); err != nil {
			return nil, err
		}
		return mock.NewTranscriber(mock.TranscriberConfig{
			Transcript: s.Transcript,
			Segments:   s.Segments,
			Delay:      configutil.Milliseconds(s.DelayMS, 0),
		}), nil
	})
	reg.RegisterClassifier("mock", func(cfg Config) (classifier.Classifier, error) {
		var s mockClassifierSettings
		if err := configutil.Decode("classification.settings", cfg.Classification.Settings, configutil.Schema{
			Optional: []string{"keywords", "fail", "delay_ms"},
		}, &s); err != nil {
			return nil, err
		}
		keywords := make(map[string]sentiment.Label, len(s.Keywords))
		for word, raw := range s.Keywords {
			label, ok := sentiment.ParseLabel(raw)
			if !ok {
				return nil, fmt.Errorf("classification.settings.keywords.%s: unknown label %q", word, raw)
			}
			keywords[word] = label
		}
		return mock.NewClassifier(mock.ClassifierConfig{
			Keywords: keywords,
			Fail:     s.Fail,
			Delay:    configutil.Milliseconds(s.DelayMS, 0),
		}), nil
	})
	reg.RegisterSynthesizer("mock", func(cfg Config) (tts.Synthesizer, error) {
		var s mockSynthesizerSettings
		if err := configutil.Decode("synthesis.settings", cfg.Synthesis.Settings, configutil.Schema{
			Optional: []string{"content_type"},
		}, &s); err != nil {
			return nil, err
		}
		return mock.NewSynthesizer(mock.SynthesizerConfig{ContentType: s.ContentType}), nil
	})
	reg.RegisterRecognizer("mock", func(cfg Config) (stt.Recognizer, error) {
		var s mockRecognizerSettings
		if err := configutil.Decode("live.settings", cfg.Live.Settings, configutil.Schema{
			Optional: []string{"script", "interval_ms", "unavailable"},
		}, &s); err != nil {
			return nil, err
		}
		return mock.NewRecognizer(mock.RecognizerConfig{
			Script:      s.Script,
			Interim:     cfg.Live.Interim,
			Interval:    configutil.Milliseconds(s.IntervalMS, 0),
			Unavailable: s.Unavailable,
		}), nil
	})

	reg.RegisterRecognizer("deepgram", func(cfg Config) (stt.Recognizer, error) {
		var s deepgramSettings
		if err := configutil.Decode("live.settings", cfg.Live.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "language", "sample_rate", "encoding", "vad_events", "utterance_end_ms"},
		}, &s); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(s.APIKey, "live.settings.api_key"); err != nil {
			return nil, err
		}
		s.Model = configutil.StringValue(s.Model, "nova-2")
		s.Language = configutil.StringValue(s.Language, cfg.Live.Language)
		s.Encoding = configutil.StringValue(s.Encoding, "linear16")
		if !validDeepgramEncoding(s.Encoding) {
			return nil, fmt.Errorf("live.settings.encoding must be one of [linear16, opus], got %s", s.Encoding)
		}
		utteranceEnd := configutil.Or(s.UtteranceEndMS, 1000)
		if utteranceEnd < 0 || utteranceEnd > 5000 {
			return nil, fmt.Errorf("live.settings.utterance_end_ms must be between 0 and 5000, got %d", utteranceEnd)
		}
		return deepgram.New(deepgram.Config{
			APIKey:     s.APIKey,
			Model:      s.Model,
			Language:   s.Language,
			SampleRate: s.SampleRate,
			Encoding:   s.Encoding,
			Interim:    cfg.Live.Interim,
			VADEvents:  configutil.Or(s.VADEvents, true),
			Params:     deepgram.DeepgramParams{UtteranceEndMS: utteranceEnd},
			Source:     opts.AudioSource,
			Logger:     logger,
		}), nil
	})

	reg.RegisterSynthesizer("elevenlabs", func(cfg Config) (tts.Synthesizer, error) {
		var s elevenlabsSettings
		if err := configutil.Decode("synthesis.settings", cfg.Synthesis.Settings, configutil.Schema{
			Required: []string{"api_key", "voice_id"},
			Optional: []string{"model_id", "output_format", "base_url"},
		}, &s); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(s.APIKey, "synthesis.settings.api_key"); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(s.VoiceID, "synthesis.settings.voice_id"); err != nil {
			return nil, err
		}
		return elevenlabs.New(elevenlabs.Config{
			APIKey:       s.APIKey,
			VoiceID:      s.VoiceID,
			ModelID:      configutil.StringValue(s.ModelID, "eleven_multilingual_v2"),
			OutputFormat: s.OutputFormat,
			BaseURL:      s.BaseURL,
			Logger:       logger,
		}), nil
	})
}

func validDeepgramEncoding(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "linear16", "opus":
		return true
	default:
		return false
	}
}
