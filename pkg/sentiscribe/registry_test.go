package sentiscribe

import (
	"strings"
	"testing"

	"github.com/harunnryd/sentiscribe/pkg/adapters/stt"
	"github.com/harunnryd/sentiscribe/pkg/providers/deepgram"
	"github.com/harunnryd/sentiscribe/pkg/providers/elevenlabs"
	"github.com/harunnryd/sentiscribe/pkg/providers/httpapi"
)

func builtins() *ProviderRegistry {
	reg := NewProviderRegistry()
	RegisterBuiltins(reg, BuiltinOptions{})
	return reg
}

func TestRegistryLooksUpCaseInsensitive(t *testing.T) {
	cfg := DefaultConfig()
	tr, err := builtins().BuildTranscriber(" Mock ", cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if tr.Name() != "mock_transcriber" {
		t.Fatalf("unexpected transcriber %s", tr.Name())
	}
	if _, err := builtins().BuildClassifier("nope", cfg); err == nil || !strings.Contains(err.Error(), "not registered") {
		t.Fatalf("expected unregistered error, got %v", err)
	}
}

func TestRegistryNames(t *testing.T) {
	names := builtins().Names()
	if strings.Join(names["synthesis"], ",") != "elevenlabs,http,mock" {
		t.Fatalf("unexpected synthesis providers %v", names["synthesis"])
	}
	if strings.Join(names["live"], ",") != "deepgram,mock" {
		t.Fatalf("unexpected live providers %v", names["live"])
	}
}

func TestHTTPProvidersRequireBaseURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Classification = ProviderConfig{Provider: "http", Settings: map[string]any{"timeout_ms": 100}}
	_, err := builtins().BuildClassifier("http", cfg)
	if err == nil || !strings.Contains(err.Error(), "classification.settings: missing: base_url") {
		t.Fatalf("expected missing base_url, got %v", err)
	}

	cfg.Classification.Settings = map[string]any{"base_url": "http://localhost:5000", "api_key": "k"}
	c, err := builtins().BuildClassifier("http", cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := c.(*httpapi.Classifier); !ok {
		t.Fatalf("expected http classifier, got %T", c)
	}
}

func TestUnknownSettingRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Synthesis = ProviderConfig{Provider: "mock", Settings: map[string]any{"voice": "x"}}
	if _, err := builtins().BuildSynthesizer("mock", cfg); err == nil || !strings.Contains(err.Error(), "unknown: voice") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestMockClassifierKeywordLabels(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Classification.Settings = map[string]any{"keywords": map[string]any{"好": "positive", "坏": "angry"}}
	if _, err := builtins().BuildClassifier("mock", cfg); err == nil || !strings.Contains(err.Error(), "unknown label") {
		t.Fatalf("expected unknown label error, got %v", err)
	}
}

func TestDeepgramRecognizerSettings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Live = LiveConfig{Provider: "deepgram", Language: "zh-CN", Interim: true, Settings: map[string]any{}}
	if _, err := builtins().BuildRecognizer("deepgram", cfg); err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Fatalf("expected api_key error, got %v", err)
	}

	cfg.Live.Settings = map[string]any{"api_key": "k", "encoding": "mulaw"}
	if _, err := builtins().BuildRecognizer("deepgram", cfg); err == nil || !strings.Contains(err.Error(), "encoding") {
		t.Fatalf("expected encoding error, got %v", err)
	}

	cfg.Live.Settings = map[string]any{"api_key": "k"}
	r, err := builtins().BuildRecognizer("deepgram", cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := r.(*deepgram.Recognizer); !ok {
		t.Fatalf("expected deepgram recognizer, got %T", r)
	}
	if ar, ok := r.(stt.AvailabilityReporter); !ok || ar.Available() {
		t.Fatalf("recognizer without audio source must report unavailable")
	}
}

func TestEmptyLiveProviderBuildsNothing(t *testing.T) {
	r, err := builtins().BuildRecognizer("", DefaultConfig())
	if err != nil || r != nil {
		t.Fatalf("expected nil recognizer, got %v %v", r, err)
	}
}

func TestElevenLabsRequiresVoice(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Synthesis = ProviderConfig{Provider: "elevenlabs", Settings: map[string]any{"api_key": "k"}}
	if _, err := builtins().BuildSynthesizer("elevenlabs", cfg); err == nil || !strings.Contains(err.Error(), "voice_id") {
		t.Fatalf("expected voice_id error, got %v", err)
	}
	cfg.Synthesis.Settings["voice_id"] = "v1"
	s, err := builtins().BuildSynthesizer("elevenlabs", cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := s.(*elevenlabs.Synthesizer); !ok {
		t.Fatalf("expected elevenlabs synthesizer, got %T", s)
	}
}
