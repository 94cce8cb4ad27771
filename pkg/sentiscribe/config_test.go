package sentiscribe

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/sentiscribe/pkg/media"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaultsAndEnv(t *testing.T) {
	t.Setenv("SENTI_TOKEN", "secret-token")
	t.Setenv("ARTIFACTS", "/tmp/runs")
	path := writeConfig(t, `
transcription:
  provider: http
  settings:
    base_url: http://localhost:5000
    api_key: ${SENTI_TOKEN}
classification:
  provider: MOCK
synthesis:
  provider: mock
media:
  extra_types: [audio/webm]
observability:
  artifacts_dir: ${ARTIFACTS}
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Transcription.Settings["api_key"]; got != "secret-token" {
		t.Fatalf("expected expanded api key, got %v", got)
	}
	if cfg.Observability.ArtifactsDir != "/tmp/runs" {
		t.Fatalf("expected expanded artifacts dir, got %q", cfg.Observability.ArtifactsDir)
	}
	if cfg.Live.Language != "zh-CN" || !cfg.Live.Interim || !cfg.Live.Continuous {
		t.Fatalf("unexpected live defaults %+v", cfg.Live)
	}
	if cfg.Annotation.Pacing() != 300*time.Millisecond {
		t.Fatalf("expected 300ms pacing, got %v", cfg.Annotation.Pacing())
	}
	if cfg.Ingest.TranscriptionRetries != 0 || cfg.Ingest.Workers != 4 {
		t.Fatalf("unexpected ingest defaults %+v", cfg.Ingest)
	}
	if cfg.Media.MaxBytes != media.MaxBytes {
		t.Fatalf("expected 1 GiB ceiling, got %d", cfg.Media.MaxBytes)
	}
	allowed := cfg.Media.AllowedTypes()
	if allowed[len(allowed)-1] != "audio/webm" || len(allowed) != len(media.DefaultAllowed)+1 {
		t.Fatalf("unexpected allow-list %v", allowed)
	}
	if !cfg.Privacy.RedactPII {
		t.Fatalf("redaction should default on")
	}
}

func TestLoadConfigRequiresProviders(t *testing.T) {
	path := writeConfig(t, `
transcription:
  provider: mock
classification:
  provider: mock
`)
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "synthesis.provider is required") {
		t.Fatalf("expected synthesis provider error, got %v", err)
	}
}

func TestValidateRejectsNegativeValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Annotation.PacingMS = -1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected pacing error")
	}
	cfg = DefaultConfig()
	cfg.Ingest.TranscriptionRetries = -2
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected retries error")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
}
