package configutil

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateSettingsNormalizesKeys(t *testing.T) {
	err := ValidateSettings(map[string]any{"baseURL": "http://x", "Timeout-MS": 10}, Schema{
		Required: []string{"base_url"},
		Optional: []string{"timeout_ms"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateSettingsReportsMissingAndUnknown(t *testing.T) {
	err := ValidateSettings(map[string]any{"api_key": " ", "colour": "red"}, Schema{
		Required: []string{"api_key", "voice_id"},
	})
	var se *SettingsError
	if !errors.As(err, &se) {
		t.Fatalf("expected SettingsError, got %v", err)
	}
	if strings.Join(se.Missing, ",") != "api_key,voice_id" || strings.Join(se.Unknown, ",") != "colour" {
		t.Fatalf("unexpected error fields %+v", se)
	}
}

func TestDecodePrefixesPath(t *testing.T) {
	var out struct{}
	err := Decode("synthesis.settings", map[string]any{}, Schema{Required: []string{"base_url"}}, &out)
	if err == nil || !strings.HasPrefix(err.Error(), "synthesis.settings: missing: base_url") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestDecodeSettingsCoercesValues(t *testing.T) {
	var out struct {
		BaseURL   string        `mapstructure:"base_url"`
		TimeoutMS *int          `mapstructure:"timeout_ms"`
		Interim   *bool         `mapstructure:"interim"`
		Delay     time.Duration `mapstructure:"delay"`
	}
	err := Decode("x", map[string]any{
		"base_url":   "http://localhost:5000",
		"timeout_ms": "2500",
		"interim":    "false",
		"delay":      "150ms",
	}, Schema{Optional: []string{"base_url", "timeout_ms", "interim", "delay"}}, &out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.BaseURL != "http://localhost:5000" || out.Delay != 150*time.Millisecond {
		t.Fatalf("unexpected decode %+v", out)
	}
	if Milliseconds(out.TimeoutMS, time.Second) != 2500*time.Millisecond {
		t.Fatalf("expected 2500ms timeout")
	}
	if Or(out.Interim, true) {
		t.Fatalf("expected interim false")
	}
}

func TestFallbackHelpers(t *testing.T) {
	if Milliseconds(nil, time.Second) != time.Second || Or[int](nil, 7) != 7 || StringValue("  ", "zh-CN") != "zh-CN" {
		t.Fatalf("fallbacks not applied")
	}
	if err := RequireString("", "live.settings.api_key"); err == nil {
		t.Fatalf("expected required error")
	}
}

func TestDecodeSettingsSplitsCommaLists(t *testing.T) {
	var out struct {
		Script []string `mapstructure:"script"`
	}
	if err := DecodeSettings(map[string]any{"Script": "你好,再见"}, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Script) != 2 || out.Script[1] != "再见" {
		t.Fatalf("unexpected script %v", out.Script)
	}
}
