package configutil

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Decode checks settings against schema, then decodes them into out. Every
// error is prefixed with path, e.g. "transcription.settings".
func Decode(path string, settings map[string]any, schema Schema, out any) error {
	if err := validate(path, settings, schema); err != nil {
		return err
	}
	if err := DecodeSettings(settings, out); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// DecodeSettings fills out from a loosely typed map. Strings coerce to the
// field type, "150ms" style strings become durations and comma separated
// strings become slices. Field matching uses the same key folding as Schema.
func DecodeSettings(input map[string]any, out any) error {
	if len(input) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		MatchName: func(key, field string) bool { return normalizeKey(key) == normalizeKey(field) },
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// RequireString fails when value is blank.
func RequireString(value, path string) error {
	if strings.TrimSpace(value) != "" {
		return nil
	}
	return fmt.Errorf("%s is required", path)
}

// StringValue trims value, or returns fallback when nothing is left.
func StringValue(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

// Or dereferences an optional setting.
func Or[T any](value *T, fallback T) T {
	if value != nil {
		return *value
	}
	return fallback
}

// Milliseconds reads an optional *_ms setting as a duration.
func Milliseconds(value *int, fallback time.Duration) time.Duration {
	if value == nil {
		return fallback
	}
	return time.Duration(*value) * time.Millisecond
}

// normalizeKey folds case and drops '_' and '-' so api_key, apiKey and
// API-KEY compare equal.
func normalizeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range strings.ToLower(key) {
		if r == '_' || r == '-' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
