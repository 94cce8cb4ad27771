package sentiscribe

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/harunnryd/sentiscribe/pkg/media"
)

type Config struct {
	Media          MediaConfig         `mapstructure:"media"`
	Transcription  ProviderConfig      `mapstructure:"transcription"`
	Classification ProviderConfig      `mapstructure:"classification"`
	Synthesis      ProviderConfig      `mapstructure:"synthesis"`
	Live           LiveConfig          `mapstructure:"live"`
	Annotation     AnnotationConfig    `mapstructure:"annotation"`
	Ingest         IngestConfig        `mapstructure:"ingest"`
	Server         ServerConfig        `mapstructure:"server"`
	Observability  ObservabilityConfig `mapstructure:"observability"`
	Privacy        PrivacyConfig       `mapstructure:"privacy"`
	Environment    string              `mapstructure:"environment"`
	LogLevel       string              `mapstructure:"log_level"`
	LogFormat      string              `mapstructure:"log_format"`
}

// ProviderConfig names a registered provider and carries its free-form settings.
type ProviderConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type MediaConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes"`
	// ExtraTypes extend the default upload allow-list.
	ExtraTypes []string `mapstructure:"extra_types"`
}

// AllowedTypes returns the default allow-list plus any configured extras.
func (m MediaConfig) AllowedTypes() []string {
	out := append([]string{}, media.DefaultAllowed...)
	for _, t := range m.ExtraTypes {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

type LiveConfig struct {
	// Provider may be empty, in which case live recognition is unsupported.
	Provider   string         `mapstructure:"provider"`
	Settings   map[string]any `mapstructure:"settings"`
	Language   string         `mapstructure:"language"`
	Interim    bool           `mapstructure:"interim"`
	Continuous bool           `mapstructure:"continuous"`
}

type AnnotationConfig struct {
	PacingMS          int `mapstructure:"pacing_ms"`
	BreakerThreshold  int `mapstructure:"breaker_threshold"`
	BreakerCooldownMS int `mapstructure:"breaker_cooldown_ms"`
}

func (a AnnotationConfig) Pacing() time.Duration {
	return time.Duration(a.PacingMS) * time.Millisecond
}

type IngestConfig struct {
	Workers              int `mapstructure:"workers"`
	QueueSize            int `mapstructure:"queue_size"`
	TranscriptionRetries int `mapstructure:"transcription_retries"`
	RetryBackoffMS       int `mapstructure:"retry_backoff_ms"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type ObservabilityConfig struct {
	ArtifactsDir  string `mapstructure:"artifacts_dir"`
	RetentionDays int    `mapstructure:"retention_days"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

// DefaultConfig returns the configuration LoadConfig starts from, with the mock
// providers selected so it validates as-is.
func DefaultConfig() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	cfg.Transcription.Provider = "mock"
	cfg.Classification.Provider = "mock"
	cfg.Synthesis.Provider = "mock"
	cfg.Live.Provider = "mock"
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("media.max_bytes", media.MaxBytes)
	v.SetDefault("live.language", "zh-CN")
	v.SetDefault("live.interim", true)
	v.SetDefault("live.continuous", true)
	v.SetDefault("annotation.pacing_ms", 300)
	v.SetDefault("annotation.breaker_threshold", 3)
	v.SetDefault("annotation.breaker_cooldown_ms", 10000)
	v.SetDefault("ingest.workers", 4)
	v.SetDefault("ingest.queue_size", 256)
	v.SetDefault("ingest.transcription_retries", 0)
	v.SetDefault("ingest.retry_backoff_ms", 500)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("observability.artifacts_dir", "")
	v.SetDefault("observability.retention_days", 0)
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Transcription.Provider) == "" {
		return fmt.Errorf("transcription.provider is required")
	}
	if strings.TrimSpace(c.Classification.Provider) == "" {
		return fmt.Errorf("classification.provider is required")
	}
	if strings.TrimSpace(c.Synthesis.Provider) == "" {
		return fmt.Errorf("synthesis.provider is required")
	}
	if c.Media.MaxBytes <= 0 {
		return fmt.Errorf("media.max_bytes must be positive")
	}
	if c.Annotation.PacingMS < 0 {
		return fmt.Errorf("annotation.pacing_ms must not be negative")
	}
	if c.Annotation.BreakerThreshold < 0 {
		return fmt.Errorf("annotation.breaker_threshold must not be negative")
	}
	if c.Ingest.TranscriptionRetries < 0 {
		return fmt.Errorf("ingest.transcription_retries must not be negative")
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Transcription.Settings = expandSettings(cfg.Transcription.Settings)
	cfg.Classification.Settings = expandSettings(cfg.Classification.Settings)
	cfg.Synthesis.Settings = expandSettings(cfg.Synthesis.Settings)
	cfg.Live.Settings = expandSettings(cfg.Live.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

// expandValue walks typed fields. Settings maps hold interface values and are
// handled by expandSettings instead.
func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
