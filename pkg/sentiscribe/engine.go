package sentiscribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/sentiscribe/pkg/adapters/classifier"
	"github.com/harunnryd/sentiscribe/pkg/adapters/stt"
	"github.com/harunnryd/sentiscribe/pkg/adapters/tts"
	"github.com/harunnryd/sentiscribe/pkg/annotate"
	"github.com/harunnryd/sentiscribe/pkg/errorsx"
	"github.com/harunnryd/sentiscribe/pkg/ingest"
	"github.com/harunnryd/sentiscribe/pkg/live"
	"github.com/harunnryd/sentiscribe/pkg/logging"
	"github.com/harunnryd/sentiscribe/pkg/media"
	"github.com/harunnryd/sentiscribe/pkg/metrics"
	"github.com/harunnryd/sentiscribe/pkg/observers"
	"github.com/harunnryd/sentiscribe/pkg/redact"
	"github.com/harunnryd/sentiscribe/pkg/resilience"
	"github.com/harunnryd/sentiscribe/pkg/runner"
	"github.com/harunnryd/sentiscribe/pkg/segment"
	"github.com/harunnryd/sentiscribe/pkg/sentiment"
	"github.com/harunnryd/sentiscribe/pkg/transcript"
)

// Engine wires one live session and one ingestion controller around a shared
// transcript buffer.
type Engine struct {
	cfg       Config
	logger    *slog.Logger
	providers *ProviderRegistry

	buffer      *transcript.Buffer
	live        *live.Session
	ingest      *ingest.Controller
	synthesizer tts.Synthesizer
	classifier  classifier.Classifier
	validator   *media.Validator

	obs      metrics.Observer
	asyncObs *metrics.AsyncObserver
	sinks    *observers.MultiObserver
	runner   *runner.LifecycleRunner

	drainOnce sync.Once
	closeOnce sync.Once
}

type EngineOptions struct {
	Config Config
	// Providers defaults to a registry with the built-ins registered.
	Providers *ProviderRegistry
	// Microphone enables StartRecording/StopRecording.
	Microphone media.Microphone
	// Observers receive every metrics event next to the built-in ones.
	Observers []metrics.Observer
	// MetricsOutput, when set, receives metrics as JSON lines.
	MetricsOutput io.Writer
	Logger        *slog.Logger
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	base := opts.Logger
	if base == nil {
		base = logging.SetDefault(cfg.LogLevel, cfg.LogFormat)
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)
	logger := logging.NewComponentLogger(base, "engine")

	providers := opts.Providers
	if providers == nil {
		providers = NewProviderRegistry()
		RegisterBuiltins(providers, BuiltinOptions{Logger: base})
	}

	logger.Info("sentiscribe_init",
		"environment", cfg.Environment,
		"transcription_provider", cfg.Transcription.Provider,
		"classification_provider", cfg.Classification.Provider,
		"synthesis_provider", cfg.Synthesis.Provider,
		"live_provider", cfg.Live.Provider,
	)

	obsList := []metrics.Observer{
		observers.NewLatencyObserver(base),
		observers.NewLoggerObserver(base),
	}
	if dir := strings.TrimSpace(cfg.Observability.ArtifactsDir); dir != "" {
		if cfg.Observability.RetentionDays > 0 {
			removed, err := observers.PurgeArtifacts(dir, time.Duration(cfg.Observability.RetentionDays)*24*time.Hour)
			if err != nil {
				logger.Warn("artifact_purge_failed", "dir", dir, "error", err)
			} else if removed > 0 {
				logger.Info("artifact_purge", "dir", dir, "removed", removed)
			}
		}
		obsList = append(obsList, observers.NewTimelineObserver(dir))
	}
	if opts.MetricsOutput != nil {
		obsList = append(obsList, metrics.NewJSONLObserver(opts.MetricsOutput))
	}
	obsList = append(obsList, opts.Observers...)
	sinks := observers.NewMultiObserver(obsList...)
	asyncObs := metrics.NewAsyncObserver(sinks, 2048)

	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		providers: providers,
		buffer:    transcript.NewBuffer(),
		obs:       asyncObs,
		asyncObs:  asyncObs,
		sinks:     sinks,
	}
	if err := e.build(opts, base); err != nil {
		asyncObs.Close()
		_ = sinks.Close()
		return nil, err
	}

	hooks := runner.Hooks{
		OnStart: func() {
			logger.Info("engine_ready",
				"live_supported", e.live.Supported(),
				"max_bytes", e.validator.MaxBytes(),
			)
		},
		OnStop: func() {
			e.closeObservers()
			logger.Info("shutdown", "goroutines", runtime.NumGoroutine())
		},
	}
	e.runner = runner.NewLifecycleRunner(e, hooks, 30*time.Second)
	return e, nil
}

func (e *Engine) build(opts EngineOptions, base *slog.Logger) error {
	cfg := e.cfg

	transcriber, err := e.providers.BuildTranscriber(cfg.Transcription.Provider, cfg)
	if err != nil {
		return err
	}
	cls, err := e.providers.BuildClassifier(cfg.Classification.Provider, cfg)
	if err != nil {
		return err
	}
	synth, err := e.providers.BuildSynthesizer(cfg.Synthesis.Provider, cfg)
	if err != nil {
		return err
	}
	recognizer, err := e.providers.BuildRecognizer(cfg.Live.Provider, cfg)
	if err != nil {
		return err
	}
	e.synthesizer = synth
	e.classifier = cls

	annotator := annotate.New(cls)
	annotator.SetPacing(cfg.Annotation.Pacing())
	if cfg.Annotation.BreakerThreshold > 0 {
		annotator.SetBreaker(resilience.NewCircuitBreaker(
			cfg.Annotation.BreakerThreshold,
			time.Duration(cfg.Annotation.BreakerCooldownMS)*time.Millisecond,
		))
	}
	annotator.SetObserver(e.obs)
	annotator.SetLogger(base)

	e.validator = media.NewValidator(cfg.Media.MaxBytes, cfg.Media.AllowedTypes())

	var recorder *media.Recorder
	if opts.Microphone != nil {
		recorder = media.NewRecorder(opts.Microphone)
	}

	var retry resilience.RetryPolicy
	if cfg.Ingest.TranscriptionRetries > 0 {
		retry = resilience.NewRetryPolicy(cfg.Ingest.TranscriptionRetries, time.Duration(cfg.Ingest.RetryBackoffMS)*time.Millisecond)
		// Client errors will not improve on retry.
		retry.Retryable = func(err error) bool { return !errorsx.HasReason(err, errorsx.ReasonInvalidRequest) }
	}

	ctrl, err := ingest.New(ingest.Config{
		Workers:            cfg.Ingest.Workers,
		QueueSize:          cfg.Ingest.QueueSize,
		TranscriptionRetry: retry,
	}, ingest.Deps{
		Transcriber: transcriber,
		Annotator:   annotator,
		Buffer:      e.buffer,
		Validator:   e.validator,
		Segmenter:   segment.New(),
		Recorder:    recorder,
		Observer:    e.obs,
		Logger:      base,
	})
	if err != nil {
		return err
	}
	e.ingest = ctrl

	e.live = live.NewSession(live.Config{
		Recognizer: recognizer,
		Buffer:     e.buffer,
		Settings: stt.Config{
			Language:   cfg.Live.Language,
			Continuous: cfg.Live.Continuous,
			Interim:    cfg.Live.Interim,
		},
		Observer: e.obs,
		Logger:   base,
	})
	return nil
}

// Submit starts a pipeline run for an uploaded asset, superseding any current run.
func (e *Engine) Submit(ctx context.Context, asset media.Asset) (*ingest.PipelineRun, error) {
	return e.ingest.Start(ctx, asset)
}

func (e *Engine) StartRecording(ctx context.Context) error {
	return e.ingest.StartRecording(ctx)
}

// StopRecording ends microphone capture and submits the recording.
func (e *Engine) StopRecording(ctx context.Context) (*ingest.PipelineRun, error) {
	return e.ingest.StopRecording(ctx)
}

// Synthesize renders one segment's text. The sentiment picks a voice preset
// where the provider supports one.
func (e *Engine) Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error) {
	start := time.Now()
	audio, err := e.synthesizer.Synthesize(ctx, req)
	tags := map[string]string{
		"provider":  e.synthesizer.Name(),
		"sentiment": string(req.Sentiment),
	}
	name := "synthesis_completed"
	if err != nil {
		name = "synthesis_failed"
		tags["reason"] = string(errorsx.Reason(err))
	}
	e.obs.RecordEvent(metrics.MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: float64(time.Since(start).Milliseconds()),
		Tags:  tags,
		Fields: map[string]any{
			"bytes": len(audio.Data),
		},
	})
	if err != nil {
		return tts.Audio{}, errorsx.Wrap(err, errorsx.ReasonSynthesis)
	}
	return audio, nil
}

// Classify scores free text with the configured classifier, outside any
// pipeline run.
func (e *Engine) Classify(ctx context.Context, text string) (sentiment.Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return sentiment.Result{}, errorsx.Errorf(errorsx.ReasonInvalidRequest, "text is required")
	}
	start := time.Now()
	res, err := e.classifier.Classify(ctx, text)
	tags := map[string]string{"provider": e.classifier.Name()}
	name := "classification_completed"
	if err != nil {
		name = "classification_failed"
		tags["reason"] = string(errorsx.Reason(err))
	} else {
		tags["label"] = string(res.Label)
		tags["anomaly"] = string(res.Anomaly)
	}
	e.obs.RecordEvent(metrics.MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: float64(time.Since(start).Milliseconds()),
		Tags:  tags,
		Fields: map[string]any{
			"chars": len([]rune(text)),
		},
	})
	if err != nil {
		e.logger.Warn("classification_failed",
			"preview", redact.Preview(text, 40),
			"error", err)
		return sentiment.Result{}, errorsx.Wrap(err, errorsx.ReasonClassification)
	}
	return res, nil
}

// AddListener subscribes l to pipeline notifications.
func (e *Engine) AddListener(l ingest.Listener) { e.ingest.AddListener(l) }

func (e *Engine) Live() *live.Session {
	return e.live
}

func (e *Engine) Ingest() *ingest.Controller {
	return e.ingest
}

func (e *Engine) Buffer() *transcript.Buffer {
	return e.buffer
}

func (e *Engine) Validator() *media.Validator {
	return e.validator
}

func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) ProviderRegistry() *ProviderRegistry {
	return e.providers
}

// Drain stops the live session and detaches the current run. It implements
// runner.Drainer.
func (e *Engine) Drain() error {
	var err error
	e.drainOnce.Do(func() {
		if stopErr := e.live.Stop(); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("stop live session: %w", stopErr))
		}
		e.ingest.Close()
	})
	return err
}

// Run blocks until ctx ends or Stop is called, then drains.
func (e *Engine) Run(ctx context.Context) error {
	return e.runner.Run(ctx)
}

func (e *Engine) Stop() error {
	return e.runner.Stop()
}

// Close drains and flushes observers without going through the runner.
func (e *Engine) Close() error {
	err := e.Drain()
	e.closeObservers()
	return err
}

func (e *Engine) closeObservers() {
	e.closeOnce.Do(func() {
		e.asyncObs.Close()
		if cerr := e.sinks.Close(); cerr != nil {
			e.logger.Warn("observer_close_failed", "error", cerr)
		}
	})
}

var _ runner.Drainer = (*Engine)(nil)
