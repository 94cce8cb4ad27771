package sentiscribe

import (
	"fmt"
	"sort"
	"strings"

	"github.com/harunnryd/sentiscribe/pkg/adapters/classifier"
	"github.com/harunnryd/sentiscribe/pkg/adapters/stt"
	"github.com/harunnryd/sentiscribe/pkg/adapters/tts"
)

type TranscriberFactory func(cfg Config) (stt.Transcriber, error)
type ClassifierFactory func(cfg Config) (classifier.Classifier, error)
type SynthesizerFactory func(cfg Config) (tts.Synthesizer, error)
type RecognizerFactory func(cfg Config) (stt.Recognizer, error)

type ProviderRegistry struct {
	transcribers map[string]TranscriberFactory
	classifiers  map[string]ClassifierFactory
	synthesizers map[string]SynthesizerFactory
	recognizers  map[string]RecognizerFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		transcribers: make(map[string]TranscriberFactory),
		classifiers:  make(map[string]ClassifierFactory),
		synthesizers: make(map[string]SynthesizerFactory),
		recognizers:  make(map[string]RecognizerFactory),
	}
}

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *ProviderRegistry) RegisterTranscriber(name string, factory TranscriberFactory) {
	r.transcribers[providerKey(name)] = factory
}

func (r *ProviderRegistry) RegisterClassifier(name string, factory ClassifierFactory) {
	r.classifiers[providerKey(name)] = factory
}

func (r *ProviderRegistry) RegisterSynthesizer(name string, factory SynthesizerFactory) {
	r.synthesizers[providerKey(name)] = factory
}

func (r *ProviderRegistry) RegisterRecognizer(name string, factory RecognizerFactory) {
	r.recognizers[providerKey(name)] = factory
}

func (r *ProviderRegistry) BuildTranscriber(provider string, cfg Config) (stt.Transcriber, error) {
	fn := r.transcribers[providerKey(provider)]
	if fn == nil {
		return nil, fmt.Errorf("transcription provider not registered: %s", provider)
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildClassifier(provider string, cfg Config) (classifier.Classifier, error) {
	fn := r.classifiers[providerKey(provider)]
	if fn == nil {
		return nil, fmt.Errorf("classification provider not registered: %s", provider)
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildSynthesizer(provider string, cfg Config) (tts.Synthesizer, error) {
	fn := r.synthesizers[providerKey(provider)]
	if fn == nil {
		return nil, fmt.Errorf("synthesis provider not registered: %s", provider)
	}
	return fn(cfg)
}

// BuildRecognizer returns nil without error when provider is empty; the live
// session then reports the environment as unsupported.
func (r *ProviderRegistry) BuildRecognizer(provider string, cfg Config) (stt.Recognizer, error) {
	if providerKey(provider) == "" {
		return nil, nil
	}
	fn := r.recognizers[providerKey(provider)]
	if fn == nil {
		return nil, fmt.Errorf("live provider not registered: %s", provider)
	}
	return fn(cfg)
}

// Names lists registered providers per capability, sorted. Used in startup logs.
func (r *ProviderRegistry) Names() map[string][]string {
	return map[string][]string{
		"transcription":  sortedKeys(r.transcribers),
		"classification": sortedKeys(r.classifiers),
		"synthesis":      sortedKeys(r.synthesizers),
		"live":           sortedKeys(r.recognizers),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
