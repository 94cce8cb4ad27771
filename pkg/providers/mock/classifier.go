package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/sentiscribe/pkg/adapters/classifier"
	"github.com/harunnryd/sentiscribe/pkg/sentiment"
)

type ClassifierConfig struct {
	// Keywords map a substring to the label returned when it appears.
	Keywords map[string]sentiment.Label
	// Fail lists texts that produce Err.
	Fail  []string
	Err   error
	Delay time.Duration
}

// Classifier is a keyword-driven sentiment classifier.
type Classifier struct {
	cfg ClassifierConfig

	mu    sync.Mutex
	texts []string
	// Hook, when set, replaces the keyword logic.
	Hook func(ctx context.Context, text string) (sentiment.Result, error)
}

func NewClassifier(cfg ClassifierConfig) *Classifier {
	if cfg.Err == nil {
		cfg.Err = errMockClassify
	}
	return &Classifier{cfg: cfg}
}

type mockError string

func (e mockError) Error() string { return string(e) }

const errMockClassify = mockError("mock classification failure")

func (c *Classifier) Name() string { return "mock_classifier" }

func (c *Classifier) Classify(ctx context.Context, text string) (sentiment.Result, error) {
	c.mu.Lock()
	c.texts = append(c.texts, text)
	hook := c.Hook
	c.mu.Unlock()
	if hook != nil {
		return hook(ctx, text)
	}
	if c.cfg.Delay > 0 {
		select {
		case <-time.After(c.cfg.Delay):
		case <-ctx.Done():
			return sentiment.Result{}, ctx.Err()
		}
	}
	for _, f := range c.cfg.Fail {
		if f == text {
			return sentiment.Result{}, c.cfg.Err
		}
	}
	label := sentiment.Neutral
	for kw, l := range c.cfg.Keywords {
		if strings.Contains(text, kw) {
			label = l
			break
		}
	}
	return Result(label), nil
}

// Texts returns the texts classified so far, in call order.
func (c *Classifier) Texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

// Result builds a confident result for label.
func Result(label sentiment.Label) sentiment.Result {
	probs := make([]float64, len(sentiment.Labels))
	for i, l := range sentiment.Labels {
		if l == label {
			probs[i] = 0.8
		} else {
			probs[i] = 0.1
		}
	}
	return sentiment.Result{Label: label, Confidence: 0.8, Probabilities: probs, Anomaly: sentiment.AnomalyNone}
}

var _ classifier.Classifier = (*Classifier)(nil)
