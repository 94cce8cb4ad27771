package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/harunnryd/sentiscribe/pkg/adapters/classifier"
	"github.com/harunnryd/sentiscribe/pkg/errorsx"
	"github.com/harunnryd/sentiscribe/pkg/sentiment"
)

// Classifier posts text to a sentiment endpoint and normalizes the distribution it returns.
type Classifier struct {
	cfg    Config
	url    string
	client *http.Client
	logger *slog.Logger
}

func NewClassifier(cfg Config) *Classifier {
	return &Classifier{
		cfg:    cfg,
		url:    cfg.endpoint(DefaultClassifyPath),
		client: cfg.httpClient(DefaultClassifyTimeout),
		logger: cfg.logger("http_classifier"),
	}
}

func (c *Classifier) Name() string { return "http_classifier" }

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Sentiment     string   `json:"sentiment"`
	Confidence    *float64 `json:"confidence"`
	Probabilities any      `json:"probabilities"`
}

func (c *Classifier) Classify(ctx context.Context, text string) (sentiment.Result, error) {
	payload, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return sentiment.Result{}, errorsx.Wrap(err, errorsx.ReasonClassification)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return sentiment.Result{}, errorsx.Wrap(err, errorsx.ReasonClassification)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.cfg.applyHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return sentiment.Result{}, errorsx.Wrap(err, errorsx.ReasonClassification)
	}
	defer resp.Body.Close()
	if err := checkStatus("classification", resp, errorsx.ReasonClassification); err != nil {
		return sentiment.Result{}, err
	}

	var cr classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return sentiment.Result{}, invalidResponse("decode classification: %v", err)
	}
	raw, ok := cr.Probabilities.([]any)
	if !ok {
		return sentiment.Result{}, invalidResponse("probabilities missing or not an array")
	}
	probs, err := sentiment.Coerce(raw)
	if err != nil {
		return sentiment.Result{}, invalidResponse("%v", err)
	}
	normalized, anomaly := sentiment.Normalize(probs)
	if anomaly != sentiment.AnomalyNone {
		c.logger.Warn("sentiment_distribution_adjusted",
			slog.String("anomaly", string(anomaly)),
			slog.Int("received_len", len(probs)))
	}
	result := sentiment.NewResult(strings.TrimSpace(cr.Sentiment), cr.Confidence, normalized, anomaly)
	c.logger.Debug("classification_done",
		slog.String("label", string(result.Label)),
		slog.Float64("confidence", result.Confidence))
	return result, nil
}

var _ classifier.Classifier = (*Classifier)(nil)
