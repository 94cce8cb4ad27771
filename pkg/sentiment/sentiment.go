package sentiment

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/spf13/cast"
)

// Label is a sentiment class.
type Label string

const (
	Positive Label = "positive"
	Neutral  Label = "neutral"
	Negative Label = "negative"
	// Error marks a segment whose classification failed. Never returned by a classifier.
	Error Label = "error"
)

// Labels is the fixed distribution order.
var Labels = []Label{Positive, Neutral, Negative}

// ParseLabel maps free text to a known classifier label.
func ParseLabel(s string) (Label, bool) {
	switch Label(strings.ToLower(strings.TrimSpace(s))) {
	case Positive:
		return Positive, true
	case Neutral:
		return Neutral, true
	case Negative:
		return Negative, true
	}
	return "", false
}

// Anomaly records which recovery Normalize applied.
type Anomaly string

const (
	AnomalyNone          Anomaly = "none"
	AnomalyShapeFallback Anomaly = "shape_fallback"
	AnomalyRenormalized  Anomaly = "renormalized"
)

// Result is the classification of one piece of text.
type Result struct {
	Label         Label
	Confidence    float64
	Probabilities []float64
	Anomaly       Anomaly
}

// SumTolerance is how far a distribution may drift from 1 before it is rescaled.
const SumTolerance = 0.1

var ErrNotNumeric = errors.New("probability is not numeric")

// Degenerate returns the fallback distribution used for malformed shapes.
func Degenerate() []float64 {
	out := make([]float64, len(Labels))
	out[0] = 1
	return out
}

// Normalize enforces the distribution shape. Wrong lengths become the degenerate
// distribution; sums off by more than SumTolerance are rescaled to 1.
func Normalize(p []float64) ([]float64, Anomaly) {
	if len(p) != len(Labels) {
		return Degenerate(), AnomalyShapeFallback
	}
	var sum float64
	for _, v := range p {
		sum += v
	}
	if math.IsNaN(sum) || math.IsInf(sum, 0) || sum == 0 {
		return Degenerate(), AnomalyShapeFallback
	}
	out := make([]float64, len(p))
	if math.Abs(sum-1) <= SumTolerance {
		copy(out, p)
		return out, AnomalyNone
	}
	for i, v := range p {
		out[i] = v / sum
	}
	return out, AnomalyRenormalized
}

// Coerce converts decoded JSON values into floats. Numbers and numeric strings
// are accepted; booleans, nulls and containers are not.
func Coerce(raw []any) ([]float64, error) {
	out := make([]float64, len(raw))
	for i, v := range raw {
		switch v.(type) {
		case nil, bool, map[string]any, []any:
			return nil, fmt.Errorf("%w: index %d has %T", ErrNotNumeric, i, v)
		}
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return nil, fmt.Errorf("%w: index %d: %v", ErrNotNumeric, i, err)
		}
		out[i] = f
	}
	return out, nil
}

// ArgMax returns the label with the highest probability. Ties go to the earlier label.
func ArgMax(p []float64) (Label, float64) {
	best := 0
	for i := 1; i < len(p) && i < len(Labels); i++ {
		if p[i] > p[best] {
			best = i
		}
	}
	if len(p) == 0 {
		return Labels[0], 0
	}
	return Labels[best], p[best]
}

// NewResult assembles a result from a normalized distribution and the
// provider's optional label and confidence.
func NewResult(label string, confidence *float64, probs []float64, anomaly Anomaly) Result {
	argLabel, argConf := ArgMax(probs)
	l, ok := ParseLabel(label)
	if !ok {
		l = argLabel
	}
	c := argConf
	if confidence != nil && !math.IsNaN(*confidence) {
		c = *confidence
	}
	return Result{
		Label:         l,
		Confidence:    clamp01(c),
		Probabilities: probs,
		Anomaly:       anomaly,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
