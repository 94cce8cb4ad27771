package classifier

import (
	"context"

	"github.com/harunnryd/sentiscribe/pkg/sentiment"
)

// Classifier scores the sentiment of a single piece of text.
type Classifier interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Classify returns a normalized result or an error. Implementations make
	// exactly one remote call and do not retry.
	Classify(ctx context.Context, text string) (sentiment.Result, error)
}
