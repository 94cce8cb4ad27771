package httpapi

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/sentiscribe/pkg/errorsx"
	"github.com/harunnryd/sentiscribe/pkg/logging"
	"github.com/harunnryd/sentiscribe/pkg/resilience"
)

const (
	DefaultTranscriptionPath = "/api/transcribe"
	DefaultClassifyPath      = "/predict"
	DefaultSynthesisPath     = "/api/tts"

	DefaultTranscriptionTimeout = 10 * time.Minute
	DefaultClassifyTimeout      = 30 * time.Second
	DefaultSynthesisTimeout     = 60 * time.Second

	maxErrorBody = 4 << 10
)

// ErrInvalidResponse marks a 2xx response whose body could not be used.
var ErrInvalidResponse = errors.New("invalid response")

// Config describes one remote endpoint.
type Config struct {
	BaseURL string
	Path    string
	Timeout time.Duration
	// Headers are added to every request, e.g. an API key.
	Headers map[string]string
	Client  *http.Client
	Logger  *slog.Logger
}

func (c Config) endpoint(defaultPath string) string {
	path := c.Path
	if path == "" {
		path = defaultPath
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func (c Config) httpClient(defaultTimeout time.Duration) *http.Client {
	if c.Client != nil {
		return c.Client
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

func (c Config) logger(component string) *slog.Logger {
	return logging.NewComponentLogger(c.Logger, component)
}

func (c Config) applyHeaders(req *http.Request) {
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}
}

// StatusError is a non-2xx response from a remote service.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
	Err        error
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s http %d: %s", e.Service, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s http %d", e.Service, e.StatusCode)
}

func (e *StatusError) Unwrap() error { return e.Err }

// checkStatus turns a non-2xx response into a reasoned StatusError. A 429 also
// unwraps to resilience.RateLimitError so breakers can count it.
func checkStatus(service string, resp *http.Response, reason errorsx.ReasonCode) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	se := &StatusError{
		Service:    service,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(b)),
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		se.Err = resilience.RateLimitError{
			Provider:   service,
			Message:    resp.Status,
			RetryAfter: resilience.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}
	return errorsx.Wrap(se, reason)
}

func invalidResponse(format string, args ...any) error {
	return errorsx.Errorf(errorsx.ReasonInvalidResponse, "%w: "+format, append([]any{ErrInvalidResponse}, args...)...)
}

// AsStatusError extracts a *StatusError from err.
func AsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
