// Package httpbridge exposes an engine over HTTP. Uploads and live control
// are plain JSON endpoints; pipeline and live progress stream out as
// server-sent events.
package httpbridge

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/donovanhide/eventsource"
	"github.com/gin-gonic/gin"

	"github.com/harunnryd/sentiscribe/pkg/adapters/tts"
	"github.com/harunnryd/sentiscribe/pkg/ingest"
	"github.com/harunnryd/sentiscribe/pkg/live"
	"github.com/harunnryd/sentiscribe/pkg/logging"
	"github.com/harunnryd/sentiscribe/pkg/media"
	"github.com/harunnryd/sentiscribe/pkg/sentiment"
	"github.com/harunnryd/sentiscribe/pkg/transports"
)

// Backend is the part of the engine the bridge drives.
type Backend interface {
	Submit(ctx context.Context, asset media.Asset) (*ingest.PipelineRun, error)
	Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error)
	Classify(ctx context.Context, text string) (sentiment.Result, error)
	AddListener(l ingest.Listener)
	Live() *live.Session
	Validator() *media.Validator
}

type Config struct {
	Addr string
	// SpoolDir holds uploads while their run is in flight. Defaults to os.TempDir.
	SpoolDir string
	Logger   *slog.Logger
}

type Bridge struct {
	cfg     Config
	backend Backend
	logger  *slog.Logger
	events  *eventsource.Server
	pub     *publisher
	router  *gin.Engine

	mu        sync.Mutex
	server    *http.Server
	listener  net.Listener
	baseCtx   context.Context
	closeOnce sync.Once
}

func New(cfg Config, backend Backend) *Bridge {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	logger := logging.NewComponentLogger(cfg.Logger, "httpbridge")
	srv := eventsource.NewServer()
	srv.AllowCORS = true
	b := &Bridge{
		cfg:     cfg,
		backend: backend,
		logger:  logger,
		events:  srv,
		pub:     newPublisher(srv),
		baseCtx: context.Background(),
	}
	backend.AddListener(b.pub)
	if s := backend.Live(); s != nil {
		s.AddListener(b.pub)
		s.AddFragmentListener(b.pub)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))
	b.RegisterRoutes(r)
	b.router = r
	return b
}

func (b *Bridge) RegisterRoutes(g *gin.Engine) {
	g.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	g.GET("/v1/events", gin.WrapF(b.events.Handler(eventsChannel)))

	v1 := g.Group("/v1")
	v1.POST("/runs", b.createRun)
	v1.POST("/classification", b.classify)
	v1.GET("/synthesis", b.synthesize)
	v1.GET("/live", b.liveStatus)
	v1.POST("/live/start", b.startLive)
	v1.POST("/live/stop", b.stopLive)
}

// Handler returns the routed handler without starting a listener.
func (b *Bridge) Handler() http.Handler { return b.router }

func (b *Bridge) Name() string { return "httpbridge" }

func (b *Bridge) ReadyFields() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	addr := b.cfg.Addr
	if b.listener != nil {
		addr = b.listener.Addr().String()
	}
	return map[string]any{"addr": addr}
}

// Start listens on the configured address and serves until Stop or ctx ends.
// Runs submitted over HTTP live on ctx rather than on their request.
func (b *Bridge) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ln, err := net.Listen("tcp", b.cfg.Addr)
	if err != nil {
		return err
	}
	server := &http.Server{
		Handler:           b.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	b.mu.Lock()
	b.baseCtx = ctx
	b.server = server
	b.listener = ln
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.logger.Error("httpbridge_server_error", "error", err.Error())
		}
	}()
	b.logger.Info("httpbridge_listening", "addr", ln.Addr().String())
	return nil
}

func (b *Bridge) Stop() error {
	// Event streams never finish on their own; closing the event server ends
	// them so Shutdown can return.
	b.closeOnce.Do(b.events.Close)
	b.mu.Lock()
	server := b.server
	b.mu.Unlock()
	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func (b *Bridge) runContext() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.baseCtx
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/v1/events" {
			return
		}
		logger.Debug("http_request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	}
}

var (
	_ transports.Transport     = (*Bridge)(nil)
	_ transports.ReadyReporter = (*Bridge)(nil)
)
