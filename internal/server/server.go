// Package server exposes citation graph builds over HTTP: a streaming
// endpoint reporting progress as server-sent events, a blocking endpoint
// returning the finished graph, and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/latebit/citegraph/internal/crawl"
	"github.com/latebit/citegraph/internal/graph"
	"github.com/latebit/citegraph/internal/metrics"
	"github.com/latebit/citegraph/internal/ratelimit"
)

const shutdownTimeout = 5 * time.Second

// Options configures a Server.
type Options struct {
	// AllowedOrigins lists the CORS origins; "*" allows any.
	AllowedOrigins []string

	// RequestsPerSecond limits analysis requests per client IP; zero disables it.
	RequestsPerSecond float64
	Burst             int

	// Metrics, when set, observes every build. Gatherer serves /metrics
	// (default: prometheus.DefaultGatherer).
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

// Server is the citegraph HTTP API.
type Server struct {
	collab  crawl.Collaborators
	opts    crawl.Options
	metrics *metrics.Metrics
	limiter *ratelimit.Limiter
	log     *slog.Logger
	engine  *gin.Engine
}

// New returns a Server building graphs with collab and opts.
func New(collab crawl.Collaborators, opts crawl.Options, o Options) *Server {
	log := o.Logger
	if log == nil {
		log = slog.Default()
	}
	if o.Gatherer == nil {
		o.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{collab: collab, opts: opts, metrics: o.Metrics, log: log}
	if o.RequestsPerSecond > 0 {
		s.limiter = ratelimit.New(o.RequestsPerSecond, max(o.Burst, 1))
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog(), cors(o.AllowedOrigins))

	r.GET("/health", health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(o.Gatherer, promhttp.HandlerOpts{})))

	analysis := r.Group("/", s.rateLimit())
	analysis.POST("/analyze", s.analyze)
	analysis.POST("/quick-analyze", s.quickAnalyze)

	s.engine = r
	return s
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("citegraph api listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// build runs one graph build notifying extra listeners besides the
// configured ones.
func (s *Server) build(ctx context.Context, rootURL string, extra ...graph.Listener) (*graph.Graph, error) {
	collab := s.collab
	collab.Listeners = append(slices.Clone(s.collab.Listeners), extra...)
	if s.metrics != nil {
		collab.Listeners = append(collab.Listeners, s.metrics.Observer())
	}

	start := time.Now()
	g, err := crawl.New(collab, s.opts).Build(ctx, rootURL)
	if s.metrics != nil {
		s.metrics.ObserveBuild(start, err)
	}
	return g, err
}

func health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter != nil && !s.limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// cors allows GET, POST and OPTIONS from the given origins. Preflight
// requests are answered with 204.
func cors(origins []string) gin.HandlerFunc {
	allowAll := slices.Contains(origins, "*")
	return func(c *gin.Context) {
		origin := strings.TrimSpace(c.GetHeader("Origin"))
		if origin != "" && (allowAll || slices.Contains(origins, origin)) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type")
			c.Header("Access-Control-Expose-Headers", sessionHeader)
			c.Header("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
