// Package api serves the normalization engine over HTTP.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"exchangecatalog/config"
	"exchangecatalog/internal/engine"
	"exchangecatalog/internal/metrics"
	"exchangecatalog/logger"
)

const requestIDHeader = "X-Request-ID"

// Server hosts the catalog API.
type Server struct {
	cfg           config.APIConfig
	engine        *engine.Engine
	recorder      *metrics.Recorder
	log           *logger.Log
	metricStore   *metricStore
	logStore      *logStore
	metricHandler metrics.MetricHandlerID
	httpServer    *http.Server
	version       string
}

// NewServer wires the server to eng. recorder may be nil, in which case
// /metrics is not served.
func NewServer(cfg config.APIConfig, eng *engine.Engine, recorder *metrics.Recorder, log *logger.Log, version string) *Server {
	cfg.Address = normalizeAddress(cfg.Address)
	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 200
	}
	if cfg.MetricsHistory <= 0 {
		cfg.MetricsHistory = 200
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if log == nil {
		log = logger.GetLogger()
	}

	metricStore := newMetricStore(cfg.MetricsHistory)
	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	return &Server{
		cfg:           cfg,
		engine:        eng,
		recorder:      recorder,
		log:           log,
		metricStore:   metricStore,
		logStore:      logStore,
		metricHandler: metrics.RegisterMetricHandler(metricStore.handle),
		version:       version,
	}
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	defer s.Close()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.WithComponent("api").WithFields(logger.Fields{"address": s.cfg.Address}).Info("starting api server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// Close detaches the log hook and metric handler.
func (s *Server) Close() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	s.logStore.close()
}

func (s *Server) Address() string {
	return s.cfg.Address
}

// Router builds the gin engine. Exposed for tests and embedding.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestID(), s.accessLog())
	_ = router.SetTrustedProxies(nil)

	router.GET("/healthz", s.health)
	if s.recorder != nil {
		router.GET("/metrics", gin.WrapH(s.recorder.Handler()))
	}

	v1 := router.Group("/api/v1")
	v1.POST("/normalize/:vendor/:data_type/:source_type", s.normalize)
	v1.POST("/hybrid/:vendor/:data_type", s.hybrid)
	v1.GET("/vendors", s.vendors)
	v1.GET("/coverage/:vendor", s.coverage)
	v1.GET("/report", s.report)
	v1.GET("/cache", s.cacheStats)
	v1.POST("/cache/invalidate", s.invalidate)
	v1.GET("/logs", s.logs)
	v1.GET("/metrics", s.recentMetrics)
	v1.GET("/runtime", s.runtime)

	return router
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := s.log.WithComponent("api").WithFields(logger.Fields{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": float64(time.Since(start).Nanoseconds()) / 1e6,
			"request_id":  c.GetString("request_id"),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request served")
	}
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
