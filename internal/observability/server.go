package observability

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the ops endpoints: liveness, readiness, and metrics.
// It is separate from any product-facing API and safe to bind on an
// internal port.
type Server struct {
	addr        string
	metricsPath string
	obs         *Observability
	logger      *slog.Logger

	okapi  *okapi.Okapi
	server *http.Server
}

// NewServer creates the ops server. obs may be nil; endpoints then
// report a bare "ok" with no metrics route.
func NewServer(addr, metricsPath string, obs *Observability, logger *slog.Logger) *Server {
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	return &Server{
		addr:        addr,
		metricsPath: metricsPath,
		obs:         obs,
		logger:      logger,
		okapi:       okapi.New(),
	}
}

// Start blocks serving the ops endpoints until Stop or a listener
// error.
func (s *Server) Start(ctx context.Context) error {
	s.okapi.Get("/healthz", s.handleLiveness)
	s.okapi.Get("/readyz", s.handleReadiness)

	if reg := s.obs.MetricsRegistry(); reg != nil {
		s.okapi.HandleStd("GET", s.metricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP)
	}

	s.server = &http.Server{
		Addr:              s.addr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	s.logger.Info("ops server starting", slog.String("addr", s.addr))
	return s.okapi.StartServer(s.server)
}

// Stop gracefully shuts down the ops server.
func (s *Server) Stop(_ context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("ops server stopping")
	return s.okapi.Shutdown(s.server)
}

func (s *Server) handleLiveness(c *okapi.Context) error {
	if s.obs == nil || s.obs.Health == nil {
		return c.OK(&LivenessStatus{Status: "ok"})
	}
	st := s.obs.Health.Liveness()
	return c.OK(&st)
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (s *Server) handleReadiness(c *okapi.Context) error {
	if s.obs == nil || s.obs.Health == nil {
		return c.OK(&HealthStatus{Status: "ok"})
	}

	status := s.obs.Health.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}
