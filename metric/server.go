package metric

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashleyhuxley/sonde-alert/errors"
	"github.com/ashleyhuxley/sonde-alert/health"
)

// Server exposes /metrics and /healthz over HTTP.
type Server struct {
	addr    string
	srv     *http.Server
	logger  *slog.Logger
	monitor *health.Monitor
}

// NewServer creates a metrics server bound to addr.
func NewServer(addr string, metrics *Metrics, monitor *health.Monitor, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))

	s := &Server{
		addr:    addr,
		logger:  logger.With("component", "metrics"),
		monitor: monitor,
	}
	mux.HandleFunc("/healthz", s.handleHealthz)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Name implements component.Component.
func (s *Server) Name() string { return "metrics" }

// Start begins serving in the background. Listen errors after startup
// are logged, not fatal.
func (s *Server) Start(_ context.Context) error {
	go func() {
		s.logger.Info("metrics server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server terminated", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "metrics", "Stop", "server shutdown")
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	statuses := s.monitor.All()
	code := http.StatusOK
	if !s.monitor.Healthy() {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(statuses)
}
