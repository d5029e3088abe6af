// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

// Package observability exposes Prometheus metrics and health probes.
package observability

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker reports whether the service can take traffic.
type ReadinessChecker func() bool

// Request outcomes recorded by RecordAuthRequest.
const (
	OutcomeSuccess        = "success"
	OutcomeValidation     = "validation"
	OutcomeConflict       = "conflict"
	OutcomeAuthentication = "authentication"
	OutcomeError          = "error"
)

// Metrics holds the application counters.
type Metrics struct {
	AuthRequestsTotal    *prometheus.CounterVec
	EmailDeliveriesTotal *prometheus.CounterVec
	RetentionDeletedTotal   *prometheus.CounterVec
}

// NewMetrics creates the application counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verigate_auth_requests_total",
				Help: "Account operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		EmailDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verigate_email_deliveries_total",
				Help: "Email deliveries by final status",
			},
			[]string{"status"},
		),
		RetentionDeletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verigate_retention_deleted_total",
				Help: "Rows removed by the retention sweeper by kind",
			},
			[]string{"kind"},
		),
	}

	reg.MustRegister(m.AuthRequestsTotal, m.EmailDeliveriesTotal, m.RetentionDeletedTotal)
	return m
}

// RecordAuthRequest counts one account operation.
func (m *Metrics) RecordAuthRequest(operation, outcome string) {
	m.AuthRequestsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordEmailDelivery counts one email delivery outcome.
func (m *Metrics) RecordEmailDelivery(status string) {
	m.EmailDeliveriesTotal.WithLabelValues(status).Inc()
}

// RecordSweep counts rows removed by one retention pass.
func (m *Metrics) RecordSweep(codes, sessions int64) {
	m.RetentionDeletedTotal.WithLabelValues("codes").Add(float64(codes))
	m.RetentionDeletedTotal.WithLabelValues("sessions").Add(float64(sessions))
}

// Server serves /metrics and the liveness and readiness probes on its own
// listener, separate from the account API.
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	isReady    ReadinessChecker
	running    atomic.Bool
}

// NewServer creates an observability server for addr ("127.0.0.1:9100",
// ":9100" for all interfaces). Start must be called to listen.
func NewServer(addr string, readinessChecker ReadinessChecker) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Server{
		addr:     addr,
		registry: registry,
		metrics:  NewMetrics(registry),
		isReady:  readinessChecker,
	}
}

// Metrics returns the application counters.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Handler returns the probe and metrics routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("GET /healthz/liveness", s.handleLiveness)
	mux.HandleFunc("GET /healthz/readiness", s.handleReadiness)
	return mux
}

// Start listens and serves in the background. Errors from Serve after a
// successful start arrive on the returned channel, which is closed when the
// server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Code("OBSERVABILITY_ALREADY_RUNNING").Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("OBSERVABILITY_LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop shuts the server down. Stopping a server that is not running is a
// no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown observability server").Wrap(err)
		}
	}

	slog.Info("observability server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeProbe(w, http.StatusOK, "ok")
}

func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	if s.isReady == nil || s.isReady() {
		writeProbe(w, http.StatusOK, "ok")
		return
	}
	writeProbe(w, http.StatusServiceUnavailable, "not ready")
}

func writeProbe(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // probe clients may disconnect
	w.Write([]byte(body + "\n"))
}
