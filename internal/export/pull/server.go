package pull

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/metricsbridge/internal/export"
	"github.com/ethpandaops/metricsbridge/internal/snapshot"
)

// Server binds the Handler to the health, metrics and root routes.
type Server struct {
	log      logrus.FieldLogger
	cfg      Config
	handler  *Handler
	server   *http.Server
	listener net.Listener
	done     chan struct{}
	mu       sync.Mutex

	running atomic.Bool
}

// NewServer creates a pull server. telemetry may be nil.
func NewServer(
	log logrus.FieldLogger,
	cfg Config,
	provider snapshot.Provider,
	telemetry *export.Telemetry,
) (*Server, error) {
	cfg.ApplyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Server{
		log:     log.WithField("component", "pull_server"),
		cfg:     cfg,
		handler: NewHandler(log, cfg, provider, telemetry),
	}, nil
}

// Router returns the route table. The health check is answered without a
// worker. Metrics routes match by prefix, so /metrics/x is served like
// /metrics and every unknown path like the root, and only accept GET and
// HEAD.
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()

	health := http.HandlerFunc(s.handler.ServeHealth)
	router.Path(HealthPath).Handler(health)
	router.PathPrefix(HealthPath + "/").Handler(health)

	metrics := http.HandlerFunc(s.handler.ServeMetrics)
	router.PathPrefix(MetricsPath).Methods(http.MethodGet, http.MethodHead).Handler(metrics)
	router.PathPrefix(RootPath).Methods(http.MethodGet, http.MethodHead).Handler(metrics)

	return router
}

// Start listens on the configured address and serves in the background.
// It fails if the server is already running.
func (s *Server) Start(_ context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("pull server already started")
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.running.Store(false)

		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}

	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	done := make(chan struct{})

	s.mu.Lock()
	s.listener = ln
	s.server = srv
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)

		s.log.WithFields(logrus.Fields{
			"addr":    ln.Addr().String(),
			"workers": s.cfg.Workers,
		}).Info("Pull server started")

		if err := srv.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Pull server error")
		}

		s.running.Store(false)
	}()

	return nil
}

// Addr returns the actual listener address. Useful when started
// with ":0" to get the OS-assigned port.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}

	return s.cfg.Addr
}

// Stop releases the listener and waits for in-flight requests to finish or
// ctx to expire, whichever comes first.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.server, s.done
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}

	<-done

	if err != nil {
		return fmt.Errorf("shutting down pull server: %w", err)
	}

	return nil
}
