package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/tonwatch/service/config"
	"github.com/brojonat/tonwatch/service/metrics"
	"github.com/brojonat/tonwatch/service/nats"
	"github.com/brojonat/tonwatch/service/query"
	"github.com/brojonat/tonwatch/service/sync"
	"github.com/brojonat/tonwatch/service/ton"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Syncer triggers sync cycles for the monitored account.
type Syncer interface {
	Sync(ctx context.Context, limit int) (*sync.Outcome, error)
	Account() string
}

// Server represents the HTTP server for the deposit service.
type Server struct {
	addr      string
	cfg       *config.Config
	query     *query.Service
	syncer    Syncer
	tonClient ton.Client
	publisher nats.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	server    *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The syncer runs on-demand sync cycles for the monitored account.
// The publisher is optional - if nil, accepted deposits are not announced.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, cfg *config.Config, querySvc *query.Service, syncer Syncer, tonClient ton.Client, publisher nats.Publisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:      addr,
		cfg:       cfg,
		query:     querySvc,
		syncer:    syncer,
		tonClient: tonClient,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Handler builds the full route table. Exposed separately from Start so
// tests can drive the server through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// route registers a handler wrapped with per-endpoint request metrics.
	// The name is the route pattern without the path parameters so the
	// metric cardinality stays bounded.
	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	// Deposit routes
	route("GET /api/v1/deposits", "/api/v1/deposits", handleListDeposits(s.query, s.logger))
	route("GET /api/v1/deposits/{tx_hash}", "/api/v1/deposits/get", handleGetDeposit(s.query, s.logger))
	route("POST /api/v1/deposits/{tx_hash}/processed", "/api/v1/deposits/processed", handleMarkProcessed(s.query, s.logger))
	route("GET /api/v1/stats", "/api/v1/stats", handleGetStats(s.query, s.logger))
	route("POST /api/v1/verify", "/api/v1/verify", handleVerifyPayment(s.query, s.logger))

	// Account routes
	route("GET /api/v1/balance", "/api/v1/balance", handleGetBalance(s.tonClient, s.syncer.Account(), s.logger))
	route("POST /api/v1/sync", "/api/v1/sync", handleTriggerSync(s.syncer, s.publisher, s.cfg, s.logger))

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	// Wrap mux with CORS middleware
	return corsMiddleware(mux)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
