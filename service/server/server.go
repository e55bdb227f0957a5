package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brojonat/txdecode/service/db"
	"github.com/brojonat/txdecode/service/decoder"
	"github.com/brojonat/txdecode/service/metrics"
	"github.com/brojonat/txdecode/service/registry"
)

// Store is the read side of the database the handlers need. *db.Store satisfies it.
type Store interface {
	Ping(ctx context.Context) error
	GetRaw(ctx context.Context, signature string) (*db.RawTransaction, error)
	ListEvents(ctx context.Context, f db.EventFilter) ([]db.StoredEvent, error)
	GetDeadLetter(ctx context.Context, signature string) (*decoder.DeadLetter, error)
	ListDeadLetters(ctx context.Context, reason string, limit int) ([]decoder.DeadLetter, error)
	ListPools(ctx context.Context) ([]registry.Pool, error)
}

// Decoder decodes a raw transaction payload. *decoder.Decoder satisfies it.
type Decoder interface {
	Decode(raw []byte) (*decoder.Result, error)
}

// Server represents the HTTP server for the decode service.
type Server struct {
	addr        string
	store       Store
	decoder     Decoder
	eventStream *EventStream
	metrics     *metrics.Metrics
	logger      *slog.Logger
	server      *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The eventStream is optional - if nil, SSE endpoints won't be available.
// The metrics is optional - if nil, metrics endpoints won't be available.
func New(addr string, store Store, dec Decoder, eventStream *EventStream, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:        addr,
		store:       store,
		decoder:     dec,
		eventStream: eventStream,
		metrics:     m,
		logger:      logger,
	}
}

// Handler builds the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	// Decode on demand
	route("POST /api/v1/decode", "/api/v1/decode", handleDecode(s.decoder, s.logger))

	// Stored data
	route("GET /api/v1/events", "/api/v1/events", handleListEvents(s.store, s.logger))
	route("GET /api/v1/transactions/{signature}", "/api/v1/transactions", handleGetTransaction(s.store, s.logger))
	route("GET /api/v1/dead-letters", "/api/v1/dead-letters", handleListDeadLetters(s.store, s.logger))
	route("GET /api/v1/dead-letters/{signature}", "/api/v1/dead-letters/signature", handleGetDeadLetter(s.store, s.logger))
	route("GET /api/v1/pools", "/api/v1/pools", handleListPools(s.store, s.logger))

	// SSE streaming endpoints (if the event stream is configured)
	if s.eventStream != nil {
		mux.Handle("GET /api/v1/stream/events/{type}", handleStreamEvents(s.eventStream, s.logger))
		mux.Handle("GET /api/v1/stream/events", handleStreamEvents(s.eventStream, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("event stream not configured, streaming endpoints disabled")
	}

	mux.Handle("GET /health", handleHealth(s.store, s.logger))

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE connections stay open
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close the event stream first (disconnects all SSE clients)
	if s.eventStream != nil {
		s.eventStream.Close()
	}

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
