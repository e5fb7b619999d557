package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brojonat/blinks/service/actions"
	"github.com/brojonat/blinks/service/config"
	"github.com/brojonat/blinks/service/db"
	"github.com/brojonat/blinks/service/metrics"
	"github.com/brojonat/blinks/service/temporal"
	"github.com/brojonat/blinks/service/tokeninfo"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ActionVersion is the Solana Actions protocol version advertised on every response.
const ActionVersion = "2.1.3"

// BlinkStore is the persistence the API routes need.
type BlinkStore interface {
	CreateBlink(ctx context.Context, params db.CreateBlinkParams) (*db.Blink, error)
	FindBlinkByID(ctx context.Context, id string) (*db.Blink, error)
	ListBlinksByWallet(ctx context.Context, params db.ListBlinksByWalletParams) ([]*db.Blink, error)
	ListTransactionAttempts(ctx context.Context, blinkID string, limit int32) ([]*db.TransactionAttempt, error)
}

// TokenInfoSource resolves token metadata for a mint.
type TokenInfoSource interface {
	Get(ctx context.Context, mint string) (*tokeninfo.Info, error)
}

// PaymentConfirmer verifies a creation-fee payment inline.
type PaymentConfirmer interface {
	ConfirmNow(ctx context.Context, input temporal.ConfirmPaymentInput) (*temporal.ConfirmPaymentResult, error)
}

// Server represents the HTTP server for the Blinks service.
type Server struct {
	addr      string
	cfg       *config.Config
	actions   *actions.Service
	store     BlinkStore
	tokens    TokenInfoSource
	scheduler temporal.PaymentScheduler
	confirmer PaymentConfirmer
	metrics   *metrics.Metrics
	logger    *slog.Logger
	server    *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The scheduler is optional: when nil, payments are confirmed inline by the
// confirmer and the payment-status route reports that workflows are disabled.
// The metrics is optional: if nil, the metrics endpoint won't be available.
func New(
	addr string,
	cfg *config.Config,
	svc *actions.Service,
	store BlinkStore,
	tokens TokenInfoSource,
	scheduler temporal.PaymentScheduler,
	confirmer PaymentConfirmer,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:      addr,
		cfg:       cfg,
		actions:   svc,
		store:     store,
		tokens:    tokens,
		scheduler: scheduler,
		confirmer: confirmer,
		metrics:   m,
		logger:    logger,
	}
}

// Handler builds the routed handler with CORS and action headers applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.InstrumentRoute(s.metrics, name)(h))
	}

	// Solana Actions routes. OPTIONS mirrors GET for wallet preflights.
	getAction := handleGetAction(s.actions, s.cfg.ActionTimeout, s.logger)
	postAction := handlePostAction(s.actions, s.cfg.ActionTimeout, s.logger)
	for _, path := range []string{"/actions/{kind}/{id}", "/actions/{kind}/{id}/transaction", "/actions/{kind}/{$}"} {
		route("GET "+path, "/actions/{kind}/{id}", getAction)
		route("OPTIONS "+path, "/actions/{kind}/{id}", getAction)
		route("POST "+path, "/actions/{kind}/{id}/transaction", postAction)
	}
	route("GET /actions.json", "/actions.json", handleActionsJSON())
	route("OPTIONS /actions.json", "/actions.json", handleActionsJSON())

	// Blink management routes
	route("POST /api/v1/blinks", "/api/v1/blinks", handleGenerateBlink(s.store, s.actions, s.cfg, s.metrics, s.logger))
	route("POST /api/v1/blinks/token", "/api/v1/blinks/token", handleGenerateTokenBlink(s.store, s.tokens, s.actions, s.cfg, s.metrics, s.logger))
	route("GET /api/v1/blinks", "/api/v1/blinks", handleListBlinks(s.store, s.cfg.PublicBaseURL, s.logger))
	route("GET /api/v1/blinks/{id}", "/api/v1/blinks/{id}", handleGetBlink(s.store, s.cfg.PublicBaseURL, s.logger))
	route("GET /api/v1/blinks/{id}/attempts", "/api/v1/blinks/{id}/attempts", handleListAttempts(s.store, s.logger))
	route("GET /api/v1/token-info", "/api/v1/token-info", handleGetTokenInfo(s.tokens, s.logger))

	// Creation-fee confirmation routes
	route("POST /api/v1/blinks/{id}/payment", "/api/v1/blinks/{id}/payment", handleConfirmPayment(s.store, s.scheduler, s.confirmer, s.cfg, s.logger))
	route("GET /api/v1/payment-status/{workflow_id}", "/api/v1/payment-status/{workflow_id}", handleGetPaymentStatus(s.scheduler, s.logger))

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux, s.cfg.BlockchainID())
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	if s.scheduler != nil {
		s.logger.Info("payment confirmation via Temporal enabled")
	} else {
		s.logger.Warn("Temporal not configured, confirming payments inline")
	}
	if s.metrics != nil {
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr, "blockchain_id", s.cfg.BlockchainID())
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds the Actions CORS header set to all responses. OPTIONS
// on action paths reaches the router so preflights receive the GET payload;
// other preflights are answered here.
func corsMiddleware(next http.Handler, blockchainID string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Content-Encoding, Accept-Encoding")
		w.Header().Set("X-Action-Version", ActionVersion)
		w.Header().Set("X-Blockchain-Ids", blockchainID)

		if r.Method == http.MethodOptions && !strings.HasPrefix(r.URL.Path, "/actions") {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
