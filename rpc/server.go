package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"synthchain/native/collateral"
	"synthchain/native/fees"
	"synthchain/native/rates"
)

// Server exposes a read-only HTTP view over the loan engines, the debt
// aggregator and the fee pool. All mutation happens through the engines
// in-process; the API never writes.
type Server struct {
	log     *slog.Logger
	engines []*collateral.Collateral
	manager *collateral.Manager
	fees    *fees.Pool
	oracle  *rates.Oracle
	limiter *rateLimiter
}

// Config wires the server's collaborators.
type Config struct {
	Log           *slog.Logger
	Engines       []*collateral.Collateral
	Manager       *collateral.Manager
	Fees          *fees.Pool
	Oracle        *rates.Oracle
	RatePerSecond float64
	Burst         int
}

// NewServer builds the API server. A zero RatePerSecond disables limiting.
func NewServer(cfg Config) *Server {
	logger := cfg.Log
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		log:     logger,
		engines: cfg.Engines,
		manager: cfg.Manager,
		fees:    cfg.Fees,
		oracle:  cfg.Oracle,
		limiter: newRateLimiter(cfg.RatePerSecond, cfg.Burst),
	}
}

// Router assembles the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(s.limiter.middleware)
		v1.Get("/system", s.handleSystem)
		v1.Get("/engines", s.handleEngines)
		v1.Get("/engines/{name}", s.handleEngine)
		v1.Get("/loans/{id}", s.handleLoan)
		v1.Get("/borrowers/{address}/loans", s.handleBorrowerLoans)
		v1.Get("/currencies", s.handleCurrencies)
		v1.Get("/currencies/{symbol}", s.handleCurrency)
		v1.Get("/fees", s.handleFees)
	})
	return r
}

// Serve runs the server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info("api listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorBody{Error: message})
}
