package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/acquity/roundmarket/internal/clock"
	"github.com/acquity/roundmarket/internal/metrics"
	"github.com/acquity/roundmarket/internal/model"
	"github.com/acquity/roundmarket/internal/version"
)

// RoundReader is the read side of the round manager.
type RoundReader interface {
	GetActive(ctx context.Context) (*model.Round, error)
	ListRounds(ctx context.Context) ([]model.Round, error)
	RoundMatches(ctx context.Context, roundID uuid.UUID) ([]model.Match, error)
}

// Config holds HTTP server settings.
type Config struct {
	Port            int
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
	UserHeader      string // identity header set by the gateway; default DefaultUserHeader
}

// Server serves the public API.
type Server struct {
	cfg     Config
	rounds  RoundReader
	orders  OrderService
	hub     *Hub
	metrics *metrics.Metrics
	clock   clock.Clock
	logger  *slog.Logger
	router  *mux.Router
}

// Option configures a Server.
type Option func(*Server)

// WithOrders mounts the order routes backed by svc.
func WithOrders(svc OrderService) Option {
	return func(s *Server) { s.orders = svc }
}

// NewServer creates a Server. m may be nil, in which case /metrics is not
// registered. Order routes exist only when WithOrders is given.
func NewServer(cfg Config, rounds RoundReader, hub *Hub, m *metrics.Metrics, clk clock.Clock, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.UserHeader == "" {
		cfg.UserHeader = DefaultUserHeader
	}
	s := &Server{
		cfg:     cfg,
		rounds:  rounds,
		hub:     hub,
		metrics: m,
		clock:   clk,
		logger:  logger,
		router:  mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/rounds", s.handleListRounds).Methods(http.MethodGet)
	api.HandleFunc("/rounds/active", s.handleActiveRound).Methods(http.MethodGet)
	api.HandleFunc("/rounds/{id}/matches", s.handleRoundMatches).Methods(http.MethodGet)
	if s.orders != nil {
		s.setupOrderRoutes(api)
	}

	s.router.HandleFunc("/ws", s.hub.ServeWS)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", s.cfg.UserHeader},
	})
	return c.Handler(s.router)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: version.Version,
		Clients: s.hub.ClientCount(),
	})
}

func (s *Server) handleListRounds(w http.ResponseWriter, r *http.Request) {
	rounds, err := s.rounds.ListRounds(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	now := s.clock.Now()
	resp := make([]RoundResponse, len(rounds))
	for i, rd := range rounds {
		resp[i] = newRoundResponse(rd, now)
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleActiveRound responds with the active round, or null.
func (s *Server) handleActiveRound(w http.ResponseWriter, r *http.Request) {
	active, err := s.rounds.GetActive(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if active == nil {
		respondJSON(w, http.StatusOK, nil)
		return
	}
	respondJSON(w, http.StatusOK, newRoundResponse(*active, s.clock.Now()))
}

func (s *Server) handleRoundMatches(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.respondErr(w, r, fmt.Errorf("%w: round id: %v", model.ErrInvalidInput, err))
		return
	}

	matches, err := s.rounds.RoundMatches(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	resp := make([]MatchResponse, len(matches))
	for i, m := range matches {
		resp[i] = newMatchResponse(m)
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		respondJSON(w, status, ErrorResponse{Error: http.StatusText(status)})
		return
	}
	respondJSON(w, status, ErrorResponse{Error: http.StatusText(status), Message: err.Error()})
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
