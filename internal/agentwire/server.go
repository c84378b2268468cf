package agentwire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/agentwire/agentwire/internal/config"
	"github.com/agentwire/agentwire/internal/observability"
)

// RelayServer composes the registry, broadcaster, stream manager and reaper
// behind the relay's HTTP surface, with the observability stack beside it.
type RelayServer struct {
	Registry       *Registry
	Broadcaster    *Broadcaster
	Streams        *StreamManager
	Reaper         *Reaper
	Observability  *observability.Observability
	TraceManager   *observability.TraceManager
	MetricsManager *observability.MetricsManager
	HealthServer   *observability.HealthServer
	Logger         *slog.Logger
	Config         *config.AppConfig

	httpServer *http.Server
}

// NewRelayServer creates a relay server with observability wired in. Nothing
// listens until Start.
func NewRelayServer(cfg *config.AppConfig) (*RelayServer, error) {
	obsConfig := observability.Config{
		ServiceName:    cfg.ServiceName + "-relay",
		ServiceVersion: cfg.ServiceVersion,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Environment:    cfg.Environment,
	}
	obs, err := observability.NewObservability(obsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	metricsManager, err := observability.NewMetricsManager(obs.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics manager: %w", err)
	}

	traceManager := observability.NewTraceManager(obsConfig.ServiceName)

	healthServer := observability.NewHealthServer(cfg.RelayHealthPort, obsConfig.ServiceName, cfg.ServiceVersion)
	healthServer.AddChecker("self", observability.NewBasicHealthChecker("self", func(ctx context.Context) error {
		return nil
	}))

	registry := NewRegistry(obs.Logger)

	s := &RelayServer{
		Registry:       registry,
		Broadcaster:    NewBroadcaster(registry, traceManager, metricsManager, obs.Logger),
		Streams:        NewStreamManager(registry, traceManager, metricsManager, obs.Logger),
		Reaper:         NewReaper(registry, metricsManager, obs.Logger),
		Observability:  obs,
		TraceManager:   traceManager,
		MetricsManager: metricsManager,
		HealthServer:   healthServer,
		Logger:         obs.Logger,
		Config:         cfg,
	}
	s.httpServer = &http.Server{
		Addr:    cfg.RelayAddr,
		Handler: s.Handler(),
	}
	return s, nil
}

// Handler builds the relay's HTTP router.
func (s *RelayServer) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	// Agents call from anywhere.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Traceparent", "Tracestate"},
		MaxAge:         300,
	}))

	r.Post("/register", s.handleRegister)
	r.Post("/send", s.handleSend)
	r.Get("/events", s.handleEvents)
	r.Get("/agents", s.handleAgents)

	return r
}

// Start runs the health server, metrics ticker, reaper and the relay's HTTP
// listener until the listener stops.
func (s *RelayServer) Start(ctx context.Context) error {
	go func() {
		s.Logger.Info("starting health server", slog.String("port", s.Config.RelayHealthPort))
		if err := s.HealthServer.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error("health server failed", slog.Any("error", err))
		}
	}()

	go NewMetricsTicker(ctx, s.MetricsManager).Start()
	go s.Reaper.Run(ctx)

	s.Logger.Info("agentwire relay listening",
		slog.String("address", s.Config.RelayAddr),
		slog.String("health_endpoint", fmt.Sprintf("http://localhost:%s/health", s.Config.RelayHealthPort)),
		slog.String("metrics_endpoint", fmt.Sprintf("http://localhost:%s/metrics", s.Config.RelayHealthPort)),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener, force-closes every remaining live stream and
// tears down observability.
func (s *RelayServer) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "shutting down agentwire relay")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.Logger.ErrorContext(ctx, "error shutting down http server", slog.Any("error", err))
	}

	s.Registry.CloseAll()

	if err := s.HealthServer.Shutdown(ctx); err != nil {
		s.Logger.ErrorContext(ctx, "error shutting down health server", slog.Any("error", err))
	}

	if err := s.Observability.Shutdown(ctx); err != nil {
		s.Logger.ErrorContext(ctx, "observability shutdown failed",
			slog.Any("error", err),
			slog.String("otlp_endpoint", s.Observability.Config.OTLPEndpoint),
		)
		return err
	}
	return nil
}

type registerRequest struct {
	AgentID string `json:"agent_id"`
}

type sendRequest struct {
	SenderID string         `json:"sender_id"`
	Content  map[string]any `json:"content"`
}

func (s *RelayServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AgentID == "" {
		s.writeError(w, http.StatusBadRequest, "Missing agent_id")
		return
	}

	s.Registry.Ensure(req.AgentID)
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":   "registered",
		"agent_id": req.AgentID,
	})
}

func (s *RelayServer) handleSend(w http.ResponseWriter, r *http.Request) {
	ctx := s.TraceManager.ExtractHTTPHeaders(r.Context(), r.Header)

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if _, err := s.Broadcaster.Broadcast(ctx, req.SenderID, req.Content); err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			s.writeError(w, http.StatusBadRequest, "Missing sender_id or content")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *RelayServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		s.writeError(w, http.StatusBadRequest, "Missing agent_id")
		return
	}

	s.Streams.ServeStream(w, r, agentID)
}

func (s *RelayServer) handleAgents(w http.ResponseWriter, r *http.Request) {
	// Opportunistic sweep, so a listing never reports long-gone agents.
	s.Reaper.SweepOnce(r.Context())

	ids := s.Registry.ListIDs()
	if ids == nil {
		ids = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"agents": ids})
}

func (s *RelayServer) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *RelayServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// requestLogger logs one line per request, skipping the long-lived /events
// streams whose duration would be meaningless.
func (s *RelayServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/events" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.Logger.InfoContext(r.Context(), "request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}

// StartRelay runs a relay built from the environment until ctx is cancelled.
func StartRelay(ctx context.Context) error {
	cfg := config.Load()

	server, err := NewRelayServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create relay server: %w", err)
	}

	go func() {
		<-ctx.Done()
		server.Logger.Info("received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	return server.Start(ctx)
}
