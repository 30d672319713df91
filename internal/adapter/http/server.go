package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/couchcryptid/quake-feed-service/internal/analysis"
	"github.com/couchcryptid/quake-feed-service/internal/domain"
	"github.com/couchcryptid/quake-feed-service/internal/notify"
	"github.com/couchcryptid/quake-feed-service/internal/service"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// QuakeService is the application surface served over HTTP.
type QuakeService interface {
	ListEvents(ctx context.Context) ([]domain.StoredEvent, error)
	RankRisk(ctx context.Context) ([]analysis.LocationRisk, error)
	TriggerRefresh(ctx context.Context) (service.RefreshResult, error)
	SubscribeToUpdates(ctx context.Context) *notify.Subscription
}

// apiWriteMargin is added to the feed fetch timeout to bound how long an
// /api handler may take to write its response.
const apiWriteMargin = 10 * time.Second

// Server exposes health, readiness, metrics, the JSON API and the live
// update streams.
type Server struct {
	httpServer *http.Server
	svc        QuakeService
	logger     *slog.Logger
	keepAlive  time.Duration
	apiTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithWriteTimeout overrides the default write timeout of routes that do
// not extend their own deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) { s.httpServer.WriteTimeout = d }
}

// NewServer creates an HTTP server with probe, metrics and /api routes.
// fetchTimeout is the feed fetch budget; /api handlers that may run an
// ingestion pass get that long plus a margin to respond.
func NewServer(addr string, svc QuakeService, ready sharedobs.ReadinessChecker, fetchTimeout time.Duration, logger *slog.Logger, opts ...Option) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      withCORS(mux),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		svc:        svc,
		logger:     logger,
		keepAlive:  20 * time.Second,
		apiTimeout: fetchTimeout + apiWriteMargin,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/earthquakes", s.handleEarthquakes)
	mux.HandleFunc("GET /api/predictions", s.handlePredictions)
	mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	mux.HandleFunc("GET /api/stream", s.handleStream)
	mux.HandleFunc("GET /api/ws", s.handleWebSocket)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on ln. Returns http.ErrServerClosed on graceful
// shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("http server starting", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully drains connections within the given context deadline.
// Streaming clients are ended by closing the update hub first.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleEarthquakes(w http.ResponseWriter, r *http.Request) {
	s.extendWriteDeadline(w)
	events, err := s.svc.ListEvents(r.Context())
	if err != nil {
		s.writeError(w, "list earthquakes", err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, events)
}

func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	s.extendWriteDeadline(w)
	ranked, err := s.svc.RankRisk(r.Context())
	if err != nil {
		s.writeError(w, "rank risk", err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, ranked)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.extendWriteDeadline(w)
	res, err := s.svc.TriggerRefresh(r.Context())
	if err != nil {
		s.writeError(w, "refresh", err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, res)
}

// extendWriteDeadline lets a handler outlive the server write timeout when
// it has to wait for a feed fetch (refresh, or the first read of an empty
// store).
func (s *Server) extendWriteDeadline(w http.ResponseWriter) {
	if err := http.NewResponseController(w).SetWriteDeadline(time.Now().Add(s.apiTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Debug("extend write deadline", "error", err)
	}
}

// writeError maps the domain error taxonomy onto status codes.
func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrRefreshThrottled):
		status = http.StatusTooManyRequests
	case domain.IsFetchFailure(err):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "op", op, "error", err)
	}
	sharedobs.WriteJSON(w, status, map[string]string{"error": err.Error()})
}

// withCORS lets browser dashboards on other origins call the API.
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		h.ServeHTTP(w, r)
	})
}
