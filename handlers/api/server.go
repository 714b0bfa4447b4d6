package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/nijaru/tubeprompt/config"
	"github.com/nijaru/tubeprompt/middleware"
	"github.com/nijaru/tubeprompt/models"
)

// Coordinator is the Dispatcher as seen by the HTTP layer.
type Coordinator interface {
	StartAcquisition(ctx context.Context, req models.AcquisitionRequest) (string, error)
	OnAcquisitionComplete(ctx context.Context, res models.Result, tabID, requestID string) bool
	Acquisition(ctx context.Context, id string) (*models.Acquisition, error)
	StartDelivery(ctx context.Context, req models.PromptRequest) (string, error)
	SetRange(ctx context.Context, tabID string, r models.TimeRange) error
	Tabs(ctx context.Context) ([]models.TabInfo, error)
}

type Preferences interface {
	Preference(ctx context.Context, key string) (string, error)
	SetPreference(ctx context.Context, key, value string) error
	Preferences(ctx context.Context) (map[string]string, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	dispatcher Coordinator
	prefs      Preferences
	events     http.Handler
	db         Pinger
	config     *config.Config
	logger     *logrus.Logger
	server     *http.Server
	startTime  time.Time
}

type ServerOption func(*Server)

func NewServer(cfg *config.Config, d Coordinator, prefs Preferences, events http.Handler, opts ...ServerOption) *Server {
	s := &Server{
		dispatcher: d,
		prefs:      prefs,
		events:     events,
		config:     cfg,
		logger:     logrus.StandardLogger(),
		startTime:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.server = &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithHealthCheck adds the database to /health.
func WithHealthCheck(p Pinger) ServerOption {
	return func(s *Server) { s.db = p }
}

func (s *Server) Start() error {
	s.logger.WithField("port", s.config.ServerPort).Info("Starting server")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	return s.server.Shutdown(ctx)
}

// Handler returns the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	return s.middleware(s.routes())
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/acquisitions", s.handleStartAcquisition)
		r.Put("/acquisitions/range", s.handleSetRange)
		r.Get("/acquisitions/{id}", s.handleGetAcquisition)
		r.Post("/acquisitions/{id}/result", s.handleAcquisitionResult)

		r.Post("/deliveries", s.handleDeliver)

		r.Get("/tabs", s.handleTabs)

		r.Get("/preferences", s.handleListPreferences)
		r.Get("/preferences/{key}", s.handleGetPreference)
		r.Put("/preferences/{key}", s.handleSetPreference)

		r.Get("/events", s.events.ServeHTTP)
	})

	return r
}

func (s *Server) middleware(handler http.Handler) http.Handler {
	middlewares := []func(http.Handler) http.Handler{
		middleware.Recovery(s.logger),
		middleware.RequestID(),
		middleware.Logging(s.logger),
	}

	if s.config.CORS.Enabled {
		middlewares = append(middlewares, cors.Handler(cors.Options{
			AllowedOrigins:   s.config.CORS.AllowedOrigins,
			AllowedMethods:   s.config.CORS.AllowedMethods,
			AllowedHeaders:   s.config.CORS.AllowedHeaders,
			ExposedHeaders:   []string{middleware.RequestIDHeader},
			AllowCredentials: s.config.CORS.AllowCredentials,
			MaxAge:           s.config.CORS.MaxAge,
		}))
	}

	if s.config.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(
			s.config.RateLimit.RequestsPerMinute,
			s.config.RateLimit.BurstSize,
		)
		middlewares = append(middlewares, limiter.Middleware)
	}

	return middleware.Chain(handler, middlewares...)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"version":   s.config.Version,
		"uptime":    time.Since(s.startTime).String(),
	}

	code := http.StatusOK
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			s.logger.WithError(err).Error("Database health check failed")
			status["status"] = "degraded"
			status["database"] = "unreachable"
			code = http.StatusServiceUnavailable
		}
	}

	if s.config.Debug {
		status["goroutines"] = runtime.NumGoroutine()
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		status["memory"] = map[string]interface{}{
			"allocated": m.Alloc,
			"system":    m.Sys,
			"gc_cycles": m.NumGC,
		}
	}

	respondJSON(w, r, code, status)
}
