// Package api exposes the update engine over HTTP: the timeline snapshot,
// the control operations and a server-sent event stream.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
	"github.com/hugo-lorenzo-mato/upgrader/internal/events"
	"github.com/hugo-lorenzo-mato/upgrader/internal/logging"
)

// Controller is the part of the update engine the API drives.
type Controller interface {
	GetState() *core.WorkflowState
	Initialize(cfg core.WorkflowConfig) error
	Start() error
	Stop()
	Resume() error
	RetryStep() error
	SkipStep() error
	CancelWorkflow() error
	ConfirmMigrations(withDeletes *bool) error
	SkipMigrations() error
	ContinueUpdate() error
	SkipComposerUpdate() error
	ClearPendingTasks(ctx context.Context) error
	ResolveAction(ctx context.Context, actionID string) error
}

// Server provides the HTTP control surface of one engine.
type Server struct {
	router         chi.Router
	engine         Controller
	store          core.StateStore
	eventBus       *events.EventBus
	logger         *logging.Logger
	defaults       core.WorkflowConfig
	allowedOrigins []string
	requestTimeout time.Duration
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStore enables the stored-run listing endpoints.
func WithStore(store core.StateStore) ServerOption {
	return func(s *Server) {
		s.store = store
	}
}

// WithEventBus enables the SSE endpoint.
func WithEventBus(bus *events.EventBus) ServerOption {
	return func(s *Server) {
		s.eventBus = bus
	}
}

// WithDefaults sets the workflow config used when an initialize request
// leaves a field out.
func WithDefaults(cfg core.WorkflowConfig) ServerOption {
	return func(s *Server) {
		s.defaults = cfg
	}
}

// WithAllowedOrigins restricts CORS. Empty allows every origin.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithRequestTimeout bounds non-streaming requests.
func WithRequestTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.requestTimeout = d
	}
}

// NewServer creates a new API server.
func NewServer(engine Controller, opts ...ServerOption) *Server {
	s := &Server{
		engine:         engine,
		logger:         logging.NewNop(),
		requestTimeout: 60 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter configures Chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	origins := s.allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		// The event stream lives as long as the client.
		r.Get("/events", s.handleSSE)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.requestTimeout))

			r.Route("/workflow", func(r chi.Router) {
				r.Get("/", s.handleGetWorkflow)
				r.Post("/initialize", s.handleInitialize)
				r.Post("/start", s.handleStart)
				r.Post("/stop", s.handleStop)
				r.Post("/resume", s.handleResume)
				r.Post("/retry", s.handleRetry)
				r.Post("/skip", s.handleSkip)
				r.Post("/cancel", s.handleCancel)

				r.Post("/migrations/confirm", s.handleConfirmMigrations)
				r.Post("/migrations/skip", s.handleSkipMigrations)
				r.Post("/tasks/clear", s.handleClearPendingTasks)
				r.Post("/dry-run/continue", s.handleContinueUpdate)
				r.Post("/dry-run/skip-composer", s.handleSkipComposerUpdate)

				r.Post("/actions/{actionID}", s.handleResolveAction)
			})

			r.Route("/workflows", func(r chi.Router) {
				r.Get("/", s.handleListWorkflows)
				r.Get("/{workflowID}", s.handleGetStoredWorkflow)
			})
		})
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Debug("http request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			s.logger.Error("failed to encode response", "error", err)
		}
	}
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// ListenAndServe starts the HTTP server and shuts it down when ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting API server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
