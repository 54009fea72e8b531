// Package server exposes the orchestrator over HTTP and websockets.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sweetpotato0/crag/config"
	"github.com/sweetpotato0/crag/feedback"
	"github.com/sweetpotato0/crag/middleware"
	"github.com/sweetpotato0/crag/middleware/enricher"
	"github.com/sweetpotato0/crag/middleware/errorhandler"
	"github.com/sweetpotato0/crag/middleware/limiter"
	"github.com/sweetpotato0/crag/middleware/logger"
	"github.com/sweetpotato0/crag/middleware/validator"
	"github.com/sweetpotato0/crag/pkg/logging"
	"github.com/sweetpotato0/crag/rag/orchestrator"
)

// Engine is the orchestrator surface served over HTTP.
type Engine interface {
	middleware.Engine
	Session(ctx context.Context, id string) (*orchestrator.SessionInfo, error)
}

// Server serves the chat, session and feedback endpoints.
type Server struct {
	cfg        config.ServerConfig
	engine     Engine
	feedback   *feedback.Service
	chain      *middleware.Chain
	logger     *slog.Logger
	router     chi.Router
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithChain replaces the request middleware chain.
func WithChain(c *middleware.Chain) Option {
	return func(s *Server) {
		if c != nil {
			s.chain = c
		}
	}
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// DefaultChain builds the request chain used by every transport:
// classification outermost, validation innermost.
func DefaultChain(engine config.Engine) *middleware.Chain {
	return middleware.NewChain(
		errorhandler.NewErrorHandler(nil),
		logger.NewRequestLogger(nil),
		limiter.NewRateLimiter(engine.MaxConcurrentRequests),
		enricher.NewSessionEnricher(),
		validator.NewInputValidator(engine.ContentLimit),
	)
}

// New creates a server. fb may be nil, which disables the feedback routes.
func New(cfg config.ServerConfig, engine Engine, fb *feedback.Service, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		engine:   engine,
		feedback: fb,
		chain:    middleware.NewChain(errorhandler.NewErrorHandler(nil)),
		logger:   logging.WithComponent("server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Websockets are long lived and stay outside the request timeout.
	r.Get("/ws/chat", s.handleWebSocket)
	r.Get("/ws/chat/{session_id}", s.handleWebSocket)

	r.Group(func(r chi.Router) {
		if s.cfg.WriteTimeout > 0 {
			r.Use(chimw.Timeout(s.cfg.WriteTimeout))
		}
		r.Post("/chat", s.handleChat(middleware.OpAsk))
		r.Post("/chat/simple", s.handleChat(middleware.OpAskSimple))
		r.Post("/chat/clarify", s.handleClarify)
		r.Get("/chat/sessions/{id}", s.handleSession)

		if s.feedback != nil {
			r.Post("/api/feedback/submit", s.handleFeedbackSubmit)
			r.Get("/api/feedback/stats", s.handleFeedbackStats)
		}
	})
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		IdleTimeout:       120 * time.Second,
	}
	s.logger.Info("server listening", "addr", s.cfg.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// call runs one orchestrator operation through the middleware chain.
func (s *Server) call(ctx context.Context, op middleware.Operation, input, sessionID string) (*orchestrator.Response, error) {
	c := middleware.NewContext(ctx, op, input, sessionID)
	if err := s.chain.Execute(c, middleware.Dispatch(s.engine)); err != nil {
		return nil, err
	}
	return c.Response, nil
}
