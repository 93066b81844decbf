// Package server exposes an engine over HTTP: blocking turns, SSE and
// websocket event streams, session reads, plus health and metrics endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/hupe1980/concierge/core"
	"github.com/hupe1980/concierge/engine"
	"github.com/hupe1980/concierge/logging"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Engine is the part of *engine.Engine the server drives.
type Engine interface {
	StreamTurn(ctx context.Context, sessionID, text string) (string, <-chan core.TurnEvent, error)
	CompleteTurn(ctx context.Context, sessionID, text string) (*engine.FinalResponse, error)
	StopTurn(turnID string) error
}

var _ Engine = (*engine.Engine)(nil)

// SessionReader returns whole sessions for GET /v1/sessions/{id}.
type SessionReader interface {
	Session(ctx context.Context, sessionID string) (*core.Session, error)
}

// Options configure a Server.
type Options struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	// AllowedOrigins are accepted for websocket upgrades in addition to
	// same-origin requests.
	AllowedOrigins []string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// PingInterval keeps idle websocket connections alive.
	PingInterval time.Duration
	Tracer       trace.Tracer
	Logger       logging.Logger
}

// Server is the HTTP transport.
type Server struct {
	engine   Engine
	sessions SessionReader
	opts     Options
	upgrader websocket.Upgrader
	router   chi.Router
}

// New creates a server. sessions may be nil, which disables the session
// endpoint.
func New(eng Engine, sessions SessionReader, optFns ...func(o *Options)) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("%w: server has no engine", core.ErrConfiguration)
	}
	opts := Options{
		Addr:              ":8080",
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		PingInterval:      30 * time.Second,
		Tracer:            noop.NewTracerProvider().Tracer(""),
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{engine: eng, sessions: sessions, opts: opts}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.observe)
	r.Use(s.recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/turns", s.handleCompleteTurn)
		r.Post("/turns/stream", s.handleStreamTurn)
		r.Get("/turns/ws", s.handleWebSocket)
		r.Delete("/turns/{turnID}", s.handleStopTurn)
		if s.sessions != nil {
			r.Get("/sessions/{sessionID}", s.handleGetSession)
		}
	})
	return r
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.Info("server.listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
	defer cancel()
	s.opts.Logger.Info("server.shutdown")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}
