// Package server exposes the render engine over HTTP with chi: page
// rendering with x-render-mode dispatch, server-function invocation, the
// hot-reload WebSocket, and Prometheus metrics. Route matching itself is
// the caller's concern; a RouteResolver maps paths to components.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rari-build/rari-go/pkg/reload"
	"github.com/rari-build/rari-go/pkg/renderer"
	"github.com/rari-build/rari-go/pkg/runtime"
	"github.com/rari-build/rari-go/pkg/server/middleware"
)

// RouteRenderer is the orchestrator surface the server drives.
type RouteRenderer interface {
	RenderRouteToHTMLDirect(ctx context.Context, match renderer.RouteMatch, reqCtx *runtime.RequestContext) (renderer.RenderResult, error)
	RenderRouteByMode(ctx context.Context, match renderer.RouteMatch, mode renderer.RenderMode, reqCtx *runtime.RequestContext) (string, error)
	ExecuteServerFunction(ctx context.Context, functionID, exportName string, args []any) (any, error)
}

// RouteResolver maps a request path to a route match. Returning false
// yields a plain 404.
type RouteResolver func(path string) (renderer.RouteMatch, bool)

// Config tunes the HTTP server.
type Config struct {
	Host string
	Port int

	// EnableMetrics mounts /metrics and the metrics middleware.
	EnableMetrics bool

	// EnableTracing wraps handlers in OpenTelemetry spans.
	EnableTracing bool

	Logger *slog.Logger
}

// Server wires the engine into an http.Handler.
type Server struct {
	cfg      Config
	renderer RouteRenderer
	resolve  RouteResolver
	notify   *reload.NotifyServer
	logger   *slog.Logger
	router   chi.Router

	// metrics middleware registers collectors, so it is built once even
	// when the router is rebuilt.
	metricsMiddleware func(http.Handler) http.Handler
}

// New creates a server around the renderer and route resolver.
func New(cfg Config, r RouteRenderer, resolve RouteResolver) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		renderer: r,
		resolve:  resolve,
		logger:   cfg.Logger,
	}
	if cfg.EnableMetrics {
		s.metricsMiddleware = middleware.Metrics()
	}
	s.router = s.buildRouter()
	return s
}

// WithNotifyServer mounts the hot-reload WebSocket endpoint.
func (s *Server) WithNotifyServer(n *reload.NotifyServer) *Server {
	s.notify = n
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	if s.cfg.EnableTracing {
		r.Use(middleware.OTel())
	}
	if s.metricsMiddleware != nil {
		r.Use(s.metricsMiddleware)
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	}

	if s.notify != nil {
		r.Get("/_rari/reload", s.notify.HandleWebSocket)
	}
	r.Post("/_rari/fn/{functionID}/{exportName}", s.handleServerFunction)
	r.NotFound(s.handleRender)
	r.Get("/*", s.handleRender)

	return r
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	host := s.cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := s.cfg.Port
	if port == 0 {
		port = 3000
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// ListenAndServe starts the server and blocks until ctx is done or the
// listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{Addr: s.Addr(), Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info("server listening", "addr", s.Addr())

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
