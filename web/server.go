// Package web exposes the session to browsers: a JSON snapshot and a websocket feed of
// engine notifications.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/jdginn/showctl/engine"
	"github.com/jdginn/showctl/logging"
)

const (
	DefaultAddr     = "127.0.0.1:8080"
	shutdownTimeout = 5 * time.Second
)

// Engine is the part of engine.Engine the web server reads.
type Engine interface {
	Snapshot(ctx context.Context) (engine.Session, error)
	ListEvents(ctx context.Context) ([]engine.EventSummary, error)
	Refresh(ctx context.Context, reason engine.RefreshReason) error
	Subscribe(ctx context.Context) (<-chan engine.Notification, func(), error)
}

type Server struct {
	Addr    string
	Version string

	engine   Engine
	echo     *echo.Echo
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func New(addr string, eng Engine) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	s := &Server{
		Addr:    addr,
		Version: "dev",
		engine:  eng,
		echo:    echo.New(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logging.Get(logging.WEB),
	}
	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/health"
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.log.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status, "took", v.Latency)
			return nil
		},
	}))

	e.GET("/health", s.handleHealth)
	api := e.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/events", s.handleEvents)
	api.POST("/refresh", s.handleRefresh)
	api.GET("/ws", s.handleFeed)
	return s
}

// Handler returns the routed echo instance, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info("web server listening", "addr", s.Addr)
		errc <- s.echo.Start(s.Addr)
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(sctx); err != nil {
		return err
	}
	s.log.Info("web server stopped")
	return nil
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.Version,
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	sess, err := s.engine.Snapshot(c.Request().Context())
	if err != nil {
		return fromEngine(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) handleEvents(c echo.Context) error {
	events, err := s.engine.ListEvents(c.Request().Context())
	if err != nil {
		return fromEngine(err)
	}
	if events == nil {
		events = []engine.EventSummary{}
	}
	return c.JSON(http.StatusOK, events)
}

func (s *Server) handleRefresh(c echo.Context) error {
	ctx := c.Request().Context()
	if err := s.engine.Refresh(ctx, engine.RefreshManual); err != nil {
		return fromEngine(err)
	}
	sess, err := s.engine.Snapshot(ctx)
	if err != nil {
		return fromEngine(err)
	}
	return c.JSON(http.StatusOK, sess)
}
