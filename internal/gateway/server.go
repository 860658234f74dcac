package gateway

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/audiolens/audiolens/internal/config"
)

// Check is a named dependency probe for the readiness endpoint.
type Check func(ctx context.Context) error

// Server hosts the relay's HTTP surface: health probes, prometheus metrics
// and the live-subscriber WebSocket endpoint.
type Server struct {
	echo   *echo.Echo
	cfg    config.EchoServer
	checks map[string]Check
}

// New builds the echo server. wsHandler may be nil for processes without a
// subscriber endpoint.
func New(cfg config.EchoServer, wsHandler echo.HandlerFunc, checks map[string]Check) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, cfg: cfg, checks: checks}

	e.GET("/health/live", s.liveness)
	e.GET("/health/ready", s.readiness)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	if wsHandler != nil {
		e.GET("/ws/audio/:session_id", wsHandler)
	}

	return s
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	return s.echo.Start(s.cfg.ListenAddress)
}

// Shutdown stops the listener, waiting for in-flight requests up to ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readiness(c echo.Context) error {
	results := make(map[string]string, len(s.checks))
	code := http.StatusOK

	for name, check := range s.checks {
		if err := check(c.Request().Context()); err != nil {
			results[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	return c.JSON(code, map[string]any{"checks": results})
}
