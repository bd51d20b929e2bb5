package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teashop/storefront/internal/errors"
	"github.com/teashop/storefront/internal/logger"
)

const (
	healthTimeout     = 2 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ServerDeps are the collaborators of a Server.
type ServerDeps struct {
	ControllerDeps
	DB       Pinger
	Gatherer prometheus.Gatherer
}

// Server is the admin HTTP server.
type Server struct {
	echo       *echo.Echo
	controller *Controller
	db         Pinger
	events     EventSink
	listen     string
	log        logger.Logger
}

// NewServer builds the echo instance with health, metrics and the v2 API.
func NewServer(listen string, deps ServerDeps) *Server {
	if deps.Log == nil {
		deps.Log = logger.NewNop()
	}
	log := deps.Log.Module("http")
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadHeaderTimeout = readHeaderTimeout

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.Duration("latency", v.Latency),
				logger.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				log.Warn("request failed", append(fields, logger.Error(v.Error))...)
				return nil
			}
			log.Debug("request", fields...)
			return nil
		},
	}))

	s := &Server{
		echo:   e,
		db:     deps.DB,
		events: deps.Events,
		listen: listen,
		log:    log,
	}

	e.GET("/healthz", s.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))

	s.controller = NewController(e.Group("/api/v2"), deps.ControllerDeps)
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Health reports database reachability and the event queue depth.
func (s *Server) Health(ctx echo.Context) error {
	body := map[string]any{"status": "ok"}
	if s.events != nil {
		body["queue_depth"] = s.events.QueueDepth()
	}
	if s.db != nil {
		pingCtx, cancel := context.WithTimeout(ctx.Request().Context(), healthTimeout)
		defer cancel()
		if err := s.db.Ping(pingCtx); err != nil {
			body["status"] = "degraded"
			body["database"] = err.Error()
			return ctx.JSON(http.StatusServiceUnavailable, body)
		}
	}
	return ctx.JSON(http.StatusOK, body)
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.log.Info("http server listening", logger.String("listen", s.listen))
	if err := s.echo.Start(s.listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Newf("http server failed: %w", err).
			Component("http").
			Category(errors.CategoryNetwork).
			Context("listen", s.listen).
			Build()
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
