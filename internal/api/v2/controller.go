// Package api serves the marketing admin API: trigger management, the
// execution ledger, event ingestion and manual scans.
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/teashop/storefront/internal/datastore/v2/entities"
	"github.com/teashop/storefront/internal/datastore/v2/repository"
	"github.com/teashop/storefront/internal/errors"
	"github.com/teashop/storefront/internal/logger"
	"github.com/teashop/storefront/internal/marketing"
)

// QueryValueTrue is the literal accepted for boolean query filters.
const QueryValueTrue = "true"

const (
	defaultListLimit = 50
	maxListLimit     = 200

	// Event ingestion rate limit per client IP.
	eventRateLimit = rate.Limit(50)
	eventBurst     = 100
)

// Executor runs one trigger for one user, bypassing matching.
type Executor interface {
	Execute(ctx context.Context, trigger *entities.Trigger, userID uint, source string) (marketing.Outcome, error)
}

// EventSink accepts storefront events without blocking.
type EventSink interface {
	Dispatch(userID uint, eventType marketing.EventType, data map[string]any) bool
	QueueDepth() int
}

// OrderCounter counts a user's completed storefront orders.
type OrderCounter interface {
	CountCompletedOrders(ctx context.Context, userID uint) (int64, error)
}

// Scanner runs scheduler scans on demand.
type Scanner interface {
	RunScan(ctx context.Context, kind marketing.ScanKind) (marketing.ScanReport, error)
}

// Controller holds the handlers and their collaborators.
type Controller struct {
	Group *echo.Group

	triggers repository.TriggerRepository
	executor Executor
	events   EventSink
	orders   OrderCounter
	scanner  Scanner
	apiToken string
	log      logger.Logger
}

// ControllerDeps are the collaborators of a Controller.
type ControllerDeps struct {
	Triggers repository.TriggerRepository
	Executor Executor
	Events   EventSink // nil when the engine is disabled
	Orders   OrderCounter
	Scanner  Scanner
	APIToken string
	Log      logger.Logger
}

// NewController registers all routes on group.
func NewController(group *echo.Group, deps ControllerDeps) *Controller {
	log := deps.Log
	if log == nil {
		log = logger.NewNop()
	}
	c := &Controller{
		Group:    group,
		triggers: deps.Triggers,
		executor: deps.Executor,
		events:   deps.Events,
		orders:   deps.Orders,
		scanner:  deps.Scanner,
		apiToken: deps.APIToken,
		log:      log.Module("api"),
	}
	if c.apiToken == "" {
		c.log.Warn("api token not configured, mutating routes will reject every request")
	}

	c.initTriggerRoutes()
	c.initExecutionRoutes()
	c.initEventRoutes()
	return c
}

// authMiddleware checks the bearer token on mutating routes.
func (c *Controller) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(key string, _ echo.Context) (bool, error) {
			if c.apiToken == "" {
				return false, nil
			}
			return subtle.ConstantTimeCompare([]byte(key), []byte(c.apiToken)) == 1, nil
		},
		ErrorHandler: func(_ error, ctx echo.Context) error {
			return ctx.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		},
	})(next)
}

// eventRateLimiter bounds event ingestion per client.
func eventRateLimiter() echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:  eventRateLimit,
			Burst: eventBurst,
		}),
		DenyHandler: func(ctx echo.Context, _ string, _ error) error {
			return ctx.JSON(http.StatusTooManyRequests, map[string]string{"error": "Too many events"})
		},
	})
}

// HandleError writes a JSON error body and logs server-side failures.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	if code >= http.StatusInternalServerError {
		c.log.Error(message,
			logger.Error(err),
			logger.String("path", ctx.Path()),
			logger.String("category", string(errors.CategoryOf(err))))
	}
	return ctx.JSON(code, map[string]string{
		"error":   message,
		"message": err.Error(),
	})
}

func badRequest(ctx echo.Context, message string) error {
	return ctx.JSON(http.StatusBadRequest, map[string]string{"error": message})
}

// parseUintParam parses a uint route parameter.
func parseUintParam(ctx echo.Context, name string) (uint, error) {
	v, err := strconv.ParseUint(ctx.Param(name), 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(v), nil
}

// parseUintQuery parses an optional uint query parameter; empty yields zero.
func parseUintQuery(ctx echo.Context, name string) (uint, error) {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(v), nil
}

// parseBoolQuery returns nil for an absent parameter.
func parseBoolQuery(ctx echo.Context, name string) *bool {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return nil
	}
	v := raw == QueryValueTrue
	return &v
}

// parsePaging reads limit and offset with the list defaults applied.
func parsePaging(ctx echo.Context) (limit, offset int) {
	limit = defaultListLimit
	if v, err := strconv.Atoi(ctx.QueryParam("limit")); err == nil && v > 0 {
		limit = min(v, maxListLimit)
	}
	if v, err := strconv.Atoi(ctx.QueryParam("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}
