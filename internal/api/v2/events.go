package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/teashop/storefront/internal/errors"
	"github.com/teashop/storefront/internal/logger"
	"github.com/teashop/storefront/internal/marketing"
)

// EventRequest is a storefront business event.
type EventRequest struct {
	UserID uint           `json:"userId"`
	Type   string         `json:"type"`
	Data   map[string]any `json:"data"`
}

// initEventRoutes registers event ingestion and manual scans.
func (c *Controller) initEventRoutes() {
	protected := c.Group.Group("", c.authMiddleware)
	protected.POST("/events", c.PostEvent, eventRateLimiter())
	protected.POST("/scans/:kind", c.RunScan)
}

// PostEvent queues an event for asynchronous trigger processing. The
// response only acknowledges the enqueue; outcomes land in the ledger.
func (c *Controller) PostEvent(ctx echo.Context) error {
	var req EventRequest
	if err := ctx.Bind(&req); err != nil {
		return badRequest(ctx, "Invalid request body")
	}
	if req.UserID == 0 {
		return badRequest(ctx, "userId is required")
	}
	eventType := marketing.EventType(req.Type)
	if !eventType.Valid() {
		return badRequest(ctx, "Unknown event type")
	}

	if c.events == nil {
		return ctx.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Marketing engine disabled"})
	}

	data := c.withOrderCount(ctx, req.UserID, eventType, req.Data)
	if !c.events.Dispatch(req.UserID, eventType, data) {
		return ctx.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Event queue unavailable"})
	}

	return ctx.JSON(http.StatusAccepted, map[string]any{
		"accepted":    true,
		"queue_depth": c.events.QueueDepth(),
	})
}

// withOrderCount fills userOrderCount on order_completed events that omit it,
// so first_order triggers can match. Lookup failures leave the data as sent.
func (c *Controller) withOrderCount(ctx echo.Context, userID uint, eventType marketing.EventType, data map[string]any) map[string]any {
	if eventType != marketing.EventOrderCompleted || c.orders == nil {
		return data
	}
	if _, ok := data[marketing.DataUserOrderCount]; ok {
		return data
	}
	count, err := c.orders.CountCompletedOrders(ctx.Request().Context(), userID)
	if err != nil {
		c.log.Warn("failed to count completed orders",
			logger.Uint64("user_id", uint64(userID)),
			logger.Error(err))
		return data
	}
	if data == nil {
		data = make(map[string]any, 1)
	}
	data[marketing.DataUserOrderCount] = count
	return data
}

// RunScan runs one scheduler scan synchronously and returns its report.
func (c *Controller) RunScan(ctx echo.Context) error {
	kind, err := marketing.ParseScanKind(ctx.Param("kind"))
	if err != nil {
		return badRequest(ctx, err.Error())
	}

	report, err := c.scanner.RunScan(ctx.Request().Context(), kind)
	if errors.Is(err, marketing.ErrDatabaseUnavailable) {
		return c.HandleError(ctx, err, "Scan failed", http.StatusServiceUnavailable)
	}

	resp := map[string]any{"report": report}
	if err != nil {
		c.log.Warn("scan finished with errors",
			logger.String("scan", string(kind)),
			logger.Error(err))
		resp["error"] = err.Error()
	}
	return ctx.JSON(http.StatusOK, resp)
}
