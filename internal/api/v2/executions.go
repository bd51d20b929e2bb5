package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/teashop/storefront/internal/datastore/v2/entities"
	"github.com/teashop/storefront/internal/datastore/v2/repository"
)

// initExecutionRoutes registers the read-only ledger endpoint.
func (c *Controller) initExecutionRoutes() {
	c.Group.GET("/executions", c.ListExecutions)
}

// ListExecutions returns paginated ledger rows, newest first.
func (c *Controller) ListExecutions(ctx echo.Context) error {
	triggerID, err := parseUintQuery(ctx, "trigger_id")
	if err != nil {
		return badRequest(ctx, "Invalid trigger_id")
	}
	userID, err := parseUintQuery(ctx, "user_id")
	if err != nil {
		return badRequest(ctx, "Invalid user_id")
	}

	filter := repository.ExecutionFilter{
		TriggerID: triggerID,
		UserID:    userID,
		Status:    ctx.QueryParam("status"),
	}
	switch filter.Status {
	case "", entities.ExecutionStatusSuccess, entities.ExecutionStatusFailed:
	default:
		return badRequest(ctx, "status must be success or failed")
	}
	if since := ctx.QueryParam("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return badRequest(ctx, "since must be an RFC 3339 timestamp")
		}
		filter.Since = t.UTC()
	}
	filter.Limit, filter.Offset = parsePaging(ctx)

	items, total, err := c.triggers.ListExecutions(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list executions", http.StatusInternalServerError)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"executions": items,
		"total":      total,
		"limit":      filter.Limit,
		"offset":     filter.Offset,
	})
}
