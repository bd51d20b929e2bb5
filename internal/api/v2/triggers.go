package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/teashop/storefront/internal/datastore/v2/entities"
	"github.com/teashop/storefront/internal/datastore/v2/repository"
	"github.com/teashop/storefront/internal/errors"
	"github.com/teashop/storefront/internal/logger"
	"github.com/teashop/storefront/internal/marketing"
)

// initTriggerRoutes registers trigger management endpoints.
func (c *Controller) initTriggerRoutes() {
	c.Group.GET("/schema", c.GetTriggerSchema)

	triggers := c.Group.Group("/triggers")

	// Public read endpoints
	triggers.GET("", c.ListTriggers)
	triggers.GET("/:id", c.GetTrigger)

	// Protected endpoints
	protected := triggers.Group("", c.authMiddleware)
	protected.POST("", c.CreateTrigger)
	protected.PUT("/:id", c.UpdateTrigger)
	protected.PATCH("/:id/toggle", c.ToggleTrigger)
	protected.DELETE("/:id", c.DeleteTrigger)
	protected.POST("/:id/test", c.TestTrigger)
	protected.POST("/seed-defaults", c.SeedDefaultTriggers)
}

// GetTriggerSchema returns the trigger catalog for the admin UI.
func (c *Controller) GetTriggerSchema(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, marketing.GetSchema())
}

// ListTriggers returns all triggers, optionally filtered.
func (c *Controller) ListTriggers(ctx echo.Context) error {
	filter := repository.TriggerFilter{
		TriggerType: ctx.QueryParam("type"),
		Action:      ctx.QueryParam("action"),
		GroupTag:    ctx.QueryParam("group"),
		Active:      parseBoolQuery(ctx, "active"),
		BuiltIn:     parseBoolQuery(ctx, "built_in"),
	}

	triggers, err := c.triggers.ListTriggers(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list triggers", http.StatusInternalServerError)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"triggers": triggers,
		"count":    len(triggers),
	})
}

// GetTrigger returns a single trigger by ID.
func (c *Controller) GetTrigger(ctx echo.Context) error {
	trigger, err := c.loadTrigger(ctx)
	if err != nil || trigger == nil {
		return err
	}
	return ctx.JSON(http.StatusOK, trigger)
}

// CreateTrigger validates and stores a new trigger. Spent always starts at zero.
func (c *Controller) CreateTrigger(ctx echo.Context) error {
	var trigger entities.Trigger
	if err := ctx.Bind(&trigger); err != nil {
		return badRequest(ctx, "Invalid request body")
	}
	trigger.ID = 0
	trigger.Spent = decimal.Zero
	trigger.BuiltIn = false

	if err := marketing.ValidateTrigger(&trigger); err != nil {
		return badRequest(ctx, err.Error())
	}

	reqCtx := ctx.Request().Context()
	count, err := c.triggers.CountTriggersByName(reqCtx, trigger.Name)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to create trigger", http.StatusInternalServerError)
	}
	if count > 0 {
		return ctx.JSON(http.StatusConflict, map[string]string{"error": "A trigger with this name already exists"})
	}

	if err := c.triggers.CreateTrigger(reqCtx, &trigger); err != nil {
		return c.HandleError(ctx, err, "Failed to create trigger", http.StatusInternalServerError)
	}

	c.log.Info("trigger created",
		logger.String("name", trigger.Name),
		logger.Uint64("trigger_id", uint64(trigger.ID)),
		logger.String("trigger_type", trigger.TriggerType))

	return ctx.JSON(http.StatusCreated, trigger)
}

// UpdateTrigger replaces the editable fields of a trigger. Spent and the
// built-in flag are owned by the engine and ignored here.
func (c *Controller) UpdateTrigger(ctx echo.Context) error {
	existing, err := c.loadTrigger(ctx)
	if err != nil || existing == nil {
		return err
	}

	var trigger entities.Trigger
	if err := ctx.Bind(&trigger); err != nil {
		return badRequest(ctx, "Invalid request body")
	}
	trigger.ID = existing.ID
	trigger.CreatedAt = existing.CreatedAt
	trigger.BuiltIn = existing.BuiltIn
	trigger.Spent = existing.Spent

	if err := marketing.ValidateTrigger(&trigger); err != nil {
		return badRequest(ctx, err.Error())
	}

	if err := c.triggers.UpdateTrigger(ctx.Request().Context(), &trigger); err != nil {
		if errors.Is(err, repository.ErrTriggerNotFound) {
			return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Trigger not found"})
		}
		return c.HandleError(ctx, err, "Failed to update trigger", http.StatusInternalServerError)
	}

	return ctx.JSON(http.StatusOK, trigger)
}

// ToggleTrigger activates or deactivates a trigger.
func (c *Controller) ToggleTrigger(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return badRequest(ctx, "Invalid trigger ID")
	}

	var body struct {
		Active *bool `json:"active"`
	}
	if err := ctx.Bind(&body); err != nil || body.Active == nil {
		return badRequest(ctx, "Request body must contain active")
	}

	if err := c.triggers.SetActive(ctx.Request().Context(), id, *body.Active); err != nil {
		if errors.Is(err, repository.ErrTriggerNotFound) {
			return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Trigger not found"})
		}
		return c.HandleError(ctx, err, "Failed to toggle trigger", http.StatusInternalServerError)
	}

	c.log.Info("trigger toggled",
		logger.Uint64("trigger_id", uint64(id)),
		logger.Bool("active", *body.Active))

	return ctx.JSON(http.StatusOK, map[string]any{"id": id, "active": *body.Active})
}

// DeleteTrigger removes a trigger that has never executed.
func (c *Controller) DeleteTrigger(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return badRequest(ctx, "Invalid trigger ID")
	}

	if err := c.triggers.DeleteTrigger(ctx.Request().Context(), id); err != nil {
		switch {
		case errors.Is(err, repository.ErrTriggerNotFound):
			return ctx.JSON(http.StatusNotFound, map[string]string{"error": "Trigger not found"})
		case errors.Is(err, repository.ErrTriggerInUse):
			return ctx.JSON(http.StatusConflict, map[string]string{"error": "Trigger has execution history, deactivate it instead"})
		}
		return c.HandleError(ctx, err, "Failed to delete trigger", http.StatusInternalServerError)
	}

	return ctx.NoContent(http.StatusNoContent)
}

// TestTrigger fires a trigger for one user, bypassing matching. Cooldown,
// budget and the ledger still apply.
func (c *Controller) TestTrigger(ctx echo.Context) error {
	trigger, err := c.loadTrigger(ctx)
	if err != nil || trigger == nil {
		return err
	}

	var body struct {
		UserID uint `json:"userId"`
	}
	if err := ctx.Bind(&body); err != nil || body.UserID == 0 {
		return badRequest(ctx, "Request body must contain userId")
	}

	outcome, err := c.executor.Execute(ctx.Request().Context(), trigger, body.UserID, entities.ExecutionSourceManual)
	if err != nil {
		return c.HandleError(ctx, err, "Trigger execution failed", statusForExecution(err))
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"trigger_id": trigger.ID,
		"user_id":    body.UserID,
		"outcome":    outcome,
	})
}

// SeedDefaultTriggers adds any built-in trigger missing by name.
func (c *Controller) SeedDefaultTriggers(ctx echo.Context) error {
	created, err := marketing.SeedDefaults(ctx.Request().Context(), c.triggers, c.log)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to seed default triggers", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]int{"created": created})
}

// loadTrigger resolves the :id parameter. A nil trigger with a nil error
// means the response has already been written.
func (c *Controller) loadTrigger(ctx echo.Context) (*entities.Trigger, error) {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return nil, badRequest(ctx, "Invalid trigger ID")
	}

	trigger, err := c.triggers.GetTrigger(ctx.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrTriggerNotFound) {
			return nil, ctx.JSON(http.StatusNotFound, map[string]string{"error": "Trigger not found"})
		}
		return nil, c.HandleError(ctx, err, "Failed to get trigger", http.StatusInternalServerError)
	}
	return trigger, nil
}

// statusForExecution maps the execution error taxonomy to HTTP statuses.
func statusForExecution(err error) int {
	switch {
	case errors.Is(err, marketing.ErrBudgetExceeded), errors.Is(err, marketing.ErrTriggerInactive):
		return http.StatusConflict
	case errors.Is(err, marketing.ErrUnknownAction), errors.Is(err, marketing.ErrInvalidActionConfig):
		return http.StatusUnprocessableEntity
	case errors.Is(err, marketing.ErrDatabaseUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, marketing.ErrActionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
