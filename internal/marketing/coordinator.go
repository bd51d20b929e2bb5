package marketing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/teashop/storefront/internal/clock"
	"github.com/teashop/storefront/internal/datastore/v2/entities"
	"github.com/teashop/storefront/internal/datastore/v2/repository"
	"github.com/teashop/storefront/internal/errors"
	"github.com/teashop/storefront/internal/logger"
)

const ledgerWriteTimeout = 3 * time.Second

// Actions is the part of ActionDispatcher the coordinator needs.
type Actions interface {
	EstimateCost(ctx context.Context, trigger *entities.Trigger) (decimal.Decimal, error)
	Run(ctx context.Context, req ActionRequest) (ActionResult, error)
}

// Coordinator executes one trigger for one user: it deduplicates through
// the cooldown cache, enforces the budget, dispatches the action and
// records the result in the execution ledger.
type Coordinator struct {
	repo     repository.TriggerRepository
	actions  Actions
	cooldown *CooldownCache
	clock    clock.Clock
	log      logger.Logger
	metrics  *Metrics
}

// NewCoordinator creates a new Coordinator.
func NewCoordinator(repo repository.TriggerRepository, actions Actions, cooldown *CooldownCache, clk clock.Clock, log logger.Logger, metrics *Metrics) *Coordinator {
	if clk == nil {
		clk = clock.Real{}
	}
	if cooldown == nil {
		cooldown = NewCooldownCache(DefaultCooldownTTL, 0, clk)
	}
	return &Coordinator{
		repo:     repo,
		actions:  actions,
		cooldown: cooldown,
		clock:    clk,
		log:      log.Module("coordinator"),
		metrics:  metrics,
	}
}

// CorrelationID formats the idempotency key handed to action services.
func CorrelationID(triggerID uint, at time.Time) string {
	return fmt.Sprintf("trigger_%d_%d", triggerID, at.UnixMilli())
}

// Execute runs trigger for userID. Skipped outcomes return a nil error.
// The returned error wraps one of ErrBudgetExceeded, ErrUnknownAction,
// ErrActionFailed, ErrDatabaseUnavailable or ErrTriggerInactive.
func (c *Coordinator) Execute(ctx context.Context, trigger *entities.Trigger, userID uint, source string) (Outcome, error) {
	if c.cooldown.Active(trigger.ID, userID) {
		c.metrics.skip(OutcomeSkippedCooldown)
		c.log.Debug("trigger in cooldown",
			logger.Uint64("trigger_id", uint64(trigger.ID)),
			logger.Uint64("user_id", uint64(userID)))
		return OutcomeSkippedCooldown, nil
	}

	if toBool(trigger.Conditions[CondOncePerUser]) {
		n, err := c.repo.CountSuccessful(ctx, trigger.ID, userID)
		if err != nil {
			return OutcomeFailed, wrapExecError(ErrDatabaseUnavailable, err, errors.CategoryDatabase, trigger.ID, userID)
		}
		if n > 0 {
			c.metrics.skip(OutcomeSkippedLedger)
			return OutcomeSkippedLedger, nil
		}
	}

	if trigger.HasBudget() {
		fresh, err := c.repo.GetTrigger(ctx, trigger.ID)
		switch {
		case errors.Is(err, repository.ErrTriggerNotFound):
			c.metrics.skip(OutcomeSkippedInactive)
			return OutcomeSkippedInactive, wrapExecError(ErrTriggerInactive, err, errors.CategoryNotFound, trigger.ID, userID)
		case err != nil:
			return OutcomeFailed, wrapExecError(ErrDatabaseUnavailable, err, errors.CategoryDatabase, trigger.ID, userID)
		}
		if !fresh.IsActive {
			c.metrics.skip(OutcomeSkippedInactive)
			return OutcomeSkippedInactive, wrapExecError(ErrTriggerInactive, nil, errors.CategoryBudget, trigger.ID, userID)
		}
		if fresh.BudgetExhausted() {
			return c.rejectBudget(ctx, fresh, userID, source, "")
		}
		trigger = fresh
	}

	correlationID := CorrelationID(trigger.ID, c.clock.Now())

	if !ActionKind(trigger.Action).Valid() {
		c.appendLedger(ctx, &entities.TriggerExecution{
			TriggerID:     trigger.ID,
			UserID:        userID,
			Status:        entities.ExecutionStatusFailed,
			Source:        source,
			CorrelationID: correlationID,
			ErrorMessage:  fmt.Sprintf("unknown action %q", trigger.Action),
		})
		c.metrics.execution(trigger.TriggerType, trigger.Action, entities.ExecutionStatusFailed)
		return OutcomeFailed, wrapExecError(ErrUnknownAction, fmt.Errorf("action %q", trigger.Action), errors.CategoryValidation, trigger.ID, userID)
	}

	reserved := decimal.Zero
	if trigger.HasBudget() {
		cost, err := c.actions.EstimateCost(ctx, trigger)
		if err != nil {
			return c.fail(ctx, trigger, userID, source, correlationID, err)
		}
		if cost.IsPositive() {
			err := c.repo.ReserveSpend(ctx, trigger.ID, cost)
			switch {
			case errors.Is(err, repository.ErrBudgetExhausted):
				return c.rejectBudget(ctx, trigger, userID, source, correlationID)
			case errors.Is(err, repository.ErrTriggerInactive), errors.Is(err, repository.ErrTriggerNotFound):
				c.metrics.skip(OutcomeSkippedInactive)
				return OutcomeSkippedInactive, wrapExecError(ErrTriggerInactive, err, errors.CategoryBudget, trigger.ID, userID)
			case err != nil:
				return OutcomeFailed, wrapExecError(ErrDatabaseUnavailable, err, errors.CategoryDatabase, trigger.ID, userID)
			}
			reserved = cost
		}
	}

	result, err := c.actions.Run(ctx, ActionRequest{
		Trigger:       trigger,
		UserID:        userID,
		CorrelationID: correlationID,
	})
	if err != nil {
		if reserved.IsPositive() {
			if rerr := c.repo.IncrementSpent(c.detached(ctx), trigger.ID, reserved.Neg()); rerr != nil {
				c.log.Error("failed to release budget reservation",
					logger.Uint64("trigger_id", uint64(trigger.ID)),
					logger.String("amount", reserved.String()),
					logger.Error(rerr))
			}
		}
		return c.fail(ctx, trigger, userID, source, correlationID, err)
	}

	if trigger.HasBudget() {
		if delta := result.Spent.Sub(reserved); !delta.IsZero() {
			if serr := c.repo.IncrementSpent(c.detached(ctx), trigger.ID, delta); serr != nil {
				c.log.Error("failed to settle trigger spend",
					logger.Uint64("trigger_id", uint64(trigger.ID)),
					logger.String("delta", delta.String()),
					logger.Error(serr))
			}
		}
	}

	c.appendLedger(ctx, &entities.TriggerExecution{
		TriggerID:     trigger.ID,
		UserID:        userID,
		Status:        entities.ExecutionStatusSuccess,
		Source:        source,
		CorrelationID: correlationID,
		Result:        encodePayload(result.Payload),
		SpentAmount:   result.Spent,
	})
	c.cooldown.Mark(trigger.ID, userID)
	c.metrics.execution(trigger.TriggerType, trigger.Action, entities.ExecutionStatusSuccess)

	c.log.Info("trigger executed",
		logger.Uint64("trigger_id", uint64(trigger.ID)),
		logger.String("trigger_name", trigger.Name),
		logger.String("action", trigger.Action),
		logger.Uint64("user_id", uint64(userID)),
		logger.String("correlation_id", correlationID),
		logger.String("source", source))

	return OutcomeExecuted, nil
}

// rejectBudget deactivates an exhausted trigger and records the attempt.
func (c *Coordinator) rejectBudget(ctx context.Context, trigger *entities.Trigger, userID uint, source, correlationID string) (Outcome, error) {
	if correlationID == "" {
		correlationID = CorrelationID(trigger.ID, c.clock.Now())
	}
	dctx := c.detached(ctx)
	if err := c.repo.Deactivate(dctx, trigger.ID); err != nil {
		c.log.Error("failed to deactivate exhausted trigger",
			logger.Uint64("trigger_id", uint64(trigger.ID)),
			logger.Error(err))
	}
	c.appendLedger(ctx, &entities.TriggerExecution{
		TriggerID:     trigger.ID,
		UserID:        userID,
		Status:        entities.ExecutionStatusFailed,
		Source:        source,
		CorrelationID: correlationID,
		ErrorMessage:  ErrBudgetExceeded.Error(),
	})
	c.metrics.execution(trigger.TriggerType, trigger.Action, entities.ExecutionStatusFailed)
	c.metrics.budgetExhaustedFor(trigger.TriggerType)

	budget := trigger.Budget.Decimal.String()
	c.log.Warn("trigger budget exhausted, deactivated",
		logger.Uint64("trigger_id", uint64(trigger.ID)),
		logger.String("trigger_name", trigger.Name),
		logger.String("budget", budget),
		logger.String("spent", trigger.Spent.String()))

	return OutcomeBudgetExceeded, wrapExecError(ErrBudgetExceeded, nil, errors.CategoryBudget, trigger.ID, userID)
}

// fail records an action failure. The trigger stays active and no cooldown is set.
func (c *Coordinator) fail(ctx context.Context, trigger *entities.Trigger, userID uint, source, correlationID string, cause error) (Outcome, error) {
	c.appendLedger(ctx, &entities.TriggerExecution{
		TriggerID:     trigger.ID,
		UserID:        userID,
		Status:        entities.ExecutionStatusFailed,
		Source:        source,
		CorrelationID: correlationID,
		ErrorMessage:  cause.Error(),
	})
	c.metrics.execution(trigger.TriggerType, trigger.Action, entities.ExecutionStatusFailed)

	c.log.Warn("trigger action failed",
		logger.Uint64("trigger_id", uint64(trigger.ID)),
		logger.String("action", trigger.Action),
		logger.Uint64("user_id", uint64(userID)),
		logger.String("correlation_id", correlationID),
		logger.Error(cause))

	category := errors.CategoryAction
	if errors.Is(cause, ErrInvalidActionConfig) {
		category = errors.CategoryValidation
	} else if errors.CategoryOf(cause) == errors.CategoryTimeout {
		category = errors.CategoryTimeout
	}
	return OutcomeFailed, wrapExecError(ErrActionFailed, cause, category, trigger.ID, userID)
}

// appendLedger writes a ledger row. Failures are logged and reported but
// never change the outcome of an action that already ran.
func (c *Coordinator) appendLedger(ctx context.Context, exec *entities.TriggerExecution) {
	exec.ExecutedAt = c.clock.Now().UTC()
	dctx, cancel := context.WithTimeout(c.detached(ctx), ledgerWriteTimeout)
	defer cancel()
	if err := c.repo.AppendExecution(dctx, exec); err != nil {
		c.log.Error("failed to append execution ledger row",
			logger.Uint64("trigger_id", uint64(exec.TriggerID)),
			logger.Uint64("user_id", uint64(exec.UserID)),
			logger.String("status", exec.Status),
			logger.Error(err))
		errors.Report(wrapExecError(ErrDatabaseUnavailable, err, errors.CategoryDatabase, exec.TriggerID, exec.UserID))
	}
}

func (c *Coordinator) detached(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func encodePayload(payload map[string]any) datatypes.JSON {
	if len(payload) == 0 {
		return nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
