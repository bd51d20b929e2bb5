package repository

import "github.com/teashop/storefront/internal/errors"

var (
	// ErrTriggerNotFound is returned when a trigger ID does not exist.
	ErrTriggerNotFound = errors.NewStd("trigger not found")
	// ErrTriggerInactive is returned when a spend reservation targets a deactivated trigger.
	ErrTriggerInactive = errors.NewStd("trigger is inactive")
	// ErrBudgetExhausted is returned when a spend reservation would exceed the trigger budget.
	ErrBudgetExhausted = errors.NewStd("trigger budget exhausted")
	// ErrTriggerInUse is returned when deleting a trigger that has ledger rows.
	ErrTriggerInUse = errors.NewStd("trigger has execution history")
	// ErrUserNotFound is returned when a user ID does not exist.
	ErrUserNotFound = errors.NewStd("user not found")
)
