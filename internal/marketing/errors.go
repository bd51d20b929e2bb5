package marketing

import (
	"github.com/teashop/storefront/internal/errors"
)

const componentName = "marketing"

// Execution errors. NoMatch and Cooldown are not errors: they surface as a
// false match or a skipped Outcome.
var (
	ErrBudgetExceeded      = errors.NewStd("trigger budget exceeded")
	ErrUnknownAction       = errors.NewStd("unknown action")
	ErrActionFailed        = errors.NewStd("action service failure")
	ErrDatabaseUnavailable = errors.NewStd("database unavailable")
	ErrTriggerInactive     = errors.NewStd("trigger is inactive")
	ErrInvalidActionConfig = errors.NewStd("invalid action config")
	ErrServiceUnavailable  = errors.NewStd("action service not configured")
)

// wrapExecError tags cause with a sentinel, the taxonomy category and the unit of work.
func wrapExecError(sentinel, cause error, category errors.Category, triggerID, userID uint) error {
	var b *errors.ErrorBuilder
	if cause == nil {
		b = errors.New(sentinel)
	} else {
		b = errors.Newf("%w: %w", sentinel, cause)
	}
	return b.Component(componentName).
		Category(category).
		Context("trigger_id", triggerID).
		Context("user_id", userID).
		Build()
}

// reportable reports whether err should reach the external error tracker.
// Budget exhaustion and inactive triggers are expected lifecycle events.
func reportable(err error) bool {
	return err != nil &&
		!errors.Is(err, ErrBudgetExceeded) &&
		!errors.Is(err, ErrTriggerInactive)
}
