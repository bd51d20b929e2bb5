package marketing

import (
	"fmt"
	"strings"

	"github.com/teashop/storefront/internal/datastore/v2/entities"
	"github.com/teashop/storefront/internal/errors"
)

// ErrInvalidTrigger is wrapped by every ValidateTrigger failure.
var ErrInvalidTrigger = errors.NewStd("invalid trigger")

// ValidateTrigger checks a trigger before it is stored. All problems are
// reported together.
func ValidateTrigger(t *entities.Trigger) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(t.Name) == "" {
		add("name is required")
	}
	if !TriggerType(t.TriggerType).Valid() {
		add("unknown trigger type %q", t.TriggerType)
	}
	if !ActionKind(t.Action).Valid() {
		add("unknown action %q", t.Action)
	}
	if t.Budget.Valid && t.Budget.Decimal.IsNegative() {
		add("budget must not be negative")
	}

	if v, ok := t.Conditions[CondMinAmount]; ok {
		if d, ok := toDecimal(v); !ok || d.IsNegative() {
			add("%s must be a non-negative number", CondMinAmount)
		}
	}
	if v, ok := t.Conditions[CondInactiveDays]; ok {
		if n, ok := toInt64(v); !ok || n <= 0 {
			add("%s must be a positive whole number", CondInactiveDays)
		}
	}
	if v, ok := t.Conditions[CondOncePerUser]; ok {
		if _, ok := v.(bool); !ok {
			add("%s must be a boolean", CondOncePerUser)
		}
	}
	if TriggerType(t.TriggerType) == TriggerScheduledTime {
		if n, ok := toInt64(t.Conditions[CondHour]); !ok || n < 0 || n > 23 {
			add("%s must be a whole number between 0 and 23", CondHour)
		}
		if v, ok := t.Conditions[CondWeekdays]; ok && v != nil {
			days, err := toIntSlice(v)
			if err != nil {
				add("%s: %v", CondWeekdays, err)
			}
			for _, d := range days {
				if d < 0 || d > 6 {
					add("%s must contain values between 0 (Sunday) and 6", CondWeekdays)
					break
				}
			}
		}
	}

	switch ActionKind(t.Action) {
	case ActionSendCoupon:
		if _, err := couponTemplateID(t); err != nil {
			add("%s must be a positive whole number", CfgCouponTemplateID)
		}
	case ActionAddPoints:
		if n, ok := toInt64(t.ActionConfig[CfgPoints]); !ok || n <= 0 {
			add("%s must be a positive whole number", CfgPoints)
		}
	case ActionSendNotification:
		if configString(t, CfgMessage) == "" {
			add("%s is required", CfgMessage)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.Newf("%w: %s", ErrInvalidTrigger, strings.Join(problems, "; ")).
		Component(componentName).
		Category(errors.CategoryValidation).
		Build()
}
