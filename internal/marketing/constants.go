// Package marketing runs marketing triggers: it matches storefront events
// and scheduler scans against configured triggers and executes their
// budgeted, cooldown-protected actions.
package marketing

// TriggerType identifies what activates a trigger.
type TriggerType string

const (
	TriggerUserRegister  TriggerType = "user_register"
	TriggerFirstOrder    TriggerType = "first_order"
	TriggerOrderAmount   TriggerType = "order_amount"
	TriggerUserChurn     TriggerType = "user_churn"
	TriggerUserInactive  TriggerType = "user_inactive" // alias of user_churn
	TriggerUserBirthday  TriggerType = "user_birthday"
	TriggerScheduledTime TriggerType = "scheduled_time"
)

// Valid reports whether t is a known trigger type.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerUserRegister, TriggerFirstOrder, TriggerOrderAmount,
		TriggerUserChurn, TriggerUserInactive, TriggerUserBirthday, TriggerScheduledTime:
		return true
	default:
		return false
	}
}

// Scheduled reports whether t is driven by the scheduler rather than events.
func (t TriggerType) Scheduled() bool {
	switch t {
	case TriggerUserChurn, TriggerUserInactive, TriggerUserBirthday, TriggerScheduledTime:
		return true
	default:
		return false
	}
}

// ActionKind identifies what a trigger does when it fires.
type ActionKind string

const (
	ActionSendCoupon       ActionKind = "send_coupon"
	ActionSendNotification ActionKind = "send_notification"
	ActionAddPoints        ActionKind = "add_points"
)

// Valid reports whether a is a known action.
func (a ActionKind) Valid() bool {
	switch a {
	case ActionSendCoupon, ActionSendNotification, ActionAddPoints:
		return true
	default:
		return false
	}
}

// EventType identifies a storefront business event.
type EventType string

const (
	EventUserRegister   EventType = "user_register"
	EventOrderCreated   EventType = "order_created"
	EventOrderCompleted EventType = "order_completed"
)

// Valid reports whether e is a known event type.
func (e EventType) Valid() bool {
	switch e {
	case EventUserRegister, EventOrderCreated, EventOrderCompleted:
		return true
	default:
		return false
	}
}

// Condition keys stored in Trigger.Conditions.
const (
	CondMinAmount    = "minAmount"
	CondInactiveDays = "inactiveDays"
	CondHour         = "hour"
	CondWeekdays     = "weekdays"
	CondOncePerUser  = "oncePerUser"
)

// Action config keys stored in Trigger.ActionConfig.
const (
	CfgCouponTemplateID = "couponTemplateId"
	CfgPoints           = "points"
	CfgTitle            = "title"
	CfgMessage          = "message"
)

// Event data keys.
const (
	DataOrderAmount    = "orderAmount"
	DataUserOrderCount = "userOrderCount"
	DataOrderID        = "orderId"
)

// defaultInactiveDays applies when a churn trigger has no inactiveDays.
const defaultInactiveDays = 7

// Outcome is the result of one execution attempt.
type Outcome string

const (
	OutcomeExecuted        Outcome = "executed"
	OutcomeFailed          Outcome = "failed"
	OutcomeBudgetExceeded  Outcome = "budget_exceeded"
	OutcomeSkippedCooldown Outcome = "skipped_cooldown"
	OutcomeSkippedLedger   Outcome = "skipped_once_per_user"
	OutcomeSkippedInactive Outcome = "skipped_inactive"
)

// Skipped reports whether the attempt was a silent no-op.
func (o Outcome) Skipped() bool {
	switch o {
	case OutcomeSkippedCooldown, OutcomeSkippedLedger, OutcomeSkippedInactive:
		return true
	default:
		return false
	}
}
