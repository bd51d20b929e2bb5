package marketing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/teashop/storefront/internal/datastore/v2/entities"
)

// EventContext is a business event as seen by the matcher.
type EventContext struct {
	UserID    uint
	EventType EventType
	EventData map[string]any
}

// Strategy decides whether a trigger applies to an event. Implementations
// must be pure and never return an error: anything unexpected is a non-match.
type Strategy interface {
	Match(trigger *entities.Trigger, event EventContext) bool
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(trigger *entities.Trigger, event EventContext) bool

func (f StrategyFunc) Match(trigger *entities.Trigger, event EventContext) bool {
	return f(trigger, event)
}

// Registry maps trigger types to strategies. Register is not safe for
// concurrent use with Match; finish registration before sharing the registry.
type Registry struct {
	strategies map[TriggerType]Strategy
}

// NewRegistry returns a registry with the built-in strategies.
func NewRegistry() *Registry {
	r := &Registry{strategies: make(map[TriggerType]Strategy)}
	r.Register(TriggerUserRegister, StrategyFunc(matchUserRegister))
	r.Register(TriggerFirstOrder, StrategyFunc(matchFirstOrder))
	r.Register(TriggerOrderAmount, StrategyFunc(matchOrderAmount))

	// Time-driven types have no discrete event; only the scheduler runs them.
	never := StrategyFunc(func(*entities.Trigger, EventContext) bool { return false })
	r.Register(TriggerUserChurn, never)
	r.Register(TriggerUserInactive, never)
	r.Register(TriggerUserBirthday, never)
	r.Register(TriggerScheduledTime, never)
	return r
}

// Register installs or replaces the strategy for a trigger type.
func (r *Registry) Register(t TriggerType, s Strategy) {
	r.strategies[t] = s
}

// Match reports whether trigger applies to event. Unknown types never match.
func (r *Registry) Match(trigger *entities.Trigger, event EventContext) bool {
	s, ok := r.strategies[TriggerType(trigger.TriggerType)]
	if !ok {
		return false
	}
	return s.Match(trigger, event)
}

func matchUserRegister(_ *entities.Trigger, event EventContext) bool {
	return event.EventType == EventUserRegister
}

// matchFirstOrder requires exactly one completed order, counting the current one.
func matchFirstOrder(_ *entities.Trigger, event EventContext) bool {
	if event.EventType != EventOrderCompleted {
		return false
	}
	count, ok := toDecimal(event.EventData[DataUserOrderCount])
	return ok && count.Equal(decimal.NewFromInt(1))
}

// matchOrderAmount compares order amount and minAmount as decimals.
// A missing minAmount means any completed order qualifies.
func matchOrderAmount(trigger *entities.Trigger, event EventContext) bool {
	if event.EventType != EventOrderCompleted {
		return false
	}
	amount, ok := toDecimal(event.EventData[DataOrderAmount])
	if !ok {
		return false
	}
	minAmount := decimal.Zero
	if raw, present := trigger.Conditions[CondMinAmount]; present && raw != nil {
		minAmount, ok = toDecimal(raw)
		if !ok {
			return false
		}
	}
	return amount.GreaterThanOrEqual(minAmount)
}

// toDecimal converts JSON-decoded and Go numeric values to a decimal.
func toDecimal(val any) (decimal.Decimal, bool) {
	switch v := val.(type) {
	case decimal.Decimal:
		return v, true
	case float64:
		return decimal.NewFromFloat(v), true
	case float32:
		return decimal.NewFromFloat32(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int32:
		return decimal.NewFromInt32(v), true
	case int64:
		return decimal.NewFromInt(v), true
	case uint:
		return decimal.NewFromUint64(uint64(v)), true
	case uint32:
		return decimal.NewFromUint64(uint64(v)), true
	case uint64:
		return decimal.NewFromUint64(v), true
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}

// toInt64 converts a whole number; fractional values are rejected.
func toInt64(val any) (int64, bool) {
	d, ok := toDecimal(val)
	if !ok || !d.Equal(d.Truncate(0)) {
		return 0, false
	}
	return d.IntPart(), true
}

// toBool accepts booleans and the strings "true"/"false".
func toBool(val any) bool {
	switch v := val.(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		return err == nil && b
	default:
		return false
	}
}

// toIntSlice converts a JSON array of whole numbers.
func toIntSlice(val any) ([]int, error) {
	if ints, ok := val.([]int); ok {
		return ints, nil
	}
	items, ok := val.([]any)
	if !ok {
		return nil, fmt.Errorf("expected an array, got %T", val)
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		n, ok := toInt64(item)
		if !ok {
			return nil, fmt.Errorf("expected whole numbers, got %v", item)
		}
		out = append(out, int(n))
	}
	return out, nil
}
