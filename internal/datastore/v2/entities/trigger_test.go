package entities

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

// TestTriggerJSONKeys verifies the admin API sees snake_case keys and that
// money columns serialize as decimal strings.
func TestTriggerJSONKeys(t *testing.T) {
	t.Parallel()

	trigger := Trigger{
		ID:           3,
		Name:         "Welcome coupon",
		TriggerType:  "user_register",
		Conditions:   datatypes.JSONMap{},
		Action:       "send_coupon",
		ActionConfig: datatypes.JSONMap{"couponTemplateId": float64(7)},
		Budget:       decimal.NewNullDecimal(decimal.NewFromInt(50)),
		Spent:        decimal.NewFromInt(20),
		IsActive:     true,
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(trigger)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))

	for _, key := range []string{
		"id", "name", "description", "trigger_type", "conditions", "action",
		"action_config", "budget", "spent", "is_active", "group_tag", "built_in",
		"created_at", "updated_at",
	} {
		assert.Contains(t, m, key)
	}
	assert.NotContains(t, m, "TriggerType")
	assert.Equal(t, "50", m["budget"])
	assert.Equal(t, "20", m["spent"])
	assert.Equal(t, map[string]any{"couponTemplateId": float64(7)}, m["action_config"])
}

func TestTriggerJSON_NullBudget(t *testing.T) {
	t.Parallel()

	var trigger Trigger
	require.NoError(t, json.Unmarshal([]byte(`{"name":"x","budget":null,"spent":"0"}`), &trigger))
	assert.False(t, trigger.HasBudget())
	assert.False(t, trigger.BudgetExhausted())

	_, ok := trigger.Remaining()
	assert.False(t, ok)
}

func TestTrigger_BudgetHelpers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		budget    int64
		spent     int64
		exhausted bool
		remaining int64
	}{
		{"fresh", 50, 0, false, 50},
		{"partially spent", 50, 40, false, 10},
		{"exactly spent", 50, 50, true, 0},
		{"overspent", 50, 60, true, -10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			trigger := Trigger{
				Budget: decimal.NewNullDecimal(decimal.NewFromInt(tt.budget)),
				Spent:  decimal.NewFromInt(tt.spent),
			}
			assert.Equal(t, tt.exhausted, trigger.BudgetExhausted())
			remaining, ok := trigger.Remaining()
			require.True(t, ok)
			assert.True(t, remaining.Equal(decimal.NewFromInt(tt.remaining)))
		})
	}
}

func TestTriggerExecutionJSONKeys(t *testing.T) {
	t.Parallel()

	exec := TriggerExecution{
		ID:            1,
		TriggerID:     3,
		UserID:        42,
		Status:        ExecutionStatusSuccess,
		Source:        ExecutionSourceEvent,
		CorrelationID: "trigger_3_1767225600000",
		Result:        datatypes.JSON(`{"coupon_id":"c-1"}`),
		SpentAmount:   decimal.NewFromInt(20),
		ExecutedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(exec)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))

	for _, key := range []string{"id", "trigger_id", "user_id", "status", "source", "correlation_id", "result", "spent_amount", "executed_at"} {
		assert.Contains(t, m, key)
	}
	assert.NotContains(t, m, "error_message", "empty error message is omitted")
	assert.NotContains(t, m, "Trigger")
	assert.True(t, exec.Succeeded())
}
