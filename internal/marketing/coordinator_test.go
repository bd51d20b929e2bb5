package marketing

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/teashop/storefront/internal/clock"
	"github.com/teashop/storefront/internal/datastore/v2/entities"
	"github.com/teashop/storefront/internal/errors"
)

var testEpoch = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

type coordinatorFixture struct {
	repo     *mockTriggerRepo
	coupons  *mockCoupons
	notifier *mockNotifier
	points   *mockPoints
	clock    *clock.FakeClock
	coord    *Coordinator
}

func newCoordinatorFixture(t *testing.T, triggers ...entities.Trigger) *coordinatorFixture {
	t.Helper()
	f := &coordinatorFixture{
		repo:     newMockTriggerRepo(triggers...),
		coupons:  &mockCoupons{value: decimal.NewFromInt(20)},
		notifier: &mockNotifier{},
		points:   &mockPoints{},
		clock:    clock.NewFakeClock(testEpoch),
	}
	actions := NewActionDispatcher(ActionServices{
		Coupons:  f.coupons,
		Notifier: f.notifier,
		Points:   f.points,
		Users:    &mockAudience{},
	}, ActionConfig{Timeout: time.Second}, nil, testLogger(), nil)
	cooldown := NewCooldownCache(time.Hour, 0, f.clock)
	f.coord = NewCoordinator(f.repo, actions, cooldown, f.clock, testLogger(), nil)
	return f
}

func couponTrigger(id uint, templateID int) entities.Trigger {
	return entities.Trigger{
		ID:           id,
		Name:         "coupon",
		TriggerType:  string(TriggerUserRegister),
		Action:       string(ActionSendCoupon),
		ActionConfig: datatypes.JSONMap{CfgCouponTemplateID: templateID},
		IsActive:     true,
	}
}

func budgeted(t entities.Trigger, budget int64) entities.Trigger {
	t.Budget = decimal.NewNullDecimal(decimal.NewFromInt(budget))
	return t
}

func TestCoordinator_RegisterSendsCoupon(t *testing.T) {
	t.Parallel()

	trigger := couponTrigger(3, 7)
	f := newCoordinatorFixture(t, trigger)

	outcome, err := f.coord.Execute(t.Context(), &trigger, 42, entities.ExecutionSourceEvent)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, outcome)

	claims := f.coupons.claimed()
	require.Len(t, claims, 1)
	assert.Equal(t, uint(42), claims[0].UserID)
	assert.Equal(t, uint(7), claims[0].TemplateID)
	assert.True(t, strings.HasPrefix(claims[0].CorrelationID, "trigger_3_"), claims[0].CorrelationID)
	assert.Equal(t, CorrelationID(3, testEpoch), claims[0].CorrelationID)

	ledger := f.repo.ledger()
	require.Len(t, ledger, 1)
	assert.Equal(t, entities.ExecutionStatusSuccess, ledger[0].Status)
	assert.Equal(t, claims[0].CorrelationID, ledger[0].CorrelationID)
	assert.Equal(t, entities.ExecutionSourceEvent, ledger[0].Source)
	assert.True(t, ledger[0].SpentAmount.Equal(decimal.NewFromInt(20)))
	assert.Contains(t, string(ledger[0].Result), `"template_id":7`)
}

func TestCoordinator_CooldownWithinTTL(t *testing.T) {
	t.Parallel()

	trigger := couponTrigger(1, 7)
	f := newCoordinatorFixture(t, trigger)

	outcome, err := f.coord.Execute(t.Context(), &trigger, 42, entities.ExecutionSourceEvent)
	require.NoError(t, err)
	require.Equal(t, OutcomeExecuted, outcome)

	f.clock.Advance(59 * time.Minute)
	outcome, err = f.coord.Execute(t.Context(), &trigger, 42, entities.ExecutionSourceEvent)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkippedCooldown, outcome)
	assert.Len(t, f.coupons.claimed(), 1)
	assert.Len(t, f.repo.ledger(), 1, "cooldown skips write no ledger row")

	// A different user is not affected by the cooldown.
	outcome, err = f.coord.Execute(t.Context(), &trigger, 43, entities.ExecutionSourceEvent)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, outcome)

	f.clock.Advance(2 * time.Minute)
	outcome, err = f.coord.Execute(t.Context(), &trigger, 42, entities.ExecutionSourceEvent)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, outcome)
	assert.Len(t, f.coupons.claimed(), 3)
}

func TestCoordinator_BudgetExhaustion(t *testing.T) {
	t.Parallel()

	trigger := budgeted(couponTrigger(5, 7), 50)
	f := newCoordinatorFixture(t, trigger)

	for _, user := range []uint{1, 2} {
		outcome, err := f.coord.Execute(t.Context(), &trigger, user, entities.ExecutionSourceEvent)
		require.NoError(t, err)
		require.Equal(t, OutcomeExecuted, outcome)
	}
	assert.True(t, f.repo.trigger(5).Spent.Equal(decimal.NewFromInt(40)))

	outcome, err := f.coord.Execute(t.Context(), &trigger, 3, entities.ExecutionSourceEvent)
	require.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Equal(t, OutcomeBudgetExceeded, outcome)
	assert.Equal(t, errors.CategoryBudget, errors.CategoryOf(err))

	stored := f.repo.trigger(5)
	assert.False(t, stored.IsActive, "exhausted trigger is deactivated")
	assert.True(t, stored.Spent.Equal(decimal.NewFromInt(40)), "rejected attempt does not spend")
	assert.Len(t, f.coupons.claimed(), 2)

	failed := f.repo.ledgerByStatus(entities.ExecutionStatusFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, uint(3), failed[0].UserID)
	assert.Equal(t, ErrBudgetExceeded.Error(), failed[0].ErrorMessage)

	// Once deactivated, further attempts are skipped without touching services.
	outcome, err = f.coord.Execute(t.Context(), &trigger, 4, entities.ExecutionSourceEvent)
	require.ErrorIs(t, err, ErrTriggerInactive)
	assert.Equal(t, OutcomeSkippedInactive, outcome)
	assert.Len(t, f.coupons.claimed(), 2)
}

func TestCoordinator_BudgetNeverOverspentUnderConcurrency(t *testing.T) {
	t.Parallel()

	trigger := budgeted(couponTrigger(9, 7), 50)
	f := newCoordinatorFixture(t, trigger)

	var wg sync.WaitGroup
	for user := uint(1); user <= 20; user++ {
		wg.Go(func() {
			local := trigger
			_, _ = f.coord.Execute(t.Context(), &local, user, entities.ExecutionSourceScheduler)
		})
	}
	wg.Wait()

	stored := f.repo.trigger(9)
	assert.True(t, stored.Spent.LessThanOrEqual(decimal.NewFromInt(50)), "spent %s", stored.Spent)
	assert.Len(t, f.coupons.claimed(), 2)
	assert.Len(t, f.repo.ledgerByStatus(entities.ExecutionStatusSuccess), 2)
	assert.False(t, stored.IsActive)
}

func TestCoordinator_UnknownAction(t *testing.T) {
	t.Parallel()

	trigger := couponTrigger(2, 7)
	trigger.Action = "send_postcard"
	f := newCoordinatorFixture(t, trigger)

	outcome, err := f.coord.Execute(t.Context(), &trigger, 42, entities.ExecutionSourceEvent)
	require.ErrorIs(t, err, ErrUnknownAction)
	assert.Equal(t, OutcomeFailed, outcome)

	failed := f.repo.ledgerByStatus(entities.ExecutionStatusFailed)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].ErrorMessage, "send_postcard")
	assert.True(t, f.repo.trigger(2).IsActive, "unknown action keeps the trigger active")
}

func TestCoordinator_ActionFailureReleasesReservation(t *testing.T) {
	t.Parallel()

	trigger := budgeted(couponTrigger(4, 7), 100)
	f := newCoordinatorFixture(t, trigger)
	f.coupons.failFor = map[uint]bool{42: true}

	outcome, err := f.coord.Execute(t.Context(), &trigger, 42, entities.ExecutionSourceEvent)
	require.ErrorIs(t, err, ErrActionFailed)
	require.ErrorIs(t, err, errCouponServiceDown)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, errors.CategoryAction, errors.CategoryOf(err))

	stored := f.repo.trigger(4)
	assert.True(t, stored.Spent.IsZero(), "reservation released, spent %s", stored.Spent)
	assert.True(t, stored.IsActive)

	failed := f.repo.ledgerByStatus(entities.ExecutionStatusFailed)
	require.Len(t, failed, 1)
	assert.True(t, strings.HasPrefix(failed[0].CorrelationID, "trigger_4_"))

	// No cooldown after a failure, so a retry runs once the service recovers.
	f.coupons.mu.Lock()
	f.coupons.failFor = nil
	f.coupons.mu.Unlock()
	outcome, err = f.coord.Execute(t.Context(), &trigger, 42, entities.ExecutionSourceEvent)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, outcome)
}

func TestCoordinator_AddPoints(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		points  any
		wantErr bool
	}{
		{"positive", 100, false},
		{"zero", 0, true},
		{"negative", -5, true},
		{"fractional", 1.5, true},
		{"missing", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			trigger := entities.Trigger{
				ID:           1,
				Name:         "points",
				TriggerType:  string(TriggerFirstOrder),
				Action:       string(ActionAddPoints),
				ActionConfig: datatypes.JSONMap{},
				IsActive:     true,
			}
			if tt.points != nil {
				trigger.ActionConfig[CfgPoints] = tt.points
			}
			f := newCoordinatorFixture(t, trigger)

			outcome, err := f.coord.Execute(t.Context(), &trigger, 42, entities.ExecutionSourceEvent)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrActionFailed)
				require.ErrorIs(t, err, ErrInvalidActionConfig)
				assert.Equal(t, OutcomeFailed, outcome)
				assert.Empty(t, f.points.grants)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, OutcomeExecuted, outcome)
			assert.Equal(t, int64(100), f.points.grants[42])
		})
	}
}

func TestCoordinator_OncePerUser(t *testing.T) {
	t.Parallel()

	trigger := couponTrigger(6, 7)
	trigger.Conditions = datatypes.JSONMap{CondOncePerUser: true}
	f := newCoordinatorFixture(t, trigger)

	outcome, err := f.coord.Execute(t.Context(), &trigger, 42, entities.ExecutionSourceScheduler)
	require.NoError(t, err)
	require.Equal(t, OutcomeExecuted, outcome)

	f.clock.Advance(48 * time.Hour)
	outcome, err = f.coord.Execute(t.Context(), &trigger, 42, entities.ExecutionSourceScheduler)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkippedLedger, outcome)
	assert.Len(t, f.coupons.claimed(), 1)
}

func TestCoordinator_LedgerFailureKeepsOutcome(t *testing.T) {
	t.Parallel()

	trigger := couponTrigger(1, 7)
	f := newCoordinatorFixture(t, trigger)
	f.repo.appendErr = errCouponServiceDown

	outcome, err := f.coord.Execute(t.Context(), &trigger, 42, entities.ExecutionSourceEvent)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, outcome)

	outcome, err = f.coord.Execute(t.Context(), &trigger, 42, entities.ExecutionSourceEvent)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkippedCooldown, outcome, "cooldown is marked even when the ledger write fails")
}

func TestCoordinator_DatabaseUnavailable(t *testing.T) {
	t.Parallel()

	trigger := budgeted(couponTrigger(1, 7), 50)
	f := newCoordinatorFixture(t, trigger)
	f.repo.getErr = errCouponServiceDown

	outcome, err := f.coord.Execute(t.Context(), &trigger, 42, entities.ExecutionSourceEvent)
	require.ErrorIs(t, err, ErrDatabaseUnavailable)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, errors.CategoryDatabase, errors.CategoryOf(err))
	assert.Empty(t, f.coupons.claimed())
}

func TestCoordinator_FollowUpNotification(t *testing.T) {
	t.Parallel()

	trigger := couponTrigger(1, 7)
	trigger.Name = "Welcome"
	trigger.ActionConfig[CfgTitle] = "{{trigger_name}}"
	trigger.ActionConfig[CfgMessage] = "Hi {{first_name}}, enjoy {{coupon_value}} off"
	f := newCoordinatorFixture(t, trigger)

	_, err := f.coord.Execute(t.Context(), &trigger, 42, entities.ExecutionSourceEvent)
	require.NoError(t, err)

	msgs := f.notifier.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, uint(42), msgs[0].UserID)
	assert.Equal(t, "Welcome", msgs[0].Msg.Title)
	assert.True(t, strings.HasPrefix(msgs[0].Msg.Body, "Hi Mei, enjoy "), msgs[0].Msg.Body)
	assert.Contains(t, msgs[0].Msg.Body, "20.00")
	assert.Equal(t, msgs[0].Msg.CorrelationID, f.coupons.claimed()[0].CorrelationID)
}

func TestCoordinator_FollowUpFailureDoesNotFailAction(t *testing.T) {
	t.Parallel()

	trigger := couponTrigger(1, 7)
	trigger.ActionConfig[CfgMessage] = "hello"
	f := newCoordinatorFixture(t, trigger)
	f.notifier.err = errCouponServiceDown

	outcome, err := f.coord.Execute(t.Context(), &trigger, 42, entities.ExecutionSourceEvent)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, outcome)
}
