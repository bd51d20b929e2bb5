//go:build integration

package repository_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	v2 "github.com/teashop/storefront/internal/datastore/v2"
	"github.com/teashop/storefront/internal/datastore/v2/entities"
	"github.com/teashop/storefront/internal/datastore/v2/repository"
	"github.com/teashop/storefront/internal/testutil/containers"
)

// MySQL container shared across all tests in this package.
var (
	mysqlContainer *containers.MySQLContainer
	manager        *v2.Manager
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	mysqlContainer, err = containers.NewMySQLContainer(ctx, nil)
	if err != nil {
		panic("failed to create MySQL container: " + err.Error())
	}

	manager, err = v2.NewMySQLManager(v2.Config{DSN: mysqlContainer.DSN(), MaxOpenConns: 10})
	if err != nil {
		_ = mysqlContainer.Terminate(ctx)
		panic("failed to open manager: " + err.Error())
	}
	if err := manager.Initialize(true); err != nil {
		_ = mysqlContainer.Terminate(ctx)
		panic("failed to migrate schema: " + err.Error())
	}

	code := m.Run()

	_ = manager.Close()
	if err := mysqlContainer.Terminate(ctx); err != nil {
		panic("failed to terminate MySQL container: " + err.Error())
	}
	os.Exit(code)
}

// resetTables truncates every table touched by these tests. Tests in this
// file share one database and therefore do not run in parallel.
func resetTables(t *testing.T) *gorm.DB {
	t.Helper()
	require.NoError(t, mysqlContainer.Reset(t.Context(),
		"marketing_trigger_executions", "marketing_triggers", "orders", "users"))
	return manager.DB()
}

func TestMySQL_ReserveSpendHoldsBudgetUnderConcurrency(t *testing.T) {
	db := resetTables(t)
	repo := repository.NewTriggerRepository(db)
	ctx := t.Context()

	trigger := &entities.Trigger{
		Name:         "Budgeted welcome",
		TriggerType:  "register",
		Action:       "send_coupon",
		Conditions:   datatypes.JSONMap{},
		ActionConfig: datatypes.JSONMap{"couponTemplateId": float64(7)},
		Budget:       decimal.NewNullDecimal(decimal.NewFromInt(50)),
		IsActive:     true,
	}
	require.NoError(t, repo.CreateTrigger(ctx, trigger))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		reserved int
	)
	for range 10 {
		wg.Go(func() {
			if err := repo.ReserveSpend(ctx, trigger.ID, decimal.NewFromInt(20)); err == nil {
				mu.Lock()
				reserved++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, repository.ErrBudgetExhausted)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, 2, reserved)
	stored, err := repo.GetTrigger(ctx, trigger.ID)
	require.NoError(t, err)
	assert.True(t, stored.Spent.Equal(decimal.NewFromInt(40)), "spent = %s", stored.Spent)
}

func TestMySQL_LedgerRoundTrip(t *testing.T) {
	db := resetTables(t)
	repo := repository.NewTriggerRepository(db)
	ctx := t.Context()

	trigger := &entities.Trigger{
		Name:         "First order points",
		TriggerType:  "first_order",
		Action:       "add_points",
		Conditions:   datatypes.JSONMap{},
		ActionConfig: datatypes.JSONMap{"points": float64(100)},
		IsActive:     true,
	}
	require.NoError(t, repo.CreateTrigger(ctx, trigger))

	executedAt := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)
	require.NoError(t, repo.AppendExecution(ctx, &entities.TriggerExecution{
		TriggerID:     trigger.ID,
		UserID:        42,
		Status:        entities.ExecutionStatusSuccess,
		Source:        entities.ExecutionSourceEvent,
		CorrelationID: "trigger_1_1792143000000",
		Result:        datatypes.JSON(`{"balance":100}`),
		ExecutedAt:    executedAt,
	}))
	require.NoError(t, repo.AppendExecution(ctx, &entities.TriggerExecution{
		TriggerID:    trigger.ID,
		UserID:       43,
		Status:       entities.ExecutionStatusFailed,
		Source:       entities.ExecutionSourceEvent,
		ErrorMessage: "points service unavailable",
		ExecutedAt:   executedAt.Add(time.Minute),
	}))

	count, err := repo.CountSuccessful(ctx, trigger.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	rows, total, err := repo.ListExecutions(ctx, repository.ExecutionFilter{
		TriggerID: trigger.ID,
		Status:    entities.ExecutionStatusFailed,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, rows, 1)
	assert.Equal(t, "points service unavailable", rows[0].ErrorMessage)

	err = repo.DeleteTrigger(ctx, trigger.ID)
	assert.ErrorIs(t, err, repository.ErrTriggerInUse)
}

func TestMySQL_AudienceQueries(t *testing.T) {
	db := resetTables(t)
	audience := repository.NewAudienceRepository(db)
	ctx := t.Context()

	now := time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)
	users := []entities.User{
		{ID: 1, TelegramID: 1001, FirstName: "Lan", CreatedAt: time.Date(2024, 10, 16, 8, 0, 0, 0, time.UTC)},
		{ID: 2, TelegramID: 1002, FirstName: "Wei", CreatedAt: time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC)},
		{ID: 3, TelegramID: 1003, FirstName: "Ming", CreatedAt: time.Date(2025, 10, 16, 8, 0, 0, 0, time.UTC)},
	}
	require.NoError(t, db.Create(&users).Error)
	require.NoError(t, db.Create(&[]entities.Order{
		{UserID: 1, Status: repository.OrderStatusCompleted, TotalAmount: decimal.NewFromInt(80), CreatedAt: now.AddDate(0, 0, -40)},
		{UserID: 2, Status: repository.OrderStatusCompleted, TotalAmount: decimal.NewFromInt(80), CreatedAt: now.AddDate(0, 0, -10)},
	}).Error)

	t.Run("inactive users include zero-order users", func(t *testing.T) {
		got, err := audience.InactiveUsers(ctx, now.AddDate(0, 0, -30), 0, 100)
		require.NoError(t, err)
		ids := make([]uint, 0, len(got))
		for i := range got {
			ids = append(ids, got[i].ID)
		}
		assert.Equal(t, []uint{1, 3}, ids)
	})

	t.Run("anniversary uses registration month and day", func(t *testing.T) {
		got, err := audience.AnniversaryUsers(ctx, []repository.MonthDay{{Month: time.October, Day: 16}}, 0, now.AddDate(0, 0, -1), 0, 100)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, uint(1), got[0].ID)
		assert.Equal(t, uint(3), got[1].ID)
	})

	t.Run("anniversary reads the day in the scan zone", func(t *testing.T) {
		// 08:00 UTC is 22:00 on the previous day at UTC-10.
		got, err := audience.AnniversaryUsers(ctx, []repository.MonthDay{{Month: time.October, Day: 15}}, -10*time.Hour, now.AddDate(0, 0, -1), 0, 100)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, uint(1), got[0].ID)
		assert.Equal(t, uint(3), got[1].ID)
	})
}
