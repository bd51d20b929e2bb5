package repository

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/teashop/storefront/internal/datastore/v2/entities"
)

// setupTestDB creates a private in-memory SQLite database for one test.
// Shared-cache mode with a single connection keeps every query on the same
// in-memory database; the per-test name keeps parallel tests apart.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=ON", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	require.NoError(t, err, "failed to open in-memory database")

	sqlDB, err := db.DB()
	require.NoError(t, err, "failed to get sql.DB")
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	err = db.AutoMigrate(
		&entities.User{},
		&entities.Order{},
		&entities.Trigger{},
		&entities.TriggerExecution{},
	)
	require.NoError(t, err, "failed to migrate tables")
	return db
}

// createTestTrigger inserts an active send_coupon trigger with an optional budget.
func createTestTrigger(t *testing.T, repo TriggerRepository, name, triggerType string, budget *int64) *entities.Trigger {
	t.Helper()
	trigger := &entities.Trigger{
		Name:         name,
		TriggerType:  triggerType,
		Conditions:   datatypes.JSONMap{},
		Action:       "send_coupon",
		ActionConfig: datatypes.JSONMap{"couponTemplateId": float64(7)},
		IsActive:     true,
	}
	if budget != nil {
		trigger.Budget = decimal.NewNullDecimal(decimal.NewFromInt(*budget))
	}
	require.NoError(t, repo.CreateTrigger(t.Context(), trigger))
	return trigger
}

func createTestUser(t *testing.T, db *gorm.DB, id uint, createdAt time.Time) *entities.User {
	t.Helper()
	user := &entities.User{ID: id, TelegramID: int64(1000 + id), FirstName: fmt.Sprintf("user%d", id), CreatedAt: createdAt.UTC()}
	require.NoError(t, db.Create(user).Error)
	return user
}

func createTestOrder(t *testing.T, db *gorm.DB, userID uint, status string, createdAt time.Time) {
	t.Helper()
	order := &entities.Order{UserID: userID, Status: status, TotalAmount: decimal.NewFromInt(100), CreatedAt: createdAt.UTC()}
	require.NoError(t, db.Create(order).Error)
}

func int64Ptr(v int64) *int64 { return &v }
