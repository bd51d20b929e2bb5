package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/teashop/storefront/internal/datastore/v2/entities"
	"github.com/teashop/storefront/internal/errors"
)

// audienceRepository implements AudienceRepository.
type audienceRepository struct {
	db *gorm.DB
}

// NewAudienceRepository creates a new AudienceRepository.
func NewAudienceRepository(db *gorm.DB) AudienceRepository {
	return &audienceRepository{db: db}
}

// GetUser returns a single user by ID.
func (r *audienceRepository) GetUser(ctx context.Context, id uint) (*entities.User, error) {
	var user entities.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return &user, nil
}

// InactiveUsers left-joins orders so users without any order group with a
// NULL maximum and are selected as maximally inactive.
func (r *audienceRepository) InactiveUsers(ctx context.Context, cutoff time.Time, afterID uint, limit int) ([]entities.User, error) {
	var users []entities.User
	err := r.db.WithContext(ctx).
		Model(&entities.User{}).
		Select("users.*").
		Joins("LEFT JOIN orders ON orders.user_id = users.id").
		Where("users.id > ? AND users.is_blocked = ?", afterID, false).
		Group("users.id").
		Having("MAX(orders.created_at) IS NULL OR MAX(orders.created_at) < ?", cutoff).
		Order("users.id ASC").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list inactive users: %w", err)
	}
	return users, nil
}

// AnniversaryUsers matches the registration month/day with the dialect's
// date formatting function after shifting created_at by utcOffset.
func (r *audienceRepository) AnniversaryUsers(ctx context.Context, days []MonthDay, utcOffset time.Duration, createdBefore time.Time, afterID uint, limit int) ([]entities.User, error) {
	if len(days) == 0 {
		return nil, nil
	}
	keys := make([]string, len(days))
	for i, d := range days {
		keys[i] = d.String()
	}

	expr, shift := r.monthDayExpr(utcOffset)
	var users []entities.User
	err := r.db.WithContext(ctx).
		Where(expr+" IN ?", shift, keys).
		Where("id > ? AND is_blocked = ? AND created_at < ?", afterID, false, createdBefore).
		Order("id ASC").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list anniversary users: %w", err)
	}
	return users, nil
}

// monthDayExpr returns the MM-DD expression for created_at in the zone
// utcOffset east of UTC, and its single bind argument. MySQL stores UTC
// (loc=UTC in the DSN); sqlite normalizes offset-bearing values to UTC
// before applying the modifier.
func (r *audienceRepository) monthDayExpr(utcOffset time.Duration) (string, any) {
	minutes := int64(utcOffset / time.Minute)
	switch r.db.Dialector.Name() {
	case "mysql":
		return "DATE_FORMAT(DATE_ADD(created_at, INTERVAL ? MINUTE), '%m-%d')", minutes
	default:
		return "strftime('%m-%d', created_at, ?)", fmt.Sprintf("%+d minutes", minutes)
	}
}

// AllUsers returns non-blocked users in ID order.
func (r *audienceRepository) AllUsers(ctx context.Context, afterID uint, limit int) ([]entities.User, error) {
	var users []entities.User
	err := r.db.WithContext(ctx).
		Where("id > ? AND is_blocked = ?", afterID, false).
		Order("id ASC").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// CountCompletedOrders returns the number of completed orders for a user.
func (r *audienceRepository) CountCompletedOrders(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entities.Order{}).
		Where("user_id = ? AND status = ?", userID, OrderStatusCompleted).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count orders for user %d: %w", userID, err)
	}
	return count, nil
}
