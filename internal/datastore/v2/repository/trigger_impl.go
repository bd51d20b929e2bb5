package repository

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/teashop/storefront/internal/datastore/v2/entities"
	"github.com/teashop/storefront/internal/errors"
)

// updatableTriggerColumns are the columns an admin update may change.
// spent is deliberately absent: it only moves through IncrementSpent and ReserveSpend.
var updatableTriggerColumns = []string{
	"name", "description", "trigger_type", "conditions", "action",
	"action_config", "budget", "is_active", "group_tag",
}

// triggerRepository implements TriggerRepository.
type triggerRepository struct {
	db *gorm.DB
}

// NewTriggerRepository creates a new TriggerRepository.
func NewTriggerRepository(db *gorm.DB) TriggerRepository {
	return &triggerRepository{db: db}
}

// ListTriggers returns triggers matching the given filter.
func (r *triggerRepository) ListTriggers(ctx context.Context, filter TriggerFilter) ([]entities.Trigger, error) {
	var triggers []entities.Trigger
	query := r.db.WithContext(ctx)

	if filter.TriggerType != "" {
		query = query.Where("trigger_type = ?", filter.TriggerType)
	}
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}
	if filter.GroupTag != "" {
		query = query.Where("group_tag = ?", filter.GroupTag)
	}
	if filter.Active != nil {
		query = query.Where("is_active = ?", *filter.Active)
	}
	if filter.BuiltIn != nil {
		query = query.Where("built_in = ?", *filter.BuiltIn)
	}

	if err := query.Order("id ASC").Find(&triggers).Error; err != nil {
		return nil, fmt.Errorf("failed to list triggers: %w", err)
	}
	return triggers, nil
}

// GetTrigger returns a single trigger by ID.
// Returns ErrTriggerNotFound if the trigger does not exist.
func (r *triggerRepository) GetTrigger(ctx context.Context, id uint) (*entities.Trigger, error) {
	var trigger entities.Trigger
	if err := r.db.WithContext(ctx).First(&trigger, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTriggerNotFound
		}
		return nil, fmt.Errorf("failed to get trigger %d: %w", id, err)
	}
	return &trigger, nil
}

// CreateTrigger inserts a trigger. Spent always starts at zero.
func (r *triggerRepository) CreateTrigger(ctx context.Context, trigger *entities.Trigger) error {
	trigger.Spent = decimal.Zero
	if err := r.db.WithContext(ctx).Create(trigger).Error; err != nil {
		return fmt.Errorf("failed to create trigger: %w", err)
	}
	return nil
}

// UpdateTrigger writes the editable columns of an existing trigger and
// reloads it so the caller sees the current spent value.
func (r *triggerRepository) UpdateTrigger(ctx context.Context, trigger *entities.Trigger) error {
	if trigger.ID == 0 {
		return fmt.Errorf("failed to update trigger: missing trigger ID")
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing entities.Trigger
		if err := tx.First(&existing, trigger.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTriggerNotFound
			}
			return fmt.Errorf("failed to load trigger %d: %w", trigger.ID, err)
		}
		if err := tx.Model(&existing).Select(updatableTriggerColumns).Updates(trigger).Error; err != nil {
			return fmt.Errorf("failed to update trigger %d: %w", trigger.ID, err)
		}
		if err := tx.First(trigger, trigger.ID).Error; err != nil {
			return fmt.Errorf("failed to reload trigger %d: %w", trigger.ID, err)
		}
		return nil
	})
}

// DeleteTrigger hard-deletes a trigger that has never executed.
// Triggers referenced by the ledger return ErrTriggerInUse; deactivate them instead.
func (r *triggerRepository) DeleteTrigger(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var refs int64
		if err := tx.Model(&entities.TriggerExecution{}).Where("trigger_id = ?", id).Count(&refs).Error; err != nil {
			return fmt.Errorf("failed to count executions for trigger %d: %w", id, err)
		}
		if refs > 0 {
			return ErrTriggerInUse
		}
		result := tx.Delete(&entities.Trigger{}, id)
		if result.Error != nil {
			return fmt.Errorf("failed to delete trigger %d: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrTriggerNotFound
		}
		return nil
	})
}

// SetActive switches a trigger on or off.
func (r *triggerRepository) SetActive(ctx context.Context, id uint, active bool) error {
	result := r.db.WithContext(ctx).Model(&entities.Trigger{}).Where("id = ?", id).Update("is_active", active)
	if result.Error != nil {
		return fmt.Errorf("failed to set trigger %d active=%t: %w", id, active, result.Error)
	}
	if result.RowsAffected == 0 {
		// MySQL reports zero affected rows when the value is unchanged.
		return r.ensureExists(ctx, id)
	}
	return nil
}

// CountTriggersByName returns the number of triggers with the given name.
func (r *triggerRepository) CountTriggersByName(ctx context.Context, name string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&entities.Trigger{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count triggers by name: %w", err)
	}
	return count, nil
}

// ListActive returns every active trigger.
func (r *triggerRepository) ListActive(ctx context.Context) ([]entities.Trigger, error) {
	active := true
	return r.ListTriggers(ctx, TriggerFilter{Active: &active})
}

// ListActiveByType returns active triggers whose type is one of triggerTypes.
func (r *triggerRepository) ListActiveByType(ctx context.Context, triggerTypes ...string) ([]entities.Trigger, error) {
	if len(triggerTypes) == 0 {
		return nil, nil
	}
	var triggers []entities.Trigger
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND trigger_type IN ?", true, triggerTypes).
		Order("id ASC").
		Find(&triggers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active triggers of types %v: %w", triggerTypes, err)
	}
	return triggers, nil
}

// Deactivate switches a trigger off. Deactivating an inactive trigger is a no-op.
func (r *triggerRepository) Deactivate(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Model(&entities.Trigger{}).Where("id = ?", id).Update("is_active", false).Error; err != nil {
		return fmt.Errorf("failed to deactivate trigger %d: %w", id, err)
	}
	return nil
}

// IncrementSpent adds amount to spent unconditionally. A negative amount
// releases a reservation whose action did not complete.
func (r *triggerRepository) IncrementSpent(ctx context.Context, id uint, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	result := r.db.WithContext(ctx).Model(&entities.Trigger{}).
		Where("id = ?", id).
		Update("spent", gorm.Expr("spent + ?", amount))
	if result.Error != nil {
		return fmt.Errorf("failed to increment spent for trigger %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrTriggerNotFound
	}
	return nil
}

// ReserveSpend atomically adds amount to spent only if the trigger is active
// and the result stays within budget. Concurrent reservations are serialized
// by the database, so the budget ceiling holds under bursts.
func (r *triggerRepository) ReserveSpend(ctx context.Context, id uint, amount decimal.Decimal) error {
	result := r.db.WithContext(ctx).Model(&entities.Trigger{}).
		Where("id = ? AND is_active = ?", id, true).
		Where("budget IS NULL OR spent + ? <= budget", amount).
		Update("spent", gorm.Expr("spent + ?", amount))
	if result.Error != nil {
		return fmt.Errorf("failed to reserve spend for trigger %d: %w", id, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	trigger, err := r.GetTrigger(ctx, id)
	if err != nil {
		return err
	}
	if !trigger.IsActive {
		return ErrTriggerInactive
	}
	return ErrBudgetExhausted
}

// AppendExecution inserts a ledger row.
func (r *triggerRepository) AppendExecution(ctx context.Context, execution *entities.TriggerExecution) error {
	if err := r.db.WithContext(ctx).Omit("Trigger").Create(execution).Error; err != nil {
		return fmt.Errorf("failed to append execution for trigger %d: %w", execution.TriggerID, err)
	}
	return nil
}

// ListExecutions returns ledger rows matching the filter, newest first, and
// the total number of matching rows.
func (r *triggerRepository) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]entities.TriggerExecution, int64, error) {
	var items []entities.TriggerExecution
	var total int64

	scoped := func(q *gorm.DB) *gorm.DB {
		if filter.TriggerID > 0 {
			q = q.Where("trigger_id = ?", filter.TriggerID)
		}
		if filter.UserID > 0 {
			q = q.Where("user_id = ?", filter.UserID)
		}
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		}
		if !filter.Since.IsZero() {
			q = q.Where("executed_at >= ?", filter.Since)
		}
		return q
	}

	if err := scoped(r.db.WithContext(ctx).Model(&entities.TriggerExecution{})).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count executions: %w", err)
	}

	query := scoped(r.db.WithContext(ctx)).Order("executed_at DESC, id DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if err := query.Find(&items).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list executions: %w", err)
	}
	return items, total, nil
}

// CountSuccessful returns how many successful executions a trigger has for a user.
func (r *triggerRepository) CountSuccessful(ctx context.Context, triggerID, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entities.TriggerExecution{}).
		Where("trigger_id = ? AND user_id = ? AND status = ?", triggerID, userID, entities.ExecutionStatusSuccess).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count successful executions: %w", err)
	}
	return count, nil
}

func (r *triggerRepository) ensureExists(ctx context.Context, id uint) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&entities.Trigger{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check trigger %d: %w", id, err)
	}
	if count == 0 {
		return ErrTriggerNotFound
	}
	return nil
}
