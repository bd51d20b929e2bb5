package entities

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Trigger is a marketing rule: when its type matches an event or a scheduler
// scan, Action is executed for the user with ActionConfig, bounded by Budget.
type Trigger struct {
	ID           uint                `gorm:"primaryKey" json:"id"`
	Name         string              `gorm:"size:255;not null" json:"name"`
	Description  string              `gorm:"size:1000;default:''" json:"description"`
	TriggerType  string              `gorm:"size:32;not null;index:idx_marketing_triggers_active_type,priority:2" json:"trigger_type"`
	Conditions   datatypes.JSONMap   `gorm:"type:json" json:"conditions"`
	Action       string              `gorm:"size:32;not null" json:"action"`
	ActionConfig datatypes.JSONMap   `gorm:"type:json" json:"action_config"`
	Budget       decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"budget"`
	Spent        decimal.Decimal     `gorm:"type:decimal(12,2);not null;default:0" json:"spent"`
	IsActive     bool                `gorm:"not null;default:false;index:idx_marketing_triggers_active_type,priority:1" json:"is_active"`
	GroupTag     string              `gorm:"size:64;default:''" json:"group_tag"`
	BuiltIn      bool                `gorm:"not null;default:false" json:"built_in"`
	CreatedAt    time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Trigger) TableName() string {
	return "marketing_triggers"
}

// HasBudget reports whether a spending ceiling is configured.
func (t *Trigger) HasBudget() bool {
	return t.Budget.Valid
}

// BudgetExhausted reports whether spent has reached the ceiling.
func (t *Trigger) BudgetExhausted() bool {
	return t.Budget.Valid && t.Spent.GreaterThanOrEqual(t.Budget.Decimal)
}

// Remaining returns budget minus spent, or false when no budget is set.
func (t *Trigger) Remaining() (decimal.Decimal, bool) {
	if !t.Budget.Valid {
		return decimal.Zero, false
	}
	return t.Budget.Decimal.Sub(t.Spent), true
}
