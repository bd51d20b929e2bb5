package entities

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Execution statuses.
const (
	ExecutionStatusSuccess = "success"
	ExecutionStatusFailed  = "failed"
)

// Execution sources.
const (
	ExecutionSourceEvent     = "event"
	ExecutionSourceScheduler = "scheduler"
	ExecutionSourceManual    = "manual"
)

// TriggerExecution is one append-only ledger row per attempted execution.
// Rows are never updated or deleted.
type TriggerExecution struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	TriggerID     uint            `gorm:"not null;index:idx_marketing_exec_trigger_user,priority:1;index:idx_marketing_exec_trigger_time,priority:1" json:"trigger_id"`
	UserID        uint            `gorm:"not null;index:idx_marketing_exec_trigger_user,priority:2" json:"user_id"`
	Status        string          `gorm:"size:16;not null;index" json:"status"`
	Source        string          `gorm:"size:16;not null;default:'event'" json:"source"`
	CorrelationID string          `gorm:"size:64;default:''" json:"correlation_id"`
	Result        datatypes.JSON  `gorm:"type:json" json:"result,omitempty"`
	ErrorMessage  string          `gorm:"type:text" json:"error_message,omitempty"`
	SpentAmount   decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"spent_amount"`
	ExecutedAt    time.Time       `gorm:"not null;index:idx_marketing_exec_trigger_time,priority:2" json:"executed_at"`
	Trigger       *Trigger        `gorm:"foreignKey:TriggerID;constraint:OnDelete:RESTRICT" json:"-"`
}

// TableName returns the table name for GORM.
func (TriggerExecution) TableName() string {
	return "marketing_trigger_executions"
}

// Succeeded reports whether the row records a successful action.
func (e *TriggerExecution) Succeeded() bool {
	return e.Status == ExecutionStatusSuccess
}
