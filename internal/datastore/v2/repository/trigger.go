package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/teashop/storefront/internal/datastore/v2/entities"
)

// TriggerRepository handles marketing trigger CRUD, budget accounting and
// the execution ledger.
type TriggerRepository interface {
	// Trigger CRUD
	ListTriggers(ctx context.Context, filter TriggerFilter) ([]entities.Trigger, error)
	GetTrigger(ctx context.Context, id uint) (*entities.Trigger, error)
	CreateTrigger(ctx context.Context, trigger *entities.Trigger) error
	UpdateTrigger(ctx context.Context, trigger *entities.Trigger) error
	DeleteTrigger(ctx context.Context, id uint) error
	SetActive(ctx context.Context, id uint, active bool) error
	CountTriggersByName(ctx context.Context, name string) (int64, error)

	// Engine queries
	ListActive(ctx context.Context) ([]entities.Trigger, error)
	ListActiveByType(ctx context.Context, triggerTypes ...string) ([]entities.Trigger, error)
	Deactivate(ctx context.Context, id uint) error

	// Budget
	IncrementSpent(ctx context.Context, id uint, amount decimal.Decimal) error
	ReserveSpend(ctx context.Context, id uint, amount decimal.Decimal) error

	// Ledger (append-only)
	AppendExecution(ctx context.Context, execution *entities.TriggerExecution) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]entities.TriggerExecution, int64, error)
	CountSuccessful(ctx context.Context, triggerID, userID uint) (int64, error)
}

// TriggerFilter controls trigger listing queries.
type TriggerFilter struct {
	TriggerType string
	Action      string
	GroupTag    string
	Active      *bool
	BuiltIn     *bool
}

// ExecutionFilter controls ledger listing queries.
type ExecutionFilter struct {
	TriggerID uint
	UserID    uint
	Status    string
	Since     time.Time
	Limit     int
	Offset    int
}
