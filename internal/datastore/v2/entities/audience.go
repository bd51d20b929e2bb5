package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is the storefront customer record. The marketing engine only reads it.
type User struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TelegramID int64     `gorm:"uniqueIndex" json:"telegram_id"`
	FirstName  string    `gorm:"size:255;default:''" json:"first_name"`
	IsBlocked  bool      `gorm:"not null;default:false" json:"is_blocked"`
	CreatedAt  time.Time `gorm:"not null;index" json:"created_at"`
}

// TableName returns the table name for GORM.
func (User) TableName() string {
	return "users"
}

// Order is a storefront order. The marketing engine only reads it.
type Order struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	UserID      uint            `gorm:"not null;index:idx_orders_user_created,priority:1" json:"user_id"`
	Status      string          `gorm:"size:32;not null" json:"status"`
	TotalAmount decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total_amount"`
	CreatedAt   time.Time       `gorm:"not null;index:idx_orders_user_created,priority:2" json:"created_at"`
}

// TableName returns the table name for GORM.
func (Order) TableName() string {
	return "orders"
}
