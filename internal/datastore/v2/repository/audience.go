package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/teashop/storefront/internal/datastore/v2/entities"
)

// AudienceRepository reads storefront users and orders for scheduler scans.
// All listing methods page by keyset: pass the last seen user ID as afterID.
// Blocked users are never returned by listing methods.
type AudienceRepository interface {
	GetUser(ctx context.Context, id uint) (*entities.User, error)

	// InactiveUsers returns users whose most recent order is older than
	// cutoff, including users who never ordered.
	InactiveUsers(ctx context.Context, cutoff time.Time, afterID uint, limit int) ([]entities.User, error)

	// AnniversaryUsers returns users registered on one of the given
	// month/day pairs, created strictly before createdBefore. The
	// registration day is read in the zone utcOffset east of UTC, the
	// offset of the scheduler's timezone at scan time.
	AnniversaryUsers(ctx context.Context, days []MonthDay, utcOffset time.Duration, createdBefore time.Time, afterID uint, limit int) ([]entities.User, error)

	// AllUsers returns every user.
	AllUsers(ctx context.Context, afterID uint, limit int) ([]entities.User, error)

	// CountCompletedOrders returns the number of completed orders for a user.
	CountCompletedOrders(ctx context.Context, userID uint) (int64, error)
}

// MonthDay is a calendar day without a year.
type MonthDay struct {
	Month time.Month
	Day   int
}

// String formats the day as MM-DD, the form used by the date SQL functions.
func (md MonthDay) String() string {
	return fmt.Sprintf("%02d-%02d", int(md.Month), md.Day)
}

// OrderStatusCompleted is the storefront status of a fulfilled order.
const OrderStatusCompleted = "completed"
