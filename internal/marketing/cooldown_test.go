package marketing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/teashop/storefront/internal/clock"
)

func TestCooldownCache_TTL(t *testing.T) {
	t.Parallel()

	clk := clock.NewFakeClock(time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC))
	c := NewCooldownCache(time.Hour, 0, clk)

	assert.False(t, c.Active(1, 42))
	c.Mark(1, 42)
	assert.True(t, c.Active(1, 42))
	assert.False(t, c.Active(1, 43), "other user")
	assert.False(t, c.Active(2, 42), "other trigger")

	clk.Advance(59 * time.Minute)
	assert.True(t, c.Active(1, 42))

	clk.Advance(time.Minute)
	assert.False(t, c.Active(1, 42), "exactly TTL old is no longer active")
}

func TestCooldownCache_PruneOnThreshold(t *testing.T) {
	t.Parallel()

	clk := clock.NewFakeClock(time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC))
	c := NewCooldownCache(time.Hour, 3, clk)

	c.Mark(1, 1)
	c.Mark(1, 2)
	c.Mark(1, 3)
	assert.Equal(t, 3, c.Len())

	clk.Advance(2 * time.Hour)
	c.Mark(1, 4)

	assert.Equal(t, 1, c.Len(), "stale entries swept once the threshold is crossed")
	assert.True(t, c.Active(1, 4))
}

func TestCooldownCache_Defaults(t *testing.T) {
	t.Parallel()

	c := NewCooldownCache(0, 0, nil)
	assert.Equal(t, DefaultCooldownTTL, c.TTL())
	assert.Zero(t, c.Prune())
}
