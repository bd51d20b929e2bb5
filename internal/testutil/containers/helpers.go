//go:build integration

package containers

import (
	"context"
	"time"

	"github.com/teashop/storefront/internal/errors"
)

// backoff describes how a readiness check is retried.
type backoff struct {
	attempts int
	first    time.Duration
	ceiling  time.Duration
}

// healthBackoff is used by every container HealthCheck.
var healthBackoff = backoff{attempts: 5, first: 200 * time.Millisecond, ceiling: 2 * time.Second}

// await calls check until it succeeds, the attempts run out or ctx ends.
// The delay doubles after each failure and is capped at the ceiling.
func (b backoff) await(ctx context.Context, service string, check func(context.Context) error) error {
	var lastErr error
	wait := b.first
	for attempt := range b.attempts {
		if lastErr = check(ctx); lastErr == nil {
			return nil
		}
		if attempt == b.attempts-1 {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ctx.Err(), lastErr)
		case <-timer.C:
		}
		wait = min(wait*2, b.ceiling)
	}
	return errors.Newf("%s not ready after %d attempts: %w", service, b.attempts, lastErr).
		Component("containers").
		Category(errors.CategoryNetwork).
		Build()
}
