// Package retry implements a small attempt-with-backoff helper. Its only
// caller is the diagnostics package's RDAP domain-age lookup; ledger
// calls and the provider probes do not go through it, and
// DefaultLedgerPolicy has no caller. Grounded on the teacher's inline
// attempt-1/attempt-2 loops in probes_extended.go and breach.go,
// generalized into a single reusable helper.
package retry

import (
	"context"
	"time"
)

// Policy describes a bounded exponential backoff.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultLedgerPolicy matches spec §7's "3 tries, 100ms-2s" ledger retry
// policy.
func DefaultLedgerPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// Do calls fn up to p.MaxAttempts times, doubling the delay between
// attempts (capped at MaxDelay), stopping early on success or on a nil
// error, and returning immediately if ctx is cancelled while waiting.
func Do(ctx context.Context, p Policy, fn func() error) error {
	var lastErr error
	delay := p.BaseDelay

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return lastErr
}
