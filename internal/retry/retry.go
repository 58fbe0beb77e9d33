// Package retry provides the shared backoff policy used for every external
// call the worker makes: ledger writes, content store reads/writes, and
// inference requests. Retries here are call-level and independent of the
// job-level attempt counter.
package retry

import (
	"context"
	"time"

	retrygo "github.com/avast/retry-go/v4"
)

// Policy configures exponential backoff for a class of external calls.
type Policy struct {
	Attempts  uint
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultPolicy matches the worker's historical backoff: 3 attempts,
// 2s base delay doubling up to 60s.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:  3,
		BaseDelay: 2 * time.Second,
		MaxDelay:  60 * time.Second,
	}
}

// Do runs op with exponential backoff. Only errors classified transient by
// IsTransient are retried; fatal errors and context cancellation return
// immediately. The last error is returned once attempts are exhausted.
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}

	return retrygo.Do(
		op,
		retrygo.Context(ctx),
		retrygo.Attempts(attempts),
		retrygo.Delay(base),
		retrygo.MaxDelay(maxDelay),
		retrygo.DelayType(retrygo.BackOffDelay),
		retrygo.RetryIf(IsTransient),
		retrygo.LastErrorOnly(true),
	)
}
