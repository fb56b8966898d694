package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

var ErrRetriesExhausted = errors.New("retries exhausted")

// RetryPolicy bounds how often an optimistic write is re-attempted after
// losing a race.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 5,
	BaseDelay:   10 * time.Millisecond,
	MaxDelay:    200 * time.Millisecond,
}

// Do runs op until it returns something other than ErrConflict or the
// attempts run out. Each attempt must re-read the state it depends on.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op(ctx)
		if !errors.Is(err, ErrConflict) {
			return err
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.backoff(attempt)):
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, err)
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && (delay > p.MaxDelay || delay <= 0) {
		delay = p.MaxDelay
	}
	// Half fixed, half jitter.
	return delay/2 + rand.N(delay/2+1)
}
