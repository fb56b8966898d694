package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/example/pos-checkout/internal/logging"
)

// BreakerSettings controls when a Breaker opens.
type BreakerSettings struct {
	Name             string
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// Breaker wraps a backend in a circuit breaker. Only ErrUnavailable counts
// as a failure; conflicts and not-found are normal outcomes. While open,
// calls fail immediately with ErrUnavailable.
type Breaker struct {
	inner Store
	cb    *gobreaker.CircuitBreaker[any]
}

func NewBreaker(inner Store, settings BreakerSettings) *Breaker {
	threshold := settings.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	timeout := settings.OpenTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	logger := logging.For("store")
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	return &Breaker{inner: inner, cb: cb}
}

// State reports the breaker state ("closed", "half-open" or "open").
func (b *Breaker) State() string {
	return b.cb.State().String()
}

func (b *Breaker) execute(fn func() (any, error)) (any, error) {
	v, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return v, err
}

func (b *Breaker) Read(ctx context.Context, path string) (json.RawMessage, error) {
	v, err := b.execute(func() (any, error) {
		return b.inner.Read(ctx, path)
	})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

func (b *Breaker) Write(ctx context.Context, path string, value any) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.inner.Write(ctx, path, value)
	})
	return err
}

func (b *Breaker) Delete(ctx context.Context, path string) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.inner.Delete(ctx, path)
	})
	return err
}

func (b *Breaker) AtomicUpdate(ctx context.Context, path string, fn UpdateFunc) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.inner.AtomicUpdate(ctx, path, fn)
	})
	return err
}

func (b *Breaker) AppendChild(ctx context.Context, collection string, value any) (string, error) {
	v, err := b.execute(func() (any, error) {
		return b.inner.AppendChild(ctx, collection, value)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (b *Breaker) List(ctx context.Context, collection string) ([]Node, error) {
	v, err := b.execute(func() (any, error) {
		return b.inner.List(ctx, collection)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Node), nil
}

// Commit forwards to the wrapped backend when it supports transactions.
func (b *Breaker) Commit(ctx context.Context, txn Txn) error {
	tx, ok := b.inner.(Transactor)
	if !ok {
		return ErrTxnUnsupported
	}
	_, err := b.execute(func() (any, error) {
		return nil, tx.Commit(ctx, txn)
	})
	return err
}

// Subscribe forwards to the wrapped backend without going through the
// breaker; a subscription is long-lived.
func (b *Breaker) Subscribe(ctx context.Context, collection string) (<-chan Snapshot, error) {
	w, ok := b.inner.(Watcher)
	if !ok {
		return nil, ErrWatchUnsupported
	}
	return w.Subscribe(ctx, collection)
}
