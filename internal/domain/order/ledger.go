package order

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/example/pos-checkout/internal/infrastructure/store"
	"github.com/example/pos-checkout/internal/logging"
)

// Ledger is the append-only collection of completed orders. Orders are
// never updated or deleted through it.
type Ledger struct {
	store   store.Store
	watcher store.Watcher
	logger  zerolog.Logger
}

// NewLedger creates a ledger. watcher may be nil.
func NewLedger(s store.Store, w store.Watcher) *Ledger {
	return &Ledger{store: s, watcher: w, logger: logging.For("ledger")}
}

// Append stores o under a new store-assigned id and returns it. On error
// nothing was written.
func (l *Ledger) Append(ctx context.Context, o Order) (string, error) {
	o.ID = ""
	id, err := l.store.AppendChild(ctx, Collection, o)
	if err != nil {
		return "", fmt.Errorf("failed to append order: %w", err)
	}
	return id, nil
}

func (l *Ledger) Get(ctx context.Context, id string) (*Order, error) {
	if id == "" || strings.Contains(id, "/") {
		return nil, ErrOrderNotFound
	}
	raw, err := l.store.Read(ctx, Path(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	o, err := decode(id, raw)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListAll returns every order, most recent first.
func (l *Ledger) ListAll(ctx context.Context) ([]Order, error) {
	nodes, err := l.store.List(ctx, Collection)
	if err != nil {
		return nil, err
	}
	return l.decodeAll(nodes), nil
}

// Watch streams the full history, most recent first, on subscription and
// after every new order.
func (l *Ledger) Watch(ctx context.Context) (<-chan []Order, error) {
	if l.watcher == nil {
		return nil, store.ErrWatchUnsupported
	}
	snapshots, err := l.watcher.Subscribe(ctx, Collection)
	if err != nil {
		return nil, err
	}

	out := make(chan []Order, 1)
	go func() {
		defer close(out)
		for snap := range snapshots {
			select {
			case out <- l.decodeAll(snap.Nodes):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// decodeAll relies on keys being time-ordered, so reversing key order
// gives newest first.
func (l *Ledger) decodeAll(nodes []store.Node) []Order {
	orders := make([]Order, 0, len(nodes))
	for _, n := range nodes {
		o, err := decode(n.Key, n.Value)
		if err != nil {
			l.logger.Warn().Err(err).Msg("skipping order")
			continue
		}
		orders = append(orders, o)
	}
	slices.Reverse(orders)
	return orders
}
