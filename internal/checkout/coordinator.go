// Package checkout turns a cart into a completed order. Stock for every
// line is decremented and the order recorded together: either in one
// store transaction, or as a saga that restores stock if a later step
// fails.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/pos-checkout/internal/auth"
	"github.com/example/pos-checkout/internal/domain/cart"
	"github.com/example/pos-checkout/internal/domain/catalog"
	"github.com/example/pos-checkout/internal/domain/order"
	"github.com/example/pos-checkout/internal/infrastructure/store"
	"github.com/example/pos-checkout/internal/logging"
)

var (
	ErrEmptyCart         = errors.New("cart is empty")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrCheckoutFailed    = errors.New("checkout failed")
)

// Mode selects how partial failure is prevented.
type Mode string

const (
	// ModeAuto uses a store transaction when the backend supports one and
	// falls back to the saga otherwise.
	ModeAuto Mode = "auto"
	// ModeSaga always uses decrement-then-compensate.
	ModeSaga Mode = "saga"
)

func (m Mode) Valid() bool {
	return m == ModeAuto || m == ModeSaga
}

type Option func(*Coordinator)

func WithMode(m Mode) Option {
	return func(c *Coordinator) { c.mode = m }
}

func WithRetryPolicy(p store.RetryPolicy) Option {
	return func(c *Coordinator) { c.retry = p }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

type Coordinator struct {
	store  store.Store
	ledger *order.Ledger
	mode   Mode
	retry  store.RetryPolicy
	now    func() time.Time
	logger zerolog.Logger
}

func NewCoordinator(s store.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  s,
		ledger: order.NewLedger(s, nil),
		mode:   ModeAuto,
		retry:  store.DefaultRetryPolicy,
		now:    time.Now,
		logger: logging.For("checkout"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// demand is the total quantity wanted per product.
type demand struct {
	productID string
	quantity  int
}

func demandOf(lines []cart.Line) []demand {
	totals := make(map[string]int, len(lines))
	for _, l := range lines {
		totals[l.ProductID] += l.Quantity
	}
	out := make([]demand, 0, len(totals))
	for id, qty := range totals {
		out = append(out, demand{productID: id, quantity: qty})
	}
	slices.SortFunc(out, func(a, b demand) int { return strings.Compare(a.productID, b.productID) })
	return out
}

// Checkout records c as a completed order and returns its id. The cart is
// not modified; clearing it is up to the caller. Failures are
// ErrEmptyCart, a customer validation error, ErrInsufficientStock or
// ErrCheckoutFailed. On any failure no order exists and stock is as it was.
func (co *Coordinator) Checkout(ctx context.Context, c *cart.Cart, info order.CustomerInfo) (string, error) {
	if c.Len() == 0 {
		return "", ErrEmptyCart
	}
	info = info.Normalize()
	if err := info.Validate(c.SaleType()); err != nil {
		return "", err
	}

	o := order.NewFromCart(c, info, auth.Identity(ctx), co.now())
	wanted := demandOf(o.Items)

	var (
		id  string
		err error
	)
	tx, transactional := co.store.(store.Transactor)
	if co.mode == ModeAuto && transactional {
		id, err = co.commit(ctx, tx, o, wanted)
		if errors.Is(err, store.ErrTxnUnsupported) {
			co.logger.Debug().Msg("transaction unsupported, using saga")
			id, err = co.saga(ctx, o, wanted)
		}
	} else {
		id, err = co.saga(ctx, o, wanted)
	}

	if err != nil {
		err = classify(err)
		if errors.Is(err, ErrInsufficientStock) {
			co.logger.Info().Err(err).Msg("checkout rejected")
		} else {
			co.logger.Error().Err(err).Msg("checkout failed")
		}
		return "", err
	}

	co.logger.Info().
		Str("order_id", id).
		Str("created_by", o.CreatedBy).
		Str("total", o.FinalTotal.StringFixed(2)).
		Int("lines", len(o.Items)).
		Msg("checkout completed")
	return id, nil
}

// CheckoutSession checks out a session's cart while holding its checkout
// lock, and clears the cart only if the order was recorded.
func (co *Coordinator) CheckoutSession(ctx context.Context, s *cart.Session, info order.CustomerInfo) (string, error) {
	frozen, err := s.BeginCheckout()
	if err != nil {
		return "", err
	}
	id, err := co.Checkout(ctx, frozen, info)
	s.EndCheckout(err == nil)
	return id, err
}

func classify(err error) error {
	if errors.Is(err, ErrInsufficientStock) || errors.Is(err, ErrCheckoutFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrCheckoutFailed, err)
}

// decrement rejects the update instead of letting stock go negative.
func decrement(productID string, qty int) store.UpdateFunc {
	return func(current json.RawMessage) (any, error) {
		if current == nil {
			return nil, fmt.Errorf("%w: product %s no longer exists", ErrInsufficientStock, productID)
		}
		var stock int
		if err := json.Unmarshal(current, &stock); err != nil {
			return nil, fmt.Errorf("malformed stock for %s: %w", productID, err)
		}
		if qty > stock {
			return nil, fmt.Errorf("%w: product %s has %d, %d requested", ErrInsufficientStock, productID, stock, qty)
		}
		return stock - qty, nil
	}
}

func increment(productID string, qty int) store.UpdateFunc {
	return func(current json.RawMessage) (any, error) {
		if current == nil {
			return nil, fmt.Errorf("product %s was deleted", productID)
		}
		var stock int
		if err := json.Unmarshal(current, &stock); err != nil {
			return nil, fmt.Errorf("malformed stock for %s: %w", productID, err)
		}
		return stock + qty, nil
	}
}

// commit applies every decrement and the order create in one transaction.
func (co *Coordinator) commit(ctx context.Context, tx store.Transactor, o order.Order, wanted []demand) (string, error) {
	o.ID = store.NewKey()

	txn := store.Txn{Creates: []store.Create{{Path: order.Path(o.ID), Value: o}}}
	for _, d := range wanted {
		txn.Updates = append(txn.Updates, store.Update{
			Path: catalog.StockPath(d.productID),
			Fn:   decrement(d.productID, d.quantity),
		})
	}

	err := co.retry.Do(ctx, func(ctx context.Context) error {
		return tx.Commit(ctx, txn)
	})
	if err != nil {
		return "", err
	}
	return o.ID, nil
}

// saga validates every line, decrements one product at a time, then
// appends the order. If a step fails every applied decrement is undone.
func (co *Coordinator) saga(ctx context.Context, o order.Order, wanted []demand) (string, error) {
	if err := co.prevalidate(ctx, wanted); err != nil {
		return "", err
	}

	applied := make([]demand, 0, len(wanted))
	for _, d := range wanted {
		err := co.retry.Do(ctx, func(ctx context.Context) error {
			return co.store.AtomicUpdate(ctx, catalog.StockPath(d.productID), decrement(d.productID, d.quantity))
		})
		if err != nil {
			co.compensate(ctx, applied)
			return "", err
		}
		applied = append(applied, d)
	}

	id, err := co.ledger.Append(ctx, o)
	if err != nil {
		co.compensate(ctx, applied)
		return "", err
	}
	return id, nil
}

// prevalidate rejects the checkout before any write if some line already
// cannot be served.
func (co *Coordinator) prevalidate(ctx context.Context, wanted []demand) error {
	for _, d := range wanted {
		raw, err := co.store.Read(ctx, catalog.StockPath(d.productID))
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: product %s no longer exists", ErrInsufficientStock, d.productID)
		}
		if err != nil {
			return err
		}
		if _, err := decrement(d.productID, d.quantity)(raw); err != nil {
			return err
		}
	}
	return nil
}

// compensate re-increments applied decrements. It runs even if ctx was
// cancelled; failures are logged since the checkout error is already
// being returned.
func (co *Coordinator) compensate(ctx context.Context, applied []demand) {
	ctx = context.WithoutCancel(ctx)
	for _, d := range applied {
		err := co.retry.Do(ctx, func(ctx context.Context) error {
			return co.store.AtomicUpdate(ctx, catalog.StockPath(d.productID), increment(d.productID, d.quantity))
		})
		if err != nil {
			co.logger.Error().Err(err).
				Str("product_id", d.productID).
				Int("quantity", d.quantity).
				Msg("failed to restore stock")
			continue
		}
		co.logger.Warn().Str("product_id", d.productID).Int("quantity", d.quantity).Msg("stock restored")
	}
}
