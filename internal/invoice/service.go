package invoice

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/example/pos-checkout/internal/domain/order"
	"github.com/example/pos-checkout/internal/logging"
)

// OrderSource loads a single order.
type OrderSource interface {
	Get(ctx context.Context, id string) (*order.Order, error)
}

// Service serves invoices by order id, through the cache when one is set.
type Service struct {
	orders  OrderSource
	cache   Cache
	baseURL string
	logger  zerolog.Logger
}

// NewService creates an invoice service. cache may be nil.
func NewService(orders OrderSource, cache Cache, baseURL string) *Service {
	return &Service{
		orders:  orders,
		cache:   cache,
		baseURL: baseURL,
		logger:  logging.For("invoice"),
	}
}

// Get returns the invoice of an order, or order.ErrOrderNotFound. Cache
// failures are logged and fall through to the store.
func (s *Service) Get(ctx context.Context, orderID string) (*View, error) {
	if s.cache != nil {
		view, err := s.cache.Get(ctx, orderID)
		if err == nil {
			return view, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			s.logger.Warn().Err(err).Str("order_id", orderID).Msg("invoice cache read failed")
		}
	}

	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	view := Render(*o)

	if s.cache != nil {
		if err := s.cache.Set(ctx, orderID, &view); err != nil {
			s.logger.Warn().Err(err).Str("order_id", orderID).Msg("invoice cache write failed")
		}
	}
	return &view, nil
}

// ShareLink returns the public invoice link for an order.
func (s *Service) ShareLink(orderID string) string {
	return ShareLink(s.baseURL, orderID)
}
