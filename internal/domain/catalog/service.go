package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/pos-checkout/internal/infrastructure/store"
	"github.com/example/pos-checkout/internal/logging"
)

type Service struct {
	store   store.Store
	watcher store.Watcher
	retry   store.RetryPolicy
	logger  zerolog.Logger
	now     func() time.Time
}

// NewService creates a catalog service. watcher may be nil, in which case
// Watch reports store.ErrWatchUnsupported.
func NewService(s store.Store, w store.Watcher, retry store.RetryPolicy) *Service {
	return &Service{
		store:   s,
		watcher: w,
		retry:   retry,
		logger:  logging.For("catalog"),
		now:     time.Now,
	}
}

func (s *Service) Create(ctx context.Context, in Input) (*Product, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	p := &Product{
		ID:        store.NewKey(),
		Name:      in.Name,
		Category:  in.Category,
		Price:     in.Price,
		Cost:      in.Cost,
		Stock:     in.Stock,
		ImageURL:  in.ImageURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Write(ctx, Path(p.ID), p); err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}
	return p, nil
}

// Update replaces the editable fields of a product as one atomic update.
// Stock moves by Stock - StockSeen from its current value, so sales made
// while the form was open are kept; ErrStockChanged if that would go
// below zero.
func (s *Service) Update(ctx context.Context, id string, in Input) (*Product, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var updated Product
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.store.AtomicUpdate(ctx, Path(id), func(current json.RawMessage) (any, error) {
			if current == nil {
				return nil, ErrProductNotFound
			}
			p, err := decode(id, current)
			if err != nil {
				return nil, err
			}
			p.Name = in.Name
			p.Category = in.Category
			p.Price = in.Price
			p.Cost = in.Cost
			if in.StockSeen != nil {
				next := p.Stock + in.Stock - *in.StockSeen
				if next < 0 {
					return nil, ErrStockChanged
				}
				p.Stock = next
			}
			p.ImageURL = in.ImageURL
			p.UpdatedAt = s.now()
			updated = p
			return p, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.store.Delete(ctx, Path(id))
	if errors.Is(err, store.ErrNotFound) {
		return ErrProductNotFound
	}
	return err
}

func (s *Service) Get(ctx context.Context, id string) (*Product, error) {
	raw, err := s.store.Read(ctx, Path(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	p, err := decode(id, raw)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// List returns every product in creation order.
func (s *Service) List(ctx context.Context) ([]Product, error) {
	nodes, err := s.store.List(ctx, Collection)
	if err != nil {
		return nil, err
	}
	return s.decodeAll(nodes), nil
}

// Search returns the products whose name contains query, ignoring case. An
// empty query matches everything.
func (s *Service) Search(ctx context.Context, query string) ([]Product, error) {
	products, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return Filter(products, query), nil
}

// Filter keeps the products whose name contains query, ignoring case.
func Filter(products []Product, query string) []Product {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return products
	}
	matched := make([]Product, 0, len(products))
	for _, p := range products {
		if strings.Contains(strings.ToLower(p.Name), q) {
			matched = append(matched, p)
		}
	}
	return matched
}

// AdjustStock adds delta (negative to remove) to a product's stock and
// returns the new level. Stock cannot go below zero.
func (s *Service) AdjustStock(ctx context.Context, id string, delta int) (int, error) {
	var level int
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.store.AtomicUpdate(ctx, StockPath(id), func(current json.RawMessage) (any, error) {
			if current == nil {
				return nil, ErrProductNotFound
			}
			var stock int
			if err := json.Unmarshal(current, &stock); err != nil {
				return nil, fmt.Errorf("malformed stock for %s: %w", id, err)
			}
			if stock+delta < 0 {
				return nil, ErrInvalidStock
			}
			level = stock + delta
			return level, nil
		})
	})
	if errors.Is(err, store.ErrNotFound) {
		return 0, ErrProductNotFound
	}
	if err != nil {
		return 0, err
	}
	return level, nil
}

// Watch streams the full catalog on subscription and after every change.
// The channel closes when ctx is cancelled.
func (s *Service) Watch(ctx context.Context) (<-chan []Product, error) {
	if s.watcher == nil {
		return nil, store.ErrWatchUnsupported
	}
	snapshots, err := s.watcher.Subscribe(ctx, Collection)
	if err != nil {
		return nil, err
	}

	out := make(chan []Product, 1)
	go func() {
		defer close(out)
		for snap := range snapshots {
			select {
			case out <- s.decodeAll(snap.Nodes):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *Service) decodeAll(nodes []store.Node) []Product {
	products := make([]Product, 0, len(nodes))
	for _, n := range nodes {
		p, err := decode(n.Key, n.Value)
		if err != nil {
			s.logger.Warn().Err(err).Msg("skipping product")
			continue
		}
		products = append(products, p)
	}
	return products
}
