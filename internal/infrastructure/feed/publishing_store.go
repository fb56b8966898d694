package feed

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/example/pos-checkout/internal/infrastructure/store"
	"github.com/example/pos-checkout/internal/logging"
)

// PublishingStore publishes a Change after every successful write to the
// wrapped store. A failed publish is logged; the write already happened.
type PublishingStore struct {
	inner  store.Store
	pub    Publisher
	logger zerolog.Logger
}

func NewPublishingStore(inner store.Store, pub Publisher) *PublishingStore {
	return &PublishingStore{inner: inner, pub: pub, logger: logging.For("feed")}
}

func (s *PublishingStore) publish(ctx context.Context, c Change) {
	if err := s.pub.Publish(ctx, c.Collection, c); err != nil {
		s.logger.Warn().Err(err).Str("collection", c.Collection).Str("key", c.Key).Msg("failed to publish change")
	}
}

func (s *PublishingStore) Read(ctx context.Context, path string) (json.RawMessage, error) {
	return s.inner.Read(ctx, path)
}

func (s *PublishingStore) Write(ctx context.Context, path string, value any) error {
	if err := s.inner.Write(ctx, path, value); err != nil {
		return err
	}
	s.publish(ctx, NewChange(OpWrite, path))
	return nil
}

func (s *PublishingStore) Delete(ctx context.Context, path string) error {
	if err := s.inner.Delete(ctx, path); err != nil {
		return err
	}
	s.publish(ctx, NewChange(OpDelete, path))
	return nil
}

func (s *PublishingStore) AtomicUpdate(ctx context.Context, path string, fn store.UpdateFunc) error {
	if err := s.inner.AtomicUpdate(ctx, path, fn); err != nil {
		return err
	}
	s.publish(ctx, NewChange(OpUpdate, path))
	return nil
}

func (s *PublishingStore) AppendChild(ctx context.Context, collection string, value any) (string, error) {
	key, err := s.inner.AppendChild(ctx, collection, value)
	if err != nil {
		return "", err
	}
	s.publish(ctx, NewChange(OpAppend, store.Join(collection, key)))
	return key, nil
}

func (s *PublishingStore) List(ctx context.Context, collection string) ([]store.Node, error) {
	return s.inner.List(ctx, collection)
}

// Commit forwards to the wrapped store and publishes one change per
// document the transaction touched.
func (s *PublishingStore) Commit(ctx context.Context, txn store.Txn) error {
	tx, ok := s.inner.(store.Transactor)
	if !ok {
		return store.ErrTxnUnsupported
	}
	if err := tx.Commit(ctx, txn); err != nil {
		return err
	}

	seen := make(map[string]struct{})
	emit := func(path string) {
		c := NewChange(OpCommit, path)
		id := c.Collection + "/" + c.Key
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		s.publish(ctx, c)
	}
	for _, u := range txn.Updates {
		emit(u.Path)
	}
	for _, c := range txn.Creates {
		emit(c.Path)
	}
	return nil
}
