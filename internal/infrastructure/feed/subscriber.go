package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/pos-checkout/internal/infrastructure/kafka"
	"github.com/example/pos-checkout/internal/infrastructure/store"
)

// MessageSource is satisfied by kafka.Consumer.
type MessageSource interface {
	Consume(ctx context.Context, handler kafka.MessageHandler) error
}

// Subscriber is a store.Watcher driven by the change feed. Run consumes
// the feed; each change makes the subscribers of its collection re-list it
// from the store.
type Subscriber struct {
	source MessageSource
	hub    *store.Hub
}

func NewSubscriber(source MessageSource, lister store.Lister) *Subscriber {
	return &Subscriber{source: source, hub: store.NewHub(lister)}
}

// Run blocks until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	return s.source.Consume(ctx, s.HandleMessage)
}

// HandleMessage decodes one feed message and notifies its collection.
func (s *Subscriber) HandleMessage(ctx context.Context, key, value []byte) error {
	var c Change
	if err := json.Unmarshal(value, &c); err != nil {
		return fmt.Errorf("failed to decode change: %w", err)
	}
	if c.Collection == "" {
		return fmt.Errorf("change %s has no collection", c.ID)
	}
	s.hub.Notify(c.Collection)
	return nil
}

// Subscribe implements store.Watcher.
func (s *Subscriber) Subscribe(ctx context.Context, collection string) (<-chan store.Snapshot, error) {
	return s.hub.Subscribe(ctx, collection)
}
