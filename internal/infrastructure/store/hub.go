package store

import (
	"context"
	"sync"
	"time"

	"github.com/example/pos-checkout/internal/logging"
)

// Lister is the read side a Hub needs to build snapshots.
type Lister interface {
	List(ctx context.Context, collection string) ([]Node, error)
}

// Hub fans change notifications out to collection subscribers. Bursts of
// changes coalesce into a single snapshot per subscriber.
type Hub struct {
	lister Lister

	mu       sync.Mutex
	watchers map[string]map[*watch]struct{}
}

type watch struct {
	notify chan struct{}
}

func NewHub(lister Lister) *Hub {
	return &Hub{
		lister:   lister,
		watchers: make(map[string]map[*watch]struct{}),
	}
}

// Subscribe implements Watcher.
func (h *Hub) Subscribe(ctx context.Context, collection string) (<-chan Snapshot, error) {
	if err := validCollection(collection); err != nil {
		return nil, err
	}

	w := &watch{notify: make(chan struct{}, 1)}
	w.notify <- struct{}{}

	h.mu.Lock()
	if h.watchers[collection] == nil {
		h.watchers[collection] = make(map[*watch]struct{})
	}
	h.watchers[collection][w] = struct{}{}
	h.mu.Unlock()

	out := make(chan Snapshot, 1)
	go h.run(ctx, collection, w, out)
	return out, nil
}

func (h *Hub) run(ctx context.Context, collection string, w *watch, out chan<- Snapshot) {
	defer close(out)
	defer h.remove(collection, w)

	logger := logging.For("store")
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.notify:
		}

		nodes, err := h.lister.List(ctx, collection)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Str("collection", collection).Msg("snapshot failed")
			continue
		}

		select {
		case out <- Snapshot{Collection: collection, Nodes: nodes, At: time.Now()}:
		case <-ctx.Done():
			return
		}
	}
}

// Notify tells every subscriber of collection to take a fresh snapshot.
func (h *Hub) Notify(collection string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for w := range h.watchers[collection] {
		select {
		case w.notify <- struct{}{}:
		default:
		}
	}
}

// Subscribers reports how many subscriptions are open on collection.
func (h *Hub) Subscribers(collection string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers[collection])
}

func (h *Hub) remove(collection string, w *watch) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.watchers[collection], w)
	if len(h.watchers[collection]) == 0 {
		delete(h.watchers, collection)
	}
}
