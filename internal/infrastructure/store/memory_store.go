package store

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// MemoryStore keeps documents in process memory. It supports transactions
// and subscriptions, which makes it the reference backend for tests and
// single-node deployments.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]json.RawMessage // collection -> key -> document
	hub  *Hub
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{docs: make(map[string]map[string]json.RawMessage)}
	s.hub = NewHub(s)
	return s
}

func (s *MemoryStore) get(loc location) json.RawMessage {
	return s.docs[loc.collection][loc.key]
}

func (s *MemoryStore) put(loc location, doc json.RawMessage) {
	if s.docs[loc.collection] == nil {
		s.docs[loc.collection] = make(map[string]json.RawMessage)
	}
	s.docs[loc.collection][loc.key] = doc
}

func (s *MemoryStore) Read(ctx context.Context, path string) (json.RawMessage, error) {
	loc, err := parsePath(path)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	v, err := readAt(s.get(loc), loc)
	if err != nil {
		return nil, err
	}
	return slices.Clone(v), nil
}

func (s *MemoryStore) Write(ctx context.Context, path string, value any) error {
	loc, err := parsePath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	doc, err := writeAt(s.get(loc), loc, value)
	if err == nil {
		s.put(loc, doc)
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.hub.Notify(loc.collection)
	return nil
}

// Delete removes a whole document.
func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	loc, err := parsePath(path)
	if err != nil {
		return err
	}
	if loc.field != "" {
		return fmt.Errorf("%w: cannot delete a field: %q", ErrInvalidPath, path)
	}

	s.mu.Lock()
	_, ok := s.docs[loc.collection][loc.key]
	delete(s.docs[loc.collection], loc.key)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	s.hub.Notify(loc.collection)
	return nil
}

// AtomicUpdate holds the write lock across read, fn and write, so it never
// reports ErrConflict.
func (s *MemoryStore) AtomicUpdate(ctx context.Context, path string, fn UpdateFunc) error {
	loc, err := parsePath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	doc, err := applyUpdate(s.get(loc), loc, fn)
	if err == nil {
		s.put(loc, doc)
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.hub.Notify(loc.collection)
	return nil
}

func (s *MemoryStore) AppendChild(ctx context.Context, collection string, value any) (string, error) {
	if err := validCollection(collection); err != nil {
		return "", err
	}
	doc, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to marshal value: %w", err)
	}

	key := NewKey()
	s.mu.Lock()
	s.put(location{collection: collection, key: key}, doc)
	s.mu.Unlock()

	s.hub.Notify(collection)
	return key, nil
}

func (s *MemoryStore) List(ctx context.Context, collection string) ([]Node, error) {
	if err := validCollection(collection); err != nil {
		return nil, err
	}

	s.mu.RLock()
	nodes := make([]Node, 0, len(s.docs[collection]))
	for key, doc := range s.docs[collection] {
		nodes = append(nodes, Node{Key: key, Value: slices.Clone(doc)})
	}
	s.mu.RUnlock()

	slices.SortFunc(nodes, func(a, b Node) int { return strings.Compare(a.Key, b.Key) })
	return nodes, nil
}

// Commit applies every update and create of txn, or none of them.
func (s *MemoryStore) Commit(ctx context.Context, txn Txn) error {
	s.mu.Lock()

	staged := make(map[string]json.RawMessage)
	locs := make(map[string]location)
	current := func(loc location) json.RawMessage {
		if doc, ok := staged[loc.doc()]; ok {
			return doc
		}
		return s.get(loc)
	}

	for _, u := range txn.Updates {
		loc, err := parsePath(u.Path)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		doc, err := applyUpdate(current(loc), loc, u.Fn)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		staged[loc.doc()] = doc
		locs[loc.doc()] = loc
	}

	for _, c := range txn.Creates {
		loc, err := parsePath(c.Path)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		if loc.field != "" {
			s.mu.Unlock()
			return fmt.Errorf("%w: create needs a document path: %q", ErrInvalidPath, c.Path)
		}
		if current(loc) != nil {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrExists, c.Path)
		}
		doc, err := json.Marshal(c.Value)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("failed to marshal value: %w", err)
		}
		staged[loc.doc()] = doc
		locs[loc.doc()] = loc
	}

	touched := make(map[string]struct{})
	for path, doc := range staged {
		loc := locs[path]
		s.put(loc, doc)
		touched[loc.collection] = struct{}{}
	}
	s.mu.Unlock()

	for collection := range touched {
		s.hub.Notify(collection)
	}
	return nil
}

// Subscribe implements Watcher.
func (s *MemoryStore) Subscribe(ctx context.Context, collection string) (<-chan Snapshot, error) {
	return s.hub.Subscribe(ctx, collection)
}
