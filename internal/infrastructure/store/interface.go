package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("concurrent modification")
	ErrExists           = errors.New("already exists")
	ErrInvalidPath      = errors.New("invalid path")
	ErrTxnUnsupported   = errors.New("transactions not supported by this backend")
	ErrWatchUnsupported = errors.New("subscriptions not supported by this backend")
	ErrUnavailable      = errors.New("store unavailable")
)

// UpdateFunc receives the current value at a path (nil when absent) and
// returns the value to store. A non-nil error aborts the update and is
// returned to the caller unchanged.
type UpdateFunc func(current json.RawMessage) (any, error)

// Node is one child of a collection.
type Node struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Store is a key-path document store. Paths are "collection/key" for a
// document or "collection/key/field" for one top-level field of it.
type Store interface {
	Read(ctx context.Context, path string) (json.RawMessage, error)
	Write(ctx context.Context, path string, value any) error
	Delete(ctx context.Context, path string) error
	// AtomicUpdate makes a single optimistic attempt. A concurrent writer
	// makes it fail with ErrConflict; retrying is up to the caller.
	AtomicUpdate(ctx context.Context, path string, fn UpdateFunc) error
	AppendChild(ctx context.Context, collection string, value any) (string, error)
	// List returns the children of a collection ordered by key.
	List(ctx context.Context, collection string) ([]Node, error)
}

// Txn is a set of writes applied all-or-nothing by a Transactor.
type Txn struct {
	Updates []Update
	Creates []Create
}

type Update struct {
	Path string
	Fn   UpdateFunc
}

// Create writes a whole document that must not exist yet.
type Create struct {
	Path  string
	Value any
}

// Transactor is implemented by backends with multi-key atomic writes.
type Transactor interface {
	Commit(ctx context.Context, txn Txn) error
}

// Snapshot is the full content of a collection at one point in time.
type Snapshot struct {
	Collection string
	Nodes      []Node
	At         time.Time
}

// Watcher delivers a snapshot of a collection on subscription and after
// every change to it. The channel is closed when ctx is cancelled.
type Watcher interface {
	Subscribe(ctx context.Context, collection string) (<-chan Snapshot, error)
}
