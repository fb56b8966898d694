// Package feed carries store changes over Kafka so that every API process
// can serve live collection snapshots regardless of which process wrote.
package feed

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Op string

const (
	OpWrite  Op = "write"
	OpDelete Op = "delete"
	OpUpdate Op = "update"
	OpAppend Op = "append"
	OpCommit Op = "commit"
)

// Change announces that a document changed. It carries no value: a
// subscriber re-reads the collection.
type Change struct {
	ID         string    `json:"id"`
	Op         Op        `json:"op"`
	Collection string    `json:"collection"`
	Key        string    `json:"key"`
	At         time.Time `json:"at"`
}

// NewChange builds a Change for a store path.
func NewChange(op Op, path string) Change {
	collection, rest, _ := strings.Cut(path, "/")
	key, _, _ := strings.Cut(rest, "/")
	return Change{
		ID:         uuid.New().String(),
		Op:         op,
		Collection: collection,
		Key:        key,
		At:         time.Now(),
	}
}

// Publisher is satisfied by kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}
