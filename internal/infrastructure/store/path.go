package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewKey returns a time-ordered key: keys generated later sort after keys
// generated earlier.
func NewKey() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Join builds a path from its segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// location is a parsed path.
type location struct {
	collection string
	key        string
	field      string
}

func (l location) doc() string {
	return l.collection + "/" + l.key
}

func parsePath(path string) (location, error) {
	parts := strings.Split(path, "/")
	if len(parts) < 2 || len(parts) > 3 {
		return location{}, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	for _, p := range parts {
		if p == "" {
			return location{}, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	loc := location{collection: parts[0], key: parts[1]}
	if len(parts) == 3 {
		loc.field = parts[2]
	}
	return loc, nil
}

func validCollection(collection string) error {
	if collection == "" || strings.Contains(collection, "/") {
		return fmt.Errorf("%w: collection %q", ErrInvalidPath, collection)
	}
	return nil
}

// getField returns one top-level field of a JSON object document.
func getField(doc json.RawMessage, field string) (json.RawMessage, bool, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, false, fmt.Errorf("document is not an object: %w", err)
	}
	v, ok := fields[field]
	return v, ok, nil
}

func setField(doc json.RawMessage, field string, value json.RawMessage) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, fmt.Errorf("document is not an object: %w", err)
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}
	fields[field] = value
	return json.Marshal(fields)
}

// readAt extracts the value addressed by loc from its document.
func readAt(doc json.RawMessage, loc location) (json.RawMessage, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, loc.doc())
	}
	if loc.field == "" {
		return doc, nil
	}
	v, ok, err := getField(doc, loc.field)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, loc.doc(), loc.field)
	}
	return v, nil
}

// writeAt returns the document after storing value at loc.
func writeAt(doc json.RawMessage, loc location, value any) (json.RawMessage, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	if loc.field == "" {
		return encoded, nil
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, loc.doc())
	}
	return setField(doc, loc.field, encoded)
}

// applyUpdate runs fn against the value at loc and returns the new document.
// Errors from fn come back unwrapped.
func applyUpdate(doc json.RawMessage, loc location, fn UpdateFunc) (json.RawMessage, error) {
	var current json.RawMessage
	if doc != nil {
		if loc.field == "" {
			current = doc
		} else {
			v, ok, err := getField(doc, loc.field)
			if err != nil {
				return nil, err
			}
			if ok {
				current = v
			}
		}
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	return writeAt(doc, loc, next)
}
