package mocks

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/example/pos-checkout/internal/infrastructure/store"
)

// MockStore is a store.Store backed by a MemoryStore that records calls and
// lets tests inject failures. It does not implement store.Transactor, so
// code under test takes its non-transactional path.
type MockStore struct {
	mu    sync.Mutex
	inner *store.MemoryStore

	// For tracking calls in tests
	ReadCalls   []string
	WriteCalls  []WriteCall
	DeleteCalls []string
	UpdateCalls []string
	AppendCalls []AppendCall
	ListCalls   []string

	ReadErr   error
	WriteErr  error
	AppendErr error
	// UpdateHook runs before every AtomicUpdate. A non-nil error is returned
	// in place of applying the update.
	UpdateHook func(path string) error
}

// WriteCall records parameters passed to Write
type WriteCall struct {
	Path  string
	Value any
}

// AppendCall records parameters passed to AppendChild
type AppendCall struct {
	Collection string
	Value      any
}

// NewMockStore creates a new MockStore
func NewMockStore() *MockStore {
	return &MockStore{inner: store.NewMemoryStore()}
}

// Seed writes a value without recording a call.
func (m *MockStore) Seed(path string, value any) {
	if err := m.inner.Write(context.Background(), path, value); err != nil {
		panic(err)
	}
}

// Memory exposes the backing store for assertions.
func (m *MockStore) Memory() *store.MemoryStore {
	return m.inner
}

// TotalCalls counts every recorded call.
func (m *MockStore) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ReadCalls) + len(m.WriteCalls) + len(m.DeleteCalls) +
		len(m.UpdateCalls) + len(m.AppendCalls) + len(m.ListCalls)
}

func (m *MockStore) Read(ctx context.Context, path string) (json.RawMessage, error) {
	m.mu.Lock()
	m.ReadCalls = append(m.ReadCalls, path)
	err := m.ReadErr
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return m.inner.Read(ctx, path)
}

func (m *MockStore) Write(ctx context.Context, path string, value any) error {
	m.mu.Lock()
	m.WriteCalls = append(m.WriteCalls, WriteCall{Path: path, Value: value})
	err := m.WriteErr
	m.mu.Unlock()

	if err != nil {
		return err
	}
	return m.inner.Write(ctx, path, value)
}

func (m *MockStore) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	m.DeleteCalls = append(m.DeleteCalls, path)
	m.mu.Unlock()
	return m.inner.Delete(ctx, path)
}

func (m *MockStore) AtomicUpdate(ctx context.Context, path string, fn store.UpdateFunc) error {
	m.mu.Lock()
	m.UpdateCalls = append(m.UpdateCalls, path)
	hook := m.UpdateHook
	m.mu.Unlock()

	if hook != nil {
		if err := hook(path); err != nil {
			return err
		}
	}
	return m.inner.AtomicUpdate(ctx, path, fn)
}

func (m *MockStore) AppendChild(ctx context.Context, collection string, value any) (string, error) {
	m.mu.Lock()
	m.AppendCalls = append(m.AppendCalls, AppendCall{Collection: collection, Value: value})
	err := m.AppendErr
	m.mu.Unlock()

	if err != nil {
		return "", err
	}
	return m.inner.AppendChild(ctx, collection, value)
}

func (m *MockStore) List(ctx context.Context, collection string) ([]store.Node, error) {
	m.mu.Lock()
	m.ListCalls = append(m.ListCalls, collection)
	m.mu.Unlock()
	return m.inner.List(ctx, collection)
}

// Reset clears recorded calls and injected failures
func (m *MockStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadCalls = nil
	m.WriteCalls = nil
	m.DeleteCalls = nil
	m.UpdateCalls = nil
	m.AppendCalls = nil
	m.ListCalls = nil
	m.ReadErr = nil
	m.WriteErr = nil
	m.AppendErr = nil
	m.UpdateHook = nil
}

// MockTxnStore adds store.Transactor to MockStore.
type MockTxnStore struct {
	*MockStore

	CommitCalls []store.Txn
	CommitErr   error
}

func NewMockTxnStore() *MockTxnStore {
	return &MockTxnStore{MockStore: NewMockStore()}
}

func (m *MockTxnStore) Commit(ctx context.Context, txn store.Txn) error {
	m.mu.Lock()
	m.CommitCalls = append(m.CommitCalls, txn)
	err := m.CommitErr
	m.mu.Unlock()

	if err != nil {
		return err
	}
	return m.inner.Commit(ctx, txn)
}
