package cart

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrCheckoutInProgress = errors.New("a checkout is already in progress for this session")

// Session guards one operator's cart.
type Session struct {
	mu          sync.Mutex
	cart        *Cart
	checkingOut bool

	lastUsed time.Time // guarded by Registry.mu
}

// With runs fn with exclusive access to the cart. It fails with
// ErrCheckoutInProgress while a checkout holds the cart.
func (s *Session) With(fn func(*Cart) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkingOut {
		return ErrCheckoutInProgress
	}
	return fn(s.cart)
}

// View returns a copy of the cart. Reads are allowed during checkout.
func (s *Session) View() *Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Clone()
}

// BeginCheckout locks the cart against edits and returns a frozen copy of
// it. Every successful call must be paired with EndCheckout.
func (s *Session) BeginCheckout() (*Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkingOut {
		return nil, ErrCheckoutInProgress
	}
	s.checkingOut = true
	return s.cart.Clone(), nil
}

// EndCheckout releases the lock taken by BeginCheckout. The cart is
// cleared only when the checkout succeeded.
func (s *Session) EndCheckout(succeeded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if succeeded {
		s.cart.Clear()
	}
	s.checkingOut = false
}

// Registry holds one Session per session id.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session), now: time.Now}
}

// Get returns the session for id, creating an empty one on first use, and
// marks it as used.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		s = &Session{cart: New()}
		r.sessions[id] = s
	}
	s.lastUsed = r.now()
	return s
}

// Sweep drops sessions not used for longer than maxIdle and returns how
// many were dropped. A session in the middle of a checkout is kept.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-maxIdle)
	dropped := 0
	for id, s := range r.sessions {
		if !s.lastUsed.Before(cutoff) {
			continue
		}
		s.mu.Lock()
		busy := s.checkingOut
		s.mu.Unlock()
		if busy {
			continue
		}
		delete(r.sessions, id)
		dropped++
	}
	return dropped
}

// SweepEvery runs Sweep on every tick of interval until ctx is done.
func (r *Registry) SweepEvery(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(maxIdle)
		}
	}
}

// Drop forgets a session, e.g. on logout.
func (r *Registry) Drop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Move re-keys a session, e.g. when a login session is rotated. The cart
// follows the new id; an existing session under to is replaced.
func (r *Registry) Move(from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[from]; ok {
		delete(r.sessions, from)
		r.sessions[to] = s
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
