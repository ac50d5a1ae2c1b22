package staterepo

import (
	"errors"
	"sync"
	"time"
)

// InMemoryRepo is a thread-safe in-memory implementation of the Repo
// interface. States carry a TTL so abandoned authorize flows are eventually
// swept instead of accumulating for the lifetime of the process.
type InMemoryRepo struct {
	mu     sync.RWMutex
	states map[string]*AuthorizationState

	ttl         time.Duration
	nowTime     func() time.Time
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// RepoOption configures an InMemoryRepo.
type RepoOption func(*InMemoryRepo)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) RepoOption {
	return func(r *InMemoryRepo) {
		r.nowTime = nowFunc
	}
}

// NewInMemoryRepo creates a new in-memory state repository. Entries older
// than ttl are treated as expired; a non-positive cleanupInterval disables
// the background sweep.
func NewInMemoryRepo(ttl, cleanupInterval time.Duration, options ...RepoOption) *InMemoryRepo {
	r := &InMemoryRepo{
		states:      make(map[string]*AuthorizationState),
		ttl:         ttl,
		nowTime:     time.Now,
		stopCleanup: make(chan struct{}),
	}
	for _, opt := range options {
		opt(r)
	}
	if cleanupInterval > 0 {
		go r.cleanupLoop(cleanupInterval)
	}
	return r
}

// Stop terminates the background sweep.
func (r *InMemoryRepo) Stop() {
	r.stopOnce.Do(func() { close(r.stopCleanup) })
}

// Upsert stores or updates an authorization state
func (r *InMemoryRepo) Upsert(state string, authState *AuthorizationState) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	if authState == nil {
		return errors.New("authState cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.states[state] = copyState(authState)
	return nil
}

// Get retrieves an authorization state without consuming it
func (r *InMemoryRepo) Get(state string) (*AuthorizationState, error) {
	if state == "" {
		return nil, errors.New("state cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	authState, exists := r.states[state]
	if !exists {
		return nil, ErrNotFound
	}
	if r.expired(authState) {
		delete(r.states, state)
		return nil, ErrNotFound
	}
	return copyState(authState), nil
}

// Consume atomically removes and returns an authorization state
func (r *InMemoryRepo) Consume(state string) (*AuthorizationState, error) {
	if state == "" {
		return nil, errors.New("state cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	authState, exists := r.states[state]
	if !exists {
		return nil, ErrNotFound
	}
	delete(r.states, state)
	if r.expired(authState) {
		return nil, ErrNotFound
	}
	return copyState(authState), nil
}

// Delete removes an authorization state
func (r *InMemoryRepo) Delete(state string) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.states, state)
	return nil
}

func (r *InMemoryRepo) expired(authState *AuthorizationState) bool {
	if r.ttl <= 0 {
		return false
	}
	return r.nowTime().Sub(authState.CreatedAt) > r.ttl
}

func (r *InMemoryRepo) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweepExpired()
		case <-r.stopCleanup:
			return
		}
	}
}

func (r *InMemoryRepo) sweepExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for state, authState := range r.states {
		if r.expired(authState) {
			delete(r.states, state)
		}
	}
}

// copyState returns a copy to prevent external modifications
func copyState(s *AuthorizationState) *AuthorizationState {
	clone := *s
	clone.Scopes = append([]string(nil), s.Scopes...)
	return &clone
}
