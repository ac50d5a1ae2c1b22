package token

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// RefreshLinkKey is the mapping key that links a local authorization code to
// the upstream refresh token issued alongside it. The link exists only
// between callback handling and code exchange.
func RefreshLinkKey(code string) string {
	return "refresh_" + code
}

// InMemoryVault is a thread-safe in-memory implementation of CodeRepo,
// AccessTokenRepo, RefreshTokenRepo, and MappingRepo. It reaps expired
// records lazily on lookup and runs a periodic sweep so that abandoned codes
// and tokens do not accumulate over a long-lived deployment.
type InMemoryVault struct {
	mu       sync.RWMutex
	codes    map[string]*AuthorizationCode
	access   map[string]*AccessToken
	refresh  map[string]*RefreshToken
	mappings map[string]string

	nowTime     func() time.Time
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

var (
	_ CodeRepo         = (*InMemoryVault)(nil)
	_ AccessTokenRepo  = (*InMemoryVault)(nil)
	_ RefreshTokenRepo = (*InMemoryVault)(nil)
	_ MappingRepo      = (*InMemoryVault)(nil)
)

// VaultOption configures an InMemoryVault.
type VaultOption func(*InMemoryVault)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) VaultOption {
	return func(v *InMemoryVault) {
		v.nowTime = nowFunc
	}
}

// NewInMemoryVault creates a vault sweeping expired entries at the given
// interval. A non-positive interval disables the background sweep.
func NewInMemoryVault(cleanupInterval time.Duration, options ...VaultOption) *InMemoryVault {
	v := &InMemoryVault{
		codes:       make(map[string]*AuthorizationCode),
		access:      make(map[string]*AccessToken),
		refresh:     make(map[string]*RefreshToken),
		mappings:    make(map[string]string),
		nowTime:     time.Now,
		stopCleanup: make(chan struct{}),
	}
	for _, opt := range options {
		opt(v)
	}
	if cleanupInterval > 0 {
		go v.cleanupLoop(cleanupInterval)
	}
	return v
}

// Stop terminates the background sweep.
func (v *InMemoryVault) Stop() {
	v.stopOnce.Do(func() { close(v.stopCleanup) })
}

// SaveCode stores a local authorization code
func (v *InMemoryVault) SaveCode(code *AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return errors.New("code cannot be empty")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.codes[code.Code] = copyCode(code)
	return nil
}

// GetCode retrieves a code without consuming it, reaping it if expired
func (v *InMemoryVault) GetCode(code string) (*AuthorizationCode, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	ac, exists := v.codes[code]
	if !exists {
		return nil, ErrNotFound
	}
	if v.nowTime().After(ac.ExpiresAt) {
		v.deleteCodeLocked(code)
		return nil, ErrNotFound
	}
	return copyCode(ac), nil
}

// ConsumeCode atomically removes and returns a code
func (v *InMemoryVault) ConsumeCode(code string) (*AuthorizationCode, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	ac, exists := v.codes[code]
	if !exists {
		return nil, ErrNotFound
	}
	delete(v.codes, code)
	if v.nowTime().After(ac.ExpiresAt) {
		v.deleteMappingsForCodeLocked(code)
		return nil, ErrNotFound
	}
	return copyCode(ac), nil
}

// SaveAccessToken stores a local access token record
func (v *InMemoryVault) SaveAccessToken(t *AccessToken) error {
	if t == nil || t.Token == "" {
		return errors.New("token cannot be empty")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	clone := *t
	clone.Scopes = append([]string(nil), t.Scopes...)
	v.access[t.Token] = &clone
	return nil
}

// GetAccessToken retrieves an access token record
func (v *InMemoryVault) GetAccessToken(token string) (*AccessToken, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	t, exists := v.access[token]
	if !exists {
		return nil, ErrNotFound
	}
	clone := *t
	clone.Scopes = append([]string(nil), t.Scopes...)
	return &clone, nil
}

// DeleteAccessToken removes an access token record
func (v *InMemoryVault) DeleteAccessToken(token string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.access, token)
	return nil
}

// SaveRefreshToken stores a local refresh token record
func (v *InMemoryVault) SaveRefreshToken(t *RefreshToken) error {
	if t == nil || t.Token == "" {
		return errors.New("token cannot be empty")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	clone := *t
	clone.Scopes = append([]string(nil), t.Scopes...)
	v.refresh[t.Token] = &clone
	return nil
}

// GetRefreshToken retrieves a refresh token record
func (v *InMemoryVault) GetRefreshToken(token string) (*RefreshToken, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	t, exists := v.refresh[token]
	if !exists {
		return nil, ErrNotFound
	}
	clone := *t
	clone.Scopes = append([]string(nil), t.Scopes...)
	return &clone, nil
}

// DeleteRefreshToken removes a refresh token record
func (v *InMemoryVault) DeleteRefreshToken(token string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.refresh, token)
	return nil
}

// PutMapping stores a local-to-upstream mapping entry
func (v *InMemoryVault) PutMapping(local, upstream string) error {
	if local == "" || upstream == "" {
		return errors.New("mapping keys cannot be empty")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mappings[local] = upstream
	return nil
}

// GetMapping resolves the upstream token for a local token or link key
func (v *InMemoryVault) GetMapping(local string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	upstream, exists := v.mappings[local]
	if !exists {
		return "", ErrNotFound
	}
	return upstream, nil
}

// DeleteMapping removes a mapping entry
func (v *InMemoryVault) DeleteMapping(local string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.mappings, local)
	return nil
}

func (v *InMemoryVault) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			v.sweep()
		case <-v.stopCleanup:
			return
		}
	}
}

// sweep removes expired codes and tokens together with their mappings.
func (v *InMemoryVault) sweep() {
	now := v.nowTime()

	v.mu.Lock()
	defer v.mu.Unlock()

	var swept int
	for code, ac := range v.codes {
		if now.After(ac.ExpiresAt) {
			v.deleteCodeLocked(code)
			swept++
		}
	}
	for tok, at := range v.access {
		if now.After(at.ExpiresAt) {
			delete(v.access, tok)
			delete(v.mappings, tok)
			swept++
		}
	}
	for tok, rt := range v.refresh {
		if now.After(rt.ExpiresAt) {
			delete(v.refresh, tok)
			delete(v.mappings, tok)
			swept++
		}
	}
	if swept > 0 {
		log.Debug().Int("count", swept).Msg("swept expired vault entries")
	}
}

func (v *InMemoryVault) deleteCodeLocked(code string) {
	delete(v.codes, code)
	v.deleteMappingsForCodeLocked(code)
}

func (v *InMemoryVault) deleteMappingsForCodeLocked(code string) {
	delete(v.mappings, code)
	delete(v.mappings, RefreshLinkKey(code))
}

func copyCode(ac *AuthorizationCode) *AuthorizationCode {
	clone := *ac
	clone.Scopes = append([]string(nil), ac.Scopes...)
	return &clone
}
