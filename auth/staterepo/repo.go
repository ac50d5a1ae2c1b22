package staterepo

import (
	"errors"
	"time"
)

// ErrNotFound is returned for an unknown, expired, or already consumed state.
var ErrNotFound = errors.New("state not found")

// AuthorizationState holds the pending authorize request's parameters keyed
// by the opaque state token sent upstream. ClientState preserves the state
// value the caller originally supplied so it can be echoed back on callback.
type AuthorizationState struct {
	State         string
	ClientID      string
	RedirectURI   string
	CodeChallenge string
	Scopes        []string
	ClientState   string
	CreatedAt     time.Time
}

type Repo interface {
	Upsert(state string, authState *AuthorizationState) error
	Get(state string) (*AuthorizationState, error)
	// Consume atomically removes and returns the state. States are one-shot:
	// a second call for the same state observes ErrNotFound.
	Consume(state string) (*AuthorizationState, error)
	Delete(state string) error
}
