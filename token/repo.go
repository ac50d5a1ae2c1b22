package token

import "errors"

// ErrNotFound is returned when a code, token, or mapping entry is absent
// (including expired entries reaped on lookup).
var ErrNotFound = errors.New("token not found")

// CodeRepo stores single-use local authorization codes.
type CodeRepo interface {
	SaveCode(code *AuthorizationCode) error
	GetCode(code string) (*AuthorizationCode, error)
	// ConsumeCode atomically removes and returns the code. A second call for
	// the same code observes ErrNotFound, which enforces single use under
	// concurrent duplicate delivery.
	ConsumeCode(code string) (*AuthorizationCode, error)
}

// AccessTokenRepo stores local access token records.
type AccessTokenRepo interface {
	SaveAccessToken(t *AccessToken) error
	GetAccessToken(token string) (*AccessToken, error)
	DeleteAccessToken(token string) error
}

// RefreshTokenRepo stores local refresh token records.
type RefreshTokenRepo interface {
	SaveRefreshToken(t *RefreshToken) error
	GetRefreshToken(token string) (*RefreshToken, error)
	DeleteRefreshToken(token string) error
}

// MappingRepo is the bidirectional local-to-upstream association. Keys are
// local token strings (or code-scoped link keys); values are Norman tokens.
type MappingRepo interface {
	PutMapping(local, upstream string) error
	GetMapping(local string) (string, error)
	DeleteMapping(local string) error
}
