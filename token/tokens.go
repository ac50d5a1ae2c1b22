package token

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
)

// AuthorizationCode is a single-use local code minted after a successful
// upstream exchange. It is valid for exactly one exchange, then discarded.
type AuthorizationCode struct {
	Code          string
	ClientID      string
	RedirectURI   string
	Scopes        []string
	CodeChallenge string
	ExpiresAt     time.Time
}

// AccessToken is a local bearer credential, opaque to Norman. The mapping
// vault resolves it to the upstream token it stands in for.
type AccessToken struct {
	Token     string
	ClientID  string
	Scopes    []string
	ExpiresAt time.Time
}

// RefreshToken is a local refresh credential. Its token string is stable
// across refresh rotations; only its upstream mapping changes.
type RefreshToken struct {
	Token     string
	ClientID  string
	Scopes    []string
	ExpiresAt time.Time
}

// Response is the token endpoint response body.
type Response struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// NewOpaque generates a prefixed opaque token string from byteLen random bytes.
func NewOpaque(prefix string, byteLen int) (string, error) {
	tokenBytes := make([]byte, byteLen)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", errors.Wrap(err, "[NewOpaque] rand.Read")
	}
	return prefix + hex.EncodeToString(tokenBytes), nil
}
