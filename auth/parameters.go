package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// CodeMethodType represents the PKCE challenge method.
type CodeMethodType string

const (
	// CodeMethodTypeS256 is the SHA-256 based PKCE method, and the only one
	// this server accepts. Public clients on loopback redirect URIs lean on
	// it to bind the code to the client that started the flow.
	CodeMethodTypeS256 CodeMethodType = "S256"
)

// GrantType represents the OAuth 2.0 grant type used at the token endpoint.
type GrantType string

const (
	AuthorizationCodeGrant GrantType = "authorization_code"
	RefreshTokenGrant      GrantType = "refresh_token"
)

// AuthorizationParameters holds the caller's authorize request.
type AuthorizationParameters struct {
	// RedirectURI is where the local authorization code will be sent. It is
	// never forwarded to Norman; Norman only ever sees this server's fixed
	// callback URI.
	RedirectURI string

	// State is the caller's CSRF token. Optional; generated when absent, and
	// echoed back unchanged on the final redirect.
	State string

	// CodeChallenge is the mandatory S256 PKCE challenge.
	CodeChallenge string

	// CodeChallengeMethod must be S256 when set.
	CodeChallengeMethod CodeMethodType

	// Scopes requested by the caller. Defaults to the supported set.
	Scopes []string
}

// Validate checks the authorize request before any state is persisted.
func (p *AuthorizationParameters) Validate() error {
	if strings.TrimSpace(p.RedirectURI) == "" {
		return MissingRedirectURIErr
	}
	if strings.TrimSpace(p.CodeChallenge) == "" {
		return InvalidCodeChallengeErr
	}
	if p.CodeChallengeMethod != "" && p.CodeChallengeMethod != CodeMethodTypeS256 {
		return InvalidCodeChallengeErr
	}
	return nil
}

// CheckCodeChallenge verifies an S256 PKCE verifier against the stored
// challenge. An empty stored challenge passes (no PKCE was bound).
func CheckCodeChallenge(storedChallenge, verifier string) bool {
	if storedChallenge == "" {
		return true
	}
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:]) == storedChallenge
}
