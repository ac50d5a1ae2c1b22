package clients

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// AuthMethodType is the token endpoint authentication method for a client.
type AuthMethodType string

const (
	AuthMethodNone       AuthMethodType = "none"
	AuthMethodSecretPost AuthMethodType = "client_secret_post"
)

// Client describes a registered OAuth client of this server. These are the
// tool-calling clients (Inspector, ChatGPT connectors, ad hoc scripts), not
// the Norman upstream identity.
type Client struct {
	ID            string         `json:"client_id"`
	Name          string         `json:"client_name,omitempty"`
	SecretHash    string         `json:"-"` // bcrypt hash, empty for public clients
	RedirectURIs  []string       `json:"redirect_uris"`
	AuthMethod    AuthMethodType `json:"token_endpoint_auth_method"`
	GrantTypes    []string       `json:"grant_types"`
	ResponseTypes []string       `json:"response_types"`
	Scope         string         `json:"scope"`
}

// IsPublic returns true if the client cannot keep a secret and must use PKCE.
func (c *Client) IsPublic() bool {
	return c.SecretHash == "" || c.AuthMethod == AuthMethodNone
}

// HasRedirectURI checks for an exact match against the registered set.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// SecretMatches compares a presented secret against the stored hash.
func (c *Client) SecretMatches(secret string) bool {
	if c.SecretHash == "" {
		return secret == ""
	}
	return bcrypt.CompareHashAndPassword([]byte(c.SecretHash), []byte(secret)) == nil
}

// HasScope checks if the client has permission for a specific scope.
func (c *Client) HasScope(scope string) bool {
	for _, s := range strings.Fields(c.Scope) {
		if s == scope {
			return true
		}
	}
	return false
}

// ValidateScopes checks that every requested scope is allowed for this client.
func (c *Client) ValidateScopes(requestedScopes []string) error {
	for _, scope := range requestedScopes {
		if !c.HasScope(scope) {
			return ErrInvalidScope
		}
	}
	return nil
}

// HashSecret hashes a client secret for storage.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
