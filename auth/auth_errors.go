package auth

import "errors"

var (
	// InvalidStateErr means the callback state is unknown, expired, or
	// already consumed. Terminal for the flow; the caller must restart
	// authorize.
	InvalidStateErr = errors.New("invalid or expired state")
	// UnknownCodeErr means a code or token is not present in a vault.
	UnknownCodeErr = errors.New("unknown or already consumed code")
	// InvalidCodeChallengeErr means the PKCE parameters are missing or use
	// an unsupported method. Only S256 is accepted.
	InvalidCodeChallengeErr = errors.New("invalid code challenge")
	// MissingRedirectURIErr means the authorize request carried no redirect URI.
	MissingRedirectURIErr = errors.New("redirect uri is required")
)
