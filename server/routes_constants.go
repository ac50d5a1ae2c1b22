package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// OAuth routes
	RouteOAuthAuthorize = "/oauth/authorize"
	RouteOAuthToken     = "/oauth/token"
	RouteOAuthRevoke    = "/oauth/revoke"
	RouteOAuthRegister  = "/oauth/register"

	// Callback route Norman redirects to after user consent
	RouteOAuthCallback = "/oauth/callback"

	// Discovery
	RouteWellKnownAuthServer = "/.well-known/oauth-authorization-server"
)
