package server

func (s *Server) initRoutes() {
	// OAuth routing layer consumed by tool clients
	s.RegisterRouteFunc("GET "+RouteOAuthAuthorize, ChainMiddleware(s.AuthorizeHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("POST "+RouteOAuthToken, ChainMiddleware(s.TokenHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("POST "+RouteOAuthRevoke, ChainMiddleware(s.RevokeHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("POST "+RouteOAuthRegister, ChainMiddleware(s.RegisterClientHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("GET "+RouteWellKnownAuthServer, ChainMiddleware(s.WellKnownAuthServerHandler(), s.APIMiddleware()...))

	// Callback endpoint exposed to Norman
	s.RegisterRouteFunc("GET "+RouteOAuthCallback, ChainMiddleware(s.OAuthCallbackHandler(), s.APIMiddleware()...))
}
