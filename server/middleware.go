package server

import (
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/norman-finance/norman-mcp-go/norman"
	"github.com/norman-finance/norman-mcp-go/token"
)

func ChainMiddleware(routeFunction http.HandlerFunc, mw ...func(http.HandlerFunc) http.HandlerFunc) http.HandlerFunc {
	chainedHandler := routeFunction
	// Apply middleware in reverse order
	for i := len(mw) - 1; i >= 0; i-- {
		chainedHandler = mw[i](chainedHandler)
	}
	return chainedHandler
}

func (s *Server) APIMiddleware() []func(http.HandlerFunc) http.HandlerFunc {
	return []func(http.HandlerFunc) http.HandlerFunc{
		s.LoggingMiddleware,
		s.RecoverMiddleware,
	}
}

func (s *Server) LoggingMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.env == "DEV" {
			log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("request")
		}
		next(w, r)
	}
}

func (s *Server) RecoverMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Bytes("stack", debug.Stack()).Msg("recovered from handler panic")
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
}

// Authenticate resolves the request's bearer token to the local access token
// record and the Norman credential it maps to. Callers pass the credential
// explicitly into the data-tool layer; nothing is stashed in shared state.
// A missing or invalid token yields nil records, not an error.
func (s *Server) Authenticate(r *http.Request) (*token.AccessToken, *norman.Credential, error) {
	header := r.Header.Get("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return nil, nil, nil
	}
	return s.provider.LoadAccessToken(strings.TrimPrefix(header, "Bearer "))
}
