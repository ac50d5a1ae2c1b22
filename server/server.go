package server

import (
	"fmt"
	"net/http"

	"github.com/norman-finance/norman-mcp-go/auth"
	"github.com/norman-finance/norman-mcp-go/clients"
	"github.com/norman-finance/norman-mcp-go/internal/config"
	"github.com/rs/zerolog/log"
)

const (
	contentTypeHTML = "text/html; charset=utf-8"
	contentTypeJSON = "application/json; charset=utf-8"
)

// Server hosts the bridging provider's HTTP surface: the OAuth routing
// endpoints the tool clients call, and the callback endpoint Norman
// redirects to.
type Server struct {
	env      string
	mux      *http.ServeMux
	routes   []string
	config   config.Config
	provider *auth.Provider
	registry *clients.Registry
}

func New(cfg config.Config, provider *auth.Provider, registry *clients.Registry) (*Server, error) {
	if provider == nil {
		return nil, fmt.Errorf("[Server New] provider is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("[Server New] registry is required")
	}

	s := &Server{
		mux:      http.NewServeMux(),
		config:   cfg,
		provider: provider,
		registry: registry,
		env:      cfg.GetEnv(),
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		log.Debug().Str("route", route).Msg("registered route")
	}
}

// CallbackURL returns this server's fixed, externally reachable callback URI.
func CallbackURL(cfg config.EnvConfig) string {
	return cfg.GetPublicURL() + RouteOAuthCallback
}
