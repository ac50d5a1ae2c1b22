package clients

import (
	"net"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/norman-finance/norman-mcp-go/internal/config"
)

// defaultRedirectURIs covers common MCP tool clients (Inspector, connectors)
// so that ad hoc clients work without an explicit registration call.
var defaultRedirectURIs = []string{
	"http://localhost:3000/callback",
	"http://localhost:5173/oauth/callback",
	"http://localhost:6274/oauth/callback",
	"http://localhost:6274/oauth/callback/debug",
	"http://127.0.0.1:6274/oauth/callback",
	"http://127.0.0.1:6274/oauth/callback/debug",
	"https://mcp.norman.finance/oauth/callback",
	"https://mcp.norman.finance/callback",
	"https://chatgpt.com/connector_platform_oauth_redirect",
}

// allowedOrigins are production origins whose redirect URIs are accepted
// without prior registration.
var allowedOrigins = map[string]struct{}{
	"https://mcp.norman.finance": {},
	"https://chatgpt.com":        {},
}

// Registry manages OAuth client registration and the redirect URI policy.
type Registry struct {
	repo Repo
	cfg  config.Config
}

// NewRegistry creates a client registry backed by the given repository.
func NewRegistry(repo Repo, cfg config.Config) (*Registry, error) {
	if repo == nil {
		return nil, errors.New("[NewRegistry] repo is required")
	}
	if cfg == nil {
		return nil, errors.New("[NewRegistry] config is required")
	}
	return &Registry{repo: repo, cfg: cfg}, nil
}

// RegisterStatic preloads the trusted public client from deployment
// configuration. A missing upstream client ID is tolerated: the server can
// still run with dynamically registered clients.
func (reg *Registry) RegisterStatic() error {
	clientID := reg.cfg.GetUpstreamClientID()
	if clientID == "" {
		log.Warn().Msg("static client not pre-registered: NORMAN_OAUTH_CLIENT_ID is unset")
		return nil
	}

	client := &Client{
		ID:            clientID,
		Name:          "Norman MCP Client",
		RedirectURIs:  append([]string(nil), defaultRedirectURIs...),
		AuthMethod:    AuthMethodNone,
		GrantTypes:    []string{"authorization_code", "refresh_token"},
		ResponseTypes: []string{"code"},
		Scope:         strings.Join(reg.cfg.GetSupportedScopes(), " "),
	}
	if err := reg.repo.Upsert(client); err != nil {
		return errors.Wrap(err, "[Registry.RegisterStatic] repo.Upsert")
	}
	log.Info().Str("client_id", truncateID(clientID)).Msg("pre-registered static client")
	return nil
}

// Get returns the client, auto-provisioning a public client with the default
// redirect allow-list when the ID has not been seen before.
func (reg *Registry) Get(clientID string) (*Client, error) {
	if clientID == "" {
		return nil, ErrNotFound
	}

	client, err := reg.repo.Get(clientID)
	if err == nil {
		return client, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, errors.Wrap(err, "[Registry.Get] repo.Get")
	}

	client = &Client{
		ID:            clientID,
		Name:          "Client " + truncateID(clientID),
		RedirectURIs:  append([]string(nil), defaultRedirectURIs...),
		AuthMethod:    AuthMethodNone,
		GrantTypes:    []string{"authorization_code", "refresh_token"},
		ResponseTypes: []string{"code"},
		Scope:         strings.Join(reg.cfg.GetSupportedScopes(), " "),
	}
	if err := reg.repo.Upsert(client); err != nil {
		return nil, errors.Wrap(err, "[Registry.Get] auto-provision Upsert")
	}
	log.Info().Str("client_id", truncateID(clientID)).Msg("auto-registered client")
	return client, nil
}

// AddRedirectURI idempotently grows a client's allowed redirect set.
func (reg *Registry) AddRedirectURI(clientID, redirectURI string) error {
	client, err := reg.repo.Get(clientID)
	if err != nil {
		return errors.Wrap(err, "[Registry.AddRedirectURI] repo.Get")
	}
	if client.HasRedirectURI(redirectURI) {
		return nil
	}
	client.RedirectURIs = append(client.RedirectURIs, redirectURI)
	if err := reg.repo.Upsert(client); err != nil {
		return errors.Wrap(err, "[Registry.AddRedirectURI] repo.Upsert")
	}
	log.Info().Str("client_id", truncateID(clientID)).Str("redirect_uri", redirectURI).Msg("added redirect URI")
	return nil
}

// Register accepts externally supplied client metadata (Dynamic Client
// Registration). The supported scopes are forced onto the client regardless
// of what was requested, so that downstream operations remain grantable.
func (reg *Registry) Register(client *Client) error {
	if client == nil || client.ID == "" {
		return errors.New("[Registry.Register] client ID is required")
	}
	if client.AuthMethod == "" {
		client.AuthMethod = AuthMethodNone
	}
	if len(client.GrantTypes) == 0 {
		client.GrantTypes = []string{"authorization_code", "refresh_token"}
	}
	if len(client.ResponseTypes) == 0 {
		client.ResponseTypes = []string{"code"}
	}
	client.Scope = strings.Join(reg.cfg.GetSupportedScopes(), " ")

	if err := reg.repo.Upsert(client); err != nil {
		return errors.Wrap(err, "[Registry.Register] repo.Upsert")
	}
	log.Info().Str("client_id", truncateID(client.ID)).Str("scope", client.Scope).Msg("registered client")
	return nil
}

// ValidateRedirectURI applies the redirect URI policy for an authorize
// request. Loopback addresses are accepted on any port (PKCE compensates for
// the lack of a fixed port on native clients). Allow-listed production
// origins are accepted. Anything else must exactly match a URI already
// registered for the client.
func (reg *Registry) ValidateRedirectURI(client *Client, redirectURI string) error {
	if client.HasRedirectURI(redirectURI) {
		return nil
	}
	if isLoopbackRedirect(redirectURI) || isAllowedOrigin(redirectURI) {
		return nil
	}
	return errors.Wrapf(ErrInvalidRedirectURI, "[Registry.ValidateRedirectURI] %s", redirectURI)
}

func isLoopbackRedirect(redirectURI string) bool {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

func isAllowedOrigin(redirectURI string) bool {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return false
	}
	_, ok := allowedOrigins[u.Scheme+"://"+u.Host]
	return ok
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
