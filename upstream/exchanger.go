// Package upstream talks to Norman's own OAuth server: the authorize URL the
// caller is redirected to, and the two token-endpoint calls (authorization
// code exchange and refresh) this server performs on the caller's behalf.
package upstream

import (
	"context"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/norman-finance/norman-mcp-go/internal/config"
)

const (
	authorizePath = "/api/v1/oauth/authorize/"
	tokenPath     = "/api/v1/oauth/token/"
)

var (
	// ErrExchange covers a non-success response from Norman's token endpoint
	// or a response missing an access token.
	ErrExchange = errors.New("upstream token exchange failed")
	// ErrNetwork covers connectivity failures reaching Norman. Never retried.
	ErrNetwork = errors.New("upstream network failure")
)

// TokenSet is the upstream credential pair returned by Norman's token
// endpoint. RefreshToken may be empty; on a refresh grant a non-empty value
// means Norman issued a new refresh token.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
}

// Exchanger performs the upstream OAuth calls against Norman.
type Exchanger interface {
	AuthCodeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)
}

// Client is the production Exchanger backed by golang.org/x/oauth2.
type Client struct {
	oauth   *oauth2.Config
	timeout time.Duration
}

var _ Exchanger = (*Client)(nil)

// New builds an upstream client from deployment configuration. callbackURL
// is this server's fixed, externally reachable callback URI; it is the only
// redirect URI Norman ever sees.
func New(cfg config.UpstreamConfig, callbackURL string) *Client {
	base := cfg.GetAPIBaseURL()
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.GetUpstreamClientID(),
			ClientSecret: cfg.GetUpstreamClientSecret(),
			RedirectURL:  callbackURL,
			Scopes:       []string{"read", "write"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + authorizePath,
				TokenURL:  base + tokenPath,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		timeout: cfg.GetAPITimeout(),
	}
}

// AuthCodeURL returns Norman's authorize URL for the given state token.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// ExchangeCode swaps a Norman authorization code for Norman tokens.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenSet, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, classify(err, "[ExchangeCode]")
	}
	return tokenSet(tok)
}

// Refresh performs a refresh grant against Norman's token endpoint. The
// returned TokenSet carries a refresh token only when Norman rotated it: the
// oauth2 library backfills the request's refresh token into the response, so
// an unchanged value is reported as empty.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tok, err := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, classify(err, "[Refresh]")
	}
	set, err := tokenSet(tok)
	if err != nil {
		return nil, err
	}
	if set.RefreshToken == refreshToken {
		set.RefreshToken = ""
	}
	return set, nil
}

func tokenSet(tok *oauth2.Token) (*TokenSet, error) {
	if tok.AccessToken == "" {
		return nil, errors.Wrap(ErrExchange, "no access token in upstream response")
	}
	return &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}, nil
}

// classify separates connectivity failures from rejections by the upstream
// token endpoint. The oauth2 transport wraps all network errors in url.Error;
// a RetrieveError means Norman answered with a non-success status.
func classify(err error, op string) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		log.Error().Int("status", retrieveErr.Response.StatusCode).Msg("upstream token endpoint rejected request")
		return errors.Wrapf(ErrExchange, "%s status %d", op, retrieveErr.Response.StatusCode)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		log.Error().Err(err).Msg("network error reaching upstream token endpoint")
		return errors.Wrapf(ErrNetwork, "%s %v", op, err)
	}
	return errors.Wrapf(ErrExchange, "%s %v", op, err)
}
