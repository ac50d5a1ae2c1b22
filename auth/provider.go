// Package auth implements the token-bridging authorization provider. It runs
// a miniature authorization server in front of Norman's own OAuth server:
// callers authenticate here, this server drives Norman's authorize and token
// endpoints, and every locally issued credential maps to the Norman
// credential it stands in for.
package auth

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/norman-finance/norman-mcp-go/auth/staterepo"
	"github.com/norman-finance/norman-mcp-go/clients"
	"github.com/norman-finance/norman-mcp-go/internal/config"
	"github.com/norman-finance/norman-mcp-go/norman"
	"github.com/norman-finance/norman-mcp-go/token"
	"github.com/norman-finance/norman-mcp-go/upstream"
)

const (
	codeByteLength         = 16
	accessTokenByteLength  = 32
	refreshTokenByteLength = 16

	codePrefix         = "mcp_"
	accessTokenPrefix  = "mcp_"
	refreshTokenPrefix = "mcp_refresh_"
)

// Repos holds all repository dependencies for the Provider.
type Repos struct {
	Clients *clients.Registry    // Registered OAuth clients and redirect policy
	States  staterepo.Repo       // Pending authorize requests keyed by state
	Codes   token.CodeRepo       // Single-use local authorization codes
	Access  token.AccessTokenRepo
	Refresh token.RefreshTokenRepo
	Mapping token.MappingRepo // Local to upstream token associations
}

// Provider orchestrates the authorize, callback, exchange, refresh, revoke,
// and validate operations of the bridging authorization server.
type Provider struct {
	repos    Repos
	upstream upstream.Exchanger
	cfg      config.OAuthConfig
	nowTime  func() time.Time // nowTime function (injectable for testing)
}

// ProviderOption defines a function type to modify the Provider instance.
type ProviderOption func(*Provider)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ProviderOption {
	return func(p *Provider) {
		p.nowTime = nowFunc
	}
}

// NewProvider initialises a Provider with the required dependencies.
func NewProvider(repos Repos, exchanger upstream.Exchanger, cfg config.OAuthConfig, options ...ProviderOption) (*Provider, error) {
	if repos.Clients == nil {
		return nil, errors.New("[NewProvider] Clients registry is required")
	}
	if repos.States == nil {
		return nil, errors.New("[NewProvider] States repo is required")
	}
	if repos.Codes == nil || repos.Access == nil || repos.Refresh == nil || repos.Mapping == nil {
		return nil, errors.New("[NewProvider] token vaults are required")
	}
	if exchanger == nil {
		return nil, errors.New("[NewProvider] upstream exchanger is required")
	}
	if cfg == nil {
		return nil, errors.New("[NewProvider] config is required")
	}

	provider := &Provider{
		repos:    repos,
		upstream: exchanger,
		cfg:      cfg,
		nowTime:  time.Now,
	}
	for _, opt := range options {
		opt(provider)
	}
	return provider, nil
}

// Authorize begins an authorization attempt and returns the Norman authorize
// URL the caller should be redirected to. The caller's redirect URI is
// registered for the client if new; it is never sent upstream. No network
// call happens here.
func (p *Provider) Authorize(client *clients.Client, params *AuthorizationParameters) (string, error) {
	if err := params.Validate(); err != nil {
		return "", errors.Wrap(err, "[Authorize] parameter validation")
	}

	if err := p.repos.Clients.ValidateRedirectURI(client, params.RedirectURI); err != nil {
		return "", errors.Wrap(err, "[Authorize] redirect validation")
	}
	if !client.HasRedirectURI(params.RedirectURI) {
		if err := p.repos.Clients.AddRedirectURI(client.ID, params.RedirectURI); err != nil {
			return "", errors.Wrap(err, "[Authorize] AddRedirectURI")
		}
	}

	scopes := params.Scopes
	if len(scopes) == 0 {
		scopes = p.cfg.GetSupportedScopes()
	}
	if err := client.ValidateScopes(scopes); err != nil {
		return "", errors.Wrap(err, "[Authorize] scope validation")
	}

	state := params.State
	if state == "" {
		state = uuid.NewString()
	}

	if err := p.repos.States.Upsert(state, &staterepo.AuthorizationState{
		State:         state,
		ClientID:      client.ID,
		RedirectURI:   params.RedirectURI,
		CodeChallenge: params.CodeChallenge,
		Scopes:        scopes,
		ClientState:   params.State,
		CreatedAt:     p.nowTime(),
	}); err != nil {
		return "", errors.Wrap(err, "[Authorize] States.Upsert")
	}

	log.Info().Str("client_id", shortToken(client.ID)).Msg("authorization request, redirecting upstream")
	return p.upstream.AuthCodeURL(state), nil
}

// HandleCallback processes Norman's redirect back to this server. It consumes
// the pending state, exchanges the Norman code for Norman tokens, mints a
// single-use local code linked to them, and returns the redirect URL carrying
// that code back to the caller's original redirect URI.
func (p *Provider) HandleCallback(ctx context.Context, code, state string) (string, error) {
	// Consume first so a duplicate callback observes "already consumed"
	// instead of re-running the exchange.
	authState, err := p.repos.States.Consume(state)
	if err != nil {
		return "", errors.Wrap(InvalidStateErr, "[HandleCallback] States.Consume")
	}

	tokenSet, err := p.upstream.ExchangeCode(ctx, code)
	if err != nil {
		return "", errors.Wrap(err, "[HandleCallback] upstream exchange")
	}

	localCode, err := token.NewOpaque(codePrefix, codeByteLength)
	if err != nil {
		return "", errors.Wrap(err, "[HandleCallback] code generation")
	}

	if err := p.repos.Codes.SaveCode(&token.AuthorizationCode{
		Code:          localCode,
		ClientID:      authState.ClientID,
		RedirectURI:   authState.RedirectURI,
		Scopes:        authState.Scopes,
		CodeChallenge: authState.CodeChallenge,
		ExpiresAt:     p.nowTime().Add(p.cfg.GetAuthCodeExpiry()),
	}); err != nil {
		return "", errors.Wrap(err, "[HandleCallback] Codes.SaveCode")
	}

	if err := p.repos.Mapping.PutMapping(localCode, tokenSet.AccessToken); err != nil {
		return "", errors.Wrap(err, "[HandleCallback] Mapping.PutMapping")
	}
	if tokenSet.RefreshToken != "" {
		if err := p.repos.Mapping.PutMapping(token.RefreshLinkKey(localCode), tokenSet.RefreshToken); err != nil {
			return "", errors.Wrap(err, "[HandleCallback] Mapping.PutMapping refresh link")
		}
	}

	// Echo the caller's own state value; when the caller supplied none the
	// generated state token is echoed instead.
	echoState := authState.ClientState
	if echoState == "" {
		echoState = state
	}

	redirectURL, err := constructRedirectURI(authState.RedirectURI, localCode, echoState)
	if err != nil {
		return "", errors.Wrap(err, "[HandleCallback] redirect construction")
	}

	log.Info().Str("client_id", shortToken(authState.ClientID)).Msg("upstream exchange complete, local code issued")
	return redirectURL, nil
}

// LoadAuthorizationCode returns the code record without consuming it, or nil
// when the code is unknown or expired.
func (p *Provider) LoadAuthorizationCode(code string) (*token.AuthorizationCode, error) {
	authCode, err := p.repos.Codes.GetCode(code)
	if errors.Is(err, token.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[LoadAuthorizationCode] Codes.GetCode")
	}
	return authCode, nil
}

// ExchangeAuthorizationCode consumes a local authorization code and mints the
// local token pair mapped to the Norman tokens the code was linked to.
func (p *Provider) ExchangeAuthorizationCode(code string) (*token.Response, error) {
	authCode, err := p.repos.Codes.ConsumeCode(code)
	if err != nil {
		return nil, errors.Wrap(UnknownCodeErr, "[ExchangeAuthorizationCode] Codes.ConsumeCode")
	}

	upstreamAccess, err := p.repos.Mapping.GetMapping(code)
	if err != nil {
		return nil, errors.Wrap(UnknownCodeErr, "[ExchangeAuthorizationCode] no upstream token for code")
	}

	accessToken, err := p.mintAccessToken(authCode.ClientID, authCode.Scopes, upstreamAccess)
	if err != nil {
		return nil, errors.Wrap(err, "[ExchangeAuthorizationCode] mint access token")
	}

	var refreshTokenStr string
	if upstreamRefresh, err := p.repos.Mapping.GetMapping(token.RefreshLinkKey(code)); err == nil {
		refreshTokenStr, err = token.NewOpaque(refreshTokenPrefix, refreshTokenByteLength)
		if err != nil {
			return nil, errors.Wrap(err, "[ExchangeAuthorizationCode] refresh token generation")
		}
		if err := p.repos.Refresh.SaveRefreshToken(&token.RefreshToken{
			Token:     refreshTokenStr,
			ClientID:  authCode.ClientID,
			Scopes:    authCode.Scopes,
			ExpiresAt: p.nowTime().Add(p.cfg.GetRefreshTokenExpiry()),
		}); err != nil {
			return nil, errors.Wrap(err, "[ExchangeAuthorizationCode] Refresh.SaveRefreshToken")
		}
		if err := p.repos.Mapping.PutMapping(refreshTokenStr, upstreamRefresh); err != nil {
			return nil, errors.Wrap(err, "[ExchangeAuthorizationCode] Mapping.PutMapping refresh")
		}
	}

	// Single use: drop the code-scoped mapping entries.
	_ = p.repos.Mapping.DeleteMapping(code)
	_ = p.repos.Mapping.DeleteMapping(token.RefreshLinkKey(code))

	log.Info().Str("token", shortToken(accessToken.Token)).Msg("issued local access token")
	return &token.Response{
		AccessToken:  accessToken.Token,
		TokenType:    "bearer",
		ExpiresIn:    int64(p.cfg.GetAccessTokenExpiry().Seconds()),
		Scope:        strings.Join(authCode.Scopes, " "),
		RefreshToken: refreshTokenStr,
	}, nil
}

// LoadAccessToken validates a candidate token string. An unknown or expired
// token degrades to "not found" (nil record, nil error) because this sits on
// the hot authenticated-request path. A valid token is returned together with
// the Norman credential it maps to, for the data-tool layer to thread through
// explicitly.
func (p *Provider) LoadAccessToken(tok string) (*token.AccessToken, *norman.Credential, error) {
	accessToken, err := p.repos.Access.GetAccessToken(tok)
	if errors.Is(err, token.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "[LoadAccessToken] Access.GetAccessToken")
	}

	if p.nowTime().After(accessToken.ExpiresAt) {
		_ = p.repos.Access.DeleteAccessToken(tok)
		_ = p.repos.Mapping.DeleteMapping(tok)
		return nil, nil, nil
	}

	// Every live token has a mapping; a record without one is unusable and
	// gets evicted like an expired token.
	upstreamToken, err := p.repos.Mapping.GetMapping(tok)
	if err != nil {
		log.Warn().Str("token", shortToken(tok)).Msg("live access token has no upstream mapping, evicting")
		_ = p.repos.Access.DeleteAccessToken(tok)
		return nil, nil, nil
	}
	return accessToken, &norman.Credential{AccessToken: upstreamToken}, nil
}

// LoadRefreshToken looks up a refresh token record, reaping it lazily when
// expired. Unknown tokens degrade to "not found".
func (p *Provider) LoadRefreshToken(tok string) (*token.RefreshToken, error) {
	refreshToken, err := p.repos.Refresh.GetRefreshToken(tok)
	if errors.Is(err, token.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[LoadRefreshToken] Refresh.GetRefreshToken")
	}
	if p.nowTime().After(refreshToken.ExpiresAt) {
		_ = p.repos.Refresh.DeleteRefreshToken(tok)
		_ = p.repos.Mapping.DeleteMapping(tok)
		return nil, nil
	}
	return refreshToken, nil
}

// ExchangeRefreshToken performs a refresh grant against Norman and mints a
// new local access token. The local refresh token string never changes across
// rotations; when Norman issues a new upstream refresh token only the mapping
// is updated in place.
func (p *Provider) ExchangeRefreshToken(ctx context.Context, refreshToken *token.RefreshToken, scopes []string) (*token.Response, error) {
	upstreamRefresh, err := p.repos.Mapping.GetMapping(refreshToken.Token)
	if err != nil {
		return nil, errors.Wrap(UnknownCodeErr, "[ExchangeRefreshToken] no upstream refresh token")
	}

	tokenSet, err := p.upstream.Refresh(ctx, upstreamRefresh)
	if err != nil {
		return nil, errors.Wrap(err, "[ExchangeRefreshToken] upstream refresh")
	}

	if len(scopes) == 0 {
		scopes = refreshToken.Scopes
	}

	accessToken, err := p.mintAccessToken(refreshToken.ClientID, scopes, tokenSet.AccessToken)
	if err != nil {
		return nil, errors.Wrap(err, "[ExchangeRefreshToken] mint access token")
	}

	if tokenSet.RefreshToken != "" {
		if err := p.repos.Mapping.PutMapping(refreshToken.Token, tokenSet.RefreshToken); err != nil {
			return nil, errors.Wrap(err, "[ExchangeRefreshToken] Mapping.PutMapping rotation")
		}
	}

	log.Info().Str("token", shortToken(accessToken.Token)).Msg("refreshed local access token")
	return &token.Response{
		AccessToken:  accessToken.Token,
		TokenType:    "bearer",
		ExpiresIn:    int64(p.cfg.GetAccessTokenExpiry().Seconds()),
		Scope:        strings.Join(scopes, " "),
		RefreshToken: refreshToken.Token,
	}, nil
}

// RevokeToken removes a token and its mapping. The type hint is advisory;
// both vaults are checked regardless. Revoking an unknown token is a no-op.
func (p *Provider) RevokeToken(tok, tokenTypeHint string) error {
	_ = tokenTypeHint

	if _, err := p.repos.Access.GetAccessToken(tok); err == nil {
		_ = p.repos.Mapping.DeleteMapping(tok)
		_ = p.repos.Access.DeleteAccessToken(tok)
		log.Info().Str("token", shortToken(tok)).Msg("revoked access token")
		return nil
	}
	if _, err := p.repos.Refresh.GetRefreshToken(tok); err == nil {
		_ = p.repos.Mapping.DeleteMapping(tok)
		_ = p.repos.Refresh.DeleteRefreshToken(tok)
		log.Info().Str("token", shortToken(tok)).Msg("revoked refresh token")
		return nil
	}
	return nil
}

func (p *Provider) mintAccessToken(clientID string, scopes []string, upstreamAccess string) (*token.AccessToken, error) {
	tokenStr, err := token.NewOpaque(accessTokenPrefix, accessTokenByteLength)
	if err != nil {
		return nil, err
	}
	accessToken := &token.AccessToken{
		Token:     tokenStr,
		ClientID:  clientID,
		Scopes:    scopes,
		ExpiresAt: p.nowTime().Add(p.cfg.GetAccessTokenExpiry()),
	}
	if err := p.repos.Access.SaveAccessToken(accessToken); err != nil {
		return nil, err
	}
	if err := p.repos.Mapping.PutMapping(tokenStr, upstreamAccess); err != nil {
		return nil, err
	}
	return accessToken, nil
}

func constructRedirectURI(redirectURI, code, state string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", err
	}
	query := u.Query()
	query.Set("code", code)
	query.Set("state", state)
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func shortToken(tok string) string {
	if len(tok) <= 10 {
		return tok
	}
	return tok[:10]
}
