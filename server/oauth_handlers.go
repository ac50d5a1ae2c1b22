package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/norman-finance/norman-mcp-go/auth"
	"github.com/norman-finance/norman-mcp-go/clients"
	"github.com/norman-finance/norman-mcp-go/token"
	"github.com/norman-finance/norman-mcp-go/upstream"
)

// oauthError is the RFC 6749 error response body.
type oauthError struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(oauthError{Error: code, Description: description})
}

// AuthorizeHandler begins the authorization flow: it validates the request,
// persists the pending state, and redirects the caller to Norman's own
// authorize endpoint.
func (s *Server) AuthorizeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		if rt := query.Get("response_type"); rt != "" && rt != "code" {
			writeOAuthError(w, http.StatusBadRequest, "unsupported_response_type", "only response_type=code is supported")
			return
		}

		clientID := query.Get("client_id")
		if clientID == "" {
			writeOAuthError(w, http.StatusBadRequest, "invalid_request", "client_id is required")
			return
		}

		client, err := s.registry.Get(clientID)
		if err != nil {
			writeOAuthError(w, http.StatusBadRequest, "invalid_client", "unknown client")
			return
		}

		params := &auth.AuthorizationParameters{
			RedirectURI:         query.Get("redirect_uri"),
			State:               query.Get("state"),
			CodeChallenge:       query.Get("code_challenge"),
			CodeChallengeMethod: auth.CodeMethodType(query.Get("code_challenge_method")),
			Scopes:              splitScopes(query.Get("scope")),
		}

		upstreamURL, err := s.provider.Authorize(client, params)
		if err != nil {
			log.Error().Err(err).Msg("authorize request rejected")
			if errors.Is(err, clients.ErrInvalidRedirectURI) {
				writeOAuthError(w, http.StatusBadRequest, "invalid_request", "redirect_uri not allowed")
				return
			}
			writeOAuthError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		http.Redirect(w, r, upstreamURL, http.StatusFound)
	}
}

// TokenHandler serves the token endpoint: authorization_code and
// refresh_token grants.
func (s *Server) TokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
			return
		}

		switch auth.GrantType(r.PostFormValue("grant_type")) {
		case auth.AuthorizationCodeGrant:
			s.handleAuthorizationCodeGrant(w, r)
		case auth.RefreshTokenGrant:
			s.handleRefreshTokenGrant(w, r)
		default:
			writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "grant_type must be authorization_code or refresh_token")
		}
	}
}

// clientAuthenticated applies client_secret_post authentication for the
// client a grant was issued to. Public clients rely on PKCE; confidential
// clients must post their secret.
func (s *Server) clientAuthenticated(r *http.Request, grantClientID string) bool {
	if presented := r.PostFormValue("client_id"); presented != "" && presented != grantClientID {
		return false
	}
	client, err := s.registry.Get(grantClientID)
	if err != nil {
		return false
	}
	if client.IsPublic() {
		return true
	}
	return client.SecretMatches(r.PostFormValue("client_secret"))
}

func (s *Server) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request) {
	code := r.PostFormValue("code")
	if code == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "code is required")
		return
	}

	authCode, err := s.provider.LoadAuthorizationCode(code)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "failed to load authorization code")
		return
	}
	if authCode == nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "unknown or expired authorization code")
		return
	}

	if !s.clientAuthenticated(r, authCode.ClientID) {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		return
	}

	if !auth.CheckCodeChallenge(authCode.CodeChallenge, r.PostFormValue("code_verifier")) {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "code verifier check failed")
		return
	}

	tokenResponse, err := s.provider.ExchangeAuthorizationCode(code)
	if err != nil {
		log.Error().Err(err).Msg("authorization code exchange failed")
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "authorization code already consumed")
		return
	}
	writeTokenResponse(w, tokenResponse)
}

func (s *Server) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request) {
	refreshTokenStr := r.PostFormValue("refresh_token")
	if refreshTokenStr == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	refreshToken, err := s.provider.LoadRefreshToken(refreshTokenStr)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "failed to load refresh token")
		return
	}
	if refreshToken == nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "unknown or expired refresh token")
		return
	}

	if !s.clientAuthenticated(r, refreshToken.ClientID) {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		return
	}

	tokenResponse, err := s.provider.ExchangeRefreshToken(r.Context(), refreshToken, splitScopes(r.PostFormValue("scope")))
	if err != nil {
		log.Error().Err(err).Msg("refresh token exchange failed")
		if errors.Is(err, upstream.ErrNetwork) {
			writeOAuthError(w, http.StatusServiceUnavailable, "temporarily_unavailable", "failed to reach Norman")
			return
		}
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "refresh failed")
		return
	}
	writeTokenResponse(w, tokenResponse)
}

// RevokeHandler serves RFC 7009 token revocation. Revoking an unknown token
// still answers 200.
func (s *Server) RevokeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
			return
		}
		tok := r.PostFormValue("token")
		if tok == "" {
			writeOAuthError(w, http.StatusBadRequest, "invalid_request", "token is required")
			return
		}
		if err := s.provider.RevokeToken(tok, r.PostFormValue("token_type_hint")); err != nil {
			writeOAuthError(w, http.StatusInternalServerError, "server_error", "revocation failed")
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// registrationRequest is the Dynamic Client Registration request body.
type registrationRequest struct {
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	Scope                   string   `json:"scope"`
}

// registrationResponse echoes the registered metadata plus the issued
// credentials. The plaintext secret is returned exactly once.
type registrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	Scope                   string   `json:"scope"`
}

// RegisterClientHandler serves Dynamic Client Registration.
func (s *Server) RegisterClientHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registrationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeOAuthError(w, http.StatusBadRequest, "invalid_client_metadata", "malformed registration body")
			return
		}

		client := &clients.Client{
			ID:            uuid.NewString(),
			Name:          req.ClientName,
			RedirectURIs:  req.RedirectURIs,
			AuthMethod:    clients.AuthMethodType(req.TokenEndpointAuthMethod),
			GrantTypes:    req.GrantTypes,
			ResponseTypes: req.ResponseTypes,
			Scope:         req.Scope,
		}

		var plaintextSecret string
		if client.AuthMethod == clients.AuthMethodSecretPost {
			secret, err := token.NewOpaque("", 32)
			if err != nil {
				writeOAuthError(w, http.StatusInternalServerError, "server_error", "secret generation failed")
				return
			}
			hash, err := clients.HashSecret(secret)
			if err != nil {
				writeOAuthError(w, http.StatusInternalServerError, "server_error", "secret hashing failed")
				return
			}
			plaintextSecret = secret
			client.SecretHash = hash
		}

		if err := s.registry.Register(client); err != nil {
			log.Error().Err(err).Msg("dynamic registration failed")
			writeOAuthError(w, http.StatusBadRequest, "invalid_client_metadata", err.Error())
			return
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(registrationResponse{
			ClientID:                client.ID,
			ClientSecret:            plaintextSecret,
			ClientName:              client.Name,
			RedirectURIs:            client.RedirectURIs,
			TokenEndpointAuthMethod: string(client.AuthMethod),
			GrantTypes:              client.GrantTypes,
			ResponseTypes:           client.ResponseTypes,
			Scope:                   client.Scope,
		})
	}
}

// WellKnownAuthServerHandler serves the OAuth authorization server metadata
// document.
func (s *Server) WellKnownAuthServerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		baseURL := s.config.GetPublicURL()

		resp := map[string]any{
			"issuer":                 baseURL,
			"authorization_endpoint": baseURL + RouteOAuthAuthorize,
			"token_endpoint":         baseURL + RouteOAuthToken,
			"revocation_endpoint":    baseURL + RouteOAuthRevoke,
			"registration_endpoint":  baseURL + RouteOAuthRegister,

			"response_types_supported":         []string{"code"},
			"grant_types_supported":            []string{"authorization_code", "refresh_token"},
			"code_challenge_methods_supported": []string{"S256"},
			"scopes_supported":                 s.config.GetSupportedScopes(),
			"token_endpoint_auth_methods_supported": []string{
				"none",               // Public clients with PKCE
				"client_secret_post", // Credentials in POST body
			},
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		w.Header().Set("Cache-Control", "public, max-age=3600") // Cache for 1 hour
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func writeTokenResponse(w http.ResponseWriter, tokenResponse *token.Response) {
	w.Header().Set("Content-Type", contentTypeJSON)
	_ = json.NewEncoder(w).Encode(tokenResponse)
}

func splitScopes(scope string) []string {
	return strings.Fields(scope)
}
