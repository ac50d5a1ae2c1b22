package server_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/norman-finance/norman-mcp-go/auth"
	"github.com/norman-finance/norman-mcp-go/auth/staterepo"
	"github.com/norman-finance/norman-mcp-go/clients"
	"github.com/norman-finance/norman-mcp-go/internal/config"
	"github.com/norman-finance/norman-mcp-go/server"
	"github.com/norman-finance/norman-mcp-go/token"
	"github.com/norman-finance/norman-mcp-go/upstream"
)

const (
	testClientID    = "test-client-1"
	testRedirectURI = "http://localhost:3000/callback"
	testVerifier    = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
)

func challengeFor(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

type stubExchanger struct {
	exchangeSet *upstream.TokenSet
	exchangeErr error
	refreshSet  *upstream.TokenSet
	refreshErr  error
}

func (s *stubExchanger) AuthCodeURL(state string) string {
	return "https://sandbox.norman.finance/api/v1/oauth/authorize/?state=" + url.QueryEscape(state)
}

func (s *stubExchanger) ExchangeCode(context.Context, string) (*upstream.TokenSet, error) {
	if s.exchangeErr != nil {
		return nil, s.exchangeErr
	}
	return s.exchangeSet, nil
}

func (s *stubExchanger) Refresh(context.Context, string) (*upstream.TokenSet, error) {
	if s.refreshErr != nil {
		return nil, s.refreshErr
	}
	return s.refreshSet, nil
}

type serverFixture struct {
	server    *server.Server
	exchanger *stubExchanger
}

func setupServer(t *testing.T) *serverFixture {
	t.Helper()

	cfg := config.New()
	exchanger := &stubExchanger{
		exchangeSet: &upstream.TokenSet{AccessToken: "U1", RefreshToken: "R1"},
		refreshSet:  &upstream.TokenSet{AccessToken: "U2", RefreshToken: "R2"},
	}

	vault := token.NewInMemoryVault(0)
	states := staterepo.NewInMemoryRepo(15*time.Minute, 0)

	registry, err := clients.NewRegistry(clients.NewInMemoryRepo(), cfg)
	require.NoError(t, err)

	provider, err := auth.NewProvider(auth.Repos{
		Clients: registry,
		States:  states,
		Codes:   vault,
		Access:  vault,
		Refresh: vault,
		Mapping: vault,
	}, exchanger, cfg)
	require.NoError(t, err)

	srv, err := server.New(cfg, provider, registry)
	require.NoError(t, err)

	return &serverFixture{server: srv, exchanger: exchanger}
}

func (f *serverFixture) get(target string) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	f.server.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, target, nil))
	return recorder
}

func (f *serverFixture) postForm(target string, form url.Values) *httptest.ResponseRecorder {
	request := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	recorder := httptest.NewRecorder()
	f.server.ServeHTTP(recorder, request)
	return recorder
}

// runAuthorizeAndCallback drives authorize then the upstream callback and
// returns the minted local authorization code.
func (f *serverFixture) runAuthorizeAndCallback(t *testing.T) string {
	t.Helper()
	return f.runAuthorizeAndCallbackFor(t, testClientID)
}

func (f *serverFixture) runAuthorizeAndCallbackFor(t *testing.T, clientID string) string {
	t.Helper()

	authorize := f.get("/oauth/authorize?response_type=code" +
		"&client_id=" + url.QueryEscape(clientID) +
		"&redirect_uri=" + url.QueryEscape(testRedirectURI) +
		"&state=s1&code_challenge=" + challengeFor(testVerifier) +
		"&code_challenge_method=S256")
	require.Equal(t, http.StatusFound, authorize.Code)

	upstreamURL, err := url.Parse(authorize.Header().Get("Location"))
	require.NoError(t, err)
	state := upstreamURL.Query().Get("state")
	require.Equal(t, "s1", state)

	callback := f.get("/oauth/callback?code=NORM123&state=" + state)
	require.Equal(t, http.StatusFound, callback.Code)

	location, err := url.Parse(callback.Header().Get("Location"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(callback.Header().Get("Location"), testRedirectURI))
	require.Equal(t, "s1", location.Query().Get("state"))

	code := location.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func decodeTokenResponse(t *testing.T, recorder *httptest.ResponseRecorder) *token.Response {
	t.Helper()
	require.Equal(t, http.StatusOK, recorder.Code)
	var tokenResponse token.Response
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&tokenResponse))
	return &tokenResponse
}

func decodeOAuthError(t *testing.T, recorder *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&body))
	return body.Error
}

func TestAuthorizeRejectsNonCodeResponseType(t *testing.T) {
	f := setupServer(t)
	recorder := f.get("/oauth/authorize?response_type=token&client_id=" + testClientID)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Equal(t, "unsupported_response_type", decodeOAuthError(t, recorder))
}

func TestAuthorizeRequiresClientID(t *testing.T) {
	f := setupServer(t)
	recorder := f.get("/oauth/authorize?response_type=code")
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Equal(t, "invalid_request", decodeOAuthError(t, recorder))
}

func TestAuthorizeRejectsDisallowedRedirectURI(t *testing.T) {
	f := setupServer(t)
	recorder := f.get("/oauth/authorize?response_type=code&client_id=" + testClientID +
		"&redirect_uri=" + url.QueryEscape("https://evil.example/phish") +
		"&code_challenge=abc&code_challenge_method=S256")
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Equal(t, "invalid_request", decodeOAuthError(t, recorder))
}

func TestCallbackWithUpstreamErrorRendersErrorPage(t *testing.T) {
	f := setupServer(t)
	recorder := f.get("/oauth/callback?error=access_denied&error_description=User+cancelled")
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Contains(t, recorder.Header().Get("Content-Type"), "text/html")
	require.Contains(t, recorder.Body.String(), "Authorization Failed")
	require.Contains(t, recorder.Body.String(), "User cancelled")
}

func TestCallbackRequiresCodeAndState(t *testing.T) {
	f := setupServer(t)
	recorder := f.get("/oauth/callback?code=NORM123")
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Contains(t, recorder.Body.String(), "Missing code or state")
}

func TestCallbackWithUnknownStateRendersErrorPage(t *testing.T) {
	f := setupServer(t)
	recorder := f.get("/oauth/callback?code=NORM123&state=never-issued")
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Contains(t, recorder.Body.String(), "Invalid or expired state")
}

func TestCallbackNetworkFailureIsServerError(t *testing.T) {
	f := setupServer(t)
	f.exchanger.exchangeErr = upstream.ErrNetwork

	authorize := f.get("/oauth/authorize?response_type=code&client_id=" + testClientID +
		"&redirect_uri=" + url.QueryEscape(testRedirectURI) +
		"&state=s1&code_challenge=abc&code_challenge_method=S256")
	require.Equal(t, http.StatusFound, authorize.Code)

	recorder := f.get("/oauth/callback?code=NORM123&state=s1")
	require.Equal(t, http.StatusInternalServerError, recorder.Code)
	require.Contains(t, recorder.Body.String(), "Failed to communicate with Norman")
}

func TestFullTokenFlow(t *testing.T) {
	f := setupServer(t)
	code := f.runAuthorizeAndCallback(t)

	recorder := f.postForm("/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {testVerifier},
	})
	tokenResponse := decodeTokenResponse(t, recorder)
	require.Equal(t, "bearer", tokenResponse.TokenType)
	require.Equal(t, int64(86400), tokenResponse.ExpiresIn)
	require.True(t, strings.HasPrefix(tokenResponse.AccessToken, "mcp_"))
	require.True(t, strings.HasPrefix(tokenResponse.RefreshToken, "mcp_refresh_"))

	// The refresh grant keeps the local refresh token string stable.
	refreshed := decodeTokenResponse(t, f.postForm("/oauth/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tokenResponse.RefreshToken},
	}))
	require.Equal(t, tokenResponse.RefreshToken, refreshed.RefreshToken)
	require.NotEqual(t, tokenResponse.AccessToken, refreshed.AccessToken)
}

func TestTokenEndpointRejectsWrongVerifier(t *testing.T) {
	f := setupServer(t)
	code := f.runAuthorizeAndCallback(t)

	recorder := f.postForm("/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {"not-the-right-verifier"},
	})
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Equal(t, "invalid_grant", decodeOAuthError(t, recorder))
}

func TestTokenEndpointRejectsReplayedCode(t *testing.T) {
	f := setupServer(t)
	code := f.runAuthorizeAndCallback(t)

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {testVerifier},
	}
	decodeTokenResponse(t, f.postForm("/oauth/token", form))

	recorder := f.postForm("/oauth/token", form)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Equal(t, "invalid_grant", decodeOAuthError(t, recorder))
}

func TestTokenEndpointRejectsUnknownGrantType(t *testing.T) {
	f := setupServer(t)
	recorder := f.postForm("/oauth/token", url.Values{"grant_type": {"password"}})
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Equal(t, "unsupported_grant_type", decodeOAuthError(t, recorder))
}

func TestRefreshGrantUpstreamOutageIsTemporarilyUnavailable(t *testing.T) {
	f := setupServer(t)
	code := f.runAuthorizeAndCallback(t)
	tokenResponse := decodeTokenResponse(t, f.postForm("/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {testVerifier},
	}))

	f.exchanger.refreshErr = upstream.ErrNetwork
	recorder := f.postForm("/oauth/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tokenResponse.RefreshToken},
	})
	require.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	require.Equal(t, "temporarily_unavailable", decodeOAuthError(t, recorder))
}

// registerClient drives dynamic registration and returns the issued
// credentials.
func (f *serverFixture) registerClient(t *testing.T, body string) (clientID, clientSecret string) {
	t.Helper()
	request := httptest.NewRequest(http.MethodPost, "/oauth/register", strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	f.server.ServeHTTP(recorder, request)
	require.Equal(t, http.StatusCreated, recorder.Code)

	var resp struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	return resp.ClientID, resp.ClientSecret
}

func TestTokenEndpointEnforcesClientSecret(t *testing.T) {
	f := setupServer(t)
	clientID, clientSecret := f.registerClient(t, `{
		"client_name": "Confidential Tool",
		"redirect_uris": ["http://localhost:3000/callback"],
		"token_endpoint_auth_method": "client_secret_post"
	}`)
	require.NotEmpty(t, clientSecret)

	code := f.runAuthorizeAndCallbackFor(t, clientID)

	// No secret.
	recorder := f.postForm("/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {testVerifier},
		"client_id":     {clientID},
	})
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	require.Equal(t, "invalid_client", decodeOAuthError(t, recorder))

	// Wrong secret.
	recorder = f.postForm("/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {testVerifier},
		"client_id":     {clientID},
		"client_secret": {"not-the-secret"},
	})
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	require.Equal(t, "invalid_client", decodeOAuthError(t, recorder))

	// A failed authentication does not consume the code.
	tokenResponse := decodeTokenResponse(t, f.postForm("/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {testVerifier},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
	}))

	// The refresh grant is bound to the same client.
	recorder = f.postForm("/oauth/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tokenResponse.RefreshToken},
	})
	require.Equal(t, http.StatusUnauthorized, recorder.Code)

	refreshed := decodeTokenResponse(t, f.postForm("/oauth/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tokenResponse.RefreshToken},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
	}))
	require.Equal(t, tokenResponse.RefreshToken, refreshed.RefreshToken)
}

func TestTokenEndpointRejectsMismatchedClientID(t *testing.T) {
	f := setupServer(t)
	code := f.runAuthorizeAndCallback(t)

	recorder := f.postForm("/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {testVerifier},
		"client_id":     {"some-other-client"},
	})
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	require.Equal(t, "invalid_client", decodeOAuthError(t, recorder))
}

func TestAuthorizeRejectsUngrantedScope(t *testing.T) {
	f := setupServer(t)
	recorder := f.get("/oauth/authorize?response_type=code&client_id=" + testClientID +
		"&redirect_uri=" + url.QueryEscape(testRedirectURI) +
		"&scope=admin&code_challenge=abc&code_challenge_method=S256")
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Equal(t, "invalid_request", decodeOAuthError(t, recorder))
}

func TestRevokeEndpoint(t *testing.T) {
	f := setupServer(t)
	code := f.runAuthorizeAndCallback(t)
	tokenResponse := decodeTokenResponse(t, f.postForm("/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {testVerifier},
	}))

	require.Equal(t, http.StatusOK, f.postForm("/oauth/revoke", url.Values{
		"token": {tokenResponse.AccessToken},
	}).Code)

	// Unknown tokens still answer 200.
	require.Equal(t, http.StatusOK, f.postForm("/oauth/revoke", url.Values{
		"token": {"never-issued"},
	}).Code)

	// Missing token is a request error.
	require.Equal(t, http.StatusBadRequest, f.postForm("/oauth/revoke", url.Values{}).Code)
}

func TestDynamicRegistration(t *testing.T) {
	f := setupServer(t)

	body := `{
		"client_name": "Example Tool",
		"redirect_uris": ["http://localhost:3000/callback"],
		"token_endpoint_auth_method": "client_secret_post",
		"scope": "admin everything"
	}`
	request := httptest.NewRequest(http.MethodPost, "/oauth/register", strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	f.server.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusCreated, recorder.Code)
	var resp struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
		Scope        string `json:"scope"`
	}
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	require.NotEmpty(t, resp.ClientID)
	require.NotEmpty(t, resp.ClientSecret)
	require.Equal(t, "read write", resp.Scope)
}

func TestDynamicRegistrationPublicClientGetsNoSecret(t *testing.T) {
	f := setupServer(t)

	request := httptest.NewRequest(http.MethodPost, "/oauth/register",
		strings.NewReader(`{"client_name":"Public Tool","redirect_uris":["http://localhost:3000/callback"]}`))
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	f.server.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusCreated, recorder.Code)
	var resp struct {
		ClientSecret string `json:"client_secret"`
		AuthMethod   string `json:"token_endpoint_auth_method"`
	}
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	require.Empty(t, resp.ClientSecret)
	require.Equal(t, "none", resp.AuthMethod)
}

func TestWellKnownMetadata(t *testing.T) {
	f := setupServer(t)
	recorder := f.get("/.well-known/oauth-authorization-server")
	require.Equal(t, http.StatusOK, recorder.Code)

	var doc map[string]any
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&doc))
	require.Equal(t, []any{"code"}, doc["response_types_supported"])
	require.Equal(t, []any{"S256"}, doc["code_challenge_methods_supported"])
	require.Contains(t, doc["token_endpoint"], "/oauth/token")
	require.Contains(t, doc["authorization_endpoint"], "/oauth/authorize")
}

func TestAuthenticateResolvesBearerToken(t *testing.T) {
	f := setupServer(t)
	code := f.runAuthorizeAndCallback(t)
	tokenResponse := decodeTokenResponse(t, f.postForm("/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {testVerifier},
	}))

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set("Authorization", "Bearer "+tokenResponse.AccessToken)
	record, cred, err := f.server.Authenticate(request)
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, testClientID, record.ClientID)
	require.NotNil(t, cred)
	require.Equal(t, "Bearer U1", cred.AuthorizationHeader())

	// No header degrades to anonymous, not an error.
	anonymous := httptest.NewRequest(http.MethodGet, "/", nil)
	record, cred, err = f.server.Authenticate(anonymous)
	require.NoError(t, err)
	require.Nil(t, record)
	require.Nil(t, cred)
}
