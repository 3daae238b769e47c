package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"warden/internal/auth/service"
	oauthAccountStore "warden/internal/auth/store/oauth-account"
	refreshTokenStore "warden/internal/auth/store/refresh-token"
	sessionStore "warden/internal/auth/store/session"
	userStore "warden/internal/auth/store/user"
	"warden/internal/crypto"
	"warden/internal/pkce"
	"warden/internal/platform/middleware"
	"warden/internal/provider"
	id "warden/pkg/domain"
	"warden/pkg/platform/middleware/metadata"
	"warden/pkg/platform/middleware/request"
	tenantmw "warden/pkg/platform/middleware/tenant"
	"warden/pkg/platform/tx"
)

const validCode = "good-code"

type stubProvider struct {
	name      id.Provider
	identity  provider.Identity
	lastState string
}

func (p *stubProvider) Name() id.Provider { return p.name }

func (p *stubProvider) AuthorizationURL(state, challenge string) string {
	p.lastState = state
	return fmt.Sprintf("https://%s.example.com/authorize?state=%s", p.name, state)
}

func (p *stubProvider) Exchange(ctx context.Context, code, verifier string) (*provider.Tokens, error) {
	if code != validCode {
		return nil, &provider.OAuthError{Provider: p.name, Reason: "invalid_grant", Denied: true}
	}
	return &provider.Tokens{AccessToken: "provider-access-token"}, nil
}

func (p *stubProvider) Identity(ctx context.Context, tokens *provider.Tokens) (*provider.Identity, error) {
	identity := p.identity
	return &identity, nil
}

// HandlerSuite drives the routes through a real router, middleware chain,
// service, and in-memory stores. Only the OAuth provider is stubbed.
type HandlerSuite struct {
	suite.Suite

	github   *stubProvider
	tenantID id.TenantID
	router   chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	keyring, err := crypto.NewKeyring(bytes.Repeat([]byte{0x5c}, 32))
	s.Require().NoError(err)

	s.github = &stubProvider{
		name: id.ProviderGitHub,
		identity: provider.Identity{
			ExternalID: "gh-31337",
			Email:      "dev@example.com",
			Name:       "Dev Eloper",
		},
	}

	svc := service.New(
		provider.NewRegistry(s.github),
		pkce.NewCodec(keyring),
		keyring,
		tx.NewMemoryRunner(),
		userStore.New(),
		oauthAccountStore.New(),
		sessionStore.New(),
		refreshTokenStore.New(),
		nil,
		service.WithLogger(logger),
	)

	s.tenantID = id.NewTenantID()

	r := chi.NewRouter()
	r.Use(request.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(tenantmw.Resolve("X-Tenant-ID", "", logger))
	r.Route("/auth", func(r chi.Router) {
		New(svc, logger).Register(r, middleware.RequireSession(NewSessionAuthenticator(svc), logger))
	})
	s.router = r
}

func (s *HandlerSuite) newRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("X-Tenant-ID", s.tenantID.String())
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) handler-suite")
	return req
}

func (s *HandlerSuite) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) decode(rec *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

// login runs the whole OAuth round trip and returns the session response
// together with the refresh cookie the callback set.
func (s *HandlerSuite) login() (sessionResponse, *http.Cookie) {
	rec := s.do(s.newRequest(http.MethodGet, "/auth/oauth/github", nil))
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	stateCookie := findCookie(rec.Result().Cookies(), pkceCookie)
	s.Require().NotNil(stateCookie, "begin must set the login state cookie")

	callback := s.newRequest(http.MethodGet,
		"/auth/oauth/github/callback?code="+validCode+"&state="+url.QueryEscape(s.github.lastState), nil)
	callback.AddCookie(stateCookie)

	rec = s.do(callback)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var session sessionResponse
	s.decode(rec, &session)

	refresh := findCookie(rec.Result().Cookies(), refreshCookie)
	s.Require().NotNil(refresh, "callback must set the refresh cookie")
	return session, refresh
}

func (s *HandlerSuite) authorized(req *http.Request, accessToken string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return req
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (s *HandlerSuite) assertErrorBody(rec *httptest.ResponseRecorder, wantError string) {
	var body struct {
		Error string `json:"error"`
	}
	s.decode(rec, &body)
	s.Equal(wantError, body.Error)
}

func (s *HandlerSuite) TestLoginRoundTrip() {
	rec := s.do(s.newRequest(http.MethodGet, "/auth/oauth/github", nil))
	s.Require().Equal(http.StatusOK, rec.Code)

	var start loginStartResponse
	s.decode(rec, &start)
	s.Contains(start.URL, "https://github.example.com/authorize")
	s.Contains(start.URL, s.github.lastState)

	stateCookie := findCookie(rec.Result().Cookies(), pkceCookie)
	s.Require().NotNil(stateCookie)
	s.True(stateCookie.Secure)
	s.True(stateCookie.HttpOnly)
	s.Equal("/", stateCookie.Path)
	s.Equal(600, stateCookie.MaxAge)
	s.NotContains(start.URL, stateCookie.Value, "sealed state must not leak into the provider URL")

	callback := s.newRequest(http.MethodGet,
		"/auth/oauth/github/callback?code="+validCode+"&state="+url.QueryEscape(s.github.lastState), nil)
	callback.AddCookie(stateCookie)
	rec = s.do(callback)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var session sessionResponse
	s.decode(rec, &session)
	s.True(strings.HasPrefix(session.AccessToken, "ses_"))
	s.Equal("Bearer", session.TokenType)
	s.False(session.MFAPending)
	s.True(session.ExpiresAt.After(time.Now()))
	_, err := id.ParseSessionID(session.SessionID)
	s.NoError(err)

	cookies := rec.Result().Cookies()
	refresh := findCookie(cookies, refreshCookie)
	s.Require().NotNil(refresh)
	s.True(strings.HasPrefix(refresh.Value, "ref_"))
	s.True(refresh.Secure)
	s.True(refresh.HttpOnly)
	s.Equal("/auth", refresh.Path)
	s.Equal(http.SameSiteLaxMode, refresh.SameSite)
	s.Positive(refresh.MaxAge)

	cleared := findCookie(cookies, pkceCookie)
	s.Require().NotNil(cleared, "callback must expire the state cookie")
	s.Negative(cleared.MaxAge)
}

func (s *HandlerSuite) TestLoginRejectsUnknownProvider() {
	rec := s.do(s.newRequest(http.MethodGet, "/auth/oauth/doge", nil))
	s.Equal(http.StatusBadRequest, rec.Code)
	s.assertErrorBody(rec, "bad_request")

	rec = s.do(s.newRequest(http.MethodGet, "/auth/oauth/doge/callback?code=x&state=y", nil))
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestLoginRequiresTenant() {
	req := httptest.NewRequest(http.MethodGet, "/auth/oauth/github", nil)
	rec := s.do(req)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Contains(rec.Body.String(), "tenant identifier required")
}

func (s *HandlerSuite) TestCallbackFailures() {
	s.Run("provider reported error", func() {
		rec := s.do(s.newRequest(http.MethodGet, "/auth/oauth/github/callback?error=access_denied", nil))
		s.Equal(http.StatusUnauthorized, rec.Code)
		s.assertErrorBody(rec, "unauthorized")
	})

	s.Run("missing state cookie", func() {
		rec := s.do(s.newRequest(http.MethodGet, "/auth/oauth/github", nil))
		s.Require().Equal(http.StatusOK, rec.Code)

		callback := s.newRequest(http.MethodGet,
			"/auth/oauth/github/callback?code="+validCode+"&state="+url.QueryEscape(s.github.lastState), nil)
		rec = s.do(callback)
		s.Equal(http.StatusUnauthorized, rec.Code)
		s.assertErrorBody(rec, "unauthorized")
	})

	s.Run("state does not match cookie", func() {
		rec := s.do(s.newRequest(http.MethodGet, "/auth/oauth/github", nil))
		s.Require().Equal(http.StatusOK, rec.Code)
		stateCookie := findCookie(rec.Result().Cookies(), pkceCookie)
		s.Require().NotNil(stateCookie)

		callback := s.newRequest(http.MethodGet,
			"/auth/oauth/github/callback?code="+validCode+"&state=forged", nil)
		callback.AddCookie(stateCookie)
		rec = s.do(callback)
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("provider rejects the code", func() {
		rec := s.do(s.newRequest(http.MethodGet, "/auth/oauth/github", nil))
		s.Require().Equal(http.StatusOK, rec.Code)
		stateCookie := findCookie(rec.Result().Cookies(), pkceCookie)
		s.Require().NotNil(stateCookie)

		callback := s.newRequest(http.MethodGet,
			"/auth/oauth/github/callback?code=bad-code&state="+url.QueryEscape(s.github.lastState), nil)
		callback.AddCookie(stateCookie)
		rec = s.do(callback)
		s.Equal(http.StatusUnauthorized, rec.Code)
		s.NotContains(rec.Body.String(), "invalid_grant")
	})
}

func (s *HandlerSuite) TestRefreshRotatesCookie() {
	session, refresh := s.login()

	req := s.newRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(refresh)
	rec := s.do(req)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var rotated sessionResponse
	s.decode(rec, &rotated)
	s.NotEqual(session.AccessToken, rotated.AccessToken)
	s.NotEqual(session.SessionID, rotated.SessionID)

	next := findCookie(rec.Result().Cookies(), refreshCookie)
	s.Require().NotNil(next)
	s.NotEqual(refresh.Value, next.Value)

	// The consumed cookie is dead; replaying it must fail and the reply
	// must tell the client to drop it.
	req = s.newRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(refresh)
	rec = s.do(req)
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.assertErrorBody(rec, "unauthorized")

	cleared := findCookie(rec.Result().Cookies(), refreshCookie)
	s.Require().NotNil(cleared)
	s.Negative(cleared.MaxAge)
}

func (s *HandlerSuite) TestRefreshAcceptsBodyToken() {
	_, refresh := s.login()

	payload, err := json.Marshal(refreshRequest{RefreshToken: refresh.Value})
	s.Require().NoError(err)

	req := s.newRequest(http.MethodPost, "/auth/refresh", bytes.NewReader(payload))
	rec := s.do(req)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var rotated sessionResponse
	s.decode(rec, &rotated)
	s.True(strings.HasPrefix(rotated.AccessToken, "ses_"))
}

func (s *HandlerSuite) TestRefreshWithoutToken() {
	rec := s.do(s.newRequest(http.MethodPost, "/auth/refresh", nil))
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.assertErrorBody(rec, "unauthorized")
}

func (s *HandlerSuite) TestRefreshRejectsMalformedBody() {
	req := s.newRequest(http.MethodPost, "/auth/refresh", strings.NewReader("{not json"))
	rec := s.do(req)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.assertErrorBody(rec, "bad_request")
}

func (s *HandlerSuite) TestSessionRoutesRequireAuth() {
	for _, tc := range []struct {
		method string
		target string
	}{
		{http.MethodPost, "/auth/logout"},
		{http.MethodGet, "/auth/sessions"},
		{http.MethodDelete, "/auth/sessions"},
		{http.MethodDelete, "/auth/sessions/" + id.NewSessionID().String()},
	} {
		rec := s.do(s.newRequest(tc.method, tc.target, nil))
		s.Equal(http.StatusUnauthorized, rec.Code, tc.target)

		rec = s.do(s.authorized(s.newRequest(tc.method, tc.target, nil), "ses_not-a-real-token"))
		s.Equal(http.StatusUnauthorized, rec.Code, tc.target)
	}
}

func (s *HandlerSuite) TestListSessions() {
	first, _ := s.login()
	second, _ := s.login()

	rec := s.do(s.authorized(s.newRequest(http.MethodGet, "/auth/sessions", nil), first.AccessToken))
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var list sessionListResponse
	s.decode(rec, &list)
	s.Require().Len(list.Sessions, 2)

	current := 0
	for _, summary := range list.Sessions {
		if summary.IsCurrent {
			current++
			s.Equal(first.SessionID, summary.SessionID)
		} else {
			s.Equal(second.SessionID, summary.SessionID)
		}
		s.NotEmpty(summary.Device)
	}
	s.Equal(1, current, "exactly one summary is the caller's own session")
}

func (s *HandlerSuite) TestRevokeSession() {
	first, _ := s.login()
	second, _ := s.login()

	target := "/auth/sessions/" + second.SessionID
	rec := s.do(s.authorized(s.newRequest(http.MethodDelete, target, nil), first.AccessToken))
	s.Require().Equal(http.StatusNoContent, rec.Code, rec.Body.String())

	rec = s.do(s.authorized(s.newRequest(http.MethodGet, "/auth/sessions", nil), second.AccessToken))
	s.Equal(http.StatusUnauthorized, rec.Code, "revoked session must stop authenticating")

	rec = s.do(s.authorized(s.newRequest(http.MethodDelete, "/auth/sessions/"+id.NewSessionID().String(), nil), first.AccessToken))
	s.Equal(http.StatusNotFound, rec.Code)
	s.assertErrorBody(rec, "not_found")

	rec = s.do(s.authorized(s.newRequest(http.MethodDelete, "/auth/sessions/not-a-uuid", nil), first.AccessToken))
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestLogout() {
	session, refresh := s.login()

	rec := s.do(s.authorized(s.newRequest(http.MethodPost, "/auth/logout", nil), session.AccessToken))
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var body successResponse
	s.decode(rec, &body)
	s.True(body.Success)

	cleared := findCookie(rec.Result().Cookies(), refreshCookie)
	s.Require().NotNil(cleared)
	s.Negative(cleared.MaxAge)

	rec = s.do(s.authorized(s.newRequest(http.MethodGet, "/auth/sessions", nil), session.AccessToken))
	s.Equal(http.StatusUnauthorized, rec.Code, "logged out session must stop authenticating")

	req := s.newRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(refresh)
	rec = s.do(req)
	s.Equal(http.StatusUnauthorized, rec.Code, "logout must cut the refresh chain")
}

func (s *HandlerSuite) TestLogoutOthers() {
	current, _ := s.login()
	other1, _ := s.login()
	other2, _ := s.login()

	rec := s.do(s.authorized(s.newRequest(http.MethodDelete, "/auth/sessions", nil), current.AccessToken))
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var body revokedResponse
	s.decode(rec, &body)
	s.Equal(2, body.Revoked)

	rec = s.do(s.authorized(s.newRequest(http.MethodGet, "/auth/sessions", nil), current.AccessToken))
	s.Equal(http.StatusOK, rec.Code, "current session survives")

	for _, token := range []string{other1.AccessToken, other2.AccessToken} {
		rec = s.do(s.authorized(s.newRequest(http.MethodGet, "/auth/sessions", nil), token))
		s.Equal(http.StatusUnauthorized, rec.Code)
	}
}
