package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/domain"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/dto"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/service"
	"go.uber.org/zap"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// stubService answers from canned values and remembers the last call
type stubService struct {
	beginErr    error
	completeErr error
	refreshErr  error
	statusErr   error
	tokenErr    error
	deleteErr   error
	conn        *domain.Connection

	gotMerchant string
	gotProvider string
	gotCode     string
	gotOpts     service.AuthorizeOptions
}

func (s *stubService) BeginAuthorization(_ context.Context, merchantID, provider string, opts service.AuthorizeOptions) (*service.AuthorizationRequest, error) {
	s.gotMerchant, s.gotProvider, s.gotOpts = merchantID, provider, opts
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return &service.AuthorizationRequest{
		URL:         "https://accounts.example.com/authorize?state=abc",
		MerchantID:  merchantID,
		Provider:    provider,
		ClientID:    "1234567890-client.apps",
		RedirectURI: "https://api.example.com/auth/" + provider + "/callback",
		Scopes:      []string{"read"},
		ExpiresAt:   testNow.Add(10 * time.Minute),
	}, nil
}

func (s *stubService) CompleteAuthorization(_ context.Context, provider, code, _ string) (*domain.Connection, error) {
	s.gotProvider, s.gotCode = provider, code
	if s.completeErr != nil {
		return nil, s.completeErr
	}
	return &domain.Connection{MerchantID: "m1", Provider: provider, Connected: true}, nil
}

func (s *stubService) GetConnection(context.Context, string, string) (*domain.Connection, error) {
	return s.conn, nil
}

func (s *stubService) ResolveStatus(_ context.Context, merchantID, provider string) (*domain.StatusReport, error) {
	s.gotMerchant, s.gotProvider = merchantID, provider
	if s.statusErr != nil {
		return nil, s.statusErr
	}
	return domain.BuildStatusReport(merchantID, provider, s.conn, true, testNow), nil
}

func (s *stubService) RefreshAccessToken(_ context.Context, merchantID, provider string) (*domain.Connection, error) {
	s.gotMerchant, s.gotProvider = merchantID, provider
	if s.refreshErr != nil {
		return nil, s.refreshErr
	}
	return s.conn, nil
}

func (s *stubService) AccessToken(context.Context, string, string) (*domain.Connection, error) {
	if s.tokenErr != nil {
		return nil, s.tokenErr
	}
	return s.conn, nil
}

func (s *stubService) Disconnect(_ context.Context, merchantID, provider string) error {
	s.gotMerchant, s.gotProvider = merchantID, provider
	return s.deleteErr
}

type stubLimiter struct {
	decision *service.RateDecision
	err      error
}

func (l *stubLimiter) Allow(context.Context, string, int, time.Duration) (*service.RateDecision, error) {
	return l.decision, l.err
}

func newRouter(svc service.ConnectionService, debug bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewConnectionHandler(svc, ConnectionHandlerOptions{
		AppURL:       "https://app.example.com/",
		ConnectDebug: debug,
	}, zap.NewNop())

	r := gin.New()
	r.GET("/auth/:provider/connect", h.Connect)
	r.GET("/auth/:provider/callback", h.Callback)
	r.GET("/auth/:provider/status", h.Status)
	r.POST("/auth/:provider/refresh", h.Refresh)
	internal := r.Group("/internal", InternalAuthMiddleware([]string{"internal-key"}))
	internal.GET("/connections/:provider/token", h.AccessToken)
	internal.DELETE("/connections/:provider", h.Disconnect)
	return r
}

func serve(r http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestConnectRedirects(t *testing.T) {
	svc := &stubService{}
	w := serve(newRouter(svc, false), http.MethodGet, "/auth/Gmail/connect?merchantId=m1&loginHint=a@b.co&debug=1", "", nil)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://accounts.example.com/authorize?state=abc", w.Header().Get("Location"))
	assert.Equal(t, "gmail", svc.gotProvider)
	assert.Equal(t, "m1", svc.gotMerchant)
	assert.Equal(t, "a@b.co", svc.gotOpts.LoginHint)
}

func TestConnectDebugDiagnostics(t *testing.T) {
	w := serve(newRouter(&stubService{}, true), http.MethodGet, "/auth/gmail/connect?merchantId=m1&debug=1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var diag dto.ConnectDiagnostics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &diag))
	assert.Equal(t, "https://accounts.example.com/authorize?state=abc", diag.AuthURL)
	assert.Equal(t, "1234"+strings.Repeat("*", 14)+"apps", diag.ClientID)
	assert.NotContains(t, w.Body.String(), "1234567890-client.apps")
}

func TestConnectErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"missing merchant", fmt.Errorf("%w: merchantId is required", domain.ErrInvalidRequest), http.StatusBadRequest, "invalid_request"},
		{"unconfigured", fmt.Errorf("%w: gmail is missing client secret", domain.ErrConfiguration), http.StatusInternalServerError, "configuration_error"},
		{"state store down", fmt.Errorf("%w: dial tcp", domain.ErrStorage), http.StatusServiceUnavailable, "storage_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(newRouter(&stubService{beginErr: tt.err}, false), http.MethodGet, "/auth/gmail/connect", "", nil)
			assert.Equal(t, tt.status, w.Code)

			var body dto.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.kind, body.Error)
			assert.NotContains(t, body.Message, "secret")
		})
	}
}

func TestCallbackSuccess(t *testing.T) {
	svc := &stubService{}
	w := serve(newRouter(svc, false), http.MethodGet, "/auth/square/callback?code=c1&state=s1", "", nil)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://app.example.com/integrations?success=square_connected", w.Header().Get("Location"))
	assert.Equal(t, "c1", svc.gotCode)
}

func TestCallbackFailureRedirects(t *testing.T) {
	perr := &domain.ProviderError{Provider: "square", StatusCode: 400, Code: "invalid_grant", Body: `{"error":"invalid_grant"}`}
	w := serve(newRouter(&stubService{completeErr: perr}, false), http.MethodGet, "/auth/square/callback?code=c1&state=s1", "", nil)
	require.Equal(t, http.StatusFound, w.Code)

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/integrations", loc.Path)
	assert.Equal(t, "token_exchange_failed", loc.Query().Get("error"))
	assert.Equal(t, "square", loc.Query().Get("provider"))
	assert.Contains(t, loc.Query().Get("details"), "invalid_grant")
}

func TestCallbackProviderDenied(t *testing.T) {
	svc := &stubService{}
	w := serve(newRouter(svc, false), http.MethodGet, "/auth/gmail/callback?error=access_denied", "", nil)
	require.Equal(t, http.StatusFound, w.Code)

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "authorization_denied", loc.Query().Get("error"))
	assert.Equal(t, "access_denied", loc.Query().Get("details"))
	assert.Empty(t, svc.gotCode)
}

func TestStatusMissingRecord(t *testing.T) {
	w := serve(newRouter(&stubService{}, false), http.MethodGet, "/auth/gmail/status?merchantId=m1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var report domain.StatusReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.False(t, report.Connected)
	assert.Equal(t, domain.StatusDisconnected, report.Status)
	assert.Equal(t, "Set up gmail integration to get started", report.Suggestion)
}

func TestRefresh(t *testing.T) {
	conn := &domain.Connection{
		MerchantID:   "m1",
		Provider:     "gmail",
		AccessToken:  "AT2",
		RefreshToken: "RT1",
		ExpiresAt:    testNow.Add(time.Hour),
		Connected:    true,
	}

	t.Run("success", func(t *testing.T) {
		w := serve(newRouter(&stubService{conn: conn}, false), http.MethodPost, "/auth/gmail/refresh", `{"merchantId":"m1"}`, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var report domain.StatusReport
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
		assert.Equal(t, domain.StatusConnected, report.Status)
	})

	t.Run("missing body", func(t *testing.T) {
		w := serve(newRouter(&stubService{conn: conn}, false), http.MethodPost, "/auth/gmail/refresh", `{}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("grant revoked", func(t *testing.T) {
		svc := &stubService{refreshErr: fmt.Errorf("%w: gmail rejected the refresh token", domain.ErrAuthExpired)}
		w := serve(newRouter(svc, false), http.MethodPost, "/auth/gmail/refresh", `{"merchantId":"m1"}`, nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)

		var body dto.RefreshExpiredResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.False(t, body.Connected)
		assert.Equal(t, "disconnected", body.Status)
	})

	t.Run("provider unavailable", func(t *testing.T) {
		perr := &domain.ProviderError{Provider: "gmail", StatusCode: 503, Body: "upstream unavailable"}
		w := serve(newRouter(&stubService{refreshErr: perr}, false), http.MethodPost, "/auth/gmail/refresh", `{"merchantId":"m1"}`, nil)
		require.Equal(t, http.StatusBadGateway, w.Code)

		var body dto.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		details, ok := body.Details.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "upstream unavailable", details["body"])
	})
}

func TestDisconnect(t *testing.T) {
	key := map[string]string{"Authorization": "Bearer internal-key"}

	svc := &stubService{}
	w := serve(newRouter(svc, false), http.MethodDelete, "/internal/connections/square?merchantId=m1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, svc.gotProvider)

	w = serve(newRouter(svc, false), http.MethodDelete, "/internal/connections/square?merchantId=m1", "", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, svc.gotProvider)

	w = serve(newRouter(svc, false), http.MethodDelete, "/internal/connections/square?merchantId=m1", "", key)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "m1", svc.gotMerchant)
	assert.Equal(t, "square", svc.gotProvider)

	w = serve(newRouter(&stubService{deleteErr: domain.ErrNotFound}, false), http.MethodDelete, "/internal/connections/square?merchantId=m1", "", key)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInternalAccessToken(t *testing.T) {
	conn := &domain.Connection{AccessToken: "AT1", ExpiresAt: testNow.Add(time.Hour), Connected: true}
	r := newRouter(&stubService{conn: conn}, false)

	w := serve(r, http.MethodGet, "/internal/connections/gmail/token?merchantId=m1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(r, http.MethodGet, "/internal/connections/gmail/token?merchantId=m1", "", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(r, http.MethodGet, "/internal/connections/gmail/token?merchantId=m1", "", map[string]string{"Authorization": "Bearer internal-key"})
	require.Equal(t, http.StatusOK, w.Code)

	var body dto.AccessTokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "AT1", body.AccessToken)
	assert.Equal(t, "Bearer", body.TokenType)
	assert.True(t, testNow.Add(time.Hour).Equal(body.ExpiresAt))

	expired := newRouter(&stubService{tokenErr: domain.ErrAuthExpired}, false)
	w = serve(expired, http.MethodGet, "/internal/connections/gmail/token?merchantId=m1", "", map[string]string{"Authorization": "Bearer internal-key"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	build := func(l Limiter) *gin.Engine {
		r := gin.New()
		r.GET("/ping", RateLimitMiddleware(l, 2, time.Minute, IPBasedKey, zap.NewNop()), func(c *gin.Context) {
			c.Status(http.StatusOK)
		})
		return r
	}

	allowed := &stubLimiter{decision: &service.RateDecision{Allowed: true, Limit: 2, Remaining: 1}}
	w := serve(build(allowed), http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))

	denied := &stubLimiter{decision: &service.RateDecision{Allowed: false, Limit: 2, RetryAfter: 1500 * time.Millisecond}}
	w = serve(build(denied), http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))

	broken := &stubLimiter{err: fmt.Errorf("redis down")}
	w = serve(build(broken), http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIPBasedKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	assert.Equal(t, "203.0.113.7", IPBasedKey(c))
}

func TestCORSMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORSMiddleware([]string{"https://app.example.com"}, []string{"GET"}, []string{"Content-Type"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, http.MethodOptions, "/x", "", map[string]string{"Origin": "https://app.example.com"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(r, http.MethodGet, "/x", "", map[string]string{"Origin": "https://evil.example.com"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
