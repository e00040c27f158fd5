package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmespath/go-jmespath"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/domain"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	maxResponseBytes = 1 << 20
	grantAuthCode    = "authorization_code"
	grantRefresh     = "refresh_token"
)

// Client performs outbound token and profile requests against providers
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a provider client whose requests never outlive timeout
func NewClient(timeout time.Duration, logger *zap.Logger, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Exchange trades an authorization code for tokens
func (c *Client) Exchange(ctx context.Context, p *Provider, code, verifier string) (*domain.TokenSet, error) {
	params := map[string]string{
		"grant_type":   grantAuthCode,
		"code":         code,
		"redirect_uri": p.RedirectURI,
	}
	if p.PKCE && verifier != "" {
		params["code_verifier"] = verifier
	}
	return c.tokenRequest(ctx, p, grantAuthCode, params)
}

// Refresh redeems a refresh token for a new access token
func (c *Client) Refresh(ctx context.Context, p *Provider, refreshToken string) (*domain.TokenSet, error) {
	params := map[string]string{
		"grant_type":    grantRefresh,
		"refresh_token": refreshToken,
	}
	return c.tokenRequest(ctx, p, grantRefresh, params)
}

// FetchProfile reads the provider account profile and maps it through the
// definition's profile metadata paths. Providers without a profile endpoint
// return an empty map.
func (c *Client) FetchProfile(ctx context.Context, p *Provider, accessToken string) (map[string]any, error) {
	if p.ProfileURL == "" || len(p.ProfileMetadata) == 0 {
		return map[string]any{}, nil
	}

	if err := c.limiter(p).Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTokenExchangeFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.ProfileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	status, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, &domain.ProviderError{
			Provider:   p.Name,
			StatusCode: status,
			Body:       string(body),
		}
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s profile is not JSON", domain.ErrProtocol, p.Name)
	}

	return extractMetadata(doc, p.ProfileMetadata), nil
}

func (c *Client) tokenRequest(ctx context.Context, p *Provider, grant string, params map[string]string) (*domain.TokenSet, error) {
	if err := c.limiter(p).Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTokenExchangeFailed, err)
	}

	req, err := newTokenRequest(ctx, p, params)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	status, body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Provider token response",
		zap.String("provider", p.Name),
		zap.String("grant_type", grant),
		zap.Int("status", status),
		zap.Duration("latency", time.Since(start)),
	)

	if status < 200 || status > 299 {
		return nil, newProviderError(p, grant, status, body)
	}

	return parseTokenResponse(p, body)
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", domain.ErrTokenExchangeFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: failed to read response: %v", domain.ErrTokenExchangeFailed, err)
	}

	return resp.StatusCode, body, nil
}

func (c *Client) limiter(p *Provider) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.limiters[p.Name]
	if !ok {
		l = rate.NewLimiter(rate.Limit(p.RateLimit), p.RateBurst)
		c.limiters[p.Name] = l
	}
	return l
}

func newTokenRequest(ctx context.Context, p *Provider, params map[string]string) (*http.Request, error) {
	var (
		body        io.Reader
		contentType string
	)

	switch p.AuthStyle {
	case AuthStyleJSON:
		payload := make(map[string]string, len(params)+2)
		for k, v := range params {
			payload[k] = v
		}
		payload["client_id"] = p.ClientID
		payload["client_secret"] = p.ClientSecret

		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode token request: %w", err)
		}
		body, contentType = bytes.NewReader(raw), "application/json"
	default:
		form := url.Values{}
		for k, v := range params {
			form.Set(k, v)
		}
		if p.AuthStyle != AuthStyleBasic {
			form.Set("client_id", p.ClientID)
			form.Set("client_secret", p.ClientSecret)
		}
		body, contentType = strings.NewReader(form.Encode()), "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	for k, v := range p.TokenHeaders {
		req.Header.Set(k, v)
	}
	if p.AuthStyle == AuthStyleBasic {
		req.SetBasicAuth(url.QueryEscape(p.ClientID), url.QueryEscape(p.ClientSecret))
	}

	return req, nil
}

func newProviderError(p *Provider, grant string, status int, body []byte) *domain.ProviderError {
	perr := &domain.ProviderError{
		Provider:   p.Name,
		StatusCode: status,
		Body:       string(body),
		Grant:      grant,
	}

	var doc any
	if json.Unmarshal(body, &doc) == nil {
		if code, ok := search(p.Fields.ErrorCode, doc).(string); ok {
			perr.Code = strings.ToLower(code)
		}
		if desc, ok := search("error_description", doc).(string); ok {
			perr.Description = desc
		}
	}
	return perr
}

func parseTokenResponse(p *Provider, body []byte) (*domain.TokenSet, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s token response is not JSON", domain.ErrProtocol, p.Name)
	}

	f := p.Fields
	access, _ := search(f.AccessToken, doc).(string)
	if access == "" {
		return nil, fmt.Errorf("%w: %s token response has no access token", domain.ErrProtocol, p.Name)
	}

	set := &domain.TokenSet{
		AccessToken: access,
		Extra:       extractMetadata(doc, p.TokenMetadata),
	}
	set.RefreshToken, _ = search(f.RefreshToken, doc).(string)
	set.TokenType, _ = search(f.TokenType, doc).(string)
	set.Scope, _ = search(f.Scope, doc).(string)

	expiresIn, err := toSeconds(search(f.ExpiresIn, doc))
	if err != nil {
		return nil, fmt.Errorf("%w: %s expires_in: %v", domain.ErrProtocol, p.Name, err)
	}
	set.ExpiresIn = expiresIn

	if f.ExpiresAt != "" {
		if raw, ok := search(f.ExpiresAt, doc).(string); ok && raw != "" {
			at, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %s expires_at: %v", domain.ErrProtocol, p.Name, err)
			}
			set.ExpiresAt = at
		}
	}

	return set, nil
}

func extractMetadata(doc any, paths map[string]string) map[string]any {
	out := make(map[string]any, len(paths))
	for key, expr := range paths {
		if v := search(expr, doc); v != nil {
			out[key] = v
		}
	}
	return out
}

// search evaluates a JMESPath expression, treating invalid expressions as no match
func search(expr string, doc any) any {
	if expr == "" {
		return nil
	}
	v, err := jmespath.Search(expr, doc)
	if err != nil {
		return nil
	}
	return v
}

var errBadNumber = errors.New("not a number")

func toSeconds(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return int64(n), nil
	case string:
		if n == "" {
			return 0, nil
		}
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, errBadNumber
	}
}
