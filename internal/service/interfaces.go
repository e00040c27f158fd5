package service

import (
	"context"
	"time"

	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/domain"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/provider"
)

// ConnectionService manages merchant connections to third-party providers
type ConnectionService interface {
	BeginAuthorization(ctx context.Context, merchantID, provider string, opts AuthorizeOptions) (*AuthorizationRequest, error)
	CompleteAuthorization(ctx context.Context, provider, code, state string) (*domain.Connection, error)
	GetConnection(ctx context.Context, merchantID, provider string) (*domain.Connection, error)
	ResolveStatus(ctx context.Context, merchantID, provider string) (*domain.StatusReport, error)
	RefreshAccessToken(ctx context.Context, merchantID, provider string) (*domain.Connection, error)
	AccessToken(ctx context.Context, merchantID, provider string) (*domain.Connection, error)
	Disconnect(ctx context.Context, merchantID, provider string) error
}

// TokenClient talks to provider token and profile endpoints
type TokenClient interface {
	Exchange(ctx context.Context, p *provider.Provider, code, verifier string) (*domain.TokenSet, error)
	Refresh(ctx context.Context, p *provider.Provider, refreshToken string) (*domain.TokenSet, error)
	FetchProfile(ctx context.Context, p *provider.Provider, accessToken string) (map[string]any, error)
}

// StateStore keeps pending authorization states until they are consumed once
type StateStore interface {
	Save(ctx context.Context, state *domain.AuthorizationState, ttl time.Duration) error
	Consume(ctx context.Context, nonce string) (*domain.AuthorizationState, error)
}

// Locker serializes work on a key across callers. The returned function releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// AuthorizeOptions are optional inputs to BeginAuthorization
type AuthorizeOptions struct {
	LoginHint string
}

// AuthorizationRequest describes a consent redirect
type AuthorizationRequest struct {
	URL         string    `json:"authUrl"`
	MerchantID  string    `json:"merchantId"`
	Provider    string    `json:"provider"`
	ClientID    string    `json:"-"`
	RedirectURI string    `json:"redirectUri"`
	Scopes      []string  `json:"scopes"`
	PKCE        bool      `json:"pkce"`
	ExpiresAt   time.Time `json:"stateExpiresAt"`
}
