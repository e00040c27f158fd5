package provider

import (
	"time"

	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/config"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/domain"
)

// AuthStyle is how client credentials are presented to the token endpoint
type AuthStyle string

const (
	// AuthStyleParams sends client_id and client_secret in a form body
	AuthStyleParams AuthStyle = "params"
	// AuthStyleBasic sends credentials as HTTP Basic auth with a form body
	AuthStyleBasic AuthStyle = "basic"
	// AuthStyleJSON sends credentials and grant parameters as a JSON body
	AuthStyleJSON AuthStyle = "json"
)

const (
	defaultTokenTTL  = time.Hour
	defaultRateLimit = 10
	defaultRateBurst = 10
)

// TokenFields are JMESPath expressions locating token values in a provider response
type TokenFields struct {
	AccessToken  string `yaml:"access_token"`
	RefreshToken string `yaml:"refresh_token"`
	ExpiresIn    string `yaml:"expires_in"`
	ExpiresAt    string `yaml:"expires_at"`
	TokenType    string `yaml:"token_type"`
	Scope        string `yaml:"scope"`
	ErrorCode    string `yaml:"error_code"`
}

// Definition describes how to talk OAuth 2.0 to one provider
type Definition struct {
	Name            string            `yaml:"name"`
	AuthURL         string            `yaml:"auth_url"`
	TokenURL        string            `yaml:"token_url"`
	ProfileURL      string            `yaml:"profile_url"`
	Scopes          []string          `yaml:"scopes"`
	ScopeSeparator  string            `yaml:"scope_separator"`
	AuthParams      map[string]string `yaml:"auth_params"`
	AuthStyle       AuthStyle         `yaml:"auth_style"`
	TokenHeaders    map[string]string `yaml:"token_headers"`
	SupportsRefresh bool              `yaml:"-"`
	PKCE            bool              `yaml:"-"`
	DefaultTokenTTL config.Duration   `yaml:"default_token_ttl"`
	Fields          TokenFields       `yaml:"fields"`
	TokenMetadata   map[string]string `yaml:"token_metadata"`
	ProfileMetadata map[string]string `yaml:"profile_metadata"`
	RateLimit       float64           `yaml:"rate_limit"`
	RateBurst       int               `yaml:"rate_burst"`
}

// withDefaults fills unset fields with the OAuth 2.0 conventions
func (d Definition) withDefaults() Definition {
	if d.AuthStyle == "" {
		d.AuthStyle = AuthStyleParams
	}
	if d.ScopeSeparator == "" {
		d.ScopeSeparator = " "
	}
	if d.DefaultTokenTTL.Duration <= 0 {
		d.DefaultTokenTTL.Duration = defaultTokenTTL
	}
	if d.RateLimit <= 0 {
		d.RateLimit = defaultRateLimit
	}
	if d.RateBurst <= 0 {
		d.RateBurst = defaultRateBurst
	}

	f := &d.Fields
	if f.AccessToken == "" {
		f.AccessToken = "access_token"
	}
	if f.RefreshToken == "" {
		f.RefreshToken = "refresh_token"
	}
	if f.ExpiresIn == "" {
		f.ExpiresIn = "expires_in"
	}
	if f.TokenType == "" {
		f.TokenType = "token_type"
	}
	if f.Scope == "" {
		f.Scope = "scope"
	}
	if f.ErrorCode == "" {
		f.ErrorCode = "error"
	}
	return d
}

// Builtin returns the providers supported out of the box
func Builtin() []Definition {
	return []Definition{
		{
			Name:       "gmail",
			AuthURL:    "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:   "https://oauth2.googleapis.com/token",
			ProfileURL: "https://gmail.googleapis.com/gmail/v1/users/me/profile",
			Scopes: []string{
				"https://www.googleapis.com/auth/gmail.readonly",
				"https://www.googleapis.com/auth/gmail.send",
				"https://www.googleapis.com/auth/userinfo.email",
			},
			AuthParams: map[string]string{
				"access_type":            "offline",
				"prompt":                 "consent",
				"include_granted_scopes": "true",
			},
			AuthStyle:       AuthStyleParams,
			SupportsRefresh: true,
			DefaultTokenTTL: config.Duration{Duration: time.Hour},
			ProfileMetadata: map[string]string{
				domain.MetadataAccountEmail: "emailAddress",
			},
		},
		{
			Name:     "square",
			AuthURL:  "https://connect.squareup.com/oauth2/authorize",
			TokenURL: "https://connect.squareup.com/oauth2/token",
			Scopes: []string{
				"MERCHANT_PROFILE_READ",
				"CUSTOMERS_READ",
				"CUSTOMERS_WRITE",
				"ORDERS_READ",
				"ORDERS_WRITE",
				"PAYMENTS_READ",
				"PAYMENTS_WRITE",
				"ITEMS_READ",
				"ITEMS_WRITE",
				"INVENTORY_READ",
			},
			AuthParams: map[string]string{
				"session": "false",
			},
			AuthStyle: AuthStyleJSON,
			TokenHeaders: map[string]string{
				"Square-Version": "2024-01-18",
			},
			SupportsRefresh: true,
			DefaultTokenTTL: config.Duration{Duration: 30 * 24 * time.Hour},
			Fields: TokenFields{
				ExpiresAt: "expires_at",
				ErrorCode: "error || errors[0].code",
			},
			TokenMetadata: map[string]string{
				domain.MetadataRemoteMerchantID: "merchant_id",
			},
		},
		{
			Name:       "outlook",
			AuthURL:    "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
			TokenURL:   "https://login.microsoftonline.com/common/oauth2/v2.0/token",
			ProfileURL: "https://graph.microsoft.com/v1.0/me",
			Scopes: []string{
				"offline_access",
				"User.Read",
				"Mail.Read",
				"Mail.Send",
			},
			AuthParams: map[string]string{
				"prompt":        "select_account",
				"response_mode": "query",
			},
			AuthStyle:       AuthStyleParams,
			SupportsRefresh: true,
			PKCE:            true,
			DefaultTokenTTL: config.Duration{Duration: time.Hour},
			ProfileMetadata: map[string]string{
				domain.MetadataAccountEmail: "mail || userPrincipalName",
			},
		},
		{
			Name:       "lightspeed",
			AuthURL:    "https://cloud.lightspeedapp.com/auth/oauth/authorize",
			TokenURL:   "https://cloud.lightspeedapp.com/auth/oauth/token",
			ProfileURL: "https://api.lightspeedapp.com/API/V3/Account.json",
			Scopes: []string{
				"employee:all",
				"employee:register_read",
			},
			AuthStyle:       AuthStyleBasic,
			SupportsRefresh: true,
			PKCE:            true,
			DefaultTokenTTL: config.Duration{Duration: time.Hour},
			ProfileMetadata: map[string]string{
				domain.MetadataRemoteMerchantID: "Account.accountID",
			},
			RateLimit: 1,
			RateBurst: 5,
		},
	}
}
