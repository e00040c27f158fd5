package domain

import "time"

// TokenSet is a normalized provider token response
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresIn    int64
	ExpiresAt    time.Time
	Extra        map[string]any
}

// Expiry resolves the absolute expiry of the set, falling back to now+fallback
// when the provider reported neither a lifetime nor an absolute time.
func (t *TokenSet) Expiry(now time.Time, fallback time.Duration) time.Time {
	switch {
	case t.ExpiresIn > 0:
		return now.Add(time.Duration(t.ExpiresIn) * time.Second)
	case !t.ExpiresAt.IsZero():
		return t.ExpiresAt
	default:
		return now.Add(fallback)
	}
}

// AuthorizationState is the server-side half of a pending consent flow
type AuthorizationState struct {
	Nonce        string    `json:"nonce"`
	MerchantID   string    `json:"merchantId"`
	Provider     string    `json:"provider"`
	CodeVerifier string    `json:"codeVerifier,omitempty"`
	RedirectURI  string    `json:"redirectUri"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// StateClaims are the signed contents of the state query parameter
type StateClaims struct {
	Nonce      string
	MerchantID string
	Provider   string
	ExpiresAt  time.Time
}
