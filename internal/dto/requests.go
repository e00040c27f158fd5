package dto

import "time"

// RefreshRequest represents a manual token refresh request
type RefreshRequest struct {
	MerchantID string `json:"merchantId" binding:"required"`
}

// ConnectDiagnostics is returned by the connect endpoint in debug mode instead of a redirect
type ConnectDiagnostics struct {
	AuthURL     string    `json:"authUrl"`
	MerchantID  string    `json:"merchantId"`
	Provider    string    `json:"provider"`
	ClientID    string    `json:"clientId"`
	RedirectURI string    `json:"redirectUri"`
	Scopes      []string  `json:"scopes"`
	PKCE        bool      `json:"pkce"`
	StateExpiry time.Time `json:"stateExpiresAt"`
}

// AccessTokenResponse is handed to internal collaborators that call provider APIs
type AccessTokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// SuccessResponse represents a success response
type SuccessResponse struct {
	Message string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// RefreshExpiredResponse is returned when the provider no longer honours the stored grant
type RefreshExpiredResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Connected  bool   `json:"connected"`
	Status     string `json:"status"`
	Suggestion string `json:"suggestion"`
}
