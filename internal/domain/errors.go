package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds surfaced by connection operations. Callers match them with errors.Is.
var (
	// ErrInvalidRequest is returned for missing or malformed caller input
	ErrInvalidRequest = errors.New("invalid request")

	// ErrConfiguration is returned when a provider is missing credentials or endpoints
	ErrConfiguration = errors.New("provider configuration error")

	// ErrTokenExchangeFailed is returned when the provider rejects a token request or cannot be reached
	ErrTokenExchangeFailed = errors.New("token exchange failed")

	// ErrProtocol is returned when the provider responds with something that is not a token response
	ErrProtocol = errors.New("provider protocol error")

	// ErrAuthExpired is returned when the provider no longer honours the stored grant
	ErrAuthExpired = errors.New("authorization expired")

	// ErrStorage is returned when the connection store cannot be read or written
	ErrStorage = errors.New("connection storage error")

	// ErrNotFound is returned when no connection exists for the pair
	ErrNotFound = errors.New("connection not found")
)

// ProviderError carries the provider's rejection of a token request
type ProviderError struct {
	Provider    string
	StatusCode  int
	Code        string
	Description string
	Body        string
	Grant       string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s token endpoint returned status %d (%s): %s", e.Provider, e.StatusCode, e.Code, e.Body)
	}
	return fmt.Sprintf("%s token endpoint returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

func (e *ProviderError) Unwrap() error {
	return ErrTokenExchangeFailed
}

// IsInvalidGrant reports whether the provider revoked or expired the grant used in the request
func (e *ProviderError) IsInvalidGrant() bool {
	if e.Code == "invalid_grant" {
		return true
	}
	if e.Code != "" || e.Grant != "refresh_token" {
		return false
	}
	return e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnauthorized
}

// Kind returns a stable snake_case label for the error class of err
func Kind(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrConfiguration):
		return "configuration_error"
	case errors.Is(err, ErrAuthExpired):
		return "auth_expired"
	case errors.Is(err, ErrTokenExchangeFailed):
		return "token_exchange_failed"
	case errors.Is(err, ErrProtocol):
		return "protocol_error"
	case errors.Is(err, ErrStorage):
		return "storage_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal_error"
	}
}
