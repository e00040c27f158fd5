package repository

import (
	"errors"

	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/domain"
)

// Common repository errors
var (
	// ErrNotFound is returned when no connection exists for a merchant and provider
	ErrNotFound = domain.ErrNotFound

	// ErrInvalidConnection is returned when a record violates the connection invariants
	ErrInvalidConnection = errors.New("invalid connection record")
)
