package repository

import (
	"context"
	"fmt"

	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/domain"
)

// ConnectionRepository persists one connection per (merchant, provider) pair
type ConnectionRepository interface {
	Get(ctx context.Context, merchantID, provider string) (*domain.Connection, error)
	Upsert(ctx context.Context, conn *domain.Connection) error
	Delete(ctx context.Context, merchantID, provider string) error
	Ping(ctx context.Context) error
}

func validateConnection(conn *domain.Connection) error {
	switch {
	case conn == nil:
		return fmt.Errorf("%w: nil connection", ErrInvalidConnection)
	case conn.MerchantID == "" || conn.Provider == "":
		return fmt.Errorf("%w: merchant and provider are required", ErrInvalidConnection)
	case conn.Connected && conn.AccessToken == "":
		return fmt.Errorf("%w: connected record without access token", ErrInvalidConnection)
	}
	return nil
}
