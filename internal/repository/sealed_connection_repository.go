package repository

import (
	"context"
	"fmt"

	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/domain"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/utils"
)

// sealedConnectionRepository encrypts token material before it reaches the
// underlying store and decrypts it on the way out.
type sealedConnectionRepository struct {
	inner  ConnectionRepository
	sealer *utils.TokenSealer
}

// NewSealedConnectionRepository wraps inner with at-rest token encryption.
// A nil sealer returns inner unchanged.
func NewSealedConnectionRepository(inner ConnectionRepository, sealer *utils.TokenSealer) ConnectionRepository {
	if sealer == nil {
		return inner
	}
	return &sealedConnectionRepository{inner: inner, sealer: sealer}
}

func sealContext(merchantID, provider string) string {
	return merchantID + "/" + provider
}

func (r *sealedConnectionRepository) Get(ctx context.Context, merchantID, provider string) (*domain.Connection, error) {
	conn, err := r.inner.Get(ctx, merchantID, provider)
	if err != nil {
		return nil, err
	}

	aad := sealContext(conn.MerchantID, conn.Provider)

	if conn.AccessToken, err = r.sealer.Open(conn.AccessToken, aad); err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	if conn.RefreshToken, err = r.sealer.Open(conn.RefreshToken, aad); err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	return conn, nil
}

func (r *sealedConnectionRepository) Upsert(ctx context.Context, conn *domain.Connection) error {
	if err := validateConnection(conn); err != nil {
		return err
	}

	sealed := conn.Clone()
	aad := sealContext(conn.MerchantID, conn.Provider)

	var err error
	if sealed.AccessToken, err = r.sealer.Seal(conn.AccessToken, aad); err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	if sealed.RefreshToken, err = r.sealer.Seal(conn.RefreshToken, aad); err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	return r.inner.Upsert(ctx, sealed)
}

func (r *sealedConnectionRepository) Delete(ctx context.Context, merchantID, provider string) error {
	return r.inner.Delete(ctx, merchantID, provider)
}

func (r *sealedConnectionRepository) Ping(ctx context.Context) error {
	return r.inner.Ping(ctx)
}
