package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/domain"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/pkg/database"
)

// connectionRepository implements ConnectionRepository on PostgreSQL
type connectionRepository struct {
	db *database.Postgres
}

// NewConnectionRepository creates a new PostgreSQL connection repository
func NewConnectionRepository(db *database.Postgres) ConnectionRepository {
	return &connectionRepository{db: db}
}

// Get retrieves the connection for a merchant and provider
func (r *connectionRepository) Get(ctx context.Context, merchantID, provider string) (*domain.Connection, error) {
	query := `
		SELECT merchant_id, provider, access_token, refresh_token, expires_at,
		       connected, metadata, connected_at, last_updated
		FROM integration_connections
		WHERE merchant_id = $1 AND provider = $2
	`

	conn := &domain.Connection{}
	var (
		refreshToken sql.NullString
		metadata     []byte
	)

	err := r.db.DB.QueryRowContext(ctx, query, merchantID, provider).Scan(
		&conn.MerchantID,
		&conn.Provider,
		&conn.AccessToken,
		&refreshToken,
		&conn.ExpiresAt,
		&conn.Connected,
		&metadata,
		&conn.ConnectedAt,
		&conn.LastUpdated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("connection %s/%s not found: %w", merchantID, provider, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}

	if refreshToken.Valid {
		conn.RefreshToken = refreshToken.String
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &conn.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode connection metadata: %w", err)
		}
	}

	return conn, nil
}

// Upsert inserts the connection or replaces the existing one for the same pair
func (r *connectionRepository) Upsert(ctx context.Context, conn *domain.Connection) error {
	if err := validateConnection(conn); err != nil {
		return err
	}

	query := `
		INSERT INTO integration_connections (
			merchant_id, provider, access_token, refresh_token, expires_at,
			connected, metadata, connected_at, last_updated
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (merchant_id, provider) DO UPDATE SET
			access_token  = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at    = EXCLUDED.expires_at,
			connected     = EXCLUDED.connected,
			metadata      = EXCLUDED.metadata,
			connected_at  = EXCLUDED.connected_at,
			last_updated  = EXCLUDED.last_updated
	`

	metadata, err := json.Marshal(conn.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode connection metadata: %w", err)
	}

	var refreshToken sql.NullString
	if conn.RefreshToken != "" {
		refreshToken = sql.NullString{String: conn.RefreshToken, Valid: true}
	}

	_, err = r.db.DB.ExecContext(ctx, query,
		conn.MerchantID,
		conn.Provider,
		conn.AccessToken,
		refreshToken,
		conn.ExpiresAt,
		conn.Connected,
		metadata,
		conn.ConnectedAt,
		conn.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert connection: %w", err)
	}

	return nil
}

// Delete removes the connection for a merchant and provider
func (r *connectionRepository) Delete(ctx context.Context, merchantID, provider string) error {
	query := `DELETE FROM integration_connections WHERE merchant_id = $1 AND provider = $2`

	result, err := r.db.DB.ExecContext(ctx, query, merchantID, provider)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("connection %s/%s not found: %w", merchantID, provider, ErrNotFound)
	}

	return nil
}

func (r *connectionRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}
