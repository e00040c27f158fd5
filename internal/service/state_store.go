package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/domain"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/provider"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/utils"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/pkg/database"
)

// ErrStateNotFound is returned when a state nonce is unknown, expired or already used
var ErrStateNotFound = errors.New("authorization state not found")

// RedisStateStore keeps pending authorization states in Redis
type RedisStateStore struct {
	redis *database.Redis
}

// NewRedisStateStore creates a new Redis-backed state store
func NewRedisStateStore(redis *database.Redis) *RedisStateStore {
	return &RedisStateStore{redis: redis}
}

func stateKey(nonce string) string {
	return fmt.Sprintf("oauth:state:%s", nonce)
}

// Save stores state under its nonce for ttl
func (s *RedisStateStore) Save(ctx context.Context, state *domain.AuthorizationState, ttl time.Duration) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode authorization state: %w", err)
	}

	if err := s.redis.Client.Set(ctx, stateKey(state.Nonce), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save authorization state: %w", err)
	}
	return nil
}

// Consume atomically reads and deletes the state for nonce
func (s *RedisStateStore) Consume(ctx context.Context, nonce string) (*domain.AuthorizationState, error) {
	payload, err := s.redis.Client.GetDel(ctx, stateKey(nonce)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume authorization state: %w", err)
	}

	var state domain.AuthorizationState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("failed to decode authorization state: %w", err)
	}
	return &state, nil
}

// AuthorizationStates issues and redeems the state parameter of a consent flow.
// The parameter is a signed token naming a server-side nonce; redeeming it
// deletes the nonce so a state can complete at most one authorization.
type AuthorizationStates struct {
	store  StateStore
	signer *utils.StateSigner
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthorizationStates creates a new state issuer
func NewAuthorizationStates(store StateStore, signer *utils.StateSigner, ttl time.Duration, now func() time.Time) *AuthorizationStates {
	if now == nil {
		now = time.Now
	}
	return &AuthorizationStates{
		store:  store,
		signer: signer,
		ttl:    ttl,
		now:    now,
	}
}

// Issue creates a pending state for merchantID and p and returns the signed parameter
func (a *AuthorizationStates) Issue(ctx context.Context, merchantID string, p *provider.Provider) (string, *domain.AuthorizationState, error) {
	now := a.now()
	state := &domain.AuthorizationState{
		Nonce:       uuid.NewString(),
		MerchantID:  merchantID,
		Provider:    p.Name,
		RedirectURI: p.RedirectURI,
		CreatedAt:   now,
		ExpiresAt:   now.Add(a.ttl),
	}
	if p.PKCE {
		state.CodeVerifier = utils.NewCodeVerifier()
	}

	signed, err := a.signer.Sign(domain.StateClaims{
		Nonce:      state.Nonce,
		MerchantID: merchantID,
		Provider:   p.Name,
		ExpiresAt:  state.ExpiresAt,
	})
	if err != nil {
		return "", nil, err
	}

	if err := a.store.Save(ctx, state, a.ttl); err != nil {
		return "", nil, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}

	return signed, state, nil
}

// Consume validates the signed parameter for provider and redeems its nonce
func (a *AuthorizationStates) Consume(ctx context.Context, provider, signed string) (*domain.AuthorizationState, error) {
	claims, err := a.signer.Verify(signed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}

	if claims.Provider != provider {
		return nil, fmt.Errorf("%w: state was issued for %s", domain.ErrInvalidRequest, claims.Provider)
	}

	state, err := a.store.Consume(ctx, claims.Nonce)
	if errors.Is(err, ErrStateNotFound) {
		return nil, fmt.Errorf("%w: state already used or expired", domain.ErrInvalidRequest)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}

	if state.MerchantID != claims.MerchantID || state.Provider != provider {
		return nil, fmt.Errorf("%w: state does not match its record", domain.ErrInvalidRequest)
	}

	return state, nil
}
