package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/domain"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/provider"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/repository"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/utils"
	"go.uber.org/zap"
)

// Dependencies are the collaborators of the connection service
type Dependencies struct {
	Registry    *provider.Registry
	Client      TokenClient
	Connections repository.ConnectionRepository
	States      *AuthorizationStates
	Locker      Locker
	Metrics     *Metrics
	Logger      *zap.Logger
	Clock       func() time.Time
	RefreshSkew time.Duration

	// RefreshTimeout bounds a refresh while the lock is held. It must be
	// shorter than the lock lease.
	RefreshTimeout time.Duration
}

// connectionService implements ConnectionService
type connectionService struct {
	registry    *provider.Registry
	client      TokenClient
	repo        repository.ConnectionRepository
	states      *AuthorizationStates
	locker      Locker
	metrics     *Metrics
	logger      *zap.Logger
	now         func() time.Time
	refreshSkew time.Duration
	refreshTTL  time.Duration
}

// NewConnectionService creates a new connection service
func NewConnectionService(deps Dependencies) ConnectionService {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &connectionService{
		registry:    deps.Registry,
		client:      deps.Client,
		repo:        deps.Connections,
		states:      deps.States,
		locker:      deps.Locker,
		metrics:     deps.Metrics,
		logger:      logger,
		now:         now,
		refreshSkew: deps.RefreshSkew,
		refreshTTL:  deps.RefreshTimeout,
	}
}

// BeginAuthorization issues a single-use state and returns the provider consent URL
func (s *connectionService) BeginAuthorization(ctx context.Context, merchantID, providerName string, opts AuthorizeOptions) (*AuthorizationRequest, error) {
	if err := validateMerchant(merchantID); err != nil {
		return nil, err
	}

	p, err := s.registry.Lookup(providerName)
	if err != nil {
		return nil, err
	}

	state, pending, err := s.states.Issue(ctx, merchantID, p)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Authorization started",
		zap.String("merchant_id", merchantID),
		zap.String("provider", p.Name),
		zap.Bool("pkce", p.PKCE),
	)

	return &AuthorizationRequest{
		URL:         p.AuthCodeURL(state, pending.CodeVerifier, opts.LoginHint),
		MerchantID:  merchantID,
		Provider:    p.Name,
		ClientID:    p.ClientID,
		RedirectURI: p.RedirectURI,
		Scopes:      p.Scopes,
		PKCE:        p.PKCE,
		ExpiresAt:   pending.ExpiresAt,
	}, nil
}

// CompleteAuthorization redeems state, exchanges code and persists the resulting connection
func (s *connectionService) CompleteAuthorization(ctx context.Context, providerName, code, state string) (*domain.Connection, error) {
	if code == "" || state == "" {
		return nil, fmt.Errorf("%w: code and state are required", domain.ErrInvalidRequest)
	}

	p, err := s.registry.Lookup(providerName)
	if err != nil {
		return nil, err
	}

	pending, err := s.states.Consume(ctx, p.Name, state)
	if err != nil {
		s.metrics.RecordStateRejected(ctx, p.Name)
		s.logger.Warn("Authorization state rejected", zap.String("provider", p.Name), zap.Error(err))
		return nil, err
	}

	logger := s.logger.With(zap.String("merchant_id", pending.MerchantID), zap.String("provider", p.Name))

	tokens, err := s.client.Exchange(ctx, p, code, pending.CodeVerifier)
	if err != nil {
		s.metrics.RecordExchange(ctx, p.Name, err)
		logger.Warn("Token exchange failed", zap.Error(err))
		return nil, err
	}

	now := s.now()
	conn := &domain.Connection{
		MerchantID:   pending.MerchantID,
		Provider:     p.Name,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.Expiry(now, p.DefaultTokenTTL.Duration),
		Connected:    true,
		Metadata:     mergeMetadata(nil, tokens),
		ConnectedAt:  now,
		LastUpdated:  now,
	}

	profile, err := s.client.FetchProfile(ctx, p, tokens.AccessToken)
	if err != nil {
		logger.Warn("Profile lookup failed", zap.Error(err))
	}
	for k, v := range profile {
		conn.Metadata[k] = v
	}

	if err := s.repo.Upsert(ctx, conn); err != nil {
		err = storageError(err)
		s.metrics.RecordExchange(ctx, p.Name, err)
		logger.Error("Failed to store connection", zap.Error(err))
		return nil, err
	}

	s.metrics.RecordExchange(ctx, p.Name, nil)
	logger.Info("Connection established",
		zap.Time("expires_at", conn.ExpiresAt),
		zap.Bool("refreshable", conn.HasRefreshToken()),
	)

	return conn, nil
}

// GetConnection returns the stored connection for the pair
func (s *connectionService) GetConnection(ctx context.Context, merchantID, providerName string) (*domain.Connection, error) {
	if err := validateMerchant(merchantID); err != nil {
		return nil, err
	}
	if _, ok := s.registry.Definition(providerName); !ok {
		return nil, unknownProvider(providerName)
	}

	conn, err := s.repo.Get(ctx, merchantID, providerName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, storageError(err)
	}
	return conn, nil
}

// ResolveStatus reports the connection status. A missing record is reported as disconnected.
func (s *connectionService) ResolveStatus(ctx context.Context, merchantID, providerName string) (*domain.StatusReport, error) {
	if err := validateMerchant(merchantID); err != nil {
		return nil, err
	}

	def, ok := s.registry.Definition(providerName)
	if !ok {
		return nil, unknownProvider(providerName)
	}

	conn, err := s.repo.Get(ctx, merchantID, providerName)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, storageError(err)
	}

	return domain.BuildStatusReport(merchantID, providerName, conn, def.SupportsRefresh, s.now()), nil
}

// RefreshAccessToken redeems the stored refresh token. Concurrent calls for the
// same pair are serialized and only the first one reaches the provider.
func (s *connectionService) RefreshAccessToken(ctx context.Context, merchantID, providerName string) (*domain.Connection, error) {
	if err := validateMerchant(merchantID); err != nil {
		return nil, err
	}

	p, err := s.registry.Lookup(providerName)
	if err != nil {
		return nil, err
	}

	conn, err := s.refreshable(ctx, p, merchantID)
	if err != nil {
		return nil, err
	}
	if !conn.ExpiresWithin(s.now(), s.refreshSkew) {
		return conn, nil
	}

	unlock, err := s.locker.Lock(ctx, merchantID+":"+p.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to acquire refresh lock: %v", domain.ErrStorage, err)
	}
	defer unlock()

	if s.refreshTTL > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.refreshTTL)
		defer cancel()
	}

	// Another caller may have refreshed while we waited
	conn, err = s.refreshable(ctx, p, merchantID)
	if err != nil {
		return nil, err
	}
	if !conn.ExpiresWithin(s.now(), s.refreshSkew) {
		return conn, nil
	}

	logger := s.logger.With(zap.String("merchant_id", merchantID), zap.String("provider", p.Name))

	tokens, err := s.client.Refresh(ctx, p, conn.RefreshToken)
	if err != nil {
		var perr *domain.ProviderError
		if errors.As(err, &perr) && perr.IsInvalidGrant() {
			err = s.markExpired(ctx, conn, perr)
		}
		s.metrics.RecordRefresh(ctx, p.Name, err)
		logger.Warn("Token refresh failed", zap.Error(err))
		return nil, err
	}

	now := s.now()
	updated := conn.Clone()
	updated.AccessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		updated.RefreshToken = tokens.RefreshToken
	}
	updated.ExpiresAt = tokens.Expiry(now, p.DefaultTokenTTL.Duration)
	updated.Connected = true
	updated.LastUpdated = now
	updated.Metadata = mergeMetadata(updated.Metadata, tokens)

	if err := s.repo.Upsert(ctx, updated); err != nil {
		err = storageError(err)
		s.metrics.RecordRefresh(ctx, p.Name, err)
		logger.Error("Failed to store refreshed token", zap.Error(err))
		return nil, err
	}

	s.metrics.RecordRefresh(ctx, p.Name, nil)
	logger.Info("Access token refreshed",
		zap.Time("expires_at", updated.ExpiresAt),
		zap.Bool("rotated", tokens.RefreshToken != ""),
	)

	return updated, nil
}

// AccessToken returns a connection whose access token is usable now,
// refreshing it first when it is expired or about to expire.
func (s *connectionService) AccessToken(ctx context.Context, merchantID, providerName string) (*domain.Connection, error) {
	conn, err := s.GetConnection(ctx, merchantID, providerName)
	if err != nil {
		return nil, err
	}

	now := s.now()
	switch domain.ResolveStatus(conn, now) {
	case domain.StatusDisconnected:
		return nil, fmt.Errorf("%w: %s is not connected", domain.ErrNotFound, providerName)
	case domain.StatusInvalid:
		return nil, fmt.Errorf("%w: %s must be reconnected", domain.ErrAuthExpired, providerName)
	case domain.StatusConnected:
		if !conn.HasRefreshToken() || !conn.ExpiresWithin(now, s.refreshSkew) {
			return conn, nil
		}
	}

	// a stored refresh token is useless when the provider cannot redeem it
	if def, ok := s.registry.Definition(providerName); ok && !def.SupportsRefresh {
		if conn.IsExpired(now) {
			return nil, fmt.Errorf("%w: %s must be reconnected", domain.ErrAuthExpired, providerName)
		}
		return conn, nil
	}

	refreshed, err := s.RefreshAccessToken(ctx, merchantID, providerName)
	if err != nil {
		// still inside its lifetime, so hand out the current token
		if !conn.IsExpired(s.now()) && !errors.Is(err, domain.ErrAuthExpired) {
			s.logger.Warn("Proactive refresh failed, using current token",
				zap.String("merchant_id", merchantID),
				zap.String("provider", providerName),
				zap.Error(err),
			)
			return conn, nil
		}
		return nil, err
	}
	return refreshed, nil
}

// Disconnect deletes the stored connection for the pair
func (s *connectionService) Disconnect(ctx context.Context, merchantID, providerName string) error {
	if err := validateMerchant(merchantID); err != nil {
		return err
	}
	if _, ok := s.registry.Definition(providerName); !ok {
		return unknownProvider(providerName)
	}

	if err := s.repo.Delete(ctx, merchantID, providerName); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return err
		}
		return storageError(err)
	}

	s.logger.Info("Connection removed",
		zap.String("merchant_id", merchantID),
		zap.String("provider", providerName),
	)
	return nil
}

// refreshable loads the connection and checks that a refresh grant can be attempted
func (s *connectionService) refreshable(ctx context.Context, p *provider.Provider, merchantID string) (*domain.Connection, error) {
	conn, err := s.repo.Get(ctx, merchantID, p.Name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s is not connected", domain.ErrInvalidRequest, p.Name)
		}
		return nil, storageError(err)
	}

	switch {
	case !conn.Connected:
		return nil, fmt.Errorf("%w: %s is not connected", domain.ErrInvalidRequest, p.Name)
	case !p.SupportsRefresh:
		return nil, fmt.Errorf("%w: %s does not support token refresh", domain.ErrInvalidRequest, p.Name)
	case !conn.HasRefreshToken():
		return nil, fmt.Errorf("%w: no refresh token stored for %s", domain.ErrInvalidRequest, p.Name)
	}
	return conn, nil
}

// markExpired downgrades conn after the provider rejected its refresh grant
func (s *connectionService) markExpired(ctx context.Context, conn *domain.Connection, cause *domain.ProviderError) error {
	downgraded := conn.Clone()
	downgraded.Connected = false
	downgraded.LastUpdated = s.now()

	if err := s.repo.Upsert(ctx, downgraded); err != nil {
		return fmt.Errorf("%w: %s rejected the refresh token (%v) and the downgrade was not stored: %v",
			domain.ErrAuthExpired, conn.Provider, cause, err)
	}
	return fmt.Errorf("%w: %s rejected the refresh token: %v", domain.ErrAuthExpired, conn.Provider, cause)
}

func mergeMetadata(base map[string]any, tokens *domain.TokenSet) map[string]any {
	out := make(map[string]any, len(base)+len(tokens.Extra)+1)
	for k, v := range base {
		out[k] = v
	}
	for k, v := range tokens.Extra {
		out[k] = v
	}
	if tokens.Scope != "" {
		out[domain.MetadataScope] = tokens.Scope
	}
	return out
}

func validateMerchant(merchantID string) error {
	if merchantID == "" {
		return fmt.Errorf("%w: merchantId is required", domain.ErrInvalidRequest)
	}
	if !utils.ValidateMerchantID(merchantID) {
		return fmt.Errorf("%w: merchantId is malformed", domain.ErrInvalidRequest)
	}
	return nil
}

func unknownProvider(name string) error {
	return fmt.Errorf("%w: unknown provider %q", domain.ErrInvalidRequest, name)
}

func storageError(err error) error {
	if errors.Is(err, domain.ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrStorage, err)
}
