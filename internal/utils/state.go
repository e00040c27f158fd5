package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/domain"
)

const stateIssuer = "integration-connections"

// ErrInvalidState is returned for a state parameter that is malformed, forged or expired
var ErrInvalidState = errors.New("invalid state parameter")

type stateClaims struct {
	MerchantID string `json:"mid"`
	Provider   string `json:"prv"`
	jwt.RegisteredClaims
}

// StateSigner signs and verifies the state query parameter of the consent flow
type StateSigner struct {
	secret []byte
	now    func() time.Time
}

// NewStateSigner creates a new state signer. now may be nil.
func NewStateSigner(secret string, now func() time.Time) *StateSigner {
	if now == nil {
		now = time.Now
	}
	return &StateSigner{
		secret: []byte(secret),
		now:    now,
	}
}

// Sign encodes claims as a compact HS256 token
func (s *StateSigner) Sign(claims domain.StateClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, stateClaims{
		MerchantID: claims.MerchantID,
		Provider:   claims.Provider,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        claims.Nonce,
			Issuer:    stateIssuer,
			IssuedAt:  jwt.NewNumericDate(s.now()),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}

	return signed, nil
}

// Verify checks signature and expiry and returns the embedded claims
func (s *StateSigner) Verify(state string) (*domain.StateClaims, error) {
	var claims stateClaims

	_, err := jwt.ParseWithClaims(state, &claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	if claims.ID == "" || claims.MerchantID == "" || claims.Provider == "" {
		return nil, fmt.Errorf("%w: missing claims", ErrInvalidState)
	}

	return &domain.StateClaims{
		Nonce:      claims.ID,
		MerchantID: claims.MerchantID,
		Provider:   claims.Provider,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}
