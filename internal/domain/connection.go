package domain

import "time"

// Connection represents a merchant's authorization with a third-party provider.
// At most one connection exists per (MerchantID, Provider) pair.
type Connection struct {
	MerchantID   string         `json:"merchant_id" db:"merchant_id" bson:"merchantId"`
	Provider     string         `json:"provider" db:"provider" bson:"provider"`
	AccessToken  string         `json:"-" db:"access_token" bson:"accessToken"`
	RefreshToken string         `json:"-" db:"refresh_token" bson:"refreshToken,omitempty"`
	ExpiresAt    time.Time      `json:"expires_at" db:"expires_at" bson:"expiresAt"`
	Connected    bool           `json:"connected" db:"connected" bson:"connected"`
	Metadata     map[string]any `json:"metadata,omitempty" db:"metadata" bson:"metadata,omitempty"`
	ConnectedAt  time.Time      `json:"connected_at" db:"connected_at" bson:"connectedAt"`
	LastUpdated  time.Time      `json:"last_updated" db:"last_updated" bson:"lastUpdated"`
}

// HasRefreshToken reports whether the connection can be refreshed without user interaction
func (c *Connection) HasRefreshToken() bool {
	return c != nil && c.RefreshToken != ""
}

// IsExpired reports whether the access token is past its expiry at now
func (c *Connection) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// ExpiresWithin reports whether the access token expires before now+d
func (c *Connection) ExpiresWithin(now time.Time, d time.Duration) bool {
	return !now.Add(d).Before(c.ExpiresAt)
}

// Clone returns a deep copy so callers can mutate the result freely
func (c *Connection) Clone() *Connection {
	if c == nil {
		return nil
	}

	clone := *c
	if c.Metadata != nil {
		clone.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// AccountID returns a human readable account identifier resolved from the provider, if any
func (c *Connection) AccountID() string {
	if c == nil {
		return ""
	}
	for _, key := range []string{MetadataAccountEmail, MetadataRemoteMerchantID} {
		if v, ok := c.Metadata[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Well-known metadata keys
const (
	MetadataAccountEmail     = "accountEmail"
	MetadataRemoteMerchantID = "remoteMerchantId"
	MetadataScope            = "scope"
)
