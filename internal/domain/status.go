package domain

import (
	"fmt"
	"time"
)

// Status is the resolved health of a connection
type Status string

const (
	StatusConnected    Status = "connected"
	StatusExpired      Status = "expired"
	StatusInvalid      Status = "invalid"
	StatusDisconnected Status = "disconnected"
)

// ResolveStatus derives the status of conn at now. A nil connection is disconnected.
func ResolveStatus(conn *Connection, now time.Time) Status {
	if conn == nil || !conn.Connected {
		return StatusDisconnected
	}
	if conn.AccessToken == "" {
		return StatusInvalid
	}
	if !conn.IsExpired(now) {
		return StatusConnected
	}
	if conn.HasRefreshToken() {
		return StatusExpired
	}
	return StatusInvalid
}

// StatusReport is the externally visible view of a connection
type StatusReport struct {
	MerchantID string         `json:"merchantId"`
	Provider   string         `json:"provider"`
	Connected  bool           `json:"connected"`
	Status     Status         `json:"status"`
	Message    string         `json:"message"`
	Suggestion string         `json:"suggestion,omitempty"`
	Details    *StatusDetails `json:"details,omitempty"`
}

// StatusDetails carries token diagnostics. It never includes token material.
type StatusDetails struct {
	HasAccessToken  bool           `json:"hasAccessToken"`
	HasRefreshToken bool           `json:"hasRefreshToken"`
	Refreshable     bool           `json:"refreshable"`
	AccountID       string         `json:"accountId,omitempty"`
	TokenExpired    bool           `json:"tokenExpired"`
	ExpiresIn       int64          `json:"expiresIn"`
	ExpiresAt       time.Time      `json:"expiresAt"`
	ConnectedAt     time.Time      `json:"connectedAt"`
	LastUpdated     time.Time      `json:"lastUpdated"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// BuildStatusReport renders conn (possibly nil) into a report for provider.
// refreshable tells whether the provider definition supports the refresh grant.
func BuildStatusReport(merchantID, provider string, conn *Connection, refreshable bool, now time.Time) *StatusReport {
	status := ResolveStatus(conn, now)
	report := &StatusReport{
		MerchantID: merchantID,
		Provider:   provider,
		Connected:  status == StatusConnected,
		Status:     status,
	}

	switch status {
	case StatusConnected:
		report.Message = fmt.Sprintf("%s integration is active", provider)
	case StatusExpired:
		report.Message = fmt.Sprintf("%s access token has expired", provider)
		report.Suggestion = "Token will be refreshed automatically on next use"
		if !refreshable {
			report.Suggestion = fmt.Sprintf("Reconnect your %s account", provider)
		}
	case StatusInvalid:
		report.Message = fmt.Sprintf("%s connection cannot be refreshed", provider)
		report.Suggestion = fmt.Sprintf("Reconnect your %s account to restore access", provider)
	default:
		report.Message = fmt.Sprintf("%s integration is not connected", provider)
		report.Suggestion = fmt.Sprintf("Set up %s integration to get started", provider)
	}

	if conn == nil {
		return report
	}

	expiresIn := int64(conn.ExpiresAt.Sub(now).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}

	report.Details = &StatusDetails{
		HasAccessToken:  conn.AccessToken != "",
		HasRefreshToken: conn.HasRefreshToken(),
		Refreshable:     refreshable && conn.HasRefreshToken(),
		AccountID:       conn.AccountID(),
		TokenExpired:    conn.IsExpired(now),
		ExpiresIn:       expiresIn,
		ExpiresAt:       conn.ExpiresAt,
		ConnectedAt:     conn.ConnectedAt,
		LastUpdated:     conn.LastUpdated,
		Metadata:        conn.Metadata,
	}
	return report
}
