package service

import (
	"context"
	"fmt"

	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records outcomes of token operations
type Metrics struct {
	exchanges       metric.Int64Counter
	refreshes       metric.Int64Counter
	stateRejections metric.Int64Counter
}

// NewMetrics registers the connection counters on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	exchanges, err := meter.Int64Counter("integration_token_exchange_total",
		metric.WithDescription("Authorization code exchanges by provider and result"))
	if err != nil {
		return nil, fmt.Errorf("failed to create exchange counter: %w", err)
	}

	refreshes, err := meter.Int64Counter("integration_token_refresh_total",
		metric.WithDescription("Access token refreshes by provider and result"))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh counter: %w", err)
	}

	stateRejections, err := meter.Int64Counter("integration_state_rejected_total",
		metric.WithDescription("Callbacks rejected during state validation"))
	if err != nil {
		return nil, fmt.Errorf("failed to create state counter: %w", err)
	}

	return &Metrics{
		exchanges:       exchanges,
		refreshes:       refreshes,
		stateRejections: stateRejections,
	}, nil
}

func (m *Metrics) RecordExchange(ctx context.Context, provider string, err error) {
	if m == nil {
		return
	}
	m.exchanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("result", domain.Kind(err)),
	))
}

func (m *Metrics) RecordRefresh(ctx context.Context, provider string, err error) {
	if m == nil {
		return
	}
	m.refreshes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("result", domain.Kind(err)),
	))
}

// RecordStateRejected counts a callback whose state failed validation
func (m *Metrics) RecordStateRejected(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.stateRejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
	))
}
