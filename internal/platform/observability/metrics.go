package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/vinylogix/api/ledger"

// LedgerMetrics records ledger activity as OpenTelemetry counters. It satisfies services.LedgerMetrics.
type LedgerMetrics struct {
	stockMutations metric.Int64Counter
	stockItems     metric.Int64Counter
	alerts         metric.Int64Counter
	notices        metric.Int64Counter
}

// NewLedgerMetrics registers the counters on provider, or on the global provider when nil.
func NewLedgerMetrics(provider metric.MeterProvider) (*LedgerMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	var (
		m   LedgerMetrics
		err error
	)
	if m.stockMutations, err = meter.Int64Counter("ledger.stock.mutations",
		metric.WithDescription("Committed stock mutations by kind."),
	); err != nil {
		return nil, fmt.Errorf("register stock mutation counter: %w", err)
	}
	if m.stockItems, err = meter.Int64Counter("ledger.stock.items_mutated",
		metric.WithDescription("Items touched by committed stock mutations."),
		metric.WithUnit("{item}"),
	); err != nil {
		return nil, fmt.Errorf("register stock item counter: %w", err)
	}
	if m.alerts, err = meter.Int64Counter("ledger.low_stock.alerts",
		metric.WithDescription("Low-stock alerts raised or resolved."),
	); err != nil {
		return nil, fmt.Errorf("register alert counter: %w", err)
	}
	if m.notices, err = meter.Int64Counter("ledger.shipment_notices",
		metric.WithDescription("Shipment notices by delivery outcome."),
	); err != nil {
		return nil, fmt.Errorf("register notice counter: %w", err)
	}
	return &m, nil
}

func (m *LedgerMetrics) StockMutated(ctx context.Context, kind string, items int) {
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	m.stockMutations.Add(ctx, 1, attrs)
	m.stockItems.Add(ctx, int64(items), attrs)
}

func (m *LedgerMetrics) AlertsChanged(ctx context.Context, raised, resolved int) {
	if raised > 0 {
		m.alerts.Add(ctx, int64(raised), metric.WithAttributes(attribute.String("transition", "raised")))
	}
	if resolved > 0 {
		m.alerts.Add(ctx, int64(resolved), metric.WithAttributes(attribute.String("transition", "resolved")))
	}
}

func (m *LedgerMetrics) NoticeDelivered(ctx context.Context, delivered bool) {
	outcome := "failed"
	if delivered {
		outcome = "published"
	}
	m.notices.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
