package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/vinylogix/api/internal/repositories"
)

const (
	alertEventRaised        = "alerts.low_stock.raised"
	alertEventResolved      = "alerts.low_stock.resolved"
	alertEventFailed        = "alerts.low_stock.evaluate_failed"
	alertEventSweepFinished = "alerts.low_stock.sweep_finished"

	alertIDPrefix           = "lsa_"
	defaultSweepConcurrency = 8
)

// ErrAlertInvalidInput signals the caller omitted the tenant or item.
var ErrAlertInvalidInput = errors.New("alerts: invalid input")

// LowStockDeduplicatorDeps bundles collaborators required to construct the deduplicator.
type LowStockDeduplicatorDeps struct {
	Alerts           repositories.LowStockAlertRepository
	Stock            repositories.StockRepository
	Tenants          repositories.TenantRepository
	DefaultThreshold int
	SweepConcurrency int
	Metrics          LedgerMetrics
	Clock            func() time.Time
	IDGenerator      func() string
	Logger           func(ctx context.Context, event string, fields map[string]any)
}

type lowStockDeduplicator struct {
	alerts           repositories.LowStockAlertRepository
	stock            repositories.StockRepository
	tenants          repositories.TenantRepository
	defaultThreshold int
	concurrency      int
	metrics          LedgerMetrics
	clock            func() time.Time
	newID            func() string
	logger           func(context.Context, string, map[string]any)
}

var _ LowStockDeduplicator = (*lowStockDeduplicator)(nil)

// NewLowStockDeduplicator wires dependencies into a LowStockDeduplicator implementation.
func NewLowStockDeduplicator(deps LowStockDeduplicatorDeps) (LowStockDeduplicator, error) {
	if deps.Alerts == nil {
		return nil, errors.New("low stock deduplicator: alert repository is required")
	}
	if deps.DefaultThreshold < 0 {
		return nil, fmt.Errorf("low stock deduplicator: default threshold must be >= 0, got %d", deps.DefaultThreshold)
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopLedgerMetrics{}
	}
	concurrency := deps.SweepConcurrency
	if concurrency <= 0 {
		concurrency = defaultSweepConcurrency
	}

	return &lowStockDeduplicator{
		alerts:           deps.Alerts,
		stock:            deps.Stock,
		tenants:          deps.Tenants,
		defaultThreshold: deps.DefaultThreshold,
		concurrency:      concurrency,
		metrics:          metrics,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (d *lowStockDeduplicator) Evaluate(ctx context.Context, tenantID, itemID string) (LowStockEvaluation, error) {
	tenantID, itemID = strings.TrimSpace(tenantID), strings.TrimSpace(itemID)
	if tenantID == "" || itemID == "" {
		return LowStockEvaluation{}, fmt.Errorf("%w: tenant id and item id are required", ErrAlertInvalidInput)
	}

	result, err := d.alerts.Evaluate(ctx, repositories.LowStockEvaluation{
		TenantID:         tenantID,
		ItemID:           itemID,
		DefaultThreshold: d.defaultThreshold,
		NewAlertID:       alertIDPrefix + d.newID(),
		Now:              d.clock(),
	})
	if err != nil {
		return LowStockEvaluation{}, mapStockError(err)
	}

	raised := 0
	if result.Raised != nil {
		raised = 1
		d.logger(ctx, alertEventRaised, map[string]any{
			"tenantId":  tenantID,
			"itemId":    itemID,
			"alertId":   result.Raised.ID,
			"total":     result.Total,
			"threshold": result.Threshold,
		})
	}
	for _, alert := range result.Resolved {
		d.logger(ctx, alertEventResolved, map[string]any{
			"tenantId": tenantID,
			"itemId":   itemID,
			"alertId":  alert.ID,
			"total":    result.Total,
		})
	}
	if raised > 0 || len(result.Resolved) > 0 {
		d.metrics.AlertsChanged(ctx, raised, len(result.Resolved))
	}
	return result, nil
}

func (d *lowStockDeduplicator) EvaluateItems(ctx context.Context, tenantID string, itemIDs []string) {
	for _, itemID := range itemIDs {
		if _, err := d.Evaluate(ctx, tenantID, itemID); err != nil {
			d.logger(ctx, alertEventFailed, map[string]any{
				"tenantId": tenantID,
				"itemId":   itemID,
				"error":    err.Error(),
			})
		}
	}
}

func (d *lowStockDeduplicator) ListOpen(ctx context.Context, tenantID string) ([]LowStockAlert, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrAlertInvalidInput)
	}
	alerts, err := d.alerts.ListOpen(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return alerts, nil
}

// Sweep re-evaluates every item of every configured tenant. Per-item failures are counted, not returned.
func (d *lowStockDeduplicator) Sweep(ctx context.Context) (SweepReport, error) {
	if d.stock == nil || d.tenants == nil {
		return SweepReport{}, errors.New("low stock deduplicator: sweep requires stock and tenant repositories")
	}

	report := SweepReport{StartedAt: d.clock()}
	tenants, err := d.tenants.List(ctx)
	if err != nil {
		return SweepReport{}, fmt.Errorf("low stock sweep: list tenants: %w", err)
	}
	report.Tenants = len(tenants)

	type target struct{ tenantID, itemID string }
	var targets []target
	for _, tenant := range tenants {
		items, err := d.stock.ListItems(ctx, tenant.TenantID)
		if err != nil {
			return SweepReport{}, fmt.Errorf("low stock sweep: list items for %s: %w", tenant.TenantID, err)
		}
		for _, item := range items {
			targets = append(targets, target{tenantID: tenant.TenantID, itemID: item.ID})
		}
	}
	report.Items = len(targets)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, t := range targets {
		g.Go(func() error {
			result, err := d.Evaluate(gctx, t.tenantID, t.itemID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failures++
				d.logger(gctx, alertEventFailed, map[string]any{
					"tenantId": t.tenantID,
					"itemId":   t.itemID,
					"error":    err.Error(),
				})
				return nil
			}
			if result.Raised != nil {
				report.Raised++
			}
			report.Resolved += len(result.Resolved)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SweepReport{}, err
	}

	report.Duration = d.clock().Sub(report.StartedAt)
	d.logger(ctx, alertEventSweepFinished, map[string]any{
		"tenants":  report.Tenants,
		"items":    report.Items,
		"raised":   report.Raised,
		"resolved": report.Resolved,
		"failures": report.Failures,
	})
	return report, nil
}
