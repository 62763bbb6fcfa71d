package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/vinylogix/api/internal/repositories/memory"
)

func TestLowStockRaisesAtThresholdBoundary(t *testing.T) {
	h := newLedgerHarness(t)
	h.setupTenant(t, "t1", "VH")
	h.registerItem(t, "t1", "lp-1", 3, 2)

	result, err := h.alerts.Evaluate(context.Background(), "t1", "lp-1")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Total != 5 || result.Threshold != 5 || !result.Enabled {
		t.Fatalf("unexpected evaluation %+v", result)
	}
	// Registering already evaluated the item, so the alert exists and this pass keeps it.
	if result.Raised != nil {
		t.Fatalf("expected no second alert, got %+v", result.Raised)
	}
	open := h.openAlerts(t, "t1")
	if len(open) != 1 || open[0].ItemID != "lp-1" || open[0].Total != 5 {
		t.Fatalf("expected one open alert at total 5, got %+v", open)
	}
	if !strings.HasPrefix(open[0].ID, alertIDPrefix) {
		t.Fatalf("expected alert id prefix, got %s", open[0].ID)
	}
}

func TestLowStockDisabledTenantKeepsButResolves(t *testing.T) {
	h := newLedgerHarness(t)
	h.setupTenant(t, "t1", "VH")
	h.registerItem(t, "t1", "lp-1", 1, 0)
	if len(h.openAlerts(t, "t1")) != 1 {
		t.Fatalf("expected initial alert")
	}

	if _, err := h.tenants.UpdateAlertSettings(context.Background(), UpdateAlertSettingsCommand{
		TenantID:  "t1",
		Threshold: 5,
		Enabled:   false,
	}); err != nil {
		t.Fatalf("UpdateAlertSettings: %v", err)
	}
	if len(h.openAlerts(t, "t1")) != 1 {
		t.Fatalf("disabling alerts must not resolve alerts that are still low")
	}

	h.registerItem(t, "t1", "lp-2", 0, 0)
	if open := h.openAlerts(t, "t1"); len(open) != 1 {
		t.Fatalf("disabled tenant must not raise new alerts, got %+v", open)
	}

	if _, err := h.ledger.Restore(context.Background(), StockMutationCommand{
		TenantID: "t1",
		Lines:    []StockLine{{ItemID: "lp-1", Quantity: 10}},
	}); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if open := h.openAlerts(t, "t1"); len(open) != 0 {
		t.Fatalf("recovery must resolve even when disabled, got %+v", open)
	}
}

func TestLowStockConcurrentEvaluationsRaiseOnce(t *testing.T) {
	h := newLedgerHarness(t)
	if _, err := h.tenants.SetupTenant(context.Background(), SetupTenantCommand{
		TenantID:       "t1",
		Prefix:         "VH",
		AlertsDisabled: true,
	}); err != nil {
		t.Fatalf("SetupTenant: %v", err)
	}
	h.registerItem(t, "t1", "lp-1", 2, 0)
	if _, err := h.reg.Tenants().UpdateAlertSettings(context.Background(), "t1", 5, true, testNow); err != nil {
		t.Fatalf("repository UpdateAlertSettings: %v", err)
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		raised int
	)
	for range 25 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := h.alerts.Evaluate(context.Background(), "t1", "lp-1")
			if err != nil {
				t.Errorf("Evaluate: %v", err)
				return
			}
			if result.Raised != nil {
				mu.Lock()
				raised++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if raised != 1 {
		t.Fatalf("expected exactly one evaluation to raise, got %d", raised)
	}
	if open := h.openAlerts(t, "t1"); len(open) != 1 {
		t.Fatalf("expected one open alert, got %d", len(open))
	}
}

func TestLowStockEvaluateUnknownItem(t *testing.T) {
	h := newLedgerHarness(t)
	if _, err := h.alerts.Evaluate(context.Background(), "t1", "missing"); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
	if _, err := h.alerts.Evaluate(context.Background(), "", "lp-1"); !errors.Is(err, ErrAlertInvalidInput) {
		t.Fatalf("expected ErrAlertInvalidInput, got %v", err)
	}
}

func TestLowStockSweepReconcilesConfiguredTenants(t *testing.T) {
	h := newLedgerHarness(t)
	h.setupTenant(t, "t1", "VH")
	h.setupTenant(t, "t2", "XX")
	h.registerItem(t, "t1", "lp-1", 1, 0)
	h.registerItem(t, "t1", "lp-2", 20, 0)
	h.registerItem(t, "t2", "lp-1", 9, 0)
	h.registerItem(t, "t3", "lp-1", 0, 0)

	// Raise the threshold behind the service so only the sweep can observe it.
	if _, err := h.reg.Tenants().UpdateAlertSettings(context.Background(), "t2", 10, true, testNow); err != nil {
		t.Fatalf("repository UpdateAlertSettings: %v", err)
	}

	report, err := h.alerts.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Tenants != 2 || report.Items != 3 {
		t.Fatalf("expected 2 tenants and 3 items, got %+v", report)
	}
	if report.Raised != 1 || report.Resolved != 0 || report.Failures != 0 {
		t.Fatalf("unexpected sweep counts %+v", report)
	}
	if open := h.openAlerts(t, "t2"); len(open) != 1 || open[0].Threshold != 10 {
		t.Fatalf("expected sweep alert for t2, got %+v", open)
	}

	again, err := h.alerts.Sweep(context.Background())
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if again.Raised != 0 || again.Resolved != 0 {
		t.Fatalf("second sweep must be idempotent, got %+v", again)
	}
	if h.events.count(alertEventSweepFinished) != 2 {
		t.Fatalf("expected sweep completion to be logged twice")
	}
}

func TestLowStockSweepCountsFailures(t *testing.T) {
	var failing bool
	var mu sync.Mutex
	h := newLedgerHarness(t, memory.WithEvaluateFault(func(tenantID, itemID string) error {
		mu.Lock()
		defer mu.Unlock()
		if failing && itemID == "lp-2" {
			return &memory.Error{Op: "alerts.evaluate", Message: "deadline exceeded", Unavailable: true}
		}
		return nil
	}))
	h.setupTenant(t, "t1", "VH")
	h.registerItem(t, "t1", "lp-1", 1, 0)
	h.registerItem(t, "t1", "lp-2", 1, 0)

	mu.Lock()
	failing = true
	mu.Unlock()

	report, err := h.alerts.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep must not fail on per-item errors: %v", err)
	}
	if report.Items != 2 || report.Failures != 1 {
		t.Fatalf("expected one failure out of two items, got %+v", report)
	}
}

func TestLowStockFollowsAdjustments(t *testing.T) {
	h := newLedgerHarness(t)
	h.setupTenant(t, "t1", "VH")
	h.registerItem(t, "t1", "lp-1", 6, 4)
	if open := h.openAlerts(t, "t1"); len(open) != 0 {
		t.Fatalf("expected no alert at total 10, got %+v", open)
	}

	steps := []struct {
		name         string
		shelfDelta   int
		storageDelta int
		wantTotal    int
		wantOpen     int
	}{
		{name: "drop to 4 raises", shelfDelta: -6, wantTotal: 4, wantOpen: 1},
		{name: "drop to 3 keeps the alert", storageDelta: -1, wantTotal: 3, wantOpen: 1},
		{name: "recover to 6 resolves", shelfDelta: 3, wantTotal: 6, wantOpen: 0},
	}
	var firstAlertID string
	for _, step := range steps {
		item, err := h.ledger.Adjust(context.Background(), StockAdjustCommand{
			TenantID:     "t1",
			ItemID:       "lp-1",
			ShelfDelta:   step.shelfDelta,
			StorageDelta: step.storageDelta,
			Actor:        "ops@example.com",
		})
		if err != nil {
			t.Fatalf("%s: Adjust: %v", step.name, err)
		}
		if item.Total() != step.wantTotal {
			t.Fatalf("%s: total %d, want %d", step.name, item.Total(), step.wantTotal)
		}
		open := h.openAlerts(t, "t1")
		if len(open) != step.wantOpen {
			t.Fatalf("%s: %d open alerts, want %d (%+v)", step.name, len(open), step.wantOpen, open)
		}
		if len(open) == 1 {
			if firstAlertID == "" {
				firstAlertID = open[0].ID
			}
			if open[0].ID != firstAlertID {
				t.Fatalf("%s: alert replaced, %s != %s", step.name, open[0].ID, firstAlertID)
			}
		}
	}
}
