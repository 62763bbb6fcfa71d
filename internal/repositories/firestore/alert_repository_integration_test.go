//go:build integration

package firestore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	domain "github.com/vinylogix/api/internal/domain"
	"github.com/vinylogix/api/internal/repositories"
)

func TestLowStockAlertRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "alerts-test")
	alerts, err := NewLowStockAlertRepository(provider)
	if err != nil {
		t.Fatalf("new alert repository: %v", err)
	}
	tenants, err := NewTenantRepository(provider)
	if err != nil {
		t.Fatalf("new tenant repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	now := time.Now().UTC().Truncate(time.Second)

	if err := tenants.Create(ctx, domain.TenantSettings{
		TenantID:              "t1",
		DisplayName:           "Vinyl Haven",
		LowStockThreshold:     3,
		LowStockAlertsEnabled: true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	seedItem(t, ctx, provider, "t1", "lp-1", 1, 1)

	const concurrent = 4
	var wg sync.WaitGroup
	errs := make(chan error, concurrent)
	for i := range concurrent {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := alerts.Evaluate(ctx, repositories.LowStockEvaluation{
				TenantID:         "t1",
				ItemID:           "lp-1",
				DefaultThreshold: 5,
				NewAlertID:       fmt.Sprintf("alert-%d", i),
				Now:              now,
			})
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("evaluate: %v", err)
	}

	open, err := alerts.ListOpen(ctx, "t1")
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected exactly one open alert, got %d", len(open))
	}
	if open[0].Total != 2 || open[0].Threshold != 3 {
		t.Fatalf("unexpected alert %+v", open[0])
	}

	seedItem(t, ctx, provider, "t1", "lp-1", 4, 0)
	res, err := alerts.Evaluate(ctx, repositories.LowStockEvaluation{
		TenantID: "t1", ItemID: "lp-1", DefaultThreshold: 5, NewAlertID: "alert-x", Now: now.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("evaluate after restock: %v", err)
	}
	if len(res.Resolved) != 1 || res.Raised != nil {
		t.Fatalf("expected one resolved alert, got %+v", res)
	}
	history, err := alerts.ListByItem(ctx, "t1", "lp-1")
	if err != nil {
		t.Fatalf("list by item: %v", err)
	}
	if len(history) != 1 || !history[0].IsResolved || history[0].ResolvedAt == nil {
		t.Fatalf("unexpected alert history %+v", history)
	}

	// Tenants without a settings document fall back to the default threshold.
	seedItem(t, ctx, provider, "t9", "lp-9", 5, 0)
	res, err = alerts.Evaluate(ctx, repositories.LowStockEvaluation{
		TenantID: "t9", ItemID: "lp-9", DefaultThreshold: 5, NewAlertID: "alert-t9", Now: now,
	})
	if err != nil {
		t.Fatalf("evaluate default tenant: %v", err)
	}
	if res.Raised == nil || res.Threshold != 5 || !res.Enabled {
		t.Fatalf("expected alert from default settings, got %+v", res)
	}

	if _, err := tenants.UpdateAlertSettings(ctx, "t1", 10, false, now); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	res, err = alerts.Evaluate(ctx, repositories.LowStockEvaluation{
		TenantID: "t1", ItemID: "lp-1", DefaultThreshold: 5, NewAlertID: "alert-disabled", Now: now,
	})
	if err != nil {
		t.Fatalf("evaluate disabled: %v", err)
	}
	if res.Raised != nil {
		t.Fatalf("disabled tenant must not raise alerts")
	}
}
