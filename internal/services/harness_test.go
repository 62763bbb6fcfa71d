package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vinylogix/api/internal/repositories/memory"
)

var testNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

type eventRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *eventRecorder) log(_ context.Context, event string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []ShipmentNotice
	err     error
}

func (n *recordingNotifier) Enqueue(_ context.Context, notice ShipmentNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.notices = append(n.notices, notice)
	return nil
}

func (n *recordingNotifier) received() []ShipmentNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]ShipmentNotice(nil), n.notices...)
}

type ledgerHarness struct {
	reg       *memory.Registry
	ledger    StockLedgerService
	alerts    LowStockDeduplicator
	tenants   TenantService
	allocator OrderNumberAllocator
	orders    OrderService
	notifier  *recordingNotifier
	events    *eventRecorder
}

func newLedgerHarness(t *testing.T, opts ...memory.Option) *ledgerHarness {
	t.Helper()

	reg := memory.NewRegistry(opts...)
	events := &eventRecorder{}
	clock := func() time.Time { return testNow }
	var seq atomic.Int64
	nextID := func() string { return fmt.Sprintf("%06d", seq.Add(1)) }

	alerts, err := NewLowStockDeduplicator(LowStockDeduplicatorDeps{
		Alerts:           reg.LowStockAlerts(),
		Stock:            reg.Stock(),
		Tenants:          reg.Tenants(),
		DefaultThreshold: 5,
		SweepConcurrency: 4,
		Clock:            clock,
		IDGenerator:      nextID,
		Logger:           events.log,
	})
	if err != nil {
		t.Fatalf("NewLowStockDeduplicator: %v", err)
	}
	ledger, err := NewStockLedgerService(StockLedgerServiceDeps{
		Stock:  reg.Stock(),
		Alerts: alerts,
		Clock:  clock,
		Logger: events.log,
	})
	if err != nil {
		t.Fatalf("NewStockLedgerService: %v", err)
	}
	tenants, err := NewTenantService(TenantServiceDeps{
		Counters:         reg.Counters(),
		Tenants:          reg.Tenants(),
		Alerts:           alerts,
		Stock:            reg.Stock(),
		DefaultThreshold: 5,
		Padding:          6,
		Clock:            clock,
		Logger:           events.log,
	})
	if err != nil {
		t.Fatalf("NewTenantService: %v", err)
	}
	allocator, err := NewOrderNumberAllocator(OrderNumberAllocatorDeps{
		Counters: reg.Counters(),
		Sleep:    func(context.Context, time.Duration) error { return nil },
		Logger:   events.log,
	})
	if err != nil {
		t.Fatalf("NewOrderNumberAllocator: %v", err)
	}
	notifier := &recordingNotifier{}
	orders, err := NewOrderService(OrderServiceDeps{
		Orders:      reg.Orders(),
		Ledger:      ledger,
		Allocator:   allocator,
		Alerts:      alerts,
		Notifier:    notifier,
		Clock:       clock,
		IDGenerator: nextID,
		Logger:      events.log,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	return &ledgerHarness{
		reg:       reg,
		ledger:    ledger,
		alerts:    alerts,
		tenants:   tenants,
		allocator: allocator,
		orders:    orders,
		notifier:  notifier,
		events:    events,
	}
}

func (h *ledgerHarness) setupTenant(t *testing.T, tenantID, prefix string) {
	t.Helper()
	if _, err := h.tenants.SetupTenant(context.Background(), SetupTenantCommand{
		TenantID:    tenantID,
		DisplayName: "Tenant " + tenantID,
		Prefix:      prefix,
	}); err != nil {
		t.Fatalf("SetupTenant(%s): %v", tenantID, err)
	}
}

func (h *ledgerHarness) registerItem(t *testing.T, tenantID, itemID string, shelf, storage int) {
	t.Helper()
	if _, err := h.ledger.RegisterItem(context.Background(), RegisterItemCommand{
		TenantID:        tenantID,
		ItemID:          itemID,
		IsSellable:      true,
		ShelfQuantity:   shelf,
		StorageQuantity: storage,
	}); err != nil {
		t.Fatalf("RegisterItem(%s/%s): %v", tenantID, itemID, err)
	}
}

func (h *ledgerHarness) item(t *testing.T, tenantID, itemID string) Item {
	t.Helper()
	item, err := h.ledger.GetItem(context.Background(), tenantID, itemID)
	if err != nil {
		t.Fatalf("GetItem(%s/%s): %v", tenantID, itemID, err)
	}
	return item
}

func (h *ledgerHarness) openAlerts(t *testing.T, tenantID string) []LowStockAlert {
	t.Helper()
	alerts, err := h.alerts.ListOpen(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("ListOpen(%s): %v", tenantID, err)
	}
	return alerts
}
