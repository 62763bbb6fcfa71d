package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/vinylogix/api/internal/domain"
	"github.com/vinylogix/api/internal/repositories"
)

const (
	ledgerEventDeducted    = "ledger.stock.deducted"
	ledgerEventRestored    = "ledger.stock.restored"
	ledgerEventAdjusted    = "ledger.stock.adjusted"
	ledgerEventRegistered  = "ledger.item.registered"
	maxLocationTagLength   = 64
	defaultMovementsLimit  = 50
	maxMovementsLimit      = 500
	mutationKindDeduct     = "deduct"
	mutationKindRestore    = "restore"
	mutationKindAdjustment = "adjust"
)

// LedgerMetrics records ledger activity. Implementations must be safe for concurrent use.
type LedgerMetrics interface {
	StockMutated(ctx context.Context, kind string, items int)
	AlertsChanged(ctx context.Context, raised, resolved int)
	NoticeDelivered(ctx context.Context, delivered bool)
}

type noopLedgerMetrics struct{}

func (noopLedgerMetrics) StockMutated(context.Context, string, int) {}
func (noopLedgerMetrics) AlertsChanged(context.Context, int, int)   {}
func (noopLedgerMetrics) NoticeDelivered(context.Context, bool)     {}

// StockLedgerServiceDeps bundles collaborators required to construct the ledger.
type StockLedgerServiceDeps struct {
	Stock   repositories.StockRepository
	Alerts  LowStockDeduplicator
	Metrics LedgerMetrics
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type stockLedgerService struct {
	stock     repositories.StockRepository
	alerts    LowStockDeduplicator
	metrics   LedgerMetrics
	sanitizer *bluemonday.Policy
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

var _ StockLedgerService = (*stockLedgerService)(nil)

// NewStockLedgerService wires dependencies into a StockLedgerService implementation.
func NewStockLedgerService(deps StockLedgerServiceDeps) (StockLedgerService, error) {
	if deps.Stock == nil {
		return nil, errors.New("stock ledger: stock repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopLedgerMetrics{}
	}

	return &stockLedgerService{
		stock:     deps.Stock,
		alerts:    deps.Alerts,
		metrics:   metrics,
		sanitizer: bluemonday.StrictPolicy(),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *stockLedgerService) GetItem(ctx context.Context, tenantID, itemID string) (Item, error) {
	tenantID, itemID = strings.TrimSpace(tenantID), strings.TrimSpace(itemID)
	if tenantID == "" || itemID == "" {
		return Item{}, fmt.Errorf("%w: tenant id and item id are required", ErrLedgerInvalidInput)
	}
	item, err := s.stock.FindItem(ctx, tenantID, itemID)
	if err != nil {
		return Item{}, mapStockError(err)
	}
	return item, nil
}

func (s *stockLedgerService) ListItems(ctx context.Context, tenantID string) ([]Item, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrLedgerInvalidInput)
	}
	items, err := s.stock.ListItems(ctx, tenantID)
	if err != nil {
		return nil, mapStockError(err)
	}
	return items, nil
}

func (s *stockLedgerService) RegisterItem(ctx context.Context, cmd RegisterItemCommand) (Item, error) {
	tenantID, itemID := strings.TrimSpace(cmd.TenantID), strings.TrimSpace(cmd.ItemID)
	if err := repositories.ValidateIdentifier("tenant", tenantID); err != nil {
		return Item{}, mapStockError(err)
	}
	if err := repositories.ValidateIdentifier("item", itemID); err != nil {
		return Item{}, mapStockError(err)
	}
	if cmd.ShelfQuantity < 0 || cmd.StorageQuantity < 0 {
		return Item{}, fmt.Errorf("%w: initial quantities must be >= 0", ErrLedgerInvalidInput)
	}
	if cmd.ShelfQuantity > repositories.MaxStockQuantity || cmd.StorageQuantity > repositories.MaxStockQuantity {
		return Item{}, fmt.Errorf("%w: initial quantities must be <= %d", ErrLedgerInvalidInput, repositories.MaxStockQuantity)
	}

	saved, err := s.stock.SaveItem(ctx, domain.Item{
		ID:               itemID,
		TenantID:         tenantID,
		ShelfQuantity:    cmd.ShelfQuantity,
		StorageQuantity:  cmd.StorageQuantity,
		ShelfLocations:   s.cleanLocations(cmd.ShelfLocations),
		StorageLocations: s.cleanLocations(cmd.StorageLocations),
		IsSellable:       cmd.IsSellable,
		UpdatedAt:        s.clock(),
	})
	if err != nil {
		return Item{}, mapStockError(err)
	}

	s.logger(ctx, ledgerEventRegistered, map[string]any{
		"tenantId": tenantID,
		"itemId":   itemID,
		"total":    saved.Total(),
	})
	s.evaluate(ctx, tenantID, []domain.Item{saved})
	return saved, nil
}

func (s *stockLedgerService) CheckAvailability(ctx context.Context, tenantID string, lines []StockLine) error {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return fmt.Errorf("%w: tenant id is required", ErrLedgerInvalidInput)
	}
	if _, err := s.stock.CheckAvailability(ctx, tenantID, lines); err != nil {
		return mapStockError(err)
	}
	return nil
}

func (s *stockLedgerService) Deduct(ctx context.Context, cmd StockMutationCommand) ([]Item, error) {
	return s.mutate(ctx, cmd, mutationKindDeduct, s.stock.Deduct)
}

func (s *stockLedgerService) Restore(ctx context.Context, cmd StockMutationCommand) ([]Item, error) {
	return s.mutate(ctx, cmd, mutationKindRestore, s.stock.Restore)
}

func (s *stockLedgerService) Adjust(ctx context.Context, cmd StockAdjustCommand) (Item, error) {
	tenantID, itemID := strings.TrimSpace(cmd.TenantID), strings.TrimSpace(cmd.ItemID)
	if tenantID == "" || itemID == "" {
		return Item{}, fmt.Errorf("%w: tenant id and item id are required", ErrLedgerInvalidInput)
	}

	now := s.clock()
	result, err := s.stock.Adjust(ctx, repositories.StockAdjustRequest{
		TenantID:         tenantID,
		ItemID:           itemID,
		ShelfDelta:       cmd.ShelfDelta,
		StorageDelta:     cmd.StorageDelta,
		ShelfLocations:   s.cleanLocations(cmd.ShelfLocations),
		StorageLocations: s.cleanLocations(cmd.StorageLocations),
		Reference:        strings.TrimSpace(cmd.Actor),
		Now:              now,
	})
	if err != nil {
		return Item{}, mapStockError(err)
	}
	if len(result.Items) == 0 {
		return Item{}, fmt.Errorf("stock ledger: adjust returned no item for %s", itemID)
	}

	s.metrics.StockMutated(ctx, mutationKindAdjustment, 1)
	s.logger(ctx, ledgerEventAdjusted, map[string]any{
		"tenantId":     tenantID,
		"itemId":       itemID,
		"shelfDelta":   cmd.ShelfDelta,
		"storageDelta": cmd.StorageDelta,
		"actor":        cmd.Actor,
	})
	s.evaluate(ctx, tenantID, result.Items)
	return result.Items[0], nil
}

func (s *stockLedgerService) ListMovements(ctx context.Context, tenantID, itemID string, limit int) ([]StockMovement, error) {
	tenantID, itemID = strings.TrimSpace(tenantID), strings.TrimSpace(itemID)
	if tenantID == "" || itemID == "" {
		return nil, fmt.Errorf("%w: tenant id and item id are required", ErrLedgerInvalidInput)
	}
	switch {
	case limit <= 0:
		limit = defaultMovementsLimit
	case limit > maxMovementsLimit:
		limit = maxMovementsLimit
	}
	movements, err := s.stock.ListMovements(ctx, tenantID, itemID, limit)
	if err != nil {
		return nil, mapStockError(err)
	}
	return movements, nil
}

type stockMutation func(context.Context, repositories.StockMutationRequest) (repositories.StockMutationResult, error)

func (s *stockLedgerService) mutate(ctx context.Context, cmd StockMutationCommand, kind string, apply stockMutation) ([]Item, error) {
	tenantID := strings.TrimSpace(cmd.TenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrLedgerInvalidInput)
	}

	result, err := apply(ctx, repositories.StockMutationRequest{
		TenantID:  tenantID,
		Lines:     cmd.Lines,
		Reference: strings.TrimSpace(cmd.Reference),
		Now:       s.clock(),
	})
	if err != nil {
		return nil, mapStockError(err)
	}

	event := ledgerEventDeducted
	if kind == mutationKindRestore {
		event = ledgerEventRestored
	}
	s.metrics.StockMutated(ctx, kind, len(result.Items))
	s.logger(ctx, event, map[string]any{
		"tenantId":  tenantID,
		"reference": cmd.Reference,
		"items":     len(result.Items),
	})
	s.evaluate(ctx, tenantID, result.Items)
	return result.Items, nil
}

// evaluate re-checks low-stock alerts for every item touched by a committed mutation.
func (s *stockLedgerService) evaluate(ctx context.Context, tenantID string, items []domain.Item) {
	if s.alerts == nil || len(items) == 0 {
		return
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	s.alerts.EvaluateItems(ctx, tenantID, ids)
}

// cleanLocations strips markup, trims, de-duplicates and sorts location tags.
func (s *stockLedgerService) cleanLocations(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		clean := strings.TrimSpace(s.sanitizer.Sanitize(tag))
		if clean == "" {
			continue
		}
		if runes := []rune(clean); len(runes) > maxLocationTagLength {
			clean = string(runes[:maxLocationTagLength])
		}
		out = append(out, clean)
	}
	slices.Sort(out)
	return slices.Compact(out)
}
