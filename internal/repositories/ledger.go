package repositories

import (
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/vinylogix/api/internal/domain"
)

// MaxStockQuantity bounds every pool, line and delta the ledger accepts. Two bounded values
// always sum without overflowing int.
const MaxStockQuantity = 1_000_000_000

// ValidateIdentifier rejects blank tenant or item identifiers and ones containing ':' or '/',
// which are reserved for document paths and routes.
func ValidateIdentifier(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return NewStockError(StockErrorInvalidInput, id, kind+" id is required", nil)
	}
	if strings.ContainsAny(id, ":/") {
		return NewStockError(StockErrorInvalidInput, id, fmt.Sprintf("%s id %q must not contain ':' or '/'", kind, id), nil)
	}
	return nil
}

// NormalizeStockLines trims identifiers, rejects non-positive quantities and sums lines
// that reference the same item. The result is sorted by item ID so transactions touch
// documents in a stable order.
func NormalizeStockLines(lines []domain.StockLine) ([]domain.StockLine, error) {
	if len(lines) == 0 {
		return nil, NewStockError(StockErrorInvalidInput, "", "at least one line is required", nil)
	}
	totals := make(map[string]int, len(lines))
	for _, line := range lines {
		itemID := strings.TrimSpace(line.ItemID)
		if itemID == "" {
			return nil, NewStockError(StockErrorInvalidInput, "", "item id is required", nil)
		}
		if line.Quantity <= 0 {
			return nil, NewStockError(StockErrorInvalidInput, itemID, fmt.Sprintf("quantity for %s must be > 0", itemID), nil)
		}
		if line.Quantity > MaxStockQuantity || totals[itemID] > MaxStockQuantity-line.Quantity {
			return nil, NewStockError(StockErrorInvalidInput, itemID,
				fmt.Sprintf("quantity for %s exceeds %d", itemID, MaxStockQuantity), nil)
		}
		totals[itemID] += line.Quantity
	}
	result := make([]domain.StockLine, 0, len(totals))
	for itemID, qty := range totals {
		result = append(result, domain.StockLine{ItemID: itemID, Quantity: qty})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ItemID < result[j].ItemID })
	return result, nil
}

// CheckOwnedItem reports ItemNotFound when the item belongs to a different tenant.
func CheckOwnedItem(item domain.Item, tenantID string) error {
	if item.TenantID != tenantID {
		return NewStockError(StockErrorItemNotFound, item.ID, fmt.Sprintf("item %s not found", item.ID), nil)
	}
	return nil
}

// CheckLineAvailable fails when shelf plus storage cannot cover the quantity.
func CheckLineAvailable(item domain.Item, quantity int) error {
	if available := item.Total(); available < quantity {
		return NewInsufficientStockError(item.ID, available, quantity)
	}
	return nil
}

// DeductFromItem consumes shelf stock first and takes the remainder from storage.
func DeductFromItem(item *domain.Item, quantity int) (domain.StockMovement, error) {
	if err := checkLineQuantity(item.ID, quantity); err != nil {
		return domain.StockMovement{}, err
	}
	if err := CheckLineAvailable(*item, quantity); err != nil {
		return domain.StockMovement{}, err
	}
	fromShelf := min(max(item.ShelfQuantity, 0), quantity)
	fromStorage := quantity - fromShelf
	next := *item
	next.ShelfQuantity -= fromShelf
	next.StorageQuantity -= fromStorage
	if err := checkNonNegative(next); err != nil {
		return domain.StockMovement{}, err
	}
	item.ShelfQuantity, item.StorageQuantity = next.ShelfQuantity, next.StorageQuantity
	return domain.StockMovement{
		ItemID:       item.ID,
		Reason:       domain.StockMovementDeduct,
		ShelfDelta:   -fromShelf,
		StorageDelta: -fromStorage,
	}, nil
}

// RestoreToItem credits the full quantity to storage. The item is left untouched when the
// credit would push storage past MaxStockQuantity.
func RestoreToItem(item *domain.Item, quantity int) (domain.StockMovement, error) {
	if err := checkLineQuantity(item.ID, quantity); err != nil {
		return domain.StockMovement{}, err
	}
	storage, err := boundedSum(item.ID, "storage", item.StorageQuantity, quantity)
	if err != nil {
		return domain.StockMovement{}, err
	}
	next := *item
	next.StorageQuantity = storage
	if err := checkNonNegative(next); err != nil {
		return domain.StockMovement{}, err
	}
	item.StorageQuantity = storage
	return domain.StockMovement{
		ItemID:       item.ID,
		Reason:       domain.StockMovementRestore,
		StorageDelta: quantity,
	}, nil
}

// AdjustItem applies signed deltas and replaces both location sets. The item is left
// untouched when either pool would go negative.
func AdjustItem(item *domain.Item, req StockAdjustRequest) (domain.StockMovement, error) {
	shelf, err := boundedSum(item.ID, "shelf", item.ShelfQuantity, req.ShelfDelta)
	if err != nil {
		return domain.StockMovement{}, err
	}
	storage, err := boundedSum(item.ID, "storage", item.StorageQuantity, req.StorageDelta)
	if err != nil {
		return domain.StockMovement{}, err
	}
	if shelf < 0 || storage < 0 {
		err := NewStockError(StockErrorNegativeAdjustment, item.ID,
			fmt.Sprintf("adjustment for %s would leave shelf=%d storage=%d", item.ID, shelf, storage), nil)
		return domain.StockMovement{}, err
	}
	item.ShelfQuantity = shelf
	item.StorageQuantity = storage
	item.ShelfLocations = append([]string(nil), req.ShelfLocations...)
	item.StorageLocations = append([]string(nil), req.StorageLocations...)
	return domain.StockMovement{
		ItemID:       item.ID,
		Reason:       domain.StockMovementAdjust,
		ShelfDelta:   req.ShelfDelta,
		StorageDelta: req.StorageDelta,
	}, nil
}

func checkLineQuantity(itemID string, quantity int) error {
	if quantity <= 0 || quantity > MaxStockQuantity {
		return NewStockError(StockErrorInvalidInput, itemID,
			fmt.Sprintf("quantity for %s must be between 1 and %d", itemID, MaxStockQuantity), nil)
	}
	return nil
}

// boundedSum adds delta to a pool. Both operands and the result stay within
// [-MaxStockQuantity, MaxStockQuantity] so the addition cannot wrap.
func boundedSum(itemID, pool string, current, delta int) (int, error) {
	if current < -MaxStockQuantity || current > MaxStockQuantity || delta < -MaxStockQuantity || delta > MaxStockQuantity {
		return 0, NewStockError(StockErrorInvalidInput, itemID,
			fmt.Sprintf("%s change for %s is out of range", pool, itemID), nil)
	}
	sum := current + delta
	if sum > MaxStockQuantity {
		return 0, NewStockError(StockErrorInvalidInput, itemID,
			fmt.Sprintf("%s for %s would exceed %d", pool, itemID, MaxStockQuantity), nil)
	}
	return sum, nil
}

func checkNonNegative(item domain.Item) error {
	if item.ShelfQuantity < 0 || item.StorageQuantity < 0 {
		return NewStockError(StockErrorUnknown, item.ID,
			fmt.Sprintf("item %s would hold shelf=%d storage=%d", item.ID, item.ShelfQuantity, item.StorageQuantity), nil)
	}
	return nil
}

// StampMovement fills the identity fields shared by every movement of one mutation.
func StampMovement(movement domain.StockMovement, id, tenantID, reference string, now time.Time) domain.StockMovement {
	movement.ID = id
	movement.TenantID = tenantID
	movement.Reference = strings.TrimSpace(reference)
	movement.CreatedAt = now
	return movement
}

// LowStockDecision is the outcome of comparing an item total with the tenant threshold.
type LowStockDecision int

const (
	// LowStockKeep leaves alerts as they are.
	LowStockKeep LowStockDecision = iota
	// LowStockRaise asks for an unresolved alert to exist.
	LowStockRaise
	// LowStockResolve asks for every unresolved alert to be resolved.
	LowStockResolve
)

// DecideLowStock applies the level-triggered rule. Disabled tenants never raise but still resolve.
func DecideLowStock(total, threshold int, enabled bool) LowStockDecision {
	if total > threshold {
		return LowStockResolve
	}
	if enabled {
		return LowStockRaise
	}
	return LowStockKeep
}

// EffectiveSettings resolves the threshold and enabled flag, falling back to defaults
// when the tenant has no settings document.
func EffectiveSettings(settings *domain.TenantSettings, defaultThreshold int) (int, bool) {
	if settings == nil {
		return defaultThreshold, true
	}
	return settings.LowStockThreshold, settings.LowStockAlertsEnabled
}
