package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	domain "github.com/vinylogix/api/internal/domain"
	"github.com/vinylogix/api/internal/repositories"
)

// StockRepository implements repositories.StockRepository.
type StockRepository struct {
	s *store
}

func (r *StockRepository) FindItem(_ context.Context, tenantID, itemID string) (domain.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	item, err := r.s.lookupItem(tenantID, strings.TrimSpace(itemID))
	if err != nil {
		return domain.Item{}, err
	}
	return cloneItem(item), nil
}

func (r *StockRepository) ListItems(_ context.Context, tenantID string) ([]domain.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var items []domain.Item
	for _, item := range r.s.items {
		if item.TenantID == tenantID {
			items = append(items, cloneItem(item))
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (r *StockRepository) SaveItem(_ context.Context, item domain.Item) (domain.Item, error) {
	tenantID := strings.TrimSpace(item.TenantID)
	itemID := strings.TrimSpace(item.ID)
	if err := repositories.ValidateIdentifier("tenant", tenantID); err != nil {
		return domain.Item{}, err
	}
	if err := repositories.ValidateIdentifier("item", itemID); err != nil {
		return domain.Item{}, err
	}
	if item.ShelfQuantity < 0 || item.StorageQuantity < 0 {
		return domain.Item{}, repositories.NewStockError(repositories.StockErrorNegativeAdjustment, itemID, "initial quantities must be >= 0", nil)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	next := cloneItem(item)
	next.TenantID = tenantID
	next.ID = itemID
	next.UpdatedAt = utc(item.UpdatedAt)
	if existing, ok := r.s.items[itemKey(tenantID, itemID)]; ok {
		next.ShelfQuantity = existing.ShelfQuantity
		next.StorageQuantity = existing.StorageQuantity
	}
	r.s.items[itemKey(tenantID, itemID)] = next
	return cloneItem(next), nil
}

func (r *StockRepository) CheckAvailability(_ context.Context, tenantID string, lines []domain.StockLine) ([]domain.Item, error) {
	normalized, err := repositories.NormalizeStockLines(lines)
	if err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	items := make([]domain.Item, 0, len(normalized))
	for _, line := range normalized {
		item, err := r.s.lookupItem(tenantID, line.ItemID)
		if err != nil {
			return nil, err
		}
		if err := repositories.CheckLineAvailable(item, line.Quantity); err != nil {
			return nil, err
		}
		items = append(items, cloneItem(item))
	}
	return items, nil
}

func (r *StockRepository) Deduct(_ context.Context, req repositories.StockMutationRequest) (repositories.StockMutationResult, error) {
	lines, err := repositories.NormalizeStockLines(req.Lines)
	if err != nil {
		return repositories.StockMutationResult{}, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.mutateLocked(req.TenantID, lines, req.Reference, utc(req.Now), deductLine)
}

func (r *StockRepository) Restore(_ context.Context, req repositories.StockMutationRequest) (repositories.StockMutationResult, error) {
	lines, err := repositories.NormalizeStockLines(req.Lines)
	if err != nil {
		return repositories.StockMutationResult{}, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.mutateLocked(req.TenantID, lines, req.Reference, utc(req.Now), restoreLine)
}

func (r *StockRepository) Adjust(_ context.Context, req repositories.StockAdjustRequest) (repositories.StockMutationResult, error) {
	itemID := strings.TrimSpace(req.ItemID)
	if itemID == "" {
		return repositories.StockMutationResult{}, repositories.NewStockError(repositories.StockErrorInvalidInput, "", "item id is required", nil)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	item, err := r.s.lookupItem(req.TenantID, itemID)
	if err != nil {
		return repositories.StockMutationResult{}, err
	}
	movement, err := repositories.AdjustItem(&item, req)
	if err != nil {
		return repositories.StockMutationResult{}, err
	}
	now := utc(req.Now)
	item.UpdatedAt = now
	movement = repositories.StampMovement(movement, r.s.newID(), req.TenantID, req.Reference, now)
	r.s.items[itemKey(req.TenantID, itemID)] = item
	r.s.movements = append(r.s.movements, movement)
	return repositories.StockMutationResult{
		Items:     []domain.Item{cloneItem(item)},
		Movements: []domain.StockMovement{movement},
	}, nil
}

func (r *StockRepository) ListMovements(_ context.Context, tenantID, itemID string, limit int) ([]domain.StockMovement, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.StockMovement
	for i := len(r.s.movements) - 1; i >= 0; i-- {
		m := r.s.movements[i]
		if m.TenantID != tenantID || m.ItemID != itemID {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type lineMutator func(item *domain.Item, quantity int) (domain.StockMovement, error)

func deductLine(item *domain.Item, qty int) (domain.StockMovement, error) {
	return repositories.DeductFromItem(item, qty)
}

func restoreLine(item *domain.Item, qty int) (domain.StockMovement, error) {
	return repositories.RestoreToItem(item, qty)
}

// mutateLocked applies every line to copies and commits only when all lines succeed.
func (s *store) mutateLocked(tenantID string, lines []domain.StockLine, reference string, now time.Time, mutate lineMutator) (repositories.StockMutationResult, error) {
	items := make([]domain.Item, 0, len(lines))
	for _, line := range lines {
		item, err := s.lookupItem(tenantID, line.ItemID)
		if err != nil {
			return repositories.StockMutationResult{}, err
		}
		items = append(items, item)
	}
	movements := make([]domain.StockMovement, 0, len(lines))
	for i, line := range lines {
		movement, err := mutate(&items[i], line.Quantity)
		if err != nil {
			return repositories.StockMutationResult{}, err
		}
		items[i].UpdatedAt = now
		movements = append(movements, repositories.StampMovement(movement, s.newID(), tenantID, reference, now))
	}
	result := repositories.StockMutationResult{Movements: movements}
	for _, item := range items {
		s.items[itemKey(tenantID, item.ID)] = item
		result.Items = append(result.Items, cloneItem(item))
	}
	s.movements = append(s.movements, movements...)
	return result, nil
}

func (s *store) lookupItem(tenantID, itemID string) (domain.Item, error) {
	item, ok := s.items[itemKey(tenantID, itemID)]
	if !ok {
		return domain.Item{}, repositories.NewStockError(repositories.StockErrorItemNotFound, itemID, "item "+itemID+" not found", nil)
	}
	if err := repositories.CheckOwnedItem(item, tenantID); err != nil {
		return domain.Item{}, err
	}
	return cloneItem(item), nil
}
