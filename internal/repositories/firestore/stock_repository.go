package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/oklog/ulid/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/vinylogix/api/internal/domain"
	pfirestore "github.com/vinylogix/api/internal/platform/firestore"
	"github.com/vinylogix/api/internal/repositories"
)

const (
	itemsCollection          = "items"
	stockMovementsCollection = "stockMovements"
	defaultMovementPageSize  = 50
	maxMovementPageSize      = 500
)

// StockRepository keeps item quantities in Firestore. Each mutation is one transaction.
type StockRepository struct {
	provider  *pfirestore.Provider
	items     *pfirestore.Collection[itemDocument]
	movements *pfirestore.Collection[movementDocument]
	newID     func() string
}

// NewStockRepository constructs a Firestore-backed stock repository.
func NewStockRepository(provider *pfirestore.Provider) (*StockRepository, error) {
	if provider == nil {
		return nil, errors.New("stock repository requires firestore provider")
	}
	return &StockRepository{
		provider:  provider,
		items:     pfirestore.NewCollection[itemDocument](provider, itemsCollection),
		movements: pfirestore.NewCollection[movementDocument](provider, stockMovementsCollection),
		newID:     func() string { return ulid.Make().String() },
	}, nil
}

func (r *StockRepository) FindItem(ctx context.Context, tenantID, itemID string) (domain.Item, error) {
	if r == nil || r.items == nil {
		return domain.Item{}, errors.New("stock repository not initialised")
	}
	doc, err := r.items.Get(ctx, itemDocumentID(tenantID, itemID))
	if err != nil {
		if pfirestore.IsNotFound(err) {
			return domain.Item{}, itemNotFound("stock.findItem", itemID, err)
		}
		return domain.Item{}, err
	}
	item := doc.Data.toDomain()
	if err := repositories.CheckOwnedItem(item, tenantID); err != nil {
		return domain.Item{}, err
	}
	return item, nil
}

func (r *StockRepository) ListItems(ctx context.Context, tenantID string) ([]domain.Item, error) {
	if r == nil || r.items == nil {
		return nil, errors.New("stock repository not initialised")
	}
	docs, err := r.items.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("tenantId", "==", strings.TrimSpace(tenantID)).OrderBy("itemId", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	items := make([]domain.Item, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.Data.toDomain())
	}
	return items, nil
}

func (r *StockRepository) SaveItem(ctx context.Context, item domain.Item) (domain.Item, error) {
	if r == nil || r.provider == nil {
		return domain.Item{}, errors.New("stock repository not initialised")
	}
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

	var saved domain.Item
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.items.Doc(ctx, itemDocumentID(tenantID, itemID))
		if err != nil {
			return err
		}
		doc := newItemDocument(item)
		snap, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.OK:
			var existing itemDocument
			if err := snap.DataTo(&existing); err != nil {
				return fmt.Errorf("decode item %s: %w", itemID, err)
			}
			// Quantities only move through ledger operations once the item exists.
			doc.ShelfQuantity = existing.ShelfQuantity
			doc.StorageQuantity = existing.StorageQuantity
		case codes.NotFound:
		default:
			return err
		}
		doc.TenantID = tenantID
		doc.ItemID = itemID
		doc.UpdatedAt = item.UpdatedAt.UTC()
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		saved = doc.toDomain()
		return nil
	}, pfirestore.WithTxOp("stock.saveItem"))
	if err != nil {
		return domain.Item{}, wrapStockError("stock.saveItem", err)
	}
	return saved, nil
}

func (r *StockRepository) CheckAvailability(ctx context.Context, tenantID string, lines []domain.StockLine) ([]domain.Item, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("stock repository not initialised")
	}
	normalized, err := repositories.NormalizeStockLines(lines)
	if err != nil {
		return nil, err
	}
	var items []domain.Item
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		read, err := r.readItemsInTx(ctx, tx, tenantID, normalized)
		if err != nil {
			return err
		}
		for i, line := range normalized {
			if err := repositories.CheckLineAvailable(read[i], line.Quantity); err != nil {
				return err
			}
		}
		items = read
		return nil
	}, pfirestore.WithTxOp("stock.checkAvailability"), pfirestore.WithTxReadOnly())
	if err != nil {
		return nil, wrapStockError("stock.checkAvailability", err)
	}
	return items, nil
}

func (r *StockRepository) Deduct(ctx context.Context, req repositories.StockMutationRequest) (repositories.StockMutationResult, error) {
	return r.mutateLines(ctx, "stock.deduct", req, repositories.DeductFromItem)
}

func (r *StockRepository) Restore(ctx context.Context, req repositories.StockMutationRequest) (repositories.StockMutationResult, error) {
	return r.mutateLines(ctx, "stock.restore", req, repositories.RestoreToItem)
}

func (r *StockRepository) Adjust(ctx context.Context, req repositories.StockAdjustRequest) (repositories.StockMutationResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockMutationResult{}, errors.New("stock repository not initialised")
	}
	itemID := strings.TrimSpace(req.ItemID)
	if itemID == "" {
		return repositories.StockMutationResult{}, repositories.NewStockError(repositories.StockErrorInvalidInput, "", "item id is required", nil)
	}
	now := req.Now.UTC()

	var result repositories.StockMutationResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = repositories.StockMutationResult{}
		ref, err := r.items.Doc(ctx, itemDocumentID(req.TenantID, itemID))
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return itemNotFound("", itemID, err)
			}
			return err
		}
		items, err := decodeItems(req.TenantID, []domain.StockLine{{ItemID: itemID}}, []*firestore.DocumentSnapshot{snap})
		if err != nil {
			return err
		}
		item := items[0]
		movement, err := repositories.AdjustItem(&item, req)
		if err != nil {
			return err
		}
		item.UpdatedAt = now
		movement = repositories.StampMovement(movement, r.newID(), req.TenantID, req.Reference, now)
		if err := r.writeMutation(ctx, tx, []domain.Item{item}, []domain.StockMovement{movement}); err != nil {
			return err
		}
		result.Items = []domain.Item{item}
		result.Movements = []domain.StockMovement{movement}
		return nil
	}, pfirestore.WithTxOp("stock.adjust"))
	if err != nil {
		return repositories.StockMutationResult{}, wrapStockError("stock.adjust", err)
	}
	return result, nil
}

func (r *StockRepository) ListMovements(ctx context.Context, tenantID, itemID string, limit int) ([]domain.StockMovement, error) {
	if r == nil || r.movements == nil {
		return nil, errors.New("stock repository not initialised")
	}
	if limit <= 0 {
		limit = defaultMovementPageSize
	}
	limit = min(limit, maxMovementPageSize)
	docs, err := r.movements.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("tenantId", "==", tenantID).
			Where("itemId", "==", itemID).
			OrderBy("createdAt", firestore.Desc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}
	movements := make([]domain.StockMovement, 0, len(docs))
	for _, doc := range docs {
		movements = append(movements, doc.Data.toDomain(doc.ID))
	}
	return movements, nil
}

type lineMutator func(item *domain.Item, quantity int) (domain.StockMovement, error)

func (r *StockRepository) mutateLines(ctx context.Context, op string, req repositories.StockMutationRequest, mutate lineMutator) (repositories.StockMutationResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockMutationResult{}, errors.New("stock repository not initialised")
	}
	lines, err := repositories.NormalizeStockLines(req.Lines)
	if err != nil {
		return repositories.StockMutationResult{}, err
	}
	now := req.Now.UTC()

	var result repositories.StockMutationResult
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		res, err := r.mutateInTx(ctx, tx, req.TenantID, lines, req.Reference, now, mutate)
		if err != nil {
			return err
		}
		result = res
		return nil
	}, pfirestore.WithTxOp(op))
	if err != nil {
		return repositories.StockMutationResult{}, wrapStockError(op, err)
	}
	return result, nil
}

// mutateInTx reads every item before writing so it can share a transaction with other reads.
func (r *StockRepository) mutateInTx(ctx context.Context, tx *firestore.Transaction, tenantID string, lines []domain.StockLine, reference string, now time.Time, mutate lineMutator) (repositories.StockMutationResult, error) {
	items, err := r.readItemsInTx(ctx, tx, tenantID, lines)
	if err != nil {
		return repositories.StockMutationResult{}, err
	}
	return r.applyInTx(ctx, tx, tenantID, lines, items, reference, now, mutate)
}

func (r *StockRepository) readItemsInTx(ctx context.Context, tx *firestore.Transaction, tenantID string, lines []domain.StockLine) ([]domain.Item, error) {
	refs, err := r.itemRefs(ctx, tenantID, lines)
	if err != nil {
		return nil, err
	}
	snaps, err := tx.GetAll(refs)
	if err != nil {
		return nil, err
	}
	return decodeItems(tenantID, lines, snaps)
}

func (r *StockRepository) applyInTx(ctx context.Context, tx *firestore.Transaction, tenantID string, lines []domain.StockLine, items []domain.Item, reference string, now time.Time, mutate lineMutator) (repositories.StockMutationResult, error) {
	movements := make([]domain.StockMovement, 0, len(lines))
	for i, line := range lines {
		movement, err := mutate(&items[i], line.Quantity)
		if err != nil {
			return repositories.StockMutationResult{}, err
		}
		items[i].UpdatedAt = now
		movements = append(movements, repositories.StampMovement(movement, r.newID(), tenantID, reference, now))
	}
	if err := r.writeMutation(ctx, tx, items, movements); err != nil {
		return repositories.StockMutationResult{}, err
	}
	return repositories.StockMutationResult{Items: items, Movements: movements}, nil
}

func (r *StockRepository) writeMutation(ctx context.Context, tx *firestore.Transaction, items []domain.Item, movements []domain.StockMovement) error {
	for _, item := range items {
		ref, err := r.items.Doc(ctx, itemDocumentID(item.TenantID, item.ID))
		if err != nil {
			return err
		}
		if err := tx.Update(ref, []firestore.Update{
			{Path: "shelfQuantity", Value: item.ShelfQuantity},
			{Path: "storageQuantity", Value: item.StorageQuantity},
			{Path: "shelfLocations", Value: item.ShelfLocations},
			{Path: "storageLocations", Value: item.StorageLocations},
			{Path: "updatedAt", Value: item.UpdatedAt},
		}); err != nil {
			return err
		}
	}
	for _, movement := range movements {
		ref, err := r.movements.Doc(ctx, movement.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(ref, newMovementDocument(movement)); err != nil {
			return err
		}
	}
	return nil
}

func (r *StockRepository) itemRefs(ctx context.Context, tenantID string, lines []domain.StockLine) ([]*firestore.DocumentRef, error) {
	refs := make([]*firestore.DocumentRef, 0, len(lines))
	for _, line := range lines {
		ref, err := r.items.Doc(ctx, itemDocumentID(tenantID, line.ItemID))
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func decodeItems(tenantID string, lines []domain.StockLine, snaps []*firestore.DocumentSnapshot) ([]domain.Item, error) {
	items := make([]domain.Item, 0, len(snaps))
	for i, snap := range snaps {
		itemID := lines[i].ItemID
		if snap == nil || !snap.Exists() {
			return nil, itemNotFound("", itemID, nil)
		}
		var doc itemDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode item %s: %w", itemID, err)
		}
		item := doc.toDomain()
		if err := repositories.CheckOwnedItem(item, tenantID); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Helper structures ---------------------------------------------------------

type itemDocument struct {
	TenantID         string    `firestore:"tenantId"`
	ItemID           string    `firestore:"itemId"`
	ShelfQuantity    int       `firestore:"shelfQuantity"`
	StorageQuantity  int       `firestore:"storageQuantity"`
	ShelfLocations   []string  `firestore:"shelfLocations"`
	StorageLocations []string  `firestore:"storageLocations"`
	IsSellable       bool      `firestore:"isSellable"`
	UpdatedAt        time.Time `firestore:"updatedAt"`
}

func newItemDocument(item domain.Item) itemDocument {
	return itemDocument{
		TenantID:         strings.TrimSpace(item.TenantID),
		ItemID:           strings.TrimSpace(item.ID),
		ShelfQuantity:    item.ShelfQuantity,
		StorageQuantity:  item.StorageQuantity,
		ShelfLocations:   nonNilStrings(item.ShelfLocations),
		StorageLocations: nonNilStrings(item.StorageLocations),
		IsSellable:       item.IsSellable,
		UpdatedAt:        item.UpdatedAt.UTC(),
	}
}

func (d itemDocument) toDomain() domain.Item {
	return domain.Item{
		ID:               d.ItemID,
		TenantID:         d.TenantID,
		ShelfQuantity:    d.ShelfQuantity,
		StorageQuantity:  d.StorageQuantity,
		ShelfLocations:   append([]string(nil), d.ShelfLocations...),
		StorageLocations: append([]string(nil), d.StorageLocations...),
		IsSellable:       d.IsSellable,
		UpdatedAt:        d.UpdatedAt,
	}
}

type movementDocument struct {
	TenantID     string    `firestore:"tenantId"`
	ItemID       string    `firestore:"itemId"`
	Reason       string    `firestore:"reason"`
	ShelfDelta   int       `firestore:"shelfDelta"`
	StorageDelta int       `firestore:"storageDelta"`
	Reference    string    `firestore:"reference,omitempty"`
	CreatedAt    time.Time `firestore:"createdAt"`
}

func newMovementDocument(m domain.StockMovement) movementDocument {
	return movementDocument{
		TenantID:     m.TenantID,
		ItemID:       m.ItemID,
		Reason:       string(m.Reason),
		ShelfDelta:   m.ShelfDelta,
		StorageDelta: m.StorageDelta,
		Reference:    m.Reference,
		CreatedAt:    m.CreatedAt.UTC(),
	}
}

func (d movementDocument) toDomain(id string) domain.StockMovement {
	return domain.StockMovement{
		ID:           id,
		TenantID:     d.TenantID,
		ItemID:       d.ItemID,
		Reason:       domain.StockMovementReason(d.Reason),
		ShelfDelta:   d.ShelfDelta,
		StorageDelta: d.StorageDelta,
		Reference:    d.Reference,
		CreatedAt:    d.CreatedAt,
	}
}

var docIDEscaper = strings.NewReplacer("%", "%25", ":", "%3A", "/", "%2F")

// itemDocumentID joins the escaped tenant and item ids with ':', so distinct pairs never share
// a document.
func itemDocumentID(tenantID, itemID string) string {
	return docIDEscaper.Replace(strings.TrimSpace(tenantID)) + ":" + docIDEscaper.Replace(strings.TrimSpace(itemID))
}

func itemNotFound(op, itemID string, cause error) *repositories.StockError {
	err := repositories.NewStockError(repositories.StockErrorItemNotFound, itemID, fmt.Sprintf("item %s not found", itemID), cause)
	err.Op = op
	return err
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return append([]string(nil), values...)
}
