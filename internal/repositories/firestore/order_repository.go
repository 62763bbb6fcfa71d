package firestore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/vinylogix/api/internal/domain"
	pfirestore "github.com/vinylogix/api/internal/platform/firestore"
	"github.com/vinylogix/api/internal/repositories"
)

const (
	ordersCollection     = "orders"
	defaultOrderPageSize = 50
	maxOrderPageSize     = 200
)

// OrderRepository stores orders and applies status transitions together with their stock effect.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
	stock    *StockRepository
}

// NewOrderRepository constructs a Firestore-backed order repository sharing transactions with stock.
func NewOrderRepository(provider *pfirestore.Provider, stock *StockRepository) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	if stock == nil {
		return nil, errors.New("order repository requires stock repository")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection),
		stock:    stock,
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	ref, err := r.orders.Doc(ctx, order.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *OrderRepository) ListByTenant(ctx context.Context, tenantID string, limit int) ([]domain.Order, error) {
	if r == nil || r.orders == nil {
		return nil, errors.New("order repository not initialised")
	}
	if limit <= 0 {
		limit = defaultOrderPageSize
	}
	limit = min(limit, maxOrderPageSize)
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("tenantId", "==", tenantID).OrderBy("createdAt", firestore.Desc).Limit(limit)
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	return orders, nil
}

// Transition reads the order, asks the planner for the next state, applies any stock effect
// and writes the order inside a single transaction.
func (r *OrderRepository) Transition(ctx context.Context, req repositories.OrderTransitionRequest) (repositories.OrderTransitionResult, error) {
	if r == nil || r.provider == nil {
		return repositories.OrderTransitionResult{}, errors.New("order repository not initialised")
	}
	if req.Plan == nil {
		return repositories.OrderTransitionResult{}, errors.New("order transition: plan is required")
	}
	orderID := strings.TrimSpace(req.OrderID)
	now := req.Now.UTC()

	var result repositories.OrderTransitionResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = repositories.OrderTransitionResult{}
		ref, err := r.orders.Doc(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		current := doc.toDomain(orderID)

		plan, err := req.Plan(current)
		if err != nil {
			return err
		}
		result.Previous = current
		if plan.Skip {
			result.Order = current
			return nil
		}

		next := plan.Order
		if next.ID != current.ID || next.TenantID != current.TenantID {
			return errors.New("order transition: plan must not change order identity")
		}

		var stock repositories.StockMutationResult
		if plan.Effect != repositories.StockEffectNone {
			lines, err := repositories.NormalizeStockLines(current.StockLines())
			if err != nil {
				return err
			}
			mutate := repositories.DeductFromItem
			if plan.Effect == repositories.StockEffectRestore {
				mutate = repositories.RestoreToItem
			}
			stock, err = r.stock.mutateInTx(ctx, tx, current.TenantID, lines, current.ID, now, mutate)
			if err != nil {
				return err
			}
		}

		if err := tx.Set(ref, newOrderDocument(next)); err != nil {
			return err
		}
		result.Order = next
		result.Applied = true
		result.Effect = plan.Effect
		result.Stock = stock
		return nil
	})
	if err != nil {
		return repositories.OrderTransitionResult{}, wrapStockError("orders.transition", err)
	}
	return result, nil
}

// Helper structures ---------------------------------------------------------

type orderDocument struct {
	TenantID      string              `firestore:"tenantId"`
	OrderNumber   string              `firestore:"orderNumber"`
	Lines         []orderLineDocument `firestore:"lines"`
	Status        string              `firestore:"status"`
	Customer      map[string]any      `firestore:"customer,omitempty"`
	StockDeducted bool                `firestore:"stockDeducted"`
	CreatedAt     time.Time           `firestore:"createdAt"`
	UpdatedAt     time.Time           `firestore:"updatedAt"`
	ShippedAt     *time.Time          `firestore:"shippedAt,omitempty"`
}

type orderLineDocument struct {
	ItemID    string `firestore:"itemId"`
	Quantity  int    `firestore:"qty"`
	UnitPrice int64  `firestore:"unitPrice"`
}

func newOrderDocument(order domain.Order) orderDocument {
	lines := make([]orderLineDocument, len(order.Lines))
	for i, line := range order.Lines {
		lines[i] = orderLineDocument{
			ItemID:    strings.TrimSpace(line.ItemID),
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		}
	}
	var shipped *time.Time
	if order.ShippedAt != nil {
		ts := order.ShippedAt.UTC()
		shipped = &ts
	}
	return orderDocument{
		TenantID:      strings.TrimSpace(order.TenantID),
		OrderNumber:   strings.TrimSpace(order.OrderNumber),
		Lines:         lines,
		Status:        string(order.Status),
		Customer:      maps.Clone(order.Customer),
		StockDeducted: order.StockDeducted,
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
		ShippedAt:     shipped,
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	lines := make([]domain.OrderLine, len(d.Lines))
	for i, line := range d.Lines {
		lines[i] = domain.OrderLine{
			ItemID:    line.ItemID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		}
	}
	return domain.Order{
		ID:            id,
		TenantID:      d.TenantID,
		OrderNumber:   d.OrderNumber,
		Lines:         lines,
		Status:        domain.OrderStatus(d.Status),
		Customer:      maps.Clone(d.Customer),
		StockDeducted: d.StockDeducted,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		ShippedAt:     d.ShippedAt,
	}
}
