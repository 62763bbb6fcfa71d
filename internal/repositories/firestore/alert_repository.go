package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/vinylogix/api/internal/domain"
	pfirestore "github.com/vinylogix/api/internal/platform/firestore"
	"github.com/vinylogix/api/internal/repositories"
)

const (
	lowStockAlertsCollection      = "lowStockAlerts"
	lowStockAlertGuardsCollection = "lowStockAlertGuards"
)

// LowStockAlertRepository evaluates alerts per (tenant, item) inside a transaction that also reads
// the guard document, so concurrent evaluations of the same item serialise on it.
type LowStockAlertRepository struct {
	provider *pfirestore.Provider
	alerts   *pfirestore.Collection[alertDocument]
	guards   *pfirestore.Collection[alertGuardDocument]
	items    *pfirestore.Collection[itemDocument]
	tenants  *pfirestore.Collection[tenantDocument]
}

// NewLowStockAlertRepository constructs a Firestore-backed alert repository.
func NewLowStockAlertRepository(provider *pfirestore.Provider) (*LowStockAlertRepository, error) {
	if provider == nil {
		return nil, errors.New("low stock alert repository requires firestore provider")
	}
	return &LowStockAlertRepository{
		provider: provider,
		alerts:   pfirestore.NewCollection[alertDocument](provider, lowStockAlertsCollection),
		guards:   pfirestore.NewCollection[alertGuardDocument](provider, lowStockAlertGuardsCollection),
		items:    pfirestore.NewCollection[itemDocument](provider, itemsCollection),
		tenants:  pfirestore.NewCollection[tenantDocument](provider, tenantsCollection),
	}, nil
}

func (r *LowStockAlertRepository) Evaluate(ctx context.Context, req repositories.LowStockEvaluation) (repositories.LowStockEvaluationResult, error) {
	if r == nil || r.provider == nil {
		return repositories.LowStockEvaluationResult{}, errors.New("low stock alert repository not initialised")
	}
	if strings.TrimSpace(req.NewAlertID) == "" {
		return repositories.LowStockEvaluationResult{}, errors.New("low stock evaluate: alert id is required")
	}
	tenantID := strings.TrimSpace(req.TenantID)
	itemID := strings.TrimSpace(req.ItemID)
	now := req.Now.UTC()

	var result repositories.LowStockEvaluationResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = repositories.LowStockEvaluationResult{}

		itemRef, err := r.items.Doc(ctx, itemDocumentID(tenantID, itemID))
		if err != nil {
			return err
		}
		tenantRef, err := r.tenants.Doc(ctx, tenantID)
		if err != nil {
			return err
		}
		guardRef, err := r.guards.Doc(ctx, itemDocumentID(tenantID, itemID))
		if err != nil {
			return err
		}
		snaps, err := tx.GetAll([]*firestore.DocumentRef{itemRef, tenantRef, guardRef})
		if err != nil {
			return err
		}

		items, err := decodeItems(tenantID, []domain.StockLine{{ItemID: itemID}}, snaps[:1])
		if err != nil {
			return err
		}
		var settings *domain.TenantSettings
		if snaps[1].Exists() {
			var doc tenantDocument
			if err := snaps[1].DataTo(&doc); err != nil {
				return fmt.Errorf("decode tenant %s: %w", tenantID, err)
			}
			decoded := doc.toDomain(tenantID)
			settings = &decoded
		}
		var guard alertGuardDocument
		if snaps[2].Exists() {
			if err := snaps[2].DataTo(&guard); err != nil {
				return fmt.Errorf("decode alert guard %s: %w", itemID, err)
			}
		}

		openQuery, err := r.openAlertsQuery(ctx, tenantID, itemID)
		if err != nil {
			return err
		}
		openSnaps, err := tx.Documents(openQuery).GetAll()
		if err != nil {
			return err
		}

		total := items[0].Total()
		threshold, enabled := repositories.EffectiveSettings(settings, req.DefaultThreshold)
		result.Total = total
		result.Threshold = threshold
		result.Enabled = enabled

		switch repositories.DecideLowStock(total, threshold, enabled) {
		case repositories.LowStockRaise:
			if len(openSnaps) > 0 || guard.OpenAlertID != "" {
				return nil
			}
			alert := domain.LowStockAlert{
				ID:        req.NewAlertID,
				TenantID:  tenantID,
				ItemID:    itemID,
				Total:     total,
				Threshold: threshold,
				CreatedAt: now,
			}
			alertRef, err := r.alerts.Doc(ctx, alert.ID)
			if err != nil {
				return err
			}
			if err := tx.Create(alertRef, newAlertDocument(alert)); err != nil {
				return err
			}
			if err := tx.Set(guardRef, alertGuardDocument{OpenAlertID: alert.ID, UpdatedAt: now}); err != nil {
				return err
			}
			result.Raised = &alert
		case repositories.LowStockResolve:
			if len(openSnaps) == 0 && guard.OpenAlertID == "" {
				return nil
			}
			for _, snap := range openSnaps {
				var doc alertDocument
				if err := snap.DataTo(&doc); err != nil {
					return fmt.Errorf("decode alert %s: %w", snap.Ref.ID, err)
				}
				doc.IsResolved = true
				resolvedAt := now
				doc.ResolvedAt = &resolvedAt
				if err := tx.Update(snap.Ref, []firestore.Update{
					{Path: "isResolved", Value: true},
					{Path: "resolvedAt", Value: resolvedAt},
				}); err != nil {
					return err
				}
				result.Resolved = append(result.Resolved, doc.toDomain(snap.Ref.ID))
			}
			if err := tx.Set(guardRef, alertGuardDocument{UpdatedAt: now}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return repositories.LowStockEvaluationResult{}, wrapStockError("lowStockAlerts.evaluate", err)
	}
	return result, nil
}

func (r *LowStockAlertRepository) ListOpen(ctx context.Context, tenantID string) ([]domain.LowStockAlert, error) {
	return r.list(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("tenantId", "==", tenantID).Where("isResolved", "==", false)
	})
}

func (r *LowStockAlertRepository) ListByItem(ctx context.Context, tenantID, itemID string) ([]domain.LowStockAlert, error) {
	return r.list(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("tenantId", "==", tenantID).Where("itemId", "==", itemID)
	})
}

func (r *LowStockAlertRepository) list(ctx context.Context, build pfirestore.QueryBuilder) ([]domain.LowStockAlert, error) {
	if r == nil || r.alerts == nil {
		return nil, errors.New("low stock alert repository not initialised")
	}
	docs, err := r.alerts.Query(ctx, func(q firestore.Query) firestore.Query {
		return build(q).OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	alerts := make([]domain.LowStockAlert, 0, len(docs))
	for _, doc := range docs {
		alerts = append(alerts, doc.Data.toDomain(doc.ID))
	}
	return alerts, nil
}

func (r *LowStockAlertRepository) openAlertsQuery(ctx context.Context, tenantID, itemID string) (firestore.Query, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return firestore.Query{}, pfirestore.WrapError("lowStockAlerts.openQuery", err)
	}
	return client.Collection(lowStockAlertsCollection).
		Where("tenantId", "==", tenantID).
		Where("itemId", "==", itemID).
		Where("isResolved", "==", false), nil
}

// Helper structures ---------------------------------------------------------

type alertDocument struct {
	TenantID   string     `firestore:"tenantId"`
	ItemID     string     `firestore:"itemId"`
	IsResolved bool       `firestore:"isResolved"`
	Total      int        `firestore:"total"`
	Threshold  int        `firestore:"threshold"`
	CreatedAt  time.Time  `firestore:"createdAt"`
	ResolvedAt *time.Time `firestore:"resolvedAt,omitempty"`
}

type alertGuardDocument struct {
	OpenAlertID string    `firestore:"openAlertId"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func newAlertDocument(alert domain.LowStockAlert) alertDocument {
	return alertDocument{
		TenantID:   alert.TenantID,
		ItemID:     alert.ItemID,
		IsResolved: alert.IsResolved,
		Total:      alert.Total,
		Threshold:  alert.Threshold,
		CreatedAt:  alert.CreatedAt.UTC(),
		ResolvedAt: alert.ResolvedAt,
	}
}

func (d alertDocument) toDomain(id string) domain.LowStockAlert {
	return domain.LowStockAlert{
		ID:         id,
		TenantID:   d.TenantID,
		ItemID:     d.ItemID,
		IsResolved: d.IsResolved,
		Total:      d.Total,
		Threshold:  d.Threshold,
		CreatedAt:  d.CreatedAt,
		ResolvedAt: d.ResolvedAt,
	}
}
