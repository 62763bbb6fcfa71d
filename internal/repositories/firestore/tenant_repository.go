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
)

const tenantsCollection = "tenants"

// TenantRepository stores tenant settings read by the ledger and the alert deduplicator.
type TenantRepository struct {
	tenants *pfirestore.Collection[tenantDocument]
}

// NewTenantRepository constructs a Firestore-backed tenant repository.
func NewTenantRepository(provider *pfirestore.Provider) (*TenantRepository, error) {
	if provider == nil {
		return nil, errors.New("tenant repository requires firestore provider")
	}
	return &TenantRepository{
		tenants: pfirestore.NewCollection[tenantDocument](provider, tenantsCollection),
	}, nil
}

func (r *TenantRepository) Create(ctx context.Context, settings domain.TenantSettings) error {
	if r == nil || r.tenants == nil {
		return errors.New("tenant repository not initialised")
	}
	ref, err := r.tenants.Doc(ctx, strings.TrimSpace(settings.TenantID))
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newTenantDocument(settings)); err != nil {
		return pfirestore.WrapError("tenants.create", err)
	}
	return nil
}

func (r *TenantRepository) Get(ctx context.Context, tenantID string) (domain.TenantSettings, error) {
	if r == nil || r.tenants == nil {
		return domain.TenantSettings{}, errors.New("tenant repository not initialised")
	}
	doc, err := r.tenants.Get(ctx, strings.TrimSpace(tenantID))
	if err != nil {
		return domain.TenantSettings{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// UpdateAlertSettings changes only the low-stock fields and returns the stored settings.
func (r *TenantRepository) UpdateAlertSettings(ctx context.Context, tenantID string, threshold int, enabled bool, now time.Time) (domain.TenantSettings, error) {
	if r == nil || r.tenants == nil {
		return domain.TenantSettings{}, errors.New("tenant repository not initialised")
	}
	if threshold < 0 {
		return domain.TenantSettings{}, fmt.Errorf("tenants.updateAlertSettings: threshold must be >= 0, got %d", threshold)
	}
	id := strings.TrimSpace(tenantID)
	err := r.tenants.Update(ctx, id, []firestore.Update{
		{Path: "lowStockThreshold", Value: threshold},
		{Path: "lowStockAlertsEnabled", Value: enabled},
		{Path: "updatedAt", Value: now.UTC()},
	}, firestore.Exists)
	if err != nil {
		return domain.TenantSettings{}, err
	}
	return r.Get(ctx, id)
}

func (r *TenantRepository) List(ctx context.Context) ([]domain.TenantSettings, error) {
	if r == nil || r.tenants == nil {
		return nil, errors.New("tenant repository not initialised")
	}
	docs, err := r.tenants.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	tenants := make([]domain.TenantSettings, 0, len(docs))
	for _, doc := range docs {
		tenants = append(tenants, doc.Data.toDomain(doc.ID))
	}
	return tenants, nil
}

type tenantDocument struct {
	DisplayName           string    `firestore:"displayName"`
	LowStockThreshold     int       `firestore:"lowStockThreshold"`
	LowStockAlertsEnabled bool      `firestore:"lowStockAlertsEnabled"`
	CreatedAt             time.Time `firestore:"createdAt"`
	UpdatedAt             time.Time `firestore:"updatedAt"`
}

func newTenantDocument(settings domain.TenantSettings) tenantDocument {
	return tenantDocument{
		DisplayName:           strings.TrimSpace(settings.DisplayName),
		LowStockThreshold:     settings.LowStockThreshold,
		LowStockAlertsEnabled: settings.LowStockAlertsEnabled,
		CreatedAt:             settings.CreatedAt.UTC(),
		UpdatedAt:             settings.UpdatedAt.UTC(),
	}
}

func (d tenantDocument) toDomain(tenantID string) domain.TenantSettings {
	return domain.TenantSettings{
		TenantID:              tenantID,
		DisplayName:           d.DisplayName,
		LowStockThreshold:     d.LowStockThreshold,
		LowStockAlertsEnabled: d.LowStockAlertsEnabled,
		CreatedAt:             d.CreatedAt,
		UpdatedAt:             d.UpdatedAt,
	}
}
