package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/vinylogix/api/internal/platform/firestore"
)

const (
	requestKeysCollection = "requestKeys"
	defaultPurgeLimit     = 100
)

// FirestoreStore keeps keys in the requestKeys collection, one document per tenant and key.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
}

// NewFirestoreStore returns a Store sharing the repositories' Firestore provider.
func NewFirestoreStore(provider *pfirestore.Provider) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency: firestore provider is required")
	}
	return &FirestoreStore{provider: provider, collection: requestKeysCollection}, nil
}

// Claim implements Store.
func (s *FirestoreStore) Claim(ctx context.Context, scope Scope, fingerprint string, now time.Time, ttl time.Duration) (Claim, Entry, error) {
	now = now.UTC()
	ttl = normaliseTTL(ttl)
	ref, err := s.doc(ctx, scope)
	if err != nil {
		return 0, Entry{}, err
	}

	var (
		claim Claim
		entry Entry
	)
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			var doc requestKeyDocument
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			existing := doc.entry()
			if !existing.expired(now) {
				c, err := classify(existing, fingerprint)
				if err != nil {
					return err
				}
				claim, entry = c, existing
				return nil
			}
		}
		entry = pendingEntry(scope, fingerprint, now, ttl)
		claim = ClaimNew
		return tx.Set(ref, newRequestKeyDocument(entry))
	})
	if err != nil {
		return 0, Entry{}, err
	}
	return claim, entry, nil
}

// Complete implements Store.
func (s *FirestoreStore) Complete(ctx context.Context, scope Scope, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	ttl = normaliseTTL(ttl)
	ref, err := s.doc(ctx, scope)
	if err != nil {
		return err
	}
	return s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		entry := pendingEntry(scope, fingerprint, now, ttl)
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			var doc requestKeyDocument
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			if doc.Fingerprint != fingerprint {
				return ErrKeyReused
			}
			entry = doc.entry()
		case status.Code(err) != codes.NotFound:
			return err
		}
		return tx.Set(ref, newRequestKeyDocument(completeEntry(entry, resp, now, ttl)))
	})
}

// Release implements Store.
func (s *FirestoreStore) Release(ctx context.Context, scope Scope) error {
	ref, err := s.doc(ctx, scope)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return pfirestore.WrapError("idempotency.release", err)
	}
	return nil
}

// PurgeExpired implements Store.
func (s *FirestoreStore) PurgeExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultPurgeLimit
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	docs, err := client.Collection(s.collection).
		Where("expiresAt", "<=", now.UTC()).
		Limit(limit).
		Documents(ctx).
		GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("idempotency.purge", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	batch := client.Batch()
	for _, doc := range docs {
		batch.Delete(doc.Ref)
	}
	if _, err := batch.Commit(ctx); err != nil {
		return 0, pfirestore.WrapError("idempotency.purge", err)
	}
	return len(docs), nil
}

func (s *FirestoreStore) doc(ctx context.Context, scope Scope) (*firestore.DocumentRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(s.collection).Doc(scope.id()), nil
}

type requestKeyDocument struct {
	TenantID        string              `firestore:"tenantId"`
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"responseStatus"`
	ResponseHeaders map[string][]string `firestore:"responseHeaders,omitempty"`
	ResponseBody    []byte              `firestore:"responseBody,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
	ExpiresAt       time.Time           `firestore:"expiresAt"`
}

func newRequestKeyDocument(e Entry) requestKeyDocument {
	return requestKeyDocument{
		TenantID:        e.TenantID,
		Key:             e.Key,
		Fingerprint:     e.Fingerprint,
		Status:          string(e.Status),
		ResponseStatus:  e.ResponseStatus,
		ResponseHeaders: e.ResponseHeaders,
		ResponseBody:    e.ResponseBody,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
		ExpiresAt:       e.ExpiresAt,
	}
}

func (d requestKeyDocument) entry() Entry {
	return Entry{
		TenantID:        d.TenantID,
		Key:             d.Key,
		Fingerprint:     d.Fingerprint,
		Status:          Status(d.Status),
		ResponseStatus:  d.ResponseStatus,
		ResponseHeaders: d.ResponseHeaders,
		ResponseBody:    d.ResponseBody,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		ExpiresAt:       d.ExpiresAt,
	}
}
