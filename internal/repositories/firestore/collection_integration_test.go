//go:build integration

package firestore

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/vinylogix/api/internal/platform/firestore"
	"github.com/vinylogix/api/internal/platform/idempotency"
)

func TestCollectionAgainstEmulator(t *testing.T) {
	provider := newEmulatorProvider(t, "collection-test")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := provider.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	items := pfirestore.NewCollection[itemDocument](provider, itemsCollection)
	id := itemDocumentID("t1", "lp-1")
	if err := items.Set(ctx, id, itemDocument{TenantID: "t1", ItemID: "lp-1", ShelfQuantity: 1, IsSellable: true}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := items.Update(ctx, id, []firestore.Update{{Path: "storageQuantity", Value: 4}}, firestore.Exists); err != nil {
		t.Fatalf("update: %v", err)
	}

	doc, err := items.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.ID != id || doc.Data.ShelfQuantity != 1 || doc.Data.StorageQuantity != 4 || doc.UpdateTime.IsZero() {
		t.Fatalf("unexpected document %+v", doc)
	}

	if _, err := items.Get(ctx, itemDocumentID("t1", "missing")); !pfirestore.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := items.Update(ctx, itemDocumentID("t1", "missing"), []firestore.Update{{Path: "shelfQuantity", Value: 1}}, firestore.Exists); !pfirestore.IsNotFound(err) {
		t.Fatalf("expected not found on update, got %v", err)
	}

	err = provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := items.Doc(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		current, err := pfirestore.Decode[itemDocument](snap)
		if err != nil {
			return err
		}
		current.Data.ShelfQuantity--
		return tx.Set(ref, current.Data)
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	docs, err := items.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("tenantId", "==", "t1")
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 1 || docs[0].Data.ShelfQuantity != 0 {
		t.Fatalf("unexpected query result %+v", docs)
	}

	err = provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := items.Doc(ctx, id)
		if err != nil {
			return err
		}
		return tx.Set(ref, itemDocument{TenantID: "t1", ItemID: "lp-1", ShelfQuantity: 99})
	}, pfirestore.WithTxReadOnly())
	if err == nil {
		t.Fatalf("read-only transaction accepted a write")
	}

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	if err := provider.RunTransaction(cancelled, func(context.Context, *firestore.Transaction) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestIdempotencyStoreAgainstEmulator(t *testing.T) {
	provider := newEmulatorProvider(t, "request-keys-test")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	store, err := idempotency.NewFirestoreStore(provider)
	if err != nil {
		t.Fatalf("NewFirestoreStore: %v", err)
	}
	now := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	scope := idempotency.Scope{TenantID: "t1", Key: "checkout-1"}

	claim, _, err := store.Claim(ctx, scope, "fp", now, time.Hour)
	if err != nil || claim != idempotency.ClaimNew {
		t.Fatalf("first claim: %v %v", claim, err)
	}
	if claim, _, err = store.Claim(ctx, scope, "fp", now, time.Hour); err != nil || claim != idempotency.ClaimInFlight {
		t.Fatalf("second claim: %v %v", claim, err)
	}
	if err := store.Complete(ctx, scope, "fp", idempotency.Response{Status: http.StatusCreated, Body: []byte(`{"ok":true}`)}, now, time.Hour); err != nil {
		t.Fatalf("complete: %v", err)
	}

	claim, entry, err := store.Claim(ctx, scope, "fp", now, time.Hour)
	if err != nil || claim != idempotency.ClaimReplay || entry.ResponseStatus != http.StatusCreated || string(entry.ResponseBody) != `{"ok":true}` {
		t.Fatalf("replay claim: %v %+v %v", claim, entry, err)
	}
	if _, _, err := store.Claim(ctx, scope, "other", now, time.Hour); !errors.Is(err, idempotency.ErrKeyReused) {
		t.Fatalf("expected ErrKeyReused, got %v", err)
	}
	if claim, _, err := store.Claim(ctx, idempotency.Scope{TenantID: "t2", Key: "checkout-1"}, "other", now, time.Hour); err != nil || claim != idempotency.ClaimNew {
		t.Fatalf("other tenant claim: %v %v", claim, err)
	}

	removed, err := store.PurgeExpired(ctx, now.Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 purged keys, got %d", removed)
	}
}
