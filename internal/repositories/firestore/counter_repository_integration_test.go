//go:build integration

package firestore

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/vinylogix/api/internal/domain"
	"github.com/vinylogix/api/internal/repositories"
)

func TestCounterRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "counter-test")
	repo, err := NewCounterRepository(provider)
	if err != nil {
		t.Fatalf("new counter repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var counterErr *repositories.CounterError
	if _, err := repo.Next(ctx, "t-missing"); !errors.As(err, &counterErr) || counterErr.Code != repositories.CounterErrorNotConfigured {
		t.Fatalf("expected not configured, got %v", err)
	}

	if err := repo.Create(ctx, domain.TenantCounter{TenantID: "t1", Prefix: "VH", Padding: 6}); err != nil {
		t.Fatalf("create counter: %v", err)
	}
	if err := repo.Create(ctx, domain.TenantCounter{TenantID: "t1", Prefix: "XX", Padding: 2}); !errors.As(err, &counterErr) || counterErr.Code != repositories.CounterErrorAlreadyExists {
		t.Fatalf("expected already exists, got %v", err)
	}

	const workers = 8
	results := make([]int64, workers)
	var group errgroup.Group
	for i := range workers {
		group.Go(func() error {
			counter, err := repo.Next(ctx, "t1")
			if err != nil {
				return err
			}
			results[i] = counter.Sequence
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		t.Fatalf("concurrent next: %v", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	for i, val := range results {
		if expected := int64(i + 1); val != expected {
			t.Fatalf("expected sequence %d at position %d, got %d", expected, i, val)
		}
	}

	stored, err := repo.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get counter: %v", err)
	}
	if stored.Sequence != workers || stored.Prefix != "VH" || stored.Padding != 6 {
		t.Fatalf("unexpected stored counter %+v", stored)
	}
}
