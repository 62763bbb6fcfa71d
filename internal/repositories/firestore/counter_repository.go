package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/vinylogix/api/internal/domain"
	pfirestore "github.com/vinylogix/api/internal/platform/firestore"
	"github.com/vinylogix/api/internal/repositories"
)

const orderCountersCollection = "orderCounters"

type counterDocument struct {
	Prefix    string    `firestore:"prefix"`
	Sequence  int64     `firestore:"sequence"`
	Padding   int       `firestore:"padding"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// Every order of a tenant contends on one counter document.
const counterTxAttempts = 10

// CounterRepository implements repositories.CounterRepository with one document per tenant.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.Collection[counterDocument]
	clock    func() time.Time
}

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewCollection[counterDocument](provider, orderCountersCollection),
		clock:    time.Now,
	}, nil
}

// Create stores the initial counter. The prefix never changes afterwards.
func (r *CounterRepository) Create(ctx context.Context, counter domain.TenantCounter) error {
	if r == nil || r.counters == nil {
		return errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counter.TenantID)
	if id == "" {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, "tenant id is required", nil)
	}
	if counter.Sequence < 0 || counter.Padding < 0 {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput,
			fmt.Sprintf("counter for %s must have non-negative sequence and padding", id), nil)
	}
	ref, err := r.counters.Doc(ctx, id)
	if err != nil {
		return err
	}
	updatedAt := counter.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = r.clock()
	}
	_, err = ref.Create(ctx, counterDocument{
		Prefix:    counter.Prefix,
		Sequence:  counter.Sequence,
		Padding:   counter.Padding,
		UpdatedAt: updatedAt.UTC(),
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			cerr := repositories.NewCounterError(repositories.CounterErrorAlreadyExists,
				fmt.Sprintf("tenant %s already has an order counter", id), err)
			cerr.Op = "orderCounters.create"
			return cerr
		}
		return pfirestore.WrapError("orderCounters.create", err)
	}
	return nil
}

// Next atomically increments the tenant sequence and returns the counter after the increment.
func (r *CounterRepository) Next(ctx context.Context, tenantID string) (domain.TenantCounter, error) {
	if r == nil || r.provider == nil {
		return domain.TenantCounter{}, errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(tenantID)
	if id == "" {
		return domain.TenantCounter{}, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "tenant id is required", nil)
	}

	var next domain.TenantCounter
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.counters.Doc(ctx, id)
		if err != nil {
			return err
		}

		snapshot, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.OK:
		case codes.NotFound:
			return notConfigured(id, err)
		default:
			return err
		}

		var doc counterDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore orderCounters decode %s: %w", id, err)
		}
		doc.Sequence++
		doc.UpdatedAt = r.clock().UTC()

		if err := tx.Update(ref, []firestore.Update{
			{Path: "sequence", Value: doc.Sequence},
			{Path: "updatedAt", Value: doc.UpdatedAt},
		}); err != nil {
			return err
		}
		next = doc.toDomain(id)
		return nil
	}, pfirestore.WithTxOp("orderCounters.next"), pfirestore.WithTxAttempts(counterTxAttempts))
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			return domain.TenantCounter{}, counterErr
		}
		return domain.TenantCounter{}, pfirestore.WrapError("orderCounters.next", err)
	}
	return next, nil
}

// Get returns the stored counter without incrementing it.
func (r *CounterRepository) Get(ctx context.Context, tenantID string) (domain.TenantCounter, error) {
	if r == nil || r.counters == nil {
		return domain.TenantCounter{}, errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(tenantID)
	doc, err := r.counters.Get(ctx, id)
	if err != nil {
		if pfirestore.IsNotFound(err) {
			return domain.TenantCounter{}, notConfigured(id, err)
		}
		return domain.TenantCounter{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (d counterDocument) toDomain(tenantID string) domain.TenantCounter {
	return domain.TenantCounter{
		TenantID:  tenantID,
		Prefix:    d.Prefix,
		Sequence:  d.Sequence,
		Padding:   d.Padding,
		UpdatedAt: d.UpdatedAt,
	}
}

func notConfigured(tenantID string, cause error) *repositories.CounterError {
	return repositories.NewCounterNotConfiguredError("orderCounters", tenantID, cause)
}
