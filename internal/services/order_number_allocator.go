package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/googleapis/gax-go/v2"

	domain "github.com/vinylogix/api/internal/domain"
	"github.com/vinylogix/api/internal/repositories"
)

const (
	defaultAllocatorMaxAttempts  = 5
	defaultAllocatorInitialDelay = 50 * time.Millisecond
	defaultAllocatorMaxDelay     = 2 * time.Second
	allocatorEventRetry          = "order_number.allocate.retry"
	allocatorEventExhausted      = "order_number.allocate.exhausted"
	allocatorBackoffMultiplier   = 2
)

var (
	// ErrAllocatorInvalidInput indicates the tenant id was missing.
	ErrAllocatorInvalidInput = errors.New("order number: invalid input")
	// ErrAllocatorNotConfigured indicates the tenant has not been set up.
	ErrAllocatorNotConfigured = errors.New("order number: tenant counter not configured")
	// ErrAllocatorUnavailable indicates contention or outages persisted past every retry.
	ErrAllocatorUnavailable = errors.New("order number: allocator unavailable")
)

// OrderNumberAllocatorDeps bundles collaborators required to construct the allocator.
type OrderNumberAllocatorDeps struct {
	Counters     repositories.CounterRepository
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Sleep waits between attempts; tests replace it to avoid real delays.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type orderNumberAllocator struct {
	counters     repositories.CounterRepository
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
	sleep        func(context.Context, time.Duration) error
	logger       func(context.Context, string, map[string]any)
}

var _ OrderNumberAllocator = (*orderNumberAllocator)(nil)

// NewOrderNumberAllocator wires dependencies into an OrderNumberAllocator implementation.
func NewOrderNumberAllocator(deps OrderNumberAllocatorDeps) (OrderNumberAllocator, error) {
	if deps.Counters == nil {
		return nil, errors.New("order number allocator: counter repository is required")
	}

	attempts := deps.MaxAttempts
	if attempts <= 0 {
		attempts = defaultAllocatorMaxAttempts
	}
	initial := deps.InitialDelay
	if initial <= 0 {
		initial = defaultAllocatorInitialDelay
	}
	maxDelay := deps.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultAllocatorMaxDelay
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = gax.Sleep
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &orderNumberAllocator{
		counters:     deps.Counters,
		maxAttempts:  attempts,
		initialDelay: initial,
		maxDelay:     maxDelay,
		sleep:        sleep,
		logger:       logger,
	}, nil
}

// Allocate advances the tenant counter by one and renders prefix plus the padded sequence.
// Contention is retried with exponential backoff and never surfaced as a conflict.
func (a *orderNumberAllocator) Allocate(ctx context.Context, tenantID string) (string, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return "", fmt.Errorf("%w: tenant id is required", ErrAllocatorInvalidInput)
	}

	backoff := gax.Backoff{
		Initial:    a.initialDelay,
		Max:        a.maxDelay,
		Multiplier: allocatorBackoffMultiplier,
	}

	var lastErr error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		counter, err := a.counters.Next(ctx, tenantID)
		if err == nil {
			return domain.FormatOrderNumber(counter.Prefix, counter.Sequence, counter.Padding), nil
		}

		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			switch counterErr.Code {
			case repositories.CounterErrorNotConfigured:
				return "", fmt.Errorf("%w: %s", ErrAllocatorNotConfigured, tenantID)
			case repositories.CounterErrorInvalidInput:
				return "", fmt.Errorf("%w: %s", ErrAllocatorInvalidInput, counterErr.Message)
			}
		}
		if !isRetryableAllocation(err) {
			return "", err
		}

		lastErr = err
		if attempt == a.maxAttempts {
			break
		}
		delay := backoff.Pause()
		a.logger(ctx, allocatorEventRetry, map[string]any{
			"tenantId": tenantID,
			"attempt":  attempt,
			"delay":    delay.String(),
			"error":    err.Error(),
		})
		if err := a.sleep(ctx, delay); err != nil {
			return "", err
		}
	}

	a.logger(ctx, allocatorEventExhausted, map[string]any{
		"tenantId": tenantID,
		"attempts": a.maxAttempts,
		"error":    lastErr.Error(),
	})
	return "", fmt.Errorf("%w: %v", ErrAllocatorUnavailable, lastErr)
}

func isRetryableAllocation(err error) bool {
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) {
		return false
	}
	return repoErr.IsConflict() || repoErr.IsUnavailable()
}
