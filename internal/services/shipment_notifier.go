package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/googleapis/gax-go/v2"
)

const (
	noticeEventPublished = "shipment_notice.published"
	noticeEventRetry     = "shipment_notice.retry"
	noticeEventFailed    = "shipment_notice.failed"

	defaultNotifierWorkers        = 2
	defaultNotifierQueueSize      = 256
	defaultNotifierMaxAttempts    = 5
	defaultNotifierInitialBackoff = 500 * time.Millisecond
	defaultNotifierMaxBackoff     = 30 * time.Second
	defaultNotifierPublishTimeout = 10 * time.Second
)

var (
	// ErrNotifierQueueFull indicates the notice was rejected because every slot is taken.
	ErrNotifierQueueFull = errors.New("shipment notifier: queue full")
	// ErrNotifierClosed indicates the notifier is draining or stopped.
	ErrNotifierClosed = errors.New("shipment notifier: closed")
)

// ShipmentNoticePublisher delivers a notice to the notification collaborator.
type ShipmentNoticePublisher interface {
	PublishShipmentNotice(ctx context.Context, notice ShipmentNotice) (string, error)
}

// ShipmentQueueDeps bundles collaborators required to construct the shipment queue.
type ShipmentQueueDeps struct {
	Publisher      ShipmentNoticePublisher
	Workers        int
	QueueSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	PublishTimeout time.Duration
	Metrics        LedgerMetrics
	Sleep          func(ctx context.Context, d time.Duration) error
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

// ShipmentQueue is a bounded in-process queue whose workers publish shipment notices with retries.
// Enqueue never blocks; notices that exhaust their attempts are logged and dropped.
type ShipmentQueue struct {
	publisher      ShipmentNoticePublisher
	queue          chan ShipmentNotice
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	publishTimeout time.Duration
	metrics        LedgerMetrics
	sleep          func(context.Context, time.Duration) error
	logger         func(context.Context, string, map[string]any)

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

var _ ShipmentNotifier = (*ShipmentQueue)(nil)

// NewShipmentQueue starts the worker pool. Call Close to drain it.
func NewShipmentQueue(deps ShipmentQueueDeps) (*ShipmentQueue, error) {
	if deps.Publisher == nil {
		return nil, errors.New("shipment notifier: publisher is required")
	}

	workers := positiveOr(deps.Workers, defaultNotifierWorkers)
	sleep := deps.Sleep
	if sleep == nil {
		sleep = gax.Sleep
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopLedgerMetrics{}
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	q := &ShipmentQueue{
		publisher:      deps.Publisher,
		queue:          make(chan ShipmentNotice, positiveOr(deps.QueueSize, defaultNotifierQueueSize)),
		maxAttempts:    positiveOr(deps.MaxAttempts, defaultNotifierMaxAttempts),
		initialBackoff: positiveDurationOr(deps.InitialBackoff, defaultNotifierInitialBackoff),
		maxBackoff:     positiveDurationOr(deps.MaxBackoff, defaultNotifierMaxBackoff),
		publishTimeout: positiveDurationOr(deps.PublishTimeout, defaultNotifierPublishTimeout),
		metrics:        metrics,
		sleep:          sleep,
		logger:         logger,
		baseCtx:        baseCtx,
		cancel:         cancel,
	}

	q.wg.Add(workers)
	for range workers {
		go q.work()
	}
	return q, nil
}

// Enqueue accepts the notice for asynchronous delivery.
func (q *ShipmentQueue) Enqueue(_ context.Context, notice ShipmentNotice) error {
	if strings.TrimSpace(notice.OrderID) == "" || strings.TrimSpace(notice.TenantID) == "" {
		return errors.New("shipment notifier: order id and tenant id are required")
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrNotifierClosed
	}
	select {
	case q.queue <- notice:
		return nil
	default:
		return fmt.Errorf("%w: order %s", ErrNotifierQueueFull, notice.OrderID)
	}
}

// Backlog reports how many notices wait for a worker and how many the queue holds.
func (q *ShipmentQueue) Backlog() (queued, capacity int) {
	return len(q.queue), cap(q.queue)
}

// Close stops accepting notices and waits for queued ones to be delivered. When ctx expires
// first, in-flight retries are abandoned and ctx.Err is returned.
func (q *ShipmentQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.queue)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *ShipmentQueue) work() {
	defer q.wg.Done()
	for notice := range q.queue {
		q.deliver(notice)
	}
}

func (q *ShipmentQueue) deliver(notice ShipmentNotice) {
	backoff := gax.Backoff{
		Initial:    q.initialBackoff,
		Max:        q.maxBackoff,
		Multiplier: 2,
	}

	var lastErr error
	for attempt := 1; attempt <= q.maxAttempts; attempt++ {
		if q.baseCtx.Err() != nil {
			lastErr = q.baseCtx.Err()
			break
		}

		publishCtx, cancel := context.WithTimeout(q.baseCtx, q.publishTimeout)
		id, err := q.publisher.PublishShipmentNotice(publishCtx, notice)
		cancel()
		if err == nil {
			q.metrics.NoticeDelivered(q.baseCtx, true)
			q.logger(q.baseCtx, noticeEventPublished, map[string]any{
				"orderId":   notice.OrderID,
				"tenantId":  notice.TenantID,
				"messageId": id,
				"attempt":   attempt,
			})
			return
		}

		lastErr = err
		if attempt == q.maxAttempts {
			break
		}
		delay := backoff.Pause()
		q.logger(q.baseCtx, noticeEventRetry, map[string]any{
			"orderId": notice.OrderID,
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err.Error(),
		})
		if err := q.sleep(q.baseCtx, delay); err != nil {
			lastErr = err
			break
		}
	}

	q.metrics.NoticeDelivered(q.baseCtx, false)
	q.logger(q.baseCtx, noticeEventFailed, map[string]any{
		"orderId":  notice.OrderID,
		"tenantId": notice.TenantID,
		"error":    lastErr.Error(),
	})
}

func positiveOr(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func positiveDurationOr(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}
