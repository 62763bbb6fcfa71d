package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubPublisher struct {
	mu       sync.Mutex
	failures int
	calls    int
	notices  []ShipmentNotice
	block    chan struct{}
}

func (p *stubPublisher) PublishShipmentNotice(ctx context.Context, notice ShipmentNotice) (string, error) {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failures > 0 {
		p.failures--
		return "", errors.New("publish failed")
	}
	p.notices = append(p.notices, notice)
	return "msg-1", nil
}

func (p *stubPublisher) snapshot() (int, []ShipmentNotice) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls, append([]ShipmentNotice(nil), p.notices...)
}

type noticeMetrics struct {
	noopLedgerMetrics
	mu        sync.Mutex
	delivered int
	dropped   int
}

func (m *noticeMetrics) NoticeDelivered(_ context.Context, delivered bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if delivered {
		m.delivered++
	} else {
		m.dropped++
	}
}

func newTestShipmentQueue(t *testing.T, publisher ShipmentNoticePublisher, events *eventRecorder, metrics LedgerMetrics, queueSize int) *ShipmentQueue {
	t.Helper()
	q, err := NewShipmentQueue(ShipmentQueueDeps{
		Publisher:   publisher,
		Workers:     1,
		QueueSize:   queueSize,
		MaxAttempts: 3,
		Metrics:     metrics,
		Sleep:       func(context.Context, time.Duration) error { return nil },
		Logger:      events.log,
	})
	require.NoError(t, err)
	return q
}

func testNotice(orderID string) ShipmentNotice {
	return ShipmentNotice{OrderID: orderID, TenantID: "t1", OrderNumber: "VH000001", ShippedAt: testNow}
}

func TestShipmentQueueRetriesUntilPublished(t *testing.T) {
	publisher := &stubPublisher{failures: 2}
	events := &eventRecorder{}
	metrics := &noticeMetrics{}
	q := newTestShipmentQueue(t, publisher, events, metrics, 4)

	require.NoError(t, q.Enqueue(context.Background(), testNotice("ord_1")))
	require.NoError(t, q.Close(context.Background()))

	calls, notices := publisher.snapshot()
	require.Equal(t, 3, calls)
	require.Len(t, notices, 1)
	require.Equal(t, "ord_1", notices[0].OrderID)
	require.Equal(t, 2, events.count(noticeEventRetry))
	require.Equal(t, 1, events.count(noticeEventPublished))
	require.Equal(t, 1, metrics.delivered)
}

func TestShipmentQueueDropsAfterMaxAttempts(t *testing.T) {
	publisher := &stubPublisher{failures: 10}
	events := &eventRecorder{}
	metrics := &noticeMetrics{}
	q := newTestShipmentQueue(t, publisher, events, metrics, 4)

	require.NoError(t, q.Enqueue(context.Background(), testNotice("ord_1")))
	require.NoError(t, q.Close(context.Background()))

	calls, notices := publisher.snapshot()
	require.Equal(t, 3, calls)
	require.Empty(t, notices)
	require.Equal(t, 1, events.count(noticeEventFailed))
	require.Equal(t, 1, metrics.dropped)
}

func TestShipmentQueueRejectsWhenFull(t *testing.T) {
	publisher := &stubPublisher{block: make(chan struct{})}
	events := &eventRecorder{}
	q := newTestShipmentQueue(t, publisher, events, nil, 1)

	require.NoError(t, q.Enqueue(context.Background(), testNotice("ord_1")))
	// The single worker may or may not have picked up ord_1 yet, so fill until the buffer rejects.
	var full error
	for i := range 3 {
		if err := q.Enqueue(context.Background(), testNotice("ord_extra_"+string(rune('a'+i)))); err != nil {
			full = err
			break
		}
	}
	require.ErrorIs(t, full, ErrNotifierQueueFull)

	close(publisher.block)
	require.NoError(t, q.Close(context.Background()))
	require.ErrorIs(t, q.Enqueue(context.Background(), testNotice("ord_late")), ErrNotifierClosed)
}

func TestShipmentQueueCloseHonoursDeadline(t *testing.T) {
	publisher := &stubPublisher{block: make(chan struct{})}
	events := &eventRecorder{}
	q := newTestShipmentQueue(t, publisher, events, nil, 4)
	require.NoError(t, q.Enqueue(context.Background(), testNotice("ord_1")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Close(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	calls, notices := publisher.snapshot()
	require.Empty(t, notices)
	require.LessOrEqual(t, calls, 3)
	require.NoError(t, q.Close(context.Background()))
}

func TestShipmentQueueValidatesNotice(t *testing.T) {
	q := newTestShipmentQueue(t, &stubPublisher{}, &eventRecorder{}, nil, 1)
	defer q.Close(context.Background())
	require.Error(t, q.Enqueue(context.Background(), ShipmentNotice{TenantID: "t1"}))
}

func TestNewShipmentQueueRequiresPublisher(t *testing.T) {
	_, err := NewShipmentQueue(ShipmentQueueDeps{})
	require.Error(t, err)
}
