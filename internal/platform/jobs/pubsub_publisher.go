package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/vinylogix/api/internal/services"
)

const shipmentNoticeEvent = "order.shipped"

// PubSubShipmentPublisher sends shipment notices to the notification topic as JSON. Messages
// carry the tenant id as ordering key so one tenant's notices arrive in publish order.
type PubSubShipmentPublisher struct {
	topic *pubsub.Topic
}

var _ services.ShipmentNoticePublisher = (*PubSubShipmentPublisher)(nil)

// NewPubSubShipmentPublisher enables message ordering on topic and wraps it.
func NewPubSubShipmentPublisher(topic *pubsub.Topic) (*PubSubShipmentPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub shipment publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubShipmentPublisher{topic: topic}, nil
}

// PublishShipmentNotice blocks until the server assigns a message id.
func (p *PubSubShipmentPublisher) PublishShipmentNotice(ctx context.Context, notice services.ShipmentNotice) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub shipment publisher: not initialised")
	}
	msg, err := shipmentMessage(notice)
	if err != nil {
		return "", err
	}

	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		// A failed publish pauses its ordering key until resumed.
		if msg.OrderingKey != "" {
			p.topic.ResumePublish(msg.OrderingKey)
		}
		return "", fmt.Errorf("publish shipment notice for order %s: %w", notice.OrderID, err)
	}
	return id, nil
}

func shipmentMessage(notice services.ShipmentNotice) (*pubsub.Message, error) {
	data, err := json.Marshal(notice)
	if err != nil {
		return nil, fmt.Errorf("marshal shipment notice: %w", err)
	}
	attrs := map[string]string{"event": shipmentNoticeEvent}
	for key, value := range map[string]string{
		"orderId":     notice.OrderID,
		"tenantId":    notice.TenantID,
		"orderNumber": notice.OrderNumber,
	} {
		if v := strings.TrimSpace(value); v != "" {
			attrs[key] = v
		}
	}
	return &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: strings.TrimSpace(notice.TenantID),
	}, nil
}
