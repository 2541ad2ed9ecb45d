package redis

import (
	"context"
	"fmt"
	"time"
)

const (
	deliveryPrefix     = "delivery:"
	defaultDeliveryTTL = 24 * time.Hour
)

// DeliveryDeduper remembers channel message ids so a redelivered webhook
// does not run the same turn twice.
type DeliveryDeduper struct {
	client *Client
	ttl    time.Duration
}

// NewDeliveryDeduper creates a deduper; ids are forgotten after ttl
func NewDeliveryDeduper(client *Client, ttl time.Duration) *DeliveryDeduper {
	if ttl <= 0 {
		ttl = defaultDeliveryTTL
	}
	return &DeliveryDeduper{client: client, ttl: ttl}
}

func deliveryKey(messageID string) string {
	return deliveryPrefix + messageID
}

// FirstDelivery records messageID and reports whether it had not been seen before
func (d *DeliveryDeduper) FirstDelivery(ctx context.Context, messageID string) (bool, error) {
	ok, err := d.client.rdb.SetNX(ctx, deliveryKey(messageID), 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record delivery: %w", err)
	}
	return ok, nil
}

// Forget drops messageID so a later redelivery is processed again
func (d *DeliveryDeduper) Forget(ctx context.Context, messageID string) error {
	return d.client.rdb.Del(ctx, deliveryKey(messageID)).Err()
}
