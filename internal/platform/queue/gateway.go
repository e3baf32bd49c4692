// Package queue provides the durable delayed-dispatch mechanism that fires
// the executor webhook at a scheduled instant. Delivery is at-least-once with
// no ordering guarantee across items; consumers must be idempotent.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Gateway enqueues a dispatch callback for an item at-or-after when.
type Gateway interface {
	Enqueue(ctx context.Context, channel string, itemID uuid.UUID, when time.Time) (messageID string, err error)
}

// DispatchFunc is invoked by a consumer when a message comes due.
type DispatchFunc func(ctx context.Context, channel string, itemID uuid.UUID) error

// Message is the wire shape carried through the queue.
type Message struct {
	MessageID string    `json:"message_id"`
	Channel   string    `json:"channel"`
	ItemID    uuid.UUID `json:"item_id"`
	FireAt    time.Time `json:"fire_at"`
}
