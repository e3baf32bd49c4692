package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryGateway is an in-process Gateway used by tests and dry-run previews.
// Messages are held in memory; Fire delivers every due message to the
// handler, re-delivering on handler error to mimic at-least-once semantics.
type MemoryGateway struct {
	mu       sync.Mutex
	messages []Message
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{}
}

func (g *MemoryGateway) Enqueue(_ context.Context, channel string, itemID uuid.UUID, when time.Time) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	msg := Message{
		MessageID: uuid.New().String(),
		Channel:   channel,
		ItemID:    itemID,
		FireAt:    when,
	}
	g.messages = append(g.messages, msg)
	return msg.MessageID, nil
}

// Pending returns a snapshot of undelivered messages.
func (g *MemoryGateway) Pending() []Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Message, len(g.messages))
	copy(out, g.messages)
	return out
}

// Fire delivers all messages due at-or-before now to fn. Messages whose
// handler errors stay queued for a later Fire.
func (g *MemoryGateway) Fire(ctx context.Context, now time.Time, fn DispatchFunc) int {
	g.mu.Lock()
	var due, rest []Message
	for _, m := range g.messages {
		if !m.FireAt.After(now) {
			due = append(due, m)
		} else {
			rest = append(rest, m)
		}
	}
	g.messages = rest
	g.mu.Unlock()

	delivered := 0
	for _, m := range due {
		if err := fn(ctx, m.Channel, m.ItemID); err != nil {
			g.mu.Lock()
			g.messages = append(g.messages, m)
			g.mu.Unlock()
			continue
		}
		delivered++
	}
	return delivered
}
