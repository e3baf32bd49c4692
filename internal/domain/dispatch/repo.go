package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("scheduled item not found")

type Repository interface {
	Create(ctx context.Context, item *Item) error
	GetByID(ctx context.Context, channel string, id uuid.UUID) (*Item, error)
	// FindActiveByCase returns the case's non-terminal items on a channel.
	// The scheduler uses it to avoid double-scheduling a channel that a
	// prior, partially-completed attempt already covered.
	FindActiveByCase(ctx context.Context, channel string, caseID uuid.UUID) ([]*Item, error)
	// FindByProviderID resolves an item from the vendor-assigned id,
	// searching both channels. Returns ErrNotFound for ids this service
	// does not track.
	FindByProviderID(ctx context.Context, providerID string) (*Item, error)

	// Claim atomically moves the item from queued to in_progress. It
	// returns false without error when the item was not in queued state,
	// which is how duplicate queue deliveries are absorbed.
	Claim(ctx context.Context, channel string, id uuid.UUID) (bool, error)
	// SetDispatched records the vendor's acceptance on an in_progress item.
	SetDispatched(ctx context.Context, channel string, id uuid.UUID, providerID string, startedAt time.Time) error
	// Requeue returns an item to queued for a fresh dispatch cycle.
	Requeue(ctx context.Context, channel string, id uuid.UUID, retryCount int, nextRetryAt time.Time, reason string) error
	Fail(ctx context.Context, channel string, id uuid.UUID, reason string) error
	Complete(ctx context.Context, channel string, id uuid.UUID, out Outcome) error
	// UpdateStatus applies a mapped provider status. startedAt is written
	// only when not already set.
	UpdateStatus(ctx context.Context, channel string, id uuid.UUID, status string, startedAt *time.Time) error
	// Cancel moves a still-queued item to cancelled. Returns false when the
	// item had already left queued state.
	Cancel(ctx context.Context, channel string, id uuid.UUID) (bool, error)
}
