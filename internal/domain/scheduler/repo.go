package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pawsitive/followup/pkg/pagination"
)

var ErrNotFound = errors.New("record not found")

type Repository interface {
	CreateRun(ctx context.Context, run *Run) error
	// FinishRun writes the terminal status, completion time, counters and
	// per-clinic results.
	FinishRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	ListRuns(ctx context.Context, p pagination.Params) ([]*Run, int, error)

	CreateAutoItem(ctx context.Context, item *AutoScheduledItem) error
	GetAutoItem(ctx context.Context, id uuid.UUID) (*AutoScheduledItem, error)
	ListAutoItems(ctx context.Context, p pagination.Params) ([]*AutoScheduledItem, int, error)
	// FindActiveByCase returns the case's auto-scheduled record still in
	// scheduled state, or ErrNotFound.
	FindActiveByCase(ctx context.Context, caseID uuid.UUID) (*AutoScheduledItem, error)
	// FindByScheduledItem resolves the record owning a call or email item.
	FindByScheduledItem(ctx context.Context, channel string, itemID uuid.UUID) (*AutoScheduledItem, error)
	// AdvanceStatus moves a record from scheduled to a terminal status.
	// Returns false when the record had already left scheduled state.
	AdvanceStatus(ctx context.Context, id uuid.UUID, status string) (bool, error)
	// MarkCancelled records operator cancellation metadata. Conditional on
	// scheduled state like AdvanceStatus.
	MarkCancelled(ctx context.Context, id uuid.UUID, userID, reason string, at time.Time) (bool, error)
}
