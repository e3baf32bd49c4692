// Package dispatch owns the scheduled call and email items: their creation
// shape, the webhook-fired executor that hands them to the vendor, the
// retry/backoff policy for failed dispatches, and the tracker that folds
// asynchronous vendor callbacks back into item state.
package dispatch

import (
	"time"

	"github.com/google/uuid"
)

// Delivery channels. Each channel persists to its own table but shares the
// Item shape.
const (
	ChannelCall  = "call"
	ChannelEmail = "email"
)

// Item lifecycle states. Status only advances forward; the retry path's
// return to queued starts a new dispatch cycle rather than rolling back.
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// TerminalStatus reports whether no further transitions are possible.
func TerminalStatus(s string) bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Item is one queued or dispatched follow-up call or email tied to a case.
// Created by the scheduler, mutated by the executor and the tracker, never
// hard-deleted.
type Item struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Channel      string     `db:"-" json:"channel"`
	CaseID       uuid.UUID  `db:"case_id" json:"case_id"`
	UserID       *uuid.UUID `db:"user_id" json:"user_id,omitempty"`
	Recipient    string     `db:"recipient" json:"recipient"`
	PetName      *string    `db:"pet_name" json:"pet_name,omitempty"`
	Summary      *string    `db:"summary" json:"summary,omitempty"`
	ScheduledFor time.Time  `db:"scheduled_for" json:"scheduled_for"`
	Status       string     `db:"status" json:"status"`

	QueueMessageID *string `db:"queue_message_id" json:"queue_message_id,omitempty"`
	ProviderID     *string `db:"provider_id" json:"provider_id,omitempty"`

	RetryCount        int        `db:"retry_count" json:"retry_count"`
	NextRetryAt       *time.Time `db:"next_retry_at" json:"next_retry_at,omitempty"`
	LastFailureReason *string    `db:"last_failure_reason" json:"last_failure_reason,omitempty"`

	StartedAt       *time.Time `db:"started_at" json:"started_at,omitempty"`
	DurationSeconds *int       `db:"duration_seconds" json:"duration_seconds,omitempty"`
	Transcript      *string    `db:"transcript" json:"transcript,omitempty"`
	Cost            *float64   `db:"cost" json:"cost,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Outcome carries the final-report fields written when an item completes.
type Outcome struct {
	DurationSeconds *int
	Transcript      *string
	Cost            *float64
}
