package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pawsitive/followup/internal/platform/queue"
)

// ParentTracker advances the record that groups a case's scheduled items
// once one of them reaches a terminal state. Implemented by the scheduler
// service.
type ParentTracker interface {
	ItemTerminal(ctx context.Context, channel string, itemID uuid.UUID, status string) error
}

// StatusUpdate is an asynchronous provider callback reporting progress on a
// dispatched item.
type StatusUpdate struct {
	ProviderID string     `json:"provider_id"`
	Status     string     `json:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
}

// FinalReport is the provider's end-of-call or delivery report.
type FinalReport struct {
	ProviderID  string     `json:"provider_id"`
	EndedReason string     `json:"ended_reason"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Cost        *float64   `json:"cost,omitempty"`
	Transcript  *string    `json:"transcript,omitempty"`
}

// End reasons the provider reports that count as delivery failures. Anything
// else finalizes the item as completed.
var failureEndReasons = map[string]bool{
	"busy":           true,
	"dial-busy":      true,
	"no-answer":      true,
	"voicemail":      true,
	"error":          true,
	"rejected":       true,
	"invalid-number": true,
}

// Tracker reconciles asynchronous provider callbacks against persisted
// items. Callbacks are keyed by the provider-assigned id; ids this service
// does not track are logged and dropped.
type Tracker struct {
	items   Repository
	parents ParentTracker
	gateway queue.Gateway
	policy  Policy
	log     zerolog.Logger
	now     func() time.Time
}

func NewTracker(items Repository, parents ParentTracker, gateway queue.Gateway,
	policy Policy, log zerolog.Logger) *Tracker {
	return &Tracker{
		items:   items,
		parents: parents,
		gateway: gateway,
		policy:  policy,
		log:     log,
		now:     time.Now,
	}
}

// HandleStatusUpdate applies a provider progress callback. Unknown provider
// ids and unmapped statuses are dropped without error; they may belong to
// traffic this subsystem does not own, such as inbound calls.
func (t *Tracker) HandleStatusUpdate(ctx context.Context, upd StatusUpdate) error {
	item, err := t.items.FindByProviderID(ctx, upd.ProviderID)
	if errors.Is(err, ErrNotFound) {
		t.log.Debug().Str("provider_id", upd.ProviderID).Msg("status update for untracked provider id, dropping")
		return nil
	}
	if err != nil {
		return err
	}
	if TerminalStatus(item.Status) {
		return nil
	}

	status, ok := mapProviderStatus(upd.Status)
	if !ok {
		t.log.Debug().Str("provider_id", upd.ProviderID).Str("status", upd.Status).
			Msg("unmapped provider status, dropping")
		return nil
	}
	if err := t.items.UpdateStatus(ctx, item.Channel, item.ID, status, upd.StartedAt); err != nil {
		return fmt.Errorf("failed to apply status update to item %s: %w", item.ID, err)
	}
	if TerminalStatus(status) {
		return t.notifyParent(ctx, item, status)
	}
	return nil
}

// HandleFinalReport applies the provider's end-of-call or delivery report.
// A failed delivery with a retryable end reason goes back through the retry
// policy instead of finalizing.
func (t *Tracker) HandleFinalReport(ctx context.Context, rep FinalReport) error {
	item, err := t.items.FindByProviderID(ctx, rep.ProviderID)
	if errors.Is(err, ErrNotFound) {
		t.log.Debug().Str("provider_id", rep.ProviderID).Msg("final report for untracked provider id, dropping")
		return nil
	}
	if err != nil {
		return err
	}
	if TerminalStatus(item.Status) {
		return nil
	}

	if failureEndReasons[rep.EndedReason] {
		return t.handleFailedDelivery(ctx, item, rep.EndedReason)
	}

	out := Outcome{Transcript: rep.Transcript, Cost: rep.Cost}
	if d := reportDuration(item, rep); d != nil {
		out.DurationSeconds = d
	}
	if err := t.items.Complete(ctx, item.Channel, item.ID, out); err != nil {
		return fmt.Errorf("failed to complete item %s: %w", item.ID, err)
	}
	t.log.Info().Str("item_id", item.ID.String()).Str("channel", item.Channel).
		Msg("scheduled item completed")
	return t.notifyParent(ctx, item, StatusCompleted)
}

func (t *Tracker) handleFailedDelivery(ctx context.Context, item *Item, reason string) error {
	dec := t.policy.Decide(reason, item.RetryCount)
	if !dec.Retry {
		if err := t.items.Fail(ctx, item.Channel, item.ID, reason); err != nil {
			return fmt.Errorf("failed to mark item %s failed: %w", item.ID, err)
		}
		t.log.Warn().Str("item_id", item.ID.String()).Str("reason", reason).
			Msg("delivery failed permanently")
		return t.notifyParent(ctx, item, StatusFailed)
	}

	nextAt := t.now().UTC().Add(dec.Delay)
	if err := t.items.Requeue(ctx, item.Channel, item.ID, item.RetryCount+1, nextAt, reason); err != nil {
		return fmt.Errorf("failed to requeue item %s: %w", item.ID, err)
	}
	if _, err := t.gateway.Enqueue(ctx, item.Channel, item.ID, nextAt); err != nil {
		return fmt.Errorf("failed to enqueue retry for item %s: %w", item.ID, err)
	}
	t.log.Warn().Str("item_id", item.ID.String()).Str("reason", reason).
		Int("retry_count", item.RetryCount+1).Time("next_retry_at", nextAt).
		Msg("delivery failed, retry scheduled")
	return nil
}

func (t *Tracker) notifyParent(ctx context.Context, item *Item, status string) error {
	if err := t.parents.ItemTerminal(ctx, item.Channel, item.ID, status); err != nil {
		return fmt.Errorf("failed to advance auto-scheduled record for item %s: %w", item.ID, err)
	}
	return nil
}

// mapProviderStatus translates the provider's status vocabulary to the item
// status enum.
func mapProviderStatus(s string) (string, bool) {
	switch s {
	case "queued", "ringing", "in-progress", "forwarding", "sending":
		return StatusInProgress, true
	case "completed", "ended", "delivered":
		return StatusCompleted, true
	case "failed", "error":
		return StatusFailed, true
	default:
		return "", false
	}
}

func reportDuration(item *Item, rep FinalReport) *int {
	start := rep.StartedAt
	if start == nil {
		start = item.StartedAt
	}
	if start == nil || rep.EndedAt == nil {
		return nil
	}
	secs := int(rep.EndedAt.Sub(*start).Seconds())
	if secs < 0 {
		return nil
	}
	return &secs
}
