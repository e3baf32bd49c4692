package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pawsitive/followup/internal/domain/caserecord"
	"github.com/pawsitive/followup/internal/domain/clinic"
	"github.com/pawsitive/followup/internal/platform/provider"
	"github.com/pawsitive/followup/internal/platform/queue"
)

// ProviderSource hands out the vendor client for a clinic. Implemented by
// provider.Registry.
type ProviderSource interface {
	For(ctx context.Context, clinicID uuid.UUID) (provider.Client, error)
}

// Result is what the executor reports back to the queue webhook.
type Result struct {
	ItemID  uuid.UUID `json:"item_id"`
	Channel string    `json:"channel"`
	Status  string    `json:"status"`
	// NoOp is true when the item had already left queued state and the
	// invocation was absorbed without side effects.
	NoOp bool `json:"no_op,omitempty"`
}

// Executor fires a scheduled item: it claims the row, re-enriches the
// payload from current case state, hands it to the vendor, and applies the
// retry policy on synchronous failure. Safe under at-least-once delivery
// and concurrent duplicate invocations.
type Executor struct {
	items     Repository
	cases     caserecord.Repository
	contacts  caserecord.ContactSource
	clinics   clinic.Repository
	providers ProviderSource
	gateway   queue.Gateway
	parents   ParentTracker
	policy    Policy
	log       zerolog.Logger
	now       func() time.Time
}

func NewExecutor(items Repository, cases caserecord.Repository, contacts caserecord.ContactSource,
	clinics clinic.Repository, providers ProviderSource, gateway queue.Gateway,
	parents ParentTracker, policy Policy, log zerolog.Logger) *Executor {
	return &Executor{
		items:     items,
		cases:     cases,
		contacts:  contacts,
		clinics:   clinics,
		providers: providers,
		gateway:   gateway,
		parents:   parents,
		policy:    policy,
		log:       log,
		now:       time.Now,
	}
}

// Execute dispatches one item. A missing item is an error (the queue may
// redeliver, which is safe); an item no longer in queued state is a
// successful no-op.
func (e *Executor) Execute(ctx context.Context, channel string, itemID uuid.UUID) (*Result, error) {
	item, err := e.items.GetByID(ctx, channel, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load scheduled item %s: %w", itemID, err)
	}

	claimed, err := e.items.Claim(ctx, channel, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim scheduled item %s: %w", itemID, err)
	}
	if !claimed {
		// Duplicate delivery or manual re-trigger. Re-read for the
		// current status and report it without touching anything.
		current, err := e.items.GetByID(ctx, channel, itemID)
		if err != nil {
			return nil, err
		}
		e.log.Info().Str("item_id", itemID.String()).Str("status", current.Status).
			Msg("scheduled item already handled, skipping dispatch")
		return &Result{ItemID: itemID, Channel: channel, Status: current.Status, NoOp: true}, nil
	}

	// Case and clinic reads can fail on a transient store error; those go
	// through the retry policy like any other transient dispatch failure.
	cs, err := e.cases.GetByID(ctx, item.CaseID)
	if err != nil {
		return e.handleFailure(ctx, item, fmt.Errorf("failed to load case %s: %w", item.CaseID, err))
	}
	cl, err := e.clinics.GetByID(ctx, cs.ClinicID)
	if err != nil {
		return e.handleFailure(ctx, item, fmt.Errorf("failed to load clinic %s: %w", cs.ClinicID, err))
	}

	e.enrich(ctx, item, cs)

	client, err := e.providers.For(ctx, cs.ClinicID)
	if err != nil {
		// Missing credentials are a configuration error, not a transient
		// one.
		return e.failItem(ctx, item, "missing-provider-credentials", err)
	}

	dispatched, dispErr := e.dispatch(ctx, client, cl, item)
	if dispErr != nil {
		return e.handleFailure(ctx, item, dispErr)
	}

	started := e.now().UTC()
	if err := e.items.SetDispatched(ctx, channel, itemID, dispatched.ProviderID, started); err != nil {
		return nil, fmt.Errorf("failed to record dispatch of item %s: %w", itemID, err)
	}
	e.log.Info().Str("item_id", itemID.String()).Str("channel", channel).
		Str("provider_id", dispatched.ProviderID).Msg("scheduled item dispatched")
	return &Result{ItemID: itemID, Channel: channel, Status: StatusInProgress}, nil
}

// enrich refreshes contact and clinical content from the current case state,
// keeping the payload stored at schedule time when nothing newer is
// available.
func (e *Executor) enrich(ctx context.Context, item *Item, cs *caserecord.Case) {
	switch item.Channel {
	case ChannelCall:
		if cs.HasValidPhone() {
			item.Recipient = *cs.OwnerPhone
		}
	case ChannelEmail:
		if cs.HasValidEmail() {
			item.Recipient = *cs.OwnerEmail
		}
	}
	if cs.PetName != nil && *cs.PetName != "" {
		item.PetName = cs.PetName
	}

	enr, err := e.contacts.Lookup(ctx, item.CaseID)
	if err != nil {
		e.log.Warn().Err(err).Str("case_id", item.CaseID.String()).
			Msg("enrichment lookup failed, using stored payload")
		return
	}
	if enr.DischargeSummary != "" {
		item.Summary = &enr.DischargeSummary
	}
}

func (e *Executor) dispatch(ctx context.Context, client provider.Client, cl *clinic.Clinic, item *Item) (*provider.Dispatch, error) {
	var pet, summary string
	if item.PetName != nil {
		pet = *item.PetName
	}
	if item.Summary != nil {
		summary = *item.Summary
	}
	switch item.Channel {
	case ChannelCall:
		return client.DispatchCall(ctx, provider.CallRequest{
			ItemID:      item.ID,
			ClinicName:  cl.Name,
			ClinicPhone: cl.PhoneOrEmpty(),
			OwnerPhone:  item.Recipient,
			PetName:     pet,
			Summary:     summary,
		})
	case ChannelEmail:
		return client.DispatchEmail(ctx, provider.EmailRequest{
			ItemID:     item.ID,
			ClinicName: cl.Name,
			OwnerEmail: item.Recipient,
			PetName:    pet,
			Summary:    summary,
		})
	default:
		return nil, fmt.Errorf("unknown channel %q", item.Channel)
	}
}

// handleFailure maps a synchronous dispatch error to a failure reason and
// applies the retry policy.
func (e *Executor) handleFailure(ctx context.Context, item *Item, dispErr error) (*Result, error) {
	reason := ReasonTransientError
	var rej *provider.RejectionError
	switch {
	case errors.Is(dispErr, provider.ErrTimeout):
		reason = ReasonProviderTimeout
	case errors.As(dispErr, &rej):
		reason = rej.Reason
	}

	dec := e.policy.Decide(reason, item.RetryCount)
	if !dec.Retry {
		return e.failItem(ctx, item, reason, dispErr)
	}

	nextAt := e.now().UTC().Add(dec.Delay)
	if err := e.items.Requeue(ctx, item.Channel, item.ID, item.RetryCount+1, nextAt, reason); err != nil {
		return nil, fmt.Errorf("failed to requeue item %s: %w", item.ID, err)
	}
	if _, err := e.gateway.Enqueue(ctx, item.Channel, item.ID, nextAt); err != nil {
		return nil, fmt.Errorf("failed to enqueue retry for item %s: %w", item.ID, err)
	}
	e.log.Warn().Err(dispErr).Str("item_id", item.ID.String()).Str("reason", reason).
		Int("retry_count", item.RetryCount+1).Time("next_retry_at", nextAt).
		Msg("dispatch failed, retry scheduled")
	return &Result{ItemID: item.ID, Channel: item.Channel, Status: StatusQueued}, nil
}

func (e *Executor) failItem(ctx context.Context, item *Item, reason string, cause error) (*Result, error) {
	if err := e.items.Fail(ctx, item.Channel, item.ID, reason); err != nil {
		return nil, fmt.Errorf("failed to mark item %s failed: %w", item.ID, err)
	}
	if err := e.parents.ItemTerminal(ctx, item.Channel, item.ID, StatusFailed); err != nil {
		e.log.Error().Err(err).Str("item_id", item.ID.String()).
			Msg("failed to propagate item failure to auto-scheduled record")
	}
	e.log.Error().Err(cause).Str("item_id", item.ID.String()).Str("reason", reason).
		Msg("scheduled item failed permanently")
	return &Result{ItemID: item.ID, Channel: item.Channel, Status: StatusFailed}, nil
}
