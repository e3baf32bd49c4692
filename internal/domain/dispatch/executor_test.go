package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pawsitive/followup/internal/domain/caserecord"
	"github.com/pawsitive/followup/internal/domain/clinic"
	"github.com/pawsitive/followup/internal/platform/provider"
	"github.com/pawsitive/followup/internal/platform/queue"
)

func strptr(s string) *string { return &s }

type executorFixture struct {
	exec    *Executor
	items   *mockItemRepo
	client  *stubClient
	gateway *queue.MemoryGateway
	parent  *mockParent
	item    *Item
	cs      *caserecord.Case
}

func newExecutorFixture(t *testing.T, channel string) *executorFixture {
	t.Helper()
	clinicID := uuid.New()
	cs := &caserecord.Case{
		ID:         uuid.New(),
		ClinicID:   clinicID,
		Status:     "completed",
		OwnerPhone: strptr("4155550100"),
		OwnerEmail: strptr("owner@example.com"),
		PetName:    strptr("Biscuit"),
		CreatedAt:  time.Now().Add(-48 * time.Hour),
	}
	item := &Item{
		ID:           uuid.New(),
		Channel:      channel,
		CaseID:       cs.ID,
		Recipient:    "4155550100",
		ScheduledFor: time.Now(),
		Status:       StatusQueued,
	}
	client := &stubClient{disp: provider.Dispatch{ProviderID: "prov-123", Status: "queued"}}
	gateway := queue.NewMemoryGateway()
	parent := &mockParent{}
	items := newMockItemRepo(item)

	exec := NewExecutor(items, newMockCaseRepo(cs),
		&mockContacts{enrichment: &caserecord.Enrichment{DischargeSummary: "Keep the wound dry."}},
		newMockClinicRepo(&clinic.Clinic{ID: clinicID, Name: "Pawsitive North", Timezone: "UTC"}),
		&stubProviders{client: client}, gateway, parent, DefaultPolicy(), zerolog.Nop())
	return &executorFixture{exec: exec, items: items, client: client, gateway: gateway, parent: parent, item: item, cs: cs}
}

func TestExecutor_DispatchesQueuedCall(t *testing.T) {
	f := newExecutorFixture(t, ChannelCall)

	res, err := f.exec.Execute(context.Background(), ChannelCall, f.item.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusInProgress || res.NoOp {
		t.Errorf("result = %+v, want in_progress dispatch", res)
	}
	if f.client.calls != 1 {
		t.Errorf("provider called %d times, want 1", f.client.calls)
	}
	stored := f.items.items[f.item.ID]
	if stored.ProviderID == nil || *stored.ProviderID != "prov-123" {
		t.Error("expected provider id recorded on item")
	}
	if stored.Summary == nil || *stored.Summary != "Keep the wound dry." {
		t.Error("expected payload re-enriched with current discharge summary")
	}
}

func TestExecutor_NonQueuedItemIsNoOp(t *testing.T) {
	// Duplicate queue delivery after the item already failed must not reach
	// the provider.
	f := newExecutorFixture(t, ChannelCall)
	f.item.Status = StatusFailed

	res, err := f.exec.Execute(context.Background(), ChannelCall, f.item.ID)
	if err != nil {
		t.Fatalf("expected no-op success, got error: %v", err)
	}
	if !res.NoOp || res.Status != StatusFailed {
		t.Errorf("result = %+v, want failed no-op", res)
	}
	if f.client.calls != 0 {
		t.Error("provider must not be called for a non-queued item")
	}
}

func TestExecutor_SecondInvocationIsIdempotent(t *testing.T) {
	f := newExecutorFixture(t, ChannelCall)

	if _, err := f.exec.Execute(context.Background(), ChannelCall, f.item.ID); err != nil {
		t.Fatalf("first execution failed: %v", err)
	}
	res, err := f.exec.Execute(context.Background(), ChannelCall, f.item.ID)
	if err != nil {
		t.Fatalf("second execution failed: %v", err)
	}
	if !res.NoOp {
		t.Error("second execution should be a no-op")
	}
	if f.client.calls != 1 {
		t.Errorf("provider called %d times across duplicate invocations, want 1", f.client.calls)
	}
}

func TestExecutor_MissingItemIsError(t *testing.T) {
	f := newExecutorFixture(t, ChannelCall)

	if _, err := f.exec.Execute(context.Background(), ChannelCall, uuid.New()); err == nil {
		t.Error("expected error for unknown item id")
	}
	if f.client.calls != 0 {
		t.Error("provider must not be called")
	}
}

func TestExecutor_RetryableRejectionRequeues(t *testing.T) {
	f := newExecutorFixture(t, ChannelCall)
	f.client.err = &provider.RejectionError{Reason: "dial-busy"}
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f.exec.now = func() time.Time { return fixed }

	res, err := f.exec.Execute(context.Background(), ChannelCall, f.item.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusQueued {
		t.Errorf("status = %s, want queued", res.Status)
	}
	stored := f.items.items[f.item.ID]
	if stored.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", stored.RetryCount)
	}
	wantAt := fixed.Add(5 * time.Minute)
	if stored.NextRetryAt == nil || !stored.NextRetryAt.Equal(wantAt) {
		t.Errorf("next retry at = %v, want %v", stored.NextRetryAt, wantAt)
	}
	pending := f.gateway.Pending()
	if len(pending) != 1 || !pending[0].FireAt.Equal(wantAt) {
		t.Errorf("expected one queue message at %v, got %+v", wantAt, pending)
	}
}

func TestExecutor_TimeoutIsRetryable(t *testing.T) {
	f := newExecutorFixture(t, ChannelEmail)
	f.client.err = provider.ErrTimeout

	res, err := f.exec.Execute(context.Background(), ChannelEmail, f.item.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusQueued {
		t.Errorf("status = %s, want queued", res.Status)
	}
	stored := f.items.items[f.item.ID]
	if stored.LastFailureReason == nil || *stored.LastFailureReason != ReasonProviderTimeout {
		t.Errorf("failure reason = %v, want %s", stored.LastFailureReason, ReasonProviderTimeout)
	}
}

func TestExecutor_CaseLoadFailureIsRetried(t *testing.T) {
	// A store blip while loading the case must requeue the item under the
	// retry policy, not fail it permanently.
	f := newExecutorFixture(t, ChannelCall)
	delete(f.exec.cases.(*mockCaseRepo).cases, f.cs.ID)

	res, err := f.exec.Execute(context.Background(), ChannelCall, f.item.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusQueued {
		t.Errorf("status = %s, want queued", res.Status)
	}
	stored := f.items.items[f.item.ID]
	if stored.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", stored.RetryCount)
	}
	if stored.LastFailureReason == nil || *stored.LastFailureReason != ReasonTransientError {
		t.Errorf("failure reason = %v, want %s", stored.LastFailureReason, ReasonTransientError)
	}
	if len(f.gateway.Pending()) != 1 {
		t.Errorf("expected one retry message, got %d", len(f.gateway.Pending()))
	}
	if len(f.parent.notified) != 0 {
		t.Errorf("parent must not be notified on a retryable failure, got %v", f.parent.notified)
	}
	if f.client.calls != 0 {
		t.Error("provider must not be called when the case cannot be loaded")
	}
}

func TestExecutor_ExhaustedRetriesFailAndNotifyParent(t *testing.T) {
	f := newExecutorFixture(t, ChannelCall)
	f.item.RetryCount = 3
	f.client.err = &provider.RejectionError{Reason: "dial-busy"}

	res, err := f.exec.Execute(context.Background(), ChannelCall, f.item.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusFailed {
		t.Errorf("status = %s, want failed", res.Status)
	}
	if len(f.parent.notified) != 1 || f.parent.notified[0] != "call:failed" {
		t.Errorf("parent notifications = %v, want [call:failed]", f.parent.notified)
	}
	if len(f.gateway.Pending()) != 0 {
		t.Error("no retry message expected")
	}
}

func TestExecutor_NonRetryableRejectionFails(t *testing.T) {
	f := newExecutorFixture(t, ChannelCall)
	f.client.err = &provider.RejectionError{Reason: "invalid-number"}

	res, err := f.exec.Execute(context.Background(), ChannelCall, f.item.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusFailed {
		t.Errorf("status = %s, want failed", res.Status)
	}
	stored := f.items.items[f.item.ID]
	if stored.LastFailureReason == nil || *stored.LastFailureReason != "invalid-number" {
		t.Errorf("failure reason = %v, want invalid-number", stored.LastFailureReason)
	}
}
