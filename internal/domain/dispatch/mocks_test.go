package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pawsitive/followup/internal/domain/caserecord"
	"github.com/pawsitive/followup/internal/domain/clinic"
	"github.com/pawsitive/followup/internal/domain/schedconfig"
	"github.com/pawsitive/followup/internal/platform/provider"
)

type mockItemRepo struct {
	items map[uuid.UUID]*Item
}

func newMockItemRepo(items ...*Item) *mockItemRepo {
	m := &mockItemRepo{items: make(map[uuid.UUID]*Item)}
	for _, it := range items {
		m.items[it.ID] = it
	}
	return m
}

func (m *mockItemRepo) Create(_ context.Context, item *Item) error {
	m.items[item.ID] = item
	return nil
}

func (m *mockItemRepo) GetByID(_ context.Context, channel string, id uuid.UUID) (*Item, error) {
	it, ok := m.items[id]
	if !ok || it.Channel != channel {
		return nil, ErrNotFound
	}
	cp := *it
	return &cp, nil
}

func (m *mockItemRepo) FindActiveByCase(_ context.Context, channel string, caseID uuid.UUID) ([]*Item, error) {
	var out []*Item
	for _, it := range m.items {
		if it.Channel == channel && it.CaseID == caseID && !TerminalStatus(it.Status) {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *mockItemRepo) FindByProviderID(_ context.Context, providerID string) (*Item, error) {
	for _, it := range m.items {
		if it.ProviderID != nil && *it.ProviderID == providerID {
			cp := *it
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockItemRepo) Claim(_ context.Context, channel string, id uuid.UUID) (bool, error) {
	it, ok := m.items[id]
	if !ok || it.Channel != channel || it.Status != StatusQueued {
		return false, nil
	}
	it.Status = StatusInProgress
	return true, nil
}

func (m *mockItemRepo) SetDispatched(_ context.Context, _ string, id uuid.UUID, providerID string, startedAt time.Time) error {
	it, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	it.ProviderID = &providerID
	it.StartedAt = &startedAt
	return nil
}

func (m *mockItemRepo) Requeue(_ context.Context, _ string, id uuid.UUID, retryCount int, nextRetryAt time.Time, reason string) error {
	it, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	it.Status = StatusQueued
	it.RetryCount = retryCount
	it.NextRetryAt = &nextRetryAt
	it.LastFailureReason = &reason
	return nil
}

func (m *mockItemRepo) Fail(_ context.Context, _ string, id uuid.UUID, reason string) error {
	it, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	it.Status = StatusFailed
	it.LastFailureReason = &reason
	return nil
}

func (m *mockItemRepo) Complete(_ context.Context, _ string, id uuid.UUID, out Outcome) error {
	it, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	it.Status = StatusCompleted
	it.DurationSeconds = out.DurationSeconds
	it.Transcript = out.Transcript
	it.Cost = out.Cost
	return nil
}

func (m *mockItemRepo) UpdateStatus(_ context.Context, _ string, id uuid.UUID, status string, startedAt *time.Time) error {
	it, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	it.Status = status
	if it.StartedAt == nil {
		it.StartedAt = startedAt
	}
	return nil
}

func (m *mockItemRepo) Cancel(_ context.Context, _ string, id uuid.UUID) (bool, error) {
	it, ok := m.items[id]
	if !ok || it.Status != StatusQueued {
		return false, nil
	}
	it.Status = StatusCancelled
	return true, nil
}

type mockCaseRepo struct {
	cases map[uuid.UUID]*caserecord.Case
}

func newMockCaseRepo(cases ...*caserecord.Case) *mockCaseRepo {
	m := &mockCaseRepo{cases: make(map[uuid.UUID]*caserecord.Case)}
	for _, c := range cases {
		m.cases[c.ID] = c
	}
	return m
}

func (m *mockCaseRepo) GetByID(_ context.Context, id uuid.UUID) (*caserecord.Case, error) {
	c, ok := m.cases[id]
	if !ok {
		return nil, errors.New("case not found")
	}
	return c, nil
}

func (m *mockCaseRepo) FindCandidates(context.Context, uuid.UUID, schedconfig.EligibilityCriteria, time.Time) ([]*caserecord.Case, error) {
	return nil, nil
}

func (m *mockCaseRepo) StampAutoScheduled(context.Context, uuid.UUID, time.Time) error { return nil }
func (m *mockCaseRepo) ClearAutoScheduled(context.Context, uuid.UUID) error           { return nil }

type mockContacts struct {
	enrichment *caserecord.Enrichment
	err        error
}

func (m *mockContacts) Lookup(context.Context, uuid.UUID) (*caserecord.Enrichment, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.enrichment, nil
}

type mockClinicRepo struct {
	clinics map[uuid.UUID]*clinic.Clinic
}

func newMockClinicRepo(cs ...*clinic.Clinic) *mockClinicRepo {
	m := &mockClinicRepo{clinics: make(map[uuid.UUID]*clinic.Clinic)}
	for _, c := range cs {
		m.clinics[c.ID] = c
	}
	return m
}

func (m *mockClinicRepo) GetByID(_ context.Context, id uuid.UUID) (*clinic.Clinic, error) {
	c, ok := m.clinics[id]
	if !ok {
		return nil, errors.New("clinic not found")
	}
	return c, nil
}

type stubClient struct {
	calls  int
	emails int
	err    error
	disp   provider.Dispatch
}

func (s *stubClient) DispatchCall(context.Context, provider.CallRequest) (*provider.Dispatch, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	d := s.disp
	return &d, nil
}

func (s *stubClient) DispatchEmail(context.Context, provider.EmailRequest) (*provider.Dispatch, error) {
	s.emails++
	if s.err != nil {
		return nil, s.err
	}
	d := s.disp
	return &d, nil
}

type stubProviders struct {
	client *stubClient
	err    error
}

func (s *stubProviders) For(context.Context, uuid.UUID) (provider.Client, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.client, nil
}

type mockParent struct {
	notified []string
}

func (m *mockParent) ItemTerminal(_ context.Context, channel string, _ uuid.UUID, status string) error {
	m.notified = append(m.notified, channel+":"+status)
	return nil
}
