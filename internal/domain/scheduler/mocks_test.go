package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pawsitive/followup/internal/domain/caserecord"
	"github.com/pawsitive/followup/internal/domain/clinic"
	"github.com/pawsitive/followup/internal/domain/dispatch"
	"github.com/pawsitive/followup/internal/domain/schedconfig"
	"github.com/pawsitive/followup/pkg/pagination"
)

// passTx runs the function without a real transaction.
func passTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type mockRepo struct {
	runs      map[uuid.UUID]*Run
	autoItems map[uuid.UUID]*AutoScheduledItem
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		runs:      make(map[uuid.UUID]*Run),
		autoItems: make(map[uuid.UUID]*AutoScheduledItem),
	}
}

func (m *mockRepo) CreateRun(_ context.Context, run *Run) error {
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *mockRepo) FinishRun(_ context.Context, run *Run) error {
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *mockRepo) GetRun(_ context.Context, id uuid.UUID) (*Run, error) {
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return run, nil
}

func (m *mockRepo) ListRuns(_ context.Context, p pagination.Params) ([]*Run, int, error) {
	var out []*Run
	for _, r := range m.runs {
		out = append(out, r)
	}
	return out, len(out), nil
}

func (m *mockRepo) CreateAutoItem(_ context.Context, item *AutoScheduledItem) error {
	for _, existing := range m.autoItems {
		if existing.CaseID == item.CaseID && existing.Status == AutoStatusScheduled {
			return errors.New("duplicate active auto-scheduled item for case")
		}
	}
	m.autoItems[item.ID] = item
	return nil
}

func (m *mockRepo) GetAutoItem(_ context.Context, id uuid.UUID) (*AutoScheduledItem, error) {
	it, ok := m.autoItems[id]
	if !ok {
		return nil, ErrNotFound
	}
	return it, nil
}

func (m *mockRepo) ListAutoItems(_ context.Context, p pagination.Params) ([]*AutoScheduledItem, int, error) {
	var out []*AutoScheduledItem
	for _, it := range m.autoItems {
		out = append(out, it)
	}
	return out, len(out), nil
}

func (m *mockRepo) FindActiveByCase(_ context.Context, caseID uuid.UUID) (*AutoScheduledItem, error) {
	for _, it := range m.autoItems {
		if it.CaseID == caseID && it.Status == AutoStatusScheduled {
			return it, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) FindByScheduledItem(_ context.Context, channel string, itemID uuid.UUID) (*AutoScheduledItem, error) {
	for _, it := range m.autoItems {
		if channel == dispatch.ChannelCall && it.ScheduledCallID != nil && *it.ScheduledCallID == itemID {
			return it, nil
		}
		if channel == dispatch.ChannelEmail && it.ScheduledEmailID != nil && *it.ScheduledEmailID == itemID {
			return it, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) AdvanceStatus(_ context.Context, id uuid.UUID, status string) (bool, error) {
	it, ok := m.autoItems[id]
	if !ok || it.Status != AutoStatusScheduled {
		return false, nil
	}
	it.Status = status
	return true, nil
}

func (m *mockRepo) MarkCancelled(_ context.Context, id uuid.UUID, userID, reason string, at time.Time) (bool, error) {
	it, ok := m.autoItems[id]
	if !ok || it.Status != AutoStatusScheduled {
		return false, nil
	}
	it.Status = AutoStatusCancelled
	it.CancelledBy = &userID
	it.CancelledAt = &at
	it.CancelReason = &reason
	return true, nil
}

type mockConfigRepo struct {
	configs map[uuid.UUID]*schedconfig.SchedulingConfig
}

func newMockConfigRepo(cfgs ...*schedconfig.SchedulingConfig) *mockConfigRepo {
	m := &mockConfigRepo{configs: make(map[uuid.UUID]*schedconfig.SchedulingConfig)}
	for _, c := range cfgs {
		m.configs[c.ClinicID] = c
	}
	return m
}

func (m *mockConfigRepo) Get(_ context.Context, clinicID uuid.UUID) (*schedconfig.SchedulingConfig, error) {
	cfg, ok := m.configs[clinicID]
	if !ok {
		return nil, schedconfig.ErrNotFound
	}
	return cfg, nil
}

func (m *mockConfigRepo) GetOrCreate(ctx context.Context, clinicID uuid.UUID) (*schedconfig.SchedulingConfig, error) {
	if cfg, ok := m.configs[clinicID]; ok {
		return cfg, nil
	}
	cfg := schedconfig.DefaultConfig(clinicID)
	cfg.ID = uuid.New()
	m.configs[clinicID] = cfg
	return cfg, nil
}

func (m *mockConfigRepo) Update(_ context.Context, cfg *schedconfig.SchedulingConfig) error {
	m.configs[cfg.ClinicID] = cfg
	return nil
}

func (m *mockConfigRepo) ListEnabled(_ context.Context) ([]*schedconfig.SchedulingConfig, error) {
	var out []*schedconfig.SchedulingConfig
	for _, c := range m.configs {
		if c.Enabled {
			out = append(out, c)
		}
	}
	return out, nil
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

type mockCaseRepo struct {
	cases   map[uuid.UUID]*caserecord.Case
	stamped map[uuid.UUID]time.Time
	cleared map[uuid.UUID]bool
}

func newMockCaseRepo(cases ...*caserecord.Case) *mockCaseRepo {
	m := &mockCaseRepo{
		cases:   make(map[uuid.UUID]*caserecord.Case),
		stamped: make(map[uuid.UUID]time.Time),
		cleared: make(map[uuid.UUID]bool),
	}
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

func (m *mockCaseRepo) FindCandidates(_ context.Context, clinicID uuid.UUID, _ schedconfig.EligibilityCriteria, _ time.Time) ([]*caserecord.Case, error) {
	var out []*caserecord.Case
	for _, c := range m.cases {
		if c.ClinicID == clinicID && c.AutoScheduledAt == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockCaseRepo) StampAutoScheduled(_ context.Context, caseID uuid.UUID, at time.Time) error {
	m.stamped[caseID] = at
	if c, ok := m.cases[caseID]; ok {
		c.AutoScheduledAt = &at
		src := caserecord.SourceAuto
		c.SchedulingSource = &src
	}
	return nil
}

func (m *mockCaseRepo) ClearAutoScheduled(_ context.Context, caseID uuid.UUID) error {
	m.cleared[caseID] = true
	if c, ok := m.cases[caseID]; ok {
		c.AutoScheduledAt = nil
		c.SchedulingSource = nil
	}
	return nil
}

type mockContacts struct {
	enrichment *caserecord.Enrichment
	err        error
}

func (m *mockContacts) Lookup(context.Context, uuid.UUID) (*caserecord.Enrichment, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.enrichment == nil {
		return &caserecord.Enrichment{}, nil
	}
	return m.enrichment, nil
}

type mockItemRepo struct {
	items     map[uuid.UUID]*dispatch.Item
	createErr error
}

func newMockItemRepo() *mockItemRepo {
	return &mockItemRepo{items: make(map[uuid.UUID]*dispatch.Item)}
}

func (m *mockItemRepo) Create(_ context.Context, item *dispatch.Item) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.items[item.ID] = item
	return nil
}

func (m *mockItemRepo) GetByID(_ context.Context, channel string, id uuid.UUID) (*dispatch.Item, error) {
	it, ok := m.items[id]
	if !ok || it.Channel != channel {
		return nil, dispatch.ErrNotFound
	}
	return it, nil
}

func (m *mockItemRepo) FindActiveByCase(_ context.Context, channel string, caseID uuid.UUID) ([]*dispatch.Item, error) {
	var out []*dispatch.Item
	for _, it := range m.items {
		if it.Channel == channel && it.CaseID == caseID && !dispatch.TerminalStatus(it.Status) {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *mockItemRepo) FindByProviderID(context.Context, string) (*dispatch.Item, error) {
	return nil, dispatch.ErrNotFound
}

func (m *mockItemRepo) Claim(context.Context, string, uuid.UUID) (bool, error) { return false, nil }

func (m *mockItemRepo) SetDispatched(context.Context, string, uuid.UUID, string, time.Time) error {
	return nil
}

func (m *mockItemRepo) Requeue(context.Context, string, uuid.UUID, int, time.Time, string) error {
	return nil
}

func (m *mockItemRepo) Fail(context.Context, string, uuid.UUID, string) error { return nil }

func (m *mockItemRepo) Complete(context.Context, string, uuid.UUID, dispatch.Outcome) error {
	return nil
}

func (m *mockItemRepo) UpdateStatus(context.Context, string, uuid.UUID, string, *time.Time) error {
	return nil
}

func (m *mockItemRepo) Cancel(_ context.Context, _ string, id uuid.UUID) (bool, error) {
	it, ok := m.items[id]
	if !ok || it.Status != dispatch.StatusQueued {
		return false, nil
	}
	it.Status = dispatch.StatusCancelled
	return true, nil
}
