package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pawsitive/followup/internal/domain/caserecord"
	"github.com/pawsitive/followup/internal/domain/clinic"
	"github.com/pawsitive/followup/internal/domain/dispatch"
	"github.com/pawsitive/followup/internal/domain/schedconfig"
	"github.com/pawsitive/followup/internal/platform/queue"
	"github.com/pawsitive/followup/pkg/pagination"
)

// ErrNotCancellable is returned when cancellation hits a record that already
// left scheduled state.
var ErrNotCancellable = errors.New("only scheduled items can be cancelled")

// ReasonNoChannel marks an eligible case for which no channel could be
// scheduled, for example both channels disabled or already covered.
const ReasonNoChannel = "NO_CHANNEL_AVAILABLE"

// TxRunner runs fn atomically. Production wiring uses db.WithTx; tests use
// a pass-through.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// Service orchestrates scheduler runs and owns the auto-scheduled audit
// records. It also implements dispatch.ParentTracker so terminal item
// states flow back into the records it created.
type Service struct {
	repo     Repository
	cfgs     schedconfig.Repository
	clinics  clinic.Repository
	cases    caserecord.Repository
	contacts caserecord.ContactSource
	items    dispatch.Repository
	gateway  queue.Gateway
	tx       TxRunner
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, cfgs schedconfig.Repository, clinics clinic.Repository,
	cases caserecord.Repository, contacts caserecord.ContactSource, items dispatch.Repository,
	gateway queue.Gateway, tx TxRunner, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		cfgs:     cfgs,
		clinics:  clinics,
		cases:    cases,
		contacts: contacts,
		items:    items,
		gateway:  gateway,
		tx:       tx,
		log:      log,
		now:      time.Now,
	}
}

// RunForAllClinics executes one scheduling batch. Clinics are processed
// sequentially; a failure in one clinic is recorded and does not abort the
// others. Dry runs evaluate and report without persisting anything.
func (s *Service) RunForAllClinics(ctx context.Context, opts RunOptions) (*Run, error) {
	run := &Run{
		ID:        uuid.New(),
		StartedAt: s.now().UTC(),
		Status:    RunStatusRunning,
		DryRun:    opts.DryRun,
	}
	if !opts.DryRun {
		if err := s.repo.CreateRun(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to open run record: %w", err)
		}
	}
	s.log.Info().Str("run_id", run.ID.String()).Bool("dry_run", opts.DryRun).
		Msg("scheduler run started")

	configs, err := s.targetConfigs(ctx, opts)
	if err != nil {
		return s.finishRun(ctx, run, fmt.Errorf("failed to resolve target clinics: %w", err))
	}

	for _, cfg := range configs {
		res := s.processClinic(ctx, run, cfg, opts)
		run.ClinicResults = append(run.ClinicResults, res)
		run.CasesFound += res.CasesFound
		run.CasesScheduled += res.CasesScheduled
		run.ItemsScheduled += res.ItemsScheduled
		run.ErrorCount += len(res.Errors)
	}
	return s.finishRun(ctx, run, nil)
}

// RunForClinic runs the batch for a single clinic.
func (s *Service) RunForClinic(ctx context.Context, clinicID uuid.UUID, opts RunOptions) (*Run, error) {
	opts.ClinicIDs = []uuid.UUID{clinicID}
	return s.RunForAllClinics(ctx, opts)
}

func (s *Service) targetConfigs(ctx context.Context, opts RunOptions) ([]*schedconfig.SchedulingConfig, error) {
	if len(opts.ClinicIDs) == 0 {
		return s.cfgs.ListEnabled(ctx)
	}
	var out []*schedconfig.SchedulingConfig
	for _, id := range opts.ClinicIDs {
		cfg, err := s.cfgs.GetOrCreate(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("clinic %s: %w", id, err)
		}
		if !cfg.Enabled && !opts.Force {
			s.log.Info().Str("clinic_id", id.String()).Msg("scheduling disabled for clinic, skipping")
			continue
		}
		out = append(out, cfg)
	}
	return out, nil
}

func (s *Service) finishRun(ctx context.Context, run *Run, fatal error) (*Run, error) {
	done := s.now().UTC()
	run.CompletedAt = &done
	switch {
	case fatal != nil:
		run.Status = RunStatusFailed
		run.ErrorCount++
	case run.ErrorCount == 0:
		run.Status = RunStatusCompleted
	case run.CasesScheduled > 0:
		run.Status = RunStatusPartial
	default:
		run.Status = RunStatusFailed
	}

	if !run.DryRun {
		if err := s.repo.FinishRun(ctx, run); err != nil {
			s.log.Error().Err(err).Str("run_id", run.ID.String()).Msg("failed to finalize run record")
		}
	}
	s.log.Info().Str("run_id", run.ID.String()).Str("status", run.Status).
		Int("cases_found", run.CasesFound).Int("cases_scheduled", run.CasesScheduled).
		Int("items_scheduled", run.ItemsScheduled).Int("errors", run.ErrorCount).
		Msg("scheduler run finished")
	return run, fatal
}

func (s *Service) processClinic(ctx context.Context, run *Run, cfg *schedconfig.SchedulingConfig, opts RunOptions) ClinicResult {
	res := ClinicResult{ClinicID: cfg.ClinicID}

	cl, err := s.clinics.GetByID(ctx, cfg.ClinicID)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("failed to resolve clinic: %v", err))
		return res
	}
	res.ClinicName = cl.Name
	loc, err := cl.Location()
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	crit := cfg.Criteria.Normalized()
	now := s.now().UTC()
	candidates, err := s.cases.FindCandidates(ctx, cfg.ClinicID, crit, now)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("failed to query candidates: %v", err))
		return res
	}
	res.CasesFound = len(candidates)

	for _, c := range candidates {
		dec := Evaluate(c, crit, now)
		if !dec.Eligible {
			res.Skips = append(res.Skips, SkipRecord{CaseID: c.ID, ReasonCode: dec.ReasonCode, ReasonText: dec.ReasonText})
			continue
		}

		// Guard independent of the evaluator: a prior run may have
		// stamped the record without this case snapshot reflecting it.
		if _, err := s.repo.FindActiveByCase(ctx, c.ID); err == nil {
			res.Skips = append(res.Skips, SkipRecord{CaseID: c.ID, ReasonCode: ReasonActiveItemExists,
				ReasonText: "case already has an active auto-scheduled item"})
			continue
		} else if !errors.Is(err, ErrNotFound) {
			res.Errors = append(res.Errors, fmt.Sprintf("case %s: %v", c.ID, err))
			continue
		}

		created, err := s.processCase(ctx, run, cfg, cl, loc, c, opts)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("case %s: %v", c.ID, err))
			continue
		}
		if created == 0 {
			res.Skips = append(res.Skips, SkipRecord{CaseID: c.ID, ReasonCode: ReasonNoChannel,
				ReasonText: "no enabled, contactable, unscheduled channel"})
			continue
		}
		res.CasesScheduled++
		res.ItemsScheduled += created
	}
	return res
}

type plannedItem struct {
	channel   string
	recipient string
	fireAt    time.Time
}

// processCase schedules the enabled, contactable channels for one eligible
// case and returns the number of items created. Item creation, the audit
// record, and the case stamp commit atomically.
func (s *Service) processCase(ctx context.Context, run *Run, cfg *schedconfig.SchedulingConfig,
	cl *clinic.Clinic, loc *time.Location, c *caserecord.Case, opts RunOptions) (int, error) {
	now := s.now().UTC()

	var planned []plannedItem
	if cfg.AutoEmailEnabled && c.HasValidEmail() {
		ok, err := s.channelFree(ctx, dispatch.ChannelEmail, c.ID)
		if err != nil {
			return 0, err
		}
		if ok {
			at, err := SendTime(c.CreatedAt, cfg.EmailDelayDays, cfg.PreferredEmailTime, loc, now)
			if err != nil {
				return 0, err
			}
			planned = append(planned, plannedItem{dispatch.ChannelEmail, *c.OwnerEmail, at})
		}
	}
	if cfg.AutoCallEnabled && c.HasValidPhone() {
		ok, err := s.channelFree(ctx, dispatch.ChannelCall, c.ID)
		if err != nil {
			return 0, err
		}
		if ok {
			at, err := SendTime(c.CreatedAt, cfg.CallDelayDays, cfg.PreferredCallTime, loc, now)
			if err != nil {
				return 0, err
			}
			planned = append(planned, plannedItem{dispatch.ChannelCall, *c.OwnerPhone, at})
		}
	}
	if len(planned) == 0 {
		return 0, nil
	}
	if opts.DryRun {
		return len(planned), nil
	}

	var summary *string
	if enr, err := s.contacts.Lookup(ctx, c.ID); err == nil && enr.DischargeSummary != "" {
		summary = &enr.DischargeSummary
	}

	auto := &AutoScheduledItem{
		ID:             uuid.New(),
		CaseID:         c.ID,
		ClinicID:       cfg.ClinicID,
		RunID:          &run.ID,
		Status:         AutoStatusScheduled,
		ConfigSnapshot: SnapshotOf(cfg),
	}
	err := s.tx(ctx, func(ctx context.Context) error {
		for _, p := range planned {
			item := &dispatch.Item{
				ID:           uuid.New(),
				Channel:      p.channel,
				CaseID:       c.ID,
				UserID:       c.VetUserID,
				Recipient:    p.recipient,
				PetName:      c.PetName,
				Summary:      summary,
				ScheduledFor: p.fireAt,
				Status:       dispatch.StatusQueued,
			}
			msgID, err := s.gateway.Enqueue(ctx, p.channel, item.ID, p.fireAt)
			if err != nil {
				return fmt.Errorf("failed to enqueue %s item: %w", p.channel, err)
			}
			item.QueueMessageID = &msgID
			if err := s.items.Create(ctx, item); err != nil {
				return fmt.Errorf("failed to create %s item: %w", p.channel, err)
			}
			switch p.channel {
			case dispatch.ChannelCall:
				auto.ScheduledCallID = &item.ID
			case dispatch.ChannelEmail:
				auto.ScheduledEmailID = &item.ID
			}
		}
		if err := s.repo.CreateAutoItem(ctx, auto); err != nil {
			return fmt.Errorf("failed to create auto-scheduled record: %w", err)
		}
		if err := s.cases.StampAutoScheduled(ctx, c.ID, now); err != nil {
			return fmt.Errorf("failed to stamp case: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(planned), nil
}

func (s *Service) channelFree(ctx context.Context, channel string, caseID uuid.UUID) (bool, error) {
	active, err := s.items.FindActiveByCase(ctx, channel, caseID)
	if err != nil {
		return false, fmt.Errorf("failed to check existing %s items: %w", channel, err)
	}
	return len(active) == 0, nil
}

// ItemTerminal implements dispatch.ParentTracker. The parent advances on
// the first linked item to reach a terminal state; later terminals are
// no-ops.
func (s *Service) ItemTerminal(ctx context.Context, channel string, itemID uuid.UUID, status string) error {
	parent, err := s.repo.FindByScheduledItem(ctx, channel, itemID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	target := AutoStatusFailed
	if status == dispatch.StatusCompleted {
		target = AutoStatusCompleted
	}
	advanced, err := s.repo.AdvanceStatus(ctx, parent.ID, target)
	if err != nil {
		return err
	}
	if advanced {
		s.log.Info().Str("auto_item_id", parent.ID.String()).Str("status", target).
			Msg("auto-scheduled item reached terminal state")
	}
	return nil
}

// Cancel withdraws a scheduled follow-up. Linked items still queued are
// cancelled and the case becomes eligible for a future run.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, userID, reason string) (*AutoScheduledItem, error) {
	item, err := s.repo.GetAutoItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != AutoStatusScheduled {
		return nil, ErrNotCancellable
	}

	err = s.tx(ctx, func(ctx context.Context) error {
		ok, err := s.repo.MarkCancelled(ctx, id, userID, reason, s.now().UTC())
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotCancellable
		}
		if item.ScheduledCallID != nil {
			if _, err := s.items.Cancel(ctx, dispatch.ChannelCall, *item.ScheduledCallID); err != nil {
				return err
			}
		}
		if item.ScheduledEmailID != nil {
			if _, err := s.items.Cancel(ctx, dispatch.ChannelEmail, *item.ScheduledEmailID); err != nil {
				return err
			}
		}
		return s.cases.ClearAutoScheduled(ctx, item.CaseID)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.GetAutoItem(ctx, id)
}

func (s *Service) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	return s.repo.GetRun(ctx, id)
}

func (s *Service) ListRuns(ctx context.Context, p pagination.Params) ([]*Run, int, error) {
	return s.repo.ListRuns(ctx, p)
}

func (s *Service) GetAutoItem(ctx context.Context, id uuid.UUID) (*AutoScheduledItem, error) {
	return s.repo.GetAutoItem(ctx, id)
}

func (s *Service) ListAutoItems(ctx context.Context, p pagination.Params) ([]*AutoScheduledItem, int, error) {
	return s.repo.ListAutoItems(ctx, p)
}
