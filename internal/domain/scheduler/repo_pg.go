package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pawsitive/followup/internal/domain/dispatch"
	"github.com/pawsitive/followup/internal/platform/db"
	"github.com/pawsitive/followup/pkg/pagination"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Conn {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const runCols = `id, started_at, completed_at, status, dry_run, clinic_results,
	cases_found, cases_scheduled, items_scheduled, error_count`

func scanRun(row pgx.Row) (*Run, error) {
	var run Run
	err := row.Scan(&run.ID, &run.StartedAt, &run.CompletedAt, &run.Status, &run.DryRun,
		&run.ClinicResults, &run.CasesFound, &run.CasesScheduled, &run.ItemsScheduled,
		&run.ErrorCount)
	return &run, err
}

func (r *repoPG) CreateRun(ctx context.Context, run *Run) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO run (id, started_at, status, dry_run)
		VALUES ($1, $2, $3, $4)`,
		run.ID, run.StartedAt, run.Status, run.DryRun)
	return err
}

func (r *repoPG) FinishRun(ctx context.Context, run *Run) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE run SET completed_at = $2, status = $3, clinic_results = $4,
			cases_found = $5, cases_scheduled = $6, items_scheduled = $7, error_count = $8
		WHERE id = $1`,
		run.ID, run.CompletedAt, run.Status, run.ClinicResults,
		run.CasesFound, run.CasesScheduled, run.ItemsScheduled, run.ErrorCount)
	return err
}

func (r *repoPG) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	run, err := scanRun(r.conn(ctx).QueryRow(ctx,
		`SELECT `+runCols+` FROM run WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (r *repoPG) ListRuns(ctx context.Context, p pagination.Params) ([]*Run, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM run`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+runCols+` FROM run ORDER BY started_at DESC LIMIT $1 OFFSET $2`,
		p.Limit, p.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

const autoCols = `id, case_id, clinic_id, run_id, scheduled_email_id, scheduled_call_id,
	status, config_snapshot, cancelled_by, cancelled_at, cancel_reason, created_at, updated_at`

func scanAuto(row pgx.Row) (*AutoScheduledItem, error) {
	var it AutoScheduledItem
	err := row.Scan(&it.ID, &it.CaseID, &it.ClinicID, &it.RunID, &it.ScheduledEmailID,
		&it.ScheduledCallID, &it.Status, &it.ConfigSnapshot, &it.CancelledBy,
		&it.CancelledAt, &it.CancelReason, &it.CreatedAt, &it.UpdatedAt)
	return &it, err
}

func (r *repoPG) CreateAutoItem(ctx context.Context, item *AutoScheduledItem) error {
	// The partial unique index on (case_id) WHERE status='scheduled' is
	// the concurrency guard against two runs scheduling the same case.
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO auto_scheduled_item (id, case_id, clinic_id, run_id,
			scheduled_email_id, scheduled_call_id, status, config_snapshot)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		item.ID, item.CaseID, item.ClinicID, item.RunID,
		item.ScheduledEmailID, item.ScheduledCallID, item.Status, item.ConfigSnapshot)
	return err
}

func (r *repoPG) GetAutoItem(ctx context.Context, id uuid.UUID) (*AutoScheduledItem, error) {
	it, err := scanAuto(r.conn(ctx).QueryRow(ctx,
		`SELECT `+autoCols+` FROM auto_scheduled_item WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return it, nil
}

func (r *repoPG) ListAutoItems(ctx context.Context, p pagination.Params) ([]*AutoScheduledItem, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM auto_scheduled_item`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+autoCols+` FROM auto_scheduled_item ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		p.Limit, p.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*AutoScheduledItem
	for rows.Next() {
		it, err := scanAuto(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, it)
	}
	return items, total, rows.Err()
}

func (r *repoPG) FindActiveByCase(ctx context.Context, caseID uuid.UUID) (*AutoScheduledItem, error) {
	it, err := scanAuto(r.conn(ctx).QueryRow(ctx,
		`SELECT `+autoCols+` FROM auto_scheduled_item WHERE case_id = $1 AND status = $2`,
		caseID, AutoStatusScheduled))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return it, nil
}

func (r *repoPG) FindByScheduledItem(ctx context.Context, channel string, itemID uuid.UUID) (*AutoScheduledItem, error) {
	var col string
	switch channel {
	case dispatch.ChannelCall:
		col = "scheduled_call_id"
	case dispatch.ChannelEmail:
		col = "scheduled_email_id"
	default:
		return nil, fmt.Errorf("unknown channel %q", channel)
	}
	it, err := scanAuto(r.conn(ctx).QueryRow(ctx,
		`SELECT `+autoCols+` FROM auto_scheduled_item WHERE `+col+` = $1`, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return it, nil
}

func (r *repoPG) AdvanceStatus(ctx context.Context, id uuid.UUID, status string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE auto_scheduled_item SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		id, status, AutoStatusScheduled)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) MarkCancelled(ctx context.Context, id uuid.UUID, userID, reason string, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE auto_scheduled_item SET status = $2, cancelled_by = $3, cancelled_at = $4,
			cancel_reason = $5, updated_at = NOW()
		WHERE id = $1 AND status = $6`,
		id, AutoStatusCancelled, userID, at, reason, AutoStatusScheduled)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
