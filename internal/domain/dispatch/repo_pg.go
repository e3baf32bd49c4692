package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pawsitive/followup/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Conn {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func table(channel string) (string, error) {
	switch channel {
	case ChannelCall:
		return "scheduled_call", nil
	case ChannelEmail:
		return "scheduled_email", nil
	default:
		return "", fmt.Errorf("unknown channel %q", channel)
	}
}

const itemCols = `id, case_id, user_id, recipient, pet_name, summary, scheduled_for, status,
	queue_message_id, provider_id, retry_count, next_retry_at, last_failure_reason,
	started_at, duration_seconds, transcript, cost, created_at, updated_at`

func scanItem(row pgx.Row, channel string) (*Item, error) {
	it := Item{Channel: channel}
	err := row.Scan(&it.ID, &it.CaseID, &it.UserID, &it.Recipient, &it.PetName, &it.Summary,
		&it.ScheduledFor, &it.Status, &it.QueueMessageID, &it.ProviderID, &it.RetryCount,
		&it.NextRetryAt, &it.LastFailureReason, &it.StartedAt, &it.DurationSeconds,
		&it.Transcript, &it.Cost, &it.CreatedAt, &it.UpdatedAt)
	return &it, err
}

func (r *repoPG) Create(ctx context.Context, item *Item) error {
	tbl, err := table(item.Channel)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO `+tbl+` (id, case_id, user_id, recipient, pet_name, summary,
			scheduled_for, status, queue_message_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		item.ID, item.CaseID, item.UserID, item.Recipient, item.PetName, item.Summary,
		item.ScheduledFor, item.Status, item.QueueMessageID)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, channel string, id uuid.UUID) (*Item, error) {
	tbl, err := table(channel)
	if err != nil {
		return nil, err
	}
	it, err := scanItem(r.conn(ctx).QueryRow(ctx,
		`SELECT `+itemCols+` FROM `+tbl+` WHERE id = $1`, id), channel)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return it, nil
}

func (r *repoPG) FindActiveByCase(ctx context.Context, channel string, caseID uuid.UUID) ([]*Item, error) {
	tbl, err := table(channel)
	if err != nil {
		return nil, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+itemCols+` FROM `+tbl+`
		WHERE case_id = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC`,
		caseID, StatusQueued, StatusInProgress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Item
	for rows.Next() {
		it, err := scanItem(rows, channel)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *repoPG) FindByProviderID(ctx context.Context, providerID string) (*Item, error) {
	for _, channel := range []string{ChannelCall, ChannelEmail} {
		tbl, _ := table(channel)
		it, err := scanItem(r.conn(ctx).QueryRow(ctx,
			`SELECT `+itemCols+` FROM `+tbl+` WHERE provider_id = $1`, providerID), channel)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return it, nil
	}
	return nil, ErrNotFound
}

func (r *repoPG) Claim(ctx context.Context, channel string, id uuid.UUID) (bool, error) {
	tbl, err := table(channel)
	if err != nil {
		return false, err
	}
	// Conditional update, not read-then-write: two concurrent deliveries
	// race on this row and exactly one wins.
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE `+tbl+` SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		id, StatusInProgress, StatusQueued)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) SetDispatched(ctx context.Context, channel string, id uuid.UUID, providerID string, startedAt time.Time) error {
	tbl, err := table(channel)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		UPDATE `+tbl+` SET provider_id = $2, started_at = $3, updated_at = NOW()
		WHERE id = $1`,
		id, providerID, startedAt)
	return err
}

func (r *repoPG) Requeue(ctx context.Context, channel string, id uuid.UUID, retryCount int, nextRetryAt time.Time, reason string) error {
	tbl, err := table(channel)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		UPDATE `+tbl+` SET status = $2, retry_count = $3, next_retry_at = $4,
			last_failure_reason = $5, updated_at = NOW()
		WHERE id = $1`,
		id, StatusQueued, retryCount, nextRetryAt, reason)
	return err
}

func (r *repoPG) Fail(ctx context.Context, channel string, id uuid.UUID, reason string) error {
	tbl, err := table(channel)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		UPDATE `+tbl+` SET status = $2, last_failure_reason = $3, updated_at = NOW()
		WHERE id = $1`,
		id, StatusFailed, reason)
	return err
}

func (r *repoPG) Complete(ctx context.Context, channel string, id uuid.UUID, out Outcome) error {
	tbl, err := table(channel)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		UPDATE `+tbl+` SET status = $2, duration_seconds = $3, transcript = $4,
			cost = $5, updated_at = NOW()
		WHERE id = $1`,
		id, StatusCompleted, out.DurationSeconds, out.Transcript, out.Cost)
	return err
}

func (r *repoPG) UpdateStatus(ctx context.Context, channel string, id uuid.UUID, status string, startedAt *time.Time) error {
	tbl, err := table(channel)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		UPDATE `+tbl+` SET status = $2, started_at = COALESCE(started_at, $3), updated_at = NOW()
		WHERE id = $1`,
		id, status, startedAt)
	return err
}

func (r *repoPG) Cancel(ctx context.Context, channel string, id uuid.UUID) (bool, error) {
	tbl, err := table(channel)
	if err != nil {
		return false, err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE `+tbl+` SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		id, StatusCancelled, StatusQueued)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
