package schedconfig

import (
	"context"
	"errors"

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

const cfgCols = `id, clinic_id, enabled, auto_email_enabled, auto_call_enabled,
	email_delay_days, call_delay_days, preferred_email_time, preferred_call_time,
	criteria, created_at, updated_at`

func (r *repoPG) scan(row pgx.Row) (*SchedulingConfig, error) {
	var c SchedulingConfig
	err := row.Scan(&c.ID, &c.ClinicID, &c.Enabled, &c.AutoEmailEnabled, &c.AutoCallEnabled,
		&c.EmailDelayDays, &c.CallDelayDays, &c.PreferredEmailTime, &c.PreferredCallTime,
		&c.Criteria, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *repoPG) Get(ctx context.Context, clinicID uuid.UUID) (*SchedulingConfig, error) {
	cfg, err := r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+cfgCols+` FROM scheduling_config WHERE clinic_id = $1`, clinicID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (r *repoPG) GetOrCreate(ctx context.Context, clinicID uuid.UUID) (*SchedulingConfig, error) {
	// The clinic_id unique constraint makes this race-safe: the losing
	// insert is a no-op and the reselect sees the winner's row.
	def := DefaultConfig(clinicID)
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO scheduling_config (id, clinic_id, enabled, auto_email_enabled, auto_call_enabled,
			email_delay_days, call_delay_days, preferred_email_time, preferred_call_time, criteria)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (clinic_id) DO NOTHING`,
		uuid.New(), clinicID, def.Enabled, def.AutoEmailEnabled, def.AutoCallEnabled,
		def.EmailDelayDays, def.CallDelayDays, def.PreferredEmailTime, def.PreferredCallTime,
		def.Criteria)
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, clinicID)
}

func (r *repoPG) Update(ctx context.Context, cfg *SchedulingConfig) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE scheduling_config SET enabled=$2, auto_email_enabled=$3, auto_call_enabled=$4,
			email_delay_days=$5, call_delay_days=$6, preferred_email_time=$7,
			preferred_call_time=$8, criteria=$9, updated_at=NOW()
		WHERE clinic_id = $1`,
		cfg.ClinicID, cfg.Enabled, cfg.AutoEmailEnabled, cfg.AutoCallEnabled,
		cfg.EmailDelayDays, cfg.CallDelayDays, cfg.PreferredEmailTime,
		cfg.PreferredCallTime, cfg.Criteria)
	return err
}

func (r *repoPG) ListEnabled(ctx context.Context) ([]*SchedulingConfig, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+cfgCols+` FROM scheduling_config WHERE enabled ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*SchedulingConfig
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}
