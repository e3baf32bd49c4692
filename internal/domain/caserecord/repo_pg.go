package caserecord

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pawsitive/followup/internal/domain/schedconfig"
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

const caseCols = `id, clinic_id, vet_user_id, status, case_type, category, is_extreme,
	owner_phone, owner_email, pet_name, has_discharge_summary,
	auto_scheduled_at, scheduling_source, created_at`

func (r *repoPG) scan(row pgx.Row) (*Case, error) {
	var c Case
	err := row.Scan(&c.ID, &c.ClinicID, &c.VetUserID, &c.Status, &c.CaseType, &c.Category, &c.IsExtreme,
		&c.OwnerPhone, &c.OwnerEmail, &c.PetName, &c.HasDischargeSummary,
		&c.AutoScheduledAt, &c.SchedulingSource, &c.CreatedAt)
	return &c, err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Case, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+caseCols+` FROM case_record WHERE id = $1`, id))
}

func (r *repoPG) FindCandidates(ctx context.Context, clinicID uuid.UUID, crit schedconfig.EligibilityCriteria, now time.Time) ([]*Case, error) {
	crit = crit.Normalized()
	cutoff := now.AddDate(0, 0, -crit.MaxCaseAgeDays)

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+caseCols+` FROM case_record
		WHERE clinic_id = $1
		  AND status = ANY($2)
		  AND auto_scheduled_at IS NULL
		  AND scheduling_source IS NULL
		  AND created_at >= $3
		ORDER BY created_at DESC`,
		clinicID, crit.IncludedStatuses, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Case
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *repoPG) StampAutoScheduled(ctx context.Context, caseID uuid.UUID, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE case_record SET auto_scheduled_at = $2, scheduling_source = $3
		WHERE id = $1`, caseID, at, SourceAuto)
	return err
}

func (r *repoPG) ClearAutoScheduled(ctx context.Context, caseID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE case_record SET auto_scheduled_at = NULL, scheduling_source = NULL
		WHERE id = $1`, caseID)
	return err
}

// contactSourcePG reads current contact and clinical content straight from
// the case store.
type contactSourcePG struct{ pool *pgxpool.Pool }

func NewContactSourcePG(pool *pgxpool.Pool) ContactSource { return &contactSourcePG{pool: pool} }

func (s *contactSourcePG) Lookup(ctx context.Context, caseID uuid.UUID) (*Enrichment, error) {
	conn := db.ConnFromContext(ctx)
	if conn == nil {
		conn = db.Conn(s.pool)
	}

	var e Enrichment
	var phone, email, pet, summary *string
	err := conn.QueryRow(ctx, `
		SELECT c.owner_phone, c.owner_email, c.pet_name, d.body
		FROM case_record c
		LEFT JOIN discharge_summary d ON d.case_id = c.id
		WHERE c.id = $1`, caseID).
		Scan(&phone, &email, &pet, &summary)
	if err != nil {
		return nil, err
	}
	if phone != nil {
		e.OwnerPhone = *phone
	}
	if email != nil {
		e.OwnerEmail = *email
	}
	if pet != nil {
		e.PetName = *pet
	}
	if summary != nil {
		e.DischargeSummary = *summary
	}
	return &e, nil
}
