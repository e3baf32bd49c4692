package scheduler

import (
	"time"

	"github.com/google/uuid"

	"github.com/pawsitive/followup/internal/domain/schedconfig"
)

// AutoScheduledItem statuses.
const (
	AutoStatusScheduled = "scheduled"
	AutoStatusCompleted = "completed"
	AutoStatusFailed    = "failed"
	AutoStatusCancelled = "cancelled"
)

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusPartial   = "partial"
	RunStatusFailed    = "failed"
)

// SnapshotSchemaVersion is stamped on newly frozen config snapshots.
const SnapshotSchemaVersion = 1

// ConfigSnapshot freezes the scheduling values active when a case was
// scheduled, for audit. Every field decodes as optional so snapshots written
// under older shapes remain parsable.
type ConfigSnapshot struct {
	SchemaVersion      int                             `json:"schema_version,omitempty"`
	AutoEmailEnabled   bool                            `json:"auto_email_enabled,omitempty"`
	AutoCallEnabled    bool                            `json:"auto_call_enabled,omitempty"`
	EmailDelayDays     int                             `json:"email_delay_days,omitempty"`
	CallDelayDays      int                             `json:"call_delay_days,omitempty"`
	PreferredEmailTime string                          `json:"preferred_email_time,omitempty"`
	PreferredCallTime  string                          `json:"preferred_call_time,omitempty"`
	Criteria           schedconfig.EligibilityCriteria `json:"criteria,omitempty"`
}

// SnapshotOf freezes the relevant fields of a config.
func SnapshotOf(cfg *schedconfig.SchedulingConfig) ConfigSnapshot {
	return ConfigSnapshot{
		SchemaVersion:      SnapshotSchemaVersion,
		AutoEmailEnabled:   cfg.AutoEmailEnabled,
		AutoCallEnabled:    cfg.AutoCallEnabled,
		EmailDelayDays:     cfg.EmailDelayDays,
		CallDelayDays:      cfg.CallDelayDays,
		PreferredEmailTime: cfg.PreferredEmailTime,
		PreferredCallTime:  cfg.PreferredCallTime,
		Criteria:           cfg.Criteria.Normalized(),
	}
}

// AutoScheduledItem links one case's automatic scheduling attempt to the
// concrete call and email items it produced. At most one item per case may
// be in scheduled state, enforced by a partial unique index.
type AutoScheduledItem struct {
	ID               uuid.UUID      `db:"id" json:"id"`
	CaseID           uuid.UUID      `db:"case_id" json:"case_id"`
	ClinicID         uuid.UUID      `db:"clinic_id" json:"clinic_id"`
	RunID            *uuid.UUID     `db:"run_id" json:"run_id,omitempty"`
	ScheduledEmailID *uuid.UUID     `db:"scheduled_email_id" json:"scheduled_email_id,omitempty"`
	ScheduledCallID  *uuid.UUID     `db:"scheduled_call_id" json:"scheduled_call_id,omitempty"`
	Status           string         `db:"status" json:"status"`
	ConfigSnapshot   ConfigSnapshot `db:"config_snapshot" json:"config_snapshot"`
	CancelledBy      *string        `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancelledAt      *time.Time     `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancelReason     *string        `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

// SkipRecord is one rejected candidate with the rejection reason.
type SkipRecord struct {
	CaseID     uuid.UUID `json:"case_id"`
	ReasonCode string    `json:"reason_code"`
	ReasonText string    `json:"reason_text,omitempty"`
}

// ClinicResult accumulates one clinic's outcome within a run.
type ClinicResult struct {
	ClinicID       uuid.UUID    `json:"clinic_id"`
	ClinicName     string       `json:"clinic_name,omitempty"`
	CasesFound     int          `json:"cases_found"`
	CasesScheduled int          `json:"cases_scheduled"`
	ItemsScheduled int          `json:"items_scheduled"`
	Skips          []SkipRecord `json:"skips,omitempty"`
	Errors         []string     `json:"errors,omitempty"`
}

// Run is the append-only audit record of one scheduler invocation.
type Run struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	StartedAt      time.Time      `db:"started_at" json:"started_at"`
	CompletedAt    *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	Status         string         `db:"status" json:"status"`
	DryRun         bool           `db:"dry_run" json:"dry_run"`
	ClinicResults  []ClinicResult `db:"clinic_results" json:"clinic_results,omitempty"`
	CasesFound     int            `db:"cases_found" json:"cases_found"`
	CasesScheduled int            `db:"cases_scheduled" json:"cases_scheduled"`
	ItemsScheduled int            `db:"items_scheduled" json:"items_scheduled"`
	ErrorCount     int            `db:"error_count" json:"error_count"`
}

// RunOptions controls one scheduler invocation.
type RunOptions struct {
	// DryRun evaluates and reports decisions without creating queue
	// messages, items, or case mutations.
	DryRun bool `json:"dry_run"`
	// Force processes explicitly named clinics even when their config is
	// disabled.
	Force bool `json:"force"`
	// ClinicIDs restricts the run to these clinics. Empty means all
	// enabled clinics.
	ClinicIDs []uuid.UUID `json:"clinic_ids,omitempty"`
}
