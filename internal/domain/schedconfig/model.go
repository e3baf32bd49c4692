package schedconfig

import (
	"time"

	"github.com/google/uuid"
)

// CriteriaSchemaVersion is stamped on newly written criteria snapshots so
// older blobs remain identifiable as the shape evolves.
const CriteriaSchemaVersion = 1

// EligibilityCriteria controls which completed cases receive automated
// follow-up. It is embedded in SchedulingConfig and frozen into audit
// snapshots, so every field decodes as optional: zero values mean "use the
// default" and are filled in by Normalized.
type EligibilityCriteria struct {
	SchemaVersion           int      `json:"schema_version,omitempty"`
	ExcludedCaseTypes       []string `json:"excluded_case_types,omitempty"`
	IncludedStatuses        []string `json:"included_statuses,omitempty"`
	MinCaseAgeHours         int      `json:"min_case_age_hours,omitempty"`
	MaxCaseAgeDays          int      `json:"max_case_age_days,omitempty"`
	RequireContactInfo      *bool    `json:"require_contact_info,omitempty"`
	RequireDischargeSummary *bool    `json:"require_discharge_summary,omitempty"`
}

// Normalized returns a copy with defaults applied to unset fields.
func (c EligibilityCriteria) Normalized() EligibilityCriteria {
	out := c
	out.SchemaVersion = CriteriaSchemaVersion
	if len(out.IncludedStatuses) == 0 {
		out.IncludedStatuses = []string{"completed"}
	}
	if out.MaxCaseAgeDays == 0 {
		out.MaxCaseAgeDays = 3
	}
	if out.RequireContactInfo == nil {
		t := true
		out.RequireContactInfo = &t
	}
	if out.RequireDischargeSummary == nil {
		t := true
		out.RequireDischargeSummary = &t
	}
	return out
}

// StatusIncluded reports whether status is in the included set.
func (c EligibilityCriteria) StatusIncluded(status string) bool {
	for _, s := range c.IncludedStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// SchedulingConfig maps to the scheduling_config table, one row per clinic.
// Rows are created lazily with defaults on first access and never deleted;
// disabling a clinic is a flag flip.
type SchedulingConfig struct {
	ID                 uuid.UUID           `db:"id" json:"id"`
	ClinicID           uuid.UUID           `db:"clinic_id" json:"clinic_id"`
	Enabled            bool                `db:"enabled" json:"enabled"`
	AutoEmailEnabled   bool                `db:"auto_email_enabled" json:"auto_email_enabled"`
	AutoCallEnabled    bool                `db:"auto_call_enabled" json:"auto_call_enabled"`
	EmailDelayDays     int                 `db:"email_delay_days" json:"email_delay_days"`
	CallDelayDays      int                 `db:"call_delay_days" json:"call_delay_days"`
	PreferredEmailTime string              `db:"preferred_email_time" json:"preferred_email_time"`
	PreferredCallTime  string              `db:"preferred_call_time" json:"preferred_call_time"`
	Criteria           EligibilityCriteria `db:"criteria" json:"criteria"`
	CreatedAt          time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time           `db:"updated_at" json:"updated_at"`
}

// DefaultConfig returns the record persisted on first access for a clinic.
func DefaultConfig(clinicID uuid.UUID) *SchedulingConfig {
	return &SchedulingConfig{
		ClinicID:           clinicID,
		Enabled:            true,
		AutoEmailEnabled:   true,
		AutoCallEnabled:    true,
		EmailDelayDays:     1,
		CallDelayDays:      3,
		PreferredEmailTime: "10:00",
		PreferredCallTime:  "16:00",
		Criteria:           EligibilityCriteria{}.Normalized(),
	}
}

// UpdateParams carries a partial update; nil fields are left untouched.
type UpdateParams struct {
	Enabled            *bool                `json:"enabled,omitempty"`
	AutoEmailEnabled   *bool                `json:"auto_email_enabled,omitempty"`
	AutoCallEnabled    *bool                `json:"auto_call_enabled,omitempty"`
	EmailDelayDays     *int                 `json:"email_delay_days,omitempty"`
	CallDelayDays      *int                 `json:"call_delay_days,omitempty"`
	PreferredEmailTime *string              `json:"preferred_email_time,omitempty"`
	PreferredCallTime  *string              `json:"preferred_call_time,omitempty"`
	Criteria           *EligibilityCriteria `json:"criteria,omitempty"`
}
