package caserecord

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Scheduling source values stamped on a case when follow-up is arranged.
const (
	SourceAuto   = "auto"
	SourceManual = "manual"
)

// Case is the read model of the upstream case-management table. This service
// reads it and writes exactly two columns: auto_scheduled_at and
// scheduling_source.
type Case struct {
	ID                  uuid.UUID  `db:"id" json:"id"`
	ClinicID            uuid.UUID  `db:"clinic_id" json:"clinic_id"`
	VetUserID           *uuid.UUID `db:"vet_user_id" json:"vet_user_id,omitempty"`
	Status              string     `db:"status" json:"status"`
	CaseType            *string    `db:"case_type" json:"case_type,omitempty"`
	Category            *string    `db:"category" json:"category,omitempty"`
	IsExtreme           bool       `db:"is_extreme" json:"is_extreme"`
	OwnerPhone          *string    `db:"owner_phone" json:"owner_phone,omitempty"`
	OwnerEmail          *string    `db:"owner_email" json:"owner_email,omitempty"`
	PetName             *string    `db:"pet_name" json:"pet_name,omitempty"`
	HasDischargeSummary bool       `db:"has_discharge_summary" json:"has_discharge_summary"`
	AutoScheduledAt     *time.Time `db:"auto_scheduled_at" json:"auto_scheduled_at,omitempty"`
	SchedulingSource    *string    `db:"scheduling_source" json:"scheduling_source,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
}

// HasValidPhone reports whether the owner phone carries at least ten digits.
func (c *Case) HasValidPhone() bool {
	if c.OwnerPhone == nil {
		return false
	}
	digits := 0
	for _, r := range *c.OwnerPhone {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 10
}

// HasValidEmail reports whether the owner email looks like an address.
func (c *Case) HasValidEmail() bool {
	return c.OwnerEmail != nil && strings.Contains(*c.OwnerEmail, "@")
}

// Enrichment is the current contact and clinical content for a case, looked
// up at scheduling time and again at execution time.
type Enrichment struct {
	OwnerPhone       string `json:"owner_phone,omitempty"`
	OwnerEmail       string `json:"owner_email,omitempty"`
	PetName          string `json:"pet_name,omitempty"`
	DischargeSummary string `json:"discharge_summary,omitempty"`
}
