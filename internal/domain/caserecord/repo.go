package caserecord

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pawsitive/followup/internal/domain/schedconfig"
)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Case, error)
	// FindCandidates applies the coarse pre-filter for a clinic: included
	// status, never auto- or manually scheduled, within the age window,
	// newest first. Fine-grained checks are re-run by the eligibility
	// evaluator per case.
	FindCandidates(ctx context.Context, clinicID uuid.UUID, crit schedconfig.EligibilityCriteria, now time.Time) ([]*Case, error)
	// StampAutoScheduled marks the case as handled by automatic follow-up.
	StampAutoScheduled(ctx context.Context, caseID uuid.UUID, at time.Time) error
	// ClearAutoScheduled reverses the stamp after a cancellation, making the
	// case eligible for a future run.
	ClearAutoScheduled(ctx context.Context, caseID uuid.UUID) error
}

// ContactSource looks up the current owner contact and clinical content for a
// case. The scheduler uses it to build initial payloads; the executor uses it
// to re-enrich payloads at fire time.
type ContactSource interface {
	Lookup(ctx context.Context, caseID uuid.UUID) (*Enrichment, error)
}
