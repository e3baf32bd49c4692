package schedconfig

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get when a clinic has no config row yet.
var ErrNotFound = errors.New("scheduling config not found")

type Repository interface {
	Get(ctx context.Context, clinicID uuid.UUID) (*SchedulingConfig, error)
	// GetOrCreate returns the existing row or persists the default one.
	// Concurrent calls for the same clinic must not create duplicates.
	GetOrCreate(ctx context.Context, clinicID uuid.UUID) (*SchedulingConfig, error)
	Update(ctx context.Context, cfg *SchedulingConfig) error
	ListEnabled(ctx context.Context) ([]*SchedulingConfig, error)
}
