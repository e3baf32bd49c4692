package schedconfig

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

var hhmmPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context, clinicID uuid.UUID) (*SchedulingConfig, error) {
	return s.repo.Get(ctx, clinicID)
}

func (s *Service) GetOrCreate(ctx context.Context, clinicID uuid.UUID) (*SchedulingConfig, error) {
	return s.repo.GetOrCreate(ctx, clinicID)
}

func (s *Service) ListEnabled(ctx context.Context) ([]*SchedulingConfig, error) {
	return s.repo.ListEnabled(ctx)
}

// Update merges the provided fields into the clinic's config, creating the
// default record first if none exists.
func (s *Service) Update(ctx context.Context, clinicID uuid.UUID, p UpdateParams) (*SchedulingConfig, error) {
	if err := validateParams(p); err != nil {
		return nil, err
	}

	cfg, err := s.repo.GetOrCreate(ctx, clinicID)
	if err != nil {
		return nil, err
	}

	if p.Enabled != nil {
		cfg.Enabled = *p.Enabled
	}
	if p.AutoEmailEnabled != nil {
		cfg.AutoEmailEnabled = *p.AutoEmailEnabled
	}
	if p.AutoCallEnabled != nil {
		cfg.AutoCallEnabled = *p.AutoCallEnabled
	}
	if p.EmailDelayDays != nil {
		cfg.EmailDelayDays = *p.EmailDelayDays
	}
	if p.CallDelayDays != nil {
		cfg.CallDelayDays = *p.CallDelayDays
	}
	if p.PreferredEmailTime != nil {
		cfg.PreferredEmailTime = *p.PreferredEmailTime
	}
	if p.PreferredCallTime != nil {
		cfg.PreferredCallTime = *p.PreferredCallTime
	}
	if p.Criteria != nil {
		cfg.Criteria = p.Criteria.Normalized()
	}

	if err := s.repo.Update(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateParams(p UpdateParams) error {
	if p.EmailDelayDays != nil && *p.EmailDelayDays < 0 {
		return fmt.Errorf("email_delay_days must not be negative")
	}
	if p.CallDelayDays != nil && *p.CallDelayDays < 0 {
		return fmt.Errorf("call_delay_days must not be negative")
	}
	if p.PreferredEmailTime != nil && !hhmmPattern.MatchString(*p.PreferredEmailTime) {
		return fmt.Errorf("preferred_email_time must be HH:MM, got %q", *p.PreferredEmailTime)
	}
	if p.PreferredCallTime != nil && !hhmmPattern.MatchString(*p.PreferredCallTime) {
		return fmt.Errorf("preferred_call_time must be HH:MM, got %q", *p.PreferredCallTime)
	}
	if p.Criteria != nil {
		if p.Criteria.MinCaseAgeHours < 0 {
			return fmt.Errorf("min_case_age_hours must not be negative")
		}
		if p.Criteria.MaxCaseAgeDays < 0 {
			return fmt.Errorf("max_case_age_days must not be negative")
		}
	}
	return nil
}
