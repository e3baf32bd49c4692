package clinic

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Clinic maps to the clinic table. Clinics are managed by an upstream admin
// subsystem; this service only reads them.
type Clinic struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	Timezone  string    `db:"timezone" json:"timezone"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Location resolves the clinic's IANA timezone. An empty timezone falls back
// to UTC; an unparsable one is an error surfaced as a clinic-level failure.
func (c *Clinic) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("clinic %s has invalid timezone %q: %w", c.ID, c.Timezone, err)
	}
	return loc, nil
}

// PhoneOrEmpty returns the clinic phone for payload assembly.
func (c *Clinic) PhoneOrEmpty() string {
	if c.Phone == nil {
		return ""
	}
	return *c.Phone
}
