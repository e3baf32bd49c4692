package caserecord

import "testing"

func strPtr(s string) *string { return &s }

func TestHasValidPhone(t *testing.T) {
	tests := []struct {
		name  string
		phone *string
		want  bool
	}{
		{"nil", nil, false},
		{"ten digits", strPtr("5551234567"), true},
		{"formatted", strPtr("(555) 123-4567"), true},
		{"with country code", strPtr("+1 555 123 4567"), true},
		{"too short", strPtr("555-1234"), false},
		{"empty", strPtr(""), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Case{OwnerPhone: tt.phone}
			if got := c.HasValidPhone(); got != tt.want {
				t.Errorf("HasValidPhone() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHasValidEmail(t *testing.T) {
	c := Case{OwnerEmail: strPtr("owner@example.com")}
	if !c.HasValidEmail() {
		t.Error("expected valid email")
	}
	c.OwnerEmail = strPtr("not-an-email")
	if c.HasValidEmail() {
		t.Error("expected invalid email without @")
	}
	c.OwnerEmail = nil
	if c.HasValidEmail() {
		t.Error("expected invalid when email missing")
	}
}
