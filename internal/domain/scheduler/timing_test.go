package scheduler

import (
	"testing"
	"time"
)

func TestSendTime_DelayAndPreferredTime(t *testing.T) {
	created := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	got, err := SendTime(created, 3, "16:00", time.UTC, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 1, 4, 16, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("send time = %v, want %v", got, want)
	}
}

func TestSendTime_PastTargetRollsForward(t *testing.T) {
	created := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 4, 17, 0, 0, 0, time.UTC)

	got, err := SendTime(created, 3, "16:00", time.UTC, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 1, 5, 16, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("send time = %v, want %v", got, want)
	}
}

func TestSendTime_TargetEqualToNowIsKept(t *testing.T) {
	// Delivery is at-or-after, so a target landing exactly on the current
	// instant does not roll to the next day.
	created := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 4, 16, 0, 0, 0, time.UTC)

	got, err := SendTime(created, 3, "16:00", time.UTC, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(now) {
		t.Errorf("send time = %v, want %v", got, now)
	}
}

func TestSendTime_LongPastTargetRollsToTomorrow(t *testing.T) {
	created := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	now := time.Date(2025, 2, 1, 17, 0, 0, 0, time.UTC)

	got, err := SendTime(created, 3, "16:00", time.UTC, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 2, 2, 16, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("send time = %v, want %v", got, want)
	}
}

func TestSendTime_ClinicTimezone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	created := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)
	now := time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC)

	got, err := SendTime(created, 1, "10:00", ny, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 10:00 New York on June 2 is 14:00 UTC during daylight saving.
	want := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("send time = %v, want %v", got, want)
	}
}

func TestSendTime_InvalidPreferredTime(t *testing.T) {
	now := time.Now()
	for _, bad := range []string{"", "16", "25:00", "16:75", "four pm"} {
		if _, err := SendTime(now, 1, bad, time.UTC, now); err == nil {
			t.Errorf("SendTime(%q): expected error", bad)
		}
	}
}
