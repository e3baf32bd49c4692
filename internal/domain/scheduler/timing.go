package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SendTime computes the UTC instant a follow-up should fire: the case
// creation date plus delayDays, at the clinic's preferred local time of day.
// A target already in the past rolls forward a day at a time; a target equal
// to now is kept, since delivery is at-or-after.
func SendTime(caseCreatedAt time.Time, delayDays int, preferred string, loc *time.Location, now time.Time) (time.Time, error) {
	hour, minute, err := parseClock(preferred)
	if err != nil {
		return time.Time{}, err
	}

	local := caseCreatedAt.In(loc).AddDate(0, 0, delayDays)
	target := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	for target.Before(now) {
		target = target.AddDate(0, 0, 1)
	}
	return target.UTC(), nil
}

func parseClock(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid preferred time %q, want HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid preferred time %q, want HH:MM", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid preferred time %q, want HH:MM", s)
	}
	return hour, minute, nil
}
