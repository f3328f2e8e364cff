package util

import (
	"fmt"
	"time"
)

// NextRun returns the first daily occurrence of at (HH:MM) strictly after now.
func NextRun(now time.Time, at, tz string) (time.Time, error) {
	loc := now.Location()
	if tz != "" {
		var err error
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone: %w", err)
		}
	}
	clock, err := time.ParseInLocation("15:04", at, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid schedule time %q: %w", at, err)
	}
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), clock.Hour(), clock.Minute(), 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next, nil
}
