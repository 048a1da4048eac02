package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DueDateLayout is the layout users type due dates in (e.g. 28/02/2021).
const DueDateLayout = "02/01/2006"

// ErrInvalidDueDate is returned when a due date does not match DueDateLayout.
var ErrInvalidDueDate = errors.New("invalid due date")

// ParseDueDate parses a dd/mm/yyyy date as midnight in loc.
func ParseDueDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DueDateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: expected dd/mm/yyyy", ErrInvalidDueDate, s)
	}
	return t, nil
}

// StartOfDay truncates t to midnight in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// OnOrAfter reports whether t's calendar day is the same as or after ref's.
func OnOrAfter(t, ref time.Time) bool {
	return !StartOfDay(t.In(ref.Location())).Before(StartOfDay(ref))
}

// OnOrBefore reports whether t's calendar day is the same as or before ref's.
func OnOrBefore(t, ref time.Time) bool {
	return !StartOfDay(t.In(ref.Location())).After(StartOfDay(ref))
}

// NextSunday returns the upcoming Sunday relative to now. When now is
// already a Sunday the result is a full week later.
func NextSunday(now time.Time) time.Time {
	days := (7 + int(time.Sunday) - int(now.Weekday())) % 7
	if days == 0 {
		days = 7
	}
	return StartOfDay(now).AddDate(0, 0, days)
}
