// Package reminder composes and dispatches scheduled deadline digests.
package reminder

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/deadlinebot/internal/digest"
	"github.com/ashureev/deadlinebot/internal/domain"
)

// Kind selects the lookahead window and the subscription flag of a firing.
type Kind string

const (
	NextDay  Kind = "next_day"
	NextWeek Kind = "next_week"
)

// Kinds lists every digest kind.
var Kinds = []Kind{NextDay, NextWeek}

// ParseKind accepts the canonical names of Kinds.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case NextDay, NextWeek:
		return k, nil
	default:
		return "", fmt.Errorf("unknown digest kind %q (want %s or %s)", s, NextDay, NextWeek)
	}
}

// Heading is the opening line of the digest.
func (k Kind) Heading() string {
	if k == NextWeek {
		return digest.HeadingNextWeek
	}
	return digest.HeadingNextDay
}

// Window returns the first and last day covered by a firing at now. Both
// ends are inclusive and expressed as midnight in now's location.
func (k Kind) Window(now time.Time) (from, to time.Time) {
	today := domain.StartOfDay(now)
	from = today.AddDate(0, 0, 1)
	if k == NextWeek {
		return from, today.AddDate(0, 0, 7)
	}
	return from, from
}

// wants reports whether sub opted into this kind.
func (k Kind) wants(sub domain.Subscription) bool {
	if k == NextWeek {
		return sub.NextWeek
	}
	return sub.NextDay
}

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   uint
	Minute uint
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// ParseClock parses "HH:MM" in 24h form.
func ParseClock(s string) (Clock, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Clock{}, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	h, err := strconv.ParseUint(hh, 10, 8)
	if err != nil || h > 23 {
		return Clock{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.ParseUint(mm, 10, 8)
	if err != nil || m > 59 {
		return Clock{}, fmt.Errorf("invalid minute in %q", s)
	}
	return Clock{Hour: uint(h), Minute: uint(m)}, nil
}

// ParseWeekday accepts English weekday names, case-insensitively.
func ParseWeekday(s string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.ToLower(d.String()) == name {
			return d, nil
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", s)
}
