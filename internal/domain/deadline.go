// Package domain contains core domain types for the deadline assistant.
package domain

import (
	"sort"
	"time"
)

// SharedDeadline is one row of the read-only course deadline table.
type SharedDeadline struct {
	Course     string     `json:"course" yaml:"course"`
	Assignment string     `json:"assignment" yaml:"assignment"`
	Due        *time.Time `json:"due,omitempty" yaml:"-"`
	Weight     float64    `json:"weight" yaml:"weight"`
}

// HasDue reports whether the deadline has a decided date.
// A nil due date means "to be decided".
func (d SharedDeadline) HasDue() bool {
	return d.Due != nil
}

// DueWithin reports whether the due date falls on a day in [from, to].
// Undecided deadlines never fall within a window.
func (d SharedDeadline) DueWithin(from, to time.Time) bool {
	if d.Due == nil {
		return false
	}
	return OnOrAfter(*d.Due, from) && OnOrBefore(*d.Due, to)
}

// SortByDue orders deadlines by due date; undecided dates sort last and
// ties keep their table order.
func SortByDue(items []SharedDeadline) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].Due, items[j].Due
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
}

// SortByCourse orders deadlines by course name, keeping table order per course.
func SortByCourse(items []SharedDeadline) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Course < items[j].Course
	})
}
