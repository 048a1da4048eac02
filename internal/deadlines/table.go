package deadlines

import (
	"sort"
	"sync"
	"time"

	"github.com/ashureev/deadlinebot/internal/domain"
)

// Table is an in-memory snapshot of the shared deadline file. Readers always
// see a complete snapshot; Replace swaps it atomically.
type Table struct {
	mu       sync.RWMutex
	items    []domain.SharedDeadline
	loadedAt time.Time
}

// NewTable creates a table holding items.
func NewTable(items []domain.SharedDeadline) *Table {
	t := &Table{}
	t.Replace(items)
	return t
}

// Replace swaps the table contents.
func (t *Table) Replace(items []domain.SharedDeadline) {
	cp := make([]domain.SharedDeadline, len(items))
	copy(cp, items)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = cp
	t.loadedAt = time.Now()
}

// LoadedAt returns when the current snapshot was installed.
func (t *Table) LoadedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.loadedAt
}

// Len returns the number of rows.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// All returns a copy of every row in file order.
func (t *Table) All() []domain.SharedDeadline {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.SharedDeadline, len(t.items))
	copy(out, t.items)
	return out
}

// Upcoming returns dated rows due on or after now's day, earliest first.
func (t *Table) Upcoming(now time.Time) []domain.SharedDeadline {
	return t.filterByDue(func(d domain.SharedDeadline) bool {
		return d.Due != nil && domain.OnOrAfter(*d.Due, now)
	})
}

// DueBetween returns rows due on a day in [from, to], earliest first.
func (t *Table) DueBetween(from, to time.Time) []domain.SharedDeadline {
	return t.filterByDue(func(d domain.SharedDeadline) bool {
		return d.DueWithin(from, to)
	})
}

// SortedByCourse returns every row ordered by course name.
func (t *Table) SortedByCourse() []domain.SharedDeadline {
	out := t.All()
	domain.SortByCourse(out)
	return out
}

// ByCourse returns the rows of one course in file order.
func (t *Table) ByCourse(course string) []domain.SharedDeadline {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []domain.SharedDeadline
	for _, d := range t.items {
		if d.Course == course {
			out = append(out, d)
		}
	}
	return out
}

// Courses returns the distinct course names, sorted.
func (t *Table) Courses() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := make(map[string]struct{}, len(t.items))
	var out []string
	for _, d := range t.items {
		if _, ok := seen[d.Course]; ok {
			continue
		}
		seen[d.Course] = struct{}{}
		out = append(out, d.Course)
	}
	sort.Strings(out)
	return out
}

func (t *Table) filterByDue(keep func(domain.SharedDeadline) bool) []domain.SharedDeadline {
	t.mu.RLock()
	var out []domain.SharedDeadline
	for _, d := range t.items {
		if keep(d) {
			out = append(out, d)
		}
	}
	t.mu.RUnlock()

	domain.SortByDue(out)
	return out
}
