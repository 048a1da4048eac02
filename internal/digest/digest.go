// Package digest renders deadline listings and reminder digests as plain text.
package digest

import (
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/deadlinebot/internal/domain"
)

// DisplayDateLayout is how due dates are shown to users (e.g. 28-Feb-2021).
const DisplayDateLayout = "02-Jan-2006"

// Fixed texts shared by the conversation and the reminder jobs.
const (
	NothingDue      = "Seems like there are no deadlines due in this period.\n"
	NoPersonalTasks = "Oops, seems you have not added any tasks yet.\n\n"
	PersonalHeader  = "And also something personal\n\n"
	Footer          = "Click --> /start to go to menu"
	ReturnHint      = "Click --> /start to return to menu"

	HeadingNextDay  = "Hi! There are some tasks due tomorrow!\n\n"
	HeadingNextWeek = "Hi! There are some tasks due next week!\n\n"
)

// FormatShared renders shared deadlines in the given order, or NothingDue.
func FormatShared(items []domain.SharedDeadline) string {
	if len(items) == 0 {
		return NothingDue
	}
	var b strings.Builder
	for _, d := range items {
		writeShared(&b, d)
	}
	return b.String()
}

// FormatPersonal renders personal tasks in the given order, or NoPersonalTasks.
func FormatPersonal(tasks []domain.PersonalTask) string {
	if len(tasks) == 0 {
		return NoPersonalTasks
	}
	var b strings.Builder
	for _, t := range tasks {
		writePersonal(&b, t)
	}
	return b.String()
}

// Compose builds a reminder digest. Either side may be empty; when both are
// the result is NothingDue.
func Compose(heading string, shared []domain.SharedDeadline, personal []domain.PersonalTask) string {
	if len(shared) == 0 && len(personal) == 0 {
		return NothingDue
	}

	var b strings.Builder
	b.WriteString(heading)
	for _, d := range shared {
		writeShared(&b, d)
	}
	if len(shared) > 0 && len(personal) > 0 {
		b.WriteString(PersonalHeader)
	}
	for _, t := range personal {
		writePersonal(&b, t)
	}
	b.WriteString(Footer)
	return b.String()
}

// FormatWeight renders a fraction as a whole percentage (0.25 -> "25%").
func FormatWeight(w float64) string {
	return fmt.Sprintf("%.0f%%", w*100)
}

// FormatDue renders a due date, or "TBD" when undecided.
func FormatDue(due *time.Time) string {
	if due == nil {
		return "TBD"
	}
	return due.Format(DisplayDateLayout)
}

func writeShared(b *strings.Builder, d domain.SharedDeadline) {
	fmt.Fprintf(b, "Subject: %s\nAssignment: %s\nDate: %s\nWeight: %s\n\n",
		d.Course, d.Assignment, FormatDue(d.Due), FormatWeight(d.Weight))
}

func writePersonal(b *strings.Builder, t domain.PersonalTask) {
	fmt.Fprintf(b, "Task: %s\nDeadline: %s\n\n", t.Description, t.Due.Format(DisplayDateLayout))
}
