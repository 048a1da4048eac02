package domain

import (
	"errors"
	"sort"
	"time"
)

var (
	// ErrDuplicateTask is returned when an owner already has a task with the same description.
	ErrDuplicateTask = errors.New("task with this description already exists")
	// ErrTaskNotFound is returned when no task matches an owner and description.
	ErrTaskNotFound = errors.New("task not found")
	// ErrEmptyDescription is returned for blank task descriptions.
	ErrEmptyDescription = errors.New("task description is empty")
)

// PersonalTask is a deadline owned by a single user.
// Descriptions are unique per owner, so (Owner, Description) addresses one task.
type PersonalTask struct {
	ID          int64     `json:"id"`
	Owner       string    `json:"owner"`
	Recipient   string    `json:"recipient"`
	Description string    `json:"description"`
	Due         time.Time `json:"due"`
	CreatedAt   time.Time `json:"created_at"`
}

// SortTasksByDue orders tasks by due date, then description.
func SortTasksByDue(tasks []PersonalTask) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Due.Equal(tasks[j].Due) {
			return tasks[i].Description < tasks[j].Description
		}
		return tasks[i].Due.Before(tasks[j].Due)
	})
}

// Subscription records which reminder digests a recipient wants.
// The store may hold several rows for the same owner and recipient.
type Subscription struct {
	Owner     string    `json:"owner"`
	Recipient string    `json:"recipient"`
	NextDay   bool      `json:"next_day"`
	NextWeek  bool      `json:"next_week"`
	CreatedAt time.Time `json:"created_at"`
}
