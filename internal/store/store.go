// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/deadlinebot/internal/domain"
)

// TaskRepository persists personal tasks keyed by (owner, description).
type TaskRepository interface {
	// ListTasks returns every task owned by owner.
	ListTasks(ctx context.Context, owner string) ([]domain.PersonalTask, error)

	// GetTask returns the owner's task with the exact description, or nil if none exists.
	GetTask(ctx context.Context, owner, description string) (*domain.PersonalTask, error)

	// TasksDueBetween returns all tasks whose due day lies in [from, to].
	TasksDueBetween(ctx context.Context, from, to time.Time) ([]domain.PersonalTask, error)

	// InsertTask stores a new task. Returns domain.ErrDuplicateTask if the owner
	// already has a task with the same description.
	InsertTask(ctx context.Context, task *domain.PersonalTask) error

	// UpdateTaskDescription renames the owner's task.
	UpdateTaskDescription(ctx context.Context, owner, description, newDescription string) error

	// UpdateTaskDue moves the owner's task to a new due date.
	UpdateTaskDue(ctx context.Context, owner, description string, due time.Time) error

	// DeleteTask removes the owner's task.
	DeleteTask(ctx context.Context, owner, description string) error
}

// SubscriptionRepository persists reminder subscriptions.
type SubscriptionRepository interface {
	// ListSubscriptions returns every subscription row, duplicates included.
	ListSubscriptions(ctx context.Context) ([]domain.Subscription, error)

	// ListSubscriptionsByOwner returns the rows created by owner.
	ListSubscriptionsByOwner(ctx context.Context, owner string) ([]domain.Subscription, error)

	// InsertSubscription appends a subscription row without touching earlier rows.
	InsertSubscription(ctx context.Context, sub *domain.Subscription) error

	// DeleteSubscriptions removes all rows for owner and returns how many were removed.
	DeleteSubscriptions(ctx context.Context, owner string) (int64, error)
}

// Repository is the full persistence surface used by the bot.
type Repository interface {
	TaskRepository
	SubscriptionRepository

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
