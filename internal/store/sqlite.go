package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/deadlinebot/internal/domain"
	"github.com/ashureev/deadlinebot/internal/shared"
	_ "modernc.org/sqlite"
)

// dateLayout is the on-disk representation of due dates. It sorts lexically.
const dateLayout = "2006-01-02"

// Ensure SQLiteStore implements Repository.
var _ Repository = (*SQLiteStore)(nil)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	loc   *time.Location
	retry shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository. Due dates are read back
// as midnight in loc.
func NewSQLite(dbPath string, loc *time.Location) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}

	// WAL lets the reminder jobs read while a conversation writes.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, loc: loc, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner TEXT NOT NULL,
		recipient TEXT NOT NULL,
		description TEXT NOT NULL,
		due_date TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_owner_description ON tasks(owner, description);
	CREATE INDEX IF NOT EXISTS idx_tasks_due_date ON tasks(due_date);

	CREATE TABLE IF NOT EXISTS subscriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner TEXT NOT NULL,
		recipient TEXT NOT NULL,
		next_day INTEGER NOT NULL DEFAULT 0,
		next_week INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_owner ON subscriptions(owner);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// ListTasks returns every task owned by owner, ordered by due date.
func (s *SQLiteStore) ListTasks(ctx context.Context, owner string) ([]domain.PersonalTask, error) {
	query := `
		SELECT id, owner, recipient, description, due_date, created_at
		FROM tasks WHERE owner = ?
		ORDER BY due_date, description`
	return s.queryTasks(ctx, query, owner)
}

// GetTask returns the owner's task with the exact description, or nil if none exists.
func (s *SQLiteStore) GetTask(ctx context.Context, owner, description string) (*domain.PersonalTask, error) {
	query := `
		SELECT id, owner, recipient, description, due_date, created_at
		FROM tasks WHERE owner = ? AND description = ?`
	tasks, err := s.queryTasks(ctx, query, owner, description)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	return &tasks[0], nil
}

// TasksDueBetween returns all tasks whose due day lies in [from, to].
func (s *SQLiteStore) TasksDueBetween(ctx context.Context, from, to time.Time) ([]domain.PersonalTask, error) {
	query := `
		SELECT id, owner, recipient, description, due_date, created_at
		FROM tasks WHERE due_date >= ? AND due_date <= ?
		ORDER BY due_date, description`
	return s.queryTasks(ctx, query, s.formatDate(from), s.formatDate(to))
}

// InsertTask stores a new task.
func (s *SQLiteStore) InsertTask(ctx context.Context, task *domain.PersonalTask) error {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO tasks (owner, recipient, description, due_date, created_at)
		VALUES (?, ?, ?, ?, ?)`

	return shared.RetryOnConflict(ctx, s.retry, "insert task", func() error {
		result, err := s.db.ExecContext(ctx, query,
			task.Owner, task.Recipient, task.Description,
			s.formatDate(task.Due), task.CreatedAt.Unix(),
		)
		if err != nil {
			if shared.IsSQLiteUniqueError(err) {
				return domain.ErrDuplicateTask
			}
			return fmt.Errorf("insert task: %w", err)
		}
		if id, err := result.LastInsertId(); err == nil {
			task.ID = id
		}
		return nil
	})
}

// UpdateTaskDescription renames the owner's task.
func (s *SQLiteStore) UpdateTaskDescription(ctx context.Context, owner, description, newDescription string) error {
	query := `UPDATE tasks SET description = ? WHERE owner = ? AND description = ?`
	return s.execOne(ctx, "update task description", query, newDescription, owner, description)
}

// UpdateTaskDue moves the owner's task to a new due date.
func (s *SQLiteStore) UpdateTaskDue(ctx context.Context, owner, description string, due time.Time) error {
	query := `UPDATE tasks SET due_date = ? WHERE owner = ? AND description = ?`
	return s.execOne(ctx, "update task due date", query, s.formatDate(due), owner, description)
}

// DeleteTask removes the owner's task.
func (s *SQLiteStore) DeleteTask(ctx context.Context, owner, description string) error {
	query := `DELETE FROM tasks WHERE owner = ? AND description = ?`
	return s.execOne(ctx, "delete task", query, owner, description)
}

// execOne runs a statement that must touch exactly one task row.
func (s *SQLiteStore) execOne(ctx context.Context, op, query string, args ...any) error {
	return shared.RetryOnConflict(ctx, s.retry, op, func() error {
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			if shared.IsSQLiteUniqueError(err) {
				return domain.ErrDuplicateTask
			}
			return fmt.Errorf("%s: %w", op, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return domain.ErrTaskNotFound
		}
		return nil
	})
}

func (s *SQLiteStore) queryTasks(ctx context.Context, query string, args ...any) ([]domain.PersonalTask, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close task rows", "error", closeErr)
		}
	}()

	var tasks []domain.PersonalTask
	for rows.Next() {
		var task domain.PersonalTask
		var due string
		var createdAt int64

		if err := rows.Scan(
			&task.ID, &task.Owner, &task.Recipient,
			&task.Description, &due, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}

		task.Due, err = time.ParseInLocation(dateLayout, due, s.loc)
		if err != nil {
			return nil, fmt.Errorf("parse due date of task %d: %w", task.ID, err)
		}
		task.CreatedAt = time.Unix(createdAt, 0)
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

// ListSubscriptions returns every subscription row in insertion order.
func (s *SQLiteStore) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	query := `
		SELECT owner, recipient, next_day, next_week, created_at
		FROM subscriptions ORDER BY id`
	return s.querySubscriptions(ctx, query)
}

// ListSubscriptionsByOwner returns the rows created by owner.
func (s *SQLiteStore) ListSubscriptionsByOwner(ctx context.Context, owner string) ([]domain.Subscription, error) {
	query := `
		SELECT owner, recipient, next_day, next_week, created_at
		FROM subscriptions WHERE owner = ? ORDER BY id`
	return s.querySubscriptions(ctx, query, owner)
}

// InsertSubscription appends a subscription row.
func (s *SQLiteStore) InsertSubscription(ctx context.Context, sub *domain.Subscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO subscriptions (owner, recipient, next_day, next_week, created_at)
		VALUES (?, ?, ?, ?, ?)`

	return shared.RetryOnConflict(ctx, s.retry, "insert subscription", func() error {
		if _, err := s.db.ExecContext(ctx, query,
			sub.Owner, sub.Recipient, sub.NextDay, sub.NextWeek, sub.CreatedAt.Unix(),
		); err != nil {
			return fmt.Errorf("insert subscription: %w", err)
		}
		return nil
	})
}

// DeleteSubscriptions removes all rows for owner.
func (s *SQLiteStore) DeleteSubscriptions(ctx context.Context, owner string) (int64, error) {
	var deleted int64
	err := shared.RetryOnConflict(ctx, s.retry, "delete subscriptions", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE owner = ?`, owner)
		if err != nil {
			return fmt.Errorf("delete subscriptions: %w", err)
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

func (s *SQLiteStore) querySubscriptions(ctx context.Context, query string, args ...any) ([]domain.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close subscription rows", "error", closeErr)
		}
	}()

	var subs []domain.Subscription
	for rows.Next() {
		var sub domain.Subscription
		var createdAt int64
		if err := rows.Scan(&sub.Owner, &sub.Recipient, &sub.NextDay, &sub.NextWeek, &createdAt); err != nil {
			return nil, fmt.Errorf("scan subscription row: %w", err)
		}
		sub.CreatedAt = time.Unix(createdAt, 0)
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return subs, nil
}

func (s *SQLiteStore) formatDate(t time.Time) string {
	return t.In(s.loc).Format(dateLayout)
}
