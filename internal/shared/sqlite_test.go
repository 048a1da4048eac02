package shared

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSQLiteErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		conflict bool
		unique   bool
	}{
		{name: "nil", err: nil},
		{name: "busy", err: errors.New("database is busy (5) (SQLITE_BUSY)"), conflict: true},
		{name: "locked", err: errors.New("database is locked"), conflict: true},
		{name: "unique", err: errors.New("constraint failed: UNIQUE constraint failed: tasks.owner, tasks.description (2067)"), unique: true},
		{name: "other", err: errors.New("no such table: tasks")},
	}

	for _, tt := range tests {
		if got := IsSQLiteConflictError(tt.err); got != tt.conflict {
			t.Errorf("%s: IsSQLiteConflictError = %v, want %v", tt.name, got, tt.conflict)
		}
		if got := IsSQLiteUniqueError(tt.err); got != tt.unique {
			t.Errorf("%s: IsSQLiteUniqueError = %v, want %v", tt.name, got, tt.unique)
		}
	}
}

func TestRetryOnConflictRetriesBusyErrors(t *testing.T) {
	t.Parallel()

	calls := 0
	err := RetryOnConflict(context.Background(), RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}, "insert", func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryOnConflictStopsOnOtherErrors(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("no such table")
	calls := 0
	err := RetryOnConflict(context.Background(), RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}, "insert", func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
	if calls != 1 {
		t.Errorf("expected a single call, got %d", calls)
	}
}

func TestRetryOnConflictGivesUp(t *testing.T) {
	t.Parallel()

	calls := 0
	err := RetryOnConflict(context.Background(), RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}, "delete", func() error {
		calls++
		return errors.New("SQLITE_BUSY")
	})
	if err == nil || !IsSQLiteConflictError(err) {
		t.Fatalf("expected wrapped conflict error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}
