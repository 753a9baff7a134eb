package store

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

const (
	busyMaxRetries = 3
	busyBaseDelay  = 50 * time.Millisecond
)

// isSQLiteConflictError checks for SQLITE_BUSY or "database is locked".
// Both are concurrency errors that warrant a retry.
func isSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withBusyRetry runs fn, retrying conflict errors with exponential backoff
// (50ms, 100ms). Other errors are returned immediately.
func withBusyRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := 0; i < busyMaxRetries; i++ {
		err = fn()
		if err == nil || !isSQLiteConflictError(err) {
			return err
		}
		if i == busyMaxRetries-1 {
			break
		}

		delay := busyBaseDelay * time.Duration(1<<i)
		slog.Debug("SQLite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
