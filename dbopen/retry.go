package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const maxAttempts = 3

// IsBusy reports whether err is an SQLite lock contention error.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// RunTx runs fn in a transaction, retrying the whole transaction when
// SQLite reports contention. Backoff is 100, 200 ms.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	var err error
	for i := range maxAttempts {
		if err = runOnce(ctx, db, fn); err == nil || !IsBusy(err) {
			return err
		}
		if i < maxAttempts-1 {
			if werr := wait(ctx, time.Duration(100*(i+1))*time.Millisecond); werr != nil {
				return fmt.Errorf("dbopen: retry aborted: %w", werr)
			}
		}
	}
	return fmt.Errorf("dbopen: tx still busy after %d attempts: %w", maxAttempts, err)
}

// Exec is db.ExecContext with the same retry policy as RunTx.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var err error
	for i := range maxAttempts {
		var res sql.Result
		if res, err = db.ExecContext(ctx, query, args...); err == nil {
			return res, nil
		}
		if !IsBusy(err) {
			return nil, err
		}
		if i < maxAttempts-1 {
			if werr := wait(ctx, time.Duration(100*(i+1))*time.Millisecond); werr != nil {
				return nil, fmt.Errorf("dbopen: retry aborted: %w", werr)
			}
		}
	}
	return nil, fmt.Errorf("dbopen: exec still busy after %d attempts: %w", maxAttempts, err)
}

func runOnce(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbopen: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dbopen: commit: %w", err)
	}
	return nil
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
