package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"

	"github.com/raphaelgruber/assetcheck/internal/remote"
)

// Sentinel errors for database operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrRowAlreadyExists indicates another writer claimed the same row index.
	ErrRowAlreadyExists = errors.New("row already exists")

	// ErrTransactionConflict indicates a SurrealDB transaction conflict.
	// This occurs when multiple concurrent operations attempt to modify the same records.
	ErrTransactionConflict = errors.New("transaction conflict")
)

// wrapQueryError inspects a SurrealDB error and wraps it with the appropriate
// sentinel error. Query-level errors that are not conflicts are permanent;
// anything else (connection loss, timeouts) is reported as unavailable so the
// coordinator keeps the work queued.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		msg := queryErr.Message
		if strings.Contains(msg, "already exists") || strings.Contains(msg, "already contains") {
			return fmt.Errorf("%w: %s", ErrRowAlreadyExists, msg)
		}
		if strings.Contains(msg, "Transaction conflict") {
			return fmt.Errorf("%w: %s", ErrTransactionConflict, msg)
		}
		return fmt.Errorf("%w: %s", remote.ErrRejected, msg)
	}

	return fmt.Errorf("%w: %w", remote.ErrUnavailable, err)
}

func isConflict(err error) bool {
	return errors.Is(err, ErrRowAlreadyExists) || errors.Is(err, ErrTransactionConflict)
}
