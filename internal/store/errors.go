package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Store error taxonomy. Callers branch on these with errors.Is.
var (
	// ErrNotFound reports a document or chunk identifier that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrIntegrityViolation reports an invariant breach; the enclosing
	// transaction has been rolled back.
	ErrIntegrityViolation = errors.New("integrity violation")
	// ErrTransient reports a retriable I/O fault.
	ErrTransient = errors.New("transient storage fault")
)

// classify maps a driver error onto the store taxonomy, keeping the original
// message in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 23 covers constraint violations; class 40 covers rollbacks
		// such as serialization failures, which are retriable.
		switch pgErr.Code[:2] {
		case "23":
			return fmt.Errorf("%w: %v", ErrIntegrityViolation, err)
		case "40", "53", "57", "58":
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
		return err
	}

	// Anything below the protocol layer (dial, reset, timeout) is transient.
	return fmt.Errorf("%w: %v", ErrTransient, err)
}
