package taskq

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore     = errors.New("taskq: no store configured")
	ErrStoreClosed = errors.New("taskq: store closed")

	// Not found errors.
	ErrJobNotFound = errors.New("taskq: job not found")
	ErrDLQNotFound = errors.New("taskq: dlq entry not found")

	// Conflict errors.
	ErrJobAlreadyExists  = errors.New("taskq: job already exists")
	ErrDuplicateSchedule = errors.New("taskq: duplicate schedule")

	// State errors.
	ErrInvalidState = errors.New("taskq: invalid state transition")
	ErrBudgetSpent  = errors.New("taskq: attempt budget exhausted")

	// ErrConcurrencyViolation means a caller tried to act on a reserved or
	// running record it does not own. It signals a correctness bug.
	ErrConcurrencyViolation = errors.New("taskq: record owned by another worker")

	// Execution errors.
	ErrUnknownKind   = errors.New("taskq: no handler registered for kind")
	ErrSerialization = errors.New("taskq: payload serialization failed")
	ErrTimeout       = errors.New("taskq: attempt deadline exceeded")
)

// PersistenceError reports that the queue store failed an operation.
// Callers of the failing operation receive it; the job may or may not have
// been written.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("taskq: persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence wraps err as a *PersistenceError for op. Nil stays nil and an
// error that already carries a PersistenceError is returned unchanged.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsPersistence reports whether err is a store failure.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
