package job

import (
	"errors"
	"fmt"
	"time"
)

// OutcomeKind classifies how an attempt ended.
type OutcomeKind int

const (
	// OutcomeSuccess means the handler returned nil.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeRelease re-queues the job without consuming an attempt.
	OutcomeRelease
	// OutcomeDelete removes the record without a terminal status.
	OutcomeDelete
	// OutcomeFail is a transient failure that may be retried.
	OutcomeFail
	// OutcomeDead dead-letters the job regardless of remaining budget.
	OutcomeDead
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRelease:
		return "release"
	case OutcomeDelete:
		return "delete"
	case OutcomeFail:
		return "fail"
	case OutcomeDead:
		return "dead"
	}
	return fmt.Sprintf("outcome(%d)", int(k))
}

// Outcome is the classified result of one attempt.
type Outcome struct {
	Kind  OutcomeKind
	Delay time.Duration
	Err   error
}

type releaseError struct{ delay time.Duration }

func (e *releaseError) Error() string { return fmt.Sprintf("job released for %s", e.delay) }

type deleteError struct{}

func (deleteError) Error() string { return "job deleted" }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return "permanent: " + e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Release asks the worker to re-queue the job after delay without counting
// the attempt against its budget.
func Release(delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	return &releaseError{delay: delay}
}

// Delete asks the worker to remove the job record.
func Delete() error { return deleteError{} }

// Permanent marks err as non-retryable. The job is dead-lettered.
func Permanent(err error) error {
	if err == nil {
		err = errors.New("permanent failure")
	}
	return &permanentError{err: err}
}

// OutcomeOf classifies a handler's return value.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return Outcome{Kind: OutcomeSuccess}
	}
	var rel *releaseError
	if errors.As(err, &rel) {
		return Outcome{Kind: OutcomeRelease, Delay: rel.delay}
	}
	var del deleteError
	if errors.As(err, &del) {
		return Outcome{Kind: OutcomeDelete}
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return Outcome{Kind: OutcomeDead, Err: perm.err}
	}
	return Outcome{Kind: OutcomeFail, Err: err}
}
