package repositories

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	// Implementations translate their driver's not-found error into this.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateActiveAttempt is returned when inserting an attempt loses
	// the race against another non-terminal attempt for the same (student,
	// run) pair. The unique index on active_key raises it; callers retry by
	// re-reading the winner.
	ErrDuplicateActiveAttempt = errors.New("active attempt already exists")
)

func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsDuplicateActiveAttemptError(err error) bool {
	return errors.Is(err, ErrDuplicateActiveAttempt)
}
