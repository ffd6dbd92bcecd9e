package model

import "errors"

// Error kinds returned at operation boundaries. Callers wrap them with
// fmt.Errorf("%w: ...") and test with errors.Is.
var (
	// ErrNotFound means a round, order or user id is unknown.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized means the user lacks trading permission, does not own
	// the order, or has reached the per-round order cap.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidInput means a request failed validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvariantViolation signals corrupted state: more than one active
	// round, or conclusion of a round id that does not exist. Never retried.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrRoundNotDue is returned when conclusion is attempted before the
	// round's end time. The scheduler retries it.
	ErrRoundNotDue = errors.New("round has not reached its end time")
)

// IsPermanent reports whether err should not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvariantViolation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrInvalidInput)
}
