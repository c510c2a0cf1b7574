package repository

import "errors"

// Repository-level sentinel errors. The service layer translates them into
// domain errors from internal/errors so business logic stays independent of the
// storage backend (sql.ErrNoRows, redis.Nil, ...).
var (
	// ErrNotFound is returned when a single entity lookup finds nothing, including
	// lookups scoped to an owner that does not own the entity.
	ErrNotFound = errors.New("repository: not found")

	// ErrInvalidTransition is returned when a message status change would move
	// backwards, e.g. finalizing a message that is already marked as failed.
	ErrInvalidTransition = errors.New("repository: invalid message status transition")
)
