package domain

import (
	"github.com/allisson/mqingest/internal/errors"
)

// Message-specific error definitions.
var (
	// ErrMessageNotFound indicates no message matches the lookup.
	ErrMessageNotFound = errors.Wrap(errors.ErrNotFound, "message not found")

	// ErrMessageConflict indicates a duplicate (message id, queue) pair or a stale version on update.
	ErrMessageConflict = errors.Wrap(errors.ErrConflict, "message conflict")
)
