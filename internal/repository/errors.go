// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow the service layer to
// distinguish between failure scenarios without inspecting driver
// errors. For example, ErrForbidden indicates that a conditional write
// matched a row owned by someone else, while ErrInvariant signals that
// the merged row would break a column invariant such as
// available <= quantity.
package repository

import (
    "errors"
    "strings"
)

// ErrNotFound is returned when the referenced row does not exist.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Services translate this into
// FORBIDDEN (403).
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an update cannot be performed because
// of conflicting state, such as a transaction that already left the
// pending status.
var ErrConflict = errors.New("conflict")

// ErrInvariant is returned when a conditional update matched no row
// because the merged values would violate a table invariant.
var ErrInvariant = errors.New("invariant violated")

// ErrInsufficientCredits is returned by a guarded debit when the
// balance is lower than the requested amount.
var ErrInsufficientCredits = errors.New("insufficient credits")

var ErrEmailExists = errors.New("email already exists")

// isDuplicate reports a MySQL duplicate key error (1062).
func isDuplicate(err error) bool {
    return err != nil && strings.Contains(strings.ToLower(err.Error()), "1062")
}
