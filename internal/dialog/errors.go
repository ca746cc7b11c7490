// SPDX-License-Identifier: MIT

package dialog

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound means input arrived for a user with no dialog in
	// flight. The caller re-prompts the user to start one.
	ErrSessionNotFound = errors.New("no dialog session in flight")

	// ErrSessionExpired means the session outlived its TTL. The stale
	// session has already been discarded; a fresh dialog is required.
	ErrSessionExpired = errors.New("dialog session expired, start over")

	// ErrDuplicateBooking is surfaced when the final commit collides with
	// an already-active booking. The session is cleared.
	ErrDuplicateBooking = errors.New("an active booking already exists")

	// ErrNoEditableBooking means the edit/cancel precondition failed: the
	// user has no booking in a status that allows the operation.
	ErrNoEditableBooking = errors.New("no active booking to modify")

	// ErrCommitFailed wraps a repository outage during the final commit.
	// The session is kept so the user can retry the confirmation.
	ErrCommitFailed = errors.New("could not save, try again later")
)

// ValidationError reports a rejected input for one field. The session
// stage is retained and no field is mutated; the caller asks the user to
// retry. Options carries the choice list when the field is an enumerated
// pick (courses, editable fields).
type ValidationError struct {
	Field   string
	Reason  string
	Options []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
