// SPDX-License-Identifier: MIT

// Package booking defines the booking record and the repository contract
// the conversational core consumes, plus a SQLite-backed implementation.
package booking

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusNew       Status = "new"       // created, waiting for an admin to assign
	StatusAssigned  Status = "assigned"  // schedule and join link set
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var (
	// ErrDuplicate is returned by Create when the user already has an
	// active booking.
	ErrDuplicate = errors.New("user already has an active booking")

	// ErrNotFound is returned when no booking matches the given id.
	ErrNotFound = errors.New("booking not found")

	// ErrUnavailable wraps driver-level failures so callers can tell a
	// storage outage apart from a domain outcome.
	ErrUnavailable = errors.New("booking storage unavailable")
)

// Booking is one trial-lesson request. ScheduledAt stays textual because
// upstream producers emit more than one format; ParseLessonTime handles
// the tolerated representations.
type Booking struct {
	ID           string
	UserID       int64
	ParentName   string
	StudentName  string
	Age          int
	Course       string
	Contact      string
	Status       Status
	ScheduledAt  string
	JoinLink     string
	ReminderSent bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Active reports whether the booking still occupies the user's single
// active slot.
func (b *Booking) Active() bool {
	return b.Status == StatusNew || b.Status == StatusAssigned
}

// Repository is the narrow persistence contract the core depends on. The
// implementation provides its own consistency for concurrent writes to a
// single booking; the core does not lock over booking rows.
type Repository interface {
	// ByID returns the booking or ErrNotFound.
	ByID(ctx context.Context, id string) (*Booking, error)

	// FindActiveByUser returns the user's active booking or ErrNotFound.
	FindActiveByUser(ctx context.Context, userID int64) (*Booking, error)

	// Create inserts a new booking and returns its id. ErrDuplicate when
	// the user already has an active booking.
	Create(ctx context.Context, b *Booking) (string, error)

	// UpdateFields overwrites the given editable columns.
	UpdateFields(ctx context.Context, id string, fields map[string]string) error

	// UpdateStatus moves the booking to the given status.
	UpdateStatus(ctx context.Context, id string, status Status) error

	// AssignSchedule sets the lesson time and join link, moves the booking
	// to assigned and re-arms the reminder.
	AssignSchedule(ctx context.Context, id string, scheduledAt, joinLink string) error

	// MarkReminderSent flips the reminder flag. Called only after a
	// confirmed successful delivery.
	MarkReminderSent(ctx context.Context, id string) error

	// ListUpcoming returns bookings whose lesson time parses and falls
	// strictly within (0, within] from now, with a join link set and the
	// reminder not yet sent. Rows with unparsable times are skipped.
	ListUpcoming(ctx context.Context, now time.Time, within time.Duration) ([]Booking, error)

	// Archive moves the booking into the archive with the given outcome
	// status, recording who cancelled it and why. ErrNotFound when the
	// booking does not exist.
	Archive(ctx context.Context, id string, cancelledBy int64, reason string, archived Status) error
}
