// SPDX-License-Identifier: MIT

// Package dialog drives the per-user multi-step conversations: stage
// ordering, per-field validation, TTL expiry, resumability, and the final
// commit to the booking repository.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/trialbot/trialbot/internal/booking"
	"github.com/trialbot/trialbot/internal/log"
	"github.com/trialbot/trialbot/internal/state"
)

// Config holds the engine's tunables.
type Config struct {
	TTL     time.Duration // session time-to-live, checked lazily on every transition
	Courses []string      // currently active course names
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TTL:     30 * time.Minute,
		Courses: []string{"Scratch", "Python", "Web"},
	}
}

// ReviewSink receives a completed review. Reviews leave the core through
// a collaborator, like outbound messages do.
type ReviewSink func(ctx context.Context, userID int64, rating int, text string) error

// Result tells the caller what to show the user next.
type Result struct {
	Stage     string   // stage now awaiting input; empty when the dialog ended
	Prompt    string   // user-facing prompt for that stage
	Options   []string // choice list when the stage is an enumerated pick
	Resume    bool     // a live session exists; caller must pick Resume or Restart
	Done      bool     // dialog reached a terminal outcome
	Applied   bool     // terminal outcome was a successful commit
	BookingID string   // set when a registration was applied
}

// Engine is the per-user dialog state machine. All session state lives in
// the store, so dialogs survive a process restart.
type Engine struct {
	cfg     Config
	store   *state.Store
	repo    booking.Repository
	reviews ReviewSink
	logger  zerolog.Logger
	now     func() time.Time
}

// New creates an engine. reviews may be nil when the deployment has no
// review collection wired up.
func New(cfg Config, store *state.Store, repo booking.Repository, reviews ReviewSink) *Engine {
	return &Engine{
		cfg:     cfg,
		store:   store,
		repo:    repo,
		reviews: reviews,
		logger:  log.WithComponent("dialog"),
		now:     time.Now,
	}
}

// Start begins a dialog of the given kind. When a live session of the
// same kind exists the engine does not silently drop or duplicate it:
// the result asks the caller to choose between Resume and Restart.
// implicitContact, when non-empty, pre-fills the contact field so the
// contact stage is skipped.
func (e *Engine) Start(ctx context.Context, userID int64, kind state.DialogKind, implicitContact string) (Result, error) {
	if sess, ok := e.store.Session(userID); ok {
		if sess.Age(e.now()) > e.cfg.TTL {
			e.store.ClearSession(userID)
		} else if sess.Kind == kind {
			return Result{
				Resume:  true,
				Stage:   sess.Stage,
				Prompt:  promptFor(sess.Stage),
				Options: []string{"continue", "restart"},
			}, nil
		} else {
			// A different dialog kind replaces the old one.
			e.store.ClearSession(userID)
		}
	}

	fields := map[string]string{}
	switch kind {
	case state.KindEdit, state.KindCancellation:
		b, err := e.precondition(ctx, userID)
		if err != nil {
			return Result{}, err
		}
		fields["booking_id"] = b.ID
	case state.KindRegistration:
		if implicitContact != "" {
			if contact, err := validateContact(implicitContact); err == nil {
				fields["contact"] = contact
			}
		}
	}

	seq := stageSequences[kind]
	if len(seq) == 0 {
		return Result{}, fmt.Errorf("unknown dialog kind %q", kind)
	}
	first := seq[0]

	e.store.SetSession(state.Session{
		UserID:    userID,
		Kind:      kind,
		Stage:     first,
		Fields:    fields,
		StartedAt: e.now(),
	})
	e.logger.Debug().
		Int64("user_id", userID).
		Str("kind", string(kind)).
		Str("stage", first).
		Msg("dialog started")

	return e.promptResult(first), nil
}

// Resume continues a live session from its current stage without
// re-asking already-answered fields.
func (e *Engine) Resume(userID int64) (Result, error) {
	sess, ok := e.store.Session(userID)
	if !ok {
		return Result{}, ErrSessionNotFound
	}
	if sess.Age(e.now()) > e.cfg.TTL {
		e.store.ClearSession(userID)
		return Result{}, ErrSessionExpired
	}
	return e.promptResult(sess.Stage), nil
}

// Restart discards the live session and starts the dialog over.
func (e *Engine) Restart(ctx context.Context, userID int64, kind state.DialogKind, implicitContact string) (Result, error) {
	e.store.ClearSession(userID)
	return e.Start(ctx, userID, kind, implicitContact)
}

// Abort abandons the dialog at any point.
func (e *Engine) Abort(userID int64) Result {
	e.store.ClearSession(userID)
	return Result{Done: true}
}

// Input feeds one raw user input into the session's current stage. On
// valid input the field is merged and the stage advances; on invalid
// input the stage is retained, nothing is mutated, and a ValidationError
// is returned for re-prompting.
func (e *Engine) Input(ctx context.Context, userID int64, text string) (Result, error) {
	sess, ok := e.store.Session(userID)
	if !ok {
		return Result{}, ErrSessionNotFound
	}
	if sess.Age(e.now()) > e.cfg.TTL {
		e.store.ClearSession(userID)
		e.logger.Debug().Int64("user_id", userID).Str("kind", string(sess.Kind)).Msg("session expired, discarded")
		return Result{}, ErrSessionExpired
	}
	if !validStage(sess.Kind, sess.Stage) {
		// A stage the kind does not know can only come from a bad
		// snapshot; drop it rather than guessing.
		e.store.ClearSession(userID)
		return Result{}, ErrSessionNotFound
	}

	if sess.Stage == StageConfirmation {
		return e.confirm(ctx, sess, text)
	}

	field, value, err := e.capture(sess, text)
	if err != nil {
		return Result{}, err
	}

	next := nextStage(sess.Kind, sess.Stage)
	if sess.Kind == state.KindRegistration && next == StageContact {
		if _, ok := sess.Fields["contact"]; ok {
			next = nextStage(sess.Kind, next)
		}
	}

	e.store.UpdateSession(userID, next, map[string]string{field: value})
	e.logger.Debug().
		Int64("user_id", userID).
		Str("kind", string(sess.Kind)).
		Str("from", sess.Stage).
		Str("to", next).
		Msg("dialog advanced")

	return e.promptResult(next), nil
}

// capture validates the input for the session's current stage and returns
// the field name and canonical value to merge.
func (e *Engine) capture(sess state.Session, text string) (string, string, error) {
	switch sess.Stage {
	case StageParentName, StageStudentName:
		v, err := validateName(sess.Stage, text)
		return sess.Stage, v, err
	case StageAge:
		v, err := validateAge(text)
		return "age", v, err
	case StageCourse:
		v, err := validateCourse(text, e.cfg.Courses)
		return "course", v, err
	case StageContact:
		v, err := validateContact(text)
		return "contact", v, err
	case StageFieldSelect:
		v, err := validateFieldChoice(text)
		return "edit_field", v, err
	case StageFieldValue:
		v, err := e.validateField(sess.Fields["edit_field"], text)
		return "edit_value", v, err
	case StageReason:
		v, err := validateReason("reason", text)
		return "reason", v, err
	case StageRating:
		v, err := validateRating(text)
		return "rating", v, err
	case StageReviewText:
		v, err := validateReason("review_text", text)
		return "review_text", v, err
	}
	return "", "", &ValidationError{Field: sess.Stage, Reason: "unexpected stage"}
}

// validateField routes an edit-dialog value to the validator for the
// chosen field.
func (e *Engine) validateField(field, value string) (string, error) {
	switch field {
	case "parent_name", "student_name":
		return validateName(field, value)
	case "age":
		return validateAge(value)
	case "course":
		return validateCourse(value, e.cfg.Courses)
	case "contact":
		return validateContact(value)
	}
	return "", &ValidationError{Field: "field", Reason: "unknown field", Options: editableFields}
}

// validateFieldChoice matches the field_select input against the editable
// field list.
func validateFieldChoice(value string) (string, error) {
	for _, f := range editableFields {
		if f == normalizeChoice(value) {
			return f, nil
		}
	}
	return "", &ValidationError{
		Field:   "field",
		Reason:  "pick one of the editable fields",
		Options: append([]string(nil), editableFields...),
	}
}

// confirm handles the confirmation stage: an affirmative commits, a
// negative abandons, anything else re-prompts.
func (e *Engine) confirm(ctx context.Context, sess state.Session, text string) (Result, error) {
	switch {
	case affirmative(text):
		return e.commit(ctx, sess)
	case negative(text):
		e.store.ClearSession(sess.UserID)
		e.logger.Info().Int64("user_id", sess.UserID).Str("kind", string(sess.Kind)).Msg("dialog abandoned")
		return Result{Done: true}, nil
	default:
		return Result{}, &ValidationError{Field: "confirmation", Reason: "reply yes or no"}
	}
}

// commit hands the validated field set to the repository. Success and
// conflict both clear the session; a repository outage keeps it so the
// user can retry the confirmation.
func (e *Engine) commit(ctx context.Context, sess state.Session) (Result, error) {
	switch sess.Kind {
	case state.KindRegistration:
		return e.commitRegistration(ctx, sess)
	case state.KindEdit:
		return e.commitEdit(ctx, sess)
	case state.KindCancellation:
		return e.commitCancellation(ctx, sess)
	case state.KindReview:
		return e.commitReview(ctx, sess)
	}
	e.store.ClearSession(sess.UserID)
	return Result{}, fmt.Errorf("unknown dialog kind %q", sess.Kind)
}

func (e *Engine) commitRegistration(ctx context.Context, sess state.Session) (Result, error) {
	age, _ := strconv.Atoi(sess.Fields["age"])
	id, err := e.repo.Create(ctx, &booking.Booking{
		UserID:      sess.UserID,
		ParentName:  sess.Fields["parent_name"],
		StudentName: sess.Fields["student_name"],
		Age:         age,
		Course:      sess.Fields["course"],
		Contact:     sess.Fields["contact"],
	})
	if errors.Is(err, booking.ErrDuplicate) {
		// A half-open dialog would just trap the user; clear it and
		// surface the conflict.
		e.store.ClearSession(sess.UserID)
		return Result{}, ErrDuplicateBooking
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}

	e.store.ClearSession(sess.UserID)
	e.logger.Info().
		Str("event", "dialog.applied").
		Int64("user_id", sess.UserID).
		Str("booking_id", id).
		Str("course", sess.Fields["course"]).
		Msg("registration applied")
	return Result{Done: true, Applied: true, BookingID: id}, nil
}

func (e *Engine) commitEdit(ctx context.Context, sess state.Session) (Result, error) {
	b, err := e.recheck(ctx, sess)
	if err != nil {
		return Result{}, err
	}

	err = e.repo.UpdateFields(ctx, b.ID, map[string]string{sess.Fields["edit_field"]: sess.Fields["edit_value"]})
	if errors.Is(err, booking.ErrNotFound) {
		e.store.ClearSession(sess.UserID)
		return Result{}, ErrNoEditableBooking
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}

	e.store.ClearSession(sess.UserID)
	e.logger.Info().
		Str("event", "dialog.applied").
		Int64("user_id", sess.UserID).
		Str("booking_id", b.ID).
		Str("field", sess.Fields["edit_field"]).
		Msg("booking edited")
	return Result{Done: true, Applied: true, BookingID: b.ID}, nil
}

func (e *Engine) commitCancellation(ctx context.Context, sess state.Session) (Result, error) {
	b, err := e.recheck(ctx, sess)
	if err != nil {
		return Result{}, err
	}

	err = e.repo.Archive(ctx, b.ID, sess.UserID, sess.Fields["reason"], booking.StatusCancelled)
	if errors.Is(err, booking.ErrNotFound) {
		e.store.ClearSession(sess.UserID)
		return Result{}, ErrNoEditableBooking
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}

	e.store.ClearSession(sess.UserID)
	e.logger.Info().
		Str("event", "dialog.applied").
		Int64("user_id", sess.UserID).
		Str("booking_id", b.ID).
		Msg("booking cancelled")
	return Result{Done: true, Applied: true, BookingID: b.ID}, nil
}

func (e *Engine) commitReview(ctx context.Context, sess state.Session) (Result, error) {
	if e.reviews != nil {
		rating, _ := strconv.Atoi(sess.Fields["rating"])
		if err := e.reviews(ctx, sess.UserID, rating, sess.Fields["review_text"]); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrCommitFailed, err)
		}
	}
	e.store.ClearSession(sess.UserID)
	e.logger.Info().
		Str("event", "dialog.applied").
		Int64("user_id", sess.UserID).
		Str("rating", sess.Fields["rating"]).
		Msg("review submitted")
	return Result{Done: true, Applied: true}, nil
}

// precondition checks, at dialog start, that the user has a booking in a
// status that allows editing or cancellation.
func (e *Engine) precondition(ctx context.Context, userID int64) (*booking.Booking, error) {
	b, err := e.repo.FindActiveByUser(ctx, userID)
	if errors.Is(err, booking.ErrNotFound) {
		return nil, ErrNoEditableBooking
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}
	return b, nil
}

// recheck re-runs the precondition at commit time: the booking's status
// may have changed while the dialog was open.
func (e *Engine) recheck(ctx context.Context, sess state.Session) (*booking.Booking, error) {
	b, err := e.repo.FindActiveByUser(ctx, sess.UserID)
	if errors.Is(err, booking.ErrNotFound) {
		e.store.ClearSession(sess.UserID)
		return nil, ErrNoEditableBooking
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}
	return b, nil
}

// promptResult builds the Result for a stage, attaching choice lists for
// enumerated stages.
func (e *Engine) promptResult(stage string) Result {
	res := Result{Stage: stage, Prompt: promptFor(stage)}
	switch stage {
	case StageCourse:
		res.Options = append([]string(nil), e.cfg.Courses...)
	case StageFieldSelect:
		res.Options = append([]string(nil), editableFields...)
	}
	return res
}
