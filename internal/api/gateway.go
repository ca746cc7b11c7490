// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/trialbot/trialbot/internal/dialog"
	"github.com/trialbot/trialbot/internal/guard"
	"github.com/trialbot/trialbot/internal/log"
	"github.com/trialbot/trialbot/internal/state"
)

// errUnknownCommand rejects a command word outside the supported set. A
// client mistake, not a server failure.
var errUnknownCommand = errors.New("unknown command")

// Gateway receives inbound chat events from the transport process and
// dispatches them into the guard and the dialog engine. The transport
// owns parsing and menus; it hands the core one user, one command or one
// line of text per event.
type Gateway struct {
	engine *dialog.Engine
	guard  *guard.Guard
	store  *state.Store
}

// NewGateway creates the inbound dispatch.
func NewGateway(engine *dialog.Engine, g *guard.Guard, store *state.Store) *Gateway {
	return &Gateway{
		engine: engine,
		guard:  g,
		store:  store,
	}
}

// inboundEvent is one user turn. Command starts or controls a dialog;
// with an empty command the text feeds the current stage.
type inboundEvent struct {
	UserID  int64  `json:"user_id"`
	Command string `json:"command,omitempty"` // register|edit|cancel|review|resume|restart|abort
	Text    string `json:"text,omitempty"`
	Contact string `json:"contact,omitempty"` // implicit identity from the transport, if any
}

// eventResponse is what the transport renders back to the user.
type eventResponse struct {
	Prompt     string   `json:"prompt,omitempty"`
	Options    []string `json:"options,omitempty"`
	Resume     bool     `json:"resume,omitempty"`
	Done       bool     `json:"done,omitempty"`
	Applied    bool     `json:"applied,omitempty"`
	BookingID  string   `json:"booking_id,omitempty"`
	Error      string   `json:"error,omitempty"`
	RetryAfter int      `json:"retry_after_seconds,omitempty"`
}

var commandKinds = map[string]state.DialogKind{
	"register": state.KindRegistration,
	"edit":     state.KindEdit,
	"cancel":   state.KindCancellation,
	"review":   state.KindReview,
}

func (g *Gateway) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev inboundEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, eventResponse{Error: "malformed event"})
		return
	}

	// Every turn carries an update id so all log lines for one event can
	// be correlated; the transport may supply its own.
	updateID := r.Header.Get("X-Update-ID")
	if updateID == "" {
		updateID = uuid.NewString()
	}
	ctx := log.ContextWithUpdateID(r.Context(), updateID)
	logger := log.WithComponentFromContext(ctx, "gateway")

	if err := g.guard.Check(ev.UserID); err != nil {
		g.writeGuardRejection(w, ev.UserID, err)
		return
	}

	res, err := g.dispatch(ctx, ev)
	if err != nil {
		g.writeDialogError(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, eventResponse{
		Prompt:    res.Prompt,
		Options:   res.Options,
		Resume:    res.Resume,
		Done:      res.Done,
		Applied:   res.Applied,
		BookingID: res.BookingID,
	})
}

func (g *Gateway) dispatch(ctx context.Context, ev inboundEvent) (dialog.Result, error) {
	switch ev.Command {
	case "":
		return g.engine.Input(ctx, ev.UserID, ev.Text)
	case "resume":
		return g.engine.Resume(ev.UserID)
	case "restart":
		sess, ok := g.store.Session(ev.UserID)
		if !ok {
			return dialog.Result{}, dialog.ErrSessionNotFound
		}
		return g.engine.Restart(ctx, ev.UserID, sess.Kind, ev.Contact)
	case "abort":
		return g.engine.Abort(ev.UserID), nil
	default:
		kind, ok := commandKinds[ev.Command]
		if !ok {
			// Unknown commands from a transport that should know better
			// count as suspicious.
			g.guard.ReportSuspicious(ev.UserID, "unknown command "+ev.Command)
			return dialog.Result{}, errUnknownCommand
		}
		return g.engine.Start(ctx, ev.UserID, kind, ev.Contact)
	}
}

func (g *Gateway) writeGuardRejection(w http.ResponseWriter, userID int64, err error) {
	var rle *guard.RateLimitError
	switch {
	case errors.Is(err, guard.ErrBanned):
		writeJSON(w, http.StatusForbidden, eventResponse{Error: "you are banned"})
	case errors.As(err, &rle):
		// A blocked action is a suspicious event: hammering the limiter
		// escalates to a ban.
		g.guard.ReportSuspicious(userID, "rate limited")
		writeJSON(w, http.StatusTooManyRequests, eventResponse{
			Error:      "you are rate-limited, try again later",
			RetryAfter: int(rle.RetryAfter.Seconds() + 0.5),
		})
	default:
		writeJSON(w, http.StatusInternalServerError, eventResponse{Error: "internal error"})
	}
}

func (g *Gateway) writeDialogError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	var ve *dialog.ValidationError
	switch {
	case errors.Is(err, errUnknownCommand):
		writeJSON(w, http.StatusBadRequest, eventResponse{Error: "unknown command"})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusOK, eventResponse{
			Error:   "this value is invalid, try again: " + ve.Reason,
			Options: ve.Options,
		})
	case errors.Is(err, dialog.ErrSessionExpired):
		writeJSON(w, http.StatusOK, eventResponse{Error: "your session expired, start over"})
	case errors.Is(err, dialog.ErrSessionNotFound):
		writeJSON(w, http.StatusOK, eventResponse{Error: "no dialog in progress"})
	case errors.Is(err, dialog.ErrDuplicateBooking):
		writeJSON(w, http.StatusConflict, eventResponse{Error: "an active booking already exists"})
	case errors.Is(err, dialog.ErrNoEditableBooking):
		writeJSON(w, http.StatusConflict, eventResponse{Error: "no active booking to modify"})
	case errors.Is(err, dialog.ErrCommitFailed):
		writeJSON(w, http.StatusServiceUnavailable, eventResponse{Error: "could not save, try again later"})
	default:
		logger.Error().Err(err).Msg("unexpected dialog error")
		writeJSON(w, http.StatusInternalServerError, eventResponse{Error: "internal error"})
	}
}
