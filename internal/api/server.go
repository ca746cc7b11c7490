// SPDX-License-Identifier: MIT

// Package api exposes the ops surface: health, status, metrics and the
// administrative ban controls. The chat-facing surface lives elsewhere;
// this listener is meant for operators and monitoring.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/trialbot/trialbot/internal/booking"
	"github.com/trialbot/trialbot/internal/guard"
	"github.com/trialbot/trialbot/internal/log"
	"github.com/trialbot/trialbot/internal/schedule"
	"github.com/trialbot/trialbot/internal/state"
)

// Server wires the HTTP surface: the inbound gateway endpoint plus the
// ops handlers.
type Server struct {
	store   *state.Store
	guard   *guard.Guard
	sched   *schedule.Scheduler
	repo    booking.Repository
	gateway *Gateway
	logger  zerolog.Logger
}

// NewServer creates the server. gateway may be nil for ops-only
// deployments.
func NewServer(store *state.Store, g *guard.Guard, sched *schedule.Scheduler, repo booking.Repository, gateway *Gateway) *Server {
	return &Server{
		store:   store,
		guard:   g,
		sched:   sched,
		repo:    repo,
		gateway: gateway,
		logger:  log.WithComponent("api"),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	if s.gateway != nil {
		r.Post("/gateway/event", s.gateway.handleEvent)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(httprate.LimitByIP(60, time.Minute))
		r.Get("/status", s.handleStatus)
		r.Get("/admin/banned", s.handleBannedList)
		r.Post("/admin/ban/{userID}", s.handleBan)
		r.Post("/admin/unban/{userID}", s.handleUnban)
		r.Post("/admin/assign/{bookingID}", s.handleAssign)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Scheduler schedule.Status `json:"scheduler"`
	Pending   int             `json:"pending_notifications"`
	Banned    int             `json:"banned_users"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Scheduler: s.sched.Status(),
		Pending:   len(s.store.ListPendingNotifications()),
		Banned:    len(s.store.BannedUsers()),
	})
}

func (s *Server) handleBannedList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]int64{"banned": s.store.BannedUsers()})
}

func (s *Server) handleBan(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	s.guard.Ban(userID)
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "banned": true})
}

func (s *Server) handleUnban(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	s.guard.Unban(userID)
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "banned": false})
}

type assignRequest struct {
	ScheduledAt string `json:"scheduled_at"`
	JoinLink    string `json:"join_link"`
}

// handleAssign sets the lesson time and join link on a booking and queues
// the assignment notice for the scheduler's next flush sweep.
func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "bookingID")

	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ScheduledAt == "" || req.JoinLink == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "scheduled_at and join_link are required"})
		return
	}
	if _, err := booking.ParseLessonTime(req.ScheduledAt, time.Now()); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unrecognized lesson time format"})
		return
	}

	b, err := s.repo.ByID(r.Context(), id)
	if errors.Is(err, booking.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "booking not found"})
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("booking_id", id).Msg("assign: booking lookup failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "storage unavailable"})
		return
	}

	if err := s.repo.AssignSchedule(r.Context(), id, req.ScheduledAt, req.JoinLink); err != nil {
		s.logger.Error().Err(err).Str("booking_id", id).Msg("assign: schedule update failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "storage unavailable"})
		return
	}

	s.store.AddPendingNotification(state.Notification{
		UserID:    b.UserID,
		BookingID: id,
		QueuedAt:  time.Now(),
	})
	s.logger.Info().
		Str("event", "api.assigned").
		Str("booking_id", id).
		Int64("user_id", b.UserID).
		Str("scheduled_at", req.ScheduledAt).
		Msg("schedule assigned, notice queued")

	writeJSON(w, http.StatusOK, map[string]any{"booking_id": id, "scheduled_at": req.ScheduledAt})
}

func userIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user id must be an integer"})
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
