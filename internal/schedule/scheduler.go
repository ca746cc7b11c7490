// SPDX-License-Identifier: MIT

// Package schedule runs the background loop that flushes queued
// assignment notifications and fires imminent-lesson reminders.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/trialbot/trialbot/internal/booking"
	"github.com/trialbot/trialbot/internal/log"
	"github.com/trialbot/trialbot/internal/state"
	"github.com/trialbot/trialbot/internal/transport"
)

var (
	remindersSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trialbot",
		Name:      "schedule_reminders_sent_total",
		Help:      "Lesson reminders delivered",
	})
	notificationsFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trialbot",
		Name:      "schedule_notifications_flushed_total",
		Help:      "Queued assignment notifications delivered",
	})
	deliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trialbot",
			Name:      "schedule_delivery_failures_total",
			Help:      "Outbound deliveries that failed and will be retried",
		},
		[]string{"sweep"},
	)
)

// Config holds the scheduler's tunables.
type Config struct {
	Interval       time.Duration // loop period
	ReminderWindow time.Duration // how far ahead a lesson counts as imminent
	SendRate       rate.Limit    // outbound messages per second
	SendBurst      int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:       time.Minute,
		ReminderWindow: 30 * time.Minute,
		SendRate:       25,
		SendBurst:      5,
	}
}

// Status is a point-in-time view of the loop for the ops surface.
type Status struct {
	LastRun        time.Time `json:"last_run"`
	PendingFlushed int       `json:"pending_flushed"`
	RemindersSent  int       `json:"reminders_sent"`
	LastError      string    `json:"last_error,omitempty"`
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// Timer abstracts time.Timer.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// RealClock implements Clock on the standard time package.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
func (RealClock) NewTimer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

type realTimer struct{ t *time.Timer }

func (r *realTimer) C() <-chan time.Time        { return r.t.C }
func (r *realTimer) Stop() bool                 { return r.t.Stop() }
func (r *realTimer) Reset(d time.Duration) bool { return r.t.Reset(d) }

// Scheduler owns the periodic loop. Delivery and repository calls happen
// on the loop goroutine, never under the state store's lock.
type Scheduler struct {
	cfg     Config
	store   *state.Store
	repo    booking.Repository
	sender  transport.Sender
	limiter *rate.Limiter
	clock   Clock
	logger  zerolog.Logger

	mu     sync.Mutex
	status Status
}

// New creates a scheduler.
func New(cfg Config, store *state.Store, repo booking.Repository, sender transport.Sender) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		store:   store,
		repo:    repo,
		sender:  sender,
		limiter: rate.NewLimiter(cfg.SendRate, cfg.SendBurst),
		clock:   RealClock{},
		logger:  log.WithComponent("schedule"),
	}
}

// Run executes the loop until ctx is cancelled. It blocks so the caller
// owns the goroutine; the daemon runs it under its errgroup and shutdown
// waits for an in-flight sweep to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.cfg.Interval).Msg("scheduler started")

	timer := s.clock.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return nil
		case <-timer.C():
			s.RunOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

// RunOnce executes both sweeps. A failure (or panic) in one sweep never
// prevents the other from running in the same iteration.
func (s *Scheduler) RunOnce(ctx context.Context) {
	now := s.clock.Now()

	flushed := s.runSweep(ctx, "pending_flush", s.flushPending)
	reminders := s.runSweep(ctx, "reminders", func(ctx context.Context) (int, error) {
		return s.sendReminders(ctx, now)
	})

	s.mu.Lock()
	s.status.LastRun = now
	s.status.PendingFlushed += flushed
	s.status.RemindersSent += reminders
	s.mu.Unlock()
}

// Status returns a copy of the loop's counters.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Scheduler) runSweep(ctx context.Context, name string, sweep func(context.Context) (int, error)) (n int) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("event", "schedule.sweep_panic").
				Str("sweep", name).
				Interface("panic", r).
				Msg("sweep panicked, continuing with next sweep")
		}
	}()

	n, err := sweep(ctx)
	if err != nil {
		s.setLastError(err)
		s.logger.Warn().
			Err(err).
			Str("event", "schedule.sweep_failed").
			Str("sweep", name).
			Msg("sweep failed, will retry next iteration")
	}
	return n
}

func (s *Scheduler) setLastError(err error) {
	s.mu.Lock()
	s.status.LastError = err.Error()
	s.mu.Unlock()
}

// flushPending delivers queued assignment notices whose booking now has
// both a schedule and a join link. Delivery failures leave the notice
// queued: duplicates are tolerated here, dropped notices are not.
func (s *Scheduler) flushPending(ctx context.Context) (int, error) {
	flushed := 0
	for _, n := range s.store.ListPendingNotifications() {
		b, err := s.repo.ByID(ctx, n.BookingID)
		if errors.Is(err, booking.ErrNotFound) {
			// Booking is gone; the notice has nothing to announce.
			s.store.PopPendingNotification(n.UserID)
			continue
		}
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("booking_id", n.BookingID).
				Msg("pending flush: booking lookup failed")
			continue
		}
		if b.ScheduledAt == "" || b.JoinLink == "" {
			// Admin has not filled in the missing data yet.
			continue
		}

		text := fmt.Sprintf("Your trial lesson is scheduled for %s. Join link: %s", b.ScheduledAt, b.JoinLink)
		if err := s.deliver(ctx, n.UserID, text); err != nil {
			deliveryFailures.WithLabelValues("pending_flush").Inc()
			s.logger.Warn().
				Err(err).
				Int64("user_id", n.UserID).
				Str("booking_id", n.BookingID).
				Msg("assignment notice delivery failed, staying queued")
			continue
		}

		s.store.PopPendingNotification(n.UserID)
		notificationsFlushed.Inc()
		flushed++
		s.logger.Info().
			Str("event", "schedule.assignment_sent").
			Int64("user_id", n.UserID).
			Str("booking_id", n.BookingID).
			Msg("assignment notice delivered")
	}
	return flushed, nil
}

// sendReminders fires at-most-once reminders for imminent lessons. The
// reminderSent flag is only ever set after a confirmed delivery; setting
// it first could silently drop a reminder on a crash in between.
func (s *Scheduler) sendReminders(ctx context.Context, now time.Time) (int, error) {
	candidates, err := s.repo.ListUpcoming(ctx, now, s.cfg.ReminderWindow)
	if err != nil {
		return 0, fmt.Errorf("list upcoming bookings: %w", err)
	}

	sent := 0
	for _, b := range candidates {
		text := fmt.Sprintf("Reminder: your lesson starts at %s. Join: %s", b.ScheduledAt, b.JoinLink)
		if err := s.deliver(ctx, b.UserID, text); err != nil {
			deliveryFailures.WithLabelValues("reminders").Inc()
			s.logger.Warn().
				Err(err).
				Int64("user_id", b.UserID).
				Str("booking_id", b.ID).
				Msg("reminder delivery failed, will retry next iteration")
			continue
		}

		if err := s.repo.MarkReminderSent(ctx, b.ID); err != nil {
			s.logger.Error().
				Err(err).
				Str("booking_id", b.ID).
				Msg("reminder delivered but flag update failed; a duplicate is possible next iteration")
			continue
		}

		remindersSent.Inc()
		sent++
		s.logger.Info().
			Str("event", "schedule.reminder_sent").
			Int64("user_id", b.UserID).
			Str("booking_id", b.ID).
			Str("scheduled_at", b.ScheduledAt).
			Msg("reminder delivered")
	}
	return sent, nil
}

// deliver sends one outbound message under the flood-limit pacer.
func (s *Scheduler) deliver(ctx context.Context, userID int64, text string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return s.sender.Send(ctx, userID, text)
}
