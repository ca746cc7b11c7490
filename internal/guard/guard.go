// SPDX-License-Identifier: MIT

// Package guard gates every inbound user action: ban check first, then a
// sliding-window rate check, with suspicious-activity escalation that
// promotes repeat offenders to a permanent ban.
package guard

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/trialbot/trialbot/internal/log"
	"github.com/trialbot/trialbot/internal/state"
)

var (
	rejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trialbot",
			Name:      "guard_rejections_total",
			Help:      "Inbound actions rejected by the guard",
		},
		[]string{"reason"},
	)
	autoBans = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trialbot",
		Name:      "guard_autobans_total",
		Help:      "Permanent bans issued by the suspicious-activity escalation",
	})
)

// ErrBanned rejects a banned user unconditionally, independent of quota.
var ErrBanned = errors.New("user is banned")

// RateLimitError reports a quota rejection and how long until the oldest
// window entry ages out.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry in %ds", int(e.RetryAfter.Seconds()+0.5))
}

// Config holds the guard's tunables. Quota <= 0 rejects everything.
type Config struct {
	Quota        int           // accepted requests per window
	Window       time.Duration // sliding window size
	BanThreshold int           // suspicious reports before a permanent ban
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Quota:        20,
		Window:       time.Minute,
		BanThreshold: 5,
	}
}

// Guard enforces per-user quotas and bans on top of the state store.
type Guard struct {
	cfg    Config
	store  *state.Store
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a guard backed by the given store.
func New(cfg Config, store *state.Store) *Guard {
	return &Guard{
		cfg:    cfg,
		store:  store,
		logger: log.WithComponent("guard"),
		now:    time.Now,
	}
}

// Check admits or rejects one inbound action for the user. The ban check
// runs before the rate check so banned users always get ErrBanned, never
// a retry hint.
func (g *Guard) Check(userID int64) error {
	if g.store.IsBanned(userID) {
		rejections.WithLabelValues("banned").Inc()
		return ErrBanned
	}

	ok, retry := g.store.RecordRequest(userID, g.now(), g.cfg.Window, g.cfg.Quota)
	if !ok {
		rejections.WithLabelValues("rate_limited").Inc()
		return &RateLimitError{RetryAfter: retry}
	}
	return nil
}

// ReportSuspicious records one suspicious event for the user. Crossing the
// configured threshold issues an immediate permanent ban; the increment and
// the crossing decision are atomic in the store, so concurrent reports
// produce exactly one ban transition.
func (g *Guard) ReportSuspicious(userID int64, reason string) {
	count, crossed := g.store.IncrementSuspicious(userID, g.cfg.BanThreshold)
	if !crossed {
		g.logger.Debug().
			Int64("user_id", userID).
			Str("reason", reason).
			Int("count", count).
			Msg("suspicious activity recorded")
		return
	}

	g.store.Ban(userID)
	autoBans.Inc()
	g.logger.Warn().
		Str("event", "guard.autoban").
		Int64("user_id", userID).
		Str("reason", reason).
		Int("count", count).
		Msg("suspicious-activity threshold crossed, user banned")
}

// Ban issues an administrative ban.
func (g *Guard) Ban(userID int64) {
	g.store.Ban(userID)
	g.logger.Info().Str("event", "guard.ban").Int64("user_id", userID).Msg("administrative ban")
}

// Unban lifts a ban and resets the suspicious counter.
func (g *Guard) Unban(userID int64) {
	g.store.Unban(userID)
	g.logger.Info().Str("event", "guard.unban").Int64("user_id", userID).Msg("administrative unban")
}
