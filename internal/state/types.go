// SPDX-License-Identifier: MIT

// Package state holds the process-wide conversational state: dialog
// sessions, rate windows, bans, suspicious-activity counters and the
// pending-notification queue. All of it lives behind a single Store so
// request handlers and the scheduler share one synchronization point.
package state

import "time"

// DialogKind identifies one of the supported multi-step conversations.
type DialogKind string

const (
	KindRegistration DialogKind = "registration"
	KindEdit         DialogKind = "edit"
	KindCancellation DialogKind = "cancellation"
	KindReview       DialogKind = "review"
)

// Session is one user's in-flight dialog. Stage is always a member of the
// stage sequence defined for Kind by the dialog engine.
type Session struct {
	UserID    int64             `json:"user_id"`
	Kind      DialogKind        `json:"kind"`
	Stage     string            `json:"stage"`
	Fields    map[string]string `json:"fields"`
	StartedAt time.Time         `json:"started_at"`
}

// Age reports how long ago the session was started.
func (s Session) Age(now time.Time) time.Duration {
	return now.Sub(s.StartedAt)
}

// clone returns a deep copy so callers never alias the store's maps.
func (s Session) clone() Session {
	out := s
	out.Fields = make(map[string]string, len(s.Fields))
	for k, v := range s.Fields {
		out.Fields[k] = v
	}
	return out
}

// Notification is a queued outbound assignment notice, keyed by recipient.
type Notification struct {
	UserID    int64     `json:"user_id"`
	BookingID string    `json:"booking_id"`
	QueuedAt  time.Time `json:"queued_at"`
}

// Snapshot is the point-in-time aggregate of the whole store, serialized
// as one document to the durable file.
type Snapshot struct {
	Sessions    map[int64]Session      `json:"sessions"`
	RateWindows map[int64][]time.Time  `json:"rate_windows"`
	Banned      []int64                `json:"banned"`
	Suspicious  map[int64]int          `json:"suspicious"`
	Pending     map[int64]Notification `json:"pending"`
}
