// SPDX-License-Identifier: MIT

package state

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "trialbot",
		Name:      "state_sessions_active",
		Help:      "Number of dialog sessions currently held in memory",
	})
	snapshotSaves = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trialbot",
		Name:      "state_snapshot_saves_total",
		Help:      "Total successful snapshot writes to the durable file",
	})
)

// Store is the single source of truth for all conversational state. One
// mutex guards every map; public operations are bounded critical sections
// with no I/O or external calls while the lock is held.
type Store struct {
	mu          sync.Mutex
	sessions    map[int64]Session
	rateWindows map[int64][]time.Time
	banned      map[int64]struct{}
	suspicious  map[int64]int
	pending     map[int64]Notification
}

// New returns an empty store.
func New() *Store {
	return &Store{
		sessions:    make(map[int64]Session),
		rateWindows: make(map[int64][]time.Time),
		banned:      make(map[int64]struct{}),
		suspicious:  make(map[int64]int),
		pending:     make(map[int64]Notification),
	}
}

// Session returns a copy of the user's session, if any.
func (s *Store) Session(userID int64) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return Session{}, false
	}
	return sess.clone(), true
}

// SetSession stores (or replaces) the user's session.
func (s *Store) SetSession(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.UserID] = sess.clone()
	activeSessions.Set(float64(len(s.sessions)))
}

// UpdateSession merges fields into the existing session and, when stage is
// non-empty, advances the stage. The read-modify-write happens under one
// critical section so callers never have to re-read first. Returns false
// when the user has no session.
func (s *Store) UpdateSession(userID int64, stage string, fields map[string]string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return false
	}
	next := sess.clone()
	for k, v := range fields {
		next.Fields[k] = v
	}
	if stage != "" {
		next.Stage = stage
	}
	s.sessions[userID] = next
	return true
}

// ClearSession removes the user's session, if any.
func (s *Store) ClearSession(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	activeSessions.Set(float64(len(s.sessions)))
}

// RateWindow returns a copy of the user's request timestamps.
func (s *Store) RateWindow(userID int64) []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.rateWindows[userID]...)
}

// SetRateWindow replaces the user's request timestamps.
func (s *Store) SetRateWindow(userID int64, window []time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(window) == 0 {
		delete(s.rateWindows, userID)
		return
	}
	s.rateWindows[userID] = append([]time.Time(nil), window...)
}

// ClearRateWindow drops the user's request timestamps.
func (s *Store) ClearRateWindow(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rateWindows, userID)
}

// RecordRequest prunes entries older than window, then either appends now
// and accepts, or rejects reporting how long until the oldest entry ages
// out. Prune, check and append run under one critical section so the
// quota can never be exceeded by interleaved calls.
func (s *Store) RecordRequest(userID int64, now time.Time, window time.Duration, quota int) (bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-window)
	kept := s.rateWindows[userID][:0]
	for _, ts := range s.rateWindows[userID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if quota <= 0 {
		// Misconfigured quota rejects everything rather than waving
		// everything through.
		s.rateWindows[userID] = kept
		return false, window
	}

	if len(kept) >= quota {
		retry := kept[0].Sub(cutoff)
		if retry <= 0 {
			retry = time.Second
		}
		s.rateWindows[userID] = kept
		return false, retry
	}

	s.rateWindows[userID] = append(kept, now)
	return true, 0
}

// IsBanned reports whether the user is in the banned set.
func (s *Store) IsBanned(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.banned[userID]
	return ok
}

// Ban adds the user to the banned set.
func (s *Store) Ban(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.banned[userID] = struct{}{}
}

// Unban removes the user from the banned set and resets the suspicious
// counter. Administrative action; the core never unbans on its own.
func (s *Store) Unban(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.banned, userID)
	delete(s.suspicious, userID)
}

// BannedUsers returns the banned set in stable order.
func (s *Store) BannedUsers() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.banned))
	for id := range s.banned {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IncrementSuspicious bumps the user's counter and reports the new count
// plus whether this exact increment crossed the threshold. The crossing
// decision is made under the lock, so of two concurrent reports only one
// observes crossed=true.
func (s *Store) IncrementSuspicious(userID int64, threshold int) (count int, crossed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspicious[userID]++
	count = s.suspicious[userID]
	crossed = threshold > 0 && count == threshold
	return count, crossed
}

// SuspiciousCount returns the user's current counter.
func (s *Store) SuspiciousCount(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suspicious[userID]
}

// ResetSuspicious clears the user's counter.
func (s *Store) ResetSuspicious(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.suspicious, userID)
}

// AddPendingNotification queues (or replaces) the outbound assignment
// notice for a recipient.
func (s *Store) AddPendingNotification(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[n.UserID] = n
}

// PopPendingNotification removes and returns the recipient's queued notice.
func (s *Store) PopPendingNotification(userID int64) (Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.pending[userID]
	if ok {
		delete(s.pending, userID)
	}
	return n, ok
}

// ListPendingNotifications returns queued notices ordered by recipient.
func (s *Store) ListPendingNotifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notification, 0, len(s.pending))
	for _, n := range s.pending {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Snapshot copies the whole store under the lock. The copy is what gets
// serialized, so persistence never does I/O while the lock is held.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Sessions:    make(map[int64]Session, len(s.sessions)),
		RateWindows: make(map[int64][]time.Time, len(s.rateWindows)),
		Banned:      make([]int64, 0, len(s.banned)),
		Suspicious:  make(map[int64]int, len(s.suspicious)),
		Pending:     make(map[int64]Notification, len(s.pending)),
	}
	for id, sess := range s.sessions {
		snap.Sessions[id] = sess.clone()
	}
	for id, win := range s.rateWindows {
		snap.RateWindows[id] = append([]time.Time(nil), win...)
	}
	for id := range s.banned {
		snap.Banned = append(snap.Banned, id)
	}
	sort.Slice(snap.Banned, func(i, j int) bool { return snap.Banned[i] < snap.Banned[j] })
	for id, c := range s.suspicious {
		snap.Suspicious[id] = c
	}
	for id, n := range s.pending {
		snap.Pending[id] = n
	}
	return snap
}

// Restore replaces the store contents with the snapshot.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = make(map[int64]Session, len(snap.Sessions))
	for id, sess := range snap.Sessions {
		if sess.Fields == nil {
			sess.Fields = make(map[string]string)
		}
		s.sessions[id] = sess.clone()
	}
	s.rateWindows = make(map[int64][]time.Time, len(snap.RateWindows))
	for id, win := range snap.RateWindows {
		s.rateWindows[id] = append([]time.Time(nil), win...)
	}
	s.banned = make(map[int64]struct{}, len(snap.Banned))
	for _, id := range snap.Banned {
		s.banned[id] = struct{}{}
	}
	s.suspicious = make(map[int64]int, len(snap.Suspicious))
	for id, c := range snap.Suspicious {
		s.suspicious[id] = c
	}
	s.pending = make(map[int64]Notification, len(snap.Pending))
	for id, n := range snap.Pending {
		s.pending[id] = n
	}
	activeSessions.Set(float64(len(s.sessions)))
}
