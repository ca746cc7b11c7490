// SPDX-License-Identifier: MIT

package transport

import (
	"context"
	"sync"
)

// Sent is one message captured by the Recorder.
type Sent struct {
	UserID int64
	Text   string
}

// Recorder is a Sender for tests: it captures every message and can be
// told to fail deliveries for specific users.
type Recorder struct {
	mu       sync.Mutex
	messages []Sent
	failFor  map[int64]error
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{failFor: make(map[int64]error)}
}

// Send records the message, or returns the configured failure.
func (r *Recorder) Send(_ context.Context, userID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.failFor[userID]; ok {
		return err
	}
	r.messages = append(r.messages, Sent{UserID: userID, Text: text})
	return nil
}

// FailFor makes deliveries to userID return err until cleared with nil.
func (r *Recorder) FailFor(userID int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failFor, userID)
		return
	}
	r.failFor[userID] = err
}

// Messages returns a copy of everything delivered so far.
func (r *Recorder) Messages() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.messages...)
}

// SentTo returns the messages delivered to one user.
func (r *Recorder) SentTo(userID int64) []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Sent
	for _, m := range r.messages {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out
}
