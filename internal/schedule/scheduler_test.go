// SPDX-License-Identifier: MIT

package schedule

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/trialbot/trialbot/internal/booking"
	"github.com/trialbot/trialbot/internal/state"
	"github.com/trialbot/trialbot/internal/transport"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time                { return c.now }
func (c *fakeClock) NewTimer(d time.Duration) Timer { return RealClock{}.NewTimer(d) }

func newTestScheduler(t *testing.T, repo booking.Repository, now time.Time) (*Scheduler, *state.Store, *transport.Recorder) {
	t.Helper()
	store := state.New()
	rec := transport.NewRecorder()
	s := New(DefaultConfig(), store, repo, rec)
	s.clock = &fakeClock{now: now}
	return s, store, rec
}

func newSQLiteRepo(t *testing.T) *booking.SQLiteRepository {
	t.Helper()
	db, err := booking.Open(filepath.Join(t.TempDir(), "bookings.db"), booking.DefaultSQLiteConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo, err := booking.NewSQLiteRepository(db)
	require.NoError(t, err)
	return repo
}

func TestReminderSentExactlyOnce(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	now := time.Date(2026, time.September, 1, 17, 40, 0, 0, time.UTC)

	id, err := repo.Create(ctx, &booking.Booking{UserID: 1, ParentName: "Anna", Course: "Scratch"})
	require.NoError(t, err)
	require.NoError(t, repo.AssignSchedule(ctx, id, "2026-09-01 18:00", "https://meet.example/x"))

	s, _, rec := newTestScheduler(t, repo, now)

	// First sweep: exactly one reminder, flag set.
	s.RunOnce(ctx)
	require.Len(t, rec.SentTo(1), 1)
	assert.Contains(t, rec.SentTo(1)[0].Text, "https://meet.example/x")

	b, err := repo.ByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, b.ReminderSent)

	// Second sweep: nothing new.
	s.RunOnce(ctx)
	assert.Len(t, rec.SentTo(1), 1)
	assert.Equal(t, 1, s.Status().RemindersSent)
}

func TestReminderFlagNeverSetBeforeDelivery(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	now := time.Date(2026, time.September, 1, 17, 40, 0, 0, time.UTC)

	id, err := repo.Create(ctx, &booking.Booking{UserID: 1})
	require.NoError(t, err)
	require.NoError(t, repo.AssignSchedule(ctx, id, "2026-09-01 18:00", "https://meet.example/x"))

	s, _, rec := newTestScheduler(t, repo, now)
	rec.FailFor(1, errors.New("chat unreachable"))

	s.RunOnce(ctx)

	b, err := repo.ByID(ctx, id)
	require.NoError(t, err)
	assert.False(t, b.ReminderSent, "flag must stay unset when delivery failed")

	// Delivery recovers: the reminder goes out on the next iteration.
	rec.FailFor(1, nil)
	s.RunOnce(ctx)
	assert.Len(t, rec.SentTo(1), 1)

	b, err = repo.ByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, b.ReminderSent)
}

func TestRemindersOutsideWindowNotSent(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	now := time.Date(2026, time.September, 1, 12, 0, 0, 0, time.UTC)

	mk := func(userID int64, at string) {
		id, err := repo.Create(ctx, &booking.Booking{UserID: userID})
		require.NoError(t, err)
		require.NoError(t, repo.AssignSchedule(ctx, id, at, "https://meet.example/x"))
	}
	mk(1, "2026-09-01 14:00") // two hours out
	mk(2, "2026-09-01 11:00") // already past

	s, _, rec := newTestScheduler(t, repo, now)
	s.RunOnce(ctx)
	assert.Empty(t, rec.Messages())
}

func TestPendingFlushWaitsForAssignment(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	now := time.Date(2026, time.September, 1, 12, 0, 0, 0, time.UTC)

	id, err := repo.Create(ctx, &booking.Booking{UserID: 3})
	require.NoError(t, err)

	s, store, rec := newTestScheduler(t, repo, now)
	store.AddPendingNotification(state.Notification{UserID: 3, BookingID: id, QueuedAt: now})

	// No schedule or link yet: the notice stays queued.
	s.RunOnce(ctx)
	assert.Empty(t, rec.Messages())
	assert.Len(t, store.ListPendingNotifications(), 1)

	// Once the admin fills in the data, the notice goes out and leaves
	// the queue.
	require.NoError(t, repo.AssignSchedule(ctx, id, "2026-09-05 18:00", "https://meet.example/y"))
	s.RunOnce(ctx)
	require.Len(t, rec.SentTo(3), 1)
	assert.Contains(t, rec.SentTo(3)[0].Text, "2026-09-05 18:00")
	assert.Empty(t, store.ListPendingNotifications())
}

func TestPendingFlushRetriesOnDeliveryFailure(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	now := time.Date(2026, time.September, 1, 12, 0, 0, 0, time.UTC)

	id, err := repo.Create(ctx, &booking.Booking{UserID: 3})
	require.NoError(t, err)
	require.NoError(t, repo.AssignSchedule(ctx, id, "2026-09-05 18:00", "https://meet.example/y"))

	s, store, rec := newTestScheduler(t, repo, now)
	store.AddPendingNotification(state.Notification{UserID: 3, BookingID: id, QueuedAt: now})
	rec.FailFor(3, errors.New("chat unreachable"))

	s.RunOnce(ctx)
	assert.Len(t, store.ListPendingNotifications(), 1, "failed delivery stays queued")

	rec.FailFor(3, nil)
	s.RunOnce(ctx)
	assert.Empty(t, store.ListPendingNotifications())
	assert.Len(t, rec.SentTo(3), 1)
}

func TestPendingFlushDropsNoticeForMissingBooking(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	now := time.Date(2026, time.September, 1, 12, 0, 0, 0, time.UTC)

	s, store, rec := newTestScheduler(t, repo, now)
	store.AddPendingNotification(state.Notification{UserID: 4, BookingID: "gone", QueuedAt: now})

	s.RunOnce(ctx)
	assert.Empty(t, store.ListPendingNotifications())
	assert.Empty(t, rec.Messages())
}

// panickyRepo fails sweep 1 by panicking on every booking lookup.
type panickyRepo struct{ booking.Repository }

func (p *panickyRepo) ByID(context.Context, string) (*booking.Booking, error) {
	panic("lookup exploded")
}

func TestSweepFailureIsolation(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	now := time.Date(2026, time.September, 1, 17, 40, 0, 0, time.UTC)

	id, err := repo.Create(ctx, &booking.Booking{UserID: 1})
	require.NoError(t, err)
	require.NoError(t, repo.AssignSchedule(ctx, id, "2026-09-01 18:00", "https://meet.example/x"))

	s, store, rec := newTestScheduler(t, &panickyRepo{Repository: repo}, now)
	store.AddPendingNotification(state.Notification{UserID: 9, BookingID: id, QueuedAt: now})

	// Sweep 1 panics on the pending notice; sweep 2 must still deliver
	// the reminder.
	s.RunOnce(ctx)
	assert.Len(t, rec.SentTo(1), 1)
}

func TestListUpcomingErrorDoesNotCrashLoop(t *testing.T) {
	repo := newSQLiteRepo(t)
	now := time.Date(2026, time.September, 1, 12, 0, 0, 0, time.UTC)

	s, _, _ := newTestScheduler(t, &failingListRepo{Repository: repo}, now)
	s.RunOnce(context.Background())
	assert.Contains(t, s.Status().LastError, "unavailable")
}

type failingListRepo struct{ booking.Repository }

func (f *failingListRepo) ListUpcoming(context.Context, time.Time, time.Duration) ([]booking.Booking, error) {
	return nil, errors.New("repository unavailable")
}

// emptyRepo is the do-nothing Repository for lifecycle tests.
type emptyRepo struct{}

func (emptyRepo) ByID(context.Context, string) (*booking.Booking, error) {
	return nil, booking.ErrNotFound
}
func (emptyRepo) FindActiveByUser(context.Context, int64) (*booking.Booking, error) {
	return nil, booking.ErrNotFound
}
func (emptyRepo) Create(context.Context, *booking.Booking) (string, error) { return "", nil }
func (emptyRepo) UpdateFields(context.Context, string, map[string]string) error {
	return nil
}
func (emptyRepo) UpdateStatus(context.Context, string, booking.Status) error { return nil }
func (emptyRepo) AssignSchedule(context.Context, string, string, string) error {
	return nil
}
func (emptyRepo) MarkReminderSent(context.Context, string) error { return nil }
func (emptyRepo) ListUpcoming(context.Context, time.Time, time.Duration) ([]booking.Booking, error) {
	return nil, nil
}
func (emptyRepo) Archive(context.Context, string, int64, string, booking.Status) error {
	return nil
}

func TestRunReturnsOnContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := state.New()
	cfg := DefaultConfig()
	cfg.Interval = 5 * time.Millisecond

	s := New(cfg, store, emptyRepo{}, transport.NewRecorder())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
