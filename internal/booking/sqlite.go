// SPDX-License-Identifier: MIT

package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // pure Go driver

	"github.com/trialbot/trialbot/internal/log"
)

// SQLiteConfig defines the operational parameters for the booking database.
type SQLiteConfig struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultSQLiteConfig returns the recommended pool configuration.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 10,
	}
}

// Open initializes a SQLite connection pool with mandatory PRAGMAs. WAL
// and busy_timeout are set in the DSN so they apply to every connection
// in the pool.
func Open(dbPath string, cfg SQLiteConfig) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS bookings (
	id            TEXT PRIMARY KEY,
	user_id       INTEGER NOT NULL,
	parent_name   TEXT NOT NULL DEFAULT '',
	student_name  TEXT NOT NULL DEFAULT '',
	age           INTEGER NOT NULL DEFAULT 0,
	course        TEXT NOT NULL DEFAULT '',
	contact       TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'new',
	scheduled_at  TEXT NOT NULL DEFAULT '',
	join_link     TEXT NOT NULL DEFAULT '',
	reminder_sent INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bookings_user_status ON bookings(user_id, status);
CREATE TABLE IF NOT EXISTS bookings_archive (
	id            TEXT PRIMARY KEY,
	user_id       INTEGER NOT NULL,
	parent_name   TEXT NOT NULL DEFAULT '',
	student_name  TEXT NOT NULL DEFAULT '',
	age           INTEGER NOT NULL DEFAULT 0,
	course        TEXT NOT NULL DEFAULT '',
	contact       TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'cancelled',
	scheduled_at  TEXT NOT NULL DEFAULT '',
	join_link     TEXT NOT NULL DEFAULT '',
	cancelled_by  INTEGER NOT NULL DEFAULT 0,
	cancel_reason TEXT NOT NULL DEFAULT '',
	archived_at   TEXT NOT NULL
);
`

// editableColumns is the whitelist for UpdateFields. Anything else in the
// field map is rejected rather than silently dropped.
var editableColumns = map[string]struct{}{
	"parent_name":  {},
	"student_name": {},
	"age":          {},
	"course":       {},
	"contact":      {},
}

// SQLiteRepository implements Repository on a SQLite database.
type SQLiteRepository struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// NewSQLiteRepository creates the schema if needed and returns the
// repository.
func NewSQLiteRepository(db *sql.DB) (*SQLiteRepository, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create booking schema: %w", err)
	}
	return &SQLiteRepository{
		db:     db,
		logger: log.WithComponent("booking"),
		now:    time.Now,
	}, nil
}

const bookingColumns = "id, user_id, parent_name, student_name, age, course, contact, status, scheduled_at, join_link, reminder_sent, created_at, updated_at"

func scanBooking(row interface{ Scan(...any) error }) (*Booking, error) {
	var b Booking
	var reminder int
	var created, updated string
	err := row.Scan(&b.ID, &b.UserID, &b.ParentName, &b.StudentName, &b.Age, &b.Course, &b.Contact,
		(*string)(&b.Status), &b.ScheduledAt, &b.JoinLink, &reminder, &created, &updated)
	if err != nil {
		return nil, err
	}
	b.ReminderSent = reminder != 0
	b.CreatedAt, _ = time.Parse(time.RFC3339, created)
	b.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &b, nil
}

// ByID returns the booking or ErrNotFound.
func (r *SQLiteRepository) ByID(ctx context.Context, id string) (*Booking, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+bookingColumns+" FROM bookings WHERE id = ?", id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query booking %s: %w: %w", id, ErrUnavailable, err)
	}
	return b, nil
}

// FindActiveByUser returns the user's active booking or ErrNotFound.
func (r *SQLiteRepository) FindActiveByUser(ctx context.Context, userID int64) (*Booking, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+bookingColumns+" FROM bookings WHERE user_id = ? AND status IN (?, ?) ORDER BY created_at LIMIT 1",
		userID, StatusNew, StatusAssigned)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query active booking for user %d: %w: %w", userID, ErrUnavailable, err)
	}
	return b, nil
}

// Create inserts a new booking. The duplicate check and the insert run in
// one transaction so two concurrent registrations cannot both slip in.
func (r *SQLiteRepository) Create(ctx context.Context, b *Booking) (string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin create: %w: %w", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing string
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM bookings WHERE user_id = ? AND status IN (?, ?) LIMIT 1",
		b.UserID, StatusNew, StatusAssigned).Scan(&existing)
	switch {
	case err == nil:
		return "", ErrDuplicate
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("duplicate check: %w: %w", ErrUnavailable, err)
	}

	id := b.ID
	if id == "" {
		id = uuid.NewString()
	}
	status := b.Status
	if status == "" {
		status = StatusNew
	}
	now := r.now().UTC().Format(time.RFC3339)

	_, err = tx.ExecContext(ctx,
		"INSERT INTO bookings ("+bookingColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		id, b.UserID, b.ParentName, b.StudentName, b.Age, b.Course, b.Contact,
		status, b.ScheduledAt, b.JoinLink, boolToInt(b.ReminderSent), now, now)
	if err != nil {
		return "", fmt.Errorf("insert booking: %w: %w", ErrUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit create: %w: %w", ErrUnavailable, err)
	}
	return id, nil
}

// UpdateFields overwrites the whitelisted editable columns.
func (r *SQLiteRepository) UpdateFields(ctx context.Context, id string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}

	cols := make([]string, 0, len(fields))
	for col := range fields {
		if _, ok := editableColumns[col]; !ok {
			return fmt.Errorf("column %q is not editable", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	query := "UPDATE bookings SET updated_at = ?"
	args := []any{r.now().UTC().Format(time.RFC3339)}
	for _, col := range cols {
		query += ", " + col + " = ?"
		if col == "age" {
			n, err := strconv.Atoi(fields[col])
			if err != nil {
				return fmt.Errorf("age value %q: %w", fields[col], err)
			}
			args = append(args, n)
			continue
		}
		args = append(args, fields[col])
	}
	query += " WHERE id = ?"
	args = append(args, id)

	return r.execExpectingRow(ctx, query, args...)
}

// UpdateStatus moves the booking to the given status.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id string, status Status) error {
	return r.execExpectingRow(ctx,
		"UPDATE bookings SET status = ?, updated_at = ? WHERE id = ?",
		status, r.now().UTC().Format(time.RFC3339), id)
}

// AssignSchedule sets time and link, promotes to assigned and re-arms the
// reminder so a reschedule triggers a fresh one.
func (r *SQLiteRepository) AssignSchedule(ctx context.Context, id string, scheduledAt, joinLink string) error {
	return r.execExpectingRow(ctx,
		"UPDATE bookings SET scheduled_at = ?, join_link = ?, status = ?, reminder_sent = 0, updated_at = ? WHERE id = ?",
		scheduledAt, joinLink, StatusAssigned, r.now().UTC().Format(time.RFC3339), id)
}

// MarkReminderSent flips the reminder flag.
func (r *SQLiteRepository) MarkReminderSent(ctx context.Context, id string) error {
	return r.execExpectingRow(ctx,
		"UPDATE bookings SET reminder_sent = 1, updated_at = ? WHERE id = ?",
		r.now().UTC().Format(time.RFC3339), id)
}

// ListUpcoming returns reminder candidates: assigned bookings with a join
// link, reminder not sent, whose time parses and falls strictly within
// (0, within] of now. Unparsable times are logged and skipped, never
// fatal for the sweep.
func (r *SQLiteRepository) ListUpcoming(ctx context.Context, now time.Time, within time.Duration) ([]Booking, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+bookingColumns+" FROM bookings WHERE status = ? AND reminder_sent = 0 AND scheduled_at != '' AND join_link != ''",
		StatusAssigned)
	if err != nil {
		return nil, fmt.Errorf("query upcoming bookings: %w: %w", ErrUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upcoming booking: %w: %w", ErrUnavailable, err)
		}
		at, err := ParseLessonTime(b.ScheduledAt, now)
		if err != nil {
			r.logger.Warn().
				Str("event", "booking.unparsable_time").
				Str("booking_id", b.ID).
				Str("scheduled_at", b.ScheduledAt).
				Msg("skipping booking with unparsable lesson time")
			continue
		}
		until := at.Sub(now)
		if until > 0 && until <= within {
			out = append(out, *b)
		}
	}
	return out, rows.Err()
}

// Archive moves the booking row into the archive table with the outcome
// status, recording who cancelled and why.
func (r *SQLiteRepository) Archive(ctx context.Context, id string, cancelledBy int64, reason string, archived Status) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive: %w: %w", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, "SELECT "+bookingColumns+" FROM bookings WHERE id = ?", id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load booking %s: %w: %w", id, ErrUnavailable, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO bookings_archive
		 (id, user_id, parent_name, student_name, age, course, contact, status, scheduled_at, join_link, cancelled_by, cancel_reason, archived_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.ParentName, b.StudentName, b.Age, b.Course, b.Contact,
		archived, b.ScheduledAt, b.JoinLink, cancelledBy, reason, r.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert archive row: %w: %w", ErrUnavailable, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM bookings WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete archived booking: %w: %w", ErrUnavailable, err)
	}
	return tx.Commit()
}

func (r *SQLiteRepository) execExpectingRow(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("exec update: %w: %w", ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w: %w", ErrUnavailable, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
