package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"activitybot/internal/models"
)

// ErrMalformedTimestamp is returned for rows whose timer_start cannot be parsed.
var ErrMalformedTimestamp = errors.New("malformed timer_start")

// Repository handles database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

const selectUser = `SELECT user_id, messages, voice_time, timer_start, prev_role_id, period_messages, period_voice_time FROM users`

// counterColumns maps a counter to its lifetime and per-window columns.
var counterColumns = map[models.Counter][2]string{
	models.CounterMessages:  {"messages", "period_messages"},
	models.CounterVoiceTime: {"voice_time", "period_voice_time"},
}

// Get returns the record for userID, or nil when the user has never been seen.
func (r *Repository) Get(ctx context.Context, userID string) (*models.UserRecord, error) {
	row := r.db.conn.QueryRowContext(ctx, r.db.rebind(selectUser+` WHERE user_id = ?`), userID)
	rec, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	return rec, nil
}

// UpsertIncrement adds delta to a counter, creating the record if needed.
// The matching per-window counter is bumped by the same amount.
func (r *Repository) UpsertIncrement(ctx context.Context, userID string, counter models.Counter, delta int64) error {
	cols, ok := counterColumns[counter]
	if !ok {
		return fmt.Errorf("unknown counter %q", counter)
	}
	query := fmt.Sprintf(`
		INSERT INTO users (user_id, %[1]s, %[2]s)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			%[1]s = users.%[1]s + excluded.%[1]s,
			%[2]s = users.%[2]s + excluded.%[2]s`, cols[0], cols[1])

	if _, err := r.db.conn.ExecContext(ctx, r.db.rebind(query), userID, delta, delta); err != nil {
		return fmt.Errorf("failed to increment %s: %w", counter, err)
	}
	return nil
}

// SetFields applies a partial update, creating the record if needed.
func (r *Repository) SetFields(ctx context.Context, userID string, u models.FieldUpdate) error {
	if u.Empty() {
		return nil
	}

	var (
		sets []string
		args []any
	)
	switch {
	case u.ClearTimer:
		sets = append(sets, "timer_start = NULL")
	case u.TimerStart != nil:
		sets = append(sets, "timer_start = ?")
		args = append(args, formatTimestamp(*u.TimerStart))
	}
	if u.PrevRoleID != nil {
		sets = append(sets, "prev_role_id = ?")
		args = append(args, nullString(*u.PrevRoleID))
	}
	if u.ResetPeriod || u.ResetCounters {
		sets = append(sets, "period_messages = 0", "period_voice_time = 0")
	}
	if u.ResetCounters {
		sets = append(sets, "messages = 0", "voice_time = 0")
	}
	args = append(args, userID)

	tx, err := r.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin update: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		r.db.rebind(`INSERT INTO users (user_id) VALUES (?) ON CONFLICT (user_id) DO NOTHING`), userID); err != nil {
		return fmt.Errorf("failed to ensure user %s: %w", userID, err)
	}
	query := `UPDATE users SET ` + strings.Join(sets, ", ") + ` WHERE user_id = ?`
	if _, err := tx.ExecContext(ctx, r.db.rebind(query), args...); err != nil {
		return fmt.Errorf("failed to update user %s: %w", userID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit update: %w", err)
	}
	return nil
}

// ListTimed returns every record with an active decay timer. Rows whose
// timestamp cannot be parsed are left out and reported in the joined error,
// so callers can still process the rest.
func (r *Repository) ListTimed(ctx context.Context) ([]models.UserRecord, error) {
	return r.list(ctx, selectUser+` WHERE timer_start IS NOT NULL AND timer_start <> ''`)
}

// List returns every record in store order.
func (r *Repository) List(ctx context.Context) ([]models.UserRecord, error) {
	return r.list(ctx, selectUser)
}

func (r *Repository) list(ctx context.Context, query string) ([]models.UserRecord, error) {
	rows, err := r.db.conn.QueryContext(ctx, r.db.rebind(query))
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var (
		records []models.UserRecord
		errs    []error
	)
	for rows.Next() {
		rec, err := scanUser(rows)
		if err != nil {
			if errors.Is(err, ErrMalformedTimestamp) {
				errs = append(errs, err)
				continue
			}
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return records, errors.Join(errs...)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*models.UserRecord, error) {
	var (
		rec        models.UserRecord
		timerStart sql.NullString
		prevRole   sql.NullString
	)
	if err := s.Scan(&rec.UserID, &rec.Messages, &rec.VoiceTime, &timerStart, &prevRole,
		&rec.PeriodMessages, &rec.PeriodVoiceTime); err != nil {
		return nil, err
	}
	rec.PrevRoleID = prevRole.String
	if timerStart.Valid && timerStart.String != "" {
		t, err := parseTimestamp(timerStart.String)
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", rec.UserID, err)
		}
		rec.TimerStart = &t
	}
	return &rec, nil
}

// legacyTimestamp is the naive UTC ISO layout the first releases stored.
const legacyTimestamp = "2006-01-02T15:04:05.999999999"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.ParseInLocation(legacyTimestamp, s, time.UTC); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedTimestamp, s)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
