package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"reminder_notification_bot/internal/domain/reminder"
)

const scheduleColumns = `subject_id, kind, hour, minute, day_of_week, message, created_at, updated_at`

// SQLScheduleRepository persists reminder schedules in PostgreSQL or SQLite.
// Queries are written with ? placeholders and rebound for the dialect.
type SQLScheduleRepository struct {
	db      *sql.DB
	dialect Dialect
}

var _ reminder.Repository = (*SQLScheduleRepository)(nil)

func NewSQLScheduleRepository(db *sql.DB, dialect Dialect) *SQLScheduleRepository {
	return &SQLScheduleRepository{db: db, dialect: dialect}
}

func (r *SQLScheduleRepository) q(query string) string {
	return rebind(r.dialect, query)
}

// rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL.
func rebind(d Dialect, query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// wrapErr marks err as a repository failure, naming the PostgreSQL error code when there is one.
func wrapErr(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("%w: %s: %s (%s): %w", reminder.ErrRepository, op, pqErr.Message, pqErr.Code.Name(), err)
	}
	return fmt.Errorf("%w: %s: %w", reminder.ErrRepository, op, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanSchedule reads one row without validating it; callers decide what to do
// with records that break the schedule invariants. Integer columns are scanned
// leniently because SQLite's type affinity lets text sit in them: a value that
// does not convert becomes -1, which fails Validate, instead of failing the scan.
func scanSchedule(row rowScanner) (reminder.ReminderSchedule, error) {
	var (
		s                 reminder.ReminderSchedule
		kind              string
		hour, minute, day any
		created, updated  any
	)
	if err := row.Scan(&s.SubjectID, &kind, &hour, &minute, &day, &s.Message, &created, &updated); err != nil {
		return reminder.ReminderSchedule{}, err
	}
	s.Kind = reminder.ScheduleKind(kind)
	s.TimeOfDay = reminder.TimeOfDay{Hour: int(toInt(hour, -1)), Minute: int(toInt(minute, -1))}
	if day != nil {
		s.DayOfWeek = reminder.Weekday(time.Weekday(toInt(day, -1)))
	}
	s.CreatedAt = time.UnixMilli(toInt(created, 0))
	s.UpdatedAt = time.UnixMilli(toInt(updated, 0))
	return s, nil
}

// toInt converts a raw column value to an integer, returning bad when it is not one.
func toInt(v any, bad int64) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case float64:
		if x == float64(int64(x)) {
			return int64(x)
		}
	case []byte:
		if n, err := strconv.ParseInt(strings.TrimSpace(string(x)), 10, 64); err == nil {
			return n
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			return n
		}
	}
	return bad
}

func (r *SQLScheduleRepository) query(ctx context.Context, op, query string, args ...any) ([]reminder.ReminderSchedule, error) {
	rows, err := r.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	var out []reminder.ReminderSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, err)
	}
	return out, nil
}

func (r *SQLScheduleRepository) LoadAll(ctx context.Context) ([]reminder.ReminderSchedule, error) {
	return r.query(ctx, "load schedules",
		`SELECT `+scheduleColumns+` FROM reminder_schedules ORDER BY subject_id, kind`)
}

func (r *SQLScheduleRepository) Get(ctx context.Context, key reminder.Key) (*reminder.ReminderSchedule, error) {
	row := r.db.QueryRowContext(ctx,
		r.q(`SELECT `+scheduleColumns+` FROM reminder_schedules WHERE subject_id = ? AND kind = ?`),
		key.SubjectID, string(key.Kind))
	s, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, reminder.ErrScheduleNotFound
		}
		return nil, wrapErr("get schedule "+key.String(), err)
	}
	return &s, nil
}

func (r *SQLScheduleRepository) ListBySubject(ctx context.Context, subjectID string) ([]reminder.ReminderSchedule, error) {
	return r.query(ctx, "list schedules of "+subjectID,
		`SELECT `+scheduleColumns+` FROM reminder_schedules WHERE subject_id = ? ORDER BY kind`, subjectID)
}

// Upsert inserts s or replaces the existing record for its key. The original
// created_at is preserved on replace and returned in the result.
func (r *SQLScheduleRepository) Upsert(ctx context.Context, s reminder.ReminderSchedule) (reminder.ReminderSchedule, error) {
	var day sql.NullInt64
	if s.DayOfWeek != nil {
		day = sql.NullInt64{Int64: int64(*s.DayOfWeek), Valid: true}
	}
	query := `INSERT INTO reminder_schedules (` + scheduleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (subject_id, kind) DO UPDATE SET
			hour        = excluded.hour,
			minute      = excluded.minute,
			day_of_week = excluded.day_of_week,
			message     = excluded.message,
			updated_at  = excluded.updated_at
		RETURNING created_at`

	var created int64
	err := r.db.QueryRowContext(ctx, r.q(query),
		s.SubjectID, string(s.Kind), s.TimeOfDay.Hour, s.TimeOfDay.Minute, day, s.Message,
		s.CreatedAt.UnixMilli(), s.UpdatedAt.UnixMilli(),
	).Scan(&created)
	if err != nil {
		return reminder.ReminderSchedule{}, wrapErr("upsert schedule "+s.Key().String(), err)
	}
	s.CreatedAt = time.UnixMilli(created)
	s.UpdatedAt = time.UnixMilli(s.UpdatedAt.UnixMilli())
	return s, nil
}

func (r *SQLScheduleRepository) Delete(ctx context.Context, key reminder.Key) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		r.q(`DELETE FROM reminder_schedules WHERE subject_id = ? AND kind = ?`),
		key.SubjectID, string(key.Kind))
	if err != nil {
		return false, wrapErr("delete schedule "+key.String(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr("delete schedule "+key.String(), err)
	}
	return n > 0, nil
}

func (r *SQLScheduleRepository) DeleteAll(ctx context.Context, subjectID string) (int, error) {
	res, err := r.db.ExecContext(ctx, r.q(`DELETE FROM reminder_schedules WHERE subject_id = ?`), subjectID)
	if err != nil {
		return 0, wrapErr("delete schedules of "+subjectID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr("delete schedules of "+subjectID, err)
	}
	return int(n), nil
}
