package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hperssn/focuswatch/internal/domain"
)

// sqlRepository holds the queries shared by the SQLite and Postgres stores.
// Queries are written with ? placeholders and rebound per dialect. Writes go
// through db and reads through rdb, which may be a separate pool.
type sqlRepository struct {
	db       *sql.DB
	rdb      *sql.DB
	numbered bool
	// snapshot opens the read transaction behind ReadDashboard.
	snapshot *sql.TxOptions
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *sqlRepository) q(query string) string {
	if !r.numbered {
		return query
	}

	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func (r *sqlRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *sqlRepository) EnsureUser(ctx context.Context, username string, defaults domain.Settings) (*domain.User, error) {
	query := `
		INSERT INTO users (id, username, created_at, daily_goal_minutes, eye_closure_threshold)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (username) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, r.q(query),
		uuid.New().String(),
		username,
		toNanos(time.Now()),
		defaults.DailyGoalMinutes,
		defaults.EyeClosureThreshold.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	row := r.db.QueryRowContext(ctx, r.q(`
		SELECT id, username, created_at, daily_goal_minutes, eye_closure_threshold
		FROM users
		WHERE username = ?
	`), username)

	return scanUser(row)
}

func (r *sqlRepository) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return r.getUser(ctx, r.rdb, id)
}

func (r *sqlRepository) getUser(ctx context.Context, db querier, id string) (*domain.User, error) {
	row := db.QueryRowContext(ctx, r.q(`
		SELECT id, username, created_at, daily_goal_minutes, eye_closure_threshold
		FROM users
		WHERE id = ?
	`), id)

	return scanUser(row)
}

func (r *sqlRepository) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.rdb.QueryContext(ctx, `
		SELECT id, username, created_at, daily_goal_minutes, eye_closure_threshold
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}

	return users, rows.Err()
}

func (r *sqlRepository) UpdateSettings(ctx context.Context, userID string, settings domain.Settings) error {
	res, err := r.db.ExecContext(ctx, r.q(`
		UPDATE users SET daily_goal_minutes = ?, eye_closure_threshold = ?
		WHERE id = ?
	`), settings.DailyGoalMinutes, settings.EyeClosureThreshold.Seconds(), userID)
	if err != nil {
		return err
	}

	return expectRow(res, ErrNotFound)
}

func (r *sqlRepository) CreateSession(ctx context.Context, s *domain.Session) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		var active int
		err := tx.QueryRowContext(ctx, r.q(`
			SELECT COUNT(*) FROM sessions WHERE user_id = ? AND is_active = ?
		`), s.UserID, true).Scan(&active)
		if err != nil {
			return err
		}
		if active > 0 {
			return ErrActiveConflict
		}

		_, err = tx.ExecContext(ctx, r.q(`
			INSERT INTO sessions (id, user_id, start_time, end_time, total_duration, focus_duration, distraction_duration, is_active)
			VALUES (?, ?, ?, NULL, ?, ?, ?, ?)
		`),
			s.ID,
			s.UserID,
			toNanos(s.StartTime),
			int64(s.TotalDuration),
			int64(s.FocusDuration),
			int64(s.DistractionDuration),
			s.IsActive,
		)
		return err
	})
}

func (r *sqlRepository) GetActiveSession(ctx context.Context, userID string) (*domain.Session, error) {
	return r.activeSession(ctx, r.rdb, userID)
}

func (r *sqlRepository) activeSession(ctx context.Context, db querier, userID string) (*domain.Session, error) {
	rows, err := db.QueryContext(ctx, r.q(`
		SELECT id, user_id, start_time, end_time, total_duration, focus_duration, distraction_duration, is_active
		FROM sessions
		WHERE user_id = ? AND is_active = ?
		LIMIT 1
	`), userID, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions, err := scanSessions(rows)
	if err != nil || len(sessions) == 0 {
		return nil, err
	}

	return &sessions[0], nil
}

func (r *sqlRepository) ListActiveSessions(ctx context.Context) ([]domain.Session, error) {
	rows, err := r.rdb.QueryContext(ctx, r.q(`
		SELECT id, user_id, start_time, end_time, total_duration, focus_duration, distraction_duration, is_active
		FROM sessions
		WHERE is_active = ?
		ORDER BY start_time
	`), true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSessions(rows)
}

func (r *sqlRepository) ApplyTick(ctx context.Context, update TickUpdate) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		delta := update.FocusDelta + update.DistractionDelta

		res, err := tx.ExecContext(ctx, r.q(`
			UPDATE sessions
			SET focus_duration = focus_duration + ?,
				distraction_duration = distraction_duration + ?,
				total_duration = total_duration + ?
			WHERE id = ? AND is_active = ?
		`),
			int64(update.FocusDelta),
			int64(update.DistractionDelta),
			int64(delta),
			update.SessionID,
			true,
		)
		if err != nil {
			return err
		}
		if err := expectRow(res, ErrSessionClosed); err != nil {
			return err
		}

		for _, e := range update.Events {
			_, err := tx.ExecContext(ctx, r.q(`
				INSERT INTO events (id, user_id, session_id, timestamp, event_type, duration)
				VALUES (?, ?, ?, ?, ?, ?)
			`),
				e.ID,
				e.UserID,
				e.SessionID,
				toNanos(e.Timestamp),
				string(e.Type),
				int64(e.Duration),
			)
			if err != nil {
				return fmt.Errorf("insert event: %w", err)
			}
		}

		return nil
	})
}

func (r *sqlRepository) FinalizeSession(ctx context.Context, s *domain.Session) error {
	if s.EndTime == nil {
		return errors.New("finalize session: end time not set")
	}

	res, err := r.db.ExecContext(ctx, r.q(`
		UPDATE sessions
		SET end_time = ?, total_duration = ?, focus_duration = ?, distraction_duration = ?, is_active = ?
		WHERE id = ? AND is_active = ?
	`),
		toNanos(*s.EndTime),
		int64(s.TotalDuration),
		int64(s.FocusDuration),
		int64(s.DistractionDuration),
		false,
		s.ID,
		true,
	)
	if err != nil {
		return err
	}

	return expectRow(res, ErrSessionClosed)
}

func (r *sqlRepository) ListSessions(ctx context.Context, userID string, since time.Time) ([]domain.Session, error) {
	rows, err := r.rdb.QueryContext(ctx, r.q(`
		SELECT id, user_id, start_time, end_time, total_duration, focus_duration, distraction_duration, is_active
		FROM sessions
		WHERE user_id = ? AND start_time >= ?
		ORDER BY start_time, id
	`), userID, sinceNanos(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSessions(rows)
}

func (r *sqlRepository) GetSessionStats(ctx context.Context, userID string, since time.Time) (*SessionStats, error) {
	return r.sessionStats(ctx, r.rdb, userID, since)
}

func (r *sqlRepository) sessionStats(ctx context.Context, db querier, userID string, since time.Time) (*SessionStats, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(focus_duration), 0) AS focus,
			COALESCE(SUM(distraction_duration), 0) AS distraction
		FROM sessions
		WHERE user_id = ? AND start_time >= ?
	`

	var stats SessionStats
	var focus, distraction int64

	err := db.QueryRowContext(ctx, r.q(query), userID, sinceNanos(since)).Scan(
		&stats.TotalSessions,
		&focus,
		&distraction,
	)
	if err != nil {
		return nil, err
	}

	stats.Focus = time.Duration(focus)
	stats.Distraction = time.Duration(distraction)

	return &stats, nil
}

func (r *sqlRepository) CountEventsByType(ctx context.Context, userID string, since time.Time) (map[domain.EventType]int, error) {
	return r.countEvents(ctx, r.rdb, userID, since)
}

func (r *sqlRepository) countEvents(ctx context.Context, db querier, userID string, since time.Time) (map[domain.EventType]int, error) {
	rows, err := db.QueryContext(ctx, r.q(`
		SELECT event_type, COUNT(*)
		FROM events
		WHERE user_id = ? AND timestamp >= ?
		GROUP BY event_type
	`), userID, sinceNanos(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.EventType]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		counts[domain.EventType(typ)] = n
	}

	return counts, rows.Err()
}

func (r *sqlRepository) GetRecentEvents(ctx context.Context, userID string, since time.Time, limit int) ([]domain.Event, error) {
	return r.recentEvents(ctx, r.rdb, userID, since, limit)
}

func (r *sqlRepository) recentEvents(ctx context.Context, db querier, userID string, since time.Time, limit int) ([]domain.Event, error) {
	rows, err := db.QueryContext(ctx, r.q(`
		SELECT id, user_id, session_id, timestamp, event_type, duration
		FROM events
		WHERE user_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`), userID, sinceNanos(since), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		var ts, duration int64
		var typ string

		if err := rows.Scan(&e.ID, &e.UserID, &e.SessionID, &ts, &typ, &duration); err != nil {
			return nil, err
		}

		e.Timestamp = fromNanos(ts)
		e.Type = domain.EventType(typ)
		e.Duration = time.Duration(duration)
		events = append(events, e)
	}

	return events, rows.Err()
}

// ReadDashboard runs every dashboard query inside one read transaction so a
// tick committing meanwhile is seen either whole or not at all.
func (r *sqlRepository) ReadDashboard(ctx context.Context, userID string, since time.Time, recentLimit int) (*DashboardSnapshot, error) {
	tx, err := r.rdb.BeginTx(ctx, r.snapshot)
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var snap DashboardSnapshot

	user, err := r.getUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	snap.User = *user

	stats, err := r.sessionStats(ctx, tx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("session stats: %w", err)
	}
	snap.Stats = *stats

	if snap.Counts, err = r.countEvents(ctx, tx, userID, since); err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	if snap.Recent, err = r.recentEvents(ctx, tx, userID, since, recentLimit); err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	if snap.Active, err = r.activeSession(ctx, tx, userID); err != nil {
		return nil, fmt.Errorf("active session: %w", err)
	}

	return &snap, tx.Commit()
}

// ResetUserData refuses with ErrActiveConflict while the user has an active
// session. The deletes only touch closed sessions, so a session created
// concurrently under a weaker isolation level survives.
func (r *sqlRepository) ResetUserData(ctx context.Context, userID string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		var active int
		err := tx.QueryRowContext(ctx, r.q(`
			SELECT COUNT(*) FROM sessions WHERE user_id = ? AND is_active = ?
		`), userID, true).Scan(&active)
		if err != nil {
			return err
		}
		if active > 0 {
			return ErrActiveConflict
		}

		_, err = tx.ExecContext(ctx, r.q(`
			DELETE FROM events
			WHERE session_id IN (SELECT id FROM sessions WHERE user_id = ? AND is_active = ?)
		`), userID, false)
		if err != nil {
			return fmt.Errorf("delete events: %w", err)
		}
		_, err = tx.ExecContext(ctx, r.q(`
			DELETE FROM sessions WHERE user_id = ? AND is_active = ?
		`), userID, false)
		if err != nil {
			return fmt.Errorf("delete sessions: %w", err)
		}
		return nil
	})
}

func (r *sqlRepository) Close() error {
	err := r.db.Close()
	if r.rdb != r.db {
		err = errors.Join(err, r.rdb.Close())
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	var created int64
	var threshold float64

	err := row.Scan(&u.ID, &u.Username, &created, &u.Settings.DailyGoalMinutes, &threshold)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	u.CreatedAt = fromNanos(created)
	u.Settings.EyeClosureThreshold = time.Duration(math.Round(threshold * float64(time.Second)))

	return &u, nil
}

func scanSessions(rows *sql.Rows) ([]domain.Session, error) {
	var sessions []domain.Session

	for rows.Next() {
		var s domain.Session
		var start int64
		var end sql.NullInt64
		var total, focus, distraction int64

		err := rows.Scan(
			&s.ID,
			&s.UserID,
			&start,
			&end,
			&total,
			&focus,
			&distraction,
			&s.IsActive,
		)
		if err != nil {
			return nil, err
		}

		s.StartTime = fromNanos(start)
		if end.Valid {
			t := fromNanos(end.Int64)
			s.EndTime = &t
		}
		s.TotalDuration = time.Duration(total)
		s.FocusDuration = time.Duration(focus)
		s.DistractionDuration = time.Duration(distraction)

		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

func expectRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}
