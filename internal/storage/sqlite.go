package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const readConns = 4

type SQLiteRepository struct {
	sqlRepository
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer at a time. Readers use their own pool and, in
	// WAL mode, neither wait for nor hold up the writer.
	db.SetMaxOpenConns(1)

	repo := &SQLiteRepository{sqlRepository{db: db}}
	if err := repo.createTables(); err != nil {
		db.Close()
		return nil, err
	}

	rdb, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=query_only(1)")
	if err != nil {
		db.Close()
		return nil, err
	}
	rdb.SetMaxOpenConns(readConns)
	repo.rdb = rdb

	return repo, nil
}

func (r *SQLiteRepository) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL,
		daily_goal_minutes INTEGER NOT NULL,
		eye_closure_threshold REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		start_time INTEGER NOT NULL,
		end_time INTEGER,
		total_duration INTEGER NOT NULL DEFAULT 0,
		focus_duration INTEGER NOT NULL DEFAULT 0,
		distraction_duration INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_user_start ON sessions(user_id, start_time);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active ON sessions(user_id) WHERE is_active;

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		session_id TEXT NOT NULL REFERENCES sessions(id),
		timestamp INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		duration INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_events_user_timestamp ON events(user_id, timestamp);
	`

	_, err := r.db.Exec(schema)
	return err
}
