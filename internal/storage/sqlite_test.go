package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hperssn/focuswatch/internal/domain"
)

func TestSQLiteReadsDoNotWaitForWriter(t *testing.T) {
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "focus.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	u, err := repo.EnsureUser(ctx, "ada", domain.DefaultSettings())
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}

	// Hold the only writer connection inside an open transaction.
	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `UPDATE users SET daily_goal_minutes = 5 WHERE id = ?`, u.ID); err != nil {
		t.Fatalf("update: %v", err)
	}

	readCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	got, err := repo.GetUser(readCtx, u.ID)
	if err != nil {
		t.Fatalf("read during open write: %v", err)
	}
	if got.Settings.DailyGoalMinutes == 5 {
		t.Fatalf("read saw an uncommitted write")
	}
	if _, err := repo.ReadDashboard(readCtx, u.ID, time.Time{}, 5); err != nil {
		t.Fatalf("dashboard during open write: %v", err)
	}
}

func TestSQLiteReadPoolIsReadOnly(t *testing.T) {
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "focus.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer repo.Close()

	if _, err := repo.rdb.Exec(`DELETE FROM users`); err == nil {
		t.Fatalf("read pool accepted a write")
	}
}
