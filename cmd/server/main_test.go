package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/hperssn/focuswatch/internal/domain"
	"github.com/hperssn/focuswatch/internal/signal"
	"github.com/hperssn/focuswatch/internal/storage"
)

func TestReplay(t *testing.T) {
	script, err := signal.ParseScript([]byte(`
interval: 1s
frames:
  - repeat: 3
  - eyes_closed: true
    repeat: 4
  - phone_visible: true
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	repo := storage.NewMemoryRepository()
	var out bytes.Buffer
	if err := replay(context.Background(), repo, domain.DefaultSettings(), script, replayOptions{username: "ada"}, &out); err != nil {
		t.Fatalf("replay: %v", err)
	}

	got := out.String()
	for _, want := range []string{"frames", "eye_closed", "phone_detected", "goal progress"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}

	users, _ := repo.ListUsers(context.Background())
	if len(users) != 1 || users[0].Username != "ada" {
		t.Fatalf("users = %+v", users)
	}
	active, _ := repo.ListActiveSessions(context.Background())
	if len(active) != 0 {
		t.Fatalf("replay left %d active sessions", len(active))
	}
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()

	for _, name := range []string{"serve", "migrate", "replay"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("command %q not registered: %v", name, err)
		}
	}

	root.SetArgs([]string{"migrate"})
	root.SetOut(&bytes.Buffer{})
	if err := root.Execute(); err == nil {
		t.Fatalf("migrate without direction should fail")
	}
}
