package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTemp(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	for i, action := range []string{"click", "pressKey", "screenshot"} {
		err := s.Record(ctx, Entry{
			SessionKey: "group_1",
			Window:     "Game",
			Action:     action,
			Detail:     "detail",
			Outcome:    "ok",
			At:         time.Unix(int64(1000+i), 0),
		})
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	entries, err := s.Recent(ctx, "group_1", 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Action != "screenshot" || entries[1].Action != "pressKey" {
		t.Errorf("entries not newest-first: %v, %v", entries[0].Action, entries[1].Action)
	}
}

func TestRecentIsolatesSessions(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	if err := s.Record(ctx, Entry{SessionKey: "a", Window: "W", Action: "click"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(ctx, Entry{SessionKey: "b", Window: "W", Action: "pressKey"}); err != nil {
		t.Fatal(err)
	}

	entries, err := s.Recent(ctx, "a", 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != "click" {
		t.Errorf("session isolation broken: %v", entries)
	}
}

func TestCleanupOlderThan(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	old := Entry{SessionKey: "a", Window: "W", Action: "click", At: time.Now().Add(-48 * time.Hour)}
	fresh := Entry{SessionKey: "a", Window: "W", Action: "pressKey"}
	if err := s.Record(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	deleted, err := s.CleanupOlderThan(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupOlderThan failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	entries, err := s.Recent(ctx, "a", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Action != "pressKey" {
		t.Errorf("wrong entries survived cleanup: %v", entries)
	}
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = Nop{}
	if err := r.Record(context.Background(), Entry{}); err != nil {
		t.Errorf("Nop.Record returned error: %v", err)
	}
	entries, err := r.Recent(context.Background(), "a", 5)
	if err != nil || entries != nil {
		t.Errorf("Nop.Recent = (%v, %v), want (nil, nil)", entries, err)
	}
}
