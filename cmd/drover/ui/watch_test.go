package ui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func testSnapshot() QueueSnapshot {
	return QueueSnapshot{
		Taken: time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC),
		Counts: []StatusCount{
			{Status: "pending", Count: 2},
			{Status: "completed", Count: 5},
		},
		Recent: []TaskRow{
			{ID: "abc12345", Title: "run the checks", Type: "shell", Status: "pending", Age: "3m"},
			{ID: "def67890", Title: "ask gemini", Type: "chat", Status: "completed", Age: "1h"},
		},
	}
}

func TestQueueSnapshotPlain(t *testing.T) {
	out := testSnapshot().Plain()

	if !strings.Contains(out, "10:30:00") {
		t.Error("plain output missing timestamp")
	}
	if !strings.Contains(out, "pending") || !strings.Contains(out, "2") {
		t.Error("plain output missing counts")
	}
	if !strings.Contains(out, "run the checks") || !strings.Contains(out, "abc12345") {
		t.Error("plain output missing recent tasks")
	}
}

func TestWatchModelShowsSnapshot(t *testing.T) {
	model := NewWatchModel(func(ctx context.Context) (QueueSnapshot, error) {
		return testSnapshot(), nil
	}, time.Second)

	if !strings.Contains(model.View(), "loading") {
		t.Error("expected loading state before the first snapshot")
	}

	updated, _ := model.Update(snapshotMsg{snap: testSnapshot()})
	model = updated.(WatchModel)

	view := model.View()
	if !strings.Contains(view, "run the checks") {
		t.Errorf("view missing task row:\n%s", view)
	}
	if !strings.Contains(view, "pending 2") || !strings.Contains(view, "completed 5") {
		t.Errorf("view missing status counts:\n%s", view)
	}
}

func TestWatchModelShowsLoadError(t *testing.T) {
	model := NewWatchModel(nil, time.Second)
	updated, _ := model.Update(snapshotMsg{err: errors.New("database is locked")})
	model = updated.(WatchModel)

	if !strings.Contains(model.View(), "database is locked") {
		t.Error("view should surface the load error")
	}
}

func TestWatchModelErrorKeepsLastSnapshot(t *testing.T) {
	model := NewWatchModel(nil, time.Second)
	updated, _ := model.Update(snapshotMsg{snap: testSnapshot()})
	model = updated.(WatchModel)
	updated, _ = model.Update(snapshotMsg{err: errors.New("boom")})
	model = updated.(WatchModel)

	// A failed refresh must not blank the dashboard.
	if len(model.snap.Recent) != 2 {
		t.Error("failed refresh dropped the previous snapshot")
	}
}

func TestWatchModelQuitKeys(t *testing.T) {
	model := NewWatchModel(nil, time.Second)
	for _, key := range []string{"q", "esc", "ctrl+c"} {
		var msg tea.KeyMsg
		switch key {
		case "esc":
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		case "ctrl+c":
			msg = tea.KeyMsg{Type: tea.KeyCtrlC}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
		}
		_, cmd := model.Update(msg)
		if cmd == nil {
			t.Fatalf("key %q should quit", key)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("key %q returned %T, want tea.QuitMsg", key, cmd())
		}
	}
}

func TestWatchModelManualRefresh(t *testing.T) {
	calls := 0
	model := NewWatchModel(func(ctx context.Context) (QueueSnapshot, error) {
		calls++
		return QueueSnapshot{Taken: time.Now()}, nil
	}, time.Second)

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	if cmd == nil {
		t.Fatal("r should trigger a refresh command")
	}
	if _, ok := cmd().(snapshotMsg); !ok {
		t.Fatal("refresh command should produce a snapshotMsg")
	}
	if calls != 1 {
		t.Fatalf("fetch called %d times, want 1", calls)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("short strings pass through, got %q", got)
	}
	if got := truncate("a very long title indeed", 10); got != "a very ..." {
		t.Errorf("unexpected truncation: %q", got)
	}
	if got := truncate("ab", 2); got != "ab" {
		t.Errorf("tiny max should not truncate, got %q", got)
	}
}
