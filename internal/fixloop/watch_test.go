package fixloop

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherFiresOnSettledPrompt(t *testing.T) {
	dir := t.TempDir()
	got := make(chan string, 1)

	w, err := NewWatcher(dir, 50*time.Millisecond, func(ctx context.Context, path, content string) {
		select {
		case got <- content:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "prompt_build.txt"), []byte("exit status 2"), 0644); err != nil {
		t.Fatalf("write prompt: %v", err)
	}

	select {
	case content := <-got:
		if content != "exit status 2" {
			t.Errorf("callback content = %q", content)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("callback never fired for a settled prompt")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	got := make(chan string, 1)

	w, err := NewWatcher(dir, 50*time.Millisecond, func(ctx context.Context, path, content string) {
		select {
		case got <- path:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("irrelevant"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	select {
	case path := <-got:
		t.Errorf("callback fired for %s", path)
	case <-time.After(400 * time.Millisecond):
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), 0, func(ctx context.Context, path, content string) {})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	w.Stop()
	w.Stop() // second stop must not panic or block
}

func TestWatcherContextCancelEndsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w, err := NewWatcher(t.TempDir(), 0, func(ctx context.Context, path, content string) {})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	cancel()
	select {
	case <-w.doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("event loop did not exit on context cancel")
	}
	w.Stop()
}
