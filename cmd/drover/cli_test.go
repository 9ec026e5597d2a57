package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"drover/internal/config"
	"drover/internal/queue"
	"drover/internal/retry"
	"drover/internal/shell"
)

// setupConfig points the global config at a throwaway state dir.
func setupConfig(t *testing.T) {
	t.Helper()
	logger = zap.NewNop()

	oldCfg := cfg
	oldTimeout := timeout
	cfg = config.DefaultConfig()
	cfg.StateDir = filepath.Join(t.TempDir(), ".drover")
	if err := cfg.EnsureStateDirs(); err != nil {
		t.Fatalf("EnsureStateDirs failed: %v", err)
	}
	timeout = 30 * time.Second
	t.Cleanup(func() {
		cfg = oldCfg
		timeout = oldTimeout
	})
}

func TestVersionCmd(t *testing.T) {
	setupConfig(t)

	output := captureOutput(t, func() {
		versionCmd.Run(&cobra.Command{}, []string{})
	})
	if !strings.Contains(output, "drover "+cfg.Version) {
		t.Fatalf("expected version line, got: %s", output)
	}
}

func TestQueueAddListCounts(t *testing.T) {
	setupConfig(t)

	queueTaskType = queue.TypeShell
	queuePayload = "echo hi"
	queuePriority = "high"
	defer func() {
		queueTaskType = ""
		queuePayload = ""
		queuePriority = ""
	}()

	output := captureOutput(t, func() {
		if err := queueAdd(&cobra.Command{}, []string{"run", "the", "checks"}); err != nil {
			t.Errorf("queueAdd failed: %v", err)
		}
	})
	if !strings.Contains(output, "run the checks") || !strings.Contains(output, "high") {
		t.Fatalf("unexpected add output: %s", output)
	}

	output = captureOutput(t, func() {
		if err := queueList(&cobra.Command{}, []string{}); err != nil {
			t.Errorf("queueList failed: %v", err)
		}
	})
	if !strings.Contains(output, "run the checks") || !strings.Contains(output, "pending") {
		t.Fatalf("list output missing the task: %s", output)
	}

	output = captureOutput(t, func() {
		if err := queueCounts(&cobra.Command{}, []string{}); err != nil {
			t.Errorf("queueCounts failed: %v", err)
		}
	})
	if !strings.Contains(output, "pending") || !strings.Contains(output, "total") {
		t.Fatalf("counts output malformed: %s", output)
	}
}

func TestQueueListEmpty(t *testing.T) {
	setupConfig(t)

	output := captureOutput(t, func() {
		if err := queueList(&cobra.Command{}, []string{}); err != nil {
			t.Errorf("queueList failed: %v", err)
		}
	})
	if !strings.Contains(output, "No tasks") {
		t.Fatalf("expected empty-queue message, got: %s", output)
	}
}

func TestQueueRetryUnknownTask(t *testing.T) {
	setupConfig(t)

	if err := queueRetry(&cobra.Command{}, []string{"no-such-task"}); err == nil {
		t.Fatal("expected error retrying an unknown task")
	}
}

func TestQueueWatchOnce(t *testing.T) {
	setupConfig(t)

	queueTaskType = queue.TypeShell
	queuePayload = "true"
	queuePriority = "normal"
	defer func() {
		queueTaskType = ""
		queuePayload = ""
		queuePriority = ""
	}()
	if err := queueAdd(&cobra.Command{}, []string{"watched", "job"}); err != nil {
		t.Fatalf("queueAdd failed: %v", err)
	}

	queueWatchOnce = true
	defer func() { queueWatchOnce = false }()

	output := captureOutput(t, func() {
		if err := queueWatch(&cobra.Command{}, []string{}); err != nil {
			t.Errorf("queueWatch --once failed: %v", err)
		}
	})
	if !strings.Contains(output, "pending") || !strings.Contains(output, "watched job") {
		t.Fatalf("snapshot output missing task: %s", output)
	}
}

func TestQueueShellHandler(t *testing.T) {
	setupConfig(t)
	sh := shell.NewRunner(shell.Config{})
	handler := queueShellHandler(sh)
	ctx := context.Background()

	task := queue.New("ok", queue.TypeShell, `{"commands": ["true"]}`)
	result, err := handler(ctx, task)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !strings.Contains(result, "succeeded") {
		t.Errorf("unexpected result: %q", result)
	}

	task = queue.New("fails", queue.TypeShell, `{"command": "exit 3"}`)
	_, err = handler(ctx, task)
	if err == nil {
		t.Fatal("expected failure for non-zero exit")
	}
	if !retry.IsPermanent(err) {
		t.Errorf("non-zero exit should be permanent, got: %v", err)
	}

	task = queue.New("empty", queue.TypeShell, "")
	_, err = handler(ctx, task)
	if err == nil || !retry.IsPermanent(err) {
		t.Errorf("empty payload should fail permanently, got: %v", err)
	}
}

func TestResolveReport(t *testing.T) {
	setupConfig(t)

	report, err := resolveReport([]string{"build", "broken"})
	if err != nil || report != "build broken" {
		t.Fatalf("args should win: %q, %v", report, err)
	}

	// No args, no flags: nothing to fix.
	if _, err := resolveReport(nil); err == nil {
		t.Fatal("expected error without a report source")
	}

	path := filepath.Join(t.TempDir(), "prompt_manual.txt")
	if err := os.WriteFile(path, []byte("  undefined: foo\n"), 0644); err != nil {
		t.Fatal(err)
	}
	fixPromptFile = path
	defer func() { fixPromptFile = "" }()
	report, err = resolveReport(nil)
	if err != nil || report != "undefined: foo" {
		t.Fatalf("prompt file read failed: %q, %v", report, err)
	}

	// --latest with an empty prompt dir.
	fixPromptFile = ""
	fixLatest = true
	defer func() { fixLatest = false }()
	if _, err := resolveReport(nil); err == nil {
		t.Fatal("expected error when no prompt files exist")
	}
}

func TestResolveSessionTarget(t *testing.T) {
	setupConfig(t)

	sessionSite = ""
	sessionDomain = ""
	if _, _, err := resolveSessionTarget(); err == nil {
		t.Fatal("expected error when neither --site nor --domain is set")
	}

	sessionDomain = "example.com"
	defer func() { sessionDomain = "" }()
	url, domain, err := resolveSessionTarget()
	if err != nil {
		t.Fatalf("domain target failed: %v", err)
	}
	if url != "https://example.com" || domain != "example.com" {
		t.Errorf("unexpected domain target: %s / %s", url, domain)
	}

	sessionSite = "gemini"
	defer func() { sessionSite = "" }()
	url, domain, err = resolveSessionTarget()
	if err != nil {
		t.Fatalf("site target failed: %v", err)
	}
	if !strings.Contains(url, "gemini.google.com") || domain != "gemini.google.com" {
		t.Errorf("unexpected site target: %s / %s", url, domain)
	}
}

func TestOrganizeRunDryRunThenExecute(t *testing.T) {
	setupConfig(t)

	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte("docs"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "run_tests.sh"), []byte("#!/bin/sh"), 0644); err != nil {
		t.Fatal(err)
	}

	organizeRoot = root
	organizeExecute = false
	defer func() {
		organizeRoot = "."
		organizeExecute = false
	}()

	output := captureOutput(t, func() {
		if err := organizeRun(&cobra.Command{}, []string{}); err != nil {
			t.Errorf("organizeRun dry run failed: %v", err)
		}
	})
	if !strings.Contains(output, "Dry run") {
		t.Fatalf("expected dry-run summary, got: %s", output)
	}
	if _, err := os.Stat(filepath.Join(root, "README.md")); err != nil {
		t.Fatal("dry run must not move files")
	}

	organizeExecute = true
	output = captureOutput(t, func() {
		if err := organizeRun(&cobra.Command{}, []string{}); err != nil {
			t.Errorf("organizeRun execute failed: %v", err)
		}
	})
	if !strings.Contains(output, "moved") {
		t.Fatalf("expected move output, got: %s", output)
	}
	if _, err := os.Stat(filepath.Join(root, "docs", "README.md")); err != nil {
		t.Error("README.md was not moved into docs/")
	}
	if _, err := os.Stat(filepath.Join(root, "scripts", "run_tests.sh")); err != nil {
		t.Error("run_tests.sh was not moved into scripts/")
	}
}

func TestStatsRunNoSnapshots(t *testing.T) {
	setupConfig(t)

	output := captureOutput(t, func() {
		if err := statsRun(&cobra.Command{}, []string{}); err != nil {
			t.Errorf("statsRun failed: %v", err)
		}
	})
	if !strings.Contains(output, "No snapshots") {
		t.Fatalf("expected no-snapshots notice, got: %s", output)
	}
}

func TestStatsSnapshotThenPrint(t *testing.T) {
	setupConfig(t)

	statsSnapshot = true
	output := captureOutput(t, func() {
		if err := statsRun(&cobra.Command{}, []string{}); err != nil {
			t.Errorf("stats --snapshot failed: %v", err)
		}
	})
	statsSnapshot = false
	if !strings.Contains(output, "stats_") {
		t.Fatalf("expected snapshot path in output, got: %s", output)
	}

	output = captureOutput(t, func() {
		if err := statsRun(&cobra.Command{}, []string{}); err != nil {
			t.Errorf("statsRun after snapshot failed: %v", err)
		}
	})
	if !strings.Contains(output, "Snapshot stats_") {
		t.Fatalf("expected snapshot contents, got: %s", output)
	}
}
