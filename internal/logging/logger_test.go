package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func resetForTest(t *testing.T, o Options) {
	t.Helper()
	if err := Init(o); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() {
		CloseAll()
		CloseAudit()
		Init(Options{})
	})
}

func TestCategoriesCreateFiles(t *testing.T) {
	dir := t.TempDir()
	resetForTest(t, Options{Dir: dir, Level: "debug"})

	Browser("launching browser at %s", "/usr/bin/chromium")
	Queue("claimed %d tasks", 3)
	ShellError("command failed: %v", "exit 1")

	date := time.Now().Format("2006-01-02")
	for _, cat := range []Category{CategoryBrowser, CategoryQueue, CategoryShell} {
		path := filepath.Join(dir, date+"_"+string(cat)+".log")
		if _, err := os.Stat(path); err != nil {
			t.Errorf("Expected log file for category %s: %v", cat, err)
		}
	}
}

func TestDisabledCategoryIsNoop(t *testing.T) {
	dir := t.TempDir()
	resetForTest(t, Options{
		Dir:        dir,
		Level:      "debug",
		Categories: map[string]bool{"chat": false},
	})

	Chat("this should not be written")
	Browser("this should be written")

	date := time.Now().Format("2006-01-02")
	if _, err := os.Stat(filepath.Join(dir, date+"_chat.log")); !os.IsNotExist(err) {
		t.Error("Expected no chat log file for disabled category")
	}
	if _, err := os.Stat(filepath.Join(dir, date+"_browser.log")); err != nil {
		t.Errorf("Expected browser log file: %v", err)
	}
}

func TestNoopWithoutInit(t *testing.T) {
	resetForTest(t, Options{})

	// Must not panic or create files anywhere.
	Fixloop("iteration %d done", 1)
	LLMError("key missing")
	if Enabled() {
		t.Error("Expected logging to be disabled with empty dir")
	}
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	resetForTest(t, Options{Dir: dir, Level: "warn"})

	QueueDebug("debug line")
	Queue("info line")
	QueueWarn("warn line")

	date := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(dir, date+"_queue.log"))
	if err != nil {
		t.Fatalf("Failed to read queue log: %v", err)
	}
	content := string(data)
	if strings.Contains(content, "debug line") || strings.Contains(content, "info line") {
		t.Errorf("Expected debug/info filtered at warn level, got: %s", content)
	}
	if !strings.Contains(content, "warn line") {
		t.Errorf("Expected warn line present, got: %s", content)
	}
}

func TestJSONFormat(t *testing.T) {
	dir := t.TempDir()
	resetForTest(t, Options{Dir: dir, Level: "info", JSONFormat: true})

	LLM("request sent model=%s", "claude")

	date := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(dir, date+"_llm.log"))
	if err != nil {
		t.Fatalf("Failed to read llm log: %v", err)
	}
	line := strings.TrimSpace(string(data))
	// log prefix (date/time) precedes the JSON payload
	idx := strings.Index(line, "{")
	if idx < 0 {
		t.Fatalf("Expected JSON payload in line: %s", line)
	}
	var entry StructuredLogEntry
	if err := json.Unmarshal([]byte(line[idx:]), &entry); err != nil {
		t.Fatalf("Failed to parse JSON entry: %v (line: %s)", err, line)
	}
	if entry.Category != "llm" || entry.Level != "info" {
		t.Errorf("Unexpected entry: %+v", entry)
	}
}

func TestAuditEvents(t *testing.T) {
	dir := t.TempDir()
	resetForTest(t, Options{Dir: dir, Level: "info"})
	if err := InitAudit(); err != nil {
		t.Fatalf("InitAudit failed: %v", err)
	}

	a := AuditWithRun("run-1")
	a.CommandRun("go test", 0, 1200, false)
	a.TaskTransition("task-9", "pending", "in_progress", "")
	a.CookieOp(AuditCookieSave, "gemini.google.com", 12, true, "")
	CloseAudit()

	date := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(dir, date+"_audit.log"))
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected 3 audit lines, got %d", len(lines))
	}
	var ev AuditEvent
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("Failed to parse audit line: %v", err)
	}
	if ev.EventType != AuditCommandRun || ev.RunID != "run-1" {
		t.Errorf("Unexpected audit event: %+v", ev)
	}
	if !ev.Success {
		t.Error("Expected exit 0 to be success")
	}
}

func TestTimerThreshold(t *testing.T) {
	dir := t.TempDir()
	resetForTest(t, Options{Dir: dir, Level: "debug"})

	timer := StartTimer(CategoryBrowser, "navigation")
	time.Sleep(5 * time.Millisecond)
	elapsed := timer.StopWithThreshold(time.Millisecond)
	if elapsed < 5*time.Millisecond {
		t.Errorf("Expected elapsed >= 5ms, got %v", elapsed)
	}

	date := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(dir, date+"_browser.log"))
	if err != nil {
		t.Fatalf("Failed to read browser log: %v", err)
	}
	if !strings.Contains(string(data), "[WARN]") {
		t.Errorf("Expected threshold warning, got: %s", data)
	}
}
