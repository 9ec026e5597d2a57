// Audit logging: structured JSON-line events for the operations drover
// performs against the outside world (browser, LLM APIs, subprocesses,
// queue transitions, file moves). One file per day alongside the category
// logs; each line is a self-contained event for later analysis.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType identifies what kind of event an audit line records.
type AuditEventType string

const (
	// Browser lifecycle events
	AuditBrowserLaunch  AuditEventType = "browser_launch"
	AuditBrowserAttach  AuditEventType = "browser_attach"
	AuditBrowserClose   AuditEventType = "browser_close"
	AuditBrowserCleanup AuditEventType = "browser_cleanup"

	// Chat events
	AuditChatSend    AuditEventType = "chat_send"
	AuditChatReceive AuditEventType = "chat_receive"
	AuditChatError   AuditEventType = "chat_error"

	// Cookie session events
	AuditCookieSave    AuditEventType = "cookie_save"
	AuditCookieRestore AuditEventType = "cookie_restore"

	// LLM API events
	AuditLLMRequest  AuditEventType = "llm_request"
	AuditLLMResponse AuditEventType = "llm_response"
	AuditLLMError    AuditEventType = "llm_error"

	// Subprocess events
	AuditCommandRun AuditEventType = "command_run"

	// Queue events
	AuditTaskAdd        AuditEventType = "task_add"
	AuditTaskClaim      AuditEventType = "task_claim"
	AuditTaskTransition AuditEventType = "task_transition"

	// File organiser events
	AuditFileMove AuditEventType = "file_move"
	AuditFileSkip AuditEventType = "file_skip"
)

// AuditEvent is one JSON line in the audit log.
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"` // Unix milliseconds
	EventType  AuditEventType         `json:"event"`
	Category   string                 `json:"cat,omitempty"`
	RunID      string                 `json:"run,omitempty"` // Correlates events of one run
	Target     string                 `json:"target,omitempty"`
	Action     string                 `json:"action,omitempty"`
	Success    bool                   `json:"success"`
	DurationMs int64                  `json:"dur_ms,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Message    string                 `json:"msg,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

var (
	auditFile *os.File
	auditMu   sync.Mutex
)

// InitAudit opens the audit log file. No-op when logging is disabled.
func InitAudit() error {
	if !Enabled() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		return nil
	}

	optsMu.RLock()
	dir := opts.Dir
	optsMu.RUnlock()

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(dir, fmt.Sprintf("%s_audit.log", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file
	return nil
}

// CloseAudit closes the audit log file.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// AuditLogger writes audit events, optionally scoped to a run ID.
type AuditLogger struct {
	runID    string
	category Category
}

// Audit returns an unscoped audit logger.
func Audit() *AuditLogger {
	return &AuditLogger{}
}

// AuditWithRun returns an audit logger whose events carry the given run ID.
func AuditWithRun(runID string) *AuditLogger {
	return &AuditLogger{runID: runID}
}

// Log writes one audit event.
func (a *AuditLogger) Log(event AuditEvent) {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile == nil {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.RunID == "" && a.runID != "" {
		event.RunID = a.runID
	}
	if event.Category == "" && a.category != "" {
		event.Category = string(a.category)
	}

	data, err := json.Marshal(event)
	if err == nil {
		auditFile.WriteString(string(data) + "\n")
	}
}

// BrowserOp logs a browser lifecycle event.
func (a *AuditLogger) BrowserOp(event AuditEventType, target string, success bool, errMsg string) {
	a.Log(AuditEvent{
		EventType: event,
		Category:  string(CategoryBrowser),
		Target:    target,
		Success:   success,
		Error:     errMsg,
		Message:   fmt.Sprintf("%s: %s (success=%v)", event, target, success),
	})
}

// LLMCall logs an LLM API call.
func (a *AuditLogger) LLMCall(model string, tokens int, durationMs int64, success bool, errMsg string) {
	event := AuditLLMResponse
	if !success {
		event = AuditLLMError
	}
	a.Log(AuditEvent{
		EventType:  event,
		Category:   string(CategoryLLM),
		Target:     model,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Fields:     map[string]interface{}{"tokens": tokens},
		Message:    fmt.Sprintf("LLM call: %s -> %d tokens (%dms, success=%v)", model, tokens, durationMs, success),
	})
}

// CommandRun logs a subprocess execution.
func (a *AuditLogger) CommandRun(name string, exitCode int, durationMs int64, truncated bool) {
	a.Log(AuditEvent{
		EventType:  AuditCommandRun,
		Category:   string(CategoryShell),
		Target:     name,
		Action:     "run",
		Success:    exitCode == 0,
		DurationMs: durationMs,
		Fields:     map[string]interface{}{"exit_code": exitCode, "truncated": truncated},
		Message:    fmt.Sprintf("Command %s: exit=%d (%dms)", name, exitCode, durationMs),
	})
}

// TaskTransition logs a queue status change.
func (a *AuditLogger) TaskTransition(taskID, from, to string, errMsg string) {
	a.Log(AuditEvent{
		EventType: AuditTaskTransition,
		Category:  string(CategoryQueue),
		Target:    taskID,
		Action:    fmt.Sprintf("%s->%s", from, to),
		Success:   errMsg == "",
		Error:     errMsg,
		Message:   fmt.Sprintf("Task %s: %s -> %s", taskID, from, to),
	})
}

// CookieOp logs a cookie session save or restore.
func (a *AuditLogger) CookieOp(event AuditEventType, domain string, count int, success bool, errMsg string) {
	a.Log(AuditEvent{
		EventType: event,
		Category:  string(CategoryBrowser),
		Target:    domain,
		Success:   success,
		Error:     errMsg,
		Fields:    map[string]interface{}{"cookies": count},
		Message:   fmt.Sprintf("%s: %s (%d cookies, success=%v)", event, domain, count, success),
	})
}

// FileMove logs a file organiser move or skip.
func (a *AuditLogger) FileMove(src, dst string, moved bool, reason string) {
	event := AuditFileMove
	if !moved {
		event = AuditFileSkip
	}
	a.Log(AuditEvent{
		EventType: event,
		Category:  string(CategoryOrganize),
		Target:    src,
		Action:    dst,
		Success:   moved,
		Message:   fmt.Sprintf("%s: %s -> %s (%s)", event, src, dst, reason),
	})
}
