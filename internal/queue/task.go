// Package queue is the persistent task queue: SQLite-backed storage with
// atomic claiming and leases, plus a worker-pool runner that dispatches
// tasks to registered handlers with retry and backoff. Crashed workers lose
// their lease, not the task.
package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusClaimed    Status = "claimed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Statuses lists all states in lifecycle order.
var Statuses = []Status{StatusPending, StatusClaimed, StatusInProgress, StatusCompleted, StatusFailed}

// Task types with built-in handlers. Review tasks have no handler: they
// wait in the queue for a human.
const (
	TypeChat   = "chat"
	TypeFix    = "fix"
	TypeShell  = "shell"
	TypeReview = "review"
)

// Priority orders claiming. Higher claims first.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// ParsePriority parses "low", "normal", or "high".
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	}
	return PriorityNormal, fmt.Errorf("invalid priority %q (low, normal, high)", s)
}

// DefaultMaxAttempts bounds executions per task unless the task overrides it.
const DefaultMaxAttempts = 3

// Task is one unit of queued work.
type Task struct {
	ID           string
	Title        string
	Type         string
	Payload      string // JSON, shape owned by the handler
	Status       Status
	Priority     Priority
	Attempts     int
	MaxAttempts  int
	NotBefore    time.Time // zero = immediately due
	ClaimOwner   string
	ClaimExpires time.Time
	ParentID     string
	Result       string
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// New creates a pending task with defaults applied.
func New(title, taskType, payload string) *Task {
	return &Task{
		ID:          uuid.NewString(),
		Title:       title,
		Type:        taskType,
		Payload:     payload,
		Status:      StatusPending,
		Priority:    PriorityNormal,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Validate checks the fields every task needs before storage.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("task title must not be empty")
	}
	if strings.TrimSpace(t.Type) == "" {
		return fmt.Errorf("task type must not be empty")
	}
	return nil
}

// reviewTriggers are the keywords that mark a completed task as needing a
// human follow-up review.
var reviewTriggers = []string{"deploy", "migration", "schema", "critical", "security"}

// NeedsReview reports whether a task's title or payload names a trigger
// keyword.
func NeedsReview(t *Task) bool {
	haystack := strings.ToLower(t.Title + " " + t.Payload)
	for _, keyword := range reviewTriggers {
		if strings.Contains(haystack, keyword) {
			return true
		}
	}
	return false
}

// NewReviewTask builds the follow-up review task for a completed parent.
func NewReviewTask(parent *Task) *Task {
	review := New(
		fmt.Sprintf("REVIEW_%s_%s", parent.ID, time.Now().Format("20060102150405")),
		TypeReview,
		parent.Payload,
	)
	review.Priority = PriorityHigh
	review.ParentID = parent.ID
	return review
}
