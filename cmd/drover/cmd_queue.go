// Task queue commands: add, list, run, watch, retry, counts.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"drover/cmd/drover/ui"
	"drover/internal/chat"
	"drover/internal/logging"
	"drover/internal/metrics"
	"drover/internal/queue"
	"drover/internal/retry"
	"drover/internal/shell"
)

var (
	queueTaskType    string
	queueTitle       string
	queuePayload     string
	queuePriority    string
	queueMaxAttempts int
	queueDelay       time.Duration

	queueListStatus string
	queueListType   string
	queueListLimit  int

	queueWorkers       int
	queueWatchOnce     bool
	queueWatchInterval time.Duration
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage the local task queue",
	Long: `A SQLite-backed work queue. Tasks are claimed atomically with a
lease, so concurrent runners never execute the same task twice; crashed
runners lose the lease and the task goes back to pending. Transient
failures retry with exponential backoff.`,
}

var queueAddCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Add a task",
	Args:  cobra.MinimumNArgs(1),
	RunE:  queueAdd,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, newest first",
	RunE:  queueList,
}

var queueRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Claim and execute due tasks until the queue drains",
	RunE:  queueRun,
}

var queueWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live queue dashboard",
	RunE:  queueWatch,
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry [task-id]",
	Short: "Re-queue a failed task with a fresh attempt budget",
	Args:  cobra.ExactArgs(1),
	RunE:  queueRetry,
}

var queueCountsCmd = &cobra.Command{
	Use:   "counts",
	Short: "Show task counts per status",
	RunE:  queueCounts,
}

func init() {
	queueAddCmd.Flags().StringVar(&queueTaskType, "type", queue.TypeShell, "Task type (chat, fix, shell)")
	queueAddCmd.Flags().StringVar(&queuePayload, "payload", "", "Task payload (JSON or raw text, shape owned by the handler)")
	queueAddCmd.Flags().StringVar(&queuePriority, "priority", "normal", "Priority (low, normal, high)")
	queueAddCmd.Flags().IntVar(&queueMaxAttempts, "max-attempts", 0, "Attempt budget (default from config)")
	queueAddCmd.Flags().DurationVar(&queueDelay, "delay", 0, "Hold the task back for this long")

	queueListCmd.Flags().StringVar(&queueListStatus, "status", "", "Filter by status")
	queueListCmd.Flags().StringVar(&queueListType, "type", "", "Filter by type")
	queueListCmd.Flags().IntVar(&queueListLimit, "limit", 20, "Max rows")

	queueRunCmd.Flags().IntVar(&queueWorkers, "workers", 0, "Parallel workers (default from config)")

	queueWatchCmd.Flags().BoolVar(&queueWatchOnce, "once", false, "Print one snapshot instead of the live view")
	queueWatchCmd.Flags().DurationVar(&queueWatchInterval, "interval", 2*time.Second, "Refresh interval")

	queueCmd.AddCommand(queueAddCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueRunCmd)
	queueCmd.AddCommand(queueWatchCmd)
	queueCmd.AddCommand(queueRetryCmd)
	queueCmd.AddCommand(queueCountsCmd)
}

func openQueue() (*queue.Store, error) {
	return queue.Open(cfg.QueueDB())
}

func queueAdd(cmd *cobra.Command, args []string) error {
	priority, err := queue.ParsePriority(queuePriority)
	if err != nil {
		return err
	}

	store, err := openQueue()
	if err != nil {
		return err
	}
	defer store.Close()

	task := queue.New(strings.TrimSpace(joinArgs(args)), queueTaskType, queuePayload)
	task.Priority = priority
	if queueMaxAttempts > 0 {
		task.MaxAttempts = queueMaxAttempts
	} else {
		task.MaxAttempts = cfg.Queue.MaxAttempts
	}
	if queueDelay > 0 {
		task.NotBefore = time.Now().Add(queueDelay)
	}

	ctx, cancel := runContext()
	defer cancel()
	if err := store.Add(ctx, task); err != nil {
		return err
	}

	fmt.Printf("Added task %s [%s/%s] %q\n", task.ID, task.Type, task.Priority, task.Title)
	return nil
}

func queueList(cmd *cobra.Command, args []string) error {
	store, err := openQueue()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := runContext()
	defer cancel()

	tasks, err := store.List(ctx, queue.Filter{
		Status: queue.Status(queueListStatus),
		Type:   queueListType,
		Limit:  queueListLimit,
	})
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks")
		return nil
	}

	fmt.Printf("%-36s %-8s %-12s %-8s %-9s %s\n", "ID", "TYPE", "STATUS", "PRIO", "ATTEMPTS", "TITLE")
	for _, t := range tasks {
		title := t.Title
		if len(title) > 40 {
			title = title[:37] + "..."
		}
		fmt.Printf("%-36s %-8s %-12s %-8s %d/%-7d %s\n",
			t.ID, t.Type, t.Status, t.Priority, t.Attempts, t.MaxAttempts, title)
		if t.Error != "" {
			fmt.Printf("%38serror: %s\n", "", t.Error)
		}
	}
	return nil
}

func queueRun(cmd *cobra.Command, args []string) error {
	store, err := openQueue()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := runContext()
	defer cancel()

	collector := metrics.NewCollector()
	defer func() {
		if _, err := collector.WriteSnapshot(cfg.StatsDir()); err != nil {
			logger.Debug("Metrics snapshot failed", zap.Error(err))
		}
	}()

	runner := queue.NewRunner(store, queue.RunnerConfig{
		Workers:       pickWorkers(),
		TaskTimeout:   cfg.GetTaskTimeout(),
		LeaseDuration: cfg.GetLeaseDuration(),
		MaxBatches:    cfg.Queue.MaxBatches,
	})
	runner.SetMetrics(collector)
	cleanup := registerHandlers(ctx, runner, collector)
	defer cleanup()

	summary, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	printQueueSummary(summary)
	return nil
}

func pickWorkers() int {
	if queueWorkers > 0 {
		return queueWorkers
	}
	return cfg.Queue.Workers
}

// registerHandlers installs the built-in task handlers. The fix handler
// needs a working LLM client; without one, fix tasks simply stay pending.
func registerHandlers(ctx context.Context, runner *queue.Runner, collector *metrics.Collector) func() {
	sh := shell.NewRunner(shell.Config{})
	runner.Register(queue.TypeShell, queueShellHandler(sh))
	runner.Register(queue.TypeChat, queueChatHandler())

	cleanup := func() {}
	if err := cfg.ValidateLLM(); err != nil {
		logging.Queue("Fix handler disabled: %v", err)
		fmt.Printf("Note: fix tasks stay queued (%v)\n", err)
		return cleanup
	}
	fixRunner, _, fixCleanup, err := buildFixRunner(ctx)
	if err != nil {
		logging.QueueWarn("Fix handler unavailable: %v", err)
		return cleanup
	}
	fixRunner.SetMetrics(collector)
	runner.Register(queue.TypeFix, queueFixHandler(fixRunner))
	return fixCleanup
}

// queueShellHandler runs the payload's command lines. A non-zero exit is a
// permanent failure; a timeout retries.
func queueShellHandler(sh *shell.Runner) queue.HandlerFunc {
	return func(ctx context.Context, t *queue.Task) (string, error) {
		lines := payloadCommands(t.Payload)
		if len(lines) == 0 {
			return "", retry.Permanent(fmt.Errorf("shell task %s has no commands", t.ID))
		}
		results, err := sh.RunScript(ctx, lines, shell.ScriptOptions{StopOnError: true})
		if err != nil {
			return "", err
		}
		for _, sr := range results {
			if sr.Result == nil {
				return "", retry.Permanent(fmt.Errorf("command did not start: %s", sr.Line))
			}
			if sr.Result.TimedOut {
				return "", retry.Transient(fmt.Errorf("command timed out: %s", sr.Line))
			}
			if sr.Result.ExitCode != 0 {
				return "", retry.Permanent(fmt.Errorf("command failed (exit %d): %s: %s",
					sr.Result.ExitCode, sr.Line, strings.TrimSpace(sr.Result.Stderr)))
			}
		}
		return fmt.Sprintf("%d command(s) succeeded", len(results)), nil
	}
}

// queueChatHandler asks a chat site through the browser. Browser flakiness
// is transient; a login wall is permanent until the user saves a session.
func queueChatHandler() queue.HandlerFunc {
	return func(ctx context.Context, t *queue.Task) (string, error) {
		prompt, site := chatPayload(t.Payload)
		if prompt == "" {
			return "", retry.Permanent(fmt.Errorf("chat task %s has no prompt payload", t.ID))
		}
		if site == "" {
			site = cfg.Chat.DefaultSite
		}
		profile, err := chat.Resolve(site, cfg.Chat.Sites)
		if err != nil {
			return "", retry.Permanent(err)
		}

		driver := chat.NewDriver(newBrowserManager(), profile, chat.Options{
			PollInterval:    cfg.GetPollInterval(),
			ResponseTimeout: cfg.GetResponseTimeout(),
			SettleDelay:     cfg.GetSettleDelay(),
		})
		defer driver.Close()

		result, err := driver.Ask(ctx, prompt)
		if err != nil {
			var loginErr *chat.NotLoggedInError
			if errors.As(err, &loginErr) {
				return "", retry.Permanent(err)
			}
			return "", retry.Transient(err)
		}
		return result.Text, nil
	}
}

// chatPayload parses a chat task payload: {"prompt": ..., "site": ...} or a
// raw prompt string.
func chatPayload(payload string) (prompt, site string) {
	payload = strings.TrimSpace(payload)
	var obj struct {
		Prompt string `json:"prompt"`
		Site   string `json:"site"`
	}
	if err := json.Unmarshal([]byte(payload), &obj); err == nil && obj.Prompt != "" {
		return obj.Prompt, obj.Site
	}
	return payload, ""
}

func queueRetry(cmd *cobra.Command, args []string) error {
	store, err := openQueue()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := runContext()
	defer cancel()
	if err := store.Retry(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Task %s re-queued\n", args[0])
	return nil
}

func queueCounts(cmd *cobra.Command, args []string) error {
	store, err := openQueue()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := runContext()
	defer cancel()
	counts, err := store.Counts(ctx)
	if err != nil {
		return err
	}
	total := 0
	for _, status := range queue.Statuses {
		fmt.Printf("%-12s %d\n", status, counts[status])
		total += counts[status]
	}
	fmt.Printf("%-12s %d\n", "total", total)
	return nil
}

func queueWatch(cmd *cobra.Command, args []string) error {
	store, err := openQueue()
	if err != nil {
		return err
	}
	defer store.Close()

	fetch := func(ctx context.Context) (ui.QueueSnapshot, error) {
		return fetchQueueSnapshot(ctx, store)
	}

	if queueWatchOnce {
		ctx, cancel := runContext()
		defer cancel()
		snap, err := fetch(ctx)
		if err != nil {
			return err
		}
		fmt.Print(snap.Plain())
		return nil
	}

	model := ui.NewWatchModel(fetch, queueWatchInterval)
	program := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("watch ui: %w", err)
	}
	return nil
}

// fetchQueueSnapshot reads counts and recent tasks into the watch view's
// display form.
func fetchQueueSnapshot(ctx context.Context, store *queue.Store) (ui.QueueSnapshot, error) {
	counts, err := store.Counts(ctx)
	if err != nil {
		return ui.QueueSnapshot{}, err
	}
	tasks, err := store.List(ctx, queue.Filter{Limit: 12})
	if err != nil {
		return ui.QueueSnapshot{}, err
	}

	snap := ui.QueueSnapshot{Taken: time.Now()}
	for _, status := range queue.Statuses {
		snap.Counts = append(snap.Counts, ui.StatusCount{
			Status: string(status),
			Count:  counts[status],
		})
	}
	for _, t := range tasks {
		snap.Recent = append(snap.Recent, ui.TaskRow{
			ID:     shortID(t.ID),
			Title:  t.Title,
			Type:   t.Type,
			Status: string(t.Status),
			Age:    formatAge(time.Since(t.CreatedAt)),
			Error:  t.Error,
		})
	}
	return snap, nil
}

func printQueueSummary(s *queue.Summary) {
	if s == nil {
		return
	}
	for _, r := range s.Results {
		line := fmt.Sprintf("  %s %-12s %s", shortID(r.ID), r.Status, r.Title)
		if r.Error != "" {
			line += fmt.Sprintf(" (%s)", r.Error)
		}
		fmt.Println(line)
	}
	fmt.Printf("Done: %d task(s), %d ok, %d failed, %d retried, %d skipped in %s\n",
		s.Total, s.Succeeded, s.Failed, s.Retried, s.Skipped,
		s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// payloadField extracts a field from a JSON object payload. A payload that
// is not a JSON object is returned as-is, so plain-text payloads keep
// working.
func payloadField(payload, field string) string {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return ""
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &obj); err != nil {
		return payload
	}
	raw, ok := obj[field]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return s
}

// payloadCommands extracts shell lines: {"commands": [...]}, {"command": x},
// or the raw payload split by newlines.
func payloadCommands(payload string) []string {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil
	}
	var obj struct {
		Command  string   `json:"command"`
		Commands []string `json:"commands"`
	}
	if err := json.Unmarshal([]byte(payload), &obj); err == nil {
		if len(obj.Commands) > 0 {
			return obj.Commands
		}
		if obj.Command != "" {
			return []string{obj.Command}
		}
		return nil
	}
	var lines []string
	for _, line := range strings.Split(payload, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
