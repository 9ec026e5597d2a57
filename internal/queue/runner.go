package queue

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"drover/internal/logging"
	"drover/internal/retry"
)

// Handler executes one task and returns a result memo for the task row.
type Handler interface {
	Execute(ctx context.Context, t *Task) (string, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, t *Task) (string, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, t *Task) (string, error) {
	return f(ctx, t)
}

// MetricsSink receives queue activity. Implemented by internal/metrics;
// a nil sink disables collection.
type MetricsSink interface {
	TaskFinished(status string)
	SetQueueDepth(status string, depth int)
}

// RunnerConfig controls one Run. Zero fields take defaults.
type RunnerConfig struct {
	Owner         string        // Claim owner id; defaults to host-pid
	Workers       int           // Parallel handlers (default 3)
	TaskTimeout   time.Duration // Per-task deadline (default 3m)
	LeaseDuration time.Duration // Claim lease (default 5m)
	MaxBatches    int           // Claim rounds before giving up (default 20)
	Policy        retry.Policy  // Backoff between attempts
}

func (c *RunnerConfig) applyDefaults() {
	if c.Owner == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "drover"
		}
		c.Owner = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 3 * time.Minute
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 5 * time.Minute
	}
	if c.MaxBatches <= 0 {
		c.MaxBatches = 20
	}
	if c.Policy.MaxAttempts == 0 {
		c.Policy = retry.DefaultPolicy()
	}
}

// TaskResult records one execution attempt inside a Summary.
type TaskResult struct {
	ID       string
	Title    string
	Status   Status
	Error    string
	Duration time.Duration
}

// Summary reports what one Run did. A task released for backoff appears
// once per attempt in Results.
type Summary struct {
	Total      int
	Succeeded  int
	Failed     int
	Skipped    int
	Retried    int
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []TaskResult
}

// Runner drains the queue: claims due tasks in batches and dispatches them
// to registered handlers on a bounded worker pool.
type Runner struct {
	store    *Store
	cfg      RunnerConfig
	handlers map[string]Handler
	metrics  MetricsSink

	mu      sync.Mutex
	summary *Summary
}

// NewRunner builds a runner over the store.
func NewRunner(store *Store, cfg RunnerConfig) *Runner {
	cfg.applyDefaults()
	return &Runner{
		store:    store,
		cfg:      cfg,
		handlers: make(map[string]Handler),
	}
}

// Register installs the handler for a task type. Types without a handler
// (review tasks above all) are never claimed.
func (r *Runner) Register(taskType string, h Handler) {
	r.handlers[taskType] = h
}

// SetMetrics attaches a metrics sink.
func (r *Runner) SetMetrics(m MetricsSink) {
	r.metrics = m
}

// Run drains due tasks. It reaps expired leases first, then claims and
// executes batches until a claim comes back empty or MaxBatches rounds have
// run. Task failures are recorded in the summary, not returned; the error
// return is for queue-level problems only.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	if len(r.handlers) == 0 {
		return nil, fmt.Errorf("no task handlers registered")
	}

	r.mu.Lock()
	r.summary = &Summary{StartedAt: time.Now()}
	r.mu.Unlock()

	if reaped, err := r.store.Reap(ctx); err != nil {
		return nil, fmt.Errorf("reap expired leases: %w", err)
	} else if reaped > 0 {
		logging.Queue("Recovered %d task(s) from expired leases", reaped)
	}

	types := r.handlerTypes()
	logging.Queue("Run starting: owner=%s workers=%d types=%v", r.cfg.Owner, r.cfg.Workers, types)

	for batch := 0; batch < r.cfg.MaxBatches; batch++ {
		if err := ctx.Err(); err != nil {
			break
		}

		tasks, err := r.store.Claim(ctx, r.cfg.Owner, r.cfg.Workers, r.cfg.LeaseDuration, types)
		if err != nil {
			return nil, fmt.Errorf("claim batch: %w", err)
		}
		if len(tasks) == 0 {
			break
		}

		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(r.cfg.Workers)
		for _, task := range tasks {
			task := task
			eg.Go(func() error {
				r.runTask(egCtx, task)
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}
	}

	r.updateQueueDepth(ctx)

	r.mu.Lock()
	s := r.summary
	s.FinishedAt = time.Now()
	r.mu.Unlock()

	logging.Queue("Run finished: total=%d ok=%d failed=%d retried=%d skipped=%d in %v",
		s.Total, s.Succeeded, s.Failed, s.Retried, s.Skipped, s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	return s, nil
}

// runTask executes one claimed task end to end. All outcomes are absorbed
// into the summary so sibling workers keep going.
func (r *Runner) runTask(ctx context.Context, t *Task) {
	start := time.Now()

	if err := r.store.MarkInProgress(ctx, t.ID, r.cfg.Owner); err != nil {
		// Claim lost to a reaper or competing owner; someone else runs it.
		logging.QueueWarn("Task %s: %v", t.ID, err)
		r.record(t, StatusPending, "claim lost", time.Since(start), func(s *Summary) { s.Skipped++ })
		return
	}
	t.Attempts++

	handler, ok := r.handlers[t.Type]
	if !ok {
		errMsg := fmt.Sprintf("no handler for task type %q", t.Type)
		if err := r.store.Fail(ctx, t.ID, r.cfg.Owner, errMsg); err != nil {
			logging.QueueError("Task %s: %v", t.ID, err)
		}
		r.record(t, StatusFailed, errMsg, time.Since(start), func(s *Summary) { s.Skipped++ })
		return
	}

	result, err := r.execute(ctx, handler, t)
	elapsed := time.Since(start)

	if err == nil {
		if cerr := r.store.Complete(ctx, t.ID, r.cfg.Owner, result); cerr != nil {
			logging.QueueError("Task %s: %v", t.ID, cerr)
			r.record(t, StatusFailed, cerr.Error(), elapsed, func(s *Summary) { s.Failed++ })
			return
		}
		r.record(t, StatusCompleted, "", elapsed, func(s *Summary) { s.Succeeded++ })
		r.maybeQueueReview(ctx, t)
		return
	}

	if retry.IsTransient(err) && t.Attempts < t.MaxAttempts {
		delay := r.cfg.Policy.Backoff(t.Attempts)
		notBefore := time.Now().Add(delay)
		if rerr := r.store.Release(ctx, t.ID, r.cfg.Owner, notBefore, err.Error()); rerr != nil {
			logging.QueueError("Task %s: %v", t.ID, rerr)
			r.record(t, StatusFailed, rerr.Error(), elapsed, func(s *Summary) { s.Failed++ })
			return
		}
		logging.Queue("Task %s attempt %d/%d failed transiently, retrying in %v: %v",
			t.ID, t.Attempts, t.MaxAttempts, delay.Round(time.Millisecond), err)
		r.record(t, StatusPending, err.Error(), elapsed, func(s *Summary) { s.Retried++ })
		return
	}

	if ferr := r.store.Fail(ctx, t.ID, r.cfg.Owner, err.Error()); ferr != nil {
		logging.QueueError("Task %s: %v", t.ID, ferr)
	}
	r.record(t, StatusFailed, err.Error(), elapsed, func(s *Summary) { s.Failed++ })
}

// execute invokes the handler under the per-task timeout, converting panics
// into permanent failures so one bad handler cannot take the runner down.
func (r *Runner) execute(ctx context.Context, handler Handler, t *Task) (result string, err error) {
	taskCtx, cancel := context.WithTimeout(ctx, r.cfg.TaskTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			err = retry.Permanent(fmt.Errorf("handler panic: %v", rec))
			logging.QueueError("Task %s: handler panic: %v", t.ID, rec)
		}
	}()

	return handler.Execute(taskCtx, t)
}

// maybeQueueReview inserts a high-priority review task when a completed
// task touches risky territory and no review is already open for it.
func (r *Runner) maybeQueueReview(ctx context.Context, t *Task) {
	if t.Type == TypeReview || !NeedsReview(t) {
		return
	}
	open, err := r.store.HasOpenReview(ctx, t.ID)
	if err != nil {
		logging.QueueWarn("Task %s: review check failed: %v", t.ID, err)
		return
	}
	if open {
		return
	}
	review := NewReviewTask(t)
	if err := r.store.Add(ctx, review); err != nil {
		logging.QueueWarn("Task %s: could not queue review: %v", t.ID, err)
		return
	}
	logging.Queue("Queued review task %s for %s", review.ID, t.ID)
}

func (r *Runner) record(t *Task, status Status, errMsg string, d time.Duration, bump func(*Summary)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Total++
	bump(r.summary)
	r.summary.Results = append(r.summary.Results, TaskResult{
		ID:       t.ID,
		Title:    t.Title,
		Status:   status,
		Error:    errMsg,
		Duration: d,
	})
	if r.metrics != nil {
		r.metrics.TaskFinished(string(status))
	}
}

func (r *Runner) updateQueueDepth(ctx context.Context) {
	if r.metrics == nil {
		return
	}
	counts, err := r.store.Counts(ctx)
	if err != nil {
		return
	}
	for status, n := range counts {
		r.metrics.SetQueueDepth(string(status), n)
	}
}

func (r *Runner) handlerTypes() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
