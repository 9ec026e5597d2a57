package fixloop

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"drover/internal/fixcache"
	"drover/internal/llm"
	"drover/internal/logging"
	"drover/internal/shell"
)

// systemPrompt steers responses into the fenced-command shape the extractor
// understands.
const systemPrompt = `You are an automated code-fixing assistant. Given an error report, respond with the shell commands that fix it inside a single ` + "```bash" + ` fenced block, one command per line. Explain briefly outside the block. If nothing needs to be run, reply without any bash block.`

// MetricsSink receives fix-loop activity. Implemented by internal/metrics;
// a nil sink disables collection.
type MetricsSink interface {
	FixIteration()
	CacheEvent(event string)
}

// Config controls a fix run. Zero fields take defaults.
type Config struct {
	PromptDir       string
	ResponseDir     string
	InstructionFile string        // One-shot extra instruction, deleted after use
	MaxIterations   int           // Default 5
	CommandTimeout  time.Duration // Per command line (default 60s)
	StdoutFeedback  int           // Bytes of stdout folded back per command (default 500)
	StderrFeedback  int           // Bytes of stderr folded back per command (default 200)
	WorkDir         string
}

func (c *Config) applyDefaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 5
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 60 * time.Second
	}
	if c.StdoutFeedback <= 0 {
		c.StdoutFeedback = 500
	}
	if c.StderrFeedback <= 0 {
		c.StderrFeedback = 200
	}
}

// Iteration records one round of the loop.
type Iteration struct {
	Index    int
	Prompt   string
	Response string
	Commands []string
	Results  []shell.ScriptResult
	Done     bool
	Reason   string
}

// Summary is the outcome of one Run.
type Summary struct {
	Iterations []Iteration
	Done       bool
	CacheHit   bool
	Elapsed    time.Duration
}

// Runner drives the loop. Cache may be nil (caching disabled).
type Runner struct {
	cfg     Config
	client  llm.Client
	shell   *shell.Runner
	cache   *fixcache.Store
	metrics MetricsSink
}

// NewRunner builds a fix-loop runner.
func NewRunner(cfg Config, client llm.Client, sh *shell.Runner, cache *fixcache.Store) *Runner {
	cfg.applyDefaults()
	return &Runner{cfg: cfg, client: client, shell: sh, cache: cache}
}

// SetMetrics attaches a metrics sink.
func (r *Runner) SetMetrics(m MetricsSink) {
	r.metrics = m
}

// Run executes the loop for one error report. The report doubles as the
// cache key, so recurring errors skip the LLM entirely.
func (r *Runner) Run(ctx context.Context, errorReport string) (*Summary, error) {
	timer := logging.StartTimer(logging.CategoryFixloop, "fix run")
	summary := &Summary{}
	defer func() { summary.Elapsed = timer.StopWithInfo() }()

	instruction := consumeInstruction(r.cfg.InstructionFile)

	if done, err := r.tryCache(ctx, errorReport, summary); err != nil {
		return summary, err
	} else if done {
		return summary, nil
	}

	feedback := ""
	if len(summary.Iterations) > 0 {
		// A cached fix ran and failed; tell the LLM what happened.
		last := summary.Iterations[len(summary.Iterations)-1]
		feedback = buildFeedback(last.Results, r.cfg.StdoutFeedback, r.cfg.StderrFeedback)
	}

	for i := 1; i <= r.cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		r.countIteration()

		iter := Iteration{Index: len(summary.Iterations) + 1}
		iter.Prompt = buildPrompt(errorReport, instruction, feedback)
		instruction = "" // applies to the first LLM round only

		logging.Fixloop("Iteration %d/%d (prompt %d tokens)", i, r.cfg.MaxIterations, llm.EstimateFast(iter.Prompt))
		response, err := r.client.CompleteWithSystem(ctx, systemPrompt, iter.Prompt)
		if err != nil {
			summary.Iterations = append(summary.Iterations, iter)
			return summary, fmt.Errorf("iteration %d: %w", i, err)
		}
		iter.Response = response
		r.persistResponse(response)

		iter.Commands = ExtractCommands(response)
		if len(iter.Commands) == 0 {
			iter.Done = true
			iter.Reason = "no commands proposed"
			summary.Iterations = append(summary.Iterations, iter)
			summary.Done = true
			logging.Fixloop("Iteration %d: nothing to run, done", i)
			return summary, nil
		}

		logging.Fixloop("Iteration %d: running %d command(s)", i, len(iter.Commands))
		results, err := r.shell.RunScript(ctx, iter.Commands, shell.ScriptOptions{
			Dir:     r.cfg.WorkDir,
			Timeout: r.cfg.CommandTimeout,
		})
		iter.Results = results
		if err != nil {
			summary.Iterations = append(summary.Iterations, iter)
			return summary, fmt.Errorf("iteration %d: %w", i, err)
		}

		if allSucceeded(results) {
			iter.Done = true
			iter.Reason = "all commands succeeded"
			summary.Iterations = append(summary.Iterations, iter)
			summary.Done = true
			r.remember(ctx, errorReport, iter.Commands)
			logging.Fixloop("Iteration %d: fix verified", i)
			return summary, nil
		}

		feedback = buildFeedback(results, r.cfg.StdoutFeedback, r.cfg.StderrFeedback)
		iter.Reason = "commands failed, retrying with feedback"
		summary.Iterations = append(summary.Iterations, iter)
		logging.FixloopWarn("Iteration %d: commands failed, folding output into next prompt", i)
	}

	logging.FixloopWarn("Gave up after %d iterations", r.cfg.MaxIterations)
	return summary, nil
}

// tryCache applies a remembered fix when one matches. Returns done=true when
// the cached commands ran clean; a failed cached fix records its outcome and
// leaves its results in the summary for feedback.
func (r *Runner) tryCache(ctx context.Context, errorReport string, summary *Summary) (bool, error) {
	if r.cache == nil {
		return false, nil
	}

	fix, ok, err := r.cache.Lookup(ctx, errorReport)
	if err != nil {
		logging.FixloopWarn("Cache lookup failed: %v", err)
		return false, nil
	}
	if !ok {
		r.countCacheEvent("miss")
		return false, nil
	}
	r.countCacheEvent("hit")
	summary.CacheHit = true
	logging.Fixloop("Cache hit %s (%d command(s), %.0f%% success rate)",
		fix.ErrorHash[:12], len(fix.Commands), fix.SuccessRate*100)

	iter := Iteration{Index: 1, Commands: fix.Commands, Reason: "cached fix"}
	results, err := r.shell.RunScript(ctx, fix.Commands, shell.ScriptOptions{
		Dir:     r.cfg.WorkDir,
		Timeout: r.cfg.CommandTimeout,
	})
	iter.Results = results
	if err != nil {
		summary.Iterations = append(summary.Iterations, iter)
		return false, err
	}

	succeeded := allSucceeded(results)
	if rerr := r.cache.RecordOutcome(ctx, fix.ErrorHash, succeeded); rerr != nil {
		logging.FixloopWarn("Could not record cache outcome: %v", rerr)
	}

	if succeeded {
		iter.Done = true
		summary.Iterations = append(summary.Iterations, iter)
		summary.Done = true
		r.countCacheEvent("applied")
		logging.Fixloop("Cached fix resolved the error")
		return true, nil
	}

	iter.Reason = "cached fix failed"
	summary.Iterations = append(summary.Iterations, iter)
	r.countCacheEvent("stale")
	logging.FixloopWarn("Cached fix no longer works, falling back to the LLM")
	return false, nil
}

// remember stores a verified fix and seeds its success stats.
func (r *Runner) remember(ctx context.Context, errorReport string, commands []string) {
	if r.cache == nil {
		return
	}
	fix := fixcache.Fix{
		ErrorText:   errorReport,
		Commands:    commands,
		Description: fmt.Sprintf("verified fix from %s", time.Now().Format("2006-01-02")),
	}
	if err := r.cache.Put(ctx, fix); err != nil {
		logging.FixloopWarn("Could not cache fix: %v", err)
		return
	}
	if err := r.cache.RecordOutcome(ctx, fixcache.Key(errorReport), true); err != nil {
		logging.FixloopWarn("Could not record fix outcome: %v", err)
	}
	r.countCacheEvent("store")
}

// persistResponse writes the raw LLM response before any extraction so a
// crash mid-run still leaves the audit trail intact.
func (r *Runner) persistResponse(response string) {
	if r.cfg.ResponseDir == "" {
		return
	}
	if err := os.MkdirAll(r.cfg.ResponseDir, 0755); err != nil {
		logging.FixloopError("Could not create response dir: %v", err)
		return
	}
	path := filepath.Join(r.cfg.ResponseDir, fmt.Sprintf("response_%s.txt", time.Now().Format("150405")))
	if err := os.WriteFile(path, []byte(response), 0644); err != nil {
		logging.FixloopError("Could not persist response: %v", err)
		return
	}
	logging.FixloopDebug("Response saved to %s", path)
}

func (r *Runner) countIteration() {
	if r.metrics != nil {
		r.metrics.FixIteration()
	}
}

func (r *Runner) countCacheEvent(event string) {
	if r.metrics != nil {
		r.metrics.CacheEvent(event)
	}
}

func allSucceeded(results []shell.ScriptResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, sr := range results {
		if sr.Result == nil || sr.Result.ExitCode != 0 {
			return false
		}
	}
	return true
}
