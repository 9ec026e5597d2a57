// Package shell executes host commands with timeouts, capped output capture,
// and an allow-listed environment. The fix loop and queue handlers run
// everything through it.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"drover/internal/logging"
)

// Command specifies a single execution.
type Command struct {
	Name  string   `json:"name"`
	Args  []string `json:"args,omitempty"`
	Dir   string   `json:"dir,omitempty"`
	Stdin string   `json:"stdin,omitempty"`

	// Env entries (KEY=VALUE) merged on top of the allow-listed pass-through.
	Env []string `json:"env,omitempty"`

	// Timeout zero means the runner default.
	Timeout time.Duration `json:"timeout,omitempty"`

	// MaxOutputBytes zero means the runner default.
	MaxOutputBytes int64 `json:"max_output_bytes,omitempty"`
}

// String returns the command as a display string.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result is the outcome of one execution. A Result is returned even when the
// process was killed; partial output is kept.
type Result struct {
	ExitCode       int           `json:"exit_code"`
	Stdout         string        `json:"stdout"`
	Stderr         string        `json:"stderr"`
	Duration       time.Duration `json:"duration"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	TimedOut       bool          `json:"timed_out,omitempty"`
	Killed         bool          `json:"killed,omitempty"`
	Truncated      bool          `json:"truncated,omitempty"`
	TruncatedBytes int64         `json:"truncated_bytes,omitempty"`
}

// Config bounds what commands may do.
type Config struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	MaxOutputBytes int64

	// AllowedEnv names parent environment variables passed through.
	// Everything else is stripped.
	AllowedEnv []string

	// WorkDir is the default working directory for commands without one.
	WorkDir string
}

// DefaultConfig returns the runner defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 30 * time.Second,
		MaxTimeout:     10 * time.Minute,
		MaxOutputBytes: 10 * 1024 * 1024,
		AllowedEnv: []string{
			"PATH", "HOME", "LANG", "TERM", "TMPDIR", "USER", "SHELL",
		},
	}
}

// Runner executes commands under a shared config.
type Runner struct {
	config Config
}

// NewRunner creates a runner, filling zero config fields from the defaults.
func NewRunner(cfg Config) *Runner {
	def := DefaultConfig()
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = def.MaxTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = def.MaxOutputBytes
	}
	if len(cfg.AllowedEnv) == 0 {
		cfg.AllowedEnv = def.AllowedEnv
	}
	return &Runner{config: cfg}
}

// Run executes cmd. The returned error is non-nil only when the process could
// not be started or captured at all; a non-zero exit, timeout, or kill is
// reported through the Result.
func (r *Runner) Run(ctx context.Context, cmd Command) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryShell, "command execution")
	defer timer.Stop()

	if cmd.Name == "" {
		return nil, fmt.Errorf("command name is required")
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.config.DefaultTimeout
	}
	if timeout > r.config.MaxTimeout {
		timeout = r.config.MaxTimeout
	}

	maxOutput := cmd.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = r.config.MaxOutputBytes
	}

	dir := cmd.Dir
	if dir == "" {
		dir = r.config.WorkDir
	}

	logging.Shell("Executing: %s (dir=%s, timeout=%s)", cmd.String(), dir, timeout)

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execCmd := exec.CommandContext(execCtx, cmd.Name, cmd.Args...)
	execCmd.Dir = dir
	execCmd.Env = r.buildEnvironment(cmd.Env)
	if cmd.Stdin != "" {
		execCmd.Stdin = strings.NewReader(cmd.Stdin)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdoutBuf, max: maxOutput}
	stderrLimited := &limitedWriter{w: &stderrBuf, max: maxOutput}
	execCmd.Stdout = stdoutLimited
	execCmd.Stderr = stderrLimited

	result := &Result{ExitCode: -1}
	result.StartedAt = time.Now()

	err := execCmd.Run()

	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	result.Stdout = stdoutBuf.String()
	result.Stderr = stderrBuf.String()

	if stdoutLimited.truncated || stderrLimited.truncated {
		result.Truncated = true
		result.TruncatedBytes = stdoutLimited.discarded + stderrLimited.discarded
		logging.ShellWarn("Output truncated: %d bytes discarded", result.TruncatedBytes)
	}

	if err != nil {
		switch {
		case execCtx.Err() == context.DeadlineExceeded:
			result.TimedOut = true
			result.Killed = true
			logging.ShellWarn("Command killed (timeout %s): %s", timeout, cmd.String())
		case execCtx.Err() == context.Canceled:
			result.Killed = true
			logging.ShellDebug("Command canceled: %s", cmd.String())
		default:
			if exitErr, ok := err.(*exec.ExitError); ok {
				result.ExitCode = exitErr.ExitCode()
				logging.ShellDebug("Command exited non-zero: %s -> %d", cmd.Name, result.ExitCode)
			} else {
				logging.ShellError("Command failed to start: %s - %v", cmd.Name, err)
				logging.Audit().CommandRun(cmd.Name, -1, result.Duration.Milliseconds(), result.Truncated)
				return result, fmt.Errorf("failed to run %s: %w", cmd.Name, err)
			}
		}
	} else {
		result.ExitCode = 0
	}

	logging.Audit().CommandRun(cmd.Name, result.ExitCode, result.Duration.Milliseconds(), result.Truncated)
	logging.Shell("Command completed: %s -> exit=%d, duration=%s, stdout=%d bytes",
		cmd.Name, result.ExitCode, result.Duration, len(result.Stdout))

	return result, nil
}

// buildEnvironment assembles the child environment: allow-listed parent
// variables first, then command extras.
func (r *Runner) buildEnvironment(extra []string) []string {
	env := make([]string, 0, len(r.config.AllowedEnv)+len(extra))
	for _, key := range r.config.AllowedEnv {
		if val := os.Getenv(key); val != "" {
			env = append(env, fmt.Sprintf("%s=%s", key, val))
		}
	}
	env = append(env, extra...)
	return env
}

// limitedWriter caps total bytes written, counting what it discards. Writes
// past the cap report full length so the child never sees a short write.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)

	if lw.written >= lw.max {
		lw.truncated = true
		lw.discarded += int64(n)
		return n, nil
	}

	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		toWrite := p[:remaining]
		lw.discarded += int64(n) - remaining
		written, err := lw.w.Write(toWrite)
		lw.written += int64(written)
		return n, err
	}

	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
