package shell

import (
	"context"
	"time"

	"drover/internal/logging"
)

// ScriptOptions controls RunScript behavior.
type ScriptOptions struct {
	Dir         string
	Env         []string
	Timeout     time.Duration // per line; 0 = runner default
	StopOnError bool
}

// ScriptResult pairs a script line with its execution result.
type ScriptResult struct {
	Line   string  `json:"line"`
	Result *Result `json:"result"`
}

// RunScript executes shell lines sequentially through `sh -c`. When
// StopOnError is set, the first non-zero exit (or start failure) ends the
// run; completed results are returned either way.
func (r *Runner) RunScript(ctx context.Context, lines []string, opts ScriptOptions) ([]ScriptResult, error) {
	results := make([]ScriptResult, 0, len(lines))

	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		cmd := Command{
			Name: "sh",
			Args: []string{"-c", line},
			Dir:  opts.Dir,
			Env:  opts.Env,
		}
		if opts.Timeout > 0 {
			cmd.Timeout = opts.Timeout
		}

		res, err := r.Run(ctx, cmd)
		results = append(results, ScriptResult{Line: line, Result: res})
		if err != nil {
			if opts.StopOnError {
				return results, err
			}
			logging.ShellWarn("Continuing after failed line: %s", line)
			continue
		}
		if opts.StopOnError && res.ExitCode != 0 {
			logging.Shell("Stopping script at non-zero exit %d: %s", res.ExitCode, line)
			return results, nil
		}
	}

	return results, nil
}
