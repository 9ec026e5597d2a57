package shell

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunner_Run(t *testing.T) {
	r := NewRunner(Config{})

	result, err := r.Run(context.Background(), Command{
		Name: "echo",
		Args: []string{"hello"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", result.ExitCode)
	}
	if !strings.Contains(result.Stdout, "hello") {
		t.Errorf("expected stdout to contain 'hello', got: %s", result.Stdout)
	}
	if result.Duration <= 0 {
		t.Error("expected non-zero duration")
	}
}

func TestRunner_Timeout(t *testing.T) {
	r := NewRunner(Config{})

	result, err := r.Run(context.Background(), Command{
		Name:    "sleep",
		Args:    []string{"10"},
		Timeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run should return a result on timeout, got error: %v", err)
	}
	if !result.TimedOut {
		t.Error("expected TimedOut")
	}
	if !result.Killed {
		t.Error("expected Killed")
	}
}

func TestRunner_NonZeroExit(t *testing.T) {
	r := NewRunner(Config{})

	result, err := r.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo out; echo err >&2; exit 3"},
	})
	if err != nil {
		t.Fatalf("non-zero exit should not be an error: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", result.ExitCode)
	}
	if !strings.Contains(result.Stdout, "out") {
		t.Errorf("stdout = %q", result.Stdout)
	}
	if !strings.Contains(result.Stderr, "err") {
		t.Errorf("stderr = %q", result.Stderr)
	}
}

func TestRunner_MissingBinary(t *testing.T) {
	r := NewRunner(Config{})

	result, err := r.Run(context.Background(), Command{Name: "definitely-not-a-binary-xyz"})
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
	if result == nil {
		t.Fatal("a result should still be returned")
	}
}

func TestRunner_OutputTruncation(t *testing.T) {
	r := NewRunner(Config{MaxOutputBytes: 64})

	result, err := r.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "yes x | head -c 4096"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Truncated {
		t.Error("expected Truncated")
	}
	if len(result.Stdout) > 64 {
		t.Errorf("stdout exceeds cap: %d bytes", len(result.Stdout))
	}
	if result.TruncatedBytes == 0 {
		t.Error("expected discarded byte count")
	}
}

func TestRunner_EnvAllowList(t *testing.T) {
	t.Setenv("DROVER_SECRET_TEST", "leaky")

	r := NewRunner(Config{AllowedEnv: []string{"PATH"}})
	result, err := r.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo ${DROVER_SECRET_TEST:-empty}"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.Contains(result.Stdout, "empty") {
		t.Errorf("unlisted variable leaked into child env: %q", result.Stdout)
	}

	result, err = r.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo $EXTRA_VAL"},
		Env:  []string{"EXTRA_VAL=present"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.Contains(result.Stdout, "present") {
		t.Errorf("command Env not applied: %q", result.Stdout)
	}
}

func TestRunner_Stdin(t *testing.T) {
	r := NewRunner(Config{})

	result, err := r.Run(context.Background(), Command{
		Name:  "cat",
		Stdin: "piped input",
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Stdout != "piped input" {
		t.Errorf("stdin round trip failed: %q", result.Stdout)
	}
}

func TestRunner_ContextCancellation(t *testing.T) {
	r := NewRunner(Config{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result, err := r.Run(ctx, Command{
		Name:    "sleep",
		Args:    []string{"10"},
		Timeout: time.Minute,
	})
	if err != nil {
		t.Fatalf("cancel should still yield a result: %v", err)
	}
	if !result.Killed {
		t.Error("expected Killed after cancel")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancel took too long to take effect")
	}
}

func TestRunScript(t *testing.T) {
	r := NewRunner(Config{})

	results, err := r.RunScript(context.Background(), []string{
		"echo one",
		"echo two",
	}, ScriptOptions{})
	if err != nil {
		t.Fatalf("RunScript failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !strings.Contains(results[0].Result.Stdout, "one") {
		t.Errorf("first line output: %q", results[0].Result.Stdout)
	}
}

func TestRunScript_StopOnError(t *testing.T) {
	r := NewRunner(Config{})

	results, err := r.RunScript(context.Background(), []string{
		"echo before",
		"exit 1",
		"echo after",
	}, ScriptOptions{StopOnError: true})
	if err != nil {
		t.Fatalf("RunScript failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected stop after failing line, got %d results", len(results))
	}
}

func TestRunScript_ContinuesWithoutStopOnError(t *testing.T) {
	r := NewRunner(Config{})

	results, err := r.RunScript(context.Background(), []string{
		"exit 1",
		"echo survived",
	}, ScriptOptions{})
	if err != nil {
		t.Fatalf("RunScript failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected all lines to run, got %d results", len(results))
	}
	if !strings.Contains(results[1].Result.Stdout, "survived") {
		t.Errorf("second line output: %q", results[1].Result.Stdout)
	}
}

func TestCommandString(t *testing.T) {
	cmd := Command{Name: "git", Args: []string{"status", "--short"}}
	if got := cmd.String(); got != "git status --short" {
		t.Errorf("String() = %q", got)
	}
	if got := (Command{Name: "ls"}).String(); got != "ls" {
		t.Errorf("String() = %q", got)
	}
}

func TestTimeoutClamping(t *testing.T) {
	r := NewRunner(Config{MaxTimeout: 300 * time.Millisecond})

	start := time.Now()
	result, err := r.Run(context.Background(), Command{
		Name:    "sleep",
		Args:    []string{"10"},
		Timeout: time.Hour, // must be clamped to MaxTimeout
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.TimedOut {
		t.Error("expected TimedOut under clamped limit")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("MaxTimeout clamp did not apply")
	}
}
