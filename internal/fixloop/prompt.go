package fixloop

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"drover/internal/llm"
	"drover/internal/logging"
	"drover/internal/shell"
)

// ErrNoPrompt is returned when the prompt directory holds no prompt files.
var ErrNoPrompt = errors.New("no prompt files found")

// feedbackTokenCap bounds the previous-round feedback folded into a prompt
// so repeated failures cannot blow the context window.
const feedbackTokenCap = 800

// LatestPrompt returns the newest prompt_*.txt in dir by modification time.
func LatestPrompt(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "prompt_*.txt"))
	if err != nil {
		return "", fmt.Errorf("scan prompt dir: %w", err)
	}

	newest := ""
	var newestMod int64
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		if mod := info.ModTime().UnixNano(); newest == "" || mod > newestMod {
			newest, newestMod = path, mod
		}
	}
	if newest == "" {
		return "", fmt.Errorf("%w in %s", ErrNoPrompt, dir)
	}
	return newest, nil
}

// consumeInstruction reads the one-shot instruction file and deletes it so
// it applies to exactly one run. Missing file means no instruction.
func consumeInstruction(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.FixloopWarn("Could not read instruction file %s: %v", path, err)
		}
		return ""
	}
	if err := os.Remove(path); err != nil {
		logging.FixloopWarn("Could not remove instruction file %s: %v", path, err)
	}
	text := strings.TrimSpace(string(data))
	if text != "" {
		logging.Fixloop("Consumed one-shot instruction from %s (%d bytes)", path, len(text))
	}
	return text
}

// buildPrompt assembles one LLM prompt from the base error report, the
// optional one-shot instruction, and feedback from the previous round.
func buildPrompt(base, instruction, feedback string) string {
	var sb strings.Builder
	sb.WriteString(base)
	if instruction != "" {
		sb.WriteString("\n\nAdditional instructions:\n")
		sb.WriteString(instruction)
	}
	if feedback != "" {
		sb.WriteString("\n\nThe previous attempt failed. Command output:\n")
		sb.WriteString(feedback)
		sb.WriteString("\nAdjust the fix accordingly.")
	}
	return sb.String()
}

// buildFeedback summarises failed commands for the next prompt: the line,
// exit code, and byte-capped output excerpts, the whole block token-bounded.
func buildFeedback(results []shell.ScriptResult, stdoutCap, stderrCap int) string {
	var sb strings.Builder
	for _, sr := range results {
		if sr.Result == nil {
			fmt.Fprintf(&sb, "Command: %s\nDid not start.\n\n", sr.Line)
			continue
		}
		if sr.Result.ExitCode == 0 {
			continue
		}
		fmt.Fprintf(&sb, "Command: %s\nExit code: %d\n", sr.Line, sr.Result.ExitCode)
		if out := excerpt(sr.Result.Stdout, stdoutCap); out != "" {
			fmt.Fprintf(&sb, "Stdout: %s\n", out)
		}
		if errOut := excerpt(sr.Result.Stderr, stderrCap); errOut != "" {
			fmt.Fprintf(&sb, "Stderr: %s\n", errOut)
		}
		sb.WriteString("\n")
	}
	return llm.TruncateToTokens(strings.TrimSpace(sb.String()), feedbackTokenCap)
}

// excerpt trims output to at most max bytes.
func excerpt(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
