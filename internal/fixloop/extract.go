// Package fixloop runs the fix-my-code cycle: feed an error report to an
// LLM, execute the commands it proposes, and iterate with command output as
// feedback until the commands run clean or the iteration budget is spent.
// Known errors short-circuit through the fix cache.
package fixloop

import (
	"regexp"
	"strings"
)

var fencedBash = regexp.MustCompile("(?s)```bash\\s*\n(.*?)```")

// ExtractCommands pulls runnable shell lines out of an LLM response: every
// ```bash fenced block, in order, with blanks and comment lines dropped.
func ExtractCommands(text string) []string {
	var commands []string
	for _, match := range fencedBash.FindAllStringSubmatch(text, -1) {
		for _, line := range strings.Split(match[1], "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			commands = append(commands, line)
		}
	}
	return commands
}
