package browser

import (
	"context"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"drover/internal/logging"
)

// EnsureClosed sweeps away Chrome processes still bound to this manager's
// profile directory and returns how many were found. Safe to call with no
// browser running.
func (m *Manager) EnsureClosed(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureClosedLocked(ctx)
}

// ensureClosedLocked terminates leftover Chrome processes whose command line
// references the profile dir. The profile dir is unique per manager, so
// matching on it never touches the user's own browser. Polite termination
// first, SIGKILL for anything still alive after the grace period. Errors are
// logged and swallowed: the sweep is best effort and must never fail a
// launch or a close.
func (m *Manager) ensureClosedLocked(ctx context.Context) int {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		logging.BrowserWarn("Process scan failed: %v", err)
		return 0
	}

	var matched []*process.Process
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		lower := strings.ToLower(name)
		if !strings.Contains(lower, "chrome") && !strings.Contains(lower, "chromium") {
			continue
		}
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || !strings.Contains(cmdline, m.cfg.ProfileDir) {
			continue
		}
		matched = append(matched, p)
	}

	if len(matched) == 0 {
		return 0
	}

	logging.Browser("Cleaning up %d leftover browser process(es) for profile %s", len(matched), m.cfg.ProfileDir)
	for _, p := range matched {
		if err := p.TerminateWithContext(ctx); err != nil {
			logging.BrowserDebug("Terminate pid %d: %v", p.Pid, err)
		}
	}

	deadline := time.Now().Add(m.cfg.ProcessKillTimeout)
	for _, p := range matched {
		for {
			running, err := p.IsRunningWithContext(ctx)
			if err != nil || !running {
				break
			}
			if time.Now().After(deadline) || ctx.Err() != nil {
				if err := p.KillWithContext(ctx); err != nil {
					logging.BrowserWarn("Kill pid %d: %v", p.Pid, err)
				}
				break
			}
			time.Sleep(100 * time.Millisecond)
		}
	}

	logging.Audit().BrowserOp(logging.AuditBrowserCleanup, m.cfg.ProfileDir, true, "")
	return len(matched)
}
