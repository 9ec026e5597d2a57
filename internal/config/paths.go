package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Path helpers derive the state-directory layout. Everything lives under
// StateDir so `rm -rf .drover` is a full reset.

// BrowserDir returns the browser state directory.
func (c *Config) BrowserDir() string {
	return filepath.Join(c.StateDir, "browser")
}

// ProfileDir returns the persistent Chrome profile directory.
func (c *Config) ProfileDir() string {
	return filepath.Join(c.BrowserDir(), "profile")
}

// ControlFile returns the path holding the DevTools websocket URL of the
// running browser, used to reattach across processes.
func (c *Config) ControlFile() string {
	return filepath.Join(c.BrowserDir(), "control.txt")
}

// SessionsFile returns the cookie session store path.
func (c *Config) SessionsFile() string {
	return filepath.Join(c.BrowserDir(), "sessions.json")
}

// ScreenshotsDir returns the screenshot output directory.
func (c *Config) ScreenshotsDir() string {
	return filepath.Join(c.StateDir, "screenshots")
}

// LogsDir returns the category log directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.StateDir, "logs")
}

// PromptsDir returns the fix-loop prompt drop directory.
func (c *Config) PromptsDir() string {
	return filepath.Join(c.StateDir, "prompts")
}

// ResponsesDir returns the fix-loop response output directory.
func (c *Config) ResponsesDir() string {
	return filepath.Join(c.StateDir, "responses")
}

// InstructionFile returns the one-shot instruction file the fix loop
// consumes: drop extra guidance here and the next run appends it once.
func (c *Config) InstructionFile() string {
	return filepath.Join(c.StateDir, "instruction.txt")
}

// StatsDir returns the metrics snapshot directory.
func (c *Config) StatsDir() string {
	if c.Metrics.SnapshotDir != "" {
		return c.Metrics.SnapshotDir
	}
	return filepath.Join(c.StateDir, "stats")
}

// QueueDB returns the task queue database path.
func (c *Config) QueueDB() string {
	if c.Queue.DatabasePath != "" {
		return c.Queue.DatabasePath
	}
	return filepath.Join(c.StateDir, "drover.db")
}

// FixCacheDB returns the fix cache database path.
func (c *Config) FixCacheDB() string {
	return filepath.Join(c.StateDir, "fixcache.db")
}

// DefaultPath returns the config file location under the working directory.
func DefaultPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return filepath.Join(".drover", "config.yaml")
	}
	return filepath.Join(cwd, ".drover", "config.yaml")
}

// EnsureStateDirs creates the full state-directory tree.
func (c *Config) EnsureStateDirs() error {
	dirs := []string{
		c.StateDir,
		c.ProfileDir(),
		c.ScreenshotsDir(),
		c.LogsDir(),
		c.PromptsDir(),
		c.ResponsesDir(),
		c.StatsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
