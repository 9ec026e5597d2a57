// Package config loads drover configuration from YAML with environment
// variable overrides layered on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all drover configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// StateDir is the root of drover's on-disk state: browser profile,
	// cookie sessions, logs, prompt/response exchange, databases.
	StateDir string `yaml:"state_dir"`

	Browser  BrowserConfig  `yaml:"browser"`
	Chat     ChatConfig     `yaml:"chat"`
	LLM      LLMConfig      `yaml:"llm"`
	Fix      FixConfig      `yaml:"fix"`
	Queue    QueueConfig    `yaml:"queue"`
	Organize OrganizeConfig `yaml:"organize"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// BrowserConfig configures the managed Chrome session.
type BrowserConfig struct {
	Binary        string `yaml:"binary"` // empty = let the launcher find one
	Headless      bool   `yaml:"headless"`
	WindowWidth   int    `yaml:"window_width"`
	WindowHeight  int    `yaml:"window_height"`
	LaunchTimeout string `yaml:"launch_timeout"`
	Stealth       bool   `yaml:"stealth"`
}

// SiteConfig overrides the built-in selector profile for one chat site.
type SiteConfig struct {
	URL               string   `yaml:"url"`
	InputSelectors    []string `yaml:"input_selectors"`
	BusySelectors     []string `yaml:"busy_selectors"`
	ResponseSelectors []string `yaml:"response_selectors"`
}

// ChatConfig configures the web-chat driver.
type ChatConfig struct {
	DefaultSite     string                `yaml:"default_site"`
	ResponseTimeout string                `yaml:"response_timeout"`
	PollInterval    string                `yaml:"poll_interval"`
	SettleDelay     string                `yaml:"settle_delay"`
	Sites           map[string]SiteConfig `yaml:"sites"`
}

// LLMConfig configures the direct-API client.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // anthropic, gemini
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	Timeout     string  `yaml:"timeout"`
}

// FixConfig configures the fix loop and its cache.
type FixConfig struct {
	MaxIterations       int     `yaml:"max_iterations"`
	CommandTimeout      string  `yaml:"command_timeout"`
	WatchDebounce       string  `yaml:"watch_debounce"`
	CacheEnabled        bool    `yaml:"cache_enabled"`
	CacheTTL            string  `yaml:"cache_ttl"`
	MaxCacheEntries     int     `yaml:"max_cache_entries"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// QueueConfig configures the task queue runner.
type QueueConfig struct {
	DatabasePath  string `yaml:"database_path"` // empty = <state_dir>/drover.db
	Workers       int    `yaml:"workers"`
	LeaseDuration string `yaml:"lease_duration"`
	TaskTimeout   string `yaml:"task_timeout"`
	MaxAttempts   int    `yaml:"max_attempts"`
	MaxBatches    int    `yaml:"max_batches"`
}

// MappingConfig is one organize bucket: matching files move into Dir.
type MappingConfig struct {
	Dir      string   `yaml:"dir"`
	Names    []string `yaml:"names"`
	Keywords []string `yaml:"keywords"`
}

// OrganizeConfig configures the file organiser. Empty mappings fall back to
// the built-in buckets.
type OrganizeConfig struct {
	Mappings []MappingConfig `yaml:"mappings"`
}

// MetricsConfig configures run metrics.
type MetricsConfig struct {
	SnapshotDir string `yaml:"snapshot_dir"` // empty = <state_dir>/stats
	Listen      string `yaml:"listen"`       // empty = no HTTP endpoint
}

// LoggingConfig configures category file logging.
type LoggingConfig struct {
	Level     string `yaml:"level"`  // debug, info, warn, error
	Format    string `yaml:"format"` // json, text
	DebugMode bool   `yaml:"debug_mode"`
	// Per-category toggles. Nil means all categories enabled.
	Categories map[string]bool `yaml:"categories"`
}

// IsCategoryEnabled returns whether logging is enabled for a category.
// Returns false when debug_mode is off, regardless of category settings.
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if !c.DebugMode {
		return false
	}
	if c.Categories == nil {
		return true
	}
	enabled, exists := c.Categories[category]
	if !exists {
		return true
	}
	return enabled
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:     "drover",
		Version:  "0.5.0",
		StateDir: ".drover",

		Browser: BrowserConfig{
			Headless:      false,
			WindowWidth:   1150,
			WindowHeight:  600,
			LaunchTimeout: "45s",
			Stealth:       true,
		},

		Chat: ChatConfig{
			DefaultSite:     "gemini",
			ResponseTimeout: "120s",
			PollInterval:    "1s",
			SettleDelay:     "500ms",
		},

		LLM: LLMConfig{
			Provider:    "anthropic",
			Model:       "claude-sonnet-4-20250514",
			BaseURL:     "https://api.anthropic.com/v1",
			MaxTokens:   2000,
			Temperature: 0.1,
			Timeout:     "120s",
		},

		Fix: FixConfig{
			MaxIterations:       5,
			CommandTimeout:      "30s",
			WatchDebounce:       "500ms",
			CacheEnabled:        true,
			CacheTTL:            "168h",
			MaxCacheEntries:     1000,
			SimilarityThreshold: 0.85,
		},

		Queue: QueueConfig{
			Workers:       3,
			LeaseDuration: "5m",
			TaskTimeout:   "180s",
			MaxAttempts:   3,
			MaxBatches:    20,
		},

		Metrics: MetricsConfig{},

		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			DebugMode: true,
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults, so a fresh checkout works without any setup.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides. API keys are
// checked in priority order; the last match wins provider selection.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "anthropic"
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	}

	if dir := os.Getenv("DROVER_STATE_DIR"); dir != "" {
		c.StateDir = dir
	}
	if path := os.Getenv("DROVER_DB"); path != "" {
		c.Queue.DatabasePath = path
	}
	if bin := os.Getenv("DROVER_BROWSER_BIN"); bin != "" {
		c.Browser.Binary = bin
	}
	if v := os.Getenv("DROVER_HEADLESS"); v != "" {
		if headless, err := strconv.ParseBool(v); err == nil {
			c.Browser.Headless = headless
		}
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// GetLaunchTimeout returns the browser launch timeout as a duration.
func (c *Config) GetLaunchTimeout() time.Duration {
	return parseDuration(c.Browser.LaunchTimeout, 45*time.Second)
}

// GetResponseTimeout returns the chat response timeout as a duration.
func (c *Config) GetResponseTimeout() time.Duration {
	return parseDuration(c.Chat.ResponseTimeout, 120*time.Second)
}

// GetPollInterval returns the chat completion poll interval as a duration.
func (c *Config) GetPollInterval() time.Duration {
	return parseDuration(c.Chat.PollInterval, time.Second)
}

// GetSettleDelay returns the post-input settle delay as a duration.
func (c *Config) GetSettleDelay() time.Duration {
	return parseDuration(c.Chat.SettleDelay, 500*time.Millisecond)
}

// GetLLMTimeout returns the LLM request timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 120*time.Second)
}

// GetCommandTimeout returns the fix-loop command timeout as a duration.
func (c *Config) GetCommandTimeout() time.Duration {
	return parseDuration(c.Fix.CommandTimeout, 30*time.Second)
}

// GetWatchDebounce returns the fix-watch debounce window as a duration.
func (c *Config) GetWatchDebounce() time.Duration {
	return parseDuration(c.Fix.WatchDebounce, 500*time.Millisecond)
}

// GetCacheTTL returns the fix-cache entry lifetime as a duration.
func (c *Config) GetCacheTTL() time.Duration {
	return parseDuration(c.Fix.CacheTTL, 168*time.Hour)
}

// GetLeaseDuration returns the queue claim lease as a duration.
func (c *Config) GetLeaseDuration() time.Duration {
	return parseDuration(c.Queue.LeaseDuration, 5*time.Minute)
}

// GetTaskTimeout returns the per-task execution timeout as a duration.
func (c *Config) GetTaskTimeout() time.Duration {
	return parseDuration(c.Queue.TaskTimeout, 180*time.Second)
}

// ValidProviders lists the supported LLM providers.
var ValidProviders = []string{"anthropic", "gemini"}

// Validate checks structural settings that every command depends on.
func (c *Config) Validate() error {
	if c.StateDir == "" {
		return fmt.Errorf("state_dir must not be empty")
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers must be >= 1")
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue.max_attempts must be >= 1")
	}
	if c.Fix.SimilarityThreshold <= 0 || c.Fix.SimilarityThreshold > 1 {
		return fmt.Errorf("fix.similarity_threshold must be in (0, 1]")
	}
	return nil
}

// ValidateLLM checks that a usable API client can be constructed. Only
// commands that actually call an LLM should require this.
func (c *Config) ValidateLLM() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set ANTHROPIC_API_KEY or GEMINI_API_KEY)")
	}

	validProvider := false
	for _, p := range ValidProviders {
		if c.LLM.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}

	return nil
}
