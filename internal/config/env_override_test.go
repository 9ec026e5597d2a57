package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOverrides_LLM(t *testing.T) {
	t.Run("ANTHROPIC_API_KEY sets key and provider", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "ant-key")
		t.Setenv("GEMINI_API_KEY", "")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "ant-key", cfg.LLM.APIKey)
		assert.Equal(t, "anthropic", cfg.LLM.Provider)
	})

	t.Run("GEMINI_API_KEY wins over ANTHROPIC_API_KEY", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "ant-key")
		t.Setenv("GEMINI_API_KEY", "gem-key")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "gem-key", cfg.LLM.APIKey)
		assert.Equal(t, "gemini", cfg.LLM.Provider)
	})

	t.Run("no env leaves file values alone", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")
		t.Setenv("GEMINI_API_KEY", "")

		cfg := &Config{LLM: LLMConfig{Provider: "anthropic", APIKey: "from-file"}}
		cfg.applyEnvOverrides()

		assert.Equal(t, "from-file", cfg.LLM.APIKey)
		assert.Equal(t, "anthropic", cfg.LLM.Provider)
	})
}

func TestEnvOverrides_Paths(t *testing.T) {
	t.Run("DROVER_STATE_DIR", func(t *testing.T) {
		t.Setenv("DROVER_STATE_DIR", "/var/lib/drover")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "/var/lib/drover", cfg.StateDir)
		assert.Equal(t, "/var/lib/drover/drover.db", cfg.QueueDB())
	})

	t.Run("DROVER_DB beats derived path", func(t *testing.T) {
		t.Setenv("DROVER_STATE_DIR", "/var/lib/drover")
		t.Setenv("DROVER_DB", "/data/queue.db")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "/data/queue.db", cfg.QueueDB())
	})
}

func TestEnvOverrides_Browser(t *testing.T) {
	t.Run("DROVER_BROWSER_BIN", func(t *testing.T) {
		t.Setenv("DROVER_BROWSER_BIN", "/usr/bin/chromium")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "/usr/bin/chromium", cfg.Browser.Binary)
	})

	t.Run("DROVER_HEADLESS parses booleans", func(t *testing.T) {
		t.Setenv("DROVER_HEADLESS", "1")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.True(t, cfg.Browser.Headless)
	})

	t.Run("DROVER_HEADLESS garbage is ignored", func(t *testing.T) {
		t.Setenv("DROVER_HEADLESS", "sideways")

		cfg := DefaultConfig()
		cfg.Browser.Headless = true
		cfg.applyEnvOverrides()
		assert.True(t, cfg.Browser.Headless)
	})
}
