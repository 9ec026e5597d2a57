package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"drover/internal/browser"
	"drover/internal/config"
	"drover/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string
	stateDir   string
	timeout    time.Duration

	// Shared state, populated in PersistentPreRunE
	logger *zap.Logger
	cfg    *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "drover",
	Short: "drover - browser-automation personal assistant",
	Long: `drover herds a persistent Chrome session and the chores around it.

It drives web chat UIs (Gemini, DeepSeek) through a stealthed browser with
saved login sessions, runs an LLM-powered fix-my-code loop with a persistent
error->fix cache, schedules work through a SQLite task queue, and keeps the
project root tidy.

State lives under .drover/ in the working directory; delete it for a full
reset.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		path := configPath
		if path == "" {
			path = config.DefaultPath()
		}
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}
		if stateDir != "" {
			cfg.StateDir = stateDir
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		if err := cfg.EnsureStateDirs(); err != nil {
			return err
		}

		logDir := ""
		if cfg.Logging.DebugMode {
			logDir = cfg.LogsDir()
		}
		if err := logging.Init(logging.Options{
			Dir:        logDir,
			Level:      cfg.Logging.Level,
			JSONFormat: cfg.Logging.Format == "json",
			Categories: cfg.Logging.Categories,
		}); err != nil {
			return err
		}
		if err := logging.InitAudit(); err != nil {
			logger.Warn("Audit log unavailable", zap.Error(err))
		}

		logger.Debug("Configuration loaded",
			zap.String("config", path),
			zap.String("state_dir", cfg.StateDir))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAudit()
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// versionCmd prints the build version
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the drover version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("drover %s\n", cfg.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: .drover/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "State directory override (default: .drover)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	rootCmd.AddCommand(browserCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(fixCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(organizeCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runContext returns a context bounded by --timeout and cancelled on
// SIGINT/SIGTERM.
func runContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			logger.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// newBrowserManager wires the manager from config, with every state path
// rooted under the state dir.
func newBrowserManager() *browser.Manager {
	return browser.NewManager(browser.Config{
		Bin:            cfg.Browser.Binary,
		Headless:       cfg.Browser.Headless,
		ProfileDir:     cfg.ProfileDir(),
		ControlURLPath: cfg.ControlFile(),
		ViewportWidth:  cfg.Browser.WindowWidth,
		ViewportHeight: cfg.Browser.WindowHeight,
		Stealth:        cfg.Browser.Stealth,
		CookiePath:     cfg.SessionsFile(),
		ScreenshotDir:  cfg.ScreenshotsDir(),
	})
}

func joinArgs(args []string) string {
	result := ""
	for i, arg := range args {
		if i > 0 {
			result += " "
		}
		result += arg
	}
	return result
}
