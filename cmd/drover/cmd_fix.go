// Fix-loop commands: run the LLM-assisted fix cycle, or watch a drop
// directory for prompt files.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"drover/internal/fixcache"
	"drover/internal/fixloop"
	"drover/internal/llm"
	"drover/internal/metrics"
	"drover/internal/queue"
	"drover/internal/shell"
)

var (
	fixPromptFile    string
	fixLatest        bool
	fixMaxIterations int
	fixNoCache       bool
)

var fixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Run the LLM fix-my-code loop",
	Long: `Feeds an error report to the configured LLM, executes the shell
commands it proposes, and iterates with command output as feedback until the
commands run clean or the iteration budget is spent. Verified fixes land in
a persistent cache so recurring errors skip the LLM.`,
}

var fixRunCmd = &cobra.Command{
	Use:   "run [error report]",
	Short: "Run the fix loop once",
	RunE:  fixRun,
}

var fixWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the prompt directory and fix each dropped report",
	Long: `Watches <state-dir>/prompts/ for prompt_*.txt files. Each file that
settles triggers one fix run with its contents. Stop with Ctrl+C.`,
	RunE: fixWatch,
}

func init() {
	fixRunCmd.Flags().StringVar(&fixPromptFile, "prompt-file", "", "Read the error report from this file")
	fixRunCmd.Flags().BoolVar(&fixLatest, "latest", false, "Use the newest prompt_*.txt in the prompt dir")
	fixRunCmd.Flags().IntVar(&fixMaxIterations, "max-iterations", 0, "Iteration budget (default from config)")
	fixRunCmd.Flags().BoolVar(&fixNoCache, "no-cache", false, "Skip the fix cache for this run")
	fixWatchCmd.Flags().IntVar(&fixMaxIterations, "max-iterations", 0, "Iteration budget (default from config)")
	fixWatchCmd.Flags().BoolVar(&fixNoCache, "no-cache", false, "Skip the fix cache")

	fixCmd.AddCommand(fixRunCmd)
	fixCmd.AddCommand(fixWatchCmd)
}

// buildFixRunner wires the loop from config. The returned cleanup closes
// the cache store and writes the metrics snapshot.
func buildFixRunner(ctx context.Context) (*fixloop.Runner, *metrics.Collector, func(), error) {
	if err := cfg.ValidateLLM(); err != nil {
		return nil, nil, nil, err
	}

	client, err := llm.New(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	var cache *fixcache.Store
	if cfg.Fix.CacheEnabled && !fixNoCache {
		cacheCfg := fixcache.DefaultConfig(cfg.FixCacheDB())
		cacheCfg.TTL = cfg.GetCacheTTL()
		cacheCfg.MaxEntries = cfg.Fix.MaxCacheEntries
		cacheCfg.SimilarityThreshold = cfg.Fix.SimilarityThreshold
		cache, err = fixcache.Open(cacheCfg)
		if err != nil {
			logger.Warn("Fix cache unavailable, continuing without", zap.Error(err))
			cache = nil
		}
	}

	loopCfg := fixloop.Config{
		PromptDir:       cfg.PromptsDir(),
		ResponseDir:     cfg.ResponsesDir(),
		InstructionFile: cfg.InstructionFile(),
		MaxIterations:   cfg.Fix.MaxIterations,
		CommandTimeout:  cfg.GetCommandTimeout(),
	}
	if fixMaxIterations > 0 {
		loopCfg.MaxIterations = fixMaxIterations
	}

	collector := metrics.NewCollector()
	runner := fixloop.NewRunner(loopCfg, client, shell.NewRunner(shell.Config{}), cache)
	runner.SetMetrics(collector)

	cleanup := func() {
		if cache != nil {
			_ = cache.Close()
		}
		if _, err := collector.WriteSnapshot(cfg.StatsDir()); err != nil {
			logger.Debug("Metrics snapshot failed", zap.Error(err))
		}
	}
	return runner, collector, cleanup, nil
}

func fixRun(cmd *cobra.Command, args []string) error {
	report, err := resolveReport(args)
	if err != nil {
		return err
	}

	ctx, cancel := runContext()
	defer cancel()

	runner, _, cleanup, err := buildFixRunner(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Info("Fix run starting", zap.Int("report_chars", len(report)))
	summary, err := runner.Run(ctx, report)
	printFixSummary(summary)
	if err != nil {
		return err
	}
	if !summary.Done {
		return fmt.Errorf("fix not verified after %d iteration(s)", len(summary.Iterations))
	}
	return nil
}

// resolveReport picks the error report: positional args, --prompt-file, or
// --latest, in that priority order.
func resolveReport(args []string) (string, error) {
	if len(args) > 0 {
		return strings.TrimSpace(joinArgs(args)), nil
	}
	path := fixPromptFile
	if path == "" {
		if !fixLatest {
			return "", fmt.Errorf("provide an error report, --prompt-file, or --latest")
		}
		latest, err := fixloop.LatestPrompt(cfg.PromptsDir())
		if err != nil {
			return "", err
		}
		path = latest
		fmt.Printf("Using prompt file %s\n", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt file: %w", err)
	}
	report := strings.TrimSpace(string(data))
	if report == "" {
		return "", fmt.Errorf("prompt file %s is empty", path)
	}
	return report, nil
}

func printFixSummary(s *fixloop.Summary) {
	if s == nil {
		return
	}
	for _, iter := range s.Iterations {
		status := iter.Reason
		if status == "" {
			status = "in progress"
		}
		fmt.Printf("  iteration %d: %d command(s), %s\n", iter.Index, len(iter.Commands), status)
		for _, sr := range iter.Results {
			if sr.Result == nil {
				fmt.Printf("    ! %s (did not start)\n", sr.Line)
				continue
			}
			marker := "ok"
			if sr.Result.ExitCode != 0 {
				marker = fmt.Sprintf("exit %d", sr.Result.ExitCode)
			}
			fmt.Printf("    - %s [%s]\n", sr.Line, marker)
		}
	}
	if s.CacheHit {
		fmt.Println("  (resolved via fix cache)")
	}
	if s.Done {
		fmt.Printf("Fixed in %s\n", s.Elapsed.Round(time.Millisecond))
	} else {
		fmt.Printf("Not fixed after %s\n", s.Elapsed.Round(time.Millisecond))
	}
}

func fixWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := runContext()
	defer cancel()

	runner, _, cleanup, err := buildFixRunner(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	watcher, err := fixloop.NewWatcher(cfg.PromptsDir(), cfg.GetWatchDebounce(), func(runCtx context.Context, path, content string) {
		fmt.Printf("\n=== %s ===\n", path)
		summary, err := runner.Run(runCtx, content)
		printFixSummary(summary)
		if err != nil {
			fmt.Printf("fix run failed: %v\n", err)
		}
	})
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer watcher.Stop()

	fmt.Printf("Watching %s for prompt_*.txt (Ctrl+C to stop)\n", cfg.PromptsDir())
	<-ctx.Done()
	fmt.Println("\nWatch stopped")
	return nil
}

// queueFixHandler adapts the fix runner for queue tasks of type "fix".
// The payload is the error report, either raw or {"report": "..."}.
func queueFixHandler(runner *fixloop.Runner) queue.HandlerFunc {
	return func(ctx context.Context, t *queue.Task) (string, error) {
		report := payloadField(t.Payload, "report")
		if report == "" {
			return "", fmt.Errorf("fix task %s has no report payload", t.ID)
		}
		summary, err := runner.Run(ctx, report)
		if err != nil {
			return "", err
		}
		if !summary.Done {
			return "", fmt.Errorf("fix not verified after %d iteration(s)", len(summary.Iterations))
		}
		if summary.CacheHit {
			return "fixed via cache", nil
		}
		return fmt.Sprintf("fixed in %d iteration(s)", len(summary.Iterations)), nil
	}
}
