// File organiser command: plan (dry-run) or execute bucket moves.
package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"drover/internal/organize"
)

var (
	organizeRoot    string
	organizeExecute bool
)

var organizeCmd = &cobra.Command{
	Use:   "organize",
	Short: "Sort loose top-level files into bucket directories",
	Long: `Matches top-level files against the configured buckets (docs,
scripts, logs, archive by default) and moves them in. Dry-run by default:
nothing moves until --execute. Files whose destination already exists are
skipped, never overwritten.`,
	RunE: organizeRun,
}

func init() {
	organizeCmd.Flags().StringVar(&organizeRoot, "root", ".", "Directory to organise")
	organizeCmd.Flags().BoolVar(&organizeExecute, "execute", false, "Actually move files (default is a dry run)")
}

func organizeRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := runContext()
	defer cancel()

	mappings := organize.FromConfig(cfg.Organize.Mappings)
	logger.Debug("Organising",
		zap.String("root", organizeRoot),
		zap.Bool("execute", organizeExecute),
		zap.Int("buckets", len(mappings)))

	plan, summary, err := organize.Run(ctx, organizeRoot, mappings, organizeExecute)
	if err != nil {
		return err
	}

	if len(plan.Moves) == 0 {
		fmt.Println("Nothing to organise")
		return nil
	}

	for _, outcome := range summary.Outcomes {
		m := outcome.Move
		switch outcome.Status {
		case "moved":
			fmt.Printf("  moved   %s -> %s/\n", m.Src, m.Bucket)
		case "planned":
			fmt.Printf("  plan    %s -> %s/ (%s)\n", m.Src, m.Bucket, m.Reason)
		case "skipped":
			fmt.Printf("  skip    %s (%s)\n", m.Src, m.Reason)
		case "failed":
			fmt.Printf("  failed  %s: %s\n", m.Src, outcome.Err)
		}
	}

	if summary.DryRun {
		fmt.Printf("Dry run: %d move(s) planned, %d skipped. Re-run with --execute to apply.\n",
			summary.Moved, summary.Skipped)
	} else {
		fmt.Printf("Moved %d, skipped %d, failed %d\n",
			summary.Moved, summary.Skipped, summary.Failed)
	}
	return nil
}
