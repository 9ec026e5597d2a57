// Run-metrics command: inspect snapshots, serve /metrics, or write a
// fresh snapshot.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"drover/internal/metrics"
	"drover/internal/queue"
)

var (
	statsServe    string
	statsSnapshot bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Inspect run metrics",
	Long: `Commands that do real work (queue run, fix run) write a JSON metrics
snapshot when they finish. 'drover stats' prints the newest snapshot;
--snapshot writes one with the current queue depth; --serve exposes a live
/metrics endpoint with the queue depth refreshed continuously.`,
	RunE: statsRun,
}

func init() {
	statsCmd.Flags().StringVar(&statsServe, "serve", "", "Serve /metrics on this address (e.g. :9090)")
	statsCmd.Flags().BoolVar(&statsSnapshot, "snapshot", false, "Write a snapshot now")
}

func statsRun(cmd *cobra.Command, args []string) error {
	if statsServe != "" {
		return statsServeMetrics()
	}
	if statsSnapshot {
		return statsWriteSnapshot()
	}
	return statsPrintLatest()
}

// statsPrintLatest finds the newest stats_*.json and prints its metric
// values.
func statsPrintLatest() error {
	matches, err := filepath.Glob(filepath.Join(cfg.StatsDir(), "stats_*.json"))
	if err != nil || len(matches) == 0 {
		fmt.Println("No snapshots yet. Run 'drover queue run' or 'drover stats --snapshot' first.")
		return nil
	}
	sort.Strings(matches)
	path := matches[len(matches)-1]

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	var snap metrics.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse snapshot %s: %w", path, err)
	}

	fmt.Printf("Snapshot %s (taken %s)\n\n", filepath.Base(path), snap.GeneratedAt.Format(time.RFC3339))
	for _, metric := range snap.Metrics {
		fmt.Printf("%s  (%s)\n", metric.Name, strings.ToLower(metric.Type))
		for _, sample := range metric.Samples {
			label := formatLabels(sample.Labels)
			switch {
			case sample.Count > 0:
				fmt.Printf("  %-30s sum=%.3fs count=%d", label, sample.Value, sample.Count)
				for _, q := range []string{"0.5", "0.95", "0.99"} {
					if v, ok := sample.Quantiles[q]; ok {
						fmt.Printf(" p%s=%.3fs", strings.TrimPrefix(q, "0."), v)
					}
				}
				fmt.Println()
			default:
				fmt.Printf("  %-30s %g\n", label, sample.Value)
			}
		}
	}
	return nil
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return "(all)"
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, labels[k]))
	}
	return strings.Join(parts, ",")
}

// statsWriteSnapshot gathers the live queue depth and writes a snapshot
// file.
func statsWriteSnapshot() error {
	ctx, cancel := runContext()
	defer cancel()

	collector := metrics.NewCollector()
	if err := refreshQueueDepth(ctx, collector); err != nil {
		logger.Debug("Queue depth unavailable", zap.Error(err))
	}

	path, err := collector.WriteSnapshot(cfg.StatsDir())
	if err != nil {
		return err
	}
	fmt.Printf("Snapshot written: %s\n", path)
	return nil
}

// statsServeMetrics serves the Prometheus endpoint, refreshing the queue
// depth gauges every few seconds until interrupted.
func statsServeMetrics() error {
	collector := metrics.NewCollector()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			if err := refreshQueueDepth(ctx, collector); err != nil {
				logger.Debug("Queue depth refresh failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	server := &http.Server{Addr: statsServe, Handler: mux}

	go func() {
		fmt.Printf("Serving metrics on http://%s/metrics (Ctrl+C to stop)\n", statsServe)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	waitForInterrupt()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// refreshQueueDepth loads per-status task counts into the collector's
// queue_depth gauges.
func refreshQueueDepth(ctx context.Context, collector *metrics.Collector) error {
	store, err := queue.Open(cfg.QueueDB())
	if err != nil {
		return err
	}
	defer store.Close()

	counts, err := store.Counts(ctx)
	if err != nil {
		return err
	}
	for status, n := range counts {
		collector.SetQueueDepth(string(status), n)
	}
	return nil
}
