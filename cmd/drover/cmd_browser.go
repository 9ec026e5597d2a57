// Browser lifecycle commands: launch, status, stop.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var browserKill bool

var browserCmd = &cobra.Command{
	Use:   "browser",
	Short: "Manage the persistent Chrome session",
}

var browserLaunchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Launch (or reattach to) the managed browser",
	Long: `Launch Chrome with the persistent drover profile, or reattach to one
that is already running. The DevTools control URL is persisted so later
commands find the same browser. The browser keeps running after this
command exits; stop it with 'drover browser stop'.`,
	RunE: browserLaunch,
}

var browserStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the managed browser is alive",
	RunE:  browserStatus,
}

var browserStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Shut the managed browser down",
	RunE:  browserStop,
}

func init() {
	browserStopCmd.Flags().BoolVar(&browserKill, "kill", false, "Also kill leftover Chrome processes bound to the profile")

	browserCmd.AddCommand(browserLaunchCmd)
	browserCmd.AddCommand(browserStatusCmd)
	browserCmd.AddCommand(browserStopCmd)
}

func browserLaunch(cmd *cobra.Command, args []string) error {
	ctx, cancel := runContext()
	defer cancel()

	mgr := newBrowserManager()
	logger.Info("Launching browser",
		zap.Bool("headless", cfg.Browser.Headless),
		zap.String("profile", cfg.ProfileDir()))

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}

	fmt.Printf("Browser running. Control URL: %s\n", mgr.ControlURL())
	fmt.Printf("Profile: %s\n", cfg.ProfileDir())
	fmt.Println("The browser stays up across drover commands; 'drover browser stop' shuts it down.")

	if !cfg.Browser.Headless {
		fmt.Println("\nLog in to your chat sites now, then save the session:")
		fmt.Println("  drover session save --site gemini")
	}
	return nil
}

func browserStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := runContext()
	defer cancel()

	mgr := newBrowserManager()
	if err := mgr.Start(ctx); err != nil {
		fmt.Println("Browser: not running")
		return nil
	}
	if !mgr.IsConnected() || !mgr.Alive(ctx) {
		fmt.Println("Browser: connected but unresponsive")
		return nil
	}

	fmt.Println("Browser: alive")
	fmt.Printf("Control URL: %s\n", mgr.ControlURL())

	sessions := mgr.Cookies().ListSessions()
	if len(sessions) > 0 {
		fmt.Printf("Saved sessions: %d\n", len(sessions))
	}
	return nil
}

func browserStop(cmd *cobra.Command, args []string) error {
	ctx, cancel := runContext()
	defer cancel()

	mgr := newBrowserManager()
	// Attach first so Close can tear down the live connection; a failed
	// attach still proceeds to the process sweep.
	if err := mgr.Start(ctx); err != nil {
		logger.Debug("No live browser to attach", zap.Error(err))
	}
	if err := mgr.Close(ctx); err != nil {
		return fmt.Errorf("stop browser: %w", err)
	}

	if browserKill {
		if n := mgr.EnsureClosed(ctx); n > 0 {
			fmt.Printf("Killed %d leftover browser process(es)\n", n)
		}
	}

	fmt.Println("Browser stopped")
	return nil
}

// waitForInterrupt blocks until SIGINT or SIGTERM. Used by long-running
// foreground commands.
func waitForInterrupt() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	<-sigCh
}
