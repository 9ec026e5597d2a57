// Cookie session commands: save, restore, list, delete.
package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"drover/internal/chat"
)

var (
	sessionSite   string
	sessionDomain string
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage saved login sessions (cookies) per chat site",
	Long: `Chat sites need a logged-in browser. Log in once through
'drover browser launch', then 'drover session save --site gemini' captures
the cookies so later headless runs skip the login wall.`,
}

var sessionSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Capture the current login cookies for a site",
	RunE:  sessionSave,
}

var sessionRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Load saved cookies into a fresh page and verify them",
	RunE:  sessionRestore,
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved sessions and their age",
	RunE:  sessionList,
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a saved session",
	RunE:  sessionDelete,
}

func init() {
	for _, c := range []*cobra.Command{sessionSaveCmd, sessionRestoreCmd, sessionDeleteCmd} {
		c.Flags().StringVar(&sessionSite, "site", "", "Chat site name ("+strings.Join(chat.Sites(), ", ")+")")
		c.Flags().StringVar(&sessionDomain, "domain", "", "Raw cookie domain (alternative to --site)")
	}

	sessionCmd.AddCommand(sessionSaveCmd)
	sessionCmd.AddCommand(sessionRestoreCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionDeleteCmd)
}

// resolveSessionTarget turns --site/--domain into the (url, domain) pair the
// cookie store works with. --site wins when both are given.
func resolveSessionTarget() (url, domain string, err error) {
	if sessionSite != "" {
		profile, err := chat.Resolve(sessionSite, cfg.Chat.Sites)
		if err != nil {
			return "", "", err
		}
		return profile.URL, profile.Domain, nil
	}
	if sessionDomain != "" {
		return "https://" + sessionDomain, sessionDomain, nil
	}
	return "", "", fmt.Errorf("either --site or --domain is required")
}

func sessionSave(cmd *cobra.Command, args []string) error {
	url, domain, err := resolveSessionTarget()
	if err != nil {
		return err
	}

	ctx, cancel := runContext()
	defer cancel()

	mgr := newBrowserManager()
	page, err := mgr.Page(ctx, url)
	if err != nil {
		return fmt.Errorf("open %s: %w", url, err)
	}
	defer page.Close()

	logger.Info("Saving session", zap.String("domain", domain))
	n, err := mgr.Cookies().SaveCookies(ctx, page, domain)
	if err != nil {
		return fmt.Errorf("save session for %s: %w", domain, err)
	}

	fmt.Printf("Saved %d cookie(s) for %s\n", n, domain)
	return nil
}

func sessionRestore(cmd *cobra.Command, args []string) error {
	url, domain, err := resolveSessionTarget()
	if err != nil {
		return err
	}

	ctx, cancel := runContext()
	defer cancel()

	mgr := newBrowserManager()
	page, err := mgr.Page(ctx, url)
	if err != nil {
		return fmt.Errorf("open %s: %w", url, err)
	}
	defer page.Close()

	n, err := mgr.Cookies().RestoreCookies(ctx, page, domain)
	if err != nil {
		return fmt.Errorf("restore session for %s: %w", domain, err)
	}

	fmt.Printf("Restored %d cookie(s) for %s\n", n, domain)
	return nil
}

func sessionList(cmd *cobra.Command, args []string) error {
	mgr := newBrowserManager()
	sessions := mgr.Cookies().ListSessions()
	if len(sessions) == 0 {
		fmt.Println("No saved sessions")
		return nil
	}

	fmt.Printf("%-30s %-10s %s\n", "DOMAIN", "COOKIES", "SAVED")
	for _, s := range sessions {
		fmt.Printf("%-30s %-10d %s (%s ago)\n",
			s.Domain, s.Cookies,
			s.SavedAt.Format("2006-01-02 15:04"),
			formatAge(time.Since(s.SavedAt)))
	}
	return nil
}

func sessionDelete(cmd *cobra.Command, args []string) error {
	_, domain, err := resolveSessionTarget()
	if err != nil {
		return err
	}

	mgr := newBrowserManager()
	if err := mgr.Cookies().DeleteSession(domain); err != nil {
		return err
	}
	fmt.Printf("Deleted session for %s\n", domain)
	return nil
}

// formatAge renders a duration the way a human reads it: 3d, 5h, 12m.
func formatAge(d time.Duration) string {
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	case d >= time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	case d >= time.Minute:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}
