//go:build integration

package browser_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/stretchr/testify/require"

	"drover/internal/browser"
)

func newTestConfig(t *testing.T) browser.Config {
	t.Helper()
	root := t.TempDir()
	cfg := browser.DefaultConfig()
	cfg.Headless = true
	cfg.ProfileDir = filepath.Join(root, "profile")
	cfg.ControlURLPath = filepath.Join(root, "control.txt")
	cfg.CookiePath = filepath.Join(root, "sessions.json")
	cfg.ScreenshotDir = filepath.Join(root, "shots")
	return cfg
}

func TestManagerLifecycle_Integration(t *testing.T) {
	if _, found := launcher.LookPath(); !found {
		t.Skip("no chrome/chromium binary available")
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session_token", Value: "integration", Path: "/"})
		fmt.Fprintln(w, `<html><body><h1 id="title">drover test page</h1></body></html>`)
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	cfg := newTestConfig(t)
	mgr := browser.NewManager(cfg)

	require.NoError(t, mgr.Start(ctx))
	defer mgr.Close(context.Background())

	require.True(t, mgr.Alive(ctx), "freshly launched browser should pass the alive check")
	require.NotEmpty(t, mgr.ControlURL())

	// Control URL is persisted for reattach by later processes.
	data, err := os.ReadFile(cfg.ControlURLPath)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	page, err := mgr.Page(ctx, ts.URL)
	require.NoError(t, err)
	defer page.Close()

	text, err := page.MustElement("#title").Text()
	require.NoError(t, err)
	require.Equal(t, "drover test page", text)

	// Stealth must present a non-automated fingerprint.
	res, err := page.Eval(`() => navigator.webdriver`)
	require.NoError(t, err)
	require.False(t, res.Value.Bool(), "navigator.webdriver should read false")

	shot, err := mgr.Screenshot(ctx, page, "integration")
	require.NoError(t, err)
	require.FileExists(t, shot)
}

func TestManagerCookieRoundTrip_Integration(t *testing.T) {
	if _, found := launcher.LookPath(); !found {
		t.Skip("no chrome/chromium binary available")
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "login", Value: "ok", Path: "/"})
		fmt.Fprintln(w, `<html><body>logged in</body></html>`)
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	cfg := newTestConfig(t)
	mgr := browser.NewManager(cfg)
	require.NoError(t, mgr.Start(ctx))
	defer mgr.Close(context.Background())

	page, err := mgr.Page(ctx, ts.URL)
	require.NoError(t, err)

	domain := "127.0.0.1"
	saved, err := mgr.Cookies().SaveCookies(ctx, page, domain)
	require.NoError(t, err)
	require.GreaterOrEqual(t, saved, 1)
	require.NoError(t, page.Close())

	sessions := mgr.Cookies().ListSessions()
	require.Len(t, sessions, 1)
	require.Equal(t, domain, sessions[0].Domain)

	// A brand-new page gets the session back before it ever loads the site.
	fresh, err := mgr.Page(ctx, "")
	require.NoError(t, err)
	defer fresh.Close()

	restored, err := mgr.Cookies().RestoreCookies(ctx, fresh, domain)
	require.NoError(t, err)
	require.Equal(t, saved, restored)
}
