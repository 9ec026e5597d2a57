//go:build integration

package chat_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/stretchr/testify/require"

	"drover/internal/browser"
	"drover/internal/chat"
)

// chatFixture is a minimal chat UI: a contenteditable composer, a busy
// indicator that shows for ~800ms after Enter, then an appended response
// node using the same class the Gemini profile scrapes.
const chatFixture = `<html><body>
<div id="composer" contenteditable="true"></div>
<div id="busy" style="display:none">generating...</div>
<div id="log"></div>
<script>
const composer = document.getElementById('composer');
composer.addEventListener('keydown', (e) => {
  if (e.key !== 'Enter') return;
  e.preventDefault();
  const q = composer.innerText.trim();
  composer.innerText = '';
  const busy = document.getElementById('busy');
  busy.style.display = 'block';
  setTimeout(() => {
    busy.style.display = 'none';
    const node = document.createElement('div');
    node.className = 'model-response-text';
    node.innerHTML = '<p>Echo response: ' + q + '</p>';
    document.getElementById('log').appendChild(node);
  }, 800);
});
</script>
</body></html>`

func fixtureProfile(url string) chat.SiteProfile {
	return chat.SiteProfile{
		Name:              "fixture",
		URL:               url,
		Domain:            "127.0.0.1",
		InputSelectors:    []string{"#composer"},
		BusySelectors:     []string{"#busy"},
		ResponseSelectors: []string{".model-response-text"},
		LoggedInSelector:  "#composer",
	}
}

func newManager(t *testing.T) *browser.Manager {
	t.Helper()
	root := t.TempDir()
	cfg := browser.DefaultConfig()
	cfg.Headless = true
	cfg.ProfileDir = filepath.Join(root, "profile")
	cfg.ControlURLPath = filepath.Join(root, "control.txt")
	cfg.CookiePath = filepath.Join(root, "sessions.json")
	cfg.ScreenshotDir = filepath.Join(root, "shots")
	return browser.NewManager(cfg)
}

func TestDriverAsk_Integration(t *testing.T) {
	if _, found := launcher.LookPath(); !found {
		t.Skip("no chrome/chromium binary available")
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "fixture", Path: "/"})
		fmt.Fprint(w, chatFixture)
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	mgr := newManager(t)
	require.NoError(t, mgr.Start(ctx))
	defer mgr.Close(context.Background())

	opts := chat.DefaultOptions()
	opts.PollInterval = 200 * time.Millisecond
	opts.ResponseTimeout = 20 * time.Second

	driver := chat.NewDriver(mgr, fixtureProfile(ts.URL), opts)
	defer driver.Close()

	res, err := driver.Ask(ctx, "hello from the integration test")
	require.NoError(t, err)
	require.Equal(t, "fixture", res.Site)
	require.Contains(t, res.Text, "Echo response: hello from the integration test")
	require.Greater(t, res.Elapsed, time.Duration(0))

	// Ask saves the session back; the cookie store must now hold it.
	sessions := mgr.Cookies().ListSessions()
	require.Len(t, sessions, 1)
	require.Equal(t, "127.0.0.1", sessions[0].Domain)
}

func TestDriverWaitTimeout_Integration(t *testing.T) {
	if _, found := launcher.LookPath(); !found {
		t.Skip("no chrome/chromium binary available")
	}

	// Busy indicator never clears on this page.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
<div id="composer" contenteditable="true"></div>
<div id="busy">stuck</div>
</body></html>`)
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	mgr := newManager(t)
	require.NoError(t, mgr.Start(ctx))
	defer mgr.Close(context.Background())

	opts := chat.DefaultOptions()
	opts.PollInterval = 200 * time.Millisecond

	driver := chat.NewDriver(mgr, fixtureProfile(ts.URL), opts)
	defer driver.Close()

	require.NoError(t, driver.Open(ctx))
	_, err := driver.WaitComplete(ctx, 2*time.Second)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not complete")
}

func TestDriverNotLoggedIn_Integration(t *testing.T) {
	if _, found := launcher.LookPath(); !found {
		t.Skip("no chrome/chromium binary available")
	}

	// No composer at all: the login-wall case.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h1>Sign in</h1></body></html>`)
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	mgr := newManager(t)
	require.NoError(t, mgr.Start(ctx))
	defer mgr.Close(context.Background())

	driver := chat.NewDriver(mgr, fixtureProfile(ts.URL), chat.DefaultOptions())
	err := driver.Open(ctx)
	require.Error(t, err)

	var notLoggedIn *chat.NotLoggedInError
	require.ErrorAs(t, err, &notLoggedIn)
	require.Equal(t, "fixture", notLoggedIn.Site)
}
