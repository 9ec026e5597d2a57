// Package browser owns the managed Chrome instance: profile-scoped process
// cleanup before launch, stealth page creation, cookie sessions, and ordered
// teardown. One manager maps to one persistent profile directory.
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"drover/internal/logging"
)

// Config holds browser configuration.
type Config struct {
	Bin                string        `json:"bin,omitempty"`
	Headless           bool          `json:"headless"`
	ProfileDir         string        `json:"profile_dir"`
	ControlURLPath     string        `json:"control_url_path"`
	ViewportWidth      int           `json:"viewport_width"`
	ViewportHeight     int           `json:"viewport_height"`
	UserAgent          string        `json:"user_agent,omitempty"`
	LaunchFlags        []string      `json:"launch_flags,omitempty"`
	NavigationTimeout  time.Duration `json:"navigation_timeout"`
	SlowMotion         time.Duration `json:"slow_motion,omitempty"`
	Stealth            bool          `json:"stealth"`
	CookiePath         string        `json:"cookie_path"`
	ScreenshotDir      string        `json:"screenshot_dir"`
	ProcessKillTimeout time.Duration `json:"process_kill_timeout"`
}

// DefaultConfig returns sensible defaults rooted under .drover/.
func DefaultConfig() Config {
	return Config{
		Headless:           false,
		ProfileDir:         filepath.Join(".drover", "browser", "profile"),
		ControlURLPath:     filepath.Join(".drover", "browser", "control.txt"),
		ViewportWidth:      1150,
		ViewportHeight:     600,
		NavigationTimeout:  60 * time.Second,
		Stealth:            true,
		CookiePath:         filepath.Join(".drover", "browser", "sessions.json"),
		ScreenshotDir:      filepath.Join(".drover", "screenshots"),
		ProcessKillTimeout: 5 * time.Second,
	}
}

// Manager owns the Chrome process and its rod connection.
type Manager struct {
	cfg        Config
	mu         sync.Mutex
	browser    *rod.Browser
	launch     *launcher.Launcher
	controlURL string
	cookies    *CookieStore
}

// NewManager creates a manager. The profile dir is resolved to an absolute
// path so process-cmdline matching stays unambiguous.
func NewManager(cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.ProfileDir == "" {
		cfg.ProfileDir = def.ProfileDir
	}
	if cfg.ControlURLPath == "" {
		cfg.ControlURLPath = def.ControlURLPath
	}
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = def.ViewportWidth
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = def.ViewportHeight
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = def.NavigationTimeout
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = def.CookiePath
	}
	if cfg.ScreenshotDir == "" {
		cfg.ScreenshotDir = def.ScreenshotDir
	}
	if cfg.ProcessKillTimeout <= 0 {
		cfg.ProcessKillTimeout = def.ProcessKillTimeout
	}
	if abs, err := filepath.Abs(cfg.ProfileDir); err == nil {
		cfg.ProfileDir = abs
	}
	return &Manager{
		cfg:     cfg,
		cookies: NewCookieStore(cfg.CookiePath),
	}
}

// Start connects to a live browser via the persisted control URL, or cleans
// up leftovers and launches a fresh one. Calling Start on a healthy manager
// is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		logging.BrowserWarn("Stale browser connection detected, relaunching")
		_ = m.browser.Close()
		m.browser = nil
		m.controlURL = ""
	}

	// Reattach path: a previous drover process may have left a live browser.
	if url := m.readControlURL(); url != "" {
		if b, err := m.connect(ctx, url); err == nil {
			m.browser = b
			m.controlURL = url
			logging.Browser("Reattached to running browser at %s", url)
			logging.Audit().BrowserOp(logging.AuditBrowserAttach, url, true, "")
			return nil
		}
		logging.BrowserDebug("Control URL %s is stale, launching fresh", url)
	}

	m.ensureClosedLocked(ctx)

	if err := os.MkdirAll(m.cfg.ProfileDir, 0755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	url, launch, err := m.launchBrowser()
	if err != nil {
		logging.Audit().BrowserOp(logging.AuditBrowserLaunch, m.cfg.ProfileDir, false, err.Error())
		return err
	}

	b, err := m.connect(ctx, url)
	if err != nil {
		launch.Kill()
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = b
	m.launch = launch
	m.controlURL = url
	m.writeControlURL(url)

	logging.Browser("Browser launched: headless=%v profile=%s", m.cfg.Headless, m.cfg.ProfileDir)
	logging.Audit().BrowserOp(logging.AuditBrowserLaunch, url, true, "")
	return nil
}

// launchBrowser launches with the full flag set, falling back to a minimal
// one when the first attempt fails.
func (m *Manager) launchBrowser() (string, *launcher.Launcher, error) {
	launch := m.newLauncher()
	for _, rawFlag := range m.cfg.LaunchFlags {
		flagStr := strings.TrimLeft(rawFlag, "-")
		name, val, hasVal := strings.Cut(flagStr, "=")
		if hasVal {
			launch = launch.Set(flags.Flag(name), val)
		} else {
			launch = launch.Set(flags.Flag(name))
		}
	}

	url, err := launch.Launch()
	if err == nil {
		return url, launch, nil
	}

	logging.BrowserWarn("Launch with full flags failed (%v), retrying minimal", err)
	fallback := m.newLauncher()
	altURL, altErr := fallback.Launch()
	if altErr != nil {
		return "", nil, fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
	}
	return altURL, fallback, nil
}

// newLauncher builds the baseline launcher: persistent profile plus the
// flags that keep Chrome quiet and un-fingerprinted.
func (m *Manager) newLauncher() *launcher.Launcher {
	launch := launcher.New().
		Headless(m.cfg.Headless).
		Set(flags.Flag("user-data-dir"), m.cfg.ProfileDir).
		Set(flags.Flag("no-first-run")).
		Set(flags.Flag("no-default-browser-check")).
		Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	if m.cfg.Bin != "" {
		launch = launch.Bin(m.cfg.Bin)
	}
	return launch
}

func (m *Manager) connect(ctx context.Context, url string) (*rod.Browser, error) {
	b := rod.New().ControlURL(url).Context(ctx)
	if m.cfg.SlowMotion > 0 {
		b = b.SlowMotion(m.cfg.SlowMotion)
	}
	if err := b.Connect(); err != nil {
		return nil, err
	}
	if _, err := b.Version(); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

func (m *Manager) readControlURL() string {
	data, err := os.ReadFile(m.cfg.ControlURLPath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (m *Manager) writeControlURL(url string) {
	if err := os.MkdirAll(filepath.Dir(m.cfg.ControlURLPath), 0755); err != nil {
		logging.BrowserWarn("Cannot create control dir: %v", err)
		return
	}
	if err := os.WriteFile(m.cfg.ControlURLPath, []byte(url+"\n"), 0644); err != nil {
		logging.BrowserWarn("Cannot persist control URL: %v", err)
	}
}

// ControlURL returns the DevTools websocket URL of the managed browser.
func (m *Manager) ControlURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.controlURL
}

// IsConnected reports whether a browser connection is held.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.browser != nil
}

// Page creates a page with viewport and stealth applied before the first
// navigation.
func (m *Manager) Page(ctx context.Context, url string) (*rod.Page, error) {
	if err := m.Start(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	b := m.browser
	m.mu.Unlock()

	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.ViewportWidth,
		Height:            m.cfg.ViewportHeight,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		logging.BrowserWarn("Failed to set viewport: %v", err)
	}

	if m.cfg.Stealth {
		if err := applyStealth(page); err != nil {
			logging.BrowserWarn("Stealth injection failed: %v", err)
		}
	}

	if m.cfg.UserAgent != "" {
		if err := (proto.NetworkSetUserAgentOverride{
			UserAgent: m.cfg.UserAgent,
		}).Call(page); err != nil {
			logging.BrowserWarn("Failed to set user agent: %v", err)
		}
	}

	if url != "" {
		nav := page.Context(ctx).Timeout(m.cfg.NavigationTimeout)
		if err := nav.Navigate(url); err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("navigate to %s: %w", url, err)
		}
		if err := nav.WaitLoad(); err != nil {
			logging.BrowserDebug("WaitLoad after navigate: %v", err)
		}
	}

	return page, nil
}

// Alive checks the browser end to end: evaluate 1+1 on a blank page and
// expect 2. Any error means not alive.
func (m *Manager) Alive(ctx context.Context) bool {
	m.mu.Lock()
	b := m.browser
	m.mu.Unlock()
	if b == nil {
		return false
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return false
	}
	defer page.Close()

	res, err := page.Context(ctx).Eval(`() => 1 + 1`)
	if err != nil {
		return false
	}
	return res.Value.Int() == 2
}

// Screenshot captures a full-page screenshot into the screenshot dir, named
// <label>_<timestamp>.png, and returns the written path.
func (m *Manager) Screenshot(ctx context.Context, page *rod.Page, label string) (string, error) {
	data, err := page.Context(ctx).Screenshot(true, nil)
	if err != nil {
		return "", fmt.Errorf("capture screenshot: %w", err)
	}

	if err := os.MkdirAll(m.cfg.ScreenshotDir, 0755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}

	path := filepath.Join(m.cfg.ScreenshotDir,
		fmt.Sprintf("%s_%s.png", label, time.Now().Format("20060102_150405")))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}

	logging.BrowserDebug("Screenshot saved: %s (%d bytes)", path, len(data))
	return path, nil
}

// Close tears down in order: browser connection, launcher process, then
// the profile-scoped process sweep as last resort. Idempotent; each step
// logs its own failure and continues.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			logging.BrowserWarn("Browser close: %v", err)
		}
		m.browser = nil
	}

	if m.launch != nil {
		m.launch.Kill()
		m.launch.Cleanup()
		m.launch = nil
	}

	m.ensureClosedLocked(ctx)

	if m.controlURL != "" {
		if err := os.Remove(m.cfg.ControlURLPath); err != nil && !os.IsNotExist(err) {
			logging.BrowserDebug("Remove control file: %v", err)
		}
		m.controlURL = ""
	}

	logging.Browser("Browser closed")
	logging.Audit().BrowserOp(logging.AuditBrowserClose, m.cfg.ProfileDir, true, "")
	return nil
}
