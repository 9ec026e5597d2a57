package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"drover/internal/browser"
	"drover/internal/logging"
)

// ErrNoResponse is returned when every response selector comes up empty.
var ErrNoResponse = errors.New("no response found")

// NotLoggedInError reports that a chat site showed its login wall instead of
// the composer. The fix is manual: log in once, then save the session.
type NotLoggedInError struct {
	Site string
	Hint string
}

func (e *NotLoggedInError) Error() string {
	msg := fmt.Sprintf("not logged in to %s", e.Site)
	if e.Hint != "" {
		msg += fmt.Sprintf(" (log in at %s, then run: drover session save --site %s)", e.Hint, e.Site)
	}
	return msg
}

// Options tune the driver's timing and acceptance thresholds.
type Options struct {
	PollInterval    time.Duration // busy-selector poll cadence
	ResponseTimeout time.Duration // max wait for generation to finish
	SettleDelay     time.Duration // pause after typing and after completion
	NavigateTimeout time.Duration
	MinResponseLen  int // trimmed response text must exceed this
}

// DefaultOptions mirror the behaviour of the original automation scripts.
func DefaultOptions() Options {
	return Options{
		PollInterval:    time.Second,
		ResponseTimeout: 120 * time.Second,
		SettleDelay:     500 * time.Millisecond,
		NavigateTimeout: 60 * time.Second,
		MinResponseLen:  10,
	}
}

// selectorWait bounds how long each candidate in a fallback chain may take
// to appear before the next one is tried.
const selectorWait = 2 * time.Second

// Result is one completed chat exchange.
type Result struct {
	Text    string
	Site    string
	Elapsed time.Duration
}

// Driver runs prompts through one chat site. Not safe for concurrent use;
// one driver maps to one page.
type Driver struct {
	mgr     *browser.Manager
	profile SiteProfile
	opts    Options
	page    *rod.Page
}

// NewDriver creates a driver for the given site profile. Zero option fields
// fall back to defaults.
func NewDriver(mgr *browser.Manager, profile SiteProfile, opts Options) *Driver {
	def := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = def.ResponseTimeout
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = def.SettleDelay
	}
	if opts.NavigateTimeout <= 0 {
		opts.NavigateTimeout = def.NavigateTimeout
	}
	if opts.MinResponseLen <= 0 {
		opts.MinResponseLen = def.MinResponseLen
	}
	return &Driver{mgr: mgr, profile: profile, opts: opts}
}

// Open creates the page, restores any saved login session, navigates to the
// site, and verifies the composer is reachable. A login wall yields
// *NotLoggedInError.
func (d *Driver) Open(ctx context.Context) error {
	if d.page != nil {
		return nil
	}

	page, err := d.mgr.Page(ctx, "")
	if err != nil {
		return fmt.Errorf("open page for %s: %w", d.profile.Name, err)
	}

	// Restore before the first navigation so the site sees the session
	// cookies on its very first request.
	if _, err := d.mgr.Cookies().RestoreCookies(ctx, page, d.profile.Domain); err != nil {
		if errors.Is(err, browser.ErrNoSession) {
			logging.ChatDebug("No saved session for %s, continuing without", d.profile.Domain)
		} else {
			logging.ChatWarn("Session restore for %s failed: %v", d.profile.Domain, err)
		}
	}

	nav := page.Context(ctx).Timeout(d.opts.NavigateTimeout)
	if err := nav.Navigate(d.profile.URL); err != nil {
		_ = page.Close()
		return fmt.Errorf("navigate to %s: %w", d.profile.URL, err)
	}
	if err := nav.WaitLoad(); err != nil {
		logging.ChatDebug("WaitLoad on %s: %v", d.profile.Name, err)
	}

	if _, err := page.Context(ctx).Timeout(15 * time.Second).Element(d.profile.LoggedInSelector); err != nil {
		shot := d.debugShot(ctx, page, d.profile.Name+"_login")
		logging.ChatWarn("Login check failed for %s (screenshot: %s)", d.profile.Name, shot)
		_ = page.Close()
		return &NotLoggedInError{Site: d.profile.Name, Hint: d.profile.LoginURLHint}
	}

	d.page = page
	logging.Chat("Opened %s (%s)", d.profile.Name, d.profile.URL)
	return nil
}

// Send types the prompt into the composer and submits it with Enter.
func (d *Driver) Send(ctx context.Context, prompt string) error {
	if d.page == nil {
		return fmt.Errorf("driver for %s not open", d.profile.Name)
	}

	el, selector, err := d.findFirst(ctx, d.profile.InputSelectors)
	if err != nil {
		shot := d.debugShot(ctx, d.page, d.profile.Name+"_no_input")
		logging.Audit().Log(logging.AuditEvent{
			EventType: logging.AuditChatError,
			Category:  string(logging.CategoryChat),
			Target:    d.profile.Name,
			Error:     err.Error(),
		})
		return fmt.Errorf("no usable input on %s (screenshot: %s): %w", d.profile.Name, shot, err)
	}
	logging.ChatDebug("Input matched selector %q", selector)

	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("focus input: %w", err)
	}
	if err := el.Input(prompt); err != nil {
		return fmt.Errorf("type prompt: %w", err)
	}
	if err := sleepCtx(ctx, d.opts.SettleDelay); err != nil {
		return err
	}
	if err := el.Type(input.Enter); err != nil {
		return fmt.Errorf("submit prompt: %w", err)
	}

	logging.Chat("Sent %d chars to %s", len(prompt), d.profile.Name)
	logging.Audit().Log(logging.AuditEvent{
		EventType: logging.AuditChatSend,
		Category:  string(logging.CategoryChat),
		Target:    d.profile.Name,
		Success:   true,
		Fields:    map[string]interface{}{"chars": len(prompt)},
	})
	return nil
}

// WaitComplete polls until no busy indicator is visible, then settles.
// maxWait <= 0 uses the configured response timeout. Returns the elapsed
// wait. A page-level failure surfaces as itself, never as a timeout.
func (d *Driver) WaitComplete(ctx context.Context, maxWait time.Duration) (time.Duration, error) {
	if d.page == nil {
		return 0, fmt.Errorf("driver for %s not open", d.profile.Name)
	}
	if maxWait <= 0 {
		maxWait = d.opts.ResponseTimeout
	}

	start := time.Now()
	deadline := start.Add(maxWait)
	for {
		busy, err := d.anyBusy()
		if err != nil {
			return time.Since(start), fmt.Errorf("busy check on %s: %w", d.profile.Name, err)
		}
		if !busy {
			if err := sleepCtx(ctx, d.opts.SettleDelay); err != nil {
				return time.Since(start), err
			}
			elapsed := time.Since(start)
			logging.ChatDebug("Generation on %s complete after %s", d.profile.Name, elapsed.Round(time.Millisecond))
			return elapsed, nil
		}
		if time.Now().After(deadline) {
			shot := d.debugShot(ctx, d.page, d.profile.Name+"_timeout")
			return time.Since(start), fmt.Errorf("response on %s not complete after %s (screenshot: %s)", d.profile.Name, maxWait, shot)
		}
		if err := sleepCtx(ctx, d.opts.PollInterval); err != nil {
			return time.Since(start), err
		}
	}
}

// Response scrapes the newest reply. Selectors are tried in priority order;
// within one selector the last match is the newest message. Short or hidden
// matches fall through to the next selector.
func (d *Driver) Response(ctx context.Context) (string, error) {
	if d.page == nil {
		return "", fmt.Errorf("driver for %s not open", d.profile.Name)
	}

	page := d.page.Context(ctx)
	for _, selector := range d.profile.ResponseSelectors {
		els, err := page.Elements(selector)
		if err != nil || len(els) == 0 {
			continue
		}
		last := els.Last()
		if visible, err := last.Visible(); err != nil || !visible {
			continue
		}
		html, err := last.HTML()
		if err != nil {
			logging.ChatDebug("HTML read via %q failed: %v", selector, err)
			continue
		}
		text := strings.TrimSpace(ExtractText(html))
		if len(text) <= d.opts.MinResponseLen {
			logging.ChatDebug("Selector %q matched but text too short (%d chars)", selector, len(text))
			continue
		}
		logging.Chat("Response via %q: %d chars", selector, len(text))
		return text, nil
	}

	shot := d.debugShot(ctx, d.page, d.profile.Name+"_no_response")
	logging.Audit().Log(logging.AuditEvent{
		EventType: logging.AuditChatError,
		Category:  string(logging.CategoryChat),
		Target:    d.profile.Name,
		Error:     ErrNoResponse.Error(),
	})
	return "", fmt.Errorf("%w on %s (screenshot: %s)", ErrNoResponse, d.profile.Name, shot)
}

// Ask runs the full exchange: open, send, wait, scrape. The login session is
// saved back on success so refreshed cookies survive for the next run.
func (d *Driver) Ask(ctx context.Context, prompt string) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryChat, "ask_"+d.profile.Name)
	start := time.Now()

	if err := d.Open(ctx); err != nil {
		return nil, err
	}
	if err := d.Send(ctx, prompt); err != nil {
		return nil, err
	}
	if _, err := d.WaitComplete(ctx, 0); err != nil {
		return nil, err
	}
	text, err := d.Response(ctx)
	if err != nil {
		return nil, err
	}
	timer.Stop()

	if _, err := d.mgr.Cookies().SaveCookies(ctx, d.page, d.profile.Domain); err != nil {
		logging.ChatWarn("Session save-back for %s failed: %v", d.profile.Domain, err)
	}

	logging.Audit().Log(logging.AuditEvent{
		EventType:  logging.AuditChatReceive,
		Category:   string(logging.CategoryChat),
		Target:     d.profile.Name,
		Success:    true,
		DurationMs: time.Since(start).Milliseconds(),
		Fields:     map[string]interface{}{"chars": len(text)},
	})
	return &Result{Text: text, Site: d.profile.Name, Elapsed: time.Since(start)}, nil
}

// Close releases the driver's page. The browser stays up.
func (d *Driver) Close() error {
	if d.page == nil {
		return nil
	}
	err := d.page.Close()
	d.page = nil
	return err
}

// findFirst walks a selector fallback chain and returns the first visible
// match along with the selector that won.
func (d *Driver) findFirst(ctx context.Context, selectors []string) (*rod.Element, string, error) {
	for _, selector := range selectors {
		el, err := d.page.Context(ctx).Timeout(selectorWait).Element(selector)
		if err != nil {
			continue
		}
		if visible, err := el.Visible(); err != nil || !visible {
			continue
		}
		return el, selector, nil
	}
	return nil, "", fmt.Errorf("no selector matched a visible element (tried %d)", len(selectors))
}

// anyBusy reports whether any busy indicator is currently visible. Hidden
// indicators (display:none placeholders) do not count.
func (d *Driver) anyBusy() (bool, error) {
	for _, selector := range d.profile.BusySelectors {
		has, el, err := d.page.Has(selector)
		if err != nil {
			return false, err
		}
		if !has || el == nil {
			continue
		}
		if visible, err := el.Visible(); err == nil && visible {
			return true, nil
		}
	}
	return false, nil
}

// debugShot captures a screenshot for a failure path. Best effort: returns
// "unavailable" when capture itself fails.
func (d *Driver) debugShot(ctx context.Context, page *rod.Page, label string) string {
	path, err := d.mgr.Screenshot(ctx, page, label)
	if err != nil {
		logging.ChatDebug("Debug screenshot failed: %v", err)
		return "unavailable"
	}
	return path
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
