package browser

import (
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/stealth"
)

// fingerprintOverrides runs at document start on every navigation, after the
// stealth bundle. It covers the probes the chat frontends are known to make
// that the bundle leaves visible: navigator.webdriver must read false (not
// undefined), chrome.runtime must exist, the notification permission query
// must not throw, and plugins/languages must be non-empty.
const fingerprintOverrides = `(() => {
	Object.defineProperty(navigator, 'webdriver', { get: () => false });
	window.navigator.chrome = { runtime: {} };
	const originalQuery = window.navigator.permissions.query.bind(window.navigator.permissions);
	window.navigator.permissions.query = (parameters) =>
		parameters.name === 'notifications'
			? Promise.resolve({ state: Notification.permission })
			: originalQuery(parameters);
	Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
	Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
})();`

// applyStealth injects the evasion scripts into a page before its first
// navigation. Both scripts re-run on every subsequent document, so a page
// that later navigates across origins keeps the same fingerprint.
func applyStealth(page *rod.Page) error {
	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		return fmt.Errorf("inject stealth bundle: %w", err)
	}
	if _, err := page.EvalOnNewDocument(fingerprintOverrides); err != nil {
		return fmt.Errorf("inject fingerprint overrides: %w", err)
	}
	return nil
}
