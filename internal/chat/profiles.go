// Package chat drives web AI chat UIs through the managed browser: site
// selector profiles, prompt submission, completion polling, and response
// scraping. Sites differ only in their profile; the driver logic is shared.
package chat

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"drover/internal/config"
)

// SiteProfile describes how to drive one chat site. Selector slices are
// fallback chains, tried strictly in order until one matches.
type SiteProfile struct {
	Name string
	URL  string
	// Domain scopes cookie sessions. Derived from URL when empty.
	Domain            string
	InputSelectors    []string
	BusySelectors     []string
	ResponseSelectors []string
	// LoggedInSelector must match when the user is authenticated. Empty
	// falls back to the first input selector.
	LoggedInSelector string
	LoginURLHint     string
}

// builtins are the site profiles shipped with drover. Selector chains are
// ordered most-specific first; UIs ship markup changes often, so the tail
// entries are deliberately loose.
var builtins = map[string]SiteProfile{
	"gemini": {
		Name:   "gemini",
		URL:    "https://gemini.google.com/app",
		Domain: "gemini.google.com",
		InputSelectors: []string{
			`rich-textarea div[contenteditable='true']`,
			`div.ql-editor[contenteditable='true']`,
			`div[contenteditable='true']`,
		},
		BusySelectors: []string{
			`[data-test-id='generation-in-progress']`,
			`.streaming-indicator`,
		},
		ResponseSelectors: []string{
			`.model-response-text`,
			`.markdown`,
			`.response-container`,
			`message-content`,
		},
		LoginURLHint: "https://accounts.google.com",
	},
	"deepseek": {
		Name:   "deepseek",
		URL:    "https://chat.deepseek.com",
		Domain: "chat.deepseek.com",
		InputSelectors: []string{
			`textarea#chat-input`,
			`textarea[placeholder]`,
		},
		BusySelectors: []string{
			`[class*='stop-generating']`,
			`.ds-loading`,
		},
		ResponseSelectors: []string{
			`.ds-markdown`,
			`.markdown-body`,
			`[class*='message-content']`,
		},
		LoginURLHint: "https://chat.deepseek.com/sign_in",
	},
}

// Builtin returns a shipped profile by name (case-insensitive).
func Builtin(name string) (SiteProfile, bool) {
	p, ok := builtins[strings.ToLower(name)]
	return p, ok
}

// Sites lists the built-in profile names, sorted.
func Sites() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve produces the profile for a site name, starting from the built-in
// (when one exists) and layering any config override on top. A name with
// neither a built-in nor a config entry is an error naming the known sites.
func Resolve(name string, sites map[string]config.SiteConfig) (SiteProfile, error) {
	profile, known := Builtin(name)
	override, configured := sites[name]
	if !known && !configured {
		return SiteProfile{}, fmt.Errorf("unknown chat site %q (built-in: %s)", name, strings.Join(Sites(), ", "))
	}
	if !known {
		profile = SiteProfile{Name: strings.ToLower(name)}
	}

	if configured {
		if override.URL != "" {
			profile.URL = override.URL
			profile.Domain = "" // re-derive below
		}
		if len(override.InputSelectors) > 0 {
			profile.InputSelectors = override.InputSelectors
		}
		if len(override.BusySelectors) > 0 {
			profile.BusySelectors = override.BusySelectors
		}
		if len(override.ResponseSelectors) > 0 {
			profile.ResponseSelectors = override.ResponseSelectors
		}
	}

	if profile.URL == "" {
		return SiteProfile{}, fmt.Errorf("chat site %q has no URL", name)
	}
	if len(profile.InputSelectors) == 0 {
		return SiteProfile{}, fmt.Errorf("chat site %q has no input selectors", name)
	}
	if profile.Domain == "" {
		profile.Domain = domainOf(profile.URL)
	}
	if profile.LoggedInSelector == "" {
		profile.LoggedInSelector = profile.InputSelectors[0]
	}
	return profile, nil
}

// domainOf extracts the host from a URL, dropping any port.
func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Hostname()
}
