package chat

import (
	"strings"
	"testing"

	"drover/internal/config"
)

func TestBuiltinProfiles(t *testing.T) {
	for _, name := range []string{"gemini", "deepseek"} {
		p, ok := Builtin(name)
		if !ok {
			t.Fatalf("built-in %q missing", name)
		}
		if p.URL == "" || len(p.InputSelectors) == 0 || len(p.ResponseSelectors) == 0 {
			t.Errorf("built-in %q is incomplete: %+v", name, p)
		}
	}

	// Case-insensitive lookup.
	if _, ok := Builtin("Gemini"); !ok {
		t.Error("Builtin should be case-insensitive")
	}
	if _, ok := Builtin("chatgpt"); ok {
		t.Error("unknown site should not resolve")
	}
}

func TestGeminiSelectorOrder(t *testing.T) {
	p, _ := Builtin("gemini")

	// The most specific response selector must be tried first; the order is
	// the scraping priority.
	want := []string{".model-response-text", ".markdown", ".response-container", "message-content"}
	if len(p.ResponseSelectors) != len(want) {
		t.Fatalf("response selectors = %v", p.ResponseSelectors)
	}
	for i, sel := range want {
		if p.ResponseSelectors[i] != sel {
			t.Errorf("response selector[%d] = %q, want %q", i, p.ResponseSelectors[i], sel)
		}
	}
	if p.BusySelectors[0] != `[data-test-id='generation-in-progress']` {
		t.Errorf("primary busy selector = %q", p.BusySelectors[0])
	}
}

func TestResolveDefaults(t *testing.T) {
	p, err := Resolve("gemini", nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.Domain != "gemini.google.com" {
		t.Errorf("domain = %q", p.Domain)
	}
	if p.LoggedInSelector != p.InputSelectors[0] {
		t.Errorf("LoggedInSelector should default to the first input selector, got %q", p.LoggedInSelector)
	}
}

func TestResolveConfigOverride(t *testing.T) {
	sites := map[string]config.SiteConfig{
		"gemini": {
			URL:               "https://gemini.example.test/app",
			ResponseSelectors: []string{".custom-response"},
		},
	}

	p, err := Resolve("gemini", sites)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.URL != "https://gemini.example.test/app" {
		t.Errorf("URL override not applied: %q", p.URL)
	}
	if p.Domain != "gemini.example.test" {
		t.Errorf("domain should re-derive from the overridden URL, got %q", p.Domain)
	}
	if len(p.ResponseSelectors) != 1 || p.ResponseSelectors[0] != ".custom-response" {
		t.Errorf("response selectors override not applied: %v", p.ResponseSelectors)
	}
	// Untouched chains keep their built-in values.
	if len(p.InputSelectors) == 0 {
		t.Error("input selectors should survive a partial override")
	}
}

func TestResolveCustomSite(t *testing.T) {
	sites := map[string]config.SiteConfig{
		"localchat": {
			URL:            "http://127.0.0.1:8080",
			InputSelectors: []string{"#box"},
		},
	}

	p, err := Resolve("localchat", sites)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.Domain != "127.0.0.1" {
		t.Errorf("domain = %q, want 127.0.0.1 (port stripped)", p.Domain)
	}
	if p.LoggedInSelector != "#box" {
		t.Errorf("LoggedInSelector = %q", p.LoggedInSelector)
	}
}

func TestResolveUnknownSite(t *testing.T) {
	_, err := Resolve("chatgpt", nil)
	if err == nil {
		t.Fatal("unknown site should error")
	}
	if !strings.Contains(err.Error(), "gemini") {
		t.Errorf("error should name the built-in sites: %v", err)
	}
}
