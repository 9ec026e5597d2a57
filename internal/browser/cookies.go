package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"drover/internal/logging"
)

// ErrNoSession is returned when no saved session exists for a domain.
var ErrNoSession = errors.New("no saved session")

// CookieStore persists login cookies per site in one JSON file. Keys are
// derived from the domain (site_gemini_google_com), so sessions for
// different sites coexist in the same store.
type CookieStore struct {
	path string
	mu   sync.Mutex
}

// sessionRecord is one saved login session.
type sessionRecord struct {
	Cookies   []*proto.NetworkCookie `json:"cookies"`
	Timestamp string                 `json:"timestamp"`
	Domain    string                 `json:"domain"`
}

// SessionInfo describes one saved session for listing.
type SessionInfo struct {
	Key     string
	Domain  string
	Cookies int
	SavedAt time.Time
}

// NewCookieStore creates a store backed by the given JSON file. The file is
// created on first save.
func NewCookieStore(path string) *CookieStore {
	return &CookieStore{path: path}
}

// Cookies returns the manager's cookie store.
func (m *Manager) Cookies() *CookieStore {
	return m.cookies
}

// sessionKey maps a domain to its storage key: dots become underscores so
// the key survives tools that split on dots.
func sessionKey(domain string) string {
	return "site_" + strings.ReplaceAll(domain, ".", "_")
}

// domainMatches reports whether a cookie scoped to cookieDomain belongs to
// the site at domain. A leading dot on the cookie domain is ignored; either
// side may be the parent of the other (.google.com cookies belong to
// gemini.google.com and vice versa).
func domainMatches(cookieDomain, domain string) bool {
	cd := strings.TrimPrefix(cookieDomain, ".")
	return strings.HasSuffix(domain, cd) || strings.HasSuffix(cd, domain)
}

// SaveCookies captures the page's cookies for the given domain and persists
// them. Capturing zero cookies is an error: it means nothing is logged in,
// and saving an empty session would silently clobber a working one.
func (s *CookieStore) SaveCookies(ctx context.Context, page *rod.Page, domain string) (int, error) {
	cookies, err := page.Context(ctx).Cookies(nil)
	if err != nil {
		logging.Audit().CookieOp(logging.AuditCookieSave, domain, 0, false, err.Error())
		return 0, fmt.Errorf("read cookies: %w", err)
	}

	var kept []*proto.NetworkCookie
	for _, c := range cookies {
		if domainMatches(c.Domain, domain) {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		logging.BrowserWarn("No cookies captured for %s, session not saved", domain)
		logging.Audit().CookieOp(logging.AuditCookieSave, domain, 0, false, "no cookies captured")
		return 0, fmt.Errorf("no cookies captured for %s (not logged in?)", domain)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.load()
	records[sessionKey(domain)] = sessionRecord{
		Cookies:   kept,
		Timestamp: time.Now().Format(time.RFC3339),
		Domain:    domain,
	}
	if err := s.persist(records); err != nil {
		logging.Audit().CookieOp(logging.AuditCookieSave, domain, len(kept), false, err.Error())
		return 0, err
	}

	logging.Browser("Saved %d cookies for %s", len(kept), domain)
	logging.Audit().CookieOp(logging.AuditCookieSave, domain, len(kept), true, "")
	return len(kept), nil
}

// RestoreCookies loads the saved session for domain into the page. Expired
// cookies are dropped; session cookies (no expiry) are always restored. The
// caller should reload or navigate afterwards so the site sees them.
func (s *CookieStore) RestoreCookies(ctx context.Context, page *rod.Page, domain string) (int, error) {
	s.mu.Lock()
	rec, ok := s.load()[sessionKey(domain)]
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w for %s", ErrNoSession, domain)
	}

	params, dropped := liveCookieParams(rec.Cookies, time.Now())
	if len(params) == 0 {
		return 0, fmt.Errorf("%w for %s: all %d saved cookies expired", ErrNoSession, domain, dropped)
	}

	if err := page.Context(ctx).SetCookies(params); err != nil {
		logging.Audit().CookieOp(logging.AuditCookieRestore, domain, 0, false, err.Error())
		return 0, fmt.Errorf("set cookies: %w", err)
	}

	if dropped > 0 {
		logging.BrowserDebug("Dropped %d expired cookies for %s", dropped, domain)
	}
	logging.Browser("Restored %d cookies for %s (saved %s)", len(params), domain, rec.Timestamp)
	logging.Audit().CookieOp(logging.AuditCookieRestore, domain, len(params), true, "")
	return len(params), nil
}

// liveCookieParams converts saved cookies to set-cookie params, dropping
// everything already expired at now. Expires <= 0 marks a session cookie,
// which never expires on disk.
func liveCookieParams(cookies []*proto.NetworkCookie, now time.Time) ([]*proto.NetworkCookieParam, int) {
	cutoff := proto.TimeSinceEpoch(float64(now.Unix()))
	var params []*proto.NetworkCookieParam
	dropped := 0
	for _, c := range cookies {
		if c.Expires > 0 && c.Expires < cutoff {
			dropped++
			continue
		}
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: c.SameSite,
		}
		if c.Expires > 0 {
			p.Expires = c.Expires
		}
		params = append(params, p)
	}
	return params, dropped
}

// ListSessions returns all saved sessions, sorted by domain.
func (s *CookieStore) ListSessions() []SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.load()
	infos := make([]SessionInfo, 0, len(records))
	for key, rec := range records {
		info := SessionInfo{Key: key, Domain: rec.Domain, Cookies: len(rec.Cookies)}
		if t, err := time.Parse(time.RFC3339, rec.Timestamp); err == nil {
			info.SavedAt = t
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Domain < infos[j].Domain })
	return infos
}

// DeleteSession removes the saved session for a domain.
func (s *CookieStore) DeleteSession(domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.load()
	key := sessionKey(domain)
	if _, ok := records[key]; !ok {
		return fmt.Errorf("%w for %s", ErrNoSession, domain)
	}
	delete(records, key)
	if err := s.persist(records); err != nil {
		return err
	}
	logging.Browser("Deleted session for %s", domain)
	return nil
}

// load reads the store file. A missing or corrupt file yields an empty map,
// so a damaged store degrades to "log in again" instead of blocking.
func (s *CookieStore) load() map[string]sessionRecord {
	records := make(map[string]sessionRecord)
	data, err := os.ReadFile(s.path)
	if err != nil {
		return records
	}
	if err := json.Unmarshal(data, &records); err != nil {
		logging.BrowserWarn("Cookie store %s is corrupt, starting fresh: %v", s.path, err)
		return make(map[string]sessionRecord)
	}
	return records
}

func (s *CookieStore) persist(records map[string]sessionRecord) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("write sessions: %w", err)
	}
	return nil
}
