// Package session tracks cookies, bearer tokens, and scan variables
// across requests. Cookie state is partitioned per domain with
// per-domain locking so a busy domain does not serialize the rest of
// the scan.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/tplscan/tplscan/pkg/jwt"
)

// DefaultTokenName is the token slot injected into outgoing requests.
const DefaultTokenName = "default"

type domainStore struct {
	mu      sync.Mutex
	cookies []Cookie
}

// Manager holds all cross-request scan state.
type Manager struct {
	mu      sync.RWMutex // guards the domains map itself
	domains map[string]*domainStore

	tokenMu sync.RWMutex
	tokens  map[string]*jwt.Token

	varMu sync.RWMutex
	vars  map[string]string
}

// NewManager returns an empty session manager.
func NewManager() *Manager {
	return &Manager{
		domains: make(map[string]*domainStore),
		tokens:  make(map[string]*jwt.Token),
		vars:    make(map[string]string),
	}
}

func (m *Manager) store(domain string) *domainStore {
	m.mu.RLock()
	ds, ok := m.domains[domain]
	m.mu.RUnlock()
	if ok {
		return ds
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ds, ok = m.domains[domain]; ok {
		return ds
	}
	ds = &domainStore{}
	m.domains[domain] = ds
	return ds
}

// StoreCookie saves a cookie for a domain, replacing any existing
// cookie with the same name.
func (m *Manager) StoreCookie(domain string, c Cookie) {
	ds := m.store(domain)
	ds.mu.Lock()
	defer ds.mu.Unlock()
	for i := range ds.cookies {
		if ds.cookies[i].Name == c.Name {
			ds.cookies[i] = c
			return
		}
	}
	ds.cookies = append(ds.cookies, c)
}

// IngestSetCookie parses a Set-Cookie header and stores the result.
// Malformed headers are ignored.
func (m *Manager) IngestSetCookie(domain, header string) {
	if c := ParseSetCookie(header); c != nil {
		m.StoreCookie(domain, *c)
	}
}

// Cookies returns the live (non-expired) cookies for a domain.
func (m *Manager) Cookies(domain string) []Cookie {
	m.mu.RLock()
	ds, ok := m.domains[domain]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	out := make([]Cookie, 0, len(ds.cookies))
	for _, c := range ds.cookies {
		if !c.Expired() {
			out = append(out, c)
		}
	}
	return out
}

// CookieHeader renders the live cookies for a domain as a Cookie
// header value. The second return is false when there is nothing to
// send.
func (m *Manager) CookieHeader(domain string) (string, bool) {
	cookies := m.Cookies(domain)
	if len(cookies) == 0 {
		return "", false
	}
	pairs := make([]string, len(cookies))
	for i, c := range cookies {
		pairs[i] = c.Name + "=" + c.Value
	}
	return strings.Join(pairs, "; "), true
}

// AnalyzeCookieSecurity runs the per-cookie analysis over every live
// cookie of a domain. https says whether the domain is reached over
// TLS.
func (m *Manager) AnalyzeCookieSecurity(domain string, https bool) []CookieIssue {
	var issues []CookieIssue
	for _, c := range m.Cookies(domain) {
		issues = append(issues, c.AnalyzeSecurity(https)...)
	}
	return issues
}

// SetToken parses and stores a JWT under a name. The token named
// DefaultTokenName is injected as Authorization on outgoing requests.
func (m *Manager) SetToken(name, raw string) error {
	tok, err := jwt.Parse(raw)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	m.tokenMu.Lock()
	defer m.tokenMu.Unlock()
	m.tokens[name] = tok
	return nil
}

// Token returns a stored token by name.
func (m *Manager) Token(name string) (*jwt.Token, bool) {
	m.tokenMu.RLock()
	defer m.tokenMu.RUnlock()
	tok, ok := m.tokens[name]
	return tok, ok
}

// AuthorizationHeader renders a stored token as a bearer header
// value.
func (m *Manager) AuthorizationHeader(name string) (string, bool) {
	tok, ok := m.Token(name)
	if !ok {
		return "", false
	}
	return "Bearer " + tok.Raw, true
}

// AnalyzeTokenSecurity runs the JWT analysis over every stored token,
// keyed by token name.
func (m *Manager) AnalyzeTokenSecurity() map[string][]jwt.SecurityIssue {
	m.tokenMu.RLock()
	defer m.tokenMu.RUnlock()
	out := make(map[string][]jwt.SecurityIssue, len(m.tokens))
	for name, tok := range m.tokens {
		out[name] = tok.AnalyzeSecurity()
	}
	return out
}

// SetVariable stores a scan variable.
func (m *Manager) SetVariable(name, value string) {
	m.varMu.Lock()
	defer m.varMu.Unlock()
	m.vars[name] = value
}

// Variable reads a scan variable.
func (m *Manager) Variable(name string) (string, bool) {
	m.varMu.RLock()
	defer m.varMu.RUnlock()
	v, ok := m.vars[name]
	return v, ok
}

// Clear drops all cookies, tokens, and variables.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.domains = make(map[string]*domainStore)
	m.mu.Unlock()

	m.tokenMu.Lock()
	m.tokens = make(map[string]*jwt.Token)
	m.tokenMu.Unlock()

	m.varMu.Lock()
	m.vars = make(map[string]string)
	m.varMu.Unlock()
}

// snapshot is the JSON persistence shape.
type snapshot struct {
	Cookies   map[string][]Cookie `json:"cookies"`
	Tokens    map[string]string   `json:"tokens"`
	Variables map[string]string   `json:"variables"`
}

// Save writes the session state to a JSON file.
func (m *Manager) Save(path string) error {
	snap := snapshot{
		Cookies:   make(map[string][]Cookie),
		Tokens:    make(map[string]string),
		Variables: make(map[string]string),
	}

	m.mu.RLock()
	for domain, ds := range m.domains {
		ds.mu.Lock()
		snap.Cookies[domain] = append([]Cookie(nil), ds.cookies...)
		ds.mu.Unlock()
	}
	m.mu.RUnlock()

	m.tokenMu.RLock()
	for name, tok := range m.tokens {
		snap.Tokens[name] = tok.Raw
	}
	m.tokenMu.RUnlock()

	m.varMu.RLock()
	for k, v := range m.vars {
		snap.Variables[k] = v
	}
	m.varMu.RUnlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Load replaces the session state from a JSON file written by Save.
// Tokens that no longer parse are dropped.
func (m *Manager) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("session: decode %s: %w", path, err)
	}

	m.Clear()
	for domain, cookies := range snap.Cookies {
		for _, c := range cookies {
			m.StoreCookie(domain, c)
		}
	}
	for name, raw := range snap.Tokens {
		_ = m.SetToken(name, raw)
	}
	for k, v := range snap.Variables {
		m.SetVariable(k, v)
	}
	return nil
}
