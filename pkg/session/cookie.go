package session

import (
	"strings"
	"time"
)

// SameSite is the cookie SameSite attribute value, lowercased.
type SameSite string

const (
	SameSiteStrict SameSite = "strict"
	SameSiteLax    SameSite = "lax"
	SameSiteNone   SameSite = "none"
)

// Cookie is a stored session cookie.
type Cookie struct {
	Name     string     `json:"name"`
	Value    string     `json:"value"`
	Domain   string     `json:"domain,omitempty"`
	Path     string     `json:"path,omitempty"`
	Secure   bool       `json:"secure"`
	HttpOnly bool       `json:"http_only"`
	SameSite SameSite   `json:"same_site,omitempty"`
	Expires  *time.Time `json:"expires,omitempty"`
}

// Expired reports whether the cookie has an Expires in the past.
func (c Cookie) Expired() bool {
	return c.Expires != nil && time.Now().After(*c.Expires)
}

// ParseSetCookie parses a Set-Cookie header value leniently: the
// first ';'-separated token must be name=value, attribute tokens are
// recognized case-insensitively, unknown attributes are ignored.
// Returns nil for headers with no usable name=value pair.
func ParseSetCookie(header string) *Cookie {
	parts := strings.Split(header, ";")
	name, value, ok := strings.Cut(strings.TrimSpace(parts[0]), "=")
	if !ok || name == "" {
		return nil
	}
	c := &Cookie{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)}

	for _, attr := range parts[1:] {
		attr = strings.TrimSpace(attr)
		key, val, _ := strings.Cut(attr, "=")
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "secure":
			c.Secure = true
		case "httponly":
			c.HttpOnly = true
		case "samesite":
			c.SameSite = SameSite(strings.ToLower(strings.TrimSpace(val)))
		case "path":
			c.Path = strings.TrimSpace(val)
		case "domain":
			c.Domain = strings.TrimSpace(val)
		case "expires":
			if t, err := time.Parse(time.RFC1123, strings.TrimSpace(val)); err == nil {
				c.Expires = &t
			}
		case "max-age":
			if d, err := time.ParseDuration(strings.TrimSpace(val) + "s"); err == nil {
				t := time.Now().Add(d)
				c.Expires = &t
			}
		}
	}
	return c
}

// sessionCookieNames are names that mark a cookie as carrying a
// session identifier, matched case-insensitively.
var sessionCookieNames = map[string]struct{}{
	"sessionid":         {},
	"session_id":        {},
	"sess":              {},
	"jsessionid":        {},
	"phpsessid":         {},
	"asp.net_sessionid": {},
	"aspsessionid":      {},
}

// IsSessionCookie reports whether the cookie name marks a session
// identifier.
func (c Cookie) IsSessionCookie() bool {
	_, ok := sessionCookieNames[strings.ToLower(c.Name)]
	return ok
}

// CookieIssue is one weakness in a cookie's configuration.
type CookieIssue struct {
	Kind        string `json:"kind"`
	CookieName  string `json:"cookie_name"`
	Description string `json:"description"`
}

// AnalyzeSecurity inspects the cookie for weak attributes. The https
// flag says whether the cookie was observed over TLS, which makes a
// missing Secure attribute relevant.
func (c Cookie) AnalyzeSecurity(https bool) []CookieIssue {
	var issues []CookieIssue

	if https && !c.Secure {
		issues = append(issues, CookieIssue{
			Kind:        "missing-secure",
			CookieName:  c.Name,
			Description: "cookie set over https without the Secure attribute",
		})
	}
	if c.IsSessionCookie() {
		if !c.HttpOnly {
			issues = append(issues, CookieIssue{
				Kind:        "missing-httponly",
				CookieName:  c.Name,
				Description: "session cookie readable from script",
			})
		}
		if weakSessionID(c.Value) {
			issues = append(issues, CookieIssue{
				Kind:        "weak-session-id",
				CookieName:  c.Name,
				Description: "session identifier is short, numeric, or low-entropy",
			})
		}
	}
	if c.SameSite == "" {
		issues = append(issues, CookieIssue{
			Kind:        "missing-samesite",
			CookieName:  c.Name,
			Description: "cookie has no SameSite attribute",
		})
	}
	return issues
}

// weakSessionID flags identifiers that are too short, all numeric, or
// built from too few distinct characters (unique ratio under 50%).
func weakSessionID(v string) bool {
	if len(v) < 16 {
		return true
	}
	allDigits := true
	unique := make(map[rune]struct{}, len(v))
	for _, r := range v {
		unique[r] = struct{}{}
		if r < '0' || r > '9' {
			allDigits = false
		}
	}
	if allDigits {
		return true
	}
	return len(unique)*100/len([]rune(v)) < 50
}
