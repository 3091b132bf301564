// Package jwt parses JSON Web Tokens leniently for inspection,
// analyzes their security posture, and forges attack variants for
// token-handling tests. Signature verification is out of scope: the
// point is to examine and mutate tokens, not to trust them.
package jwt

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tplscan/tplscan/pkg/finding"
)

// Header is the decoded JOSE header.
type Header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ,omitempty"`
	Kid string `json:"kid,omitempty"`
}

// Token is a parsed JWT. Header and Claims are nil when their
// segments do not decode; only the segment count is a hard error.
type Token struct {
	Raw    string
	Header *Header
	Claims map[string]any
}

// Parse splits and decodes a compact JWT. It errors only when the
// token does not have exactly three segments; undecodable header or
// claims segments are tolerated and left nil so malformed tokens can
// still be analyzed and mutated.
func Parse(raw string) (*Token, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("jwt: expected 3 segments, got %d", len(parts))
	}

	t := &Token{Raw: raw}

	if data, err := base64URLDecode(parts[0]); err == nil {
		var h Header
		if json.Unmarshal(data, &h) == nil {
			t.Header = &h
		}
	}
	if data, err := base64URLDecode(parts[1]); err == nil {
		var c map[string]any
		if json.Unmarshal(data, &c) == nil {
			t.Claims = c
		}
	}
	return t, nil
}

// segments returns the three raw segments of the token.
func (t *Token) segments() []string {
	return strings.Split(t.Raw, ".")
}

// Expired reports whether the exp claim is in the past. Tokens
// without a usable exp claim are not considered expired.
func (t *Token) Expired() bool {
	exp, ok := t.expiry()
	if !ok {
		return false
	}
	return time.Now().After(exp)
}

func (t *Token) expiry() (time.Time, bool) {
	if t.Claims == nil {
		return time.Time{}, false
	}
	v, ok := t.Claims["exp"]
	if !ok {
		return time.Time{}, false
	}
	switch n := v.(type) {
	case float64:
		return time.Unix(int64(n), 0), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return time.Unix(i, 0), true
	}
	return time.Time{}, false
}

// SecurityIssue is one weakness found in a token.
type SecurityIssue struct {
	Kind        string
	Description string
	Severity    finding.Severity
}

// AnalyzeSecurity inspects the token for known weak configurations.
func (t *Token) AnalyzeSecurity() []SecurityIssue {
	var issues []SecurityIssue

	if t.Header != nil {
		if strings.EqualFold(t.Header.Alg, "none") {
			issues = append(issues, SecurityIssue{
				Kind:        "none-algorithm",
				Description: "token uses the none algorithm and carries no signature",
				Severity:    finding.Critical,
			})
		}
		if strings.EqualFold(t.Header.Alg, "HS256") && t.Header.Kid != "" {
			issues = append(issues, SecurityIssue{
				Kind:        "key-confusion",
				Description: "HS256 with a kid header enables key confusion against RSA-verified backends",
				Severity:    finding.High,
			})
		}
	}

	if t.Claims != nil {
		if _, ok := t.Claims["exp"]; !ok {
			issues = append(issues, SecurityIssue{
				Kind:        "missing-expiry",
				Description: "token has no exp claim and never expires",
				Severity:    finding.Medium,
			})
		}
		if _, ok := t.Claims["iss"]; !ok {
			issues = append(issues, SecurityIssue{
				Kind:        "missing-issuer",
				Description: "token has no iss claim",
				Severity:    finding.Low,
			})
		}
	}

	return issues
}

func base64URLEncode(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

func base64URLDecode(s string) ([]byte, error) {
	if pad := len(s) % 4; pad != 0 {
		s += strings.Repeat("=", 4-pad)
	}
	return base64.URLEncoding.DecodeString(s)
}
