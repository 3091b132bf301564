// Package matcher evaluates declarative match rules against captured
// responses. Matchers are authored in template YAML; evaluation
// errors indicate authoring mistakes (bad regex, bad hex) and fail
// the template rather than being silently ignored.
package matcher

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tplscan/tplscan/pkg/regexcache"
)

// Type discriminates matcher variants.
type Type string

const (
	TypeStatus Type = "status"
	TypeWord   Type = "word"
	TypeRegex  Type = "regex"
	TypeBinary Type = "binary"
	TypeTime   Type = "time"
	TypeSize   Type = "size"
	TypeHash   Type = "hash"
	TypeTLS    Type = "tls"
	TypeDNS    Type = "dns"
	TypeDiff   Type = "diff"
	TypeCustom Type = "custom"
)

// Condition combines multiple values within one matcher (and/or for
// word and regex lists) or selects a comparison (greater/less/equal
// for time and size).
type Condition string

const (
	ConditionAnd     Condition = "and"
	ConditionOr      Condition = "or"
	ConditionGreater Condition = "greater"
	ConditionLess    Condition = "less"
	ConditionEqual   Condition = "equal"
)

// Part selects which view of the response word matchers inspect.
type Part string

const (
	PartBody   Part = "body"
	PartHeader Part = "header"
	PartAll    Part = "all"
)

// DefaultDiffThreshold is the difference percentage at which a diff
// matcher fires when the template does not set one.
const DefaultDiffThreshold = 10

// ErrCustomMatcher is returned for custom matchers; their execution
// is delegated to the embedding application, never interpreted here.
var ErrCustomMatcher = errors.New("custom matcher execution is delegated")

// Matcher is one declarative rule. Only the fields relevant to Type
// are consulted.
type Matcher struct {
	Type      Type      `yaml:"type"`
	Condition Condition `yaml:"condition,omitempty"`

	// status
	Status []int `yaml:"status,omitempty"`

	// word
	Words []string `yaml:"words,omitempty"`
	Part  Part     `yaml:"part,omitempty"`

	// regex: a non-zero Group requires that capture group to
	// participate in the match
	Regex []string `yaml:"regex,omitempty"`
	Group int      `yaml:"group,omitempty"`

	// binary: hex-encoded byte patterns, optional 0x prefix
	Binary []string `yaml:"binary,omitempty"`

	// time: response latency threshold
	DurationMS int64 `yaml:"duration_ms,omitempty"`

	// size: body length threshold
	Size int `yaml:"size,omitempty"`

	// hash: expected digest of the body
	Algorithm string `yaml:"algorithm,omitempty"`
	Hash      string `yaml:"hash,omitempty"`

	// diff: baseline comparison
	Baseline  string `yaml:"baseline,omitempty"`
	Threshold int    `yaml:"threshold,omitempty"`

	// tls: version markers and vulnerability names looked for in
	// captured headers
	Versions        []string `yaml:"versions,omitempty"`
	Vulnerabilities []string `yaml:"vulnerabilities,omitempty"`

	// dns: record type, pattern, and value looked for in the body
	RecordType string `yaml:"record_type,omitempty"`
	Pattern    string `yaml:"pattern,omitempty"`
	Value      string `yaml:"value,omitempty"`

	// custom
	Name string `yaml:"name,omitempty"`
}

// Evaluate runs the matcher against a response. tls and dns matchers
// cannot be fully judged from a captured response: they warn and fall
// back to best-effort inspection of the captured headers and body.
// Custom matchers return ErrCustomMatcher.
func (m *Matcher) Evaluate(resp *Response) (bool, error) {
	switch m.Type {
	case TypeStatus:
		return m.matchStatus(resp), nil
	case TypeWord:
		return m.matchWords(resp), nil
	case TypeRegex:
		return m.matchRegex(resp)
	case TypeBinary:
		return m.matchBinary(resp)
	case TypeTime:
		return m.matchTime(resp)
	case TypeSize:
		return m.matchSize(resp)
	case TypeHash:
		return m.matchHash(resp)
	case TypeDiff:
		return m.matchDiff(resp), nil
	case TypeTLS:
		slog.Warn("tls matcher lacks connection metadata, inspecting captured headers only")
		return m.matchTLS(resp), nil
	case TypeDNS:
		slog.Warn("dns matcher lacks a dns handler, inspecting captured body only")
		return m.matchDNS(resp), nil
	case TypeCustom:
		return false, fmt.Errorf("matcher %q: %w", m.Name, ErrCustomMatcher)
	default:
		return false, fmt.Errorf("unknown matcher type %q", m.Type)
	}
}

func (m *Matcher) matchStatus(resp *Response) bool {
	for _, code := range m.Status {
		if resp.StatusCode == code {
			return true
		}
	}
	return false
}

func (m *Matcher) part(resp *Response) string {
	switch m.Part {
	case PartHeader:
		return resp.HeaderString()
	case PartAll:
		return resp.AllString()
	default:
		return resp.BodyString()
	}
}

func (m *Matcher) matchWords(resp *Response) bool {
	if len(m.Words) == 0 {
		return false
	}
	content := m.part(resp)
	if m.Condition == ConditionOr {
		for _, w := range m.Words {
			if strings.Contains(content, w) {
				return true
			}
		}
		return false
	}
	for _, w := range m.Words {
		if !strings.Contains(content, w) {
			return false
		}
	}
	return true
}

// matchRegex tries patterns in order and succeeds on the first match;
// an explicit condition "and" requires every pattern instead. A
// non-zero Group additionally requires that capture group to have
// participated in the match.
func (m *Matcher) matchRegex(resp *Response) (bool, error) {
	if len(m.Regex) == 0 {
		return false, nil
	}
	content := m.part(resp)
	for _, pattern := range m.Regex {
		re, err := regexcache.Get(pattern)
		if err != nil {
			return false, fmt.Errorf("invalid regex %q: %w", pattern, err)
		}
		idx := re.FindStringSubmatchIndex(content)
		matched := idx != nil
		if matched && m.Group > 0 {
			matched = 2*m.Group+1 < len(idx) && idx[2*m.Group] >= 0
		}
		if m.Condition == ConditionAnd {
			if !matched {
				return false, nil
			}
		} else if matched {
			return true, nil
		}
	}
	return m.Condition == ConditionAnd, nil
}

// matchBinary succeeds on the first byte pattern found in the body;
// an explicit condition "and" requires every pattern.
func (m *Matcher) matchBinary(resp *Response) (bool, error) {
	if len(m.Binary) == 0 {
		return false, nil
	}
	for _, pattern := range m.Binary {
		raw, err := hex.DecodeString(strings.TrimPrefix(pattern, "0x"))
		if err != nil {
			return false, fmt.Errorf("invalid hex pattern %q: %w", pattern, err)
		}
		found := bytes.Contains(resp.Body, raw)
		if m.Condition == ConditionAnd {
			if !found {
				return false, nil
			}
		} else if found {
			return true, nil
		}
	}
	return m.Condition == ConditionAnd, nil
}

func (m *Matcher) matchTime(resp *Response) (bool, error) {
	threshold := time.Duration(m.DurationMS) * time.Millisecond
	switch m.Condition {
	case ConditionGreater:
		return resp.Elapsed > threshold, nil
	case ConditionLess:
		return resp.Elapsed < threshold, nil
	default:
		return false, fmt.Errorf("time matcher requires condition greater or less, got %q", m.Condition)
	}
}

func (m *Matcher) matchSize(resp *Response) (bool, error) {
	n := len(resp.Body)
	switch m.Condition {
	case ConditionGreater:
		return n > m.Size, nil
	case ConditionLess:
		return n < m.Size, nil
	case ConditionEqual, "":
		return n == m.Size, nil
	default:
		return false, fmt.Errorf("size matcher: unsupported condition %q", m.Condition)
	}
}

func (m *Matcher) matchHash(resp *Response) (bool, error) {
	switch strings.ToLower(m.Algorithm) {
	case "", "sha256", "sha-256":
	default:
		return false, fmt.Errorf("unsupported hash algorithm %q", m.Algorithm)
	}
	sum := sha256.Sum256(resp.Body)
	return strings.EqualFold(hex.EncodeToString(sum[:]), m.Hash), nil
}

// matchTLS looks for version markers and vulnerability indicators in
// the captured headers; some servers expose them there.
func (m *Matcher) matchTLS(resp *Response) bool {
	headers := strings.ToLower(resp.HeaderString())
	for _, v := range m.Versions {
		if strings.Contains(headers, "tls "+strings.ToLower(v)) {
			return true
		}
	}
	for _, vuln := range m.Vulnerabilities {
		if strings.EqualFold(vuln, "heartbleed") && strings.Contains(headers, "heartbeat") {
			return true
		}
	}
	return false
}

// matchDNS looks for the record type in the captured body, refined by
// the optional pattern and value checks. An unparseable pattern is
// skipped rather than failing the template.
func (m *Matcher) matchDNS(resp *Response) bool {
	body := resp.BodyString()
	matched := m.RecordType != "" && strings.Contains(body, m.RecordType)
	if m.Pattern != "" {
		if re, err := regexcache.Get(m.Pattern); err == nil {
			matched = matched && re.MatchString(body)
		}
	}
	if m.Value != "" {
		matched = matched && strings.Contains(body, m.Value)
	}
	return matched
}

func (m *Matcher) matchDiff(resp *Response) bool {
	threshold := m.Threshold
	if threshold <= 0 {
		threshold = DefaultDiffThreshold
	}
	sim := Similarity(m.Baseline, resp.BodyString())
	return 100-sim >= threshold
}

// Similarity computes positional character similarity between two
// strings as a 0..100 percentage. Two empty strings are identical;
// one empty string shares nothing with a non-empty one.
func Similarity(a, b string) int {
	if len(a) == 0 && len(b) == 0 {
		return 100
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}
	same := 0
	for i := 0; i < minLen; i++ {
		if a[i] == b[i] {
			same++
		}
	}
	return same * 100 / maxLen
}

// MatchAll combines a matcher list under the given condition. An
// empty list never matches: a template with no matchers must not
// fire. AND short-circuits on the first false, OR on the first true.
// Evaluation errors propagate immediately.
func MatchAll(matchers []Matcher, resp *Response, cond Condition) (bool, error) {
	if len(matchers) == 0 {
		return false, nil
	}
	if cond == ConditionOr {
		for i := range matchers {
			ok, err := matchers[i].Evaluate(resp)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	for i := range matchers {
		ok, err := matchers[i].Evaluate(resp)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
