package matcher

import (
	"net/http"
	"sort"
	"strings"
	"time"
)

// Response is the protocol-neutral capture a matcher evaluates. HTTP
// responses fill every field; raw TCP/UDP exchanges synthesize one
// with status 200, no headers, and zero elapsed time so body-oriented
// matchers still apply.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Elapsed    time.Duration
}

// BodyString returns the body as text.
func (r *Response) BodyString() string {
	return string(r.Body)
}

// HeaderString renders headers as sorted "name: value" lines so word
// and regex matchers see a stable view.
func (r *Response) HeaderString() string {
	if len(r.Headers) == 0 {
		return ""
	}
	names := make([]string, 0, len(r.Headers))
	for name := range r.Headers {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		for _, v := range r.Headers[name] {
			b.WriteString(name)
			b.WriteString(": ")
			b.WriteString(v)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// AllString returns headers and body separated by a blank line.
func (r *Response) AllString() string {
	return r.HeaderString() + "\n\n" + r.BodyString()
}
