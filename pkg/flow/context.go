package flow

import (
	"strconv"
	"strings"
	"sync"

	"github.com/tplscan/tplscan/pkg/session"
	"github.com/tplscan/tplscan/pkg/target"
)

// Context is the mutable state shared by the steps of one flow run.
type Context struct {
	Target  target.Target
	Scan    target.Context
	Session *session.Manager

	mu   sync.RWMutex
	vars map[string]string
}

// NewContext builds a flow context seeded with the scan variables.
func NewContext(tgt target.Target, scan target.Context, sess *session.Manager) *Context {
	vars := make(map[string]string, len(scan.Variables))
	for k, v := range scan.Variables {
		vars[k] = v
	}
	if sess == nil {
		sess = session.NewManager()
	}
	return &Context{Target: tgt, Scan: scan, Session: sess, vars: vars}
}

// SetVariable stores a flow variable.
func (c *Context) SetVariable(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vars[name] = value
}

// Variable reads a flow variable.
func (c *Context) Variable(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vars[name]
	return v, ok
}

// ReplaceVariables substitutes {{name}} placeholders with flow
// variables and the built-ins Hostname, Port, and BaseURL. Unresolved
// placeholders are left verbatim so a missed substitution is visible
// in the request.
func (c *Context) ReplaceVariables(s string) string {
	if !strings.Contains(s, "{{") {
		return s
	}

	c.mu.RLock()
	for k, v := range c.vars {
		s = strings.ReplaceAll(s, "{{"+k+"}}", v)
	}
	c.mu.RUnlock()

	s = strings.ReplaceAll(s, "{{Hostname}}", c.Target.Address)
	s = strings.ReplaceAll(s, "{{Port}}", strconv.Itoa(c.Target.Port))
	s = strings.ReplaceAll(s, "{{BaseURL}}", c.Target.URL())
	return s
}
