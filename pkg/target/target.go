// Package target models scan targets, their protocols, and the
// per-scan execution context.
package target

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Protocol identifies how a target is reached. The well-known set is
// enumerated below; any other non-empty value is treated as a custom
// protocol.
type Protocol string

const (
	HTTP  Protocol = "http"
	HTTPS Protocol = "https"
	TCP   Protocol = "tcp"
	UDP   Protocol = "udp"
	DNS   Protocol = "dns"
	SSH   Protocol = "ssh"
	FTP   Protocol = "ftp"
	SMTP  Protocol = "smtp"
	SMB   Protocol = "smb"
	RDP   Protocol = "rdp"
)

// Custom wraps an arbitrary protocol name.
func Custom(name string) Protocol {
	return Protocol(name)
}

// IsKnown reports whether p is one of the enumerated protocols.
func (p Protocol) IsKnown() bool {
	switch p {
	case HTTP, HTTPS, TCP, UDP, DNS, SSH, FTP, SMTP, SMB, RDP:
		return true
	}
	return false
}

// IsWeb reports whether p is carried over HTTP semantics.
func (p Protocol) IsWeb() bool {
	return p == HTTP || p == HTTPS
}

func (p Protocol) String() string {
	return string(p)
}

// Target is a single host under scan.
type Target struct {
	ID       uuid.UUID         `json:"id"`
	Address  string            `json:"address"`
	Port     int               `json:"port,omitempty"` // 0 means protocol default
	Protocol Protocol          `json:"protocol"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// New creates a target with a fresh ID and no explicit port.
func New(address string, proto Protocol) Target {
	return Target{
		ID:       uuid.New(),
		Address:  address,
		Protocol: proto,
		Metadata: make(map[string]string),
	}
}

// NewWithPort creates a target with an explicit port.
func NewWithPort(address string, port int, proto Protocol) Target {
	t := New(address, proto)
	t.Port = port
	return t
}

// Host returns address[:port].
func (t Target) Host() string {
	if t.Port > 0 {
		return fmt.Sprintf("%s:%d", t.Address, t.Port)
	}
	return t.Address
}

// URL renders the target as scheme://host[:port]. The default port
// for the scheme is omitted.
func (t Target) URL() string {
	scheme := t.Protocol
	if !scheme.IsWeb() {
		scheme = t.InferScheme()
	}
	if t.Port == 0 ||
		(scheme == HTTPS && t.Port == 443) ||
		(scheme == HTTP && t.Port == 80) {
		return fmt.Sprintf("%s://%s", scheme, t.Address)
	}
	return fmt.Sprintf("%s://%s:%d", scheme, t.Address, t.Port)
}

// InferScheme guesses the web scheme from the port. Well-known TLS
// ports map to https, well-known plaintext ports to http. Without a
// telling port the declared protocol wins, defaulting to https.
func (t Target) InferScheme() Protocol {
	switch t.Port {
	case 443, 8443:
		return HTTPS
	case 80, 8080, 8000:
		return HTTP
	}
	if t.Protocol.IsWeb() {
		return t.Protocol
	}
	return HTTPS
}

// SchemeVariants returns the ordered candidates for scheme fallback:
// the inferred scheme first, the alternate second. Non-web targets
// get a single variant.
func (t Target) SchemeVariants() []Target {
	if !t.Protocol.IsWeb() {
		return []Target{t}
	}
	first := t
	first.Protocol = t.InferScheme()
	second := first
	if first.Protocol == HTTPS {
		second.Protocol = HTTP
	} else {
		second.Protocol = HTTPS
	}
	return []Target{first, second}
}

// Context carries per-scan knobs. It is passed explicitly to every
// component that needs it; there is no process-wide scan state.
type Context struct {
	ScanID          uuid.UUID         `json:"scan_id"`
	AggressiveMode  bool              `json:"aggressive_mode"`
	StealthMode     bool              `json:"stealth_mode"`
	PassiveMode     bool              `json:"passive_mode"`
	SafeMode        bool              `json:"safe_mode"`
	MaxRetries      int               `json:"max_retries"`
	Timeout         time.Duration     `json:"timeout"`
	RateLimit       int               `json:"rate_limit"` // requests/sec, 0 = unlimited
	Variables       map[string]string `json:"variables,omitempty"`
	AdditionalPorts []int             `json:"additional_ports,omitempty"`
	OverridePorts   []int             `json:"override_ports,omitempty"`
}

// NewContext returns a scan context with conservative defaults.
func NewContext() Context {
	return Context{
		ScanID:     uuid.New(),
		MaxRetries: 1,
		Timeout:    30 * time.Second,
		Variables:  make(map[string]string),
	}
}
