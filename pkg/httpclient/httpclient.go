// Package httpclient builds pooled net/http clients tuned for
// scanning workloads. The redirect policy is explicit: templates need
// to observe redirect responses unless a scan opts into following
// them.
package httpclient

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Config holds client construction options. Zero values get scanning
// defaults.
type Config struct {
	// Timeout is the total request timeout (default 30s).
	Timeout time.Duration

	// InsecureSkipVerify skips TLS certificate verification. Scan
	// targets frequently present self-signed certificates.
	InsecureSkipVerify bool

	// Proxy is an optional HTTP/HTTPS/SOCKS proxy URL.
	Proxy string

	// FollowRedirects enables redirect following up to MaxRedirects
	// (default 10). When false, redirect responses are returned as-is.
	FollowRedirects bool
	MaxRedirects    int

	// Connection pool tuning.
	MaxIdleConns    int           // default 100
	MaxConnsPerHost int           // default 25
	IdleConnTimeout time.Duration // default 90s

	DialTimeout         time.Duration // default 10s
	TLSHandshakeTimeout time.Duration // default 10s
}

// DefaultConfig returns the scanning defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:             30 * time.Second,
		InsecureSkipVerify:  true,
		FollowRedirects:     true,
		MaxRedirects:        10,
		MaxIdleConns:        100,
		MaxConnsPerHost:     25,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

func (cfg *Config) applyDefaults() {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = 10
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.MaxConnsPerHost == 0 {
		cfg.MaxConnsPerHost = 25
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.TLSHandshakeTimeout == 0 {
		cfg.TLSHandshakeTimeout = 10 * time.Second
	}
}

// New builds an *http.Client from cfg. A malformed proxy URL is an
// error rather than a silent fallback to direct connections.
func New(cfg Config) (*http.Client, error) {
	cfg.applyDefaults()

	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,

		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: time.Second,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,

		DialContext: dialer.DialContext,

		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
	}

	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("httpclient: invalid proxy %q: %w", cfg.Proxy, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
	if cfg.FollowRedirects {
		maxRedirects := cfg.MaxRedirects
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("httpclient: stopped after %d redirects", maxRedirects)
			}
			return nil
		}
	} else {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client, nil
}
