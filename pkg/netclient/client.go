// Package netclient is the transport layer for template execution:
// HTTP with retries, stealth pacing, rate limiting, and session
// injection, plus raw TCP/UDP exchanges for non-HTTP probes.
package netclient

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tplscan/tplscan/pkg/httpclient"
	"github.com/tplscan/tplscan/pkg/iohelper"
	"github.com/tplscan/tplscan/pkg/matcher"
	"github.com/tplscan/tplscan/pkg/retry"
	"github.com/tplscan/tplscan/pkg/session"
)

// DefaultUserAgent identifies the scanner on the wire.
const DefaultUserAgent = "tplscan/1.0"

// defaultStealthDelay is the base inter-request delay in stealth
// mode; up to 50% uniform jitter is added per attempt.
const defaultStealthDelay = 500 * time.Millisecond

// Config controls client behaviour.
type Config struct {
	HTTP httpclient.Config

	UserAgent string

	// MaxRetries is the number of additional attempts after the
	// first, on transport errors and 5xx responses.
	MaxRetries int

	// RetryDelay is the exponential backoff base (default 1s).
	RetryDelay time.Duration

	// RateLimit caps outgoing requests per second. 0 disables.
	RateLimit int

	// StealthMode paces every attempt with a jittered delay.
	StealthMode  bool
	StealthDelay time.Duration
}

// Client issues requests for the scan engine.
type Client struct {
	httpClient *http.Client
	cfg        Config
	sessions   *session.Manager
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSession attaches a session manager; cookies and the default
// bearer token are injected into every request and Set-Cookie headers
// are ingested from every response.
func WithSession(m *session.Manager) Option {
	return func(c *Client) {
		if m != nil {
			c.sessions = m
		}
	}
}

// New builds a client from cfg.
func New(cfg Config, opts ...Option) (*Client, error) {
	hc, err := httpclient.New(cfg.HTTP)
	if err != nil {
		return nil, err
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.StealthDelay == 0 {
		cfg.StealthDelay = defaultStealthDelay
	}

	c := &Client{
		httpClient: hc,
		cfg:        cfg,
		sessions:   session.NewManager(),
		logger:     slog.Default(),
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Session returns the attached session manager.
func (c *Client) Session() *session.Manager {
	return c.sessions
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string) (*matcher.Response, error) {
	return c.Do(ctx, http.MethodGet, rawURL, "", headers)
}

// Post issues a POST request with a string body.
func (c *Client) Post(ctx context.Context, rawURL, body string, headers map[string]string) (*matcher.Response, error) {
	return c.Do(ctx, http.MethodPost, rawURL, body, headers)
}

// Do issues a request with retries. Transport errors and 5xx
// responses are retried up to MaxRetries extra attempts with
// exponential backoff; any received response below 500 ends the loop.
func (c *Client) Do(ctx context.Context, method, rawURL, body string, headers map[string]string) (*matcher.Response, error) {
	domain, err := domainOf(rawURL)
	if err != nil {
		return nil, err
	}

	backoff := retry.Config{InitDelay: c.cfg.RetryDelay, Strategy: retry.Exponential}

	var lastResp *matcher.Response
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries+1; attempt++ {
		if err := c.pace(ctx); err != nil {
			return nil, err
		}

		resp, err := c.doOnce(ctx, method, rawURL, body, headers, domain)
		if err == nil && resp.StatusCode < 500 {
			return resp, nil
		}
		lastResp, lastErr = resp, err

		if attempt <= c.cfg.MaxRetries {
			delay := retry.CalcDelay(backoff, attempt)
			c.logger.Debug("retrying request",
				slog.String("url", rawURL),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", delay))
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, rawURL, lastErr)
	}
	return lastResp, nil
}

// pace applies stealth delay and the rate limiter before an attempt.
func (c *Client) pace(ctx context.Context) error {
	if c.cfg.StealthMode {
		base := c.cfg.StealthDelay
		jitter := time.Duration(rand.Int63n(int64(base)/2 + 1))
		if err := sleepCtx(ctx, base+jitter); err != nil {
			return err
		}
	}
	if c.limiter != nil {
		return c.limiter.Wait(ctx)
	}
	return nil
}

func (c *Client) doOnce(ctx context.Context, method, rawURL, body string, headers map[string]string, domain string) (*matcher.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, strings.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", c.cfg.UserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if cookies, ok := c.sessions.CookieHeader(domain); ok {
		req.Header.Set("Cookie", cookies)
	}
	if auth, ok := c.sessions.AuthorizationHeader(session.DefaultTokenName); ok && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", auth)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer iohelper.DrainAndClose(resp.Body)

	data, err := iohelper.ReadBodyDefault(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	for _, sc := range resp.Header.Values("Set-Cookie") {
		c.sessions.IngestSetCookie(domain, sc)
	}

	return &matcher.Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       data,
		Elapsed:    time.Since(start),
	}, nil
}

func domainOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	return u.Hostname(), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
