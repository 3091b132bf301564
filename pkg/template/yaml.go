package template

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tplscan/tplscan/pkg/finding"
	"github.com/tplscan/tplscan/pkg/flow"
	"github.com/tplscan/tplscan/pkg/matcher"
	"github.com/tplscan/tplscan/pkg/netclient"
	"github.com/tplscan/tplscan/pkg/target"
)

// HTTPRequestSpec is one declarative HTTP probe.
type HTTPRequestSpec struct {
	Method            string            `yaml:"method"`
	Path              []string          `yaml:"path"`
	Headers           map[string]string `yaml:"headers,omitempty"`
	Body              string            `yaml:"body,omitempty"`
	Matchers          []matcher.Matcher `yaml:"matchers,omitempty"`
	MatchersCondition matcher.Condition `yaml:"matchers-condition,omitempty"`
}

// NetworkRequestSpec is one raw TCP/UDP probe.
type NetworkRequestSpec struct {
	Protocol          string            `yaml:"protocol"` // tcp or udp
	Port              int               `yaml:"port"`
	Payloads          []string          `yaml:"payloads"`
	ReadSize          int               `yaml:"read-size,omitempty"`
	Matchers          []matcher.Matcher `yaml:"matchers,omitempty"`
	MatchersCondition matcher.Condition `yaml:"matchers-condition,omitempty"`
}

type infoBlock struct {
	Name        string   `yaml:"name"`
	Author      string   `yaml:"author,omitempty"`
	Severity    string   `yaml:"severity"`
	Description string   `yaml:"description,omitempty"`
	CVE         []string `yaml:"cve,omitempty"`
	CWE         []string `yaml:"cwe,omitempty"`
	CVSSScore   float64  `yaml:"cvss-score,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`
	References  []string `yaml:"references,omitempty"`
	Remediation string   `yaml:"remediation,omitempty"`
	Confidence  int      `yaml:"confidence,omitempty"`
}

type templateData struct {
	ID        string               `yaml:"id"`
	Info      infoBlock            `yaml:"info"`
	Variables map[string]string    `yaml:"variables,omitempty"`
	HTTP      []HTTPRequestSpec    `yaml:"http,omitempty"`
	Network   []NetworkRequestSpec `yaml:"network,omitempty"`
	Flows     []flow.Flow          `yaml:"flows,omitempty"`
}

// YAMLEngine loads and executes YAML templates.
type YAMLEngine struct {
	client *netclient.Client
	flows  *flow.Executor
	logger *slog.Logger
}

// EngineOption configures a YAMLEngine.
type EngineOption func(*YAMLEngine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *YAMLEngine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewYAMLEngine builds an engine that executes templates through the
// given network client.
func NewYAMLEngine(client *netclient.Client, opts ...EngineOption) *YAMLEngine {
	e := &YAMLEngine{
		client: client,
		flows:  flow.NewExecutor(client),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SupportsFile reports whether path looks like a YAML template.
func (e *YAMLEngine) SupportsFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadTemplate parses and validates one template file.
func (e *YAMLEngine) LoadTemplate(path string) (Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", path, err)
	}
	return e.parse(data, path)
}

func (e *YAMLEngine) parse(data []byte, path string) (Template, error) {
	var td templateData
	if err := yaml.Unmarshal(data, &td); err != nil {
		return nil, fmt.Errorf("template %s: %w", path, err)
	}
	t := &yamlTemplate{data: td, engine: e, path: path}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("template %s: %w", path, err)
	}
	return t, nil
}

// LoadDirectory walks root and loads every supported template file.
// Templates that fail to parse are logged and skipped so one bad file
// does not abort the scan.
func (e *YAMLEngine) LoadDirectory(root string) ([]Template, error) {
	var templates []Template
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !e.SupportsFile(path) {
			return nil
		}
		t, err := e.LoadTemplate(path)
		if err != nil {
			e.logger.Warn("skipping template", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		templates = append(templates, t)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load templates from %s: %w", root, err)
	}
	return templates, nil
}

type yamlTemplate struct {
	data   templateData
	engine *YAMLEngine
	path   string
}

func (t *yamlTemplate) Metadata() *Metadata {
	sev, _ := finding.ParseSeverity(t.data.Info.Severity)
	confidence := t.data.Info.Confidence
	if confidence == 0 {
		confidence = finding.DefaultConfidence
	}
	return &Metadata{
		ID:          t.data.ID,
		Name:        t.data.Info.Name,
		Author:      t.data.Info.Author,
		Severity:    sev,
		Description: t.data.Info.Description,
		CVEIDs:      t.data.Info.CVE,
		CWEIDs:      t.data.Info.CWE,
		CVSSScore:   t.data.Info.CVSSScore,
		Tags:        t.data.Info.Tags,
		References:  t.data.Info.References,
		Confidence:  confidence,
		FilePath:    t.path,
	}
}

func (t *yamlTemplate) Validate() error {
	if t.data.ID == "" {
		return errors.New("missing id")
	}
	if t.data.Info.Name == "" {
		return errors.New("missing info.name")
	}
	if _, ok := finding.ParseSeverity(t.data.Info.Severity); !ok {
		return fmt.Errorf("invalid severity %q", t.data.Info.Severity)
	}
	if len(t.data.HTTP) == 0 && len(t.data.Network) == 0 && len(t.data.Flows) == 0 {
		return errors.New("template declares no http, network, or flow sections")
	}
	for _, n := range t.data.Network {
		if n.Protocol != "tcp" && n.Protocol != "udp" {
			return fmt.Errorf("network protocol %q not supported", n.Protocol)
		}
		if n.Port <= 0 {
			return errors.New("network section requires a port")
		}
	}
	return nil
}

func (t *yamlTemplate) SupportedProtocols() []target.Protocol {
	seen := make(map[target.Protocol]struct{})
	var protos []target.Protocol
	add := func(p target.Protocol) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			protos = append(protos, p)
		}
	}
	if len(t.data.HTTP) > 0 || len(t.data.Flows) > 0 {
		add(target.HTTP)
		add(target.HTTPS)
	}
	for _, n := range t.data.Network {
		add(target.Protocol(n.Protocol))
	}
	return protos
}

// Execute runs flows, then network probes, then HTTP probes.
func (t *yamlTemplate) Execute(ctx context.Context, tgt target.Target, scan *target.Context) ([]finding.Finding, error) {
	if scan == nil {
		sc := target.NewContext()
		scan = &sc
	}

	var findings []finding.Finding

	fc := flow.NewContext(tgt, *scan, t.engine.client.Session())
	for k, v := range t.data.Variables {
		fc.SetVariable(k, v)
	}

	if len(t.data.Flows) > 0 {
		if err := t.engine.flows.ExecuteFlows(ctx, t.data.Flows, fc); err != nil {
			return findings, fmt.Errorf("template %s: %w", t.data.ID, err)
		}
	}

	for i := range t.data.Network {
		found, err := t.executeNetwork(ctx, &t.data.Network[i], tgt, fc)
		if err != nil {
			return findings, fmt.Errorf("template %s: %w", t.data.ID, err)
		}
		findings = append(findings, found...)
	}

	for i := range t.data.HTTP {
		found, err := t.executeHTTP(ctx, &t.data.HTTP[i], tgt, fc)
		if err != nil {
			return findings, fmt.Errorf("template %s: %w", t.data.ID, err)
		}
		findings = append(findings, found...)
	}

	return findings, nil
}

func (t *yamlTemplate) executeNetwork(ctx context.Context, spec *NetworkRequestSpec, tgt target.Target, fc *flow.Context) ([]finding.Finding, error) {
	payloads := make([]string, len(spec.Payloads))
	for i, p := range spec.Payloads {
		payloads[i] = fc.ReplaceVariables(p)
	}
	addr := fmt.Sprintf("%s:%d", tgt.Address, spec.Port)

	resp, err := t.engine.client.RawExchange(ctx, spec.Protocol, addr, payloads, spec.ReadSize)
	if err != nil {
		return nil, err
	}

	matched, err := matcher.MatchAll(spec.Matchers, resp, spec.MatchersCondition)
	if err != nil {
		return nil, err
	}
	if !matched {
		return nil, nil
	}
	f := t.newFinding(tgt.Host(), resp, spec.Matchers, strings.ToUpper(spec.Protocol), addr, strings.Join(payloads, ""))
	return []finding.Finding{f}, nil
}

// executeHTTP issues the spec against each path, with scheme fallback:
// the inferred scheme is tried first and the alternate exactly once,
// only when the failure was connection-level. Any received response,
// whatever its status, settles the scheme.
func (t *yamlTemplate) executeHTTP(ctx context.Context, spec *HTTPRequestSpec, tgt target.Target, fc *flow.Context) ([]finding.Finding, error) {
	var findings []finding.Finding

	method := strings.ToUpper(spec.Method)
	if method == "" {
		method = "GET"
	}

	headers := make(map[string]string, len(spec.Headers))
	for k, v := range spec.Headers {
		headers[k] = fc.ReplaceVariables(v)
	}
	body := fc.ReplaceVariables(spec.Body)

	paths := spec.Path
	if len(paths) == 0 {
		paths = []string{"/"}
	}

	for _, rawPath := range paths {
		path := fc.ReplaceVariables(rawPath)

		var resp *matcher.Response
		var lastErr error
		var servedURL string
		for _, variant := range tgt.SchemeVariants() {
			url := path
			if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
				url = variant.URL() + path
			}
			r, err := t.engine.client.Do(ctx, method, url, body, headers)
			if err == nil {
				resp, servedURL = r, url
				break
			}
			lastErr = err
			if !netclient.IsConnectionError(err) {
				break
			}
			t.engine.logger.Debug("scheme fallback",
				slog.String("template", t.data.ID),
				slog.String("url", url),
				slog.String("error", err.Error()))
		}
		if resp == nil {
			return findings, lastErr
		}

		matched, err := matcher.MatchAll(spec.Matchers, resp, spec.MatchersCondition)
		if err != nil {
			return findings, err
		}
		if matched {
			findings = append(findings, t.newFinding(tgt.Host(), resp, spec.Matchers, method, servedURL,
				requestText(method, servedURL, headers, body)))
		}
	}
	return findings, nil
}

// newFinding builds a finding with evidence from the matchers that
// individually fired, carrying the sent request and the captured
// response text.
func (t *yamlTemplate) newFinding(targetName string, resp *matcher.Response, matchers []matcher.Matcher, method, url, request string) finding.Finding {
	md := t.Metadata()
	f := finding.New(md.ID, targetName, md.Severity, md.Name)
	f.Description = md.Description
	f.Confidence = md.Confidence
	f.CVEIDs = md.CVEIDs
	f.CWEIDs = md.CWEIDs
	f.CVSSScore = md.CVSSScore
	f.Tags = md.Tags
	f.Remediation = t.data.Info.Remediation
	f.References = md.References
	f.Evidence = finding.Evidence{
		Description:     fmt.Sprintf("matched %s %s", method, url),
		Request:         request,
		Response:        resp.AllString(),
		MatchedPatterns: matchedPatterns(matchers, resp),
		Data: map[string]any{
			"status_code":      resp.StatusCode,
			"response_time_ms": resp.Elapsed.Milliseconds(),
			"method":           method,
			"url":              url,
		},
		Timestamp: time.Now().UTC(),
	}
	return f
}

// requestText renders the sent probe for evidence: request line,
// sorted headers, blank line, body.
func requestText(method, url string, headers map[string]string, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", method, url)
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, headers[k])
	}
	if body != "" {
		b.WriteString("\n")
		b.WriteString(body)
	}
	return b.String()
}

// matchedPatterns re-evaluates each matcher in isolation to list what
// fired. Evaluation errors were already surfaced by MatchAll; here
// they just exclude the matcher from the evidence.
func matchedPatterns(matchers []matcher.Matcher, resp *matcher.Response) []string {
	var patterns []string
	for i := range matchers {
		m := &matchers[i]
		ok, err := m.Evaluate(resp)
		if err != nil || !ok {
			continue
		}
		switch m.Type {
		case matcher.TypeStatus:
			patterns = append(patterns, fmt.Sprintf("status:%d", resp.StatusCode))
		case matcher.TypeWord:
			content := resp.BodyString()
			switch m.Part {
			case matcher.PartHeader:
				content = resp.HeaderString()
			case matcher.PartAll:
				content = resp.AllString()
			}
			for _, w := range m.Words {
				if strings.Contains(content, w) {
					patterns = append(patterns, w)
				}
			}
		case matcher.TypeRegex:
			patterns = append(patterns, m.Regex...)
		default:
			patterns = append(patterns, string(m.Type))
		}
	}
	return patterns
}
