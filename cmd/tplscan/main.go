package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/tplscan/tplscan/pkg/config"
	"github.com/tplscan/tplscan/pkg/executor"
	"github.com/tplscan/tplscan/pkg/finding"
	"github.com/tplscan/tplscan/pkg/httpclient"
	"github.com/tplscan/tplscan/pkg/netclient"
	"github.com/tplscan/tplscan/pkg/scheduler"
	"github.com/tplscan/tplscan/pkg/session"
	"github.com/tplscan/tplscan/pkg/target"
	"github.com/tplscan/tplscan/pkg/template"
)

const appVersion = "1.0.0"

func main() {
	app := &cli.App{
		Name:    "tplscan",
		Usage:   "template-driven network vulnerability scanner",
		Version: appVersion,
		Commands: []*cli.Command{
			commandScan(),
			commandValidate(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
}

func commandScan() *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "Run templates against targets",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:     "target",
				Aliases:  []string{"u"},
				Usage:    "Target host[:port] or URL (repeatable)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "templates",
				Aliases:  []string{"t"},
				Usage:    "Template file or directory",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
			},
			&cli.IntFlag{
				Name:  "parallel-targets",
				Usage: "Concurrent targets (overrides config)",
			},
			&cli.IntFlag{
				Name:  "parallel-templates",
				Usage: "Concurrent templates per target (overrides config)",
			},
			&cli.IntFlag{
				Name:    "rate-limit",
				Aliases: []string{"rl"},
				Usage:   "Max requests per second (overrides config)",
			},
			&cli.BoolFlag{
				Name:  "stealth",
				Usage: "Pace requests with jittered delays",
			},
			&cli.IntFlag{
				Name:  "timeout",
				Usage: "Network timeout in seconds (overrides config)",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write JSON results to `FILE`",
			},
			&cli.StringFlag{
				Name:  "severity",
				Value: "info",
				Usage: "Minimum severity to report (info, low, medium, high, critical)",
			},
			&cli.StringFlag{
				Name:  "session",
				Usage: "Load and save session state (cookies, tokens) from `FILE`",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
			&cli.BoolFlag{
				Name:  "no-color",
				Usage: "Disable colored output",
			},
		},
		Action: runScan,
	}
}

func commandValidate() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Parse and validate templates without scanning",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "templates",
				Aliases:  []string{"t"},
				Usage:    "Template file or directory",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			client, err := netclient.New(netclient.Config{})
			if err != nil {
				return err
			}
			engine := template.NewYAMLEngine(client)
			templates, err := loadTemplates(engine, c.String("templates"))
			if err != nil {
				return err
			}
			for _, t := range templates {
				md := t.Metadata()
				color.Green("ok  %s (%s, %s)", md.ID, md.Name, md.Severity)
			}
			fmt.Printf("%d templates valid\n", len(templates))
			return nil
		},
	}
}

func runScan(c *cli.Context) error {
	if c.Bool("no-color") {
		color.NoColor = true
	}

	level := slog.LevelInfo
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if n := c.Int("parallel-targets"); n > 0 {
		cfg.Execution.ParallelTargets = n
	}
	if n := c.Int("parallel-templates"); n > 0 {
		cfg.Execution.ParallelTemplates = n
	}
	if n := c.Int("rate-limit"); n > 0 {
		cfg.Network.RateLimit = n
	}
	if c.Bool("stealth") {
		cfg.Execution.StealthMode = true
	}
	if n := c.Int("timeout"); n > 0 {
		cfg.Network.TimeoutSecs = n
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	minSeverity, ok := finding.ParseSeverity(c.String("severity"))
	if !ok {
		return fmt.Errorf("invalid severity %q", c.String("severity"))
	}

	sess := session.NewManager()
	sessionPath := c.String("session")
	if sessionPath != "" {
		if _, err := os.Stat(sessionPath); err == nil {
			if err := sess.Load(sessionPath); err != nil {
				return err
			}
			logger.Info("session restored", slog.String("path", sessionPath))
		}
	}

	client, err := netclient.New(netclient.Config{
		HTTP: httpclient.Config{
			Timeout:            cfg.NetworkTimeout(),
			Proxy:              cfg.Network.Proxy,
			FollowRedirects:    cfg.Network.FollowRedirects,
			MaxRedirects:       cfg.Network.MaxRedirects,
			InsecureSkipVerify: cfg.Network.InsecureSkipVerify,
		},
		UserAgent:   cfg.Network.UserAgent,
		MaxRetries:  cfg.Execution.MaxRetries,
		RetryDelay:  cfg.RetryDelay(),
		RateLimit:   cfg.Network.RateLimit,
		StealthMode: cfg.Execution.StealthMode,
	}, netclient.WithSession(sess), netclient.WithLogger(logger))
	if err != nil {
		return err
	}

	engine := template.NewYAMLEngine(client, template.WithLogger(logger))
	templates, err := loadTemplates(engine, c.String("templates"))
	if err != nil {
		return err
	}
	if len(templates) == 0 {
		return fmt.Errorf("no templates loaded from %s", c.String("templates"))
	}
	templates = scheduler.Order(templates)

	targets := make([]target.Target, 0, len(c.StringSlice("target")))
	for _, raw := range c.StringSlice("target") {
		tgt, err := parseTarget(raw)
		if err != nil {
			return err
		}
		targets = append(targets, tgt)
	}

	scanCtx := target.NewContext()
	scanCtx.StealthMode = cfg.Execution.StealthMode
	scanCtx.AggressiveMode = cfg.Execution.AggressiveMode
	scanCtx.PassiveMode = cfg.Execution.PassiveMode
	scanCtx.SafeMode = cfg.Execution.SafeMode
	scanCtx.MaxRetries = cfg.Execution.MaxRetries
	scanCtx.Timeout = cfg.NetworkTimeout()
	scanCtx.RateLimit = cfg.Network.RateLimit

	exec, err := executor.New(executor.Config{
		ParallelTargets:   cfg.Execution.ParallelTargets,
		ParallelTemplates: cfg.Execution.ParallelTemplates,
		TemplateTimeout:   cfg.TemplateTimeout(),
	}, executor.WithLogger(logger), executor.WithHooks(executor.Hooks{
		OnFinding: func(f finding.Finding) {
			if f.Severity.AtLeast(minSeverity) {
				printFinding(f)
			}
		},
	}))
	if err != nil {
		return err
	}

	job := executor.NewScanJob(targets, templates, scanCtx)
	results, err := exec.Execute(c.Context, job)
	if err != nil {
		return err
	}

	if sessionPath != "" {
		if err := sess.Save(sessionPath); err != nil {
			logger.Warn("session save failed", slog.String("error", err.Error()))
		}
	}

	printSummary(results, minSeverity)

	if out := c.String("output"); out != "" {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, data, 0o600); err != nil {
			return err
		}
		fmt.Printf("results written to %s\n", out)
	}

	if len(finding.FilterBySeverity(results.Findings, minSeverity)) > 0 {
		return cli.Exit("", 2)
	}
	return nil
}

func loadTemplates(engine *template.YAMLEngine, path string) ([]template.Template, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return engine.LoadDirectory(path)
	}
	t, err := engine.LoadTemplate(path)
	if err != nil {
		return nil, err
	}
	return []template.Template{t}, nil
}

// parseTarget accepts full URLs and bare host[:port] forms.
func parseTarget(raw string) (target.Target, error) {
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return target.Target{}, fmt.Errorf("invalid target %q: %w", raw, err)
		}
		port := 0
		if p := u.Port(); p != "" {
			port, _ = strconv.Atoi(p)
		}
		return target.NewWithPort(u.Hostname(), port, target.Protocol(u.Scheme)), nil
	}

	host, portStr, found := strings.Cut(raw, ":")
	if host == "" {
		return target.Target{}, fmt.Errorf("invalid target %q", raw)
	}
	if !found {
		return target.New(host, target.HTTPS), nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return target.Target{}, fmt.Errorf("invalid port in target %q", raw)
	}
	return target.NewWithPort(host, port, target.HTTPS), nil
}

func severityColor(s finding.Severity) *color.Color {
	switch s {
	case finding.Critical:
		return color.New(color.FgRed, color.Bold)
	case finding.High:
		return color.New(color.FgRed)
	case finding.Medium:
		return color.New(color.FgYellow)
	case finding.Low:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgWhite)
	}
}

func printFinding(f finding.Finding) {
	sev := severityColor(f.Severity).Sprintf("[%s]", f.Severity)
	fmt.Printf("%s %s %s (%s)\n", sev, f.TemplateID, f.Title, f.Target)
	if len(f.Evidence.MatchedPatterns) > 0 {
		fmt.Printf("    matched: %s\n", strings.Join(f.Evidence.MatchedPatterns, ", "))
	}
}

func printSummary(results *finding.ScanResults, minSeverity finding.Severity) {
	stats := results.Statistics
	fmt.Println()
	color.Green("scan %s complete in %s", results.ScanID, stats.Duration.Round(time.Millisecond))
	fmt.Printf("  targets: %d  templates executed: %d  failed: %d  success rate: %.0f%%\n",
		stats.TargetsScanned, stats.TemplatesExecuted, stats.FailedExecutions, stats.SuccessRate*100)

	reported := finding.FilterBySeverity(results.Findings, minSeverity)
	if len(reported) == 0 {
		color.Green("  no findings at or above %s", minSeverity)
		return
	}
	fmt.Printf("  findings: %d\n", len(reported))
	for _, sev := range []finding.Severity{finding.Critical, finding.High, finding.Medium, finding.Low, finding.Info} {
		if n := stats.FindingsBySeverity[sev]; n > 0 && sev.AtLeast(minSeverity) {
			severityColor(sev).Printf("    %s: %d\n", sev, n)
		}
	}
}
