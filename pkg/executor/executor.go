// Package executor fans the (target, template) matrix out with
// bounded parallelism, isolates per-unit failures, enforces
// per-template timeouts, and aggregates findings and statistics.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tplscan/tplscan/pkg/finding"
	"github.com/tplscan/tplscan/pkg/target"
	"github.com/tplscan/tplscan/pkg/template"
)

// Config bounds the fan-out.
type Config struct {
	// ParallelTargets is the number of targets scanned concurrently.
	ParallelTargets int

	// ParallelTemplates is the number of templates running
	// concurrently per target.
	ParallelTemplates int

	// TemplateTimeout bounds one (target, template) execution.
	TemplateTimeout time.Duration
}

// DefaultConfig returns the scanning defaults.
func DefaultConfig() Config {
	return Config{
		ParallelTargets:   10,
		ParallelTemplates: 50,
		TemplateTimeout:   30 * time.Second,
	}
}

// Validate rejects configurations that would deadlock or never
// terminate. Invalid configuration is fatal at startup, not patched
// over.
func (c Config) Validate() error {
	if c.ParallelTargets <= 0 {
		return fmt.Errorf("executor: parallel_targets must be positive, got %d", c.ParallelTargets)
	}
	if c.ParallelTemplates <= 0 {
		return fmt.Errorf("executor: parallel_templates must be positive, got %d", c.ParallelTemplates)
	}
	if c.TemplateTimeout <= 0 {
		return fmt.Errorf("executor: template_timeout must be positive, got %s", c.TemplateTimeout)
	}
	return nil
}

// ScanJob is one unit of work: all templates against all targets.
type ScanJob struct {
	ID        uuid.UUID
	Targets   []target.Target
	Templates []template.Template
	Context   target.Context
}

// NewScanJob builds a job with a fresh ID.
func NewScanJob(targets []target.Target, templates []template.Template, scanCtx target.Context) *ScanJob {
	return &ScanJob{
		ID:        uuid.New(),
		Targets:   targets,
		Templates: templates,
		Context:   scanCtx,
	}
}

// Hooks are optional observation points, fired synchronously.
type Hooks struct {
	OnScanStart    func(job *ScanJob)
	OnFinding      func(f finding.Finding)
	OnError        func(targetAddr, templateID string, err error)
	OnScanComplete func(results *finding.ScanResults)
}

// Executor runs scan jobs.
type Executor struct {
	cfg    Config
	hooks  Hooks
	logger *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithHooks attaches observation hooks.
func WithHooks(h Hooks) Option {
	return func(e *Executor) {
		e.hooks = h
	}
}

// New builds an executor, failing on invalid configuration.
func New(cfg Config, opts ...Option) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Executor{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

type unitResult struct {
	findings []finding.Finding
	err      error
}

// Execute runs the job. Per-unit failures and timeouts are recorded
// and isolated; the scan itself only fails on context cancellation.
func (e *Executor) Execute(ctx context.Context, job *ScanJob) (*finding.ScanResults, error) {
	started := time.Now()
	e.logger.Info("scan started",
		slog.String("scan_id", job.ID.String()),
		slog.Int("targets", len(job.Targets)),
		slog.Int("templates", len(job.Templates)))

	if e.hooks.OnScanStart != nil {
		e.hooks.OnScanStart(job)
	}

	var (
		mu       sync.Mutex
		findings []finding.Finding
		errs     []string

		executed atomic.Int64
		failed   atomic.Int64
	)

	targetSem := make(chan struct{}, e.cfg.ParallelTargets)
	var wg sync.WaitGroup

	for i := range job.Targets {
		tgt := job.Targets[i]
		wg.Add(1)
		targetSem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-targetSem }()

			e.executeTarget(ctx, job, tgt, func(templateID string, res unitResult) {
				executed.Add(1)
				if res.err != nil {
					failed.Add(1)
					e.logger.Warn("template failed",
						slog.String("target", tgt.Address),
						slog.String("template", templateID),
						slog.String("error", res.err.Error()))
					if e.hooks.OnError != nil {
						e.hooks.OnError(tgt.Address, templateID, res.err)
					}
					mu.Lock()
					errs = append(errs, fmt.Sprintf("%s/%s: %s", tgt.Address, templateID, res.err))
					mu.Unlock()
				}
				if len(res.findings) > 0 {
					mu.Lock()
					findings = append(findings, res.findings...)
					mu.Unlock()
					if e.hooks.OnFinding != nil {
						for _, f := range res.findings {
							e.hooks.OnFinding(f)
						}
					}
				}
			})
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	total := executed.Load()
	successRate := 0.0
	if total > 0 {
		successRate = float64(total-failed.Load()) / float64(total)
	}

	results := &finding.ScanResults{
		ScanID:      job.ID,
		StartedAt:   started,
		CompletedAt: time.Now(),
		Findings:    findings,
		Errors:      errs,
		Statistics: finding.Statistics{
			TargetsScanned:     len(job.Targets),
			TemplatesExecuted:  int(total),
			FailedExecutions:   int(failed.Load()),
			FindingsBySeverity: finding.CountBySeverity(findings),
			SuccessRate:        successRate,
			Duration:           time.Since(started),
		},
	}

	e.logger.Info("scan complete",
		slog.String("scan_id", job.ID.String()),
		slog.Int("findings", len(findings)),
		slog.Duration("duration", results.Statistics.Duration))

	if e.hooks.OnScanComplete != nil {
		e.hooks.OnScanComplete(results)
	}
	return results, nil
}

func (e *Executor) executeTarget(ctx context.Context, job *ScanJob, tgt target.Target, report func(string, unitResult)) {
	templateSem := make(chan struct{}, e.cfg.ParallelTemplates)
	var wg sync.WaitGroup

	for i := range job.Templates {
		tmpl := job.Templates[i]
		if ctx.Err() != nil {
			return
		}
		wg.Add(1)
		templateSem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-templateSem }()
			report(tmpl.Metadata().ID, e.executeOne(ctx, tmpl, tgt, job))
		}()
	}
	wg.Wait()
}

// executeOne runs a single (target, template) pair under the template
// timeout. A timeout abandons the unit and reports ErrTemplateTimeout;
// the goroutine drains via context cancellation.
func (e *Executor) executeOne(ctx context.Context, tmpl template.Template, tgt target.Target, job *ScanJob) unitResult {
	tctx, cancel := context.WithTimeout(ctx, e.cfg.TemplateTimeout)
	defer cancel()

	done := make(chan unitResult, 1)
	go func() {
		fs, err := tmpl.Execute(tctx, tgt, &job.Context)
		done <- unitResult{findings: fs, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil {
			res.err = fmt.Errorf("%w after %s", ErrTemplateTimeout, e.cfg.TemplateTimeout)
		}
		return res
	case <-tctx.Done():
		if ctx.Err() != nil {
			return unitResult{err: ctx.Err()}
		}
		return unitResult{err: fmt.Errorf("%w after %s", ErrTemplateTimeout, e.cfg.TemplateTimeout)}
	}
}
