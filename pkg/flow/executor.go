package flow

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tplscan/tplscan/pkg/netclient"
	"github.com/tplscan/tplscan/pkg/regexcache"
)

// Executor runs flows against a target through the network client.
type Executor struct {
	client *netclient.Client
	logger *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExecutor builds a flow executor on top of a network client.
func NewExecutor(client *netclient.Client, opts ...ExecutorOption) *Executor {
	e := &Executor{client: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteFlows runs flows in declared order. depends_on is advisory:
// a dependency that has not run yet is logged, not enforced. A flow
// whose condition evaluates false is skipped silently. Errors from
// non-optional flows propagate.
func (e *Executor) ExecuteFlows(ctx context.Context, flows []Flow, fc *Context) error {
	executed := make(map[string]bool, len(flows))
	for i := range flows {
		f := &flows[i]
		for _, dep := range f.DependsOn {
			if !executed[dep] {
				e.logger.Warn("flow dependency not executed yet",
					slog.String("flow", f.Name),
					slog.String("depends_on", dep))
			}
		}
		if f.Condition != "" && !e.evaluateCondition(f.Condition, fc) {
			e.logger.Debug("flow condition false, skipping", slog.String("flow", f.Name))
			executed[f.Name] = true
			continue
		}
		if err := e.ExecuteFlow(ctx, f, fc); err != nil {
			return err
		}
		executed[f.Name] = true
	}
	return nil
}

// ExecuteFlow runs the steps of one flow strictly in order. A step
// error aborts the flow; when the flow is Optional the error is
// logged and swallowed so the template can continue.
func (e *Executor) ExecuteFlow(ctx context.Context, f *Flow, fc *Context) error {
	e.logger.Debug("executing flow",
		slog.String("flow", f.Name),
		slog.Int("steps", len(f.Steps)))

	for i := range f.Steps {
		if err := e.executeStep(ctx, &f.Steps[i], fc); err != nil {
			if f.Optional {
				e.logger.Warn("optional flow failed, skipping",
					slog.String("flow", f.Name),
					slog.Int("step", i),
					slog.String("error", err.Error()))
				return nil
			}
			return fmt.Errorf("flow %q step %d: %w", f.Name, i, err)
		}
	}
	return nil
}

func (e *Executor) executeStep(ctx context.Context, s *Step, fc *Context) error {
	switch s.Action {
	case ActionHTTPRequest:
		return e.stepHTTPRequest(ctx, s, fc)
	case ActionSetVariable:
		fc.SetVariable(s.Name, fc.ReplaceVariables(s.Value))
		return nil
	case ActionExtract:
		return e.stepExtract(s, fc)
	case ActionCheck:
		e.stepCheck(s, fc)
		return nil
	case ActionWait:
		return sleepCtx(ctx, time.Duration(s.DurationMS)*time.Millisecond)
	default:
		return fmt.Errorf("unknown step action %q", s.Action)
	}
}

func (e *Executor) stepHTTPRequest(ctx context.Context, s *Step, fc *Context) error {
	method := strings.ToUpper(s.Method)
	if method == "" {
		method = http.MethodGet
	}
	url := fc.Target.URL() + fc.ReplaceVariables(s.Path)

	headers := make(map[string]string, len(s.Headers))
	for k, v := range s.Headers {
		headers[k] = fc.ReplaceVariables(v)
	}
	body := fc.ReplaceVariables(s.Body)

	resp, err := e.client.Do(ctx, method, url, body, headers)
	if err != nil {
		return err
	}
	if s.Store != "" {
		fc.SetVariable(s.Store, resp.BodyString())
	}
	return nil
}

// stepExtract pulls capture group 1 of the pattern out of a source
// variable. No match is a silent no-op: later checks decide whether
// the variable was required.
func (e *Executor) stepExtract(s *Step, fc *Context) error {
	re, err := regexcache.Get(s.Pattern)
	if err != nil {
		return fmt.Errorf("extract pattern: %w", err)
	}
	source, _ := fc.Variable(s.From)
	groups := re.FindStringSubmatch(source)
	if len(groups) > 1 {
		fc.SetVariable(s.Name, groups[1])
	}
	return nil
}

// stepCheck evaluates the condition and logs when it holds. Checks
// observe, they never abort.
func (e *Executor) stepCheck(s *Step, fc *Context) {
	if e.evaluateCondition(s.Condition, fc) {
		msg := s.Message
		if msg == "" {
			msg = s.Condition
		}
		e.logger.Info("flow check matched", slog.String("check", msg))
	}
}

// evaluateCondition understands "name == value" and "name != value"
// where the left operand is a variable name; a comparison against an
// undefined variable is false. Anything else is treated as a variable
// name and tested for existence with a non-empty value.
func (e *Executor) evaluateCondition(cond string, fc *Context) bool {
	expanded := fc.ReplaceVariables(cond)
	if left, right, ok := strings.Cut(expanded, "!="); ok {
		if v, defined := fc.Variable(strings.TrimSpace(left)); defined {
			return v != trimOperand(right)
		}
		return false
	}
	if left, right, ok := strings.Cut(expanded, "=="); ok {
		if v, defined := fc.Variable(strings.TrimSpace(left)); defined {
			return v == trimOperand(right)
		}
		return false
	}
	v, defined := fc.Variable(strings.TrimSpace(expanded))
	return defined && v != ""
}

func trimOperand(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"`)
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
