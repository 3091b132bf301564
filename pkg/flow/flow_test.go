package flow

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tplscan/tplscan/pkg/httpclient"
	"github.com/tplscan/tplscan/pkg/netclient"
	"github.com/tplscan/tplscan/pkg/session"
	"github.com/tplscan/tplscan/pkg/target"
)

func testSetup(t *testing.T, handler http.Handler) (*Executor, *Context) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, _ := strconv.Atoi(u.Port())
	tgt := target.NewWithPort(u.Hostname(), port, target.HTTP)

	client, err := netclient.New(netclient.Config{HTTP: httpclient.Config{Timeout: 5 * time.Second}})
	require.NoError(t, err)

	fc := NewContext(tgt, target.NewContext(), session.NewManager())
	return NewExecutor(client), fc
}

func TestReplaceVariables(t *testing.T) {
	tgt := target.NewWithPort("example.com", 8080, target.HTTP)
	fc := NewContext(tgt, target.NewContext(), nil)
	fc.SetVariable("token", "abc")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"flow variable", "Bearer {{token}}", "Bearer abc"},
		{"hostname builtin", "{{Hostname}}", "example.com"},
		{"port builtin", "{{Port}}", "8080"},
		{"baseurl builtin", "{{BaseURL}}/login", "http://example.com:8080/login"},
		{"unresolved left verbatim", "{{missing}}", "{{missing}}"},
		{"no placeholders", "plain", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fc.ReplaceVariables(tt.input))
		})
	}
}

func TestExecuteFlowLoginExtractReplay(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"token":"secret123"}`)
	})
	mux.HandleFunc("/profile", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Auth") == "secret123" {
			fmt.Fprint(w, "welcome")
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	})

	exec, fc := testSetup(t, mux)
	f := &Flow{
		Name: "auth-replay",
		Steps: []Step{
			{Action: ActionHTTPRequest, Method: "GET", Path: "/login", Store: "login_body"},
			{Action: ActionExtract, From: "login_body", Pattern: `"token":"(\w+)"`, Name: "token"},
			{Action: ActionHTTPRequest, Method: "GET", Path: "/profile",
				Headers: map[string]string{"X-Auth": "{{token}}"}, Store: "profile_body"},
			{Action: ActionCheck, Condition: `profile_body == welcome`, Message: "token replay accepted"},
		},
	}

	require.NoError(t, exec.ExecuteFlow(context.Background(), f, fc))
	body, ok := fc.Variable("profile_body")
	require.True(t, ok)
	assert.Equal(t, "welcome", body)
}

func TestExecuteFlowStepOrderStopsOnError(t *testing.T) {
	var hits []string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})

	exec, fc := testSetup(t, mux)
	f := &Flow{
		Name: "ordered",
		Steps: []Step{
			{Action: ActionHTTPRequest, Path: "/first"},
			{Action: "bogus_action"},
			{Action: ActionHTTPRequest, Path: "/never"},
		},
	}

	err := exec.ExecuteFlow(context.Background(), f, fc)
	require.Error(t, err)
	assert.Equal(t, []string{"/first"}, hits)
}

func TestOptionalFlowSwallowsError(t *testing.T) {
	exec, fc := testSetup(t, http.NotFoundHandler())
	f := &Flow{
		Name:     "best-effort",
		Optional: true,
		Steps:    []Step{{Action: "bogus_action"}},
	}
	assert.NoError(t, exec.ExecuteFlow(context.Background(), f, fc))
}

func TestSetVariableAndWait(t *testing.T) {
	exec, fc := testSetup(t, http.NotFoundHandler())
	f := &Flow{
		Name: "vars",
		Steps: []Step{
			{Action: ActionSetVariable, Name: "stage", Value: "one"},
			{Action: ActionWait, DurationMS: 1},
			{Action: ActionSetVariable, Name: "combined", Value: "{{stage}}-done"},
		},
	}
	require.NoError(t, exec.ExecuteFlow(context.Background(), f, fc))
	v, _ := fc.Variable("combined")
	assert.Equal(t, "one-done", v)
}

func TestExtractNoMatchIsNoOp(t *testing.T) {
	exec, fc := testSetup(t, http.NotFoundHandler())
	fc.SetVariable("src", "nothing here")
	f := &Flow{
		Name:  "extract-miss",
		Steps: []Step{{Action: ActionExtract, From: "src", Pattern: `token=(\w+)`, Name: "token"}},
	}
	require.NoError(t, exec.ExecuteFlow(context.Background(), f, fc))
	_, ok := fc.Variable("token")
	assert.False(t, ok)
}

func TestEvaluateCondition(t *testing.T) {
	exec, fc := testSetup(t, http.NotFoundHandler())
	fc.SetVariable("role", "admin")
	fc.SetVariable("token", "abc")
	fc.SetVariable("empty", "")

	tests := []struct {
		name string
		cond string
		want bool
	}{
		{"equals resolves variable", "role == admin", true},
		{"equals false", "role == user", false},
		{"not equals", "role != user", true},
		{"not equals same value", "token != abc", false},
		{"quoted right operand", `role == "admin"`, true},
		{"token equality", "token == abc", true},
		{"undefined left operand equals", "missing == xyz", false},
		{"undefined left operand not equals", "missing != xyz", false},
		{"exists non-empty", "role", true},
		{"exists empty", "empty", false},
		{"missing variable", "nope", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exec.evaluateCondition(tt.cond, fc))
		})
	}
}

func TestExecuteFlowsConditionGating(t *testing.T) {
	exec, fc := testSetup(t, http.NotFoundHandler())
	fc.SetVariable("mode", "fast")

	flows := []Flow{
		{Name: "skipped", Condition: "mode == slow",
			Steps: []Step{{Action: "bogus_action"}}},
		{Name: "runs", Condition: "mode == fast",
			Steps: []Step{{Action: ActionSetVariable, Name: "ran", Value: "yes"}}},
	}

	require.NoError(t, exec.ExecuteFlows(context.Background(), flows, fc))
	v, _ := fc.Variable("ran")
	assert.Equal(t, "yes", v)
}

func TestExecuteFlowsAdvisoryDependsOn(t *testing.T) {
	exec, fc := testSetup(t, http.NotFoundHandler())
	flows := []Flow{
		{Name: "second", DependsOn: []string{"first"},
			Steps: []Step{{Action: ActionSetVariable, Name: "ran", Value: "anyway"}}},
	}
	// Unmet dependency warns but does not block.
	require.NoError(t, exec.ExecuteFlows(context.Background(), flows, fc))
	v, _ := fc.Variable("ran")
	assert.Equal(t, "anyway", v)
}
