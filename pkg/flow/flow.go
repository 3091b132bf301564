// Package flow runs multi-step request sequences declared in
// templates: authenticate, extract a token, replay it, check the
// outcome. Steps execute strictly in order and share a variable
// scope.
package flow

// Step actions.
const (
	ActionHTTPRequest = "http_request"
	ActionSetVariable = "set_variable"
	ActionExtract     = "extract"
	ActionCheck       = "check"
	ActionWait        = "wait"
)

// Step is one action inside a flow. Only the fields relevant to
// Action are consulted.
type Step struct {
	Action string `yaml:"action"`

	// http_request
	Method  string            `yaml:"method,omitempty"`
	Path    string            `yaml:"path,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Body    string            `yaml:"body,omitempty"`
	Store   string            `yaml:"store,omitempty"` // variable to hold the response body

	// set_variable / extract
	Name  string `yaml:"name,omitempty"`
	Value string `yaml:"value,omitempty"`

	// extract
	From    string `yaml:"from,omitempty"` // source variable
	Pattern string `yaml:"pattern,omitempty"`

	// check
	Condition string `yaml:"condition,omitempty"`
	Message   string `yaml:"message,omitempty"`

	// wait
	DurationMS int64 `yaml:"duration_ms,omitempty"`
}

// Flow is an ordered step sequence.
type Flow struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Steps       []Step   `yaml:"steps"`
	DependsOn   []string `yaml:"depends_on,omitempty"`
	Condition   string   `yaml:"condition,omitempty"`
	Optional    bool     `yaml:"optional,omitempty"`
}
