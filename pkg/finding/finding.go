// Package finding defines the result types produced by template
// execution: individual findings with supporting evidence, and
// aggregated scan results with statistics.
package finding

import (
	"time"

	"github.com/google/uuid"
)

// DefaultConfidence is assigned to findings whose template does not
// declare an explicit confidence level.
const DefaultConfidence = 90

// Evidence captures what a matcher saw when it fired.
type Evidence struct {
	// Description is a human-readable summary of the match.
	Description string `json:"description"`

	// Request is the text of the probe that was sent, when applicable.
	Request string `json:"request,omitempty"`

	// Response is the text of the captured response that matched.
	Response string `json:"response,omitempty"`

	// MatchedPatterns lists the patterns that fired: literal words
	// and regex patterns verbatim, status matches as "status:<code>".
	MatchedPatterns []string `json:"matched_patterns,omitempty"`

	// Data carries structured context: status_code, response_time_ms,
	// method, url.
	Data map[string]any `json:"data,omitempty"`

	// Timestamp records when the evidence was captured.
	Timestamp time.Time `json:"timestamp"`
}

// Finding is a single confirmed result from a template run.
type Finding struct {
	ID          uuid.UUID `json:"id"`
	TemplateID  string    `json:"template_id"`
	Target      string    `json:"target"`
	Severity    Severity  `json:"severity"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Evidence    Evidence  `json:"evidence"`
	Confidence  int       `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
	CVEIDs      []string  `json:"cve_ids,omitempty"`
	CWEIDs      []string  `json:"cwe_ids,omitempty"`
	CVSSScore   float64   `json:"cvss_score,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Remediation string    `json:"remediation,omitempty"`
	References  []string  `json:"references,omitempty"`
}

// New creates a finding with a fresh ID, the default confidence, and
// the current timestamp.
func New(templateID, target string, severity Severity, title string) Finding {
	now := time.Now().UTC()
	return Finding{
		ID:         uuid.New(),
		TemplateID: templateID,
		Target:     target,
		Severity:   severity,
		Title:      title,
		Confidence: DefaultConfidence,
		Timestamp:  now,
		Evidence:   Evidence{Timestamp: now},
	}
}
