// Package template defines the template contract and the YAML
// template engine. A template declares what to probe and how to judge
// the responses; the engine turns files into executable templates.
package template

import (
	"context"

	"github.com/tplscan/tplscan/pkg/finding"
	"github.com/tplscan/tplscan/pkg/target"
)

// Metadata describes a template independent of its language.
type Metadata struct {
	ID          string
	Name        string
	Author      string
	Severity    finding.Severity
	Description string
	CVEIDs      []string
	CWEIDs      []string
	CVSSScore   float64
	Tags        []string
	References  []string
	Confidence  int
	FilePath    string
}

// Template is an executable vulnerability check.
type Template interface {
	// Metadata returns the template's descriptive metadata.
	Metadata() *Metadata

	// Execute runs the template against one target. Findings and a
	// non-nil error can both be returned when some probes succeeded
	// before one failed.
	Execute(ctx context.Context, tgt target.Target, scan *target.Context) ([]finding.Finding, error)

	// Validate checks the template for authoring errors.
	Validate() error

	// SupportedProtocols lists the protocols this template probes.
	SupportedProtocols() []target.Protocol
}

// Engine loads templates of one language.
type Engine interface {
	// LoadTemplate parses and validates a template file.
	LoadTemplate(path string) (Template, error)

	// SupportsFile reports whether this engine handles the file.
	SupportsFile(path string) bool
}
