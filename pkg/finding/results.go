package finding

import (
	"time"

	"github.com/google/uuid"
)

// Statistics summarizes a completed scan.
type Statistics struct {
	TargetsScanned     int              `json:"targets_scanned"`
	TemplatesExecuted  int              `json:"templates_executed"`
	FailedExecutions   int              `json:"failed_executions"`
	FindingsBySeverity map[Severity]int `json:"findings_by_severity"`
	SuccessRate        float64          `json:"success_rate"`
	Duration           time.Duration    `json:"duration"`
}

// ScanResults aggregates everything a scan produced.
type ScanResults struct {
	ScanID      uuid.UUID  `json:"scan_id"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt time.Time  `json:"completed_at"`
	Findings    []Finding  `json:"findings"`
	Errors      []string   `json:"errors,omitempty"`
	Statistics  Statistics `json:"statistics"`
}

// CountBySeverity tallies findings per severity level.
func CountBySeverity(findings []Finding) map[Severity]int {
	counts := make(map[Severity]int, 5)
	for _, f := range findings {
		counts[f.Severity]++
	}
	return counts
}

// FilterBySeverity returns the findings at or above min severity.
func FilterBySeverity(findings []Finding, min Severity) []Finding {
	out := make([]Finding, 0, len(findings))
	for _, f := range findings {
		if f.Severity.AtLeast(min) {
			out = append(out, f)
		}
	}
	return out
}
