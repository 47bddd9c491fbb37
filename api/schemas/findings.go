package schemas

import (
	"encoding/json"
	"strings"
	"time"
)

// -- Issue Schemas --

// Severity represents the severity level of an issue reported against a visited
// state. The values are lowercase to align with database ENUMs.
type Severity string

// Constants defining the standard severity levels for issues.
const (
	SeverityCritical Severity = "critical" // Blocks the user from completing a task.
	SeveritySerious  Severity = "serious"  // Severely degrades the experience.
	SeverityModerate Severity = "moderate" // Noticeable defect with a workaround.
	SeverityMinor    Severity = "minor"    // Cosmetic or best-practice deviation.
)

// severityRank orders severities from least to most severe.
var severityRank = map[Severity]int{
	SeverityMinor:    1,
	SeverityModerate: 2,
	SeveritySerious:  3,
	SeverityCritical: 4,
}

// Rank returns a comparable weight for the severity. Unknown values rank 0.
func (s Severity) Rank() int {
	return severityRank[s]
}

// AtLeast reports whether s is as severe as, or more severe than, threshold.
func (s Severity) AtLeast(threshold Severity) bool {
	return s.Rank() >= threshold.Rank() && s.Rank() > 0
}

// ParseSeverity converts user input into a Severity. The boolean is false when
// the value is not one of the known levels.
func ParseSeverity(v string) (Severity, bool) {
	s := Severity(strings.ToLower(strings.TrimSpace(v)))
	_, ok := severityRank[s]
	return s, ok
}

// Issue encapsulates a single defect reported by a validator for a visited
// state. It maps directly to the `issues` table in the database.
type Issue struct {
	ID      string `json:"id"`
	StateID string `json:"state_id"` // The state the validator inspected.

	Type        string   `json:"type"`     // e.g. "accessibility", "layout", "validator-error".
	Severity    Severity `json:"severity"` // The severity level of the issue.
	Rule        string   `json:"rule"`     // Stable rule identifier, e.g. "image-alt".
	Description string   `json:"description"`

	// Elements lists selectors or snippets of the affected elements.
	Elements []string `json:"elements,omitempty"`
	Viewport string   `json:"viewport"`
	HelpURL  string   `json:"help_url,omitempty"`

	// Details provides structured, validator-specific evidence stored as JSONB.
	Details json.RawMessage `json:"details,omitempty"`

	// Validator names the validator that produced the issue.
	Validator  string    `json:"validator"`
	ObservedAt time.Time `json:"observed_at"`
}

// ValidatorReport is what a single validator returns for one state.
type ValidatorReport struct {
	ValidatorName string  `json:"validator_name"`
	Issues        []Issue `json:"issues"`
	DurationMs    int64   `json:"duration_ms"`
}
