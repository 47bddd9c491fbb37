package schemas

import (
	"encoding/json"
	"time"
)

// -- State Graph Data Model --

// Viewport is a named browser window size. The name participates in state
// identity, the dimensions only drive emulation.
type Viewport struct {
	Name   string `json:"name" mapstructure:"name" yaml:"name"`
	Width  int64  `json:"width" mapstructure:"width" yaml:"width"`
	Height int64  `json:"height" mapstructure:"height" yaml:"height"`
	Mobile bool   `json:"mobile,omitempty" mapstructure:"mobile" yaml:"mobile"`
}

// DefaultViewport is used when no viewport is configured.
var DefaultViewport = Viewport{Name: "desktop", Width: 1366, Height: 768}

// FormField is a diagnostic snapshot of one visible form control. Sensitive
// fields (passwords, hidden inputs) are never captured.
type FormField struct {
	Form     string `json:"form,omitempty"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Value    string `json:"value"`
	Selector string `json:"selector,omitempty"`
}

// AppState is an identity-bearing snapshot of the page. It is immutable once
// captured; callers must treat every field as read-only.
type AppState struct {
	ID  string `json:"id"`
	URL string `json:"url"` // The raw URL reported by the driver.

	// Path is the canonical path used for identity, optionally including the
	// query string and hash depending on configuration.
	Path        string `json:"path"`
	Title       string `json:"title"`
	Fingerprint string `json:"fingerprint"`
	// Overlay is the token of a visible modal/dialog, or empty when none is open.
	Overlay  string      `json:"overlay,omitempty"`
	Forms    []FormField `json:"forms,omitempty"`
	Viewport string      `json:"viewport"`

	CapturedAt time.Time `json:"captured_at"`

	// Backend holds per-adapter snapshots taken right after the state was reached.
	Backend map[string]json.RawMessage `json:"backend,omitempty"`
}

// PathStep is one recorded action on the way from a root to a state.
type PathStep struct {
	Kind     ActionKind `json:"kind"`
	Selector string     `json:"selector"`
	Label    string     `json:"label,omitempty"`
	Value    string     `json:"value,omitempty"`
	Submit   bool       `json:"submit,omitempty"` // Synthesized form submission.
}

// StateNode is a unique state in the graph.
type StateNode struct {
	ID string `json:"id"`
	// Depth is the minimum number of actions from any root to this state.
	Depth int      `json:"depth"`
	State AppState `json:"state"`

	// RootURL and Path record how to reach the state again.
	RootURL string     `json:"root_url"`
	Path    []PathStep `json:"path,omitempty"`

	// Addressable marks states that can be reached by navigating directly to
	// their URL, which shortens replay for their descendants.
	Addressable bool `json:"addressable"`
	Expanded    bool `json:"expanded"`
	// ExpandError records why expansion of this node was abandoned, if it was.
	ExpandError string `json:"expand_error,omitempty"`
}

// FailureKind classifies a failed transition.
type FailureKind string

const (
	FailureTransient  FailureKind = "transient"    // Timeout or detached element.
	FailureNavigation FailureKind = "navigation"   // Unreachable target or non-success response.
	FailureOutOfScope FailureKind = "out_of_scope" // Action left the explored site.
	FailureReplay     FailureKind = "replay_drift" // Source state could not be re-established.
	FailureFatal      FailureKind = "fatal"        // Automation driver died mid-action.
	FailureSkipped    FailureKind = "skipped"      // Action not attempted (e.g. no upload fixture).
)

// StateTransition is a directed edge `(from, action, viewport) -> to`. Failed
// transitions keep To empty and carry the failure annotation.
type StateTransition struct {
	ID       string           `json:"id"`
	From     string           `json:"from"`
	To       string           `json:"to,omitempty"`
	Action   DiscoveredAction `json:"action"`
	Value    string           `json:"value,omitempty"`
	Viewport string           `json:"viewport"`

	Failed      bool        `json:"failed,omitempty"`
	FailureKind FailureKind `json:"failure_kind,omitempty"`
	Failure     string      `json:"failure,omitempty"`

	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// GraphSnapshot is the read-only view of a finished graph.
type GraphSnapshot struct {
	Nodes []StateNode       `json:"nodes"`
	Edges []StateTransition `json:"edges"`
}
