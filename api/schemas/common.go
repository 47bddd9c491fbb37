package schemas

import (
	"time"
)

// -- Result Schemas --

// TerminationReason explains why a run stopped.
type TerminationReason string

const (
	TerminationFrontierEmpty TerminationReason = "frontier_empty"
	TerminationStateCap      TerminationReason = "state_cap"
	TerminationIterationCap  TerminationReason = "iteration_cap"
	TerminationTimeBudget    TerminationReason = "time_budget"
	TerminationCancelled     TerminationReason = "cancelled"
	TerminationFatal         TerminationReason = "fatal"
)

// Summary holds the run counters exposed to reporting.
type Summary struct {
	RunID             string            `json:"run_id"`
	StartedAt         time.Time         `json:"started_at"`
	StatesExplored    int               `json:"states_explored"`   // Nodes that were expanded.
	StatesDiscovered  int               `json:"states_discovered"` // Nodes in the graph.
	ActionsPerformed  int               `json:"actions_performed"`
	FailedActions     int               `json:"failed_actions"`
	DroppedStates     int               `json:"dropped_states"`
	Edges             int               `json:"edges"`
	IssuesFound       int               `json:"issues_found"`
	ValidatorErrors   int               `json:"validator_errors"`
	FailedRoots       int               `json:"failed_roots"` // Start URLs that could not be loaded.
	DurationMs        int64             `json:"duration_ms"`
	TerminationReason TerminationReason `json:"termination_reason"`
	// Errors lists root-level failures: start URLs that could not be loaded
	// and roots aborted by a driver crash.
	Errors []string `json:"errors,omitempty"`
}

// ExplorationResult is everything a run produced.
type ExplorationResult struct {
	Graph   GraphSnapshot `json:"graph"`
	Issues  []Issue       `json:"issues"`
	Summary Summary       `json:"summary"`
}

// -- Event Schemas --

// EventType names progress events emitted during a run.
type EventType string

const (
	EventStateVisited    EventType = "state:visited"
	EventActionPerformed EventType = "action:performed"
	EventActionFailed    EventType = "action:failed"
	EventIssueFound      EventType = "issue:found"
	EventRunFinished     EventType = "run:finished"
)

// Event is the envelope delivered to subscribers. Payload is one of
// *StateNode, *StateTransition, *Issue or *Summary depending on Type.
type Event struct {
	ID        string
	Timestamp time.Time
	Type      EventType
	Payload   interface{}
}
