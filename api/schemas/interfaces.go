package schemas

import (
	"context"
	"encoding/json"
)

// -- Validation Collaborator --

// Validator inspects the live page of a newly visited state. Validators may
// only read the page; they must not navigate or interact with it.
type Validator interface {
	Name() string
	Validate(ctx context.Context, page Page, viewport string) (ValidatorReport, error)
}

// -- Backend Adapter Collaborator --

// Expectation is what an adapter should observe after a named action.
type Expectation struct {
	// Query names the snapshot entry to compare (adapter specific).
	Query string `json:"query" mapstructure:"query" yaml:"query"`
	// Delta is the expected change relative to the previous snapshot.
	Delta int64 `json:"delta" mapstructure:"delta" yaml:"delta"`
}

// Verification is the outcome of an expectation check.
type Verification struct {
	Passed   bool   `json:"passed"`
	Message  string `json:"message"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// BackendAdapter snapshots and verifies side effects outside the browser.
type BackendAdapter interface {
	Name() string
	CaptureState(ctx context.Context) (json.RawMessage, error)
	Verify(ctx context.Context, actionName string, expectation Expectation) (Verification, error)
}

// -- Identity --

// IdentityInput is the set of fields a state id is derived from.
type IdentityInput struct {
	Path        string
	Fingerprint string
	Overlay     string
	Viewport    string
}

// IdentityFunc lets callers replace the default state id computation.
type IdentityFunc func(in IdentityInput) string
