// internal/explorer/errors.go
package explorer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
	"github.com/xkilldash9x/scalpel-explorer/internal/config"
)

var (
	// ErrTransientAction marks an action that timed out or lost its element.
	ErrTransientAction = errors.New("transient action failure")
	// ErrNavigation marks an unreachable target or a non-success response.
	ErrNavigation = schemas.ErrNavigation
	// ErrAutomationFatal marks a dead browser; it aborts the affected root.
	ErrAutomationFatal = schemas.ErrAutomationFatal
	// ErrConfiguration is returned before traversal starts.
	ErrConfiguration = config.ErrConfiguration
	// ErrReplayDrift means a recorded path no longer leads to its state.
	ErrReplayDrift = errors.New("replay did not reach the recorded state")
	// ErrOutOfScope means an action left the explored site or hit an excluded path.
	ErrOutOfScope = errors.New("transition out of scope")
)

// ActionError is a classified action failure.
type ActionError struct {
	Kind     schemas.FailureKind
	Selector string
	Err      error
}

func (e *ActionError) Error() string {
	if e.Selector == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s on %s: %v", e.Kind, e.Selector, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// Fatal reports whether the failure should abort the root.
func (e *ActionError) Fatal() bool { return e.Kind == schemas.FailureFatal }

// classify maps a driver error onto the failure taxonomy.
func classify(selector string, err error) *ActionError {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae
	}
	kind := schemas.FailureTransient
	switch {
	case errors.Is(err, schemas.ErrAutomationFatal):
		kind = schemas.FailureFatal
	case errors.Is(err, schemas.ErrNavigation):
		kind = schemas.FailureNavigation
	case errors.Is(err, ErrReplayDrift):
		kind = schemas.FailureReplay
	case errors.Is(err, ErrOutOfScope):
		kind = schemas.FailureOutOfScope
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, schemas.ErrElementNotFound):
		err = fmt.Errorf("%w: %w", ErrTransientAction, err)
	}
	return &ActionError{Kind: kind, Selector: selector, Err: err}
}

func isFatal(err error) bool { return errors.Is(err, schemas.ErrAutomationFatal) }

// RootFailure records why a root was abandoned.
type RootFailure struct {
	RootURL  string
	Viewport string
	Err      error
}

// RunError collects the fatal failures of a run. The partial result is still
// returned alongside it.
type RunError struct {
	Failures []RootFailure
}

func (e *RunError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s (%s): %v", f.RootURL, f.Viewport, f.Err)
	}
	return fmt.Sprintf("exploration aborted %d root(s): %s", len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes every root failure to errors.Is and errors.As.
func (e *RunError) Unwrap() []error {
	out := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Err
	}
	return out
}
