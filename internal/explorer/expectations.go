// internal/explorer/expectations.go
package explorer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
	"github.com/xkilldash9x/scalpel-explorer/internal/config"
)

const (
	issueTypeBackend       = "backend"
	ruleBackendExpectation = "backend-expectation"
	ruleBackendError       = "backend-error"
	backendValidatorName   = "backend"
)

// binding is a compiled expectation rule.
type binding struct {
	rule    ExpectationRule
	pattern glob.Glob
	adapter schemas.BackendAdapter
}

// compileBindings resolves rules against the registered adapters.
func compileBindings(rules []ExpectationRule, adapters map[string]schemas.BackendAdapter) ([]binding, error) {
	out := make([]binding, 0, len(rules))
	for _, r := range rules {
		pattern, err := glob.Compile(r.Action)
		if err != nil {
			return nil, fmt.Errorf("%w: expectation action pattern %q: %v", config.ErrConfiguration, r.Action, err)
		}
		adapter, ok := adapters[r.Adapter]
		if !ok {
			return nil, fmt.Errorf("%w: expectation for %q names unknown adapter %q", config.ErrConfiguration, r.Action, r.Adapter)
		}
		out = append(out, binding{rule: r, pattern: pattern, adapter: adapter})
	}
	return out, nil
}

// rulesFromConfig turns configured expectations into rules. An empty adapter
// name means the Postgres adapter.
func rulesFromConfig(cfg config.BackendConfig, defaultAdapter string) []ExpectationRule {
	rules := make([]ExpectationRule, 0, len(cfg.Expectations))
	for _, exp := range cfg.Expectations {
		adapter := exp.Adapter
		if adapter == "" {
			adapter = defaultAdapter
		}
		rules = append(rules, ExpectationRule{
			Action:      exp.Action,
			Adapter:     adapter,
			Expectation: schemas.Expectation{Query: exp.Query, Delta: exp.Delta},
		})
	}
	return rules
}

func (e *Engine) bindingsFor(label string) []binding {
	var out []binding
	for _, b := range e.bindings {
		if b.pattern.Match(label) {
			out = append(out, b)
		}
	}
	return out
}

// baseline lets every adapter bound to the action record its pre-action state.
func (r *run) baseline(ctx context.Context, bindings []binding) {
	for _, b := range bindings {
		if _, err := b.adapter.CaptureState(ctx); err != nil {
			r.logger.Warn("Backend baseline failed.", zap.String("adapter", b.adapter.Name()), zap.Error(err))
		}
	}
}

// verify checks every bound expectation and converts failures into issues
// against the source state.
func (r *run) verify(ctx context.Context, bindings []binding, a schemas.DiscoveredAction, sourceID, viewport string) []schemas.Issue {
	var issues []schemas.Issue
	for _, b := range bindings {
		v, err := b.adapter.Verify(ctx, a.Label, b.rule.Expectation)
		switch {
		case err != nil:
			issues = append(issues, r.backendIssue(schemas.SeverityModerate, ruleBackendError,
				fmt.Sprintf("Backend adapter %s failed to verify %q: %v", b.adapter.Name(), a.Label, err),
				a, sourceID, viewport, nil))
		case !v.Passed:
			details, err := jsoniter.Marshal(v)
			if err != nil {
				r.logger.Warn("Failed to encode backend verification.", zap.String("adapter", b.adapter.Name()), zap.Error(err))
				details = nil
			}
			issues = append(issues, r.backendIssue(schemas.SeveritySerious, ruleBackendExpectation,
				fmt.Sprintf("Action %q did not have the expected backend effect: %s", a.Label, v.Message),
				a, sourceID, viewport, details))
		}
	}
	return issues
}

func (r *run) backendIssue(sev schemas.Severity, rule, desc string, a schemas.DiscoveredAction, sourceID, viewport string, details json.RawMessage) schemas.Issue {
	return schemas.Issue{
		ID:          uuid.NewString(),
		StateID:     sourceID,
		Type:        issueTypeBackend,
		Severity:    sev,
		Rule:        rule,
		Description: desc,
		Elements:    []string{a.Selector},
		Viewport:    viewport,
		Details:     details,
		Validator:   backendValidatorName,
		ObservedAt:  r.e.now().UTC(),
	}
}

// snapshot collects every adapter's state for a newly discovered node.
func (r *run) snapshot(ctx context.Context) map[string]json.RawMessage {
	if len(r.e.adapters) == 0 {
		return nil
	}
	out := make(map[string]json.RawMessage, len(r.e.adapters))
	for _, a := range r.e.adapters {
		raw, err := a.CaptureState(ctx)
		if err != nil {
			r.logger.Warn("Backend snapshot failed.", zap.String("adapter", a.Name()), zap.Error(err))
			continue
		}
		out[a.Name()] = raw
	}
	return out
}
