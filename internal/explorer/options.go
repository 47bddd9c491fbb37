// internal/explorer/options.go
package explorer

import (
	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
)

// Option configures an Engine.
type Option func(*Engine)

// WithValidators replaces the validators resolved from configuration.
func WithValidators(validators ...schemas.Validator) Option {
	return func(e *Engine) {
		e.validators = validators
		e.validatorsSet = true
	}
}

// WithAdapters registers backend adapters. Adapters are looked up by Name()
// from expectations and snapshot every newly discovered state.
func WithAdapters(adapters ...schemas.BackendAdapter) Option {
	return func(e *Engine) {
		e.adapters = append(e.adapters, adapters...)
	}
}

// WithIdentityFunc replaces the default state id computation.
func WithIdentityFunc(fn schemas.IdentityFunc) Option {
	return func(e *Engine) {
		e.identityFn = fn
	}
}

// ExpectationRule binds actions whose label matches the Action glob to a
// backend expectation checked by the named adapter.
type ExpectationRule struct {
	Action      string
	Adapter     string
	Expectation schemas.Expectation
}

// WithExpectations adds expectation rules on top of the configured ones.
func WithExpectations(rules ...ExpectationRule) Option {
	return func(e *Engine) {
		e.rules = append(e.rules, rules...)
	}
}

// WithEventBuffer sets the per-subscriber event buffer size.
func WithEventBuffer(size int) Option {
	return func(e *Engine) {
		e.eventBuffer = size
	}
}
