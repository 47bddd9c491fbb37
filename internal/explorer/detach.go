// internal/explorer/detach.go
package explorer

import (
	"context"
	"time"
)

// valueOnlyContext keeps the values of its parent but none of its deadline
// or cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }

// Detach returns a context that inherits values from ctx but is not canceled
// when ctx is. Driver calls run detached; the run context is only consulted
// between actions.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}

// actionContext bounds one driver call by timeout, independent of the run context.
func actionContext(runCtx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(Detach(runCtx), timeout)
}
