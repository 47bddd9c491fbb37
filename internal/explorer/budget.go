// internal/explorer/budget.go
package explorer

import (
	"sync/atomic"
	"time"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
	"github.com/xkilldash9x/scalpel-explorer/internal/config"
)

// budget bounds a viewport (independent mode) or the whole run (shared mode).
// Node and iteration slots are reserved by workers; expanded and refused are
// writer owned.
type budget struct {
	maxStates     int64
	maxIterations int64
	deadline      time.Time

	nodes      atomic.Int64
	iterations atomic.Int64
	expanded   int
	refused    int
}

func newBudget(cfg config.ExploreConfig, start time.Time) *budget {
	b := &budget{maxStates: int64(cfg.MaxStates), maxIterations: int64(cfg.MaxIterations)}
	if cfg.RunTimeout > 0 {
		b.deadline = start.Add(cfg.RunTimeout)
	}
	return b
}

func reserve(counter *atomic.Int64, limit int64) bool {
	if counter.Add(1) > limit {
		counter.Add(-1)
		return false
	}
	return true
}

// reserveNode claims room for one more node.
func (b *budget) reserveNode() bool { return reserve(&b.nodes, b.maxStates) }

// reserveIteration claims one action execution.
func (b *budget) reserveIteration() bool { return reserve(&b.iterations, b.maxIterations) }

func (b *budget) expired(now time.Time) bool {
	return !b.deadline.IsZero() && !now.Before(b.deadline)
}

// exhausted returns the reason no further node may be expanded, if any.
func (b *budget) exhausted(now time.Time) (schemas.TerminationReason, bool) {
	switch {
	case int64(b.expanded) >= b.maxStates:
		return schemas.TerminationStateCap, true
	case b.iterations.Load() >= b.maxIterations:
		return schemas.TerminationIterationCap, true
	case b.expired(now):
		return schemas.TerminationTimeBudget, true
	}
	return "", false
}
