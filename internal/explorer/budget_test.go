package explorer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
	"github.com/xkilldash9x/scalpel-explorer/internal/config"
)

func TestBudgetReserveNodeIsExact(t *testing.T) {
	b := newBudget(config.ExploreConfig{MaxStates: 25, MaxIterations: 10}, time.Now())

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.reserveNode() {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 25, granted)
	assert.Equal(t, int64(25), b.nodes.Load())
}

func TestBudgetExhausted(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cfg := config.ExploreConfig{MaxStates: 2, MaxIterations: 3, RunTimeout: time.Minute}

	tests := []struct {
		name   string
		setup  func(b *budget)
		now    time.Time
		reason schemas.TerminationReason
	}{
		{name: "fresh budget has room", setup: func(*budget) {}, now: start},
		{name: "expanded states reach the cap", setup: func(b *budget) { b.expanded = 2 }, now: start, reason: schemas.TerminationStateCap},
		{
			name: "iterations reach the cap",
			setup: func(b *budget) {
				for b.reserveIteration() {
				}
			},
			now:    start,
			reason: schemas.TerminationIterationCap,
		},
		{name: "deadline passes", setup: func(*budget) {}, now: start.Add(time.Minute), reason: schemas.TerminationTimeBudget},
		{name: "state cap wins over the deadline", setup: func(b *budget) { b.expanded = 2 }, now: start.Add(time.Hour), reason: schemas.TerminationStateCap},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBudget(cfg, start)
			tt.setup(b)
			reason, done := b.exhausted(tt.now)
			assert.Equal(t, tt.reason != "", done)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestBudgetWithoutTimeout(t *testing.T) {
	b := newBudget(config.ExploreConfig{MaxStates: 1, MaxIterations: 1}, time.Now())
	assert.False(t, b.expired(time.Now().Add(24*time.Hour)))
}
