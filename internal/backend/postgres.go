// Package backend holds adapters that observe application side effects
// outside the browser.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/jackc/pgx/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
)

// AdapterName is the name expectations use to address the Postgres adapter.
const AdapterName = "postgres"

// ErrUnknownQuery is returned when an expectation names a query that is not configured.
var ErrUnknownQuery = errors.New("unknown backend query")

// Querier is the part of pgxpool.Pool the adapter needs.
type Querier interface {
	Ping(ctx context.Context) error
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Snapshot maps a query name to the value it returned.
type Snapshot map[string]int64

// PostgresAdapter snapshots named counting queries and verifies that an
// action changed them by the expected amount. Each query must return a
// single integer.
type PostgresAdapter struct {
	pool    Querier
	queries map[string]string
	names   []string
	logger  *zap.Logger

	mu   sync.Mutex
	last Snapshot
}

// NewPostgresAdapter verifies the connection and builds the adapter.
func NewPostgresAdapter(ctx context.Context, pool Querier, queries map[string]string, logger *zap.Logger) (*PostgresAdapter, error) {
	if len(queries) == 0 {
		return nil, errors.New("postgres adapter needs at least one query")
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping backend database: %w", err)
	}
	names := make([]string, 0, len(queries))
	for name := range queries {
		names = append(names, name)
	}
	sort.Strings(names)
	return &PostgresAdapter{
		pool:    pool,
		queries: queries,
		names:   names,
		logger:  logger.Named("postgres_adapter"),
	}, nil
}

func (a *PostgresAdapter) Name() string { return AdapterName }

// CaptureState runs every query and remembers the result as the baseline for
// the next Verify.
func (a *PostgresAdapter) CaptureState(ctx context.Context) (json.RawMessage, error) {
	snap := make(Snapshot, len(a.names))
	for _, name := range a.names {
		v, err := a.count(ctx, name)
		if err != nil {
			return nil, err
		}
		snap[name] = v
	}
	a.mu.Lock()
	a.last = snap
	a.mu.Unlock()

	raw, err := jsoniter.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return raw, nil
}

// Verify compares the current value of the expectation's query with the last
// captured baseline.
func (a *PostgresAdapter) Verify(ctx context.Context, actionName string, exp schemas.Expectation) (schemas.Verification, error) {
	if _, ok := a.queries[exp.Query]; !ok {
		return schemas.Verification{}, fmt.Errorf("%w: %q", ErrUnknownQuery, exp.Query)
	}
	a.mu.Lock()
	before, ok := a.last[exp.Query]
	a.mu.Unlock()
	if !ok {
		return schemas.Verification{}, fmt.Errorf("no baseline for query %q before %q", exp.Query, actionName)
	}

	after, err := a.count(ctx, exp.Query)
	if err != nil {
		return schemas.Verification{}, err
	}
	delta := after - before
	v := schemas.Verification{
		Passed:   delta == exp.Delta,
		Expected: strconv.FormatInt(exp.Delta, 10),
		Actual:   strconv.FormatInt(delta, 10),
	}
	if v.Passed {
		v.Message = fmt.Sprintf("%s changed by %d", exp.Query, delta)
	} else {
		v.Message = fmt.Sprintf("%s changed by %d, expected %d", exp.Query, delta, exp.Delta)
	}
	a.logger.Debug("Verified backend expectation.",
		zap.String("action", actionName),
		zap.String("query", exp.Query),
		zap.Int64("delta", delta),
		zap.Bool("passed", v.Passed),
	)
	return v, nil
}

func (a *PostgresAdapter) count(ctx context.Context, name string) (int64, error) {
	var v int64
	if err := a.pool.QueryRow(ctx, a.queries[name]).Scan(&v); err != nil {
		return 0, fmt.Errorf("backend query %q failed: %w", name, err)
	}
	return v, nil
}
