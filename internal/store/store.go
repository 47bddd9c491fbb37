package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
)

// DBPool abstracts pgxpool.Pool so the store can be tested with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store persists finished exploration runs to PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

//go:embed schema.sql
var schemaDDL string

var (
	stateColumns = []string{"id", "run_id", "depth", "url", "path", "title", "fingerprint", "overlay", "viewport", "root_url", "replay_path", "addressable", "expanded", "expand_error", "captured_at"}
	issueColumns = []string{"id", "run_id", "state_id", "type", "severity", "rule", "description", "elements", "viewport", "help_url", "details", "validator", "observed_at"}
)

const (
	sqlInsertRun = `
        INSERT INTO runs (id, started_at, termination_reason, summary)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO UPDATE SET
            termination_reason = EXCLUDED.termination_reason,
            summary = EXCLUDED.summary;
    `
	sqlInsertTransition = `
        INSERT INTO transitions (id, run_id, from_state, to_state, viewport, action, value, failed, failure_kind, failure, duration_ms, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        ON CONFLICT (id) DO NOTHING;
    `
	sqlIssuesByRun = `
        SELECT id, state_id, type, severity, rule, description, elements, viewport, help_url, details, validator, observed_at
        FROM issues
        WHERE run_id = $1
        ORDER BY observed_at ASC;
    `
)

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the tables PersistRun writes to when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// PersistRun writes a run, its states, transitions and issues in one
// transaction.
func (s *Store) PersistRun(ctx context.Context, result *schemas.ExplorationResult) error {
	if result == nil {
		return errors.New("nil exploration result")
	}
	runID := result.Summary.RunID

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	summary, err := json.Marshal(result.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	if _, err := tx.Exec(ctx, sqlInsertRun, runID, result.Summary.StartedAt.UTC(), string(result.Summary.TerminationReason), summary); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", runID, err)
	}

	if len(result.Graph.Nodes) > 0 {
		if err := s.persistStates(ctx, tx, runID, result.Graph.Nodes); err != nil {
			return err
		}
	}
	if len(result.Graph.Edges) > 0 {
		if err := s.persistTransitions(ctx, tx, runID, result.Graph.Edges); err != nil {
			return err
		}
	}
	if len(result.Issues) > 0 {
		if err := s.persistIssues(ctx, tx, runID, result.Issues); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Run persisted.",
		zap.String("run_id", runID),
		zap.Int("states", len(result.Graph.Nodes)),
		zap.Int("transitions", len(result.Graph.Edges)),
		zap.Int("issues", len(result.Issues)),
	)
	return nil
}

func (s *Store) persistStates(ctx context.Context, tx pgx.Tx, runID string, nodes []schemas.StateNode) error {
	rows := make([][]interface{}, len(nodes))
	for i, n := range nodes {
		path, err := json.Marshal(n.Path)
		if err != nil {
			return fmt.Errorf("failed to marshal replay path of state %s: %w", n.ID, err)
		}
		rows[i] = []interface{}{
			n.ID, runID, n.Depth,
			n.State.URL, n.State.Path, n.State.Title, n.State.Fingerprint, n.State.Overlay,
			n.State.Viewport, n.RootURL, path,
			n.Addressable, n.Expanded, n.ExpandError,
			n.State.CapturedAt.UTC(),
		}
	}
	copied, err := tx.CopyFrom(ctx, pgx.Identifier{"states"}, stateColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy states: %w", err)
	}
	if int(copied) != len(nodes) {
		return fmt.Errorf("mismatch in copied states count: expected %d, got %d", len(nodes), copied)
	}
	return nil
}

// persistTransitions batches the edges; failed edges have no target state.
func (s *Store) persistTransitions(ctx context.Context, tx pgx.Tx, runID string, edges []schemas.StateTransition) error {
	batch := &pgx.Batch{}
	for _, e := range edges {
		action, err := json.Marshal(e.Action)
		if err != nil {
			return fmt.Errorf("failed to marshal action of transition %s: %w", e.ID, err)
		}
		var to *string
		if e.To != "" {
			target := e.To
			to = &target
		}
		batch.Queue(sqlInsertTransition,
			e.ID, runID, e.From, to, e.Viewport, action, e.Value,
			e.Failed, string(e.FailureKind), e.Failure, e.DurationMs, e.CreatedAt.UTC(),
		)
	}

	br := tx.SendBatch(ctx, batch)
	if br == nil {
		return fmt.Errorf("failed to send batch: batch results is nil")
	}
	defer func() {
		_ = br.Close()
	}()
	for i := range edges {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert transition %s (index %d): %w", edges[i].ID, i, err)
		}
	}
	return nil
}

func (s *Store) persistIssues(ctx context.Context, tx pgx.Tx, runID string, issues []schemas.Issue) error {
	rows := make([][]interface{}, len(issues))
	for i, is := range issues {
		details := is.Details
		if len(details) == 0 || string(details) == "null" {
			details = []byte("{}")
		}
		elements := is.Elements
		if elements == nil {
			elements = []string{}
		}
		rows[i] = []interface{}{
			is.ID, runID, is.StateID, is.Type, string(is.Severity), is.Rule, is.Description,
			elements, is.Viewport, is.HelpURL, details, is.Validator,
			is.ObservedAt.UTC(),
		}
	}
	copied, err := tx.CopyFrom(ctx, pgx.Identifier{"issues"}, issueColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy issues: %w", err)
	}
	if int(copied) != len(issues) {
		return fmt.Errorf("mismatch in copied issues count: expected %d, got %d", len(issues), copied)
	}
	return nil
}

// IssuesByRunID loads the issues of a stored run in observation order.
func (s *Store) IssuesByRunID(ctx context.Context, runID string) ([]schemas.Issue, error) {
	rows, err := s.pool.Query(ctx, sqlIssuesByRun, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query issues: %w", err)
	}
	defer rows.Close()

	var issues []schemas.Issue
	for rows.Next() {
		var (
			is       schemas.Issue
			severity string
			details  []byte
		)
		if err := rows.Scan(
			&is.ID, &is.StateID, &is.Type, &severity, &is.Rule, &is.Description,
			&is.Elements, &is.Viewport, &is.HelpURL, &details, &is.Validator,
			&is.ObservedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan issue row: %w", err)
		}
		is.Severity = schemas.Severity(severity)
		if len(details) > 0 && string(details) != "{}" {
			is.Details = details
		}
		issues = append(issues, is)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return issues, nil
}
