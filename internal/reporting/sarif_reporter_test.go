// internal/reporting/sarif_reporter_test.go
package reporting_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
	"github.com/xkilldash9x/scalpel-explorer/internal/reporting"
	"github.com/xkilldash9x/scalpel-explorer/internal/reporting/sarif"
)

// MockWriteCloser captures output and simulates I/O errors.
type MockWriteCloser struct {
	Buffer    *bytes.Buffer
	FailWrite bool
	FailClose bool
	Closed    bool
}

func (m *MockWriteCloser) Write(p []byte) (n int, err error) {
	if m.FailWrite {
		return 0, errors.New("simulated write error")
	}
	return m.Buffer.Write(p)
}

func (m *MockWriteCloser) Close() error {
	m.Closed = true
	if m.FailClose {
		return errors.New("simulated close error")
	}
	return nil
}

func setupSARIFTest(_ *testing.T) (*reporting.SARIFReporter, *MockWriteCloser) {
	mockWriter := &MockWriteCloser{Buffer: new(bytes.Buffer)}
	return reporting.NewSARIFReporter(mockWriter, "v1.2.3-test"), mockWriter
}

func decodeSARIF(t *testing.T, w *MockWriteCloser) sarif.Log {
	t.Helper()
	var log sarif.Log
	require.NoError(t, json.Unmarshal(w.Buffer.Bytes(), &log), "output should be valid SARIF JSON")
	require.Len(t, log.Runs, 1)
	return log
}

func sampleResult() *schemas.ExplorationResult {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &schemas.ExplorationResult{
		Graph: schemas.GraphSnapshot{
			Nodes: []schemas.StateNode{
				{ID: "s-home", State: schemas.AppState{ID: "s-home", URL: "https://app.test/", Viewport: "desktop"}},
				{ID: "s-form", Depth: 1, State: schemas.AppState{ID: "s-form", URL: "https://app.test/signup", Viewport: "desktop"}},
			},
		},
		Issues: []schemas.Issue{
			{
				ID: "i-1", StateID: "s-home", Type: "accessibility", Severity: schemas.SeverityCritical,
				Rule: "image-alt", Description: "Images must have alternate text",
				Elements: []string{"img.hero"}, Viewport: "desktop", Validator: "page-basics",
				HelpURL: "https://dequeuniversity.com/rules/axe/4.8/image-alt",
			},
			{
				ID: "i-2", StateID: "s-form", Type: "backend", Severity: schemas.SeveritySerious,
				Rule: "backend-expectation", Description: "orders changed by 0, expected 1",
				Viewport: "desktop", Validator: "postgres", Details: json.RawMessage(`{"expected":"1","actual":"0"}`),
			},
			{
				ID: "i-3", StateID: "s-gone", Type: "accessibility", Severity: schemas.SeverityMinor,
				Rule: "document-lang", Viewport: "mobile", Validator: "page-basics",
			},
		},
		Summary: schemas.Summary{
			RunID: "run-1", StartedAt: started, DurationMs: 1500,
			StatesExplored: 2, IssuesFound: 3, TerminationReason: schemas.TerminationFrontierEmpty,
		},
	}
}

func TestSARIFReporter_EmptyReport(t *testing.T) {
	reporter, writer := setupSARIFTest(t)
	require.NoError(t, reporter.Close())
	assert.True(t, writer.Closed)

	log := decodeSARIF(t, writer)
	assert.Equal(t, reporting.SARIFVersion, log.Version)
	assert.Equal(t, reporting.SARIFSchema, log.Schema)

	run := log.Runs[0]
	require.NotNil(t, run.Tool)
	require.NotNil(t, run.Tool.Driver)
	assert.Equal(t, reporting.ToolName, run.Tool.Driver.Name)
	assert.Equal(t, "v1.2.3-test", *run.Tool.Driver.Version)
	require.NotNil(t, run.Results, "results should encode as [] not null")
	assert.Empty(t, run.Results)
	assert.Empty(t, run.Tool.Driver.Rules)
}

func TestSARIFReporter_WriteAndClose(t *testing.T) {
	reporter, writer := setupSARIFTest(t)
	require.NoError(t, reporter.Write(sampleResult()))
	require.NoError(t, reporter.Close())

	run := decodeSARIF(t, writer).Runs[0]
	require.Len(t, run.Results, 3)
	require.Len(t, run.Tool.Driver.Rules, 3)

	t.Run("maps the issue onto the result", func(t *testing.T) {
		res := run.Results[0]
		assert.Equal(t, "EXPLORER-IMAGE-ALT", res.RuleID)
		assert.Equal(t, sarif.LevelError, res.Level)
		assert.Equal(t, "Images must have alternate text", *res.Message.Text)
		assert.NotEmpty(t, res.PartialFingerprints["explorerIssue/v1"])

		require.Len(t, res.Locations, 1)
		loc := res.Locations[0]
		assert.Equal(t, "https://app.test/", *loc.PhysicalLocation.ArtifactLocation.URI)
		require.Len(t, loc.LogicalLocations, 1)
		assert.Equal(t, "desktop/s-home", *loc.LogicalLocations[0].FullyQualifiedName)

		props := *res.Properties
		assert.Equal(t, "s-home", props["state_id"])
		assert.Equal(t, []interface{}{"img.hero"}, props["elements"])
	})

	t.Run("registers help on the rule", func(t *testing.T) {
		rule := run.Tool.Driver.Rules[0]
		assert.Equal(t, "EXPLORER-IMAGE-ALT", rule.ID)
		require.NotNil(t, rule.HelpURI)
		assert.Contains(t, *rule.HelpURI, "image-alt")
		assert.Contains(t, *rule.Help.Markdown, "[image-alt]")
	})

	t.Run("carries structured details", func(t *testing.T) {
		res := run.Results[1]
		assert.Equal(t, sarif.LevelError, res.Level)
		details, ok := (*res.Properties)["details"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "0", details["actual"])
	})

	t.Run("falls back to the rule when the description is empty", func(t *testing.T) {
		res := run.Results[2]
		assert.Equal(t, sarif.LevelNote, res.Level)
		assert.Equal(t, "document-lang", *res.Message.Text)
		assert.Nil(t, res.Locations[0].PhysicalLocation, "unknown states have no URL")
	})

	t.Run("records the invocation and summary", func(t *testing.T) {
		require.Len(t, run.Invocations, 1)
		inv := run.Invocations[0]
		assert.True(t, inv.ExecutionSuccessful)
		assert.Equal(t, "frontier_empty", *inv.ExitCodeDescription)
		assert.Equal(t, "2026-03-01T10:00:00Z", *inv.StartTimeUTC)
		assert.Equal(t, "2026-03-01T10:00:01.5Z", *inv.EndTimeUTC)

		summary, ok := (*run.Properties)["summary"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "run-1", summary["run_id"])
		assert.EqualValues(t, 3, summary["issues_found"])
	})
}

func TestSARIFReporter_FatalRunIsUnsuccessful(t *testing.T) {
	reporter, writer := setupSARIFTest(t)
	result := &schemas.ExplorationResult{Summary: schemas.Summary{
		TerminationReason: schemas.TerminationFatal,
		Errors:            []string{"root https://app.test/ aborted"},
	}}
	require.NoError(t, reporter.Write(result))
	require.NoError(t, reporter.Close())

	inv := decodeSARIF(t, writer).Runs[0].Invocations[0]
	assert.False(t, inv.ExecutionSuccessful)
	assert.Nil(t, inv.StartTimeUTC)
}

func TestSARIFReporter_RuleCollisionHandling(t *testing.T) {
	reporter, writer := setupSARIFTest(t)

	issues := []schemas.Issue{
		{Rule: "label", Validator: "page-basics", Type: "accessibility", Severity: schemas.SeverityModerate, StateID: "a"},
		// Same rule name from another validator is a different rule.
		{Rule: "label", Validator: "axe", Type: "accessibility", Severity: schemas.SeverityModerate, StateID: "a"},
		// Same definition on another state reuses the first rule.
		{Rule: "label", Validator: "page-basics", Type: "accessibility", Severity: schemas.SeverityModerate, StateID: "b"},
		{Rule: "", Validator: "page-basics", Type: "validator-error", Severity: schemas.SeverityModerate},
		{Rule: "--!!--", Validator: "page-basics", Type: "layout", Severity: schemas.SeverityMinor},
		{Rule: "overflow x/hidden", Validator: "layout", Type: "layout", Severity: schemas.SeverityMinor},
	}
	require.NoError(t, reporter.Write(&schemas.ExplorationResult{Issues: issues}))
	require.NoError(t, reporter.Close())

	run := decodeSARIF(t, writer).Runs[0]
	ids := make([]string, len(run.Results))
	for i, r := range run.Results {
		ids[i] = r.RuleID
	}
	assert.Equal(t, []string{
		"EXPLORER-LABEL",
		"EXPLORER-LABEL-1",
		"EXPLORER-LABEL",
		"EXPLORER-UNNAMED-RULE",
		"EXPLORER-UNKNOWN-RULE",
		"EXPLORER-OVERFLOW-X-HIDDEN",
	}, ids)
	assert.Len(t, run.Tool.Driver.Rules, 5)
}

func TestSARIFReporter_Concurrency(t *testing.T) {
	reporter, writer := setupSARIFTest(t)

	const numGoroutines = 50
	const issuesPerGoroutine = 20
	const numUniqueRules = 5

	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < issuesPerGoroutine; j++ {
				issue := schemas.Issue{
					Rule:      fmt.Sprintf("rule-%d", (id+j)%numUniqueRules),
					Validator: "page-basics",
					Severity:  schemas.SeverityMinor,
				}
				assert.NoError(t, reporter.Write(&schemas.ExplorationResult{Issues: []schemas.Issue{issue}}))
			}
		}(i)
	}
	wg.Wait()
	require.NoError(t, reporter.Close())

	run := decodeSARIF(t, writer).Runs[0]
	assert.Len(t, run.Results, numGoroutines*issuesPerGoroutine)
	assert.Len(t, run.Tool.Driver.Rules, numUniqueRules)
}

func TestSARIFReporter_ErrorHandling(t *testing.T) {
	t.Run("reports a close error", func(t *testing.T) {
		mockWriter := &MockWriteCloser{Buffer: new(bytes.Buffer), FailClose: true}
		reporter := reporting.NewSARIFReporter(mockWriter, testToolVersion)

		err := reporter.Close()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to close output writer")
	})

	t.Run("reports an encode error and still closes", func(t *testing.T) {
		mockWriter := &MockWriteCloser{Buffer: new(bytes.Buffer), FailWrite: true}
		reporter := reporting.NewSARIFReporter(mockWriter, testToolVersion)
		require.NoError(t, reporter.Write(sampleResult()))

		err := reporter.Close()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to encode SARIF output")
		assert.True(t, mockWriter.Closed)
	})

	t.Run("rejects a nil result", func(t *testing.T) {
		reporter, _ := setupSARIFTest(t)
		assert.Error(t, reporter.Write(nil))
	})
}
