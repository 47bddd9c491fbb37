package reporting_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
	"github.com/xkilldash9x/scalpel-explorer/internal/reporting"
)

func TestJSONReporter(t *testing.T) {
	t.Run("writes the result as an indented document", func(t *testing.T) {
		writer := &MockWriteCloser{Buffer: new(bytes.Buffer)}
		reporter := reporting.NewJSONReporter(writer)

		require.NoError(t, reporter.Write(sampleResult()))
		require.NoError(t, reporter.Close())
		assert.True(t, writer.Closed)

		out := writer.Buffer.String()
		assert.Contains(t, out, "\n  \"graph\": {")
		assert.True(t, bytes.HasSuffix(writer.Buffer.Bytes(), []byte("\n")))

		var decoded schemas.ExplorationResult
		require.NoError(t, json.Unmarshal(writer.Buffer.Bytes(), &decoded))
		assert.Equal(t, "run-1", decoded.Summary.RunID)
		require.Len(t, decoded.Issues, 3)
		assert.JSONEq(t, `{"expected":"1","actual":"0"}`, string(decoded.Issues[1].Details))
		assert.Len(t, decoded.Graph.Nodes, 2)
	})

	t.Run("accepts a single result", func(t *testing.T) {
		reporter := reporting.NewJSONReporter(&MockWriteCloser{Buffer: new(bytes.Buffer)})
		require.NoError(t, reporter.Write(sampleResult()))
		assert.ErrorIs(t, reporter.Write(sampleResult()), reporting.ErrResultAlreadyWritten)
	})

	t.Run("writes nothing without a result", func(t *testing.T) {
		writer := &MockWriteCloser{Buffer: new(bytes.Buffer)}
		reporter := reporting.NewJSONReporter(writer)
		require.NoError(t, reporter.Close())
		assert.Zero(t, writer.Buffer.Len())
		assert.True(t, writer.Closed)
	})

	t.Run("surfaces write failures", func(t *testing.T) {
		writer := &MockWriteCloser{Buffer: new(bytes.Buffer), FailWrite: true}
		reporter := reporting.NewJSONReporter(writer)
		require.NoError(t, reporter.Write(sampleResult()))

		err := reporter.Close()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to encode JSON output")
	})
}
