// internal/reporting/reporter_test.go
package reporting_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scalpel-explorer/internal/reporting"
)

const testToolVersion = "v1.0.0-test"

func TestNew_Stdout(t *testing.T) {
	for _, format := range []string{reporting.FormatJSON, reporting.FormatSARIF} {
		for _, path := range []string{"", "stdout"} {
			t.Run(format+" to "+path, func(t *testing.T) {
				r, err := reporting.New(format, path, testToolVersion)
				require.NoError(t, err)
				require.NotNil(t, r)
				// Closing the stdout wrapper must not close the process stdout.
				assert.NoError(t, r.Close())
			})
		}
	}
}

func TestNew_File(t *testing.T) {
	t.Run("creates the SARIF file and its directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "reports", "run.sarif")

		r, err := reporting.New(reporting.FormatSARIF, path, testToolVersion)
		require.NoError(t, err)
		_, ok := r.(*reporting.SARIFReporter)
		assert.True(t, ok)

		require.NoError(t, r.Close())
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"version": "2.1.0"`)
	})

	t.Run("creates a JSON reporter", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "run.json")

		r, err := reporting.New(reporting.FormatJSON, path, testToolVersion)
		require.NoError(t, err)
		_, ok := r.(*reporting.JSONReporter)
		assert.True(t, ok)
		require.NoError(t, r.Close())
		assert.FileExists(t, path)
	})
}

func TestNew_Failures(t *testing.T) {
	t.Run("rejects an unknown format without touching the output", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out.txt")
		r, err := reporting.New("text", path, testToolVersion)
		assert.Nil(t, r)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported output format: text")
		assert.NoFileExists(t, path)
	})

	t.Run("reports an unwritable output path", func(t *testing.T) {
		// A directory cannot be created as a file.
		r, err := reporting.New(reporting.FormatSARIF, t.TempDir(), testToolVersion)
		assert.Nil(t, r)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create output file")
	})
}
