// File: cmd/scalpel-explorer/main_test.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scalpel-explorer/internal/config"
	"github.com/xkilldash9x/scalpel-explorer/internal/reporting"
)

func resetMocks() {
	osWriteFile = os.WriteFile
	osExit = os.Exit
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitOK},
		{"cancellation is a clean stop", fmt.Errorf("run: %w", context.Canceled), exitOK},
		{"threshold exceeded", fmt.Errorf("%w: 2 issue(s)", reporting.ErrThresholdExceeded), exitThreshold},
		{"configuration error", fmt.Errorf("invalid configuration: %w", config.ErrConfiguration), exitConfig},
		{"anything else", errors.New("browser failed to start"), exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestHandlePanic(t *testing.T) {
	defer resetMocks()

	t.Run("writes the panic log and exits with failure", func(t *testing.T) {
		var written []byte
		var code = -1
		osWriteFile = func(name string, data []byte, perm os.FileMode) error {
			assert.Equal(t, panicLogFile, name)
			written = data
			return nil
		}
		osExit = func(c int) { code = c }

		func() {
			defer handlePanic()
			panic("boom")
		}()

		require.NotNil(t, written)
		assert.Contains(t, string(written), "panic: boom")
		assert.Equal(t, exitFailure, code)
	})

	t.Run("still exits when the log cannot be written", func(t *testing.T) {
		var code = -1
		osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only filesystem") }
		osExit = func(c int) { code = c }

		func() {
			defer handlePanic()
			panic("boom")
		}()
		assert.Equal(t, exitFailure, code)
	})

	t.Run("does nothing without a panic", func(t *testing.T) {
		called := false
		osExit = func(int) { called = true }
		func() {
			defer handlePanic()
		}()
		assert.False(t, called)
	})
}
