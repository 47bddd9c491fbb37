// File: cmd/scalpel-explorer/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/scalpel-explorer/cmd"
	"github.com/xkilldash9x/scalpel-explorer/internal/config"
	"github.com/xkilldash9x/scalpel-explorer/internal/observability"
	"github.com/xkilldash9x/scalpel-explorer/internal/reporting"
)

const panicLogFile = "panic.log"

// Exit codes.
const (
	exitOK        = 0
	exitFailure   = 1
	exitThreshold = 2
	exitConfig    = 3
)

// Function variables for mocking in tests.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
)

func main() {
	defer handlePanic()

	// Ctrl+C cancels the run; the explorer stops between actions and the
	// partial graph is still reported.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	osExit(exitCode(cmd.Execute(ctx)))
}

// exitCode maps the command error onto the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return exitOK
	case errors.Is(err, reporting.ErrThresholdExceeded):
		return exitThreshold
	case errors.Is(err, config.ErrConfiguration):
		return exitConfig
	default:
		return exitFailure
	}
}

// handlePanic writes the stack to panicLogFile and exits non-zero.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(panicMessage), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
		fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", panicMessage)
		osExit(exitFailure)
		return
	}
	fmt.Fprintf(os.Stderr, "\nCRASH DETECTED. Details logged to %s\n", panicLogFile)
	osExit(exitFailure)
}
