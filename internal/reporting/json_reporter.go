package reporting

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
	"github.com/xkilldash9x/scalpel-explorer/internal/observability"
)

// ErrResultAlreadyWritten is returned when a second run is written to a JSON
// report; the document holds exactly one ExplorationResult.
var ErrResultAlreadyWritten = errors.New("json report already holds a result")

// JSONReporter writes the ExplorationResult as one indented JSON document.
type JSONReporter struct {
	writer io.WriteCloser
	logger *zap.Logger

	mu     sync.Mutex
	result *schemas.ExplorationResult
}

// NewJSONReporter creates a reporter that owns writer.
func NewJSONReporter(writer io.WriteCloser) *JSONReporter {
	return &JSONReporter{
		writer: writer,
		logger: observability.GetLogger().Named("json_reporter"),
	}
}

func (r *JSONReporter) Write(result *schemas.ExplorationResult) error {
	if result == nil {
		return errNilResult
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.result != nil {
		return ErrResultAlreadyWritten
	}
	r.result = result
	return nil
}

// Close encodes the buffered result and closes the writer. Nothing is written
// when no result was recorded.
func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var encodeErr error
	if r.result != nil {
		encodeErr = encodeIndented(r.writer, r.result)
		r.logger.Info("Writing JSON report",
			zap.Int("states", len(r.result.Graph.Nodes)),
			zap.Int("issues", len(r.result.Issues)),
		)
	}
	closeErr := r.writer.Close()

	if encodeErr != nil {
		return fmt.Errorf("failed to encode JSON output: %w", encodeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	return nil
}
