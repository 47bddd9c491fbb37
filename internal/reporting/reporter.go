// internal/reporting/reporter.go
package reporting

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	json "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
)

// Supported report formats.
const (
	FormatJSON  = "json"
	FormatSARIF = "sarif"
)

var errNilResult = errors.New("nil exploration result")

// Reporter renders exploration results to an output.
type Reporter interface {
	// Write adds a finished run to the report.
	Write(result *schemas.ExplorationResult) error
	// Close finalizes the report and closes the underlying output.
	Close() error
}

// nopWriteCloser keeps stdout open when a reporter closes its writer.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for format writing to outputPath. An empty path or
// "stdout" writes to standard output; "~" is expanded.
func New(format, outputPath, toolVersion string) (Reporter, error) {
	if format != FormatJSON && format != FormatSARIF {
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		writer = &nopWriteCloser{os.Stdout}
	} else {
		path, err := homedir.Expand(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to expand output path %s: %w", outputPath, err)
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
			}
		}
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", path, err)
		}
		writer = f
	}

	if format == FormatSARIF {
		return NewSARIFReporter(writer, toolVersion), nil
	}
	return NewJSONReporter(writer), nil
}

// encodeIndented writes v as indented JSON followed by a newline. Map keys
// are sorted so reports diff cleanly.
func encodeIndented(w io.Writer, v interface{}) error {
	data, err := json.ConfigCompatibleWithStandardLibrary.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}
