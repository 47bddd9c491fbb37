package reporting

import (
	"errors"
	"fmt"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
)

// ErrThresholdExceeded marks a run whose issues reach the failure threshold.
var ErrThresholdExceeded = errors.New("issues at or above the failure threshold")

// CountBySeverity tallies issues per severity.
func CountBySeverity(issues []schemas.Issue) map[schemas.Severity]int {
	counts := make(map[schemas.Severity]int)
	for _, is := range issues {
		counts[is.Severity]++
	}
	return counts
}

// CheckThreshold fails when any issue is at least as severe as failOn. An
// empty threshold never fails.
func CheckThreshold(issues []schemas.Issue, failOn string) error {
	if failOn == "" {
		return nil
	}
	threshold, ok := schemas.ParseSeverity(failOn)
	if !ok {
		return fmt.Errorf("unknown severity threshold %q", failOn)
	}

	var hits int
	for _, is := range issues {
		if is.Severity.AtLeast(threshold) {
			hits++
		}
	}
	if hits > 0 {
		return fmt.Errorf("%w: %d issue(s) at %s or above", ErrThresholdExceeded, hits, threshold)
	}
	return nil
}
