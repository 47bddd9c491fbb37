package reporting

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
	"github.com/xkilldash9x/scalpel-explorer/internal/reporting/sarif"
)

func issuesOf(severities ...schemas.Severity) []schemas.Issue {
	issues := make([]schemas.Issue, len(severities))
	for i, s := range severities {
		issues[i] = schemas.Issue{Severity: s}
	}
	return issues
}

func TestCheckThreshold(t *testing.T) {
	tests := []struct {
		name    string
		issues  []schemas.Issue
		failOn  string
		wantErr bool
	}{
		{"no threshold never fails", issuesOf(schemas.SeverityCritical), "", false},
		{"no issues pass", nil, "minor", false},
		{"below the threshold passes", issuesOf(schemas.SeverityMinor, schemas.SeverityModerate), "serious", false},
		{"at the threshold fails", issuesOf(schemas.SeverityMinor, schemas.SeveritySerious), "serious", true},
		{"above the threshold fails", issuesOf(schemas.SeverityCritical), "moderate", true},
		{"threshold input is case insensitive", issuesOf(schemas.SeverityCritical), " Critical ", true},
		{"unknown severities never count", issuesOf("bogus"), "minor", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckThreshold(tt.issues, tt.failOn)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrThresholdExceeded)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	t.Run("counts the offending issues", func(t *testing.T) {
		err := CheckThreshold(issuesOf(schemas.SeverityCritical, schemas.SeveritySerious, schemas.SeverityMinor), "serious")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "2 issue(s) at serious or above")
	})

	t.Run("rejects an unknown threshold", func(t *testing.T) {
		err := CheckThreshold(nil, "blocker")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrThresholdExceeded)
	})
}

func TestCountBySeverity(t *testing.T) {
	got := CountBySeverity(issuesOf(schemas.SeverityMinor, schemas.SeverityMinor, schemas.SeverityCritical))
	want := map[schemas.Severity]int{schemas.SeverityMinor: 2, schemas.SeverityCritical: 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("CountBySeverity() mismatch (-want +got):\n%s", diff)
	}
}

func TestMapSeverityToSARIFLevel(t *testing.T) {
	tests := []struct {
		input schemas.Severity
		want  sarif.Level
	}{
		{schemas.SeverityCritical, sarif.LevelError},
		{schemas.SeveritySerious, sarif.LevelError},
		{schemas.SeverityModerate, sarif.LevelWarning},
		{schemas.SeverityMinor, sarif.LevelNote},
		{"unknown", sarif.LevelNote},
	}
	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			assert.Equal(t, tt.want, mapSeverityToSARIFLevel(tt.input))
		})
	}
}
