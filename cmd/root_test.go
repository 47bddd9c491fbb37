// File: cmd/root_test.go
package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
	"github.com/xkilldash9x/scalpel-explorer/internal/config"
)

func TestRootCmd_VersionFlag(t *testing.T) {
	out, err := executeRoot(t, nil, "--version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestVersionCmd(t *testing.T) {
	out, err := executeRoot(t, nil, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "scalpel-explorer "+Version)
}

func TestRootCmd_NoArgs(t *testing.T) {
	out, err := executeRoot(t, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "Scalpel Explorer maps a web application as a graph of UI states.")
	assert.Contains(t, out, "explore")
}

func TestParseViewport(t *testing.T) {
	tests := []struct {
		spec    string
		want    schemas.Viewport
		wantErr bool
	}{
		{spec: "desktop:1366x768", want: schemas.Viewport{Name: "desktop", Width: 1366, Height: 768}},
		{spec: "phone:390X844:mobile", want: schemas.Viewport{Name: "phone", Width: 390, Height: 844, Mobile: true}},
		{spec: " tablet:820x1180 ", want: schemas.Viewport{Name: "tablet", Width: 820, Height: 1180}},
		{spec: "phone", wantErr: true},
		{spec: ":390x844", wantErr: true},
		{spec: "phone:390", wantErr: true},
		{spec: "phone:wide x844", wantErr: true},
		{spec: "phone:390x844:touch", wantErr: true},
		{spec: "phone:390x844:mobile:extra", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := parseViewport(tt.spec)
			if tt.wantErr {
				assert.ErrorIs(t, err, config.ErrConfiguration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
