package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
	"github.com/xkilldash9x/scalpel-explorer/internal/config"
	"github.com/xkilldash9x/scalpel-explorer/internal/mocks"
	"github.com/xkilldash9x/scalpel-explorer/internal/observability"
	"github.com/xkilldash9x/scalpel-explorer/internal/reporting"
)

var errStop = errors.New("stop before exploring")

// executeRoot runs a fresh command tree with quiet logging.
func executeRoot(t *testing.T, factory componentsFactory, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(observability.ResetForTest)

	root := newRootCommand(factory)
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

// capturingFactory records the resolved configuration and stops the run.
func capturingFactory(captured **config.Config) componentsFactory {
	return func(_ context.Context, cfg *config.Config, _ *zap.Logger) (*exploreComponents, error) {
		*captured = cfg
		return nil, errStop
	}
}

func appFactory(app *mocks.FakeApp, st runStore) componentsFactory {
	return func(context.Context, *config.Config, *zap.Logger) (*exploreComponents, error) {
		return &exploreComponents{Driver: app.Driver(), Store: st}, nil
	}
}

func shopApp(lang string) *mocks.FakeApp {
	return mocks.NewFakeApp("https://app.test").
		AddPage("/", &mocks.FakePage{Title: "Home", Lang: lang, Elements: []*mocks.FakeElement{
			{ID: "nav-settings", Tag: "a", Text: "Settings", Href: "/settings"},
		}}).
		AddPage("/settings", &mocks.FakePage{Title: "Settings", Lang: lang})
}

type recordingStore struct {
	runs []*schemas.ExplorationResult
	err  error
}

func (s *recordingStore) PersistRun(ctx context.Context, result *schemas.ExplorationResult) error {
	s.runs = append(s.runs, result)
	return s.err
}

func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestExploreCmd_ConfigPrecedence(t *testing.T) {
	configFile := createTempConfig(t, `
explore:
  max_depth: 5
  max_states: 40
report:
  format: json
`)
	t.Setenv("SCALPEL_EXPLORER_REPORT_FORMAT", "sarif")

	var cfg *config.Config
	_, err := executeRoot(t, capturingFactory(&cfg),
		"--config", configFile,
		"explore",
		"--max-depth", "2",
		"--exclude", "/admin/**,/logout",
		"--viewport", "phone:390x844:mobile",
		"--viewport", "desktop:1280x800",
		"--timeout", "90s",
		"app.test",
	)
	require.ErrorIs(t, err, errStop)
	require.NotNil(t, cfg)

	assert.Equal(t, 2, cfg.Explore().MaxDepth, "flag beats file")
	assert.Equal(t, 40, cfg.Explore().MaxStates, "file beats default")
	assert.Equal(t, 1, cfg.Explore().Concurrency, "default when nothing is set")
	assert.Equal(t, "sarif", cfg.Report().Format, "env beats file")
	assert.Equal(t, 90*time.Second, cfg.Explore().RunTimeout)
	assert.Equal(t, []string{"/admin/**", "/logout"}, cfg.Explore().ExcludePaths)
	assert.Equal(t, []schemas.Viewport{
		{Name: "phone", Width: 390, Height: 844, Mobile: true},
		{Name: "desktop", Width: 1280, Height: 800},
	}, cfg.Viewports())
}

func TestExploreCmd_Validation(t *testing.T) {
	never := func(context.Context, *config.Config, *zap.Logger) (*exploreComponents, error) {
		t.Fatal("components must not be built for an invalid invocation")
		return nil, nil
	}

	t.Run("requires a start url", func(t *testing.T) {
		_, err := executeRoot(t, never, "explore")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires at least 1 arg(s), only received 0")
	})

	t.Run("rejects invalid configuration before exploring", func(t *testing.T) {
		_, err := executeRoot(t, never, "explore", "--isolation", "bogus", "https://app.test/")
		assert.ErrorIs(t, err, config.ErrConfiguration)
	})

	t.Run("rejects a malformed viewport", func(t *testing.T) {
		_, err := executeRoot(t, never, "explore", "--viewport", "phone", "https://app.test/")
		assert.ErrorIs(t, err, config.ErrConfiguration)
	})

	t.Run("rejects an unknown severity threshold", func(t *testing.T) {
		_, err := executeRoot(t, never, "explore", "--fail-on", "blocker", "https://app.test/")
		assert.ErrorIs(t, err, config.ErrConfiguration)
	})
}

func TestExploreCmd_Run(t *testing.T) {
	t.Run("explores the app and writes a JSON report", func(t *testing.T) {
		output := filepath.Join(t.TempDir(), "report.json")
		st := &recordingStore{}

		out, err := executeRoot(t, appFactory(shopApp("en"), st),
			"explore", "--output", output, "--max-depth", "2", "--fail-on", "serious", "https://app.test/")
		require.NoError(t, err)
		assert.Contains(t, out, "Exploration complete.")

		data, err := os.ReadFile(output)
		require.NoError(t, err)
		var result schemas.ExplorationResult
		require.NoError(t, json.Unmarshal(data, &result))
		assert.Len(t, result.Graph.Nodes, 2)
		assert.Equal(t, schemas.TerminationFrontierEmpty, result.Summary.TerminationReason)

		require.Len(t, st.runs, 1)
		assert.Equal(t, result.Summary.RunID, st.runs[0].Summary.RunID)
	})

	t.Run("fails the gate but still writes the report", func(t *testing.T) {
		output := filepath.Join(t.TempDir(), "report.sarif")

		_, err := executeRoot(t, appFactory(shopApp(""), nil),
			"explore", "--format", "sarif", "--output", output, "--fail-on", "serious", "https://app.test/")
		assert.ErrorIs(t, err, reporting.ErrThresholdExceeded)
		assert.FileExists(t, output)
	})

	t.Run("passes the gate below the threshold", func(t *testing.T) {
		output := filepath.Join(t.TempDir(), "report.json")

		_, err := executeRoot(t, appFactory(shopApp(""), nil),
			"explore", "--output", output, "--fail-on", "critical", "https://app.test/")
		assert.NoError(t, err)
	})

	t.Run("surfaces persistence failures", func(t *testing.T) {
		st := &recordingStore{err: errors.New("connection reset")}
		_, err := executeRoot(t, appFactory(shopApp("en"), st),
			"explore", "--output", filepath.Join(t.TempDir(), "r.json"), "https://app.test/")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to persist run")
	})
}

func TestNormalizeStartURLs(t *testing.T) {
	assert.Equal(t,
		[]string{"https://app.test", "http://localhost:8080/", "https://shop.test/cart"},
		normalizeStartURLs([]string{"app.test", "http://localhost:8080/", " https://shop.test/cart "}),
	)
}
