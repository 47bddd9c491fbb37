package actions_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
	"github.com/xkilldash9x/scalpel-explorer/internal/actions"
	"github.com/xkilldash9x/scalpel-explorer/internal/config"
	"github.com/xkilldash9x/scalpel-explorer/internal/mocks"
)

func newCatalog(t *testing.T, mutate func(*actions.Options)) *actions.Catalog {
	t.Helper()
	cfg := config.NewDefaultConfig()
	opts := actions.OptionsFromConfig(cfg.Explore(), cfg.Patterns())
	if mutate != nil {
		mutate(&opts)
	}
	return actions.NewCatalog(opts, zap.NewNop())
}

// openPage serves a single page at / and returns a live page on it.
func openPage(t *testing.T, fp *mocks.FakePage) schemas.Page {
	t.Helper()
	ctx := context.Background()
	app := mocks.NewFakeApp("https://app.test").AddPage("/", fp)
	page, err := app.Driver().NewPage(ctx, schemas.DefaultViewport)
	require.NoError(t, err)
	require.NoError(t, page.Navigate(ctx, app.URL("/")))
	t.Cleanup(func() { _ = page.Close(context.Background()) })
	return page
}

func selectorsOf(list []schemas.DiscoveredAction) []string {
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.Selector
	}
	return out
}

func labelsOf(list []schemas.DiscoveredAction) []string {
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.Label
	}
	return out
}

func TestDiscoverSelectorPreference(t *testing.T) {
	page := openPage(t, &mocks.FakePage{Elements: []*mocks.FakeElement{
		{ID: "save", Tag: "button", Text: "Save", TestID: "save-btn"},
		{Tag: "button", Text: "Edit", TestID: "edit-btn"},
		{Tag: "button", AriaLabel: "Close panel"},
		{Tag: "button", Text: "One", TestID: "dup"},
		{Tag: "button", Text: "Two", TestID: "dup"},
	}})

	got, err := newCatalog(t, nil).Discover(context.Background(), page, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"#save",
		`[data-testid="edit-btn"]`,
		`[aria-label="Close panel"]`,
		"button:nth-of-type(4)",
		"button:nth-of-type(5)",
	}, selectorsOf(got), "duplicate test ids fall back to the structural path")

	for i, a := range got {
		assert.Equal(t, i, a.Order, "order follows reading order")
	}
}

func TestDiscoverIsStable(t *testing.T) {
	page := openPage(t, &mocks.FakePage{Elements: []*mocks.FakeElement{
		{Tag: "a", Text: "Home", Href: "/"},
		{Tag: "button", Text: "Refresh"},
		{Tag: "input", Type: "text", Name: "q", Label: "Search"},
	}})
	catalog := newCatalog(t, nil)

	first, err := catalog.Discover(context.Background(), page, nil)
	require.NoError(t, err)
	second, err := catalog.Discover(context.Background(), page, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDiscoverFilters(t *testing.T) {
	fp := &mocks.FakePage{Elements: []*mocks.FakeElement{
		{ID: "save", Tag: "button", Text: "Save", Disabled: true},
		{ID: "hidden", Tag: "button", Text: "Hidden", Hidden: true},
		{ID: "below", Tag: "button", Text: "Below the fold", Offscreen: true},
		{ID: "tiny", Tag: "button", Text: "Tiny", Width: 2, Height: 2},
		{ID: "logout", Tag: "a", Text: "Logout", Href: "/logout"},
	}}

	t.Run("disabled elements are excluded by default", func(t *testing.T) {
		got, err := newCatalog(t, nil).Discover(context.Background(), openPage(t, fp), nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"#logout"}, selectorsOf(got))
	})

	t.Run("disabled elements are included on request", func(t *testing.T) {
		catalog := newCatalog(t, func(o *actions.Options) { o.IncludeDisabled = true })
		got, err := catalog.Discover(context.Background(), openPage(t, fp), nil)
		require.NoError(t, err)
		require.Equal(t, []string{"#save", "#logout"}, selectorsOf(got))
		assert.False(t, got[0].Enabled)
	})

	t.Run("offscreen elements are included on request", func(t *testing.T) {
		catalog := newCatalog(t, func(o *actions.Options) { o.IncludeOffscreen = true })
		got, err := catalog.Discover(context.Background(), openPage(t, fp), nil)
		require.NoError(t, err)
		assert.Contains(t, selectorsOf(got), "#below")
		assert.NotContains(t, selectorsOf(got), "#hidden", "invisible elements never qualify")
	})

	t.Run("logout is discovered and flagged destructive", func(t *testing.T) {
		got, err := newCatalog(t, nil).Discover(context.Background(), openPage(t, fp), nil)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.True(t, got[0].Destructive)
	})

	t.Run("an extra ignore selector excludes logout", func(t *testing.T) {
		got, err := newCatalog(t, nil).Discover(context.Background(), openPage(t, fp), []string{"#logout"})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("configured ignore selectors merge with the caller's", func(t *testing.T) {
		catalog := newCatalog(t, func(o *actions.Options) {
			o.IncludeDisabled = true
			o.IgnoreSelectors = []string{"#save"}
		})
		got, err := catalog.Discover(context.Background(), openPage(t, fp), []string{"#logout"})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestDiscoverCap(t *testing.T) {
	var els []*mocks.FakeElement
	for i := 0; i < 8; i++ {
		els = append(els, &mocks.FakeElement{Tag: "button", Text: "Item"})
	}
	catalog := newCatalog(t, func(o *actions.Options) { o.MaxActions = 3 })

	got, err := catalog.Discover(context.Background(), openPage(t, &mocks.FakePage{Elements: els}), nil)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestDiscoverKinds(t *testing.T) {
	page := openPage(t, &mocks.FakePage{Elements: []*mocks.FakeElement{
		{ID: "agree", Tag: "input", Type: "checkbox", Label: "Agree"},
		{ID: "avatar", Tag: "input", Type: "file", Label: "Avatar"},
		{ID: "bio", Tag: "textarea", Label: "Bio"},
		{ID: "country", Tag: "select", Label: "Country", Options: []string{"", "NL", "DE"}},
		{ID: "go", Tag: "input", Type: "submit", Label: "Go"},
	}})

	got, err := newCatalog(t, nil).Discover(context.Background(), page, nil)
	require.NoError(t, err)
	kinds := make(map[string]schemas.ActionKind)
	for _, a := range got {
		kinds[a.Selector] = a.Kind
	}
	assert.Equal(t, map[string]schemas.ActionKind{
		"#agree":   schemas.ActionCheck,
		"#avatar":  schemas.ActionUpload,
		"#bio":     schemas.ActionFill,
		"#country": schemas.ActionSelect,
		"#go":      schemas.ActionClick,
	}, kinds)
}

func TestClassifyKind(t *testing.T) {
	tests := []struct {
		tag, typ, role string
		expected       schemas.ActionKind
	}{
		{"input", "radio", "", schemas.ActionCheck},
		{"div", "", "switch", schemas.ActionCheck},
		{"input", "", "", schemas.ActionFill},
		{"input", "email", "", schemas.ActionFill},
		{"INPUT", "RESET", "", schemas.ActionClick},
		{"div", "", "combobox", schemas.ActionSelect},
		{"div", "", "textbox", schemas.ActionFill},
		{"a", "", "", schemas.ActionClick},
		{"span", "", "button", schemas.ActionClick},
	}
	for _, tt := range tests {
		t.Run(tt.tag+"/"+tt.typ+"/"+tt.role, func(t *testing.T) {
			assert.Equal(t, tt.expected, actions.ClassifyKind(tt.tag, tt.typ, tt.role))
		})
	}
}

func TestDiscoverDestructiveByClass(t *testing.T) {
	page := openPage(t, &mocks.FakePage{Elements: []*mocks.FakeElement{
		{ID: "close-row", Tag: "button", Text: "×", Class: "btn btn-delete"},
		{ID: "trash", Tag: "button", Text: "🗑", Class: "iconRemoveItem"},
		{ID: "save", Tag: "button", Text: "Save", Class: "btn btn-primary"},
		{ID: "undeleted", Tag: "button", Text: "Show", Class: "undeleted-filter"},
	}})
	catalog := newCatalog(t, nil)

	found, err := catalog.Discover(context.Background(), page, nil)
	require.NoError(t, err)
	destructive := map[string]bool{}
	for _, a := range found {
		destructive[a.Selector] = a.Destructive
	}
	assert.Equal(t, map[string]bool{
		"#close-row": true,
		"#trash":     true,
		"#save":      false,
		"#undeleted": false,
	}, destructive)

	ranked := catalog.Prioritize(found)
	assert.Equal(t, "#save", ranked[0].Selector, "class-flagged actions are pushed down")
}
