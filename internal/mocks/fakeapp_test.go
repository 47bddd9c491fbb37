package mocks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
	"github.com/xkilldash9x/scalpel-explorer/internal/pagescript"
)

func newSettingsApp() *FakeApp {
	app := NewFakeApp("https://app.test")
	app.AddPage("/", &FakePage{
		Title: "Home",
		Elements: []*FakeElement{
			{ID: "settings", Tag: "a", Text: "Settings", Href: "/settings"},
			{Tag: "button", Text: "Help", Opens: "help"},
		},
		Overlays: map[string]*FakeOverlay{
			"help": {ID: "help", Label: "Help", Elements: []*FakeElement{{Tag: "button", Text: "Close", Closes: true}}},
		},
	})
	app.AddPage("/settings", &FakePage{Title: "Settings"})
	return app
}

func TestFakeAppNavigation(t *testing.T) {
	ctx := context.Background()
	app := newSettingsApp()
	page, err := app.Driver().NewPage(ctx, schemas.DefaultViewport)
	require.NoError(t, err)

	require.NoError(t, page.Navigate(ctx, app.URL("/")))
	require.NoError(t, page.Click(ctx, "#settings"))
	u, err := page.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://app.test/settings", u)

	err = page.Navigate(ctx, app.URL("/missing"))
	assert.ErrorIs(t, err, schemas.ErrNavigation)

	require.NoError(t, page.Close(ctx))
	assert.Equal(t, 0, app.OpenPages())
	assert.ErrorIs(t, page.Click(ctx, "#settings"), schemas.ErrAutomationFatal, "a closed page is unusable")
}

func TestFakeAppOverlay(t *testing.T) {
	ctx := context.Background()
	app := newSettingsApp()
	page, err := app.Driver().NewPage(ctx, schemas.DefaultViewport)
	require.NoError(t, err)
	require.NoError(t, page.Navigate(ctx, app.URL("/")))

	require.NoError(t, page.Click(ctx, "button:nth-of-type(1)"))
	info, err := pagescript.DetectOverlay(ctx, page)
	require.NoError(t, err)
	assert.Equal(t, "help", info.ID)

	els, err := pagescript.Discover(ctx, page, pagescript.DiscoverArgs{})
	require.NoError(t, err)
	require.Len(t, els, 3)
	assert.True(t, els[2].InOverlay)

	require.NoError(t, page.Click(ctx, "#help > button:nth-of-type(1)"))
	info, err = pagescript.DetectOverlay(ctx, page)
	require.NoError(t, err)
	assert.False(t, info.Present)
}

func TestFakeAppCountSelectors(t *testing.T) {
	ctx := context.Background()
	app := NewFakeApp("https://app.test")
	app.AddPage("/", &FakePage{Elements: []*FakeElement{
		{Tag: "button", Text: "One", TestID: "dup"},
		{Tag: "button", Text: "Two", TestID: "dup"},
	}})
	page, err := app.Driver().NewPage(ctx, schemas.DefaultViewport)
	require.NoError(t, err)
	require.NoError(t, page.Navigate(ctx, app.URL("/")))

	counts, err := pagescript.CountSelectors(ctx, page, []string{`[data-testid="dup"]`, "button:nth-of-type(2)", "#nope"})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 0}, counts)
}

func TestFakeAppFailureModes(t *testing.T) {
	ctx := context.Background()
	app := NewFakeApp("https://app.test")
	app.AddPage("/", &FakePage{Elements: []*FakeElement{
		{ID: "boom", Tag: "button", Crash: true},
		{ID: "flaky", Tag: "button", Fails: true},
		{ID: "off", Tag: "button", Disabled: true},
	}})
	app.AddPage("/down", &FakePage{Status: 503})
	page, err := app.Driver().NewPage(ctx, schemas.DefaultViewport)
	require.NoError(t, err)
	require.NoError(t, page.Navigate(ctx, app.URL("/")))

	assert.ErrorIs(t, page.Click(ctx, "#boom"), schemas.ErrAutomationFatal)
	assert.ErrorIs(t, page.Click(ctx, "#flaky"), schemas.ErrElementNotFound)
	assert.ErrorIs(t, page.Click(ctx, "#off"), schemas.ErrElementNotFound)
	assert.ErrorIs(t, page.Navigate(ctx, app.URL("/down")), schemas.ErrNavigation)
}
