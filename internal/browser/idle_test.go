package browser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestIdleTracker(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := newIdleTracker(clock.now)
	quiet := 500 * time.Millisecond

	assert.False(t, tr.quietFor(quiet), "a new tab has not been quiet long enough")
	clock.advance(quiet)
	assert.True(t, tr.quietFor(quiet))

	tr.started("1")
	tr.started("1") // redirect
	tr.started("2")
	clock.advance(time.Second)
	assert.False(t, tr.quietFor(quiet), "requests are in flight")

	tr.finished("1")
	clock.advance(time.Second)
	assert.False(t, tr.quietFor(quiet))

	tr.finished("2")
	assert.False(t, tr.quietFor(quiet), "the quiet period restarts after the last request")
	clock.advance(quiet)
	assert.True(t, tr.quietFor(quiet))

	tr.finished("unknown")
	assert.True(t, tr.quietFor(quiet), "events for untracked requests do not reset the clock")
}

func TestDocumentTracker(t *testing.T) {
	t.Run("records the main frame response while armed", func(t *testing.T) {
		var d documentTracker
		d.requested("nav", "main") // first document claims the main frame
		d.responded("nav", "main", 200, "https://app.test/")

		d.arm()
		d.requested("r1", "main")
		waiting, seen := d.pending()
		assert.True(t, waiting)
		assert.True(t, seen)

		d.responded("r2", "child", 200, "https://ads.test/frame")
		d.responded("r1", "main", 500, "https://app.test/broken")
		waiting, _ = d.pending()
		assert.False(t, waiting)

		status, url, failure := d.disarm()
		assert.EqualValues(t, 500, status)
		assert.Equal(t, "https://app.test/broken", url)
		assert.Empty(t, failure)
	})

	t.Run("ignores loads outside an armed window", func(t *testing.T) {
		var d documentTracker
		d.responded("nav", "main", 404, "https://app.test/gone")
		d.arm()
		waiting, seen := d.pending()
		assert.False(t, waiting)
		assert.False(t, seen)
		status, _, _ := d.disarm()
		assert.Zero(t, status)
	})

	t.Run("a failed document request ends the wait with its error", func(t *testing.T) {
		var d documentTracker
		d.arm()
		d.requested("r1", "main")
		d.failed("other", "net::ERR_ABORTED")
		waiting, _ := d.pending()
		assert.True(t, waiting)
		d.failed("r1", "net::ERR_CONNECTION_REFUSED")
		waiting, _ = d.pending()
		assert.False(t, waiting)
		_, _, failure := d.disarm()
		assert.Equal(t, "net::ERR_CONNECTION_REFUSED", failure)
	})

	t.Run("an aborted document load is not a failure", func(t *testing.T) {
		var d documentTracker
		d.arm()
		d.requested("r1", "main")
		d.failed("r1", "net::ERR_ABORTED")
		waiting, _ := d.pending()
		assert.False(t, waiting)
		_, _, failure := d.disarm()
		assert.Empty(t, failure)
	})
}
