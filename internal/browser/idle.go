package browser

import (
	"sync"
	"time"
)

// idleTracker follows in-flight requests of one tab. Redirects reuse the
// request id, so a set is kept instead of a counter.
type idleTracker struct {
	now func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
	last     time.Time
}

func newIdleTracker(now func() time.Time) *idleTracker {
	return &idleTracker{now: now, inflight: make(map[string]struct{}), last: now()}
}

func (t *idleTracker) started(id string) {
	t.mu.Lock()
	t.inflight[id] = struct{}{}
	t.last = t.now()
	t.mu.Unlock()
}

func (t *idleTracker) finished(id string) {
	t.mu.Lock()
	if _, ok := t.inflight[id]; ok {
		delete(t.inflight, id)
		t.last = t.now()
	}
	t.mu.Unlock()
}

// quietFor reports whether nothing was in flight during the last quiet period.
func (t *idleTracker) quietFor(quiet time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight) == 0 && t.now().Sub(t.last) >= quiet
}

const abortedLoad = "net::ERR_ABORTED"

// documentTracker watches main frame document loads so an action that
// navigates can report the status of the page it landed on. The main frame
// is the frame of the first document request the tab sees.
type documentTracker struct {
	mu        sync.Mutex
	mainFrame string
	armed     bool
	requestID string
	done      bool
	status    int64
	url       string
	failure   string
}

// arm forgets the previous load and starts recording.
func (d *documentTracker) arm() {
	d.mu.Lock()
	d.armed, d.requestID, d.done, d.status, d.url, d.failure = true, "", false, 0, "", ""
	d.mu.Unlock()
}

// disarm stops recording and returns what was seen since arm.
func (d *documentTracker) disarm() (status int64, url, failure string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = false
	return d.status, d.url, d.failure
}

// isMain claims the first document frame as the main frame. Callers hold mu.
func (d *documentTracker) isMain(frame string) bool {
	if d.mainFrame == "" {
		d.mainFrame = frame
	}
	return frame == d.mainFrame
}

func (d *documentTracker) requested(requestID, frame string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.isMain(frame) && d.armed {
		d.requestID, d.done = requestID, false
	}
}

func (d *documentTracker) responded(requestID, frame string, status int64, url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.isMain(frame) && d.armed {
		d.requestID, d.done, d.status, d.url = requestID, true, status, url
	}
}

func (d *documentTracker) failed(requestID, errorText string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.armed && requestID != "" && requestID == d.requestID && !d.done {
		d.done = true
		// Superseded navigations and downloads abort the document load.
		if errorText != abortedLoad {
			d.failure = errorText
		}
	}
}

// pending reports whether a document request was sent and is still unanswered,
// and whether any was sent at all.
func (d *documentTracker) pending() (waiting, seen bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requestID != "" && !d.done, d.requestID != ""
}
