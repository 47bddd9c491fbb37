// File: internal/mocks/fakeapp.go
package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
	"github.com/xkilldash9x/scalpel-explorer/internal/pagescript"
)

// FakeApp is an in-memory web application that answers every page script call
// the explorer issues. Pages are keyed by path for the app origin, or by
// absolute URL for anything off-site.
type FakeApp struct {
	Origin string

	mu    sync.Mutex
	pages map[string]*FakePage
	log   []string

	newPages    atomic.Int64
	openPages   atomic.Int64
	navigations atomic.Int64
	resets      atomic.Int64
}

// FakePage is one document of the simulated app.
type FakePage struct {
	Title            string
	Lang             string
	Status           int // Responses >= 400 fail navigation.
	Elements         []*FakeElement
	Overlays         map[string]*FakeOverlay
	Forms            []*FakeForm
	ImagesWithoutAlt []string
}

// FakeOverlay is a dialog that becomes visible when an element opens it.
type FakeOverlay struct {
	ID       string
	Label    string
	Elements []*FakeElement
}

// FakeForm is a form container. SubmitTo is the path reached by submitting it.
type FakeForm struct {
	ID       string
	Label    string
	SubmitTo string
}

// FakeElement describes one element and what happens when it is used.
type FakeElement struct {
	ID        string
	Class     string
	TestID    string // Rendered as data-testid.
	AriaLabel string
	Label     string
	Text      string
	Tag       string
	Role      string
	Type      string
	Name      string
	Href      string
	Form      string // Id of the owning FakeForm.
	Options   []string

	Disabled  bool
	Hidden    bool
	Offscreen bool
	X, Y      float64
	Width     float64
	Height    float64
	ZIndex    int

	GoTo   string        // Navigate here on click or submit.
	Opens  string        // Open this overlay on click.
	Closes bool          // Close the current overlay on click.
	Once   bool          // Only the first activation has an effect.
	Fails  bool          // Activation fails as a detached element.
	Crash  bool          // Activation kills the browser.
	Delay  time.Duration // Activation blocks this long (honours ctx).

	SetsCookie  string // Activation stores this cookie in the page's jar.
	NeedsCookie string // Rendered only while this cookie is set.

	activations atomic.Int64
}

// NewFakeApp creates an empty app served from origin, e.g. "https://app.test".
func NewFakeApp(origin string) *FakeApp {
	return &FakeApp{Origin: strings.TrimRight(origin, "/"), pages: make(map[string]*FakePage)}
}

// AddPage registers a page under a path ("/settings") or an absolute URL.
func (a *FakeApp) AddPage(key string, p *FakePage) *FakeApp {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pages[key] = p
	return a
}

// URL returns the absolute URL of an app path.
func (a *FakeApp) URL(path string) string { return a.Origin + path }

// Driver returns a schemas.Driver backed by the app.
func (a *FakeApp) Driver() *FakeDriver { return &FakeDriver{app: a} }

// Resets is the number of times a page had its cookies and storage cleared.
func (a *FakeApp) Resets() int { return int(a.resets.Load()) }

// NewPages is the number of pages ever opened.
func (a *FakeApp) NewPages() int { return int(a.newPages.Load()) }

// OpenPages is the number of pages not yet closed.
func (a *FakeApp) OpenPages() int { return int(a.openPages.Load()) }

// Navigations is the number of Navigate calls across all pages.
func (a *FakeApp) Navigations() int { return int(a.navigations.Load()) }

// ActionLog lists every successful activation as "kind selector".
func (a *FakeApp) ActionLog() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.log...)
}

func (a *FakeApp) record(entry string) {
	a.mu.Lock()
	a.log = append(a.log, entry)
	a.mu.Unlock()
}

func (a *FakeApp) lookup(key string) (*FakePage, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pages[key]
	return p, ok
}

// -- Driver --

// FakeDriver implements schemas.Driver.
type FakeDriver struct {
	app    *FakeApp
	closed atomic.Bool
}

// NewPage opens a fresh page with no location and no state.
func (d *FakeDriver) NewPage(ctx context.Context, viewport schemas.Viewport) (schemas.Page, error) {
	if d.closed.Load() {
		return nil, fmt.Errorf("%w: driver closed", schemas.ErrAutomationFatal)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.app.newPages.Add(1)
	d.app.openPages.Add(1)
	return &FakeBrowserPage{app: d.app, viewport: viewport, values: make(map[string]string), cookies: make(map[string]bool)}, nil
}

// Close marks the driver unusable.
func (d *FakeDriver) Close(context.Context) error {
	d.closed.Store(true)
	return nil
}

// -- Page --

// FakeBrowserPage implements schemas.Page over a FakeApp.
type FakeBrowserPage struct {
	app      *FakeApp
	viewport schemas.Viewport

	mu      sync.Mutex
	key     string // Page key of the current document.
	rawURL  string
	overlay string
	values  map[string]string
	cookies map[string]bool // Survive navigation, cleared by ResetState.
	closed  bool
}

// located is an element with the selectors that match it in the current document.
type located struct {
	el        *FakeElement
	form      *FakeForm
	path      []pagescript.PathSegment
	selectors map[string]struct{}
	inOverlay bool
	index     int
}

var _ schemas.Page = (*FakeBrowserPage)(nil)

func (p *FakeBrowserPage) Navigate(ctx context.Context, rawURL string) error {
	if err := p.usable(ctx); err != nil {
		return err
	}
	p.app.navigations.Add(1)
	return p.goTo(rawURL)
}

func (p *FakeBrowserPage) goTo(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("%w: %v", schemas.ErrNavigation, err)
	}
	base, _ := url.Parse(p.app.Origin)
	if p.rawURL != "" {
		base, _ = url.Parse(p.rawURL)
	}
	abs := base.ResolveReference(u)

	key := abs.String()
	if origin, _ := url.Parse(p.app.Origin); origin != nil && abs.Host == origin.Host {
		key = abs.Path
		if key == "" {
			key = "/"
		}
	}
	page, ok := p.app.lookup(key)
	if !ok {
		return fmt.Errorf("%w: %s returned 404", schemas.ErrNavigation, abs.String())
	}
	if page.Status >= 400 {
		return fmt.Errorf("%w: %s returned %d", schemas.ErrNavigation, abs.String(), page.Status)
	}

	p.mu.Lock()
	p.key = key
	p.rawURL = abs.String()
	p.overlay = ""
	p.values = make(map[string]string)
	p.mu.Unlock()
	return nil
}

func (p *FakeBrowserPage) URL(ctx context.Context) (string, error) {
	if err := p.usable(ctx); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rawURL, nil
}

func (p *FakeBrowserPage) Title(ctx context.Context) (string, error) {
	if err := p.usable(ctx); err != nil {
		return "", err
	}
	page, _ := p.current()
	if page == nil {
		return "", nil
	}
	return page.Title, nil
}

func (p *FakeBrowserPage) Click(ctx context.Context, selector string) error {
	loc, err := p.activate(ctx, selector)
	if err != nil {
		return err
	}
	if loc.el.Type == "checkbox" || loc.el.Type == "radio" {
		p.toggle(loc)
	}
	return p.follow(ctx, "click", selector, loc)
}

func (p *FakeBrowserPage) Check(ctx context.Context, selector string) error {
	loc, err := p.activate(ctx, selector)
	if err != nil {
		return err
	}
	p.toggle(loc)
	return p.follow(ctx, "check", selector, loc)
}

func (p *FakeBrowserPage) Fill(ctx context.Context, selector, value string) error {
	loc, err := p.activate(ctx, selector)
	if err != nil {
		return err
	}
	p.setValue(loc, value)
	p.app.record("fill " + selector)
	return nil
}

func (p *FakeBrowserPage) Select(ctx context.Context, selector, value string) error {
	loc, err := p.activate(ctx, selector)
	if err != nil {
		return err
	}
	found := false
	for _, o := range loc.el.Options {
		if o == value {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: option %q not found", schemas.ErrElementNotFound, value)
	}
	p.setValue(loc, value)
	p.app.record("select " + selector)
	return nil
}

func (p *FakeBrowserPage) Upload(ctx context.Context, selector string, files []string) error {
	loc, err := p.activate(ctx, selector)
	if err != nil {
		return err
	}
	p.setValue(loc, strings.Join(files, ","))
	p.app.record("upload " + selector)
	return nil
}

func (p *FakeBrowserPage) Submit(ctx context.Context, formSelector string) error {
	if err := p.usable(ctx); err != nil {
		return err
	}
	for _, f := range p.forms() {
		if _, ok := f.selectors[formSelector]; !ok {
			continue
		}
		p.app.record("submit " + formSelector)
		if f.form.SubmitTo != "" {
			return p.goTo(f.form.SubmitTo)
		}
		return nil
	}
	return fmt.Errorf("%w: form %s", schemas.ErrElementNotFound, formSelector)
}

func (p *FakeBrowserPage) WaitIdle(ctx context.Context, _ time.Duration) error {
	return p.usable(ctx)
}

func (p *FakeBrowserPage) Viewport() schemas.Viewport { return p.viewport }

// ResetState empties the cookie jar. The current document stays loaded.
func (p *FakeBrowserPage) ResetState(ctx context.Context, _ string) error {
	if err := p.usable(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	p.cookies = make(map[string]bool)
	p.mu.Unlock()
	p.app.resets.Add(1)
	return nil
}

func (p *FakeBrowserPage) hasCookie(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cookies[name]
}

func (p *FakeBrowserPage) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.app.openPages.Add(-1)
	}
	return nil
}

// Evaluate answers the embedded page script call sites.
func (p *FakeBrowserPage) Evaluate(ctx context.Context, call schemas.ScriptCall, out interface{}) error {
	if err := p.usable(ctx); err != nil {
		return err
	}
	var result interface{}
	switch call.Name {
	case pagescript.CallDiscover:
		var args pagescript.DiscoverArgs
		if err := remarshal(call.Args, &args); err != nil {
			return err
		}
		result = p.discover(args)
	case pagescript.CallFingerprint:
		result = p.signatures()
	case pagescript.CallOverlay:
		result = p.overlayInfo()
	case pagescript.CallForms:
		result = p.formFields()
	case pagescript.CallUnsubmitted:
		result = p.unsubmitted()
	case pagescript.CallCount:
		var args pagescript.CountArgs
		if err := remarshal(call.Args, &args); err != nil {
			return err
		}
		result = p.count(args.Selectors)
	case pagescript.CallPageBasics:
		result = p.basics()
	case pagescript.CallSubmitForm:
		var args pagescript.SelectorArgs
		if err := remarshal(call.Args, &args); err != nil {
			return err
		}
		result = mutation(p.Submit(ctx, args.Selector))
	case pagescript.CallSelectOption:
		var args pagescript.SelectorArgs
		if err := remarshal(call.Args, &args); err != nil {
			return err
		}
		result = mutation(p.Select(ctx, args.Selector, args.Value))
	default:
		return fmt.Errorf("fake app: unsupported script %q", call.Name)
	}
	return remarshal(result, out)
}

// -- Evaluation helpers --

func (p *FakeBrowserPage) usable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("%w: page closed", schemas.ErrAutomationFatal)
	}
	return nil
}

func (p *FakeBrowserPage) current() (*FakePage, string) {
	p.mu.Lock()
	key, overlay := p.key, p.overlay
	p.mu.Unlock()
	if key == "" {
		return nil, ""
	}
	page, _ := p.app.lookup(key)
	return page, overlay
}

// elements lays out the current document: page elements under <body>, then
// the open overlay as a div#<id> holding its own elements.
func (p *FakeBrowserPage) elements() []*located {
	page, overlay := p.current()
	if page == nil {
		return nil
	}
	root := []pagescript.PathSegment{{Tag: "html", Nth: 1}, {Tag: "body", Nth: 1}}

	var out []*located
	bodyTags := map[string]int{"form": len(page.Forms)}
	for _, el := range page.Elements {
		if el.NeedsCookie != "" && !p.hasCookie(el.NeedsCookie) {
			continue
		}
		bodyTags[el.Tag]++
		seg := pagescript.PathSegment{Tag: el.Tag, ID: el.ID, Nth: bodyTags[el.Tag]}
		out = append(out, newLocated(el, append(append([]pagescript.PathSegment{}, root...), seg), false, len(out)))
	}

	if ov, ok := page.Overlays[overlay]; ok && overlay != "" {
		bodyTags["div"]++
		ovSeg := pagescript.PathSegment{Tag: "div", ID: ov.ID, Nth: bodyTags["div"]}
		inner := map[string]int{}
		for _, el := range ov.Elements {
			inner[el.Tag]++
			seg := pagescript.PathSegment{Tag: el.Tag, ID: el.ID, Nth: inner[el.Tag]}
			path := append(append([]pagescript.PathSegment{}, root...), ovSeg, seg)
			out = append(out, newLocated(el, path, true, len(out)))
		}
	}
	return out
}

// forms lays out the page's forms as the first children of <body>.
func (p *FakeBrowserPage) forms() []*located {
	page, _ := p.current()
	if page == nil {
		return nil
	}
	var out []*located
	for i, f := range page.Forms {
		path := []pagescript.PathSegment{{Tag: "html", Nth: 1}, {Tag: "body", Nth: 1}, {Tag: "form", ID: f.ID, Nth: i + 1}}
		loc := &located{form: f, path: path, selectors: map[string]struct{}{}, index: i}
		addSelectors(loc.selectors, pagescript.IDSelector(f.ID))
		addSelectors(loc.selectors, pagescript.PathSelectors(path)...)
		out = append(out, loc)
	}
	return out
}

func newLocated(el *FakeElement, path []pagescript.PathSegment, inOverlay bool, index int) *located {
	loc := &located{el: el, path: path, selectors: map[string]struct{}{}, inOverlay: inOverlay, index: index}
	addSelectors(loc.selectors,
		pagescript.IDSelector(el.ID),
		pagescript.AttrSelector("data-testid", el.TestID),
		pagescript.AttrSelector("aria-label", el.AriaLabel),
	)
	addSelectors(loc.selectors, pagescript.PathSelectors(path)...)
	return loc
}

func addSelectors(set map[string]struct{}, selectors ...string) {
	for _, s := range selectors {
		if s != "" {
			set[s] = struct{}{}
		}
	}
}

func (loc *located) rect() pagescript.Rect {
	el := loc.el
	w, h := el.Width, el.Height
	if w == 0 && h == 0 {
		w, h = 80, 24
	}
	x, y := el.X, el.Y
	if x == 0 && y == 0 {
		y = float64(loc.index*40 + 10)
	}
	return pagescript.Rect{X: x, Y: y, Width: w, Height: h}
}

func (loc *located) label() string {
	switch {
	case loc.el.AriaLabel != "":
		return loc.el.AriaLabel
	case loc.el.Label != "":
		return loc.el.Label
	default:
		return loc.el.Text
	}
}

func (loc *located) text() string {
	if loc.el.Text != "" {
		return loc.el.Text
	}
	return loc.el.Label
}

func (p *FakeBrowserPage) discover(args pagescript.DiscoverArgs) []pagescript.RawElement {
	var out []pagescript.RawElement
	for _, loc := range p.elements() {
		el := loc.el
		ignored := false
		for _, s := range args.Ignore {
			if _, ok := loc.selectors[s]; ok {
				ignored = true
			}
		}
		testAttr := ""
		if el.TestID != "" {
			testAttr = "data-testid"
		}
		submit := el.Form != "" && ((el.Tag == "button" && (el.Type == "" || el.Type == "submit")) ||
			(el.Tag == "input" && (el.Type == "submit" || el.Type == "image")))
		out = append(out, pagescript.RawElement{
			Index:         loc.index,
			Tag:           el.Tag,
			Role:          el.Role,
			Type:          el.Type,
			ID:            el.ID,
			ClassName:     el.Class,
			TestIDAttr:    testAttr,
			TestID:        el.TestID,
			AriaLabel:     el.AriaLabel,
			Label:         loc.label(),
			Text:          loc.text(),
			Name:          el.Name,
			Href:          el.Href,
			Disabled:      el.Disabled,
			Visible:       !el.Hidden,
			InViewport:    !el.Offscreen,
			InOverlay:     loc.inOverlay,
			Ignored:       ignored,
			SubmitControl: submit,
			Rect:          loc.rect(),
			ZIndex:        el.ZIndex,
			Options:       el.Options,
			Path:          loc.path,
		})
	}
	return out
}

func (p *FakeBrowserPage) signatures() []pagescript.ElementSignature {
	var out []pagescript.ElementSignature
	for _, loc := range p.elements() {
		if loc.el.Hidden {
			continue
		}
		r := loc.rect()
		out = append(out, pagescript.ElementSignature{Tag: loc.el.Tag, Role: loc.el.Role, Text: loc.text(), X: r.X, Y: r.Y})
	}
	return out
}

func (p *FakeBrowserPage) overlayInfo() pagescript.OverlayInfo {
	page, overlay := p.current()
	if page == nil || overlay == "" {
		return pagescript.OverlayInfo{}
	}
	ov, ok := page.Overlays[overlay]
	if !ok {
		return pagescript.OverlayInfo{}
	}
	return pagescript.OverlayInfo{Present: true, ID: ov.ID, Label: ov.Label}
}

func (p *FakeBrowserPage) formFields() []schemas.FormField {
	var out []schemas.FormField
	for _, loc := range p.elements() {
		el := loc.el
		if el.Hidden || (el.Tag != "input" && el.Tag != "select" && el.Tag != "textarea") {
			continue
		}
		typ := el.Type
		if typ == "" {
			typ = el.Tag
		}
		if typ == "password" || typ == "hidden" || typ == "file" {
			continue
		}
		name := el.Name
		if name == "" {
			name = el.ID
		}
		out = append(out, schemas.FormField{Form: el.Form, Name: name, Type: typ, Value: p.value(loc)})
	}
	return out
}

func (p *FakeBrowserPage) unsubmitted() []pagescript.FormInfo {
	els := p.elements()
	var out []pagescript.FormInfo
	for _, f := range p.forms() {
		hasSubmit := false
		for _, loc := range els {
			el := loc.el
			if el.Form == f.form.ID && ((el.Tag == "button" && (el.Type == "" || el.Type == "submit")) ||
				(el.Tag == "input" && (el.Type == "submit" || el.Type == "image"))) {
				hasSubmit = true
			}
		}
		if hasSubmit {
			continue
		}
		out = append(out, pagescript.FormInfo{
			Index: f.index,
			ID:    f.form.ID,
			Label: f.form.Label,
			Path:  f.path,
			Rect:  pagescript.Rect{X: 0, Y: float64(f.index * 200), Width: 400, Height: 160},
		})
	}
	return out
}

func (p *FakeBrowserPage) count(selectors []string) []int {
	all := append(p.elements(), p.forms()...)
	out := make([]int, len(selectors))
	for i, s := range selectors {
		for _, loc := range all {
			if _, ok := loc.selectors[s]; ok {
				out[i]++
			}
		}
	}
	return out
}

func (p *FakeBrowserPage) basics() pagescript.PageBasicsReport {
	page, _ := p.current()
	if page == nil {
		return pagescript.PageBasicsReport{}
	}
	report := pagescript.PageBasicsReport{Title: page.Title, Lang: page.Lang, ImagesWithoutAlt: page.ImagesWithoutAlt}
	for _, loc := range p.elements() {
		el := loc.el
		if el.Hidden || (el.Tag != "input" && el.Tag != "select" && el.Tag != "textarea") {
			continue
		}
		if el.Label == "" && el.AriaLabel == "" {
			report.UnlabeledFields = append(report.UnlabeledFields, pagescript.PathSelectors(loc.path)[0])
		}
	}
	return report
}

// -- Activation --

func (p *FakeBrowserPage) resolve(selector string) (*located, error) {
	for _, loc := range p.elements() {
		if _, ok := loc.selectors[selector]; ok {
			if loc.el.Hidden || loc.el.Disabled {
				return nil, fmt.Errorf("%w: %s is not interactable", schemas.ErrElementNotFound, selector)
			}
			return loc, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", schemas.ErrElementNotFound, selector)
}

func (p *FakeBrowserPage) activate(ctx context.Context, selector string) (*located, error) {
	if err := p.usable(ctx); err != nil {
		return nil, err
	}
	loc, err := p.resolve(selector)
	if err != nil {
		return nil, err
	}
	if loc.el.Delay > 0 {
		select {
		case <-time.After(loc.el.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if loc.el.Crash {
		return nil, fmt.Errorf("%w: target crashed while activating %s", schemas.ErrAutomationFatal, selector)
	}
	if loc.el.Fails {
		return nil, fmt.Errorf("%w: %s detached", schemas.ErrElementNotFound, selector)
	}
	return loc, nil
}

func (p *FakeBrowserPage) follow(ctx context.Context, kind, selector string, loc *located) error {
	p.app.record(kind + " " + selector)
	el := loc.el
	if el.activations.Add(1) > 1 && el.Once {
		return ctx.Err()
	}
	if el.SetsCookie != "" {
		p.mu.Lock()
		p.cookies[el.SetsCookie] = true
		p.mu.Unlock()
	}
	switch {
	case el.GoTo != "":
		return p.goTo(el.GoTo)
	case el.Href != "" && el.Tag == "a":
		return p.goTo(el.Href)
	case el.Opens != "":
		p.mu.Lock()
		p.overlay = el.Opens
		p.mu.Unlock()
	case el.Closes:
		p.mu.Lock()
		p.overlay = ""
		p.mu.Unlock()
	}
	return ctx.Err()
}

func valueKey(loc *located) string {
	sels := pagescript.PathSelectors(loc.path)
	return sels[len(sels)-1]
}

func (p *FakeBrowserPage) value(loc *located) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[valueKey(loc)]
}

func (p *FakeBrowserPage) setValue(loc *located, v string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[valueKey(loc)] = v
}

func (p *FakeBrowserPage) toggle(loc *located) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := valueKey(loc)
	if p.values[key] == "on" {
		p.values[key] = "off"
	} else {
		p.values[key] = "on"
	}
}

func mutation(err error) pagescript.MutationResult {
	if err != nil {
		return pagescript.MutationResult{OK: false, Reason: err.Error()}
	}
	return pagescript.MutationResult{OK: true}
}

func remarshal(in, out interface{}) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
