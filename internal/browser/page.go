// internal/browser/page.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
	"github.com/xkilldash9x/scalpel-explorer/internal/config"
	"github.com/xkilldash9x/scalpel-explorer/internal/pagescript"
)

const (
	idlePollInterval = 25 * time.Millisecond
	// documentGrace is how long an action may take to start a navigation.
	documentGrace = 150 * time.Millisecond

	// Everything Storage.clearDataForOrigin knows except cookies, which are
	// cleared for the whole browser context.
	resetStorageTypes = "local_storage,indexeddb,websql,service_workers,cache_storage,file_systems,shader_cache"
)

var _ schemas.Page = (*Page)(nil)

// Page is one chromedp tab in its own browser context.
type Page struct {
	ctx      context.Context // The tab context; cancelling it closes the tab.
	cancel   context.CancelFunc
	viewport schemas.Viewport
	cfg      config.BrowserConfig
	logger   *zap.Logger

	idle    *idleTracker
	docs    documentTracker
	crashed atomic.Bool

	closeOnce sync.Once
	onClose   func()
}

func newPage(tabCtx context.Context, cancel context.CancelFunc, vp schemas.Viewport, cfg config.BrowserConfig, logger *zap.Logger) *Page {
	return &Page{
		ctx:      tabCtx,
		cancel:   cancel,
		viewport: vp,
		cfg:      cfg,
		logger:   logger.Named("page").With(zap.String("viewport", vp.Name)),
		idle:     newIdleTracker(time.Now),
	}
}

// init creates the target, wires the event listeners and applies the viewport.
func (p *Page) init(ctx context.Context) error {
	chromedp.ListenTarget(p.ctx, p.handleEvent)
	return p.run(ctx,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if p.cfg.DisableCache {
				return network.SetCacheDisabled(true).Do(ctx)
			}
			return nil
		}),
		emulation.SetDeviceMetricsOverride(p.viewport.Width, p.viewport.Height, 1, p.viewport.Mobile),
	)
}

func (p *Page) handleEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		p.idle.started(string(e.RequestID))
		if e.Type == network.ResourceTypeDocument {
			p.docs.requested(string(e.RequestID), e.FrameID.String())
		}
	case *network.EventResponseReceived:
		if e.Type == network.ResourceTypeDocument && e.Response != nil {
			p.docs.responded(string(e.RequestID), e.FrameID.String(), e.Response.Status, e.Response.URL)
		}
	case *network.EventLoadingFinished:
		p.idle.finished(string(e.RequestID))
	case *network.EventLoadingFailed:
		p.idle.finished(string(e.RequestID))
		p.docs.failed(string(e.RequestID), e.ErrorText)
	case *inspector.EventTargetCrashed:
		p.crashed.Store(true)
		p.logger.Warn("Browser tab crashed.")
	case *inspector.EventDetached:
		p.crashed.Store(true)
		p.logger.Warn("Browser tab detached.", zap.Any("reason", e.Reason))
	}
}

// within runs fn on a child of the tab context that is also cancelled with
// ctx, so callers bound individual calls without closing the tab.
func (p *Page) within(ctx context.Context, fn func(runCtx context.Context) error) error {
	if err := p.alive(); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return p.classify(ctx, fn(runCtx))
}

func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	return p.within(ctx, func(runCtx context.Context) error {
		return chromedp.Run(runCtx, actions...)
	})
}

func (p *Page) alive() error {
	if p.crashed.Load() {
		return fmt.Errorf("%w: tab crashed", schemas.ErrAutomationFatal)
	}
	if err := p.ctx.Err(); err != nil {
		return fmt.Errorf("%w: tab closed: %v", schemas.ErrAutomationFatal, err)
	}
	return nil
}

// classify maps chromedp failures onto the driver sentinels.
func (p *Page) classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if dead := p.alive(); dead != nil {
		return fmt.Errorf("%w (%v)", dead, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, chromedp.ErrInvalidContext) || errors.Is(err, chromedp.ErrInvalidTarget) {
		return fmt.Errorf("%w: %v", schemas.ErrAutomationFatal, err)
	}
	return err
}

// Evaluate runs call.Source with call.Args and decodes the JSON result.
func (p *Page) Evaluate(ctx context.Context, call schemas.ScriptCall, out interface{}) error {
	args, err := jsoniter.Marshal(call.Args)
	if err != nil {
		return fmt.Errorf("failed to encode arguments of %s: %w", call.Name, err)
	}
	expr := fmt.Sprintf("(async () => { const r = await (%s)(%s); return r === undefined ? null : r; })()", call.Source, args)

	var raw []byte
	err = p.run(ctx, chromedp.Evaluate(expr, &raw, func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
		return ep.WithAwaitPromise(true)
	}))
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := jsoniter.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode result of %s: %w", call.Name, err)
	}
	return nil
}

// Navigate loads url. Unreachable targets and non-success statuses wrap
// schemas.ErrNavigation.
func (p *Page) Navigate(ctx context.Context, url string) error {
	var resp *network.Response
	err := p.within(ctx, func(runCtx context.Context) error {
		var err error
		resp, err = chromedp.RunResponse(runCtx, chromedp.Navigate(url))
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, schemas.ErrAutomationFatal), ctx.Err() != nil:
		return err
	default:
		return fmt.Errorf("%w: %s: %v", schemas.ErrNavigation, url, err)
	}
	if resp != nil && resp.Status >= 400 {
		return fmt.Errorf("%w: %s returned status %d", schemas.ErrNavigation, url, resp.Status)
	}
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	var u string
	err := p.run(ctx, chromedp.Location(&u))
	return u, err
}

func (p *Page) Title(ctx context.Context) (string, error) {
	var t string
	err := p.run(ctx, chromedp.Title(&t))
	return t, err
}

// present fails fast with ErrElementNotFound instead of letting chromedp
// wait for a selector that will never match.
func (p *Page) present(ctx context.Context, selector string) error {
	counts, err := pagescript.CountSelectors(ctx, p, []string{selector})
	if err != nil {
		return err
	}
	if counts[0] <= 0 {
		return fmt.Errorf("%w: %s", schemas.ErrElementNotFound, selector)
	}
	return nil
}

// act runs an action that may navigate. When it loads a new document that
// answers with an error status, or fails to load one, the action fails with
// schemas.ErrNavigation.
func (p *Page) act(ctx context.Context, fn func() error) error {
	p.docs.arm()
	err := fn()
	if err == nil {
		err = p.awaitDocument(ctx)
	}
	status, url, failure := p.docs.disarm()
	switch {
	case err != nil:
		return err
	case failure != "":
		return fmt.Errorf("%w: %s", schemas.ErrNavigation, failure)
	case status >= 400:
		return fmt.Errorf("%w: %s returned status %d", schemas.ErrNavigation, url, status)
	}
	return nil
}

// awaitDocument waits for a document load started by the last action. It
// gives up after documentGrace when none started and after the navigation
// timeout otherwise.
func (p *Page) awaitDocument(parent context.Context) error {
	ctx := parent
	if p.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, p.cfg.NavigationTimeout)
		defer cancel()
	}
	start := time.Now()
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()
	for {
		if err := p.alive(); err != nil {
			return err
		}
		waiting, seen := p.docs.pending()
		if !waiting && (seen || time.Since(start) >= documentGrace) {
			return nil
		}
		select {
		case <-ctx.Done():
			// A slow navigation is left to the caller's settle step.
			return parent.Err()
		case <-ticker.C:
		}
	}
}

func (p *Page) Click(ctx context.Context, selector string) error {
	if err := p.present(ctx, selector); err != nil {
		return err
	}
	return p.act(ctx, func() error {
		return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
	})
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	if err := p.present(ctx, selector); err != nil {
		return err
	}
	return p.run(ctx,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (p *Page) Select(ctx context.Context, selector, value string) error {
	return pagescript.SelectOption(ctx, p, selector, value)
}

// Check toggles a checkbox or radio the way a user click does.
func (p *Page) Check(ctx context.Context, selector string) error {
	return p.Click(ctx, selector)
}

func (p *Page) Upload(ctx context.Context, selector string, files []string) error {
	if err := p.present(ctx, selector); err != nil {
		return err
	}
	return p.run(ctx, chromedp.SetUploadFiles(selector, files, chromedp.ByQuery))
}

func (p *Page) Submit(ctx context.Context, formSelector string) error {
	return p.act(ctx, func() error {
		return pagescript.SubmitForm(ctx, p, formSelector)
	})
}

// WaitIdle blocks until no request has been in flight for quiet.
func (p *Page) WaitIdle(ctx context.Context, quiet time.Duration) error {
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()
	for {
		if err := p.alive(); err != nil {
			return err
		}
		if p.idle.quietFor(quiet) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Page) Viewport() schemas.Viewport { return p.viewport }

// ResetState clears the cookies of the tab's browser context, the storage of
// origin and the session storage of the current document.
func (p *Page) ResetState(ctx context.Context, origin string) error {
	return p.run(ctx,
		network.ClearBrowserCookies(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if origin == "" {
				return nil
			}
			return storage.ClearDataForOrigin(origin, resetStorageTypes).Do(ctx)
		}),
		chromedp.Evaluate(`(() => { try { window.sessionStorage.clear(); } catch (e) {} })()`, nil),
	)
}

// Close closes the tab and disposes its browser context.
func (p *Page) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		done := make(chan struct{})
		go func() {
			p.cancel()
			close(done)
		}()
		wait := time.NewTimer(defaultPageCloseWait)
		defer wait.Stop()
		select {
		case <-done:
		case <-ctx.Done():
		case <-wait.C:
			p.logger.Warn("Tab did not close in time.")
		}
		if p.onClose != nil {
			p.onClose()
		}
	})
	return nil
}
