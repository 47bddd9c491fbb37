// internal/explorer/replay.go
package explorer

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
	"github.com/xkilldash9x/scalpel-explorer/internal/config"
)

// route is the shortest known way back to a state: navigate to anchor, then
// perform steps. The anchor is the URL of the nearest addressable ancestor.
type route struct {
	anchor string
	steps  []schemas.PathStep
}

// extend returns the route of a child reached from r by step.
func (r route) extend(step schemas.PathStep) route {
	steps := make([]schemas.PathStep, len(r.steps), len(r.steps)+1)
	copy(steps, r.steps)
	return route{anchor: r.anchor, steps: append(steps, step)}
}

// appendStep copies path and appends step.
func appendStep(path []schemas.PathStep, step schemas.PathStep) []schemas.PathStep {
	out := make([]schemas.PathStep, len(path), len(path)+1)
	copy(out, path)
	return append(out, step)
}

// performStep executes one recorded step.
func performStep(ctx context.Context, page schemas.Page, step schemas.PathStep) error {
	switch {
	case step.Submit:
		return page.Submit(ctx, step.Selector)
	case step.Kind == schemas.ActionFill:
		return page.Fill(ctx, step.Selector, step.Value)
	case step.Kind == schemas.ActionSelect:
		return page.Select(ctx, step.Selector, step.Value)
	case step.Kind == schemas.ActionCheck:
		return page.Check(ctx, step.Selector)
	case step.Kind == schemas.ActionUpload:
		return page.Upload(ctx, step.Selector, []string{step.Value})
	default:
		return page.Click(ctx, step.Selector)
	}
}

// settle waits for network quiescence. A page that never settles is still usable.
func (r *run) settle(ctx context.Context, page schemas.Page) {
	browser := r.e.browser
	if browser.IdleTimeout <= 0 {
		return
	}
	ictx, cancel := actionContext(ctx, browser.IdleTimeout)
	defer cancel()
	if err := page.WaitIdle(ictx, browser.IdleQuiet); err != nil {
		r.logger.Debug("Page did not settle.", zap.Error(err))
	}
}

// originOf returns scheme://host of rawURL, or "" when it has neither.
func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// walk navigates to anchor and performs steps in order. A shared page has its
// cookies and storage cleared first so one sibling cannot see another's.
func (r *run) walk(ctx context.Context, page schemas.Page, anchor string, steps []schemas.PathStep) error {
	if r.e.explore.Isolation == config.IsolationShared {
		rctx, cancel := actionContext(ctx, r.e.explore.ActionTimeout)
		err := page.ResetState(rctx, originOf(anchor))
		cancel()
		if err != nil {
			return fmt.Errorf("resetting page state: %w", err)
		}
	}

	nctx, cancel := actionContext(ctx, r.e.browser.NavigationTimeout)
	err := page.Navigate(nctx, anchor)
	cancel()
	if err != nil {
		return err
	}
	r.settle(ctx, page)

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		actx, cancel := actionContext(ctx, r.e.explore.ActionTimeout)
		err := performStep(actx, page, step)
		cancel()
		if err != nil {
			return fmt.Errorf("%w: step %d (%s %s): %w", ErrReplayDrift, i+1, step.Kind, step.Selector, err)
		}
		r.settle(ctx, page)
	}
	return nil
}

// currentID captures the page and returns its state id.
func (r *run) currentID(ctx context.Context, page schemas.Page, viewport string) (string, error) {
	cctx, cancel := actionContext(ctx, r.e.explore.ActionTimeout)
	defer cancel()
	st, err := r.identity.CaptureState(cctx, page, viewport)
	if err != nil {
		return "", err
	}
	return st.ID, nil
}

// replay re-establishes node on page. It walks the short route first and
// falls back to the full path from the root once before reporting drift.
func (r *run) replay(ctx context.Context, page schemas.Page, t *expandTask) error {
	attempts := []route{t.route, {anchor: t.node.RootURL, steps: t.node.Path}}
	var got string
	for i, rt := range attempts {
		if err := r.walk(ctx, page, rt.anchor, rt.steps); err != nil {
			if i == 0 && ctx.Err() == nil && !isFatal(err) {
				r.logger.Debug("Replay failed, retrying from root.", zap.String("state_id", t.node.ID), zap.Error(err))
				continue
			}
			return err
		}
		id, err := r.currentID(ctx, page, t.viewport.Name)
		if err != nil {
			return err
		}
		if id == t.node.ID {
			return nil
		}
		got = id
		r.logger.Debug("Replay reached a different state.", zap.String("state_id", t.node.ID), zap.String("reached", id), zap.Int("attempt", i+1))
	}
	return fmt.Errorf("%w: expected %s, reached %s", ErrReplayDrift, t.node.ID, got)
}
