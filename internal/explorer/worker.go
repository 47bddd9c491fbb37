// internal/explorer/worker.go
package explorer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
	"github.com/xkilldash9x/scalpel-explorer/internal/actions"
)

var errNoUploadFixture = errors.New("no upload fixture configured")

// expandTask is one node handed to a worker. node is a copy taken when the
// task was dispatched.
type expandTask struct {
	node     schemas.StateNode
	route    route
	rootKey  string
	viewport schemas.Viewport
	budget   *budget
}

// seed loads a start URL and reports the state it lands on.
func (r *run) seed(ctx context.Context, ph *phase, obs observation, emit func(observation)) {
	l, err := ph.pages.acquire(ctx, obs.rootKey)
	if err != nil {
		obs.err = classify("", err)
		emit(obs)
		return
	}
	defer l.release()

	if err := r.walk(ctx, l.page, obs.rootURL, nil); err != nil {
		obs.err = classify("", err)
		emit(obs)
		return
	}
	st, err := r.capture(ctx, l.page, ph.viewport.Name)
	if err != nil {
		obs.err = classify("", err)
		emit(obs)
		return
	}
	r.claim(ctx, ph, l.page, st, &obs)
	emit(obs)
}

// expand re-establishes a node, discovers its actions and performs them in
// priority order. In fresh isolation every action after the first gets a new
// page; in shared isolation the root's page is walked back to the node.
func (r *run) expand(ctx context.Context, ph *phase, t *expandTask, emit func(observation)) {
	fail := func(err error) {
		emit(observation{kind: obsExpandFailed, rootKey: t.rootKey, source: t.node.ID, err: classify("", err)})
	}

	l, err := ph.pages.acquire(ctx, t.rootKey)
	if err != nil {
		fail(err)
		return
	}
	defer func() { l.release() }()

	if err := r.replay(ctx, l.page, t); err != nil {
		fail(err)
		return
	}
	acts, err := r.actionsFor(ctx, l.page)
	if err != nil {
		fail(err)
		return
	}
	r.logger.Debug("Expanding state.",
		zap.String("state_id", t.node.ID),
		zap.String("url", t.node.State.URL),
		zap.Int("depth", t.node.Depth),
		zap.Int("actions", len(acts)),
	)

	atSource := true
	for _, a := range acts {
		if r.halted(ctx, t) {
			return
		}
		if a.Kind == schemas.ActionUpload && !a.Submit && r.e.explore.UploadFixture == "" {
			emit(r.failed(t, a, &ActionError{Kind: schemas.FailureSkipped, Selector: a.Selector, Err: errNoUploadFixture}, false))
			continue
		}

		if !atSource {
			l.release()
			l = lease{release: func() {}}
			fresh, err := ph.pages.acquire(ctx, t.rootKey)
			if err != nil {
				ae := classify(a.Selector, err)
				emit(r.failed(t, a, ae, false))
				if ae.Fatal() {
					return
				}
				continue
			}
			l = fresh
			if err := r.replay(ctx, l.page, t); err != nil {
				ae := classify(a.Selector, err)
				emit(r.failed(t, a, ae, false))
				if ae.Fatal() {
					return
				}
				continue
			}
		}
		atSource = false

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return
			}
		}
		if !t.budget.reserveIteration() {
			return
		}
		obs := r.perform(ctx, ph, t, l.page, a)
		emit(obs)
		if obs.err != nil && obs.err.Fatal() {
			return
		}
	}
}

// halted reports whether the worker should stop before its next action.
func (r *run) halted(ctx context.Context, t *expandTask) bool {
	return ctx.Err() != nil || t.budget.expired(r.e.now()) || r.isAborted(t.rootKey)
}

// actionsFor lists the candidate actions of the current page, best first.
func (r *run) actionsFor(ctx context.Context, page schemas.Page) ([]schemas.DiscoveredAction, error) {
	dctx, cancel := actionContext(ctx, r.e.explore.ActionTimeout)
	defer cancel()

	found, err := r.catalog.Discover(dctx, page, nil)
	if err != nil {
		return nil, err
	}
	forms, err := r.catalog.FormActions(dctx, page)
	if err != nil {
		r.logger.Debug("Form discovery failed.", zap.Error(err))
	}
	all := r.catalog.Prioritize(append(found, forms...))
	if limit := r.e.explore.ActionsPerState; len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *run) failed(t *expandTask, a schemas.DiscoveredAction, err *ActionError, executed bool) observation {
	return observation{
		kind:     obsAction,
		rootKey:  t.rootKey,
		source:   t.node.ID,
		action:   a,
		step:     schemas.PathStep{Kind: a.Kind, Selector: a.Selector, Label: a.Label, Submit: a.Submit},
		executed: executed,
		err:      err,
	}
}

// perform executes one action on a page sitting at the task's node and
// reports where it led.
func (r *run) perform(ctx context.Context, ph *phase, t *expandTask, page schemas.Page, a schemas.DiscoveredAction) (obs observation) {
	obs = observation{kind: obsAction, rootKey: t.rootKey, source: t.node.ID, action: a, executed: true}
	start := r.e.now()
	defer func() { obs.took = r.e.now().Sub(start) }()

	bindings := r.e.bindingsFor(a.Label)
	if len(bindings) > 0 {
		bctx, cancel := actionContext(ctx, r.e.explore.ActionTimeout)
		r.baseline(bctx, bindings)
		cancel()
	}

	actx, cancel := actionContext(ctx, r.e.explore.ActionTimeout)
	step, err := r.act(actx, page, a)
	cancel()
	obs.step = step
	if err != nil {
		obs.err = classify(a.Selector, err)
		return obs
	}
	r.settle(ctx, page)

	if len(bindings) > 0 {
		vctx, cancel := actionContext(ctx, r.e.explore.ActionTimeout)
		obs.sourceIssues = r.verify(vctx, bindings, a, t.node.ID, t.viewport.Name)
		cancel()
	}

	if err := r.inScope(ctx, page); err != nil {
		obs.err = classify(a.Selector, err)
		return obs
	}
	st, err := r.capture(ctx, page, t.viewport.Name)
	if err != nil {
		obs.err = classify(a.Selector, err)
		return obs
	}
	r.claim(ctx, ph, page, st, &obs)
	return obs
}

// act performs a and returns the step that replays it.
func (r *run) act(ctx context.Context, page schemas.Page, a schemas.DiscoveredAction) (schemas.PathStep, error) {
	step := schemas.PathStep{Kind: a.Kind, Selector: a.Selector, Label: a.Label, Submit: a.Submit}
	switch {
	case a.Submit:
	case a.Kind == schemas.ActionFill:
		step.Value = actions.InputValue(a)
	case a.Kind == schemas.ActionSelect:
		if v, ok := actions.SelectValue(a); ok {
			step.Value = v
		} else {
			step.Kind = schemas.ActionClick
		}
	case a.Kind == schemas.ActionUpload:
		step.Value = r.e.explore.UploadFixture
	}
	return step, performStep(ctx, page, step)
}

// inScope checks the page URL against the site and the excluded paths.
func (r *run) inScope(ctx context.Context, page schemas.Page) error {
	uctx, cancel := actionContext(ctx, r.e.explore.ActionTimeout)
	defer cancel()
	rawURL, err := page.URL(uctx)
	if err != nil {
		return err
	}
	path, err := r.identity.CanonicalPath(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutOfScope, err)
	}
	return r.scope.Check(rawURL, path)
}

func (r *run) capture(ctx context.Context, page schemas.Page, viewport string) (*schemas.AppState, error) {
	cctx, cancel := actionContext(ctx, r.e.explore.ActionTimeout)
	defer cancel()
	return r.identity.CaptureState(cctx, page, viewport)
}

// claim decides which worker owns a newly seen state. Only the claimant
// validates the page and snapshots the backend, so a state reached by
// several workers at once is processed once.
func (r *run) claim(ctx context.Context, ph *phase, page schemas.Page, st *schemas.AppState, obs *observation) {
	obs.state = st
	if _, loaded := r.claims.LoadOrStore(st.ID, struct{}{}); loaded {
		return
	}
	if !ph.budget.reserveNode() {
		obs.refused = true
		return
	}
	obs.created = true
	obs.validation = r.pipeline.Run(Detach(ctx), page, st.ID, ph.viewport.Name)

	sctx, cancel := actionContext(ctx, r.e.explore.ActionTimeout)
	defer cancel()
	if snaps := r.snapshot(sctx); len(snaps) > 0 {
		withBackend := *st
		withBackend.Backend = snaps
		obs.state = &withBackend
	}
}
