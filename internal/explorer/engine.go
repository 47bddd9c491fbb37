// internal/explorer/engine.go
package explorer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
	"github.com/xkilldash9x/scalpel-explorer/internal/actions"
	"github.com/xkilldash9x/scalpel-explorer/internal/config"
	"github.com/xkilldash9x/scalpel-explorer/internal/identity"
	"github.com/xkilldash9x/scalpel-explorer/internal/validation"
)

// DefaultAdapter is the adapter configured expectations use when they do not
// name one.
const DefaultAdapter = "postgres"

const resultsBuffer = 64

// ErrAlreadyRunning is returned when Explore is called while a run is active.
var ErrAlreadyRunning = errors.New("exploration already in progress")

// Engine explores a web application as a graph of UI states. It owns the
// traversal policy; the browser, validators and backend adapters are
// collaborators. An Engine performs one run at a time.
type Engine struct {
	explore   config.ExploreConfig
	browser   config.BrowserConfig
	patterns  config.PatternsConfig
	viewports []schemas.Viewport
	driver    schemas.Driver
	logger    *zap.Logger
	bus       *EventBus
	now       func() time.Time

	validators    []schemas.Validator
	validatorsSet bool
	adapters      []schemas.BackendAdapter
	identityFn    schemas.IdentityFunc
	rules         []ExpectationRule
	bindings      []binding
	eventBuffer   int

	running atomic.Bool
}

// New validates the configuration and builds an engine. Every configuration
// problem is reported here, wrapped in ErrConfiguration, before any page is
// opened.
func New(cfg config.Interface, driver schemas.Driver, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil || driver == nil {
		return nil, fmt.Errorf("%w: a configuration and a browser driver are required", ErrConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		explore:     cfg.Explore(),
		browser:     cfg.Browser(),
		patterns:    cfg.Patterns(),
		viewports:   cfg.Viewports(),
		driver:      driver,
		logger:      logger.Named("ExplorationEngine"),
		now:         time.Now,
		eventBuffer: defaultEventBuffer,
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.explore.Validate(); err != nil {
		return nil, err
	}
	if len(e.viewports) == 0 {
		e.viewports = []schemas.Viewport{schemas.DefaultViewport}
	}
	if err := config.ValidateViewports(e.viewports); err != nil {
		return nil, err
	}
	if !e.validatorsSet {
		validators, err := validation.FromNames(e.explore.Validators)
		if err != nil {
			return nil, err
		}
		e.validators = validators
	}

	adapters := make(map[string]schemas.BackendAdapter, len(e.adapters))
	for _, a := range e.adapters {
		if _, dup := adapters[a.Name()]; dup {
			return nil, fmt.Errorf("%w: backend adapter %q registered twice", ErrConfiguration, a.Name())
		}
		adapters[a.Name()] = a
	}
	var rules []ExpectationRule
	if backend := cfg.Backend(); backend.Enabled {
		rules = rulesFromConfig(backend, DefaultAdapter)
	}
	bindings, err := compileBindings(append(rules, e.rules...), adapters)
	if err != nil {
		return nil, err
	}
	e.bindings = bindings
	e.bus = NewEventBus(e.logger, e.eventBuffer)
	return e, nil
}

// Events exposes the progress event bus.
func (e *Engine) Events() *EventBus { return e.bus }

// Close releases the event bus. The driver is owned by the caller.
func (e *Engine) Close() { e.bus.Close() }

// Explore traverses the application from startURLs in every configured
// viewport and returns the resulting graph. When roots were abandoned the
// partial result is returned together with a *RunError. Cancelling ctx stops
// the run gracefully; the partial result is returned without an error.
func (e *Engine) Explore(ctx context.Context, startURLs []string) (*schemas.ExplorationResult, error) {
	if len(startURLs) == 0 {
		return nil, fmt.Errorf("%w: at least one start url is required", ErrConfiguration)
	}
	scope, err := NewScope(startURLs, e.explore.IncludeSubdomains, e.explore.ExcludePaths)
	if err != nil {
		return nil, err
	}
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer e.running.Store(false)

	return e.newRun(startURLs, scope).execute(ctx)
}

// run is the state of a single exploration. Fields below the writer marker
// are only touched by the goroutine executing the run.
type run struct {
	e        *Engine
	id       string
	started  time.Time
	logger   *zap.Logger
	roots    []string
	scope    *Scope
	identity *identity.Engine
	catalog  *actions.Catalog
	pipeline *validation.Pipeline
	limiter  *rate.Limiter

	claims  sync.Map // state id -> struct{}
	aborted sync.Map // root key -> struct{}

	// writer
	graph        *Graph
	routes       map[string]route
	pending      map[string][]pendingEdge
	pendingRoots map[string]string
	dropped      map[string]struct{}
	issues       []schemas.Issue
	failures     []RootFailure
	rootErrors   []string
	counters     schemas.Summary
}

func (e *Engine) newRun(startURLs []string, scope *Scope) *run {
	r := &run{
		e:            e,
		id:           uuid.NewString(),
		started:      e.now(),
		roots:        append([]string(nil), startURLs...),
		scope:        scope,
		graph:        newGraph(),
		routes:       make(map[string]route),
		pending:      make(map[string][]pendingEdge),
		pendingRoots: make(map[string]string),
		dropped:      make(map[string]struct{}),
	}
	r.logger = e.logger.With(zap.String("run_id", r.id))

	idOpts := identity.OptionsFromConfig(e.explore)
	idOpts.Custom = e.identityFn
	r.identity = identity.NewEngine(idOpts, r.logger)
	r.catalog = actions.NewCatalog(actions.OptionsFromConfig(e.explore, e.patterns), r.logger)
	r.pipeline = validation.NewPipeline(e.validators, e.explore.ValidatorConcurrency, e.explore.ValidatorTimeout, r.logger)

	if e.explore.ActionsPerSecond > 0 {
		burst := e.explore.Burst
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(e.explore.ActionsPerSecond), burst)
	}
	return r
}

// phase is the traversal of one viewport.
type phase struct {
	viewport schemas.Viewport
	budget   *budget
	frontier *Frontier
	pages    *pageSource
	results  chan observation
	wg       sync.WaitGroup
	inflight int
}

func (r *run) execute(ctx context.Context) (*schemas.ExplorationResult, error) {
	r.logger.Info("Starting exploration.",
		zap.Strings("start_urls", r.roots),
		zap.Int("viewports", len(r.e.viewports)),
		zap.Int("max_depth", r.e.explore.MaxDepth),
		zap.Int("max_states", r.e.explore.MaxStates),
		zap.String("isolation", r.e.explore.Isolation),
	)

	var shared *budget
	if r.e.explore.ViewportBudget == config.BudgetShared {
		shared = newBudget(r.e.explore, r.started)
	}

	var reason schemas.TerminationReason
	for _, vp := range r.e.viewports {
		b := shared
		if b == nil {
			b = newBudget(r.e.explore, r.e.now())
		}
		why := r.explorePhase(ctx, vp, b)
		if reason == "" || reason == schemas.TerminationFrontierEmpty {
			reason = why
		}
		if ctx.Err() != nil {
			break
		}
		if shared != nil && why != schemas.TerminationFrontierEmpty {
			break
		}
	}

	switch {
	case ctx.Err() != nil:
		reason = schemas.TerminationCancelled
	case reason == schemas.TerminationFrontierEmpty && len(r.failures) > 0:
		reason = schemas.TerminationFatal
	}

	result := r.result(reason)
	r.e.bus.Publish(schemas.EventRunFinished, &result.Summary)
	r.logger.Info("Exploration finished.",
		zap.String("reason", string(reason)),
		zap.Int("states", result.Summary.StatesDiscovered),
		zap.Int("edges", result.Summary.Edges),
		zap.Int("issues", result.Summary.IssuesFound),
		zap.Int64("duration_ms", result.Summary.DurationMs),
	)

	if len(r.failures) > 0 {
		return result, &RunError{Failures: append([]RootFailure(nil), r.failures...)}
	}
	return result, nil
}

// explorePhase runs the dispatcher loop for one viewport. The loop is the
// only writer of the graph and the frontier; workers report back through
// ph.results and the loop drains it until no worker is left.
func (r *run) explorePhase(ctx context.Context, vp schemas.Viewport, b *budget) schemas.TerminationReason {
	ph := &phase{
		viewport: vp,
		budget:   b,
		frontier: newFrontier(),
		pages:    newPageSource(r.e.driver, r.e.explore.Isolation, vp, r.e.browser.NavigationTimeout, r.logger),
		results:  make(chan observation, resultsBuffer),
	}
	defer ph.pages.closeAll()

	limit := r.e.explore.Concurrency
	if r.e.explore.Isolation == config.IsolationShared {
		limit = 1
	}
	r.logger.Debug("Exploring viewport.", zap.String("viewport", vp.Name), zap.Int("workers", limit))

	seeds := append([]string(nil), r.roots...)
	var reason schemas.TerminationReason
	stopping := false
	for {
		for !stopping && ph.inflight < limit && (len(seeds) > 0 || ph.frontier.Len() > 0) {
			if ctx.Err() != nil {
				reason, stopping = schemas.TerminationCancelled, true
				break
			}
			if len(seeds) > 0 {
				root := seeds[0]
				seeds = seeds[1:]
				r.dispatchSeed(ctx, ph, root)
				continue
			}
			if why, done := b.exhausted(r.e.now()); done {
				reason, stopping = why, true
				break
			}
			if t, ok := r.nextTask(ph); ok {
				b.expanded++
				r.dispatchExpand(ctx, ph, t)
			}
		}
		if ph.inflight == 0 {
			break
		}
		r.fold(ph, <-ph.results)
	}
	ph.wg.Wait()

	if reason == "" {
		reason = schemas.TerminationFrontierEmpty
		if b.refused > 0 {
			reason = schemas.TerminationStateCap
		}
	}
	r.logger.Debug("Viewport finished.", zap.String("viewport", vp.Name), zap.String("reason", string(reason)), zap.Int("left_in_frontier", ph.frontier.Len()))
	return reason
}

// nextTask pops the next expandable node and marks it expanded.
func (r *run) nextTask(ph *phase) (*expandTask, bool) {
	id, ok := ph.frontier.Pop()
	if !ok {
		return nil, false
	}
	node, ok := r.graph.Node(id)
	if !ok || node.Expanded {
		return nil, false
	}
	key := rootKeyFor(node.RootURL, ph.viewport.Name)
	if r.isAborted(key) {
		return nil, false
	}
	node.Expanded = true
	return &expandTask{
		node:     *node,
		route:    r.routes[id],
		rootKey:  key,
		viewport: ph.viewport,
		budget:   ph.budget,
	}, true
}

func (r *run) dispatchSeed(ctx context.Context, ph *phase, rootURL string) {
	base := observation{kind: obsSeed, rootURL: rootURL, rootKey: rootKeyFor(rootURL, ph.viewport.Name)}
	r.dispatch(ph, base, func(emit func(observation)) { r.seed(ctx, ph, base, emit) })
}

func (r *run) dispatchExpand(ctx context.Context, ph *phase, t *expandTask) {
	base := observation{kind: obsExpandFailed, rootKey: t.rootKey, source: t.node.ID}
	r.dispatch(ph, base, func(emit func(observation)) { r.expand(ctx, ph, t, emit) })
}

// dispatch starts a worker. A panicking worker is reported as a failure of
// its task and always signals completion.
func (r *run) dispatch(ph *phase, base observation, work func(emit func(observation))) {
	ph.inflight++
	ph.wg.Add(1)
	emit := func(o observation) { ph.results <- o }
	go func() {
		defer ph.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("Worker panicked.",
					zap.Any("panic", p),
					zap.String("stack", string(debug.Stack())),
				)
				o := base
				o.err = &ActionError{Kind: schemas.FailureTransient, Err: fmt.Errorf("worker panic: %v", p)}
				emit(o)
			}
			emit(observation{kind: obsDone})
		}()
		work(emit)
	}()
}

func (r *run) isAborted(rootKey string) bool {
	_, ok := r.aborted.Load(rootKey)
	return ok
}

func rootKeyFor(rootURL, viewport string) string {
	return viewport + "|" + rootURL
}

func (r *run) result(reason schemas.TerminationReason) *schemas.ExplorationResult {
	snap := r.graph.Snapshot()
	s := r.counters
	s.RunID = r.id
	s.StartedAt = r.started.UTC()
	s.StatesDiscovered = len(snap.Nodes)
	s.Edges = len(snap.Edges)
	s.IssuesFound = len(r.issues)
	s.DurationMs = r.e.now().Sub(r.started).Milliseconds()
	s.TerminationReason = reason
	for _, n := range snap.Nodes {
		if n.Expanded {
			s.StatesExplored++
		}
	}
	s.Errors = append([]string(nil), r.rootErrors...)
	for _, f := range r.failures {
		s.Errors = append(s.Errors, fmt.Sprintf("%s (%s): %v", f.RootURL, f.Viewport, f.Err))
	}

	issues := make([]schemas.Issue, len(r.issues))
	copy(issues, r.issues)
	return &schemas.ExplorationResult{Graph: snap, Issues: issues, Summary: s}
}
