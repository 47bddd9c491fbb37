// internal/explorer/writer.go
package explorer

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
	"github.com/xkilldash9x/scalpel-explorer/internal/validation"
)

type obsKind int

const (
	obsSeed obsKind = iota
	obsExpandFailed
	obsAction
	obsDone
)

// observation is what a worker reports to the writer. Workers never touch
// the graph; everything they learned travels in one of these.
type observation struct {
	kind    obsKind
	rootURL string
	rootKey string
	source  string

	action   schemas.DiscoveredAction
	step     schemas.PathStep
	executed bool
	took     time.Duration
	err      *ActionError

	state *schemas.AppState
	// created is set when this worker claimed the state and got a node slot.
	created bool
	// refused is set when this worker claimed the state but the cap was hit.
	refused    bool
	validation validation.Result
	// sourceIssues are backend findings against the source state.
	sourceIssues []schemas.Issue
}

// pendingEdge is a transition to a state another worker claimed but has not
// reported yet.
type pendingEdge struct {
	edge   schemas.StateTransition
	source string
	step   schemas.PathStep
}

func (r *run) fold(ph *phase, obs observation) {
	switch obs.kind {
	case obsDone:
		ph.inflight--
	case obsSeed:
		r.foldSeed(ph, obs)
	case obsExpandFailed:
		r.foldExpandFailed(ph, obs)
	case obsAction:
		r.foldAction(ph, obs)
	}
}

func (r *run) foldSeed(ph *phase, obs observation) {
	if obs.err != nil {
		r.logger.Warn("Start URL could not be loaded.",
			zap.String("url", obs.rootURL),
			zap.String("viewport", ph.viewport.Name),
			zap.Error(obs.err),
		)
		r.failRoot(ph, obs.rootKey, obs.rootURL, obs.err)
		return
	}

	st := obs.state
	rt := route{anchor: obs.rootURL}
	if node, ok := r.graph.Node(st.ID); ok {
		// Another root or path already reached this page.
		if node.Depth > 0 {
			r.moveTo(ph, node, 0, obs.rootURL, nil, rt)
		}
		return
	}
	if obs.refused {
		r.drop(ph, st.ID)
		return
	}
	if !obs.created {
		// Claimed by a worker that has not reported yet.
		if _, gone := r.dropped[st.ID]; !gone {
			r.pendingRoots[st.ID] = obs.rootURL
		}
		return
	}
	node := &schemas.StateNode{
		ID:          st.ID,
		Depth:       0,
		State:       *st,
		RootURL:     obs.rootURL,
		Addressable: true,
	}
	r.insert(ph, node, rt, obs)
}

func (r *run) foldExpandFailed(ph *phase, obs observation) {
	node, ok := r.graph.Node(obs.source)
	if !ok {
		return
	}
	node.ExpandError = obs.err.Error()
	r.logger.Warn("State could not be expanded.",
		zap.String("state_id", node.ID),
		zap.String("url", node.State.URL),
		zap.String("kind", string(obs.err.Kind)),
		zap.Error(obs.err),
	)
	if obs.err.Fatal() {
		r.failRoot(ph, obs.rootKey, node.RootURL, obs.err)
	}
}

func (r *run) foldAction(ph *phase, obs observation) {
	src, ok := r.graph.Node(obs.source)
	if !ok {
		return
	}
	if obs.executed {
		r.counters.ActionsPerformed++
	}
	r.addIssues(obs.sourceIssues)

	edge := schemas.StateTransition{
		ID:         uuid.NewString(),
		From:       src.ID,
		Action:     obs.action,
		Value:      obs.step.Value,
		Viewport:   ph.viewport.Name,
		DurationMs: obs.took.Milliseconds(),
		CreatedAt:  r.e.now().UTC(),
	}

	if obs.err != nil {
		edge.Failed = true
		edge.FailureKind = obs.err.Kind
		edge.Failure = obs.err.Error()
		r.graph.AddEdge(edge)
		if obs.err.Kind != schemas.FailureSkipped {
			r.counters.FailedActions++
		}
		r.logger.Debug("Action failed.",
			zap.String("state_id", src.ID),
			zap.String("selector", obs.action.Selector),
			zap.String("kind", string(obs.err.Kind)),
			zap.Error(obs.err.Err),
		)
		r.e.bus.Publish(schemas.EventActionFailed, &edge)
		if obs.err.Fatal() {
			r.failRoot(ph, obs.rootKey, src.RootURL, obs.err)
		}
		return
	}

	st := obs.state
	edge.To = st.ID
	if node, ok := r.graph.Node(st.ID); ok {
		r.link(edge)
		r.relax(ph, node, src, obs.step)
		return
	}
	switch {
	case obs.created:
		node := &schemas.StateNode{
			ID:          st.ID,
			Depth:       src.Depth + 1,
			State:       *st,
			RootURL:     src.RootURL,
			Path:        appendStep(src.Path, obs.step),
			Addressable: st.Path != src.State.Path && st.Overlay == "",
		}
		rt := r.routes[src.ID].extend(obs.step)
		if node.Addressable {
			rt = route{anchor: st.URL}
		}
		r.insert(ph, node, rt, obs)
		r.link(edge)
		r.flushPending(ph, node)
	case obs.refused:
		r.drop(ph, st.ID)
	default:
		if _, gone := r.dropped[st.ID]; gone {
			return
		}
		r.pending[st.ID] = append(r.pending[st.ID], pendingEdge{edge: edge, source: src.ID, step: obs.step})
	}
}

// insert adds a newly claimed node and queues it for expansion.
func (r *run) insert(ph *phase, node *schemas.StateNode, rt route, obs observation) {
	r.graph.AddNode(node)
	r.routes[node.ID] = rt
	r.counters.ValidatorErrors += obs.validation.Errors
	r.addIssues(obs.validation.Issues)

	visited := *node
	r.e.bus.Publish(schemas.EventStateVisited, &visited)
	r.logger.Debug("State discovered.",
		zap.String("state_id", node.ID),
		zap.String("url", node.State.URL),
		zap.Int("depth", node.Depth),
		zap.Int("issues", len(obs.validation.Issues)),
	)
	r.enqueue(ph, node)
}

// enqueue pushes node when it may still be expanded.
func (r *run) enqueue(ph *phase, node *schemas.StateNode) {
	key := rootKeyFor(node.RootURL, ph.viewport.Name)
	if node.Expanded || node.Depth >= r.e.explore.MaxDepth || r.isAborted(key) {
		return
	}
	ph.frontier.Push(node.ID, key, node.Depth)
}

func (r *run) link(edge schemas.StateTransition) {
	r.graph.AddEdge(edge)
	r.e.bus.Publish(schemas.EventActionPerformed, &edge)
}

// relax shortens the recorded path of node when src offers a shallower one.
func (r *run) relax(ph *phase, node, src *schemas.StateNode, step schemas.PathStep) {
	depth := src.Depth + 1
	if depth >= node.Depth {
		return
	}
	rt := r.routes[node.ID]
	if !node.Addressable {
		rt = r.routes[src.ID].extend(step)
	}
	r.moveTo(ph, node, depth, src.RootURL, appendStep(src.Path, step), rt)
}

func (r *run) moveTo(ph *phase, node *schemas.StateNode, depth int, rootURL string, path []schemas.PathStep, rt route) {
	node.Depth = depth
	node.RootURL = rootURL
	node.Path = path
	r.routes[node.ID] = rt
	if !ph.frontier.Relax(node.ID, rootKeyFor(rootURL, ph.viewport.Name), depth) {
		r.enqueue(ph, node)
	}
}

func (r *run) flushPending(ph *phase, node *schemas.StateNode) {
	if rootURL, ok := r.pendingRoots[node.ID]; ok {
		delete(r.pendingRoots, node.ID)
		r.moveTo(ph, node, 0, rootURL, nil, route{anchor: rootURL})
	}
	waiting := r.pending[node.ID]
	delete(r.pending, node.ID)
	for _, p := range waiting {
		r.link(p.edge)
		if src, ok := r.graph.Node(p.source); ok {
			r.relax(ph, node, src, p.step)
		}
	}
}

// drop records a state that was refused by the state cap.
func (r *run) drop(ph *phase, id string) {
	if _, seen := r.dropped[id]; seen {
		return
	}
	r.dropped[id] = struct{}{}
	delete(r.pending, id)
	r.counters.DroppedStates++
	ph.budget.refused++
}

func (r *run) addIssues(issues []schemas.Issue) {
	for i := range issues {
		r.issues = append(r.issues, issues[i])
		found := issues[i]
		r.e.bus.Publish(schemas.EventIssueFound, &found)
	}
}

// failRoot records a root failure. A start URL that cannot be loaded is only
// counted. Fatal failures also abandon the root: its queued nodes are
// discarded, its shared page is closed and the run reports a RunError.
func (r *run) failRoot(ph *phase, rootKey, rootURL string, err *ActionError) {
	if _, already := r.aborted.Load(rootKey); already {
		return
	}
	if !err.Fatal() {
		r.counters.FailedRoots++
		r.rootErrors = append(r.rootErrors, fmt.Sprintf("%s (%s): %v", rootURL, ph.viewport.Name, err))
		return
	}
	r.failures = append(r.failures, RootFailure{RootURL: rootURL, Viewport: ph.viewport.Name, Err: err})
	r.aborted.Store(rootKey, struct{}{})
	removed := ph.frontier.RemoveRoot(rootKey)
	ph.pages.closeRoot(rootKey)
	r.logger.Error("Abandoning root after a fatal automation failure.",
		zap.String("root", rootURL),
		zap.String("viewport", ph.viewport.Name),
		zap.Int("discarded", removed),
		zap.Error(err),
	)
}
