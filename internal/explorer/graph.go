// internal/explorer/graph.go
package explorer

import (
	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
)

// Graph is the state graph of a single run. It is owned by the engine's
// writer goroutine and is not safe for concurrent use.
type Graph struct {
	nodes map[string]*schemas.StateNode
	order []string
	edges []schemas.StateTransition
}

func newGraph() *Graph {
	return &Graph{nodes: make(map[string]*schemas.StateNode)}
}

// Node returns the live node for id.
func (g *Graph) Node(id string) (*schemas.StateNode, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// AddNode inserts n unless a node with the same id exists.
func (g *Graph) AddNode(n *schemas.StateNode) bool {
	if _, ok := g.nodes[n.ID]; ok {
		return false
	}
	g.nodes[n.ID] = n
	g.order = append(g.order, n.ID)
	return true
}

// AddEdge appends a transition. Successful transitions must point at known nodes.
func (g *Graph) AddEdge(e schemas.StateTransition) {
	g.edges = append(g.edges, e)
}

// Len is the number of nodes.
func (g *Graph) Len() int { return len(g.order) }

// EdgeCount is the number of edges, failed ones included.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// Snapshot copies the graph in insertion order.
func (g *Graph) Snapshot() schemas.GraphSnapshot {
	snap := schemas.GraphSnapshot{
		Nodes: make([]schemas.StateNode, 0, len(g.order)),
		Edges: make([]schemas.StateTransition, len(g.edges)),
	}
	for _, id := range g.order {
		n := *g.nodes[id]
		n.Path = append([]schemas.PathStep(nil), n.Path...)
		snap.Nodes = append(snap.Nodes, n)
	}
	copy(snap.Edges, g.edges)
	return snap
}
