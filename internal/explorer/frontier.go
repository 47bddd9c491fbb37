// internal/explorer/frontier.go
package explorer

import (
	"container/heap"
)

type frontierItem struct {
	id    string
	root  string
	depth int
	seq   uint64
	index int
}

type itemHeap []*frontierItem

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].depth != h[j].depth {
		return h[i].depth < h[j].depth
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *itemHeap) Push(x interface{}) {
	it := x.(*frontierItem)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Frontier holds unexpanded nodes, lowest depth first and FIFO within a depth.
type Frontier struct {
	h     itemHeap
	byID  map[string]*frontierItem
	nextq uint64
}

func newFrontier() *Frontier {
	return &Frontier{byID: make(map[string]*frontierItem)}
}

// Push adds id unless it is already queued.
func (f *Frontier) Push(id, root string, depth int) bool {
	if _, ok := f.byID[id]; ok {
		return false
	}
	it := &frontierItem{id: id, root: root, depth: depth, seq: f.nextq}
	f.nextq++
	heap.Push(&f.h, it)
	f.byID[id] = it
	return true
}

// Pop removes the shallowest item.
func (f *Frontier) Pop() (id string, ok bool) {
	if f.h.Len() == 0 {
		return "", false
	}
	it := heap.Pop(&f.h).(*frontierItem)
	delete(f.byID, it.id)
	return it.id, true
}

// Contains reports whether id is queued.
func (f *Frontier) Contains(id string) bool {
	_, ok := f.byID[id]
	return ok
}

// Relax lowers the depth of a queued item, moves it to root and restores
// heap order.
func (f *Frontier) Relax(id, root string, depth int) bool {
	it, ok := f.byID[id]
	if !ok || depth >= it.depth {
		return false
	}
	it.depth = depth
	it.root = root
	heap.Fix(&f.h, it.index)
	return true
}

// RemoveRoot drops every item belonging to root and returns how many were removed.
func (f *Frontier) RemoveRoot(root string) int {
	kept := f.h[:0]
	removed := 0
	for _, it := range f.h {
		if it.root == root {
			delete(f.byID, it.id)
			removed++
			continue
		}
		kept = append(kept, it)
	}
	for i := len(kept); i < len(f.h); i++ {
		f.h[i] = nil
	}
	f.h = kept
	for i, it := range f.h {
		it.index = i
	}
	heap.Init(&f.h)
	return removed
}

// Len is the number of queued items.
func (f *Frontier) Len() int { return f.h.Len() }
