package tree

import (
	"fmt"
	"sort"
	"sync"
)

// Registry indexes the nodes of one panel by id.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

func NewRegistry() *Registry {
	return &Registry{nodes: make(map[string]*Node)}
}

// Add registers a node. Re-adding a mounted id is an error; re-adding an
// unmounted id replaces it.
func (r *Registry) Add(node *Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.nodes[node.ID()]; ok && existing.Mounted() {
		return fmt.Errorf("node %s already exists", node.ID())
	}
	r.nodes[node.ID()] = node
	return nil
}

func (r *Registry) Get(id string) (*Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	node, ok := r.nodes[id]
	return node, ok
}

// Remove unmounts and forgets the node.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	node, ok := r.nodes[id]
	delete(r.nodes, id)
	r.mu.Unlock()
	if ok {
		node.Unmount()
	}
	return ok
}

// UnmountAll detaches every node; used when the panel is torn down.
func (r *Registry) UnmountAll() {
	r.mu.Lock()
	nodes := r.nodes
	r.nodes = make(map[string]*Node)
	r.mu.Unlock()
	for _, node := range nodes {
		node.Unmount()
	}
}

// Snapshots returns every node ordered by id.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	out := make([]Snapshot, 0, len(r.nodes))
	for _, node := range r.nodes {
		out = append(out, node.Snapshot())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}
