// Package memgraph implements the in-memory concept graph (spec.md §3, §4.2):
// an undirected weighted labelled multigraph whose nodes are concepts carrying
// ordered memory-item lists and whose edges carry an integer co-occurrence
// strength. The adjacency-map + mutex shape is grounded on the teacher's
// memory/graph_based.go (GraphBasedMemory) and rag/store/knowledge_graph.go
// (MemoryGraph); node/edge hashing is grounded on Hippocampus.py's
// calculate_node_hash / calculate_edge_hash.
package memgraph

import (
	"hash/fnv"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"
)

// Node is an immutable snapshot of a concept node.
type Node struct {
	Concept      string
	Items        []string
	CreatedTime  float64
	LastModified float64
}

// Edge is an immutable snapshot of an association edge.
type Edge struct {
	Source       string
	Target       string
	Strength     int
	CreatedTime  float64
	LastModified float64
}

type nodeState struct {
	items        []string
	createdTime  float64
	lastModified float64
}

type edgeKey struct{ a, b string }

func newEdgeKey(a, b string) edgeKey {
	if a > b {
		a, b = b, a
	}
	return edgeKey{a, b}
}

type edgeState struct {
	strength     int
	createdTime  float64
	lastModified float64
}

// Graph is the concurrency-safe concept graph. The zero value is not usable;
// construct with New.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*nodeState
	edges map[edgeKey]*edgeState

	now func() float64
	rng *rand.Rand
}

// New creates an empty graph. nowFn defaults to wall-clock seconds if nil.
func New(nowFn func() float64) *Graph {
	if nowFn == nil {
		nowFn = func() float64 { return float64(time.Now().UnixNano()) / 1e9 }
	}
	return &Graph{
		nodes: make(map[string]*nodeState),
		edges: make(map[edgeKey]*edgeState),
		now:   nowFn,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetRand overrides the random source used by ForgetRandomItem and the
// sampling helpers, for deterministic tests.
func (g *Graph) SetRand(r *rand.Rand) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rng = r
}

// NodeHash computes the stable, order-independent, duplicate-collapsed hash
// of a concept's item set (spec.md §3: "used only for change detection").
func NodeHash(concept string, items []string) uint64 {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	uniq := make([]string, 0, len(set))
	for it := range set {
		uniq = append(uniq, it)
	}
	sort.Strings(uniq)

	h := fnv.New64a()
	h.Write([]byte(concept))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(uniq, "\x1f")))
	return h.Sum64()
}

// EdgeHash computes the stable hash over an unordered endpoint pair.
func EdgeHash(a, b string) uint64 {
	if a > b {
		a, b = b, a
	}
	h := fnv.New64a()
	h.Write([]byte(a))
	h.Write([]byte{0})
	h.Write([]byte(b))
	return h.Sum64()
}

// AddItem creates the node if absent and appends summary to its items,
// touching timestamps (spec.md §4.2).
func (g *Graph) AddItem(concept, summary string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.now()
	if ns, ok := g.nodes[concept]; ok {
		ns.items = append(ns.items, summary)
		ns.lastModified = n
		return
	}
	g.nodes[concept] = &nodeState{
		items:        []string{summary},
		createdTime:  n,
		lastModified: n,
	}
}

// Connect is a no-op if c1==c2; otherwise reinforces (+1, creates with
// strength 1) the edge between c1 and c2.
func (g *Graph) Connect(c1, c2 string) {
	if c1 == c2 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.now()
	key := newEdgeKey(c1, c2)
	if es, ok := g.edges[key]; ok {
		es.strength++
		es.lastModified = n
		return
	}
	g.edges[key] = &edgeState{strength: 1, createdTime: n, lastModified: n}
}

// ForceConnect sets the edge strength explicitly (used for similarity-weighted
// links). Both endpoints must already exist as nodes; returns false otherwise.
func (g *Graph) ForceConnect(c1, c2 string, strength int) bool {
	if c1 == c2 {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[c1]; !ok {
		return false
	}
	if _, ok := g.nodes[c2]; !ok {
		return false
	}
	n := g.now()
	key := newEdgeKey(c1, c2)
	if es, ok := g.edges[key]; ok {
		es.strength = strength
		es.lastModified = n
		return true
	}
	g.edges[key] = &edgeState{strength: strength, createdTime: n, lastModified: n}
	return true
}

// HasNode reports whether concept exists.
func (g *Graph) HasNode(concept string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[concept]
	return ok
}

// NodeItems returns a copy of concept's items.
func (g *Graph) NodeItems(concept string) ([]string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ns, ok := g.nodes[concept]
	if !ok {
		return nil, false
	}
	out := make([]string, len(ns.items))
	copy(out, ns.items)
	return out, true
}

// Neighbors returns the concepts directly connected to c.
func (g *Graph) Neighbors(c string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []string
	for k := range g.edges {
		switch {
		case k.a == c:
			out = append(out, k.b)
		case k.b == c:
			out = append(out, k.a)
		}
	}
	return out
}

// EdgeData returns a snapshot of the edge between c1 and c2, if any.
func (g *Graph) EdgeData(c1, c2 string) (Edge, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	es, ok := g.edges[newEdgeKey(c1, c2)]
	if !ok {
		return Edge{}, false
	}
	return Edge{Source: c1, Target: c2, Strength: es.strength, CreatedTime: es.createdTime, LastModified: es.lastModified}, true
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// ForgetRandomItem drops one item uniformly at random from concept, removing
// the node if it becomes empty. Returns the removed item, or ok=false if the
// concept does not exist.
func (g *Graph) ForgetRandomItem(concept string) (removed string, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ns, exists := g.nodes[concept]
	if !exists || len(ns.items) == 0 {
		return "", false
	}
	idx := g.rng.Intn(len(ns.items))
	removed = ns.items[idx]
	ns.items = append(ns.items[:idx], ns.items[idx+1:]...)
	if len(ns.items) == 0 {
		g.deleteNodeLocked(concept)
	} else {
		ns.lastModified = g.now()
	}
	return removed, true
}

// SetItems replaces concept's item list wholesale (used by the Consolidator
// after merging a near-duplicate pair), touching timestamps and removing the
// node if the new list is empty.
func (g *Graph) SetItems(concept string, items []string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	ns, ok := g.nodes[concept]
	if !ok {
		return false
	}
	ns.items = items
	if len(ns.items) == 0 {
		g.deleteNodeLocked(concept)
		return true
	}
	ns.lastModified = g.now()
	return true
}

// WeakenEdge decrements the edge's strength by one, deleting it if the result
// is ≤ 0; otherwise touches last_modified. ok is false if the edge is absent.
func (g *Graph) WeakenEdge(c1, c2 string) (removed bool, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := newEdgeKey(c1, c2)
	es, exists := g.edges[key]
	if !exists {
		return false, false
	}
	es.strength--
	if es.strength <= 0 {
		delete(g.edges, key)
		return true, true
	}
	es.lastModified = g.now()
	return false, true
}

// DeleteNode removes a node unconditionally (defensive reconciliation path
// for nodes found with an empty item list).
func (g *Graph) DeleteNode(concept string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[concept]; !ok {
		return false
	}
	g.deleteNodeLocked(concept)
	return true
}

// deleteNodeLocked removes a node and every incident edge. Caller must hold g.mu.
func (g *Graph) deleteNodeLocked(concept string) {
	delete(g.nodes, concept)
	for k := range g.edges {
		if k.a == concept || k.b == concept {
			delete(g.edges, k)
		}
	}
}

// Nodes returns a snapshot copy of every node, safe to iterate while the
// graph is concurrently mutated (spec.md §5: "use snapshot copies").
func (g *Graph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Node, 0, len(g.nodes))
	for c, ns := range g.nodes {
		items := make([]string, len(ns.items))
		copy(items, ns.items)
		out = append(out, Node{Concept: c, Items: items, CreatedTime: ns.createdTime, LastModified: ns.lastModified})
	}
	return out
}

// Edges returns a snapshot copy of every edge.
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Edge, 0, len(g.edges))
	for k, es := range g.edges {
		out = append(out, Edge{Source: k.a, Target: k.b, Strength: es.strength, CreatedTime: es.createdTime, LastModified: es.lastModified})
	}
	return out
}

// NodesWithAtLeast returns the concepts whose item count is ≥ min.
func (g *Graph) NodesWithAtLeast(min int) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []string
	for c, ns := range g.nodes {
		if len(ns.items) >= min {
			out = append(out, c)
		}
	}
	return out
}

// Sample picks k distinct elements from ids uniformly at random, without
// replacement, capping at len(ids).
func (g *Graph) Sample(ids []string, k int) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if k >= len(ids) {
		out := make([]string, len(ids))
		copy(out, ids)
		return out
	}
	idx := g.rng.Perm(len(ids))[:k]
	out := make([]string, 0, k)
	for _, i := range idx {
		out = append(out, ids[i])
	}
	return out
}

// Restore inserts or overwrites a node with explicit timestamps, bypassing
// the normal append/touch semantics. Used by the Persistence Adapter's
// load_on_start.
func (g *Graph) Restore(concept string, items []string, created, lastModified float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := make([]string, len(items))
	copy(cp, items)
	g.nodes[concept] = &nodeState{items: cp, createdTime: created, lastModified: lastModified}
}

// RestoreEdge inserts or overwrites an edge with an explicit strength and
// timestamps, bypassing reinforcement semantics. Endpoints are not validated
// here; the Persistence Adapter is responsible for dropping edges whose
// endpoint is missing before calling this.
func (g *Graph) RestoreEdge(c1, c2 string, strength int, created, lastModified float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges[newEdgeKey(c1, c2)] = &edgeState{strength: strength, createdTime: created, lastModified: lastModified}
}

// Now returns the graph's current clock value.
func (g *Graph) Now() float64 { return g.now() }
