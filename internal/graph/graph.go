// Package graph provides the citation graph data structure together with the
// read-only structural analysis and export routines run over a finished graph.
package graph

import (
	"maps"
	"sync"
)

// Node attribute keys.
const (
	AttrTitle  = "title"
	AttrDomain = "domain"
	AttrType   = "type"
	AttrURL    = "url"
)

// Edge attribute keys.
const (
	AttrConfidence   = "confidence"
	AttrContext      = "context"
	AttrClaim        = "claim"
	AttrReason       = "reason"
	AttrSignificance = "significance"
	AttrRelationType = "relation_type"
	AttrSearchQuery  = "search_query"
)

// Node types assigned by the builder in addition to the domain categories.
const (
	TypeSource  = "source"
	TypeRelated = "related"
	TypeVirtual = "virtual"
	TypeUnknown = "unknown"
)

// Edge types describe how a citation was established.
const (
	EdgeExplicit   = "explicit"
	EdgeDiscovered = "discovered"
	EdgeVirtual    = "virtual"
)

// VirtualPrefix marks identities of nodes that stand for unlinked sources.
const VirtualPrefix = "[Offline] "

// Attrs is an attribute bag attached to a node or an edge.
type Attrs map[string]any

// String returns the string value for key, or "" if absent or not a string.
func (a Attrs) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// Float returns the numeric value for key and whether one was present.
func (a Attrs) Float(key string) (float64, bool) {
	switch v := a[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Node is a page, or a virtual placeholder, in the graph.
type Node struct {
	ID    string
	Attrs Attrs
}

// Edge is a directed citation from the citing page to the cited one.
type Edge struct {
	From  string
	To    string
	Attrs Attrs
}

// Type returns the node type attribute.
func (n Node) Type() string { return n.Attrs.String(AttrType) }

// Type returns the edge type attribute.
func (e Edge) Type() string { return e.Attrs.String(AttrType) }

// Listener receives mutation notifications. Calls are synchronous and happen
// after the mutation is visible in the graph.
type Listener interface {
	NodeAdded(n Node)
	EdgeAdded(e Edge)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	OnNode func(Node)
	OnEdge func(Edge)
}

func (l ListenerFuncs) NodeAdded(n Node) {
	if l.OnNode != nil {
		l.OnNode(n)
	}
}

func (l ListenerFuncs) EdgeAdded(e Edge) {
	if l.OnEdge != nil {
		l.OnEdge(e)
	}
}

// Graph is a concurrency-safe directed multigraph of citation nodes.
type Graph struct {
	mu        sync.RWMutex
	nodes     map[string]*Node
	order     []string // first-insertion order of node ids
	edges     []Edge
	inDeg     map[string]int
	outDeg    map[string]int
	listeners []Listener
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes:  make(map[string]*Node),
		inDeg:  make(map[string]int),
		outDeg: make(map[string]int),
	}
}

// Subscribe registers a listener for subsequent mutations.
func (g *Graph) Subscribe(l Listener) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, l)
}

// AddNode inserts a node, or merges attrs into the existing node with the
// same id. Keys present in attrs overwrite, other keys are kept.
func (g *Graph) AddNode(id string, attrs Attrs) {
	g.mu.Lock()
	n := g.upsert(id, attrs)
	snapshot := Node{ID: n.ID, Attrs: maps.Clone(n.Attrs)}
	listeners := g.listeners
	g.mu.Unlock()

	for _, l := range listeners {
		l.NodeAdded(snapshot)
	}
}

// AddEdge appends a directed edge. Parallel edges are kept. Endpoints that
// are not yet in the graph are added with empty attributes.
func (g *Graph) AddEdge(from, to string, attrs Attrs) {
	g.mu.Lock()
	var created []Node
	for _, id := range []string{from, to} {
		if _, ok := g.nodes[id]; !ok {
			n := g.upsert(id, nil)
			created = append(created, Node{ID: n.ID, Attrs: Attrs{}})
		}
	}
	e := Edge{From: from, To: to, Attrs: maps.Clone(attrs)}
	if e.Attrs == nil {
		e.Attrs = Attrs{}
	}
	g.edges = append(g.edges, e)
	g.outDeg[from]++
	g.inDeg[to]++
	listeners := g.listeners
	g.mu.Unlock()

	for _, l := range listeners {
		for _, n := range created {
			l.NodeAdded(n)
		}
		l.EdgeAdded(Edge{From: e.From, To: e.To, Attrs: maps.Clone(e.Attrs)})
	}
}

// upsert must be called with g.mu held.
func (g *Graph) upsert(id string, attrs Attrs) *Node {
	n, ok := g.nodes[id]
	if !ok {
		n = &Node{ID: id, Attrs: Attrs{}}
		g.nodes[id] = n
		g.order = append(g.order, id)
	}
	maps.Copy(n.Attrs, attrs)
	return n
}

// HasNode reports whether id is in the graph.
func (g *Graph) HasNode(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// Node returns a copy of the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return Node{ID: n.ID, Attrs: maps.Clone(n.Attrs)}, true
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// InDegree returns the number of edges pointing at id.
func (g *Graph) InDegree(id string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.inDeg[id]
}

// OutDegree returns the number of edges leaving id.
func (g *Graph) OutDegree(id string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.outDeg[id]
}

// Predecessors returns the distinct nodes with an edge to id, in the order
// their first such edge was added.
func (g *Graph) Predecessors(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var result []string
	seen := make(map[string]bool)
	for _, e := range g.edges {
		if e.To == id && !seen[e.From] {
			seen[e.From] = true
			result = append(result, e.From)
		}
	}
	return result
}

// Successors returns the distinct nodes id has an edge to, in edge order.
func (g *Graph) Successors(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var result []string
	seen := make(map[string]bool)
	for _, e := range g.edges {
		if e.From == id && !seen[e.To] {
			seen[e.To] = true
			result = append(result, e.To)
		}
	}
	return result
}

// Nodes returns copies of all nodes in first-insertion order.
func (g *Graph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	nodes := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		n := g.nodes[id]
		nodes = append(nodes, Node{ID: n.ID, Attrs: maps.Clone(n.Attrs)})
	}
	return nodes
}

// Edges returns copies of all edges in insertion order.
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	edges := make([]Edge, len(g.edges))
	for i, e := range g.edges {
		edges[i] = Edge{From: e.From, To: e.To, Attrs: maps.Clone(e.Attrs)}
	}
	return edges
}
