package graph

import (
	"errors"
	"fmt"
	"slices"
)

const (
	// BottleneckThreshold is the in-degree at which a node is reported as a
	// bottleneck.
	BottleneckThreshold = 3

	// MaxCycles bounds cycle enumeration. Graphs with more simple cycles
	// report none.
	MaxCycles = 10000

	cycleSampleSize = 5
	mostCitedSize   = 10
)

var errTooManyCycles = errors.New("cycle enumeration limit exceeded")

// Bottleneck is a node many other nodes depend on as a source.
type Bottleneck struct {
	URL         string   `json:"url"`
	Citations   int      `json:"citations"`
	CitingPages []string `json:"citing_pages"`
}

// Citation pairs a node with its in-degree.
type Citation struct {
	URL       string `json:"url"`
	Citations int    `json:"citations"`
}

// Metrics summarizes the structure of a citation graph.
type Metrics struct {
	TotalNodes  int          `json:"total_nodes"`
	TotalEdges  int          `json:"total_edges"`
	Bottlenecks []Bottleneck `json:"bottlenecks"`

	CircularCitationsCount  int        `json:"circular_citations_count"`
	CircularCitationsSample [][]string `json:"circular_citations_sample"`

	// MaxDepth is the longest path length in edges, nil when the graph
	// contains cycles.
	MaxDepth       *int `json:"max_depth"`
	ContainsCycles bool `json:"contains_cycles"`

	MostCited      []Citation `json:"most_cited"`
	UnsourcedNodes []string   `json:"unsourced_nodes"`

	// CycleErr is set when cycle enumeration gave up; the cycle fields are
	// then empty.
	CycleErr error `json:"-"`
}

// DepthLabel renders MaxDepth for display.
func (m Metrics) DepthLabel() string {
	if m.MaxDepth == nil {
		return "Contains Cycles"
	}
	return fmt.Sprintf("%d", *m.MaxDepth)
}

// Analyze computes the structural metrics of g. It never mutates g.
func Analyze(g *Graph) Metrics {
	nodes := g.Nodes()
	edges := g.Edges()

	m := Metrics{
		TotalNodes:              len(nodes),
		TotalEdges:              len(edges),
		Bottlenecks:             FindBottlenecks(g, BottleneckThreshold),
		CircularCitationsSample: [][]string{},
		MostCited:               []Citation{},
		UnsourcedNodes:          []string{},
	}

	ix := newIndex(nodes, edges)

	cycles, err := ix.simpleCycles(MaxCycles)
	if err != nil {
		m.CycleErr = err
		cycles = nil
	}
	m.CircularCitationsCount = len(cycles)
	m.CircularCitationsSample = append(m.CircularCitationsSample, cycles[:min(len(cycles), cycleSampleSize)]...)

	if depth, ok := ix.longestPath(); ok {
		m.MaxDepth = &depth
	} else {
		m.ContainsCycles = true
	}

	cited := make([]Citation, 0, len(nodes))
	for _, n := range nodes {
		cited = append(cited, Citation{URL: n.ID, Citations: g.InDegree(n.ID)})
	}
	slices.SortStableFunc(cited, func(a, b Citation) int {
		return b.Citations - a.Citations
	})
	m.MostCited = append(m.MostCited, cited[:min(len(cited), mostCitedSize)]...)

	for _, n := range nodes {
		if g.OutDegree(n.ID) == 0 {
			m.UnsourcedNodes = append(m.UnsourcedNodes, n.ID)
		}
	}

	return m
}

// FindBottlenecks returns every node whose in-degree is at least threshold.
func FindBottlenecks(g *Graph, threshold int) []Bottleneck {
	result := []Bottleneck{}
	for _, n := range g.Nodes() {
		deg := g.InDegree(n.ID)
		if deg >= threshold {
			result = append(result, Bottleneck{
				URL:         n.ID,
				Citations:   deg,
				CitingPages: g.Predecessors(n.ID),
			})
		}
	}
	return result
}

// index is an integer adjacency view of a graph snapshot.
type index struct {
	ids  []string
	adj  [][]int // distinct successors
	succ [][]int // one entry per edge, parallel edges repeated
}

func newIndex(nodes []Node, edges []Edge) *index {
	pos := make(map[string]int, len(nodes))
	ix := &index{
		ids:  make([]string, len(nodes)),
		adj:  make([][]int, len(nodes)),
		succ: make([][]int, len(nodes)),
	}
	for i, n := range nodes {
		pos[n.ID] = i
		ix.ids[i] = n.ID
	}
	for _, e := range edges {
		u, okU := pos[e.From]
		v, okV := pos[e.To]
		if !okU || !okV {
			continue
		}
		ix.succ[u] = append(ix.succ[u], v)
		if !slices.Contains(ix.adj[u], v) {
			ix.adj[u] = append(ix.adj[u], v)
		}
	}
	return ix
}

// longestPath returns the number of edges on the longest directed path, and
// false if the graph has a cycle. It runs Kahn's algorithm and relaxes edges
// in topological order.
func (ix *index) longestPath() (int, bool) {
	n := len(ix.ids)
	indeg := make([]int, n)
	for _, succ := range ix.succ {
		for _, v := range succ {
			indeg[v]++
		}
	}

	var queue []int
	for v := range n {
		if indeg[v] == 0 {
			queue = append(queue, v)
		}
	}

	dist := make([]int, n)
	processed, best := 0, 0
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		processed++
		best = max(best, dist[u])
		for _, v := range ix.succ[u] {
			dist[v] = max(dist[v], dist[u]+1)
			indeg[v]--
			if indeg[v] == 0 {
				queue = append(queue, v)
			}
		}
	}
	if processed != n {
		return 0, false
	}
	return best, true
}
