package graph

import (
	"fmt"
	"slices"
)

// simpleCycles enumerates the elementary circuits of the graph with Johnson's
// algorithm. Each cycle is reported starting from its member that was added
// to the graph first. Enumeration stops with an error once more than limit
// cycles are found, or if it panics.
func (ix *index) simpleCycles(limit int) (cycles [][]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			cycles, err = nil, fmt.Errorf("cycle enumeration: %v", r)
		}
	}()

	n := len(ix.ids)
	pred := make([][]int, n)
	for u, succ := range ix.adj {
		for _, v := range succ {
			pred[v] = append(pred[v], u)
		}
	}

	j := &johnson{
		ix:      ix,
		limit:   limit,
		blocked: make([]bool, n),
		b:       make([]map[int]bool, n),
	}
	for s := range n {
		j.scc = ix.component(s, pred)
		if len(j.scc) == 1 && !slices.Contains(ix.adj[s], s) {
			continue
		}
		for v := range j.scc {
			j.blocked[v] = false
			j.b[v] = make(map[int]bool)
		}
		j.start = s
		j.circuit(s)
		if j.err != nil {
			return nil, j.err
		}
	}
	return j.cycles, nil
}

// component returns the strongly connected component of s in the subgraph
// induced by the vertices with index >= s: the vertices both reachable from
// s and reaching s.
func (ix *index) component(s int, pred [][]int) map[int]bool {
	reach := func(next [][]int) map[int]bool {
		seen := map[int]bool{s: true}
		stack := []int{s}
		for len(stack) > 0 {
			u := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, v := range next[u] {
				if v >= s && !seen[v] {
					seen[v] = true
					stack = append(stack, v)
				}
			}
		}
		return seen
	}

	fwd := reach(ix.adj)
	bwd := reach(pred)
	scc := make(map[int]bool)
	for v := range fwd {
		if bwd[v] {
			scc[v] = true
		}
	}
	return scc
}

type johnson struct {
	ix      *index
	limit   int
	start   int
	scc     map[int]bool
	blocked []bool
	b       []map[int]bool
	stack   []int
	cycles  [][]string
	err     error
}

func (j *johnson) circuit(v int) bool {
	found := false
	j.stack = append(j.stack, v)
	j.blocked[v] = true

	for _, w := range j.ix.adj[v] {
		if !j.scc[w] {
			continue
		}
		if w == j.start {
			if len(j.cycles) >= j.limit {
				j.err = errTooManyCycles
				break
			}
			j.cycles = append(j.cycles, j.path())
			found = true
		} else if !j.blocked[w] && j.circuit(w) {
			found = true
		}
		if j.err != nil {
			break
		}
	}

	if found {
		j.unblock(v)
	} else {
		for _, w := range j.ix.adj[v] {
			if j.scc[w] {
				j.b[w][v] = true
			}
		}
	}
	j.stack = j.stack[:len(j.stack)-1]
	return found
}

func (j *johnson) unblock(u int) {
	j.blocked[u] = false
	for w := range j.b[u] {
		delete(j.b[u], w)
		if j.blocked[w] {
			j.unblock(w)
		}
	}
}

func (j *johnson) path() []string {
	cycle := make([]string, len(j.stack))
	for i, v := range j.stack {
		cycle[i] = j.ix.ids[v]
	}
	return cycle
}
