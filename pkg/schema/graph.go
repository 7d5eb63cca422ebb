package schema

import "fmt"

// Graph is the dependency graph among calculated fields. Nodes live in a flat
// arena indexed in field order; edges point from a field to the calculated
// fields it depends on. Dependencies on plain inputs are not edges.
type Graph struct {
	ids   []string
	index map[string]int
	edges [][]int
}

// NewGraph builds the graph from the calculated fields of fields. A repeated
// id keeps its first occurrence.
func NewGraph(fields []Field) *Graph {
	g := &Graph{index: make(map[string]int)}
	var deps [][]string
	for _, f := range fields {
		c, ok := f.AsCalculated()
		if !ok {
			continue
		}
		if _, dup := g.index[f.ID]; dup {
			continue
		}
		g.index[f.ID] = len(g.ids)
		g.ids = append(g.ids, f.ID)
		deps = append(deps, c.Dependencies)
	}

	g.edges = make([][]int, len(g.ids))
	for i, list := range deps {
		seen := make(map[int]bool, len(list))
		for _, dep := range list {
			j, ok := g.index[dep]
			if !ok || seen[j] {
				continue
			}
			seen[j] = true
			g.edges[i] = append(g.edges[i], j)
		}
	}
	return g
}

// Len returns the number of calculated fields in the graph.
func (g *Graph) Len() int { return len(g.ids) }

// DependsOn returns the calculated fields id reads directly.
func (g *Graph) DependsOn(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	out := make([]string, len(g.edges[i]))
	for k, j := range g.edges[i] {
		out[k] = g.ids[j]
	}
	return out
}

// FindCycle runs a depth-first search from every node in field order and
// returns the first node found on the recursion stack a second time.
func (g *Graph) FindCycle() (string, bool) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(g.ids))

	var visit func(n int) (int, bool)
	visit = func(n int) (int, bool) {
		switch state[n] {
		case visiting:
			return n, true
		case done:
			return 0, false
		}
		state[n] = visiting
		for _, m := range g.edges[n] {
			if at, ok := visit(m); ok {
				return at, true
			}
		}
		state[n] = done
		return 0, false
	}

	for n := range g.ids {
		if at, ok := visit(n); ok {
			return g.ids[at], true
		}
	}
	return "", false
}

// CycleError is returned by Order when the graph is not acyclic.
type CycleError struct {
	Field string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("Circular dependency detected involving the field '%s'", e.Field)
}

// Order returns the calculated field ids so that every field comes after the
// calculated fields it depends on. The ready queue is seeded in field order,
// so the result is deterministic.
func (g *Graph) Order() ([]string, error) {
	n := len(g.ids)
	pending := make([]int, n)
	dependents := make([][]int, n)
	for i, list := range g.edges {
		pending[i] = len(list)
		for _, j := range list {
			dependents[j] = append(dependents[j], i)
		}
	}

	var queue []int
	for i := 0; i < n; i++ {
		if pending[i] == 0 {
			queue = append(queue, i)
		}
	}

	order := make([]string, 0, n)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, g.ids[cur])
		for _, d := range dependents[cur] {
			pending[d]--
			if pending[d] == 0 {
				queue = append(queue, d)
			}
		}
	}

	if len(order) < n {
		at, _ := g.FindCycle()
		return order, &CycleError{Field: at}
	}
	return order, nil
}
