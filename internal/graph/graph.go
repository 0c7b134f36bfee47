// Package graph builds adjacency views over n8n workflow connections.
package graph

import (
	"sort"

	"github.com/rendis/flowguard/pkg/schema"
)

// Graph is the directed node graph of a workflow. Node identity is the node name.
type Graph struct {
	Nodes    []string            // workflow order
	Out      map[string][]string // node → successors (sorted, deduplicated)
	In       map[string][]string // node → predecessors (sorted, deduplicated)
	Edges    []schema.Connection // edges between known nodes
	Dangling []schema.Connection // edges whose source or target is not a node
}

// Build creates the graph of wf. When types is non-empty only edges whose output
// type is listed are included; otherwise all connection types are.
func Build(wf *schema.Workflow, types ...string) *Graph {
	g := &Graph{
		Nodes: make([]string, 0, len(wf.Nodes)),
		Out:   make(map[string][]string, len(wf.Nodes)),
		In:    make(map[string][]string, len(wf.Nodes)),
	}

	known := make(map[string]bool, len(wf.Nodes))
	for _, n := range wf.Nodes {
		if known[n.Name] {
			continue
		}
		known[n.Name] = true
		g.Nodes = append(g.Nodes, n.Name)
	}

	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}

	edges := wf.Edges()
	sort.Slice(edges, func(i, j int) bool { return edges[i].String() < edges[j].String() })

	seen := make(map[[2]string]bool, len(edges))
	for _, e := range edges {
		if len(allowed) > 0 && !allowed[e.OutputType] {
			continue
		}
		if !known[e.Source] || !known[e.Target] {
			g.Dangling = append(g.Dangling, e)
			continue
		}
		g.Edges = append(g.Edges, e)
		key := [2]string{e.Source, e.Target}
		if seen[key] {
			continue
		}
		seen[key] = true
		g.Out[e.Source] = append(g.Out[e.Source], e.Target)
		g.In[e.Target] = append(g.In[e.Target], e.Source)
	}

	for _, m := range []map[string][]string{g.Out, g.In} {
		for k := range m {
			sort.Strings(m[k])
		}
	}
	return g
}

// Roots returns the nodes without predecessors, sorted.
func (g *Graph) Roots() []string {
	var roots []string
	for _, n := range g.Nodes {
		if len(g.In[n]) == 0 {
			roots = append(roots, n)
		}
	}
	sort.Strings(roots)
	return roots
}

// Levels groups nodes by topological depth using Kahn's algorithm. Nodes on a
// cycle cannot be layered and are returned separately, sorted.
func (g *Graph) Levels() (levels [][]string, cyclic []string) {
	inDegree := make(map[string]int, len(g.Nodes))
	for _, n := range g.Nodes {
		inDegree[n] = len(g.In[n])
	}

	current := g.Roots()
	placed := 0
	for len(current) > 0 {
		levels = append(levels, current)
		placed += len(current)

		var next []string
		for _, n := range current {
			for _, succ := range g.Out[n] {
				inDegree[succ]--
				if inDegree[succ] == 0 {
					next = append(next, succ)
				}
			}
		}
		sort.Strings(next)
		current = next
	}

	if placed != len(g.Nodes) {
		for _, n := range g.Nodes {
			if inDegree[n] > 0 {
				cyclic = append(cyclic, n)
			}
		}
		sort.Strings(cyclic)
	}
	return levels, cyclic
}

// TopoLevels is Levels that fails with CYCLE_DETECTED when a cycle exists.
func (g *Graph) TopoLevels() ([][]string, error) {
	levels, cyclic := g.Levels()
	if len(cyclic) > 0 {
		return nil, schema.NewError(schema.ErrCodeCycleDetected, "workflow connections contain a cycle").
			WithDetails(map[string]any{"nodes": cyclic})
	}
	return levels, nil
}

// HasCycle reports whether the graph contains a directed cycle.
func (g *Graph) HasCycle() bool {
	_, cyclic := g.Levels()
	return len(cyclic) > 0
}

// Reachable returns every node reachable from the given start nodes, starts included.
func (g *Graph) Reachable(from []string) map[string]bool {
	reached := make(map[string]bool, len(g.Nodes))
	queue := make([]string, 0, len(from))
	for _, n := range from {
		if !reached[n] {
			reached[n] = true
			queue = append(queue, n)
		}
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, succ := range g.Out[n] {
			if !reached[succ] {
				reached[succ] = true
				queue = append(queue, succ)
			}
		}
	}
	return reached
}
