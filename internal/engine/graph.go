package engine

import (
	"fmt"

	"github.com/flowforge/flowexec/internal/domain"
)

// graph is the adjacency-indexed view of a domain.Workflow the engine
// traverses: forward/reverse edge maps, DFS cycle detection, and Kahn's
// algorithm for topological sort, built directly over domain.Node and
// domain.Edge.
type graph struct {
	nodes   map[string]domain.Node
	forward map[string][]domain.Edge
	reverse map[string][]domain.Edge
}

func buildGraph(wf *domain.Workflow) (*graph, error) {
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	g := &graph{
		nodes:   make(map[string]domain.Node, len(wf.Nodes)),
		forward: make(map[string][]domain.Edge),
		reverse: make(map[string][]domain.Edge),
	}
	for _, n := range wf.Nodes {
		g.nodes[n.ID] = n
	}
	for _, e := range wf.Edges {
		g.forward[e.Source] = append(g.forward[e.Source], e)
		g.reverse[e.Target] = append(g.reverse[e.Target], e)
	}
	if g.hasCycle() {
		return nil, domain.NewDomainError(domain.ErrCodeCyclicDependency, "workflow graph contains a cycle", nil)
	}
	return g, nil
}

func (g *graph) hasCycle() bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodes))
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, e := range g.forward[id] {
			switch color[e.Target] {
			case gray:
				return true
			case white:
				if visit(e.Target) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}
	for id := range g.nodes {
		if color[id] == white {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// topologicalOrder returns nodes in dependency order via Kahn's algorithm;
// buildGraph already rejects cycles so this never fails in practice.
func (g *graph) topologicalOrder() ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		inDegree[id] = len(g.reverse[id])
	}
	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	order := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, e := range g.forward[id] {
			inDegree[e.Target]--
			if inDegree[e.Target] == 0 {
				queue = append(queue, e.Target)
			}
		}
	}
	if len(order) != len(g.nodes) {
		return nil, fmt.Errorf("topological sort covered %d of %d nodes; graph likely has a cycle", len(order), len(g.nodes))
	}
	return order, nil
}

// readyNodes partitions not-yet-completed nodes into two sets: ready (run
// now) and toSkip (every incoming edge resolved, but none of them is
// active). A node with no incoming edges is always ready. A node with
// incoming edges is ready as soon as all of its sources have completed and
// at least one incoming edge is active (unconditional edges are always
// active; a conditional edge is active when its expression evaluates
// true). If every source has completed but none of the incoming edges is
// active, the node can never run and belongs in toSkip instead. A node
// whose sources haven't all completed yet is neither ready nor toSkip; it
// is simply left for a later wave.
func (g *graph) readyNodes(completed map[string]bool, variables map[string]any, ce *conditionEvaluator) (ready []string, toSkip []string, err error) {
	for id := range g.nodes {
		if completed[id] {
			continue
		}
		deps := g.reverse[id]
		if len(deps) == 0 {
			ready = append(ready, id)
			continue
		}

		blocked := false
		anyActive := false
		for _, e := range deps {
			if !completed[e.Source] {
				// The source itself hasn't run yet: its edge (conditional
				// or not) cannot be resolved, so it blocks readiness.
				blocked = true
				break
			}
			cond, ok := e.Condition()
			if !ok {
				anyActive = true
				continue
			}
			active, cerr := ce.evaluate(cond, variables)
			if cerr != nil {
				return nil, nil, fmt.Errorf("edge %s->%s: %w", e.Source, e.Target, cerr)
			}
			if active {
				anyActive = true
			}
		}
		if blocked {
			continue
		}
		if anyActive {
			ready = append(ready, id)
		} else {
			toSkip = append(toSkip, id)
		}
	}
	return ready, toSkip, nil
}
