package workflow

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// CycleError reports a dependency cycle with the step ids along it.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("workflow: dependency cycle: %s", strings.Join(e.Path, " -> "))
}

// Graph is the compiled dependency graph of a definition. Edges run from a
// dependency to its dependents.
type Graph struct {
	def   *Definition
	edges map[string][]string // dependency -> dependents
	deps  map[string][]string // step -> dependencies
}

// Compile validates a definition's graph: every referenced id must exist and
// the depends_on relation must be acyclic. Unknown parallel_with references
// warn but do not fail.
func Compile(def *Definition) (*Graph, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	ids := make(map[string]bool, len(def.Steps))
	for _, s := range def.Steps {
		ids[s.ID] = true
	}

	g := &Graph{
		def:   def,
		edges: make(map[string][]string),
		deps:  make(map[string][]string),
	}
	for _, s := range def.Steps {
		for _, dep := range s.DependsOn {
			if !ids[dep] {
				return nil, fmt.Errorf("workflow %q: step %q depends on unknown step %q", def.Name, s.ID, dep)
			}
			g.edges[dep] = append(g.edges[dep], s.ID)
			g.deps[s.ID] = append(g.deps[s.ID], dep)
		}
		for _, p := range s.ParallelWith {
			if !ids[p] {
				slog.Warn("workflow.unknown_parallel_with",
					"workflow", def.Name, "step", s.ID, "reference", p)
			}
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &CycleError{Path: cycle}
	}
	return g, nil
}

// findCycle runs a 3-color DFS over the dependency edges. On a back edge the
// cycle path is reconstructed from the DFS stack.
func (g *Graph) findCycle() []string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS path
		black = 2 // done
	)
	color := make(map[string]int, len(g.def.Steps))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = gray
		stack = append(stack, id)

		for _, next := range g.edges[id] {
			switch color[next] {
			case gray:
				// Back edge: slice the stack from the first occurrence of next.
				for i, s := range stack {
					if s == next {
						cycle := append([]string{}, stack[i:]...)
						return append(cycle, next)
					}
				}
			case white:
				if cycle := visit(next); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, s := range g.def.Steps {
		if color[s.ID] == white {
			if cycle := visit(s.ID); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// Dependencies returns the dependency ids of a step.
func (g *Graph) Dependencies(id string) []string {
	return g.deps[id]
}

// Batches returns Kahn-style execution rounds: each batch holds the steps
// whose dependencies are all satisfied by earlier batches. Steps within a
// batch may run concurrently; batches run strictly in order.
func (g *Graph) Batches() [][]string {
	indegree := make(map[string]int, len(g.def.Steps))
	for _, s := range g.def.Steps {
		indegree[s.ID] = len(g.deps[s.ID])
	}

	remaining := len(g.def.Steps)
	var batches [][]string
	for remaining > 0 {
		var batch []string
		for _, s := range g.def.Steps {
			if deg, ok := indegree[s.ID]; ok && deg == 0 {
				batch = append(batch, s.ID)
			}
		}
		if len(batch) == 0 {
			// Unreachable post-Compile; a cycle would have been rejected.
			break
		}
		sort.Strings(batch)

		for _, id := range batch {
			delete(indegree, id)
			for _, dependent := range g.edges[id] {
				if _, ok := indegree[dependent]; ok {
					indegree[dependent]--
				}
			}
		}
		remaining -= len(batch)
		batches = append(batches, batch)
	}
	return batches
}
