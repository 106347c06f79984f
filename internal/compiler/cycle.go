package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/compositefk/internal/compositefk"
	"github.com/roach88/compositefk/internal/schema"
)

// CycleWarning represents a cycle of CASCADE references.
//
// Cycles are warnings, not errors, because they may be intentional:
//   - Trees whose nodes reference their parent
//   - Entities owning each other through one-to-one references
//
// The deletion collector visits each row once, so a cycle never loops; it
// may however delete far more rows than the first one.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["Customer", "Contact", "Customer"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeCascades performs static cycle analysis on the CASCADE references
// of reg.
//
// The algorithm:
//  1. Build remote → local edges for every CASCADE reference (deleting a
//     remote row deletes local rows)
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or self-loops as a cycle warning
//
// A DAG (no cycles) returns an empty warning list. Warnings follow
// registry order.
func AnalyzeCascades(reg *schema.Registry) []CycleWarning {
	warnings := []CycleWarning{}
	if reg == nil {
		return warnings
	}

	graph, order := buildCascadeGraph(reg)
	for _, scc := range tarjanSCC(graph, order) {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	return warnings
}

// dependencyGraph maps an entity to the entities its deletion cascades to.
type dependencyGraph map[string][]string

// buildCascadeGraph constructs the cascade graph and the registry order of
// its nodes.
func buildCascadeGraph(reg *schema.Registry) (dependencyGraph, []string) {
	graph := make(dependencyGraph)
	var order []string

	for _, e := range reg.Entities() {
		order = append(order, e.Name)
		if graph[e.Name] == nil {
			graph[e.Name] = []string{}
		}
	}

	for _, e := range reg.Entities() {
		for _, f := range e.References() {
			m, ok := f.Reference.(*compositefk.Mapping)
			if !ok || m.OnDeleteAction() != compositefk.Cascade {
				continue
			}
			remote := m.RemoteEntity()
			if _, known := graph[remote]; !known {
				continue
			}
			if !contains(graph[remote], e.Name) {
				graph[remote] = append(graph[remote], e.Name)
			}
		}
	}

	return graph, order
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph dependencyGraph) bool {
	return contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm,
// visiting roots in order.
//
// Returns a list of SCCs, where each SCC is a list of entity names in
// visiting order. Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(graph dependencyGraph, order []string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		// Set the depth index for v
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		// Consider successors of v
		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				// Successor w has not yet been visited; recurse on it
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				// Successor w is on stack and hence in the current SCC
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// If v is a root node, pop the stack and create an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			// Popped in reverse; restore visiting order
			for i, j := 0, len(scc)-1; i < j; i, j = i+1, j-1 {
				scc[i], scc[j] = scc[j], scc[i]
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// cycleSCCToWarning converts an SCC to a CycleWarning.
func cycleSCCToWarning(scc []string, graph dependencyGraph) CycleWarning {
	if len(scc) == 1 {
		entity := scc[0]
		return CycleWarning{
			Path:    []string{entity, entity},
			Message: fmt.Sprintf("Self-cascading reference detected: %s → %s", entity, entity),
			Level:   "warning",
		}
	}

	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Cascade cycle detected: %s", strings.Join(path, " → ")),
		Level:   "warning",
	}
}

// reconstructCyclePath builds a cycle path from an SCC.
//
// Strategy: Start at first node in SCC, follow edges to other SCC members,
// continue until we return to start node.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}

		if next == "" {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}

	return path
}
