package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/persistorai/docmigrate/internal/models"
)

// CycleError reports a dependency cycle in the declared graph.
type CycleError struct {
	Path []string // e.g. ["accounts", "users", "accounts"]
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%v: %s", models.ErrDependencyCycle, strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return models.ErrDependencyCycle }

// findCycle returns the first cycle in graph (collection -> prerequisites), or
// nil. It runs Tarjan's strongly connected components algorithm and reports any
// component with more than one member, or a single member depending on itself.
func findCycle(graph map[string][]string) *CycleError {
	nodes := make([]string, 0, len(graph))
	for n := range graph {
		nodes = append(nodes, n)
	}

	sort.Strings(nodes)

	var (
		index   int
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

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

			sccs = append(sccs, scc)
		}
	}

	for _, n := range nodes {
		if _, visited := indices[n]; !visited {
			strongConnect(n)
		}
	}

	for _, scc := range sccs {
		if len(scc) == 1 && !dependsOn(graph, scc[0], scc[0]) {
			continue
		}

		return &CycleError{Path: cyclePath(scc, graph)}
	}

	return nil
}

func dependsOn(graph map[string][]string, from, to string) bool {
	for _, d := range graph[from] {
		if d == to {
			return true
		}
	}

	return false
}

// cyclePath walks edges inside one component from its smallest member until a
// node repeats.
func cyclePath(scc []string, graph map[string][]string) []string {
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}

	sorted := append([]string(nil), scc...)
	sort.Strings(sorted)

	start := sorted[0]
	path := []string{start}
	seen := map[string]bool{start: true}
	cur := start

	for {
		deps := append([]string(nil), graph[cur]...)
		sort.Strings(deps)

		next := ""
		for _, d := range deps {
			if members[d] {
				next = d
				break
			}
		}

		path = append(path, next)
		if seen[next] {
			return path
		}

		seen[next] = true
		cur = next
	}
}
