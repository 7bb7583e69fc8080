// Package plan computes the dependency-respecting order in which
// entity types are exported and restored.
package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/grafton-io/grafton/internal/registry"
)

// CycleError is raised when the declared foreign keys form a true
// cycle across distinct types. This never happens with a correctly
// declared descriptor set, so the planner fails fast rather than
// guessing an order.
type CycleError struct {
	Types []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic dependency between entity types: %s", strings.Join(e.Types, ", "))
}

// Order computes a topological order over the registry's types such
// that every foreign-key target precedes its referrers.
//
// Self-references are excluded from the graph; the restorer handles
// them with a deferred second pass over the type. Many-to-many edges
// are also excluded: they never gate creation order, only
// post-creation linkage, and including them would make the graph
// non-strictly layered.
func Order(reg *registry.Registry) ([]string, error) {
	names := reg.Types()

	// Edge A -> B when A holds a foreign key to B. Indegree counts how
	// many distinct dependency edges point out of a type, so a type
	// becomes ready once all its targets are placed.
	dependents := make(map[string][]string, len(names)) // target -> referrers
	indegree := make(map[string]int, len(names))
	for _, name := range names {
		indegree[name] = 0
	}
	for _, name := range names {
		d, err := reg.Get(name)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool)
		for _, fk := range d.ForeignKeys {
			if fk.Target == name || seen[fk.Target] {
				continue
			}
			seen[fk.Target] = true
			dependents[fk.Target] = append(dependents[fk.Target], name)
			indegree[name]++
		}
	}

	// Iterative Kahn's algorithm. The ready set is kept sorted so the
	// order is deterministic across runs.
	var ready []string
	for _, name := range names {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(names))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		var unlocked []string
		for _, dep := range dependents[next] {
			indegree[dep]--
			if indegree[dep] == 0 {
				unlocked = append(unlocked, dep)
			}
		}
		sort.Strings(unlocked)
		ready = mergeSorted(ready, unlocked)
	}

	if len(order) != len(names) {
		var cycle []string
		for _, name := range names {
			if indegree[name] > 0 {
				cycle = append(cycle, name)
			}
		}
		sort.Strings(cycle)
		return nil, &CycleError{Types: cycle}
	}
	return order, nil
}

// mergeSorted merges two sorted string slices.
func mergeSorted(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
