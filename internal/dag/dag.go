// Package dag builds the cross-item dependency graph and computes safe
// parallel execution waves.
//
// Dependencies between work items are extracted by an external agent
// call, so they are fuzzy rather than deterministically parsed. The
// resolver verifies the resulting graph is acyclic before any wave is
// computed: a cycle has no correct execution order, so it aborts the
// whole run with a typed error naming every implicated item.
//
// Wave computation and cycle detection are pure functions over the graph,
// decoupled from all I/O.
package dag

import (
	"context"
	"slices"

	"github.com/rowanlane/convoy/internal/errors"
	"github.com/rowanlane/convoy/internal/issue"
	"github.com/rowanlane/convoy/internal/logging"
)

// Extractor obtains the declared dependencies of a work item: the IDs of
// items that must complete first.
type Extractor interface {
	ExtractDependencies(ctx context.Context, item issue.WorkItem, repoPath string) ([]string, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, item issue.WorkItem, repoPath string) ([]string, error)

// ExtractDependencies calls the function.
func (f ExtractorFunc) ExtractDependencies(ctx context.Context, item issue.WorkItem, repoPath string) ([]string, error) {
	return f(ctx, item, repoPath)
}

// Graph is the verified-acyclic dependency graph over work items.
type Graph struct {
	order []string            // item IDs in input order
	deps  map[string][]string // item -> items it depends on
}

// Resolve extracts dependencies for every item, builds the graph, and
// verifies it is acyclic. Extracted references to items outside the given
// set are dropped: the graph only orders items in this run.
func Resolve(ctx context.Context, items []issue.WorkItem, repoPath string, ex Extractor, logger *logging.Logger) (*Graph, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}

	known := make(map[string]bool, len(items))
	for i := range items {
		known[items[i].ID] = true
	}

	g := &Graph{deps: make(map[string][]string, len(items))}
	for i := range items {
		item := items[i]
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(errors.ErrInterrupted, "dependency resolution")
		}

		declared, err := ex.ExtractDependencies(ctx, item, repoPath)
		if err != nil {
			return nil, errors.NewDependencyResolutionError(item.ID, err)
		}

		deps := make([]string, 0, len(declared))
		for _, dep := range declared {
			if dep == item.ID {
				continue
			}
			if !known[dep] {
				logger.Debug("dropping dependency outside run",
					"item_id", item.ID, "dependency", dep)
				continue
			}
			if !slices.Contains(deps, dep) {
				deps = append(deps, dep)
			}
		}
		g.order = append(g.order, item.ID)
		g.deps[item.ID] = deps
	}

	if members := g.cycleMembers(); len(members) > 0 {
		return nil, errors.NewCycleError(members)
	}
	return g, nil
}

// DependenciesOf returns the items the given item depends on.
func (g *Graph) DependenciesOf(id string) []string {
	return slices.Clone(g.deps[id])
}

// DependentsOf returns the items that depend on the given item, in input
// order.
func (g *Graph) DependentsOf(id string) []string {
	var out []string
	for _, other := range g.order {
		if slices.Contains(g.deps[other], id) {
			out = append(out, other)
		}
	}
	return out
}

// Size returns the number of items in the graph.
func (g *Graph) Size() int { return len(g.order) }

// Waves computes the execution waves by repeated peeling: wave 0 holds
// zero-dependency items, wave N holds items whose dependencies all lie in
// earlier waves. The graph is acyclic by construction, so every item
// lands in exactly one wave.
func (g *Graph) Waves() [][]string {
	assigned := make(map[string]bool, len(g.order))
	var waves [][]string

	for len(assigned) < len(g.order) {
		var wave []string
		for _, id := range g.order {
			if assigned[id] {
				continue
			}
			eligible := true
			for _, dep := range g.deps[id] {
				if !assigned[dep] {
					eligible = false
					break
				}
			}
			if eligible {
				wave = append(wave, id)
			}
		}
		for _, id := range wave {
			assigned[id] = true
		}
		waves = append(waves, wave)
	}
	return waves
}

// cycleMembers returns the union of all items on dependency cycles, in
// input order, using a coloring DFS.
func (g *Graph) cycleMembers() []string {
	const (
		white = 0
		grey  = 1
		black = 2
	)

	color := make(map[string]int, len(g.order))
	onCycle := make(map[string]bool)
	var stack []string

	var visit func(id string)
	visit = func(id string) {
		color[id] = grey
		stack = append(stack, id)
		for _, dep := range g.deps[id] {
			switch color[dep] {
			case grey:
				for i := len(stack) - 1; i >= 0; i-- {
					onCycle[stack[i]] = true
					if stack[i] == dep {
						break
					}
				}
			case white:
				visit(dep)
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for _, id := range g.order {
		if color[id] == white {
			visit(id)
		}
	}

	var members []string
	for _, id := range g.order {
		if onCycle[id] {
			members = append(members, id)
		}
	}
	return members
}
