// Package graph resolves the job dependency graph into an execution order.
//
// The resolver is purely structural: it never consults timing or execution
// status. It is rebuilt from the registry on every resolution pass.
package graph

import (
	"github.com/teranos/pulsegraph/errors"
	"github.com/teranos/pulsegraph/pulse/job"
)

// Graph is a read-only view of a job set.
//
// Edges point from a dependency to its dependents, so walking dependents
// follows execution order.
type Graph struct {
	specs      []job.Spec
	index      map[string]int      // registration index, used for tie-breaks
	dependents map[string][]string // dependency -> jobs that list it
	inDegree   map[string]int      // number of dependencies per job
}

// Build constructs the graph for specs, given in registration order.
// A dependency naming a job outside the set returns ErrUnknownDependency.
func Build(specs []job.Spec) (*Graph, error) {
	g := &Graph{
		specs:      specs,
		index:      make(map[string]int, len(specs)),
		dependents: make(map[string][]string, len(specs)),
		inDegree:   make(map[string]int, len(specs)),
	}

	for i, spec := range specs {
		if _, dup := g.index[spec.Name]; dup {
			return nil, errors.Wrapf(errors.ErrDuplicateJob, "job %q", spec.Name)
		}
		g.index[spec.Name] = i
		g.inDegree[spec.Name] = 0
	}

	for _, spec := range specs {
		seen := make(map[string]bool, len(spec.Dependencies))
		for _, dep := range spec.Dependencies {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			if _, ok := g.index[dep]; !ok {
				return nil, errors.WithHintf(
					errors.Wrapf(errors.ErrUnknownDependency, "job %q depends on %q", spec.Name, dep),
					"register %q or drop it from the dependencies of %q", dep, spec.Name)
			}
			g.dependents[dep] = append(g.dependents[dep], spec.Name)
			g.inDegree[spec.Name]++
		}
	}

	return g, nil
}

// Len returns the number of jobs in the graph.
func (g *Graph) Len() int {
	return len(g.specs)
}

// Dependents returns the jobs that depend directly on name.
func (g *Graph) Dependents(name string) []string {
	out := make([]string, len(g.dependents[name]))
	copy(out, g.dependents[name])
	return out
}

// InDegree returns the number of distinct dependencies of name.
func (g *Graph) InDegree(name string) int {
	return g.inDegree[name]
}

// Index returns the registration index of name, or -1.
func (g *Graph) Index(name string) int {
	i, ok := g.index[name]
	if !ok {
		return -1
	}
	return i
}
