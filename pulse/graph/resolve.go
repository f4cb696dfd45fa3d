package graph

import (
	"container/heap"
	"sort"

	"github.com/teranos/pulsegraph/errors"
	"github.com/teranos/pulsegraph/pulse/job"
)

// Resolve returns specs in an order where every job follows all of its
// dependencies. Among jobs that are ready at the same time, the one
// registered first comes first, so the output is deterministic.
//
// A cyclic set fails with a *errors.CycleError naming exactly the jobs that
// sit on some cycle. Jobs that merely depend on a cycle are not reported.
func Resolve(specs []job.Spec) ([]job.Spec, error) {
	g, err := Build(specs)
	if err != nil {
		return nil, err
	}
	return g.Resolve()
}

// Resolve runs Kahn's algorithm over the graph. The graph itself is not
// mutated, so it can be resolved repeatedly.
func (g *Graph) Resolve() ([]job.Spec, error) {
	inDegree := make(map[string]int, len(g.inDegree))
	ready := &indexHeap{}
	for _, spec := range g.specs {
		inDegree[spec.Name] = g.inDegree[spec.Name]
		if inDegree[spec.Name] == 0 {
			heap.Push(ready, g.index[spec.Name])
		}
	}

	order := make([]job.Spec, 0, len(g.specs))
	for ready.Len() > 0 {
		spec := g.specs[heap.Pop(ready).(int)]
		order = append(order, spec)

		for _, dependent := range g.dependents[spec.Name] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				heap.Push(ready, g.index[dependent])
			}
		}
	}

	if len(order) < len(g.specs) {
		return nil, errors.NewCycleError(g.cycleMembers(inDegree))
	}
	return order, nil
}

// cycleMembers narrows the jobs Kahn could not place down to the ones on a
// cycle: members of a strongly connected component with more than one job,
// or a job that lists itself. Jobs that only hang off a cycle, upstream or
// downstream of it, are left out.
func (g *Graph) cycleMembers(inDegree map[string]int) []string {
	leftover := make(map[string]bool)
	for name, deg := range inDegree {
		if deg > 0 {
			leftover[name] = true
		}
	}

	t := &tarjan{
		g:        g,
		leftover: leftover,
		index:    make(map[string]int, len(leftover)),
		lowlink:  make(map[string]int, len(leftover)),
		onStack:  make(map[string]bool, len(leftover)),
	}
	// Visit in registration order so the traversal is deterministic
	for _, spec := range g.specs {
		if !leftover[spec.Name] {
			continue
		}
		if _, visited := t.index[spec.Name]; !visited {
			t.visit(spec.Name)
		}
	}

	sort.Slice(t.members, func(i, j int) bool {
		return g.index[t.members[i]] < g.index[t.members[j]]
	})
	return t.members
}

// tarjan finds strongly connected components of the leftover subgraph.
type tarjan struct {
	g        *Graph
	leftover map[string]bool
	counter  int
	index    map[string]int
	lowlink  map[string]int
	stack    []string
	onStack  map[string]bool
	members  []string
}

// visit runs Tarjan's algorithm from root. Recursion is replaced by an
// explicit call stack, so a long chain costs heap, not goroutine stack.
func (t *tarjan) visit(root string) {
	type frame struct {
		name string
		next int // next edge of name to follow
	}

	t.push(root)
	calls := []frame{{name: root}}
	for len(calls) > 0 {
		top := &calls[len(calls)-1]
		edges := t.g.dependents[top.name]

		if top.next < len(edges) {
			next := edges[top.next]
			top.next++
			if !t.leftover[next] {
				continue
			}
			if _, visited := t.index[next]; !visited {
				t.push(next)
				calls = append(calls, frame{name: next})
			} else if t.onStack[next] {
				t.lowlink[top.name] = min(t.lowlink[top.name], t.index[next])
			}
			continue
		}

		// Every edge followed: finish name and fold its lowlink into the caller
		name := top.name
		calls = calls[:len(calls)-1]
		t.finish(name)
		if len(calls) > 0 {
			caller := calls[len(calls)-1].name
			t.lowlink[caller] = min(t.lowlink[caller], t.lowlink[name])
		}
	}
}

func (t *tarjan) push(name string) {
	t.index[name] = t.counter
	t.lowlink[name] = t.counter
	t.counter++
	t.stack = append(t.stack, name)
	t.onStack[name] = true
}

// finish pops name's component off the stack if name is its root.
func (t *tarjan) finish(name string) {
	if t.lowlink[name] != t.index[name] {
		return
	}

	var component []string
	for {
		top := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		t.onStack[top] = false
		component = append(component, top)
		if top == name {
			break
		}
	}

	if len(component) > 1 || t.selfLoop(name) {
		t.members = append(t.members, component...)
	}
}

func (t *tarjan) selfLoop(name string) bool {
	for _, dependent := range t.g.dependents[name] {
		if dependent == name {
			return true
		}
	}
	return false
}

// indexHeap is a min-heap of registration indices.
type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *indexHeap) Push(x any) {
	*h = append(*h, x.(int))
}

func (h *indexHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
