package nexus

import (
	"fmt"
	"strings"

	"github.com/go-lynx/nexus/faults"
	"github.com/go-lynx/nexus/log"
	"github.com/go-lynx/nexus/modules"
)

const (
	unvisited uint8 = iota
	visiting
	visited
)

// resolveOrder sorts entries so every module comes after the modules it
// depends on. A depth-first pass detects cycles and drops edges to
// unregistered modules; a second pass emits ready modules by ascending
// priority, ties broken by the depth-first order, which itself follows
// registration order.
func resolveOrder(entries []*entry, lookup func(modules.Key) (*entry, bool)) ([]*entry, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	type frame struct {
		e    *entry
		deps []modules.Key
		i    int
	}

	state := make(map[*entry]uint8, len(entries))
	deps := make(map[*entry]map[*entry]struct{}, len(entries))
	dfsIndex := make(map[*entry]int, len(entries))

	for _, root := range entries {
		if state[root] != unvisited {
			continue
		}
		state[root] = visiting
		stack := []frame{{e: root, deps: root.module.Dependencies()}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.i == len(top.deps) {
				state[top.e] = visited
				dfsIndex[top.e] = len(dfsIndex)
				stack = stack[:len(stack)-1]
				continue
			}
			k := top.deps[top.i]
			top.i++

			dep, ok := lookup(k)
			if !ok {
				log.Warnw("msg", "dependency not registered, edge dropped",
					"module", top.e.name, "dependency", k.String())
				continue
			}
			if deps[top.e] == nil {
				deps[top.e] = make(map[*entry]struct{})
			}
			deps[top.e][dep] = struct{}{}

			switch state[dep] {
			case visited:
				continue
			case visiting:
				path := make([]string, 0, len(stack)+1)
				started := false
				for _, f := range stack {
					if f.e == dep {
						started = true
					}
					if started {
						path = append(path, f.e.name)
					}
				}
				path = append(path, dep.name)
				return nil, faults.DependencyFault(faults.CategoryDependencyCycle, dep.name,
					fmt.Sprintf("dependency cycle %s", strings.Join(path, " -> ")), faults.ErrCyclicDependency)
			}
			state[dep] = visiting
			stack = append(stack, frame{e: dep, deps: dep.module.Dependencies()})
		}
	}

	remaining := make(map[*entry]int, len(entries))
	dependents := make(map[*entry][]*entry, len(entries))
	for e, ds := range deps {
		remaining[e] = len(ds)
		for d := range ds {
			dependents[d] = append(dependents[d], e)
		}
	}

	var ready []*entry
	for _, e := range entries {
		if remaining[e] == 0 {
			ready = append(ready, e)
		}
	}
	less := func(a, b *entry) bool {
		if pa, pb := a.module.Priority(), b.module.Priority(); pa != pb {
			return pa < pb
		}
		return dfsIndex[a] < dfsIndex[b]
	}

	order := make([]*entry, 0, len(entries))
	for len(ready) > 0 {
		best := 0
		for i := 1; i < len(ready); i++ {
			if less(ready[i], ready[best]) {
				best = i
			}
		}
		e := ready[best]
		ready = append(ready[:best], ready[best+1:]...)
		order = append(order, e)
		for _, d := range dependents[e] {
			remaining[d]--
			if remaining[d] == 0 {
				ready = append(ready, d)
			}
		}
	}
	return order, nil
}
