package lifetime

import (
	"fmt"

	"github.com/heapscope/heapscope/internal/location"
)

// DOMRoot implements trace.Sink. Establishes oid as a root of the live-DOM
// forest. Roots carry no parent pointer; over a run the forest holds several
// (documents, detached templates re-rooted by the runtime).
func (a *Analyzer) DOMRoot(oid int32) error {
	if _, ok := a.forest[oid]; !ok {
		a.forest[oid] = make(map[int32]struct{})
	}
	return nil
}

// AddDOMChild implements trace.Sink. Attaches child under parent if parent
// is part of the live DOM. A child that is already attached elsewhere enters
// the two-parent set: the trace reports reparenting as attach-then-remove,
// so the node transiently has two parents.
func (a *Analyzer) AddDOMChild(parent, child int32, time uint64) error {
	pset, ok := a.forest[parent]
	if !ok {
		return nil
	}
	pset[child] = struct{}{}
	if _, attached := a.forest[child]; attached {
		if _, dup := a.twoParent[child]; dup {
			return fmt.Errorf("node %d attached under a third parent", child)
		}
		a.twoParent[child] = struct{}{}
	} else {
		a.forest[child] = make(map[int32]struct{})
	}
	if _, ok := a.live[child]; !ok {
		// A node entering the live DOM that we never saw allocated, or one
		// revived after a pending unreachability.
		if err := a.reviveIfPending(child); err != nil {
			return err
		}
		a.live[child] = &AllocInfo{
			Type:           TypeDOM,
			AllocationSite: location.Unknown,
		}
	}
	return nil
}

// RemoveDOMChild implements trace.Sink. Detaches child from parent and
// marks every node of the detached subtree as used at the removal time with
// the RemoveFromDOM sentinel site. A visited node in the two-parent set
// survived at its other attachment point: it leaves the set and the
// traversal does not descend into it.
func (a *Analyzer) RemoveDOMChild(parent, child int32, time uint64) error {
	pset, ok := a.forest[parent]
	if !ok {
		return nil
	}
	if _, ok := pset[child]; !ok {
		return fmt.Errorf("remove_dom_child: node %d is not a child of %d", child, parent)
	}
	delete(pset, child)

	queue := []int32{child}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if _, ok := a.twoParent[n]; ok {
			delete(a.twoParent, n)
			continue
		}
		children, ok := a.forest[n]
		if !ok {
			return fmt.Errorf("remove_dom_child: detached node %d missing from the DOM forest", n)
		}
		a.updateMostRecentUse(n, time, location.RemoveFromDOM)
		for c := range children {
			queue = append(queue, c)
		}
		delete(a.forest, n)
	}
	return nil
}
