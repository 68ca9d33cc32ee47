package lifetime

import (
	"fmt"
	"io"

	"github.com/heapscope/heapscope/internal/location"
	"github.com/heapscope/heapscope/internal/trace"
)

// Analyzer is the single-pass lifetime engine. It implements trace.Sink.
//
// The four output writers are borrowed for the analyzer's lifetime; the
// analyzer writes to them during revival emission and finalization but never
// closes them.
type Analyzer struct {
	timer trace.Timer
	reg   location.Registry

	// Allocation records for objects currently considered live.
	live map[int32]*AllocInfo
	// Allocation records for objects declared unreachable whose combined
	// record has not been emitted yet.
	unreachable map[int32]*AllocInfo
	// Dense by object id; sparse slots stay nil until first reference.
	info []*LastUseUnreachableInfo

	// Live-DOM forest: node id -> set of child ids. Roots carry no parent
	// pointer; the forest holds multiple roots over a run.
	forest map[int32]map[int32]struct{}
	// Nodes transiently attached under two parents (reparent observed
	// before the matching remove).
	twoParent map[int32]struct{}

	// Call-stack shadow of the instrumented program, bottom to top.
	stack []location.SourceLocID

	updates []IIDUpdateRecord

	objectOut    io.Writer
	lastUseOut   io.Writer
	unreachOut   io.Writer
	updateIIDOut io.Writer
}

var _ trace.Sink = (*Analyzer)(nil)

// New returns an Analyzer writing per-object JSON lines to objects and
// binary records to the three remaining streams.
func New(objects, lastUse, unreachable, updateIID io.Writer) *Analyzer {
	return &Analyzer{
		live:         make(map[int32]*AllocInfo),
		unreachable:  make(map[int32]*AllocInfo),
		forest:       make(map[int32]map[int32]struct{}),
		twoParent:    make(map[int32]struct{}),
		objectOut:    objects,
		lastUseOut:   lastUse,
		unreachOut:   unreachable,
		updateIIDOut: updateIID,
	}
}

// Init implements trace.Sink.
func (a *Analyzer) Init(timer trace.Timer, reg location.Registry) {
	a.timer = timer
	a.reg = reg
}

// ensureInfo returns the info entry for oid, growing the dense array and
// creating the entry on first reference.
func (a *Analyzer) ensureInfo(oid int32) *LastUseUnreachableInfo {
	idx := int(oid)
	for idx >= len(a.info) {
		a.info = append(a.info, nil)
	}
	if a.info[idx] == nil {
		a.info[idx] = &LastUseUnreachableInfo{
			ObjectID:          oid,
			MostRecentUseSite: location.Unknown,
			UnreachableSite:   location.Unknown,
		}
	}
	return a.info[idx]
}

// updateMostRecentUse is the only writer of the most-recent-use fields.
// Writes are monotone: an equal-or-earlier time is dropped, and site and
// time always advance together. DOM liveness can push the recorded use into
// the future relative to individual use events.
func (a *Analyzer) updateMostRecentUse(oid int32, time uint64, site location.SourceLocID) {
	inf := a.ensureInfo(oid)
	if time > inf.MostRecentUseTime {
		inf.MostRecentUseTime = time
		inf.MostRecentUseSite = site
	}
}

// snapshotStack copies the call-stack shadow, bottom to top.
func (a *Analyzer) snapshotStack() []location.SourceLocID {
	if len(a.stack) == 0 {
		return nil
	}
	snap := make([]location.SourceLocID, len(a.stack))
	copy(snap, a.stack)
	return snap
}

// reviveIfPending completes the previous lifetime of oid: if a combined
// record is still pending, it is emitted now and removed, so the id never
// sits in both tables and every lifetime yields exactly one record.
func (a *Analyzer) reviveIfPending(oid int32) error {
	ai, ok := a.unreachable[oid]
	if !ok {
		return nil
	}
	if err := a.emitObjectRecord(oid, ai); err != nil {
		return err
	}
	delete(a.unreachable, oid)
	return nil
}

// Create implements trace.Sink.
func (a *Analyzer) Create(site location.SourceLocID, oid int32, time uint64, isDOM bool) error {
	if oid == GlobalObjectID {
		return nil
	}
	if err := a.reviveIfPending(oid); err != nil {
		return err
	}
	typ := TypeObject
	if isDOM {
		typ = TypeDOM
	}
	a.live[oid] = &AllocInfo{
		Type:              typ,
		AllocationSite:    site,
		CreationTime:      time,
		CreationCallStack: a.snapshotStack(),
	}
	a.updateMostRecentUse(oid, time, site)
	return nil
}

// CreateFun implements trace.Sink. A function allocation also allocates its
// prototype object; both share one call-stack snapshot.
func (a *Analyzer) CreateFun(site location.SourceLocID, oid, protoID int32, enterIID int32, closureNames []string, ctx int32, time uint64) error {
	if err := a.reviveIfPending(oid); err != nil {
		return err
	}
	if err := a.reviveIfPending(protoID); err != nil {
		return err
	}
	snap := a.snapshotStack()
	a.live[oid] = &AllocInfo{
		Type:              TypeFunction,
		AllocationSite:    site,
		CreationTime:      time,
		CreationCallStack: snap,
	}
	a.live[protoID] = &AllocInfo{
		Type:              TypePrototype,
		AllocationSite:    site,
		CreationTime:      time,
		CreationCallStack: snap,
	}
	a.updateMostRecentUse(oid, time, site)
	a.updateMostRecentUse(protoID, time, site)
	return nil
}

// UpdateIID implements trace.Sink. Re-attributes a live object's allocation
// site; the object must be live, anything else is a trace-contract
// violation.
func (a *Analyzer) UpdateIID(oid int32, newSite location.SourceLocID) error {
	ai, ok := a.live[oid]
	if !ok {
		return fmt.Errorf("update_iid for unknown object %d", oid)
	}
	ai.AllocationSite = newSite
	ai.CreationCallStack = a.snapshotStack()
	a.updates = append(a.updates, IIDUpdateRecord{
		ObjectID:     oid,
		CreationTime: ai.CreationTime,
		NewSite:      newSite,
	})
	return nil
}

// LastUse implements trace.Sink. A use strictly after a recorded
// unreachability proves that claim spurious; lacking a later callback, the
// unreachability estimate is pulled up to the use.
func (a *Analyzer) LastUse(oid int32, site location.SourceLocID, time uint64) error {
	if oid == GlobalObjectID {
		return nil
	}
	a.updateMostRecentUse(oid, time, site)
	inf := a.ensureInfo(oid)
	if inf.UnreachableTime > 0 && inf.UnreachableTime < time {
		inf.UnreachableTime = time
		inf.UnreachableSite = site
	}
	return nil
}

// UnreachableObject implements trace.Sink.
func (a *Analyzer) UnreachableObject(site location.SourceLocID, oid int32, time uint64, shallowSize uint64) error {
	if oid == GlobalObjectID {
		return nil
	}
	// Cycle collection and native interplay can report an unreachable time
	// already in the future; keep the greater value.
	inf := a.ensureInfo(oid)
	if inf.UnreachableTime < time {
		inf.UnreachableTime = time
		inf.UnreachableSite = site
	}
	// Leaving the live DOM at the moment of unreachability counts as a use.
	if _, ok := a.forest[oid]; ok {
		a.updateMostRecentUse(oid, time, site)
		delete(a.forest, oid)
	}
	if ai, ok := a.live[oid]; ok {
		delete(a.live, oid)
		a.unreachable[oid] = ai
	} else if _, ok := a.unreachable[oid]; ok {
		// Duplicate callback from uninstrumented code; the first record
		// stands until it is flushed.
	} else {
		// First sighting of the object. Happens for nodes the
		// instrumentation never saw allocated, e.g. the document root.
		a.unreachable[oid] = &AllocInfo{
			Type:           TypeDOM,
			AllocationSite: location.Unknown,
		}
	}
	return nil
}

// FunctionEnter implements trace.Sink.
func (a *Analyzer) FunctionEnter(site location.SourceLocID, funID int32, callSite location.SourceLocID, ctx int32, time uint64) error {
	a.stack = append(a.stack, callSite)
	return nil
}

// FunctionExit implements trace.Sink.
func (a *Analyzer) FunctionExit(site location.SourceLocID, ctx int32, unreferenced []int32, time uint64) error {
	if len(a.stack) == 0 {
		return fmt.Errorf("function_exit with empty call stack")
	}
	a.stack = a.stack[:len(a.stack)-1]
	return nil
}

// Events with no lifetime significance.

func (a *Analyzer) Declare(site location.SourceLocID, name string, oid int32) error { return nil }
func (a *Analyzer) PutField(site location.SourceLocID, base int32, field string, val int32) error {
	return nil
}
func (a *Analyzer) Write(site location.SourceLocID, name string, oid int32) error { return nil }
func (a *Analyzer) TopLevelFlush(site location.SourceLocID) error                 { return nil }
func (a *Analyzer) Debug(site location.SourceLocID, oid int32) error              { return nil }
func (a *Analyzer) ReturnStmt(oid int32) error                                    { return nil }
func (a *Analyzer) AddToChildSet(site location.SourceLocID, parent int32, name string, child int32) error {
	return nil
}
func (a *Analyzer) RemoveFromChildSet(site location.SourceLocID, parent int32, name string, child int32) error {
	return nil
}
func (a *Analyzer) ScriptEnter(site location.SourceLocID, file string) error { return nil }
func (a *Analyzer) ScriptExit(site location.SourceLocID) error               { return nil }
func (a *Analyzer) UnreachableContext(site location.SourceLocID, time uint64) error {
	return nil
}
