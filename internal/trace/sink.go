// Package trace defines the memory-event trace format, the sink interface
// its records are dispatched to, and readers for trace files.
package trace

import (
	"github.com/heapscope/heapscope/internal/location"
)

// Timer is the logical clock of the instrumented run. Timestamps in a trace
// are Timer readings; the analyzer never consults a wall clock.
type Timer interface {
	Now() uint64
}

// Sink receives trace events in trace order. All methods are invoked
// synchronously by the driver; implementations need no locking.
//
// Handlers report trace-contract violations and I/O failures through their
// error return; the driver aborts on the first error.
type Sink interface {
	// Init hands the sink the trace timer and the source-location registry
	// before any event is dispatched.
	Init(timer Timer, reg location.Registry)

	Create(site location.SourceLocID, oid int32, time uint64, isDOM bool) error
	CreateFun(site location.SourceLocID, oid, protoID int32, enterIID int32, closureNames []string, ctx int32, time uint64) error
	LastUse(oid int32, site location.SourceLocID, time uint64) error
	UnreachableObject(site location.SourceLocID, oid int32, time uint64, shallowSize uint64) error
	UpdateIID(oid int32, newSite location.SourceLocID) error
	FunctionEnter(site location.SourceLocID, funID int32, callSite location.SourceLocID, ctx int32, time uint64) error
	FunctionExit(site location.SourceLocID, ctx int32, unreferenced []int32, time uint64) error
	AddDOMChild(parent, child int32, time uint64) error
	RemoveDOMChild(parent, child int32, time uint64) error
	DOMRoot(oid int32) error
	EndLastUse() error
	EndExecution(time uint64) error

	// Events below appear in traces but carry no information for lifetime
	// bookkeeping. Sinks accept them silently.
	Declare(site location.SourceLocID, name string, oid int32) error
	PutField(site location.SourceLocID, base int32, field string, val int32) error
	Write(site location.SourceLocID, name string, oid int32) error
	TopLevelFlush(site location.SourceLocID) error
	Debug(site location.SourceLocID, oid int32) error
	ReturnStmt(oid int32) error
	AddToChildSet(site location.SourceLocID, parent int32, name string, child int32) error
	RemoveFromChildSet(site location.SourceLocID, parent int32, name string, child int32) error
	ScriptEnter(site location.SourceLocID, file string) error
	ScriptExit(site location.SourceLocID) error
	UnreachableContext(site location.SourceLocID, time uint64) error
}
