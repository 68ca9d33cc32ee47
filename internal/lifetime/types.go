// Package lifetime is the event-driven bookkeeping engine: it consumes a
// chronologically ordered memory-event trace and emits, per object, its
// allocation, last use, and unreachability together with the source
// locations and call-stack context of each.
package lifetime

import (
	"github.com/heapscope/heapscope/internal/location"
)

// GlobalObjectID is the well-known id of the script global object. The
// global lives for the whole run and is excluded from tracking.
const GlobalObjectID int32 = 1

// ObjectType classifies a tracked heap object.
type ObjectType int

const (
	TypeObject ObjectType = iota
	TypeDOM
	TypeFunction
	TypePrototype
)

func (t ObjectType) String() string {
	switch t {
	case TypeObject:
		return "OBJECT"
	case TypeDOM:
		return "DOM"
	case TypeFunction:
		return "FUNCTION"
	case TypePrototype:
		return "PROTOTYPE"
	}
	return "OBJECT"
}

// AllocInfo records where and when an object was allocated. It lives in the
// live table until the object is declared unreachable, then in the pending
// table until its combined record is emitted.
type AllocInfo struct {
	Type           ObjectType
	AllocationSite location.SourceLocID
	CreationTime   uint64 // 0 = unknown
	// CreationCallStack is a snapshot of the call-stack shadow at creation
	// (or at the last update_iid), bottom to top. Snapshots are logical
	// copies; later stack mutation never changes them.
	CreationCallStack []location.SourceLocID
}

// LastUseUnreachableInfo holds the monotone last-use and unreachability
// estimates for one object id. Entries are created lazily on first
// reference and indexed densely by id.
type LastUseUnreachableInfo struct {
	ObjectID          int32
	MostRecentUseTime uint64 // 0 = never observed
	MostRecentUseSite location.SourceLocID
	UnreachableTime   uint64 // 0 = not yet unreachable
	UnreachableSite   location.SourceLocID
}

// IIDUpdateRecord logs a re-attribution of an object's allocation site.
// CreationTime orders the final stream and is not itself emitted.
type IIDUpdateRecord struct {
	ObjectID     int32
	CreationTime uint64
	NewSite      location.SourceLocID
}
