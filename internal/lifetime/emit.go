package lifetime

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
)

// timedRecord is the 20-byte wire layout of the last-use and unreachable
// streams: big-endian, fixed width, back to back, no framing.
type timedRecord struct {
	ObjectID int32
	Time     uint64
	FileID   int32
	IID      int32
}

// updateRecord is the 12-byte wire layout of the update-IID stream.
type updateRecord struct {
	ObjectID int32
	FileID   int32
	IID      int32
}

// emitObjectRecord writes the combined per-object line: a JSON array of
// exactly nine elements, sites resolved through the registry, call stack
// bottom to top.
func (a *Analyzer) emitObjectRecord(oid int32, ai *AllocInfo) error {
	inf := a.ensureInfo(oid)
	stack := make([]string, 0, len(ai.CreationCallStack))
	for _, site := range ai.CreationCallStack {
		stack = append(stack, a.reg.Resolve(site))
	}
	line, err := json.Marshal([]interface{}{
		oid,
		ai.Type.String(),
		a.reg.Resolve(ai.AllocationSite),
		ai.CreationTime,
		stack,
		inf.MostRecentUseTime,
		a.reg.Resolve(inf.MostRecentUseSite),
		inf.UnreachableTime,
		a.reg.Resolve(inf.UnreachableSite),
	})
	if err != nil {
		return err
	}
	if _, err := a.objectOut.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("object stream write failed: %w", err)
	}
	return nil
}

// flushPending emits the combined record of every pending-unreachable
// object, in ascending id order, and clears the table.
func (a *Analyzer) flushPending() error {
	ids := make([]int32, 0, len(a.unreachable))
	for oid := range a.unreachable {
		ids = append(ids, oid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, oid := range ids {
		if err := a.emitObjectRecord(oid, a.unreachable[oid]); err != nil {
			return err
		}
		delete(a.unreachable, oid)
	}
	return nil
}

// EndLastUse implements trace.Sink.
func (a *Analyzer) EndLastUse() error {
	return a.flushPending()
}

// EndExecution implements trace.Sink. Flushes residual pending records,
// then sorts the info array twice and streams it, and finally streams the
// ordered update-IID log. The info array is sorted destructively; nothing
// reads it afterwards.
func (a *Analyzer) EndExecution(time uint64) error {
	if n := len(a.live); n != 0 {
		return fmt.Errorf("end_execution with %d objects still live", n)
	}
	if err := a.flushPending(); err != nil {
		return err
	}

	// Last-use stream: populated entries ascending by use time; nil or
	// never-used entries sort after every populated one and are not
	// emitted.
	sort.Slice(a.info, func(i, j int) bool {
		ei, ej := a.info[i], a.info[j]
		pi := ei != nil && ei.MostRecentUseTime != 0
		pj := ej != nil && ej.MostRecentUseTime != 0
		if pi != pj {
			return pi
		}
		if !pi {
			return false
		}
		return ei.MostRecentUseTime < ej.MostRecentUseTime
	})
	for _, inf := range a.info {
		if inf == nil || inf.MostRecentUseTime == 0 {
			break
		}
		rec := timedRecord{
			ObjectID: inf.ObjectID,
			Time:     inf.MostRecentUseTime,
			FileID:   inf.MostRecentUseSite.FileID,
			IID:      inf.MostRecentUseSite.IID,
		}
		if err := binary.Write(a.lastUseOut, binary.BigEndian, rec); err != nil {
			return fmt.Errorf("last-use stream write failed: %w", err)
		}
	}

	// Unreachable stream: every non-nil entry ascending by unreachable
	// time, zero times included.
	sort.Slice(a.info, func(i, j int) bool {
		ei, ej := a.info[i], a.info[j]
		if (ei != nil) != (ej != nil) {
			return ei != nil
		}
		if ei == nil {
			return false
		}
		return ei.UnreachableTime < ej.UnreachableTime
	})
	for _, inf := range a.info {
		if inf == nil {
			break
		}
		rec := timedRecord{
			ObjectID: inf.ObjectID,
			Time:     inf.UnreachableTime,
			FileID:   inf.UnreachableSite.FileID,
			IID:      inf.UnreachableSite.IID,
		}
		if err := binary.Write(a.unreachOut, binary.BigEndian, rec); err != nil {
			return fmt.Errorf("unreachable stream write failed: %w", err)
		}
	}

	// Update-IID stream: ordered by the creation time of the updated
	// object; the time itself is not part of the record.
	sort.Slice(a.updates, func(i, j int) bool {
		return a.updates[i].CreationTime < a.updates[j].CreationTime
	})
	for _, u := range a.updates {
		rec := updateRecord{
			ObjectID: u.ObjectID,
			FileID:   u.NewSite.FileID,
			IID:      u.NewSite.IID,
		}
		if err := binary.Write(a.updateIIDOut, binary.BigEndian, rec); err != nil {
			return fmt.Errorf("update-iid stream write failed: %w", err)
		}
	}
	return nil
}
