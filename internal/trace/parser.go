package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	semver "github.com/Masterminds/semver/v3"

	"github.com/heapscope/heapscope/internal/location"
)

// FormatConstraint is the range of trace format versions this parser
// understands. The header of every trace carries the version of the
// instrumentation that produced it.
const FormatConstraint = "^1.0.0"

// LogicalClock is the trace timer: it follows the timestamps of the records
// as they are dispatched. Now never goes backwards even if a record carries
// an earlier time.
type LogicalClock struct {
	now uint64
}

// Now implements Timer.
func (c *LogicalClock) Now() uint64 { return c.now }

// Advance moves the clock forward to t; earlier readings are ignored.
func (c *LogicalClock) Advance(t uint64) {
	if t > c.now {
		c.now = t
	}
}

// record is the wire shape of one NDJSON trace line. Fields beyond op are
// populated per operation.
type record struct {
	Op       string   `json:"op"`
	Format   string   `json:"format,omitempty"`
	Site     []int32  `json:"site,omitempty"`
	CallSite []int32  `json:"call_site,omitempty"`
	OID      int32    `json:"oid,omitempty"`
	Parent   int32    `json:"parent,omitempty"`
	Child    int32    `json:"child,omitempty"`
	Proto    int32    `json:"proto,omitempty"`
	EnterIID int32    `json:"enter_iid,omitempty"`
	Closures []string `json:"closures,omitempty"`
	Ctx      int32    `json:"ctx,omitempty"`
	Time     uint64   `json:"time,omitempty"`
	DOM      bool     `json:"dom,omitempty"`
	Size     uint64   `json:"size,omitempty"`
	Name     string   `json:"name,omitempty"`
	File     string   `json:"file,omitempty"`
	Base     int32    `json:"base,omitempty"`
	Field    string   `json:"field,omitempty"`
	Val      int32    `json:"val,omitempty"`
	Unref    []int32  `json:"unref,omitempty"`
}

func (r *record) site() location.SourceLocID     { return toLoc(r.Site) }
func (r *record) callSite() location.SourceLocID { return toLoc(r.CallSite) }

func toLoc(v []int32) location.SourceLocID {
	if len(v) != 2 {
		return location.Unknown
	}
	return location.SourceLocID{FileID: v[0], IID: v[1]}
}

// Parser reads an NDJSON memory-event trace and dispatches its records to a
// Sink in trace order.
type Parser struct {
	reg        location.Registry
	constraint *semver.Constraints
}

// NewParser returns a Parser resolving locations through reg.
func NewParser(reg location.Registry) (*Parser, error) {
	c, err := semver.NewConstraint(FormatConstraint)
	if err != nil {
		return nil, fmt.Errorf("invalid format constraint: %w", err)
	}
	return &Parser{reg: reg, constraint: c}, nil
}

// Run consumes the whole trace from r. The first line must be the header;
// its format version is validated against FormatConstraint. The sink is
// initialized before the first event and every record is dispatched in
// order. Run stops at the first malformed line or sink error.
func (p *Parser) Run(r io.Reader, sink Sink) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	clock := &LogicalClock{}
	headerSeen := false
	lineNo := 0

	for sc.Scan() {
		lineNo++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("trace line %d: %w", lineNo, err)
		}
		if !headerSeen {
			if rec.Op != "header" {
				return fmt.Errorf("trace line %d: expected header, got %q", lineNo, rec.Op)
			}
			v, err := semver.NewVersion(rec.Format)
			if err != nil {
				return fmt.Errorf("trace line %d: bad format version %q: %w", lineNo, rec.Format, err)
			}
			if !p.constraint.Check(v) {
				return fmt.Errorf("unsupported trace format %s (need %s)", rec.Format, FormatConstraint)
			}
			headerSeen = true
			sink.Init(clock, p.reg)
			continue
		}
		clock.Advance(rec.Time)
		if err := p.dispatch(sink, &rec); err != nil {
			return fmt.Errorf("trace line %d (%s): %w", lineNo, rec.Op, err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("trace read failed: %w", err)
	}
	if !headerSeen {
		return fmt.Errorf("empty trace: missing header")
	}
	return nil
}

func (p *Parser) dispatch(sink Sink, rec *record) error {
	switch rec.Op {
	case "create":
		return sink.Create(rec.site(), rec.OID, rec.Time, rec.DOM)
	case "create_fun":
		return sink.CreateFun(rec.site(), rec.OID, rec.Proto, rec.EnterIID, rec.Closures, rec.Ctx, rec.Time)
	case "last_use":
		return sink.LastUse(rec.OID, rec.site(), rec.Time)
	case "unreachable_object":
		return sink.UnreachableObject(rec.site(), rec.OID, rec.Time, rec.Size)
	case "update_iid":
		return sink.UpdateIID(rec.OID, rec.site())
	case "function_enter":
		return sink.FunctionEnter(rec.site(), rec.OID, rec.callSite(), rec.Ctx, rec.Time)
	case "function_exit":
		return sink.FunctionExit(rec.site(), rec.Ctx, rec.Unref, rec.Time)
	case "add_dom_child":
		return sink.AddDOMChild(rec.Parent, rec.Child, rec.Time)
	case "remove_dom_child":
		return sink.RemoveDOMChild(rec.Parent, rec.Child, rec.Time)
	case "dom_root":
		return sink.DOMRoot(rec.OID)
	case "end_last_use":
		return sink.EndLastUse()
	case "end_execution":
		return sink.EndExecution(rec.Time)
	case "declare":
		return sink.Declare(rec.site(), rec.Name, rec.OID)
	case "put_field":
		return sink.PutField(rec.site(), rec.Base, rec.Field, rec.Val)
	case "write":
		return sink.Write(rec.site(), rec.Name, rec.OID)
	case "top_level_flush":
		return sink.TopLevelFlush(rec.site())
	case "debug":
		return sink.Debug(rec.site(), rec.OID)
	case "return_stmt":
		return sink.ReturnStmt(rec.OID)
	case "add_to_child_set":
		return sink.AddToChildSet(rec.site(), rec.Parent, rec.Name, rec.Child)
	case "remove_from_child_set":
		return sink.RemoveFromChildSet(rec.site(), rec.Parent, rec.Name, rec.Child)
	case "script_enter":
		return sink.ScriptEnter(rec.site(), rec.File)
	case "script_exit":
		return sink.ScriptExit(rec.site())
	case "unreachable_context":
		return sink.UnreachableContext(rec.site(), rec.Time)
	}
	return fmt.Errorf("unknown operation")
}
