package lifetime_test

import (
	"bytes"
	"encoding/json"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/heapscope/heapscope/internal/lifetime"
	"github.com/heapscope/heapscope/internal/location"
	"github.com/heapscope/heapscope/internal/trace"
)

type run struct {
	a       *lifetime.Analyzer
	objects bytes.Buffer
	lastUse bytes.Buffer
	unreach bytes.Buffer
	updates bytes.Buffer
}

func newRun() *run {
	r := &run{}
	r.a = lifetime.New(&r.objects, &r.lastUse, &r.unreach, &r.updates)
	r.a.Init(&trace.LogicalClock{}, location.NewTable())
	return r
}

// records parses the per-object stream into oid -> decoded 9-tuple.
func (r *run) records(g *WithT) map[int32][]interface{} {
	out := make(map[int32][]interface{})
	for _, line := range bytes.Split(bytes.TrimSpace(r.objects.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var rec []interface{}
		g.Expect(json.Unmarshal(line, &rec)).To(Succeed())
		g.Expect(rec).To(HaveLen(9))
		out[int32(rec[0].(float64))] = rec
	}
	return out
}

func TestRemovalMarksWholeSubtree(t *testing.T) {
	g := NewWithT(t)

	r := newRun()
	sl := location.SourceLocID{FileID: 1, IID: 1}

	// root 1 -> 2 -> {3, 4}; detach 2 at t=50.
	g.Expect(r.a.DOMRoot(1)).To(Succeed())
	g.Expect(r.a.AddDOMChild(1, 2, 10)).To(Succeed())
	g.Expect(r.a.AddDOMChild(2, 3, 11)).To(Succeed())
	g.Expect(r.a.AddDOMChild(2, 4, 12)).To(Succeed())
	g.Expect(r.a.RemoveDOMChild(1, 2, 50)).To(Succeed())

	for _, oid := range []int32{2, 3, 4} {
		g.Expect(r.a.UnreachableObject(sl, oid, 100, 0)).To(Succeed())
	}
	g.Expect(r.a.EndLastUse()).To(Succeed())
	g.Expect(r.a.EndExecution(200)).To(Succeed())

	recs := r.records(g)
	g.Expect(recs).To(HaveLen(3))
	for _, oid := range []int32{2, 3, 4} {
		rec := recs[oid]
		g.Expect(rec[5]).To(Equal(float64(50)), "use time of node %d", oid)
		g.Expect(rec[6]).To(Equal("removed from DOM"), "use site of node %d", oid)
	}
}

func TestTwoParentNodeSurvivesOneRemoval(t *testing.T) {
	g := NewWithT(t)

	r := newRun()
	sl := location.SourceLocID{FileID: 1, IID: 1}

	g.Expect(r.a.DOMRoot(1)).To(Succeed())
	g.Expect(r.a.DOMRoot(9)).To(Succeed())
	g.Expect(r.a.AddDOMChild(1, 2, 10)).To(Succeed())
	g.Expect(r.a.AddDOMChild(2, 3, 11)).To(Succeed())
	// Reparent 2 under 9 before the old edge is removed.
	g.Expect(r.a.AddDOMChild(9, 2, 20)).To(Succeed())
	g.Expect(r.a.RemoveDOMChild(1, 2, 30)).To(Succeed())

	// The subtree under 2 is untouched: removing it later still works and
	// stamps the later removal time.
	g.Expect(r.a.RemoveDOMChild(9, 2, 60)).To(Succeed())

	for _, oid := range []int32{2, 3} {
		g.Expect(r.a.UnreachableObject(sl, oid, 100, 0)).To(Succeed())
	}
	g.Expect(r.a.EndLastUse()).To(Succeed())
	g.Expect(r.a.EndExecution(200)).To(Succeed())

	recs := r.records(g)
	g.Expect(recs[2][5]).To(Equal(float64(60)))
	g.Expect(recs[3][5]).To(Equal(float64(60)))
}

func TestThirdParentIsCorruption(t *testing.T) {
	g := NewWithT(t)

	r := newRun()
	g.Expect(r.a.DOMRoot(1)).To(Succeed())
	g.Expect(r.a.DOMRoot(8)).To(Succeed())
	g.Expect(r.a.DOMRoot(9)).To(Succeed())
	g.Expect(r.a.AddDOMChild(1, 2, 10)).To(Succeed())
	g.Expect(r.a.AddDOMChild(8, 2, 11)).To(Succeed())
	g.Expect(r.a.AddDOMChild(9, 2, 12)).NotTo(Succeed())
}

func TestReattachAfterPendingUnreachabilityRevives(t *testing.T) {
	g := NewWithT(t)

	r := newRun()
	sl := location.SourceLocID{FileID: 1, IID: 1}

	g.Expect(r.a.DOMRoot(1)).To(Succeed())
	g.Expect(r.a.AddDOMChild(1, 2, 10)).To(Succeed())
	g.Expect(r.a.UnreachableObject(sl, 2, 20, 0)).To(Succeed())
	// The node comes back into the live DOM: the pending record completes
	// and a fresh lifetime starts.
	g.Expect(r.a.AddDOMChild(1, 2, 30)).To(Succeed())
	g.Expect(r.a.UnreachableObject(sl, 2, 40, 0)).To(Succeed())
	g.Expect(r.a.EndLastUse()).To(Succeed())
	g.Expect(r.a.EndExecution(50)).To(Succeed())

	lines := bytes.Split(bytes.TrimSpace(r.objects.Bytes()), []byte("\n"))
	g.Expect(lines).To(HaveLen(2))
}
