package ingest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/heapscope/heapscope/internal/location"
	"github.com/heapscope/heapscope/internal/pipeline"
)

const sampleTrace = `{"op":"header","format":"1.0.0"}
{"op":"create","site":[1,1],"oid":5,"time":10}
{"op":"unreachable_object","site":[1,2],"oid":5,"time":20}
{"op":"end_last_use"}
{"op":"end_execution","time":30}
`

func TestUploadAnalyzesTrace(t *testing.T) {
	spool := t.TempDir()
	h := &Handler{Reg: location.NewTable(), SpoolDir: spool}

	req := httptest.NewRequest(http.MethodPost, "/v1/traces?name=pageload", strings.NewReader(sampleTrace))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Name    string            `json:"name"`
		Summary *pipeline.Summary `json:"summary"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response: %v", err)
	}
	if resp.Name != "pageload" || resp.Summary.ObjectRecords != 1 {
		t.Fatalf("response: %+v", resp)
	}

	if _, err := os.Stat(filepath.Join(spool, "pageload", pipeline.ObjectsFile)); err != nil {
		t.Fatalf("objects stream missing: %v", err)
	}
}

func TestUploadRejectsBadTrace(t *testing.T) {
	h := &Handler{Reg: location.NewTable(), SpoolDir: t.TempDir()}

	req := httptest.NewRequest(http.MethodPost, "/v1/traces", strings.NewReader("not a trace"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status %d", rr.Code)
	}
}

func TestUploadRejectsBadName(t *testing.T) {
	h := &Handler{Reg: location.NewTable(), SpoolDir: t.TempDir()}

	req := httptest.NewRequest(http.MethodPost, "/v1/traces?name=../evil", strings.NewReader(sampleTrace))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rr.Code)
	}
}

func TestNonUploadPathIs404(t *testing.T) {
	h := &Handler{Reg: location.NewTable(), SpoolDir: t.TempDir()}

	req := httptest.NewRequest(http.MethodGet, "/v1/traces", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status %d", rr.Code)
	}
}
