package location

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveNumericWithoutSourceMap(t *testing.T) {
	tab := NewTable()
	if got := tab.Resolve(SourceLocID{FileID: 3, IID: 17}); got != "3:17" {
		t.Fatalf("resolve: %q", got)
	}
}

func TestSentinels(t *testing.T) {
	tab := NewTable()
	if got := tab.Resolve(Unknown); got != "unknown" {
		t.Fatalf("unknown: %q", got)
	}
	if got := tab.Resolve(RemoveFromDOM); got != "removed from DOM" {
		t.Fatalf("remove sentinel: %q", got)
	}
	if !Unknown.IsSentinel() || !RemoveFromDOM.IsSentinel() {
		t.Fatalf("sentinels not flagged")
	}
	if (SourceLocID{FileID: 0, IID: 0}).IsSentinel() {
		t.Fatalf("file 0 flagged as sentinel")
	}
}

func TestLoadTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.map")
	sidecar := `{"version":1,"files":{"1":"app.js","2":"lib/vendor.js"}}`
	if err := os.WriteFile(path, []byte(sidecar), 0o644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}

	tab, err := LoadTable(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := tab.Resolve(SourceLocID{FileID: 2, IID: 44}); got != "lib/vendor.js:44" {
		t.Fatalf("resolve mapped: %q", got)
	}
	if got := tab.Resolve(SourceLocID{FileID: 9, IID: 1}); got != "9:1" {
		t.Fatalf("resolve unmapped: %q", got)
	}
	if ids := tab.Files(); len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("files: %v", ids)
	}
}

func TestLoadTableRejectsBadFileID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.map")
	if err := os.WriteFile(path, []byte(`{"files":{"x":"app.js"}}`), 0o644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}
	if _, err := LoadTable(path); err == nil {
		t.Fatalf("expected error for non-numeric file id")
	}
}
