package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewVersionInfoReportsTraceFormats(t *testing.T) {
	info := NewVersionInfo("heapscope")
	if info.Tool != "heapscope" || info.Version != Version {
		t.Fatalf("info: %+v", info)
	}
	if info.TraceFormats == "" {
		t.Fatalf("trace format constraint missing")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OutputDir != "." || cfg.Verbose || cfg.SourceMap != "" {
		t.Fatalf("defaults: %+v", cfg)
	}
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heapscope.json")
	if err := os.WriteFile(path, []byte(`{"output_dir":"out","outdir":"typo"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error for unknown key")
	}
}

func TestLoadConfigRejectsMissingSourceMap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "heapscope.json")
	body := `{"source_map":"` + filepath.ToSlash(filepath.Join(dir, "nope.map")) + `"}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "source map") {
		t.Fatalf("expected source-map error, got %v", err)
	}
}

func TestLoadConfigRejectsMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
