package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/heapscope/heapscope/internal/location"
	"github.com/heapscope/heapscope/internal/pipeline"
)

const sampleTrace = `{"op":"header","format":"1.0.0"}
{"op":"create","site":[1,1],"oid":5,"time":10}
{"op":"unreachable_object","site":[1,2],"oid":5,"time":20}
{"op":"end_last_use"}
{"op":"end_execution","time":30}
`

func TestWatcherReportsSettledTrace(t *testing.T) {
	spool := t.TempDir()
	w, err := NewWatcher(spool, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("watcher: %v", err)
	}
	defer w.Close()

	// Give the watcher time to register before dropping the trace.
	time.Sleep(200 * time.Millisecond)
	path := filepath.Join(spool, "pageload.trace")
	if err := os.WriteFile(path, []byte(sampleTrace), 0o644); err != nil {
		t.Fatalf("write trace: %v", err)
	}

	select {
	case got := <-w.Changes():
		if got != path {
			t.Fatalf("reported %q want %q", got, path)
		}
	case err := <-w.Err():
		t.Fatalf("watch error: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatalf("trace never reported")
	}
}

func TestWatcherIgnoresNonTraceFiles(t *testing.T) {
	spool := t.TempDir()
	w, err := NewWatcher(spool, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("watcher: %v", err)
	}
	defer w.Close()

	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(spool, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case got := <-w.Changes():
		t.Fatalf("unexpected report: %q", got)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestRunnerAnalyzesDroppedTrace(t *testing.T) {
	spool := t.TempDir()
	outDir := t.TempDir()

	done := make(chan error, 1)
	r := &Runner{
		Reg:    location.NewTable(),
		OutDir: outDir,
		OnRun: func(trace string, sum *pipeline.Summary, err error) {
			done <- err
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go r.Watch(ctx, spool)

	time.Sleep(200 * time.Millisecond)
	path := filepath.Join(spool, "pageload.trace")
	if err := os.WriteFile(path, []byte(sampleTrace), 0o644); err != nil {
		t.Fatalf("write trace: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("analysis failed: %v", err)
		}
	case <-ctx.Done():
		t.Fatalf("analysis never ran")
	}

	if _, err := os.Stat(filepath.Join(outDir, "pageload", pipeline.ObjectsFile)); err != nil {
		t.Fatalf("objects stream missing: %v", err)
	}
}
