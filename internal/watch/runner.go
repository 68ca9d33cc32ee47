package watch

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/heapscope/heapscope/internal/location"
	"github.com/heapscope/heapscope/internal/pipeline"
)

// Runner analyzes every trace a Watcher reports. Output for <name>.trace
// goes to <OutDir>/<name>/.
type Runner struct {
	Reg    location.Registry
	OutDir string

	// OnRun, when set, observes each completed analysis.
	OnRun func(trace string, sum *pipeline.Summary, err error)
}

// Watch blocks until ctx is done, re-analyzing settled traces under dir.
func (r *Runner) Watch(ctx context.Context, dir string) error {
	w, err := NewWatcher(dir, DefaultSettle)
	if err != nil {
		return err
	}
	defer w.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-w.Err():
			return err
		case path := <-w.Changes():
			r.runOne(path)
		}
	}
}

func (r *Runner) runOne(path string) {
	name := strings.TrimSuffix(filepath.Base(path), TraceExt)
	sum, err := pipeline.RunFile(path, r.Reg, filepath.Join(r.OutDir, name))
	if r.OnRun != nil {
		r.OnRun(path, sum, err)
	}
}
