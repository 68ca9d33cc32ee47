// Package pipeline wires the trace parser to the lifetime analyzer and owns
// the four output streams of a run.
package pipeline

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/heapscope/heapscope/internal/lifetime"
	"github.com/heapscope/heapscope/internal/location"
	"github.com/heapscope/heapscope/internal/trace"
)

// Fixed output file names under the run's output directory.
const (
	ObjectsFile     = "objects.jsonl"
	LastUseFile     = "lastuse.bin"
	UnreachableFile = "unreachable.bin"
	UpdateIIDFile   = "updateiid.bin"
)

// Sizes of the fixed-width binary records.
const (
	timedRecordSize  = 20
	updateRecordSize = 12
)

// countingWriter tracks bytes and newlines written through it.
type countingWriter struct {
	w     io.Writer
	bytes int64
	lines int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.bytes += int64(n)
	for _, b := range p[:n] {
		if b == '\n' {
			c.lines++
		}
	}
	return n, err
}

// Summary reports what a run emitted.
type Summary struct {
	ObjectRecords      int64 `json:"object_records"`
	LastUseRecords     int64 `json:"last_use_records"`
	UnreachableRecords int64 `json:"unreachable_records"`
	UpdateIIDRecords   int64 `json:"update_iid_records"`
	TotalBytes         int64 `json:"total_bytes"`
}

// Outputs owns the four sinks of one analysis run. The analyzer borrows
// them; Outputs buffers, flushes, and closes.
type Outputs struct {
	files   []*os.File
	bufs    []*bufio.Writer
	objects countingWriter
	lastUse countingWriter
	unreach countingWriter
	updates countingWriter
}

// CreateOutputs creates the output directory and the four streams in it.
func CreateOutputs(dir string) (*Outputs, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	o := &Outputs{}
	counters := []*countingWriter{&o.objects, &o.lastUse, &o.unreach, &o.updates}
	for i, name := range []string{ObjectsFile, LastUseFile, UnreachableFile, UpdateIIDFile} {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			o.Close()
			return nil, fmt.Errorf("failed to create %s: %w", name, err)
		}
		buf := bufio.NewWriter(f)
		o.files = append(o.files, f)
		o.bufs = append(o.bufs, buf)
		counters[i].w = buf
	}
	return o, nil
}

// Objects returns the per-object JSON-lines sink.
func (o *Outputs) Objects() io.Writer { return &o.objects }

// LastUse returns the last-use binary sink.
func (o *Outputs) LastUse() io.Writer { return &o.lastUse }

// Unreachable returns the unreachable binary sink.
func (o *Outputs) Unreachable() io.Writer { return &o.unreach }

// UpdateIID returns the update-IID binary sink.
func (o *Outputs) UpdateIID() io.Writer { return &o.updates }

// Flush drains all buffers. Any sink failure is fatal for the run.
func (o *Outputs) Flush() error {
	for _, b := range o.bufs {
		if err := b.Flush(); err != nil {
			return fmt.Errorf("output flush failed: %w", err)
		}
	}
	return nil
}

// Close closes the underlying files. It does not flush.
func (o *Outputs) Close() error {
	var first error
	for _, f := range o.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Summary derives emitted-record counts from the stream sizes.
func (o *Outputs) Summary() *Summary {
	return &Summary{
		ObjectRecords:      o.objects.lines,
		LastUseRecords:     o.lastUse.bytes / timedRecordSize,
		UnreachableRecords: o.unreach.bytes / timedRecordSize,
		UpdateIIDRecords:   o.updates.bytes / updateRecordSize,
		TotalBytes:         o.objects.bytes + o.lastUse.bytes + o.unreach.bytes + o.updates.bytes,
	}
}

// Run streams one trace through a fresh analyzer into out and flushes.
func Run(r io.Reader, reg location.Registry, out *Outputs) (*Summary, error) {
	p, err := trace.NewParser(reg)
	if err != nil {
		return nil, err
	}
	a := lifetime.New(out.Objects(), out.LastUse(), out.Unreachable(), out.UpdateIID())
	if err := p.Run(r, a); err != nil {
		return nil, err
	}
	if err := out.Flush(); err != nil {
		return nil, err
	}
	return out.Summary(), nil
}

// RunFile analyzes the trace at path into dir and reports the summary.
func RunFile(path string, reg location.Registry, dir string) (*Summary, error) {
	f, err := trace.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out, err := CreateOutputs(dir)
	if err != nil {
		return nil, err
	}
	sum, runErr := Run(f.Reader(), reg, out)
	if closeErr := out.Close(); runErr == nil && closeErr != nil {
		runErr = fmt.Errorf("output close failed: %w", closeErr)
	}
	if runErr != nil {
		return nil, runErr
	}
	return sum, nil
}
