//go:build unix

package trace

import (
	"bytes"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// File is a read-only view of a trace file. On Unix the file is memory
// mapped; traces from long sessions run to gigabytes and the parser only
// streams forward over them once.
type File struct {
	data   []byte
	mapped bool
}

// Open maps path read-only. Empty files map to an empty view.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat trace: %w", err)
	}
	if st.Size() == 0 {
		return &File{}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("failed to map trace: %w", err)
	}
	return &File{data: data, mapped: true}, nil
}

// Reader returns a reader over the mapped bytes. It stays valid until Close.
func (f *File) Reader() *bytes.Reader {
	return bytes.NewReader(f.data)
}

// Size returns the trace length in bytes.
func (f *File) Size() int { return len(f.data) }

// Close unmaps the view.
func (f *File) Close() error {
	if !f.mapped {
		return nil
	}
	f.mapped = false
	data := f.data
	f.data = nil
	return unix.Munmap(data)
}
