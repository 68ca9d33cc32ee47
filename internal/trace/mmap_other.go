//go:build !unix

package trace

import (
	"bytes"
	"fmt"
	"os"
)

// File is a read-only view of a trace file. Platforms without mmap support
// fall back to reading the whole file.
type File struct {
	data []byte
}

// Open reads path into memory.
func Open(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}
	return &File{data: data}, nil
}

// Reader returns a reader over the file contents.
func (f *File) Reader() *bytes.Reader {
	return bytes.NewReader(f.data)
}

// Size returns the trace length in bytes.
func (f *File) Size() int { return len(f.data) }

// Close releases the buffer.
func (f *File) Close() error {
	f.data = nil
	return nil
}
