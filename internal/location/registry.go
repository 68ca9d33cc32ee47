package location

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
)

// Registry resolves a SourceLocID to a printable form. Implementations are
// shared by reference with the analyzer and must not change for its lifetime.
type Registry interface {
	Resolve(SourceLocID) string
}

// SourceMap is the JSON sidecar emitted alongside a trace, mapping file ids
// to the paths of the instrumented scripts.
type SourceMap struct {
	Version int               `json:"version"`
	Files   map[string]string `json:"files"`
}

// Table is a Registry backed by an optional SourceMap. With no map loaded it
// formats locations numerically as "<file>:<iid>".
type Table struct {
	files map[int32]string
}

// NewTable returns an empty Table resolving every location numerically.
func NewTable() *Table {
	return &Table{}
}

// LoadTable reads a SourceMap sidecar from path and builds a Table from it.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source map: %w", err)
	}
	var sm SourceMap
	if err := json.Unmarshal(data, &sm); err != nil {
		return nil, fmt.Errorf("failed to parse source map: %w", err)
	}
	t := NewTable()
	for id, file := range sm.Files {
		n, err := strconv.ParseInt(id, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bad file id %q in source map: %w", id, err)
		}
		t.AddFile(int32(n), file)
	}
	return t, nil
}

// AddFile registers the path of a file id.
func (t *Table) AddFile(id int32, path string) {
	if t.files == nil {
		t.files = make(map[int32]string)
	}
	t.files[id] = path
}

// Resolve implements Registry. Sentinels resolve to their fixed strings; a
// mapped file id resolves to "<path>:<iid>", anything else numerically.
func (t *Table) Resolve(l SourceLocID) string {
	if l.IsSentinel() {
		return l.String()
	}
	if path, ok := t.files[l.FileID]; ok {
		return fmt.Sprintf("%s:%d", path, l.IID)
	}
	return l.String()
}

// Files returns the registered file ids in ascending order.
func (t *Table) Files() []int32 {
	ids := make([]int32, 0, len(t.files))
	for id := range t.files {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
