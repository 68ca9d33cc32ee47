package ingest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"regexp"
	"sync/atomic"

	"github.com/heapscope/heapscope/internal/location"
	"github.com/heapscope/heapscope/internal/pipeline"
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// Handler accepts trace uploads on POST /v1/traces and runs each through the
// analysis pipeline into its own output directory under SpoolDir. It is a
// plain http.Handler, independent of the transport serving it.
type Handler struct {
	Reg      location.Registry
	SpoolDir string

	seq atomic.Uint64
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/v1/traces" {
		http.NotFound(w, r)
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		name = fmt.Sprintf("upload-%06d", h.seq.Add(1))
	} else if !nameRe.MatchString(name) {
		http.Error(w, "invalid trace name", http.StatusBadRequest)
		return
	}

	dir := filepath.Join(h.SpoolDir, name)
	out, err := pipeline.CreateOutputs(dir)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sum, runErr := pipeline.Run(r.Body, h.Reg, out)
	if closeErr := out.Close(); runErr == nil && closeErr != nil {
		runErr = closeErr
	}
	if runErr != nil {
		http.Error(w, runErr.Error(), http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"name":    name,
		"summary": sum,
	})
}
