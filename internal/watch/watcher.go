// Package watch re-runs trace analysis when trace files change on disk.
package watch

import (
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// TraceExt is the file suffix a watcher considers a trace.
const TraceExt = ".trace"

// DefaultSettle is how long a trace must go unwritten before it is reported.
// Instrumented runtimes append for the whole page lifetime; a burst of
// writes collapses into one report.
const DefaultSettle = 500 * time.Millisecond

// Watcher observes a spool directory and reports the path of a trace file
// once its writer has gone quiet. Only creations and writes of *.trace
// files count; everything else in the directory is ignored.
type Watcher struct {
	fw      *fsnotify.Watcher
	settle  time.Duration
	changes chan string
	errs    chan error
	done    chan struct{}
	once    sync.Once
}

// NewWatcher starts watching dir. A non-positive settle means
// DefaultSettle.
func NewWatcher(dir string, settle time.Duration) (*Watcher, error) {
	if settle <= 0 {
		settle = DefaultSettle
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{
		fw:      fw,
		settle:  settle,
		changes: make(chan string, 16),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	// Last write seen per pending trace; a path is reported once its
	// entry is older than the settle window.
	pending := make(map[string]time.Time)
	tick := time.NewTicker(w.settle / 2)
	defer tick.Stop()

	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !strings.HasSuffix(ev.Name, TraceExt) {
				continue
			}
			pending[ev.Name] = time.Now()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		case now := <-tick.C:
			for path, last := range pending {
				if now.Sub(last) < w.settle {
					continue
				}
				delete(pending, path)
				select {
				case w.changes <- path:
				case <-w.done:
					return
				}
			}
		}
	}
}

// Changes delivers settled trace paths.
func (w *Watcher) Changes() <-chan string { return w.changes }

// Err delivers the first filesystem-notification failure, if any.
func (w *Watcher) Err() <-chan error { return w.errs }

// Close stops the watcher. Pending, not-yet-settled traces are dropped.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fw.Close()
	})
	return err
}
