// Package watch observes agent worktrees and reports drift: files a unit
// actually modified that its predicted task context never claimed. Drift
// feeds monitoring only; the reservation registries are never updated from
// filesystem events.
package watch

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/forgecrew/wrangler/internal/event"
	"github.com/forgecrew/wrangler/internal/logging"
)

// Drift describes one unit working outside its predicted footprint.
type Drift struct {
	UnitID string
	// Files are the modified paths, relative to the worktree root, that
	// the unit's task context did not predict.
	Files []string
	// LastModified is when drift for this unit was last observed.
	LastModified time.Time
}

type watchedUnit struct {
	worktree  string
	predicted map[string]struct{}
	modified  map[string]time.Time
}

// Watcher tracks file modifications per watched unit worktree.
type Watcher struct {
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	units    map[string]*watchedUnit // unitID -> state
	ignore   []string
	debounce time.Duration
	onDrift  func(Drift)

	log    *logging.Logger
	bus    *event.Bus
	stopCh chan struct{}
}

// New creates a Watcher. bus may be nil; a debounce of 0 uses 50ms.
func New(log *logging.Logger, bus *event.Bus, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.NopLogger()
	}
	if debounce <= 0 {
		debounce = 50 * time.Millisecond
	}
	return &Watcher{
		watcher:  fsw,
		units:    make(map[string]*watchedUnit),
		ignore:   []string{".git", ".wrangler", "node_modules", ".DS_Store"},
		debounce: debounce,
		log:      log,
		bus:      bus,
		stopCh:   make(chan struct{}),
	}, nil
}

// SetDriftCallback registers a callback invoked when drift is detected.
func (w *Watcher) SetDriftCallback(cb func(Drift)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onDrift = cb
}

// AddUnit starts watching a unit's worktree. predictedFiles is the task
// context's file set; modifications outside it count as drift.
func (w *Watcher) AddUnit(unitID, worktree string, predictedFiles []string) error {
	predicted := make(map[string]struct{}, len(predictedFiles))
	for _, f := range predictedFiles {
		predicted[filepath.ToSlash(f)] = struct{}{}
	}

	w.mu.Lock()
	w.units[unitID] = &watchedUnit{
		worktree:  worktree,
		predicted: predicted,
		modified:  make(map[string]time.Time),
	}
	w.mu.Unlock()

	if err := w.watcher.Add(worktree); err != nil {
		return err
	}
	return w.watchDirRecursive(worktree)
}

// watchDirRecursive adds all subdirectories; fsnotify only watches dirs.
func (w *Watcher) watchDirRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		base := filepath.Base(path)
		for _, ignore := range w.ignore {
			if base == ignore {
				return filepath.SkipDir
			}
		}
		if info.IsDir() {
			_ = w.watcher.Add(path)
		}
		return nil
	})
}

// RemoveUnit stops watching a unit's worktree and drops its records.
func (w *Watcher) RemoveUnit(unitID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	wu, ok := w.units[unitID]
	if !ok {
		return
	}
	_ = w.watcher.Remove(wu.worktree)
	delete(w.units, unitID)
}

// ModifiedFiles returns the files a unit has touched so far, relative to
// its worktree.
func (w *Watcher) ModifiedFiles(unitID string) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	wu, ok := w.units[unitID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(wu.modified))
	for f := range wu.modified {
		out = append(out, f)
	}
	return out
}

// DriftFor returns the current drift for a unit, if any.
func (w *Watcher) DriftFor(unitID string) (Drift, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.driftLocked(unitID)
}

func (w *Watcher) driftLocked(unitID string) (Drift, bool) {
	wu, ok := w.units[unitID]
	if !ok {
		return Drift{}, false
	}

	var files []string
	var last time.Time
	for f, at := range wu.modified {
		if _, predicted := wu.predicted[f]; predicted {
			continue
		}
		files = append(files, f)
		if at.After(last) {
			last = at
		}
	}
	if len(files) == 0 {
		return Drift{}, false
	}
	return Drift{UnitID: unitID, Files: files, LastModified: last}, true
}

// Start begins processing filesystem events.
func (w *Watcher) Start() {
	go w.watchLoop()
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() {
	close(w.stopCh)
	_ = w.watcher.Close()
}

// watchLoop debounces bursts of editor events before recording them.
func (w *Watcher) watchLoop() {
	debounce := time.NewTimer(0)
	<-debounce.C

	pending := make(map[string]fsnotify.Event)
	var pendingMu sync.Mutex

	for {
		select {
		case <-w.stopCh:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pendingMu.Lock()
			pending[ev.Name] = ev
			pendingMu.Unlock()
			debounce.Reset(w.debounce)

		case <-debounce.C:
			pendingMu.Lock()
			events := pending
			pending = make(map[string]fsnotify.Event)
			pendingMu.Unlock()
			for _, ev := range events {
				w.record(ev.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

// record attributes one modified path to its watched unit and re-evaluates
// drift.
func (w *Watcher) record(path string) {
	for _, ignore := range w.ignore {
		sep := string(filepath.Separator)
		if strings.Contains(path, sep+ignore+sep) ||
			strings.HasSuffix(path, sep+ignore) ||
			filepath.Base(path) == ignore {
			return
		}
	}

	w.mu.Lock()
	var unitID string
	var rel string
	for id, wu := range w.units {
		if strings.HasPrefix(path, wu.worktree) {
			unitID = id
			rel, _ = filepath.Rel(wu.worktree, path)
			break
		}
	}
	if unitID == "" {
		w.mu.Unlock()
		return
	}
	rel = filepath.ToSlash(rel)
	w.units[unitID].modified[rel] = time.Now()

	drift, drifted := w.driftLocked(unitID)
	cb := w.onDrift
	w.mu.Unlock()

	if !drifted {
		return
	}
	w.log.WithUnit(unitID).Warn("unit drifted outside predicted files",
		"files", drift.Files)
	if w.bus != nil {
		w.bus.Publish(event.NewDriftDetectedEvent(unitID, drift.Files))
	}
	if cb != nil {
		cb(drift)
	}
}
