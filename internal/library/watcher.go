package library

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// watcher keeps the search index in sync with filesystem changes under
// the library root. Events are debounced so editors that write in bursts
// trigger one reindex.
type watcher struct {
	root    string
	index   *searchIndex
	fsw     *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	pending map[string]bool
}

func newWatcher(root string, index *searchIndex) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &watcher{
		root:    root,
		index:   index,
		fsw:     fsw,
		done:    make(chan struct{}),
		pending: make(map[string]bool),
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if err := fsw.Add(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Cannot watch library directory")
		}
		return nil
	})
	if err != nil {
		fsw.Close()
		return nil, err
	}

	w.wg.Add(2)
	go w.eventLoop()
	go w.flushLoop()
	return w, nil
}

func (w *watcher) close() {
	close(w.done)
	w.fsw.Close()
	w.wg.Wait()
}

func (w *watcher) eventLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.fsw.Add(event.Name); err != nil {
						log.Warn().Err(err).Str("path", event.Name).Msg("Cannot watch library directory")
					}
					continue
				}
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.mu.Lock()
				w.pending[event.Name] = true
				w.mu.Unlock()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Library watcher error")
		}
	}
}

func (w *watcher) flushLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.Lock()
			if len(w.pending) == 0 {
				w.mu.Unlock()
				continue
			}
			paths := make([]string, 0, len(w.pending))
			for path := range w.pending {
				paths = append(paths, path)
			}
			w.pending = make(map[string]bool)
			w.mu.Unlock()

			for _, path := range paths {
				w.index.update(path)
			}
		}
	}
}
