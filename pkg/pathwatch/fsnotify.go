package pathwatch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
)

// fsnotifySession implements Session on top of fsnotify. The underlying API
// watches single directories only, so the session maintains a watch per
// directory in the tree and extends the set when new directories appear.
type fsnotifySession struct {
	root    string
	watcher *fsnotify.Watcher

	events chan Event
	errs   chan error
	done   chan struct{}

	// watchedDirs distinguishes directory removals from file removals;
	// fsnotify remove events carry no type. Touched only by the run
	// goroutine.
	watchedDirs map[string]struct{}

	closeOnce sync.Once
	closeErr  error
}

// Open starts a watch session over the given source root. The initial scan
// runs asynchronously; consume Events until Ready to observe it.
func Open(root string) (Session, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}

	s := &fsnotifySession{
		root:        filepath.Clean(root),
		watcher:     watcher,
		events:      make(chan Event, 64),
		errs:        make(chan error, 8),
		done:        make(chan struct{}),
		watchedDirs: make(map[string]struct{}),
	}
	go s.run()
	return s, nil
}

func (s *fsnotifySession) Events() <-chan Event { return s.events }
func (s *fsnotifySession) Errors() <-chan error { return s.errs }

func (s *fsnotifySession) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = s.watcher.Close()
	})
	return s.closeErr
}

func (s *fsnotifySession) run() {
	defer close(s.events)
	defer close(s.errs)

	s.scanTree(s.root, false)
	s.emit(Event{Type: Ready})

	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handle(ev)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.reportError(err)
		}
	}
}

// scanTree walks a directory tree, registering a watch for every directory
// and emitting an event per entry. With emitRoot the tree's own root is
// reported too, which is what a live directory creation needs; the initial
// scan leaves the session root unreported since it is not an entry.
func (s *fsnotifySession) scanTree(root string, emitRoot bool) {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Entries can vanish between listing and visiting; a live
			// tree is allowed to shift under the scan.
			plog.Debug("Skipping unreadable entry during watch scan", "path", path, "error", err)
			return nil
		}
		switch {
		case d.IsDir():
			if err := s.watcher.Add(path); err != nil {
				s.reportError(fmt.Errorf("failed to watch directory %s: %w", path, err))
				return filepath.SkipDir
			}
			s.watchedDirs[path] = struct{}{}
			if emitRoot || path != root {
				s.emit(Event{Type: AddedDir, Path: path})
			}
		case d.Type().IsRegular():
			s.emit(Event{Type: Added, Path: path})
		}
		return nil
	})
	if err != nil {
		s.reportError(fmt.Errorf("watch scan of %s failed: %w", root, err))
	}
}

func (s *fsnotifySession) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)

	switch {
	case ev.Op.Has(fsnotify.Create):
		info, err := os.Lstat(path)
		if err != nil {
			// Created and already gone; the removal event will follow.
			return
		}
		if info.IsDir() {
			// Contents created before the watch landed are picked up by
			// the scan rather than by notifications.
			s.scanTree(path, true)
		} else if info.Mode().IsRegular() {
			s.emit(Event{Type: Added, Path: path})
		}

	case ev.Op.Has(fsnotify.Write):
		s.emit(Event{Type: Changed, Path: path})

	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		if _, ok := s.watchedDirs[path]; ok {
			s.forgetTree(path)
			s.emit(Event{Type: RemovedDir, Path: path})
		} else {
			s.emit(Event{Type: Removed, Path: path})
		}
	}
}

// forgetTree drops the bookkeeping for a removed directory and everything
// beneath it. The kernel-side watches die with the inodes.
func (s *fsnotifySession) forgetTree(dir string) {
	delete(s.watchedDirs, dir)
	prefix := dir + string(filepath.Separator)
	for watched := range s.watchedDirs {
		if strings.HasPrefix(watched, prefix) {
			delete(s.watchedDirs, watched)
		}
	}
}

func (s *fsnotifySession) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *fsnotifySession) reportError(err error) {
	select {
	case s.errs <- err:
	default:
		plog.Debug("Dropping watcher error, consumer is behind", "error", err)
	}
}
