// Package lockfile guards a destination directory against concurrent mirror
// runs. The lock is a JSON marker file created exclusively; a heartbeat
// refreshes its timestamp so other processes can distinguish an active run
// from the leftovers of a crashed one.
package lockfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
	"pixelgardenlabs.io/pgl-mirror/pkg/util"
)

// LockFileName is the marker file placed in the destination root. The name
// is excluded from mirror cleanup.
const LockFileName = ".~pgl-mirror.lock"

const (
	staleTimeout      = 10 * time.Minute
	heartbeatInterval = time.Minute
)

// LockContent identifies the process holding a lock.
type LockContent struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	App       string    `json:"app"`
	CreatedAt time.Time `json:"createdAt"`
}

// ErrLockActive reports that another live process holds the lock.
type ErrLockActive struct {
	Path    string
	Content LockContent
}

func (e *ErrLockActive) Error() string {
	return fmt.Sprintf("destination is locked by pid %d on %s (lock file %s)",
		e.Content.PID, e.Content.Hostname, e.Path)
}

// Lock is a held destination lock. Release it when the run ends.
type Lock struct {
	path string
	stop chan struct{}
	done chan struct{}

	releaseOnce sync.Once
	releaseErr  error
}

// Acquire takes the lock for the given destination directory. A lock file
// whose timestamp has not been refreshed within the stale timeout is treated
// as abandoned and taken over.
func Acquire(dirPath, app string) (*Lock, error) {
	path := filepath.Join(dirPath, LockFileName)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, util.UserWritableFilePerms)
		if err == nil {
			return writeAndHold(f, path, app)
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file %s: %w", path, err)
		}

		info, statErr := os.Stat(path)
		if statErr != nil {
			if os.IsNotExist(statErr) {
				// Holder released between our create and stat; retry.
				continue
			}
			return nil, fmt.Errorf("failed to inspect lock file %s: %w", path, statErr)
		}
		if time.Since(info.ModTime()) > staleTimeout {
			plog.Warn("Taking over stale lock file", "path", path, "age", time.Since(info.ModTime()).Round(time.Second).String())
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				return nil, fmt.Errorf("failed to remove stale lock file %s: %w", path, rmErr)
			}
			continue
		}

		return nil, &ErrLockActive{Path: path, Content: readContent(path)}
	}
	return nil, fmt.Errorf("failed to acquire lock file %s: kept reappearing", path)
}

func writeAndHold(f *os.File, path, app string) (*Lock, error) {
	hostname, _ := os.Hostname()
	content := LockContent{
		PID:       os.Getpid(),
		Hostname:  hostname,
		App:       app,
		CreatedAt: time.Now(),
	}
	if err := json.NewEncoder(f).Encode(content); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write lock file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to close lock file %s: %w", path, err)
	}

	l := &Lock{
		path: path,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go l.heartbeat()
	return l, nil
}

// readContent is best effort; a lock file we cannot parse is still a lock.
func readContent(path string) LockContent {
	var content LockContent
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &content)
	}
	return content
}

// heartbeat refreshes the lock file timestamp so the lock never looks stale
// while this process lives. Long watch sessions depend on this.
func (l *Lock) heartbeat() {
	defer close(l.done)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			now := time.Now()
			if err := os.Chtimes(l.path, now, now); err != nil {
				plog.Warn("Failed to refresh lock file", "path", l.path, "error", err)
			}
		}
	}
}

// Release stops the heartbeat and removes the lock file. Safe to call more
// than once.
func (l *Lock) Release() error {
	l.releaseOnce.Do(func() {
		close(l.stop)
		<-l.done
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			l.releaseErr = fmt.Errorf("failed to remove lock file %s: %w", l.path, err)
		}
	})
	return l.releaseErr
}
