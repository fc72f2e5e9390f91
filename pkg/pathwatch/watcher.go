// Package pathwatch turns raw filesystem notifications into a typed event
// stream over a watched source tree. A session begins with a scan that
// reports every pre-existing entry, followed by a single Ready marker;
// everything after Ready is a live change.
package pathwatch

// EventType classifies what happened to a watched path.
type EventType int

const (
	// Added reports a file, either pre-existing at scan time or newly created.
	Added EventType = iota
	// AddedDir reports a directory, pre-existing or newly created.
	AddedDir
	// Changed reports a content modification of an existing file.
	Changed
	// Removed reports a deleted or renamed-away file.
	Removed
	// RemovedDir reports a deleted or renamed-away directory.
	RemovedDir
	// Ready marks the end of the initial scan. Emitted exactly once per
	// session; it carries no path.
	Ready
)

func (t EventType) String() string {
	switch t {
	case Added:
		return "added"
	case AddedDir:
		return "addedDir"
	case Changed:
		return "changed"
	case Removed:
		return "removed"
	case RemovedDir:
		return "removedDir"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// Event is one observation on the watched tree. Path is absolute and empty
// for Ready.
type Event struct {
	Type EventType
	Path string
}

// Session is a live watch over a source tree. Events is closed when the
// session ends; Errors carries non-fatal watcher problems.
type Session interface {
	Events() <-chan Event
	Errors() <-chan error
	Close() error
}
