package pathwatch

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
)

func TestMain(m *testing.M) {
	plog.SetOutput(io.Discard)
	os.Exit(m.Run())
}

const eventTimeout = 5 * time.Second

// collectUntilReady drains the event stream up to and including the Ready
// marker and returns everything before it.
func collectUntilReady(t *testing.T, s Session) []Event {
	t.Helper()
	var events []Event
	deadline := time.After(eventTimeout)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				t.Fatal("event stream closed before Ready")
			}
			if ev.Type == Ready {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for Ready, saw %v", events)
		}
	}
}

// waitFor reads events until one matches or the timeout expires.
func waitFor(t *testing.T, s Session, want EventType, wantPath string) {
	t.Helper()
	deadline := time.After(eventTimeout)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				t.Fatalf("event stream closed while waiting for %v %s", want, wantPath)
			}
			if ev.Type == want && ev.Path == wantPath {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v %s", want, wantPath)
		}
	}
}

func TestSessionScanReportsExistingEntries(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("b"), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(root)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	events := collectUntilReady(t, s)
	seen := make(map[string]EventType, len(events))
	for _, ev := range events {
		seen[ev.Path] = ev.Type
	}

	want := map[string]EventType{
		filepath.Join(root, "a.txt"):        Added,
		filepath.Join(root, "sub"):          AddedDir,
		filepath.Join(root, "sub", "b.txt"): Added,
	}
	for path, wantType := range want {
		if gotType, ok := seen[path]; !ok || gotType != wantType {
			t.Errorf("scan did not report %s as %v (got %v, present=%v)", path, wantType, gotType, ok)
		}
	}
	if len(events) != len(want) {
		t.Errorf("scan reported %d events, want %d: %v", len(events), len(want), events)
	}
}

func TestSessionReportsLiveChanges(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()
	collectUntilReady(t, s)

	file := filepath.Join(root, "live.txt")
	if err := os.WriteFile(file, []byte("v1"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, s, Added, file)

	if err := os.WriteFile(file, []byte("v2 longer"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, s, Changed, file)

	if err := os.Remove(file); err != nil {
		t.Fatal(err)
	}
	waitFor(t, s, Removed, file)
}

func TestSessionWatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()
	collectUntilReady(t, s)

	sub := filepath.Join(root, "sub")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	waitFor(t, s, AddedDir, sub)

	// The new directory must itself be watched now.
	inner := filepath.Join(sub, "inner.txt")
	if err := os.WriteFile(inner, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, s, Added, inner)

	if err := os.RemoveAll(sub); err != nil {
		t.Fatal(err)
	}
	waitFor(t, s, RemovedDir, sub)
}

func TestSessionCloseEndsStream(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	collectUntilReady(t, s)

	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	// Closing twice must be safe.
	if err := s.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	deadline := time.After(eventTimeout)
	for {
		select {
		case _, ok := <-s.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event stream did not close after Close")
		}
	}
}
