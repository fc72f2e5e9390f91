package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWithUserWritePermission(t *testing.T) {
	tests := []struct {
		name string
		in   os.FileMode
		want os.FileMode
	}{
		{"ReadOnly", 0444, 0644},
		{"AlreadyWritable", 0644, 0644},
		{"Zero", 0000, 0200},
		{"FullDir", 0755, 0755},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := WithUserWritePermission(tc.in); got != tc.want {
				t.Errorf("WithUserWritePermission(%o) = %o, want %o", tc.in, got, tc.want)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory available: %v", err)
	}

	got, err := ExpandPath("~/mirror")
	if err != nil {
		t.Fatalf("ExpandPath failed: %v", err)
	}
	want := filepath.Join(home, "mirror")
	if got != want {
		t.Errorf("ExpandPath(~/mirror) = %q, want %q", got, want)
	}

	// Paths without a tilde pass through untouched.
	got, err = ExpandPath("/var/data")
	if err != nil {
		t.Fatalf("ExpandPath failed: %v", err)
	}
	if got != "/var/data" {
		t.Errorf("ExpandPath(/var/data) = %q, want unchanged", got)
	}
}

func TestInvertMap(t *testing.T) {
	m := map[int]string{1: "one", 2: "two"}
	inv := InvertMap(m)
	if len(inv) != 2 || inv["one"] != 1 || inv["two"] != 2 {
		t.Errorf("InvertMap returned %v", inv)
	}
}
