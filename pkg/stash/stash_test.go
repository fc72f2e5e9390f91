package stash

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
)

func TestMain(m *testing.M) {
	plog.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"gzip", FormatGzip, false},
		{"ZSTD", FormatZstd, false},
		{" zstd ", FormatZstd, false},
		{"lzma", FormatGzip, true},
	}
	for _, tc := range tests {
		got, err := ParseFormat(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseFormat(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("ParseFormat(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
	}
}

func writeEntry(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// readArchive returns a map of tar entry name to content.
func readArchive(t *testing.T, path string, format Format) map[string]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open archive: %v", err)
	}
	defer f.Close()

	var r io.Reader
	switch format {
	case FormatZstd:
		dec, err := zstd.NewReader(f)
		if err != nil {
			t.Fatalf("failed to open zstd stream: %v", err)
		}
		defer dec.Close()
		r = dec
	default:
		gz, err := pgzip.NewReader(f)
		if err != nil {
			t.Fatalf("failed to open gzip stream: %v", err)
		}
		defer gz.Close()
		r = gz
	}

	entries := make(map[string]string)
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("failed to read tar entry: %v", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("failed to read tar contents: %v", err)
		}
		entries[hdr.Name] = string(data)
	}
	return entries
}

func TestWriter(t *testing.T) {
	for _, format := range []Format{FormatGzip, FormatZstd} {
		t.Run(format.String(), func(t *testing.T) {
			dst := t.TempDir()
			writeEntry(t, filepath.Join(dst, "stale.txt"), "old file")
			writeEntry(t, filepath.Join(dst, "staleDir", "deep", "x.txt"), "nested")

			w := NewWriter(dst, format)
			if err := w.Stash(filepath.Join(dst, "stale.txt"), "stale.txt"); err != nil {
				t.Fatalf("Stash file failed: %v", err)
			}
			if err := w.Stash(filepath.Join(dst, "staleDir"), "staleDir"); err != nil {
				t.Fatalf("Stash directory failed: %v", err)
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			if w.ArchivePath() == "" {
				t.Fatal("ArchivePath is empty after stashing")
			}
			entries := readArchive(t, w.ArchivePath(), format)
			if entries["stale.txt"] != "old file" {
				t.Errorf("stale.txt content = %q", entries["stale.txt"])
			}
			if entries["staleDir/deep/x.txt"] != "nested" {
				t.Errorf("nested content = %q", entries["staleDir/deep/x.txt"])
			}
			if _, ok := entries["staleDir/"]; !ok {
				t.Error("directory header missing from archive")
			}
		})
	}
}

func TestWriterWithoutEntriesLeavesNoArchive(t *testing.T) {
	dst := t.TempDir()
	w := NewWriter(dst, FormatGzip)
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if w.ArchivePath() != "" {
		t.Errorf("ArchivePath = %q, want empty", w.ArchivePath())
	}
	if _, err := os.Stat(filepath.Join(dst, DirName)); !os.IsNotExist(err) {
		t.Error("stash directory was created for an empty run")
	}
}
