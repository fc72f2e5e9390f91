package main

import (
	"io"
	"os"
	"testing"

	"pixelgardenlabs.io/pgl-mirror/pkg/config"
	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
	"pixelgardenlabs.io/pgl-mirror/pkg/stash"
)

func TestMain(m *testing.M) {
	plog.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func TestApplyFlagsOverridesOnlyUsedFlags(t *testing.T) {
	cfg := config.Default()
	cfg.SourcePath = "/from/config"
	cfg.EventWorkers = 2

	fv := flagValues{
		used:         map[string]bool{"source": true, "verify": true},
		source:       "/from/flag",
		verify:       true,
		eventWorkers: 16, // not marked used, must not apply
	}
	if err := applyFlags(&cfg, fv); err != nil {
		t.Fatalf("applyFlags failed: %v", err)
	}

	if cfg.SourcePath != "/from/flag" {
		t.Errorf("SourcePath = %q, want flag value", cfg.SourcePath)
	}
	if !cfg.Verify {
		t.Error("Verify flag was not applied")
	}
	if cfg.EventWorkers != 2 {
		t.Errorf("EventWorkers = %d, unused flag must not override config", cfg.EventWorkers)
	}
}

func TestApplyFlagsParsesStashFormat(t *testing.T) {
	cfg := config.Default()
	fv := flagValues{
		used:        map[string]bool{"stash-format": true},
		stashFormat: "zstd",
	}
	if err := applyFlags(&cfg, fv); err != nil {
		t.Fatalf("applyFlags failed: %v", err)
	}
	if cfg.StashFormat != stash.FormatZstd {
		t.Errorf("StashFormat = %v, want zstd", cfg.StashFormat)
	}

	fv.stashFormat = "lzma"
	if err := applyFlags(&cfg, fv); err == nil {
		t.Error("expected error for invalid stash format")
	}
}

func TestRunInitRequiresPaths(t *testing.T) {
	if err := runInit(flagValues{used: map[string]bool{}}); err == nil {
		t.Error("expected error when target is missing")
	}
	if err := runInit(flagValues{used: map[string]bool{}, target: t.TempDir()}); err == nil {
		t.Error("expected error when source is missing")
	}
}

func TestRunInitWritesConfig(t *testing.T) {
	src := t.TempDir()
	target := t.TempDir()
	fv := flagValues{
		used:   map[string]bool{"source": true, "verify": true},
		source: src,
		target: target,
		verify: true,
	}
	if err := runInit(fv); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	cfg, err := config.Load(target)
	if err != nil {
		t.Fatalf("loading written config failed: %v", err)
	}
	if cfg.SourcePath != src || !cfg.Verify {
		t.Errorf("written config lost values: %+v", cfg)
	}
}
