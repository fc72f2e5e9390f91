package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"pixelgardenlabs.io/pgl-mirror/pkg/buildinfo"
	"pixelgardenlabs.io/pgl-mirror/pkg/config"
	"pixelgardenlabs.io/pgl-mirror/pkg/engine"
	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
	"pixelgardenlabs.io/pgl-mirror/pkg/stash"
)

// action defines a special command to execute instead of a mirror run.
type action int

const (
	actionRunMirror action = iota // The default action is to run the mirror.
	actionShowVersion
	actionInitConfig
)

// init is called before main. We use it to set up a custom, more descriptive
// help message for the command-line flags.
func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s (version %s):\n", buildinfo.Name, buildinfo.Version)
		fmt.Fprintf(flag.CommandLine.Output(), "One-directional live mirroring of a directory tree.\n\n")
		flag.PrintDefaults()
	}
}

// flagValues carries the parsed flags together with the set of flags the
// user explicitly provided, so only those override the loaded configuration.
type flagValues struct {
	used map[string]bool

	source        string
	target        string
	logLevel      string
	dryRun        bool
	once          bool
	modTimeWindow int
	bufferSizeKB  int
	verify        bool
	stashDeleted  bool
	stashFormat   string
	eventWorkers  int
}

// parseFlags defines and parses the command line.
//
// Flags are exposed for options that are useful to override for a single run
// (e.g., -dry-run, -once, -log-level=debug). Long-term options belong in the
// pgl-mirror.config.json file in the destination for predictable behavior.
func parseFlags() (action, flagValues) {
	fv := flagValues{}

	flag.StringVar(&fv.source, "source", "", "Source directory to mirror from.")
	flag.StringVar(&fv.target, "target", "", "Destination directory to mirror into.")
	flag.StringVar(&fv.logLevel, "log-level", "info", "Set the logging level: 'debug', 'info', 'warn', 'error'.")
	flag.BoolVar(&fv.dryRun, "dry-run", false, "Show what would be done without making any changes.")
	flag.BoolVar(&fv.once, "once", false, "Run the initial reconciliation only, without the live watch phase.")
	flag.IntVar(&fv.modTimeWindow, "mod-time-window", 1, "Time window in seconds to consider file modification times equal.")
	flag.IntVar(&fv.bufferSizeKB, "buffer-size-kb", 0, "Size of the I/O buffer in kilobytes for file copies.")
	flag.BoolVar(&fv.verify, "verify", false, "Verify every written file against a checksum of the source.")
	flag.BoolVar(&fv.stashDeleted, "stash-deleted", false, "Archive stale destination entries before the cleanup deletes them.")
	flag.StringVar(&fv.stashFormat, "stash-format", "", "Stash archive compression: 'gzip' or 'zstd'.")
	flag.IntVar(&fv.eventWorkers, "event-workers", 0, "Number of concurrent live event applications.")
	initFlag := flag.Bool("init", false, "Write a pgl-mirror.config.json into the destination and exit.")
	versionFlag := flag.Bool("version", false, "Print the application version and exit.")

	flag.Parse()

	fv.used = make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { fv.used[f.Name] = true })

	if *versionFlag {
		return actionShowVersion, fv
	}
	if *initFlag {
		return actionInitConfig, fv
	}
	return actionRunMirror, fv
}

// applyFlags overlays the explicitly provided flags onto the configuration.
func applyFlags(cfg *config.Config, fv flagValues) error {
	if fv.used["source"] {
		cfg.SourcePath = fv.source
	}
	if fv.used["log-level"] {
		cfg.LogLevel = fv.logLevel
	}
	if fv.used["dry-run"] {
		cfg.DryRun = fv.dryRun
	}
	if fv.used["once"] {
		cfg.Once = fv.once
	}
	if fv.used["mod-time-window"] {
		cfg.ModTimeWindowSec = fv.modTimeWindow
	}
	if fv.used["buffer-size-kb"] {
		cfg.BufferSizeKB = fv.bufferSizeKB
	}
	if fv.used["verify"] {
		cfg.Verify = fv.verify
	}
	if fv.used["stash-deleted"] {
		cfg.StashDeleted = fv.stashDeleted
	}
	if fv.used["event-workers"] {
		cfg.EventWorkers = fv.eventWorkers
	}
	if fv.used["stash-format"] {
		format, err := stash.ParseFormat(fv.stashFormat)
		if err != nil {
			return err
		}
		cfg.StashFormat = format
	}
	return nil
}

// runInit writes a config file into the destination so later runs only need
// the -target flag.
func runInit(fv flagValues) error {
	if fv.target == "" {
		return fmt.Errorf("the -target flag is required for the init operation")
	}
	if fv.source == "" {
		return fmt.Errorf("the -source flag is required for the init operation")
	}

	cfg, err := config.Load(fv.target)
	if err != nil {
		return err
	}
	if err := applyFlags(&cfg, fv); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Save(); err != nil {
		return err
	}
	plog.Info(buildinfo.Name+" target successfully initialized.", "target", cfg.TargetPath)
	return nil
}

// runMirror loads the destination's configuration, overlays the flags, and
// hands off to the engine.
func runMirror(ctx context.Context, fv flagValues) error {
	if fv.target == "" {
		return fmt.Errorf("the -target flag is required to run a mirror")
	}

	cfg, err := config.Load(fv.target)
	if err != nil {
		return fmt.Errorf("failed to load configuration from target: %w", err)
	}
	if err := applyFlags(&cfg, fv); err != nil {
		return err
	}

	plog.SetLevel(plog.LevelFromString(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.LogSummary()

	startTime := time.Now()
	mirrorEngine := engine.New(cfg)
	err = mirrorEngine.Execute(ctx)
	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		return err // The error will be logged with full details by main()
	}
	plog.Info(buildinfo.Name+" finished successfully.", "duration", duration)
	return nil
}

// run encapsulates the main application logic and returns an error if
// something goes wrong, allowing the main function to handle exit codes.
func run(ctx context.Context) error {
	plog.Info("Starting "+buildinfo.Name, "version", buildinfo.Version, "pid", os.Getpid())

	act, fv := parseFlags()

	switch act {
	case actionShowVersion:
		fmt.Printf("%s version %s\n", buildinfo.Name, buildinfo.Version)
		return nil
	case actionInitConfig:
		return runInit(fv)
	case actionRunMirror:
		return runMirror(ctx, fv)
	default:
		return fmt.Errorf("internal error: unknown action %d", act)
	}
}

func main() {
	// Set up a context that is canceled when an interrupt signal is received.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := run(ctx); err != nil {
		plog.Error(buildinfo.Name+" exited with error", "error", err)
		os.Exit(1)
	}
}
