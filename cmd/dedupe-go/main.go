package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dedupe-go/internal/config"
	"dedupe-go/internal/engine"
	"dedupe-go/internal/logging"
	"dedupe-go/internal/metrics"
	"dedupe-go/internal/progress"
	"dedupe-go/internal/report"
)

// errCancelled marks a run stopped by an interrupt after its state was saved.
var errCancelled = errors.New("run cancelled")

type cliFlags struct {
	configPath         string
	root               string
	candidates         string
	destination        string
	stateFile          string
	resume             bool
	skipScan           bool
	findDupes          bool
	checkpointInterval int
	metricsFile        string
	logLevel           string
	logFormat          string
	quiet              bool
}

func (f *cliFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.configPath, "config", "c", "dedupe.yaml", "Config file path")
	fs.StringVarP(&f.root, "root", "r", "", "Directory to scan (originals)")
	fs.StringVar(&f.candidates, "duplicate-candidates", "", "Second directory searched for copies of files in root")
	fs.StringVarP(&f.destination, "destination", "d", "", "Directory receiving relocated duplicates")
	fs.StringVarP(&f.stateFile, "state", "s", config.DefaultStateFile, "Snapshot file path")
	fs.BoolVar(&f.resume, "resume", false, "Load the snapshot before scanning")
	fs.BoolVar(&f.skipScan, "skip-scan", false, "Do not walk the filesystem, only hash what the snapshot lists")
	fs.BoolVar(&f.findDupes, "find-dupes-in-originals", false, "Relocate duplicates found inside the originals tree")
	fs.IntVar(&f.checkpointInterval, "checkpoint-interval", config.DefaultCheckpointInterval, "Hashed files between snapshot writes")
	fs.StringVar(&f.metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile after the run")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.logFormat, "log-format", "", "Log format (console, json)")
	fs.BoolVarP(&f.quiet, "quiet", "q", false, "Disable the progress bar")
}

// apply overrides config file values with the flags given on the command line.
func (f *cliFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("root") {
		cfg.Root = f.root
	}
	if fs.Changed("duplicate-candidates") {
		cfg.DuplicateCandidates = f.candidates
	}
	if fs.Changed("destination") {
		cfg.Destination = f.destination
	}
	if fs.Changed("state") {
		cfg.StateFile = f.stateFile
	}
	if fs.Changed("resume") {
		cfg.Resume = f.resume
	}
	if fs.Changed("skip-scan") {
		cfg.SkipScan = f.skipScan
	}
	if fs.Changed("find-dupes-in-originals") {
		cfg.FindDupesInOriginals = f.findDupes
	}
	if fs.Changed("checkpoint-interval") {
		cfg.CheckpointInterval = f.checkpointInterval
	}
	if fs.Changed("metrics-file") {
		cfg.MetricsFile = f.metricsFile
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if fs.Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
}

// absPaths converts every configured directory and file to an absolute path.
func absPaths(cfg *config.Config) error {
	for _, p := range []*string{&cfg.Root, &cfg.DuplicateCandidates, &cfg.Destination, &cfg.StateFile} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("failed to get absolute path: %w", err)
		}
		*p = abs
	}
	return nil
}

func newRootCmd() *cobra.Command {
	flags := &cliFlags{}

	cmd := &cobra.Command{
		Use:   "dedupe-go [flags] [root]",
		Short: "Find duplicate files by content and optionally move them aside",
		Long: `dedupe-go hashes every file below a root directory, optionally together
with a second "duplicate candidates" directory, and groups files with
identical content. Progress is saved to a snapshot so an interrupted scan
can be resumed with --resume. With --destination, every duplicate except
the canonical copy is moved into the destination at its relative path.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(flags.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			flags.apply(cmd.Flags(), cfg)
			if len(args) == 1 {
				cfg.Root = args[0]
			}
			if err := absPaths(cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cmd.Context(), cfg, flags.quiet)
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

func run(parent context.Context, cfg *config.Config, quiet bool) error {
	log, err := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	m := metrics.New()
	eng := engine.New(afero.NewOsFs(), engine.OptionsFromConfig(cfg), log, m)
	if !quiet {
		eng.SetProgress(progress.New(0, os.Stdout))
	}

	sigCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	done := make(chan struct{})

	var summary *engine.Summary
	g := new(errgroup.Group)
	g.Go(func() error {
		watchInterrupt(sigCtx, done, cancelRun, stop, log)
		return nil
	})
	g.Go(func() error {
		defer close(done)
		s, err := eng.Run(runCtx)
		summary = s
		return err
	})
	runErr := g.Wait()

	if cfg.MetricsFile != "" {
		if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
			log.Error("failed to write metrics", zap.String("path", cfg.MetricsFile), zap.Error(err))
		}
	}

	if summary == nil {
		return runErr
	}

	if cfg.Destination == "" {
		fmt.Println(report.FormatGroups(eng.Duplicates()))
	}
	fmt.Print(report.FormatSummary(summary))

	if runErr != nil {
		return runErr
	}
	if summary.Cancelled {
		return errCancelled
	}
	return nil
}

// watchInterrupt cancels the run on the first interrupt and then restores
// default signal handling, so a second interrupt kills the process even while
// the final checkpoint is being written.
func watchInterrupt(sigCtx context.Context, done <-chan struct{}, cancelRun, stop context.CancelFunc, log *zap.Logger) bool {
	select {
	case <-sigCtx.Done():
		log.Warn("interrupt received, stopping after the current file; interrupt again to abort")
		cancelRun()
		stop()
		return true
	case <-done:
		return false
	}
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		if errors.Is(err, errCancelled) {
			fmt.Fprintf(os.Stderr, "Interrupted: progress saved, rerun with --resume to continue\n")
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
