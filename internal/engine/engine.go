// Package engine drives a deduplication run: snapshot load, discovery,
// hashing with periodic checkpoints, and duplicate resolution.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"dedupe-go/internal/config"
	"dedupe-go/internal/hash"
	"dedupe-go/internal/index"
	"dedupe-go/internal/metrics"
	"dedupe-go/internal/resolver"
	"dedupe-go/internal/snapshot"
	"dedupe-go/internal/tree"
	"dedupe-go/internal/walker"
)

var (
	ErrRootNotFound    = errors.New("root directory not found")
	ErrOverlappingRoot = errors.New("roots overlap")
	ErrDestination     = errors.New("destination directory cannot be created")
)

type State int

const (
	Idle State = iota
	LoadingSnapshot
	Discovering
	Hashing
	ResolvingDuplicates
	Done
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case LoadingSnapshot:
		return "loading-snapshot"
	case Discovering:
		return "discovering"
	case Hashing:
		return "hashing"
	case ResolvingDuplicates:
		return "resolving-duplicates"
	case Done:
		return "done"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Options struct {
	Root                string
	DuplicateCandidates string
	Destination         string
	StateFile           string
	Resume              bool
	SkipScan            bool
	RelocateOriginals   bool
	CheckpointInterval  int
	Exclude             []string
}

// OptionsFromConfig maps a validated configuration onto run options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Root:                cfg.Root,
		DuplicateCandidates: cfg.DuplicateCandidates,
		Destination:         cfg.Destination,
		StateFile:           cfg.StateFile,
		Resume:              cfg.Resume,
		SkipScan:            cfg.SkipScan,
		RelocateOriginals:   cfg.RelocateOriginals(),
		CheckpointInterval:  cfg.CheckpointInterval,
		Exclude:             cfg.Exclude,
	}
}

// Progress receives hashing progress. Discovery reports each new file
// through SetFile.
type Progress interface {
	SetTotal(total int64)
	SetFile(path string)
	Increment()
	Finish()
}

type noProgress struct{}

func (noProgress) SetTotal(int64) {}
func (noProgress) SetFile(string) {}
func (noProgress) Increment()     {}
func (noProgress) Finish()        {}

// Summary describes the outcome of one run.
type Summary struct {
	RunID string
	State State

	Loaded       int
	Discovered   int
	Hashed       int
	HashFailures int
	Pending      int
	Checkpoints  int

	Groups         int
	DuplicateFiles int
	Moved          int
	MoveSkipped    int
	MoveFailed     int

	Cancelled bool
	Elapsed   time.Duration
}

// Engine owns the forest, the hash index and the pending queue for a single
// run. It is not safe for concurrent use; cancellation goes through the
// context passed to Run.
type Engine struct {
	fs       afero.Fs
	opts     Options
	log      *zap.Logger
	metrics  *metrics.Metrics
	progress Progress

	runID        string
	state        State
	checkpointer *snapshot.Checkpointer
	forest       *tree.Forest
	index        *index.Index
	pending      index.Queue
	summary      Summary

	// dirty is set when the forest changed since the last snapshot write.
	dirty bool
}

func New(fsys afero.Fs, opts Options, log *zap.Logger, m *metrics.Metrics) *Engine {
	if m == nil {
		m = metrics.New()
	}
	if opts.CheckpointInterval <= 0 {
		opts.CheckpointInterval = config.DefaultCheckpointInterval
	}
	opts.Root = filepath.Clean(opts.Root)
	if opts.DuplicateCandidates != "" {
		opts.DuplicateCandidates = filepath.Clean(opts.DuplicateCandidates)
	}
	if opts.Destination != "" {
		opts.Destination = filepath.Clean(opts.Destination)
	}

	runID := uuid.NewString()
	log = log.With(zap.String("run_id", runID))

	return &Engine{
		fs:           fsys,
		opts:         opts,
		log:          log,
		metrics:      m,
		progress:     noProgress{},
		runID:        runID,
		checkpointer: snapshot.New(fsys, opts.StateFile, log),
		forest:       tree.NewForest(opts.Root, opts.DuplicateCandidates),
		index:        index.New(),
	}
}

// SetProgress installs a progress sink. A nil sink disables reporting.
func (e *Engine) SetProgress(p Progress) {
	if p == nil {
		p = noProgress{}
	}
	e.progress = p
}

func (e *Engine) RunID() string {
	return e.runID
}

func (e *Engine) State() State {
	return e.state
}

func (e *Engine) Forest() *tree.Forest {
	return e.forest
}

func (e *Engine) Index() *index.Index {
	return e.index
}

// Pending returns the files still waiting to be hashed.
func (e *Engine) Pending() []*tree.FileNode {
	return e.pending.Items()
}

// Duplicates returns every hash group with at least one duplicate.
func (e *Engine) Duplicates() []*index.Group {
	return e.index.Duplicates()
}

// Preflight checks the roots and prepares the destination. It is the only
// step whose failure aborts a run.
func (e *Engine) Preflight() error {
	if err := e.checkRoot(e.opts.Root); err != nil {
		return err
	}
	if e.opts.DuplicateCandidates != "" {
		if err := e.checkRoot(e.opts.DuplicateCandidates); err != nil {
			return err
		}
		// A nested root would be walked twice and every file in it would
		// look like its own duplicate.
		if tree.Within(e.opts.Root, e.opts.DuplicateCandidates) || tree.Within(e.opts.DuplicateCandidates, e.opts.Root) {
			return fmt.Errorf("%w: %s and %s", ErrOverlappingRoot, e.opts.Root, e.opts.DuplicateCandidates)
		}
	}
	if e.opts.Destination != "" {
		if err := e.fs.MkdirAll(e.opts.Destination, 0755); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrDestination, e.opts.Destination, err)
		}
	}
	return nil
}

func (e *Engine) checkRoot(path string) error {
	info, err := e.fs.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRootNotFound, path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrRootNotFound, path)
	}
	return nil
}

// Run executes the whole state machine. A cancelled context stops the run at
// the next file or directory boundary, after one final checkpoint.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	e.summary = Summary{RunID: e.runID}

	if err := e.Preflight(); err != nil {
		return nil, err
	}

	e.log.Info("starting run",
		zap.String("root", e.opts.Root),
		zap.String("duplicate_candidates", e.opts.DuplicateCandidates),
		zap.String("destination", e.opts.Destination),
		zap.String("state_file", e.opts.StateFile),
		zap.Bool("resume", e.opts.Resume))

	if e.opts.Resume {
		e.setState(LoadingSnapshot)
		e.loadSnapshot()
	}

	if e.opts.SkipScan {
		if !e.opts.Resume {
			e.log.Warn("skip-scan without resume: nothing to hash")
		}
	} else {
		e.setState(Discovering)
		e.discover(ctx)
		if ctx.Err() != nil {
			return e.cancel(start)
		}
		if e.dirty {
			if err := e.checkpoint(); err != nil {
				e.log.Error("checkpoint after discovery failed", zap.Error(err))
			}
		}
	}

	e.setState(Hashing)
	e.hashPending(ctx)
	if ctx.Err() != nil {
		return e.cancel(start)
	}

	var finalErr error
	if e.dirty {
		if err := e.checkpoint(); err != nil {
			finalErr = fmt.Errorf("final checkpoint: %w", err)
		}
	}

	if e.opts.Destination != "" {
		e.setState(ResolvingDuplicates)
		if err := e.resolve(ctx); err != nil {
			e.log.Warn("relocation cancelled", zap.Error(err))
			e.setState(Cancelled)
			s := e.finish(start)
			s.Cancelled = true
			return s, finalErr
		}
	}

	e.setState(Done)
	return e.finish(start), finalErr
}

func (e *Engine) setState(s State) {
	e.log.Debug("state transition",
		zap.Stringer("from", e.state),
		zap.Stringer("to", s))
	e.state = s
}

func (e *Engine) loadSnapshot() {
	if !e.checkpointer.Exists() {
		e.log.Info("no snapshot found, state will be rebuilt from the filesystem",
			zap.String("path", e.checkpointer.Path()))
		return
	}

	forest, files, err := e.checkpointer.Load(e.opts.Root, e.opts.DuplicateCandidates)
	if err != nil {
		e.log.Warn("discarding unreadable snapshot",
			zap.String("path", e.checkpointer.Path()),
			zap.Error(err))
		return
	}

	e.forest = forest
	for _, f := range files {
		e.classify(f)
	}
	e.summary.Loaded = len(files)
	e.metrics.FilesLoaded.Add(float64(len(files)))

	e.log.Info("snapshot loaded",
		zap.Int("files", len(files)),
		zap.Int("pending", e.pending.Len()))
}

func (e *Engine) classify(f *tree.FileNode) {
	if e.index.Add(f) == index.Queued {
		e.pending.Push(f)
	}
}

func (e *Engine) discover(ctx context.Context) {
	exclude := []string{e.checkpointer.Path(), e.checkpointer.TempPath()}

	for _, t := range e.forest.Trees() {
		w := walker.New(e.fs, t, walker.Options{
			ExcludeRoot:  e.opts.Destination,
			Exclusions:   e.opts.Exclude,
			ExcludePaths: exclude,
		}, e.log.With(zap.Stringer("origin", t.Origin)))

		discovered := e.metrics.FilesDiscovered.WithLabelValues(t.Origin.String())
		for f := range w.Discover(ctx) {
			e.classify(f)
			e.dirty = true
			e.summary.Discovered++
			discovered.Inc()
			e.progress.SetFile(f.FullPath)
		}

		e.log.Info("discovery finished",
			zap.Stringer("origin", t.Origin),
			zap.String("root", t.Path),
			zap.Int64("new_files", w.Discovered()),
			zap.Int64("skipped_directories", w.SkippedDirectories()))

		if ctx.Err() != nil {
			return
		}
	}
}

func (e *Engine) hashPending(ctx context.Context) {
	e.metrics.PendingFiles.Set(float64(e.pending.Len()))
	if e.pending.Len() == 0 {
		return
	}

	e.log.Info("hashing files", zap.Int("pending", e.pending.Len()))
	e.progress.SetTotal(int64(e.pending.Len()))
	defer e.progress.Finish()

	for e.pending.Len() > 0 {
		if ctx.Err() != nil {
			return
		}

		f := e.pending.Pop()
		e.progress.SetFile(f.FullPath)

		digest, size, err := hash.HashFile(e.fs, f.FullPath)
		if err != nil {
			e.hashFailed(f, err)
			e.metrics.PendingFiles.Dec()
			e.progress.Increment()
			continue
		}

		f.SetHash(digest)
		e.index.Add(f)
		e.dirty = true
		e.summary.Hashed++
		e.metrics.FilesHashed.Inc()
		e.metrics.PendingFiles.Dec()
		e.metrics.BytesHashed.Add(float64(size))

		if e.summary.Hashed%e.opts.CheckpointInterval == 0 {
			if err := e.checkpoint(); err != nil {
				e.log.Error("periodic checkpoint failed",
					zap.Int("hashed", e.summary.Hashed),
					zap.Error(err))
			}
		}
		e.progress.Increment()
	}
}

func (e *Engine) hashFailed(f *tree.FileNode, err error) {
	e.summary.HashFailures++

	var reason string
	switch {
	case errors.Is(err, fs.ErrPermission):
		reason = "permission"
	case errors.Is(err, fs.ErrNotExist):
		reason = "not_exist"
	default:
		reason = "io"
	}
	e.metrics.HashFailures.WithLabelValues(reason).Inc()

	e.log.Warn("skipping file that could not be hashed",
		zap.String("path", f.FullPath),
		zap.String("reason", reason),
		zap.Error(err))
}

func (e *Engine) checkpoint() error {
	if err := e.checkpointer.Save(e.forest); err != nil {
		e.metrics.Checkpoints.WithLabelValues("failed").Inc()
		return err
	}
	e.dirty = false
	e.summary.Checkpoints++
	e.metrics.Checkpoints.WithLabelValues("ok").Inc()
	return nil
}

func (e *Engine) resolve(ctx context.Context) error {
	r := resolver.New(e.fs, e.forest, resolver.Options{
		Destination:       e.opts.Destination,
		RelocateOriginals: e.opts.RelocateOriginals,
	}, e.log)

	res, err := r.Resolve(ctx, e.index.Duplicates())
	e.summary.Moved = res.Moved
	e.summary.MoveSkipped = res.Skipped
	e.summary.MoveFailed = res.Failed
	e.metrics.FilesMoved.Add(float64(res.Moved))

	e.log.Info("duplicates resolved",
		zap.Int("moved", res.Moved),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed))
	return err
}

// cancel writes the final checkpoint of an interrupted run.
func (e *Engine) cancel(start time.Time) (*Summary, error) {
	e.log.Warn("run cancelled, writing final checkpoint", zap.Stringer("phase", e.state))
	err := e.checkpoint()

	e.setState(Cancelled)
	s := e.finish(start)
	s.Cancelled = true
	if err != nil {
		return s, fmt.Errorf("final checkpoint: %w", err)
	}
	return s, nil
}

func (e *Engine) finish(start time.Time) *Summary {
	e.summary.State = e.state
	e.summary.Pending = e.pending.Len()
	e.summary.Groups = len(e.index.Duplicates())
	e.summary.DuplicateFiles = e.index.DuplicateCount()
	e.summary.Elapsed = time.Since(start)

	e.metrics.PendingFiles.Set(float64(e.summary.Pending))
	e.metrics.DuplicateGroups.Set(float64(e.summary.Groups))
	e.metrics.DuplicateFiles.Set(float64(e.summary.DuplicateFiles))
	e.metrics.LastRunSeconds.Set(e.summary.Elapsed.Seconds())

	e.log.Info("run finished",
		zap.Stringer("state", e.state),
		zap.Int("loaded", e.summary.Loaded),
		zap.Int("discovered", e.summary.Discovered),
		zap.Int("hashed", e.summary.Hashed),
		zap.Int("hash_failures", e.summary.HashFailures),
		zap.Int("pending", e.summary.Pending),
		zap.Int("duplicate_groups", e.summary.Groups),
		zap.Int("duplicate_files", e.summary.DuplicateFiles),
		zap.Duration("elapsed", e.summary.Elapsed))

	s := e.summary
	return &s
}
