// Package resolver relocates duplicate files into a destination tree that
// mirrors their position below the scanned root. With two roots the
// destination holds an Originals and a DuplicateCandidates subtree.
package resolver

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"dedupe-go/internal/index"
	"dedupe-go/internal/tree"
)

type Options struct {
	Destination string
	// RelocateOriginals allows moving duplicates that live in the
	// originals tree.
	RelocateOriginals bool
}

type Result struct {
	Moved   int
	Skipped int
	Failed  int
}

// Resolver moves every non-canonical group member into Destination.
type Resolver struct {
	fs     afero.Fs
	forest *tree.Forest
	opts   Options
	log    *zap.Logger
}

func New(fsys afero.Fs, forest *tree.Forest, opts Options, log *zap.Logger) *Resolver {
	return &Resolver{fs: fsys, forest: forest, opts: opts, log: log}
}

// Resolve relocates the duplicates of each group. Cancellation is checked
// before every move. Individual failures are logged and counted; they never
// stop the remaining moves.
func (r *Resolver) Resolve(ctx context.Context, groups []*index.Group) (Result, error) {
	var res Result

	for _, g := range groups {
		for _, f := range g.Duplicates {
			if err := ctx.Err(); err != nil {
				return res, err
			}

			if f.Origin == tree.Originals && !r.opts.RelocateOriginals {
				res.Skipped++
				continue
			}

			moved, err := r.relocate(f)
			switch {
			case err != nil:
				res.Failed++
				r.log.Error("failed to relocate duplicate",
					zap.String("path", f.FullPath),
					zap.String("canonical", g.Canonical.FullPath),
					zap.Error(err))
			case moved:
				res.Moved++
			default:
				res.Skipped++
			}
		}
	}
	return res, nil
}

// destinationRoot is where files of the given origin are mirrored. With two
// roots each origin gets its own subtree so equal relative paths from both
// sides cannot collide.
func (r *Resolver) destinationRoot(o tree.Origin) string {
	if r.forest.Candidates == nil {
		return r.opts.Destination
	}
	if o == tree.Candidates {
		return filepath.Join(r.opts.Destination, "DuplicateCandidates")
	}
	return filepath.Join(r.opts.Destination, "Originals")
}

func (r *Resolver) relocate(f *tree.FileNode) (bool, error) {
	t := r.forest.Tree(f.Origin)
	if t == nil {
		return false, fmt.Errorf("no root configured for %s", f.Origin)
	}

	relDir := ""
	if f.Parent != nil {
		relDir = f.Parent.RelativePath()
	}
	source := filepath.Join(t.Path, relDir, f.Name)

	exists, err := afero.Exists(r.fs, source)
	if err != nil {
		return false, fmt.Errorf("failed to check source: %w", err)
	}
	if !exists {
		r.log.Warn("skipping file, source no longer present", zap.String("path", source))
		return false, nil
	}

	destDir := filepath.Join(r.destinationRoot(f.Origin), relDir)
	dest := filepath.Join(destDir, f.Name)

	taken, err := afero.Exists(r.fs, dest)
	if err != nil {
		return false, fmt.Errorf("failed to check destination: %w", err)
	}
	if taken {
		r.log.Warn("skipping file, destination already exists",
			zap.String("path", source),
			zap.String("destination", dest))
		return false, nil
	}

	if err := r.fs.MkdirAll(destDir, 0755); err != nil {
		return false, fmt.Errorf("failed to create destination directory: %w", err)
	}
	if err := r.fs.Rename(source, dest); err != nil {
		return false, fmt.Errorf("failed to move file: %w", err)
	}

	r.log.Info("moved duplicate", zap.String("from", source), zap.String("to", dest))
	return true, nil
}
