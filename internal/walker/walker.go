package walker

import (
	"context"
	"errors"
	"io/fs"
	"iter"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"dedupe-go/internal/tree"
)

type Options struct {
	// ExcludeRoot is skipped with everything below it, typically the
	// destination for relocated duplicates.
	ExcludeRoot string
	// Exclusions are glob patterns; a trailing slash matches directory names.
	Exclusions []string
	// ExcludePaths are exact file paths never reported.
	ExcludePaths []string
}

// Walker discovers files below a tree's root that the tree does not know
// about yet. Directories are visited breadth first from an explicit queue.
type Walker struct {
	fs           afero.Fs
	tree         *tree.Tree
	excludeRoot  string
	exclusions   []string
	excludePaths map[string]struct{}
	log          *zap.Logger

	discovered  int64
	skippedDirs int64
}

func New(fsys afero.Fs, t *tree.Tree, opts Options, log *zap.Logger) *Walker {
	w := &Walker{
		fs:           fsys,
		tree:         t,
		exclusions:   opts.Exclusions,
		excludePaths: make(map[string]struct{}, len(opts.ExcludePaths)),
		log:          log,
	}
	if opts.ExcludeRoot != "" {
		w.excludeRoot = filepath.Clean(opts.ExcludeRoot)
	}
	for _, p := range opts.ExcludePaths {
		w.excludePaths[filepath.Clean(p)] = struct{}{}
	}
	return w
}

// Discovered is the number of files added to the tree so far.
func (w *Walker) Discovered() int64 {
	return w.discovered
}

// SkippedDirectories counts directories that could not be enumerated.
func (w *Walker) SkippedDirectories() int64 {
	return w.skippedDirs
}

// Discover walks the filesystem and yields every file newly inserted into the
// tree. Cancellation is checked before each directory and each file; files
// already inserted stay in the tree.
func (w *Walker) Discover(ctx context.Context) iter.Seq[*tree.FileNode] {
	return func(yield func(*tree.FileNode) bool) {
		queue := []string{w.tree.Path}

		for len(queue) > 0 {
			if ctx.Err() != nil {
				return
			}

			dir := queue[0]
			queue = queue[1:]

			if w.underExcludeRoot(dir) {
				w.log.Debug("skipping excluded directory", zap.String("dir", dir))
				continue
			}

			entries, err := afero.ReadDir(w.fs, dir)
			if err != nil {
				w.skippedDirs++
				switch {
				case errors.Is(err, fs.ErrPermission):
					w.log.Warn("skipping unreadable directory", zap.String("dir", dir), zap.Error(err))
				case errors.Is(err, fs.ErrNotExist):
					w.log.Warn("skipping vanished directory", zap.String("dir", dir), zap.Error(err))
				default:
					w.log.Error("failed to enumerate directory", zap.String("dir", dir), zap.Error(err))
				}
				continue
			}

			for _, entry := range entries {
				if entry.IsDir() {
					path := filepath.Join(dir, entry.Name())
					if !w.shouldExclude(path, true) {
						queue = append(queue, path)
					}
				}
			}

			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				if ctx.Err() != nil {
					return
				}

				// Skip non-regular files (symlinks, devices, sockets, etc.)
				if !entry.Mode().IsRegular() {
					continue
				}

				path := filepath.Join(dir, entry.Name())
				if w.shouldExclude(path, false) || w.tree.Contains(path) {
					continue
				}

				f, err := w.tree.AddFile(path, nil)
				if err != nil {
					w.log.Error("failed to add file", zap.String("path", path), zap.Error(err))
					continue
				}
				w.discovered++

				if !yield(f) {
					return
				}
			}
		}
	}
}

func (w *Walker) underExcludeRoot(dir string) bool {
	if w.excludeRoot == "" {
		return false
	}
	dir = filepath.Clean(dir)
	if dir == w.excludeRoot {
		return true
	}
	prefix := w.excludeRoot
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(dir, prefix)
}

func (w *Walker) shouldExclude(path string, isDir bool) bool {
	if _, ok := w.excludePaths[filepath.Clean(path)]; ok {
		return true
	}

	relPath, err := filepath.Rel(w.tree.Path, path)
	if err != nil {
		return false
	}

	for _, pattern := range w.exclusions {
		// Handle directory exclusions (patterns ending with /)
		if strings.HasSuffix(pattern, "/") {
			dirPattern := strings.TrimSuffix(pattern, "/")
			parts := strings.Split(relPath, string(filepath.Separator))
			if !isDir {
				// The last part is the file name itself
				parts = parts[:len(parts)-1]
			}
			for _, part := range parts {
				if matched, _ := filepath.Match(dirPattern, part); matched || part == dirPattern {
					return true
				}
			}
			continue
		}

		// Handle file pattern exclusions
		if isDir {
			continue
		}
		if matched, err := filepath.Match(pattern, filepath.Base(relPath)); err == nil && matched {
			return true
		}
		// Also try matching against the full relative path for patterns with /
		if strings.Contains(pattern, "/") {
			if matched, err := filepath.Match(pattern, filepath.ToSlash(relPath)); err == nil && matched {
				return true
			}
		}
	}
	return false
}
