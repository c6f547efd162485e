package tree

import (
	"iter"
	"path/filepath"

	"dedupe-go/internal/hash"
)

// Tree is the discovered state below one scanned root.
type Tree struct {
	Root   *DirectoryNode
	Path   string
	Origin Origin
}

func NewTree(path string, origin Origin) *Tree {
	return &Tree{
		Root:   NewDirectoryNode("", nil),
		Path:   filepath.Clean(path),
		Origin: origin,
	}
}

func (t *Tree) Contains(absFilePath string) bool {
	return Contains(t.Root, t.Path, absFilePath)
}

// AddFile inserts the file at absFilePath, creating its parent directories.
func (t *Tree) AddFile(absFilePath string, digest *hash.Digest) (*FileNode, error) {
	dir, err := EnsureDirectoryPath(t.Root, t.Path, filepath.Dir(absFilePath))
	if err != nil {
		return nil, err
	}
	return dir.InsertFile(filepath.Base(absFilePath), FileMeta{
		FullPath: filepath.Clean(absFilePath),
		Origin:   t.Origin,
		Hash:     digest,
	}), nil
}

// Files yields every file in the tree. Within a directory, subdirectories are
// visited first, then files, both in name order.
func (t *Tree) Files() iter.Seq[*FileNode] {
	return func(yield func(*FileNode) bool) {
		walkFiles(t.Root, yield)
	}
}

func walkFiles(d *DirectoryNode, yield func(*FileNode) bool) bool {
	for _, child := range d.SortedDirectories() {
		if !walkFiles(child, yield) {
			return false
		}
	}
	for _, f := range d.SortedFiles() {
		if !yield(f) {
			return false
		}
	}
	return true
}

func (t *Tree) Len() int {
	n := 0
	for range t.Files() {
		n++
	}
	return n
}

// Forest holds the originals tree and, when two roots are scanned, the
// duplicate-candidates tree.
type Forest struct {
	Originals  *Tree
	Candidates *Tree
}

// NewForest creates empty trees. candidatesRoot may be empty for single-root
// runs, in which case Candidates is nil.
func NewForest(originalsRoot, candidatesRoot string) *Forest {
	f := &Forest{Originals: NewTree(originalsRoot, Originals)}
	if candidatesRoot != "" {
		f.Candidates = NewTree(candidatesRoot, Candidates)
	}
	return f
}

// Trees returns the non-nil trees, originals first.
func (f *Forest) Trees() []*Tree {
	trees := []*Tree{f.Originals}
	if f.Candidates != nil {
		trees = append(trees, f.Candidates)
	}
	return trees
}

// Tree returns the tree for an origin, or nil.
func (f *Forest) Tree(o Origin) *Tree {
	if o == Candidates {
		return f.Candidates
	}
	return f.Originals
}

func (f *Forest) Len() int {
	n := 0
	for _, t := range f.Trees() {
		n += t.Len()
	}
	return n
}
