package tree

import (
	"path/filepath"
	"slices"

	"dedupe-go/internal/hash"
)

// Origin records which scanned root a file was discovered under.
type Origin int

const (
	Originals Origin = iota
	Candidates
)

func (o Origin) String() string {
	switch o {
	case Originals:
		return "originals"
	case Candidates:
		return "candidates"
	default:
		return "unknown"
	}
}

// DirectoryNode is one directory relative to a scanned root. The root node
// has an empty name and no parent. Children are owned through the maps;
// Parent is only followed to rebuild paths.
type DirectoryNode struct {
	Name        string
	Parent      *DirectoryNode
	Directories map[string]*DirectoryNode
	Files       map[string]*FileNode
}

func NewDirectoryNode(name string, parent *DirectoryNode) *DirectoryNode {
	return &DirectoryNode{
		Name:        name,
		Parent:      parent,
		Directories: make(map[string]*DirectoryNode),
		Files:       make(map[string]*FileNode),
	}
}

// IsEmpty reports whether the node has neither files nor subdirectories.
func (d *DirectoryNode) IsEmpty() bool {
	return len(d.Directories) == 0 && len(d.Files) == 0
}

// RelativePath joins the names from the root down to d.
func (d *DirectoryNode) RelativePath() string {
	var components []string
	for n := d; n != nil && n.Name != ""; n = n.Parent {
		components = append(components, n.Name)
	}
	slices.Reverse(components)
	return filepath.Join(components...)
}

// SortedDirectories returns the child directories ordered by name.
func (d *DirectoryNode) SortedDirectories() []*DirectoryNode {
	out := make([]*DirectoryNode, 0, len(d.Directories))
	for _, name := range sortedKeys(d.Directories) {
		out = append(out, d.Directories[name])
	}
	return out
}

// SortedFiles returns the files of d ordered by name.
func (d *DirectoryNode) SortedFiles() []*FileNode {
	out := make([]*FileNode, 0, len(d.Files))
	for _, name := range sortedKeys(d.Files) {
		out = append(out, d.Files[name])
	}
	return out
}

// FileMeta carries what is known about a file when it is inserted.
type FileMeta struct {
	FullPath string
	Origin   Origin
	Hash     *hash.Digest
}

type FileNode struct {
	Name     string
	FullPath string
	Parent   *DirectoryNode
	Origin   Origin

	digest hash.Digest
	hashed bool
}

// Hash returns the content digest and whether it has been computed.
func (f *FileNode) Hash() (hash.Digest, bool) {
	return f.digest, f.hashed
}

// SetHash records the content digest. A digest is only ever set once;
// later calls are ignored and report false.
func (f *FileNode) SetHash(d hash.Digest) bool {
	if f.hashed {
		return false
	}
	f.digest = d
	f.hashed = true
	return true
}

// RelativePath is the file's path below its scanned root.
func (f *FileNode) RelativePath() string {
	if f.Parent == nil {
		return f.Name
	}
	return filepath.Join(f.Parent.RelativePath(), f.Name)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
