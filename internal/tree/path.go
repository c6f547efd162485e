package tree

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned when a path does not live below the root prefix
// it is being resolved against.
var ErrOutsideRoot = errors.New("path is outside of root")

// components strips rootPrefix from absPath and returns the remaining path
// segments. Empty segments are dropped.
func components(rootPrefix, absPath string) ([]string, bool) {
	root := filepath.Clean(rootPrefix)
	path := filepath.Clean(absPath)

	if path == root {
		return nil, true
	}

	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if !strings.HasPrefix(path, prefix) {
		return nil, false
	}

	var parts []string
	for _, part := range strings.Split(strings.TrimPrefix(path, prefix), string(filepath.Separator)) {
		if part == "" {
			continue
		}
		parts = append(parts, part)
	}
	return parts, true
}

// Within reports whether path is dir itself or lies below it. The test is on
// whole path segments, so /data does not contain /database.
func Within(dir, path string) bool {
	_, ok := components(dir, path)
	return ok
}

// EnsureDirectoryPath walks from root along the directory absPath (relative to
// rootPrefix), creating any missing nodes, and returns the terminal node.
func EnsureDirectoryPath(root *DirectoryNode, rootPrefix, absPath string) (*DirectoryNode, error) {
	parts, ok := components(rootPrefix, absPath)
	if !ok {
		return nil, fmt.Errorf("%s: %w %s", absPath, ErrOutsideRoot, rootPrefix)
	}

	current := root
	for _, part := range parts {
		next, exists := current.Directories[part]
		if !exists {
			next = NewDirectoryNode(part, current)
			current.Directories[part] = next
		}
		current = next
	}
	return current, nil
}

// Contains reports whether the file at absFilePath is already present in the
// tree rooted at root. The root path itself always counts as contained.
func Contains(root *DirectoryNode, rootPrefix, absFilePath string) bool {
	if root.IsEmpty() {
		return false
	}

	parts, ok := components(rootPrefix, absFilePath)
	if !ok {
		return false
	}
	if len(parts) == 0 {
		return true
	}

	current := root
	for _, part := range parts[:len(parts)-1] {
		next, exists := current.Directories[part]
		if !exists {
			return false
		}
		current = next
	}

	_, exists := current.Files[parts[len(parts)-1]]
	return exists
}

// InsertFile adds a file to d, replacing any existing entry with the same
// name.
func (d *DirectoryNode) InsertFile(name string, meta FileMeta) *FileNode {
	f := &FileNode{
		Name:     name,
		FullPath: meta.FullPath,
		Parent:   d,
		Origin:   meta.Origin,
	}
	if meta.Hash != nil {
		f.SetHash(*meta.Hash)
	}
	d.Files[name] = f
	return f
}
