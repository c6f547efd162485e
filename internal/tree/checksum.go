package tree

import (
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sort"

	mt "github.com/txaty/go-merkletree"

	"dedupe-go/internal/hash"
)

// Entry is the persisted identity of one file: which tree it belongs to,
// where it sits below that tree's root, and its digest if known.
type Entry struct {
	Origin       Origin
	RelativePath string
	Hash         string
}

// Serialize implements mt.DataBlock.
func (e Entry) Serialize() ([]byte, error) {
	return []byte(fmt.Sprintf("%d\x00%s\x00%s", e.Origin, filepath.ToSlash(e.RelativePath), e.Hash)), nil
}

// Entries lists every file in the forest.
func (f *Forest) Entries() []Entry {
	var entries []Entry
	for _, t := range f.Trees() {
		for file := range t.Files() {
			var digest string
			if d, ok := file.Hash(); ok {
				digest = d.String()
			}
			entries = append(entries, Entry{
				Origin:       t.Origin,
				RelativePath: file.RelativePath(),
				Hash:         digest,
			})
		}
	}
	return entries
}

// Checksum computes a merkle root over entries:
// 1. Sort entries by origin, then relative path
// 2. Each serialized entry is a leaf, hashed with xxHash
// 3. Pair adjacent nodes and hash them to create the parent level
// 4. Repeat until a single root hash remains
func Checksum(entries []Entry) (string, error) {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Origin != sorted[j].Origin {
			return sorted[i].Origin < sorted[j].Origin
		}
		return filepath.ToSlash(sorted[i].RelativePath) < filepath.ToSlash(sorted[j].RelativePath)
	})

	// go-merkletree needs at least two blocks
	switch len(sorted) {
	case 0:
		root, err := hash.XXHashFunc([]byte("empty-tree"))
		if err != nil {
			return "", fmt.Errorf("failed to create empty tree hash: %w", err)
		}
		return hex.EncodeToString(root), nil
	case 1:
		data, _ := sorted[0].Serialize()
		root, err := hash.XXHashFunc(data)
		if err != nil {
			return "", fmt.Errorf("failed to hash single entry: %w", err)
		}
		return hex.EncodeToString(root), nil
	}

	blocks := make([]mt.DataBlock, len(sorted))
	for i := range sorted {
		blocks[i] = sorted[i]
	}

	tree, err := mt.New(&mt.Config{
		HashFunc: hash.XXHashFunc,
		Mode:     mt.ModeTreeBuild,
	}, blocks)
	if err != nil {
		return "", fmt.Errorf("failed to build merkle tree: %w", err)
	}
	return hex.EncodeToString(tree.Root), nil
}
