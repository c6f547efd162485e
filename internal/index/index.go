// Package index groups discovered files by content digest.
package index

import (
	"sort"

	"dedupe-go/internal/hash"
	"dedupe-go/internal/tree"
)

// Outcome describes what Add did with a file.
type Outcome int

const (
	// Queued means the file has no digest yet and must be hashed.
	Queued Outcome = iota
	// Canonical means the file started a new group, or displaced the
	// previous canonical member of its group.
	Canonical
	// Duplicate means the file joined an existing group as a duplicate.
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Queued:
		return "queued"
	case Canonical:
		return "canonical"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Group is every known file sharing one digest.
type Group struct {
	Hash       hash.Digest
	Canonical  *tree.FileNode
	Duplicates []*tree.FileNode
}

func (g *Group) HasDuplicates() bool {
	return len(g.Duplicates) > 0
}

// Index maps digests to groups. The canonical member of a group is the file
// that ranks first: originals before candidates, then by full path. The
// resulting grouping does not depend on the order files are added in.
type Index struct {
	groups map[hash.Digest]*Group
}

func New() *Index {
	return &Index{groups: make(map[hash.Digest]*Group)}
}

// Add classifies a file. Files without a digest are left for the caller to
// hash and add again.
func (ix *Index) Add(f *tree.FileNode) Outcome {
	digest, ok := f.Hash()
	if !ok {
		return Queued
	}

	g, exists := ix.groups[digest]
	if !exists {
		ix.groups[digest] = &Group{Hash: digest, Canonical: f}
		return Canonical
	}

	if ranksBefore(f, g.Canonical) {
		g.Duplicates = append(g.Duplicates, g.Canonical)
		g.Canonical = f
		return Canonical
	}
	g.Duplicates = append(g.Duplicates, f)
	return Duplicate
}

func ranksBefore(a, b *tree.FileNode) bool {
	if a.Origin != b.Origin {
		return a.Origin < b.Origin
	}
	return a.FullPath < b.FullPath
}

// Lookup returns the group for a digest.
func (ix *Index) Lookup(d hash.Digest) (*Group, bool) {
	g, ok := ix.groups[d]
	return g, ok
}

// Len is the number of distinct digests.
func (ix *Index) Len() int {
	return len(ix.groups)
}

// Duplicates returns the groups that have at least one duplicate, ordered by
// canonical path, with each group's duplicates in rank order.
func (ix *Index) Duplicates() []*Group {
	var out []*Group
	for _, g := range ix.groups {
		if !g.HasDuplicates() {
			continue
		}
		sort.Slice(g.Duplicates, func(i, j int) bool {
			return ranksBefore(g.Duplicates[i], g.Duplicates[j])
		})
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		return ranksBefore(out[i].Canonical, out[j].Canonical)
	})
	return out
}

// DuplicateCount is the number of non-canonical files across all groups.
func (ix *Index) DuplicateCount() int {
	n := 0
	for _, g := range ix.groups {
		n += len(g.Duplicates)
	}
	return n
}
