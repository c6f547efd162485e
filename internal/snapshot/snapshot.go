// Package snapshot persists the discovered forest so an interrupted run can
// resume. The format is a single XML document:
//
//	<State GeneratedAt="..." Checksum="...">
//	  <Originals>
//	    <Folder Name="photos">
//	      <File Name="a.jpg">5D41402ABC4B2A76B9719D911017C592</File>
//	    </Folder>
//	  </Originals>
//	  <DuplicateCandidates/>
//	</State>
//
// Folders with no files below them are not written. File text is the
// uppercase hex digest and is absent while a file is unhashed. Names XML
// cannot represent exactly also carry a QuotedName attribute.
package snapshot

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"dedupe-go/internal/hash"
	"dedupe-go/internal/tree"
)

// ErrInvalidSnapshot marks a snapshot that cannot be used and should be
// discarded.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

type stateElement struct {
	XMLName     xml.Name      `xml:"State"`
	GeneratedAt string        `xml:"GeneratedAt,attr,omitempty"`
	Checksum    string        `xml:"Checksum,attr,omitempty"`
	Originals   *groupElement `xml:"Originals"`
	Candidates  *groupElement `xml:"DuplicateCandidates"`
}

type groupElement struct {
	Folders []folderElement `xml:"Folder"`
	Files   []fileElement   `xml:"File"`
}

type folderElement struct {
	Name       string          `xml:"Name,attr"`
	QuotedName string          `xml:"QuotedName,attr,omitempty"`
	Folders []folderElement `xml:"Folder"`
	Files   []fileElement   `xml:"File"`
}

type fileElement struct {
	Name       string `xml:"Name,attr"`
	QuotedName string `xml:"QuotedName,attr,omitempty"`
	Hash       string `xml:",chardata"`
}

// Checkpointer writes and reads the snapshot file.
type Checkpointer struct {
	fs   afero.Fs
	path string
	log  *zap.Logger
	now  func() time.Time
}

func New(fsys afero.Fs, path string, log *zap.Logger) *Checkpointer {
	return &Checkpointer{
		fs:   fsys,
		path: path,
		log:  log,
		now:  time.Now,
	}
}

func (c *Checkpointer) Path() string {
	return c.path
}

// TempPath is where a snapshot is staged before it replaces Path.
func (c *Checkpointer) TempPath() string {
	return c.path + ".tmp"
}

// Exists reports whether a snapshot file is present.
func (c *Checkpointer) Exists() bool {
	ok, err := afero.Exists(c.fs, c.path)
	return err == nil && ok
}

// Save serializes the whole forest and replaces the snapshot file.
func (c *Checkpointer) Save(forest *tree.Forest) error {
	checksum, err := tree.Checksum(forest.Entries())
	if err != nil {
		return fmt.Errorf("failed to checksum snapshot: %w", err)
	}

	state := stateElement{
		GeneratedAt: c.now().UTC().Format(time.RFC3339),
		Checksum:    checksum,
		Originals:   &groupElement{},
		Candidates:  &groupElement{},
	}
	state.Originals.Folders, state.Originals.Files = encodeDirectory(forest.Originals.Root)
	if forest.Candidates != nil {
		state.Candidates.Folders, state.Candidates.Files = encodeDirectory(forest.Candidates.Root)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(state); err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	buf.WriteByte('\n')

	if dir := filepath.Dir(c.path); dir != "." {
		if err := c.fs.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}
	if err := afero.WriteFile(c.fs, c.TempPath(), buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := c.fs.Rename(c.TempPath(), c.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	c.log.Debug("snapshot written",
		zap.String("path", c.path),
		zap.Int("bytes", buf.Len()),
		zap.String("checksum", checksum))
	return nil
}

// encodeDirectory returns the child elements of d. A folder is only kept if
// it produced at least one child element.
func encodeDirectory(d *tree.DirectoryNode) ([]folderElement, []fileElement) {
	var folders []folderElement
	for _, child := range d.SortedDirectories() {
		subFolders, subFiles := encodeDirectory(child)
		if len(subFolders) == 0 && len(subFiles) == 0 {
			continue
		}
		el := folderElement{Folders: subFolders, Files: subFiles}
		el.Name, el.QuotedName = encodeName(child.Name)
		folders = append(folders, el)
	}

	var files []fileElement
	for _, f := range d.SortedFiles() {
		var el fileElement
		el.Name, el.QuotedName = encodeName(f.Name)
		if digest, ok := f.Hash(); ok {
			el.Hash = digest.String()
		}
		files = append(files, el)
	}
	return folders, files
}

// Load reads the snapshot into a new forest rooted at the given paths. The
// loaded files are also returned in document order so the caller can replay
// them into its index. candidatesRoot may be empty, in which case a
// DuplicateCandidates group in the snapshot is ignored.
func (c *Checkpointer) Load(originalsRoot, candidatesRoot string) (*tree.Forest, []*tree.FileNode, error) {
	data, err := afero.ReadFile(c.fs, c.path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var state stateElement
	if err := xml.Unmarshal(data, &state); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	forest := tree.NewForest(originalsRoot, candidatesRoot)
	var loaded []*tree.FileNode
	var entries []tree.Entry

	groups := []struct {
		el *groupElement
		t  *tree.Tree
		o  tree.Origin
	}{
		{state.Originals, forest.Originals, tree.Originals},
		{state.Candidates, forest.Candidates, tree.Candidates},
	}

	for _, g := range groups {
		if g.el == nil {
			continue
		}
		d := &decoder{origin: g.o, tree: g.t}
		if err := d.decode(g.el.Folders, g.el.Files, rootOf(g.t)); err != nil {
			return nil, nil, err
		}
		entries = append(entries, d.entries...)

		if g.t == nil {
			if len(d.entries) > 0 {
				c.log.Warn("snapshot has duplicate candidates but no candidates root is configured; ignoring them",
					zap.Int("files", len(d.entries)))
			}
			continue
		}
		loaded = append(loaded, d.loaded...)
	}

	if state.Checksum != "" {
		checksum, err := tree.Checksum(entries)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to checksum snapshot: %w", err)
		}
		if checksum != state.Checksum {
			return nil, nil, fmt.Errorf("%w: checksum mismatch (recorded %s, computed %s)", ErrInvalidSnapshot, state.Checksum, checksum)
		}
	}

	c.log.Debug("snapshot loaded",
		zap.String("path", c.path),
		zap.Int("files", len(loaded)),
		zap.String("generated_at", state.GeneratedAt))
	return forest, loaded, nil
}

func rootOf(t *tree.Tree) *tree.DirectoryNode {
	if t == nil {
		return tree.NewDirectoryNode("", nil)
	}
	return t.Root
}

type decoder struct {
	origin  tree.Origin
	tree    *tree.Tree
	loaded  []*tree.FileNode
	entries []tree.Entry
}

func (d *decoder) decode(folders []folderElement, files []fileElement, parent *tree.DirectoryNode) error {
	for _, folder := range folders {
		name, err := decodeName(folder.Name, folder.QuotedName)
		if err != nil {
			return fmt.Errorf("folder: %w", err)
		}
		child, ok := parent.Directories[name]
		if !ok {
			child = tree.NewDirectoryNode(name, parent)
			parent.Directories[name] = child
		}
		if err := d.decode(folder.Folders, folder.Files, child); err != nil {
			return err
		}
	}

	for _, file := range files {
		name, err := decodeName(file.Name, file.QuotedName)
		if err != nil {
			return fmt.Errorf("file: %w", err)
		}

		meta := tree.FileMeta{Origin: d.origin}
		entry := tree.Entry{
			Origin:       d.origin,
			RelativePath: filepath.Join(parent.RelativePath(), name),
		}
		if text := strings.TrimSpace(file.Hash); text != "" {
			digest, err := hash.ParseDigest(text)
			if err != nil {
				return fmt.Errorf("%w: file %q: %v", ErrInvalidSnapshot, entry.RelativePath, err)
			}
			meta.Hash = &digest
			entry.Hash = digest.String()
		}
		d.entries = append(d.entries, entry)

		if d.tree != nil {
			meta.FullPath = filepath.Join(d.tree.Path, entry.RelativePath)
		}
		d.loaded = append(d.loaded, parent.InsertFile(name, meta))
	}
	return nil
}
