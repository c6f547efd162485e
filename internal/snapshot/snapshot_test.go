package snapshot

import (
	"crypto/md5"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dedupe-go/internal/hash"
	"dedupe-go/internal/tree"
)

func digestOf(s string) *hash.Digest {
	d := hash.Digest(md5.Sum([]byte(s)))
	return &d
}

func newCheckpointer(fsys afero.Fs) *Checkpointer {
	c := New(fsys, "/state/state.xml", zap.NewNop())
	c.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return c
}

func buildForest(t *testing.T) *tree.Forest {
	t.Helper()
	f := tree.NewForest("/originals", "/candidates")

	add := func(tr *tree.Tree, path string, d *hash.Digest) {
		_, err := tr.AddFile(path, d)
		require.NoError(t, err)
	}
	add(f.Originals, "/originals/a.txt", digestOf("hello"))
	add(f.Originals, "/originals/photos/2020/b.jpg", digestOf("jpeg"))
	add(f.Originals, "/originals/photos/pending.raw", nil)
	add(f.Candidates, "/candidates/copy/a.txt", digestOf("hello"))

	// Directory with no files anywhere below it
	_, err := tree.EnsureDirectoryPath(f.Originals.Root, "/originals", "/originals/empty/deeper")
	require.NoError(t, err)
	return f
}

type fileRecord struct {
	origin tree.Origin
	rel    string
	full   string
	hash   string
}

func records(f *tree.Forest) []fileRecord {
	var out []fileRecord
	for _, tr := range f.Trees() {
		for file := range tr.Files() {
			r := fileRecord{origin: file.Origin, rel: file.RelativePath(), full: file.FullPath}
			if d, ok := file.Hash(); ok {
				r.hash = d.String()
			}
			out = append(out, r)
		}
	}
	return out
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	fsys := afero.NewMemMapFs()
	c := newCheckpointer(fsys)
	original := buildForest(t)

	require.NoError(t, c.Save(original))
	assert.True(t, c.Exists())

	loaded, files, err := c.Load("/originals", "/candidates")
	require.NoError(t, err)

	assert.Equal(t, records(original), records(loaded))
	assert.Len(t, files, 4)
	for _, f := range files {
		assert.Equal(t, filepath.Join(loaded.Tree(f.Origin).Path, f.RelativePath()), f.FullPath)
	}
}

func TestSave_Format(t *testing.T) {
	fsys := afero.NewMemMapFs()
	c := newCheckpointer(fsys)
	require.NoError(t, c.Save(buildForest(t)))

	data, err := afero.ReadFile(fsys, c.Path())
	require.NoError(t, err)
	doc := string(data)

	assert.Contains(t, doc, `<State GeneratedAt="2024-03-01T12:00:00Z" Checksum="`)
	assert.Contains(t, doc, `<File Name="a.txt">`+digestOf("hello").String()+`</File>`)
	assert.Contains(t, doc, `<Folder Name="photos">`)
	assert.Contains(t, doc, `<Folder Name="2020">`)
	assert.Contains(t, doc, `<File Name="pending.raw"></File>`)
	assert.Contains(t, doc, `<DuplicateCandidates>`)
	assert.NotContains(t, doc, `Name="empty"`, "folders without files are pruned")
	assert.NotContains(t, doc, `Name="deeper"`)

	exists, err := afero.Exists(fsys, c.TempPath())
	require.NoError(t, err)
	assert.False(t, exists, "temp file should be renamed away")
}

func TestSave_HashIsUppercaseHex(t *testing.T) {
	fsys := afero.NewMemMapFs()
	c := newCheckpointer(fsys)
	f := tree.NewForest("/r", "")
	_, err := f.Originals.AddFile("/r/x", digestOf("x"))
	require.NoError(t, err)
	require.NoError(t, c.Save(f))

	data, err := afero.ReadFile(fsys, c.Path())
	require.NoError(t, err)

	start := strings.Index(string(data), `<File Name="x">`) + len(`<File Name="x">`)
	text := string(data)[start : start+hash.Size*2]
	assert.Equal(t, strings.ToUpper(text), text)
	assert.Equal(t, digestOf("x").String(), text)
}

func TestLoad_SingleRootIgnoresCandidates(t *testing.T) {
	fsys := afero.NewMemMapFs()
	c := newCheckpointer(fsys)
	require.NoError(t, c.Save(buildForest(t)))

	loaded, files, err := c.Load("/originals", "")
	require.NoError(t, err)

	assert.Nil(t, loaded.Candidates)
	assert.Len(t, files, 3)
	for _, f := range files {
		assert.Equal(t, tree.Originals, f.Origin)
	}
}

func TestLoad_RebasesOntoConfiguredRoot(t *testing.T) {
	fsys := afero.NewMemMapFs()
	c := newCheckpointer(fsys)
	require.NoError(t, c.Save(buildForest(t)))

	_, files, err := c.Load("/mnt/moved", "/candidates")
	require.NoError(t, err)

	var paths []string
	for _, f := range files {
		paths = append(paths, f.FullPath)
	}
	assert.Contains(t, paths, "/mnt/moved/photos/2020/b.jpg")
}

func TestLoad_Errors(t *testing.T) {
	valid := func(t *testing.T) string {
		fsys := afero.NewMemMapFs()
		c := newCheckpointer(fsys)
		require.NoError(t, c.Save(buildForest(t)))
		data, err := afero.ReadFile(fsys, c.Path())
		require.NoError(t, err)
		return string(data)
	}

	tests := []struct {
		name string
		doc  func(t *testing.T) string
	}{
		{"empty file", func(*testing.T) string { return "" }},
		{"not xml", func(*testing.T) string { return "this is not a snapshot" }},
		{"wrong root element", func(*testing.T) string { return "<Something><Originals/></Something>" }},
		{"truncated", func(t *testing.T) string { d := valid(t); return d[:len(d)/2] }},
		{"bad hash", func(*testing.T) string {
			return `<State><Originals><File Name="a">XYZ</File></Originals></State>`
		}},
		{"path in name", func(*testing.T) string {
			return `<State><Originals><Folder Name="../x"><File Name="a"/></Folder></Originals></State>`
		}},
		{"bad quoted name", func(*testing.T) string {
			return `<State><Originals><File Name="a" QuotedName="&#34;unterminated"/></Originals></State>`
		}},
		{"quoted name with path", func(*testing.T) string {
			return `<State><Originals><File Name="a" QuotedName="&#34;x/y&#34;"/></Originals></State>`
		}},
		{"checksum mismatch", func(t *testing.T) string {
			return strings.Replace(valid(t), digestOf("jpeg").String(), digestOf("tampered").String(), 1)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			c := newCheckpointer(fsys)
			require.NoError(t, afero.WriteFile(fsys, c.Path(), []byte(tt.doc(t)), 0644))

			_, _, err := c.Load("/originals", "/candidates")
			assert.ErrorIs(t, err, ErrInvalidSnapshot)
		})
	}
}

func TestLoad_Missing(t *testing.T) {
	c := newCheckpointer(afero.NewMemMapFs())
	assert.False(t, c.Exists())

	_, _, err := c.Load("/originals", "")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidSnapshot)
}

func TestLoad_WithoutChecksum(t *testing.T) {
	fsys := afero.NewMemMapFs()
	c := newCheckpointer(fsys)
	doc := `<State>
  <Originals>
    <Folder Name="dir">
      <File Name="a">` + strings.ToLower(digestOf("a").String()) + `</File>
      <File Name="b"/>
    </Folder>
  </Originals>
  <DuplicateCandidates/>
</State>`
	require.NoError(t, afero.WriteFile(fsys, c.Path(), []byte(doc), 0644))

	_, files, err := c.Load("/root", "")
	require.NoError(t, err)
	require.Len(t, files, 2)

	assert.Equal(t, "/root/dir/a", files[0].FullPath)
	d, ok := files[0].Hash()
	require.True(t, ok)
	assert.Equal(t, *digestOf("a"), d)

	_, ok = files[1].Hash()
	assert.False(t, ok)
}

func TestSave_OverwritesPrevious(t *testing.T) {
	fsys := afero.NewMemMapFs()
	c := newCheckpointer(fsys)

	f := tree.NewForest("/r", "")
	_, err := f.Originals.AddFile("/r/one", nil)
	require.NoError(t, err)
	require.NoError(t, c.Save(f))

	_, err = f.Originals.AddFile("/r/two", digestOf("2"))
	require.NoError(t, err)
	require.NoError(t, c.Save(f))

	_, files, err := c.Load("/r", "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestSave_WriteFailure(t *testing.T) {
	c := New(afero.NewReadOnlyFs(afero.NewMemMapFs()), "state.xml", zap.NewNop())

	f := tree.NewForest("/r", "")
	assert.Error(t, c.Save(f))
}

func TestSaveLoad_NamesXMLCannotCarry(t *testing.T) {
	names := []string{"caf\xe9.txt", "a\x01b.txt", "tab\there", "ok\uFFFE"}

	forest := tree.NewForest("/originals", "")
	for i, name := range names {
		_, err := forest.Originals.AddFile(filepath.Join("/originals", "d\xffir", name), digestOf(name))
		require.NoError(t, err, "name %d", i)
	}
	_, err := forest.Originals.AddFile("/originals/plain.txt", nil)
	require.NoError(t, err)

	fsys := afero.NewMemMapFs()
	c := newCheckpointer(fsys)
	require.NoError(t, c.Save(forest))

	data, err := afero.ReadFile(fsys, c.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), `QuotedName="&#34;caf\xe9.txt&#34;"`)
	assert.Contains(t, string(data), `<File Name="plain.txt"></File>`)

	loaded, files, err := c.Load("/originals", "")
	require.NoError(t, err)
	require.Len(t, files, len(names)+1)

	for _, name := range names {
		path := filepath.Join("/originals", "d\xffir", name)
		assert.True(t, loaded.Originals.Contains(path), "%q", name)
	}
	for _, f := range files {
		if f.Name == "plain.txt" {
			continue
		}
		d, ok := f.Hash()
		require.True(t, ok)
		assert.Equal(t, *digestOf(f.Name), d)
	}
}
