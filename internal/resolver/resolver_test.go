package resolver

import (
	"context"
	"crypto/md5"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dedupe-go/internal/hash"
	"dedupe-go/internal/index"
	"dedupe-go/internal/tree"
)

// failingMkdirFs refuses to create directories.
type failingMkdirFs struct {
	afero.Fs
}

func (failingMkdirFs) MkdirAll(path string, _ os.FileMode) error {
	return &os.PathError{Op: "mkdir", Path: path, Err: os.ErrPermission}
}

type fixture struct {
	fs     afero.Fs
	forest *tree.Forest
	index  *index.Index
}

func newFixture(t *testing.T, candidatesRoot string) *fixture {
	t.Helper()
	return &fixture{
		fs:     afero.NewMemMapFs(),
		forest: tree.NewForest("/orig", candidatesRoot),
		index:  index.New(),
	}
}

func (fx *fixture) add(t *testing.T, origin tree.Origin, path, content string) *tree.FileNode {
	t.Helper()
	require.NoError(t, fx.fs.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, afero.WriteFile(fx.fs, path, []byte(content), 0644))

	d := hash.Digest(md5.Sum([]byte(content)))
	f, err := fx.forest.Tree(origin).AddFile(path, &d)
	require.NoError(t, err)
	fx.index.Add(f)
	return f
}

func exists(t *testing.T, fsys afero.Fs, path string) bool {
	t.Helper()
	ok, err := afero.Exists(fsys, path)
	require.NoError(t, err)
	return ok
}

func TestResolve_MovesDuplicatesToMirroredPath(t *testing.T) {
	fx := newFixture(t, "")
	fx.add(t, tree.Originals, "/orig/a.txt", "hello")
	fx.add(t, tree.Originals, "/orig/sub/b.txt", "hello")
	fx.add(t, tree.Originals, "/orig/c.txt", "world")

	r := New(fx.fs, fx.forest, Options{Destination: "/dupes", RelocateOriginals: true}, zap.NewNop())
	res, err := r.Resolve(context.Background(), fx.index.Duplicates())
	require.NoError(t, err)

	assert.Equal(t, Result{Moved: 1}, res)
	assert.True(t, exists(t, fx.fs, "/orig/a.txt"))
	assert.False(t, exists(t, fx.fs, "/orig/sub/b.txt"))
	assert.True(t, exists(t, fx.fs, "/dupes/sub/b.txt"))
	assert.True(t, exists(t, fx.fs, "/orig/c.txt"))

	data, err := afero.ReadFile(fx.fs, "/dupes/sub/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestResolve_ProtectsOriginals(t *testing.T) {
	fx := newFixture(t, "/cand")
	fx.add(t, tree.Originals, "/orig/a.txt", "same")
	fx.add(t, tree.Originals, "/orig/b.txt", "same")
	fx.add(t, tree.Candidates, "/cand/x/a.txt", "same")

	r := New(fx.fs, fx.forest, Options{Destination: "/dupes"}, zap.NewNop())
	res, err := r.Resolve(context.Background(), fx.index.Duplicates())
	require.NoError(t, err)

	assert.Equal(t, Result{Moved: 1, Skipped: 1}, res)
	assert.True(t, exists(t, fx.fs, "/orig/b.txt"), "originals are protected")
	assert.True(t, exists(t, fx.fs, "/dupes/DuplicateCandidates/x/a.txt"), "candidates move relative to their own root")
	assert.False(t, exists(t, fx.fs, "/cand/x/a.txt"))
}

func TestResolve_RelocateOriginalsWhenEnabled(t *testing.T) {
	fx := newFixture(t, "/cand")
	fx.add(t, tree.Originals, "/orig/a.txt", "same")
	fx.add(t, tree.Originals, "/orig/b.txt", "same")

	r := New(fx.fs, fx.forest, Options{Destination: "/dupes", RelocateOriginals: true}, zap.NewNop())
	res, err := r.Resolve(context.Background(), fx.index.Duplicates())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Moved)
	assert.True(t, exists(t, fx.fs, "/dupes/Originals/b.txt"))
}

func TestResolve_SkipsVanishedSource(t *testing.T) {
	fx := newFixture(t, "")
	fx.add(t, tree.Originals, "/orig/a.txt", "same")
	fx.add(t, tree.Originals, "/orig/b.txt", "same")
	require.NoError(t, fx.fs.Remove("/orig/b.txt"))

	r := New(fx.fs, fx.forest, Options{Destination: "/dupes", RelocateOriginals: true}, zap.NewNop())
	res, err := r.Resolve(context.Background(), fx.index.Duplicates())
	require.NoError(t, err)

	assert.Equal(t, Result{Skipped: 1}, res)
	assert.False(t, exists(t, fx.fs, "/dupes/b.txt"))
}

func TestResolve_DoesNotOverwriteDestination(t *testing.T) {
	fx := newFixture(t, "")
	fx.add(t, tree.Originals, "/orig/a.txt", "same")
	fx.add(t, tree.Originals, "/orig/b.txt", "same")
	require.NoError(t, fx.fs.MkdirAll("/dupes", 0755))
	require.NoError(t, afero.WriteFile(fx.fs, "/dupes/b.txt", []byte("already here"), 0644))

	r := New(fx.fs, fx.forest, Options{Destination: "/dupes", RelocateOriginals: true}, zap.NewNop())
	res, err := r.Resolve(context.Background(), fx.index.Duplicates())
	require.NoError(t, err)

	assert.Equal(t, Result{Skipped: 1}, res)
	assert.True(t, exists(t, fx.fs, "/orig/b.txt"))
	data, err := afero.ReadFile(fx.fs, "/dupes/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "already here", string(data))
}

func TestResolve_MkdirFailureAbortsOnlyThatFile(t *testing.T) {
	fx := newFixture(t, "")
	fx.add(t, tree.Originals, "/orig/a.txt", "same")
	fx.add(t, tree.Originals, "/orig/b.txt", "same")
	fx.add(t, tree.Originals, "/orig/c.txt", "same")

	r := New(failingMkdirFs{fx.fs}, fx.forest, Options{Destination: "/dupes", RelocateOriginals: true}, zap.NewNop())
	res, err := r.Resolve(context.Background(), fx.index.Duplicates())
	require.NoError(t, err)

	assert.Equal(t, Result{Failed: 2}, res)
	assert.True(t, exists(t, fx.fs, "/orig/b.txt"))
	assert.True(t, exists(t, fx.fs, "/orig/c.txt"))
}

func TestResolve_Cancelled(t *testing.T) {
	fx := newFixture(t, "")
	fx.add(t, tree.Originals, "/orig/a.txt", "same")
	fx.add(t, tree.Originals, "/orig/b.txt", "same")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(fx.fs, fx.forest, Options{Destination: "/dupes", RelocateOriginals: true}, zap.NewNop())
	res, err := r.Resolve(ctx, fx.index.Duplicates())

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, res.Moved)
	assert.True(t, exists(t, fx.fs, "/orig/b.txt"))
}

func TestResolve_TwoRootsSameRelativePathDoNotCollide(t *testing.T) {
	fx := newFixture(t, "/cand")
	fx.add(t, tree.Originals, "/orig/a.txt", "same")
	fx.add(t, tree.Originals, "/orig/sub/x.txt", "same")
	fx.add(t, tree.Candidates, "/cand/sub/x.txt", "same")

	r := New(fx.fs, fx.forest, Options{Destination: "/dupes", RelocateOriginals: true}, zap.NewNop())
	res, err := r.Resolve(context.Background(), fx.index.Duplicates())
	require.NoError(t, err)

	assert.Equal(t, Result{Moved: 2}, res)
	assert.True(t, exists(t, fx.fs, "/dupes/Originals/sub/x.txt"))
	assert.True(t, exists(t, fx.fs, "/dupes/DuplicateCandidates/sub/x.txt"))
	assert.True(t, exists(t, fx.fs, "/orig/a.txt"))
}
