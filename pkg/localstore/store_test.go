package localstore_test

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dashjay/obspath/pkg/backend"
	"github.com/dashjay/obspath/pkg/condition"
	"github.com/dashjay/obspath/pkg/localstore"
	"github.com/dashjay/obspath/pkg/obserr"
	"github.com/dashjay/obspath/pkg/storpath"
)

func newStore(t *testing.T, files map[string]string) *localstore.Store {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0o644))
	}
	return localstore.New(fs)
}

func strs(paths []storpath.Path) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, p.String())
	}
	return out
}

func local(s string) storpath.LocalPath { return storpath.NewLocalPath(s) }

func TestList(t *testing.T) {
	store := newStore(t, map[string]string{
		"/d/a.txt":     "a",
		"/d/b.tmp":     "bb",
		"/d/sub/c.txt": "ccc",
		"/d/log-1":     "",
	})
	ctx := context.Background()

	paths, err := store.List(ctx, local("/d"), backend.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"/d/a.txt", "/d/b.tmp", "/d/log-1", "/d/sub/c.txt"}, strs(paths))

	paths, err = store.List(ctx, local("/d/"), backend.ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, paths, 2)

	paths, err = store.List(ctx, local("/d"), backend.ListOptions{StartsWith: "log"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/d/log-1"}, strs(paths))

	paths, err = store.ListDir(ctx, local("/d"))
	require.NoError(t, err)
	assert.Equal(t, []string{"/d/a.txt", "/d/b.tmp", "/d/log-1", "/d/sub/"}, strs(paths))

	cond := condition.Must(">", 10)
	_, err = store.List(ctx, local("/d"), backend.ListOptions{Condition: &cond})
	assert.True(t, obserr.Is(err, obserr.KindConditionNotMet))

	_, err = store.List(ctx, local("/missing"), backend.ListOptions{})
	assert.True(t, obserr.IsNotFound(err))
}

func TestGlobWalkfilesFirst(t *testing.T) {
	store := newStore(t, map[string]string{"/d/a.txt": "", "/d/b.tmp": "", "/d/sub/c.tmp": ""})
	ctx := context.Background()

	paths, err := store.Glob(ctx, local("/d"), "*.tmp", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"/d/b.tmp"}, strs(paths))

	paths, err = store.Walkfiles(ctx, local("/d"), "*.tmp")
	require.NoError(t, err)
	assert.Equal(t, []string{"/d/b.tmp", "/d/sub/c.tmp"}, strs(paths))

	first, err := store.First(ctx, local("/d"))
	require.NoError(t, err)
	assert.Equal(t, "/d/a.txt", first.String())
}

func TestExistenceAndStat(t *testing.T) {
	store := newStore(t, map[string]string{"/d/a.txt": "hello"})
	ctx := context.Background()

	cases := []struct {
		path                  string
		exists, isFile, isDir bool
	}{
		{"/d", true, false, true},
		{"/d/a.txt", true, true, false},
		{"/d/nope", false, false, false},
	}
	for _, tc := range cases {
		ok, err := store.Exists(ctx, local(tc.path))
		require.NoError(t, err)
		assert.Equal(t, tc.exists, ok, tc.path)
		ok, err = store.IsFile(ctx, local(tc.path))
		require.NoError(t, err)
		assert.Equal(t, tc.isFile, ok, tc.path)
		ok, err = store.IsDir(ctx, local(tc.path))
		require.NoError(t, err)
		assert.Equal(t, tc.isDir, ok, tc.path)
	}

	size, err := store.Getsize(ctx, local("/d/a.txt"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	info, err := store.Stat(ctx, local("/d/a.txt"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)

	_, err = store.Stat(ctx, local("/d/nope"))
	assert.True(t, obserr.IsNotFound(err))

	_, err = store.Exists(ctx, storpath.MustParse("s3://bucket/key"))
	assert.True(t, obserr.Is(err, obserr.KindValidation))
}

func TestReadWriteRemove(t *testing.T) {
	store := newStore(t, nil)
	ctx := context.Background()
	p := local("/out/deep/f.txt")

	require.NoError(t, store.WriteObject(ctx, p, []byte("data")))
	data, err := store.ReadObject(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))

	err = store.Remove(ctx, local("/out/deep"))
	assert.True(t, obserr.Is(err, obserr.KindValidation))

	require.NoError(t, store.Remove(ctx, p))
	err = store.Remove(ctx, p)
	assert.True(t, obserr.IsNotFound(err))

	require.NoError(t, store.Rmtree(ctx, local("/out")))
	ok, err := store.Exists(ctx, local("/out"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCopyAndCopytree(t *testing.T) {
	store := newStore(t, map[string]string{"/src/a.txt": "a", "/src/sub/b.txt": "b"})
	ctx := context.Background()

	require.NoError(t, store.Copy(ctx, local("/src/a.txt"), local("/dst/")))
	data, err := afero.ReadFile(store.Fs(), "/dst/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))

	require.NoError(t, store.Copy(ctx, local("/src/a.txt"), local("/dst/renamed.txt")))
	ok, err := store.IsFile(ctx, local("/dst/renamed.txt"))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Copytree(ctx, local("/src"), local("/tree")))
	data, err = afero.ReadFile(store.Fs(), "/tree/sub/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "b", string(data))

	err = store.Copytree(ctx, local("/src"), local("/tree"))
	assert.True(t, obserr.Is(err, obserr.KindValidation))

	err = store.Copy(ctx, local("/src/sub"), local("/x"))
	assert.True(t, obserr.Is(err, obserr.KindValidation))
}
