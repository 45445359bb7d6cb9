package swiftstore_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ncw/swift/v2/swifttest"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dashjay/obspath/pkg/backend"
	"github.com/dashjay/obspath/pkg/config"
	"github.com/dashjay/obspath/pkg/obserr"
	"github.com/dashjay/obspath/pkg/storpath"
	"github.com/dashjay/obspath/pkg/swiftstore"
)

func newServerConfig(t *testing.T) *config.Config {
	t.Helper()
	srv, err := swifttest.NewSwiftServer("localhost")
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Swift.AuthURL = srv.AuthURL
	cfg.Swift.Username = swifttest.TEST_ACCOUNT
	cfg.Swift.Password = swifttest.TEST_ACCOUNT
	return cfg
}

func newServerStore(t *testing.T) (*swiftstore.Store, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	return swiftstore.New(newServerConfig(t), swiftstore.WithFs(fs)), fs
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	store, fs := newServerStore(t)
	ctx := context.Background()
	content := []byte("hello from a.txt")
	require.NoError(t, afero.WriteFile(fs, "/src/a.txt", content, 0o644))
	require.NoError(t, afero.WriteFile(fs, "/src/nested/b.txt", []byte("b"), 0o644))

	dir := storpath.MustParse("swift://AUTH_test/cont/dir/")
	res, err := store.Upload(ctx, dir, []string{"/src"}, backend.UploadOptions{BaseDir: "/src"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"swift://AUTH_test/cont/dir/a.txt", "swift://AUTH_test/cont/dir/nested/b.txt"}, strs(res.Completed))

	dl, err := store.Download(ctx, dir, "/out", backend.DownloadOptions{})
	require.NoError(t, err)
	assert.Len(t, dl.Completed, 2)

	got, err := afero.ReadFile(fs, "/out/a.txt")
	require.NoError(t, err)
	assert.Equal(t, content, got)
	got, err = afero.ReadFile(fs, filepath.Join("/out", "nested", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "b", string(got))

	require.NoError(t, store.DownloadObject(ctx, storpath.MustParse("swift://AUTH_test/cont/dir/a.txt"), "/single/copy.txt"))
	got, err = afero.ReadFile(fs, "/single/copy.txt")
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestUploadSkipIdentical(t *testing.T) {
	store, fs := newServerStore(t)
	require.NoError(t, afero.WriteFile(fs, "/src/a.txt", []byte("same"), 0o644))
	dir := storpath.MustParse("swift://AUTH_test/cont/")

	res, err := store.Upload(context.Background(), dir, []string{"/src/a.txt"}, backend.UploadOptions{BaseDir: "/src"})
	require.NoError(t, err)
	require.Len(t, res.Completed, 1)

	ctx := config.Use(context.Background(), config.WithSkipIdentical(true))
	res, err = store.Upload(ctx, dir, []string{"/src/a.txt"}, backend.UploadOptions{BaseDir: "/src"})
	require.NoError(t, err)
	assert.Empty(t, res.Completed)
	assert.Equal(t, []string{"swift://AUTH_test/cont/a.txt"}, strs(res.Skipped))

	require.NoError(t, afero.WriteFile(fs, "/src/a.txt", []byte("changed"), 0o644))
	res, err = store.Upload(ctx, dir, []string{"/src/a.txt"}, backend.UploadOptions{BaseDir: "/src"})
	require.NoError(t, err)
	assert.Len(t, res.Completed, 1)
}

func TestServerReadWriteStat(t *testing.T) {
	store, _ := newServerStore(t)
	ctx := context.Background()
	p := storpath.MustParse("swift://AUTH_test/cont/obj/data.bin")

	require.NoError(t, store.WriteObject(ctx, p, []byte("12345")))
	data, err := store.ReadObject(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "12345", string(data))

	info, err := store.Stat(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)
	assert.NotEmpty(t, info.ETag)
	assert.False(t, info.IsDir())

	size, err := store.Getsize(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	info, err = store.Stat(ctx, storpath.MustParse("swift://AUTH_test/cont"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, int64(1), info.Count)

	size, err = store.Getsize(ctx, storpath.MustParse("swift://AUTH_test/cont"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)

	_, err = store.Stat(ctx, storpath.MustParse("swift://AUTH_test/cont/obj"))
	assert.True(t, obserr.IsNotFound(err))
	_, err = store.ReadObject(ctx, storpath.MustParse("swift://AUTH_test/cont/missing"))
	assert.True(t, obserr.IsNotFound(err))
}

func TestServerExistsRemoveRmtree(t *testing.T) {
	store, _ := newServerStore(t)
	ctx := context.Background()
	for _, name := range []string{"tree/a", "tree/b/c", "keep"} {
		require.NoError(t, store.WriteObject(ctx, storpath.MustParse("swift://AUTH_test/cont/"+name), []byte(name)))
	}

	ok, err := store.IsDir(ctx, storpath.MustParse("swift://AUTH_test/cont/tree"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.IsFile(ctx, storpath.MustParse("swift://AUTH_test/cont/keep"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.Exists(ctx, storpath.MustParse("swift://AUTH_test/nope"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Rmtree(ctx, storpath.MustParse("swift://AUTH_test/cont/tree")))
	paths, err := store.List(ctx, storpath.MustParse("swift://AUTH_test/cont"), backend.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"swift://AUTH_test/cont/keep"}, strs(paths))

	// a container is removed with one call, which fails while it holds objects
	err = store.Rmtree(ctx, storpath.MustParse("swift://AUTH_test/cont"))
	assert.True(t, obserr.Is(err, obserr.KindConflict))

	require.NoError(t, store.Remove(ctx, storpath.MustParse("swift://AUTH_test/cont/keep")))
	require.NoError(t, store.Rmtree(ctx, storpath.MustParse("swift://AUTH_test/cont")))
	ok, err = store.Exists(ctx, storpath.MustParse("swift://AUTH_test/cont"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestServerFileAndURL(t *testing.T) {
	store, _ := newServerStore(t)
	ctx := context.Background()
	p := storpath.MustParse("swift://AUTH_test/cont/file/f.txt")

	w, err := backend.Open(ctx, store, p, "w")
	require.NoError(t, err)
	_, err = w.Write([]byte("written through a file"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := backend.Open(ctx, store, p, "r")
	require.NoError(t, err)
	buf := make([]byte, 7)
	_, err = r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "written", string(buf))
	require.NoError(t, r.Close())

	u, err := store.ToURL(p)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "http://"), u)
	assert.True(t, strings.HasSuffix(u, "/cont/file/f.txt"), u)
}

func TestAuthCache(t *testing.T) {
	cfg := newServerConfig(t)
	cache, err := swiftstore.OpenAuthCache(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	defer cache.Close()
	ctx := context.Background()

	store := swiftstore.New(cfg, swiftstore.WithAuthCache(cache), swiftstore.WithFs(afero.NewMemMapFs()))
	_, err = store.Exists(ctx, storpath.MustParse("swift://AUTH_test"))
	require.NoError(t, err)

	entry, ok, err := cache.Get("AUTH_test", swiftstore.Fingerprint(cfg.Swift))
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, entry.Token)
	assert.NotEmpty(t, entry.StorageURL)

	// a fresh pool picks up the cached token
	again := swiftstore.New(cfg, swiftstore.WithAuthCache(cache))
	u, err := again.ToURL(storpath.MustParse("swift://AUTH_test/c"))
	require.NoError(t, err)
	assert.Equal(t, entry.StorageURL+"/c", u)

	// other credentials never see it
	wrong := cfg.Clone()
	wrong.Swift.Password = "not-the-key"
	_, err = swiftstore.New(wrong, swiftstore.WithAuthCache(cache)).Exists(ctx, storpath.MustParse("swift://AUTH_test"))
	assert.True(t, obserr.Is(err, obserr.KindUnauthorized))
	_, ok, err = cache.Get("AUTH_test", swiftstore.Fingerprint(cfg.Swift))
	require.NoError(t, err)
	assert.False(t, ok)
}
