package swiftstore_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dashjay/obspath/pkg/backend"
	"github.com/dashjay/obspath/pkg/condition"
	"github.com/dashjay/obspath/pkg/config"
	"github.com/dashjay/obspath/pkg/obserr"
	"github.com/dashjay/obspath/pkg/storpath"
	"github.com/dashjay/obspath/pkg/swiftstore"
)

const storageURL = "https://swift.example.com/v1/AUTH_t"

func newFakeStore(conn *recordingConn) *swiftstore.Store {
	return swiftstore.New(config.Default(), swiftstore.WithConn(conn, storageURL))
}

func strs(paths []storpath.Path) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, p.String())
	}
	return out
}

func TestListLimit(t *testing.T) {
	conn := newRecordingConn().add("c", numberedNames("data/", 1234)...)
	store := newFakeStore(conn)

	paths, err := store.List(context.Background(), storpath.MustParse("swift://AUTH_t/c/data"), backend.ListOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, paths, 10)
	for _, p := range paths {
		sp := p.(storpath.SwiftPath)
		assert.Equal(t, "AUTH_t", sp.Tenant())
		assert.Equal(t, "c", sp.Container())
	}
	assert.Equal(t, "swift://AUTH_t/c/data/00000", paths[0].String())
	assert.Equal(t, 1, conn.objectsCalls)
}

func TestListPaginatesWithMarker(t *testing.T) {
	names := numberedNames("d/", 12345)
	conn := newRecordingConn().add("c", names...)
	store := newFakeStore(conn)

	paths, err := store.List(context.Background(), storpath.MustParse("swift://AUTH_t/c"), backend.ListOptions{})
	require.NoError(t, err)
	require.Len(t, paths, len(names))
	for i, p := range paths {
		assert.Equal(t, "swift://AUTH_t/c/"+names[i], p.String())
	}
	assert.Equal(t, 2, conn.objectsCalls)

	conn.objectsCalls = 0
	paths, err = store.List(context.Background(), storpath.MustParse("swift://AUTH_t/c"), backend.ListOptions{Limit: 10001})
	require.NoError(t, err)
	assert.Len(t, paths, 10001)
	assert.Equal(t, 2, conn.objectsCalls)
}

func TestListDirAndTenant(t *testing.T) {
	conn := newRecordingConn().
		add("c", "dir/a.txt", "dir/sub/b.txt", "dir/sub/c.txt", "top.txt").
		add("c_segments", "dir/a.txt/0001").
		add("other")
	store := newFakeStore(conn)
	ctx := context.Background()

	paths, err := store.ListDir(ctx, storpath.MustParse("swift://AUTH_t/c/dir"))
	require.NoError(t, err)
	assert.Equal(t, []string{"swift://AUTH_t/c/dir/a.txt", "swift://AUTH_t/c/dir/sub/"}, strs(paths))

	paths, err = store.ListDir(ctx, storpath.MustParse("swift://AUTH_t"))
	require.NoError(t, err)
	assert.Equal(t, []string{"swift://AUTH_t/c", "swift://AUTH_t/other"}, strs(paths))

	paths, err = store.List(ctx, storpath.MustParse("swift://AUTH_t"), backend.ListOptions{IncludeSegmentContainers: true})
	require.NoError(t, err)
	assert.Len(t, paths, 3)
}

func TestListMissingContainer(t *testing.T) {
	store := newFakeStore(newRecordingConn())
	_, err := store.List(context.Background(), storpath.MustParse("swift://AUTH_t/gone"), backend.ListOptions{})
	assert.True(t, obserr.IsNotFound(err))
}

func TestListConditionAndRetries(t *testing.T) {
	conn := newRecordingConn().add("c", "a", "b")
	store := newFakeStore(conn)
	cond := condition.Must(">=", 3)

	ctx := config.Use(context.Background(), config.WithRetries(2), config.WithInitialSleep(0))
	_, err := store.List(ctx, storpath.MustParse("swift://AUTH_t/c"), backend.ListOptions{Condition: &cond})
	assert.True(t, obserr.Is(err, obserr.KindConditionNotMet))
	assert.Equal(t, 3, conn.objectsCalls)

	conn.objectsCalls = 0
	conn.listErrs = []error{statusError(503), statusError(503)}
	paths, err := store.List(ctx, storpath.MustParse("swift://AUTH_t/c"), backend.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, paths, 2)
	assert.Equal(t, 3, conn.objectsCalls)

	conn.objectsCalls = 0
	conn.listErrs = []error{statusError(503), statusError(503)}
	ctx = config.Use(context.Background(), config.WithRetries(1), config.WithInitialSleep(time.Nanosecond))
	_, err = store.List(ctx, storpath.MustParse("swift://AUTH_t/c"), backend.ListOptions{})
	assert.True(t, obserr.Is(err, obserr.KindUnavailable))
	assert.Equal(t, 2, conn.objectsCalls)
}

func TestWalkfilesGlobFirst(t *testing.T) {
	conn := newRecordingConn().add("c", "d/a.tmp", "d/b.txt", "d/sub/c.tmp", "d/log-1")
	store := newFakeStore(conn)
	ctx := context.Background()

	paths, err := store.Walkfiles(ctx, storpath.MustParse("swift://AUTH_t/c/d/"), "*.tmp")
	require.NoError(t, err)
	assert.Equal(t, []string{"swift://AUTH_t/c/d/a.tmp", "swift://AUTH_t/c/d/sub/c.tmp"}, strs(paths))

	paths, err = store.Glob(ctx, storpath.MustParse("swift://AUTH_t/c/d"), "log-*", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"swift://AUTH_t/c/d/log-1"}, strs(paths))

	first, err := store.First(ctx, storpath.MustParse("swift://AUTH_t/c/d/"))
	require.NoError(t, err)
	assert.Equal(t, "swift://AUTH_t/c/d/a.tmp", first.String())

	none, err := store.First(ctx, storpath.MustParse("swift://AUTH_t/c/nothing/"))
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestExistenceChecks(t *testing.T) {
	conn := newRecordingConn().add("c", "dir/file.txt", "dir/sub/x", "dirty")
	store := newFakeStore(conn)
	ctx := context.Background()

	cases := []struct {
		path                  string
		exists, isFile, isDir bool
	}{
		{"swift://AUTH_t", true, false, true},
		{"swift://AUTH_t/c", true, false, true},
		{"swift://AUTH_t/gone", false, false, false},
		{"swift://AUTH_t/c/dir", true, false, true},
		{"swift://AUTH_t/c/dir/", true, false, true},
		{"swift://AUTH_t/c/dir/file.txt", true, true, false},
		{"swift://AUTH_t/c/dir/fi", false, false, false},
		{"swift://AUTH_t/c/dirty", true, true, false},
		{"swift://AUTH_t/c/missing", false, false, false},
	}
	for _, tc := range cases {
		p := storpath.MustParse(tc.path)
		exists, err := store.Exists(ctx, p)
		require.NoError(t, err, tc.path)
		assert.Equal(t, tc.exists, exists, "exists %s", tc.path)

		isFile, err := store.IsFile(ctx, p)
		require.NoError(t, err, tc.path)
		assert.Equal(t, tc.isFile, isFile, "isfile %s", tc.path)

		isDir, err := store.IsDir(ctx, p)
		require.NoError(t, err, tc.path)
		assert.Equal(t, tc.isDir, isDir, "isdir %s", tc.path)
	}
}

func TestRmtreeContainerIsOneCall(t *testing.T) {
	conn := newRecordingConn().add("c", numberedNames("", 10)...)
	store := newFakeStore(conn)
	ctx := context.Background()

	require.NoError(t, store.Rmtree(ctx, storpath.MustParse("swift://AUTH_t/c")))
	assert.Equal(t, 1, conn.containerDeleteCalls)
	assert.Equal(t, 0, conn.objectsCalls)
	assert.Equal(t, 0, conn.objectDeleteCalls)

	// already gone
	require.NoError(t, store.Rmtree(ctx, storpath.MustParse("swift://AUTH_t/c")))
	assert.Equal(t, 2, conn.containerDeleteCalls)
}

func TestRmtreePrefix(t *testing.T) {
	conn := newRecordingConn().add("c", append(numberedNames("tree/", 25), "treehouse", "zzz")...)
	store := newFakeStore(conn)

	require.NoError(t, store.Rmtree(context.Background(), storpath.MustParse("swift://AUTH_t/c/tree")))
	assert.Equal(t, 25, conn.objectDeleteCalls)
	assert.Equal(t, []string{"treehouse", "zzz"}, conn.containers["c"])
	// one listing to delete, one to verify
	assert.Equal(t, 2, conn.objectsCalls)
	assert.Equal(t, 0, conn.containerDeleteCalls)
}

func TestRmtreeNeedsContainer(t *testing.T) {
	conn := newRecordingConn()
	err := newFakeStore(conn).Rmtree(context.Background(), storpath.MustParse("swift://AUTH_t"))
	assert.True(t, obserr.Is(err, obserr.KindValidation))
	assert.Equal(t, 0, conn.containerDeleteCalls)
}

func TestRemoveContainerRootIsRejected(t *testing.T) {
	conn := newRecordingConn().add("c", "a")
	store := newFakeStore(conn)
	ctx := context.Background()

	for _, p := range []string{"swift://AUTH_t/c", "swift://AUTH_t/c/", "swift://AUTH_t"} {
		err := store.Remove(ctx, storpath.MustParse(p))
		assert.True(t, obserr.Is(err, obserr.KindValidation), p)
	}
	assert.Equal(t, 0, conn.objectDeleteCalls)
	assert.Equal(t, 0, conn.containerDeleteCalls)

	require.NoError(t, store.Remove(ctx, storpath.MustParse("swift://AUTH_t/c/a")))
	assert.Equal(t, 1, conn.objectDeleteCalls)

	err := store.Remove(ctx, storpath.MustParse("swift://AUTH_t/c/a"))
	assert.True(t, obserr.IsNotFound(err))
}

func TestRemoveContainer(t *testing.T) {
	conn := newRecordingConn().add("c")
	store := newFakeStore(conn)

	err := store.RemoveContainer(context.Background(), storpath.MustParse("swift://AUTH_t/c/obj"))
	assert.True(t, obserr.Is(err, obserr.KindValidation))
	require.NoError(t, store.RemoveContainer(context.Background(), storpath.MustParse("swift://AUTH_t/c")))
	assert.Equal(t, 1, conn.containerDeleteCalls)
}

func TestWrongVariantIsRejected(t *testing.T) {
	store := newFakeStore(newRecordingConn())
	_, err := store.List(context.Background(), storpath.MustParse("s3://bucket/key"), backend.ListOptions{})
	assert.True(t, obserr.Is(err, obserr.KindValidation))
	_, err = store.Exists(context.Background(), storpath.MustParse("swift://"))
	assert.True(t, obserr.Is(err, obserr.KindValidation))
}

func TestMissingCredentials(t *testing.T) {
	store := swiftstore.New(config.Default())
	_, err := store.List(context.Background(), storpath.MustParse("swift://AUTH_t/c"), backend.ListOptions{})
	assert.True(t, obserr.Is(err, obserr.KindConfiguration))
	assert.Contains(t, err.Error(), "OS_USERNAME")
}

func TestToURL(t *testing.T) {
	store := newFakeStore(newRecordingConn())
	u, err := store.ToURL(storpath.MustParse("swift://AUTH_t/c/dir/obj.txt"))
	require.NoError(t, err)
	assert.Equal(t, storageURL+"/c/dir/obj.txt", u)

	u, err = store.ToURL(storpath.MustParse("swift://AUTH_t"))
	require.NoError(t, err)
	assert.Equal(t, storageURL, u)
}

func TestTempURL(t *testing.T) {
	cfg := config.Default()
	cfg.Swift.AuthURL = "https://swift.example.com/auth/v1.0"
	cfg.Swift.TempURLKey = "secret"
	store := swiftstore.New(cfg, swiftstore.WithConn(newRecordingConn(), storageURL))
	p := storpath.MustParse("swift://AUTH_t/c/dir/a b.txt")

	raw, err := store.TempURL(context.Background(), p, swiftstore.TempURLOptions{Lifetime: time.Hour})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "https://swift.example.com/v1/AUTH_t/c/dir/a%20b.txt?temp_url_sig="), raw)
	assert.True(t, strings.HasSuffix(raw, "&inline"), raw)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	expires := q.Get("temp_url_expires")
	mac := hmac.New(sha1.New, []byte("secret"))
	mac.Write([]byte("GET\n" + expires + "\n/v1/AUTH_t/c/dir/a b.txt"))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), q.Get("temp_url_sig"))

	raw, err = store.TempURL(context.Background(), p, swiftstore.TempURLOptions{Attachment: true, Filename: "report.txt"})
	require.NoError(t, err)
	assert.NotContains(t, raw, "inline")
	assert.True(t, strings.HasSuffix(raw, "&filename=report.txt"), raw)

	_, err = store.TempURL(context.Background(), storpath.MustParse("swift://AUTH_t/c"), swiftstore.TempURLOptions{})
	assert.True(t, obserr.Is(err, obserr.KindValidation))

	noKey := swiftstore.New(config.Default(), swiftstore.WithConn(newRecordingConn(), storageURL))
	_, err = noKey.TempURL(context.Background(), p, swiftstore.TempURLOptions{})
	assert.True(t, obserr.Is(err, obserr.KindConfiguration))
}
