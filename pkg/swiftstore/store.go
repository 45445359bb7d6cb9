// Package swiftstore implements path operations on OpenStack Swift with
// ncw/swift.
package swiftstore

import (
	"context"
	"os"
	"strings"

	"github.com/ncw/swift/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/dashjay/obspath/pkg/backend"
	"github.com/dashjay/obspath/pkg/condition"
	"github.com/dashjay/obspath/pkg/config"
	"github.com/dashjay/obspath/pkg/obserr"
	"github.com/dashjay/obspath/pkg/retry"
	"github.com/dashjay/obspath/pkg/storpath"
	"github.com/dashjay/obspath/pkg/types"
)

// maxListing is the largest page a swift proxy returns by default.
const maxListing = 10000

const dirMode = os.ModeDir | 0o755

// content types used for directory marker objects
var dirMarkerTypes = []string{"application/directory", "text/directory"}

type Store struct {
	cfg  *config.Config
	pool *ConnPool
	fs   afero.Fs

	cache *AuthCache
}

var _ backend.Remote = (*Store)(nil)

type Option func(*Store)

// WithConn makes the store use conn for every tenant. storageURL is what
// ToURL builds on.
func WithConn(conn Conn, storageURL string) Option {
	return func(s *Store) { s.pool = NewConnPoolWith(conn, storageURL) }
}

// WithAuthCache persists auth tokens between processes.
func WithAuthCache(cache *AuthCache) Option {
	return func(s *Store) { s.cache = cache }
}

// WithFs sets the local filesystem used by uploads and downloads.
func WithFs(fs afero.Fs) Option {
	return func(s *Store) { s.fs = fs }
}

func New(cfg *config.Config, opts ...Option) *Store {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Store{cfg: cfg, fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(s)
	}
	if s.pool == nil {
		s.pool = NewConnPool(cfg.Swift, s.cache)
	}
	return s
}

func (s *Store) settings(ctx context.Context) *config.Config {
	return config.From(ctx, s.cfg)
}

func (s *Store) policy(ctx context.Context, op string, kinds []obserr.Kind) retry.Policy {
	cfg := s.settings(ctx)
	return backend.Policy(cfg, cfg.SwiftRetries(), "swift."+op, kinds)
}

func resolve(p storpath.Path) (storpath.SwiftPath, error) {
	sp, ok := p.(storpath.SwiftPath)
	if !ok {
		return storpath.SwiftPath{}, obserr.Validation("not a swift path: %s", p)
	}
	if sp.Tenant() == "" {
		return storpath.SwiftPath{}, obserr.Validation("path has no tenant: %s", p)
	}
	return sp, nil
}

func resolveContainer(p storpath.Path, op string) (storpath.SwiftPath, error) {
	sp, err := resolve(p)
	if err != nil {
		return sp, err
	}
	if sp.Container() == "" {
		return sp, obserr.Validation("%s needs a container: %s", op, sp)
	}
	return sp, nil
}

func logger(p storpath.SwiftPath) *logrus.Entry {
	return logrus.WithField("backend", "swift").
		WithField("tenant", p.Tenant()).
		WithField("container", p.Container()).
		WithField("resource", p.Resource())
}

func withTrailingSlash(resource string) string {
	if resource == "" || strings.HasSuffix(resource, "/") {
		return resource
	}
	return resource + "/"
}

func isDirMarker(fi types.FileInfo) bool {
	for _, t := range dirMarkerTypes {
		if fi.ContentType == t {
			return true
		}
	}
	return false
}

// with runs fn on the tenant's connection. A rejected token drops the
// connection so the next attempt authenticates again.
func (s *Store) with(ctx context.Context, sp storpath.SwiftPath, fn func(Conn) error) error {
	conn, err := s.pool.Conn(ctx, sp.Tenant())
	if err != nil {
		return err
	}
	err = fn(conn)
	if obserr.Is(err, obserr.KindUnauthorized) {
		s.pool.Invalidate(sp.Tenant())
	}
	return err
}

// listObjects pages through a container listing with markers. With asDir a
// "/" delimiter is used and sub directories come back with a trailing
// slash. At most limit entries are returned when limit > 0.
func listObjects(ctx context.Context, conn Conn, container, prefix string, asDir bool, limit int) (types.FileList, error) {
	var out = make(types.FileList, 0)
	opts := &swift.ObjectsOpts{Prefix: prefix}
	if asDir {
		opts.Delimiter = '/'
	}
	for {
		size := backend.PageSize(limit, len(out), maxListing)
		if size == 0 {
			break
		}
		opts.Limit = size
		objects, err := conn.Objects(ctx, container, opts)
		if err != nil {
			return nil, normalizeError(err, "list", container, prefix)
		}
		for _, o := range objects {
			fi := types.FileInfo{
				Path:        o.Name,
				Size:        o.Bytes,
				ModTime:     o.LastModified,
				ETag:        o.Hash,
				ContentType: o.ContentType,
			}
			if o.SubDir != "" {
				fi.Path = o.SubDir
				fi.Mode = dirMode
			}
			out = append(out, fi)
		}
		if len(objects) < size {
			break
		}
		opts.Marker = objects[len(objects)-1].Name
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// listContainers pages through the tenant's containers.
func listContainers(ctx context.Context, conn Conn, prefix string, limit int) (types.FileList, error) {
	var out = make(types.FileList, 0)
	opts := &swift.ContainersOpts{Prefix: prefix}
	for {
		size := backend.PageSize(limit, len(out), maxListing)
		if size == 0 {
			break
		}
		opts.Limit = size
		containers, err := conn.Containers(ctx, opts)
		if err != nil {
			return nil, normalizeError(err, "list containers", "", prefix)
		}
		for _, c := range containers {
			out = append(out, types.FileInfo{Path: c.Name, Size: c.Bytes, Count: c.Count, Mode: dirMode})
		}
		if len(containers) < size {
			break
		}
		opts.Marker = containers[len(containers)-1].Name
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) listOnce(ctx context.Context, sp storpath.SwiftPath, opts backend.ListOptions) ([]storpath.Path, error) {
	var paths []storpath.Path
	err := s.with(ctx, sp, func(conn Conn) error {
		if sp.Container() == "" {
			entries, err := listContainers(ctx, conn, opts.StartsWith, opts.Limit)
			if err != nil {
				return err
			}
			root := sp.TenantRoot()
			paths = make([]storpath.Path, 0, len(entries))
			for _, e := range entries {
				p := root.Child(e.Path)
				if !opts.IncludeSegmentContainers && p.IsSegmentContainer() {
					continue
				}
				paths = append(paths, p)
			}
			return nil
		}

		prefix := backend.EffectivePrefix(sp.Resource(), opts)
		entries, err := listObjects(ctx, conn, sp.Container(), prefix, opts.ListAsDir, opts.Limit)
		if err != nil {
			return err
		}
		root := sp.Root()
		paths = make([]storpath.Path, 0, len(entries))
		for _, e := range entries {
			if opts.IgnoreDirMarkers && isDirMarker(e) {
				continue
			}
			paths = append(paths, root.Child(e.Path))
		}
		return nil
	})
	return paths, err
}

// List lists the containers of a tenant, or the objects of a container
// whose names start with the path's resource.
func (s *Store) List(ctx context.Context, p storpath.Path, opts backend.ListOptions) ([]storpath.Path, error) {
	sp, err := resolve(p)
	if err != nil {
		return nil, err
	}
	logger(sp).WithField("starts_with", opts.StartsWith).WithField("limit", opts.Limit).Debugln("list objects")
	var manifest []string
	if opts.UseManifest {
		if manifest, err = backend.ReadManifest(ctx, s, sp); err != nil {
			return nil, err
		}
	}
	return retry.DoValue(ctx, s.policy(ctx, "list", backend.RetryList), func() ([]storpath.Path, error) {
		paths, err := s.listOnce(ctx, sp, opts)
		if err != nil {
			return nil, err
		}
		if err := backend.CheckList(opts.Condition, paths, manifest); err != nil {
			return nil, err
		}
		return paths, nil
	})
}

func (s *Store) ListDir(ctx context.Context, p storpath.Path) ([]storpath.Path, error) {
	return s.List(ctx, p, backend.ListOptions{ListAsDir: true})
}

// Glob lists the path as a directory with a prefix pattern ending in "*".
func (s *Store) Glob(ctx context.Context, p storpath.Path, pattern string, cond *condition.Condition) ([]storpath.Path, error) {
	prefix, err := backend.GlobPrefix(pattern)
	if err != nil {
		return nil, err
	}
	return s.List(ctx, p, backend.ListOptions{StartsWith: prefix, Condition: cond})
}

// First returns the first listed path, or nil when there is none.
func (s *Store) First(ctx context.Context, p storpath.Path) (storpath.Path, error) {
	sp, err := resolve(p)
	if err != nil {
		return nil, err
	}
	paths, err := retry.DoValue(ctx, s.policy(ctx, "first", backend.RetryStat), func() ([]storpath.Path, error) {
		return s.listOnce(ctx, sp, backend.ListOptions{Limit: 1})
	})
	if err != nil || len(paths) == 0 {
		return nil, err
	}
	return paths[0], nil
}

// Walkfiles lists every object below the path, skipping directory markers,
// whose name matches pattern.
func (s *Store) Walkfiles(ctx context.Context, p storpath.Path, pattern string) ([]storpath.Path, error) {
	sp, err := resolveContainer(p, "walkfiles")
	if err != nil {
		return nil, err
	}
	paths, err := retry.DoValue(ctx, s.policy(ctx, "walkfiles", backend.RetryStat), func() ([]storpath.Path, error) {
		return s.listOnce(ctx, sp, backend.ListOptions{IgnoreDirMarkers: true})
	})
	if err != nil {
		return nil, err
	}
	return backend.MatchName(paths, pattern)
}

// peek runs a limit-1 listing under prefix. On a tenant root it lists
// containers instead.
func (s *Store) peek(ctx context.Context, sp storpath.SwiftPath, prefix string) (types.FileList, error) {
	var entries types.FileList
	err := s.with(ctx, sp, func(conn Conn) error {
		var err error
		if sp.Container() == "" {
			entries, err = listContainers(ctx, conn, "", 1)
		} else {
			entries, err = listObjects(ctx, conn, sp.Container(), prefix, false, 1)
		}
		return err
	})
	return entries, err
}

func exactMatch(resource string, entries types.FileList) (types.FileInfo, bool) {
	if len(entries) > 0 && entries[0].Path == resource {
		return entries[0], true
	}
	return types.FileInfo{}, false
}

func notFoundIsFalse(ok bool, err error) (bool, error) {
	if obserr.IsNotFound(err) {
		return false, nil
	}
	return ok, err
}

// Exists reports whether the path names a tenant, a container, an object or
// a prefix with at least one object below it. Only limit-1 listings are
// issued.
func (s *Store) Exists(ctx context.Context, p storpath.Path) (bool, error) {
	sp, err := resolve(p)
	if err != nil {
		return false, err
	}
	return notFoundIsFalse(retry.DoValue(ctx, s.policy(ctx, "exists", backend.RetryStat), func() (bool, error) {
		resource := sp.Resource()
		if resource == "" {
			_, err := s.peek(ctx, sp, "")
			return err == nil, err
		}
		entries, err := s.peek(ctx, sp, resource)
		if err != nil {
			return false, err
		}
		if _, ok := exactMatch(resource, entries); ok {
			return true, nil
		}
		entries, err = s.peek(ctx, sp, withTrailingSlash(resource))
		return len(entries) > 0, err
	}))
}

// IsFile reports whether the path names an object that is not a directory
// marker.
func (s *Store) IsFile(ctx context.Context, p storpath.Path) (bool, error) {
	sp, err := resolve(p)
	if err != nil {
		return false, err
	}
	if sp.Resource() == "" || sp.HasTrailingSlash() {
		return false, nil
	}
	return notFoundIsFalse(retry.DoValue(ctx, s.policy(ctx, "isfile", backend.RetryStat), func() (bool, error) {
		entries, err := s.peek(ctx, sp, sp.Resource())
		fi, ok := exactMatch(sp.Resource(), entries)
		return ok && !isDirMarker(fi), err
	}))
}

// IsDir reports whether the path is a tenant, a container, a prefix with
// objects below it or a directory marker.
func (s *Store) IsDir(ctx context.Context, p storpath.Path) (bool, error) {
	sp, err := resolve(p)
	if err != nil {
		return false, err
	}
	if sp.Resource() == "" {
		return s.Exists(ctx, sp)
	}
	return notFoundIsFalse(retry.DoValue(ctx, s.policy(ctx, "isdir", backend.RetryStat), func() (bool, error) {
		dir := withTrailingSlash(sp.Resource())
		entries, err := s.peek(ctx, sp, dir)
		if err != nil || len(entries) > 0 {
			return len(entries) > 0, err
		}
		entries, err = s.peek(ctx, sp, strings.TrimSuffix(dir, "/"))
		fi, ok := exactMatch(strings.TrimSuffix(dir, "/"), entries)
		return ok && isDirMarker(fi), err
	}))
}
