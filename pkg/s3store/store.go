// Package s3store implements path operations on S3 compatible object stores
// with aws-sdk-go.
package s3store

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
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

// maxKeys is the largest page ListObjectsV2 returns and the largest batch
// DeleteObjects accepts.
const maxKeys = 1000

type Store struct {
	cfg  *config.Config
	pool *ClientPool
	fs   afero.Fs
}

var _ backend.Remote = (*Store)(nil)

type Option func(*Store)

// WithClient makes the store use cli instead of building one from settings.
func WithClient(cli s3iface.S3API) Option {
	return func(s *Store) { s.pool = NewClientPoolWith(cli) }
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
		s.pool = NewClientPool(cfg.S3)
	}
	return s
}

func (s *Store) settings(ctx context.Context) *config.Config {
	return config.From(ctx, s.cfg)
}

func (s *Store) policy(ctx context.Context, op string, kinds []obserr.Kind) retry.Policy {
	cfg := s.settings(ctx)
	return backend.Policy(cfg, cfg.Retry.NumRetries, "s3."+op, kinds)
}

func resolve(p storpath.Path) (storpath.S3Path, error) {
	sp, ok := p.(storpath.S3Path)
	if !ok {
		return storpath.S3Path{}, obserr.Validation("not an s3 path: %s", p)
	}
	if sp.Bucket() == "" {
		return storpath.S3Path{}, obserr.Validation("path has no bucket: %s", p)
	}
	return sp, nil
}

func logger(p storpath.S3Path) *logrus.Entry {
	return logrus.WithField("backend", "s3").WithField("bucket", p.Bucket()).WithField("resource", p.Resource())
}

func withTrailingSlash(resource string) string {
	if resource == "" || strings.HasSuffix(resource, "/") {
		return resource
	}
	return resource + "/"
}

// listEntries pages through ListObjectsV2 under prefix. With asDir, common
// prefixes are appended after each page's keys as directory entries. At
// most limit entries are returned when limit > 0.
func listEntries(ctx context.Context, cli s3iface.S3API, bucket, prefix string, asDir bool, limit int) (types.FileList, error) {
	var out = make(types.FileList, 0)
	params := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}
	if asDir {
		params.Delimiter = aws.String("/")
	}
	for {
		size := backend.PageSize(limit, len(out), maxKeys)
		if size == 0 {
			break
		}
		params.MaxKeys = aws.Int64(int64(size))
		resp, err := cli.ListObjectsV2WithContext(ctx, params)
		if err != nil {
			return nil, normalizeError(err, "ListObjectsV2", bucket, prefix)
		}
		for _, c := range resp.Contents {
			out = append(out, types.FileInfo{
				Path:    aws.StringValue(c.Key),
				Size:    aws.Int64Value(c.Size),
				ModTime: aws.TimeValue(c.LastModified),
				ETag:    strings.Trim(aws.StringValue(c.ETag), `"`),
			})
		}
		if asDir {
			for _, cp := range resp.CommonPrefixes {
				out = append(out, types.FileInfo{Path: aws.StringValue(cp.Prefix), Mode: dirMode})
			}
		}
		if !aws.BoolValue(resp.IsTruncated) || aws.StringValue(resp.NextContinuationToken) == "" {
			break
		}
		params.ContinuationToken = resp.NextContinuationToken
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) listOnce(ctx context.Context, p storpath.S3Path, opts backend.ListOptions) ([]storpath.Path, error) {
	cli, err := s.pool.Client()
	if err != nil {
		return nil, err
	}
	prefix := backend.EffectivePrefix(p.Resource(), opts)
	entries, err := listEntries(ctx, cli, p.Bucket(), prefix, opts.ListAsDir, opts.Limit)
	if err != nil {
		return nil, err
	}
	root := p.Root()
	out := make([]storpath.Path, 0, len(entries))
	for _, e := range entries {
		if opts.IgnoreDirMarkers && strings.HasSuffix(e.Path, "/") && !e.IsDir() {
			continue
		}
		out = append(out, root.Child(e.Path))
	}
	return out, nil
}

// List lists everything whose key starts with the path's resource.
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
	sp, err := resolve(p)
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

// peek runs a limit-1 listing under prefix and returns the keys found.
func (s *Store) peek(ctx context.Context, bucket, prefix string) ([]string, error) {
	cli, err := s.pool.Client()
	if err != nil {
		return nil, err
	}
	entries, err := listEntries(ctx, cli, bucket, prefix, false, 1)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Path)
	}
	return keys, nil
}

func notFoundIsFalse(ok bool, err error) (bool, error) {
	if obserr.IsNotFound(err) {
		return false, nil
	}
	return ok, err
}

// Exists reports whether the path names a bucket, an object or a prefix with
// at least one object below it. Only limit-1 listings are issued.
func (s *Store) Exists(ctx context.Context, p storpath.Path) (bool, error) {
	sp, err := resolve(p)
	if err != nil {
		return false, err
	}
	return notFoundIsFalse(retry.DoValue(ctx, s.policy(ctx, "exists", backend.RetryStat), func() (bool, error) {
		resource := sp.Resource()
		if resource == "" {
			_, err := s.peek(ctx, sp.Bucket(), "")
			return err == nil, err
		}
		keys, err := s.peek(ctx, sp.Bucket(), resource)
		if err != nil {
			return false, err
		}
		if backend.IsExactMatch(resource, keys) {
			return true, nil
		}
		keys, err = s.peek(ctx, sp.Bucket(), withTrailingSlash(resource))
		return len(keys) > 0, err
	}))
}

// IsFile reports whether the path names an object.
func (s *Store) IsFile(ctx context.Context, p storpath.Path) (bool, error) {
	sp, err := resolve(p)
	if err != nil {
		return false, err
	}
	if sp.Resource() == "" || sp.HasTrailingSlash() {
		return false, nil
	}
	return notFoundIsFalse(retry.DoValue(ctx, s.policy(ctx, "isfile", backend.RetryStat), func() (bool, error) {
		keys, err := s.peek(ctx, sp.Bucket(), sp.Resource())
		return backend.IsExactMatch(sp.Resource(), keys), err
	}))
}

// IsDir reports whether the path is a bucket or a prefix with objects below.
func (s *Store) IsDir(ctx context.Context, p storpath.Path) (bool, error) {
	sp, err := resolve(p)
	if err != nil {
		return false, err
	}
	if sp.Resource() == "" {
		return s.Exists(ctx, sp)
	}
	return notFoundIsFalse(retry.DoValue(ctx, s.policy(ctx, "isdir", backend.RetryStat), func() (bool, error) {
		keys, err := s.peek(ctx, sp.Bucket(), withTrailingSlash(sp.Resource()))
		return len(keys) > 0, err
	}))
}
