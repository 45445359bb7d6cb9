// Package core ties the stores together: it picks the store for a path and
// copies files and trees between the local filesystem and object stores.
package core

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/dashjay/obspath/pkg/backend"
	"github.com/dashjay/obspath/pkg/config"
	"github.com/dashjay/obspath/pkg/localstore"
	"github.com/dashjay/obspath/pkg/obserr"
	"github.com/dashjay/obspath/pkg/s3store"
	"github.com/dashjay/obspath/pkg/storpath"
	"github.com/dashjay/obspath/pkg/swiftstore"
)

type Session struct {
	cfg   *config.Config
	fs    afero.Fs
	local *localstore.Store
	s3    *s3store.Store
	swift *swiftstore.Store
	cache *swiftstore.AuthCache
}

type Option func(*Session)

// WithFs sets the local filesystem for every store the session builds.
func WithFs(fs afero.Fs) Option {
	return func(s *Session) { s.fs = fs }
}

func WithS3Store(store *s3store.Store) Option {
	return func(s *Session) { s.s3 = store }
}

func WithSwiftStore(store *swiftstore.Store) Option {
	return func(s *Session) { s.swift = store }
}

// NewSession builds the stores from cfg. When cfg names an auth cache file
// it is opened here and closed by Close.
func NewSession(cfg *config.Config, opts ...Option) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Session{cfg: cfg, fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(s)
	}
	s.local = localstore.New(s.fs)
	if s.s3 == nil {
		s.s3 = s3store.New(cfg, s3store.WithFs(s.fs))
	}
	if s.swift == nil {
		swiftOpts := []swiftstore.Option{swiftstore.WithFs(s.fs)}
		if cfg.Swift.AuthCachePath != "" {
			path, err := homedir.Expand(cfg.Swift.AuthCachePath)
			if err != nil {
				return nil, obserr.New(obserr.KindConfiguration, "expand auth cache path", err)
			}
			cache, err := swiftstore.OpenAuthCache(path)
			if err != nil {
				return nil, err
			}
			s.cache = cache
			swiftOpts = append(swiftOpts, swiftstore.WithAuthCache(cache))
		}
		s.swift = swiftstore.New(cfg, swiftOpts...)
	}
	return s, nil
}

func (s *Session) Close() error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Close()
}

func (s *Session) Config() *config.Config { return s.cfg }

// Store returns the store serving p.
func (s *Session) Store(p storpath.Path) backend.Interface {
	switch p.(type) {
	case storpath.LocalPath:
		return s.local
	case storpath.S3Path:
		return s.s3
	case storpath.SwiftPath:
		return s.swift
	}
	panic("core: unknown path variant")
}

// Remote returns the object store serving p, or false for local paths.
func (s *Session) Remote(p storpath.Path) (backend.Remote, bool) {
	switch p.(type) {
	case storpath.LocalPath:
		return nil, false
	case storpath.S3Path:
		return s.s3, true
	case storpath.SwiftPath:
		return s.swift, true
	}
	panic("core: unknown path variant")
}

func (s *Session) Open(ctx context.Context, p storpath.Path, mode string) (*backend.File, error) {
	return backend.Open(ctx, s.Store(p), p, mode)
}

// Copy copies one file between the local filesystem and an object store,
// or between two local paths. An object store destination ending in "/"
// receives the file under its own name; one that could be either an object
// or a directory is rejected.
func (s *Session) Copy(ctx context.Context, src, dst storpath.Path) error {
	srcRemote, srcIsRemote := s.Remote(src)
	dstRemote, dstIsRemote := s.Remote(dst)
	if srcIsRemote && dstIsRemote {
		return obserr.Validation("cannot copy one object store path to another: %s -> %s", src, dst)
	}
	if dstIsRemote && storpath.IsAmbiguous(dst) {
		return obserr.Validation("object store destination must be file with extension or directory with slash: %s", dst)
	}

	if !dstIsRemote {
		ldst := dst.(storpath.LocalPath)
		if !srcIsRemote {
			return s.local.Copy(ctx, src.(storpath.LocalPath), ldst)
		}
		isDir, err := s.local.IsDir(ctx, ldst)
		if err != nil {
			return err
		}
		if isDir || ldst.HasTrailingSlash() {
			ldst = ldst.Join(strings.TrimSuffix(storpath.Name(src), "/"))
		}
		logrus.WithField("src", src.String()).WithField("dst", ldst.String()).Debugln("copy object to local file")
		return srcRemote.DownloadObject(ctx, src, ldst.String())
	}

	destFile := dst
	if strings.HasSuffix(dst.String(), "/") {
		destFile = storpath.Join(dst, storpath.Name(src))
	}
	parent := storpath.Parent(destFile)
	if sp, ok := parent.(storpath.SwiftPath); ok && sp.Container() == "" {
		return obserr.Validation("cannot copy to tenant %s and file %s", parent, storpath.Name(destFile))
	}
	name := storpath.Name(destFile)
	objectName := name
	if res := strings.TrimSuffix(storpath.Resource(parent), "/"); res != "" {
		objectName = res + "/" + name
	}
	size, err := s.local.Getsize(ctx, src)
	if err != nil {
		return err
	}
	logrus.WithField("src", src.String()).WithField("dst", destFile.String()).Debugln("copy local file to object store")
	_, err = dstRemote.Upload(ctx, parent, nil, backend.UploadOptions{
		Objects: []backend.UploadObject{{Source: src.String(), ObjectName: objectName, Size: size}},
	})
	return err
}

// Copytree copies a directory tree between the local filesystem and an
// object store, or between two local paths. A local destination must not
// exist yet when the source is local too. opts.Condition and
// opts.UseManifest apply to downloads as well.
func (s *Session) Copytree(ctx context.Context, src, dst storpath.Path, opts backend.UploadOptions) error {
	srcRemote, srcIsRemote := s.Remote(src)
	dstRemote, dstIsRemote := s.Remote(dst)
	if srcIsRemote && dstIsRemote {
		return obserr.Validation("cannot copy one object store path to another: %s -> %s", src, dst)
	}

	if !dstIsRemote {
		ldst := dst.(storpath.LocalPath)
		if !srcIsRemote {
			return s.local.Copytree(ctx, src.(storpath.LocalPath), ldst)
		}
		if err := backend.MakeDestDir(s.fs, filepath.Dir(ldst.WithoutTrailingSlash().String())); err != nil {
			return err
		}
		_, err := srcRemote.Download(ctx, src, ldst.String(), backend.DownloadOptions{Condition: opts.Condition, UseManifest: opts.UseManifest})
		return err
	}

	lsrc := src.(storpath.LocalPath)
	isDir, err := s.local.IsDir(ctx, lsrc)
	if err != nil {
		return err
	}
	if !isDir {
		return obserr.Validation("copytree source must be a directory: %s", src)
	}
	root := filepath.Clean(lsrc.String())
	opts.BaseDir = root
	_, err = dstRemote.Upload(ctx, dst, []string{root}, opts)
	return err
}
