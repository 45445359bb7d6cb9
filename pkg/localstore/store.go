// Package localstore implements the path operations on the local
// filesystem through afero, so object store code and tests share one
// filesystem abstraction.
package localstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/dashjay/obspath/pkg/backend"
	"github.com/dashjay/obspath/pkg/condition"
	"github.com/dashjay/obspath/pkg/obserr"
	"github.com/dashjay/obspath/pkg/storpath"
	"github.com/dashjay/obspath/pkg/types"
)

const sep = string(filepath.Separator)

type Store struct {
	fs afero.Fs
}

var _ backend.Interface = (*Store)(nil)

func New(fs afero.Fs) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Store{fs: fs}
}

func (s *Store) Fs() afero.Fs { return s.fs }

func resolve(p storpath.Path) (storpath.LocalPath, error) {
	lp, ok := p.(storpath.LocalPath)
	if !ok {
		return storpath.LocalPath{}, obserr.Validation("not a local path: %s", p)
	}
	if lp.String() == "" {
		return storpath.LocalPath{}, obserr.Validation("empty local path")
	}
	return lp, nil
}

// localError gives filesystem errors the kinds callers match on.
func localError(err error, op, name string) error {
	switch {
	case err == nil:
		return nil
	case os.IsNotExist(err):
		return obserr.New(obserr.KindNotFound, op+": no such file or directory: "+name, err)
	case os.IsPermission(err):
		return obserr.New(obserr.KindUnauthorized, op+": permission denied: "+name, err)
	}
	return errors.Wrapf(err, "%s %s", op, name)
}

func (s *Store) walk(root string, fn func(path string, fi os.FileInfo) error) error {
	err := afero.Walk(s.fs, root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		return fn(path, fi)
	})
	return localError(err, "walk", root)
}

var errLimit = errors.New("limit reached")

// List returns the files below the path, in lexical order. StartsWith
// narrows the result to names below the path starting with it. With
// ListAsDir only the direct children are returned, directories with a
// trailing separator.
func (s *Store) List(ctx context.Context, p storpath.Path, opts backend.ListOptions) ([]storpath.Path, error) {
	lp, err := resolve(p)
	if err != nil {
		return nil, err
	}
	var paths []storpath.Path
	if opts.ListAsDir {
		paths, err = s.readDir(lp)
		if err != nil {
			return nil, err
		}
		if opts.StartsWith != "" {
			paths = filterPrefix(paths, lp.WithTrailingSlash().Join(opts.StartsWith).String())
		}
		if opts.Limit > 0 && len(paths) > opts.Limit {
			paths = paths[:opts.Limit]
		}
	} else {
		root := lp.WithoutTrailingSlash().String()
		prefix := ""
		if opts.StartsWith != "" {
			prefix = lp.WithTrailingSlash().Join(opts.StartsWith).String()
		}
		err = s.walk(root, func(path string, fi os.FileInfo) error {
			if fi.IsDir() || !strings.HasPrefix(path, prefix) {
				return nil
			}
			paths = append(paths, storpath.NewLocalPath(path))
			if opts.Limit > 0 && len(paths) == opts.Limit {
				return errLimit
			}
			return nil
		})
		if err != nil && !errors.Is(err, errLimit) {
			return nil, err
		}
	}
	if err := condition.Check(opts.Condition, len(paths)); err != nil {
		return nil, err
	}
	return paths, nil
}

func filterPrefix(paths []storpath.Path, prefix string) []storpath.Path {
	out := paths[:0]
	for _, p := range paths {
		if strings.HasPrefix(p.String(), prefix) {
			out = append(out, p)
		}
	}
	return out
}

func (s *Store) readDir(lp storpath.LocalPath) ([]storpath.Path, error) {
	infos, err := afero.ReadDir(s.fs, lp.String())
	if err != nil {
		return nil, localError(err, "readdir", lp.String())
	}
	paths := make([]storpath.Path, 0, len(infos))
	for _, fi := range infos {
		name := fi.Name()
		if fi.IsDir() {
			name += sep
		}
		paths = append(paths, lp.Join(name))
	}
	return paths, nil
}

func (s *Store) ListDir(ctx context.Context, p storpath.Path) ([]storpath.Path, error) {
	return s.List(ctx, p, backend.ListOptions{ListAsDir: true})
}

// Glob expands pattern below the path. Unlike object stores, any shell
// pattern works locally.
func (s *Store) Glob(ctx context.Context, p storpath.Path, pattern string, cond *condition.Condition) ([]storpath.Path, error) {
	lp, err := resolve(p)
	if err != nil {
		return nil, err
	}
	matches, err := afero.Glob(s.fs, filepath.Join(lp.String(), pattern))
	if err != nil {
		return nil, obserr.New(obserr.KindValidation, "invalid pattern "+pattern, err)
	}
	sort.Strings(matches)
	paths := make([]storpath.Path, 0, len(matches))
	for _, m := range matches {
		paths = append(paths, storpath.NewLocalPath(m))
	}
	if err := condition.Check(cond, len(paths)); err != nil {
		return nil, err
	}
	return paths, nil
}

// First returns the first file below the path, or nil when there is none.
func (s *Store) First(ctx context.Context, p storpath.Path) (storpath.Path, error) {
	paths, err := s.List(ctx, p, backend.ListOptions{Limit: 1})
	if err != nil || len(paths) == 0 {
		return nil, err
	}
	return paths[0], nil
}

func (s *Store) Walkfiles(ctx context.Context, p storpath.Path, pattern string) ([]storpath.Path, error) {
	paths, err := s.List(ctx, p, backend.ListOptions{})
	if err != nil {
		return nil, err
	}
	return backend.MatchName(paths, pattern)
}

func (s *Store) stat(p storpath.Path) (os.FileInfo, error) {
	lp, err := resolve(p)
	if err != nil {
		return nil, err
	}
	fi, err := s.fs.Stat(lp.String())
	return fi, localError(err, "stat", lp.String())
}

func notFoundIsFalse(ok bool, err error) (bool, error) {
	if obserr.IsNotFound(err) {
		return false, nil
	}
	return ok, err
}

func (s *Store) Exists(ctx context.Context, p storpath.Path) (bool, error) {
	_, err := s.stat(p)
	return notFoundIsFalse(err == nil, err)
}

func (s *Store) IsFile(ctx context.Context, p storpath.Path) (bool, error) {
	fi, err := s.stat(p)
	return notFoundIsFalse(err == nil && !fi.IsDir(), err)
}

func (s *Store) IsDir(ctx context.Context, p storpath.Path) (bool, error) {
	fi, err := s.stat(p)
	return notFoundIsFalse(err == nil && fi.IsDir(), err)
}

func (s *Store) Stat(ctx context.Context, p storpath.Path) (types.FileInfo, error) {
	fi, err := s.stat(p)
	if err != nil {
		return types.FileInfo{}, err
	}
	return types.FileInfo{
		Path:    p.String(),
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
		Mode:    fi.Mode(),
	}, nil
}

func (s *Store) Getsize(ctx context.Context, p storpath.Path) (int64, error) {
	fi, err := s.stat(p)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (s *Store) ReadObject(ctx context.Context, p storpath.Path) ([]byte, error) {
	lp, err := resolve(p)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, lp.String())
	return data, localError(err, "read", lp.String())
}

// WriteObject writes data to the file, creating parent directories.
func (s *Store) WriteObject(ctx context.Context, p storpath.Path, data []byte) error {
	lp, err := resolve(p)
	if err != nil {
		return err
	}
	if err := backend.MakeDestDir(s.fs, filepath.Dir(lp.String())); err != nil {
		return err
	}
	return localError(afero.WriteFile(s.fs, lp.String(), data, 0o644), "write", lp.String())
}

// Remove deletes a single file.
func (s *Store) Remove(ctx context.Context, p storpath.Path) error {
	fi, err := s.stat(p)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return obserr.Validation("%s is a directory, use rmtree", p)
	}
	return localError(s.fs.Remove(p.String()), "remove", p.String())
}

// Rmtree deletes the directory and everything below it.
func (s *Store) Rmtree(ctx context.Context, p storpath.Path) error {
	if _, err := s.stat(p); err != nil {
		return err
	}
	return localError(s.fs.RemoveAll(p.String()), "rmtree", p.String())
}

// Copy copies one file. A dst naming an existing directory receives the
// file under its own name.
func (s *Store) Copy(ctx context.Context, src, dst storpath.LocalPath) error {
	if ok, err := s.IsDir(ctx, dst); err != nil {
		return err
	} else if ok || dst.HasTrailingSlash() {
		dst = dst.Join(src.Name())
	}
	if err := backend.MakeDestDir(s.fs, filepath.Dir(dst.String())); err != nil {
		return err
	}
	in, err := s.fs.Open(src.String())
	if err != nil {
		return localError(err, "open", src.String())
	}
	defer in.Close()
	fi, err := in.Stat()
	if err != nil {
		return localError(err, "stat", src.String())
	}
	if fi.IsDir() {
		return obserr.Validation("%s is a directory, use copytree", src)
	}
	out, err := s.fs.OpenFile(dst.String(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fi.Mode().Perm())
	if err != nil {
		return localError(err, "create", dst.String())
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return errors.Wrapf(err, "copy %s to %s", src, dst)
	}
	return localError(out.Close(), "close", dst.String())
}

// Copytree copies the directory src to dst, which must not exist yet.
func (s *Store) Copytree(ctx context.Context, src, dst storpath.LocalPath) error {
	if ok, err := s.Exists(ctx, dst); err != nil {
		return err
	} else if ok {
		return obserr.Validation("destination already exists: %s", dst)
	}
	root := src.WithoutTrailingSlash().String()
	return s.walk(root, func(path string, fi os.FileInfo) error {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return errors.WithStack(err)
		}
		target := filepath.Join(dst.String(), rel)
		if fi.IsDir() {
			return errors.Wrapf(s.fs.MkdirAll(target, fi.Mode().Perm()|0o700), "mkdir %s", target)
		}
		return s.Copy(ctx, storpath.NewLocalPath(path), storpath.NewLocalPath(target))
	})
}
