package backend

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/dashjay/obspath/pkg/obserr"
	"github.com/dashjay/obspath/pkg/types"
)

// FileNameToObjectName strips leading "/", "." and ".." parts from a local
// path and converts separators to "/": "../../f" -> "f", "/abs/d" -> "abs/d".
func FileNameToObjectName(name string) string {
	parts := strings.Split(filepath.ToSlash(name), "/")
	i := 0
	for i < len(parts) && (parts[i] == "" || parts[i] == "." || parts[i] == "..") {
		i++
	}
	return strings.Join(parts[i:], "/")
}

func resourceDir(resource string) string {
	if resource == "" || strings.HasSuffix(resource, "/") {
		return resource
	}
	return resource + "/"
}

func objectNameFor(opts UploadOptions, src string) (string, error) {
	if opts.BaseDir == "" {
		return FileNameToObjectName(src), nil
	}
	rel, err := filepath.Rel(opts.BaseDir, src)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", obserr.Validation("%s is not under %s", src, opts.BaseDir)
	}
	return filepath.ToSlash(rel), nil
}

// PlanUpload walks sources on fs and returns the objects to put under
// resource, followed by opts.Objects. Empty directories produce nothing.
// With UseManifest a data manifest left by an earlier upload is not
// planned, PlanManifest writes a fresh one.
func PlanUpload(fs afero.Fs, resource string, sources []string, opts UploadOptions) ([]UploadObject, error) {
	base := resourceDir(resource)
	nameFor := func(src string) (string, error) { return objectNameFor(opts, src) }
	var manifest string
	if opts.UseManifest {
		manifest = filepath.Clean(manifestFile(fs, sources))
	}

	var out []UploadObject
	for _, src := range sources {
		if manifest != "" && filepath.Clean(src) == manifest {
			continue
		}
		info, err := fs.Stat(src)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, obserr.Validation("upload source %s is not a file or directory", src)
			}
			return nil, errors.Wrapf(err, "stat %s", src)
		}
		if !info.IsDir() {
			name, err := nameFor(src)
			if err != nil {
				return nil, err
			}
			out = append(out, UploadObject{Source: src, ObjectName: base + name, Size: info.Size()})
			continue
		}
		err = afero.Walk(fs, src, func(p string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if fi.IsDir() {
				entries, err := afero.ReadDir(fs, p)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					logrus.WithField("dir", p).Warnln("skip empty directory, object stores keep no empty directories on upload")
				}
				return nil
			}
			if manifest != "" && filepath.Clean(p) == manifest {
				return nil
			}
			name, err := nameFor(p)
			if err != nil {
				return err
			}
			out = append(out, UploadObject{Source: p, ObjectName: base + name, Size: fi.Size()})
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "walk %s", src)
		}
	}
	return append(out, opts.Objects...), nil
}

// DownloadEntry maps one listed object to its local destination.
type DownloadEntry struct {
	Key  string
	Dest string
	Size int64
	// Dir is set for directory markers, which create a directory only.
	Dir bool
}

// insideDir reports whether the slash separated rel, joined to dir, stays
// below dir.
func insideDir(dir, rel string) bool {
	target := filepath.Join(dir, filepath.FromSlash(rel))
	r, err := filepath.Rel(filepath.Clean(dir), target)
	if err != nil || r == "." || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return false
	}
	return !filepath.IsAbs(r)
}

// PlanDownload maps the objects listed under prefix into dest. With
// skipIdentical, objects whose local copy already has the same size are
// returned as skipped. Keys that would land outside dest, such as
// "dir/../../etc/passwd", are never planned and come back as rejected.
func PlanDownload(fs afero.Fs, prefix, dest string, objects types.FileList, skipIdentical bool) (entries []DownloadEntry, skipped []string, rejected []obserr.Failure) {
	remote := make(types.FileList, 0, len(objects))
	for _, obj := range objects {
		rel := strings.TrimPrefix(obj.Path, prefix)
		if rel == "" {
			continue
		}
		if !insideDir(dest, rel) {
			logrus.WithField("key", obj.Path).WithField("dest", dest).Warnln("refuse to download object outside the destination")
			rejected = append(rejected, obserr.Failure{
				Key:     obj.Path,
				Code:    obserr.KindValidation.String(),
				Message: "object name resolves outside " + dest,
			})
			continue
		}
		remote = append(remote, types.FileInfo{Path: rel, Size: obj.Size})
	}
	sort.Sort(remote)

	want := remote
	if skipIdentical {
		local := make(types.FileList, 0, len(remote))
		for _, r := range remote {
			if strings.HasSuffix(r.Path, "/") {
				continue
			}
			fi, err := fs.Stat(filepath.Join(dest, filepath.FromSlash(r.Path)))
			if err == nil && !fi.IsDir() {
				local = append(local, types.FileInfo{Path: r.Path, Size: fi.Size()})
			}
		}
		want = local.Missing(remote)
		keep := make(map[string]struct{}, len(want))
		for _, w := range want {
			keep[w.Path] = struct{}{}
		}
		for _, r := range remote {
			if _, ok := keep[r.Path]; !ok {
				skipped = append(skipped, filepath.Join(dest, filepath.FromSlash(r.Path)))
			}
		}
	}

	for _, r := range want {
		entries = append(entries, DownloadEntry{
			Key:  prefix + r.Path,
			Dest: filepath.Join(dest, filepath.FromSlash(r.Path)),
			Size: r.Size,
			Dir:  strings.HasSuffix(r.Path, "/"),
		})
	}
	return entries, skipped, rejected
}

// MakeDestDir creates dir and its parents.
func MakeDestDir(fs afero.Fs, dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	if fi, err := fs.Stat(dir); err == nil && !fi.IsDir() {
		return obserr.Validation("a parent directory of %s already exists as a file", dir)
	}
	return errors.Wrapf(fs.MkdirAll(dir, 0o755), "mkdir %s", dir)
}

// Aggregate folds per object failures into one error of kind, or nil.
func Aggregate(kind obserr.Kind, msg string, failures []obserr.Failure) error {
	if len(failures) == 0 {
		return nil
	}
	e := obserr.New(kind, msg, nil)
	e.Failures = failures
	return e
}

// TotalSize sums the sizes of objects for progress reporting.
func TotalSize(objects []UploadObject) int64 {
	var n int64
	for _, o := range objects {
		n += o.Size
	}
	return n
}
