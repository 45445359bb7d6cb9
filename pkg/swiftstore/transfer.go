package swiftstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"path/filepath"
	"strings"

	"github.com/ncw/swift/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/dashjay/obspath/pkg/backend"
	"github.com/dashjay/obspath/pkg/config"
	"github.com/dashjay/obspath/pkg/obserr"
	"github.com/dashjay/obspath/pkg/progress"
	"github.com/dashjay/obspath/pkg/retry"
	"github.com/dashjay/obspath/pkg/storpath"
	"github.com/dashjay/obspath/pkg/types"
)

// SegmentContainer holds the segments of the large objects uploaded to
// container. Tenant listings hide it.
func SegmentContainer(container string) string {
	return ".segments_" + container
}

// splitHeaders separates the content type, which ObjectPut takes on its own,
// from the other request headers.
func splitHeaders(headers map[string]string) (string, swift.Headers) {
	var contentType string
	h := swift.Headers{}
	for k, v := range headers {
		if strings.EqualFold(k, "content-type") {
			contentType = v
			continue
		}
		h[k] = v
	}
	return contentType, h
}

func fileMD5(fs afero.Fs, name string) (string, error) {
	f, err := fs.Open(name)
	if err != nil {
		return "", errors.Wrapf(err, "open %s", name)
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrapf(err, "read %s", name)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// identical reports whether the remote object already has the local file's
// md5.
func (s *Store) identical(ctx context.Context, conn Conn, container string, obj backend.UploadObject) bool {
	remote, _, err := conn.Object(ctx, container, obj.ObjectName)
	if err != nil {
		return false
	}
	sum, err := fileMD5(s.fs, obj.Source)
	return err == nil && strings.EqualFold(sum, remote.Hash)
}

func (s *Store) uploadObject(ctx context.Context, conn Conn, container string, obj backend.UploadObject, headers map[string]string, tr *progress.Tracker) error {
	contentType, h := splitHeaders(headers)
	cfg := s.settings(ctx).SwiftUpload
	if strings.HasSuffix(obj.ObjectName, "/") {
		_, err := conn.ObjectPut(ctx, container, obj.ObjectName, bytes.NewReader(nil), cfg.Checksum, "", dirMarkerTypes[0], h)
		return normalizeError(err, "put object", container, obj.ObjectName)
	}
	f, err := s.fs.Open(obj.Source)
	if err != nil {
		return errors.Wrapf(err, "open %s", obj.Source)
	}
	defer f.Close()
	if seg := cfg.SegmentBytes(); seg > 0 && obj.Size > seg {
		return uploadLargeObject(ctx, conn, container, obj.ObjectName, contentType, h, cfg, tr.Reader(f))
	}
	_, err = conn.ObjectPut(ctx, container, obj.ObjectName, tr.Reader(f), cfg.Checksum, "", contentType, h)
	return normalizeError(err, "put object", container, obj.ObjectName)
}

// uploadLargeObject writes r as segments of the configured size into the
// segment container, then puts the manifest under name. A cluster without
// static large object support gets a dynamic one.
func uploadLargeObject(ctx context.Context, conn Conn, container, name, contentType string, h swift.Headers, cfg config.TransferConfig, r io.Reader) error {
	segments := SegmentContainer(container)
	if err := ensureContainer(ctx, conn, segments); err != nil {
		return err
	}
	opts := &swift.LargeObjectOpts{
		Container:        container,
		ObjectName:       name,
		CheckHash:        cfg.Checksum,
		ContentType:      contentType,
		Headers:          h,
		ChunkSize:        cfg.SegmentBytes(),
		SegmentContainer: segments,
	}
	var (
		lo  swift.LargeObjectFile
		err error
	)
	if cfg.UseSLO {
		lo, err = conn.StaticLargeObjectCreate(ctx, opts)
		if errors.Is(err, swift.SLONotSupported) {
			logrus.WithField("container", container).WithField("object", name).Infoln("static large objects not supported, upload a dynamic one")
			lo, err = conn.DynamicLargeObjectCreate(ctx, opts)
		}
	} else {
		lo, err = conn.DynamicLargeObjectCreate(ctx, opts)
	}
	if err != nil {
		return normalizeError(err, "create large object", container, name)
	}
	if _, err := io.Copy(lo, r); err != nil {
		_ = lo.Close()
		return normalizeError(err, "write large object", container, name)
	}
	return normalizeError(lo.CloseWithContext(ctx), "close large object", container, name)
}

// transferOutcome is what one worker reports for one object.
type transferOutcome struct {
	skipped bool
	err     error
}

// Upload uploads local files and directories below the path, which is taken
// as a directory inside a container. The container is created when missing.
// Objects go up on swift_upload.object_threads workers and per file
// failures are collected into one FailedUpload.
func (s *Store) Upload(ctx context.Context, p storpath.Path, sources []string, opts backend.UploadOptions) (backend.UploadResult, error) {
	sp, err := resolveContainer(p, "upload")
	if err != nil {
		return backend.UploadResult{}, err
	}
	objects, err := backend.PlanUpload(s.fs, sp.Resource(), sources, opts)
	if err != nil {
		return backend.UploadResult{}, err
	}
	var (
		manifestObj backend.UploadObject
		manifest    []string
	)
	if opts.UseManifest {
		if manifestObj, manifest, err = backend.PlanManifest(s.fs, sp.Resource(), sources, opts, objects); err != nil {
			return backend.UploadResult{}, err
		}
	}
	root := sp.Root()
	return retry.DoValue(ctx, s.policy(ctx, "upload", backend.RetryUpload), func() (backend.UploadResult, error) {
		var res backend.UploadResult
		cfg := s.settings(ctx)
		tr := progress.New(cfg.Progress, "upload", len(objects), backend.TotalSize(objects))
		defer tr.Finish()

		var outcomes []transferOutcome
		err := s.with(ctx, sp, func(conn Conn) error {
			if err := ensureContainer(ctx, conn, sp.Container()); err != nil {
				return err
			}
			if opts.UseManifest {
				if err := s.uploadObject(ctx, conn, sp.Container(), manifestObj, opts.Headers, nil); err != nil {
					return err
				}
			}
			threads := cfg.SwiftUpload.ObjectThreads
			logger(sp).WithField("objects", len(objects)).WithField("threads", threads).Infoln("start upload")
			outcomes = make([]transferOutcome, len(objects))
			parallel(len(objects), threads, func(i int) {
				obj := objects[i]
				if cfg.SwiftUpload.SkipIdentical && obj.Source != "" && s.identical(ctx, conn, sp.Container(), obj) {
					tr.Add(obj.Size)
					outcomes[i].skipped = true
					return
				}
				if err := s.uploadObject(ctx, conn, sp.Container(), obj, opts.Headers, tr); err != nil {
					logger(sp).WithField("object", obj.ObjectName).WithError(err).Warnln("upload object failed")
					outcomes[i].err = err
					return
				}
				tr.FileDone(obj.ObjectName)
			})
			return nil
		})
		if err != nil {
			return res, err
		}
		var failures []obserr.Failure
		for i, o := range outcomes {
			name := objects[i].ObjectName
			switch {
			case o.err != nil:
				failures = append(failures, obserr.Failure{Key: name, Code: obserr.KindOf(o.err).String(), Message: o.err.Error()})
			case o.skipped:
				res.Skipped = append(res.Skipped, root.Child(name))
			default:
				res.Completed = append(res.Completed, root.Child(name))
			}
		}
		if err := backend.Aggregate(obserr.KindFailedUpload, "an error occurred while uploading", failures); err != nil {
			return res, err
		}
		logger(sp).WithField("objects", len(res.Completed)).WithField("skipped", len(res.Skipped)).Infoln("upload finished")
		return res, backend.CheckUpload(opts.Condition, res, manifest)
	})
}

func (s *Store) downloadTo(ctx context.Context, conn Conn, container, object, dest string, tr *progress.Tracker) error {
	if err := backend.MakeDestDir(s.fs, filepath.Dir(dest)); err != nil {
		return err
	}
	f, err := s.fs.Create(dest)
	if err != nil {
		return errors.Wrapf(err, "create %s", dest)
	}
	_, err = conn.ObjectGet(ctx, container, object, tr.Writer(f), s.settings(ctx).SwiftDownload.Checksum, nil)
	if cerr := f.Close(); err == nil && cerr != nil {
		return errors.Wrapf(cerr, "close %s", dest)
	}
	if err != nil {
		_ = s.fs.Remove(dest)
	}
	return normalizeError(err, "get object", container, object)
}

// downloadEntries fetches the planned entries on swift_download.object_threads
// workers. It returns the local files written, in plan order, and a failure
// for every entry that was not.
func (s *Store) downloadEntries(ctx context.Context, conn Conn, sp storpath.SwiftPath, entries []backend.DownloadEntry) ([]string, []obserr.Failure) {
	cfg := s.settings(ctx)
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	tr := progress.New(cfg.Progress, "download", len(entries), total)
	defer tr.Finish()

	threads := cfg.SwiftDownload.ObjectThreads
	logger(sp).WithField("objects", len(entries)).WithField("threads", threads).Infoln("start download")
	outcomes := make([]transferOutcome, len(entries))
	parallel(len(entries), threads, func(i int) {
		e := entries[i]
		var err error
		if e.Dir {
			err = backend.MakeDestDir(s.fs, e.Dest)
		} else {
			err = s.downloadTo(ctx, conn, sp.Container(), e.Key, e.Dest, tr)
		}
		if err != nil {
			logger(sp).WithField("object", e.Key).WithError(err).Warnln("download object failed")
			outcomes[i].err = err
			return
		}
		tr.FileDone(e.Key)
	})

	var (
		done     []string
		failures []obserr.Failure
	)
	for i, o := range outcomes {
		if o.err != nil {
			failures = append(failures, obserr.Failure{Key: entries[i].Key, Code: obserr.KindOf(o.err).String(), Message: o.err.Error()})
			continue
		}
		done = append(done, entries[i].Dest)
	}
	return done, failures
}

// Download copies every object below the path into dest, keeping the names
// relative to the path. Directory markers become directories. Keys that
// would escape dest are reported as failures and never written.
func (s *Store) Download(ctx context.Context, p storpath.Path, dest string, opts backend.DownloadOptions) (backend.DownloadResult, error) {
	sp, err := resolveContainer(p, "download")
	if err != nil {
		return backend.DownloadResult{}, err
	}
	var manifest []string
	if opts.UseManifest {
		// the manifest listing retries on its own until every object shows
		if _, err := s.List(ctx, sp, backend.ListOptions{UseManifest: true}); err != nil {
			return backend.DownloadResult{}, err
		}
		if manifest, err = backend.ReadManifest(ctx, s, sp); err != nil {
			return backend.DownloadResult{}, err
		}
	}
	prefix := withTrailingSlash(sp.Resource())
	return retry.DoValue(ctx, s.policy(ctx, "download", backend.RetryDownload), func() (backend.DownloadResult, error) {
		var (
			res      backend.DownloadResult
			failures []obserr.Failure
		)
		err := s.with(ctx, sp, func(conn Conn) error {
			listed, err := listObjects(ctx, conn, sp.Container(), prefix, false, 0)
			if err != nil {
				return err
			}
			for i := range listed {
				if isDirMarker(listed[i]) && !strings.HasSuffix(listed[i].Path, "/") {
					listed[i].Path += "/"
				}
			}
			entries, skipped, rejected := backend.PlanDownload(s.fs, prefix, dest, listed, s.settings(ctx).SwiftDownload.SkipIdentical)
			res.Skipped = skipped
			var failed []obserr.Failure
			res.Completed, failed = s.downloadEntries(ctx, conn, sp, entries)
			failures = append(append([]obserr.Failure(nil), rejected...), failed...)
			return nil
		})
		if err != nil {
			return res, err
		}
		if err := backend.Aggregate(obserr.KindFailedDownload, "an error occurred while downloading", failures); err != nil {
			return res, err
		}
		return res, backend.CheckDownload(opts.Condition, res, prefix, dest, manifest)
	})
}

// DownloadObjects downloads the named objects into dest and maps each
// requested name to the local file written. A name is either relative to
// the path or a full swift path below it. Any object failing fails the call
// and leaves the others downloaded.
func (s *Store) DownloadObjects(ctx context.Context, p storpath.Path, dest string, objects []string) (map[string]string, error) {
	sp, err := resolveContainer(p, "download_objects")
	if err != nil {
		return nil, err
	}
	prefix := withTrailingSlash(sp.Resource())
	base := sp.WithTrailingSlash().String()
	keys := make(map[string]string, len(objects))
	listed := make(types.FileList, 0, len(objects))
	seen := make(map[string]bool, len(objects))
	for _, obj := range objects {
		key := prefix + obj
		if storpath.IsSwift(obj) {
			if !strings.HasPrefix(obj, base) {
				return nil, obserr.Validation("%q must be child of download path %q", obj, sp)
			}
			key = strings.TrimPrefix(obj, base[:len(base)-len(prefix)])
		}
		if key == prefix {
			return nil, obserr.Validation("%q names no object below %q", obj, sp)
		}
		if !seen[key] {
			seen[key] = true
			listed = append(listed, types.FileInfo{Path: key})
		}
		keys[obj] = key
	}
	if err := backend.MakeDestDir(s.fs, dest); err != nil {
		return nil, err
	}

	entries, _, rejected := backend.PlanDownload(s.fs, prefix, dest, listed, false)
	if err := backend.Aggregate(obserr.KindFailedDownload, "an error occurred while downloading", rejected); err != nil {
		return nil, err
	}
	local := make(map[string]string, len(entries))
	for _, e := range entries {
		local[e.Key] = e.Dest
	}
	err = retry.Do(ctx, s.policy(ctx, "download_objects", backend.RetryDownloadObject), func() error {
		return s.with(ctx, sp, func(conn Conn) error {
			_, failures := s.downloadEntries(ctx, conn, sp, entries)
			return backend.Aggregate(obserr.KindFailedDownload, "an error occurred while downloading", failures)
		})
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(objects))
	for _, obj := range objects {
		out[obj] = local[keys[obj]]
	}
	return out, nil
}

// DownloadObject downloads a single object to the file dest, creating
// parent directories.
func (s *Store) DownloadObject(ctx context.Context, p storpath.Path, dest string) error {
	sp, err := resolveContainer(p, "download_object")
	if err != nil {
		return err
	}
	if sp.Resource() == "" {
		return obserr.Validation("can only call download_object on object path: %s", sp)
	}
	if sp.HasTrailingSlash() {
		return backend.MakeDestDir(s.fs, dest)
	}
	return retry.Do(ctx, s.policy(ctx, "download_object", backend.RetryDownloadObject), func() error {
		return s.with(ctx, sp, func(conn Conn) error {
			return s.downloadTo(ctx, conn, sp.Container(), sp.Resource(), dest, nil)
		})
	})
}
