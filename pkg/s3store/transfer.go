package s3store

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"

	"github.com/dashjay/obspath/pkg/backend"
	"github.com/dashjay/obspath/pkg/obserr"
	"github.com/dashjay/obspath/pkg/progress"
	"github.com/dashjay/obspath/pkg/retry"
	"github.com/dashjay/obspath/pkg/storpath"
)

func (s *Store) uploader(ctx context.Context, cli s3iface.S3API) *s3manager.Uploader {
	opts := s.settings(ctx).S3Upload
	return s3manager.NewUploaderWithClient(cli, func(u *s3manager.Uploader) {
		if size := opts.SegmentBytes(); size >= s3manager.MinUploadPartSize {
			u.PartSize = size
		}
		if opts.ObjectThreads > 0 {
			u.Concurrency = opts.ObjectThreads
		}
	})
}

func (s *Store) downloader(ctx context.Context, cli s3iface.S3API) *s3manager.Downloader {
	opts := s.settings(ctx).S3Download
	return s3manager.NewDownloaderWithClient(cli, func(d *s3manager.Downloader) {
		if size := opts.SegmentBytes(); size > 0 {
			d.PartSize = size
		}
		if opts.ObjectThreads > 0 {
			d.Concurrency = opts.ObjectThreads
		}
	})
}

// applyHeaders copies well known headers onto the upload input; the rest
// become user metadata.
func applyHeaders(in *s3manager.UploadInput, headers map[string]string) {
	for k, v := range headers {
		switch strings.ToLower(k) {
		case "content-type", "contenttype":
			in.ContentType = aws.String(v)
		case "content-encoding", "contentencoding":
			in.ContentEncoding = aws.String(v)
		case "content-language", "contentlanguage":
			in.ContentLanguage = aws.String(v)
		case "content-disposition", "contentdisposition":
			in.ContentDisposition = aws.String(v)
		case "cache-control", "cachecontrol":
			in.CacheControl = aws.String(v)
		default:
			if in.Metadata == nil {
				in.Metadata = map[string]*string{}
			}
			in.Metadata[k] = aws.String(v)
		}
	}
}

func (s *Store) uploadObject(ctx context.Context, uploader *s3manager.Uploader, bucket string, obj backend.UploadObject, headers map[string]string, tr *progress.Tracker) error {
	in := &s3manager.UploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(obj.ObjectName),
	}
	applyHeaders(in, headers)
	if strings.HasSuffix(obj.ObjectName, "/") {
		in.Body = bytes.NewReader(nil)
		_, err := uploader.UploadWithContext(ctx, in)
		return normalizeError(err, "PutObject", bucket, obj.ObjectName)
	}
	f, err := s.fs.Open(obj.Source)
	if err != nil {
		return errors.Wrapf(err, "open %s", obj.Source)
	}
	defer f.Close()
	in.Body = tr.Reader(f)
	_, err = uploader.UploadWithContext(ctx, in)
	return normalizeError(err, "PutObject", bucket, obj.ObjectName)
}

// Upload uploads local files and directories below the path, which is taken
// as a directory. Per file failures are collected into one FailedUpload.
func (s *Store) Upload(ctx context.Context, p storpath.Path, sources []string, opts backend.UploadOptions) (backend.UploadResult, error) {
	sp, err := resolve(p)
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
	cli, err := s.pool.Client()
	if err != nil {
		return backend.UploadResult{}, err
	}
	root := sp.Root()
	return retry.DoValue(ctx, s.policy(ctx, "upload", backend.RetryUpload), func() (backend.UploadResult, error) {
		var res backend.UploadResult
		uploader := s.uploader(ctx, cli)
		if opts.UseManifest {
			if err := s.uploadObject(ctx, uploader, sp.Bucket(), manifestObj, opts.Headers, nil); err != nil {
				return res, err
			}
		}
		tr := progress.New(s.settings(ctx).Progress, "upload", len(objects), backend.TotalSize(objects))
		defer tr.Finish()

		logger(sp).WithField("objects", len(objects)).Infoln("start upload")
		var failures []obserr.Failure
		for _, obj := range objects {
			if err := s.uploadObject(ctx, uploader, sp.Bucket(), obj, opts.Headers, tr); err != nil {
				logger(sp).WithField("key", obj.ObjectName).WithError(err).Warnln("upload object failed")
				failures = append(failures, obserr.Failure{Key: obj.ObjectName, Code: obserr.KindOf(err).String(), Message: err.Error()})
				continue
			}
			tr.FileDone(obj.ObjectName)
			res.Completed = append(res.Completed, root.Child(obj.ObjectName))
		}
		if err := backend.Aggregate(obserr.KindFailedUpload, "an error occurred while uploading", failures); err != nil {
			return res, err
		}
		logger(sp).WithField("objects", len(res.Completed)).Infoln("upload finished")
		return res, backend.CheckUpload(opts.Condition, res, manifest)
	})
}

func (s *Store) downloadTo(ctx context.Context, downloader *s3manager.Downloader, bucket, key, dest string, tr *progress.Tracker) error {
	if err := backend.MakeDestDir(s.fs, filepath.Dir(dest)); err != nil {
		return err
	}
	f, err := s.fs.Create(dest)
	if err != nil {
		return errors.Wrapf(err, "create %s", dest)
	}
	n, err := downloader.DownloadWithContext(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if cerr := f.Close(); err == nil && cerr != nil {
		return errors.Wrapf(cerr, "close %s", dest)
	}
	if err != nil {
		_ = s.fs.Remove(dest)
		return normalizeError(err, opGetObject, bucket, key)
	}
	tr.Add(n)
	return nil
}

// Download copies every object below the path into dest, keeping the key
// layout relative to the path. Keys ending in "/" become directories.
func (s *Store) Download(ctx context.Context, p storpath.Path, dest string, opts backend.DownloadOptions) (backend.DownloadResult, error) {
	sp, err := resolve(p)
	if err != nil {
		return backend.DownloadResult{}, err
	}
	cli, err := s.pool.Client()
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
		var res backend.DownloadResult
		cfg := s.settings(ctx)
		listed, err := listEntries(ctx, cli, sp.Bucket(), prefix, false, 0)
		if err != nil {
			return res, err
		}
		entries, skipped, rejected := backend.PlanDownload(s.fs, prefix, dest, listed, cfg.S3Download.SkipIdentical)
		res.Skipped = skipped

		var total int64
		for _, e := range entries {
			total += e.Size
		}
		tr := progress.New(cfg.Progress, "download", len(entries), total)
		defer tr.Finish()
		downloader := s.downloader(ctx, cli)

		logger(sp).WithField("objects", len(entries)).WithField("skipped", len(skipped)).Infoln("start download")
		failures := append([]obserr.Failure(nil), rejected...)
		for _, e := range entries {
			if e.Dir {
				err = backend.MakeDestDir(s.fs, e.Dest)
			} else {
				err = s.downloadTo(ctx, downloader, sp.Bucket(), e.Key, e.Dest, tr)
			}
			if err != nil {
				logger(sp).WithField("key", e.Key).WithError(err).Warnln("download object failed")
				failures = append(failures, obserr.Failure{Key: e.Key, Code: obserr.KindOf(err).String(), Message: err.Error()})
				continue
			}
			tr.FileDone(e.Key)
			res.Completed = append(res.Completed, e.Dest)
		}
		if err := backend.Aggregate(obserr.KindFailedDownload, "an error occurred while downloading", failures); err != nil {
			return res, err
		}
		return res, backend.CheckDownload(opts.Condition, res, prefix, dest, manifest)
	})
}

// DownloadObject downloads a single object to the file dest, creating
// parent directories. A directory marker only creates dest.
func (s *Store) DownloadObject(ctx context.Context, p storpath.Path, dest string) error {
	sp, err := resolve(p)
	if err != nil {
		return err
	}
	if sp.HasTrailingSlash() {
		return backend.MakeDestDir(s.fs, dest)
	}
	if sp.Resource() == "" {
		return obserr.Validation("cannot download a bucket as an object: %s", sp)
	}
	cli, err := s.pool.Client()
	if err != nil {
		return err
	}
	return retry.Do(ctx, s.policy(ctx, "download_object", backend.RetryDownloadObject), func() error {
		return s.downloadTo(ctx, s.downloader(ctx, cli), sp.Bucket(), sp.Resource(), dest, nil)
	})
}
