package s3store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/dashjay/obspath/pkg/backend"
	"github.com/dashjay/obspath/pkg/obserr"
	"github.com/dashjay/obspath/pkg/retry"
	"github.com/dashjay/obspath/pkg/storpath"
	"github.com/dashjay/obspath/pkg/types"
)

const dirMode = os.ModeDir | 0o755

// Restore tiers accepted by RestoreObject.
const (
	TierStandard  = "Standard"
	TierBulk      = "Bulk"
	TierExpedited = "Expedited"
)

// Stat returns the metadata of a single object. Prefixes have no metadata
// and report NotFound.
func (s *Store) Stat(ctx context.Context, p storpath.Path) (types.FileInfo, error) {
	sp, err := resolve(p)
	if err != nil {
		return types.FileInfo{}, err
	}
	if sp.Resource() == "" {
		return types.FileInfo{}, obserr.Validation("stat cannot be called on a bucket: %s", sp)
	}
	cli, err := s.pool.Client()
	if err != nil {
		return types.FileInfo{}, err
	}
	return retry.DoValue(ctx, s.policy(ctx, "stat", backend.RetryStat), func() (types.FileInfo, error) {
		resp, err := cli.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(sp.Bucket()),
			Key:    aws.String(sp.Resource()),
		})
		if err != nil {
			return types.FileInfo{}, normalizeError(err, "HeadObject", sp.Bucket(), sp.Resource())
		}
		return types.FileInfo{
			Path:        sp.String(),
			Size:        aws.Int64Value(resp.ContentLength),
			ModTime:     aws.TimeValue(resp.LastModified),
			Mode:        0o644,
			ETag:        strings.Trim(aws.StringValue(resp.ETag), `"`),
			ContentType: aws.StringValue(resp.ContentType),
			Metadata:    aws.StringValueMap(resp.Metadata),
		}, nil
	})
}

// Getsize returns the object's content length. Buckets and prefixes that
// exist have size 0.
func (s *Store) Getsize(ctx context.Context, p storpath.Path) (int64, error) {
	sp, err := resolve(p)
	if err != nil {
		return 0, err
	}
	if sp.Resource() == "" {
		if _, err := s.peek(ctx, sp.Bucket(), ""); err != nil {
			return 0, err
		}
		return 0, nil
	}
	info, err := s.Stat(ctx, sp)
	if err == nil {
		return info.Size, nil
	}
	if !obserr.IsNotFound(err) {
		return 0, err
	}
	ok, existsErr := s.Exists(ctx, sp)
	if existsErr != nil || !ok {
		return 0, err
	}
	return 0, nil
}

func (s *Store) ReadObject(ctx context.Context, p storpath.Path) ([]byte, error) {
	sp, err := resolve(p)
	if err != nil {
		return nil, err
	}
	cli, err := s.pool.Client()
	if err != nil {
		return nil, err
	}
	return retry.DoValue(ctx, s.policy(ctx, "read_object", backend.RetryRead), func() ([]byte, error) {
		resp, err := cli.GetObjectWithContext(ctx, &s3.GetObjectInput{
			Bucket: aws.String(sp.Bucket()),
			Key:    aws.String(sp.Resource()),
		})
		if err != nil {
			return nil, normalizeError(err, opGetObject, sp.Bucket(), sp.Resource())
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, obserr.New(obserr.KindInconsistentDownload, "read body of "+sp.String(), err)
		}
		return data, nil
	})
}

// WriteObject stores data as a single object.
func (s *Store) WriteObject(ctx context.Context, p storpath.Path, data []byte) error {
	sp, err := resolve(p)
	if err != nil {
		return err
	}
	if sp.Resource() == "" || sp.HasTrailingSlash() {
		return obserr.Validation("cannot write an object to %s", sp)
	}
	cli, err := s.pool.Client()
	if err != nil {
		return err
	}
	uploader := s.uploader(ctx, cli)
	return retry.Do(ctx, s.policy(ctx, "write_object", backend.RetryUpload), func() error {
		_, err := uploader.UploadWithContext(ctx, &s3manager.UploadInput{
			Bucket: aws.String(sp.Bucket()),
			Key:    aws.String(sp.Resource()),
			Body:   bytes.NewReader(data),
		})
		return normalizeError(err, "PutObject", sp.Bucket(), sp.Resource())
	})
}

// Remove deletes a single object.
func (s *Store) Remove(ctx context.Context, p storpath.Path) error {
	sp, err := resolve(p)
	if err != nil {
		return err
	}
	if sp.Resource() == "" {
		return obserr.Validation("cannot remove a bucket: %s", sp)
	}
	cli, err := s.pool.Client()
	if err != nil {
		return err
	}
	return retry.Do(ctx, s.policy(ctx, "remove", backend.RetryRemove), func() error {
		_, err := cli.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(sp.Bucket()),
			Key:    aws.String(sp.Resource()),
		})
		return normalizeError(err, "DeleteObject", sp.Bucket(), sp.Resource())
	})
}

// Rmtree deletes every object under the path taken as a directory. On a
// bucket path the bucket itself is deleted with one call.
func (s *Store) Rmtree(ctx context.Context, p storpath.Path) error {
	sp, err := resolve(p)
	if err != nil {
		return err
	}
	cli, err := s.pool.Client()
	if err != nil {
		return err
	}
	return retry.Do(ctx, s.policy(ctx, "rmtree", backend.RetryRmtree), func() error {
		if sp.Resource() == "" {
			logger(sp).Infoln("delete bucket")
			_, err := cli.DeleteBucketWithContext(ctx, &s3.DeleteBucketInput{Bucket: aws.String(sp.Bucket())})
			return normalizeError(err, "DeleteBucket", sp.Bucket(), "")
		}
		prefix := withTrailingSlash(sp.Resource())
		entries, err := listEntries(ctx, cli, sp.Bucket(), prefix, false, 0)
		if err != nil {
			return err
		}
		logger(sp).WithField("objects", len(entries)).Infoln("rmtree")

		var failures []obserr.Failure
		for start := 0; start < len(entries); start += maxKeys {
			end := start + maxKeys
			if end > len(entries) {
				end = len(entries)
			}
			objects := make([]*s3.ObjectIdentifier, 0, end-start)
			for _, e := range entries[start:end] {
				objects = append(objects, &s3.ObjectIdentifier{Key: aws.String(e.Path)})
			}
			resp, err := cli.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(sp.Bucket()),
				Delete: &s3.Delete{Objects: objects, Quiet: aws.Bool(true)},
			})
			if err != nil {
				return normalizeError(err, "DeleteObjects", sp.Bucket(), prefix)
			}
			for _, e := range resp.Errors {
				failures = append(failures, obserr.Failure{
					Key:     aws.StringValue(e.Key),
					Code:    aws.StringValue(e.Code),
					Message: aws.StringValue(e.Message),
				})
			}
		}
		return backend.Aggregate(obserr.KindRemote, "an error occurred while using rmtree on "+sp.String(), failures)
	})
}

// Restore asks S3 to bring an archived object back for days days. A restore
// that is already done or in progress is not an error.
func (s *Store) Restore(ctx context.Context, p storpath.Path, tier string, days int64) error {
	sp, err := resolve(p)
	if err != nil {
		return err
	}
	switch tier {
	case TierStandard, TierBulk, TierExpedited:
	default:
		return obserr.Validation("tier must be one of %s, %s, %s (got %q)", TierStandard, TierBulk, TierExpedited, tier)
	}
	cli, err := s.pool.Client()
	if err != nil {
		return err
	}
	_, err = cli.RestoreObjectWithContext(ctx, &s3.RestoreObjectInput{
		Bucket: aws.String(sp.Bucket()),
		Key:    aws.String(sp.Resource()),
		RestoreRequest: &s3.RestoreRequest{
			Days:                 aws.Int64(days),
			GlacierJobParameters: &s3.GlacierJobParameters{Tier: aws.String(tier)},
		},
	})
	err = normalizeError(err, opRestoreObject, sp.Bucket(), sp.Resource())
	switch {
	case obserr.Is(err, obserr.KindRestoreAlreadyInProgress):
		logger(sp).Debugln("restore already started, not doing anything")
		return nil
	case obserr.Is(err, obserr.KindAlreadyRestored):
		logger(sp).Debugln("already restored, not doing anything")
		return nil
	}
	return err
}

// ToURL returns the HTTP URL of the object: virtual host style on AWS, path
// style on a configured endpoint.
func (s *Store) ToURL(p storpath.Path) (string, error) {
	sp, err := resolve(p)
	if err != nil {
		return "", err
	}
	key := (&url.URL{Path: sp.Resource()}).EscapedPath()
	if endpoint := s.cfg.S3.Endpoint; endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(endpoint, "/"), sp.Bucket(), key), nil
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", sp.Bucket(), key), nil
}
