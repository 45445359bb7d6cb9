package s3store_test

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// recordingS3 serves listings from an in-memory key set and counts every
// call it receives. Methods it does not override panic through the nil
// embedded interface.
type recordingS3 struct {
	s3iface.S3API

	keys []string
	// deleteErrs maps keys DeleteObjects refuses to delete to the error code
	// reported for them.
	deleteErrs map[string]string
	// listErrs are returned, in order, by the first list calls.
	listErrs []error

	listCalls         int
	deleteBatches     []int
	deleteBucketCalls int
	deleteObjectCalls int
}

func newRecordingS3(keys ...string) *recordingS3 {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	return &recordingS3{keys: sorted}
}

func numberedKeys(prefix string, n int) []string {
	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		keys = append(keys, fmt.Sprintf("%s%05d", prefix, i))
	}
	return keys
}

func (f *recordingS3) ListObjectsV2WithContext(_ aws.Context, in *s3.ListObjectsV2Input, _ ...request.Option) (*s3.ListObjectsV2Output, error) {
	f.listCalls++
	if len(f.listErrs) > 0 {
		err := f.listErrs[0]
		f.listErrs = f.listErrs[1:]
		return nil, err
	}
	prefix := aws.StringValue(in.Prefix)
	delim := aws.StringValue(in.Delimiter)
	maxKeys := int(aws.Int64Value(in.MaxKeys))
	if maxKeys == 0 {
		maxKeys = 1000
	}
	start := 0
	if tok := aws.StringValue(in.ContinuationToken); tok != "" {
		start, _ = strconv.Atoi(tok)
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	seen := map[string]bool{}
	returned := 0
	for i := start; i < len(f.keys); i++ {
		key := f.keys[i]
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if returned == maxKeys {
			out.IsTruncated = aws.Bool(true)
			out.NextContinuationToken = aws.String(strconv.Itoa(i))
			break
		}
		if delim != "" {
			if idx := strings.Index(key[len(prefix):], delim); idx >= 0 {
				cp := key[:len(prefix)+idx+1]
				if !seen[cp] {
					seen[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, &s3.CommonPrefix{Prefix: aws.String(cp)})
					returned++
				}
				continue
			}
		}
		out.Contents = append(out.Contents, &s3.Object{Key: aws.String(key), Size: aws.Int64(1)})
		returned++
	}
	return out, nil
}

func (f *recordingS3) DeleteObjectsWithContext(_ aws.Context, in *s3.DeleteObjectsInput, _ ...request.Option) (*s3.DeleteObjectsOutput, error) {
	f.deleteBatches = append(f.deleteBatches, len(in.Delete.Objects))
	out := &s3.DeleteObjectsOutput{}
	gone := map[string]bool{}
	for _, o := range in.Delete.Objects {
		key := aws.StringValue(o.Key)
		if code, ok := f.deleteErrs[key]; ok {
			out.Errors = append(out.Errors, &s3.Error{Key: aws.String(key), Code: aws.String(code), Message: aws.String("refused")})
			continue
		}
		gone[key] = true
	}
	kept := f.keys[:0]
	for _, k := range f.keys {
		if !gone[k] {
			kept = append(kept, k)
		}
	}
	f.keys = kept
	return out, nil
}

func (f *recordingS3) DeleteBucketWithContext(_ aws.Context, _ *s3.DeleteBucketInput, _ ...request.Option) (*s3.DeleteBucketOutput, error) {
	f.deleteBucketCalls++
	return &s3.DeleteBucketOutput{}, nil
}

func (f *recordingS3) DeleteObjectWithContext(_ aws.Context, _ *s3.DeleteObjectInput, _ ...request.Option) (*s3.DeleteObjectOutput, error) {
	f.deleteObjectCalls++
	return &s3.DeleteObjectOutput{}, nil
}
