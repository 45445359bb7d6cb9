// Package backend holds what the storage backends share: the operation
// contracts, option types, listing and transfer planning, and the buffered
// File object.
package backend

import (
	"context"

	"github.com/dashjay/obspath/pkg/condition"
	"github.com/dashjay/obspath/pkg/storpath"
	"github.com/dashjay/obspath/pkg/types"
)

// Interface is implemented by every store, local filesystem included. A
// store rejects paths of another variant with a validation error.
type Interface interface {
	List(ctx context.Context, p storpath.Path, opts ListOptions) ([]storpath.Path, error)
	ListDir(ctx context.Context, p storpath.Path) ([]storpath.Path, error)
	Glob(ctx context.Context, p storpath.Path, pattern string, cond *condition.Condition) ([]storpath.Path, error)
	First(ctx context.Context, p storpath.Path) (storpath.Path, error)
	Walkfiles(ctx context.Context, p storpath.Path, pattern string) ([]storpath.Path, error)

	Exists(ctx context.Context, p storpath.Path) (bool, error)
	IsFile(ctx context.Context, p storpath.Path) (bool, error)
	IsDir(ctx context.Context, p storpath.Path) (bool, error)
	Stat(ctx context.Context, p storpath.Path) (types.FileInfo, error)
	Getsize(ctx context.Context, p storpath.Path) (int64, error)

	ObjectReadWriter

	Remove(ctx context.Context, p storpath.Path) error
	Rmtree(ctx context.Context, p storpath.Path) error
}

// ObjectReadWriter moves whole objects in and out of memory.
type ObjectReadWriter interface {
	ReadObject(ctx context.Context, p storpath.Path) ([]byte, error)
	WriteObject(ctx context.Context, p storpath.Path, data []byte) error
}

// Remote is an object store: it can also move trees between the local
// filesystem and itself.
type Remote interface {
	Interface
	Upload(ctx context.Context, p storpath.Path, sources []string, opts UploadOptions) (UploadResult, error)
	Download(ctx context.Context, p storpath.Path, dest string, opts DownloadOptions) (DownloadResult, error)
	DownloadObject(ctx context.Context, p storpath.Path, dest string) error
	ToURL(p storpath.Path) (string, error)
}

type ListOptions struct {
	// StartsWith is appended to the resource, which is then treated as a
	// directory.
	StartsWith string
	// Limit caps the number of results; 0 means no limit.
	Limit     int
	Condition *condition.Condition
	// ListAsDir lists one level only, reporting sub prefixes as paths with
	// a trailing slash.
	ListAsDir        bool
	IgnoreDirMarkers bool
	// IncludeSegmentContainers keeps swift segment containers in tenant
	// listings, which hide them otherwise.
	IncludeSegmentContainers bool
	// UseManifest reads the data manifest under the path and retries until
	// every object it names is listed.
	UseManifest bool
}

// UploadObject uploads Source under ObjectName, the full key inside the
// bucket or container. An ObjectName with a trailing slash creates a
// directory marker and needs no Source.
type UploadObject struct {
	Source     string
	ObjectName string
	Size       int64
}

type UploadOptions struct {
	// BaseDir makes object names relative to it instead of the stripped
	// source path.
	BaseDir string
	// Objects are uploaded as given, after the walked sources.
	Objects   []UploadObject
	Headers   map[string]string
	Condition *condition.Condition
	// UseManifest uploads a data manifest of the planned objects first and
	// fails the upload unless all of them made it.
	UseManifest bool
}

type UploadResult struct {
	Completed []storpath.Path
	Skipped   []storpath.Path
}

type DownloadOptions struct {
	Condition *condition.Condition
	// UseManifest waits until the data manifest under the path can be
	// listed in full, then requires every object in it downloaded.
	UseManifest bool
}

type DownloadResult struct {
	// Completed holds the local files written.
	Completed []string
	Skipped   []string
}
