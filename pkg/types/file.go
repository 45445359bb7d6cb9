package types

import (
	"io/fs"
	"time"
)

// FileInfo describes one local file or remote object. Path is relative to
// whatever root the listing was taken from.
type FileInfo struct {
	Path        string
	Size        int64
	ModTime     time.Time
	Mode        fs.FileMode
	ETag        string
	ContentType string
	Metadata    map[string]string
	// Count is the number of objects in a bucket or container, when known.
	Count int64
}

func (f FileInfo) IsDir() bool {
	return f.Mode.IsDir()
}

type FileList []FileInfo

func (l FileList) Len() int {
	return len(l)
}

func (l FileList) Less(i, j int) bool {
	return l[i].Path < l[j].Path
}

func (l FileList) Swap(i, j int) {
	l[i], l[j] = l[j], l[i]
}
