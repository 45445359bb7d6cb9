// Package storpath models the three kinds of path the library understands.
//
// A Path is a closed set of variants: LocalPath, S3Path and SwiftPath. Parse
// inspects the scheme prefix once and returns the matching variant; code that
// needs backend specific behaviour switches on the concrete type.
package storpath

import (
	"strings"

	"github.com/dashjay/obspath/pkg/obserr"
)

const (
	S3Scheme    = "s3://"
	SwiftScheme = "swift://"
)

type Kind int

const (
	KindLocal Kind = iota
	KindS3
	KindSwift
)

func (k Kind) String() string {
	switch k {
	case KindS3:
		return "s3"
	case KindSwift:
		return "swift"
	default:
		return "local"
	}
}

// Path is implemented by LocalPath, S3Path and SwiftPath only.
type Path interface {
	String() string
	Kind() Kind
	HasTrailingSlash() bool
	sealed()
}

// Parse classifies raw by its scheme prefix and builds the matching variant.
func Parse(raw string) (Path, error) {
	switch {
	case raw == "":
		return nil, obserr.Validation("empty path")
	case strings.HasPrefix(raw, S3Scheme):
		return NewS3Path(raw)
	case strings.HasPrefix(raw, SwiftScheme):
		return NewSwiftPath(raw)
	default:
		return LocalPath{raw: raw}, nil
	}
}

func MustParse(raw string) Path {
	p, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func IsS3(raw string) bool {
	return strings.HasPrefix(raw, S3Scheme)
}

func IsSwift(raw string) bool {
	return strings.HasPrefix(raw, SwiftScheme)
}

func IsObjectStore(raw string) bool {
	return IsS3(raw) || IsSwift(raw)
}

func IsLocal(raw string) bool {
	return !IsObjectStore(raw)
}

// Join appends elem to p and returns a value of the same variant.
func Join(p Path, elem ...string) Path {
	switch v := p.(type) {
	case S3Path:
		return v.Join(elem...)
	case SwiftPath:
		return v.Join(elem...)
	case LocalPath:
		return v.Join(elem...)
	}
	panic("storpath: unknown path variant")
}

func Parent(p Path) Path {
	switch v := p.(type) {
	case S3Path:
		return v.Parent()
	case SwiftPath:
		return v.Parent()
	case LocalPath:
		return v.Parent()
	}
	panic("storpath: unknown path variant")
}

func Name(p Path) string {
	switch v := p.(type) {
	case S3Path:
		return v.Name()
	case SwiftPath:
		return v.Name()
	case LocalPath:
		return v.Name()
	}
	panic("storpath: unknown path variant")
}

func Normalize(p Path) Path {
	switch v := p.(type) {
	case S3Path:
		return v.Normalize()
	case SwiftPath:
		return v.Normalize()
	case LocalPath:
		return v.Normalize()
	}
	panic("storpath: unknown path variant")
}

func WithTrailingSlash(p Path) Path {
	switch v := p.(type) {
	case S3Path:
		return v.WithTrailingSlash()
	case SwiftPath:
		return v.WithTrailingSlash()
	case LocalPath:
		return v.WithTrailingSlash()
	}
	panic("storpath: unknown path variant")
}

// IsAmbiguous reports whether an object-store path could name either an
// object or a prefix: it has neither a trailing slash nor an extension.
// Local paths are never ambiguous since the filesystem can be asked.
func IsAmbiguous(p Path) bool {
	switch v := p.(type) {
	case S3Path:
		return !v.HasTrailingSlash() && v.Ext() == ""
	case SwiftPath:
		return !v.HasTrailingSlash() && v.Ext() == ""
	case LocalPath:
		return false
	}
	panic("storpath: unknown path variant")
}

// Resource is the key or object name inside the bucket or container, or ""
// for local paths.
func Resource(p Path) string {
	switch v := p.(type) {
	case S3Path:
		return v.Resource()
	case SwiftPath:
		return v.Resource()
	case LocalPath:
		return ""
	}
	panic("storpath: unknown path variant")
}
