package storpath

import (
	"strings"

	"github.com/dashjay/obspath/pkg/obserr"
)

// S3Path addresses s3://bucket/key. A key ending in "/" is a prefix.
type S3Path struct {
	raw string
}

func NewS3Path(raw string) (S3Path, error) {
	if !strings.HasPrefix(raw, S3Scheme) {
		return S3Path{}, obserr.Validation("path must have %s (got %q)", S3Scheme, raw)
	}
	parts := splitBody(raw[len(S3Scheme):])
	if len(parts) > 0 {
		if parts[0] == "" {
			return S3Path{}, obserr.Validation("missing bucket in %q", raw)
		}
		if strings.Contains(parts[0], `\`) {
			return S3Path{}, obserr.Validation("invalid bucket %q in %q", parts[0], raw)
		}
	}
	return S3Path{raw: raw}, nil
}

func (p S3Path) sealed() {}

func (p S3Path) String() string { return p.raw }

func (p S3Path) Kind() Kind { return KindS3 }

func (p S3Path) body() string { return p.raw[len(S3Scheme):] }

func (p S3Path) Bucket() string {
	parts := splitBody(p.body())
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

// Resource is the key or key prefix after the bucket, trailing slash included.
func (p S3Path) Resource() string {
	parts := splitBody(p.body())
	if len(parts) < 2 {
		return ""
	}
	return strings.Join(parts[1:], "/")
}

// Root is the bucket-only path.
func (p S3Path) Root() S3Path {
	return S3Path{raw: S3Scheme + p.Bucket()}
}

// Child is the path of key inside p's bucket. Unlike Join the key is kept
// verbatim, leading slashes included, so listed keys round trip.
func (p S3Path) Child(key string) S3Path {
	return S3Path{raw: S3Scheme + p.Bucket() + "/" + key}
}

func (p S3Path) Join(elem ...string) S3Path {
	return S3Path{raw: S3Scheme + joinBody(p.body(), elem...)}
}

func (p S3Path) Normalize() S3Path {
	return S3Path{raw: S3Scheme + cleanBody(p.body())}
}

func (p S3Path) Parent() S3Path {
	return S3Path{raw: S3Scheme + parentBody(cleanBody(p.body()))}
}

func (p S3Path) Name() string {
	return nameBody(cleanBody(p.body()))
}

func (p S3Path) Ext() string {
	return extBody(p.body())
}

func (p S3Path) HasTrailingSlash() bool {
	return strings.HasSuffix(p.body(), "/")
}

func (p S3Path) WithTrailingSlash() S3Path {
	return S3Path{raw: S3Scheme + withTrailingSlash(p.body())}
}

func (p S3Path) WithoutTrailingSlash() S3Path {
	return S3Path{raw: S3Scheme + strings.TrimRight(p.body(), "/")}
}
