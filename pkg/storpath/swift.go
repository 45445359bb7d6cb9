package storpath

import (
	"strings"

	"github.com/dashjay/obspath/pkg/obserr"
)

// SwiftPath addresses swift://tenant/container/object.
type SwiftPath struct {
	raw string
}

func NewSwiftPath(raw string) (SwiftPath, error) {
	if !strings.HasPrefix(raw, SwiftScheme) {
		return SwiftPath{}, obserr.Validation("path must have %s (got %q)", SwiftScheme, raw)
	}
	parts := splitBody(raw[len(SwiftScheme):])
	if len(parts) > 0 && parts[0] == "" {
		return SwiftPath{}, obserr.Validation("missing tenant in %q", raw)
	}
	if len(parts) > 2 && parts[1] == "" && strings.Join(parts[2:], "") != "" {
		return SwiftPath{}, obserr.Validation("missing container in %q", raw)
	}
	for i := 0; i < len(parts) && i < 2; i++ {
		if strings.Contains(parts[i], `\`) {
			return SwiftPath{}, obserr.Validation("invalid segment %q in %q", parts[i], raw)
		}
	}
	return SwiftPath{raw: raw}, nil
}

func (p SwiftPath) sealed() {}

func (p SwiftPath) String() string { return p.raw }

func (p SwiftPath) Kind() Kind { return KindSwift }

func (p SwiftPath) body() string { return p.raw[len(SwiftScheme):] }

func (p SwiftPath) Tenant() string {
	parts := splitBody(p.body())
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

func (p SwiftPath) Container() string {
	parts := splitBody(p.body())
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// Resource is the object name or prefix after the container.
func (p SwiftPath) Resource() string {
	parts := splitBody(p.body())
	if len(parts) < 3 {
		return ""
	}
	return strings.Join(parts[2:], "/")
}

// TenantRoot is swift://tenant.
func (p SwiftPath) TenantRoot() SwiftPath {
	return SwiftPath{raw: SwiftScheme + p.Tenant()}
}

// Root is swift://tenant/container, or the tenant root when there is no
// container.
func (p SwiftPath) Root() SwiftPath {
	if p.Container() == "" {
		return p.TenantRoot()
	}
	return SwiftPath{raw: SwiftScheme + p.Tenant() + "/" + p.Container()}
}

// IsSegmentContainer reports whether p names a container holding large
// object segments.
func (p SwiftPath) IsSegmentContainer() bool {
	c := p.Container()
	if c == "" || p.Resource() != "" {
		return false
	}
	return strings.HasPrefix(c, ".segments") ||
		strings.HasSuffix(c, "_segments") ||
		strings.HasSuffix(c, "+segments")
}

// Child is the path of name below p's root: an object name inside the
// container, or a container name on a tenant path. The name is kept
// verbatim.
func (p SwiftPath) Child(name string) SwiftPath {
	return SwiftPath{raw: p.Root().raw + "/" + name}
}

func (p SwiftPath) Join(elem ...string) SwiftPath {
	return SwiftPath{raw: SwiftScheme + joinBody(p.body(), elem...)}
}

func (p SwiftPath) Normalize() SwiftPath {
	return SwiftPath{raw: SwiftScheme + cleanBody(p.body())}
}

func (p SwiftPath) Parent() SwiftPath {
	return SwiftPath{raw: SwiftScheme + parentBody(cleanBody(p.body()))}
}

func (p SwiftPath) Name() string {
	return nameBody(cleanBody(p.body()))
}

func (p SwiftPath) Ext() string {
	return extBody(p.body())
}

func (p SwiftPath) HasTrailingSlash() bool {
	return strings.HasSuffix(p.body(), "/")
}

func (p SwiftPath) WithTrailingSlash() SwiftPath {
	return SwiftPath{raw: SwiftScheme + withTrailingSlash(p.body())}
}

func (p SwiftPath) WithoutTrailingSlash() SwiftPath {
	return SwiftPath{raw: SwiftScheme + strings.TrimRight(p.body(), "/")}
}
