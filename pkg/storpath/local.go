package storpath

import (
	"path/filepath"
	"strings"
)

const sep = string(filepath.Separator)

// LocalPath is a path on the local filesystem.
type LocalPath struct {
	raw string
}

func NewLocalPath(raw string) LocalPath {
	return LocalPath{raw: raw}
}

func (p LocalPath) sealed() {}

func (p LocalPath) String() string { return p.raw }

func (p LocalPath) Kind() Kind { return KindLocal }

func (p LocalPath) Join(elem ...string) LocalPath {
	s := p.raw
	for _, e := range elem {
		if e == "" {
			continue
		}
		if s == "" {
			s = e
			continue
		}
		if strings.HasSuffix(s, sep) {
			e = strings.TrimLeft(e, sep)
			if e == "" {
				continue
			}
		} else if !strings.HasPrefix(e, sep) {
			s += sep
		}
		s += e
	}
	return LocalPath{raw: s}
}

func (p LocalPath) Normalize() LocalPath {
	if p.raw == "" {
		return p
	}
	cleaned := filepath.Clean(p.raw)
	if p.HasTrailingSlash() && !strings.HasSuffix(cleaned, sep) {
		cleaned += sep
	}
	return LocalPath{raw: cleaned}
}

func (p LocalPath) split() (parent, name string) {
	n := p.Normalize().raw
	if n == sep {
		return sep, ""
	}
	trimmed := strings.TrimSuffix(n, sep)
	idx := strings.LastIndex(trimmed, sep)
	switch {
	case idx < 0:
		parent = ""
	case idx == 0:
		parent = sep
	default:
		parent = trimmed[:idx]
	}
	name = trimmed[idx+1:]
	if name != "" && strings.HasSuffix(n, sep) {
		name += sep
	}
	return parent, name
}

func (p LocalPath) Parent() LocalPath {
	parent, _ := p.split()
	return LocalPath{raw: parent}
}

func (p LocalPath) Name() string {
	_, name := p.split()
	return name
}

func (p LocalPath) Ext() string {
	return filepath.Ext(strings.TrimSuffix(p.raw, sep))
}

func (p LocalPath) HasTrailingSlash() bool {
	return strings.HasSuffix(p.raw, sep)
}

func (p LocalPath) WithTrailingSlash() LocalPath {
	if p.raw == "" || p.HasTrailingSlash() {
		return p
	}
	return LocalPath{raw: p.raw + sep}
}

func (p LocalPath) WithoutTrailingSlash() LocalPath {
	if p.raw == sep {
		return p
	}
	return LocalPath{raw: strings.TrimRight(p.raw, sep)}
}
