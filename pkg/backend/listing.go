package backend

import (
	"path"
	"strings"

	"github.com/dashjay/obspath/pkg/config"
	"github.com/dashjay/obspath/pkg/obserr"
	"github.com/dashjay/obspath/pkg/retry"
	"github.com/dashjay/obspath/pkg/storpath"
)

// Kinds each operation retries on.
var (
	RetryList           = []obserr.Kind{obserr.KindConditionNotMet, obserr.KindUnavailable}
	RetryRead           = []obserr.Kind{obserr.KindNotFound, obserr.KindUnavailable, obserr.KindInconsistentDownload, obserr.KindUnauthorized}
	RetryStat           = []obserr.Kind{obserr.KindUnavailable}
	RetryDownload       = []obserr.Kind{obserr.KindConditionNotMet, obserr.KindUnavailable, obserr.KindInconsistentDownload}
	RetryDownloadObject = []obserr.Kind{obserr.KindUnavailable, obserr.KindInconsistentDownload, obserr.KindUnauthorized}
	RetryUpload         = []obserr.Kind{obserr.KindConditionNotMet, obserr.KindUnavailable, obserr.KindUnauthorized}
	RetryRemove         = []obserr.Kind{obserr.KindUnavailable, obserr.KindUnauthorized}
	RetryPost           = []obserr.Kind{obserr.KindUnavailable, obserr.KindUnauthorized}
	RetryRmtree         = []obserr.Kind{obserr.KindUnavailable, obserr.KindConflict, obserr.KindConditionNotMet, obserr.KindUnauthorized}
)

// Policy returns the retry policy for op under the settings in effect.
func Policy(cfg *config.Config, retries int, op string, kinds []obserr.Kind) retry.Policy {
	return retry.Policy{
		Retries:      retries,
		InitialSleep: cfg.Retry.InitialSleep,
		Retryable:    retry.OnKinds(kinds...),
		Op:           op,
	}
}

// EffectivePrefix is the listing prefix for resource: StartsWith is appended
// as a child, and ListAsDir forces a trailing slash on a non empty prefix.
func EffectivePrefix(resource string, opts ListOptions) string {
	prefix := resource
	if opts.StartsWith != "" {
		if prefix == "" {
			prefix = opts.StartsWith
		} else {
			prefix = strings.TrimSuffix(prefix, "/") + "/" + opts.StartsWith
		}
	}
	if opts.ListAsDir && prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

// PageSize returns how many entries to request next given the results
// collected so far, or 0 when no more should be fetched.
func PageSize(limit, collected, max int) int {
	if limit <= 0 {
		return max
	}
	remaining := limit - collected
	if remaining <= 0 {
		return 0
	}
	if remaining < max {
		return remaining
	}
	return max
}

// GlobPrefix turns a glob pattern into the prefix to list. Only a single
// trailing "*" is supported since object stores answer prefix queries only.
func GlobPrefix(pattern string) (string, error) {
	n := strings.Count(pattern, "*")
	if n > 1 {
		return "", obserr.Validation("multiple pattern globs not supported: %q", pattern)
	}
	if n == 1 && !strings.HasSuffix(pattern, "*") {
		return "", obserr.Validation("only prefix queries are supported: %q", pattern)
	}
	return strings.TrimSuffix(pattern, "*"), nil
}

// MatchName keeps the paths whose final name matches pattern. An empty
// pattern keeps everything.
func MatchName(paths []storpath.Path, pattern string) ([]storpath.Path, error) {
	if pattern == "" {
		return paths, nil
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, obserr.New(obserr.KindValidation, "invalid pattern "+pattern, err)
	}
	out := make([]storpath.Path, 0, len(paths))
	for _, p := range paths {
		name := strings.TrimSuffix(storpath.Name(p), "/")
		if ok, _ := path.Match(pattern, name); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// IsExactMatch reports whether a limit-1 listing on resource found the
// object itself rather than something sharing its prefix.
func IsExactMatch(resource string, keys []string) bool {
	return len(keys) > 0 && keys[0] == resource
}
