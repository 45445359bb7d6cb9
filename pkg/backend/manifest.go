package backend

import (
	"bufio"
	"bytes"
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/dashjay/obspath/pkg/condition"
	"github.com/dashjay/obspath/pkg/obserr"
	"github.com/dashjay/obspath/pkg/storpath"
)

// DataManifestFileName lists, one per line, the object names an upload
// with UseManifest produced. Listings and downloads read it back to wait
// until every object is visible.
const DataManifestFileName = ".data_manifest.csv"

// ManifestDir is the local directory an upload writes its manifest into:
// the uploaded directory when it is the only source, "." otherwise.
func ManifestDir(fs afero.Fs, sources []string) string {
	if len(sources) == 1 {
		if ok, _ := afero.IsDir(fs, sources[0]); ok {
			return sources[0]
		}
	}
	return "."
}

func manifestFile(fs afero.Fs, sources []string) string {
	return filepath.Join(ManifestDir(fs, sources), DataManifestFileName)
}

// EncodeManifest renders names the way ParseManifest reads them.
func EncodeManifest(names []string) []byte {
	return []byte(strings.Join(names, "\n") + "\n")
}

// ParseManifest returns the non blank lines of a manifest, trimmed.
func ParseManifest(data []byte) []string {
	var names []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			names = append(names, line)
		}
	}
	return names
}

// ReadManifest reads the names in the data manifest directly under p.
func ReadManifest(ctx context.Context, r ObjectReadWriter, p storpath.Path) ([]string, error) {
	data, err := r.ReadObject(ctx, storpath.Join(p, DataManifestFileName))
	if err != nil {
		return nil, err
	}
	return ParseManifest(data), nil
}

// PlanManifest writes the manifest for objects next to the uploaded files
// on fs and returns the object that uploads it, plus the names it lists.
func PlanManifest(fs afero.Fs, resource string, sources []string, opts UploadOptions, objects []UploadObject) (UploadObject, []string, error) {
	names := make([]string, 0, len(objects))
	for _, o := range objects {
		names = append(names, o.ObjectName)
	}
	file := manifestFile(fs, sources)
	data := EncodeManifest(names)
	if err := afero.WriteFile(fs, file, data, 0o644); err != nil {
		return UploadObject{}, nil, errors.Wrapf(err, "write data manifest %s", file)
	}
	name, err := objectNameFor(opts, file)
	if err != nil {
		return UploadObject{}, nil, err
	}
	return UploadObject{Source: file, ObjectName: resourceDir(resource) + name, Size: int64(len(data))}, names, nil
}

// ManifestMissing returns the expected names absent from got, sorted.
func ManifestMissing(expected, got []string) []string {
	have := make(map[string]struct{}, len(got))
	for _, g := range got {
		have[g] = struct{}{}
	}
	var missing []string
	for _, e := range expected {
		if _, ok := have[e]; !ok {
			missing = append(missing, e)
		}
	}
	sort.Strings(missing)
	return missing
}

func checkManifest(expected, got []string) error {
	missing := ManifestMissing(expected, got)
	if len(missing) == 0 {
		return nil
	}
	e := obserr.Newf(obserr.KindConditionNotMet, "%d of %d objects in the data manifest are missing", len(missing), len(expected))
	for _, m := range missing {
		e.Failures = append(e.Failures, obserr.Failure{Key: m, Code: obserr.KindNotFound.String(), Message: "not in results"})
	}
	return e
}

// CheckList applies the listing condition and, with a manifest, requires
// every manifest name among the listed resources.
func CheckList(cond *condition.Condition, paths []storpath.Path, manifest []string) error {
	if err := condition.Check(cond, len(paths)); err != nil {
		return err
	}
	if manifest == nil {
		return nil
	}
	got := make([]string, 0, len(paths))
	for _, p := range paths {
		got = append(got, storpath.Resource(p))
	}
	return checkManifest(manifest, got)
}

// CheckUpload applies the upload condition to completed and skipped
// objects alike: a skipped object is already in place. With a manifest,
// every manifest name must be among them.
func CheckUpload(cond *condition.Condition, res UploadResult, manifest []string) error {
	n := len(res.Completed) + len(res.Skipped)
	if err := condition.Check(cond, n); err != nil {
		return err
	}
	if manifest == nil {
		return nil
	}
	got := make([]string, 0, n)
	for _, p := range res.Completed {
		got = append(got, storpath.Resource(p))
	}
	for _, p := range res.Skipped {
		got = append(got, storpath.Resource(p))
	}
	return checkManifest(manifest, got)
}

// CheckDownload is CheckUpload for downloads. Manifest names are mapped
// below dest the way PlanDownload maps keys under prefix.
func CheckDownload(cond *condition.Condition, res DownloadResult, prefix, dest string, manifest []string) error {
	n := len(res.Completed) + len(res.Skipped)
	if err := condition.Check(cond, n); err != nil {
		return err
	}
	if manifest == nil {
		return nil
	}
	local := make(map[string]string, len(manifest))
	expected := make([]string, 0, len(manifest))
	for _, m := range manifest {
		rel := strings.TrimPrefix(m, prefix)
		if rel == m && prefix != "" {
			// outside the downloaded prefix, so it can never show up
			expected = append(expected, m)
			continue
		}
		p := filepath.Join(dest, filepath.FromSlash(rel))
		local[p] = m
		expected = append(expected, p)
	}
	got := append(append([]string(nil), res.Completed...), res.Skipped...)
	err := checkManifest(expected, got)
	if e, ok := err.(*obserr.Error); ok {
		for i := range e.Failures {
			if m, ok := local[e.Failures[i].Key]; ok {
				e.Failures[i].Key = m
			}
		}
	}
	return err
}
