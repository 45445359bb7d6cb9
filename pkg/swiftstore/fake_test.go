package swiftstore_test

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/ncw/swift/v2"

	"github.com/dashjay/obspath/pkg/swiftstore"
)

// recordingConn serves one tenant from memory and counts every call it
// receives. Methods it does not override panic through the nil embedded
// interface.
type recordingConn struct {
	swiftstore.Conn

	// mu guards deletes, which rmtree issues concurrently.
	mu sync.Mutex

	// containers maps a container to its sorted object names.
	containers map[string][]string
	// listErrs are returned, in order, by the first Objects calls.
	listErrs []error

	objectsCalls         int
	containersCalls      int
	objectDeleteCalls    int
	containerDeleteCalls int
}

func newRecordingConn() *recordingConn {
	return &recordingConn{containers: map[string][]string{}}
}

func (f *recordingConn) add(container string, names ...string) *recordingConn {
	objs := append(f.containers[container], names...)
	sort.Strings(objs)
	f.containers[container] = objs
	return f
}

func numberedNames(prefix string, n int) []string {
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		names = append(names, fmt.Sprintf("%s%05d", prefix, i))
	}
	return names
}

func statusError(status int) error {
	return &swift.Error{StatusCode: status, Text: http.StatusText(status)}
}

func (f *recordingConn) Objects(_ context.Context, container string, opts *swift.ObjectsOpts) ([]swift.Object, error) {
	f.objectsCalls++
	if len(f.listErrs) > 0 {
		err := f.listErrs[0]
		f.listErrs = f.listErrs[1:]
		return nil, err
	}
	names, ok := f.containers[container]
	if !ok {
		return nil, swift.ContainerNotFound
	}
	limit := opts.Limit
	if limit == 0 {
		limit = 10000
	}
	var out []swift.Object
	seen := map[string]bool{}
	for _, name := range names {
		if len(out) == limit {
			break
		}
		if !strings.HasPrefix(name, opts.Prefix) || name <= opts.Marker {
			continue
		}
		if opts.Delimiter != 0 {
			rest := name[len(opts.Prefix):]
			if idx := strings.IndexRune(rest, opts.Delimiter); idx >= 0 {
				sub := name[:len(opts.Prefix)+idx+1]
				if !seen[sub] && sub > opts.Marker {
					seen[sub] = true
					out = append(out, swift.Object{Name: sub, SubDir: sub, PseudoDirectory: true})
				}
				continue
			}
		}
		out = append(out, swift.Object{Name: name, Bytes: 1, ContentType: "application/octet-stream"})
	}
	return out, nil
}

func (f *recordingConn) Containers(_ context.Context, opts *swift.ContainersOpts) ([]swift.Container, error) {
	f.containersCalls++
	names := make([]string, 0, len(f.containers))
	for name := range f.containers {
		names = append(names, name)
	}
	sort.Strings(names)
	var out []swift.Container
	for _, name := range names {
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
		if !strings.HasPrefix(name, opts.Prefix) || name <= opts.Marker {
			continue
		}
		out = append(out, swift.Container{Name: name, Count: int64(len(f.containers[name]))})
	}
	return out, nil
}

func (f *recordingConn) ObjectDelete(_ context.Context, container string, objectName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objectDeleteCalls++
	names := f.containers[container]
	for i, name := range names {
		if name == objectName {
			f.containers[container] = append(names[:i:i], names[i+1:]...)
			return nil
		}
	}
	return swift.ObjectNotFound
}

func (f *recordingConn) ContainerDelete(_ context.Context, container string) error {
	f.containerDeleteCalls++
	if _, ok := f.containers[container]; !ok {
		return swift.ContainerNotFound
	}
	delete(f.containers, container)
	return nil
}
