package swiftstore

import (
	"bytes"
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ncw/swift/v2"

	"github.com/dashjay/obspath/pkg/backend"
	"github.com/dashjay/obspath/pkg/condition"
	"github.com/dashjay/obspath/pkg/obserr"
	"github.com/dashjay/obspath/pkg/retry"
	"github.com/dashjay/obspath/pkg/storpath"
	"github.com/dashjay/obspath/pkg/types"
)

// Stat returns the metadata of a tenant, a container or an object. A prefix
// that only has objects below it is NotFound.
func (s *Store) Stat(ctx context.Context, p storpath.Path) (types.FileInfo, error) {
	sp, err := resolve(p)
	if err != nil {
		return types.FileInfo{}, err
	}
	return retry.DoValue(ctx, s.policy(ctx, "stat", backend.RetryStat), func() (types.FileInfo, error) {
		var info types.FileInfo
		err := s.with(ctx, sp, func(conn Conn) error {
			switch {
			case sp.Container() == "":
				acct, headers, err := conn.Account(ctx)
				if err != nil {
					return normalizeError(err, "stat account", "", "")
				}
				info = types.FileInfo{
					Path:     sp.String(),
					Size:     acct.BytesUsed,
					Count:    acct.Objects,
					Mode:     dirMode,
					Metadata: headers.AccountMetadata(),
				}
			case sp.Resource() == "":
				c, headers, err := conn.Container(ctx, sp.Container())
				if err != nil {
					return normalizeError(err, "stat container", sp.Container(), "")
				}
				info = types.FileInfo{
					Path:     sp.String(),
					Size:     c.Bytes,
					Count:    c.Count,
					Mode:     dirMode,
					Metadata: headers.ContainerMetadata(),
				}
			default:
				obj, headers, err := conn.Object(ctx, sp.Container(), sp.Resource())
				if err != nil {
					return normalizeError(err, "stat object", sp.Container(), sp.Resource())
				}
				info = types.FileInfo{
					Path:        sp.String(),
					Size:        obj.Bytes,
					ModTime:     obj.LastModified,
					Mode:        0o644,
					ETag:        obj.Hash,
					ContentType: obj.ContentType,
					Metadata:    headers.ObjectMetadata(),
				}
				if isDirMarker(info) {
					info.Mode = dirMode
				}
			}
			return nil
		})
		return info, err
	})
}

// Getsize returns the size of an object. Tenants and containers have size 0.
func (s *Store) Getsize(ctx context.Context, p storpath.Path) (int64, error) {
	info, err := s.Stat(ctx, p)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, nil
	}
	return info.Size, nil
}

func (s *Store) ReadObject(ctx context.Context, p storpath.Path) ([]byte, error) {
	sp, err := resolveContainer(p, "read_object")
	if err != nil {
		return nil, err
	}
	return retry.DoValue(ctx, s.policy(ctx, "read_object", backend.RetryRead), func() ([]byte, error) {
		var buf bytes.Buffer
		err := s.with(ctx, sp, func(conn Conn) error {
			_, err := conn.ObjectGet(ctx, sp.Container(), sp.Resource(), &buf, s.settings(ctx).SwiftDownload.Checksum, nil)
			return normalizeError(err, "get object", sp.Container(), sp.Resource())
		})
		if err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	})
}

// WriteObject stores data as a single object, creating the container when
// needed.
func (s *Store) WriteObject(ctx context.Context, p storpath.Path, data []byte) error {
	sp, err := resolveContainer(p, "write_object")
	if err != nil {
		return err
	}
	if sp.Resource() == "" || sp.HasTrailingSlash() {
		return obserr.Validation("cannot write an object to %s", sp)
	}
	return retry.Do(ctx, s.policy(ctx, "write_object", backend.RetryUpload), func() error {
		return s.with(ctx, sp, func(conn Conn) error {
			if err := ensureContainer(ctx, conn, sp.Container()); err != nil {
				return err
			}
			_, err := conn.ObjectPut(ctx, sp.Container(), sp.Resource(), bytes.NewReader(data),
				s.settings(ctx).SwiftUpload.Checksum, "", "", nil)
			return normalizeError(err, "put object", sp.Container(), sp.Resource())
		})
	})
}

func ensureContainer(ctx context.Context, conn Conn, container string) error {
	return normalizeError(conn.ContainerCreate(ctx, container, nil), "create container", container, "")
}

// Remove deletes a single object.
func (s *Store) Remove(ctx context.Context, p storpath.Path) error {
	sp, err := resolve(p)
	if err != nil {
		return err
	}
	if sp.Container() == "" || sp.Resource() == "" {
		return obserr.Validation("path must contain a container and resource to remove a single file: %s", sp)
	}
	return retry.Do(ctx, s.policy(ctx, "remove", backend.RetryRemove), func() error {
		return s.with(ctx, sp, func(conn Conn) error {
			err := conn.ObjectDelete(ctx, sp.Container(), sp.Resource())
			return normalizeError(err, "delete object", sp.Container(), sp.Resource())
		})
	})
}

func ignoreNotFound(err error) error {
	if obserr.IsNotFound(err) {
		return nil
	}
	return err
}

// Rmtree deletes every object under the path taken as a directory, then
// lists again to make sure nothing is left. On a container path the
// container is deleted with one call; a missing container is not an error.
func (s *Store) Rmtree(ctx context.Context, p storpath.Path) error {
	sp, err := resolveContainer(p, "rmtree")
	if err != nil {
		return err
	}
	if sp.IsSegmentContainer() {
		logger(sp).Warnln("rmtree on a segment container, objects referencing these segments will break")
	}
	return retry.Do(ctx, s.policy(ctx, "rmtree", backend.RetryRmtree), func() error {
		if sp.Resource() == "" {
			logger(sp).Infoln("delete container")
			return s.with(ctx, sp, func(conn Conn) error {
				err := conn.ContainerDelete(ctx, sp.Container())
				return ignoreNotFound(normalizeError(err, "delete container", sp.Container(), ""))
			})
		}

		prefix := withTrailingSlash(sp.Resource())
		var failures []obserr.Failure
		err := s.with(ctx, sp, func(conn Conn) error {
			entries, err := listObjects(ctx, conn, sp.Container(), prefix, false, 0)
			if err != nil {
				return ignoreNotFound(err)
			}
			threads := s.settings(ctx).SwiftDelete.ObjectThreads
			logger(sp).WithField("objects", len(entries)).WithField("threads", threads).Infoln("rmtree")
			failures = deleteObjects(ctx, conn, sp.Container(), entries, threads)
			return nil
		})
		if err != nil {
			return err
		}
		if err := backend.Aggregate(obserr.KindRemote, "an error occurred while using rmtree on "+sp.String(), failures); err != nil {
			return err
		}

		empty := condition.Must("==", 0)
		return s.with(ctx, sp, func(conn Conn) error {
			left, err := listObjects(ctx, conn, sp.Container(), prefix, false, 0)
			if err != nil {
				return ignoreNotFound(err)
			}
			return condition.Check(&empty, len(left))
		})
	})
}

// parallel calls fn with every index below n from at most threads
// goroutines and returns once all calls have.
func parallel(n, threads int, fn func(i int)) {
	if threads < 1 {
		threads = 1
	}
	if threads > n {
		threads = n
	}
	var wg sync.WaitGroup
	work := make(chan int)
	for w := 0; w < threads; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				fn(i)
			}
		}()
	}
	for i := 0; i < n; i++ {
		work <- i
	}
	close(work)
	wg.Wait()
}

// deleteObjects deletes every entry with up to threads concurrent calls.
// Objects already gone are not failures.
func deleteObjects(ctx context.Context, conn Conn, container string, entries types.FileList, threads int) []obserr.Failure {
	var (
		mu       sync.Mutex
		failures []obserr.Failure
	)
	parallel(len(entries), threads, func(i int) {
		name := entries[i].Path
		err := ignoreNotFound(normalizeError(conn.ObjectDelete(ctx, container, name), "delete object", container, name))
		if err == nil {
			return
		}
		mu.Lock()
		failures = append(failures, obserr.Failure{Key: name, Code: obserr.KindOf(err).String(), Message: err.Error()})
		mu.Unlock()
	})
	sort.Slice(failures, func(i, j int) bool { return failures[i].Key < failures[j].Key })
	return failures
}

// RemoveContainer deletes an empty container.
func (s *Store) RemoveContainer(ctx context.Context, p storpath.Path) error {
	sp, err := resolveContainer(p, "remove_container")
	if err != nil {
		return err
	}
	if sp.Resource() != "" {
		return obserr.Validation("swift path must not include resource for remove_container: %s", sp)
	}
	return retry.Do(ctx, s.policy(ctx, "remove_container", backend.RetryRemove), func() error {
		return s.with(ctx, sp, func(conn Conn) error {
			return normalizeError(conn.ContainerDelete(ctx, sp.Container()), "delete container", sp.Container(), "")
		})
	})
}

// TempURLOptions tunes TempURL.
type TempURLOptions struct {
	Lifetime time.Duration
	Method   string
	// Attachment asks browsers to download instead of displaying inline.
	Attachment bool
	Filename   string
}

// TempURL returns a signed URL granting Method on the object until Lifetime
// elapses. It needs the account's temp url key and does not call swift.
func (s *Store) TempURL(ctx context.Context, p storpath.Path, opts TempURLOptions) (string, error) {
	sp, err := resolveContainer(p, "temp_url")
	if err != nil {
		return "", err
	}
	if sp.Resource() == "" {
		return "", obserr.Validation("can only create temporary URL on object: %s", sp)
	}
	cfg := s.settings(ctx).Swift
	if cfg.TempURLKey == "" {
		return "", obserr.Configuration("a temporary url key must be set in the swift settings or OS_TEMP_URL_KEY")
	}
	if cfg.AuthURL == "" {
		return "", obserr.Configuration("an auth url must be set in the swift settings or OS_AUTH_URL")
	}
	authURL, err := url.Parse(cfg.AuthURL)
	if err != nil {
		return "", obserr.New(obserr.KindConfiguration, "invalid auth url "+cfg.AuthURL, err)
	}
	if opts.Lifetime <= 0 {
		opts.Lifetime = 5 * time.Minute
	}
	if opts.Method == "" {
		opts.Method = "GET"
	}

	// the client signs "/v1/<tenant>/<container>/<object>" below the
	// storage URL path; only the signature and expiry are taken from it
	signer := &swift.Connection{StorageUrl: authURL.Scheme + "://" + authURL.Host + "/v1/" + sp.Tenant()}
	signed := signer.ObjectTempUrl(sp.Container(), sp.Resource(), cfg.TempURLKey, opts.Method, time.Now().Add(opts.Lifetime))
	params, err := url.ParseQuery(signed[strings.LastIndex(signed, "?")+1:])
	if err != nil {
		return "", obserr.New(obserr.KindRemote, "parse signed url", err)
	}

	query := []string{
		"temp_url_sig=" + params.Get("temp_url_sig"),
		"temp_url_expires=" + params.Get("temp_url_expires"),
	}
	if !opts.Attachment {
		query = append(query, "inline")
	}
	if opts.Filename != "" {
		query = append(query, "filename="+url.PathEscape(opts.Filename))
	}
	u := url.URL{
		Scheme:   authURL.Scheme,
		Host:     authURL.Host,
		Path:     "/v1/" + sp.Tenant() + "/" + sp.Container() + "/" + sp.Resource(),
		RawQuery: strings.Join(query, "&"),
	}
	return u.String(), nil
}

// ToURL returns the HTTP URL of the path below the tenant's storage URL,
// authenticating if needed.
func (s *Store) ToURL(p storpath.Path) (string, error) {
	sp, err := resolve(p)
	if err != nil {
		return "", err
	}
	storageURL, err := s.pool.StorageURL(context.Background(), sp.Tenant())
	if err != nil {
		return "", err
	}
	parts := []string{strings.TrimRight(storageURL, "/")}
	for _, part := range []string{sp.Container(), sp.Resource()} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, "/"), nil
}

// PostOptions are the metadata changes Post applies.
type PostOptions struct {
	// Meta keys are prefixed with X-Object-Meta-, X-Container-Meta- or
	// X-Account-Meta- depending on what the path names.
	Meta map[string]string
	// Headers are sent as given.
	Headers map[string]string

	// The rest apply to containers only.
	ReadACL  string
	WriteACL string
	SyncTo   string
	SyncKey  string
}

func (o PostOptions) containerOnly() bool {
	return o.ReadACL != "" || o.WriteACL != "" || o.SyncTo != "" || o.SyncKey != ""
}

// postHeaders builds the request headers for a post on an object, a
// container or an account.
func postHeaders(level string, opts PostOptions) swift.Headers {
	h := swift.Headers{}
	for k, v := range opts.Meta {
		h["X-"+level+"-Meta-"+k] = v
	}
	for k, v := range opts.Headers {
		h[k] = v
	}
	set := func(k, v string) {
		if v != "" {
			h[k] = v
		}
	}
	set("X-Container-Read", opts.ReadACL)
	set("X-Container-Write", opts.WriteACL)
	set("X-Container-Sync-To", opts.SyncTo)
	set("X-Container-Sync-Key", opts.SyncKey)
	return h
}

// Post updates the metadata of the object, container or account the path
// names. Container ACL and sync settings are rejected on other paths.
func (s *Store) Post(ctx context.Context, p storpath.Path, opts PostOptions) error {
	sp, err := resolve(p)
	if err != nil {
		return err
	}
	level := "Account"
	switch {
	case sp.Resource() != "":
		level = "Object"
	case sp.Container() != "":
		level = "Container"
	}
	if level != "Container" && opts.containerOnly() {
		return obserr.Validation("acl and sync options apply to containers only: %s", sp)
	}
	h := postHeaders(level, opts)
	logger(sp).WithField("headers", len(h)).Debugln("post")
	return retry.Do(ctx, s.policy(ctx, "post", backend.RetryPost), func() error {
		return s.with(ctx, sp, func(conn Conn) error {
			switch level {
			case "Object":
				return normalizeError(conn.ObjectUpdate(ctx, sp.Container(), sp.Resource(), h), "post object", sp.Container(), sp.Resource())
			case "Container":
				return normalizeError(conn.ContainerUpdate(ctx, sp.Container(), h), "post container", sp.Container(), "")
			}
			return normalizeError(conn.AccountUpdate(ctx, h), "post account", "", "")
		})
	})
}
