package swiftstore

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/ncw/swift/v2"
	"github.com/sirupsen/logrus"

	"github.com/dashjay/obspath/pkg/config"
)

// Conn is the part of *swift.Connection the store uses.
type Conn interface {
	Account(ctx context.Context) (swift.Account, swift.Headers, error)
	Containers(ctx context.Context, opts *swift.ContainersOpts) ([]swift.Container, error)
	Container(ctx context.Context, container string) (swift.Container, swift.Headers, error)
	ContainerCreate(ctx context.Context, container string, h swift.Headers) error
	ContainerDelete(ctx context.Context, container string) error
	Objects(ctx context.Context, container string, opts *swift.ObjectsOpts) ([]swift.Object, error)
	Object(ctx context.Context, container string, objectName string) (swift.Object, swift.Headers, error)
	ObjectGet(ctx context.Context, container string, objectName string, contents io.Writer, checkHash bool, h swift.Headers) (swift.Headers, error)
	ObjectPut(ctx context.Context, container string, objectName string, contents io.Reader, checkHash bool, Hash string, contentType string, h swift.Headers) (swift.Headers, error)
	ObjectDelete(ctx context.Context, container string, objectName string) error
	ObjectTempUrl(container string, objectName string, secretKey string, method string, expires time.Time) string

	StaticLargeObjectCreate(ctx context.Context, opts *swift.LargeObjectOpts) (swift.LargeObjectFile, error)
	DynamicLargeObjectCreate(ctx context.Context, opts *swift.LargeObjectOpts) (swift.LargeObjectFile, error)

	AccountUpdate(ctx context.Context, h swift.Headers) error
	ContainerUpdate(ctx context.Context, container string, h swift.Headers) error
	ObjectUpdate(ctx context.Context, container string, objectName string, h swift.Headers) error
}

var _ Conn = (*swift.Connection)(nil)

type pooled struct {
	conn       Conn
	storageURL string
}

// ConnPool keeps one authenticated connection per tenant. Connections are
// safe for concurrent use, so callers share them.
type ConnPool struct {
	cfg   config.SwiftConfig
	cache *AuthCache
	// dial authenticates tenant. It runs without mu held.
	dial func(ctx context.Context, tenant string) (*pooled, error)

	mu    sync.Mutex
	conns map[string]*pooled
	// fixed serves every tenant when set.
	fixed *pooled
}

func NewConnPool(cfg config.SwiftConfig, cache *AuthCache) *ConnPool {
	p := &ConnPool{cfg: cfg, cache: cache, conns: map[string]*pooled{}}
	p.dial = p.authenticate
	return p
}

// NewConnPoolWith serves conn for every tenant, mostly for tests.
func NewConnPoolWith(conn Conn, storageURL string) *ConnPool {
	return &ConnPool{conns: map[string]*pooled{}, fixed: &pooled{conn: conn, storageURL: storageURL}}
}

func (p *ConnPool) lookup(tenant string) (*pooled, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.conns[tenant]
	return c, ok
}

// get authenticates outside the lock so a slow auth server only holds up
// callers of the same tenant. When two callers race, the first stored
// connection wins.
func (p *ConnPool) get(ctx context.Context, tenant string) (*pooled, error) {
	if p.fixed != nil {
		return p.fixed, nil
	}
	if c, ok := p.lookup(tenant); ok {
		return c, nil
	}
	c, err := p.dial(ctx, tenant)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.conns[tenant]; ok {
		return existing, nil
	}
	p.conns[tenant] = c
	return c, nil
}

// Conn returns the connection for tenant, authenticating on first use.
func (p *ConnPool) Conn(ctx context.Context, tenant string) (Conn, error) {
	c, err := p.get(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return c.conn, nil
}

// StorageURL returns the storage URL the auth server handed out for tenant.
func (p *ConnPool) StorageURL(ctx context.Context, tenant string) (string, error) {
	c, err := p.get(ctx, tenant)
	if err != nil {
		return "", err
	}
	return c.storageURL, nil
}

func (p *ConnPool) authenticate(ctx context.Context, tenant string) (*pooled, error) {
	if err := p.cfg.Validate(); err != nil {
		return nil, err
	}
	conn := &swift.Connection{
		UserName: p.cfg.Username,
		ApiKey:   p.cfg.Password,
		AuthUrl:  p.cfg.AuthURL,
		Tenant:   tenant,
	}
	log := logrus.WithField("backend", "swift").WithField("tenant", tenant)

	fp := Fingerprint(p.cfg)
	if p.cache != nil {
		entry, ok, err := p.cache.Get(tenant, fp)
		if err != nil {
			log.WithError(err).Warnln("auth cache unavailable")
		} else if ok {
			// the client re-authenticates by itself if the token was revoked
			conn.StorageUrl = entry.StorageURL
			conn.AuthToken = entry.Token
			log.Debugln("using cached auth token")
			return &pooled{conn: conn, storageURL: entry.StorageURL}, nil
		}
	}

	if err := conn.Authenticate(ctx); err != nil {
		return nil, normalizeError(err, "authenticate", "", "")
	}
	log.WithField("storage_url", conn.StorageUrl).Debugln("swift authenticated")
	if p.cache != nil {
		err := p.cache.Put(tenant, AuthEntry{Fingerprint: fp, StorageURL: conn.StorageUrl, Token: conn.AuthToken})
		if err != nil {
			log.WithError(err).Warnln("cache auth token failed")
		}
	}
	return &pooled{conn: conn, storageURL: conn.StorageUrl}, nil
}

// Invalidate forgets the connection and any cached token for tenant.
func (p *ConnPool) Invalidate(tenant string) {
	p.mu.Lock()
	delete(p.conns, tenant)
	p.mu.Unlock()
	if p.cache != nil {
		if err := p.cache.Delete(tenant); err != nil {
			logrus.WithField("tenant", tenant).WithError(err).Warnln("drop cached auth token failed")
		}
	}
}
