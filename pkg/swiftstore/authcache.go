package swiftstore

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/crypto/blake2b"

	"github.com/dashjay/obspath/pkg/config"
)

var authBucket = []byte("auth")

// AuthEntry is a cached storage URL and token for one tenant.
type AuthEntry struct {
	Fingerprint string `json:"fingerprint"`
	StorageURL  string `json:"storage_url"`
	Token       string `json:"token"`
}

// AuthCache persists swift auth tokens in a bbolt file so separate processes
// can skip authentication. Entries are keyed by tenant and only returned
// when the auth parameters that produced them are unchanged.
type AuthCache struct {
	db *bolt.DB
}

func OpenAuthCache(path string) (*AuthCache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open auth cache %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(authBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create auth bucket")
	}
	return &AuthCache{db: db}, nil
}

// Fingerprint hashes the parameters a token depends on. Secrets never hit
// the cache file in clear.
func Fingerprint(cfg config.SwiftConfig) string {
	h, _ := blake2b.New256(nil)
	for _, part := range []string{cfg.AuthURL, cfg.Username, cfg.Password} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the entry for tenant. An entry written under another
// fingerprint is deleted and reported as missing.
func (c *AuthCache) Get(tenant, fingerprint string) (AuthEntry, bool, error) {
	var (
		entry AuthEntry
		found bool
	)
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(authBucket)
		raw := b.Get([]byte(tenant))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &entry); err != nil || entry.Fingerprint != fingerprint {
			logrus.WithField("tenant", tenant).Debugln("discard stale auth cache entry")
			return b.Delete([]byte(tenant))
		}
		found = true
		return nil
	})
	if err != nil {
		return AuthEntry{}, false, errors.Wrap(err, "read auth cache")
	}
	if !found {
		return AuthEntry{}, false, nil
	}
	return entry, true, nil
}

func (c *AuthCache) Put(tenant string, entry AuthEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.Wrap(c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(authBucket).Put([]byte(tenant), raw)
	}), "write auth cache")
}

// Delete drops the entry for tenant, e.g. after the token was rejected.
func (c *AuthCache) Delete(tenant string) error {
	return errors.Wrap(c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(authBucket).Delete([]byte(tenant))
	}), "delete auth cache entry")
}

func (c *AuthCache) Close() error {
	return c.db.Close()
}
