package swiftstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dashjay/obspath/pkg/config"
)

func TestConnPoolDialsTenantsIndependently(t *testing.T) {
	pool := NewConnPool(config.SwiftConfig{}, nil)
	release := make(chan struct{})
	var mu sync.Mutex
	dials := map[string]int{}
	pool.dial = func(ctx context.Context, tenant string) (*pooled, error) {
		mu.Lock()
		dials[tenant]++
		mu.Unlock()
		if tenant == "AUTH_slow" {
			<-release
		}
		return &pooled{storageURL: "https://swift/v1/" + tenant}, nil
	}
	ctx := context.Background()

	slowDone := make(chan string)
	go func() {
		u, err := pool.StorageURL(ctx, "AUTH_slow")
		assert.NoError(t, err)
		slowDone <- u
	}()

	fast := make(chan string)
	go func() {
		u, err := pool.StorageURL(ctx, "AUTH_fast")
		assert.NoError(t, err)
		fast <- u
	}()
	select {
	case u := <-fast:
		assert.Equal(t, "https://swift/v1/AUTH_fast", u)
	case <-time.After(5 * time.Second):
		t.Fatal("authenticating one tenant blocked another")
	}

	close(release)
	assert.Equal(t, "https://swift/v1/AUTH_slow", <-slowDone)

	u, err := pool.StorageURL(ctx, "AUTH_fast")
	require.NoError(t, err)
	assert.Equal(t, "https://swift/v1/AUTH_fast", u)
	mu.Lock()
	assert.Equal(t, 1, dials["AUTH_fast"])
	mu.Unlock()
}
