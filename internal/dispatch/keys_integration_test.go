//go:build integration

package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	platformredis "auditoria/internal/platform/redis"
	"auditoria/pkg/testutil/containers"
)

func TestRedisKeyStoreReserveRelease(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	store := NewRedisKeyStore(&platformredis.Client{Client: rc.Client})
	ctx := context.Background()

	ok, err := store.Reserve(ctx, "reminder:a:7:r", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Reserve(ctx, "reminder:a:7:r", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	// Distinct namespaces never collide.
	ok, err = store.Reserve(ctx, "escalation:a:7:r", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.Release(ctx, "reminder:a:7:r"))
	ok, err = store.Reserve(ctx, "reminder:a:7:r", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedisKeyStoreTTLExpires(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	store := NewRedisKeyStore(&platformredis.Client{Client: rc.Client})
	ctx := context.Background()

	ok, err := store.Reserve(ctx, "k", 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		ok, err := store.Reserve(ctx, "k", time.Minute)
		return err == nil && ok
	}, 5*time.Second, 50*time.Millisecond)
}
