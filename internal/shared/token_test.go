package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestTokenManager(t *testing.T) (*TokenManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewTokenManager(client, "test_token", time.Hour), mr
}

func TestTokenIssueAndResolve(t *testing.T) {
	manager, _ := newTestTokenManager(t)
	ctx := context.Background()

	token, err := manager.Issue(ctx, 42)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	userID, err := manager.Resolve(ctx, token)
	require.NoError(t, err)
	require.Equal(t, int64(42), userID)
}

func TestTokenResolveUnknown(t *testing.T) {
	manager, _ := newTestTokenManager(t)

	_, err := manager.Resolve(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = manager.Resolve(context.Background(), "")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestTokenRevoke(t *testing.T) {
	manager, _ := newTestTokenManager(t)
	ctx := context.Background()

	token, err := manager.Issue(ctx, 7)
	require.NoError(t, err)
	require.NoError(t, manager.Revoke(ctx, token))

	_, err = manager.Resolve(ctx, token)
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestTokenExpires(t *testing.T) {
	manager, mr := newTestTokenManager(t)
	ctx := context.Background()

	token, err := manager.Issue(ctx, 7)
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)

	_, err = manager.Resolve(ctx, token)
	require.ErrorIs(t, err, ErrInvalidCredentials)
}
