package shared

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TokenManager issues and resolves opaque bearer tokens backed by redis.
// Tokens are random; revocation is a key delete, expiry rides on redis TTL.
type TokenManager struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewTokenManager constructs a TokenManager.
func NewTokenManager(client *redis.Client, prefix string, ttl time.Duration) *TokenManager {
	if prefix == "" {
		prefix = "sentinel_token"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenManager{client: client, prefix: prefix, ttl: ttl}
}

// Issue creates a new token for the user and stores it with the configured TTL.
func (m *TokenManager) Issue(ctx context.Context, userID int64) (string, error) {
	if m == nil || m.client == nil {
		return "", errors.New("token manager not initialised")
	}
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := m.client.Set(ctx, m.key(token), userID, m.ttl).Err(); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	return token, nil
}

// Resolve maps a token to its user id. Unknown or expired tokens return
// ErrInvalidCredentials.
func (m *TokenManager) Resolve(ctx context.Context, token string) (int64, error) {
	if m == nil || m.client == nil {
		return 0, errors.New("token manager not initialised")
	}
	if token == "" {
		return 0, ErrInvalidCredentials
	}
	val, err := m.client.Get(ctx, m.key(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrInvalidCredentials
		}
		return 0, fmt.Errorf("resolve token: %w", err)
	}
	userID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, ErrInvalidCredentials
	}
	return userID, nil
}

// Revoke removes a token. Revoking an unknown token is a no-op.
func (m *TokenManager) Revoke(ctx context.Context, token string) error {
	if m == nil || m.client == nil {
		return errors.New("token manager not initialised")
	}
	return m.client.Del(ctx, m.key(token)).Err()
}

func (m *TokenManager) key(token string) string {
	return m.prefix + ":" + token
}
