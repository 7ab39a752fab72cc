// Package denylist stores revoked token ids until the token would have
// expired anyway.
package denylist

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"

	auth "github.com/goliatone/go-auth-service"
)

// DefaultKeyPrefix namespaces revoked jti keys
const DefaultKeyPrefix = "auth:denylist:"

// RedisStore implements auth.Denylist with one key per jti. Keys expire
// with the token they revoke.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ auth.Denylist = (*RedisStore)(nil)

type Option func(*RedisStore)

func WithKeyPrefix(prefix string) Option {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *RedisStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewRedisStore(client redis.UniversalClient, opts ...Option) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: DefaultKeyPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect parses a redis:// URL and verifies the connection
func Connect(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// Revoke marks jti as revoked until the given time. Tokens that already
// expired are not stored.
func (s *RedisStore) Revoke(ctx context.Context, jti string, until time.Time) error {
	if jti == "" {
		return nil
	}

	ttl := until.Sub(s.now())
	if until.IsZero() {
		ttl = 0
	} else if ttl <= 0 {
		return nil
	}

	if err := s.client.Set(ctx, s.key(jti), "1", ttl).Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke token")
	}
	return nil
}

func (s *RedisStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}

	n, err := s.client.Exists(ctx, s.key(jti)).Result()
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check token revocation")
	}
	return n > 0, nil
}

func (s *RedisStore) key(jti string) string {
	return s.prefix + jti
}
