package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/millatvt/millat-backend/internal/domain"
)

// PrincipalStatusRedisPrefix namespaces status keys shared by every server
// and the admin CLI.
const PrincipalStatusRedisPrefix = "millat:principal_status"

type RedisPrincipalStatusStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisPrincipalStatusStore(client redis.UniversalClient, prefix string) *RedisPrincipalStatusStore {
	if prefix == "" {
		prefix = "principal_status"
	}
	return &RedisPrincipalStatusStore{client: client, prefix: prefix}
}

func (s *RedisPrincipalStatusStore) Get(ctx context.Context, p domain.Principal) (bool, bool, error) {
	if s.client == nil {
		return false, false, nil
	}
	v, err := s.client.Get(ctx, s.key(p)).Result()
	if err == redis.Nil {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return v == "1", true, nil
}

func (s *RedisPrincipalStatusStore) Set(ctx context.Context, p domain.Principal, active bool, ttl time.Duration) error {
	if s.client == nil || ttl <= 0 {
		return nil
	}
	v := "0"
	if active {
		v = "1"
	}
	return s.client.Set(ctx, s.key(p), v, ttl).Err()
}

func (s *RedisPrincipalStatusStore) Invalidate(ctx context.Context, p domain.Principal) error {
	if s.client == nil {
		return nil
	}
	return s.client.Del(ctx, s.key(p)).Err()
}

func (s *RedisPrincipalStatusStore) Backend() string { return "redis" }

func (s *RedisPrincipalStatusStore) key(p domain.Principal) string {
	return fmt.Sprintf("%s:%s:%d", s.prefix, p.Kind, p.ID)
}
