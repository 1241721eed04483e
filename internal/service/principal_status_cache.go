package service

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/millatvt/millat-backend/internal/domain"
)

// PrincipalStatusStore caches whether a principal may use the realtime
// channel. Missing principals are cached as inactive.
type PrincipalStatusStore interface {
	Get(ctx context.Context, p domain.Principal) (active bool, hit bool, err error)
	Set(ctx context.Context, p domain.Principal, active bool, ttl time.Duration) error
	Invalidate(ctx context.Context, p domain.Principal) error
	Backend() string
}

type NoopPrincipalStatusStore struct{}

func NewNoopPrincipalStatusStore() *NoopPrincipalStatusStore { return &NoopPrincipalStatusStore{} }

func (s *NoopPrincipalStatusStore) Get(context.Context, domain.Principal) (bool, bool, error) {
	return false, false, nil
}

func (s *NoopPrincipalStatusStore) Set(context.Context, domain.Principal, bool, time.Duration) error {
	return nil
}

func (s *NoopPrincipalStatusStore) Invalidate(context.Context, domain.Principal) error { return nil }

func (s *NoopPrincipalStatusStore) Backend() string { return "none" }

// InMemoryPrincipalStatusStore is a bounded LRU whose entries all share the
// TTL given at construction.
type InMemoryPrincipalStatusStore struct {
	lru *expirable.LRU[domain.Principal, bool]
}

func NewInMemoryPrincipalStatusStore(size int, ttl time.Duration) *InMemoryPrincipalStatusStore {
	if size <= 0 {
		size = 1024
	}
	return &InMemoryPrincipalStatusStore{lru: expirable.NewLRU[domain.Principal, bool](size, nil, ttl)}
}

func (s *InMemoryPrincipalStatusStore) Get(_ context.Context, p domain.Principal) (bool, bool, error) {
	active, ok := s.lru.Get(p)
	return active, ok, nil
}

func (s *InMemoryPrincipalStatusStore) Set(_ context.Context, p domain.Principal, active bool, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.lru.Add(p, active)
	return nil
}

func (s *InMemoryPrincipalStatusStore) Invalidate(_ context.Context, p domain.Principal) error {
	s.lru.Remove(p)
	return nil
}

func (s *InMemoryPrincipalStatusStore) Backend() string { return "memory" }
