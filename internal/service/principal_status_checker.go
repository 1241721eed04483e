package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/millatvt/millat-backend/internal/domain"
	"github.com/millatvt/millat-backend/internal/observability"
	"github.com/millatvt/millat-backend/internal/repository"
)

// PrincipalStatusChecker answers "does this principal exist and is it
// active" with a short-lived cache in front of the principal tables.
type PrincipalStatusChecker struct {
	repo  repository.PrincipalRepository
	store PrincipalStatusStore
	ttl   time.Duration
}

func NewPrincipalStatusChecker(repo repository.PrincipalRepository, store PrincipalStatusStore, ttl time.Duration) *PrincipalStatusChecker {
	if store == nil || ttl <= 0 {
		store = NewNoopPrincipalStatusStore()
	}
	return &PrincipalStatusChecker{repo: repo, store: store, ttl: ttl}
}

func (c *PrincipalStatusChecker) IsActive(ctx context.Context, p domain.Principal) (bool, error) {
	backend := c.store.Backend()
	active, hit, err := c.store.Get(ctx, p)
	if err != nil {
		observability.RecordPrincipalCacheEvent(ctx, backend, "get_error")
		slog.WarnContext(ctx, "principal status cache read failed", "principal", p.String(), "error", err.Error())
	} else if hit {
		observability.RecordPrincipalCacheEvent(ctx, backend, "hit")
		return active, nil
	}
	observability.RecordPrincipalCacheEvent(ctx, backend, "miss")

	acct, err := c.repo.FindByID(ctx, p.Kind, p.ID)
	switch {
	case errors.Is(err, repository.ErrPrincipalNotFound):
		active = false
	case err != nil:
		return false, err
	default:
		active = acct.Active
	}
	if err := c.store.Set(ctx, p, active, c.ttl); err != nil {
		observability.RecordPrincipalCacheEvent(ctx, backend, "set_error")
		slog.WarnContext(ctx, "principal status cache write failed", "principal", p.String(), "error", err.Error())
	}
	return active, nil
}

func (c *PrincipalStatusChecker) Invalidate(ctx context.Context, p domain.Principal) error {
	if err := c.store.Invalidate(ctx, p); err != nil {
		observability.RecordPrincipalCacheEvent(ctx, c.store.Backend(), "invalidate_error")
		return err
	}
	observability.RecordPrincipalCacheEvent(ctx, c.store.Backend(), "invalidate")
	return nil
}
