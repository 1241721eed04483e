package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/millatvt/millat-backend/internal/apperr"
	"github.com/millatvt/millat-backend/internal/domain"
	"github.com/millatvt/millat-backend/internal/observability"
	"github.com/millatvt/millat-backend/internal/repository"
	"github.com/millatvt/millat-backend/internal/security"
)

type CreatePrincipalInput struct {
	Name     string
	Email    string
	Password string
}

type AdminService struct {
	principals repository.PrincipalRepository
	tokens     *TokenService
	status     PrincipalInvalidator
}

func NewAdminService(principals repository.PrincipalRepository, tokens *TokenService, status PrincipalInvalidator) *AdminService {
	return &AdminService{principals: principals, tokens: tokens, status: status}
}

func (s *AdminService) CreatePrincipal(ctx context.Context, kind domain.PrincipalKind, in CreatePrincipalInput) (domain.Profile, error) {
	if !kind.Valid() {
		return domain.Profile{}, apperr.Validation("Validation failed", map[string]string{"kind": "unknown principal kind"})
	}
	hash, err := security.HashPassword(in.Password)
	if err != nil {
		if errors.Is(err, security.ErrPasswordTooLong) {
			return domain.Profile{}, apperr.Validation("Validation failed", map[string]string{"password": "must be at most 72 bytes"})
		}
		return domain.Profile{}, apperr.Internal(err, "hash password")
	}
	acct := &domain.Account{Email: in.Email, Name: in.Name, PasswordHash: hash, Active: true}
	if err := s.principals.Create(ctx, kind, acct); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return domain.Profile{}, apperr.Conflict("Email already registered")
		}
		return domain.Profile{}, apperr.Internal(err, "create principal")
	}
	return acct.Profile(kind), nil
}

func (s *AdminService) ListPrincipals(ctx context.Context, kind domain.PrincipalKind, page repository.PageRequest) (repository.PageResult[domain.Profile], error) {
	res, err := s.principals.ListPaged(ctx, kind, page)
	if err != nil {
		return repository.PageResult[domain.Profile]{}, apperr.Internal(err, "list principals")
	}
	return repository.MapPage(res, func(a domain.Account) domain.Profile { return a.Profile(kind) }), nil
}

// SetPrincipalActive bans or reinstates a teacher or student. Banning drops
// every refresh token of the principal so no new access tokens can be minted.
func (s *AdminService) SetPrincipalActive(ctx context.Context, kind domain.PrincipalKind, id uint, active bool) error {
	if kind != domain.KindTeacher && kind != domain.KindStudent {
		return apperr.Validation("Validation failed", map[string]string{"kind": "only teachers and students can be banned"})
	}
	if err := s.principals.SetActive(ctx, kind, id, active); err != nil {
		if errors.Is(err, repository.ErrPrincipalNotFound) {
			return apperr.NotFound("User not found")
		}
		return apperr.Internal(err, "update principal status")
	}
	p := domain.Principal{ID: id, Kind: kind}
	if !active {
		if _, err := s.tokens.RevokeAll(ctx, p); err != nil {
			return apperr.Internal(err, "revoke refresh tokens")
		}
	}
	if s.status != nil {
		if err := s.status.Invalidate(ctx, p); err != nil {
			slog.WarnContext(ctx, "principal status invalidation failed", "principal", p.String(), "error", err.Error())
		}
	}
	observability.RecordPrincipalStatusChange(string(kind), active)
	return nil
}
