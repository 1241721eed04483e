package service

import (
	"context"
	"errors"
	"time"

	"github.com/millatvt/millat-backend/internal/apperr"
	"github.com/millatvt/millat-backend/internal/domain"
	"github.com/millatvt/millat-backend/internal/observability"
	"github.com/millatvt/millat-backend/internal/repository"
	"github.com/millatvt/millat-backend/internal/security"
)

const (
	msgInvalidCredentials = "Invalid credentials"
	msgAccountBanned      = "Account is banned or deactivated"
	msgInvalidRefresh     = "Invalid or expired refresh token"
)

type AuthResult struct {
	Profile domain.Profile
	Tokens  security.TokenPair
}

type SignupInput struct {
	Name     string
	Email    string
	Password string
}

type WebsocketTokenResult struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expiresIn"`
}

type AuthService struct {
	principals repository.PrincipalRepository
	tokens     *TokenService
}

func NewAuthService(principals repository.PrincipalRepository, tokens *TokenService) *AuthService {
	return &AuthService{principals: principals, tokens: tokens}
}

// Login never tells the caller whether the email or the password was wrong.
func (s *AuthService) Login(ctx context.Context, kind domain.PrincipalKind, email, password string, meta RequestMeta) (*AuthResult, error) {
	acct, err := s.principals.FindByEmail(ctx, kind, email)
	if err != nil {
		if errors.Is(err, repository.ErrPrincipalNotFound) {
			security.CompareDummyPassword(password)
			observability.RecordAuthLogin(string(kind), "invalid_credentials")
			return nil, apperr.Authentication(msgInvalidCredentials)
		}
		observability.RecordAuthLogin(string(kind), "error")
		return nil, apperr.Internal(err, "load principal")
	}
	if !security.CheckPassword(acct.PasswordHash, password) {
		observability.RecordAuthLogin(string(kind), "invalid_credentials")
		return nil, apperr.Authentication(msgInvalidCredentials)
	}
	if !acct.Active {
		observability.RecordAuthLogin(string(kind), "banned")
		return nil, apperr.Forbidden(msgAccountBanned)
	}
	p := domain.Principal{ID: acct.ID, Kind: kind}
	pair, err := s.tokens.Issue(ctx, p, meta)
	if err != nil {
		observability.RecordAuthLogin(string(kind), "error")
		return nil, apperr.Internal(err, "issue tokens")
	}
	observability.RecordAuthLogin(string(kind), "success")
	return &AuthResult{Profile: acct.Profile(kind), Tokens: pair}, nil
}

func (s *AuthService) SignupStudent(ctx context.Context, in SignupInput, meta RequestMeta) (*AuthResult, error) {
	hash, err := security.HashPassword(in.Password)
	if err != nil {
		if errors.Is(err, security.ErrPasswordTooLong) {
			return nil, apperr.Validation("Validation failed", map[string]string{"password": "must be at most 72 bytes"})
		}
		return nil, apperr.Internal(err, "hash password")
	}
	acct := &domain.Account{Email: in.Email, Name: in.Name, PasswordHash: hash, Active: true}
	if err := s.principals.Create(ctx, domain.KindStudent, acct); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.Conflict("Email already registered")
		}
		return nil, apperr.Internal(err, "create student")
	}
	p := domain.Principal{ID: acct.ID, Kind: domain.KindStudent}
	pair, err := s.tokens.Issue(ctx, p, meta)
	if err != nil {
		return nil, apperr.Internal(err, "issue tokens")
	}
	observability.RecordAuthLogin(string(domain.KindStudent), "signup")
	return &AuthResult{Profile: acct.Profile(domain.KindStudent), Tokens: pair}, nil
}

func (s *AuthService) Logout(ctx context.Context, rawRefresh string) error {
	if err := s.tokens.Delete(ctx, rawRefresh); err != nil {
		observability.RecordAuthLogout("error")
		return apperr.Internal(err, "delete refresh token")
	}
	observability.RecordAuthLogout("success")
	return nil
}

func (s *AuthService) LogoutAll(ctx context.Context, p domain.Principal) (int64, error) {
	n, err := s.tokens.RevokeAll(ctx, p)
	if err != nil {
		observability.RecordAuthLogout("error")
		return 0, apperr.Internal(err, "revoke refresh tokens")
	}
	observability.RecordAuthLogout("all")
	return n, nil
}

func (s *AuthService) Sessions(ctx context.Context, p domain.Principal, currentRaw string) ([]SessionView, error) {
	out, err := s.tokens.Sessions(ctx, p, currentRaw)
	if err != nil {
		return nil, apperr.Internal(err, "list sessions")
	}
	return out, nil
}

// RevokeSession signs one device out. Ids owned by someone else look missing.
func (s *AuthService) RevokeSession(ctx context.Context, p domain.Principal, id uint) error {
	ok, err := s.tokens.RevokeSession(ctx, p, id)
	if err != nil {
		observability.RecordAuthLogout("error")
		return apperr.Internal(err, "revoke session")
	}
	if !ok {
		return apperr.NotFound("Session not found")
	}
	observability.RecordAuthLogout("session")
	return nil
}

// Refresh rotates the presented refresh token. Banned principals lose every
// refresh token on their next attempt.
func (s *AuthService) Refresh(ctx context.Context, rawRefresh string, meta RequestMeta) (*AuthResult, error) {
	owner, err := s.tokens.Verify(ctx, rawRefresh)
	if err != nil {
		return nil, s.refreshError(err)
	}
	acct, err := s.principals.FindByID(ctx, owner.Kind, owner.ID)
	if err != nil && !errors.Is(err, repository.ErrPrincipalNotFound) {
		observability.RecordAuthRefresh("error")
		return nil, apperr.Internal(err, "load principal")
	}
	if acct == nil || !acct.Active {
		_, _ = s.tokens.RevokeAll(ctx, owner)
		observability.RecordAuthRefresh("banned")
		if acct == nil {
			return nil, apperr.Authentication(msgInvalidRefresh)
		}
		return nil, apperr.Forbidden(msgAccountBanned)
	}
	pair, _, err := s.tokens.Rotate(ctx, rawRefresh, meta)
	if err != nil {
		return nil, s.refreshError(err)
	}
	observability.RecordAuthRefresh("success")
	return &AuthResult{Profile: acct.Profile(owner.Kind), Tokens: pair}, nil
}

func (s *AuthService) refreshError(err error) error {
	if errors.Is(err, ErrInvalidRefreshToken) {
		observability.RecordAuthRefresh("invalid")
		return apperr.Authentication(msgInvalidRefresh)
	}
	observability.RecordAuthRefresh("error")
	return apperr.Internal(err, "rotate refresh token")
}

func (s *AuthService) WebsocketToken(_ context.Context, p domain.Principal) (WebsocketTokenResult, error) {
	tok, ttl, err := s.tokens.WebsocketToken(p)
	if err != nil {
		return WebsocketTokenResult{}, apperr.Internal(err, "sign websocket token")
	}
	return WebsocketTokenResult{Token: tok, ExpiresIn: int(ttl / time.Second)}, nil
}

func (s *AuthService) Me(ctx context.Context, p domain.Principal) (domain.Profile, error) {
	acct, err := s.principals.FindByID(ctx, p.Kind, p.ID)
	if err != nil {
		if errors.Is(err, repository.ErrPrincipalNotFound) {
			return domain.Profile{}, apperr.NotFound("User not found")
		}
		return domain.Profile{}, apperr.Internal(err, "load principal")
	}
	if !acct.Active {
		return domain.Profile{}, apperr.Forbidden(msgAccountBanned)
	}
	return acct.Profile(p.Kind), nil
}
