package service

import (
	"context"
	"errors"
	"time"

	"github.com/millatvt/millat-backend/internal/domain"
	"github.com/millatvt/millat-backend/internal/repository"
	"github.com/millatvt/millat-backend/internal/security"
)

var ErrInvalidRefreshToken = errors.New("invalid refresh token")

type RequestMeta struct {
	UserAgent string
	IP        string
}

// TokenService owns the refresh token lifecycle. Refresh tokens are opaque
// random values; only their peppered hash reaches the store.
type TokenService struct {
	jwtMgr       *security.JWTManager
	repo         repository.RefreshTokenRepository
	pepper       string
	accessTTL    time.Duration
	refreshTTL   time.Duration
	websocketTTL time.Duration
	now          func() time.Time
}

func NewTokenService(
	jwtMgr *security.JWTManager,
	repo repository.RefreshTokenRepository,
	pepper string,
	accessTTL, refreshTTL, websocketTTL time.Duration,
) *TokenService {
	return &TokenService{
		jwtMgr:       jwtMgr,
		repo:         repo,
		pepper:       pepper,
		accessTTL:    accessTTL,
		refreshTTL:   refreshTTL,
		websocketTTL: websocketTTL,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *TokenService) AccessTTL() time.Duration  { return s.accessTTL }
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

// Issue mints an access token and a stored refresh token for p.
func (s *TokenService) Issue(ctx context.Context, p domain.Principal, meta RequestMeta) (security.TokenPair, error) {
	access, err := s.jwtMgr.SignAccessToken(p, s.accessTTL)
	if err != nil {
		return security.TokenPair{}, err
	}
	refresh, err := security.NewRefreshToken()
	if err != nil {
		return security.TokenPair{}, err
	}
	if err := s.Store(ctx, refresh, p, meta); err != nil {
		return security.TokenPair{}, err
	}
	return security.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *TokenService) Store(ctx context.Context, raw string, p domain.Principal, meta RequestMeta) error {
	return s.repo.Create(ctx, s.newRecord(raw, p, meta))
}

func (s *TokenService) newRecord(raw string, p domain.Principal, meta RequestMeta) *domain.RefreshToken {
	rec := &domain.RefreshToken{
		TokenHash: security.HashRefreshToken(raw, s.pepper),
		UserAgent: truncate(meta.UserAgent, 512),
		IP:        truncate(meta.IP, 64),
		ExpiresAt: s.now().Add(s.refreshTTL),
	}
	rec.SetOwner(p)
	return rec
}

// Verify resolves the owner of a live refresh token. Expired rows and rows
// without exactly one owner are deleted on sight.
func (s *TokenService) Verify(ctx context.Context, raw string) (domain.Principal, error) {
	if raw == "" {
		return domain.Principal{}, ErrInvalidRefreshToken
	}
	hash := security.HashRefreshToken(raw, s.pepper)
	rec, err := s.repo.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			return domain.Principal{}, ErrInvalidRefreshToken
		}
		return domain.Principal{}, err
	}
	owner, ok := rec.Owner()
	if !ok || rec.IsExpired(s.now()) {
		if _, err := s.repo.DeleteByHash(ctx, hash); err != nil {
			return domain.Principal{}, err
		}
		return domain.Principal{}, ErrInvalidRefreshToken
	}
	return owner, nil
}

// Delete is idempotent: deleting an unknown token succeeds.
func (s *TokenService) Delete(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	_, err := s.repo.DeleteByHash(ctx, security.HashRefreshToken(raw, s.pepper))
	return err
}

func (s *TokenService) RevokeAll(ctx context.Context, p domain.Principal) (int64, error) {
	return s.repo.DeleteByPrincipal(ctx, p)
}

// SessionView describes one live refresh token without exposing it.
type SessionView struct {
	ID        uint      `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	UserAgent string    `json:"userAgent"`
	IP        string    `json:"ip"`
	IsCurrent bool      `json:"isCurrent"`
}

// Sessions lists the live refresh tokens of p. currentRaw, when set, marks
// the session the request came from.
func (s *TokenService) Sessions(ctx context.Context, p domain.Principal, currentRaw string) ([]SessionView, error) {
	rows, err := s.repo.ListLiveByPrincipal(ctx, p, s.now())
	if err != nil {
		return nil, err
	}
	var currentHash string
	if currentRaw != "" {
		currentHash = security.HashRefreshToken(currentRaw, s.pepper)
	}
	out := make([]SessionView, 0, len(rows))
	for _, t := range rows {
		out = append(out, SessionView{
			ID:        t.ID,
			CreatedAt: t.CreatedAt,
			ExpiresAt: t.ExpiresAt,
			UserAgent: t.UserAgent,
			IP:        t.IP,
			IsCurrent: currentHash != "" && t.TokenHash == currentHash,
		})
	}
	return out, nil
}

// RevokeSession deletes one refresh token of p. It reports false when p owns
// no token with that id.
func (s *TokenService) RevokeSession(ctx context.Context, p domain.Principal, id uint) (bool, error) {
	return s.repo.DeleteByIDForPrincipal(ctx, p, id)
}

// Rotate exchanges a live refresh token for a new pair. Of several
// concurrent rotations of one token at most one succeeds; the rest get
// ErrInvalidRefreshToken.
func (s *TokenService) Rotate(ctx context.Context, raw string, meta RequestMeta) (security.TokenPair, domain.Principal, error) {
	owner, err := s.Verify(ctx, raw)
	if err != nil {
		return security.TokenPair{}, domain.Principal{}, err
	}
	access, err := s.jwtMgr.SignAccessToken(owner, s.accessTTL)
	if err != nil {
		return security.TokenPair{}, domain.Principal{}, err
	}
	next, err := security.NewRefreshToken()
	if err != nil {
		return security.TokenPair{}, domain.Principal{}, err
	}
	oldHash := security.HashRefreshToken(raw, s.pepper)
	if err := s.repo.Rotate(ctx, oldHash, s.newRecord(next, owner, meta)); err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			return security.TokenPair{}, domain.Principal{}, ErrInvalidRefreshToken
		}
		return security.TokenPair{}, domain.Principal{}, err
	}
	return security.TokenPair{AccessToken: access, RefreshToken: next}, owner, nil
}

// WebsocketToken mints a short-lived token accepted only by the realtime handshake.
func (s *TokenService) WebsocketToken(p domain.Principal) (string, time.Duration, error) {
	tok, err := s.jwtMgr.SignPurposeToken(p, security.PurposeWebsocket, s.websocketTTL)
	return tok, s.websocketTTL, err
}

func (s *TokenService) CleanupExpired(ctx context.Context) (int64, error) {
	return s.repo.CleanupExpired(ctx, s.now())
}

// RunCleanup deletes expired refresh tokens every interval until ctx is done.
func (s *TokenService) RunCleanup(ctx context.Context, interval time.Duration, onResult func(removed int64, err error)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.CleanupExpired(ctx)
			if onResult != nil {
				onResult(n, err)
			}
		}
	}
}

func truncate(v string, n int) string {
	if len(v) <= n {
		return v
	}
	return v[:n]
}
