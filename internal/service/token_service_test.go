package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/millatvt/millat-backend/internal/domain"
	"github.com/millatvt/millat-backend/internal/security"
)

func TestTokenServiceIssueStoresHashedRefreshToken(t *testing.T) {
	repo := newInMemoryRefreshTokenRepo()
	svc := newTestTokenService(repo)
	p := domain.Principal{ID: 4, Kind: domain.KindTeacher}

	pair, err := svc.Issue(context.Background(), p, RequestMeta{UserAgent: "ua", IP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(pair.RefreshToken) != 80 {
		t.Fatalf("expected 80-char refresh token, got %d", len(pair.RefreshToken))
	}
	if _, err := repo.FindByHash(context.Background(), pair.RefreshToken); err == nil {
		t.Fatal("refresh token must not be stored in clear")
	}
	rec, err := repo.FindByHash(context.Background(), security.HashRefreshToken(pair.RefreshToken, testPepper))
	if err != nil {
		t.Fatalf("find stored token: %v", err)
	}
	if d := time.Until(rec.ExpiresAt); d < 7*24*time.Hour-time.Minute || d > 7*24*time.Hour {
		t.Fatalf("expected ~7d expiry, got %s", d)
	}
	if owner, ok := rec.Owner(); !ok || owner != p {
		t.Fatalf("unexpected owner %+v", owner)
	}
}

func TestTokenServiceVerify(t *testing.T) {
	ctx := context.Background()
	repo := newInMemoryRefreshTokenRepo()
	svc := newTestTokenService(repo)
	p := domain.Principal{ID: 1, Kind: domain.KindStudent}

	if _, err := svc.Verify(ctx, ""); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("empty token: expected ErrInvalidRefreshToken, got %v", err)
	}
	if _, err := svc.Verify(ctx, "unknown"); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("unknown token: expected ErrInvalidRefreshToken, got %v", err)
	}

	if err := svc.Store(ctx, "live", p, RequestMeta{}); err != nil {
		t.Fatalf("store: %v", err)
	}
	got, err := svc.Verify(ctx, "live")
	if err != nil || got != p {
		t.Fatalf("verify live: %+v err=%v", got, err)
	}

	repo.put(&domain.RefreshToken{
		TokenHash: security.HashRefreshToken("expired", testPepper),
		StudentID: &p.ID,
		ExpiresAt: time.Now().Add(-time.Second),
	})
	if _, err := svc.Verify(ctx, "expired"); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expired token: expected ErrInvalidRefreshToken, got %v", err)
	}
	repo.put(&domain.RefreshToken{
		TokenHash: security.HashRefreshToken("orphan", testPepper),
		ExpiresAt: time.Now().Add(time.Hour),
	})
	if _, err := svc.Verify(ctx, "orphan"); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("orphan token: expected ErrInvalidRefreshToken, got %v", err)
	}
	if repo.count() != 1 {
		t.Fatalf("expired and orphan rows must be deleted on verify, %d rows left", repo.count())
	}
}

func TestTokenServiceRotateReplayFails(t *testing.T) {
	ctx := context.Background()
	repo := newInMemoryRefreshTokenRepo()
	svc := newTestTokenService(repo)
	p := domain.Principal{ID: 2, Kind: domain.KindTeacher}

	pair, err := svc.Issue(ctx, p, RequestMeta{})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	rotated, owner, err := svc.Rotate(ctx, pair.RefreshToken, RequestMeta{})
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if owner != p || rotated.RefreshToken == pair.RefreshToken || rotated.AccessToken == "" {
		t.Fatalf("unexpected rotation result owner=%+v", owner)
	}
	if _, _, err := svc.Rotate(ctx, pair.RefreshToken, RequestMeta{}); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("replay: expected ErrInvalidRefreshToken, got %v", err)
	}
	if _, _, err := svc.Rotate(ctx, rotated.RefreshToken, RequestMeta{}); err != nil {
		t.Fatalf("rotating the new token must succeed: %v", err)
	}
	if repo.count() != 1 {
		t.Fatalf("expected exactly one live token, got %d", repo.count())
	}
}

func TestTokenServiceConcurrentRotateSingleWinner(t *testing.T) {
	ctx := context.Background()
	repo := newInMemoryRefreshTokenRepo()
	svc := newTestTokenService(repo)
	pair, err := svc.Issue(ctx, domain.Principal{ID: 8, Kind: domain.KindStudent}, RequestMeta{})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		invalid int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _, err := svc.Rotate(ctx, pair.RefreshToken, RequestMeta{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, ErrInvalidRefreshToken):
				invalid++
			default:
				t.Errorf("unexpected rotate error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if success != 1 || invalid != workers-1 {
		t.Fatalf("expected 1 success and %d invalid, got success=%d invalid=%d", workers-1, success, invalid)
	}
	if repo.count() != 1 {
		t.Fatalf("expected one surviving token, got %d", repo.count())
	}
}

func TestTokenServiceDeleteIsIdempotentAndRevokeAllScoped(t *testing.T) {
	ctx := context.Background()
	repo := newInMemoryRefreshTokenRepo()
	svc := newTestTokenService(repo)
	teacher := domain.Principal{ID: 1, Kind: domain.KindTeacher}
	student := domain.Principal{ID: 1, Kind: domain.KindStudent}

	a, _ := svc.Issue(ctx, teacher, RequestMeta{})
	_, _ = svc.Issue(ctx, teacher, RequestMeta{})
	s, _ := svc.Issue(ctx, student, RequestMeta{})

	if err := svc.Delete(ctx, a.RefreshToken); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.Delete(ctx, a.RefreshToken); err != nil {
		t.Fatalf("second delete must succeed: %v", err)
	}
	n, err := svc.RevokeAll(ctx, teacher)
	if err != nil || n != 1 {
		t.Fatalf("revoke all: n=%d err=%v", n, err)
	}
	if _, err := svc.Verify(ctx, s.RefreshToken); err != nil {
		t.Fatalf("student token must survive teacher revoke: %v", err)
	}
}

func TestTokenServiceWebsocketToken(t *testing.T) {
	svc := newTestTokenService(newInMemoryRefreshTokenRepo())
	tok, ttl, err := svc.WebsocketToken(domain.Principal{ID: 3, Kind: domain.KindStudent})
	if err != nil {
		t.Fatalf("websocket token: %v", err)
	}
	if ttl != 2*time.Minute {
		t.Fatalf("expected 2m ttl, got %s", ttl)
	}
	claims, err := security.NewJWTManager("iss", "aud", testAccessSecret).ParseAccessToken(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Purpose != security.PurposeWebsocket {
		t.Fatalf("expected websocket purpose, got %q", claims.Purpose)
	}
}

func TestTokenServiceCleanupExpired(t *testing.T) {
	ctx := context.Background()
	repo := newInMemoryRefreshTokenRepo()
	svc := newTestTokenService(repo)
	id := uint(1)
	repo.put(&domain.RefreshToken{TokenHash: "old", AdminID: &id, ExpiresAt: time.Now().Add(-time.Minute)})
	if _, err := svc.Issue(ctx, domain.Principal{ID: 1, Kind: domain.KindAdmin}, RequestMeta{}); err != nil {
		t.Fatalf("issue: %v", err)
	}
	n, err := svc.CleanupExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("cleanup: n=%d err=%v", n, err)
	}
}
