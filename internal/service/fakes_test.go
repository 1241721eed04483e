package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/millatvt/millat-backend/internal/domain"
	"github.com/millatvt/millat-backend/internal/repository"
	"github.com/millatvt/millat-backend/internal/security"
)

const (
	testAccessSecret = "abcdefghijklmnopqrstuvwxyz123456"
	testPepper       = "pepper-for-tests"
)

type inMemoryRefreshTokenRepo struct {
	mu     sync.Mutex
	nextID uint
	byHash map[string]*domain.RefreshToken
}

func newInMemoryRefreshTokenRepo() *inMemoryRefreshTokenRepo {
	return &inMemoryRefreshTokenRepo{nextID: 1, byHash: map[string]*domain.RefreshToken{}}
}

func (r *inMemoryRefreshTokenRepo) Create(_ context.Context, t *domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	cp.ID = r.nextID
	r.nextID++
	r.byHash[cp.TokenHash] = &cp
	return nil
}

func (r *inMemoryRefreshTokenRepo) FindByHash(_ context.Context, hash string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byHash[hash]
	if !ok {
		return nil, repository.ErrRefreshTokenNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *inMemoryRefreshTokenRepo) DeleteByHash(_ context.Context, hash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byHash[hash]
	delete(r.byHash, hash)
	return ok, nil
}

func (r *inMemoryRefreshTokenRepo) DeleteByPrincipal(_ context.Context, p domain.Principal) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for hash, t := range r.byHash {
		if owner, ok := t.Owner(); ok && owner == p {
			delete(r.byHash, hash)
			n++
		}
	}
	return n, nil
}

func (r *inMemoryRefreshTokenRepo) ListLiveByPrincipal(_ context.Context, p domain.Principal, now time.Time) ([]domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.RefreshToken{}
	for _, t := range r.byHash {
		if owner, ok := t.Owner(); ok && owner == p && !t.IsExpired(now) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *inMemoryRefreshTokenRepo) DeleteByIDForPrincipal(_ context.Context, p domain.Principal, id uint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for hash, t := range r.byHash {
		if owner, ok := t.Owner(); ok && owner == p && t.ID == id {
			delete(r.byHash, hash)
			return true, nil
		}
	}
	return false, nil
}

func (r *inMemoryRefreshTokenRepo) Rotate(_ context.Context, oldHash string, next *domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.byHash[oldHash]
	if !ok || old.IsExpired(time.Now()) {
		return repository.ErrRefreshTokenNotFound
	}
	delete(r.byHash, oldHash)
	cp := *next
	cp.ID = r.nextID
	r.nextID++
	r.byHash[cp.TokenHash] = &cp
	return nil
}

func (r *inMemoryRefreshTokenRepo) CleanupExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for hash, t := range r.byHash {
		if t.IsExpired(now) {
			delete(r.byHash, hash)
			n++
		}
	}
	return n, nil
}

func (r *inMemoryRefreshTokenRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byHash)
}

func (r *inMemoryRefreshTokenRepo) put(t *domain.RefreshToken) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.byHash[cp.TokenHash] = &cp
}

type inMemoryPrincipalRepo struct {
	mu     sync.Mutex
	nextID map[domain.PrincipalKind]uint
	rows   map[domain.PrincipalKind]map[uint]*domain.Account
	finds  int
}

func newInMemoryPrincipalRepo() *inMemoryPrincipalRepo {
	return &inMemoryPrincipalRepo{
		nextID: map[domain.PrincipalKind]uint{},
		rows:   map[domain.PrincipalKind]map[uint]*domain.Account{},
	}
}

func (r *inMemoryPrincipalRepo) FindByID(_ context.Context, kind domain.PrincipalKind, id uint) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finds++
	a, ok := r.rows[kind][id]
	if !ok {
		return nil, repository.ErrPrincipalNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *inMemoryPrincipalRepo) FindByEmail(_ context.Context, kind domain.PrincipalKind, email string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.rows[kind] {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repository.ErrPrincipalNotFound
}

func (r *inMemoryPrincipalRepo) Create(_ context.Context, kind domain.PrincipalKind, acct *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.rows[kind] {
		if a.Email == acct.Email {
			return repository.ErrDuplicate
		}
	}
	if r.rows[kind] == nil {
		r.rows[kind] = map[uint]*domain.Account{}
	}
	r.nextID[kind]++
	acct.ID = r.nextID[kind]
	cp := *acct
	r.rows[kind][acct.ID] = &cp
	return nil
}

func (r *inMemoryPrincipalRepo) SetActive(_ context.Context, kind domain.PrincipalKind, id uint, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[kind][id]
	if !ok {
		return repository.ErrPrincipalNotFound
	}
	a.Active = active
	return nil
}

func (r *inMemoryPrincipalRepo) ListPaged(_ context.Context, kind domain.PrincipalKind, page repository.PageRequest) (repository.PageResult[domain.Account], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := repository.PageResult[domain.Account]{Page: 1, PageSize: len(r.rows[kind])}
	for id := uint(1); id <= r.nextID[kind]; id++ {
		if a, ok := r.rows[kind][id]; ok {
			out.Items = append(out.Items, *a)
		}
	}
	out.Total = int64(len(out.Items))
	out.TotalPages = 1
	return out, nil
}

func (r *inMemoryPrincipalRepo) findCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finds
}

func (r *inMemoryPrincipalRepo) mustCreate(kind domain.PrincipalKind, email, password string, active bool) domain.Principal {
	hash, err := security.HashPassword(password)
	if err != nil {
		panic(err)
	}
	acct := &domain.Account{Email: email, Name: email, PasswordHash: hash, Active: active}
	if err := r.Create(context.Background(), kind, acct); err != nil {
		panic(err)
	}
	return domain.Principal{ID: acct.ID, Kind: kind}
}

func newTestTokenService(repo repository.RefreshTokenRepository) *TokenService {
	return NewTokenService(
		security.NewJWTManager("iss", "aud", testAccessSecret),
		repo,
		testPepper,
		15*time.Minute,
		7*24*time.Hour,
		2*time.Minute,
	)
}

type recordedBroadcast struct {
	event          string
	conversationID uint
	recipient      domain.Principal
	reader         domain.Principal
	messageIDs     []uint
	payload        any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedBroadcast
}

func (n *recordingNotifier) BroadcastMessage(_ context.Context, conversationID uint, message any) {
	n.record(recordedBroadcast{event: "new_message", conversationID: conversationID, payload: message})
}

func (n *recordingNotifier) NotifyNewConversation(_ context.Context, recipient domain.Principal, conversation any) {
	n.record(recordedBroadcast{event: "new_conversation", recipient: recipient, payload: conversation})
}

func (n *recordingNotifier) BroadcastMessagesRead(_ context.Context, conversationID uint, reader domain.Principal, ids []uint, _ time.Time) {
	n.record(recordedBroadcast{event: "messages_read", conversationID: conversationID, reader: reader, messageIDs: ids})
}

func (n *recordingNotifier) record(b recordedBroadcast) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, b)
}

func (n *recordingNotifier) snapshot() []recordedBroadcast {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]recordedBroadcast(nil), n.events...)
}
