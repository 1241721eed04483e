package repository

import (
	"context"
	"errors"
	"time"

	"github.com/millatvt/millat-backend/internal/domain"
	"github.com/millatvt/millat-backend/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RefreshTokenRepository interface {
	Create(ctx context.Context, t *domain.RefreshToken) error
	FindByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)
	DeleteByHash(ctx context.Context, hash string) (bool, error)
	DeleteByPrincipal(ctx context.Context, p domain.Principal) (int64, error)
	ListLiveByPrincipal(ctx context.Context, p domain.Principal, now time.Time) ([]domain.RefreshToken, error)
	DeleteByIDForPrincipal(ctx context.Context, p domain.Principal, id uint) (bool, error)
	Rotate(ctx context.Context, oldHash string, next *domain.RefreshToken) error
	CleanupExpired(ctx context.Context, now time.Time) (int64, error)
}

type GormRefreshTokenRepository struct {
	db        *gorm.DB
	txTimeout time.Duration
}

func NewRefreshTokenRepository(db *gorm.DB, txTimeout time.Duration) RefreshTokenRepository {
	return &GormRefreshTokenRepository{db: db, txTimeout: txTimeout}
}

func (r *GormRefreshTokenRepository) Create(ctx context.Context, t *domain.RefreshToken) error {
	err := r.db.WithContext(ctx).Create(t).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "create", "success")
	return nil
}

func (r *GormRefreshTokenRepository) FindByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := r.db.WithContext(ctx).Where("token_hash = ?", hash).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "refresh_token", "find_by_hash", "not_found")
			return nil, ErrRefreshTokenNotFound
		}
		observability.RecordRepositoryOperation(ctx, "refresh_token", "find_by_hash", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "find_by_hash", "success")
	return &t, nil
}

// DeleteByHash reports whether a row was removed. A missing row is not an error.
func (r *GormRefreshTokenRepository) DeleteByHash(ctx context.Context, hash string) (bool, error) {
	res := r.db.WithContext(ctx).Where("token_hash = ?", hash).Delete(&domain.RefreshToken{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "delete_by_hash", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "delete_by_hash", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormRefreshTokenRepository) DeleteByPrincipal(ctx context.Context, p domain.Principal) (int64, error) {
	column, err := domain.ForeignKeyColumn(p.Kind)
	if err != nil {
		return 0, err
	}
	res := r.db.WithContext(ctx).Where(column+" = ?", p.ID).Delete(&domain.RefreshToken{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "delete_by_principal", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "delete_by_principal", "success")
	return res.RowsAffected, nil
}

// ListLiveByPrincipal returns the unexpired tokens of p, newest first.
func (r *GormRefreshTokenRepository) ListLiveByPrincipal(ctx context.Context, p domain.Principal, now time.Time) ([]domain.RefreshToken, error) {
	column, err := domain.ForeignKeyColumn(p.Kind)
	if err != nil {
		return nil, err
	}
	out := []domain.RefreshToken{}
	err = r.db.WithContext(ctx).
		Where(column+" = ? AND expires_at > ?", p.ID, now).
		Order("created_at DESC").Order("id DESC").
		Find(&out).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "list_live_by_principal", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "list_live_by_principal", "success")
	return out, nil
}

// DeleteByIDForPrincipal removes one token only when p owns it.
func (r *GormRefreshTokenRepository) DeleteByIDForPrincipal(ctx context.Context, p domain.Principal, id uint) (bool, error) {
	column, err := domain.ForeignKeyColumn(p.Kind)
	if err != nil {
		return false, err
	}
	res := r.db.WithContext(ctx).Where("id = ? AND "+column+" = ?", id, p.ID).Delete(&domain.RefreshToken{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "delete_by_id", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "delete_by_id", "success")
	return res.RowsAffected > 0, nil
}

// Rotate replaces the row for oldHash with next in one transaction. The old row
// must still be live and owned by next's owner, and its delete must affect
// exactly one row; otherwise ErrRefreshTokenNotFound is returned and nothing
// is written. The row lock serialises concurrent rotations on postgres while
// the row count check keeps the outcome correct on drivers without locking.
func (r *GormRefreshTokenRepository) Rotate(ctx context.Context, oldHash string, next *domain.RefreshToken) error {
	nextOwner, ok := next.Owner()
	if !ok {
		return errors.New("rotated refresh token must have exactly one owner")
	}
	err := withTransaction(ctx, r.db, r.txTimeout, func(tx *gorm.DB) error {
		var old domain.RefreshToken
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("token_hash = ?", oldHash).
			First(&old).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRefreshTokenNotFound
			}
			return err
		}
		owner, ok := old.Owner()
		if !ok || owner != nextOwner || old.IsExpired(time.Now()) {
			return ErrRefreshTokenNotFound
		}
		res := tx.Where("id = ? AND token_hash = ?", old.ID, oldHash).Delete(&domain.RefreshToken{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrRefreshTokenNotFound
		}
		return tx.Create(next).Error
	})
	if err != nil {
		if errors.Is(err, ErrRefreshTokenNotFound) {
			observability.RecordRepositoryOperation(ctx, "refresh_token", "rotate", "not_found")
		} else {
			observability.RecordRepositoryOperation(ctx, "refresh_token", "rotate", "error")
		}
		return err
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "rotate", "success")
	return nil
}

func (r *GormRefreshTokenRepository) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.RefreshToken{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "cleanup_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "cleanup_expired", "success")
	return res.RowsAffected, nil
}
