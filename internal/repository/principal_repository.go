package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/millatvt/millat-backend/internal/domain"
	"github.com/millatvt/millat-backend/internal/observability"

	"gorm.io/gorm"
)

// PrincipalRepository stores admins, teachers and students. Each kind lives
// in its own table with the shared domain.Account row shape.
type PrincipalRepository interface {
	FindByID(ctx context.Context, kind domain.PrincipalKind, id uint) (*domain.Account, error)
	FindByEmail(ctx context.Context, kind domain.PrincipalKind, email string) (*domain.Account, error)
	Create(ctx context.Context, kind domain.PrincipalKind, acct *domain.Account) error
	SetActive(ctx context.Context, kind domain.PrincipalKind, id uint, active bool) error
	ListPaged(ctx context.Context, kind domain.PrincipalKind, page PageRequest) (PageResult[domain.Account], error)
}

type GormPrincipalRepository struct{ db *gorm.DB }

func NewPrincipalRepository(db *gorm.DB) PrincipalRepository { return &GormPrincipalRepository{db: db} }

func (r *GormPrincipalRepository) table(ctx context.Context, kind domain.PrincipalKind) (*gorm.DB, error) {
	name, err := domain.TableForKind(kind)
	if err != nil {
		return nil, err
	}
	return r.db.WithContext(ctx).Table(name), nil
}

func (r *GormPrincipalRepository) FindByID(ctx context.Context, kind domain.PrincipalKind, id uint) (*domain.Account, error) {
	q, err := r.table(ctx, kind)
	if err != nil {
		return nil, err
	}
	var a domain.Account
	if err := q.Where("id = ?", id).Take(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "principal", "find_by_id", "not_found")
			return nil, ErrPrincipalNotFound
		}
		observability.RecordRepositoryOperation(ctx, "principal", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "principal", "find_by_id", "success")
	return &a, nil
}

func (r *GormPrincipalRepository) FindByEmail(ctx context.Context, kind domain.PrincipalKind, email string) (*domain.Account, error) {
	q, err := r.table(ctx, kind)
	if err != nil {
		return nil, err
	}
	var a domain.Account
	if err := q.Where("email = ?", normalizeEmail(email)).Take(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "principal", "find_by_email", "not_found")
			return nil, ErrPrincipalNotFound
		}
		observability.RecordRepositoryOperation(ctx, "principal", "find_by_email", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "principal", "find_by_email", "success")
	return &a, nil
}

func (r *GormPrincipalRepository) Create(ctx context.Context, kind domain.PrincipalKind, acct *domain.Account) error {
	q, err := r.table(ctx, kind)
	if err != nil {
		return err
	}
	acct.Email = normalizeEmail(acct.Email)
	if err := q.Create(acct).Error; err != nil {
		if isUniqueViolation(err) {
			observability.RecordRepositoryOperation(ctx, "principal", "create", "conflict")
			return ErrDuplicate
		}
		observability.RecordRepositoryOperation(ctx, "principal", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "principal", "create", "success")
	return nil
}

func (r *GormPrincipalRepository) SetActive(ctx context.Context, kind domain.PrincipalKind, id uint, active bool) error {
	q, err := r.table(ctx, kind)
	if err != nil {
		return err
	}
	res := q.Where("id = ?", id).Updates(map[string]any{"active": active, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "principal", "set_active", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "principal", "set_active", "not_found")
		return ErrPrincipalNotFound
	}
	observability.RecordRepositoryOperation(ctx, "principal", "set_active", "success")
	return nil
}

func (r *GormPrincipalRepository) ListPaged(ctx context.Context, kind domain.PrincipalKind, page PageRequest) (PageResult[domain.Account], error) {
	name, err := domain.TableForKind(kind)
	if err != nil {
		return PageResult[domain.Account]{}, err
	}
	out, err := findPage[domain.Account](func() *gorm.DB {
		return r.db.WithContext(ctx).Table(name)
	}, "id ASC", page)
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "principal", "list_paged", "error")
		return out, err
	}
	observability.RecordRepositoryOperation(ctx, "principal", "list_paged", "success")
	return out, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
