package repository

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/millatvt/millat-backend/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(
		&domain.Admin{},
		&domain.Teacher{},
		&domain.Student{},
		&domain.RefreshToken{},
		&domain.Conversation{},
		&domain.Message{},
		&domain.ConversationReadState{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func createAccount(t *testing.T, repo PrincipalRepository, kind domain.PrincipalKind, email string, active bool) *domain.Account {
	t.Helper()
	acct := &domain.Account{Email: email, Name: email, PasswordHash: "x", Active: active}
	if err := repo.Create(t.Context(), kind, acct); err != nil {
		t.Fatalf("create %s %s: %v", kind, email, err)
	}
	return acct
}

func liveToken(hash string, owner domain.Principal) *domain.RefreshToken {
	tok := &domain.RefreshToken{TokenHash: hash, ExpiresAt: time.Now().UTC().Add(time.Hour)}
	tok.SetOwner(owner)
	return tok
}
