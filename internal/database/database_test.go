package database

import (
	"strings"
	"testing"

	"github.com/millatvt/millat-backend/internal/config"
)

func TestOpenSQLiteAndAutoMigrate(t *testing.T) {
	cfg := &config.Config{DatabaseDriver: "sqlite", DatabaseURL: "file:database_open_test?mode=memory&cache=shared"}
	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = Close(db) })

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	for _, table := range []string{"admins", "teachers", "students", "refresh_tokens", "conversations", "messages", "conversation_read_states"} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("expected table %s", table)
		}
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(&config.Config{DatabaseDriver: "oracle"}); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("expected unsupported driver error, got %v", err)
	}
}

func TestMigrateUpRequiresPostgres(t *testing.T) {
	db, err := Open(&config.Config{DatabaseDriver: "sqlite", DatabaseURL: "file:database_migrate_test?mode=memory&cache=shared"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = Close(db) })
	if _, err := MigrateUp(db); err == nil {
		t.Fatal("expected sql migrations to refuse sqlite")
	}
}

func TestEmbeddedMigrationsPaired(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	ups, downs := 0, 0
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			downs++
		}
	}
	if ups == 0 || ups != downs {
		t.Fatalf("expected paired migrations, got up=%d down=%d", ups, downs)
	}
}
