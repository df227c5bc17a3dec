package database

import (
	"path/filepath"
	"testing"

	"github.com/pubky-canva/indexer/internal/canvas"
)

func TestOpenSQLiteMigratesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indexer.db")

	db, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}

	for _, table := range []string{"users", "pixel_events", "canvas_cells", "canvas_meta", "db_migrations"} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("expected table %q to exist", table)
		}
	}

	var applied int64
	if err := db.Raw("SELECT COUNT(*) FROM db_migrations").Scan(&applied).Error; err != nil {
		t.Fatalf("unexpected migration count error: %v", err)
	}
	if applied == 0 {
		t.Fatal("expected at least one recorded migration")
	}
}

func TestOpenSQLiteMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indexer.db")

	first, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	var countAfterFirst int64
	if err := first.Raw("SELECT COUNT(*) FROM db_migrations").Scan(&countAfterFirst).Error; err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}
	sqlDB, err := first.DB()
	if err != nil {
		t.Fatalf("unexpected handle error: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}

	second, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("unexpected reopen error: %v", err)
	}
	var countAfterSecond int64
	if err := second.Raw("SELECT COUNT(*) FROM db_migrations").Scan(&countAfterSecond).Error; err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}
	if countAfterFirst != countAfterSecond {
		t.Fatalf("migrations must apply once: %d != %d", countAfterFirst, countAfterSecond)
	}
}

func TestNormalizeNullCursors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indexer.db")

	db, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}

	// Recreate the users table as older databases declared it, without the
	// NOT NULL constraint on cursor, so that a NULL cursor can be stored.
	if err := db.Exec("DROP TABLE users").Error; err != nil {
		t.Fatalf("unexpected drop error: %v", err)
	}
	if err := db.Exec("CREATE TABLE users (public_key TEXT PRIMARY KEY, homeserver TEXT NOT NULL, cursor TEXT, created_at_s INTEGER NOT NULL)").Error; err != nil {
		t.Fatalf("unexpected legacy table error: %v", err)
	}

	user := canvas.User{
		PublicKey:        "a1111111111111111111111111111111111111111111111111ya",
		Homeserver:       "hs.example.org",
		CreatedAtSeconds: 1739600000,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if err := db.Exec("UPDATE users SET cursor = NULL").Error; err != nil {
		t.Fatalf("unexpected null error: %v", err)
	}

	if err := normalizeNullCursors(db); err != nil {
		t.Fatalf("unexpected migration error: %v", err)
	}

	var cursor string
	if err := db.Raw("SELECT cursor FROM users WHERE public_key = ?", user.PublicKey).Scan(&cursor).Error; err != nil {
		t.Fatalf("unexpected select error: %v", err)
	}
	if cursor != "" {
		t.Fatalf("expected empty cursor, got %q", cursor)
	}
}
