package canvas

import (
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("unexpected sqlite open error: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unexpected db handle error: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&User{}, &PixelEvent{}, &Cell{}, &Meta{}); err != nil {
		t.Fatalf("unexpected migrate error: %v", err)
	}

	store, err := NewStore(StoreConfig{
		Database: db,
		Clock:    func() time.Time { return time.Unix(1739600000, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	return store
}

func mustPublicKey(t *testing.T, value string) PublicKey {
	t.Helper()
	pk, err := NewPublicKey(value)
	if err != nil {
		t.Fatalf("unexpected public key error: %v", err)
	}
	return pk
}
