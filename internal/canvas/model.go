package canvas

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidPublicKey indicates a user identifier that is not a z-base-32 public key.
	ErrInvalidPublicKey = errors.New("canvas: invalid public key")
)

// publicKeyLength is the z-base-32 encoding of a 32-byte identity.
const publicKeyLength = 52

const zBase32Alphabet = "ybndrfg8ejkmcpqxot1uwisza345h769"

// PublicKey represents a validated user identity.
type PublicKey string

// NewPublicKey validates raw input and returns a PublicKey.
func NewPublicKey(rawInput string) (PublicKey, error) {
	trimmed := strings.TrimSpace(rawInput)
	if len(trimmed) != publicKeyLength {
		return "", fmt.Errorf("%w: length %d", ErrInvalidPublicKey, len(trimmed))
	}
	for i := 0; i < len(trimmed); i++ {
		if !strings.ContainsRune(zBase32Alphabet, rune(trimmed[i])) {
			return "", fmt.Errorf("%w: character %q", ErrInvalidPublicKey, trimmed[i])
		}
	}
	return PublicKey(trimmed), nil
}

// String returns the underlying encoded key.
func (pk PublicKey) String() string {
	return string(pk)
}

// User tracks a registered identity and its ingestion cursor.
type User struct {
	PublicKey        string `gorm:"column:public_key;primaryKey;size:64;not null"`
	Homeserver       string `gorm:"column:homeserver;size:190;not null;index"`
	Cursor           string `gorm:"column:cursor;size:190;not null;default:''"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// PixelEvent is one accepted placement in the append-only log. Rows are never
// mutated or deleted post-insert.
type PixelEvent struct {
	ID       string `gorm:"column:id;primaryKey;size:13;not null"`
	UserPK   string `gorm:"column:user_pk;size:64;not null;index:idx_pixel_events_user_placed,priority:1"`
	X        int    `gorm:"column:x;not null;index:idx_pixel_events_cell,priority:1"`
	Y        int    `gorm:"column:y;not null;index:idx_pixel_events_cell,priority:2"`
	Color    int    `gorm:"column:color;not null"`
	PlacedAt int64  `gorm:"column:placed_at;not null;index:idx_pixel_events_user_placed,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (PixelEvent) TableName() string {
	return "pixel_events"
}

// Cell is the materialized state of one canvas coordinate.
type Cell struct {
	X                  int    `gorm:"column:x;primaryKey"`
	Y                  int    `gorm:"column:y;primaryKey"`
	Color              int    `gorm:"column:color;not null"`
	LastUserPK         string `gorm:"column:last_user_pk;size:64;not null"`
	FirstUserPK        string `gorm:"column:first_user_pk;size:64;not null"`
	LastPlacedAt       int64  `gorm:"column:last_placed_at;not null"`
	OverwrittenByOther int    `gorm:"column:overwritten_by_other_count;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Cell) TableName() string {
	return "canvas_cells"
}

// metaRowID is the primary key of the singleton canvas_meta row.
const metaRowID = 1

// Meta is the singleton canvas metadata row.
type Meta struct {
	ID                       int `gorm:"column:id;primaryKey"`
	Size                     int `gorm:"column:size;not null"`
	TotalPixels              int `gorm:"column:total_pixels;not null"`
	FilledCount              int `gorm:"column:filled_count;not null"`
	OverwrittenDistinctCount int `gorm:"column:overwritten_distinct_count;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Meta) TableName() string {
	return "canvas_meta"
}
