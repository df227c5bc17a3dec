package canvas

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// StoreError carries an operation code alongside the underlying cause.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code returns the machine-readable operation code.
func (e *StoreError) Code() string {
	return e.code
}

const (
	opStoreNew         = "canvas.store.new"
	opEnsureMeta       = "canvas.ensure_meta"
	opCurrentMeta      = "canvas.current_meta"
	opUpsertUser       = "canvas.upsert_user"
	opGetUser          = "canvas.get_user"
	opListUsers        = "canvas.list_users"
	opSetCursor        = "canvas.set_cursor"
	opAcceptEvent      = "canvas.accept_event"
	opResize           = "canvas.resize"
	opSnapshot         = "canvas.snapshot"
	opPixelInfo        = "canvas.pixel_info"
	opRecentPlacements = "canvas.recent_placements"
	opLatestPlacement  = "canvas.latest_placement"
)

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// StoreConfig describes the dependencies of the canvas store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store owns all persistent canvas state. Every mutation runs inside a single
// transaction; only the watcher writes, readers run concurrently.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore constructs the store service.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{db: cfg.Database, clock: clock, logger: logger}, nil
}

// EnsureMeta seeds the singleton metadata row on first startup. An existing
// row is left untouched regardless of the configured size.
func (s *Store) EnsureMeta(ctx context.Context, initialSize int) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var meta Meta
		err := tx.Where("id = ?", metaRowID).Take(&meta).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		meta = Meta{
			ID:          metaRowID,
			Size:        initialSize,
			TotalPixels: initialSize * initialSize,
		}
		return tx.Create(&meta).Error
	})
	if err != nil {
		return newStoreError(opEnsureMeta, "seed_failed", err)
	}
	return nil
}

// CurrentMeta returns the singleton canvas metadata.
func (s *Store) CurrentMeta(ctx context.Context) (Meta, error) {
	var meta Meta
	if err := s.db.WithContext(ctx).Where("id = ?", metaRowID).Take(&meta).Error; err != nil {
		return Meta{}, newStoreError(opCurrentMeta, "meta_select_failed", err)
	}
	return meta, nil
}

// UpsertUser registers a user on its resolved homeserver. The cursor of an
// existing row is preserved.
func (s *Store) UpsertUser(ctx context.Context, pk PublicKey, homeserver string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing User
		err := tx.Where("public_key = ?", pk.String()).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			user := User{
				PublicKey:        pk.String(),
				Homeserver:       homeserver,
				CreatedAtSeconds: s.clock().UTC().Unix(),
			}
			return tx.Create(&user).Error
		}
		if err != nil {
			return err
		}
		if existing.Homeserver == homeserver {
			return nil
		}
		return tx.Model(&User{}).
			Where("public_key = ?", pk.String()).
			Update("homeserver", homeserver).Error
	})
	if err != nil {
		return newStoreError(opUpsertUser, "upsert_failed", err)
	}
	return nil
}

// GetUser returns a registered user. found is false when the key is unknown.
func (s *Store) GetUser(ctx context.Context, pk string) (User, bool, error) {
	var user User
	err := s.db.WithContext(ctx).Where("public_key = ?", pk).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, newStoreError(opGetUser, "select_failed", err)
	}
	return user, true, nil
}

// ListUsers returns a snapshot of all registered users.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := s.db.WithContext(ctx).Order("homeserver, public_key").Find(&users).Error; err != nil {
		return nil, newStoreError(opListUsers, "select_failed", err)
	}
	return users, nil
}

// SetCursor persists a user's ingestion cursor. Used for records decided
// without an accepted event; accepted events advance the cursor inside
// AcceptEvent instead.
func (s *Store) SetCursor(ctx context.Context, pk, cursor string) error {
	err := s.db.WithContext(ctx).Model(&User{}).
		Where("public_key = ?", pk).
		Update("cursor", cursor).Error
	if err != nil {
		return newStoreError(opSetCursor, "update_failed", err)
	}
	return nil
}

// AcceptStatus reports how AcceptEvent concluded.
type AcceptStatus string

const (
	// AcceptStatusAccepted means the event and all side effects were committed.
	AcceptStatusAccepted AcceptStatus = "accepted"
	// AcceptStatusDuplicate means the event id already existed; only the
	// cursor advanced.
	AcceptStatusDuplicate AcceptStatus = "duplicate"
)

// AcceptResult describes a committed AcceptEvent call.
type AcceptResult struct {
	Status AcceptStatus
	Delta  CellDelta
}

// AcceptEvent atomically inserts the event, materializes the cell delta,
// updates the metadata counters, and advances the user's cursor. All or
// nothing: after a crash the event is either fully present or fully absent
// with the cursor unadvanced.
func (s *Store) AcceptEvent(ctx context.Context, event PixelEvent, cursor string) (AcceptResult, error) {
	var result AcceptResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing PixelEvent
		err := tx.Where("id = ?", event.ID).Take(&existing).Error
		if err == nil {
			result = AcceptResult{Status: AcceptStatusDuplicate}
			return advanceCursor(tx, event.UserPK, cursor)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("event select: %w", err)
		}

		var cellPtr *Cell
		var cell Cell
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("x = ? AND y = ?", event.X, event.Y).
			Take(&cell).Error
		if err == nil {
			cellPtr = &cell
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("cell select: %w", err)
		}

		delta := ApplyEvent(cellPtr, event)

		if err := tx.Create(&event).Error; err != nil {
			return fmt.Errorf("event insert: %w", err)
		}

		if delta.Materialized {
			if delta.NewCell {
				if err := tx.Create(&delta.Cell).Error; err != nil {
					return fmt.Errorf("cell insert: %w", err)
				}
			} else if err := tx.Model(&Cell{}).
				Where("x = ? AND y = ?", delta.Cell.X, delta.Cell.Y).
				Updates(map[string]any{
					"color":                      delta.Cell.Color,
					"last_user_pk":               delta.Cell.LastUserPK,
					"last_placed_at":             delta.Cell.LastPlacedAt,
					"overwritten_by_other_count": delta.Cell.OverwrittenByOther,
				}).Error; err != nil {
				return fmt.Errorf("cell update: %w", err)
			}
		}

		if delta.NewCell || delta.NewlyOverwritten {
			var meta Meta
			if err := tx.Where("id = ?", metaRowID).Take(&meta).Error; err != nil {
				return fmt.Errorf("meta select: %w", err)
			}
			if delta.NewCell {
				meta.FilledCount++
			}
			if delta.NewlyOverwritten {
				meta.OverwrittenDistinctCount++
			}
			if err := tx.Save(&meta).Error; err != nil {
				return fmt.Errorf("meta update: %w", err)
			}
		}

		result = AcceptResult{Status: AcceptStatusAccepted, Delta: delta}
		return advanceCursor(tx, event.UserPK, cursor)
	})
	if txErr != nil {
		s.logger.Error("accept event failed",
			zap.String("event_id", event.ID),
			zap.String("user_pk", event.UserPK),
			zap.Error(txErr))
		return AcceptResult{}, newStoreError(opAcceptEvent, "tx_failed", txErr)
	}
	return result, nil
}

func advanceCursor(tx *gorm.DB, pk, cursor string) error {
	if cursor == "" {
		return nil
	}
	if err := tx.Model(&User{}).Where("public_key = ?", pk).Update("cursor", cursor).Error; err != nil {
		return fmt.Errorf("cursor update: %w", err)
	}
	return nil
}

// Resize grows the canvas to newSize and recomputes the fill counters over
// the surviving cells. Bounds only grow, so every cell survives.
func (s *Store) Resize(ctx context.Context, newSize int) (Meta, error) {
	var updated Meta
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var meta Meta
		if err := tx.Where("id = ?", metaRowID).Take(&meta).Error; err != nil {
			return fmt.Errorf("meta select: %w", err)
		}

		var filled, overwritten int64
		if err := tx.Model(&Cell{}).Count(&filled).Error; err != nil {
			return fmt.Errorf("filled count: %w", err)
		}
		if err := tx.Model(&Cell{}).
			Where("overwritten_by_other_count > 0").
			Count(&overwritten).Error; err != nil {
			return fmt.Errorf("overwritten count: %w", err)
		}

		meta.Size = newSize
		meta.TotalPixels = newSize * newSize
		meta.FilledCount = int(filled)
		meta.OverwrittenDistinctCount = int(overwritten)
		if err := tx.Save(&meta).Error; err != nil {
			return fmt.Errorf("meta update: %w", err)
		}
		updated = meta
		return nil
	})
	if txErr != nil {
		return Meta{}, newStoreError(opResize, "tx_failed", txErr)
	}
	return updated, nil
}

// Snapshot returns the metadata and every filled cell from one consistent
// read transaction.
func (s *Store) Snapshot(ctx context.Context) (Meta, []Cell, error) {
	var meta Meta
	var cells []Cell
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", metaRowID).Take(&meta).Error; err != nil {
			return fmt.Errorf("meta select: %w", err)
		}
		if err := tx.Order("y, x").Find(&cells).Error; err != nil {
			return fmt.Errorf("cells select: %w", err)
		}
		return nil
	})
	if txErr != nil {
		return Meta{}, nil, newStoreError(opSnapshot, "tx_failed", txErr)
	}
	return meta, cells, nil
}

// pixelHistoryLimit caps the per-cell history page served by the API.
const pixelHistoryLimit = 50

// PixelInfo returns the materialized cell at (x, y) and its event history in
// ascending placed_at order. found is false when the cell is empty.
func (s *Store) PixelInfo(ctx context.Context, x, y int) (Cell, []PixelEvent, bool, error) {
	var cell Cell
	var history []PixelEvent
	found := true
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("x = ? AND y = ?", x, y).Take(&cell).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			found = false
			return nil
		}
		if err != nil {
			return fmt.Errorf("cell select: %w", err)
		}
		if err := tx.Where("x = ? AND y = ?", x, y).
			Order("placed_at").
			Limit(pixelHistoryLimit).
			Find(&history).Error; err != nil {
			return fmt.Errorf("history select: %w", err)
		}
		return nil
	})
	if txErr != nil {
		return Cell{}, nil, false, newStoreError(opPixelInfo, "tx_failed", txErr)
	}
	return cell, history, found, nil
}

// RecentPlacements returns the placed_at values of the user's most recent
// accepted placements strictly before the given instant, newest first.
func (s *Store) RecentPlacements(ctx context.Context, pk string, before int64, limit int) ([]int64, error) {
	var placements []int64
	err := s.db.WithContext(ctx).Model(&PixelEvent{}).
		Where("user_pk = ? AND placed_at < ?", pk, before).
		Order("placed_at DESC").
		Limit(limit).
		Pluck("placed_at", &placements).Error
	if err != nil {
		return nil, newStoreError(opRecentPlacements, "select_failed", err)
	}
	return placements, nil
}

// LatestPlacement returns the user's newest accepted placed_at value. found
// is false when the user has no accepted placements.
func (s *Store) LatestPlacement(ctx context.Context, pk string) (int64, bool, error) {
	var event PixelEvent
	err := s.db.WithContext(ctx).
		Where("user_pk = ?", pk).
		Order("placed_at DESC").
		Take(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, newStoreError(opLatestPlacement, "select_failed", err)
	}
	return event.PlacedAt, true, nil
}
