// Package watcher drives ingestion: it periodically pulls per-user event
// deltas from homeservers, runs them through validation, the credit engine
// and the canvas store, advances cursors, and publishes accepted events.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pubky-canva/indexer/internal/broadcast"
	"github.com/pubky-canva/indexer/internal/canvas"
	"github.com/pubky-canva/indexer/internal/homeserver"
	"github.com/pubky-canva/indexer/internal/metrics"
	"github.com/pubky-canva/indexer/internal/pixel"
	"go.uber.org/zap"
)

const (
	listTimeout  = 10 * time.Second
	fetchTimeout = 10 * time.Second
	writeTimeout = 5 * time.Second

	recordTypePut = "PUT"
)

var (
	errMissingStore       = errors.New("store dependency is required")
	errMissingClient      = errors.New("homeserver client dependency is required")
	errMissingBroadcaster = errors.New("broadcaster dependency is required")
)

// Config describes the watcher's dependencies and tuning.
type Config struct {
	Store              *canvas.Store
	Client             homeserver.Client
	Broadcaster        *broadcast.Dispatcher
	Logger             *zap.Logger
	Clock              func() time.Time
	PollInterval       time.Duration
	EventsLimit        int
	MaxCredits         int
	CreditRegenSeconds int
}

// Watcher is the single ingestion loop. It holds no authoritative state; a
// restart rebuilds everything from the persisted cursors.
type Watcher struct {
	store              *canvas.Store
	client             homeserver.Client
	broadcaster        *broadcast.Dispatcher
	logger             *zap.Logger
	clock              func() time.Time
	pollInterval       time.Duration
	eventsLimit        int
	maxCredits         int
	creditRegenSeconds int
}

// New constructs the watcher.
func New(cfg Config) (*Watcher, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Client == nil {
		return nil, errMissingClient
	}
	if cfg.Broadcaster == nil {
		return nil, errMissingBroadcaster
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Watcher{
		store:              cfg.Store,
		client:             cfg.Client,
		broadcaster:        cfg.Broadcaster,
		logger:             logger,
		clock:              clock,
		pollInterval:       pollInterval,
		eventsLimit:        cfg.EventsLimit,
		maxCredits:         cfg.MaxCredits,
		creditRegenSeconds: cfg.CreditRegenSeconds,
	}, nil
}

// Run polls until the context is cancelled. An in-flight store write is
// allowed to finish; the loop exits at the next suspension point.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("watcher started", zap.Duration("poll_interval", w.pollInterval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher shutting down")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one full poll cycle: every user, then the resize trigger.
func (w *Watcher) Tick(ctx context.Context) {
	users, err := w.store.ListUsers(ctx)
	if err != nil {
		w.logger.Error("user list failed", zap.Error(err))
		return
	}

	for _, user := range users {
		if ctx.Err() != nil {
			return
		}
		if err := w.pollUser(ctx, user); err != nil {
			// Transient: this user's remaining records are retried next
			// tick from the last persisted cursor.
			w.logger.Warn("user poll aborted",
				zap.String("user_pk", user.PublicKey),
				zap.String("homeserver", user.Homeserver),
				zap.Error(err))
		}
	}

	w.checkResize(ctx)
	metrics.WatcherTicks.Inc()
}

func (w *Watcher) pollUser(ctx context.Context, user canvas.User) error {
	listCtx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()
	records, err := w.client.ListEvents(listCtx, user.Homeserver, user.PublicKey, user.Cursor, w.eventsLimit)
	if err != nil {
		metrics.PollErrors.WithLabelValues("list").Inc()
		return fmt.Errorf("list events: %w", err)
	}

	for _, record := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.processRecord(ctx, user, record); err != nil {
			return err
		}
	}
	return nil
}

// processRecord decides one stream record. A nil return means the record is
// decided (accepted, duplicate, or permanently rejected) and the cursor has
// advanced past it; an error means the decision must be retried next tick.
func (w *Watcher) processRecord(ctx context.Context, user canvas.User, record homeserver.EventRecord) error {
	if record.Type != recordTypePut {
		return w.reject(ctx, user, record, "not_put", nil)
	}

	uriPK, pixelID, ok := homeserver.ParsePixelURI(record.URI)
	if !ok || uriPK != user.PublicKey {
		return w.reject(ctx, user, record, "bad_path", nil)
	}

	placedAt, err := pixel.DecodeID(pixelID)
	if err != nil {
		return w.reject(ctx, user, record, "bad_id", err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	body, err := w.client.FetchObject(fetchCtx, user.Homeserver, record.URI)
	cancel()
	if err != nil {
		metrics.PollErrors.WithLabelValues("fetch").Inc()
		return fmt.Errorf("fetch object %s: %w", record.URI, err)
	}

	placement, ok := pixel.ParsePlacement(body)
	if !ok {
		return w.reject(ctx, user, record, string(pixel.VerdictBadPayload), nil)
	}

	meta, err := w.store.CurrentMeta(ctx)
	if err != nil {
		metrics.PollErrors.WithLabelValues("store").Inc()
		return err
	}

	if verdict := pixel.Validate(placement, placedAt, meta.Size, w.clock()); verdict != pixel.VerdictValid {
		return w.reject(ctx, user, record, string(verdict), nil)
	}

	prior, err := w.store.RecentPlacements(ctx, user.PublicKey, placedAt, w.maxCredits)
	if err != nil {
		metrics.PollErrors.WithLabelValues("store").Inc()
		return err
	}
	balance := canvas.CreditsAt(prior, placedAt, w.maxCredits, w.creditRegenSeconds)
	if balance.CorruptHistory {
		w.logger.Warn("credit history replay dipped below zero",
			zap.String("user_pk", user.PublicKey),
			zap.String("event_id", pixelID))
	}
	if balance.Available < 1 {
		return w.reject(ctx, user, record, "no_credits", nil)
	}

	event := canvas.PixelEvent{
		// Re-encoded so aliased spellings of the same timestamp collapse
		// onto one canonical id.
		ID:       pixel.EncodeID(placedAt),
		UserPK:   user.PublicKey,
		X:        placement.X,
		Y:        placement.Y,
		Color:    placement.Color,
		PlacedAt: placedAt,
	}

	// Store writes run on their own deadline so an in-flight commit is not
	// rolled back by shutdown; the loop exits at the next record boundary.
	acceptCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	result, err := w.store.AcceptEvent(acceptCtx, event, record.Cursor)
	cancel()
	if err != nil {
		metrics.PollErrors.WithLabelValues("store").Inc()
		return err
	}

	if result.Status == canvas.AcceptStatusDuplicate {
		metrics.EventsRejected.WithLabelValues("duplicate").Inc()
		w.logger.Info("duplicate pixel event",
			zap.String("event_id", event.ID),
			zap.String("user_pk", user.PublicKey))
		return nil
	}

	metrics.EventsAccepted.Inc()
	w.logger.Info("pixel accepted",
		zap.String("event_id", event.ID),
		zap.String("user_pk", user.PublicKey),
		zap.Int("x", event.X),
		zap.Int("y", event.Y),
		zap.Int("color", event.Color))

	w.broadcaster.Publish(broadcast.Message{Pixel: &broadcast.PixelAccepted{
		X:        event.X,
		Y:        event.Y,
		Color:    event.Color,
		UserPK:   event.UserPK,
		PlacedAt: event.PlacedAt,
	}})
	return nil
}

// reject decides a record permanently: the metric and log make it
// observable, and the cursor advances so the record is never reconsidered.
func (w *Watcher) reject(ctx context.Context, user canvas.User, record homeserver.EventRecord, reason string, cause error) error {
	metrics.EventsRejected.WithLabelValues(reason).Inc()
	fields := []zap.Field{
		zap.String("user_pk", user.PublicKey),
		zap.String("uri", record.URI),
		zap.String("reason", reason),
	}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	w.logger.Info("pixel event rejected", fields...)

	if record.Cursor == "" {
		return nil
	}
	writeCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := w.store.SetCursor(writeCtx, user.PublicKey, record.Cursor); err != nil {
		metrics.PollErrors.WithLabelValues("store").Inc()
		return err
	}
	return nil
}

// checkResize runs once at the end of each tick, never mid-batch.
func (w *Watcher) checkResize(ctx context.Context) {
	meta, err := w.store.CurrentMeta(ctx)
	if err != nil {
		w.logger.Error("meta read failed", zap.Error(err))
		return
	}
	metrics.CanvasSize.Set(float64(meta.Size))

	if !canvas.ShouldResize(meta) {
		return
	}

	newSize := meta.Size * 2
	writeCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	updated, err := w.store.Resize(writeCtx, newSize)
	cancel()
	if err != nil {
		w.logger.Error("canvas resize failed", zap.Error(err))
		return
	}

	metrics.CanvasResizes.Inc()
	metrics.CanvasSize.Set(float64(updated.Size))
	w.logger.Info("canvas resized",
		zap.Int("old_size", meta.Size),
		zap.Int("new_size", updated.Size),
		zap.Int("filled", updated.FilledCount),
		zap.Int("overwritten", updated.OverwrittenDistinctCount))

	w.broadcaster.Publish(broadcast.Message{Resize: &broadcast.CanvasResized{
		OldSize: meta.Size,
		NewSize: updated.Size,
	}})
}
