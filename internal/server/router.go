package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pubky-canva/indexer/internal/broadcast"
	"github.com/pubky-canva/indexer/internal/canvas"
	"github.com/pubky-canva/indexer/internal/homeserver"
	"github.com/pubky-canva/indexer/internal/pixel"
	"go.uber.org/zap"
)

var (
	errMissingStore       = errors.New("store dependency required")
	errMissingResolver    = errors.New("key resolver dependency required")
	errMissingClient      = errors.New("homeserver client dependency required")
	errMissingBroadcaster = errors.New("broadcaster dependency required")
)

// Dependencies wires the read surface and the registration endpoint.
type Dependencies struct {
	Store              *canvas.Store
	Resolver           homeserver.Resolver
	Client             homeserver.Client
	Broadcaster        *broadcast.Dispatcher
	Logger             *zap.Logger
	Clock              func() time.Time
	MaxCredits         int
	CreditRegenSeconds int
}

// NewHTTPHandler builds the indexer's HTTP surface.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.Resolver == nil {
		return nil, errMissingResolver
	}
	if deps.Client == nil {
		return nil, errMissingClient
	}
	if deps.Broadcaster == nil {
		return nil, errMissingBroadcaster
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		store:              deps.Store,
		resolver:           deps.Resolver,
		client:             deps.Client,
		broadcaster:        deps.Broadcaster,
		logger:             logger,
		clock:              clock,
		maxCredits:         deps.MaxCredits,
		creditRegenSeconds: deps.CreditRegenSeconds,
	}

	api := router.Group("/api")
	api.GET("/canvas", handler.handleCanvas)
	api.GET("/canvas/meta", handler.handleMeta)
	api.GET("/canvas/pixel/:x/:y", handler.handlePixel)
	api.GET("/canvas/palette", handler.handlePalette)
	api.GET("/events", handler.handleEvents)
	api.PUT("/ingest/:public_key", handler.handleIngest)
	api.GET("/user/:public_key/credits", handler.handleCredits)
	api.GET("/user/:public_key/profile", handler.handleProfile)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router, nil
}

type httpHandler struct {
	store              *canvas.Store
	resolver           homeserver.Resolver
	client             homeserver.Client
	broadcaster        *broadcast.Dispatcher
	logger             *zap.Logger
	clock              func() time.Time
	maxCredits         int
	creditRegenSeconds int
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorPayload{Code: code, Message: message})
}

type pixelStatePayload struct {
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Color    int    `json:"color"`
	UserPK   string `json:"user_pk"`
	PlacedAt int64  `json:"placed_at"`
}

type canvasResponsePayload struct {
	Size   int                 `json:"size"`
	Pixels []pixelStatePayload `json:"pixels"`
}

func (h *httpHandler) handleCanvas(c *gin.Context) {
	meta, cells, err := h.store.Snapshot(c.Request.Context())
	if err != nil {
		h.logger.Error("canvas snapshot failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "store_error", "failed to read canvas")
		return
	}

	response := canvasResponsePayload{
		Size:   meta.Size,
		Pixels: make([]pixelStatePayload, 0, len(cells)),
	}
	for _, cell := range cells {
		response.Pixels = append(response.Pixels, pixelStatePayload{
			X:        cell.X,
			Y:        cell.Y,
			Color:    cell.Color,
			UserPK:   cell.LastUserPK,
			PlacedAt: cell.LastPlacedAt,
		})
	}
	c.JSON(http.StatusOK, response)
}

type metaResponsePayload struct {
	Size               int `json:"size"`
	TotalPixels        int `json:"total_pixels"`
	Filled             int `json:"filled"`
	Overwritten        int `json:"overwritten"`
	MaxCredits         int `json:"max_credits"`
	CreditRegenSeconds int `json:"credit_regen_seconds"`
}

func (h *httpHandler) handleMeta(c *gin.Context) {
	meta, err := h.store.CurrentMeta(c.Request.Context())
	if err != nil {
		h.logger.Error("meta read failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "store_error", "failed to read canvas meta")
		return
	}
	c.JSON(http.StatusOK, metaResponsePayload{
		Size:               meta.Size,
		TotalPixels:        meta.TotalPixels,
		Filled:             meta.FilledCount,
		Overwritten:        meta.OverwrittenDistinctCount,
		MaxCredits:         h.maxCredits,
		CreditRegenSeconds: h.creditRegenSeconds,
	})
}

type pixelHistoryPayload struct {
	ID       string `json:"id"`
	UserPK   string `json:"user_pk"`
	Color    int    `json:"color"`
	PlacedAt int64  `json:"placed_at"`
}

type pixelInfoPayload struct {
	Current pixelStatePayload     `json:"current"`
	History []pixelHistoryPayload `json:"history"`
}

func (h *httpHandler) handlePixel(c *gin.Context) {
	x, errX := strconv.Atoi(c.Param("x"))
	y, errY := strconv.Atoi(c.Param("y"))
	if errX != nil || errY != nil || x < 0 || y < 0 {
		respondError(c, http.StatusBadRequest, "invalid_coordinates", "coordinates must be non-negative integers")
		return
	}

	cell, history, found, err := h.store.PixelInfo(c.Request.Context(), x, y)
	if err != nil {
		h.logger.Error("pixel info failed", zap.Error(err), zap.Int("x", x), zap.Int("y", y))
		respondError(c, http.StatusInternalServerError, "store_error", "failed to read pixel")
		return
	}
	if !found {
		respondError(c, http.StatusNotFound, "not_found", "pixel has never been painted")
		return
	}

	response := pixelInfoPayload{
		Current: pixelStatePayload{
			X:        cell.X,
			Y:        cell.Y,
			Color:    cell.Color,
			UserPK:   cell.LastUserPK,
			PlacedAt: cell.LastPlacedAt,
		},
		History: make([]pixelHistoryPayload, 0, len(history)),
	}
	for _, event := range history {
		response.History = append(response.History, pixelHistoryPayload{
			ID:       event.ID,
			UserPK:   event.UserPK,
			Color:    event.Color,
			PlacedAt: event.PlacedAt,
		})
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handlePalette(c *gin.Context) {
	c.JSON(http.StatusOK, pixel.Palette[:])
}

func (h *httpHandler) handleIngest(c *gin.Context) {
	pk, err := canvas.NewPublicKey(c.Param("public_key"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_public_key", "public key must be a z-base-32 encoded identity")
		return
	}

	homeserverID, err := h.resolver.ResolveHomeserver(c.Request.Context(), pk.String())
	if err != nil {
		h.logger.Warn("homeserver resolution failed", zap.String("user_pk", pk.String()), zap.Error(err))
		respondError(c, http.StatusServiceUnavailable, "resolver_unavailable", "could not resolve homeserver")
		return
	}

	if err := h.store.UpsertUser(c.Request.Context(), pk, homeserverID); err != nil {
		h.logger.Error("user upsert failed", zap.String("user_pk", pk.String()), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "store_error", "failed to register user")
		return
	}

	h.logger.Info("user registered",
		zap.String("user_pk", pk.String()),
		zap.String("homeserver", homeserverID))
	c.Status(http.StatusNoContent)
}

type creditsResponsePayload struct {
	Credits             int    `json:"credits"`
	MaxCredits          int    `json:"max_credits"`
	NextCreditInSeconds *int64 `json:"next_credit_in_seconds"`
}

func (h *httpHandler) handleCredits(c *gin.Context) {
	pk, err := canvas.NewPublicKey(c.Param("public_key"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_public_key", "public key must be a z-base-32 encoded identity")
		return
	}

	now := h.clock().UTC().UnixMicro()
	prior, err := h.store.RecentPlacements(c.Request.Context(), pk.String(), now, h.maxCredits)
	if err != nil {
		h.logger.Error("recent placements read failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "store_error", "failed to read placements")
		return
	}

	balance := canvas.CreditsAt(prior, now, h.maxCredits, h.creditRegenSeconds)
	response := creditsResponsePayload{
		Credits:    balance.Available,
		MaxCredits: h.maxCredits,
	}
	if balance.Available < h.maxCredits && len(prior) > 0 {
		next := canvas.NextCreditSeconds(prior[0], now, h.creditRegenSeconds)
		response.NextCreditInSeconds = &next
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleProfile(c *gin.Context) {
	pk, err := canvas.NewPublicKey(c.Param("public_key"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_public_key", "public key must be a z-base-32 encoded identity")
		return
	}

	user, found, err := h.store.GetUser(c.Request.Context(), pk.String())
	if err != nil {
		h.logger.Error("user lookup failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "store_error", "failed to read user")
		return
	}
	if !found {
		respondError(c, http.StatusNotFound, "unknown_user", "user is not registered")
		return
	}

	uri := "pubky://" + pk.String() + "/pub/pubky.app/profile.json"
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	body, err := h.client.FetchObject(ctx, user.Homeserver, uri)
	if errors.Is(err, homeserver.ErrObjectNotFound) {
		respondError(c, http.StatusNotFound, "no_profile", "user has not published a profile")
		return
	}
	if err != nil {
		h.logger.Warn("profile fetch failed", zap.String("user_pk", pk.String()), zap.Error(err))
		respondError(c, http.StatusBadGateway, "homeserver_error", "failed to fetch profile")
		return
	}

	var profile json.RawMessage
	if err := json.Unmarshal(body, &profile); err != nil {
		respondError(c, http.StatusBadGateway, "invalid_profile", "profile is not valid JSON")
		return
	}
	c.Data(http.StatusOK, "application/json", profile)
}
