package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"tidbyt.dev/pixlet/schema"

	"github.com/koios/inkboard/internal/dashboard"
	"github.com/koios/inkboard/internal/device"
	"github.com/koios/inkboard/internal/pixlet"
	"github.com/koios/inkboard/pkg/models"
)

// AppCatalog lists and describes the installed tile apps. *pixlet.Renderer implements it.
type AppCatalog interface {
	ListApps() []*models.PixletApp
	ReloadApps() error
	AppSchema(appID string) (*schema.Schema, error)
	HasApp(appID string) bool
	FlushTileCache(ctx context.Context, tile string) error
	TileCacheEntries(ctx context.Context, tile, appID string) (int64, error)
}

// TileController exposes the dashboard to the management API. *dashboard.Dashboard implements it.
type TileController interface {
	Tiles() []models.TileStatus
	Refresh(ctx context.Context, name string) (*models.UploadResult, error)
	Clear(ctx context.Context) error
}

// DeviceReader reads the panel state. *device.Client implements it.
type DeviceReader interface {
	Info(ctx context.Context) (device.Info, error)
	FreeMemory(ctx context.Context) (uint32, error)
}

// StatePublisher appends state changes to the event stream. *redis.Client implements it.
type StatePublisher interface {
	PublishStateChange(ctx context.Context, event *models.StateChangedEvent) (string, error)
}

// AppHandler serves the management API
type AppHandler struct {
	apps   AppCatalog
	tiles  TileController
	device DeviceReader
	events StatePublisher
	logger *zap.Logger
}

// NewAppHandler creates a new app handler. events may be nil, which disables POST /events.
func NewAppHandler(apps AppCatalog, tiles TileController, dev DeviceReader, events StatePublisher, logger *zap.Logger) *AppHandler {
	return &AppHandler{
		apps:   apps,
		tiles:  tiles,
		device: dev,
		events: events,
		logger: logger,
	}
}

// RegisterRoutes registers the management routes
func (h *AppHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/tiles", h.handleTiles)
	mux.HandleFunc("/tiles/", h.handleTileAction)
	mux.HandleFunc("/device", h.handleDevice)
	mux.HandleFunc("/device/clear", h.handleDeviceClear)
	mux.HandleFunc("/apps", h.handleApps)
	mux.HandleFunc("/apps/refresh", h.handleAppsRefresh)
	mux.HandleFunc("/apps/", h.handleAppDetails)
	mux.HandleFunc("/events", h.handleEvents)
}

func (h *AppHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// handleHealth handles GET /health - returns service health status
func (h *AppHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "inkboard",
		"version": "1.0.0",
	})
}

// handleTiles handles GET /tiles - returns the status and cache size of every tile
func (h *AppHandler) handleTiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tiles := h.tiles.Tiles()
	for i := range tiles {
		count, err := h.apps.TileCacheEntries(r.Context(), tiles[i].Name, tiles[i].App)
		if err != nil {
			h.logger.Warn("Failed to count tile cache entries",
				zap.String("tile", tiles[i].Name),
				zap.Error(err))
			continue
		}
		tiles[i].CacheEntries = count
	}
	h.writeJSON(w, http.StatusOK, tiles)
	h.logger.Debug("Served tiles list", zap.Int("count", len(tiles)))
}

// handleTileAction handles POST /tiles/{name}/refresh - renders and uploads one tile.
// With ?flush=1 the tile's cached app data is dropped first.
func (h *AppHandler) handleTileAction(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/tiles/"), "/")
	if len(pathParts) != 2 || pathParts[0] == "" || pathParts[1] != "refresh" {
		http.Error(w, "Endpoint not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := pathParts[0]
	if flush, _ := strconv.ParseBool(r.URL.Query().Get("flush")); flush {
		if err := h.apps.FlushTileCache(r.Context(), name); err != nil {
			h.logger.Error("Failed to flush tile cache", zap.String("tile", name), zap.Error(err))
			http.Error(w, "Failed to flush tile cache", http.StatusInternalServerError)
			return
		}
		h.logger.Info("Tile cache flushed", zap.String("tile", name))
	}

	result, err := h.tiles.Refresh(r.Context(), name)
	if err != nil {
		h.logger.Error("Tile refresh failed", zap.String("tile", name), zap.Error(err))
		if errors.Is(err, dashboard.ErrUnknownTile) {
			http.Error(w, "Tile not found", http.StatusNotFound)
			return
		}
		h.writeJSON(w, http.StatusBadGateway, result)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// handleDevice handles GET /device - returns panel info and free memory
func (h *AppHandler) handleDevice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info, err := h.device.Info(r.Context())
	if err != nil {
		h.logger.Error("Failed to read device info", zap.Error(err))
		http.Error(w, "Device unavailable: "+err.Error(), http.StatusBadGateway)
		return
	}
	free, err := h.device.FreeMemory(r.Context())
	if err != nil {
		h.logger.Error("Failed to read device free memory", zap.Error(err))
		http.Error(w, "Device unavailable: "+err.Error(), http.StatusBadGateway)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"width":       info.Width,
		"height":      info.Height,
		"temperature": info.Temperature,
		"free_bytes":  free,
	})
}

// handleDeviceClear handles POST /device/clear - wipes the panel
func (h *AppHandler) handleDeviceClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.tiles.Clear(r.Context()); err != nil {
		h.logger.Error("Failed to clear panel", zap.Error(err))
		http.Error(w, "Failed to clear panel: "+err.Error(), http.StatusBadGateway)
		return
	}
	h.logger.Info("Panel cleared")
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// handleApps handles GET /apps - returns list of all apps
func (h *AppHandler) handleApps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	apps := h.apps.ListApps()
	h.writeJSON(w, http.StatusOK, apps)
	h.logger.Debug("Served apps list", zap.Int("count", len(apps)))
}

// handleAppsRefresh handles POST /apps/refresh - reloads the app registry
func (h *AppHandler) handleAppsRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.logger.Info("Refreshing app registry...")

	if err := h.apps.ReloadApps(); err != nil {
		h.logger.Error("Failed to refresh app registry", zap.Error(err))
		http.Error(w, "Failed to refresh apps", http.StatusInternalServerError)
		return
	}

	apps := h.apps.ListApps()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "success",
		"message":   "App registry refreshed successfully",
		"app_count": len(apps),
	})

	h.logger.Info("App registry refreshed successfully", zap.Int("app_count", len(apps)))
}

// handleAppDetails handles:
// - GET /apps/{id} - returns specific app or 404
// - GET /apps/{id}/schema - returns the app's schema
func (h *AppHandler) handleAppDetails(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/apps/")
	pathParts := strings.Split(path, "/")

	if len(pathParts) == 0 || pathParts[0] == "" {
		http.Error(w, "App ID required", http.StatusBadRequest)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	appID := pathParts[0]
	switch {
	case len(pathParts) == 1:
		if !h.apps.HasApp(appID) {
			http.Error(w, "App not found", http.StatusNotFound)
			return
		}
		for _, app := range h.apps.ListApps() {
			if app.ID == appID {
				h.writeJSON(w, http.StatusOK, app)
				h.logger.Debug("Served app details", zap.String("app_id", appID))
				return
			}
		}
		http.Error(w, "App not found", http.StatusNotFound)
	case len(pathParts) == 2 && pathParts[1] == "schema":
		h.handleAppSchema(w, appID)
	default:
		http.Error(w, "Endpoint not found", http.StatusNotFound)
	}
}

// handleAppSchema handles GET /apps/{id}/schema - returns the app's schema as JSON
func (h *AppHandler) handleAppSchema(w http.ResponseWriter, appID string) {
	appSchema, err := h.apps.AppSchema(appID)
	if err != nil {
		h.logger.Error("Failed to get app schema",
			zap.String("app_id", appID),
			zap.Error(err))

		switch {
		case errors.Is(err, pixlet.ErrAppNotFound):
			http.Error(w, "App not found", http.StatusNotFound)
		case errors.Is(err, pixlet.ErrNoSchema):
			http.Error(w, "App does not define a schema", http.StatusNotFound)
		default:
			http.Error(w, "Failed to get app schema", http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, appSchema)
	h.logger.Debug("Served app schema", zap.String("app_id", appID))
}

// handleEvents handles POST /events - appends a state change to the event stream
func (h *AppHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.events == nil {
		http.Error(w, "Event stream not configured", http.StatusServiceUnavailable)
		return
	}

	var event models.StateChangedEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if event.Type == "" {
		event.Type = models.EventTypeStateChanged
	}
	if event.EntityID == "" && event.NewState != nil {
		event.EntityID = event.NewState.EntityID
	}
	if event.EntityID == "" || event.NewState == nil {
		http.Error(w, "entity_id and new_state are required", http.StatusBadRequest)
		return
	}

	id, err := h.events.PublishStateChange(r.Context(), &event)
	if err != nil {
		h.logger.Error("Failed to publish state change", zap.String("entity_id", event.EntityID), zap.Error(err))
		http.Error(w, "Failed to publish state change", http.StatusBadGateway)
		return
	}
	h.logger.Info("State change queued", zap.String("entity_id", event.EntityID), zap.String("id", id))
	h.writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "entity_id": event.EntityID})
}
