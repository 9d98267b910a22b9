// Package dashboard renders layout tiles and keeps the panel in sync with Home Assistant.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/koios/inkboard/internal/homeassistant"
	"github.com/koios/inkboard/internal/pixlet"
	"github.com/koios/inkboard/internal/sunsethue"
	"github.com/koios/inkboard/internal/upload"
	"github.com/koios/inkboard/pkg/models"
)

// ErrUnknownTile is returned for tile names missing from the layout.
var ErrUnknownTile = errors.New("unknown tile")

const historyWindow = 24 * time.Hour

// Renderer turns a tile job into an image. *pixlet.WorkerPool implements it.
type Renderer interface {
	Render(ctx context.Context, job pixlet.RenderJob) (image.Image, error)
}

// Uploader streams an image to the panel. *upload.Uploader implements it.
type Uploader interface {
	Upload(ctx context.Context, img image.Image, req upload.Request) (*upload.Result, error)
}

// Panel is the device operation the dashboard issues outside uploads.
type Panel interface {
	Clear(ctx context.Context) error
}

// HomeAssistant supplies entity states and history.
type HomeAssistant interface {
	GetState(ctx context.Context, entityID string) (*models.EntityState, error)
	History(ctx context.Context, entityID string, start, end time.Time) ([]homeassistant.HistoryPoint, error)
}

// Forecaster supplies the sunset forecast.
type Forecaster interface {
	Forecast(ctx context.Context, now time.Time, loc *time.Location) sunsethue.Forecast
}

// Publisher receives every upload result.
type Publisher interface {
	PublishUploadResult(ctx context.Context, result *models.UploadResult) error
}

// Dashboard owns the layout and drives renders and uploads for its tiles.
type Dashboard struct {
	layout    *models.Layout
	renderer  Renderer
	uploader  Uploader
	panel     Panel
	states    *homeassistant.StateCache
	ha        HomeAssistant
	forecast  Forecaster
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time

	clearAtStart bool
	rotate180    bool

	// deviceMu serializes everything that writes to the panel.
	deviceMu sync.Mutex

	mu     sync.RWMutex
	status map[string]*models.TileStatus

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Dashboard.
type Option func(*Dashboard)

// WithPanel sets the device used for clearing the canvas.
func WithPanel(p Panel) Option {
	return func(d *Dashboard) { d.panel = p }
}

// WithHomeAssistant sets the entity state source.
func WithHomeAssistant(ha HomeAssistant) Option {
	return func(d *Dashboard) { d.ha = ha }
}

// WithForecaster sets the sunset forecast source.
func WithForecaster(f Forecaster) Option {
	return func(d *Dashboard) { d.forecast = f }
}

// WithPublisher sets where upload results are sent.
func WithPublisher(p Publisher) Option {
	return func(d *Dashboard) { d.publisher = p }
}

// WithClearAtStart clears the panel before the first render, in addition to the layout setting.
func WithClearAtStart(enabled bool) Option {
	return func(d *Dashboard) { d.clearAtStart = enabled }
}

// WithRotate180 rotates every tile before upload.
func WithRotate180(enabled bool) Option {
	return func(d *Dashboard) { d.rotate180 = enabled }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Dashboard) { d.now = now }
}

// New creates a dashboard for layout.
func New(layout *models.Layout, renderer Renderer, uploader Uploader, logger *zap.Logger, opts ...Option) *Dashboard {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dashboard{
		layout:   layout,
		renderer: renderer,
		uploader: uploader,
		states:   homeassistant.NewStateCache(logger),
		logger:   logger,
		now:      time.Now,
		status:   make(map[string]*models.TileStatus, len(layout.Components)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	for name, comp := range layout.Components {
		d.status[name] = &models.TileStatus{
			Name:     name,
			Type:     comp.Type,
			App:      comp.App,
			EntityID: comp.EntityID,
		}
	}
	return d
}

// Start clears the panel when configured, seeds entity states, draws every tile once and
// schedules the timer tiles. Individual tile failures are logged and do not stop startup.
func (d *Dashboard) Start(ctx context.Context) error {
	if d.clearAtStart || d.layout.UISettings.ClearAtStart {
		if err := d.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear panel: %w", err)
		}
	}

	if d.ha != nil {
		ids := d.watchedEntities()
		seeded := d.states.Seed(ctx, d.ha, ids)
		d.logger.Info("Seeded entity states",
			zap.Int("entities", len(ids)),
			zap.Int("seeded", seeded))
	}

	for _, name := range d.layout.ComponentNames() {
		if _, err := d.Refresh(ctx, name); err != nil {
			d.logger.Error("Initial tile refresh failed",
				zap.String("tile", name),
				zap.Error(err))
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	for _, name := range d.layout.ComponentNames() {
		comp := d.layout.Components[name]
		if comp.Type != models.ComponentTimer {
			continue
		}
		d.wg.Add(1)
		go d.runTimer(runCtx, name, comp.Interval())
	}

	d.logger.Info("Dashboard started", zap.Int("tiles", len(d.layout.Components)))
	return nil
}

// Stop ends the timer loops and waits for them.
func (d *Dashboard) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	d.logger.Info("Dashboard stopped")
}

func (d *Dashboard) runTimer(ctx context.Context, name string, interval time.Duration) {
	defer d.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.logger.Debug("Timer tile scheduled",
		zap.String("tile", name),
		zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Refresh(ctx, name); err != nil {
				d.logger.Error("Timer tile refresh failed",
					zap.String("tile", name),
					zap.Error(err))
			}
		}
	}
}

// Clear wipes the panel.
func (d *Dashboard) Clear(ctx context.Context) error {
	if d.panel == nil {
		return errors.New("no panel configured")
	}
	d.deviceMu.Lock()
	defer d.deviceMu.Unlock()
	return d.panel.Clear(ctx)
}

// Refresh renders one tile and uploads it. The returned result is also recorded and
// published when err is non-nil, with Error set.
func (d *Dashboard) Refresh(ctx context.Context, name string) (*models.UploadResult, error) {
	comp, ok := d.layout.Components[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTile, name)
	}

	x, y, w, h := comp.Rect(d.layout.UISettings.BlockSize)
	format := comp.PixelFormat()
	result := &models.UploadResult{
		Tile:   name,
		AppID:  comp.App,
		X:      x,
		Y:      y,
		Width:  w,
		Height: h,
		Format: format.String(),
	}

	err := d.refresh(ctx, name, comp, result)
	result.UploadedAt = d.now()
	if err != nil {
		result.Error = err.Error()
	}
	d.record(name, result)
	d.publish(ctx, result)

	if err != nil {
		return result, err
	}
	d.logger.Info("Tile refreshed",
		zap.String("tile", name),
		zap.String("upload_id", result.UploadID),
		zap.Int("patches", result.Patches),
		zap.Int64("duration_ms", result.DurationMs))
	return result, nil
}

func (d *Dashboard) refresh(ctx context.Context, name string, comp models.ComponentConfig, result *models.UploadResult) error {
	img, err := d.renderer.Render(ctx, pixlet.RenderJob{
		Tile:   name,
		AppID:  comp.App,
		Width:  result.Width,
		Height: result.Height,
		Config: d.tileConfig(ctx, name, comp),
	})
	if err != nil {
		return fmt.Errorf("failed to render tile %s: %w", name, err)
	}

	d.deviceMu.Lock()
	res, err := d.uploader.Upload(ctx, img, upload.Request{
		X:         result.X,
		Y:         result.Y,
		Width:     result.Width,
		Height:    result.Height,
		Mono:      comp.Mono,
		Format:    comp.PixelFormat(),
		Rotate180: d.rotate180,
	})
	d.deviceMu.Unlock()
	if res != nil {
		result.UploadID = res.UploadID
		result.Patches = res.Patches
		result.Bytes = res.Bytes
		result.DurationMs = res.Duration.Milliseconds()
	}
	if err != nil {
		return fmt.Errorf("failed to upload tile %s: %w", name, err)
	}
	return nil
}

// HandleStateChange stores the new state and redraws the tiles bound to the entity when
// its state string changed.
func (d *Dashboard) HandleStateChange(ctx context.Context, event *models.StateChangedEvent) ([]*models.UploadResult, error) {
	if !d.states.Apply(event) {
		d.logger.Debug("State unchanged, skipping redraw", zap.String("entity_id", event.EntityID))
		return nil, nil
	}

	var (
		results []*models.UploadResult
		errs    []error
	)
	for _, name := range d.TilesForEntity(event.EntityID) {
		res, err := d.Refresh(ctx, name)
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return results, errors.Join(errs...)
}

// TilesForEntity returns the tiles that show entityID, in name order.
func (d *Dashboard) TilesForEntity(entityID string) []string {
	var names []string
	for _, name := range d.layout.ComponentNames() {
		comp := d.layout.Components[name]
		if comp.EntityID == entityID || contains(comp.HistoryEntities, entityID) {
			names = append(names, name)
		}
	}
	return names
}

// Tiles returns the status of every tile in name order.
func (d *Dashboard) Tiles() []models.TileStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	tiles := make([]models.TileStatus, 0, len(d.status))
	for _, st := range d.status {
		tiles = append(tiles, *st)
	}
	sort.Slice(tiles, func(i, j int) bool { return tiles[i].Name < tiles[j].Name })
	return tiles
}

func (d *Dashboard) record(name string, result *models.UploadResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.status[name]
	if !ok {
		return
	}
	st.LastResult = result
	st.LastRefresh = result.UploadedAt
}

func (d *Dashboard) publish(ctx context.Context, result *models.UploadResult) {
	if d.publisher == nil {
		return
	}
	if err := d.publisher.PublishUploadResult(ctx, result); err != nil {
		d.logger.Warn("Failed to publish upload result",
			zap.String("tile", result.Tile),
			zap.Error(err))
	}
}

func (d *Dashboard) watchedEntities() []string {
	seen := make(map[string]struct{})
	for id := range d.layout.Entities {
		seen[id] = struct{}{}
	}
	for _, comp := range d.layout.Components {
		if comp.EntityID != "" {
			seen[comp.EntityID] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// tileConfig builds the app config for one tile.
func (d *Dashboard) tileConfig(ctx context.Context, name string, comp models.ComponentConfig) map[string]string {
	loc := d.layout.Location()
	now := d.now()

	cfg := make(map[string]string, len(comp.Params)+12)
	for k, v := range comp.Params {
		cfg[k] = v
	}
	cfg["tile"] = name
	cfg["timezone"] = loc.String()
	cfg["mono"] = strconv.FormatBool(comp.Mono)

	if comp.EntityID != "" {
		entity := d.layout.Entity(comp.EntityID)
		cfg["entity_id"] = comp.EntityID
		cfg["name"] = entity.Name

		state := "unavailable"
		attributes := "{}"
		if st, ok := d.states.Get(comp.EntityID); ok {
			state = st.State
			attributes = st.AttributesJSON()
			if !st.LastChanged.IsZero() {
				cfg["last_changed"] = st.LastChanged.In(loc).Format(time.RFC3339)
			}
		}
		cfg["state"] = state
		cfg["state_name"] = entity.StateName(state)
		cfg["normal"] = strconv.FormatBool(entity.IsNormal(state))
		cfg["attributes"] = attributes
	}

	if comp.SunsetForecast && d.forecast != nil {
		for k, v := range d.forecast.Forecast(ctx, now, loc).Config() {
			cfg[k] = v
		}
	}

	if len(comp.HistoryEntities) > 0 && d.ha != nil {
		if history := d.history(ctx, comp.HistoryEntities, now); history != "" {
			cfg["history"] = history
		}
	}
	return cfg
}

type historyEntry struct {
	Name   string                       `json:"name"`
	Points []homeassistant.HistoryPoint `json:"points"`
}

// history returns the last day of state changes per entity as JSON keyed by entity id.
func (d *Dashboard) history(ctx context.Context, entityIDs []string, now time.Time) string {
	out := make(map[string]historyEntry, len(entityIDs))
	for _, id := range entityIDs {
		points, err := d.ha.History(ctx, id, now.Add(-historyWindow), now)
		if err != nil {
			d.logger.Warn("Failed to fetch entity history",
				zap.String("entity_id", id),
				zap.Error(err))
			continue
		}
		out[id] = historyEntry{Name: d.layout.Entity(id).Name, Points: points}
	}
	if len(out) == 0 {
		return ""
	}
	data, err := json.Marshal(out)
	if err != nil {
		return ""
	}
	return string(data)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
