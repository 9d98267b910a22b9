package pixlet

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"tidbyt.dev/pixlet/encode"
	"tidbyt.dev/pixlet/globals"
	"tidbyt.dev/pixlet/render"
	"tidbyt.dev/pixlet/runtime"
	"tidbyt.dev/pixlet/schema"
	"tidbyt.dev/pixlet/tools"

	"github.com/koios/inkboard/internal/config"
	"github.com/koios/inkboard/pkg/models"
)

// renderMu guards pixlet's package-level frame size and cache hooks, which are not
// safe for concurrent renders.
var renderMu sync.Mutex

var (
	// ErrAppNotFound is returned for app ids missing from the registry.
	ErrAppNotFound = errors.New("app not found")
	// ErrNoSchema is returned by AppSchema for apps without get_schema.
	ErrNoSchema = errors.New("app does not define a schema")
)

// Renderer runs Pixlet tile apps and returns their first frame.
type Renderer struct {
	config      *config.PixletConfig
	logger      *zap.Logger
	cache       runtime.Cache
	redisCache  *RedisCache
	secretKey   *runtime.SecretDecryptionKey
	timeout     time.Duration
	appRegistry *models.AppRegistry
}

// NewRenderer loads the app registry and secret key. redisCache may be nil, in which case
// apps share an in-memory cache.
func NewRenderer(cfg *config.PixletConfig, redisCache *RedisCache, logger *zap.Logger) (*Renderer, error) {
	secretKey, err := LoadSecretKey(cfg.SecretEncryptionKeyB64, cfg.KeyEncryptionKeyB64)
	if err != nil {
		return nil, fmt.Errorf("failed to load pixlet secret key: %w", err)
	}

	appRegistry := models.NewAppRegistry(logger)
	if err := appRegistry.LoadApps(cfg.AppsPath); err != nil {
		logger.Error("Failed to load apps", zap.Error(err))
	}

	timeout := time.Duration(cfg.RenderTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Renderer{
		config:      cfg,
		logger:      logger,
		cache:       runtime.NewInMemoryCache(),
		redisCache:  redisCache,
		secretKey:   secretKey,
		timeout:     timeout,
		appRegistry: appRegistry,
	}, nil
}

// RenderTile runs appID at width×height with config and returns the first rendered frame.
// The tile name scopes the app's cache entries.
func (r *Renderer) RenderTile(ctx context.Context, tile, appID string, width, height int, config map[string]string) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid tile size %dx%d", width, height)
	}
	applet, err := r.loadApplet(appID)
	if err != nil {
		return nil, err
	}

	appConfig := make(map[string]string, len(config)+2)
	for k, v := range config {
		appConfig[k] = v
	}
	appConfig["display_width"] = fmt.Sprintf("%d", width)
	appConfig["display_height"] = fmt.Sprintf("%d", height)

	renderCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	frame, err := r.run(renderCtx, applet, tile, appID, width, height, appConfig)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("Pixlet render completed",
		zap.String("tile", tile),
		zap.String("app_id", appID),
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Duration("elapsed", time.Since(start)))
	return frame, nil
}

func (r *Renderer) run(ctx context.Context, applet *runtime.Applet, tile, appID string, width, height int, config map[string]string) (image.Image, error) {
	var requestCache runtime.Cache = r.cache
	if r.redisCache != nil {
		requestCache = r.redisCache.WithContext(appID, tile)
	}

	renderMu.Lock()
	defer renderMu.Unlock()

	runtime.InitHTTP(requestCache)
	runtime.InitCache(requestCache)

	globals.Width = width
	globals.Height = height
	// Paint only refreshes these when globals differ from pixlet's defaults.
	render.FrameWidth = width
	render.FrameHeight = height

	roots, err := applet.RunWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("error running applet: %w", err)
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("app %s rendered no output", appID)
	}

	screens := encode.ScreensFromRoots(roots)

	var first image.Image
	capture := func(input image.Image) (image.Image, error) {
		if first == nil {
			first = input
		}
		return input, nil
	}
	if _, err := screens.EncodeWebP(0, capture); err != nil {
		return nil, fmt.Errorf("error encoding frames: %w", err)
	}
	if first == nil {
		return nil, fmt.Errorf("app %s produced no frames", appID)
	}
	return first, nil
}

func (r *Renderer) loadApplet(appID string) (*runtime.Applet, error) {
	// Validate app ID (security: prevent path traversal)
	if appID == "" || strings.Contains(appID, "..") || strings.Contains(appID, "/") {
		return nil, fmt.Errorf("invalid app ID: %s", appID)
	}

	app, exists := r.appRegistry.GetApp(appID)
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrAppNotFound, appID)
	}

	appPath := app.StarFilePath
	info, err := os.Stat(appPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat app path: %w", err)
	}

	var appFS fs.FS
	if info.IsDir() {
		appFS = os.DirFS(appPath)
	} else {
		if !strings.HasSuffix(appPath, ".star") {
			return nil, fmt.Errorf("app file must have suffix .star: %s", appPath)
		}
		appFS = tools.NewSingleFileFS(appPath)
	}

	opts := []runtime.AppletOption{
		runtime.WithPrintDisabled(),
	}
	if r.secretKey != nil {
		opts = append(opts, runtime.WithSecretDecryptionKey(r.secretKey))
	}

	applet, err := runtime.NewAppletFromFS(appID, appFS, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load applet: %w", err)
	}
	return applet, nil
}

// AppSchema returns the config schema an app declares.
func (r *Renderer) AppSchema(appID string) (*schema.Schema, error) {
	applet, err := r.loadApplet(appID)
	if err != nil {
		return nil, err
	}
	if applet.Schema == nil {
		return nil, ErrNoSchema
	}
	return applet.Schema, nil
}

// ListApps returns the available tile apps
func (r *Renderer) ListApps() []*models.PixletApp {
	manifests := r.appRegistry.GetAppsList()
	apps := make([]*models.PixletApp, 0, len(manifests))
	for _, manifest := range manifests {
		apps = append(apps, &models.PixletApp{
			ID:          manifest.ID,
			Name:        manifest.Name,
			Path:        manifest.StarFilePath,
			Description: manifest.Summary,
		})
	}
	return apps
}

// ReloadApps rescans the apps directory
func (r *Renderer) ReloadApps() error {
	return r.appRegistry.LoadApps(r.config.AppsPath)
}

// HasApp reports whether appID is registered
func (r *Renderer) HasApp(appID string) bool {
	_, ok := r.appRegistry.GetApp(appID)
	return ok
}

// FlushTileCache removes every cached entry of one tile, whichever app wrote it
func (r *Renderer) FlushTileCache(ctx context.Context, tile string) error {
	if r.redisCache == nil {
		return nil
	}
	return r.redisCache.WithContext("", tile).FlushTile(ctx)
}

// TileCacheEntries counts the cached entries of one tile's app. Without Redis it is zero.
func (r *Renderer) TileCacheEntries(ctx context.Context, tile, appID string) (int64, error) {
	if r.redisCache == nil {
		return 0, nil
	}
	return r.redisCache.WithContext(appID, tile).Stats(ctx)
}

// Close releases the Redis cache connection
func (r *Renderer) Close() error {
	if r.redisCache != nil {
		return r.redisCache.Close()
	}
	return nil
}
