package models

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// PixletApp is the listing form of an installed tile app
type PixletApp struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`
}

// AppManifest represents the manifest.yaml structure for an app
type AppManifest struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Summary     string `yaml:"summary" json:"summary"`
	Description string `yaml:"desc" json:"description"`
	Author      string `yaml:"author" json:"author"`
	FileName    string `yaml:"fileName" json:"fileName"`
	PackageName string `yaml:"packageName" json:"packageName"`

	// Runtime fields (not in manifest)
	DirectoryPath string `yaml:"-" json:"directoryPath"`
	StarFilePath  string `yaml:"-" json:"starFilePath"`
}

// LoadManifest loads a manifest.yaml file from the given directory
func LoadManifest(appDir string) (*AppManifest, error) {
	manifestPath := filepath.Join(appDir, "manifest.yaml")

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	var manifest AppManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest file: %w", err)
	}

	// Set runtime fields
	manifest.DirectoryPath = appDir
	manifest.StarFilePath = filepath.Join(appDir, manifest.FileName)

	// Validate that the star file exists
	if _, err := os.Stat(manifest.StarFilePath); err != nil {
		return nil, fmt.Errorf("star file not found: %s", manifest.StarFilePath)
	}

	return &manifest, nil
}

// AppRegistry manages the collection of available tile apps
type AppRegistry struct {
	mu     sync.RWMutex
	apps   map[string]*AppManifest
	logger *zap.Logger
}

// NewAppRegistry creates a new app registry
func NewAppRegistry(logger *zap.Logger) *AppRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AppRegistry{
		apps:   make(map[string]*AppManifest),
		logger: logger,
	}
}

// LoadApps scans the apps directory and replaces the loaded manifests
func (r *AppRegistry) LoadApps(appsDir string) error {
	// Structure: {appsDir}/{app_id}/manifest.yaml
	entries, err := os.ReadDir(appsDir)
	if err != nil {
		return fmt.Errorf("failed to read apps directory: %w", err)
	}

	apps := make(map[string]*AppManifest)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		appDir := filepath.Join(appsDir, entry.Name())
		manifest, err := LoadManifest(appDir)
		if err != nil {
			// Log error but continue loading other apps
			r.logger.Warn("Skipping app",
				zap.String("dir", appDir),
				zap.Error(err))
			continue
		}
		apps[manifest.ID] = manifest
	}

	r.mu.Lock()
	r.apps = apps
	r.mu.Unlock()

	r.logger.Info("Loaded tile apps",
		zap.String("path", appsDir),
		zap.Int("count", len(apps)))
	return nil
}

// GetApp returns an app by ID
func (r *AppRegistry) GetApp(id string) (*AppManifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	app, exists := r.apps[id]
	return app, exists
}

// GetAllApps returns all loaded apps
func (r *AppRegistry) GetAllApps() map[string]*AppManifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	// Return a copy to prevent external modification
	result := make(map[string]*AppManifest, len(r.apps))
	for k, v := range r.apps {
		result[k] = v
	}
	return result
}

// GetAppsList returns all app manifests sorted by ID
func (r *AppRegistry) GetAppsList() []*AppManifest {
	r.mu.RLock()
	apps := make([]*AppManifest, 0, len(r.apps))
	for _, app := range r.apps {
		apps = append(apps, app)
	}
	r.mu.RUnlock()
	sort.Slice(apps, func(i, j int) bool { return apps[i].ID < apps[j].ID })
	return apps
}
