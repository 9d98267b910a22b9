package models

import (
	"fmt"
	"os"
	"sort"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/koios/inkboard/internal/raster"
)

// Component types
const (
	ComponentHAEvent  = "ha_event"
	ComponentTimer    = "timer"
	ComponentNotebook = "notebook"
)

// DefaultRefreshInterval applies to timer tiles without refresh_interval (seconds)
const DefaultRefreshInterval = 600

// Layout is the dashboard layout file
type Layout struct {
	UISettings UISettings                 `yaml:"ui_settings"`
	Locale     Locale                     `yaml:"locale"`
	Entities   map[string]EntityConfig    `yaml:"entities"`
	Components map[string]ComponentConfig `yaml:"components"`
}

// UISettings holds grid and startup options
type UISettings struct {
	BlockSize    int  `yaml:"block_size"`
	ClearAtStart bool `yaml:"clear_at_start"`
}

// Locale holds the display timezone
type Locale struct {
	Timezone string `yaml:"timezone"`
}

// EntityConfig describes how a Home Assistant entity is shown
type EntityConfig struct {
	Name string `yaml:"name"`
	// AbnormalStates are states drawn inverted; defaults to "unavailable"
	AbnormalStates StringList `yaml:"state_abnormal_str"`
	// StateNames maps raw states to display text
	StateNames map[string]string `yaml:"state_str_name_mapping"`
}

// ComponentConfig is one tile
type ComponentConfig struct {
	Type            string            `yaml:"type"`
	App             string            `yaml:"app"`
	EntityID        string            `yaml:"entity_id"`
	Position        [2]int            `yaml:"position"`
	Size            [2]int            `yaml:"size"`
	Mono            bool              `yaml:"mono"`
	Format          string            `yaml:"format"`
	RefreshInterval int               `yaml:"refresh_interval"`
	SunsetForecast  bool              `yaml:"sunset_forecast"`
	HistoryEntities []string          `yaml:"history_entities"`
	Params          map[string]string `yaml:"params"`
}

// StringList accepts either a YAML scalar or a sequence of scalars
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler
func (s *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*s = StringList{value.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*s = list
		return nil
	default:
		return fmt.Errorf("line %d: expected string or list of strings", value.Line)
	}
}

// LoadLayout reads and validates a layout file
func LoadLayout(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read layout file: %w", err)
	}
	return ParseLayout(data)
}

// ParseLayout decodes and validates layout YAML
func ParseLayout(data []byte) (*Layout, error) {
	var layout Layout
	if err := yaml.Unmarshal(data, &layout); err != nil {
		return nil, fmt.Errorf("failed to parse layout file: %w", err)
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	return &layout, nil
}

// Validate checks every component and the locale
func (l *Layout) Validate() error {
	if l.UISettings.BlockSize <= 0 {
		return fmt.Errorf("ui_settings.block_size must be positive, got %d", l.UISettings.BlockSize)
	}
	if l.Locale.Timezone != "" {
		if _, err := time.LoadLocation(l.Locale.Timezone); err != nil {
			return fmt.Errorf("locale.timezone: %w", err)
		}
	}
	if len(l.Components) == 0 {
		return fmt.Errorf("layout has no components")
	}
	for _, name := range l.ComponentNames() {
		if err := l.Components[name].validate(); err != nil {
			return fmt.Errorf("component %q: %w", name, err)
		}
	}
	return nil
}

func (c ComponentConfig) validate() error {
	switch c.Type {
	case ComponentHAEvent:
		if c.EntityID == "" {
			return fmt.Errorf("ha_event component requires entity_id")
		}
	case ComponentTimer, ComponentNotebook:
	default:
		return fmt.Errorf("unknown component type %q", c.Type)
	}
	if c.App == "" {
		return fmt.Errorf("app is required")
	}
	if c.Position[0] < 0 || c.Position[1] < 0 {
		return fmt.Errorf("position must be non-negative, got %v", c.Position)
	}
	if c.Size[0] <= 0 || c.Size[1] <= 0 {
		return fmt.Errorf("size must be positive, got %v", c.Size)
	}
	if c.RefreshInterval < 0 {
		return fmt.Errorf("refresh_interval must be non-negative, got %d", c.RefreshInterval)
	}
	format, err := raster.ParseFormat(c.Format)
	if err != nil {
		return err
	}
	if format == raster.Mono1 && !c.Mono {
		return fmt.Errorf("format 8ppB requires mono: true")
	}
	return nil
}

// ComponentNames returns component names in stable order
func (l *Layout) ComponentNames() []string {
	names := make([]string, 0, len(l.Components))
	for name := range l.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Location returns the layout timezone, UTC when unset
func (l *Layout) Location() *time.Location {
	if l.Locale.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(l.Locale.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Entity returns the display config for an entity, with defaults applied
func (l *Layout) Entity(entityID string) EntityConfig {
	cfg := l.Entities[entityID]
	if cfg.Name == "" {
		cfg.Name = entityID
	}
	if cfg.AbnormalStates == nil {
		cfg.AbnormalStates = StringList{"unavailable"}
	}
	return cfg
}

// IsNormal reports whether state is not one of the abnormal states
func (e EntityConfig) IsNormal(state string) bool {
	for _, s := range e.AbnormalStates {
		if s == state {
			return false
		}
	}
	return true
}

// StateName maps a raw state to its display text
func (e EntityConfig) StateName(state string) string {
	if name, ok := e.StateNames[state]; ok {
		return name
	}
	return state
}

// Rect returns the component's pixel rectangle for the given block size
func (c ComponentConfig) Rect(blockSize int) (x, y, w, h int) {
	return c.Position[0] * blockSize, c.Position[1] * blockSize, c.Size[0] * blockSize, c.Size[1] * blockSize
}

// PixelFormat returns the parsed wire format, Gray4 when unset
func (c ComponentConfig) PixelFormat() raster.Format {
	f, err := raster.ParseFormat(c.Format)
	if err != nil {
		return raster.Gray4
	}
	return f
}

// Interval returns the timer refresh interval
func (c ComponentConfig) Interval() time.Duration {
	if c.RefreshInterval <= 0 {
		return DefaultRefreshInterval * time.Second
	}
	return time.Duration(c.RefreshInterval) * time.Second
}
