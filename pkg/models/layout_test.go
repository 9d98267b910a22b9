package models

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/koios/inkboard/internal/raster"
)

const testLayout = `
ui_settings:
  block_size: 56
  clear_at_start: true
locale:
  timezone: America/Los_Angeles
entities:
  light.desk:
    name: Desk lamp
    state_abnormal_str: [unavailable, unknown]
    state_str_name_mapping:
      "on": Lit
  sensor.door:
    state_abnormal_str: open
components:
  desk:
    type: ha_event
    app: entity-card
    entity_id: light.desk
    position: [0, 0]
    size: [4, 2]
  sunset:
    type: timer
    app: sunset
    position: [4, 0]
    size: [6, 3]
    mono: true
    format: 8ppB
    refresh_interval: 900
    sunset_forecast: true
    history_entities: [sensor.outside]
  note:
    type: notebook
    app: notebook
    position: [0, 3]
    size: [4, 2]
    params:
      text: hello
`

func TestParseLayout(t *testing.T) {
	layout, err := ParseLayout([]byte(testLayout))
	if err != nil {
		t.Fatalf("ParseLayout: %v", err)
	}

	if got := layout.ComponentNames(); strings.Join(got, ",") != "desk,note,sunset" {
		t.Errorf("ComponentNames() = %v", got)
	}
	if !layout.UISettings.ClearAtStart {
		t.Error("ClearAtStart = false, want true")
	}
	if layout.Location().String() != "America/Los_Angeles" {
		t.Errorf("Location() = %v", layout.Location())
	}

	sunset := layout.Components["sunset"]
	x, y, w, h := sunset.Rect(layout.UISettings.BlockSize)
	if x != 224 || y != 0 || w != 336 || h != 168 {
		t.Errorf("Rect() = %d,%d %dx%d, want 224,0 336x168", x, y, w, h)
	}
	if sunset.PixelFormat() != raster.Mono1 {
		t.Errorf("PixelFormat() = %v, want 8ppB", sunset.PixelFormat())
	}
	if sunset.Interval() != 900*time.Second {
		t.Errorf("Interval() = %v, want 15m", sunset.Interval())
	}
	if layout.Components["note"].Interval() != DefaultRefreshInterval*time.Second {
		t.Error("Interval() should default when unset")
	}
	if layout.Components["note"].Params["text"] != "hello" {
		t.Error("params not decoded")
	}
}

func TestLayout_Entity(t *testing.T) {
	layout, err := ParseLayout([]byte(testLayout))
	if err != nil {
		t.Fatalf("ParseLayout: %v", err)
	}

	desk := layout.Entity("light.desk")
	if desk.Name != "Desk lamp" {
		t.Errorf("Name = %q", desk.Name)
	}
	if desk.IsNormal("unknown") {
		t.Error("unknown should be abnormal")
	}
	if desk.StateName("on") != "Lit" || desk.StateName("off") != "off" {
		t.Errorf("StateName mapping wrong: %q %q", desk.StateName("on"), desk.StateName("off"))
	}

	door := layout.Entity("sensor.door")
	if door.IsNormal("open") || !door.IsNormal("unavailable") {
		t.Error("scalar state_abnormal_str should replace the default")
	}

	unknown := layout.Entity("switch.other")
	if unknown.Name != "switch.other" {
		t.Errorf("Name = %q, want entity id", unknown.Name)
	}
	if unknown.IsNormal("unavailable") {
		t.Error("unavailable should be abnormal by default")
	}
}

func TestLayout_ValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Layout)
		wantErr string
	}{
		{"zero block size", func(l *Layout) { l.UISettings.BlockSize = 0 }, "block_size"},
		{"bad timezone", func(l *Layout) { l.Locale.Timezone = "Mars/Olympus" }, "timezone"},
		{"unknown type", func(l *Layout) { setComponent(l, "desk", func(c *ComponentConfig) { c.Type = "clock" }) }, "unknown component type"},
		{"missing entity", func(l *Layout) { setComponent(l, "desk", func(c *ComponentConfig) { c.EntityID = "" }) }, "entity_id"},
		{"missing app", func(l *Layout) { setComponent(l, "note", func(c *ComponentConfig) { c.App = "" }) }, "app is required"},
		{"zero size", func(l *Layout) { setComponent(l, "note", func(c *ComponentConfig) { c.Size = [2]int{0, 2} }) }, "size"},
		{"bad format", func(l *Layout) { setComponent(l, "note", func(c *ComponentConfig) { c.Format = "3ppB" }) }, "pixel format"},
		{"mono1 without mono", func(l *Layout) { setComponent(l, "sunset", func(c *ComponentConfig) { c.Mono = false }) }, "requires mono"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			layout, err := ParseLayout([]byte(testLayout))
			if err != nil {
				t.Fatalf("ParseLayout: %v", err)
			}
			tt.mutate(layout)
			err = layout.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func setComponent(l *Layout, name string, fn func(*ComponentConfig)) {
	c := l.Components[name]
	fn(&c)
	l.Components[name] = c
}

func TestLoadLayout_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.yaml")
	if err := os.WriteFile(path, []byte(testLayout), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadLayout(path); err != nil {
		t.Fatalf("LoadLayout: %v", err)
	}

	if _, err := LoadLayout(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestEntityState_AttributesJSON(t *testing.T) {
	var nilState *EntityState
	if got := nilState.AttributesJSON(); got != "{}" {
		t.Errorf("nil AttributesJSON() = %q", got)
	}
	s := &EntityState{Attributes: map[string]interface{}{"unit": "°C"}}
	if got := s.AttributesJSON(); got != `{"unit":"°C"}` {
		t.Errorf("AttributesJSON() = %q", got)
	}
}
