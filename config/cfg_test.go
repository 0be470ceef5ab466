package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"muepub/config"
)

func TestLoadConfigurationDefaults(t *testing.T) {
	cfg, err := config.LoadConfiguration("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Version != 1 {
		t.Errorf("version = %d", cfg.Version)
	}
	if cfg.Reader.ChunkSize != 4096 {
		t.Errorf("chunk size = %d", cfg.Reader.ChunkSize)
	}
	if cfg.Reader.Viewport.Width != 480 || cfg.Reader.Viewport.Height != 800 {
		t.Errorf("viewport = %+v", cfg.Reader.Viewport)
	}
	if cfg.Reader.Typography.BaseFontSize != 16 {
		t.Errorf("base font size = %v", cfg.Reader.Typography.BaseFontSize)
	}
	if len(cfg.Reader.Typography.FontFamilies) == 0 {
		t.Error("no default font families")
	}
}

func TestLayoutConversion(t *testing.T) {
	cfg, err := config.LoadConfiguration("")
	if err != nil {
		t.Fatal(err)
	}
	lc := cfg.Layout()
	if lc.ViewportWidth != cfg.Reader.Viewport.Width {
		t.Errorf("viewport width lost: %v", lc.ViewportWidth)
	}
	if lc.Typography.WidowLines != cfg.Reader.Typography.WidowLines {
		t.Errorf("widow lines lost: %v", lc.Typography.WidowLines)
	}
	// Conversion must be deterministic so the pagination profile is stable.
	if cfg.Layout().ProfileID() != lc.ProfileID() {
		t.Error("layout conversion not deterministic")
	}
}

func TestZipLimitsConversion(t *testing.T) {
	cfg, err := config.LoadConfiguration("")
	if err != nil {
		t.Fatal(err)
	}
	limits := cfg.ZipLimits()
	if limits.MaxEntries != cfg.Reader.Zip.MaxEntries {
		t.Errorf("max entries = %d", limits.MaxEntries)
	}
}

func TestLoadConfigurationOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	override := `
reader:
  typography:
    base_font_size: 20
`
	if err := os.WriteFile(path, []byte(override), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.LoadConfiguration(path)
	if err != nil {
		t.Fatalf("load override: %v", err)
	}
	if cfg.Reader.Typography.BaseFontSize != 20 {
		t.Errorf("override lost: %v", cfg.Reader.Typography.BaseFontSize)
	}
	// Untouched defaults survive.
	if cfg.Reader.ChunkSize != 4096 {
		t.Errorf("default lost: %d", cfg.Reader.ChunkSize)
	}
}
