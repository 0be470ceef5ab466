package layout_test

import (
	"testing"

	"muepub/layout"
)

func TestProfileStableForEqualConfigs(t *testing.T) {
	a := layout.DefaultConfig()
	b := layout.DefaultConfig()
	if a.ProfileID() != b.ProfileID() {
		t.Error("equal configs must share a profile")
	}
}

func TestProfileChangesWithLayoutInputs(t *testing.T) {
	base := layout.DefaultConfig()
	baseID := base.ProfileID()

	mutations := map[string]func(*layout.Config){
		"viewport width":  func(c *layout.Config) { c.ViewportWidth = 600 },
		"viewport height": func(c *layout.Config) { c.ViewportHeight = 900 },
		"margin":          func(c *layout.Config) { c.MarginLeft = 16 },
		"base font size":  func(c *layout.Config) { c.BaseFontSizePx = 18 },
		"font families":   func(c *layout.Config) { c.FontFamilies = []string{"sans-serif"} },
		"render intent":   func(c *layout.Config) { c.RenderIntent = "lcd" },
		"indent":          func(c *layout.Config) { c.Typography.FirstLineIndentPx = 12 },
		"widows":          func(c *layout.Config) { c.Typography.WidowLines = 3 },
		"hanging punct":   func(c *layout.Config) { c.Typography.HangingPunctuation = true },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cfg := layout.DefaultConfig()
			mutate(&cfg)
			if cfg.ProfileID() == baseID {
				t.Errorf("%s change did not alter the profile", name)
			}
		})
	}
}

func TestProfileIgnoresChunkSize(t *testing.T) {
	a := layout.DefaultConfig()
	b := layout.DefaultConfig()
	b.ChunkSize = 16 * 1024
	if a.ProfileID() != b.ProfileID() {
		t.Error("chunk size must not affect pagination profile")
	}
}

func TestFamilyListNotAmbiguous(t *testing.T) {
	a := layout.DefaultConfig()
	a.FontFamilies = []string{"ab", "c"}
	b := layout.DefaultConfig()
	b.FontFamilies = []string{"a", "bc"}
	if a.ProfileID() == b.ProfileID() {
		t.Error("family list hashing is ambiguous")
	}
}
