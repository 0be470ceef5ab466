// Package layout turns styled run streams into paginated draw commands.
// The engine is a greedy line breaker: it holds at most one page of lines
// plus the word being assembled, never the chapter.
package layout

import (
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/zeebo/blake3"
)

// ProfileID identifies an equivalence class of layout-affecting
// configuration. Persisted page references are only valid while the profile
// they were produced under matches the current one.
type ProfileID [32]byte

func (p ProfileID) String() string { return hex.EncodeToString(p[:]) }

// TypographyConfig drives paragraph-level typography decisions. All fields
// participate in the pagination profile.
type TypographyConfig struct {
	// FirstLineIndentPx indents the first line of each paragraph.
	FirstLineIndentPx float32
	// SuppressIndentAfterHeading disables the indent for the paragraph
	// immediately following a heading.
	SuppressIndentAfterHeading bool
	// WidowLines is the minimum number of paragraph lines carried onto a
	// new page when a paragraph is split. Zero disables the control.
	WidowLines int
	// OrphanLines is the minimum number of paragraph lines kept at the
	// bottom of a page when a paragraph starts there. Zero disables.
	OrphanLines int
	// HangingPunctuation shifts leading punctuation into the margin.
	HangingPunctuation bool
	// ParagraphSpacingPx separates blocks that declare no margins.
	ParagraphSpacingPx float32
}

// Config holds every input that affects pagination, plus the streaming
// chunk size (which does not).
type Config struct {
	ViewportWidth  float32
	ViewportHeight float32
	MarginLeft     float32
	MarginRight    float32
	MarginTop      float32
	MarginBottom   float32
	HeaderHeight   float32
	FooterHeight   float32
	BaseFontSizePx float32
	FontFamilies   []string
	RenderIntent   string
	Typography     TypographyConfig

	// ChunkSize is the streaming read granularity; it never affects the
	// produced pages and is excluded from the profile.
	ChunkSize int
}

// DefaultConfig mirrors a 480x800 e-ink reader panel.
func DefaultConfig() Config {
	return Config{
		ViewportWidth:  480,
		ViewportHeight: 800,
		MarginLeft:     32,
		MarginRight:    32,
		MarginTop:      0,
		MarginBottom:   0,
		HeaderHeight:   45,
		FooterHeight:   40,
		BaseFontSizePx: 16,
		FontFamilies:   []string{"serif"},
		RenderIntent:   "eink",
		Typography: TypographyConfig{
			FirstLineIndentPx:          0,
			SuppressIndentAfterHeading: true,
			WidowLines:                 2,
			OrphanLines:                2,
			ParagraphSpacingPx:         8,
		},
		ChunkSize: 4096,
	}
}

// ContentWidth is the horizontal space available to text.
func (c *Config) ContentWidth() float32 {
	return c.ViewportWidth - c.MarginLeft - c.MarginRight
}

// ContentHeight is the vertical space available to text.
func (c *Config) ContentHeight() float32 {
	return c.ViewportHeight - c.MarginTop - c.MarginBottom - c.HeaderHeight - c.FooterHeight
}

// ProfileID hashes every layout-affecting field. Two configurations share
// a profile iff those fields are equal.
func (c *Config) ProfileID() ProfileID {
	h := blake3.New()
	w := func(v float32) {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		_, _ = h.Write(buf[:])
	}
	ws := func(s string) {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(len(s)))
		_, _ = h.Write(buf[:])
		_, _ = h.Write([]byte(s))
	}
	wb := func(b bool) {
		if b {
			_, _ = h.Write([]byte{1})
		} else {
			_, _ = h.Write([]byte{0})
		}
	}
	wi := func(n int) {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(int64(n)))
		_, _ = h.Write(buf[:])
	}

	ws("muepub-pagination-profile-v1")
	w(c.ViewportWidth)
	w(c.ViewportHeight)
	w(c.MarginLeft)
	w(c.MarginRight)
	w(c.MarginTop)
	w(c.MarginBottom)
	w(c.HeaderHeight)
	w(c.FooterHeight)
	w(c.BaseFontSizePx)
	wi(len(c.FontFamilies))
	for _, f := range c.FontFamilies {
		ws(f)
	}
	ws(c.RenderIntent)
	w(c.Typography.FirstLineIndentPx)
	wb(c.Typography.SuppressIndentAfterHeading)
	wi(c.Typography.WidowLines)
	wi(c.Typography.OrphanLines)
	wb(c.Typography.HangingPunctuation)
	w(c.Typography.ParagraphSpacingPx)

	var id ProfileID
	sum := h.Sum(nil)
	copy(id[:], sum)
	return id
}
