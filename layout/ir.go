package layout

import "muepub/css"

// DrawCmdKind discriminates draw commands.
type DrawCmdKind uint8

const (
	// CmdText draws a run of glyphs at X, Y using FontID and SizePx.
	CmdText DrawCmdKind = iota + 1
	// CmdRule draws a horizontal rule of Width at X, Y.
	CmdRule
)

// DrawCmd is one deterministic, backend-agnostic drawing instruction. The
// engine resolves justification and alignment into explicit coordinates:
// backends must never redistribute spacing, and must never re-resolve
// FontID from weight or style.
type DrawCmd struct {
	Kind   DrawCmdKind
	X      float32
	Y      float32
	Width  float32 // CmdRule
	Text   string  // CmdText
	FontID uint32
	SizePx float32
	Weight css.FontWeight
	Italic bool
}

// OverlayItem is auxiliary non-text content anchored on the page.
type OverlayItem struct {
	Kind string // "image"
	Src  string
	Alt  string
	X    float32
	Y    float32
}

// Anchor ties a page location back to a chapter token offset so reading
// positions survive reflows.
type Anchor struct {
	TokenOffset uint32
	X           float32
	Y           float32
}

// PageMetrics describes where a page sits within the chapter and the book.
// Counts that are not yet known hold -1 (GlobalPageIndex,
// GlobalPageCountEstimate) or 0 (ChapterPageCount before the chapter is
// fully paginated).
type PageMetrics struct {
	ChapterIndex            int
	ChapterPageIndex        int
	ChapterPageCount        int
	GlobalPageIndex         int
	GlobalPageCountEstimate int
	ProgressChapter         float32
	ProgressBook            float32
}

// Page is one fully laid out page.
type Page struct {
	Content []DrawCmd
	Chrome  []DrawCmd
	Overlay []OverlayItem
	Anchors []Anchor
	Metrics PageMetrics
}

// TextSpan is a styled fragment of a line. Exposed for consumers that want
// line-structured output instead of raw draw commands.
type TextSpan struct {
	Text   string
	Style  css.ComputedStyle
	FontID uint32
}
