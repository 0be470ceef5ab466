// Package css implements the stylesheet subset used for EPUB text rendering:
// tag, class and tag.class selectors plus inline style attributes, cascaded
// into computed styles for the layout pipeline.
package css

// LengthUnit discriminates Length values.
type LengthUnit uint8

const (
	// UnitPx is an absolute pixel length.
	UnitPx LengthUnit = iota
	// UnitEm is relative to the parent font size, resolved at cascade time.
	UnitEm
)

// Length is a font-size style value.
type Length struct {
	Value float32
	Unit  LengthUnit
}

// Px builds an absolute length.
func Px(v float32) Length { return Length{Value: v, Unit: UnitPx} }

// Em builds a parent-relative length.
func Em(v float32) Length { return Length{Value: v, Unit: UnitEm} }

// LineHeightKind discriminates LineHeight values.
type LineHeightKind uint8

const (
	// LineHeightMultiplier scales the font size (bare numbers in CSS).
	LineHeightMultiplier LineHeightKind = iota
	// LineHeightPx is an absolute height.
	LineHeightPx
)

// LineHeight is a line-height style value. A bare CSS number is always a
// multiplier: "line-height: 1.5" at 20px text means 30px, never 1.5px.
type LineHeight struct {
	Value float32
	Kind  LineHeightKind
}

// ResolvePx returns the effective line height in pixels for a font size.
func (lh LineHeight) ResolvePx(fontSizePx float32) float32 {
	if lh.Kind == LineHeightPx {
		return lh.Value
	}
	return lh.Value * fontSizePx
}

// FontWeight is a numeric CSS weight. Keyword values map to the canonical
// numbers; 700 and above count as bold.
type FontWeight uint16

const (
	WeightNormal FontWeight = 400
	WeightBold   FontWeight = 700
)

// Bold reports whether the weight renders bold.
func (w FontWeight) Bold() bool { return w >= 700 }

// FontStyle is the slant of the face.
type FontStyle uint8

const (
	StyleNormal FontStyle = iota
	StyleItalic
)

// TextAlign is the horizontal alignment of a block.
type TextAlign uint8

const (
	AlignLeft TextAlign = iota
	AlignCenter
	AlignRight
	AlignJustify
)

// Style holds declared properties. Nil pointers mean "not specified" so the
// cascade can distinguish absent declarations from explicit values.
type Style struct {
	FontSize     *Length
	FontFamily   string
	FontWeight   *FontWeight
	FontStyle    *FontStyle
	TextAlign    *TextAlign
	LineHeight   *LineHeight
	MarginTop    *float32
	MarginBottom *float32
	WhiteSpace   *bool // true when white-space: pre
}

// IsEmpty reports whether no property is set.
func (s *Style) IsEmpty() bool {
	return s.FontSize == nil && s.FontFamily == "" && s.FontWeight == nil &&
		s.FontStyle == nil && s.TextAlign == nil && s.LineHeight == nil &&
		s.MarginTop == nil && s.MarginBottom == nil && s.WhiteSpace == nil
}

// Merge overlays other on top of s; set properties of other win.
func (s *Style) Merge(other *Style) {
	if other == nil {
		return
	}
	if other.FontSize != nil {
		s.FontSize = other.FontSize
	}
	if other.FontFamily != "" {
		s.FontFamily = other.FontFamily
	}
	if other.FontWeight != nil {
		s.FontWeight = other.FontWeight
	}
	if other.FontStyle != nil {
		s.FontStyle = other.FontStyle
	}
	if other.TextAlign != nil {
		s.TextAlign = other.TextAlign
	}
	if other.LineHeight != nil {
		s.LineHeight = other.LineHeight
	}
	if other.MarginTop != nil {
		s.MarginTop = other.MarginTop
	}
	if other.MarginBottom != nil {
		s.MarginBottom = other.MarginBottom
	}
	if other.WhiteSpace != nil {
		s.WhiteSpace = other.WhiteSpace
	}
}

// ComputedStyle is a fully resolved style with every field concrete.
type ComputedStyle struct {
	FontSizePx   float32
	FontFamily   string
	FontWeight   FontWeight
	FontStyle    FontStyle
	TextAlign    TextAlign
	LineHeight   LineHeight
	MarginTop    float32
	MarginBottom float32
	PreserveWS   bool
}

// LineHeightPx resolves the effective line height against the computed size.
func (c *ComputedStyle) LineHeightPx() float32 {
	return c.LineHeight.ResolvePx(c.FontSizePx)
}

// Selector is a simple selector: tag, .class, or tag.class.
type Selector struct {
	Tag   string
	Class string
}

// Matches reports whether the selector applies to an element.
func (sel Selector) Matches(tag string, classes []string) bool {
	if sel.Tag != "" && sel.Tag != tag {
		return false
	}
	if sel.Class != "" {
		for _, c := range classes {
			if c == sel.Class {
				return true
			}
		}
		return false
	}
	return sel.Tag != ""
}

// Specificity orders selectors for the cascade: tag < .class < tag.class.
// Inline styles sit above all of these and are handled by the cascade
// directly.
func (sel Selector) Specificity() int {
	switch {
	case sel.Tag != "" && sel.Class != "":
		return 3
	case sel.Class != "":
		return 2
	case sel.Tag != "":
		return 1
	default:
		return 0
	}
}

func (sel Selector) String() string {
	if sel.Class == "" {
		return sel.Tag
	}
	return sel.Tag + "." + sel.Class
}

// Rule pairs a selector with its declarations. Index is the document-order
// position used to break specificity ties (later wins).
type Rule struct {
	Selector Selector
	Style    Style
	Index    int
}

// Stylesheet is a parsed sheet. Warnings collect skipped constructs.
type Stylesheet struct {
	Rules    []Rule
	Warnings []string
}

// RulesBySelector returns rules whose selector renders as the given string.
func (s *Stylesheet) RulesBySelector(sel string) []Rule {
	var out []Rule
	for _, r := range s.Rules {
		if r.Selector.String() == sel {
			out = append(out, r)
		}
	}
	return out
}
