package css

// Defaults supplies the initial values the cascade bottoms out on.
type Defaults struct {
	BaseFontSizePx float32
	FontFamily     string
	LineHeight     LineHeight
}

// StandardDefaults mirrors common reader defaults.
func StandardDefaults() Defaults {
	return Defaults{
		BaseFontSizePx: 16,
		FontFamily:     "serif",
		LineHeight:     LineHeight{Value: 1.4, Kind: LineHeightMultiplier},
	}
}

// Cascade resolves computed styles from an ordered stylesheet list.
//
// Precedence, low to high: initial < inherited < tag < .class < tag.class <
// inline. Within one specificity bucket, later declarations win (stylesheet
// order, then rule order).
type Cascade struct {
	sheets   []*Stylesheet
	defaults Defaults
}

// NewCascade builds a cascade over stylesheets in document order.
func NewCascade(defaults Defaults, sheets ...*Stylesheet) *Cascade {
	return &Cascade{sheets: sheets, defaults: defaults}
}

// Declared merges every declaration applying to the element, honoring
// specificity buckets. The result still has Em lengths unresolved.
func (c *Cascade) Declared(tag string, classes []string, inline *Style) Style {
	var merged Style
	// Three passes keep buckets ordered without sorting rule lists.
	for _, spec := range [...]int{1, 2, 3} {
		for _, sheet := range c.sheets {
			for i := range sheet.Rules {
				r := &sheet.Rules[i]
				if r.Selector.Specificity() != spec {
					continue
				}
				if r.Selector.Matches(tag, classes) {
					merged.Merge(&r.Style)
				}
			}
		}
	}
	merged.Merge(inline)
	return merged
}

// Compute resolves the declared style against the parent computed style.
// Inheritable properties (font, alignment, line height, whitespace mode)
// fall back to the parent; margins do not inherit. Em font sizes resolve
// against the parent size here.
func (c *Cascade) Compute(declared *Style, parent *ComputedStyle) ComputedStyle {
	base := c.initial()
	if parent != nil {
		base.FontSizePx = parent.FontSizePx
		base.FontFamily = parent.FontFamily
		base.FontWeight = parent.FontWeight
		base.FontStyle = parent.FontStyle
		base.TextAlign = parent.TextAlign
		base.LineHeight = parent.LineHeight
		base.PreserveWS = parent.PreserveWS
	}
	base.MarginTop = 0
	base.MarginBottom = 0

	if declared == nil {
		return base
	}
	if declared.FontSize != nil {
		switch declared.FontSize.Unit {
		case UnitPx:
			base.FontSizePx = declared.FontSize.Value
		case UnitEm:
			parentSize := c.defaults.BaseFontSizePx
			if parent != nil {
				parentSize = parent.FontSizePx
			}
			base.FontSizePx = declared.FontSize.Value * parentSize
		}
	}
	if declared.FontFamily != "" {
		base.FontFamily = declared.FontFamily
	}
	if declared.FontWeight != nil {
		base.FontWeight = *declared.FontWeight
	}
	if declared.FontStyle != nil {
		base.FontStyle = *declared.FontStyle
	}
	if declared.TextAlign != nil {
		base.TextAlign = *declared.TextAlign
	}
	if declared.LineHeight != nil {
		base.LineHeight = *declared.LineHeight
	}
	if declared.MarginTop != nil {
		base.MarginTop = *declared.MarginTop
	}
	if declared.MarginBottom != nil {
		base.MarginBottom = *declared.MarginBottom
	}
	if declared.WhiteSpace != nil {
		base.PreserveWS = *declared.WhiteSpace
	}
	return base
}

// Matched lists the selectors that apply to an element, in application
// order. Used by diagnostic traces.
func (c *Cascade) Matched(tag string, classes []string) []string {
	var out []string
	for _, spec := range [...]int{1, 2, 3} {
		for _, sheet := range c.sheets {
			for i := range sheet.Rules {
				r := &sheet.Rules[i]
				if r.Selector.Specificity() == spec && r.Selector.Matches(tag, classes) {
					out = append(out, r.Selector.String())
				}
			}
		}
	}
	return out
}

// Resolve is Declared followed by Compute.
func (c *Cascade) Resolve(tag string, classes []string, inline *Style, parent *ComputedStyle) ComputedStyle {
	declared := c.Declared(tag, classes, inline)
	return c.Compute(&declared, parent)
}

func (c *Cascade) initial() ComputedStyle {
	return ComputedStyle{
		FontSizePx: c.defaults.BaseFontSizePx,
		FontFamily: c.defaults.FontFamily,
		FontWeight: WeightNormal,
		FontStyle:  StyleNormal,
		TextAlign:  AlignLeft,
		LineHeight: c.defaults.LineHeight,
	}
}
