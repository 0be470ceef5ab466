package css

import (
	"bytes"
	"strconv"
	"strings"

	parse "github.com/tdewolff/parse/v2"
	cssparse "github.com/tdewolff/parse/v2/css"
	"go.uber.org/zap"
)

// Parser parses CSS stylesheets and inline style attributes into the
// supported subset. Unsupported selectors and malformed declarations are
// skipped with a warning; parsing never fails on bad input.
type Parser struct {
	log *zap.Logger
}

// NewParser creates a CSS parser.
func NewParser(log *zap.Logger) *Parser {
	if log == nil {
		log = zap.NewNop()
	}
	return &Parser{log: log.Named("css-parser")}
}

// Parse parses CSS text into a Stylesheet. The optional source parameter
// identifies what is being parsed for debug logging.
func (p *Parser) Parse(data []byte, source ...string) *Stylesheet {
	sheet := &Stylesheet{}

	if len(source) > 0 && source[0] != "" {
		p.log.Debug("Parsing CSS", zap.String("source", source[0]), zap.Int("bytes", len(data)))
	}

	input := parse.NewInput(bytes.NewReader(data))
	parser := cssparse.NewParser(input, false)

	for {
		gt, _, data := parser.Next()
		switch gt {
		case cssparse.ErrorGrammar:
			if err := parser.Err(); err != nil && err.Error() != "EOF" {
				p.log.Debug("CSS parse error", zap.Error(err))
			}
			return sheet

		case cssparse.BeginAtRuleGrammar:
			// @media, @font-face and friends are outside the subset.
			p.skipAtRuleBlock(parser)
			sheet.Warnings = append(sheet.Warnings, "skipped at-rule: "+string(data))

		case cssparse.AtRuleGrammar:
			sheet.Warnings = append(sheet.Warnings, "skipped at-rule: "+string(data))

		case cssparse.BeginRulesetGrammar:
			selectors := p.parseSelectors(data, parser.Values(), sheet)
			style := p.parseDeclarations(parser, sheet)
			if style.IsEmpty() {
				continue
			}
			for _, sel := range selectors {
				sheet.Rules = append(sheet.Rules, Rule{
					Selector: sel,
					Style:    style,
					Index:    len(sheet.Rules),
				})
			}
		}
	}
}

// ParseInline parses a style attribute value ("font-weight: bold; ...").
func (p *Parser) ParseInline(attr string) (Style, []string) {
	var style Style
	var warnings []string
	input := parse.NewInput(strings.NewReader(attr))
	parser := cssparse.NewParser(input, true)
	for {
		gt, _, data := parser.Next()
		switch gt {
		case cssparse.ErrorGrammar:
			return style, warnings
		case cssparse.DeclarationGrammar:
			prop := strings.ToLower(string(data))
			value := joinTokens(parser.Values())
			if !applyDeclaration(&style, prop, value) {
				warnings = append(warnings, "skipped declaration: "+prop)
			}
		}
	}
}

// parseSelectors splits grouped selector data and keeps the supported ones.
func (p *Parser) parseSelectors(data []byte, values []cssparse.Token, sheet *Stylesheet) []Selector {
	var sb strings.Builder
	sb.Write(data)
	for _, v := range values {
		sb.Write(v.Data)
	}

	var out []Selector
	for _, raw := range strings.Split(sb.String(), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		sel, ok := parseSimpleSelector(raw)
		if !ok {
			sheet.Warnings = append(sheet.Warnings, "unsupported selector: "+raw)
			p.log.Debug("Skipping unsupported selector", zap.String("selector", raw))
			continue
		}
		out = append(out, sel)
	}
	return out
}

// parseSimpleSelector accepts tag, .class and tag.class only.
func parseSimpleSelector(raw string) (Selector, bool) {
	if strings.ContainsAny(raw, " \t\n+~>[]():*#") {
		return Selector{}, false
	}
	if class, ok := strings.CutPrefix(raw, "."); ok {
		if class == "" || strings.Contains(class, ".") {
			return Selector{}, false
		}
		return Selector{Class: class}, true
	}
	if tag, class, found := strings.Cut(raw, "."); found {
		if tag == "" || class == "" || strings.Contains(class, ".") {
			return Selector{}, false
		}
		return Selector{Tag: strings.ToLower(tag), Class: class}, true
	}
	return Selector{Tag: strings.ToLower(raw)}, true
}

// parseDeclarations consumes declarations until the end of the ruleset.
func (p *Parser) parseDeclarations(parser *cssparse.Parser, sheet *Stylesheet) Style {
	var style Style
	for {
		gt, _, data := parser.Next()
		switch gt {
		case cssparse.ErrorGrammar, cssparse.EndRulesetGrammar:
			return style
		case cssparse.DeclarationGrammar:
			prop := strings.ToLower(string(data))
			value := joinTokens(parser.Values())
			if !applyDeclaration(&style, prop, value) {
				sheet.Warnings = append(sheet.Warnings, "skipped declaration: "+prop)
			}
		case cssparse.CustomPropertyGrammar:
			continue
		}
	}
}

func (p *Parser) skipAtRuleBlock(parser *cssparse.Parser) {
	depth := 1
	for depth > 0 {
		gt, _, _ := parser.Next()
		switch gt {
		case cssparse.ErrorGrammar:
			return
		case cssparse.BeginAtRuleGrammar, cssparse.BeginRulesetGrammar:
			depth++
		case cssparse.EndAtRuleGrammar, cssparse.EndRulesetGrammar:
			depth--
		}
	}
}

// joinTokens renders value tokens back into a single trimmed string.
func joinTokens(tokens []cssparse.Token) string {
	var sb strings.Builder
	for _, t := range tokens {
		if t.TokenType == cssparse.WhitespaceToken {
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			continue
		}
		sb.Write(t.Data)
	}
	return strings.TrimSpace(sb.String())
}

// applyDeclaration maps a property/value pair into the style. It returns
// false when the value is malformed or outside the subset; such declarations
// are skipped, never fatal.
func applyDeclaration(style *Style, prop, value string) bool {
	if value == "" {
		return false
	}
	switch prop {
	case "font-size":
		l, ok := parseLength(value)
		if !ok {
			return false
		}
		style.FontSize = &l
	case "font-family":
		fam := unquote(firstFamily(value))
		if fam == "" {
			return false
		}
		style.FontFamily = fam
	case "font-weight":
		w, ok := parseWeight(value)
		if !ok {
			return false
		}
		style.FontWeight = &w
	case "font-style":
		var fs FontStyle
		switch strings.ToLower(value) {
		case "italic", "oblique":
			fs = StyleItalic
		case "normal":
			fs = StyleNormal
		default:
			return false
		}
		style.FontStyle = &fs
	case "text-align":
		var ta TextAlign
		switch strings.ToLower(value) {
		case "left":
			ta = AlignLeft
		case "center":
			ta = AlignCenter
		case "right":
			ta = AlignRight
		case "justify":
			ta = AlignJustify
		default:
			return false
		}
		style.TextAlign = &ta
	case "line-height":
		lh, ok := parseLineHeight(value)
		if !ok {
			return false
		}
		if lh != nil {
			style.LineHeight = lh
		}
	case "margin-top":
		v, ok := parsePx(value)
		if !ok {
			return false
		}
		style.MarginTop = &v
	case "margin-bottom":
		v, ok := parsePx(value)
		if !ok {
			return false
		}
		style.MarginBottom = &v
	case "margin":
		// Shorthand: single value sets top and bottom.
		if strings.ContainsAny(value, " ") {
			return false
		}
		v, ok := parsePx(value)
		if !ok {
			return false
		}
		style.MarginTop = &v
		style.MarginBottom = &v
	case "white-space":
		pre := strings.ToLower(value) == "pre"
		style.WhiteSpace = &pre
	default:
		// Properties outside the subset are ignored silently: color,
		// display and the rest do not affect this pipeline.
		return true
	}
	return true
}

func parseLength(value string) (Length, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	if px, ok := strings.CutSuffix(value, "px"); ok {
		if v, err := strconv.ParseFloat(strings.TrimSpace(px), 32); err == nil {
			return Px(float32(v)), true
		}
		return Length{}, false
	}
	if em, ok := strings.CutSuffix(value, "em"); ok {
		if v, err := strconv.ParseFloat(strings.TrimSpace(em), 32); err == nil {
			return Em(float32(v)), true
		}
		return Length{}, false
	}
	return Length{}, false
}

// parseLineHeight returns (nil, true) for "normal" which means "use default".
func parseLineHeight(value string) (*LineHeight, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "normal" {
		return nil, true
	}
	if px, ok := strings.CutSuffix(value, "px"); ok {
		if v, err := strconv.ParseFloat(strings.TrimSpace(px), 32); err == nil {
			return &LineHeight{Value: float32(v), Kind: LineHeightPx}, true
		}
		return nil, false
	}
	if v, err := strconv.ParseFloat(value, 32); err == nil {
		return &LineHeight{Value: float32(v), Kind: LineHeightMultiplier}, true
	}
	return nil, false
}

func parseWeight(value string) (FontWeight, bool) {
	switch strings.ToLower(value) {
	case "normal":
		return WeightNormal, true
	case "bold", "bolder":
		return WeightBold, true
	case "lighter":
		return 300, true
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 100 || n > 900 {
		return 0, false
	}
	return FontWeight(n), true
}

func parsePx(value string) (float32, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "0" {
		return 0, true
	}
	if px, ok := strings.CutSuffix(value, "px"); ok {
		value = strings.TrimSpace(px)
	}
	v, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return 0, false
	}
	return float32(v), true
}

// firstFamily takes the first entry of a comma-separated family list.
func firstFamily(value string) string {
	first, _, _ := strings.Cut(value, ",")
	return strings.TrimSpace(first)
}

// unquote removes surrounding quotes from a string.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return s
	}
	if (s[0] == '"' && s[len(s)-1] == '"') ||
		(s[0] == '\'' && s[len(s)-1] == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}
