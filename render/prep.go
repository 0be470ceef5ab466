package render

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"muepub/css"
)

// Prep streams a chapter through the cascade and the font resolver. It
// walks the markup itself (rather than consuming pre-built tokens) because
// styling needs the element context: classes, inline styles and ancestor
// computed styles.
type Prep struct {
	cascade   *css.Cascade
	resolver  *FontResolver
	cssParser *css.Parser
	trace     TraceSink
	log       *zap.Logger
}

// PrepOption customizes a Prep.
type PrepOption func(*Prep)

// WithTrace installs a trace sink; the default is NopTrace.
func WithTrace(sink TraceSink) PrepOption {
	return func(p *Prep) {
		if sink != nil {
			p.trace = sink
		}
	}
}

// WithLogger installs a logger.
func WithLogger(log *zap.Logger) PrepOption {
	return func(p *Prep) {
		if log != nil {
			p.log = log
		}
	}
}

// NewPrep creates a render-prep stage over a cascade and a font resolver.
func NewPrep(cascade *css.Cascade, resolver *FontResolver, opts ...PrepOption) *Prep {
	p := &Prep{
		cascade:  cascade,
		resolver: resolver,
		trace:    NopTrace{},
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.Named("render-prep")
	p.cssParser = css.NewParser(p.log)
	return p
}

var prepSkipped = map[string]bool{
	"script": true, "style": true, "head": true, "nav": true,
	"header": true, "footer": true, "aside": true, "noscript": true,
}

type prepFrame struct {
	tag      string
	computed css.ComputedStyle
	role     BlockRole
	matched  []string
	inline   bool
}

// PrepareChapter streams styled items for one chapter document.
func (p *Prep) PrepareChapter(data []byte, emit func(Item) error) error {
	return p.PrepareChapterWithCancel(data, nil, emit)
}

// PrepareChapterWithCancel is PrepareChapter with a cancellation token
// polled at outer block boundaries.
func (p *Prep) PrepareChapterWithCancel(data []byte, cancel *CancelToken, emit func(Item) error) error {
	z := html.NewTokenizer(bytes.NewReader(data))

	root := prepFrame{
		tag:      "body",
		computed: p.cascade.Resolve("body", nil, nil, nil),
		role:     BlockRole{Kind: BlockInline},
	}
	stack := []prepFrame{root}
	skipDepth := 0
	pendingBreak := false
	emitted := false
	var pos uint32    // running input position
	var offset uint32 // offset of the token being processed
	listDepth := 0
	var listOrdinals []int
	var listOrdered []bool

	flushBreak := func() error {
		if !pendingBreak {
			return nil
		}
		pendingBreak = false
		if !emitted {
			return nil
		}
		if cancel.IsCancelled() {
			return ErrCancelled
		}
		return emit(Item{Kind: ItemParagraphBreak, Offset: offset})
	}

	for {
		tt := z.Next()
		offset = pos
		pos += uint32(len(z.Raw()))

		switch tt {
		case html.ErrorToken:
			err := z.Err()
			if errors.Is(err, io.EOF) {
				return nil
			}
			perr := newError("PrepTokenize", fmt.Sprintf("markup error: %s", err))
			perr.TokenOffset = int(offset)
			perr.Err = err
			return perr

		case html.TextToken:
			if skipDepth > 0 {
				break
			}
			text := z.Text()
			top := &stack[len(stack)-1]
			if err := p.emitText(text, top, offset, flushBreak, emit, &emitted); err != nil {
				return err
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			name, attrs := prepTagAndAttrs(z)
			if prepSkipped[name] {
				if tt == html.StartTagToken && !prepVoid(name) {
					skipDepth++
				}
				break
			}
			if skipDepth > 0 {
				break
			}
			selfClosing := tt == html.SelfClosingTagToken || prepVoid(name)

			switch name {
			case "br":
				if err := flushBreak(); err != nil {
					return err
				}
				if err := emit(Item{Kind: ItemLineBreak, Offset: offset}); err != nil {
					return err
				}
				continue
			case "img":
				if err := flushBreak(); err != nil {
					return err
				}
				if src := attrs["src"]; src != "" {
					if err := emit(Item{Kind: ItemImage, Src: src, Alt: attrs["alt"], Offset: offset}); err != nil {
						return err
					}
					emitted = true
				}
				if selfClosing {
					continue
				}
			}

			frame, events, err := p.openFrame(name, attrs, &stack[len(stack)-1], &listDepth, &listOrdinals, &listOrdered, offset)
			if err != nil {
				return err
			}
			if frame.role.Kind != BlockInline || events != 0 {
				if err := flushBreak(); err != nil {
					return err
				}
			}
			switch events {
			case openListStart:
				ordered := listOrdered[len(listOrdered)-1]
				if err := emit(Item{Kind: ItemListStart, Ordered: ordered, Offset: offset}); err != nil {
					return err
				}
			case openListItem:
				if err := emit(Item{Kind: ItemListItemStart, Offset: offset}); err != nil {
					return err
				}
			}
			if selfClosing {
				if err := p.closeFrame(&frame, &listDepth, &listOrdinals, &listOrdered, &pendingBreak, emit, offset); err != nil {
					return err
				}
				continue
			}
			if len(stack) >= 256 {
				perr := newError("PrepDepth", "element stack limit exceeded")
				perr.TokenOffset = int(offset)
				return perr
			}
			stack = append(stack, frame)

		case html.EndTagToken:
			name, _ := prepTagAndAttrs(z)
			if prepSkipped[name] {
				if skipDepth > 0 {
					skipDepth--
				}
				break
			}
			if skipDepth > 0 {
				break
			}
			if len(stack) > 1 {
				frame := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if err := p.closeFrame(&frame, &listDepth, &listOrdinals, &listOrdered, &pendingBreak, emit, offset); err != nil {
					return err
				}
			}
		}
	}
}

type openEvent uint8

const (
	openNone openEvent = iota
	openListStart
	openListItem
)

func (p *Prep) openFrame(name string, attrs map[string]string, parent *prepFrame, listDepth *int, listOrdinals *[]int, listOrdered *[]bool, offset uint32) (prepFrame, openEvent, error) {
	classes := splitClasses(attrs["class"])
	var inline *css.Style
	hasInline := false
	if raw, ok := attrs["style"]; ok && raw != "" {
		parsed, warnings := p.cssParser.ParseInline(raw)
		for _, w := range warnings {
			p.log.Debug("Inline style warning", zap.String("element", name), zap.String("warning", w))
		}
		inline = &parsed
		hasInline = true
	}

	declared := p.cascade.Declared(name, classes, inline)
	role := parent.role
	events := openNone

	switch name {
	case "p", "div", "blockquote", "section", "article", "figure", "pre":
		role = BlockRole{Kind: BlockParagraph}
	case "h1", "h2", "h3", "h4", "h5", "h6":
		role = BlockRole{Kind: BlockHeading, Level: name[1] - '0'}
		// Heading bold is a property of the heading block only; an explicit
		// declaration still wins.
		if declared.FontWeight == nil {
			w := css.WeightBold
			declared.FontWeight = &w
		}
	case "ul", "ol":
		*listDepth++
		*listOrdinals = append(*listOrdinals, 0)
		*listOrdered = append(*listOrdered, name == "ol")
		events = openListStart
	case "li":
		if n := len(*listOrdinals); n > 0 {
			(*listOrdinals)[n-1]++
			role = BlockRole{Kind: BlockListItem, Depth: *listDepth, Ordinal: (*listOrdinals)[n-1]}
		} else {
			role = BlockRole{Kind: BlockListItem, Depth: 1, Ordinal: 1}
		}
		events = openListItem
	case "em", "i":
		s := css.StyleItalic
		declared.FontStyle = &s
	case "strong", "b":
		w := css.WeightBold
		declared.FontWeight = &w
	}
	if name == "pre" && declared.WhiteSpace == nil {
		pre := true
		declared.WhiteSpace = &pre
	}

	computed := p.cascade.Compute(&declared, &parent.computed)
	return prepFrame{
		tag:      name,
		computed: computed,
		role:     role,
		matched:  p.cascade.Matched(name, classes),
		inline:   hasInline,
	}, events, nil
}

func (p *Prep) closeFrame(frame *prepFrame, listDepth *int, listOrdinals *[]int, listOrdered *[]bool, pendingBreak *bool, emit func(Item) error, offset uint32) error {
	switch frame.tag {
	case "p", "div", "blockquote", "section", "article", "figure", "pre",
		"h1", "h2", "h3", "h4", "h5", "h6":
		*pendingBreak = true
	case "ul", "ol":
		if *listDepth > 0 {
			*listDepth--
			*listOrdinals = (*listOrdinals)[:len(*listOrdinals)-1]
			*listOrdered = (*listOrdered)[:len(*listOrdered)-1]
		}
		if err := emit(Item{Kind: ItemListEnd, Offset: offset}); err != nil {
			return err
		}
		if *listDepth == 0 {
			*pendingBreak = true
		}
	case "li":
		return emit(Item{Kind: ItemListItemEnd, Offset: offset})
	}
	return nil
}

// emitText collapses whitespace (unless the computed style preserves it),
// splits soft hyphens into SoftBreak items and emits styled runs.
func (p *Prep) emitText(text []byte, frame *prepFrame, offset uint32, flushBreak func() error, emit func(Item) error, emitted *bool) error {
	if frame.computed.PreserveWS {
		if len(text) == 0 {
			return nil
		}
		if err := flushBreak(); err != nil {
			return err
		}
		*emitted = true
		return p.emitRun(string(text), frame, offset, emit)
	}

	rest := text
	for len(rest) > 0 {
		seg := rest
		soft := false
		if idx := bytes.Index(rest, softHyphenUTF8); idx >= 0 {
			seg = rest[:idx]
			rest = rest[idx+len(softHyphenUTF8):]
			soft = true
		} else {
			rest = nil
		}
		collapsed := collapseWhitespace(seg)
		if collapsed != "" {
			if err := flushBreak(); err != nil {
				return err
			}
			*emitted = true
			if err := p.emitRun(collapsed, frame, offset, emit); err != nil {
				return err
			}
		}
		if soft {
			if err := emit(Item{Kind: ItemSoftBreak, Offset: offset}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Prep) emitRun(text string, frame *prepFrame, offset uint32, emit func(Item) error) error {
	run := StyledRun{
		Text:        text,
		Style:       frame.computed,
		Role:        frame.role,
		TokenOffset: offset,
	}
	trace := p.resolver.ResolveWithTrace(
		[]string{frame.computed.FontFamily},
		int(frame.computed.FontWeight),
		frame.computed.FontStyle == css.StyleItalic,
		text,
	)
	run.FontID = trace.Resolution.FontID
	run.ResolvedFamily = trace.Resolution.Family

	p.trace.FontTrace(&run, &trace)
	styleCtx := StyleTrace{MatchedSelectors: frame.matched, InlineApplied: frame.inline}
	p.trace.StyleContext(&run, &styleCtx)

	return emit(Item{Kind: ItemRun, Run: run, Offset: offset})
}

var softHyphenUTF8 = []byte{0xC2, 0xAD}

func collapseWhitespace(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	prevSpace := true
	for _, c := range b {
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' {
			if !prevSpace {
				sb.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		sb.WriteByte(c)
		prevSpace = false
	}
	s := sb.String()
	return strings.TrimSuffix(s, " ")
}

func splitClasses(attr string) []string {
	if attr == "" {
		return nil
	}
	return strings.Fields(attr)
}

func prepTagAndAttrs(z *html.Tokenizer) (string, map[string]string) {
	nameBytes, hasAttr := z.TagName()
	name := string(nameBytes)
	if i := strings.LastIndexByte(name, ':'); i >= 0 {
		name = name[i+1:]
	}
	var attrs map[string]string
	for hasAttr {
		var k, v []byte
		k, v, hasAttr = z.TagAttr()
		if attrs == nil {
			attrs = make(map[string]string, 4)
		}
		attrs[string(k)] = string(v)
	}
	return name, attrs
}

func prepVoid(name string) bool {
	switch name {
	case "br", "img", "hr", "meta", "link", "input", "wbr":
		return true
	}
	return false
}
