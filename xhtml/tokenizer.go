// Package xhtml converts XHTML chapter bytes into a compact semantic token
// stream for styling and layout. The tokenizer is a single pull pass over
// the document; text tokens borrow from a caller-provided scratch buffer so
// the pass performs no per-token allocation.
package xhtml

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// TokenKind discriminates Token variants.
type TokenKind uint8

const (
	TokenText TokenKind = iota + 1
	TokenParagraphBreak
	TokenHeading
	TokenEmphasis
	TokenStrong
	TokenLineBreak
	TokenSoftBreak
	TokenListStart
	TokenListItemStart
	TokenListItemEnd
	TokenListEnd
	TokenLinkStart
	TokenLinkEnd
	TokenImage
)

// Token is one semantic event. Text references the scratch buffer of the
// Tokenize call that produced it and is only valid until the scratch is
// reused.
type Token struct {
	Kind    TokenKind
	Text    []byte // TokenText
	Level   uint8  // TokenHeading: 1..6
	On      bool   // TokenEmphasis / TokenStrong
	Ordered bool   // TokenListStart
	Href    string // TokenLinkStart
	Src     string // TokenImage
	Alt     string // TokenImage
	Offset  uint32 // byte offset of the originating markup in the input
}

func (t Token) String() string {
	switch t.Kind {
	case TokenText:
		return fmt.Sprintf("Text(%q)", t.Text)
	case TokenParagraphBreak:
		return "ParagraphBreak"
	case TokenHeading:
		return fmt.Sprintf("Heading(%d)", t.Level)
	case TokenEmphasis:
		return fmt.Sprintf("Emphasis(%v)", t.On)
	case TokenStrong:
		return fmt.Sprintf("Strong(%v)", t.On)
	case TokenLineBreak:
		return "LineBreak"
	case TokenSoftBreak:
		return "SoftBreak"
	case TokenListStart:
		return fmt.Sprintf("ListStart(ordered=%v)", t.Ordered)
	case TokenListItemStart:
		return "ListItemStart"
	case TokenListItemEnd:
		return "ListItemEnd"
	case TokenListEnd:
		return "ListEnd"
	case TokenLinkStart:
		return fmt.Sprintf("LinkStart(%q)", t.Href)
	case TokenLinkEnd:
		return "LinkEnd"
	case TokenImage:
		return fmt.Sprintf("Image(%q, %q)", t.Src, t.Alt)
	default:
		return "Unknown"
	}
}

// MaxElementDepth bounds the explicit element stack.
const MaxElementDepth = 256

// ErrElementStack reports element nesting beyond MaxElementDepth.
var ErrElementStack = errors.New("element stack limit exceeded")

// ErrParse reports malformed markup the tokenizer cannot recover from.
var ErrParse = errors.New("xhtml parse failed")

type elemKind uint8

const (
	elemGeneric elemKind = iota
	elemParagraph
	elemHeading
	elemEmphasis
	elemStrong
	elemList
	elemListItem
	elemLink
	elemPre
)

type elemFrame struct {
	kind    elemKind
	level   uint8
	ordered bool
}

// Scratch holds the reusable buffers of a tokenize pass. Both buffers are
// cleared (capacity preserved) on entry to Tokenize.
type Scratch struct {
	// TextBuf backs every Text token of the pass.
	TextBuf []byte
	// XMLBuf stages raw markup for callers that assemble chapter bytes in
	// chunks before tokenizing.
	XMLBuf []byte

	stack []elemFrame
}

// Clear resets the buffers, preserving capacity.
func (s *Scratch) Clear() {
	s.TextBuf = s.TextBuf[:0]
	s.XMLBuf = s.XMLBuf[:0]
	s.stack = s.stack[:0]
}

// Depth returns the current element nesting depth.
func (s *Scratch) Depth() int { return len(s.stack) }

func (s *Scratch) push(f elemFrame) error {
	if len(s.stack) >= MaxElementDepth {
		return ErrElementStack
	}
	s.stack = append(s.stack, f)
	return nil
}

func (s *Scratch) pop() (elemFrame, bool) {
	if len(s.stack) == 0 {
		return elemFrame{}, false
	}
	f := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return f, true
}

func (s *Scratch) inPre() bool {
	for _, f := range s.stack {
		if f.kind == elemPre {
			return true
		}
	}
	return false
}

// skippedElements are removed together with their subtrees.
var skippedElements = map[string]bool{
	"script": true, "style": true, "head": true, "nav": true,
	"header": true, "footer": true, "aside": true, "noscript": true,
}

type tokenizeState struct {
	tokens         *[]Token
	scratch        *Scratch
	offset         uint32
	pendingBreak   bool
	pendingHeading uint8
}

// flushPending emits a queued Heading or ParagraphBreak before new content.
// Breaks only separate blocks: nothing is emitted at the very start and a
// trailing break is never produced.
func (st *tokenizeState) flushPending() {
	if st.pendingHeading != 0 {
		*st.tokens = append(*st.tokens, Token{Kind: TokenHeading, Level: st.pendingHeading, Offset: st.offset})
		st.pendingHeading = 0
		st.pendingBreak = false
		return
	}
	if st.pendingBreak && len(*st.tokens) > 0 {
		*st.tokens = append(*st.tokens, Token{Kind: TokenParagraphBreak, Offset: st.offset})
	}
	st.pendingBreak = false
}

// Tokenize parses data and appends semantic tokens to *tokens. Both tokens
// and scratch are cleared at entry; capacity is preserved so repeated calls
// on the same buffers do not allocate.
func Tokenize(data []byte, tokens *[]Token, scratch *Scratch, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("xhtml")

	*tokens = (*tokens)[:0]
	scratch.Clear()
	// Decoded text is never longer than the input; reserving up front keeps
	// every Text slice valid for the whole pass.
	if cap(scratch.TextBuf) < len(data) {
		scratch.TextBuf = make([]byte, 0, len(data))
	}

	z := html.NewTokenizer(bytes.NewReader(data))
	st := &tokenizeState{tokens: tokens, scratch: scratch}
	skipDepth := 0

	for {
		tt := z.Next()
		rawLen := len(z.Raw())

		switch tt {
		case html.ErrorToken:
			err := z.Err()
			if errors.Is(err, io.EOF) {
				for {
					f, ok := scratch.pop()
					if !ok {
						break
					}
					appendCloser(tokens, f)
				}
				if st.pendingHeading != 0 {
					*tokens = append(*tokens, Token{Kind: TokenHeading, Level: st.pendingHeading, Offset: st.offset})
				}
				return nil
			}
			return fmt.Errorf("%w: %s", ErrParse, err)

		case html.TextToken:
			if skipDepth > 0 {
				break
			}
			text := z.Text()
			if scratch.inPre() {
				if len(text) > 0 {
					st.flushPending()
					appendText(tokens, scratch, text, st.offset)
				}
				break
			}
			emitCollapsedText(st, text)

		case html.StartTagToken, html.SelfClosingTagToken:
			name, attrs := tagAndAttrs(z)
			if skippedElements[name] {
				if tt == html.StartTagToken && !isVoidElement(name) {
					skipDepth++
				}
				break
			}
			if skipDepth > 0 {
				break
			}
			selfClosing := tt == html.SelfClosingTagToken || isVoidElement(name)
			if err := handleOpen(st, name, attrs, selfClosing); err != nil {
				log.Debug("Tokenize failed", zap.String("element", name), zap.Error(err))
				return err
			}

		case html.EndTagToken:
			name, _ := tagAndAttrs(z)
			if skippedElements[name] {
				if skipDepth > 0 {
					skipDepth--
				}
				break
			}
			if skipDepth > 0 {
				break
			}
			f, ok := scratch.pop()
			if !ok {
				break
			}
			switch f.kind {
			case elemParagraph, elemPre:
				st.pendingBreak = true
			case elemHeading:
				if st.pendingHeading != 0 {
					// Heading closed without content.
					*tokens = append(*tokens, Token{Kind: TokenHeading, Level: st.pendingHeading, Offset: st.offset})
					st.pendingHeading = 0
				}
				st.pendingBreak = true
			default:
				appendCloser(tokens, f)
			}

		case html.CommentToken, html.DoctypeToken:
			// Ignored.
		}

		st.offset += uint32(rawLen)
	}
}

func handleOpen(st *tokenizeState, name string, attrs map[string]string, selfClosing bool) error {
	tokens, scratch := st.tokens, st.scratch
	switch name {
	case "p", "div", "blockquote", "section", "article", "figure":
		st.flushPending()
		if selfClosing {
			st.pendingBreak = true
			return nil
		}
		return scratch.push(elemFrame{kind: elemParagraph})
	case "pre":
		st.flushPending()
		if selfClosing {
			st.pendingBreak = true
			return nil
		}
		return scratch.push(elemFrame{kind: elemPre})
	case "h1", "h2", "h3", "h4", "h5", "h6":
		st.flushPending()
		level := name[1] - '0'
		if selfClosing {
			*tokens = append(*tokens, Token{Kind: TokenHeading, Level: level, Offset: st.offset})
			st.pendingBreak = true
			return nil
		}
		st.pendingHeading = level
		return scratch.push(elemFrame{kind: elemHeading, level: level})
	case "em", "i":
		st.flushPending()
		if selfClosing {
			return nil
		}
		*tokens = append(*tokens, Token{Kind: TokenEmphasis, On: true, Offset: st.offset})
		return scratch.push(elemFrame{kind: elemEmphasis})
	case "strong", "b":
		st.flushPending()
		if selfClosing {
			return nil
		}
		*tokens = append(*tokens, Token{Kind: TokenStrong, On: true, Offset: st.offset})
		return scratch.push(elemFrame{kind: elemStrong})
	case "ul", "ol":
		st.flushPending()
		ordered := name == "ol"
		if selfClosing {
			*tokens = append(*tokens,
				Token{Kind: TokenListStart, Ordered: ordered, Offset: st.offset},
				Token{Kind: TokenListEnd, Offset: st.offset})
			return nil
		}
		*tokens = append(*tokens, Token{Kind: TokenListStart, Ordered: ordered, Offset: st.offset})
		return scratch.push(elemFrame{kind: elemList, ordered: ordered})
	case "li":
		st.flushPending()
		if selfClosing {
			return nil
		}
		*tokens = append(*tokens, Token{Kind: TokenListItemStart, Offset: st.offset})
		return scratch.push(elemFrame{kind: elemListItem})
	case "a":
		st.flushPending()
		if selfClosing {
			return nil
		}
		href := attrs["href"]
		if href == "" {
			// Anchors without href are transparent containers.
			return scratch.push(elemFrame{kind: elemGeneric})
		}
		*tokens = append(*tokens, Token{Kind: TokenLinkStart, Href: href, Offset: st.offset})
		return scratch.push(elemFrame{kind: elemLink})
	case "br":
		st.flushPending()
		*tokens = append(*tokens, Token{Kind: TokenLineBreak, Offset: st.offset})
		return nil
	case "img":
		st.flushPending()
		if src := attrs["src"]; src != "" {
			*tokens = append(*tokens, Token{Kind: TokenImage, Src: src, Alt: attrs["alt"], Offset: st.offset})
		}
		if selfClosing {
			return nil
		}
		return scratch.push(elemFrame{kind: elemGeneric})
	default:
		if selfClosing {
			return nil
		}
		return scratch.push(elemFrame{kind: elemGeneric})
	}
}

func appendCloser(tokens *[]Token, f elemFrame) {
	switch f.kind {
	case elemEmphasis:
		*tokens = append(*tokens, Token{Kind: TokenEmphasis, On: false})
	case elemStrong:
		*tokens = append(*tokens, Token{Kind: TokenStrong, On: false})
	case elemList:
		*tokens = append(*tokens, Token{Kind: TokenListEnd})
	case elemListItem:
		*tokens = append(*tokens, Token{Kind: TokenListItemEnd})
	case elemLink:
		*tokens = append(*tokens, Token{Kind: TokenLinkEnd})
	}
}

// softHyphen is U+00AD encoded as UTF-8.
var softHyphen = []byte{0xC2, 0xAD}

// emitCollapsedText normalizes whitespace and splits on soft hyphens, which
// become SoftBreak tokens recognized by the layout engine.
func emitCollapsedText(st *tokenizeState, text []byte) {
	for len(text) > 0 {
		seg := text
		softBreak := false
		if idx := bytes.Index(text, softHyphen); idx >= 0 {
			seg = text[:idx]
			text = text[idx+len(softHyphen):]
			softBreak = true
		} else {
			text = nil
		}
		if collapsed := appendCollapsed(st.scratch, seg); len(collapsed) > 0 {
			st.flushPending()
			*st.tokens = append(*st.tokens, Token{Kind: TokenText, Text: collapsed, Offset: st.offset})
		}
		if softBreak {
			*st.tokens = append(*st.tokens, Token{Kind: TokenSoftBreak, Offset: st.offset})
		}
	}
}

func appendText(tokens *[]Token, scratch *Scratch, text []byte, offset uint32) {
	start := len(scratch.TextBuf)
	scratch.TextBuf = append(scratch.TextBuf, text...)
	*tokens = append(*tokens, Token{Kind: TokenText, Text: scratch.TextBuf[start:len(scratch.TextBuf):len(scratch.TextBuf)], Offset: offset})
}

// appendCollapsed writes text with whitespace runs collapsed to single
// spaces and outer whitespace trimmed, returning the stored slice.
func appendCollapsed(scratch *Scratch, text []byte) []byte {
	start := len(scratch.TextBuf)
	prevSpace := true
	for _, b := range text {
		if isSpace(b) {
			if !prevSpace {
				scratch.TextBuf = append(scratch.TextBuf, ' ')
				prevSpace = true
			}
			continue
		}
		scratch.TextBuf = append(scratch.TextBuf, b)
		prevSpace = false
	}
	if len(scratch.TextBuf) > start && scratch.TextBuf[len(scratch.TextBuf)-1] == ' ' {
		scratch.TextBuf = scratch.TextBuf[:len(scratch.TextBuf)-1]
	}
	return scratch.TextBuf[start:len(scratch.TextBuf):len(scratch.TextBuf)]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f'
}

func tagAndAttrs(z *html.Tokenizer) (string, map[string]string) {
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

// isVoidElement lists HTML void elements relevant to EPUB content.
func isVoidElement(name string) bool {
	switch name {
	case "br", "img", "hr", "meta", "link", "input", "wbr":
		return true
	}
	return false
}
