package layout

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"muepub/css"
	"muepub/render"
)

// State is the per-chapter engine lifecycle.
type State uint8

const (
	StateIdle State = iota
	StatePreparing
	StateEmitting
	StateDone
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StateEmitting:
		return "emitting"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrFinished is returned when items are pushed after the engine reached a
// terminal state.
var ErrFinished = errors.New("layout engine already finished")

type wordSeg struct {
	text   string
	style  css.ComputedStyle
	fontID uint32
	offset uint32
	soft   bool // soft break opportunity after this segment
}

type spanBuild struct {
	text   []byte
	style  css.ComputedStyle
	fontID uint32
}

type builtLine struct {
	spans         []TextSpan
	height        float32
	spacingBefore float32
	align         css.TextAlign
	indent        float32
	paraLineIdx   int
	lastOfPara    bool
	anchor        uint32
	overlay       *OverlayItem
}

// Engine is a greedy line breaker and paginator. It consumes styled items
// through PushItem / PushItemWithPages and emits pages incrementally,
// keeping O(lines-per-page) transient state: the current word, the current
// line, the current page, and at most one page held back for widow
// rebalancing.
type Engine struct {
	cfg     Config
	profile ProfileID
	metrics Metrics
	log     *zap.Logger

	state   State
	failure error
	cancel  *render.CancelToken

	chapterIndex int
	chapterCount int
	chapterBytes uint32
	chapterTitle string

	// word assembly
	word     []wordSeg
	glueNext bool

	// line assembly
	spans      []spanBuild
	lineWidth  float32
	lineAnchor uint32
	haveAnchor bool

	// block state
	curStyle      css.ComputedStyle
	haveStyle     bool
	curRole       render.BlockRole
	paraLines     int
	afterHeading  bool
	pendingSpace  float32
	markerPending bool
	orderedStack  []bool

	// page assembly
	pageLines  []builtLine
	usedHeight float32
	pageIndex  int
	held       []builtLine
	pages      []Page

	pendingOverlay *OverlayItem
}

// NewEngine creates a layout engine for one chapter pass.
func NewEngine(cfg Config, metrics Metrics, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if metrics == nil {
		metrics = CellMetrics{}
	}
	return &Engine{
		cfg:          cfg,
		profile:      cfg.ProfileID(),
		metrics:      metrics,
		log:          log.Named("layout"),
		chapterCount: 1,
	}
}

// PaginationProfileID returns the 32-byte profile of this engine's config.
func (e *Engine) PaginationProfileID() ProfileID { return e.profile }

// State returns the current lifecycle state.
func (e *Engine) State() State { return e.state }

// Err returns the failure that moved the engine to StateFailed, if any.
func (e *Engine) Err() error { return e.failure }

// SetCancelToken installs a token polled at page boundaries.
func (e *Engine) SetCancelToken(tok *render.CancelToken) { e.cancel = tok }

// SetChapterContext seeds page metrics. chapterBytes is the chapter source
// length used for progress estimation; zero disables progress.
func (e *Engine) SetChapterContext(index, count, chapterBytes int, title string) {
	e.chapterIndex = index
	if count > 0 {
		e.chapterCount = count
	}
	if chapterBytes > 0 {
		e.chapterBytes = uint32(chapterBytes)
	}
	e.chapterTitle = title
}

// PushItem consumes one styled item; completed pages are collected and can
// be drained with Pages.
func (e *Engine) PushItem(item render.Item) error {
	return e.PushItemWithPages(item, nil)
}

// PushItemWithPages consumes one styled item, delivering completed pages to
// onPage in strict ascending chapter page order. A nil onPage collects.
func (e *Engine) PushItemWithPages(item render.Item, onPage func(*Page) error) error {
	switch e.state {
	case StateDone, StateCancelled, StateFailed:
		return ErrFinished
	case StateIdle:
		e.state = StatePreparing
	}
	if err := e.pushItem(item, e.sink(onPage)); err != nil {
		e.fail(err)
		return err
	}
	return nil
}

// Finish flushes the pending word, line and pages, delivering the final
// partial page if it has content. The engine transitions to Done.
func (e *Engine) Finish(onPage func(*Page) error) error {
	switch e.state {
	case StateDone, StateCancelled, StateFailed:
		return ErrFinished
	}
	sink := e.sink(onPage)
	if err := e.commitWord(sink); err != nil {
		e.fail(err)
		return err
	}
	if err := e.flushLine(sink, true); err != nil {
		e.fail(err)
		return err
	}
	if err := e.drainPages(sink); err != nil {
		e.fail(err)
		return err
	}
	e.state = StateDone
	return nil
}

func (e *Engine) fail(err error) {
	if errors.Is(err, render.ErrCancelled) {
		e.state = StateCancelled
		return
	}
	e.state = StateFailed
	e.failure = err
}

// Pages drains pages collected by PushItem / Finish with a nil sink.
func (e *Engine) Pages() []Page {
	out := e.pages
	e.pages = nil
	return out
}

// ChapterPageCount reports the number of pages emitted so far; after Finish
// it is the chapter total.
func (e *Engine) ChapterPageCount() int { return e.pageIndex }

func (e *Engine) sink(onPage func(*Page) error) func(*Page) error {
	if onPage != nil {
		return onPage
	}
	return func(p *Page) error {
		e.pages = append(e.pages, *p)
		return nil
	}
}

func (e *Engine) pushItem(item render.Item, sink func(*Page) error) error {
	switch item.Kind {
	case render.ItemRun:
		return e.pushRun(&item.Run, sink)

	case render.ItemSoftBreak:
		if len(e.word) > 0 {
			e.word[len(e.word)-1].soft = true
		}
		e.glueNext = true
		return nil

	case render.ItemLineBreak:
		if err := e.commitWord(sink); err != nil {
			return err
		}
		return e.flushLine(sink, false)

	case render.ItemParagraphBreak:
		return e.endBlock(sink)

	case render.ItemListStart:
		if err := e.commitAndFlush(sink); err != nil {
			return err
		}
		e.orderedStack = append(e.orderedStack, item.Ordered)
		return nil

	case render.ItemListEnd:
		if err := e.commitAndFlush(sink); err != nil {
			return err
		}
		if n := len(e.orderedStack); n > 0 {
			e.orderedStack = e.orderedStack[:n-1]
		}
		if len(e.orderedStack) == 0 {
			e.pendingSpace += e.blockGap()
		}
		return nil

	case render.ItemListItemStart:
		if err := e.commitAndFlush(sink); err != nil {
			return err
		}
		e.markerPending = true
		e.paraLines = 0
		return nil

	case render.ItemListItemEnd:
		return e.commitAndFlush(sink)

	case render.ItemImage:
		if err := e.commitAndFlush(sink); err != nil {
			return err
		}
		return e.placeImage(item, sink)

	default:
		return nil
	}
}

func (e *Engine) commitAndFlush(sink func(*Page) error) error {
	if err := e.commitWord(sink); err != nil {
		return err
	}
	return e.flushLine(sink, true)
}

func (e *Engine) pushRun(run *render.StyledRun, sink func(*Page) error) error {
	if !e.haveStyle {
		// Block start: vertical spacing comes from the block's declared
		// margin, or the configured paragraph gap when none is declared.
		gap := run.Style.MarginTop
		if gap == 0 && e.pageHasContent() {
			gap = e.cfg.Typography.ParagraphSpacingPx
		}
		e.pendingSpace += gap
		e.haveStyle = true
	}
	e.curStyle = run.Style
	e.curRole = run.Role

	if e.markerPending && run.Role.Kind == render.BlockListItem {
		if err := e.placeMarker(run, sink); err != nil {
			return err
		}
		e.markerPending = false
	}

	if run.Style.PreserveWS {
		if err := e.commitWord(sink); err != nil {
			return err
		}
		for i, lineText := range strings.Split(run.Text, "\n") {
			if i > 0 {
				if err := e.flushLine(sink, false); err != nil {
					return err
				}
			}
			if lineText != "" {
				e.word = append(e.word, wordSeg{text: lineText, style: run.Style, fontID: run.FontID, offset: run.TokenOffset})
				if err := e.commitWord(sink); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for i, w := range strings.Fields(run.Text) {
		if i == 0 && e.glueNext {
			// Continuation across a soft hyphen: glue to the pending word.
			e.glueNext = false
			e.word = append(e.word, wordSeg{text: w, style: run.Style, fontID: run.FontID, offset: run.TokenOffset})
			continue
		}
		if err := e.commitWord(sink); err != nil {
			return err
		}
		e.word = append(e.word, wordSeg{text: w, style: run.Style, fontID: run.FontID, offset: run.TokenOffset})
	}
	e.glueNext = false
	return nil
}

// endBlock closes the current paragraph and releases any held page.
func (e *Engine) endBlock(sink func(*Page) error) error {
	if err := e.commitWord(sink); err != nil {
		return err
	}
	if err := e.flushLine(sink, true); err != nil {
		return err
	}
	if e.haveStyle {
		e.pendingSpace += e.curStyle.MarginBottom
	}
	if err := e.releaseHeld(sink); err != nil {
		return err
	}
	e.afterHeading = e.curRole.Kind == render.BlockHeading
	e.haveStyle = false
	e.paraLines = 0
	return nil
}

func (e *Engine) blockGap() float32 {
	if e.pageHasContent() {
		return e.cfg.Typography.ParagraphSpacingPx
	}
	return 0
}

func (e *Engine) pageHasContent() bool {
	return len(e.pageLines) > 0 || len(e.spans) > 0 || e.held != nil
}

func (e *Engine) placeMarker(run *render.StyledRun, sink func(*Page) error) error {
	depth := run.Role.Depth
	if depth < 1 {
		depth = 1
	}
	indent := strings.Repeat("  ", depth-1)
	ordered := false
	if len(e.orderedStack) > 0 {
		ordered = e.orderedStack[len(e.orderedStack)-1]
	}
	var marker string
	if ordered {
		marker = fmt.Sprintf("%s%d.", indent, run.Role.Ordinal)
	} else {
		marker = indent + "•"
	}
	style := run.Style
	style.FontWeight = css.WeightNormal
	e.word = append(e.word, wordSeg{text: marker, style: style, fontID: run.FontID, offset: run.TokenOffset})
	return e.commitWord(sink)
}

func (e *Engine) placeImage(item render.Item, sink func(*Page) error) error {
	text := "[Image]"
	if item.Alt != "" {
		text = "[Image: " + item.Alt + "]"
	}
	style := e.curStyle
	if !e.haveStyle {
		style = css.ComputedStyle{
			FontSizePx: e.cfg.BaseFontSizePx,
			LineHeight: css.LineHeight{Value: 1.4, Kind: css.LineHeightMultiplier},
		}
	}
	e.word = append(e.word, wordSeg{text: text, style: style, fontID: 0, offset: item.Offset})
	if err := e.commitWord(sink); err != nil {
		return err
	}
	e.pendingOverlay = &OverlayItem{Kind: "image", Src: item.Src, Alt: item.Alt}
	if err := e.flushLine(sink, true); err != nil {
		return err
	}
	e.pendingSpace += e.blockGap()
	return nil
}

// textWidth measures by Unicode scalar count times the font advance; byte
// length never enters the math.
func (e *Engine) textWidth(text string, fontID uint32, sizePx float32) float32 {
	return float32(utf8.RuneCountInString(text)) * e.metrics.Advance(fontID, sizePx)
}

func (e *Engine) wordWidth(segs []wordSeg) float32 {
	var w float32
	for _, s := range segs {
		w += e.textWidth(s.text, s.fontID, s.style.FontSizePx)
	}
	return w
}

func (e *Engine) commitWord(sink func(*Page) error) error {
	if len(e.word) == 0 {
		return nil
	}
	segs := e.word
	e.word = nil
	return e.placeSegments(segs, sink)
}

// placeSegments implements the greedy break with soft-hyphen support.
// A soft hyphen is invisible unless the break is taken, in which case a
// literal hyphen glyph ends the line.
func (e *Engine) placeSegments(segs []wordSeg, sink func(*Page) error) error {
	for {
		avail := e.availableLineWidth()
		var base float32
		leading := !e.lineEmpty()
		if leading {
			base = e.lineWidth + e.spaceWidth(segs[0])
		}

		if base+e.wordWidth(segs) <= avail {
			e.appendSegments(segs, leading)
			return nil
		}

		// Take the rightmost soft break point whose prefix plus a hyphen
		// fits on the current line.
		hyphenW := e.textWidth("-", segs[len(segs)-1].fontID, segs[len(segs)-1].style.FontSizePx)
		var prefixW float32
		bestSplit := -1
		for i := 0; i < len(segs)-1; i++ {
			prefixW += e.textWidth(segs[i].text, segs[i].fontID, segs[i].style.FontSizePx)
			if segs[i].soft && base+prefixW+hyphenW <= avail {
				bestSplit = i
			}
		}
		if bestSplit >= 0 {
			e.appendSegments(segs[:bestSplit+1], leading)
			h := segs[bestSplit]
			e.appendSegments([]wordSeg{{text: "-", style: h.style, fontID: h.fontID, offset: h.offset}}, false)
			if err := e.flushLine(sink, false); err != nil {
				return err
			}
			segs = segs[bestSplit+1:]
			continue
		}

		if leading {
			// Move to a fresh line and try again.
			if err := e.flushLine(sink, false); err != nil {
				return err
			}
			continue
		}

		// Empty line and no split fits: the word is placed over-wide.
		// Greedy breaking never loses content.
		e.appendSegments(segs, false)
		return nil
	}
}

func (e *Engine) availableLineWidth() float32 {
	w := e.cfg.ContentWidth()
	if e.indentActive() {
		w -= e.cfg.Typography.FirstLineIndentPx
	}
	return w
}

func (e *Engine) indentActive() bool {
	if e.paraLines != 0 || e.curRole.Kind != render.BlockParagraph {
		return false
	}
	if e.cfg.Typography.FirstLineIndentPx <= 0 {
		return false
	}
	if e.afterHeading && e.cfg.Typography.SuppressIndentAfterHeading {
		return false
	}
	return true
}

func (e *Engine) lineEmpty() bool {
	for i := range e.spans {
		if len(e.spans[i].text) > 0 {
			return false
		}
	}
	return true
}

func (e *Engine) spaceWidth(seg wordSeg) float32 {
	return e.metrics.Advance(seg.fontID, seg.style.FontSizePx)
}

func (e *Engine) appendSegments(segs []wordSeg, leadingSpace bool) {
	if len(segs) == 0 {
		return
	}
	if !e.haveAnchor {
		e.lineAnchor = segs[0].offset
		e.haveAnchor = true
	}
	if leadingSpace {
		last := &e.spans[len(e.spans)-1]
		last.text = append(last.text, ' ')
		e.lineWidth += e.metrics.Advance(last.fontID, last.style.FontSizePx)
	}
	for _, s := range segs {
		if n := len(e.spans); n > 0 && e.spans[n-1].fontID == s.fontID && e.spans[n-1].style == s.style {
			e.spans[n-1].text = append(e.spans[n-1].text, s.text...)
		} else {
			e.spans = append(e.spans, spanBuild{text: []byte(s.text), style: s.style, fontID: s.fontID})
		}
		e.lineWidth += e.textWidth(s.text, s.fontID, s.style.FontSizePx)
	}
}

// flushLine closes the current line and adds it to the page, closing the
// page first when the line does not fit.
func (e *Engine) flushLine(sink func(*Page) error, lastOfPara bool) error {
	if e.lineEmpty() {
		e.spans = e.spans[:0]
		e.lineWidth = 0
		e.haveAnchor = false
		return nil
	}

	spans := make([]TextSpan, 0, len(e.spans))
	var height float32
	for i := range e.spans {
		sp := TextSpan{Text: string(e.spans[i].text), Style: e.spans[i].style, FontID: e.spans[i].fontID}
		spans = append(spans, sp)
		if h := sp.Style.LineHeightPx(); h > height {
			height = h
		}
	}
	if height == 0 {
		height = e.cfg.BaseFontSizePx * 1.4
	}

	indent := float32(0)
	if e.indentActive() {
		indent = e.cfg.Typography.FirstLineIndentPx
	}

	line := builtLine{
		spans:         spans,
		height:        height,
		spacingBefore: e.pendingSpace,
		align:         spans[0].Style.TextAlign,
		indent:        indent,
		paraLineIdx:   e.paraLines,
		lastOfPara:    lastOfPara,
		anchor:        e.lineAnchor,
		overlay:       e.pendingOverlay,
	}
	e.pendingOverlay = nil
	e.pendingSpace = 0
	e.spans = e.spans[:0]
	e.lineWidth = 0
	e.haveAnchor = false

	// Orphan control: a paragraph must open with room for OrphanLines
	// lines, otherwise it starts on the next page.
	orphans := e.cfg.Typography.OrphanLines
	if line.paraLineIdx == 0 && orphans > 1 && len(e.pageLines) > 0 {
		if e.usedHeight+line.spacingBefore+height*float32(orphans) > e.cfg.ContentHeight() {
			if err := e.closePage(sink, false); err != nil {
				return err
			}
			line.spacingBefore = 0
		}
	}

	if len(e.pageLines) > 0 && e.usedHeight+line.spacingBefore+height > e.cfg.ContentHeight() {
		if err := e.closePage(sink, line.paraLineIdx > 0); err != nil {
			return err
		}
		line.spacingBefore = 0
	}

	e.pageLines = append(e.pageLines, line)
	e.usedHeight += line.spacingBefore + line.height
	e.paraLines++
	return nil
}

// countTrailingPara counts the trailing lines that belong to the paragraph
// the last line of the slice is part of.
func countTrailingPara(lines []builtLine) int {
	n := 0
	for i := len(lines) - 1; i >= 0; i-- {
		n++
		if lines[i].paraLineIdx == 0 {
			break
		}
	}
	return n
}

// closePage finishes the current page. A page split mid-paragraph is held
// back until the paragraph ends so widow control can rebalance lines; at
// most one page is ever held, keeping memory bounded by the page size.
func (e *Engine) closePage(sink func(*Page) error, midPara bool) error {
	lines := e.pageLines
	e.pageLines = nil
	e.usedHeight = 0

	if e.held != nil {
		if err := e.emitLines(e.held, sink, false); err != nil {
			return err
		}
		e.held = nil
	}
	if midPara && e.cfg.Typography.WidowLines > 1 {
		e.held = lines
		return nil
	}
	return e.emitLines(lines, sink, false)
}

// releaseHeld rebalances and emits a page held across a paragraph split.
func (e *Engine) releaseHeld(sink func(*Page) error) error {
	if e.held == nil {
		return nil
	}
	widows := e.cfg.Typography.WidowLines
	carry := countTrailingPara(e.pageLines)
	if carry < widows {
		need := widows - carry
		tail := countTrailingPara(e.held)
		keep := e.cfg.Typography.OrphanLines
		if keep < 1 {
			keep = 1
		}
		movable := tail - keep
		if movable > need {
			movable = need
		}
		if movable > 0 && len(e.held) > movable {
			moved := make([]builtLine, movable)
			copy(moved, e.held[len(e.held)-movable:])
			e.held = e.held[:len(e.held)-movable]
			moved[0].spacingBefore = 0
			var movedH float32
			for i := range moved {
				movedH += moved[i].spacingBefore + moved[i].height
			}
			e.pageLines = append(moved, e.pageLines...)
			e.usedHeight += movedH
		}
	}
	err := e.emitLines(e.held, sink, false)
	e.held = nil
	return err
}

// drainPages emits the held page and the final partial page.
func (e *Engine) drainPages(sink func(*Page) error) error {
	if e.held != nil {
		if err := e.emitLines(e.held, sink, false); err != nil {
			return err
		}
		e.held = nil
	}
	if len(e.pageLines) > 0 {
		lines := e.pageLines
		e.pageLines = nil
		e.usedHeight = 0
		if err := e.emitLines(lines, sink, true); err != nil {
			return err
		}
	}
	return nil
}

// emitLines assembles a page and delivers it. The cancel token is polled
// here, at the page boundary: a cancelled engine never emits a partial
// page and already delivered pages stay valid.
func (e *Engine) emitLines(lines []builtLine, sink func(*Page) error, final bool) error {
	if len(lines) == 0 {
		return nil
	}
	if e.cancel.IsCancelled() {
		return render.ErrCancelled
	}
	page := e.assemblePage(lines, final)
	e.pageIndex++
	if e.state == StatePreparing {
		e.state = StateEmitting
	}
	return sink(page)
}

func (e *Engine) assemblePage(lines []builtLine, final bool) *Page {
	page := &Page{}
	contentW := e.cfg.ContentWidth()
	y := e.cfg.MarginTop + e.cfg.HeaderHeight
	var lastAnchor uint32

	for i := range lines {
		line := &lines[i]
		y += line.spacingBefore
		x0 := e.cfg.MarginLeft + line.indent

		lineW := e.lineWidthOf(line)
		switch line.align {
		case css.AlignCenter:
			x0 = e.cfg.MarginLeft + (contentW-lineW)/2
		case css.AlignRight:
			x0 = e.cfg.MarginLeft + contentW - lineW
		}
		if e.cfg.Typography.HangingPunctuation && len(line.spans) > 0 {
			if r, _ := utf8.DecodeRuneInString(line.spans[0].Text); isHangingPunct(r) {
				x0 -= e.metrics.Advance(line.spans[0].FontID, line.spans[0].Style.FontSizePx) / 2
			}
		}

		page.Anchors = append(page.Anchors, Anchor{TokenOffset: line.anchor, X: x0, Y: y})
		lastAnchor = line.anchor

		if line.align == css.AlignJustify && !line.lastOfPara {
			e.emitJustified(page, line, x0, y, contentW-line.indent)
		} else {
			x := x0
			for _, sp := range line.spans {
				page.Content = append(page.Content, DrawCmd{
					Kind: CmdText, X: x, Y: y, Text: sp.Text,
					FontID: sp.FontID, SizePx: sp.Style.FontSizePx,
					Weight: sp.Style.FontWeight, Italic: sp.Style.FontStyle == css.StyleItalic,
				})
				x += e.textWidth(sp.Text, sp.FontID, sp.Style.FontSizePx)
			}
		}

		if line.overlay != nil {
			ov := *line.overlay
			ov.X = x0
			ov.Y = y
			page.Overlay = append(page.Overlay, ov)
		}
		y += line.height
	}

	e.addChrome(page)
	page.Metrics = e.pageMetrics(lastAnchor, final)
	return page
}

func (e *Engine) lineWidthOf(line *builtLine) float32 {
	var w float32
	for _, sp := range line.spans {
		w += e.textWidth(sp.Text, sp.FontID, sp.Style.FontSizePx)
	}
	return w
}

// emitJustified distributes the slack across inter-word gaps with explicit
// per-word coordinates, so backends never redistribute spacing.
func (e *Engine) emitJustified(page *Page, line *builtLine, x0, y, avail float32) {
	type wordCmd struct {
		text   string
		fontID uint32
		style  css.ComputedStyle
	}
	var words []wordCmd
	var natural float32
	for _, sp := range line.spans {
		for _, w := range strings.Split(sp.Text, " ") {
			if w == "" {
				continue
			}
			words = append(words, wordCmd{text: w, fontID: sp.FontID, style: sp.Style})
			natural += e.textWidth(w, sp.FontID, sp.Style.FontSizePx)
		}
	}
	if len(words) == 0 {
		return
	}
	gaps := len(words) - 1
	var spaceW, extra float32
	if gaps > 0 {
		for _, w := range words[:gaps] {
			spaceW += e.metrics.Advance(w.fontID, w.style.FontSizePx)
		}
		extra = avail - natural - spaceW
		if extra < 0 {
			extra = 0
		}
	}
	x := x0
	for i, w := range words {
		page.Content = append(page.Content, DrawCmd{
			Kind: CmdText, X: x, Y: y, Text: w.text,
			FontID: w.fontID, SizePx: w.style.FontSizePx,
			Weight: w.style.FontWeight, Italic: w.style.FontStyle == css.StyleItalic,
		})
		x += e.textWidth(w.text, w.fontID, w.style.FontSizePx)
		if i < gaps {
			x += e.metrics.Advance(w.fontID, w.style.FontSizePx) + extra/float32(gaps)
		}
	}
}

func (e *Engine) addChrome(page *Page) {
	chromeSize := e.cfg.BaseFontSizePx * 0.75
	if e.chapterTitle != "" && e.cfg.HeaderHeight > 0 {
		page.Chrome = append(page.Chrome, DrawCmd{
			Kind: CmdText, X: e.cfg.MarginLeft, Y: e.cfg.MarginTop + chromeSize,
			Text: e.chapterTitle, FontID: 0, SizePx: chromeSize, Weight: css.WeightNormal,
		})
	}
	if e.cfg.FooterHeight > 0 {
		text := fmt.Sprintf("%d", e.pageIndex+1)
		w := e.textWidth(text, 0, chromeSize)
		page.Chrome = append(page.Chrome, DrawCmd{
			Kind: CmdText, X: e.cfg.MarginLeft + (e.cfg.ContentWidth()-w)/2,
			Y:    e.cfg.ViewportHeight - e.cfg.FooterHeight + chromeSize,
			Text: text, FontID: 0, SizePx: chromeSize, Weight: css.WeightNormal,
		})
	}
}

func (e *Engine) pageMetrics(lastAnchor uint32, final bool) PageMetrics {
	m := PageMetrics{
		ChapterIndex:            e.chapterIndex,
		ChapterPageIndex:        e.pageIndex,
		GlobalPageIndex:         -1,
		GlobalPageCountEstimate: -1,
	}
	if final {
		m.ChapterPageCount = e.pageIndex + 1
		m.ProgressChapter = 1
	} else if e.chapterBytes > 0 {
		p := float32(lastAnchor) / float32(e.chapterBytes)
		if p > 1 {
			p = 1
		}
		m.ProgressChapter = p
	}
	if e.chapterCount > 0 {
		m.ProgressBook = (float32(e.chapterIndex) + m.ProgressChapter) / float32(e.chapterCount)
		if m.ProgressBook > 1 {
			m.ProgressBook = 1
		}
	}
	return m
}

func isHangingPunct(r rune) bool {
	switch r {
	case '"', '\'', '“', '‘', '«', '(', '[':
		return true
	}
	return false
}
