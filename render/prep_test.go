package render_test

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"muepub/css"
	"muepub/render"
)

func newPrep(t *testing.T, stylesheet string, opts ...render.PrepOption) *render.Prep {
	t.Helper()
	parser := css.NewParser(zap.NewNop())
	cascade := css.NewCascade(css.StandardDefaults(), parser.Parse([]byte(stylesheet)))
	resolver := render.NewFontResolver(render.SerifPolicy(), nil)
	return render.NewPrep(cascade, resolver, opts...)
}

func collect(t *testing.T, p *render.Prep, html string) []render.Item {
	t.Helper()
	var items []render.Item
	err := p.PrepareChapter([]byte(html), func(it render.Item) error {
		items = append(items, it)
		return nil
	})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	return items
}

func runs(items []render.Item) []render.StyledRun {
	var out []render.StyledRun
	for _, it := range items {
		if it.Kind == render.ItemRun {
			out = append(out, it.Run)
		}
	}
	return out
}

func TestHeadingBoldIsolation(t *testing.T) {
	p := newPrep(t, "")
	items := collect(t, p, "<h1>Title</h1><p>body</p>")
	rs := runs(items)
	if len(rs) != 2 {
		t.Fatalf("runs = %d, want 2", len(rs))
	}
	if !rs[0].Style.FontWeight.Bold() {
		t.Error("heading run must be bold")
	}
	if rs[0].Role.Kind != render.BlockHeading || rs[0].Role.Level != 1 {
		t.Errorf("heading role = %+v", rs[0].Role)
	}
	if rs[1].Style.FontWeight.Bold() {
		t.Error("paragraph after heading must not be bold")
	}
	if rs[1].Role.Kind != render.BlockParagraph {
		t.Errorf("paragraph role = %+v", rs[1].Role)
	}
}

func TestMixedFormattingRuns(t *testing.T) {
	p := newPrep(t, "")
	items := collect(t, p, "<p>normal <b>bold</b> tail</p>")
	rs := runs(items)
	if len(rs) != 3 {
		t.Fatalf("runs = %d, want 3", len(rs))
	}
	if rs[0].Style.FontWeight.Bold() || !rs[1].Style.FontWeight.Bold() || rs[2].Style.FontWeight.Bold() {
		t.Errorf("weights = %v %v %v, want Normal Bold Normal",
			rs[0].Style.FontWeight, rs[1].Style.FontWeight, rs[2].Style.FontWeight)
	}
}

func TestEntityDecodedInRun(t *testing.T) {
	p := newPrep(t, "")
	rs := runs(collect(t, p, "<p>Rock &amp; Roll</p>"))
	if len(rs) != 1 || rs[0].Text != "Rock & Roll" {
		t.Fatalf("runs = %+v", rs)
	}
}

func TestStylesheetAppliedToRun(t *testing.T) {
	p := newPrep(t, "p { font-size: 20px; line-height: 1.5; text-align: justify; }")
	rs := runs(collect(t, p, "<p>text</p>"))
	if len(rs) != 1 {
		t.Fatalf("runs = %d", len(rs))
	}
	s := rs[0].Style
	if s.FontSizePx != 20 {
		t.Errorf("size = %v", s.FontSizePx)
	}
	if got := s.LineHeightPx(); got != 30 {
		t.Errorf("line height = %v, want 30", got)
	}
	if s.TextAlign != css.AlignJustify {
		t.Errorf("align = %v", s.TextAlign)
	}
}

func TestInlineStyleWins(t *testing.T) {
	p := newPrep(t, "p { font-weight: bold; }")
	rs := runs(collect(t, p, `<p style="font-weight: normal">text</p>`))
	if rs[0].Style.FontWeight.Bold() {
		t.Error("inline style must beat stylesheet")
	}
}

func TestFontIDResolvedOncePerRun(t *testing.T) {
	parser := css.NewParser(zap.NewNop())
	cascade := css.NewCascade(css.StandardDefaults(), parser.Parse([]byte("p { font-family: Georgia; }")))
	resolver := render.NewFontResolver(render.SerifPolicy(), nil)
	data := make([]byte, 64)
	copy(data, ttfHeader)
	id, err := resolver.RegisterFace("Georgia", 400, false, true, "g.ttf", data)
	if err != nil {
		t.Fatal(err)
	}
	p := render.NewPrep(cascade, resolver)
	rs := runs(collect(t, p, "<p>styled text</p>"))
	if rs[0].FontID != id {
		t.Errorf("font id = %d, want %d", rs[0].FontID, id)
	}
	if rs[0].ResolvedFamily != "georgia" {
		t.Errorf("resolved family = %q", rs[0].ResolvedFamily)
	}
}

func TestListRolesCarryDepthAndOrdinal(t *testing.T) {
	p := newPrep(t, "")
	items := collect(t, p, "<ol><li>one</li><li>two</li></ol>")
	rs := runs(items)
	if len(rs) != 2 {
		t.Fatalf("runs = %d", len(rs))
	}
	if rs[0].Role.Kind != render.BlockListItem || rs[0].Role.Ordinal != 1 || rs[0].Role.Depth != 1 {
		t.Errorf("first role = %+v", rs[0].Role)
	}
	if rs[1].Role.Ordinal != 2 {
		t.Errorf("second role = %+v", rs[1].Role)
	}
	if items[0].Kind != render.ItemListStart || !items[0].Ordered {
		t.Errorf("first item = %+v", items[0])
	}
}

func TestSoftHyphenBecomesSoftBreakItem(t *testing.T) {
	p := newPrep(t, "")
	items := collect(t, p, "<p>co­operation</p>")
	var kinds []render.ItemKind
	for _, it := range items {
		kinds = append(kinds, it.Kind)
	}
	want := []render.ItemKind{render.ItemRun, render.ItemSoftBreak, render.ItemRun}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds = %v, want %v", kinds, want)
		}
	}
}

func TestCancellationAtBlockBoundary(t *testing.T) {
	p := newPrep(t, "")
	tok := render.NewCancelToken()
	var count int
	err := p.PrepareChapterWithCancel([]byte("<p>one</p><p>two</p><p>three</p>"), tok, func(it render.Item) error {
		count++
		if count == 1 {
			tok.Cancel()
		}
		return nil
	})
	if !errors.Is(err, render.ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if count != 1 {
		t.Errorf("items after cancel = %d, want 1", count)
	}
}

type recordingTrace struct {
	fontTraces int
	styleCtx   []render.StyleTrace
}

func (r *recordingTrace) FontTrace(_ *render.StyledRun, _ *render.FontTrace) { r.fontTraces++ }
func (r *recordingTrace) StyleContext(_ *render.StyledRun, ctx *render.StyleTrace) {
	r.styleCtx = append(r.styleCtx, *ctx)
}

func TestTraceSinkReceivesContext(t *testing.T) {
	sink := &recordingTrace{}
	p := newPrep(t, "p.intro { font-style: italic; }", render.WithTrace(sink))
	collect(t, p, `<p class="intro">traced</p>`)
	if sink.fontTraces != 1 {
		t.Errorf("font traces = %d", sink.fontTraces)
	}
	if len(sink.styleCtx) != 1 || len(sink.styleCtx[0].MatchedSelectors) == 0 {
		t.Fatalf("style ctx = %+v", sink.styleCtx)
	}
	if sink.styleCtx[0].MatchedSelectors[0] != "p.intro" {
		t.Errorf("matched = %v", sink.styleCtx[0].MatchedSelectors)
	}
}

func TestPreWhitespacePreserved(t *testing.T) {
	p := newPrep(t, "")
	rs := runs(collect(t, p, "<pre>a  b\n  c</pre>"))
	if len(rs) != 1 || rs[0].Text != "a  b\n  c" {
		t.Fatalf("runs = %+v", rs)
	}
}
