package xhtml_test

import (
	"errors"
	"strings"
	"testing"

	"muepub/xhtml"
)

func tokenize(t *testing.T, src string) []xhtml.Token {
	t.Helper()
	var tokens []xhtml.Token
	var scratch xhtml.Scratch
	if err := xhtml.Tokenize([]byte(src), &tokens, &scratch, nil); err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	return tokens
}

// render flattens a token stream into a compact signature for comparisons.
func render(tokens []xhtml.Token) string {
	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		parts = append(parts, tok.String())
	}
	return strings.Join(parts, " ")
}

func TestSimpleParagraph(t *testing.T) {
	got := render(tokenize(t, "<p>Hello world</p>"))
	if got != `Text("Hello world")` {
		t.Errorf("got %s", got)
	}
}

func TestEmphasisAndStrong(t *testing.T) {
	got := render(tokenize(t, "<p>This is <em>italic</em> and <strong>bold</strong> text.</p>"))
	want := `Text("This is") Emphasis(true) Text("italic") Emphasis(false) Text("and") Strong(true) Text("bold") Strong(false) Text("text.")`
	if got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}
}

func TestHeadingAndParagraphs(t *testing.T) {
	got := render(tokenize(t, "<h1>Chapter Title</h1><p>First paragraph.</p><p>Second paragraph.</p>"))
	want := `Heading(1) Text("Chapter Title") ParagraphBreak Text("First paragraph.") ParagraphBreak Text("Second paragraph.")`
	if got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}
}

func TestEntityDecoding(t *testing.T) {
	tokens := tokenize(t, "<p>Rock &amp; Roll</p>")
	if len(tokens) != 1 || tokens[0].Kind != xhtml.TokenText {
		t.Fatalf("tokens = %s", render(tokens))
	}
	if got := string(tokens[0].Text); got != "Rock & Roll" {
		t.Errorf("text = %q, want %q", got, "Rock & Roll")
	}
	if strings.Contains(string(tokens[0].Text), "&amp;") {
		t.Error("entity left undecoded")
	}
}

func TestNumericEntityDecoding(t *testing.T) {
	tokens := tokenize(t, "<p>em&#8212;dash &#x2014; hex</p>")
	if got := string(tokens[0].Text); got != "em—dash — hex" {
		t.Errorf("text = %q", got)
	}
}

func TestSkippedSubtrees(t *testing.T) {
	src := `<head><title>T</title></head><p>Visible</p><script>alert("x")</script>` +
		`<style>p{}</style><nav><ol><li>toc entry</li></ol></nav><aside>note</aside><p>More</p>`
	got := render(tokenize(t, src))
	want := `Text("Visible") ParagraphBreak Text("More")`
	if got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}
}

func TestWhitespaceCollapsed(t *testing.T) {
	got := render(tokenize(t, "<p>  Multiple   spaces   and\n\nnewlines  </p>"))
	if got != `Text("Multiple spaces and newlines")` {
		t.Errorf("got %s", got)
	}
}

func TestPrePreservesWhitespace(t *testing.T) {
	tokens := tokenize(t, "<pre>line one\n  line two</pre>")
	if len(tokens) != 1 {
		t.Fatalf("tokens = %s", render(tokens))
	}
	if got := string(tokens[0].Text); got != "line one\n  line two" {
		t.Errorf("text = %q", got)
	}
}

func TestSoftHyphenEmitsSoftBreak(t *testing.T) {
	got := render(tokenize(t, "<p>co­operation</p>"))
	want := `Text("co") SoftBreak Text("operation")`
	if got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}
}

func TestLineBreak(t *testing.T) {
	got := render(tokenize(t, "<p>Line one<br/>Line two</p>"))
	want := `Text("Line one") LineBreak Text("Line two")`
	if got != want {
		t.Errorf("got %s", got)
	}
}

func TestLists(t *testing.T) {
	got := render(tokenize(t, "<ul><li>Item 1</li><li>Item 2</li></ul>"))
	want := `ListStart(ordered=false) ListItemStart Text("Item 1") ListItemEnd ListItemStart Text("Item 2") ListItemEnd ListEnd`
	if got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}

	got = render(tokenize(t, "<ol><li>First</li></ol>"))
	want = `ListStart(ordered=true) ListItemStart Text("First") ListItemEnd ListEnd`
	if got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}
}

func TestNestedLists(t *testing.T) {
	got := render(tokenize(t, "<ul><li>A<ul><li>B</li></ul></li></ul>"))
	want := `ListStart(ordered=false) ListItemStart Text("A") ListStart(ordered=false) ListItemStart Text("B") ListItemEnd ListEnd ListItemEnd ListEnd`
	if got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}
}

func TestLinks(t *testing.T) {
	got := render(tokenize(t, `<p>See <a href="ch2.xhtml">chapter 2</a> here.</p>`))
	want := `Text("See") LinkStart("ch2.xhtml") Text("chapter 2") LinkEnd Text("here.")`
	if got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}

	// Anchors without href are transparent.
	got = render(tokenize(t, "<a>No link</a>"))
	if got != `Text("No link")` {
		t.Errorf("got %s", got)
	}
}

func TestImages(t *testing.T) {
	got := render(tokenize(t, `<img src="cover.jpg" alt="Cover"/>`))
	if got != `Image("cover.jpg", "Cover")` {
		t.Errorf("got %s", got)
	}

	// Image without src is dropped.
	got = render(tokenize(t, `<img alt="Missing"/>`))
	if got != "" {
		t.Errorf("got %s", got)
	}
}

func TestSpanTransparent(t *testing.T) {
	got := render(tokenize(t, "<p>Text with <span>spanned</span> content</p>"))
	want := `Text("Text with") Text("spanned") Text("content")`
	if got != want {
		t.Errorf("got %s", got)
	}
}

func TestDivsActAsBlocks(t *testing.T) {
	got := render(tokenize(t, "<div>Block content</div><div>Another block</div>"))
	want := `Text("Block content") ParagraphBreak Text("Another block")`
	if got != want {
		t.Errorf("got %s", got)
	}
}

func TestNoTrailingParagraphBreak(t *testing.T) {
	tokens := tokenize(t, "<p>Only one</p>")
	for _, tok := range tokens {
		if tok.Kind == xhtml.TokenParagraphBreak {
			t.Errorf("unexpected trailing break in %s", render(tokens))
		}
	}
}

func TestUnclosedFormattingClosedAtEOF(t *testing.T) {
	got := render(tokenize(t, "<p><em>italic<strong>both"))
	want := `Emphasis(true) Text("italic") Strong(true) Text("both") Strong(false) Emphasis(false)`
	if got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}
}

func TestElementStackLimit(t *testing.T) {
	var sb strings.Builder
	for range xhtml.MaxElementDepth + 1 {
		sb.WriteString("<div>")
	}
	sb.WriteString("deep")
	var tokens []xhtml.Token
	var scratch xhtml.Scratch
	err := xhtml.Tokenize([]byte(sb.String()), &tokens, &scratch, nil)
	if !errors.Is(err, xhtml.ErrElementStack) {
		t.Fatalf("err = %v, want ErrElementStack", err)
	}
}

func TestScratchReuseDoesNotAllocateTokensAnew(t *testing.T) {
	var tokens []xhtml.Token
	var scratch xhtml.Scratch
	src := []byte("<p>first pass text</p>")
	if err := xhtml.Tokenize(src, &tokens, &scratch, nil); err != nil {
		t.Fatal(err)
	}
	first := render(tokens)
	firstBacking := &tokens[0]
	if err := xhtml.Tokenize(src, &tokens, &scratch, nil); err != nil {
		t.Fatal(err)
	}
	if &tokens[0] != firstBacking {
		t.Error("token buffer reallocated on reuse")
	}
	if render(tokens) != first {
		t.Errorf("second pass differs: %s vs %s", render(tokens), first)
	}
}

func TestOffsetsAreMonotonic(t *testing.T) {
	tokens := tokenize(t, "<h1>Title</h1><p>one</p><p>two</p><p>three</p>")
	var prev uint32
	for _, tok := range tokens {
		if tok.Kind != xhtml.TokenText {
			continue
		}
		if tok.Offset < prev {
			t.Fatalf("offset went backwards: %d < %d", tok.Offset, prev)
		}
		prev = tok.Offset
	}
	if prev == 0 {
		t.Error("expected nonzero offsets for later tokens")
	}
}

func TestDeeplyNestedFormatting(t *testing.T) {
	got := render(tokenize(t, "<em><strong><em>triple</em></strong></em>"))
	want := `Emphasis(true) Strong(true) Emphasis(true) Text("triple") Emphasis(false) Strong(false) Emphasis(false)`
	if got != want {
		t.Errorf("got %s", got)
	}
}

func TestEmptyHeadingStillEmitted(t *testing.T) {
	got := render(tokenize(t, "<h2></h2><p>after</p>"))
	want := `Heading(2) ParagraphBreak Text("after")`
	if got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}
}
