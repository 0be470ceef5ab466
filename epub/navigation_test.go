package epub_test

import (
	"strings"
	"testing"

	"muepub/epub"
)

func TestNavDocTOCHierarchy(t *testing.T) {
	nav, err := epub.ParseNavDoc([]byte(navXHTML), nil)
	if err != nil {
		t.Fatalf("parse nav: %v", err)
	}
	if !nav.HasTOC() {
		t.Fatal("no TOC found")
	}
	if len(nav.TOC) != 2 {
		t.Fatalf("roots = %d, want 2", len(nav.TOC))
	}
	first := nav.Points[nav.TOC[0]]
	// Label text spread across inline children is concatenated.
	if first.Label != "Chapter One" {
		t.Errorf("label = %q, want %q", first.Label, "Chapter One")
	}
	if first.Href != "ch1.xhtml" {
		t.Errorf("href = %q", first.Href)
	}
	if len(first.Children) != 1 {
		t.Fatalf("children = %d", len(first.Children))
	}
	child := nav.Points[first.Children[0]]
	if child.Label != "Section 1.1" || child.Fragment != "s1" {
		t.Errorf("child = %+v", child)
	}
}

func TestNavDocLandmarks(t *testing.T) {
	nav, err := epub.ParseNavDoc([]byte(navXHTML), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(nav.Landmarks) != 1 || nav.Landmarks[0].Label != "Start" {
		t.Errorf("landmarks = %+v", nav.Landmarks)
	}
}

func TestNavDocPageList(t *testing.T) {
	doc := `<html xmlns:epub="http://www.idpf.org/2007/ops"><body>
	<nav epub:type="page-list"><ol>
	  <li><a href="ch1.xhtml#p1">1</a></li>
	  <li><a href="ch1.xhtml#p2">2</a></li>
	</ol></nav></body></html>`
	nav, err := epub.ParseNavDoc([]byte(doc), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(nav.PageList) != 2 {
		t.Fatalf("page list = %d", len(nav.PageList))
	}
	if nav.PageList[0].Label != "1" || nav.PageList[0].Fragment != "p1" {
		t.Errorf("entry = %+v", nav.PageList[0])
	}
}

func TestNCXFallback(t *testing.T) {
	nav, err := epub.ParseNCX([]byte(tocNCX), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(nav.TOC) != 2 {
		t.Fatalf("roots = %d", len(nav.TOC))
	}
	if nav.Points[nav.TOC[0]].Label != "Chapter One" {
		t.Errorf("label = %q", nav.Points[nav.TOC[0]].Label)
	}
}

func TestBookNavigationPrefersNavDoc(t *testing.T) {
	b := openFixture(t, defaultFixtureFiles())
	nav, err := b.Navigation()
	if err != nil {
		t.Fatal(err)
	}
	if nav == nil || !nav.HasTOC() {
		t.Fatal("no navigation")
	}
	// The nav doc has a nested section entry the NCX lacks.
	flat := nav.FlatTOC()
	if len(flat) != 3 {
		t.Fatalf("flat entries = %d, want 3", len(flat))
	}
	if flat[1][0] != 1 {
		t.Errorf("second entry depth = %d, want 1", flat[1][0])
	}
}

func TestBookNavigationNCXFallback(t *testing.T) {
	// Remove the nav property so only the NCX remains.
	files := replaceFile(defaultFixtureFiles(), "OEBPS/content.opf",
		strings.ReplaceAll(contentOPF, ` properties="nav"`, ""))
	b := openFixture(t, files)
	nav, err := b.Navigation()
	if err != nil {
		t.Fatal(err)
	}
	if nav == nil || len(nav.TOC) != 2 {
		t.Fatalf("nav = %+v", nav)
	}
}
