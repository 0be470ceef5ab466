package epub

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// NavEntry is one navigation target. Children are index handles into the
// owning Navigation's Points arena; there are no back references.
type NavEntry struct {
	Label    string
	Href     string
	Fragment string
	Children []int
}

// Navigation holds the TOC tree (as an arena plus root handles), the flat
// page list and the landmarks.
type Navigation struct {
	Points    []NavEntry
	TOC       []int
	PageList  []NavEntry
	Landmarks []NavEntry
}

// HasTOC reports whether any TOC entries were found.
func (n *Navigation) HasTOC() bool { return len(n.TOC) > 0 }

// FlatTOC returns (depth, entry-index) pairs in reading order.
func (n *Navigation) FlatTOC() [][2]int {
	var out [][2]int
	// Depth-first walk with an explicit stack over arena handles.
	type frame struct{ idx, depth int }
	var stack []frame
	for i := len(n.TOC) - 1; i >= 0; i-- {
		stack = append(stack, frame{n.TOC[i], 0})
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, [2]int{f.depth, f.idx})
		children := n.Points[f.idx].Children
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{children[i], f.depth + 1})
		}
	}
	return out
}

func splitFragment(href string) (string, string) {
	path, frag, _ := strings.Cut(href, "#")
	return path, frag
}

// ParseNavDoc parses an EPUB 3 XHTML navigation document, collecting the
// nav elements by epub:type: toc, page-list and landmarks. Labels spread
// across inline children are concatenated.
func ParseNavDoc(data []byte, log *zap.Logger) (*Navigation, error) {
	if log == nil {
		log = zap.NewNop()
	}
	nav := &Navigation{}
	z := html.NewTokenizer(bytes.NewReader(data))

	// Current nav section, or "" outside any recognized nav.
	section := ""
	navDepth := 0

	// List-structure state inside a nav: a stack of parent entry handles.
	// parentStack[len-1] == -1 means entries attach to the section roots.
	var parentStack []int
	var entryStack []int // open li entry handles, -1 when the li has no anchor yet
	var labelBuf strings.Builder
	inAnchor := false
	anchorHref := ""

	closeAnchor := func() {
		if !inAnchor {
			return
		}
		inAnchor = false
		label := collapseSpaces(labelBuf.String())
		labelBuf.Reset()
		if section == "" {
			return
		}
		path, frag := splitFragment(anchorHref)
		entry := NavEntry{Label: label, Href: path, Fragment: frag}
		switch section {
		case "toc":
			idx := len(nav.Points)
			nav.Points = append(nav.Points, entry)
			parent := -1
			if len(parentStack) > 0 {
				parent = parentStack[len(parentStack)-1]
			}
			if parent >= 0 {
				nav.Points[parent].Children = append(nav.Points[parent].Children, idx)
			} else {
				nav.TOC = append(nav.TOC, idx)
			}
			if len(entryStack) > 0 {
				entryStack[len(entryStack)-1] = idx
			}
		case "page-list":
			nav.PageList = append(nav.PageList, entry)
		case "landmarks":
			nav.Landmarks = append(nav.Landmarks, entry)
		}
	}

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			err := z.Err()
			if errors.Is(err, io.EOF) {
				return nav, nil
			}
			return nil, newErr(KindXml, "navigation document: %s", err)

		case html.TextToken:
			if inAnchor {
				labelBuf.Write(z.Text())
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			name, attrs := navTagAndAttrs(z)
			switch name {
			case "nav":
				if tt == html.SelfClosingTagToken {
					continue
				}
				navDepth++
				if section == "" {
					section = navType(attrs)
					if section != "" {
						parentStack = parentStack[:0]
						entryStack = entryStack[:0]
					}
				}
			case "ol", "ul":
				if section != "" && tt == html.StartTagToken {
					parent := -1
					if len(entryStack) > 0 {
						parent = entryStack[len(entryStack)-1]
					}
					parentStack = append(parentStack, parent)
				}
			case "li":
				if section != "" && tt == html.StartTagToken {
					entryStack = append(entryStack, -1)
				}
			case "a":
				if section != "" && tt == html.StartTagToken {
					inAnchor = true
					anchorHref = attrs["href"]
					labelBuf.Reset()
				}
			}

		case html.EndTagToken:
			name, _ := navTagAndAttrs(z)
			switch name {
			case "a":
				closeAnchor()
			case "li":
				if section != "" && len(entryStack) > 0 {
					entryStack = entryStack[:len(entryStack)-1]
				}
			case "ol", "ul":
				if section != "" && len(parentStack) > 0 {
					parentStack = parentStack[:len(parentStack)-1]
				}
			case "nav":
				if navDepth > 0 {
					navDepth--
				}
				if navDepth == 0 {
					closeAnchor()
					section = ""
				}
			}
		}
	}
}

func navType(attrs map[string]string) string {
	for k, v := range attrs {
		if k == "epub:type" || strings.HasSuffix(k, ":type") || k == "type" {
			switch v {
			case "toc", "page-list", "landmarks":
				return v
			}
		}
	}
	return ""
}

func navTagAndAttrs(z *html.Tokenizer) (string, map[string]string) {
	nameBytes, hasAttr := z.TagName()
	name := string(nameBytes)
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

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ParseNCX parses an EPUB 2 NCX navigation document as the TOC fallback.
// The navPoint tree is walked recursively (parseNavPoint) into the arena.
func ParseNCX(data []byte, log *zap.Logger) (*Navigation, error) {
	if log == nil {
		log = zap.NewNop()
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, newErr(KindXml, "ncx: %s", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "ncx" {
		return nil, newErr(KindXml, "ncx: missing ncx root element")
	}

	nav := &Navigation{}
	for _, child := range root.ChildElements() {
		switch child.Tag {
		case "navMap":
			for _, np := range child.ChildElements() {
				if np.Tag == "navPoint" {
					idx := parseNavPoint(np, nav)
					if idx >= 0 {
						nav.TOC = append(nav.TOC, idx)
					}
				}
			}
		case "pageList":
			for _, pt := range child.ChildElements() {
				if pt.Tag != "pageTarget" {
					continue
				}
				if entry, ok := ncxEntry(pt); ok {
					nav.PageList = append(nav.PageList, entry)
				}
			}
		}
	}
	return nav, nil
}

// parseNavPoint recursively descends one navPoint. NCX nesting in real
// books is shallow; the recursion bottoms out against the document depth.
func parseNavPoint(el *etree.Element, nav *Navigation) int {
	entry, ok := ncxEntry(el)
	if !ok {
		return -1
	}
	idx := len(nav.Points)
	nav.Points = append(nav.Points, entry)
	for _, child := range el.ChildElements() {
		if child.Tag != "navPoint" {
			continue
		}
		if ci := parseNavPoint(child, nav); ci >= 0 {
			nav.Points[idx].Children = append(nav.Points[idx].Children, ci)
		}
	}
	return idx
}

func ncxEntry(el *etree.Element) (NavEntry, bool) {
	var entry NavEntry
	for _, child := range el.ChildElements() {
		switch child.Tag {
		case "navLabel":
			if text := child.FindElement("text"); text != nil {
				entry.Label = collapseSpaces(text.Text())
			}
		case "content":
			src := child.SelectAttrValue("src", "")
			entry.Href, entry.Fragment = splitFragment(src)
		}
	}
	if entry.Href == "" && entry.Label == "" {
		return entry, false
	}
	return entry, true
}
