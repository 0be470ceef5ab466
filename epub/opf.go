package epub

import (
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

// Manifest and spine caps. Exceeding either produces a warning diagnostic,
// never a silent truncation.
const (
	MaxManifestItems = 1024
	MaxSpineItems    = 256
)

// Metadata holds the Dublin Core fields of the package document. Missing
// fields stay empty: no sentinel strings.
type Metadata struct {
	Title       string
	Creator     string
	Language    string
	LanguageTag language.Tag
	Identifier  string
	Publisher   string
	Description string
	Date        string
	Rights      string
	Subject     string
	CoverID     string
}

// ManifestItem is one declared resource.
type ManifestItem struct {
	ID         string
	Href       string
	MediaType  string
	Properties string
}

// HasProperty reports whether the space-separated properties attribute
// contains the given value.
func (m *ManifestItem) HasProperty(p string) bool {
	for _, v := range strings.Fields(m.Properties) {
		if v == p {
			return true
		}
	}
	return false
}

// SpineItem is one reading-order entry.
type SpineItem struct {
	Idref      string
	Href       string
	Linear     bool
	Properties []string
}

// GuideRef is an EPUB 2 guide reference, tolerated for compatibility.
type GuideRef struct {
	Type  string
	Title string
	Href  string
}

// Package is a parsed OPF document.
type Package struct {
	Metadata Metadata
	Manifest []ManifestItem
	Spine    []SpineItem
	Guide    []GuideRef
	TocID    string // spine@toc, the NCX manifest id
	NavID    string // manifest item with properties="nav"
	Version  string
	Warnings []Diagnostic

	byID map[string]int
}

// Item resolves a manifest item by id.
func (p *Package) Item(id string) (*ManifestItem, bool) {
	i, ok := p.byID[id]
	if !ok {
		return nil, false
	}
	return &p.Manifest[i], true
}

// ItemByHref resolves a manifest item by href.
func (p *Package) ItemByHref(href string) (*ManifestItem, bool) {
	for i := range p.Manifest {
		if p.Manifest[i].Href == href {
			return &p.Manifest[i], true
		}
	}
	return nil, false
}

// CoverItem returns the cover image manifest item, located through either
// the EPUB 3 cover-image property or the EPUB 2 meta name="cover".
func (p *Package) CoverItem() (*ManifestItem, bool) {
	for i := range p.Manifest {
		if p.Manifest[i].HasProperty("cover-image") {
			return &p.Manifest[i], true
		}
	}
	if p.Metadata.CoverID != "" {
		return p.Item(p.Metadata.CoverID)
	}
	return nil, false
}

// ParsePackage parses an OPF package document: Dublin Core metadata by
// exact local name or dc: prefix (never by suffix), manifest, spine and
// guide.
func ParsePackage(data []byte, log *zap.Logger) (*Package, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("opf")

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, newErr(KindXml, "package document: %s", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "package" {
		return nil, newErr(KindXml, "package document: missing package root element")
	}

	pkg := &Package{
		Version: root.SelectAttrValue("version", ""),
		byID:    make(map[string]int),
	}

	for _, child := range root.ChildElements() {
		switch child.Tag {
		case "metadata":
			parseMetadata(child, &pkg.Metadata, log)
		case "manifest":
			parseManifest(child, pkg, log)
		case "spine":
			parseSpine(child, pkg, log)
		case "guide":
			parseGuide(child, pkg)
		default:
			log.Debug("Unexpected tag in package, ignoring", zap.String("tag", child.Tag))
		}
	}

	if len(pkg.Spine) == 0 {
		pkg.Warnings = append(pkg.Warnings, Diagnostic{
			Severity: SeverityWarning, Code: "SpineEmpty",
			Message: "spine has no reading-order entries",
		})
	}
	return pkg, nil
}

// dcField matches a metadata element against a Dublin Core name: either
// the exact local name (namespace prefix already stripped by etree's Tag)
// while declared under the dc: prefix, or the bare local name. Suffix
// matching is deliberately not performed.
func dcField(el *etree.Element, name string) bool {
	return el.Tag == name && (el.Space == "dc" || el.Space == "")
}

func parseMetadata(el *etree.Element, meta *Metadata, log *zap.Logger) {
	for _, child := range el.ChildElements() {
		text := strings.TrimSpace(child.Text())
		switch {
		case dcField(child, "title"):
			if meta.Title == "" {
				meta.Title = text
			}
		case dcField(child, "creator"):
			if meta.Creator == "" {
				meta.Creator = text
			}
		case dcField(child, "language"):
			if meta.Language == "" {
				meta.Language = text
				meta.LanguageTag = parseLanguage(text, log)
			}
		case dcField(child, "identifier"):
			if meta.Identifier == "" {
				meta.Identifier = text
			}
		case dcField(child, "publisher"):
			if meta.Publisher == "" {
				meta.Publisher = text
			}
		case dcField(child, "description"):
			if meta.Description == "" {
				meta.Description = text
			}
		case dcField(child, "date"):
			if meta.Date == "" {
				meta.Date = text
			}
		case dcField(child, "rights"):
			if meta.Rights == "" {
				meta.Rights = text
			}
		case dcField(child, "subject"):
			if meta.Subject == "" {
				meta.Subject = text
			}
		case child.Tag == "meta":
			if child.SelectAttrValue("name", "") == "cover" {
				meta.CoverID = child.SelectAttrValue("content", "")
			}
		}
	}
}

func parseLanguage(lang string, log *zap.Logger) language.Tag {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return language.Und
	}
	tag, err := language.Parse(lang)
	if err != nil {
		log.Warn("Unable to parse package language", zap.String("lang", lang))
		return language.Und
	}
	return tag
}

func parseManifest(el *etree.Element, pkg *Package, log *zap.Logger) {
	for _, child := range el.ChildElements() {
		if child.Tag != "item" {
			continue
		}
		if len(pkg.Manifest) >= MaxManifestItems {
			pkg.Warnings = append(pkg.Warnings, Diagnostic{
				Severity: SeverityWarning, Code: "ManifestLimitExceeded",
				Message: "manifest item limit reached, remaining items ignored",
			})
			log.Warn("Manifest item limit reached", zap.Int("limit", MaxManifestItems))
			return
		}
		item := ManifestItem{
			ID:         child.SelectAttrValue("id", ""),
			Href:       child.SelectAttrValue("href", ""),
			MediaType:  child.SelectAttrValue("media-type", ""),
			Properties: child.SelectAttrValue("properties", ""),
		}
		if item.ID == "" || item.Href == "" {
			log.Debug("Manifest item missing id or href, ignoring", zap.String("id", item.ID), zap.String("href", item.Href))
			continue
		}
		if _, dup := pkg.byID[item.ID]; dup {
			pkg.Warnings = append(pkg.Warnings, Diagnostic{
				Severity: SeverityWarning, Code: "ManifestDuplicateId",
				Message: "duplicate manifest id " + item.ID, Href: item.Href,
			})
			continue
		}
		if item.HasProperty("nav") {
			pkg.NavID = item.ID
		}
		pkg.byID[item.ID] = len(pkg.Manifest)
		pkg.Manifest = append(pkg.Manifest, item)
	}
}

func parseSpine(el *etree.Element, pkg *Package, log *zap.Logger) {
	pkg.TocID = el.SelectAttrValue("toc", "")
	for _, child := range el.ChildElements() {
		if child.Tag != "itemref" {
			continue
		}
		if len(pkg.Spine) >= MaxSpineItems {
			pkg.Warnings = append(pkg.Warnings, Diagnostic{
				Severity: SeverityWarning, Code: "SpineLimitExceeded",
				Message: "spine item limit reached, remaining items ignored",
			})
			log.Warn("Spine item limit reached", zap.Int("limit", MaxSpineItems))
			return
		}
		idref := child.SelectAttrValue("idref", "")
		if idref == "" {
			continue
		}
		item := SpineItem{
			Idref:      idref,
			Linear:     child.SelectAttrValue("linear", "yes") != "no",
			Properties: strings.Fields(child.SelectAttrValue("properties", "")),
		}
		if mi, ok := pkg.Item(idref); ok {
			item.Href = mi.Href
		}
		pkg.Spine = append(pkg.Spine, item)
	}
}

func parseGuide(el *etree.Element, pkg *Package) {
	for _, child := range el.ChildElements() {
		if child.Tag != "reference" {
			continue
		}
		pkg.Guide = append(pkg.Guide, GuideRef{
			Type:  child.SelectAttrValue("type", ""),
			Title: child.SelectAttrValue("title", ""),
			Href:  child.SelectAttrValue("href", ""),
		})
	}
}
